package ledger

import (
	"context"
	"errors"
)

// =============================================================================
// PENDING TRACKER - DeliveryOut returned counters
// =============================================================================
//
// DeliveryOut lines live in the store keyed by id. DeliveryIn lines hold
// only that id. Every counter change goes through IssueLineStore.AdjustReturned,
// which refuses to leave [0, issued]; these helpers translate its refusal
// into the error the caller should see.

// acceptReturn records a return event against its source line.
func acceptReturn(ctx context.Context, st IssueLineStore, i int, l Line) error {
	err := st.AdjustReturned(ctx, l.Source, l.Quantity)
	if errors.Is(err, ErrReturnedOutOfRange) {
		pe := &PendingExceededError{Line: i, Source: l.Source, Requested: l.Quantity}
		if src, lerr := st.IssueLine(ctx, l.Source); lerr == nil {
			pe.Pending = src.Pending()
		}
		return pe
	}
	if err != nil {
		return err
	}
	return nil
}

// reverseReturn undoes a previously accepted return.
func reverseReturn(ctx context.Context, st IssueLineStore, doc DocumentID, l Line) error {
	err := st.AdjustReturned(ctx, l.Source, l.Quantity.Neg())
	switch {
	case errors.Is(err, ErrReturnedOutOfRange):
		return &IntegrityError{Document: doc, Source: l.Source, Detail: "returned quantity would drop below zero"}
	case IsNotFound(err):
		return &IntegrityError{Document: doc, Source: l.Source, Detail: "source line missing"}
	}
	return err
}

// checkUnlocked fails with *LockedError if doc is a DeliveryOut with returns.
func checkUnlocked(ctx context.Context, st IssueLineStore, doc Document) error {
	if doc.Kind != KindDeliveryOut {
		return nil
	}
	n, err := st.ReturnCount(ctx, doc.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		return &LockedError{Document: doc.ID, Returns: n}
	}
	return nil
}
