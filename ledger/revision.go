/*
revision.go - Edit and delete of committed documents

PURPOSE:
  The reverse-then-reapply state machine shared by all kinds. Edits never
  validate against balances that still contain the document's own effect.

REVISION STATES:
  1. Snapshot   read committed header + lines
  2. No-op      field diff against the snapshot; unchanged → stop, no writes
  3. Reverse    inverse deltas for every snapshot line (returns too)
  4. Validate   against the reversed ledger; save header + lines
  5. Reapply    deltas for every new line

  Steps 3-5 share one WithTx unit: any failure restores the snapshot state.

RETIRE:
  Snapshot → reverse → delete rows. No period check and no validation.

LOCKING:
  A DeliveryOut with returns recorded against it refuses both paths with
  *LockedError before anything else happens.
*/
package ledger

import (
	"context"
)

// Revision is the outcome of an edit.
type Revision struct {
	Document Document
	Changed  bool
}

// Revise replaces a committed document with next.
func (e *Engine) Revise(ctx context.Context, id DocumentID, next Document) (Revision, error) {
	current, err := e.store.Document(ctx, id)
	if err != nil {
		return Revision{}, err
	}
	spec, err := SpecFor(current.Kind)
	if err != nil {
		return Revision{}, err
	}
	if next.Kind != "" && next.Kind != current.Kind {
		return Revision{}, Problems{&FieldError{Field: "kind", Line: HeaderField, Message: "cannot change document kind"}}
	}
	next.Kind = current.Kind
	e.prepare(spec, &next)
	next.ID = id

	release, err := e.lock(ctx, spec, []DocumentID{id}, current, next)
	if err != nil {
		return Revision{}, err
	}
	defer release()

	var rev Revision
	err = e.store.WithTx(ctx, func(st Store) error {
		// 1. Snapshot
		snapshot, err := st.Document(ctx, id)
		if err != nil {
			return err
		}
		if err := checkUnlocked(ctx, st, snapshot); err != nil {
			return err
		}

		// 2. No-op short-circuit
		if err := e.resolveContact(ctx, st, spec, &next, false); err != nil {
			return err
		}
		if !changed(spec, snapshot, next) {
			rev = Revision{Document: snapshot}
			return nil
		}

		// 3. Reverse
		if err := reverseDocument(ctx, st, spec, snapshot); err != nil {
			return err
		}

		// 4. Validate and save
		period, err := st.ActivePeriod(ctx)
		if err != nil {
			return err
		}
		if err := e.resolveContact(ctx, st, spec, &next, true); err != nil {
			return err
		}
		v := e.validation(st, spec, period, id)
		if err := v.run(ctx, &next); err != nil {
			return err
		}

		keep := make(map[LineID]bool, len(snapshot.Lines))
		for _, l := range snapshot.Lines {
			keep[l.ID] = true
		}
		e.assignLineIDs(&next, keep)
		next.CreatedBy = snapshot.CreatedBy
		next.CreatedAt = snapshot.CreatedAt
		if err := st.ReplaceDocument(ctx, next); err != nil {
			return err
		}

		// 5. Reapply
		if err := applyDocument(ctx, st, spec, next); err != nil {
			return err
		}
		rev = Revision{Document: next, Changed: true}
		return nil
	})
	if err != nil {
		e.logRejected("revise", next, err)
		return Revision{}, err
	}

	if !rev.Changed {
		e.log.Debug().Str("document", string(id)).Msg("revision skipped: no changes")
		return rev, nil
	}
	e.log.Info().
		Str("kind", string(next.Kind)).
		Str("document", string(id)).
		Int("lines", len(next.Lines)).
		Msg("document revised")
	return rev, nil
}

// Retire reverses a committed document and deletes it.
func (e *Engine) Retire(ctx context.Context, id DocumentID) error {
	current, err := e.store.Document(ctx, id)
	if err != nil {
		return err
	}
	spec, err := SpecFor(current.Kind)
	if err != nil {
		return err
	}

	release, err := e.lock(ctx, spec, []DocumentID{id}, current)
	if err != nil {
		return err
	}
	defer release()

	err = e.store.WithTx(ctx, func(st Store) error {
		snapshot, err := st.Document(ctx, id)
		if err != nil {
			return err
		}
		if err := checkUnlocked(ctx, st, snapshot); err != nil {
			return err
		}
		if err := reverseDocument(ctx, st, spec, snapshot); err != nil {
			return err
		}
		return st.DeleteDocument(ctx, id)
	})
	if err != nil {
		e.logRejected("retire", current, err)
		return err
	}

	e.log.Info().
		Str("kind", string(current.Kind)).
		Str("document", string(id)).
		Msg("document retired")
	return nil
}

// changed diffs a prepared submission against the committed snapshot.
func changed(spec KindSpec, old, next Document) bool {
	if !old.Date.Equal(next.Date) ||
		old.Reference != next.Reference ||
		old.SubType != next.SubType ||
		old.ContactID != next.ContactID ||
		old.Vehicle != next.Vehicle ||
		old.Reason != next.Reason ||
		old.Remarks != next.Remarks {
		return true
	}
	// an unresolved name means a contact would be created
	if next.ContactID == "" && next.ContactName != "" {
		return true
	}
	if len(old.Lines) != len(next.Lines) {
		return true
	}
	for i := range old.Lines {
		if !sameLine(spec, old.Lines[i], next.Lines[i]) {
			return true
		}
	}
	return false
}

func sameLine(spec KindSpec, a, b Line) bool {
	if !spec.ReturnsAgainstSource && a.Item != b.Item {
		return false
	}
	return a.Warehouse == b.Warehouse &&
		a.ToWarehouse == b.ToWarehouse &&
		a.Direction == b.Direction &&
		a.Source == b.Source &&
		a.Quantity.Equal(b.Quantity)
}
