/*
audit.go - Ledger reconciliation

PURPOSE:
  Balances have no independent truth: each must equal the sum of the signed
  deltas of the lines that currently exist. The auditor recomputes that sum
  from the documents and compares it with the stored balances. It also checks
  the pending invariant: every DeliveryOut line's returned counter equals the
  sum of the DeliveryIn lines pointing at it, and never exceeds the issued
  quantity.

  Both scans run in one ReadTx, so a commit landing mid-audit cannot show
  up as drift.

USAGE:
  report, err := ledger.NewAuditor(store).Run(ctx)
  if !report.OK() { ... }

SEE ALSO:
  - api/scheduler.go: runs the auditor periodically
*/
package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Drift is a balance whose stored value disagrees with its lines.
type Drift struct {
	Key      Key
	Stored   decimal.Decimal
	Expected decimal.Decimal
}

// PendingDrift is a DeliveryOut line whose counter disagrees with its returns.
type PendingDrift struct {
	Line     LineID
	Document DocumentID
	Issued   decimal.Decimal
	Returned decimal.Decimal
	Expected decimal.Decimal
}

// AuditReport is the outcome of one reconciliation pass.
type AuditReport struct {
	CheckedAt     time.Time
	Documents     int
	Balances      int
	Drifts        []Drift
	PendingDrifts []PendingDrift
}

func (r AuditReport) OK() bool {
	return len(r.Drifts) == 0 && len(r.PendingDrifts) == 0
}

// Auditor recomputes balances and pending counters from documents.
type Auditor struct {
	store TxStore
	now   func() time.Time
}

func NewAuditor(store TxStore) *Auditor {
	return &Auditor{store: store, now: time.Now}
}

// Run scans documents and balances from one snapshot and compares them.
func (a *Auditor) Run(ctx context.Context) (AuditReport, error) {
	var (
		docs     []Document
		balances []Balance
	)
	err := a.store.ReadTx(ctx, func(st Store) error {
		var err error
		if docs, err = st.Documents(ctx, DocumentFilter{}); err != nil {
			return err
		}
		balances, err = st.Balances(ctx, BalanceFilter{})
		return err
	})
	if err != nil {
		return AuditReport{}, err
	}

	expected := make(map[Key]decimal.Decimal)
	issued := make(map[LineID]Line)
	issuedDoc := make(map[LineID]DocumentID)
	returned := make(map[LineID]decimal.Decimal)

	for _, doc := range docs {
		spec, err := SpecFor(doc.Kind)
		if err != nil {
			return AuditReport{}, err
		}
		for _, l := range doc.Lines {
			for _, d := range spec.Deltas(l) {
				expected[d.Key] = expected[d.Key].Add(d.Quantity)
			}
			switch doc.Kind {
			case KindDeliveryOut:
				issued[l.ID] = l
				issuedDoc[l.ID] = doc.ID
			case KindDeliveryIn:
				returned[l.Source] = returned[l.Source].Add(l.Quantity)
			}
		}
	}

	report := AuditReport{
		CheckedAt: a.now().UTC(),
		Documents: len(docs),
		Balances:  len(balances),
	}

	stored := make(map[Key]decimal.Decimal, len(balances))
	for _, b := range balances {
		stored[b.Key] = b.Quantity
		if want := expected[b.Key]; !want.Equal(b.Quantity) {
			report.Drifts = append(report.Drifts, Drift{Key: b.Key, Stored: b.Quantity, Expected: want})
		}
	}
	for k, want := range expected {
		if _, ok := stored[k]; !ok && !want.IsZero() {
			report.Drifts = append(report.Drifts, Drift{Key: k, Stored: decimal.Zero, Expected: want})
		}
	}

	for id, l := range issued {
		want := returned[id]
		if !l.Returned.Equal(want) || l.Returned.GreaterThan(l.Quantity) {
			report.PendingDrifts = append(report.PendingDrifts, PendingDrift{
				Line: id, Document: issuedDoc[id], Issued: l.Quantity, Returned: l.Returned, Expected: want,
			})
		}
	}

	sort.Slice(report.Drifts, func(i, j int) bool {
		return report.Drifts[i].Key.String() < report.Drifts[j].Key.String()
	})
	sort.Slice(report.PendingDrifts, func(i, j int) bool {
		return report.PendingDrifts[i].Line < report.PendingDrifts[j].Line
	})
	return report, nil
}
