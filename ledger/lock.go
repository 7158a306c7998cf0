package ledger

import (
	"context"
	"sort"
)

// Locker serializes units of work that touch the same balances across
// processes. Acquire blocks until every key is held or ctx ends.
type Locker interface {
	Acquire(ctx context.Context, keys []string) (release func(), err error)
}

// NopLocker relies on the store's own transaction isolation.
type NopLocker struct{}

func (NopLocker) Acquire(context.Context, []string) (func(), error) {
	return func() {}, nil
}

// lockKeys names the balances and documents a unit will touch, sorted so
// that every caller acquires them in the same order.
func lockKeys(docIDs []DocumentID, keys []Key) []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range docIDs {
		if id == "" {
			continue
		}
		k := "doc:" + string(id)
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for _, key := range keys {
		k := "stock:" + key.String()
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
