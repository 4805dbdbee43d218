package ledger

import (
	"context"
	"slices"
	"sync"
)

// MemLedger is an in-memory [Ledger]. The zero value is ready to use.
type MemLedger struct {
	mu    sync.Mutex
	order []string
	recs  map[string]MasteryRecord
}

var _ Ledger = (*MemLedger)(nil)

// NewMemLedger returns an empty in-memory ledger.
func NewMemLedger() *MemLedger {
	return &MemLedger{}
}

// Upsert implements [Ledger].
func (m *MemLedger) Upsert(_ context.Context, rec MasteryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recs == nil {
		m.recs = make(map[string]MasteryRecord)
	}
	k := Key(rec.Word)
	if _, ok := m.recs[k]; !ok {
		m.order = append(m.order, k)
	}
	m.recs[k] = rec
	return nil
}

// ReadAll implements [Ledger].
func (m *MemLedger) ReadAll(_ context.Context) ([]MasteryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MasteryRecord, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, m.recs[k])
	}
	return out, nil
}

// Clear implements [Ledger].
func (m *MemLedger) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order = nil
	clear(m.recs)
	return nil
}

// Len returns the number of stored records.
func (m *MemLedger) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// upsertOrdered merges rec into recs following the ledger's replace-in-place
// rule. It is shared by ledgers that hold the whole collection in memory.
func upsertOrdered(recs []MasteryRecord, rec MasteryRecord) []MasteryRecord {
	k := Key(rec.Word)
	if i := slices.IndexFunc(recs, func(r MasteryRecord) bool { return Key(r.Word) == k }); i >= 0 {
		recs[i] = rec
		return recs
	}
	return append(recs, rec)
}
