package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/coachpo/rmpay/errs"
)

// Memory is an in-process Ledger used by tests and the demo daemon. It
// enforces the same pending-only transition guard a production ledger must
// provide.
type Memory struct {
	mu      sync.Mutex
	records map[string]Transaction
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Transaction)}
}

// PendingTransactions returns every record still awaiting confirmation,
// ordered by creation time.
func (m *Memory) PendingTransactions(ctx context.Context) ([]Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transaction, 0, len(m.records))
	for _, tx := range m.records {
		if tx.Status == StatusPending {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Get returns the record stored under the composite reference.
func (m *Memory) Get(ctx context.Context, ref string) (Transaction, error) {
	if err := ctx.Err(); err != nil {
		return Transaction{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.records[ref]
	if !ok {
		return Transaction{}, errs.NotFound(ref)
	}
	return tx, nil
}

// UpdateStatus transitions the stored record from pending to the given
// status, merging provider-assigned fields from tx. A record that already
// reached a terminal state is left untouched and a conflict is returned.
func (m *Memory) UpdateStatus(ctx context.Context, tx Transaction, status Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.records[tx.ID]
	if !ok {
		return errs.NotFound(tx.ID)
	}
	if current.Status != StatusPending {
		return errs.Conflict(tx.ID, string(current.Status))
	}
	current.Status = status
	if tx.ProviderTransactionID != "" {
		current.ProviderTransactionID = tx.ProviderTransactionID
	}
	if tx.Method != "" {
		current.Method = tx.Method
	}
	m.records[tx.ID] = current
	return nil
}

// Save inserts or replaces the record. Overwriting a terminal record is
// refused.
func (m *Memory) Save(ctx context.Context, tx Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.records[tx.ID]; ok && current.Status.Terminal() {
		return errs.Conflict(tx.ID, string(current.Status))
	}
	m.records[tx.ID] = tx
	return nil
}
