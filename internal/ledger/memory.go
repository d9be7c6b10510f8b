package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryPoster keeps balances in process. Used by tests and by
// POKER_STORE_MODE=memory deployments.
type MemoryPoster struct {
	mu       sync.Mutex
	balances map[[2]string]int64
	byKey    map[string]*Transaction
}

func NewMemoryPoster() *MemoryPoster {
	return &MemoryPoster{
		balances: map[[2]string]int64{},
		byKey:    map[string]*Transaction{},
	}
}

func (m *MemoryPoster) Close() error { return nil }

func (m *MemoryPoster) PostTransaction(_ context.Context, in PostInput) (*Transaction, error) {
	if err := validatePost(in); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if prior, ok := m.byKey[in.IdempotencyKey]; ok {
		cp := *prior
		cp.Entries = append([]Entry(nil), prior.Entries...)
		cp.Replayed = true
		return &cp, nil
	}

	for _, e := range in.Entries {
		accType, key := accountKey(e)
		m.balances[[2]string{accType, key}] += e.Amount
	}
	tx := &Transaction{
		ID:             uuid.NewString(),
		UserID:         in.UserID,
		TxType:         in.TxType,
		IdempotencyKey: in.IdempotencyKey,
		Entries:        append([]Entry(nil), in.Entries...),
		Metadata:       in.Metadata,
		CreatedAt:      time.Now().UTC(),
	}
	m.byKey[in.IdempotencyKey] = tx

	cp := *tx
	cp.Entries = append([]Entry(nil), tx.Entries...)
	return &cp, nil
}

func (m *MemoryPoster) AccountBalance(_ context.Context, accountType, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[[2]string{accountType, key}], nil
}

func (m *MemoryPoster) NonZeroEscrowKeys(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k, v := range m.balances {
		if k[0] == AccountEscrow && v != 0 {
			out = append(out, k[1])
		}
	}
	sort.Strings(out)
	return out, nil
}

// Transactions returns the number of distinct postings. Test helper.
func (m *MemoryPoster) Transactions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byKey)
}
