package service

import (
	"context"
	"sync"
)

// inlineTx runs fn directly against the given repositories.
type inlineTx struct {
	docs  DocumentRepositoryInterface
	jobs  IngestJobRepositoryInterface
	calls int
}

func (t *inlineTx) Documents() DocumentRepositoryInterface   { return t.docs }
func (t *inlineTx) IngestJobs() IngestJobRepositoryInterface { return t.jobs }

func (t *inlineTx) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	t.calls++
	return fn(t)
}

// MockUUIDGenerator hands out the given ids in order, then "default-uuid".
type MockUUIDGenerator struct {
	mu   sync.Mutex
	next []string
}

func NewMockUUIDGenerator(uuids ...string) *MockUUIDGenerator {
	return &MockUUIDGenerator{next: uuids}
}

func (m *MockUUIDGenerator) NewString() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.next) == 0 {
		return "default-uuid"
	}
	id := m.next[0]
	m.next = m.next[1:]
	return id
}
