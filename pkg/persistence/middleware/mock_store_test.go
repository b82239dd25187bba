package middleware_test

import (
	"context"
	"sync/atomic"

	"github.com/aretw0/stratum/pkg/adapters/memory"
	"github.com/aretw0/stratum/pkg/domain"
	"github.com/aretw0/stratum/pkg/ports"
)

// MockStore is an in-memory store that counts reads, for testing middleware.
type MockStore struct {
	*memory.Store
	reads atomic.Int32
}

func NewMockStore() *MockStore {
	return &MockStore{Store: memory.NewStore()}
}

func (s *MockStore) GetState(ctx context.Context, sessionID string) (*domain.Session, error) {
	s.reads.Add(1)
	return s.Store.GetState(ctx, sessionID)
}

func (s *MockStore) Reads() int {
	return int(s.reads.Load())
}

var _ ports.SessionStore = (*MockStore)(nil)
