package repository

import (
	"context"
	"testing"
	"time"
)

func newMemoryFixture(t *testing.T) *fixture {
	s := NewMemoryStore()
	return &fixture{
		store:     s,
		putUser:   s.PutUser,
		putTask:   s.PutTask,
		putRound:  s.PutRound,
		baseClock: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, newMemoryFixture)
}

func TestMemoryStoreSeedsRoot(t *testing.T) {
	s := NewMemoryStore()
	root, err := s.GetRound(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetRound(1): %v", err)
	}
	if !root.IsRoot() {
		t.Fatalf("seeded root is not a root: %+v", root)
	}
}
