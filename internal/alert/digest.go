package alert

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DigestKey identifies one pending digest buffer.
type DigestKey struct {
	RuleID int
	Mode   DigestMode
}

func (k DigestKey) String() string {
	return fmt.Sprintf("%d:%s", k.RuleID, k.Mode)
}

type DigestEntry struct {
	Event      ChangeEvent `json:"event"`
	EnqueuedAt time.Time   `json:"enqueuedAt"`
}

// DigestStore buffers matched events until their digest is released.
//
// Appends to one key are serialized. Drain returns everything buffered so
// far and empties the buffer in one step: an Append racing a Drain lands
// either in the drained batch or in the next one, never both and never
// neither.
type DigestStore interface {
	Append(ctx context.Context, key DigestKey, entry DigestEntry) error
	Drain(ctx context.Context, key DigestKey) ([]DigestEntry, error)
	Len(ctx context.Context, key DigestKey) (int, error)
}

// MemoryDigestStore keeps buffers in process memory. Keys are removed once
// drained, so idle rules hold no memory.
type MemoryDigestStore struct {
	mu      sync.Mutex
	buffers map[DigestKey][]DigestEntry
}

func NewMemoryDigestStore() *MemoryDigestStore {
	return &MemoryDigestStore{buffers: make(map[DigestKey][]DigestEntry)}
}

func (s *MemoryDigestStore) Append(_ context.Context, key DigestKey, entry DigestEntry) error {
	s.mu.Lock()
	s.buffers[key] = append(s.buffers[key], entry)
	s.mu.Unlock()
	return nil
}

func (s *MemoryDigestStore) Drain(_ context.Context, key DigestKey) ([]DigestEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.buffers[key]
	delete(s.buffers, key)
	return out, nil
}

func (s *MemoryDigestStore) Len(_ context.Context, key DigestKey) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffers[key]), nil
}

func (s *MemoryDigestStore) keys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffers)
}
