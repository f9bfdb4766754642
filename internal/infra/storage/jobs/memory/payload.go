package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/campusops/batchline/internal/domain/jobs"
)

var _ jobs.PayloadStore = (*PayloadStore)(nil)

// PayloadStore is an in-memory payload store keyed by job ID.
type PayloadStore struct {
	mu       sync.RWMutex
	payloads map[string][]byte
}

// NewPayloadStore creates an empty in-memory payload store.
func NewPayloadStore() *PayloadStore {
	return &PayloadStore{payloads: make(map[string][]byte)}
}

// Put stores payload bytes for a job and returns the opaque reference.
func (s *PayloadStore) Put(ctx context.Context, jobID uuid.UUID, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := jobID.String()
	buf := make([]byte, len(payload))
	copy(buf, payload)
	s.payloads[ref] = buf
	return ref, nil
}

// Get resolves a payload reference.
func (s *PayloadStore) Get(ctx context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.payloads[ref]
	if !ok {
		return nil, jobs.ErrPayloadNotFound
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}
