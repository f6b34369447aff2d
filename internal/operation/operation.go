// Package operation records scan runs driven through the HTTP API. A Run
// mirrors the state of its pipeline controller:
//
//	idle → capturing → (recognizing) → resolving → awaiting_next → idle ... → finished
//
// until it is finished or closed. The store is the source of truth for run
// records; HTTP handlers read exclusively through it.
package operation

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomasbasham/card-scan/internal/pipeline"
	"github.com/tomasbasham/card-scan/internal/session"
)

// Run is the record of one scan run.
type Run struct {
	ID        string         `json:"id"`
	Mode      pipeline.Mode  `json:"mode"`
	State     pipeline.State `json:"state"`
	Closed    bool           `json:"closed"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`

	// Cycles counts completed capture cycles; Resolved counts those that
	// resolved a card.
	Cycles   int `json:"cycles"`
	Resolved int `json:"resolved"`

	// SessionSize is the number of cards waiting in the batch session.
	SessionSize int `json:"session_size"`

	LastCycle *pipeline.Cycle      `json:"last_cycle,omitempty"`
	Batch     *session.BatchResult `json:"batch,omitempty"`

	// Error is non-empty if the run failed.
	Error string `json:"error,omitempty"`
}

// Store persists and retrieves runs. MemoryStore serves a single scan
// station; a shared implementation would satisfy the same interface.
type Store interface {
	Create(mode pipeline.Mode) (*Run, error)
	Get(id string) (*Run, error)
	SetState(id string, state pipeline.State) error
	RecordCycle(id string, c pipeline.Cycle) error
	RecordBatch(id string, r *session.BatchResult) error
	MarkClosed(id string) error
	MarkFailed(id string, err error) error
}

// ErrNotFound is wrapped by errors for unknown run ids.
var ErrNotFound = errors.New("operation: run not found")

// MemoryStore is a concurrency-safe in-memory Store.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*Run)}
}

func (s *MemoryStore) Create(mode pipeline.Mode) (*Run, error) {
	now := time.Now()
	run := &Run{
		ID:        uuid.New().String(),
		Mode:      mode,
		State:     pipeline.StateIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.runs[run.ID] = run
	s.mu.Unlock()

	cp := *run
	return &cp, nil
}

func (s *MemoryStore) Get(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	// Return a copy to prevent callers from mutating internal state.
	cp := *run
	return &cp, nil
}

func (s *MemoryStore) SetState(id string, state pipeline.State) error {
	return s.update(id, func(r *Run) {
		r.State = state
	})
}

func (s *MemoryStore) RecordCycle(id string, c pipeline.Cycle) error {
	return s.update(id, func(r *Run) {
		r.Cycles++
		if c.Status == pipeline.StatusResolved {
			r.Resolved++
		}
		r.SessionSize = c.SessionSize
		r.LastCycle = &c
	})
}

func (s *MemoryStore) RecordBatch(id string, b *session.BatchResult) error {
	return s.update(id, func(r *Run) {
		r.Batch = b
		r.SessionSize = 0
	})
}

func (s *MemoryStore) MarkClosed(id string) error {
	return s.update(id, func(r *Run) {
		r.Closed = true
	})
}

func (s *MemoryStore) MarkFailed(id string, err error) error {
	return s.update(id, func(r *Run) {
		r.Error = err.Error()
	})
}

func (s *MemoryStore) update(id string, fn func(*Run)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	fn(run)
	run.UpdatedAt = time.Now()
	return nil
}
