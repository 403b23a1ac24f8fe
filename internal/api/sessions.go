package api

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/detectra/detectra/internal/orchestrator"
)

// SessionFactory builds the orchestrator for a new browser session.
type SessionFactory func() *orchestrator.Orchestrator

// Sessions holds one Orchestrator per browser session. Idle sessions expire
// after ttl and the least recently used are evicted beyond size.
type Sessions struct {
	mu      sync.Mutex
	entries *expirable.LRU[string, *orchestrator.Orchestrator]
	factory SessionFactory
}

// NewSessions creates a registry.
func NewSessions(size int, ttl time.Duration, factory SessionFactory) *Sessions {
	if size <= 0 {
		size = 1024
	}
	return &Sessions{
		entries: expirable.NewLRU[string, *orchestrator.Orchestrator](size, nil, ttl),
		factory: factory,
	}
}

// Get returns the orchestrator for id, creating it on first use. Every
// access restarts the idle timer.
func (s *Sessions) Get(id string) *orchestrator.Orchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.entries.Get(id)
	if !ok {
		o = s.factory()
	}
	s.entries.Add(id, o)
	return o
}

// Len reports the number of live sessions.
func (s *Sessions) Len() int {
	return s.entries.Len()
}
