package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Builder constructs a fresh engine. Session calls it on creation and Reset.
type Builder func() (*Engine, error)

// Session is the concurrent boundary around an Engine. Step and Reset are
// serialised by one mutex; after each they publish an immutable Snapshot so
// readers on other goroutines never observe a tick in progress.
type Session struct {
	mu     sync.Mutex
	build  Builder
	eng    *Engine
	latest atomic.Pointer[Snapshot]
}

// NewSession builds the first engine and publishes its initial snapshot.
func NewSession(build Builder) (*Session, error) {
	if build == nil {
		return nil, errors.New("engine: nil session builder")
	}
	s := &Session{build: build}
	if err := s.Reset(); err != nil {
		return nil, err
	}
	return s, nil
}

// Step runs one tick and publishes the resulting snapshot.
func (s *Session) Step(ctx context.Context) TickReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	rep := s.eng.Tick(ctx)
	s.latest.Store(s.eng.Snapshot())
	return rep
}

// Latest returns the most recently published snapshot.
func (s *Session) Latest() *Snapshot {
	return s.latest.Load()
}

// Reset rebuilds the engine from the builder, discarding all run state.
func (s *Session) Reset() error {
	eng, err := s.build()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eng = eng
	s.latest.Store(eng.Snapshot())
	return nil
}

// WithEngine executes fn while holding the session lock. fn must not call
// other Session methods.
func (s *Session) WithEngine(fn func(*Engine) error) error {
	if fn == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.eng)
}
