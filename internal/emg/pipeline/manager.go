package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/myo.mouse/internal/emg"
	"github.com/banshee-data/myo.mouse/internal/emg/l4classify"
	"github.com/banshee-data/myo.mouse/internal/monitoring"
)

// SessionHook runs after a session's pipeline is created and before it
// starts. An error aborts the start.
type SessionHook func(p *Pipeline) error

// Manager runs at most one pipeline at a time for a long-lived process.
// Every Start creates a new session on the shared buffer beginning at the
// newest sample, so a session never classifies samples from before it.
type Manager struct {
	slot *l4classify.Slot
	cfg  Config
	deps Deps
	hook SessionHook

	mu      sync.Mutex
	current *Pipeline
}

// NewManager returns a manager that builds sessions from slot, cfg and deps.
// deps.Session and deps.Cursor are set per session. hook may be nil.
func NewManager(slot *l4classify.Slot, cfg Config, deps Deps, hook SessionHook) *Manager {
	return &Manager{slot: slot, cfg: cfg, deps: deps, hook: hook}
}

// Start creates and starts a new session. ctx bounds the session; a
// cancelled ctx stops it. Starting while a session is active is an
// emg.ErrInvalidTransition error.
func (m *Manager) Start(ctx context.Context) (*Pipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		if st := m.current.State(); st != emg.StateTerminated {
			return nil, fmt.Errorf("session %s is %s: %w", m.current.SessionID(), st, emg.ErrInvalidTransition)
		}
	}

	deps := m.deps
	deps.Session = ""
	deps.Cursor = deps.Buffer.Total()
	p, err := New(m.slot, m.cfg, deps)
	if err != nil {
		return nil, err
	}
	if m.hook != nil {
		if err := m.hook(p); err != nil {
			p.Stop()
			return nil, fmt.Errorf("session hook: %w", err)
		}
	}
	if err := p.Start(ctx); err != nil {
		p.Stop()
		return nil, err
	}
	m.current = p
	return p, nil
}

// Stop stops the active session. With no active session it is an
// emg.ErrInvalidTransition error.
func (m *Manager) Stop() error {
	m.mu.Lock()
	p := m.current
	m.mu.Unlock()

	if p == nil {
		return fmt.Errorf("no session: %w", emg.ErrInvalidTransition)
	}
	return p.Stop()
}

// Current returns the most recent session, which may be terminated, or nil.
func (m *Manager) Current() *Pipeline {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// State reports the lifecycle state of the most recent session, IDLE when
// there has been none.
func (m *Manager) State() emg.PipelineState {
	if p := m.Current(); p != nil {
		return p.State()
	}
	return emg.StateIdle
}

// Status returns the most recent session's status.
func (m *Manager) Status() Status {
	if p := m.Current(); p != nil {
		return p.Status()
	}
	return Status{State: emg.StateIdle}
}

// Shutdown stops an active session, ignoring the case where none runs.
func (m *Manager) Shutdown() {
	p := m.Current()
	if p == nil || p.State() == emg.StateTerminated {
		return
	}
	// A session stopping on its own context ends in ErrInvalidTransition.
	if err := p.Stop(); err != nil && !errors.Is(err, emg.ErrInvalidTransition) {
		monitoring.Logf("pipeline manager: shutdown: %v", err)
	}
}
