package l4classify

import (
	"errors"
	"sync"
)

var (
	// ErrModelInUse is returned when a model swap is attempted while a
	// control loop holds the slot.
	ErrModelInUse = errors.New("model is in use by a running control loop")
	// ErrNoModel is returned when acquiring an empty slot.
	ErrNoModel = errors.New("no trained model loaded")
)

// Slot holds the current model. Control loops Acquire it for their whole
// RUNNING lifetime; Swap is refused while any holder remains.
type Slot struct {
	mu      sync.Mutex
	model   *Model
	holders int
}

// NewSlot returns a slot holding m, which may be nil.
func NewSlot(m *Model) *Slot {
	return &Slot{model: m}
}

// Model returns the current model without acquiring it.
func (s *Slot) Model() *Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// Acquire pins the current model. The returned release func must be called
// exactly once; extra calls are ignored.
func (s *Slot) Acquire() (*Model, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return nil, nil, ErrNoModel
	}
	s.holders++
	var once sync.Once
	release := func() {
		once.Do(func() {
			s.mu.Lock()
			s.holders--
			s.mu.Unlock()
		})
	}
	return s.model, release, nil
}

// InUse reports whether any control loop holds the slot.
func (s *Slot) InUse() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holders > 0
}

// Swap replaces the model unless the slot is held.
func (s *Slot) Swap(m *Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.holders > 0 {
		return ErrModelInUse
	}
	s.model = m
	return nil
}
