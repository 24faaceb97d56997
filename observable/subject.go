// Package observable provides a minimal state container: a current value
// plus explicit subscriber registration.
package observable

import "sync"

// Subject holds a value of T and notifies subscribers when it changes.
// Callbacks run synchronously on the goroutine that called Set, outside the
// subject's lock, in registration order.
type Subject[T any] struct {
	mu     sync.RWMutex
	value  T
	nextID uint64
	subs   map[uint64]func(T)
	order  []uint64
}

// New returns a Subject holding initial.
func New[T any](initial T) *Subject[T] {
	return &Subject[T]{value: initial, subs: make(map[uint64]func(T))}
}

// Value returns the current value.
func (s *Subject[T]) Value() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Set replaces the value and notifies every subscriber.
func (s *Subject[T]) Set(v T) {
	s.mu.Lock()
	s.value = v
	fns := s.snapshot()
	s.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Update applies fn to the current value under the lock, stores the result
// and notifies subscribers.
func (s *Subject[T]) Update(fn func(T) T) T {
	s.mu.Lock()
	v := fn(s.value)
	s.value = v
	fns := s.snapshot()
	s.mu.Unlock()

	for _, f := range fns {
		f(v)
	}
	return v
}

// Subscribe registers fn for future changes and returns a function that
// removes it. fn is not called with the current value.
func (s *Subject[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.order = append(s.order, id)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (s *Subject[T]) snapshot() []func(T) {
	fns := make([]func(T), 0, len(s.order))
	for _, id := range s.order {
		fns = append(fns, s.subs[id])
	}
	return fns
}
