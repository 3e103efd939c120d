package workqueue

import "sync"

// ConcurrencyStrategy controls how tasks are allowed to start concurrently.
// The strategy tracks running tasks by key and decides whether a new task
// can start given the current state.
type ConcurrencyStrategy interface {
	// CanStart returns true if a task with the given key can start now.
	CanStart(key string) bool
	// OnStart is called when a task with the given key starts.
	OnStart(key string)
	// OnComplete is called when a task with the given key finishes.
	OnComplete(key string)
}

// KeyedStrategy runs at most one task per key, and at most maxWorkers tasks overall.
// A maxWorkers below 1 means no global limit.
type KeyedStrategy struct {
	mu         sync.Mutex
	maxWorkers int
	running    map[string]bool
}

// NewKeyedStrategy creates a strategy that serializes tasks sharing a key.
func NewKeyedStrategy(maxWorkers int) *KeyedStrategy {
	return &KeyedStrategy{
		maxWorkers: maxWorkers,
		running:    make(map[string]bool),
	}
}

func (s *KeyedStrategy) CanStart(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[key] {
		return false
	}
	return s.maxWorkers < 1 || len(s.running) < s.maxWorkers
}

func (s *KeyedStrategy) OnStart(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[key] = true
}

func (s *KeyedStrategy) OnComplete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, key)
}

// Running returns the number of keys with a task in flight.
func (s *KeyedStrategy) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}
