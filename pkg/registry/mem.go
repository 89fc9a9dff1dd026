package registry

import (
	"fmt"
	"sync"
)

// MemoryRegistry session registry using memory.
type MemoryRegistry[T any] struct {
	mutex    *sync.Mutex
	sessions map[string]T
}

func NewMemoryRegistry[T any]() *MemoryRegistry[T] {
	mr := &MemoryRegistry[T]{
		sessions: make(map[string]T),
		mutex:    new(sync.Mutex),
	}
	return mr
}

func (mr *MemoryRegistry[T]) Add(id string, session T) error {
	mr.mutex.Lock()
	defer mr.mutex.Unlock()
	if _, found := mr.sessions[id]; found {
		return fmt.Errorf("session %v already registered", id)
	}
	mr.sessions[id] = session
	return nil
}

func (mr *MemoryRegistry[T]) Get(id string) (T, bool) {
	mr.mutex.Lock()
	defer mr.mutex.Unlock()
	session, ok := mr.sessions[id]
	return session, ok
}

func (mr *MemoryRegistry[T]) Remove(id string) (T, error) {
	mr.mutex.Lock()
	defer mr.mutex.Unlock()
	session, ok := mr.sessions[id]
	if !ok {
		return session, fmt.Errorf("%w: %v", ErrSessionNotFound, id)
	}
	delete(mr.sessions, id)
	return session, nil
}

func (mr *MemoryRegistry[T]) Len() int {
	mr.mutex.Lock()
	defer mr.mutex.Unlock()
	return len(mr.sessions)
}

// All returns a copy of the registered sessions.
func (mr *MemoryRegistry[T]) All() map[string]T {
	mr.mutex.Lock()
	defer mr.mutex.Unlock()
	all := make(map[string]T, len(mr.sessions))
	for id, s := range mr.sessions {
		all[id] = s
	}
	return all
}
