package registry

import "errors"

var ErrSessionNotFound = errors.New("session not found")

// Registry maps session ids to their sessions. It is the only state shared
// between the sessions of a server.
type Registry[T any] interface {
	Add(id string, session T) error
	Get(id string) (T, bool)
	Remove(id string) (T, error)
	Len() int
	All() map[string]T
}
