// Package registry holds the process-wide name -> Queue map and is the sole
// gate through which any Queue is mutated or inspected.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/ealebed/sqsmemu/internal/queue"
)

// ErrNotFound is returned by WithQueue when the named queue is not in the
// Registry.
var ErrNotFound = errors.New("queue not found")

// Registry is a process-wide mapping from queue name to Queue, protected by
// a single mutex. All Queue mutations go through WithQueue's scoped
// critical section.
type Registry struct {
	mu     sync.Mutex
	queues map[string]*queue.Queue
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{queues: make(map[string]*queue.Queue)}
}

// Create returns the named Queue, creating it with the given defaults if it
// doesn't already exist. Matching spec.md's documented simpler policy,
// creating a queue with an existing name is idempotent: the existing queue
// is returned unchanged, regardless of whether the requested attributes
// differ.
func (r *Registry) Create(name string, defaultVisibilityTimeout time.Duration, tags []queue.Tag) *queue.Queue {
	r.mu.Lock()
	defer r.mu.Unlock()

	if q, ok := r.queues[name]; ok {
		return q
	}
	q := queue.New(name, defaultVisibilityTimeout, tags)
	r.queues[name] = q
	return q
}

// Exists reports whether a queue with this name has been created.
func (r *Registry) Exists(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.queues[name]
	return ok
}

// List returns all queue names whose prefix matches the given string
// (an empty prefix matches everything).
func (r *Registry) List(prefix string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			names = append(names, name)
		}
	}
	return names
}

// WithQueue acquires the Registry lock, looks up the named queue, and runs
// fn with exclusive access. It returns ErrNotFound if the queue doesn't
// exist. fn must not block on I/O or sleep — critical sections here are
// strictly CPU-bound per spec.md's concurrency model.
func (r *Registry) WithQueue(name string, fn func(q *queue.Queue)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, ok := r.queues[name]
	if !ok {
		return ErrNotFound
	}
	fn(q)
	return nil
}
