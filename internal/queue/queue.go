// Package queue implements the per-queue FIFO engine: visibility-timeout
// semantics, receipt-handle-based in-flight tracking, and skip-over-invisible
// receive. See sqsmodel for the Message value object this engine mutates.
package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ealebed/sqsmemu/internal/sqsmodel"
)

// Tag is an opaque (key, value) pair stored on a Queue but never
// interpreted by the engine.
type Tag struct {
	Key   string
	Value string
}

// Queue is a named, ordered sequence of messages. Messages are appended
// only at the tail and removed only by explicit delete; a message's
// position is stable across receives — invisibility is a state flag, not a
// removal.
type Queue struct {
	mu sync.Mutex

	Name                     string
	DefaultVisibilityTimeout time.Duration
	Tags                     []Tag

	messages []*sqsmodel.Message
}

// New creates an empty Queue. defaultVisibilityTimeout of 0 falls back to
// 30s, matching spec.md's documented default.
func New(name string, defaultVisibilityTimeout time.Duration, tags []Tag) *Queue {
	if defaultVisibilityTimeout <= 0 {
		defaultVisibilityTimeout = 30 * time.Second
	}
	return &Queue{
		Name:                     name,
		DefaultVisibilityTimeout: defaultVisibilityTimeout,
		Tags:                     tags,
	}
}

// Push appends a message at the tail. It always succeeds.
func (q *Queue) Push(m *sqsmodel.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, m)
}

// Receive scans from head toward tail for visible messages, making up to
// max of them in-flight and returning deep-copy snapshots. A max above 10 is
// capped at 10; raising a max below 1 is the caller's responsibility.
//
// visibilityOverride, when hasOverride is true (including an explicit 0
// value meaning "immediately re-visible"), replaces DefaultVisibilityTimeout
// for this receive. Since time.Duration can't distinguish "not given" from
// "zero", callers pass hasOverride to disambiguate.
func (q *Queue) Receive(max int, visibilityOverride time.Duration, hasOverride bool, now time.Time) []*sqsmodel.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	if max > 10 {
		max = 10
	}

	timeout := q.DefaultVisibilityTimeout
	if hasOverride {
		timeout = visibilityOverride
	}

	result := make([]*sqsmodel.Message, 0, max)
	for _, m := range q.messages {
		if len(result) >= max {
			break
		}
		if m.StateAt(now) == sqsmodel.InFlight {
			continue
		}

		m.ReceiptHandle = uuid.New().String()
		m.ReceiveCount++
		m.VisibleAt = now.Add(timeout)
		if !m.HasBeenReceived() {
			m.FirstReceivedAt = now
		}

		result = append(result, m.Snapshot())
	}
	return result
}

// DeleteByReceiptHandle removes the first message whose ReceiptHandle
// matches. Returns false if no message currently carries that handle —
// including a handle that has since been rotated by a later receive.
func (q *Queue) DeleteByReceiptHandle(handle string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, m := range q.messages {
		if m.ReceiptHandle == handle {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			return true
		}
	}
	return false
}

// ChangeVisibility sets VisibleAt = now + timeout for the message currently
// holding handle. A timeout of 0 makes the message immediately visible
// again. Returns false if handle does not match any message.
func (q *Queue) ChangeVisibility(handle string, timeout time.Duration, now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, m := range q.messages {
		if m.ReceiptHandle == handle {
			m.VisibleAt = now.Add(timeout)
			return true
		}
	}
	return false
}

// ApproximateVisible counts messages visible as of now.
func (q *Queue) ApproximateVisible(now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, m := range q.messages {
		if m.StateAt(now) == sqsmodel.Visible {
			n++
		}
	}
	return n
}

// ApproximateNotVisible counts messages not visible as of now.
func (q *Queue) ApproximateNotVisible(now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, m := range q.messages {
		if m.StateAt(now) == sqsmodel.InFlight {
			n++
		}
	}
	return n
}

// SetDefaultVisibilityTimeout updates the in-memory authoritative timeout
// used by future Receive calls that don't supply an override.
func (q *Queue) SetDefaultVisibilityTimeout(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.DefaultVisibilityTimeout = d
}
