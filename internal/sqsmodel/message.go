// Package sqsmodel holds the value objects shared by the queue engine and
// the HTTP dispatcher: a Message and its visibility state machine.
package sqsmodel

import "time"

// Message is one queued item. Fields beyond ID and Body are mutated only by
// the owning Queue, itself only reachable through the Registry's lock.
type Message struct {
	ID     string
	Body   string
	MD5    string // lowercase hex MD5 of Body, computed once at send time

	ReceiptHandle string // empty until first receive; rotated on each receive, not cleared when visibility lapses
	ReceiveCount  int

	VisibleAt       time.Time
	FirstReceivedAt time.Time // zero value means "never received"
}

// NewMessage constructs a Message that is immediately visible and has never
// been received.
func NewMessage(id, body, md5sum string, now time.Time) *Message {
	return &Message{
		ID:        id,
		Body:      body,
		MD5:       md5sum,
		VisibleAt: now,
	}
}

// State names the three positions a Message occupies in the visibility
// state machine. DELETED is not tracked on Message itself: a deleted
// message is simply absent from its Queue's sequence.
type State int

const (
	Visible State = iota
	InFlight
)

// StateAt reports whether the message is VISIBLE or IN_FLIGHT as of now.
func (m *Message) StateAt(now time.Time) State {
	if m.ReceiptHandle != "" && m.VisibleAt.After(now) {
		return InFlight
	}
	return Visible
}

// Snapshot returns a deep copy safe to hand to callers outside the
// Registry's lock.
func (m *Message) Snapshot() *Message {
	cp := *m
	return &cp
}

// HasBeenReceived reports whether FirstReceivedAt has been set.
func (m *Message) HasBeenReceived() bool {
	return !m.FirstReceivedAt.IsZero()
}
