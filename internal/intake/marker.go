package intake

import (
	"context"
	"sync"
)

// Marker flags one inbound message as processed. It is shared by every post
// produced from that message and flags it at most once.
type Marker struct {
	ref     string
	mailbox Mailbox
	// called once the message is flagged or released
	done func(ref string)

	mu       sync.Mutex
	marked   bool
	err      error
	holders  int
	released bool
}

func newMarker(mailbox Mailbox, ref string, holders int, done func(string)) *Marker {
	return &Marker{ref: ref, mailbox: mailbox, holders: holders, done: done}
}

// Ref returns the mailbox reference of the source message.
func (m *Marker) Ref() string {
	return m.ref
}

// Mark flags the source message, later calls return the result of the first.
func (m *Marker) Mark(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.marked {
		return m.err
	}
	m.marked = true
	m.err = m.mailbox.MarkProcessed(ctx, m.ref)
	m.finish()
	return m.err
}

// Marked reports whether Mark was called.
func (m *Marker) Marked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.marked
}

// Release gives up one post's claim without marking, once every post released
// an unmarked message it may be picked up again by the next poll.
func (m *Marker) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.marked {
		return
	}
	m.holders--
	if m.holders <= 0 {
		m.finish()
	}
}

func (m *Marker) finish() {
	if m.released {
		return
	}
	m.released = true
	if m.done != nil {
		m.done(m.ref)
	}
}
