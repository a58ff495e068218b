// Package intake forwards parent emails sent to tagged reverse-route
// addresses (base+tag@domain) into the portal as teacher messages.
//
// Completion is recorded on the inbound message itself (a processed flag in
// the mailbox) and not in the ledger. The flag is set right before the first
// chunk of the first post goes out: a crash before that leaves the message
// to be rediscovered, a failure after that never posts it twice.
package intake

import (
	"context"
	"errors"
	"time"
)

var ErrNoRoute = errors.New("no portal destination")

// Inbound is a message read from the intake mailbox.
type Inbound struct {
	// Ref identifies the message within the mailbox.
	Ref  string
	From string
	// every recipient of the message (To, Cc and Delivered-To)
	To      []string
	Subject string
	Text    string
	Date    time.Time
}

// Mailbox is the intake mailbox.
//
// note: fault injection point
type Mailbox interface {
	// Fetch returns every message that is not flagged processed.
	Fetch(ctx context.Context) ([]Inbound, error)
	MarkProcessed(ctx context.Context, ref string) error
}

// Watcher notifies about new mail pushed by the server.
type Watcher interface {
	// Watch calls notify whenever new mail might have arrived, it blocks
	// until ctx is done.
	Watch(ctx context.Context, notify func()) error
}

type Teacher struct {
	ID   string
	Name string
}

// Poster posts messages into the portal.
//
// note: fault injection point
type Poster interface {
	// NewThread starts a thread with a teacher and returns the id of the
	// created thread.
	NewThread(ctx context.Context, teacherID, subject, body string) (string, error)
	Reply(ctx context.Context, threadID, body string) error
	Teachers(ctx context.Context) ([]Teacher, error)
}
