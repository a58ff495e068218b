// Package item holds the scraped portal content shared by the scrapers, the
// diff engine and the renderer.
package item

import (
	"context"
	"fmt"
	"strings"
	"time"

	"portalbridge/internal/mail"
	"portalbridge/pkg/textutil"
)

type Announcement struct {
	// ID is the stable identifier the portal assigns to the announcement.
	ID     string
	Title  string
	Author string
	Date   time.Time
	// Body is the announcement as plain text.
	Body string
	// HTML is the raw announcement markup when the portal provides it.
	HTML        string
	Attachments []mail.Attachment
	// Confirm acknowledges the announcement on the portal (the "mark as read"
	// button), nil when the portal requires no confirmation.
	Confirm func(ctx context.Context) error
}

type Message struct {
	Author      string
	Date        time.Time
	Body        string
	Attachments []mail.Attachment
}

// Thread is a conversation with a teacher or an inquiry, Messages are in
// posting order.
type Thread struct {
	// ID is the portal thread id, inquiries have none.
	ID       string
	Subject  string
	Teacher  string
	Messages []Message
}

// Key returns the ledger key of the thread. Threads without a portal id are
// keyed by the hash of their subject and the date of their first message.
func (t Thread) Key() string {
	if t.ID != "" {
		return t.ID
	}
	first := ""
	if len(t.Messages) > 0 {
		first = t.Messages[0].Date.UTC().Format(time.RFC3339)
	}
	return textutil.Hash(fmt.Sprintf("%s\n%s", t.Subject, first))[:16]
}

// Substitution is a single row of the substitution plan.
type Substitution struct {
	Class   string
	Period  string
	Subject string
	Teacher string
	Room    string
	Note    string
}

// Day is the substitution plan of one school day.
type Day struct {
	Date time.Time
	// free text shown above the table
	Info string
	Rows []Substitution
}

type Notice struct {
	Title string
	Date  time.Time
	Body  string
}

type Event struct {
	// Key is an optional stable identifier, when empty it is derived from
	// the date, the title and the location.
	Key      string
	Title    string
	Date     time.Time
	Location string
}

// ID returns the ledger key of the event. Derived keys stay readable since
// they are all that is left to describe an event once it was removed.
func (e Event) ID() string {
	if e.Key != "" {
		return e.Key
	}
	id := fmt.Sprintf("%s %s", e.Date.Format("2006-01-02"), strings.TrimSpace(e.Title))
	if loc := strings.TrimSpace(e.Location); loc != "" {
		id += " @ " + loc
	}
	return id
}
