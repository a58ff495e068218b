// Package diff decides which scraped items have to be mailed. Every function
// in here is pure: the ledger is only mutated by the Commit of the returned
// tasks, which the delivery pump runs after a successful send.
package diff

import (
	"time"

	"portalbridge/internal/components/chrono"
	"portalbridge/internal/item"
	"portalbridge/internal/ledger"
	"portalbridge/internal/mail"
	"portalbridge/internal/render"
	"portalbridge/internal/task"
)

// Category is a bit set of content categories.
type Category uint8

const (
	CategoryAnnouncements Category = 1 << iota
	CategoryInquiries
	CategoryThreads
	CategorySubstitutions
	CategoryNotices
	CategoryEvents
)

const CategoryAll = CategoryAnnouncements | CategoryInquiries | CategoryThreads |
	CategorySubstitutions | CategoryNotices | CategoryEvents

func (c Category) Has(other Category) bool {
	return c&other == other
}

// Snapshot is the freshly scraped state of one source. Collected records the
// categories that were actually scraped, a category absent from it is left
// alone instead of being treated as empty.
type Snapshot struct {
	Collected Category
	// portal order, newest first
	Announcements []item.Announcement
	Inquiries     []item.Thread
	Threads       []item.Thread
	Substitutions []item.Day
	// portal order, newest first
	Notices []item.Notice
	Events  []item.Event
}

type Options struct {
	// Source is the name of the source, it becomes part of Message-IDs.
	Source string
	// Label prefixes every subject when set, "[Label] subject".
	Label string
	// Domain is the domain of synthetic Message-IDs.
	Domain     string
	Recipients []string
	// ReplyTo returns the reverse route of a portal thread, nil when replies
	// cannot be posted back.
	ReplyTo func(threadID string) string
	// Today is the start of the current day in the portal's location.
	Today         time.Time
	LookaheadDays int
}

func (o Options) message(body render.Body) mail.Message {
	subject := body.Subject
	if o.Label != "" {
		subject = "[" + o.Label + "] " + subject
	}
	return mail.Message{
		To:      append([]string(nil), o.Recipients...),
		Subject: subject,
		Text:    body.Text,
		HTML:    body.HTML,
	}
}

// Build diffs every collected category of the snapshot in reading order:
// announcements, inquiries, threads, substitutions, notices, events.
func Build(s Snapshot, l *ledger.SourceLedger, opts Options) []task.Task {
	var tasks []task.Task
	if s.Collected.Has(CategoryAnnouncements) {
		tasks = append(tasks, Announcements(s.Announcements, l.Announcements, opts)...)
	}
	if s.Collected.Has(CategoryInquiries) {
		tasks = append(tasks, Inquiries(s.Inquiries, l.Inquiries, opts)...)
	}
	if s.Collected.Has(CategoryThreads) {
		tasks = append(tasks, Threads(s.Threads, l.Threads, opts)...)
	}
	if s.Collected.Has(CategorySubstitutions) {
		tasks = append(tasks, Substitutions(s.Substitutions, l.Substitutions, opts)...)
	}
	if s.Collected.Has(CategoryNotices) {
		tasks = append(tasks, Notices(s.Notices, l.Notices, opts)...)
	}
	if s.Collected.Has(CategoryEvents) {
		tasks = append(tasks, Events(s.Events, l.Events, opts)...)
	}
	return tasks
}

// Window returns the lower bound scrapers may use to skip old content. It is
// the start of the watermark's day minus graceDays, since portal dates often
// lack a time of day or a timezone. A zero watermark means everything has to
// be scraped.
func Window(now, watermark time.Time, graceDays int) time.Time {
	if watermark.IsZero() {
		return time.Time{}
	}
	if watermark.After(now) {
		watermark = now
	}
	return chrono.StartOfDay(watermark.In(now.Location())).AddDate(0, 0, -graceDays)
}
