// Package source adapts the scrapers to a uniform interface for the
// orchestrator.
package source

import (
	"context"
	"fmt"
	"time"

	"portalbridge/internal/diff"
	"portalbridge/internal/intake"
	"portalbridge/internal/item"
)

// Source is one scraped site.
//
// note: fault injection point
type Source interface {
	// Name is the ledger key of the source.
	Name() string
	// Open acquires a session, it is called once per iteration.
	Open(ctx context.Context) error
	Close(ctx context.Context)
	// Scrape returns the current state of the source. Content older than
	// since may be skipped. On error the snapshot holds the categories that
	// were collected before the failure.
	Scrape(ctx context.Context, since time.Time) (diff.Snapshot, error)
}

// PortalScraper is the part of the portal client used by Portal.
type PortalScraper interface {
	intake.Poster
	Login(ctx context.Context) error
	Logout(ctx context.Context)
	Announcements(ctx context.Context, since time.Time) ([]item.Announcement, error)
	Inquiries(ctx context.Context, since time.Time) ([]item.Thread, error)
	Threads(ctx context.Context, since time.Time) ([]item.Thread, error)
	Substitutions(ctx context.Context) ([]item.Day, error)
	Notices(ctx context.Context) ([]item.Notice, error)
	Events(ctx context.Context) ([]item.Event, error)
}

// Portal is the primary portal, it is the only source that accepts posts.
type Portal struct {
	name    string
	scraper PortalScraper
}

func NewPortal(name string, scraper PortalScraper) *Portal {
	return &Portal{name: name, scraper: scraper}
}

func (p *Portal) Name() string {
	return p.name
}

func (p *Portal) Open(ctx context.Context) error {
	return p.scraper.Login(ctx)
}

func (p *Portal) Close(ctx context.Context) {
	p.scraper.Logout(ctx)
}

// Poster returns the portal as a destination for intake posts.
func (p *Portal) Poster() intake.Poster {
	return p.scraper
}

// Scrape collects the categories in reading order and stops at the first
// failure.
func (p *Portal) Scrape(ctx context.Context, since time.Time) (diff.Snapshot, error) {
	var s diff.Snapshot
	var err error

	s.Announcements, err = p.scraper.Announcements(ctx, since)
	if err != nil {
		return s, fmt.Errorf("announcements: %w", err)
	}
	s.Collected |= diff.CategoryAnnouncements

	s.Inquiries, err = p.scraper.Inquiries(ctx, since)
	if err != nil {
		return s, fmt.Errorf("inquiries: %w", err)
	}
	s.Collected |= diff.CategoryInquiries

	s.Threads, err = p.scraper.Threads(ctx, since)
	if err != nil {
		return s, fmt.Errorf("threads: %w", err)
	}
	s.Collected |= diff.CategoryThreads

	s.Substitutions, err = p.scraper.Substitutions(ctx)
	if err != nil {
		return s, fmt.Errorf("substitutions: %w", err)
	}
	s.Collected |= diff.CategorySubstitutions

	s.Notices, err = p.scraper.Notices(ctx)
	if err != nil {
		return s, fmt.Errorf("notices: %w", err)
	}
	s.Collected |= diff.CategoryNotices

	s.Events, err = p.scraper.Events(ctx)
	if err != nil {
		return s, fmt.Errorf("events: %w", err)
	}
	s.Collected |= diff.CategoryEvents

	return s, nil
}

// EventLister is the part of the calendar client used by Calendar.
type EventLister interface {
	Events(ctx context.Context, lookaheadDays int) ([]item.Event, error)
}

// Calendar is the public school calendar, it only has events.
type Calendar struct {
	name          string
	lister        EventLister
	lookaheadDays int
}

func NewCalendar(name string, lister EventLister, lookaheadDays int) *Calendar {
	return &Calendar{name: name, lister: lister, lookaheadDays: lookaheadDays}
}

func (c *Calendar) Name() string { return c.name }
func (c *Calendar) Open(ctx context.Context) error { return nil }
func (c *Calendar) Close(ctx context.Context) {}

func (c *Calendar) Scrape(ctx context.Context, _ time.Time) (diff.Snapshot, error) {
	events, err := c.lister.Events(ctx, c.lookaheadDays)
	if err != nil {
		return diff.Snapshot{}, fmt.Errorf("events: %w", err)
	}
	return diff.Snapshot{Collected: diff.CategoryEvents, Events: events}, nil
}

// NoticeLister is the part of the board client used by Board.
type NoticeLister interface {
	Notices(ctx context.Context) ([]item.Notice, error)
}

// Board is the public notice board, it only has notices.
type Board struct {
	name   string
	lister NoticeLister
}

func NewBoard(name string, lister NoticeLister) *Board {
	return &Board{name: name, lister: lister}
}

func (b *Board) Name() string { return b.name }
func (b *Board) Open(ctx context.Context) error { return nil }
func (b *Board) Close(ctx context.Context) {}

func (b *Board) Scrape(ctx context.Context, _ time.Time) (diff.Snapshot, error) {
	notices, err := b.lister.Notices(ctx)
	if err != nil {
		return diff.Snapshot{}, fmt.Errorf("notices: %w", err)
	}
	return diff.Snapshot{Collected: diff.CategoryNotices, Notices: notices}, nil
}
