package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"portalbridge/internal/diff"
	"portalbridge/internal/intake"
	"portalbridge/internal/item"
	"portalbridge/internal/scrapers/board"
	"portalbridge/internal/scrapers/calendar"
	"portalbridge/internal/scrapers/portal"

	"github.com/stretchr/testify/require"
)

var (
	_ PortalScraper = (*portal.Client)(nil)
	_ EventLister   = calendar.Client{}
	_ NoticeLister  = board.Client{}
)

type fakePortal struct {
	intake.Poster
	failAt string
}

func (f fakePortal) fail(name string) error {
	if f.failAt == name {
		return errors.New("unexpected page")
	}
	return nil
}

func (f fakePortal) Login(context.Context) error { return f.fail("login") }
func (f fakePortal) Logout(context.Context) {}

func (f fakePortal) Announcements(context.Context, time.Time) ([]item.Announcement, error) {
	return []item.Announcement{{ID: "1"}}, f.fail("announcements")
}

func (f fakePortal) Inquiries(context.Context, time.Time) ([]item.Thread, error) {
	return nil, f.fail("inquiries")
}

func (f fakePortal) Threads(context.Context, time.Time) ([]item.Thread, error) {
	return []item.Thread{{ID: "42"}}, f.fail("threads")
}

func (f fakePortal) Substitutions(context.Context) ([]item.Day, error) {
	return nil, f.fail("substitutions")
}

func (f fakePortal) Notices(context.Context) ([]item.Notice, error) {
	return nil, f.fail("notices")
}

func (f fakePortal) Events(context.Context) ([]item.Event, error) {
	return nil, f.fail("events")
}

func TestPortalScrapeCollectsEverything(t *testing.T) {
	s, err := NewPortal("portal", fakePortal{}).Scrape(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Equal(t, diff.CategoryAll, s.Collected)
	require.Len(t, s.Announcements, 1)
	require.Len(t, s.Threads, 1)
}

func TestPortalScrapeStopsAtFailure(t *testing.T) {
	s, err := NewPortal("portal", fakePortal{failAt: "threads"}).Scrape(context.Background(), time.Time{})
	require.ErrorContains(t, err, "threads")
	require.Equal(t, diff.CategoryAnnouncements|diff.CategoryInquiries, s.Collected)
	require.True(t, s.Collected.Has(diff.CategoryAnnouncements))
	require.False(t, s.Collected.Has(diff.CategoryThreads))
}

type listers struct {
	err error
}

func (l listers) Events(context.Context, int) ([]item.Event, error) {
	return []item.Event{{Title: "Concert"}}, l.err
}

func (l listers) Notices(context.Context) ([]item.Notice, error) {
	return []item.Notice{{Title: "Lost"}}, l.err
}

func TestAuxiliarySources(t *testing.T) {
	ctx := context.Background()

	s, err := NewCalendar("calendar", listers{}, 14).Scrape(ctx, time.Time{})
	require.NoError(t, err)
	require.Equal(t, diff.CategoryEvents, s.Collected)
	require.Len(t, s.Events, 1)

	s, err = NewBoard("board", listers{}).Scrape(ctx, time.Time{})
	require.NoError(t, err)
	require.Equal(t, diff.CategoryNotices, s.Collected)

	s, err = NewBoard("board", listers{err: errors.New("down")}).Scrape(ctx, time.Time{})
	require.Error(t, err)
	require.Zero(t, s.Collected)
}
