package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"portalbridge/internal/components/chrono"
	"portalbridge/internal/components/telemetry"
	"portalbridge/internal/delivery"
	"portalbridge/internal/diff"
	"portalbridge/internal/item"
	"portalbridge/internal/ledger"
	"portalbridge/internal/mail"
	"portalbridge/internal/source"

	"github.com/stretchr/testify/require"
)

// faults holds the failure rates of every injection point.
type faults struct {
	open   float64
	scrape float64
	panic  float64
	send   float64
	save   float64
}

var noFaults = faults{}

type faultyWorld struct {
	rndm   *rand.Rand
	faults faults
	clock  *chrono.FakeTime

	items     []item.Announcement
	delivered map[string]int
	steps     []string
}

func (w *faultyWorld) hit(rate float64) bool {
	return w.rndm.Float64() < rate
}

func (w *faultyWorld) step(format string, args ...any) {
	w.steps = append(w.steps, fmt.Sprintf(format, args...))
}

func (w *faultyWorld) publish() {
	id := fmt.Sprint(len(w.items) + 1)
	w.items = append(w.items, item.Announcement{
		ID:     id,
		Title:  "Announcement " + id,
		Author: "Ms. Keller",
		Date:   w.clock.Now(),
		Body:   "Body of " + id,
	})
	w.step("publish(%s)", id)
}

type faultySource struct{ w *faultyWorld }

func (s faultySource) Name() string { return "portal" }

func (s faultySource) Open(ctx context.Context) error {
	if s.w.hit(s.w.faults.open) {
		s.w.step("open fails")
		return errors.New("login page changed")
	}
	return nil
}

func (s faultySource) Close(ctx context.Context) {}

func (s faultySource) Scrape(ctx context.Context, since time.Time) (diff.Snapshot, error) {
	if s.w.hit(s.w.faults.panic) {
		s.w.step("scrape panics")
		panic("nil selection")
	}
	if s.w.hit(s.w.faults.scrape) {
		s.w.step("scrape fails")
		return diff.Snapshot{}, errors.New("unexpected page")
	}

	snapshot := diff.Snapshot{Collected: diff.CategoryAll}
	// newest first, filtered by the window like the portal scraper does
	for i := len(s.w.items) - 1; i >= 0; i-- {
		a := s.w.items[i]
		if a.Date.Before(since) {
			continue
		}
		snapshot.Announcements = append(snapshot.Announcements, a)
	}
	return snapshot, nil
}

type faultySender struct{ w *faultyWorld }

func (s faultySender) Send(ctx context.Context, m mail.Message) error {
	if m.To[0] != parent {
		return nil
	}
	if s.w.hit(s.w.faults.send) {
		s.w.step("send fails")
		return errors.New("451 try again later")
	}
	s.w.delivered[m.MessageID]++
	return nil
}

type faultyStore struct {
	failingStore
	w *faultyWorld
}

func (s *faultyStore) Save(ctx context.Context, l ledger.Ledger) error {
	if s.w.hit(s.w.faults.save) {
		s.w.step("save fails")
		return errors.New("disk full")
	}
	return s.failingStore.Save(ctx, l)
}

// TestFaultInjection runs many iterations against dependencies failing at
// random. Every announcement has to be delivered exactly once after the
// faults stopped.
func TestFaultInjection(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			w := &faultyWorld{
				rndm: rand.New(rand.NewSource(seed)),
				faults: faults{
					open:   0.1,
					scrape: 0.15,
					panic:  0.05,
					send:   0.2,
					save:   0.1,
				},
				clock:     chrono.NewFakeTime(now),
				delivered: map[string]int{},
			}
			store := &faultyStore{w: w}
			tel := telemetry.NewRecorderAPI()
			pump := delivery.NewPump(faultySender{w: w}, tel, delivery.Options{})
			o := New([]source.Source{faultySource{w: w}}, store, pump, w.clock, tel, Options{
				Domain:     "example.org",
				Recipients: []string{parent},
				Admin:      admin,
				GraceDays:  1,
			})

			ctx := context.Background()
			iterations := 50 + w.rndm.Intn(100)
			for i := 0; i < iterations; i++ {
				for n := w.rndm.Intn(3); n > 0; n-- {
					w.publish()
				}
				o.RunOnce(ctx)
				w.clock.Advance(time.Duration(1+w.rndm.Intn(180)) * time.Minute)
			}

			w.faults = noFaults
			res := o.RunOnce(ctx)
			require.Equal(t, StateSuccess, res.State, "steps: %s", strings.Join(w.steps, ", "))

			require.Len(t, w.delivered, len(w.items), "steps: %s", strings.Join(w.steps, ", "))
			for id, n := range w.delivered {
				require.Equal(t, 1, n, "%s delivered %d times, steps: %s", id, n, strings.Join(w.steps, ", "))
			}
			require.True(t, res.Saved)
		})
	}
}
