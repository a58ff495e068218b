package diff

import (
	"context"
	"sort"
	"strings"
	"time"

	"portalbridge/internal/item"
	"portalbridge/internal/ledger"
	"portalbridge/internal/render"
	"portalbridge/internal/task"
)

// Upcoming returns the events dated within [today, today+lookaheadDays],
// the last day included. Events sharing an id are reported once.
func Upcoming(items []item.Event, today time.Time, lookaheadDays int) []item.Event {
	end := today.AddDate(0, 0, lookaheadDays+1)
	var out []item.Event
	seen := map[string]bool{}
	for _, e := range items {
		if e.Date.Before(today) || !e.Date.Before(end) {
			continue
		}
		id := e.ID()
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, e)
	}
	return out
}

// Events compares the upcoming events with the ledger. Ledger entries dated
// before today are expired and ignored. Every upcoming event is new or
// unchanged, every other unexpired ledger entry is removed, which covers a
// cancellation as well as an event that left the lookahead window. A single
// task listing all of them is emitted when anything is new or removed, its
// commit records the new events and deletes the removed and expired ones.
func Events(items []item.Event, seen ledger.Events, opts Options) []task.Task {
	todayMillis := opts.Today.UnixMilli()
	var expired []string
	for key, ts := range seen {
		if ts < todayMillis {
			expired = append(expired, key)
		}
	}

	upcoming := Upcoming(items, opts.Today, opts.LookaheadDays)
	present := map[string]bool{}

	var entries []render.EventEntry
	added := map[string]int64{}
	for _, e := range upcoming {
		id := e.ID()
		present[id] = true
		ts, ok := seen[id]
		if ok && ts >= todayMillis {
			entries = append(entries, render.EventEntry{Event: e, Status: render.StatusUnchanged})
			continue
		}
		added[id] = e.Date.UnixMilli()
		entries = append(entries, render.EventEntry{Event: e, Status: render.StatusNew})
	}

	var removed []string
	for key, ts := range seen {
		if ts < todayMillis || present[key] {
			continue
		}
		removed = append(removed, key)
		entries = append(entries, render.EventEntry{
			Event:  item.Event{Key: key, Title: key, Date: time.UnixMilli(ts).In(opts.Today.Location())},
			Status: render.StatusRemoved,
		})
	}

	if len(added) == 0 && len(removed) == 0 {
		return nil
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].Event, entries[j].Event
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.ID() < b.ID()
	})
	sort.Strings(removed)

	keys := make([]string, 0, len(added)+len(removed))
	for id := range added {
		keys = append(keys, "+"+id)
	}
	sort.Strings(keys)
	for _, id := range removed {
		keys = append(keys, "-"+id)
	}

	return []task.Task{{
		Kind:    task.KindEvent,
		Key:     strings.Join(keys, ","),
		Message: opts.message(render.Events(entries)),
		Commit: func(ctx context.Context) error {
			for _, id := range expired {
				delete(seen, id)
			}
			for _, id := range removed {
				delete(seen, id)
			}
			for id, ts := range added {
				seen[id] = ts
			}
			return nil
		},
	}}
}
