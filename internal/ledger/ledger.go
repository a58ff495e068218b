package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"dario.cat/mergo"
)

// Version is the current schema version of the ledger document.
const Version = 2

// LegacySource is the source name version 1 documents are migrated into,
// version 1 only knew the primary portal.
const LegacySource = "portal"

// Set is an append-only seen-set, keys map to the sentinel value 1.
type Set map[string]int

func (s Set) Has(key string) bool {
	_, ok := s[key]
	return ok
}

func (s Set) Add(key string) {
	s[key] = 1
}

// Frontier records which message positions of each thread were sent.
// Positions are stored as explicit flags so that gaps left by a partial
// failure can be filled in later.
type Frontier map[string]map[int]bool

func (f Frontier) Has(thread string, index int) bool {
	return f[thread][index]
}

func (f Frontier) Mark(thread string, index int) {
	marks := f[thread]
	if marks == nil {
		marks = map[int]bool{}
		f[thread] = marks
	}
	marks[index] = true
}

// fill replaces threads stored as null with empty marks.
func (f Frontier) fill() {
	for thread, marks := range f {
		if marks == nil {
			f[thread] = map[int]bool{}
		}
	}
}

// Next returns the lowest position of the thread that is not marked yet.
func (f Frontier) Next(thread string) int {
	i := 0
	for f[thread][i] {
		i++
	}
	return i
}

// Events maps an event key to the epoch millis of the event date, the value
// is the instant the event was last confirmed upcoming.
type Events map[string]int64

// SourceLedger is the seen state of a single portal source.
type SourceLedger struct {
	// epoch millis of the last iteration in which this source fully succeeded
	Watermark     int64    `json:"watermark"`
	Announcements Set      `json:"announcements"`
	Inquiries     Frontier `json:"inquiries"`
	Threads       Frontier `json:"threads"`
	Substitutions Set      `json:"substitutions"`
	Notices       Set      `json:"notices"`
	Events        Events   `json:"events"`
}

func newSourceLedger() SourceLedger {
	return SourceLedger{
		Announcements: Set{},
		Inquiries:     Frontier{},
		Threads:       Frontier{},
		Substitutions: Set{},
		Notices:       Set{},
		Events:        Events{},
	}
}

func (s SourceLedger) empty() bool {
	return s.Watermark == 0 &&
		len(s.Announcements) == 0 &&
		len(s.Inquiries) == 0 &&
		len(s.Threads) == 0 &&
		len(s.Substitutions) == 0 &&
		len(s.Notices) == 0 &&
		len(s.Events) == 0
}

// WatermarkTime returns the watermark as a time, zero when unset.
func (s *SourceLedger) WatermarkTime() time.Time {
	if s.Watermark == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.Watermark)
}

// PruneEvents deletes every event dated before startOfToday and returns the
// number of deleted entries.
func (s *SourceLedger) PruneEvents(startOfToday time.Time) int {
	limit := startOfToday.UnixMilli()
	pruned := 0
	for key, ts := range s.Events {
		if ts < limit {
			delete(s.Events, key)
			pruned++
		}
	}
	return pruned
}

type Ledger struct {
	Version int                      `json:"version"`
	Sources map[string]*SourceLedger `json:"sources"`
}

// Source returns the ledger slice of the named source, creating it when it
// does not exist yet.
func (l *Ledger) Source(name string) *SourceLedger {
	if l.Sources == nil {
		l.Sources = map[string]*SourceLedger{}
	}
	src, ok := l.Sources[name]
	if !ok {
		fresh := newSourceLedger()
		src = &fresh
		l.Sources[name] = src
	}
	return src
}

// SourceNames returns the names of all sources in a stable order.
func (l Ledger) SourceNames() []string {
	names := make([]string, 0, len(l.Sources))
	for name := range l.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PruneEvents prunes expired events of every source.
func (l Ledger) PruneEvents(startOfToday time.Time) int {
	pruned := 0
	for _, src := range l.Sources {
		pruned += src.PruneEvents(startOfToday)
	}
	return pruned
}

// document is the on-disk shape, version 1 fields live at the top level.
type document struct {
	Version int                      `json:"version"`
	Sources map[string]*SourceLedger `json:"sources"`
	SourceLedger
}

// WithDefaults fills every missing part of a ledger so that callers never
// have to nil-check, it is applied once at load time.
func WithDefaults(l Ledger) (Ledger, error) {
	out := Ledger{
		Version: Version,
		Sources: make(map[string]*SourceLedger, len(l.Sources)),
	}
	for name, src := range l.Sources {
		merged := newSourceLedger()
		if src != nil {
			merged = *src
			err := mergo.Merge(&merged, newSourceLedger())
			if err != nil {
				return Ledger{}, fmt.Errorf("default source %s: %w", name, err)
			}
		}
		merged.Inquiries.fill()
		merged.Threads.fill()
		out.Sources[name] = &merged
	}
	return out, nil
}

// Decode parses a ledger document of any known version, an empty input is an
// empty ledger.
func Decode(data []byte) (Ledger, error) {
	if len(data) == 0 {
		return WithDefaults(Ledger{})
	}

	var doc document
	err := json.Unmarshal(data, &doc)
	if err != nil {
		return Ledger{}, fmt.Errorf("decode ledger: %w", err)
	}
	if doc.Version > Version {
		return Ledger{}, fmt.Errorf("ledger version %d is newer than supported version %d", doc.Version, Version)
	}

	l := Ledger{Version: doc.Version, Sources: doc.Sources}
	if doc.Version < 2 && !doc.SourceLedger.empty() {
		if l.Sources == nil {
			l.Sources = map[string]*SourceLedger{}
		}
		legacy := doc.SourceLedger
		l.Sources[LegacySource] = &legacy
	}
	return WithDefaults(l)
}

func Encode(l Ledger) ([]byte, error) {
	l.Version = Version
	return json.MarshalIndent(l, "", "  ")
}
