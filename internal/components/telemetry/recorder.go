package telemetry

import (
	"strings"
	"sync"
)

// Report is a single call captured by RecorderAPI.
type Report struct {
	Kind   string
	ID     string
	Params []any
}

// RecorderAPI captures every report, it is meant for assertions in tests.
type RecorderAPI struct {
	mu      sync.Mutex
	reports []Report
}

func NewRecorderAPI() *RecorderAPI {
	return &RecorderAPI{}
}

func (r *RecorderAPI) record(kind, id string, params []any) {
	r.mu.Lock()
	r.reports = append(r.reports, Report{Kind: kind, ID: id, Params: params})
	r.mu.Unlock()
}

func (r *RecorderAPI) ReportBroken(id string, params ...any) {
	r.record("broken", id, params)
}

func (r *RecorderAPI) ReportWarning(id string, params ...any) {
	r.record("warning", id, params)
}

func (r *RecorderAPI) ReportDebug(msg string, params ...any) {
	r.record("debug", msg, params)
}

func (r *RecorderAPI) ReportCount(id string, count int64) {
	r.record("count", id, []any{count})
}

// Broken returns the ids of every ReportBroken call containing substr.
func (r *RecorderAPI) Broken(substr string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, rep := range r.reports {
		if rep.Kind == "broken" && strings.Contains(rep.ID, substr) {
			out = append(out, rep.ID)
		}
	}
	return out
}
