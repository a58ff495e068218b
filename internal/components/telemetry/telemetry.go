package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// API is what components report through instead of logging directly, tests
// swap in a RecorderAPI to assert on reports.
//
// Ids name the broken component and are kept coarse: a failed request inside
// the portal scraper's Announcements is `client.announcements`, details go
// into params or a wrapped error. Ids are lowercase, underscores separate
// words of a component, dashes separate words of a method. ScopedAPI adds the
// package level prefix so ids do not need one.
//
// note: fault injection point
type API interface {
	// ReportBroken reports a component that broke and needs attention.
	ReportBroken(id string, params ...any)
	// ReportWarning reports something unusual that is not broken yet.
	ReportWarning(id string, params ...any)
	// ReportDebug is dropped in production.
	ReportDebug(msg string, params ...any)
	// ReportCount reports a gauge value, successive values are not summed.
	ReportCount(id string, count int64)
}

// ScopedAPI prefixes every id with a namespace.
type ScopedAPI struct {
	namespace string
	inner     API
}

func NewScopedAPI(namespace string, inner API) ScopedAPI {
	return ScopedAPI{namespace: namespace, inner: inner}
}

func (s ScopedAPI) id(id string) string {
	return fmt.Sprintf("%s: %s", s.namespace, id)
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(s.id(id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(s.id(id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(s.id(msg), params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(s.id(id), count)
}

// MeteredAPI forwards to inner and mirrors the reports into otel metrics:
// broken and warning reports are counted by id, counts become gauges.
type MeteredAPI struct {
	inner    API
	broken   metric.Int64Counter
	warnings metric.Int64Counter
	counts   metric.Int64Gauge
}

func NewMeteredAPI(inner API) *MeteredAPI {
	meter := otel.Meter("portalbridge.telemetry")
	broken, _ := meter.Int64Counter("portalbridge.reports.broken")
	warnings, _ := meter.Int64Counter("portalbridge.reports.warning")
	counts, _ := meter.Int64Gauge("portalbridge.count")
	return &MeteredAPI{
		inner:    inner,
		broken:   broken,
		warnings: warnings,
		counts:   counts,
	}
}

func (m *MeteredAPI) ReportBroken(id string, params ...any) {
	m.broken.Add(context.Background(), 1, metric.WithAttributes(attribute.String("id", id)))
	m.inner.ReportBroken(id, params...)
}

func (m *MeteredAPI) ReportWarning(id string, params ...any) {
	m.warnings.Add(context.Background(), 1, metric.WithAttributes(attribute.String("id", id)))
	m.inner.ReportWarning(id, params...)
}

func (m *MeteredAPI) ReportDebug(msg string, params ...any) {
	m.inner.ReportDebug(msg, params...)
}

func (m *MeteredAPI) ReportCount(id string, count int64) {
	m.counts.Record(context.Background(), count, metric.WithAttributes(attribute.String("id", id)))
	m.inner.ReportCount(id, count)
}
