package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	report_resty         = "resty.request"
	report_resty_metrics = "resty.metrics"
)

type restyHooks struct {
	tel      API
	tracer   trace.Tracer
	latency  metric.Float64Histogram
	requests *atomic.Uint64
}

// InstrumentResty traces every request of client and records its latency.
// Transport errors are reported broken, HTTP error statuses are left to the
// caller.
func InstrumentResty(client *resty.Client, tel API) {
	latency, err := otel.Meter("portalbridge.http").Float64Histogram(
		"portalbridge.http.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Latency of outgoing scraper requests."),
	)
	if err != nil {
		tel.ReportWarning(report_resty_metrics, err)
	}

	h := restyHooks{
		tel:      tel,
		tracer:   otel.Tracer("portalbridge.http"),
		latency:  latency,
		requests: &atomic.Uint64{},
	}
	client.OnBeforeRequest(h.before)
	client.OnAfterResponse(h.after)
	client.OnError(h.failed)
}

type inflightKey struct{}

type inflight struct {
	id uint64
	// monotonic, the fake clock is not involved
	start time.Time
	span  trace.Span
}

func lookup(ctx context.Context) (*inflight, bool) {
	f, ok := ctx.Value(inflightKey{}).(*inflight)
	return f, ok
}

func (h restyHooks) before(_ *resty.Client, req *resty.Request) error {
	ctx, span := h.tracer.Start(
		req.Context(),
		"HTTP "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", req.URL),
		),
	)
	f := &inflight{
		id:    h.requests.Add(1),
		start: time.Now(),
		span:  span,
	}
	req.SetContext(context.WithValue(ctx, inflightKey{}, f))
	h.tel.ReportDebug("http request", "id", f.id, "method", req.Method, "url", req.URL)
	return nil
}

func (h restyHooks) after(_ *resty.Client, res *resty.Response) error {
	f, ok := lookup(res.Request.Context())
	if !ok {
		return nil
	}
	elapsed := time.Since(f.start)

	f.span.SetAttributes(attribute.Int("http.response.status_code", res.StatusCode()))
	if res.IsError() {
		f.span.SetStatus(codes.Error, res.Status())
	}
	f.span.End()

	if h.latency != nil {
		h.latency.Record(res.Request.Context(), elapsed.Seconds(), metric.WithAttributes(
			attribute.String("http.request.method", res.Request.Method),
			attribute.Int("http.response.status_code", res.StatusCode()),
		))
	}
	h.tel.ReportDebug("http response", "id", f.id, "status", res.Status(), "elapsed", elapsed.String())
	return nil
}

func (h restyHooks) failed(req *resty.Request, err error) {
	var elapsed time.Duration
	if f, ok := lookup(req.Context()); ok {
		elapsed = time.Since(f.start)
		f.span.RecordError(err)
		f.span.SetStatus(codes.Error, "transport error")
		f.span.End()
	}
	h.tel.ReportBroken(report_resty, err, "method", req.Method, "url", req.URL, "elapsed", elapsed.String())
}
