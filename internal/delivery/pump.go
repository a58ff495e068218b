package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"portalbridge/internal/components/assert"
	"portalbridge/internal/components/telemetry"
	"portalbridge/internal/mail"
	"portalbridge/internal/render"
	"portalbridge/internal/task"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("internal/delivery")
var meter = otel.Meter("internal/delivery")

const (
	report_send      = "pump.send"
	report_commit    = "pump.commit"
	report_malformed = "pump.malformed"
	report_admin     = "pump.admin"
	report_metrics   = "pump.metrics"
)

// Report is the outcome of one Drain.
type Report struct {
	Sent    int
	Failed  int
	Skipped int
	// commits that failed after a successful send
	CommitFailed int
	// failures of admin tasks, these are only logged
	AdminFailed int
	// Committed counts sent tasks whose commit ran, successful or not.
	Committed int
	// Err joins the errors of every failed non-admin task.
	Err error
	// Failures describes every failed non-admin task, one line each.
	Failures []string
}

func (r Report) OK() bool {
	return r.Failed == 0 && r.Skipped == 0 && r.CommitFailed == 0
}

type Options struct {
	// Delay is the minimum time between two consecutive sends.
	Delay time.Duration
}

// Pump sends tasks in order and commits each one after its send succeeded.
type Pump struct {
	sender  mail.Sender
	tel     telemetry.API
	limiter *rate.Limiter

	sent    metric.Int64Counter
	failed  metric.Int64Counter
	skipped metric.Int64Counter
}

func counter(tel telemetry.API, name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		tel.ReportBroken(report_metrics, err, "counter", name)
		return noop.Int64Counter{}
	}
	return c
}

func NewPump(sender mail.Sender, tel telemetry.API, opts Options) *Pump {
	assert.NotNil(sender)
	assert.NotNil(tel)

	limit := rate.Inf
	if opts.Delay > 0 {
		limit = rate.Every(opts.Delay)
	}
	return &Pump{
		sender:  sender,
		tel:     tel,
		limiter: rate.NewLimiter(limit, 1),
		sent:    counter(tel, "portalbridge.delivery.sent", "Notifications delivered."),
		failed:  counter(tel, "portalbridge.delivery.failed", "Notifications that failed to deliver."),
		skipped: counter(tel, "portalbridge.delivery.skipped", "Notifications held back by an earlier failure of their group."),
	}
}

func describe(t task.Task) string {
	if t.Key == "" {
		return string(t.Kind)
	}
	return fmt.Sprintf("%s %s", t.Kind, t.Key)
}

// Drain attempts every task of the queue exactly once, in order. A failed
// task is not committed and holds back the later tasks of its group, it will
// be regenerated by the next diff. Failures lists the failed non-admin tasks
// for the administrator's summary.
func (p *Pump) Drain(ctx context.Context, q *task.Queue) Report {
	ctx, span := tracer.Start(ctx, "Drain")
	defer span.End()

	var report Report
	var errs []error
	failedGroups := map[string]bool{}

	fail := func(t task.Task, err error) {
		if t.Group != "" {
			failedGroups[t.Group] = true
		}
		if t.Admin {
			report.AdminFailed++
			p.tel.ReportWarning(report_admin, err, "task", describe(t))
			return
		}
		report.Failed++
		p.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(t.Kind))))
		errs = append(errs, fmt.Errorf("%s: %w", describe(t), err))
		report.Failures = append(report.Failures, fmt.Sprintf("%s: %s", describe(t), err.Error()))
	}

	for _, t := range q.Tasks() {
		if t.Group != "" && failedGroups[t.Group] {
			report.Skipped++
			p.skipped.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(t.Kind))))
			p.tel.ReportDebug("skipping task after an earlier failure in its group", "task", describe(t), "group", t.Group)
			continue
		}

		err := t.Message.Validate()
		if err != nil {
			p.tel.ReportBroken(report_malformed, err, "task", describe(t))
			fail(t, err)
			continue
		}

		err = p.limiter.Wait(ctx)
		if err != nil {
			fail(t, err)
			continue
		}

		err = p.sender.Send(ctx, t.Message)
		if err != nil {
			if !t.Admin {
				p.tel.ReportBroken(report_send, err, "task", describe(t))
			}
			fail(t, err)
			continue
		}
		report.Sent++
		p.sent.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(t.Kind))))
		p.tel.ReportDebug("delivered", "task", describe(t))

		if t.Commit == nil {
			continue
		}
		report.Committed++
		err = t.Run(ctx)
		if err != nil {
			// the message is out, a failed commit only means it may be sent again
			report.CommitFailed++
			p.tel.ReportBroken(report_commit, err, "task", describe(t))
		}
	}

	report.Err = errors.Join(errs...)
	if report.Err != nil {
		span.RecordError(report.Err)
		span.SetStatus(codes.Error, "some notifications failed")
	}
	return report
}

// Summary builds the administrator's digest of failed tasks, ok is false
// when there is nothing to report or nobody to report it to.
func Summary(admin string, failures []string) (summary task.Task, ok bool) {
	if admin == "" || len(failures) == 0 {
		return task.Task{}, false
	}
	body := render.Summary(failures)
	summary = task.Alert(admin, body.Subject, body.Text)
	summary.Kind = task.KindSummary
	return summary, true
}
