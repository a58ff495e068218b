// Package orchestrator drives the iterations: open the sources, forward
// pending intake posts, diff and deliver every source, persist the ledger.
// Exactly one iteration runs at a time and it owns the ledger.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"portalbridge/internal/components/assert"
	"portalbridge/internal/components/chrono"
	"portalbridge/internal/components/telemetry"
	"portalbridge/internal/delivery"
	"portalbridge/internal/diff"
	"portalbridge/internal/intake"
	"portalbridge/internal/ledger"
	"portalbridge/internal/source"
	"portalbridge/internal/task"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("internal/orchestrator")

const (
	report_load   = "orchestrator.load"
	report_save   = "orchestrator.save"
	report_open   = "orchestrator.open"
	report_scrape = "orchestrator.scrape"
	report_panic  = "orchestrator.panic"
	report_post   = "orchestrator.post"
)

type State int

const (
	StateIdle State = iota
	StateRunning
	StateSuccess
	StatePartialFailure
	StateFatalFailure
	StateWaiting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateSuccess:
		return "success"
	case StatePartialFailure:
		return "partial failure"
	case StateFatalFailure:
		return "fatal failure"
	case StateWaiting:
		return "waiting"
	default:
		return "unknown"
	}
}

// Drainer delivers a queue of tasks, it is implemented by delivery.Pump.
type Drainer interface {
	Drain(ctx context.Context, q *task.Queue) delivery.Report
}

// posterSource is a source that accepts intake posts.
type posterSource interface {
	Poster() intake.Poster
}

type Options struct {
	Domain     string
	Recipients []string
	// Admin receives alerts, alerts are dropped when empty.
	Admin string
	// Labels maps source names to a subject prefix.
	Labels        map[string]string
	GraceDays     int
	LookaheadDays int
	// DryRun builds the tasks without sending, committing or posting.
	DryRun bool
}

// SourceResult is the outcome of one source in one iteration.
type SourceResult struct {
	Name  string
	State State
	Tasks int
	// Report is the delivery report of the source's tasks.
	Report delivery.Report
	Err    error
}

// Result is the outcome of one iteration.
type Result struct {
	State   State
	Sources []SourceResult
	// intake posts delivered and failed
	Posts        int
	PostFailures int
	// Failures lists every notification that failed during the iteration,
	// they are summarized to the administrator at the start of the next one.
	Failures []string
	// Planned holds the tasks a dry run would have sent.
	Planned []task.Task
	Saved   bool
	Err     error
}

type Orchestrator struct {
	sources []source.Source
	store   ledger.Store
	pump    Drainer
	time    chrono.TimeAPI
	tel     telemetry.API
	opts    Options

	outbox  *intake.Outbox
	replyTo func(threadID string) string

	ledger ledger.Ledger
	loaded bool
	// the in-memory ledger has changes that were not saved yet
	dirty     bool
	followups []task.Task
	// posts waiting for the portal to become available
	pending []intake.Post

	mu    sync.Mutex
	state State
}

func New(sources []source.Source, store ledger.Store, pump Drainer, time chrono.TimeAPI, tel telemetry.API, opts Options) *Orchestrator {
	assert.NotNil(store)
	assert.NotNil(pump)
	assert.NotNil(time)
	assert.NotNil(tel)
	return &Orchestrator{
		sources: sources,
		store:   store,
		pump:    pump,
		time:    time,
		tel:     tel,
		opts:    opts,
	}
}

// SetIntake connects the reverse channel. replyTo builds the reply address
// of a portal thread for the emails of posting sources.
func (o *Orchestrator) SetIntake(outbox *intake.Outbox, replyTo func(threadID string) string) {
	o.outbox = outbox
	o.replyTo = replyTo
}

// Adopt takes over the in-memory state of an orchestrator that is replaced
// after a configuration change.
func (o *Orchestrator) Adopt(prev *Orchestrator) {
	o.ledger = prev.ledger
	o.loaded = prev.loaded
	o.dirty = prev.dirty
	o.followups = prev.followups
	o.pending = prev.pending
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Ledger returns the in-memory ledger, it must not be used while an
// iteration runs.
func (o *Orchestrator) Ledger() *ledger.Ledger {
	return &o.ledger
}

// PortalReplyPending reports whether intake posts wait for delivery, the
// loop skips its wait phase when they do.
func (o *Orchestrator) PortalReplyPending() bool {
	if len(o.pending) > 0 {
		return true
	}
	return o.outbox != nil && o.outbox.Pending()
}

func (o *Orchestrator) alert(subject, text string) []task.Task {
	if o.opts.Admin == "" {
		return nil
	}
	return []task.Task{task.Alert(o.opts.Admin, subject, text)}
}

func (o *Orchestrator) drain(ctx context.Context, tasks []task.Task, res *Result) delivery.Report {
	if o.opts.DryRun {
		res.Planned = append(res.Planned, tasks...)
		return delivery.Report{}
	}
	if len(tasks) == 0 {
		return delivery.Report{}
	}
	q := &task.Queue{}
	q.Push(tasks...)
	report := o.pump.Drain(ctx, q)
	res.Failures = append(res.Failures, report.Failures...)
	if report.Committed > 0 {
		o.dirty = true
	}
	return report
}

func (o *Orchestrator) open(ctx context.Context, src source.Source) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			o.tel.ReportBroken(report_panic, err, "source", src.Name(), "stack", string(debug.Stack()))
		}
	}()
	return src.Open(ctx)
}

// poster returns the first opened posting source. ok is false when a posting
// source exists but could not be opened.
func (o *Orchestrator) poster(opened []bool) (poster intake.Poster, ok bool, exists bool) {
	for i, src := range o.sources {
		ps, isPoster := src.(posterSource)
		if !isPoster {
			continue
		}
		exists = true
		if opened[i] {
			return ps.Poster(), true, true
		}
	}
	return nil, false, exists
}

func (o *Orchestrator) diffOptions(src source.Source, today time.Time) diff.Options {
	opts := diff.Options{
		Source:        src.Name(),
		Label:         o.opts.Labels[src.Name()],
		Domain:        o.opts.Domain,
		Recipients:    o.opts.Recipients,
		Today:         today,
		LookaheadDays: o.opts.LookaheadDays,
	}
	if _, ok := src.(posterSource); ok && o.replyTo != nil {
		opts.ReplyTo = o.replyTo
	}
	return opts
}

// scrape diffs and delivers one source. Tasks built from a partial snapshot
// are still delivered, a scrape error only stops the source's remaining
// categories.
func (o *Orchestrator) scrape(ctx context.Context, src source.Source, today time.Time, res *Result) (sr SourceResult) {
	sr.Name = src.Name()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			o.tel.ReportBroken(report_panic, err, "source", src.Name(), "stack", string(debug.Stack()))
			sr.Err = errors.Join(sr.Err, err)
		}
	}()

	ctx, span := tracer.Start(ctx, "Source")
	defer span.End()
	span.SetAttributes(attribute.String("source", src.Name()))

	sl := o.ledger.Source(src.Name())
	since := diff.Window(o.time.Now(), sl.WatermarkTime(), o.opts.GraceDays)

	snapshot, err := src.Scrape(ctx, since)
	if err != nil {
		o.tel.ReportBroken(report_scrape, err, "source", src.Name())
		span.RecordError(err)
		span.SetStatus(codes.Error, "scrape failed")
		sr.Err = err
	}

	tasks := diff.Build(snapshot, sl, o.diffOptions(src, today))
	sr.Tasks = len(tasks)
	span.SetAttributes(attribute.Int("tasks", len(tasks)))
	sr.Report = o.drain(ctx, tasks, res)
	return sr
}

// RunOnce runs a single iteration. It never returns early because ctx got
// cancelled between steps, callers that must not be interrupted pass a
// context without cancellation.
func (o *Orchestrator) RunOnce(ctx context.Context) Result {
	ctx, span := tracer.Start(ctx, "Iteration")
	defer span.End()

	o.setState(StateRunning)
	started := o.time.Now()
	today := chrono.StartOfDay(started)

	res := o.runOnce(ctx, started, today)

	span.SetAttributes(attribute.String("state", res.State.String()))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.State.String())
	}
	o.setState(res.State)
	o.tel.ReportCount("orchestrator.sources", int64(len(res.Sources)))
	return res
}

func (o *Orchestrator) runOnce(ctx context.Context, started, today time.Time) Result {
	var res Result

	if !o.loaded {
		l, err := o.store.Load(ctx)
		if err != nil {
			o.tel.ReportBroken(report_load, err)
			res.State = StateFatalFailure
			res.Err = fmt.Errorf("load ledger: %w", err)
			return res
		}
		o.ledger = l
		o.loaded = true
	}

	var errs []error
	var alerts []task.Task

	// sessions
	opened := make([]bool, len(o.sources))
	res.Sources = make([]SourceResult, len(o.sources))
	for i, src := range o.sources {
		res.Sources[i].Name = src.Name()
		err := o.open(ctx, src)
		if err != nil {
			o.tel.ReportBroken(report_open, err, "source", src.Name())
			res.Sources[i].State = StateFatalFailure
			res.Sources[i].Err = fmt.Errorf("open: %w", err)
			alerts = append(alerts, o.alert(
				fmt.Sprintf("portalbridge: could not open %s", src.Name()),
				fmt.Sprintf("Opening a session with %s failed, it will be retried:\n\n%s", src.Name(), err.Error()),
			)...)
			continue
		}
		opened[i] = true
	}
	defer func() {
		for i, src := range o.sources {
			if opened[i] {
				src.Close(ctx)
			}
		}
	}()

	// carried follow-ups and intake alerts
	carried := o.followups
	o.followups = nil
	posts := o.pending
	o.pending = nil
	if o.outbox != nil {
		taken, intakeAlerts := o.outbox.Take()
		posts = append(posts, taken...)
		carried = append(carried, intakeAlerts...)
	}
	o.drain(ctx, carried, &res)

	// intake posts
	poster, posterOK, posterExists := o.poster(opened)
	for _, p := range posts {
		switch {
		case o.opts.DryRun:
			p.Release()
		case !posterExists:
			o.tel.ReportBroken(report_post, errors.New("no source accepts posts"), "ref", p.Source())
			p.Release()
		case !posterOK:
			o.pending = append(o.pending, p)
		default:
			err := intake.Deliver(ctx, poster, p)
			if err != nil {
				res.PostFailures++
				o.tel.ReportBroken(report_post, err, "ref", p.Source())
				alerts = append(alerts, o.alert(
					"portalbridge: message could not be posted",
					fmt.Sprintf("A message from %s could not be posted into the portal:\n\n%s", p.From, err.Error()),
				)...)
				continue
			}
			res.Posts++
		}
	}
	if res.PostFailures > 0 {
		errs = append(errs, fmt.Errorf("%d post(s) failed", res.PostFailures))
	}

	// sources
	for i, src := range o.sources {
		if !opened[i] {
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), res.Sources[i].Err))
			continue
		}
		sr := o.scrape(ctx, src, today, &res)

		switch {
		case sr.Err != nil:
			sr.State = StatePartialFailure
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), sr.Err))
			alerts = append(alerts, o.alert(
				fmt.Sprintf("portalbridge: scraping %s failed", src.Name()),
				fmt.Sprintf("The iteration could not finish %s, the remaining content will be retried:\n\n%s", src.Name(), sr.Err.Error()),
			)...)
		case !sr.Report.OK():
			sr.State = StatePartialFailure
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), sr.Report.Err))
		default:
			sr.State = StateSuccess
			if !o.opts.DryRun {
				o.ledger.Source(src.Name()).Watermark = started.UnixMilli()
				o.dirty = true
			}
		}
		res.Sources[i] = sr
	}

	o.drain(ctx, alerts, &res)
	if summary, ok := delivery.Summary(o.opts.Admin, res.Failures); ok {
		o.followups = append(o.followups, summary)
	}

	// persist
	if !o.opts.DryRun {
		if o.ledger.PruneEvents(today) > 0 {
			o.dirty = true
		}
		if o.dirty {
			err := o.store.Save(ctx, o.ledger)
			if err != nil {
				o.tel.ReportBroken(report_save, err)
				errs = append(errs, fmt.Errorf("save ledger: %w", err))
			} else {
				o.dirty = false
				res.Saved = true
			}
		}
	}

	res.Err = errors.Join(errs...)
	res.State = StateSuccess
	if res.Err != nil {
		res.State = StatePartialFailure
	}
	if len(o.sources) > 0 {
		fatal := true
		for _, sr := range res.Sources {
			if sr.State != StateFatalFailure {
				fatal = false
			}
		}
		if fatal {
			res.State = StateFatalFailure
		}
	}
	return res
}
