package intake

import (
	"context"
	"errors"
	"time"

	"portalbridge/internal/components/assert"
	"portalbridge/internal/components/telemetry"

	"github.com/cenkalti/backoff/v4"
)

var errWatchEnded = errors.New("watch ended")

const (
	report_poll  = "loop.poll"
	report_watch = "loop.watch"
)

// Loop polls the processor on start, on every server push and on Trigger,
// and pushes the results into the outbox.
type Loop struct {
	processor *Processor
	watcher   Watcher
	outbox    *Outbox
	tel       telemetry.API
	trigger   chan struct{}
}

// NewLoop creates a loop, watcher may be nil when the mailbox cannot push.
func NewLoop(processor *Processor, watcher Watcher, outbox *Outbox, tel telemetry.API) *Loop {
	assert.NotNil(processor)
	assert.NotNil(outbox)
	assert.NotNil(tel)
	return &Loop{
		processor: processor,
		watcher:   watcher,
		outbox:    outbox,
		tel:       tel,
		trigger:   make(chan struct{}, 1),
	}
}

// Trigger requests a poll, it never blocks.
func (l *Loop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

func (l *Loop) poll(ctx context.Context) {
	res, err := l.processor.Poll(ctx)
	if err != nil {
		l.tel.ReportBroken(report_poll, err)
	}
	if len(res.Posts) > 0 || len(res.Alerts) > 0 || res.Ignored > 0 {
		l.tel.ReportDebug("intake poll", "posts", len(res.Posts), "alerts", len(res.Alerts), "ignored", res.Ignored)
	}
	l.outbox.Push(res.Posts...)
	l.outbox.PushAlerts(res.Alerts...)
}

func (l *Loop) watch(ctx context.Context, pushed chan<- struct{}) {
	notify := func() {
		select {
		case pushed <- struct{}{}:
		default:
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Second
	policy.MaxInterval = 5 * time.Minute
	policy.MaxElapsedTime = 0

	_ = backoff.RetryNotify(
		func() error {
			err := l.watcher.Watch(ctx, notify)
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			// mail may have arrived while the watch was down
			notify()
			if err == nil {
				err = errWatchEnded
			}
			return err
		},
		backoff.WithContext(policy, ctx),
		func(err error, next time.Duration) {
			if err != nil {
				l.tel.ReportWarning(report_watch, err, "retry_in", next.String())
			}
		},
	)
}

// Run blocks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	pushed := make(chan struct{}, 1)
	if l.watcher != nil {
		go l.watch(ctx, pushed)
	}

	l.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pushed:
			l.poll(ctx)
		case <-l.trigger:
			l.poll(ctx)
		}
	}
}
