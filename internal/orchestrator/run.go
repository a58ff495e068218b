package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrConfigChanged is returned by Run when the configuration file changed,
// the caller is expected to rebuild the orchestrator and call Run again.
var ErrConfigChanged = errors.New("configuration changed")

type Schedule struct {
	Interval time.Duration
	// BackoffMax bounds the wait after failed iterations.
	BackoffMax time.Duration
	// Healthy is how long iterations have to succeed before the backoff is
	// reset.
	Healthy time.Duration
}

// pacer decides how long the loop waits after an iteration.
type pacer struct {
	schedule     Schedule
	backoff      *backoff.ExponentialBackOff
	failing      bool
	healthySince time.Time
}

func newPacer(s Schedule) *pacer {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.Interval
	b.MaxInterval = max(s.BackoffMax, s.Interval)
	b.MaxElapsedTime = 0
	b.Reset()
	return &pacer{schedule: s, backoff: b}
}

func (p *pacer) next(state State, now time.Time) time.Duration {
	if state != StateSuccess {
		p.failing = true
		p.healthySince = time.Time{}
		return p.backoff.NextBackOff()
	}

	if p.failing {
		if p.healthySince.IsZero() {
			p.healthySince = now
		}
		if now.Sub(p.healthySince) >= p.schedule.Healthy {
			p.backoff.Reset()
			p.failing = false
			p.healthySince = time.Time{}
		}
	}
	return p.schedule.Interval
}

// Run loops iterations until ctx is done or the configuration changed. An
// iteration that started is never interrupted, cancellation is only observed
// while waiting.
func (o *Orchestrator) Run(ctx context.Context, waker *Waker, schedule Schedule) error {
	p := newPacer(schedule)
	n := NewNotifier(o.tel)

	for {
		if ctx.Err() != nil {
			return nil
		}

		res := o.RunOnce(context.WithoutCancel(ctx))
		wait := p.next(res.State, o.time.Now())
		n.Status(fmt.Sprintf("%s, next iteration in %s", res.State, wait.Round(time.Second)))
		o.tel.ReportDebug(
			"iteration done",
			"state", res.State.String(),
			"posts", res.Posts,
			"saved", res.Saved,
			"wait", wait.String(),
		)

		// posts that arrived during the iteration are handled right away
		waker.DrainIntake()
		if res.State == StateSuccess && o.PortalReplyPending() {
			continue
		}

		o.setState(StateWaiting)
		reason := waker.Wait(ctx, wait, res.State == StateSuccess)
		o.tel.ReportDebug("woke up", "reason", reason.String())

		switch reason {
		case WakeTermination:
			return nil
		case WakeConfig:
			return ErrConfigChanged
		}
	}
}
