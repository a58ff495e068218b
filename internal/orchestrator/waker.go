package orchestrator

import (
	"context"
	"time"
)

type WakeReason int

const (
	WakeTimeout WakeReason = iota
	WakeIntake
	WakeConfig
	WakeCron
	WakeTermination
)

func (r WakeReason) String() string {
	switch r {
	case WakeTimeout:
		return "timeout"
	case WakeIntake:
		return "intake"
	case WakeConfig:
		return "config"
	case WakeCron:
		return "cron"
	case WakeTermination:
		return "termination"
	default:
		return "unknown"
	}
}

// Waker is the single wait-for-next-trigger primitive of the loop. Every
// signal is buffered once, a signal raised while nobody waits wakes the next
// Wait immediately.
type Waker struct {
	intake <-chan struct{}
	config chan struct{}
	cron   chan struct{}
}

// NewWaker creates a waker, intake may be nil when there is no reverse
// channel.
func NewWaker(intake <-chan struct{}) *Waker {
	return &Waker{
		intake: intake,
		config: make(chan struct{}, 1),
		cron:   make(chan struct{}, 1),
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// NotifyConfig is called when the configuration changed on disk.
func (w *Waker) NotifyConfig() {
	signal(w.config)
}

// NotifyCron is called on every tick of the configured cron schedule.
func (w *Waker) NotifyCron() {
	signal(w.cron)
}

// DrainIntake discards a pending intake signal. It is called before checking
// for pending posts so that a signal for posts already handled does not cause
// an extra iteration.
func (w *Waker) DrainIntake() {
	if w.intake == nil {
		return
	}
	select {
	case <-w.intake:
	default:
	}
}

// Wait blocks until d elapsed or a signal arrives. Intake signals are
// ignored when intake is false, the loop uses that while backing off.
func (w *Waker) Wait(ctx context.Context, d time.Duration, intake bool) WakeReason {
	if ctx.Err() != nil {
		return WakeTermination
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	var intakeCh <-chan struct{}
	if intake {
		intakeCh = w.intake
	}

	select {
	case <-ctx.Done():
		return WakeTermination
	case <-w.config:
		return WakeConfig
	case <-w.cron:
		return WakeCron
	case <-intakeCh:
		return WakeIntake
	case <-timer.C:
		return WakeTimeout
	}
}
