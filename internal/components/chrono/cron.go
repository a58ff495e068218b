package chrono

import (
	"fmt"
	"time"

	"portalbridge/internal/components/telemetry"

	"github.com/robfig/cron/v3"
)

const report_cron = "cron"

// Cron calls a function on a standard 5-field schedule, evaluated in the
// location of the clock it was started with.
type Cron struct {
	c     *cron.Cron
	entry cron.EntryID
}

// StartCron parses spec and starts calling fn on it.
func StartCron(spec string, clock TimeAPI, tel telemetry.API, fn func()) (*Cron, error) {
	c := cron.New(
		cron.WithLocation(clock.Location()),
		cron.WithLogger(cronLogger{tel: tel}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{tel: tel})),
	)
	entry, err := c.AddFunc(spec, fn)
	if err != nil {
		return nil, fmt.Errorf("cron %q: %w", spec, err)
	}
	c.Start()
	return &Cron{c: c, entry: entry}, nil
}

// Next is the time of the upcoming call.
func (c *Cron) Next() time.Time {
	return c.c.Entry(c.entry).Next
}

// Stop waits for a running call to return.
func (c *Cron) Stop() {
	<-c.c.Stop().Done()
}

// ValidateSpec reports whether spec is a valid standard 5-field cron expression.
func ValidateSpec(spec string) error {
	_, err := cron.ParseStandard(spec)
	return err
}

// cronLogger routes the scheduler's own logging into telemetry, its
// keysAndValues are already slog style pairs.
type cronLogger struct {
	tel telemetry.API
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.tel.ReportDebug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.tel.ReportBroken(report_cron, append([]any{fmt.Errorf("%s: %w", msg, err)}, keysAndValues...)...)
}
