package orchestrator

import (
	"context"
	"time"

	"portalbridge/internal/components/telemetry"

	"github.com/coreos/go-systemd/v22/daemon"
)

const report_systemd = "systemd.notify"

// Notifier talks to the systemd service manager, every call is a no-op when
// the process was not started by systemd.
type Notifier struct {
	tel telemetry.API
}

func NewNotifier(tel telemetry.API) Notifier {
	return Notifier{tel: tel}
}

func (n Notifier) notify(state string) {
	_, err := daemon.SdNotify(false, state)
	if err != nil {
		n.tel.ReportWarning(report_systemd, err, "state", state)
	}
}

func (n Notifier) Ready() {
	n.notify(daemon.SdNotifyReady)
}

func (n Notifier) Stopping() {
	n.notify(daemon.SdNotifyStopping)
}

func (n Notifier) Status(status string) {
	n.notify("STATUS=" + status)
}

// Watchdog pings the watchdog at half its interval until ctx is done.
func (n Notifier) Watchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.tel.ReportWarning(report_systemd, err)
		return
	}
	if interval == 0 {
		return
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}
