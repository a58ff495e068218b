package commands

import (
	"context"
	"errors"
	"log/slog"

	"portalbridge/internal/components/chrono"
	"portalbridge/internal/components/serviceutil"
	"portalbridge/internal/components/telemetry"
	"portalbridge/internal/config"
	"portalbridge/internal/intake"
	"portalbridge/internal/ledger"
	"portalbridge/internal/orchestrator"

	"github.com/spf13/cobra"
)

const (
	report_intake = "cmd.intake"
	report_reload = "cmd.reload"
	report_watch  = "cmd.watch"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Runs the bridge until it is stopped.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		cfg := mustLoadConfig(configPath)
		tel, shutdown := setup(ctx, cfg)
		defer shutdown()
		telemetry.InstrumentPerfStats(ctx, tel)

		store := openLedger(ctx, cfg)
		defer store.Close()

		// intake settings are read once, changing them needs a restart
		outbox, processor, err := startIntake(ctx, cfg, tel)
		if err != nil {
			serviceutil.Fatal("start intake", err)
		}
		var pushed <-chan struct{}
		if outbox != nil {
			pushed = outbox.Notify()
		}
		waker := orchestrator.NewWaker(pushed)

		go func() {
			err := config.Watch(ctx, configPath, tel, waker.NotifyConfig)
			if err != nil {
				tel.ReportWarning(report_watch, err)
			}
		}()

		n := orchestrator.NewNotifier(tel)
		n.Ready()
		defer n.Stopping()
		go n.Watchdog(ctx)

		o, err := build(cfg, tel, store, outbox, processor)
		if err != nil {
			serviceutil.Fatal("build orchestrator", err)
		}
		for {
			if !serve(ctx, cfg, tel, o, waker) {
				return
			}

			next, err := loadConfig(configPath)
			if err != nil {
				tel.ReportBroken(report_reload, err)
				slog.Warn("keeping the previous configuration")
				continue
			}
			replacement, err := build(next, tel, store, outbox, processor)
			if err != nil {
				tel.ReportBroken(report_reload, err)
				slog.Warn("keeping the previous configuration")
				continue
			}
			replacement.Adopt(o)
			o = replacement
			cfg = next
			telemetry.InitSlog(verbose || cfg.Debug)
			slog.Info("configuration reloaded")
		}
	},
}

func build(
	cfg config.Config,
	tel telemetry.API,
	store ledger.Store,
	outbox *intake.Outbox,
	processor *intake.Processor,
) (*orchestrator.Orchestrator, error) {
	o, err := newOrchestrator(cfg, newClock(cfg), tel, store, false)
	if err != nil {
		return nil, err
	}
	if outbox != nil {
		o.SetIntake(outbox, processor.ReplyTo)
	}
	return o, nil
}

// serve runs o until it stops, it reports whether the configuration changed.
func serve(ctx context.Context, cfg config.Config, tel telemetry.API, o *orchestrator.Orchestrator, waker *orchestrator.Waker) bool {
	if cfg.Schedule.Cron != "" {
		cron, err := chrono.StartCron(cfg.Schedule.Cron, newClock(cfg), tel, waker.NotifyCron)
		if err != nil {
			tel.ReportBroken(report_reload, err)
		} else {
			defer cron.Stop()
			tel.ReportDebug("cron scheduled", "next", cron.Next())
		}
	}

	err := o.Run(ctx, waker, schedule(cfg))
	return errors.Is(err, orchestrator.ErrConfigChanged)
}
