package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"portalbridge/internal/components/chrono"
	"portalbridge/internal/components/serviceutil"
	"portalbridge/internal/components/telemetry"
	"portalbridge/internal/config"
	"portalbridge/internal/delivery"
	"portalbridge/internal/intake"
	"portalbridge/internal/ledger"
	"portalbridge/internal/mail"
	"portalbridge/internal/orchestrator"
	"portalbridge/internal/scrapers/board"
	"portalbridge/internal/scrapers/calendar"
	"portalbridge/internal/scrapers/portal"
	"portalbridge/internal/source"
)

const (
	sourcePortal   = "portal"
	sourceCalendar = "calendar"
	sourceBoard    = "board"
)

// loadConfig reads, defaults and validates the configuration.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Read[config.Config](path)
	if err != nil {
		return config.Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	cfg, err = cfg.WithDefaults()
	if err != nil {
		return config.Config{}, err
	}
	err = cfg.Validate()
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func mustLoadConfig(path string) config.Config {
	cfg, err := loadConfig(path)
	if errors.Is(err, config.ErrPlaceholderCredentials) {
		serviceutil.Fatal("the configuration still holds the sample credentials, edit them first", err)
	}
	if err != nil {
		serviceutil.Fatal("load config", err)
	}
	return cfg
}

// setup initializes logging and telemetry, the returned function flushes the
// exporters.
func setup(ctx context.Context, cfg config.Config) (telemetry.API, func()) {
	telemetry.InitSlog(verbose || cfg.Debug)
	if verbose || cfg.Debug {
		slog.DebugContext(ctx, "verbose logging enabled")
	}

	t, err := telemetry.Setup(ctx, "portalbridge", cfg.Telemetry)
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	tel := telemetry.NewMeteredAPI(telemetry.SlogAPI{})
	return tel, func() {
		err := t.Shutdown(context.Background())
		if err != nil {
			slog.Warn("telemetry shutdown", "err", err.Error())
		}
	}
}

func newClock(cfg config.Config) chrono.StandardTime {
	clock, err := chrono.NewStandardTime(cfg.Timezone)
	if err != nil {
		serviceutil.Fatal("load timezone", err)
	}
	return clock
}

func openLedger(ctx context.Context, cfg config.Config) ledger.Store {
	store, err := ledger.Open(ctx, cfg.Ledger.DSN, cfg.Ledger.AuthToken)
	if err != nil {
		serviceutil.Fatal("open ledger", err)
	}
	return store
}

func buildSources(cfg config.Config, clock chrono.TimeAPI, tel telemetry.API) ([]source.Source, error) {
	client, err := portal.NewClient(portal.Options{
		BaseUrl:              cfg.Portal.BaseUrl,
		Username:             cfg.Portal.Username,
		Password:             cfg.Portal.Password,
		RateLimit:            cfg.Portal.RateLimit,
		Location:             clock.Location(),
		ConfirmAnnouncements: cfg.Portal.ConfirmAnnouncements,
	}, tel)
	if err != nil {
		return nil, fmt.Errorf("portal: %w", err)
	}
	sources := []source.Source{source.NewPortal(sourcePortal, client)}

	if cfg.Calendar.Enabled {
		cal, err := calendar.NewClient(cfg.Calendar.Url, clock, tel)
		if err != nil {
			return nil, fmt.Errorf("calendar: %w", err)
		}
		sources = append(sources, source.NewCalendar(sourceCalendar, cal, cfg.Diff.LookaheadDays))
	}
	if cfg.Board.Enabled {
		sources = append(sources, source.NewBoard(sourceBoard, board.NewClient(cfg.Board.Url, clock, tel)))
	}
	return sources, nil
}

func newOrchestrator(cfg config.Config, clock chrono.TimeAPI, tel telemetry.API, store ledger.Store, dryRun bool) (*orchestrator.Orchestrator, error) {
	sources, err := buildSources(cfg, clock, tel)
	if err != nil {
		return nil, err
	}
	sender := mail.NewSMTPSender(cfg.Mail.SMTP, cfg.Mail.From)
	pump := delivery.NewPump(sender, tel, delivery.Options{
		Delay: cfg.Mail.Delay(),
	})
	return orchestrator.New(sources, store, pump, clock, tel, orchestrator.Options{
		Domain:     cfg.Mail.Domain,
		Recipients: cfg.Mail.Recipients,
		Admin:      cfg.Mail.Admin,
		Labels: map[string]string{
			sourceCalendar: "Calendar",
			sourceBoard:    "Board",
		},
		GraceDays:     cfg.Diff.GraceDays,
		LookaheadDays: cfg.Diff.LookaheadDays,
		DryRun:        dryRun,
	}), nil
}

func schedule(cfg config.Config) orchestrator.Schedule {
	return orchestrator.Schedule{
		Interval:   cfg.Schedule.Interval(),
		BackoffMax: cfg.Schedule.BackoffMax(),
		Healthy:    cfg.Schedule.Healthy(),
	}
}

// startIntake starts the reverse channel in the background, it returns nils
// when intake is disabled.
func startIntake(ctx context.Context, cfg config.Config, tel telemetry.API) (*intake.Outbox, *intake.Processor, error) {
	if !cfg.Intake.Enabled {
		return nil, nil, nil
	}

	g := cfg.Intake.Gmail
	svc, err := intake.NewGmailService(ctx, g.CredentialsFile, g.TokenFile)
	if err != nil {
		return nil, nil, fmt.Errorf("gmail: %w", err)
	}
	mailbox := intake.NewGmailMailbox(svc, tel, g.User, g.Label, g.Poll())
	processor, err := intake.NewProcessor(mailbox, tel, intake.ProcessorOptions{
		Route:    cfg.Intake.Route,
		Allow:    cfg.Intake.Allow,
		Capacity: cfg.Intake.Capacity,
		Admin:    cfg.Mail.Admin,
	})
	if err != nil {
		return nil, nil, err
	}

	outbox := intake.NewOutbox()
	loop := intake.NewLoop(processor, mailbox, outbox, tel)
	go func() {
		err := loop.Run(ctx)
		if err != nil {
			tel.ReportBroken(report_intake, err)
		}
	}()
	return outbox, processor, nil
}
