package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	devenv "portalbridge/dev/env"
	"portalbridge/internal/ledger"
)

// config of the dev environment, mail goes to a local SMTP sink such as
// `docker run -p 1025:1025 haravich/fake-smtp-server`
const devConfig = `{
  debug: true,
  timezone: "Europe/Berlin",
  ledger: { dsn: "sqlite://%s" },
  mail: {
    smtp: { host: "localhost", port: 1025, security: "plain" },
    from: "bridge@portalbridge.local",
    recipients: ["parent@portalbridge.local"],
    admin: "admin@portalbridge.local",
    delay_seconds: 0,
  },
  portal: {
    base_url: "http://localhost:8080",
    username: "dev",
    password: "dev",
  },
  schedule: { interval_seconds: 60 },
}
`

func create(ctx context.Context, recreate bool) error {
	_, err := os.Stat("go.mod")
	if os.IsNotExist(err) {
		return fmt.Errorf("the dev environment must be created in the repository root (the same directory as the 'go.mod' file)")
	}

	if recreate {
		err = os.RemoveAll("dev/.state")
		if err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	ledgerPath, err := devenv.ResolvePath("<dev_state>/ledger.db")
	if err != nil {
		return err
	}
	store, err := ledger.OpenSqlite(ctx, ledgerPath)
	if err != nil {
		return fmt.Errorf("create ledger: %w", err)
	}
	err = store.Close()
	if err != nil {
		return err
	}
	slog.Info("ledger ready", "path", ledgerPath)

	configPath, err := devenv.ResolvePath("<dev_state>/config.json5")
	if err != nil {
		return err
	}
	_, err = os.Stat(configPath)
	if err == nil {
		slog.Info("config already created", "path", configPath)
		return nil
	}
	err = os.WriteFile(configPath, []byte(fmt.Sprintf(devConfig, ledgerPath)), 0600)
	if err != nil {
		return err
	}
	slog.Info("config created", "path", configPath)
	return nil
}

func main() {
	recreate := flag.Bool("recreate", false, "recreate the dev environment from scratch")
	flag.Parse()

	err := create(context.Background(), *recreate)
	if err != nil {
		slog.Error("failed to create dev environment", "err", err.Error())
		os.Exit(1)
	}

	slog.Info("dev environment created, run `go run ./cmd/portalbridge -c dev/.state/config.json5 once --dry-run`")
}
