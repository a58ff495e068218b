package commands

import (
	"fmt"
	"time"

	"portalbridge/internal/components/chrono"
	"portalbridge/internal/components/serviceutil"
	"portalbridge/internal/components/telemetry"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	ledgerCmd.AddCommand(ledgerShowCmd)
	ledgerCmd.AddCommand(ledgerPruneCmd)
	rootCmd.AddCommand(ledgerCmd)
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspects the record of what was already sent.",
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Lists every source of the ledger with its watermark and entry counts.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		cfg := mustLoadConfig(configPath)
		telemetry.InitSlog(verbose || cfg.Debug)
		clock := newClock(cfg)

		store := openLedger(ctx, cfg)
		defer store.Close()
		l, err := store.Load(ctx)
		if err != nil {
			serviceutil.Fatal("load ledger", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{
			"Source", "Watermark", "Announcements", "Inquiries",
			"Threads", "Substitutions", "Notices", "Events",
		})
		for _, name := range l.SourceNames() {
			src := l.Source(name)
			watermark := "never"
			if src.Watermark != 0 {
				watermark = src.WatermarkTime().In(clock.Location()).Format(time.DateTime)
			}
			t.AppendRow(table.Row{
				name,
				watermark,
				len(src.Announcements),
				len(src.Inquiries),
				len(src.Threads),
				len(src.Substitutions),
				len(src.Notices),
				len(src.Events),
			})
		}
		t.Render()
	},
}

var ledgerPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Deletes the events that are already over.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		cfg := mustLoadConfig(configPath)
		telemetry.InitSlog(verbose || cfg.Debug)
		clock := newClock(cfg)

		store := openLedger(ctx, cfg)
		defer store.Close()
		l, err := store.Load(ctx)
		if err != nil {
			serviceutil.Fatal("load ledger", err)
		}

		pruned := l.PruneEvents(chrono.Today(clock))
		if pruned > 0 {
			err = store.Save(ctx, l)
			if err != nil {
				serviceutil.Fatal("save ledger", err)
			}
		}
		fmt.Printf("pruned %d expired event(s)\n", pruned)
	},
}
