package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"portalbridge/internal/components/serviceutil"
	"portalbridge/internal/orchestrator"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var dryRun bool

func init() {
	onceCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the notifications instead of sending them, nothing is committed.")
	rootCmd.AddCommand(onceCmd)
}

var onceCmd = &cobra.Command{
	Use:   "once [--dry-run]",
	Short: "Runs a single iteration and exits.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		cfg := mustLoadConfig(configPath)
		tel, shutdown := setup(ctx, cfg)
		defer shutdown()

		store := openLedger(ctx, cfg)
		defer store.Close()

		o, err := newOrchestrator(cfg, newClock(cfg), tel, store, dryRun)
		if err != nil {
			serviceutil.Fatal("build orchestrator", err)
		}

		res := o.RunOnce(context.WithoutCancel(ctx))
		if dryRun {
			printPlanned(res)
		}
		printSources(res)

		if res.State != orchestrator.StateSuccess {
			shutdown()
			store.Close()
			os.Exit(1)
		}
	},
}

func printPlanned(res orchestrator.Result) {
	t := newTable()
	t.SetTitle("Planned notifications")
	t.AppendHeader(table.Row{"Kind", "Key", "To", "Subject"})
	for _, task := range res.Planned {
		t.AppendRow(table.Row{
			task.Kind,
			task.Key,
			strings.Join(task.Message.To, ", "),
			task.Message.Subject,
		})
	}
	t.AppendFooter(table.Row{"", "", "Total", len(res.Planned)})
	t.Render()
}

func printSources(res orchestrator.Result) {
	t := newTable()
	t.SetTitle(fmt.Sprintf("Iteration: %s", res.State))
	t.AppendHeader(table.Row{"Source", "State", "Tasks", "Sent", "Failed", "Error"})
	for _, sr := range res.Sources {
		errText := ""
		if sr.Err != nil {
			errText = sr.Err.Error()
		}
		t.AppendRow(table.Row{
			sr.Name,
			sr.State,
			sr.Tasks,
			sr.Report.Sent,
			sr.Report.Failed + sr.Report.Skipped,
			errText,
		})
	}
	t.Render()
}
