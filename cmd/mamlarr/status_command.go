package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"mamlarr/internal/compliance"
	"mamlarr/internal/config"
	"mamlarr/internal/logging"
	"mamlarr/internal/preflight"
	"mamlarr/internal/queue"
	"mamlarr/internal/torrents"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue, compliance, and backend status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				out := cmd.OutOrStdout()

				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(stats))
				for _, status := range queue.AllStatuses() {
					if count, ok := stats[status]; ok {
						rows = append(rows, []string{string(status), strconv.Itoa(count)})
					}
				}
				if len(rows) == 0 {
					fmt.Fprintln(out, "Queue is empty")
				} else {
					fmt.Fprintln(out, renderTable([]string{"Status", "Count"}, rows,
						[]columnAlignment{alignLeft, alignRight}))
				}

				engine := compliance.NewEngine(compliance.PolicyFromConfig(cfg), logging.NewNop())
				if err := engine.Rebuild(cmd.Context(), store); err != nil {
					return err
				}
				snapshot := engine.Snapshot()
				fmt.Fprintf(out, "Seeding policy: %s target, ratio floor %.2f (%s scope)\n",
					formatDuration(cfg.TargetSeedSeconds()), cfg.Seeding.RatioFloor, cfg.Seeding.RatioScope)
				fmt.Fprintf(out, "Unsatisfied obligations: %d", snapshot.Unsatisfied)
				if snapshot.MaxUnsatisfied > 0 {
					fmt.Fprintf(out, " / %d", snapshot.MaxUnsatisfied)
				}
				fmt.Fprintln(out)
				fmt.Fprintf(out, "Account transfer: %s up / %s down (ratio %s)\n",
					formatBytes(snapshot.UploadedBytes), formatBytes(snapshot.DownloadedBytes),
					formatRatio(snapshot.AccountRatio))

				client, err := torrents.New(cfg, logging.NewNop())
				if err != nil {
					return err
				}
				checks := preflight.RunAll(cmd.Context(), cfg, client)
				checkRows := make([][]string, 0, len(checks))
				for _, check := range checks {
					checkRows = append(checkRows, []string{check.Name, yesNo(check.Passed), check.Detail})
				}
				fmt.Fprintln(out, renderTable([]string{"Check", "OK", "Detail"}, checkRows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft}))
				return nil
			})
		},
	}
}
