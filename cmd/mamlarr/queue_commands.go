package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mamlarr/internal/config"
	"mamlarr/internal/logging"
	"mamlarr/internal/queue"
	"mamlarr/internal/torrents"
	"mamlarr/internal/workflow"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the job queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				var statuses []queue.Status
				for _, raw := range listStatuses {
					status, ok := queue.ParseStatus(raw)
					if !ok {
						return fmt.Errorf("unknown status %q", raw)
					}
					statuses = append(statuses, status)
				}

				jobs, err := store.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}

				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						strconv.FormatInt(job.ID, 10),
						truncate(displayTitle(job), 48),
						string(job.Status),
						formatSeedProgress(job, cfg.TargetSeedSeconds()),
						formatRatio(job.Ratio()),
					})
				}
				out := renderTable(
					[]string{"ID", "Title", "Status", "Seeded", "Ratio"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight},
				)
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&listStatuses, "status", nil, "Filter by status (repeatable)")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				job, err := store.GetByID(cmd.Context(), id)
				if err != nil {
					return err
				}
				if job == nil {
					return fmt.Errorf("job %d not found", id)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Job %d: %s\n", job.ID, displayTitle(job))
				fmt.Fprintf(out, "  Status:      %s\n", job.Status)
				fmt.Fprintf(out, "  Release:     %s\n", job.GUID)
				if job.TorrentHash != "" {
					fmt.Fprintf(out, "  Torrent:     %s\n", job.TorrentHash)
				}
				fmt.Fprintf(out, "  Seed time:   %s\n", formatSeedProgress(job, cfg.TargetSeedSeconds()))
				fmt.Fprintf(out, "  Transferred: %s up / %s down (ratio %s)\n",
					formatBytes(job.UploadedBytes), formatBytes(job.DownloadedBytes), formatRatio(job.Ratio()))
				fmt.Fprintf(out, "  Created:     %s\n", job.CreatedAt.Local().Format("2006-01-02 15:04:05"))
				if job.DestinationPath != "" {
					fmt.Fprintf(out, "  Destination: %s\n", job.DestinationPath)
				}
				if job.RetryCount > 0 {
					fmt.Fprintf(out, "  Retries:     %d\n", job.RetryCount)
				}
				if job.ErrorMessage != "" {
					fmt.Fprintf(out, "  Error:       %s\n", job.ErrorMessage)
				}
				if job.FailureReason != "" {
					fmt.Fprintf(out, "  Reason:      %s\n", job.FailureReason)
				}
				return nil
			})
		},
	}
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	var deleteData bool

	cmd := &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Remove a job and its torrent from the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				client, err := torrents.New(cfg, logging.NewNop())
				if err != nil {
					return err
				}

				result, err := workflow.RemoveJob(cmd.Context(), store, client,
					cfg.TargetSeedSeconds(), id, deleteData, logging.NewNop())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Job %d removed\n", result.Job.ID)
				if result.ObligationUnmet {
					fmt.Fprintf(out, "Warning: seed obligation not met (%s of %s); the tracker may penalize this\n",
						formatDuration(result.AccruedSeconds), formatDuration(result.RequiredSeconds))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&deleteData, "delete-data", false, "Also delete the downloaded payload")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Requeue a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				job, err := store.RetryFailed(cmd.Context(), id)
				if err != nil {
					return err
				}
				if job == nil {
					return fmt.Errorf("job %d not found", id)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d requeued\n", job.ID)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var clearFailed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove completed jobs from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				var cleared int64
				var err error
				if clearFailed {
					cleared, err = store.ClearFailed(cmd.Context())
				} else {
					cleared, err = store.ClearCompleted(cmd.Context())
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d job(s)\n", cleared)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearFailed, "failed", false, "Clear failed jobs instead of completed ones")
	return cmd
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show aggregate queue counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				health, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}
				rows := [][]string{
					{"Total", strconv.Itoa(health.Total)},
					{"Queued", strconv.Itoa(health.Queued)},
					{"Downloading", strconv.Itoa(health.Downloading)},
					{"Seeding", strconv.Itoa(health.Seeding)},
					{"Processing", strconv.Itoa(health.Processing)},
					{"Completed", strconv.Itoa(health.Completed)},
					{"Failed", strconv.Itoa(health.Failed)},
				}
				out := renderTable([]string{"State", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
}

func parseJobID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q", raw)
	}
	return id, nil
}

func displayTitle(job *queue.Job) string {
	if strings.TrimSpace(job.Title) != "" {
		return job.Title
	}
	return job.GUID
}
