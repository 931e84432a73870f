package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"mamlarr/internal/config"
	"mamlarr/internal/queue"
)

func newAddCommand(ctx *commandContext) *cobra.Command {
	var title string
	var sourceFile string

	cmd := &cobra.Command{
		Use:   "add <release-id>",
		Short: "Queue a tracker release for acquisition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			guid := strings.TrimSpace(args[0])
			if guid == "" {
				return fmt.Errorf("release id is required")
			}

			var sourceJSON string
			if sourceFile != "" {
				data, err := os.ReadFile(sourceFile)
				if err != nil {
					return fmt.Errorf("read source file: %w", err)
				}
				sourceJSON = string(data)
			}

			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				existing, err := store.FindByGUID(cmd.Context(), guid)
				if err != nil {
					return err
				}
				if existing != nil && !existing.IsTerminal() {
					return fmt.Errorf("release %s already queued as job %d (%s)", guid, existing.ID, existing.Status)
				}

				job, err := store.NewJob(cmd.Context(), guid, title, sourceJSON)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued job %d for release %s\n", job.ID, guid)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Display title for the release")
	cmd.Flags().StringVar(&sourceFile, "source", "", "Path to a JSON file with the tracker search result")
	return cmd
}
