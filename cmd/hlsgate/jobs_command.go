package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"hlsgate/internal/domain/stream"
	"hlsgate/internal/infrastructure/filesystem"
	"hlsgate/internal/infrastructure/journal"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recorded conversion jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			jr, err := journal.Open(cfg.Storage.JournalPath)
			if err != nil {
				return err
			}
			defer jr.Close()

			statuses, err := jr.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(statuses) == 0 {
				fmt.Fprintln(out, "No jobs recorded")
				return nil
			}

			store := filesystem.NewStore(cfg.Storage.Root, cfg.StaleAfter())
			rows := make([][]string, 0, len(statuses))
			for _, status := range statuses {
				segments := "-"
				if info, err := store.Inspect(status.Fingerprint); err == nil && info.State != stream.DirMissing {
					segments = strconv.Itoa(info.Segments)
				}
				rows = append(rows, []string{
					string(status.Fingerprint),
					string(status.State),
					segments,
					strconv.Itoa(status.Attempts),
					exitCodeLabel(status.ExitCode),
					status.UpdatedAt.Local().Format(time.DateTime),
					status.Source,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Fingerprint", "State", "Segments", "Attempts", "Exit", "Updated", "Source"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.AddCommand(newJobsScanCommand(ctx))

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of jobs to list (0 for all)")
	return cmd
}

func newJobsScanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "List job directories on disk and what state they are in",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store := filesystem.NewStore(cfg.Storage.Root, cfg.StaleAfter())
			infos, err := store.Scan()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(infos) == 0 {
				fmt.Fprintf(out, "No job directories under %s\n", store.Root())
				return nil
			}

			rows := make([][]string, 0, len(infos))
			for _, info := range infos {
				rows = append(rows, []string{
					string(info.Fingerprint),
					string(info.State),
					strconv.Itoa(info.Segments),
					info.ModifiedAt.Local().Format(time.DateTime),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Fingerprint", "Directory", "Segments", "Modified"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func exitCodeLabel(code int) string {
	if code < 0 {
		return "-"
	}
	return strconv.Itoa(code)
}
