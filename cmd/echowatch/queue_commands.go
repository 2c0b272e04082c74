package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"echowatch/internal/config"
	"echowatch/internal/store"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage tracked recordings",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var stageFilters []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked recordings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				stages := make([]store.Stage, 0, len(stageFilters))
				for _, raw := range stageFilters {
					stage, ok := store.ParseStage(raw)
					if !ok {
						return fmt.Errorf("unknown stage %q (known: %s)", raw, knownStages())
					}
					stages = append(stages, stage)
				}

				recs, err := st.List(cmd.Context(), stages...)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(recs) == 0 {
					fmt.Fprintln(out, "No matching recordings")
					return nil
				}

				rows := make([][]string, 0, len(recs))
				for _, rec := range recs {
					errText := rec.ErrorMessage
					if len(errText) > 48 {
						errText = errText[:48] + "..."
					}
					rows = append(rows, []string{
						rec.ID,
						string(rec.Stage),
						rec.ArrivedAt.Local().Format("15:04:05"),
						fmt.Sprintf("%d", rec.RetryCount),
						errText,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Recording", "Stage", "Arrived", "Retries", "Error"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft}))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&stageFilters, "stage", nil, "Filter by stage (repeatable)")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Re-queue failed recordings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				count, err := st.RetryFailed(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Re-queued %d failed recordings\n", count)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove archived recordings from the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				var count int64
				var err error
				if all {
					count, err = st.Clear(cmd.Context())
				} else {
					count, err = st.ClearArchived(cmd.Context())
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d recordings\n", count)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Remove every recording, not just archived ones")
	return cmd
}

func knownStages() string {
	stages := store.AllStages()
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}
