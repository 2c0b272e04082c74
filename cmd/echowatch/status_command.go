package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"echowatch/internal/config"
	"echowatch/internal/store"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiYellow = "\x1b[33m"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pipeline stage counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				stats, err := st.Stats(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				total := 0
				rows := make([][]string, 0, len(stats))
				colorize := shouldColorize(out)
				for _, stage := range store.AllStages() {
					count, ok := stats[stage]
					if !ok {
						continue
					}
					total += count
					label := string(stage)
					if colorize && stage.IsTerminal() && stage != store.StageArchived {
						label = ansiRed + label + ansiReset
					} else if colorize && stage.IsProcessing() {
						label = ansiYellow + label + ansiReset
					}
					rows = append(rows, []string{label, strconv.Itoa(count)})
				}

				if total == 0 {
					fmt.Fprintln(out, "No recordings tracked")
					return nil
				}
				fmt.Fprintln(out, renderTable([]string{"Stage", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				fmt.Fprintf(out, "Total: %d recordings\n", total)
				return nil
			})
		},
	}
}

func newVerdictsCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "verdicts",
		Short: "List recent analysis verdicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				verdicts, err := st.ListVerdicts(cmd.Context(), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(verdicts) == 0 {
					fmt.Fprintln(out, "No verdicts recorded")
					return nil
				}

				rows := make([][]string, 0, len(verdicts))
				for _, v := range verdicts {
					rows = append(rows, []string{
						v.WindowStart.Local().Format("2006-01-02 15:04"),
						fmt.Sprintf("%.1f", v.Severity),
						strconv.Itoa(len(v.RecordingIDs)),
						v.Summary,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Window", "Severity", "Recordings", "Summary"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft}))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum verdicts to show")
	return cmd
}
