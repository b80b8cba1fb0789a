package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/quest-group/content-engine/internal/model"
	"github.com/quest-group/content-engine/internal/store"
)

var runsFlags struct {
	status string
	kind   string
	limit  int
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent workflow runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		runs, err := st.ListRuns(cmd.Context(), store.RunFilter{
			Status: model.RunStatus(runsFlags.status),
			Kind:   model.WorkflowKind(runsFlags.kind),
			Limit:  runsFlags.limit,
		})
		if err != nil {
			return eris.Wrap(err, "list runs")
		}
		return printJSON(cmd, runs)
	},
}

var runsGetCmd = &cobra.Command{
	Use:   "get <run-id>",
	Short: "Show one run with its terminal result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		run, err := st.GetRun(cmd.Context(), args[0])
		if err != nil {
			return eris.Wrapf(err, "get run %s", args[0])
		}
		return printJSON(cmd, run)
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsFlags.status, "status", "", "filter by run status")
	runsCmd.Flags().StringVar(&runsFlags.kind, "kind", "", "filter by workflow kind: ARTICLE or COMPANY")
	runsCmd.Flags().IntVar(&runsFlags.limit, "limit", 20, "maximum runs to return")
	runsCmd.AddCommand(runsGetCmd)
	rootCmd.AddCommand(runsCmd)
}
