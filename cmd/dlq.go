package main

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/quest-group/content-engine/internal/model"
	"github.com/quest-group/content-engine/internal/resilience"
	"github.com/quest-group/content-engine/internal/store"
	"github.com/quest-group/content-engine/internal/workflow"
)

var dlqFlags struct {
	errorKind string
	limit     int
	requeue   bool
}

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "List failed runs as dead-letter entries",
	Long:  "Projects failed runs into dead-letter entries. With --requeue, re-executes the retryable ones under their original workflow ids; input and business failures stay parked.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var st store.Store
		var env *appEnv
		var err error
		if dlqFlags.requeue {
			env, err = initEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()
			st = env.Store
		} else {
			st, err = initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
		}

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: model.RunStatusFailed,
			Limit:  dlqFlags.limit,
		})
		if err != nil {
			return eris.Wrap(err, "list failed runs")
		}

		entries := dlqEntries(runs, cfg.Retry.MaxAttempts, resilience.DLQFilter{
			ErrorKind: resilience.Kind(dlqFlags.errorKind),
			Limit:     dlqFlags.limit,
		})
		if !dlqFlags.requeue {
			return printJSON(cmd, entries)
		}

		requeued := []string{}
		for i := range entries {
			e := &entries[i]
			if !e.CanRetry() {
				continue
			}
			if err := requeueEntry(ctx, env.Temporal, e); err != nil {
				zap.L().Warn("requeue failed", zap.String("run_id", e.ID), zap.Error(err))
				continue
			}
			requeued = append(requeued, e.ID)
		}
		return printJSON(cmd, requeued)
	},
}

// dlqEntries projects failed run records into dead-letter entries.
func dlqEntries(runs []model.Run, maxRetries int, filter resilience.DLQFilter) []resilience.DLQEntry {
	var entries []resilience.DLQEntry
	for _, run := range runs {
		e := resilience.DLQEntry{
			ID:           run.ID,
			Kind:         run.Kind,
			Input:        json.RawMessage(run.Input),
			MaxRetries:   maxRetries,
			CreatedAt:    run.CreatedAt,
			LastFailedAt: run.UpdatedAt,
		}
		if run.Result != nil {
			e.Error = run.Result.Error
			e.ErrorKind = resilience.Kind(run.Result.ErrorKind)
			e.FailedPhase = run.Result.FailedPhase
		}
		if filter.ErrorKind != "" && e.ErrorKind != filter.ErrorKind {
			continue
		}
		entries = append(entries, e)
		if filter.Limit > 0 && len(entries) >= filter.Limit {
			break
		}
	}
	return entries
}

// requeueEntry re-executes the failed workflow with its stored input. The
// original workflow id is reused; the previous execution is terminal, so
// Temporal starts a fresh run under the same handle.
func requeueEntry(ctx context.Context, tc client.Client, e *resilience.DLQEntry) error {
	opts := client.StartWorkflowOptions{ID: e.ID, TaskQueue: taskQueue()}
	switch e.Kind {
	case model.KindArticle:
		var input model.ArticleInput
		if err := json.Unmarshal(e.Input, &input); err != nil {
			return eris.Wrap(err, "decode article input")
		}
		_, err := tc.ExecuteWorkflow(ctx, opts, workflow.ArticleWorkflow, workflow.ArticleParams{
			Input:  input,
			Policy: workflow.PolicyFromConfig(cfg),
		})
		return err
	case model.KindCompany:
		var input model.CompanyInput
		if err := json.Unmarshal(e.Input, &input); err != nil {
			return eris.Wrap(err, "decode company input")
		}
		_, err := tc.ExecuteWorkflow(ctx, opts, workflow.CompanyWorkflow, workflow.CompanyParams{
			Input:  input,
			Policy: workflow.PolicyFromConfig(cfg),
		})
		return err
	default:
		return eris.Errorf("unknown workflow kind %q", e.Kind)
	}
}

func init() {
	dlqCmd.Flags().StringVar(&dlqFlags.errorKind, "error-kind", "", "filter by error kind: input, transient, data, business, dependency")
	dlqCmd.Flags().IntVar(&dlqFlags.limit, "limit", 50, "maximum entries to return")
	dlqCmd.Flags().BoolVar(&dlqFlags.requeue, "requeue", false, "re-execute retryable entries and print the requeued run ids")
	rootCmd.AddCommand(dlqCmd)
}
