package workflow

import (
	"encoding/json"
	"errors"
	"hash/fnv"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/quest-group/content-engine/internal/activity"
	"github.com/quest-group/content-engine/internal/model"
	"github.com/quest-group/content-engine/internal/resilience"
)

// acts is the nil receiver used for activity method references; the worker
// registers the real instance.
var acts *activity.Activities

// Register wires both workflows and the activity set onto a worker.
func Register(w worker.Worker, a *activity.Activities) {
	w.RegisterWorkflow(ArticleWorkflow)
	w.RegisterWorkflow(CompanyWorkflow)
	w.RegisterActivity(a)
}

// tracker records run and phase bookkeeping rows. Bookkeeping runs on a
// disconnected context so a cancelled workflow still records its terminal
// state, and bookkeeping failures never fail the run.
type tracker struct {
	ctx   workflow.Context
	runID string
}

func newTracker(ctx workflow.Context, runID string, kind model.WorkflowKind, app model.AppTag, slug string, input any) *tracker {
	detached, _ := workflow.NewDisconnectedContext(ctx)
	t := &tracker{
		ctx:   phaseCtx(detached, timeoutBookkeep, 2),
		runID: runID,
	}

	raw, _ := json.Marshal(input)
	err := workflow.ExecuteActivity(t.ctx, acts.StartRun, activity.StartRunRequest{
		RunID: runID,
		Kind:  kind,
		App:   app,
		Slug:  slug,
		Input: raw,
	}).Get(t.ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Warn("run bookkeeping unavailable", "error", err)
	}
	return t
}

// phase runs fn between start/finish bookkeeping rows. The returned error
// is fn's; bookkeeping errors are logged and dropped.
func (t *tracker) phase(ctx workflow.Context, name string, fn func() (model.PhaseStatus, error)) error {
	var started activity.StartPhaseResult
	if err := workflow.ExecuteActivity(t.ctx, acts.StartPhase, activity.StartPhaseRequest{
		RunID: t.runID,
		Name:  name,
	}).Get(t.ctx, &started); err != nil {
		workflow.GetLogger(ctx).Warn("phase bookkeeping unavailable", "phase", name, "error", err)
	}

	began := workflow.Now(ctx)
	status, err := fn()
	if status == "" {
		status = model.PhaseStatusComplete
		if err != nil {
			status = model.PhaseStatusFailed
		}
	}

	if started.PhaseID != "" {
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		finishErr := workflow.ExecuteActivity(t.ctx, acts.FinishPhase, activity.FinishPhaseRequest{
			PhaseID:    started.PhaseID,
			Status:     status,
			DurationMS: workflow.Now(ctx).Sub(began).Milliseconds(),
			Error:      msg,
		}).Get(t.ctx, nil)
		if finishErr != nil {
			workflow.GetLogger(ctx).Warn("phase bookkeeping unavailable", "phase", name, "error", finishErr)
		}
	}
	return err
}

// complete stores the terminal result and returns it.
func (t *tracker) complete(ctx workflow.Context, result *model.WorkflowResult) *model.WorkflowResult {
	err := workflow.ExecuteActivity(t.ctx, acts.CompleteRun, activity.CompleteRunRequest{
		RunID:  t.runID,
		Result: result,
	}).Get(t.ctx, nil)
	if err != nil {
		workflow.GetLogger(ctx).Warn("run bookkeeping unavailable", "error", err)
	}
	return result
}

// errorKind extracts the taxonomy kind from an activity error chain.
func errorKind(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Type()
	}
	if temporal.IsCanceledError(err) {
		return "cancelled"
	}
	if temporal.IsTimeoutError(err) {
		return string(resilience.KindTransient)
	}
	return string(resilience.KindTransient)
}

// businessError builds a non-retryable terminal error carrying the adapter
// code in its message, matching the classification the activities emit.
func businessError(code, msg string) error {
	return temporal.NewApplicationErrorWithOptions(code+": "+msg, string(resilience.KindBusiness),
		temporal.ApplicationErrorOptions{NonRetryable: true})
}

// canceled reports whether the workflow or the failed activity was
// cancelled.
func canceled(ctx workflow.Context, err error) bool {
	return ctx.Err() != nil || temporal.IsCanceledError(err)
}

// failureCode extracts the adapter code prefix from a classified error
// message, e.g. "CONTENT_POLICY" from "CONTENT_POLICY: rejected".
func failureCode(err error) string {
	msg := err.Error()
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		msg = appErr.Message()
	}
	if i := indexByte(msg, ':'); i > 0 && i <= 32 {
		return msg[:i]
	}
	return msg
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// failWith stamps a terminal failure onto the result.
func failWith(result *model.WorkflowResult, phase string, err error, events []model.Event, cost float64) *model.WorkflowResult {
	result.Status = model.RunStatusFailed
	result.FailedPhase = phase
	result.ErrorKind = errorKind(err)
	result.Error = err.Error()
	result.Events = events
	result.CostUSD = cost
	return result
}

// cancelWith stamps a terminal cancellation onto the result.
func cancelWith(result *model.WorkflowResult, phase string, events []model.Event, cost float64) *model.WorkflowResult {
	result.Status = model.RunStatusCancelled
	result.FailedPhase = phase
	result.ErrorKind = "cancelled"
	result.Events = events
	result.CostUSD = cost
	return result
}

// event stamps a workflow event at workflow time.
func event(ctx workflow.Context, name, phase, detail string) model.Event {
	return model.Event{Name: name, Phase: phase, Detail: detail, At: workflow.Now(ctx).UTC()}
}

// awaitBundle resolves one fan-out future with soft-join semantics: an
// adapter that failed after retries contributes an empty bundle tagged
// with the failure, never an error.
func awaitBundle(ctx workflow.Context, f workflow.Future, kind model.SourceKind, events *[]model.Event) model.SourceBundle {
	var bundle model.SourceBundle
	if err := f.Get(ctx, &bundle); err != nil {
		workflow.GetLogger(ctx).Warn("research source failed", "kind", string(kind), "error", err)
		*events = append(*events, event(ctx, model.EventResearchSourceFailed, PhaseResearch,
			string(kind)+": "+err.Error()))
		return model.SourceBundle{Kind: kind, FailureNote: err.Error()}
	}
	bundle.Kind = kind
	return bundle
}

// seedFor derives the deterministic image seed for a run from its slug.
func seedFor(slug string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(slug))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

// topURLs returns up to n item URLs from a bundle, in order.
func topURLs(b model.SourceBundle, n int) []string {
	var urls []string
	for _, item := range b.Items {
		if item.URL == "" {
			continue
		}
		urls = append(urls, item.URL)
		if len(urls) == n {
			break
		}
	}
	return urls
}
