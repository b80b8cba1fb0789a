package activity

import (
	"context"
	"encoding/json"

	"github.com/quest-group/content-engine/internal/model"
)

// StartRunRequest records the start of a workflow execution.
type StartRunRequest struct {
	RunID string             `json:"run_id"`
	Kind  model.WorkflowKind `json:"kind"`
	App   model.AppTag       `json:"app"`
	Slug  string             `json:"slug,omitempty"`
	Input json.RawMessage    `json:"input,omitempty"`
}

// StartRun writes the run bookkeeping row.
func (a *Activities) StartRun(ctx context.Context, req StartRunRequest) error {
	run := &model.Run{
		ID:     req.RunID,
		Kind:   req.Kind,
		App:    req.App,
		Slug:   req.Slug,
		Input:  req.Input,
		Status: model.RunStatusRunning,
	}
	if err := a.deps.Store.CreateRun(ctx, run); err != nil {
		return classify(err)
	}
	return nil
}

// StartPhaseRequest opens a phase row under a run.
type StartPhaseRequest struct {
	RunID string `json:"run_id"`
	Name  string `json:"name"`
}

// StartPhaseResult returns the phase row id for later completion.
type StartPhaseResult struct {
	PhaseID string `json:"phase_id"`
}

// StartPhase records that a phase began.
func (a *Activities) StartPhase(ctx context.Context, req StartPhaseRequest) (*StartPhaseResult, error) {
	phase, err := a.deps.Store.CreatePhase(ctx, req.RunID, req.Name)
	if err != nil {
		return nil, classify(err)
	}
	return &StartPhaseResult{PhaseID: phase.ID}, nil
}

// FinishPhaseRequest closes a phase row.
type FinishPhaseRequest struct {
	PhaseID    string            `json:"phase_id"`
	Status     model.PhaseStatus `json:"status"`
	DurationMS int64             `json:"duration_ms"`
	Error      string            `json:"error,omitempty"`
}

// FinishPhase records a phase outcome.
func (a *Activities) FinishPhase(ctx context.Context, req FinishPhaseRequest) error {
	if err := a.deps.Store.CompletePhase(ctx, req.PhaseID, req.Status, req.DurationMS, req.Error); err != nil {
		return classify(err)
	}
	return nil
}

// CompleteRunRequest stores the terminal result of a run.
type CompleteRunRequest struct {
	RunID  string                `json:"run_id"`
	Result *model.WorkflowResult `json:"result"`
}

// CompleteRun records the terminal workflow result.
func (a *Activities) CompleteRun(ctx context.Context, req CompleteRunRequest) error {
	if err := a.deps.Store.UpdateRunResult(ctx, req.RunID, req.Result); err != nil {
		return classify(err)
	}
	return nil
}
