package model

import "time"

// RunStatus is the user-visible terminal (or in-flight) state of a workflow.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCreated   RunStatus = "created"
	RunStatusUpdated   RunStatus = "updated"
	RunStatusExists    RunStatus = "exists"
	RunStatusDraft     RunStatus = "draft"
	RunStatusDuplicate RunStatus = "duplicate"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s RunStatus) Terminal() bool {
	return s != RunStatusRunning
}

// WorkflowKind distinguishes the two pipelines sharing the runtime.
type WorkflowKind string

const (
	KindArticle WorkflowKind = "ARTICLE"
	KindCompany WorkflowKind = "COMPANY"
)

// Event records a soft failure or notable decision made during a workflow.
// Events accumulate on the workflow state and persist with the run.
type Event struct {
	Name   string    `json:"name"`
	Phase  string    `json:"phase,omitempty"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at,omitempty"`
}

// Well-known event names.
const (
	EventReresearchTriggered  = "reresearch_triggered"
	EventBelowFloor           = "below_completeness_floor"
	EventImageFailed          = "image_failed"
	EventGraphSkipped         = "graph_skipped"
	EventGraphSyncFailed      = "graph_sync_failed"
	EventLinkCleanseSkipped   = "link_cleanse_skipped"
	EventSentimentDefaulted   = "sentiment_defaulted"
	EventResearchSourceFailed = "research_source_failed"
	EventCompanyUnresolved    = "company_unresolved"
	EventPersistRollback      = "persist_rollback"
	EventURLValidationSkipped = "url_validation_skipped"
)

// WorkflowResult is the terminal outcome surfaced by Execute.
type WorkflowResult struct {
	Status       RunStatus    `json:"status"`
	Kind         WorkflowKind `json:"kind"`
	Slug         string       `json:"slug,omitempty"`
	RecordID     string       `json:"record_id,omitempty"`
	GraphID      string       `json:"graph_id,omitempty"`
	Completeness float64      `json:"completeness,omitempty"`
	Confidence   float64      `json:"confidence,omitempty"`
	WordCount    int          `json:"word_count,omitempty"`
	CostUSD      float64      `json:"cost_usd,omitempty"`
	Events       []Event      `json:"events,omitempty"`

	// Set when Status is failed or cancelled.
	FailedPhase string `json:"failed_phase,omitempty"`
	ErrorKind   string `json:"error_kind,omitempty"`
	Error       string `json:"error,omitempty"`
}

// PhaseStatus tracks a phase row in run bookkeeping.
type PhaseStatus string

const (
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// Run is the bookkeeping record for one workflow execution.
type Run struct {
	ID        string          `json:"id"`
	Kind      WorkflowKind    `json:"kind"`
	App       AppTag          `json:"app"`
	Slug      string          `json:"slug,omitempty"`
	Input     []byte          `json:"input,omitempty"`
	Status    RunStatus       `json:"status"`
	Result    *WorkflowResult `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RunPhase is the bookkeeping record for one phase within a run.
type RunPhase struct {
	ID         string      `json:"id"`
	RunID      string      `json:"run_id"`
	Name       string      `json:"name"`
	Status     PhaseStatus `json:"status"`
	DurationMS int64       `json:"duration_ms,omitempty"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
}
