package resilience

import (
	"encoding/json"
	"time"

	"github.com/quest-group/content-engine/internal/model"
)

// DLQEntry represents a failed workflow input that can be re-triggered
// later by the reconciliation path.
type DLQEntry struct {
	ID           string             `json:"id"`
	Kind         model.WorkflowKind `json:"kind"`
	Input        json.RawMessage    `json:"input"`
	Error        string             `json:"error"`
	ErrorKind    Kind               `json:"error_kind"`
	FailedPhase  string             `json:"failed_phase,omitempty"`
	RetryCount   int                `json:"retry_count"`
	MaxRetries   int                `json:"max_retries"`
	NextRetryAt  time.Time          `json:"next_retry_at"`
	CreatedAt    time.Time          `json:"created_at"`
	LastFailedAt time.Time          `json:"last_failed_at"`
}

// DLQFilter specifies criteria for querying the dead letter queue.
type DLQFilter struct {
	ErrorKind Kind `json:"error_kind,omitempty"`
	Limit     int  `json:"limit,omitempty"`
}

// CanRetry returns true if this entry hasn't exceeded its max retry count
// and the error was not terminal by taxonomy.
func (e *DLQEntry) CanRetry() bool {
	if e.ErrorKind == KindInput || e.ErrorKind == KindBusiness {
		return false
	}
	return e.RetryCount < e.MaxRetries
}
