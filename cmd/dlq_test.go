package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quest-group/content-engine/internal/model"
	"github.com/quest-group/content-engine/internal/resilience"
)

func failedRun(id string, kind model.WorkflowKind, errorKind string) model.Run {
	return model.Run{
		ID:     id,
		Kind:   kind,
		Input:  []byte(`{"topic":"remote hiring","app":"placement"}`),
		Status: model.RunStatusFailed,
		Result: &model.WorkflowResult{
			Status:      model.RunStatusFailed,
			FailedPhase: "research",
			ErrorKind:   errorKind,
			Error:       "UPSTREAM_5XX: adapter down",
		},
		CreatedAt: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 8, 20, 10, 5, 0, 0, time.UTC),
	}
}

func TestDLQEntries(t *testing.T) {
	runs := []model.Run{
		failedRun("article-placement-a", model.KindArticle, "transient"),
		failedRun("article-placement-b", model.KindArticle, "input"),
		failedRun("company-placement-c", model.KindCompany, "dependency"),
	}

	entries := dlqEntries(runs, 3, resilience.DLQFilter{})
	require.Len(t, entries, 3)
	assert.Equal(t, "article-placement-a", entries[0].ID)
	assert.Equal(t, resilience.KindTransient, entries[0].ErrorKind)
	assert.Equal(t, "research", entries[0].FailedPhase)
	assert.Equal(t, 3, entries[0].MaxRetries)

	// Input failures are parked; transient and dependency ones requeue.
	assert.True(t, entries[0].CanRetry())
	assert.False(t, entries[1].CanRetry())
	assert.True(t, entries[2].CanRetry())
}

func TestDLQEntries_Filter(t *testing.T) {
	runs := []model.Run{
		failedRun("a", model.KindArticle, "transient"),
		failedRun("b", model.KindArticle, "input"),
		failedRun("c", model.KindArticle, "transient"),
	}

	entries := dlqEntries(runs, 3, resilience.DLQFilter{ErrorKind: resilience.KindTransient})
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].ID)
	assert.Equal(t, "c", entries[1].ID)

	entries = dlqEntries(runs, 3, resilience.DLQFilter{ErrorKind: resilience.KindTransient, Limit: 1})
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].ID)
}
