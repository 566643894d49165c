package model

import "time"

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusQueued      RunStatus = "queued"
	RunStatusFetching    RunStatus = "fetching"
	RunStatusAggregating RunStatus = "aggregating"
	RunStatusEnriching   RunStatus = "enriching"
	RunStatusPersisting  RunStatus = "persisting"
	RunStatusComplete    RunStatus = "complete"
	RunStatusFailed      RunStatus = "failed"
)

// FailureKind classifies why a unit (or part of it) did not complete.
type FailureKind string

const (
	FailureFeed             FailureKind = "feed"
	FailureEnrichment       FailureKind = "enrichment"
	FailureExternalService  FailureKind = "external_service"
	FailureIndexConsistency FailureKind = "index_consistency"
	FailurePersist          FailureKind = "persist"
)

// Run is one end-to-end pipeline execution.
type Run struct {
	ID        string     `json:"id"`
	Status    RunStatus  `json:"status"`
	Report    *RunReport `json:"report,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// UnitFailure records one contained failure inside a run.
type UnitFailure struct {
	Key   UnitKey     `json:"key"`
	Stage string      `json:"stage"`
	Kind  FailureKind `json:"kind"`
	// Class is "transient" or "permanent".
	Class string `json:"class"`
	Error string `json:"error"`
}

// TokenUsage tracks LLM token consumption across a run.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// RunReport summarizes what a run processed.
type RunReport struct {
	RunID string `json:"run_id,omitempty"`

	// Aggregation.
	Pages               int `json:"pages"`
	Threads             int `json:"threads"`
	Posts               int `json:"posts"`
	DroppedPosts        int `json:"dropped_posts"`
	FailedThreads       int `json:"failed_threads"`
	DiscardedUnresolved int `json:"discarded_unresolved"`
	Units               int `json:"units"`

	// Enrichment and persistence.
	Processed     int `json:"processed"`
	Succeeded     int `json:"succeeded"`
	Failed        int `json:"failed"`
	Degraded      int `json:"degraded"`
	Skipped       int `json:"skipped"`
	FactFailures  int `json:"fact_failures"`
	IndexFailures int `json:"index_failures"`

	Passed   []UnitKey     `json:"passed,omitempty"`
	Failures []UnitFailure `json:"failures,omitempty"`

	TokenUsage TokenUsage `json:"token_usage"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

// Duration returns the wall-clock length of the run.
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
