// Package types defines the request, response, and evaluation types shared
// across the qaforge control plane.
package types

import (
	"time"
)

// CompletionRequest represents a single LLM call.
type CompletionRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`

	// ContextHandle references a provider-side cached prompt prefix.
	// Populated by the client when an L3 entry exists for the request.
	ContextHandle string `json:"context_handle,omitempty"`
}

// FinishReason describes how the provider terminated generation.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
)

// Usage contains token usage statistics for a single call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage report into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Completion represents a single LLM response.
type Completion struct {
	ID           string       `json:"id"`
	Model        string       `json:"model"`
	Text         string       `json:"text"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        Usage        `json:"usage"`

	// Cached is true when the response was served from the response cache
	// rather than an outbound provider call.
	Cached    bool   `json:"cached,omitempty"`
	CacheTier string `json:"cache_tier,omitempty"`
}

// ContextHandle references a provider-held cached prompt prefix.
// The provider controls its lifetime; handles are never refreshed locally.
type ContextHandle struct {
	Name      string    `json:"name"`
	Model     string    `json:"model"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the handle is past its provider-side expiry.
func (h *ContextHandle) Expired() bool {
	return !h.ExpiresAt.IsZero() && time.Now().After(h.ExpiresAt)
}

// Candidate is one generated answer produced under a specific strategy.
// Candidates are immutable once created.
type Candidate struct {
	Strategy string        `json:"strategy"`
	Text     string        `json:"text"`
	Usage    Usage         `json:"usage"`
	Latency  time.Duration `json:"latency"`
}

// Violation records a deterministic quality-check failure.
// Hard violations make a candidate eligible for the single repair pass.
type Violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hard    bool   `json:"hard"`
}

// EvaluationScore holds the scoring breakdown for one candidate.
type EvaluationScore struct {
	Strategy     string      `json:"strategy"`
	Composite    float64     `json:"composite"`
	Accuracy     float64     `json:"accuracy"`
	Completeness float64     `json:"completeness"`
	Clarity      float64     `json:"clarity"`
	Relevance    float64     `json:"relevance"`
	Violations   []Violation `json:"violations,omitempty"`
}

// HardViolations returns the number of hard violations recorded on the score.
func (s *EvaluationScore) HardViolations() int {
	n := 0
	for _, v := range s.Violations {
		if v.Hard {
			n++
		}
	}
	return n
}

// WorkflowState is the state of a selection round.
type WorkflowState string

const (
	StateGenerating WorkflowState = "generating"
	StateEvaluating WorkflowState = "evaluating"
	StateAccepted   WorkflowState = "accepted" // terminal: winner passed evaluation clean
	StateRepairing  WorkflowState = "repairing"
	StateDone       WorkflowState = "done"   // terminal: winner went through the repair pass
	StateFailed     WorkflowState = "failed" // terminal: no strategy produced a candidate
)

// Provenance records how a selection round produced its answer.
type Provenance struct {
	RoundID        string           `json:"round_id"`
	Strategy       string           `json:"strategy"`
	Score          EvaluationScore  `json:"score"`
	CandidateCount int              `json:"candidate_count"`
	Dropped        []string         `json:"dropped,omitempty"`
	Repaired       bool             `json:"repaired,omitempty"`
	RepairScore    *EvaluationScore `json:"repair_score,omitempty"`
	Usage          Usage            `json:"usage"`
}

// SelectionResult is the final output of a generate-and-select round.
type SelectionResult struct {
	Answer     string        `json:"answer"`
	Provenance Provenance    `json:"provenance"`
	State      WorkflowState `json:"state"`
}
