package models

import "time"

// Divergence types classified by the learning task.
const (
	DivergenceTiming         = "timing_divergence"
	DivergenceHumanSkipped   = "human_skipped"
	DivergenceHumanInitiated = "human_initiated"
)

// Memory is a lesson learned from an AI/human divergence.
// Persisted as memories/<id>.json and indexed for retrieval.
type Memory struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	SignalID       string    `json:"signal_id,omitempty"`
	DivergenceType string    `json:"divergence_type"`
	AIAction       string    `json:"ai_action"`
	HumanAction    string    `json:"human_action"`
	WhoWasRight    string    `json:"who_was_right"` // ai, human, both, neither
	Lesson         string    `json:"lesson"`
	Tags           []string  `json:"tags"`

	// Suggested adjustment to future signal confidence, clamped to [-0.1, 0.1].
	ConfidenceImpact float64 `json:"confidence_impact"`
	Source           string  `json:"source"` // production or simulation id
}

// NewMemory creates a memory with a fresh id.
func NewMemory() *Memory {
	return &Memory{
		ID:        NewID("mem"),
		CreatedAt: time.Now().UTC(),
		Source:    "production",
	}
}

// ClampConfidenceImpact bounds the impact to the allowed range.
func (m *Memory) ClampConfidenceImpact() {
	if m.ConfidenceImpact > 0.1 {
		m.ConfidenceImpact = 0.1
	}
	if m.ConfidenceImpact < -0.1 {
		m.ConfidenceImpact = -0.1
	}
}
