package models

import "time"

// MaxLeafSummaryLength caps the summary returned by a leaf executor
const MaxLeafSummaryLength = 100

// ExecutionContext carries job identity into a leaf executor call
type ExecutionContext struct {
	JobID       string
	Depth       int
	AncestorIDs []string
	Deadline    time.Time
}

// LeafResult is the structured outcome of one leaf execution
type LeafResult struct {
	Summary string                 `json:"summary"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// TruncateSummary enforces the summary length cap
func TruncateSummary(s string) string {
	if len(s) <= MaxLeafSummaryLength {
		return s
	}
	return s[:MaxLeafSummaryLength]
}
