package models

import (
	"time"
)

const (
	RoutingCorrectionRequested = "correction.requested"
	RoutingCorrectionCompleted = "correction.completed"
	RoutingCorrectionFailed    = "correction.failed"
)

type CorrectionRequestedEvent struct {
	RunID       string   `json:"run_id"`
	ProjectID   string   `json:"project_id"`
	Policy      string   `json:"policy"`
	ForceLayout bool     `json:"force_layout"`
	SkipExport  bool     `json:"skip_export"`
	Formats     []string `json:"formats,omitempty"`
	Timestamp   int64    `json:"timestamp"`
}

type CorrectionCompletedEvent struct {
	RunID         string        `json:"run_id"`
	ProjectID     string        `json:"project_id"`
	State         RunState      `json:"state"`
	Policy        string        `json:"policy"`
	Students      int           `json:"students"`
	QualityStatus QualityStatus `json:"quality_status,omitempty"`
	Flagged       bool          `json:"flagged"`
	CompletedAt   time.Time     `json:"completed_at"`
}

type CorrectionFailedEvent struct {
	RunID       string      `json:"run_id"`
	ProjectID   string      `json:"project_id"`
	FailedStage Stage       `json:"failed_stage"`
	Kind        FailureKind `json:"kind"`
	Error       string      `json:"error"`
	PrintOnly   bool        `json:"print_only"`
	FailedAt    time.Time   `json:"failed_at"`
}
