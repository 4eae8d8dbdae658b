package models

import "time"

// Data Transfer Objects

type CorrectionRequest struct {
	ProjectID   string   `json:"project_id" validate:"project_id"`
	Policy      string   `json:"policy" validate:"omitempty,max=64"`
	ForceLayout bool     `json:"force_layout"`
	SkipExport  bool     `json:"skip_export"`
	Formats     []string `json:"formats" validate:"omitempty,dive,oneof=csv xlsx"`
}

type AsyncCorrectionResponse struct {
	RunID     string `json:"run_id"`
	ProjectID string `json:"project_id"`
	Status    string `json:"status"`
	StatusURL string `json:"status_url"`
}

// RunSummary is a persisted run without its full trace.
type RunSummary struct {
	RunID         string        `json:"run_id"`
	ProjectID     string        `json:"project_id"`
	Policy        string        `json:"policy"`
	State         RunState      `json:"state"`
	FailedStage   Stage         `json:"failed_stage,omitempty"`
	Cause         string        `json:"cause,omitempty"`
	PrintOnly     bool          `json:"print_only"`
	Flagged       bool          `json:"flagged"`
	QualityStatus QualityStatus `json:"quality_status,omitempty"`
	QualityScore  *int          `json:"quality_score,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type ScoresResponse struct {
	RunID  string        `json:"run_id"`
	Scores []ScoreRecord `json:"scores"`
	Total  int           `json:"total"`
}

// StatisticsOverview aggregates the latest run with statistics of every
// project.
type StatisticsOverview struct {
	TotalProjects     int          `json:"total_projects"`
	CorrectedProjects int          `json:"corrected_projects"`
	PapersProcessed   int          `json:"papers_processed"`
	MeanScore20       float64      `json:"mean_score_20"`
	RunsThisMonth     int          `json:"runs_this_month"`
	RecentActivity    []RunSummary `json:"recent_activity"`
}

type ProjectStatisticsResponse struct {
	RunID      string      `json:"run_id"`
	ProjectID  string      `json:"project_id"`
	Policy     string      `json:"policy"`
	StartedAt  time.Time   `json:"started_at"`
	Statistics *Statistics `json:"statistics"`
}

type PoliciesResponse struct {
	Policies []Policy `json:"policies"`
	Dynamic  []string `json:"dynamic"`
	Default  string   `json:"default"`
}

type HealthCheckResponse struct {
	Status        string    `json:"status"`
	Database      bool      `json:"database"`
	ActiveWorkers int       `json:"active_workers"`
	QueueLength   int       `json:"queue_length"`
	Uptime        string    `json:"uptime"`
	Timestamp     time.Time `json:"timestamp"`
}
