package models

import "time"

type Stage string

const (
	StageInput     Stage = "input"
	StageLayout    Stage = "layout"
	StageNormalize Stage = "normalize"
	StageAnalysis  Stage = "analysis"
	StageScoring   Stage = "scoring"
	StageQuality   Stage = "quality"
	StageExport    Stage = "export"
)

func (s Stage) String() string {
	return string(s)
}

type RunState string

const (
	StateIdle            RunState = "idle"
	StateLayoutReady     RunState = "layout_ready"
	StateScansNormalized RunState = "scans_normalized"
	StateAnalyzed        RunState = "analyzed"
	StateScored          RunState = "scored"
	StateVerified        RunState = "verified"
	StateExported        RunState = "exported"
	StateDone            RunState = "done"
	StateFailed          RunState = "failed"

	// StatePending is only used for runs queued for asynchronous execution.
	StatePending RunState = "pending"
)

func (s RunState) String() string {
	return string(s)
}

func (s RunState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

type StageStatus string

const (
	StageSuccess StageStatus = "success"
	StageFailure StageStatus = "failure"
	StageSkipped StageStatus = "skipped"
)

type Attempt string

const (
	AttemptPrimary  Attempt = "primary"
	AttemptFallback Attempt = "fallback"
	AttemptReused   Attempt = "reused"
)

type Failure struct {
	Kind     FailureKind `json:"kind"`
	Command  string      `json:"command,omitempty"`
	ExitCode int         `json:"exit_code,omitempty"`
	Cause    string      `json:"cause"`
	Stdout   string      `json:"stdout,omitempty"`
	Stderr   string      `json:"stderr,omitempty"`
}

type LayoutDetail struct {
	PrintOnly    bool     `json:"print_only"`
	DocumentPath string   `json:"document_path,omitempty"`
	Pages        int      `json:"pages"`
	Zones        int      `json:"zones"`
	Warnings     []string `json:"warnings,omitempty"`
}

type ScanDetail struct {
	Artifacts     int      `json:"artifacts"`
	Pages         int      `json:"pages"`
	Unusable      int      `json:"unusable"`
	UnusableFiles []string `json:"unusable_files,omitempty"`
}

type AnalysisDetail struct {
	Batches    int `json:"batches"`
	Pages      int `json:"pages"`
	Papers     int `json:"papers"`
	Detections int `json:"detections"`
}

type ScoringDetail struct {
	Policy   Policy `json:"policy"`
	Students int    `json:"students"`
}

type ExportedFile struct {
	Kind string `json:"kind"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

type ExportManifest struct {
	Files             []ExportedFile `json:"files"`
	RenamedCount      int            `json:"renamed_count"`
	UnmatchedIDs      []string       `json:"unmatched_ids,omitempty"`
	AnnotationAttempt Attempt        `json:"annotation_attempt,omitempty"`
	AnnotatedCount    int            `json:"annotated_count"`
	Archived          []string       `json:"archived,omitempty"`
}

// StageOutcome is one entry of the ordered run trace. Exactly one of the
// detail pointers is set on success, matching Stage.
type StageOutcome struct {
	Stage    Stage         `json:"stage"`
	Status   StageStatus   `json:"status"`
	Attempt  Attempt       `json:"attempt,omitempty"`
	Duration time.Duration `json:"duration_ns"`
	Failure  *Failure      `json:"failure,omitempty"`

	Layout   *LayoutDetail   `json:"layout,omitempty"`
	Scans    *ScanDetail     `json:"scans,omitempty"`
	Analysis *AnalysisDetail `json:"analysis,omitempty"`
	Scoring  *ScoringDetail  `json:"scoring,omitempty"`
	Quality  *QualityReport  `json:"quality,omitempty"`
	Export   *ExportManifest `json:"export,omitempty"`
}

type RunReport struct {
	RunID             string          `json:"run_id"`
	ProjectID         string          `json:"project_id"`
	Policy            string          `json:"policy"`
	State             RunState        `json:"state"`
	FailedStage       Stage           `json:"failed_stage,omitempty"`
	Cause             string          `json:"cause,omitempty"`
	PrintOnly         bool            `json:"print_only"`
	Flagged           bool            `json:"flagged"`
	UnusableArtifacts int             `json:"unusable_artifacts"`
	Stages            []StageOutcome  `json:"stages"`
	Scores            []ScoreRecord   `json:"scores,omitempty"`
	Quality           *QualityReport  `json:"quality,omitempty"`
	Statistics        *Statistics     `json:"statistics,omitempty"`
	Manifest          *ExportManifest `json:"manifest,omitempty"`
	StartedAt         time.Time       `json:"started_at"`
	FinishedAt        *time.Time      `json:"finished_at,omitempty"`
}

// Outcome returns the last trace entry recorded for stage.
func (r *RunReport) Outcome(stage Stage) (StageOutcome, bool) {
	for i := len(r.Stages) - 1; i >= 0; i-- {
		if r.Stages[i].Stage == stage {
			return r.Stages[i], true
		}
	}
	return StageOutcome{}, false
}
