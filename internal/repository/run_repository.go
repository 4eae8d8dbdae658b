package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/RubachokBoss/qcm-grader/internal/models"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

type RunRepository interface {
	CreatePending(ctx context.Context, run *models.RunSummary) error
	Save(ctx context.Context, report *models.RunReport) error
	UpdateState(ctx context.Context, runID string, state models.RunState, cause string) error
	GetByID(ctx context.Context, runID string) (*models.RunReport, error)
	GetLatestByProject(ctx context.Context, projectID string) (*models.RunReport, error)
	GetScores(ctx context.Context, runID string) ([]models.ScoreRecord, error)
	GetOverview(ctx context.Context, since time.Time, recent int) (*models.StatisticsOverview, error)
	Ping(ctx context.Context) error
}

type runRepository struct {
	*PostgresRepository
}

func NewRunRepository(db *sql.DB, logger zerolog.Logger) RunRepository {
	return &runRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

const runColumns = `
	id, project_id, policy, state, failed_stage, cause, print_only, flagged,
	quality_status, quality_score, unusable_artifacts, unmatched_ids, report,
	created_at, updated_at, finished_at
`

func (r *runRepository) CreatePending(ctx context.Context, run *models.RunSummary) error {
	query := `
		INSERT INTO correction_runs (
			id, project_id, policy, state, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		run.RunID,
		run.ProjectID,
		run.Policy,
		string(run.State),
		run.CreatedAt,
		run.UpdatedAt,
	)
	return err
}

// Save upserts the run row and replaces its score records in one transaction.
func (r *runRepository) Save(ctx context.Context, report *models.RunReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}

	var (
		qualityStatus sql.NullString
		qualityScore  sql.NullInt64
		unmatched     []string
	)
	if report.Quality != nil {
		qualityStatus = sql.NullString{String: string(report.Quality.Status), Valid: true}
		qualityScore = sql.NullInt64{Int64: int64(report.Quality.Score), Valid: true}
	}
	if report.Manifest != nil {
		unmatched = report.Manifest.UnmatchedIDs
	}

	return r.WithTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO correction_runs (
				id, project_id, policy, state, failed_stage, cause, print_only, flagged,
				quality_status, quality_score, unusable_artifacts, unmatched_ids, report,
				created_at, updated_at, finished_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
			)
			ON CONFLICT (id) DO UPDATE SET
				policy = EXCLUDED.policy,
				state = EXCLUDED.state,
				failed_stage = EXCLUDED.failed_stage,
				cause = EXCLUDED.cause,
				print_only = EXCLUDED.print_only,
				flagged = EXCLUDED.flagged,
				quality_status = EXCLUDED.quality_status,
				quality_score = EXCLUDED.quality_score,
				unusable_artifacts = EXCLUDED.unusable_artifacts,
				unmatched_ids = EXCLUDED.unmatched_ids,
				report = EXCLUDED.report,
				updated_at = EXCLUDED.updated_at,
				finished_at = EXCLUDED.finished_at
		`
		_, err := tx.ExecContext(ctx, query,
			report.RunID,
			report.ProjectID,
			report.Policy,
			string(report.State),
			string(report.FailedStage),
			report.Cause,
			report.PrintOnly,
			report.Flagged,
			qualityStatus,
			qualityScore,
			report.UnusableArtifacts,
			pq.Array(unmatched),
			payload,
			report.StartedAt,
			time.Now(),
			report.FinishedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert correction run: %w", err)
		}

		return r.saveScores(ctx, tx, report.RunID, report.Scores)
	})
}

func (r *runRepository) saveScores(ctx context.Context, tx *sql.Tx, runID string, scores []models.ScoreRecord) error {
	ids := make([]string, 0, len(scores))
	query := `
		INSERT INTO score_records (run_id, student_id, name, mark, max_mark, breakdown)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id, student_id) DO UPDATE SET
			name = EXCLUDED.name,
			mark = EXCLUDED.mark,
			max_mark = EXCLUDED.max_mark,
			breakdown = EXCLUDED.breakdown
	`
	for _, s := range scores {
		breakdown, err := json.Marshal(s.Breakdown)
		if err != nil {
			return fmt.Errorf("failed to marshal breakdown of %s: %w", s.StudentID, err)
		}
		if _, err := tx.ExecContext(ctx, query, runID, s.StudentID, s.Name, s.Mark, s.MaxMark, breakdown); err != nil {
			return fmt.Errorf("failed to upsert score of %s: %w", s.StudentID, err)
		}
		ids = append(ids, s.StudentID)
	}

	// Drop records of students no longer present in this run.
	_, err := tx.ExecContext(ctx,
		`DELETE FROM score_records WHERE run_id = $1 AND NOT (student_id = ANY($2))`,
		runID, pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("failed to prune scores: %w", err)
	}
	return nil
}

func (r *runRepository) UpdateState(ctx context.Context, runID string, state models.RunState, cause string) error {
	query := `
		UPDATE correction_runs
		SET state = $2, cause = $3, updated_at = $4
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, runID, string(state), cause, time.Now())
	return err
}

func (r *runRepository) GetByID(ctx context.Context, runID string) (*models.RunReport, error) {
	query := `SELECT ` + runColumns + ` FROM correction_runs WHERE id = $1`
	return r.scanRun(r.db.QueryRowContext(ctx, query, runID))
}

func (r *runRepository) GetLatestByProject(ctx context.Context, projectID string) (*models.RunReport, error) {
	query := `
		SELECT ` + runColumns + `
		FROM correction_runs
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.scanRun(r.db.QueryRowContext(ctx, query, projectID))
}

// scanRun decodes a run row. Pending runs have no report document yet and are
// rebuilt from their columns.
func (r *runRepository) scanRun(row *sql.Row) (*models.RunReport, error) {
	var (
		summary       models.RunSummary
		state         string
		failedStage   sql.NullString
		cause         sql.NullString
		qualityStatus sql.NullString
		qualityScore  sql.NullInt64
		unusable      sql.NullInt64
		unmatched     []sql.NullString
		payload       []byte
		finishedAt    sql.NullTime
	)

	err := row.Scan(
		&summary.RunID,
		&summary.ProjectID,
		&summary.Policy,
		&state,
		&failedStage,
		&cause,
		&summary.PrintOnly,
		&summary.Flagged,
		&qualityStatus,
		&qualityScore,
		&unusable,
		pq.Array(&unmatched),
		&payload,
		&summary.CreatedAt,
		&summary.UpdatedAt,
		&finishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if len(payload) > 0 {
		var report models.RunReport
		if err := json.Unmarshal(payload, &report); err != nil {
			return nil, fmt.Errorf("failed to decode run report %s: %w", summary.RunID, err)
		}
		return &report, nil
	}

	report := &models.RunReport{
		RunID:             summary.RunID,
		ProjectID:         summary.ProjectID,
		Policy:            summary.Policy,
		State:             models.RunState(state),
		FailedStage:       models.Stage(failedStage.String),
		Cause:             cause.String,
		PrintOnly:         summary.PrintOnly,
		Flagged:           summary.Flagged,
		UnusableArtifacts: int(unusable.Int64),
		Stages:            []models.StageOutcome{},
		StartedAt:         summary.CreatedAt,
	}
	if finishedAt.Valid {
		report.FinishedAt = &finishedAt.Time
	}
	return report, nil
}

func (r *runRepository) GetScores(ctx context.Context, runID string) ([]models.ScoreRecord, error) {
	query := `
		SELECT student_id, name, mark, max_mark, breakdown
		FROM score_records
		WHERE run_id = $1
	`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scores := []models.ScoreRecord{}
	for rows.Next() {
		var (
			s         models.ScoreRecord
			name      sql.NullString
			breakdown []byte
		)
		if err := rows.Scan(&s.StudentID, &name, &s.Mark, &s.MaxMark, &breakdown); err != nil {
			return nil, err
		}
		s.Name = name.String
		if len(breakdown) > 0 {
			if err := json.Unmarshal(breakdown, &s.Breakdown); err != nil {
				return nil, fmt.Errorf("failed to decode breakdown of %s: %w", s.StudentID, err)
			}
		}
		scores = append(scores, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ids := make([]string, len(scores))
	byID := make(map[string]models.ScoreRecord, len(scores))
	for i, s := range scores {
		ids[i] = s.StudentID
		byID[s.StudentID] = s
	}
	models.SortStudentIDs(ids)
	for i, id := range ids {
		scores[i] = byID[id]
	}
	return scores, nil
}

// GetOverview aggregates the latest run carrying statistics of each project.
// Runs created at or after since are counted as this month's activity.
func (r *runRepository) GetOverview(ctx context.Context, since time.Time, recent int) (*models.StatisticsOverview, error) {
	query := `
		WITH latest AS (
			SELECT DISTINCT ON (project_id) id, project_id, report
			FROM correction_runs
			WHERE report -> 'statistics' IS NOT NULL
			ORDER BY project_id, created_at DESC
		)
		SELECT
			(SELECT COUNT(DISTINCT project_id) FROM correction_runs),
			(SELECT COUNT(*) FROM latest),
			(SELECT COUNT(*) FROM score_records s JOIN latest l ON l.id = s.run_id),
			(SELECT AVG((report -> 'statistics' -> 'general' ->> 'mean_20')::DOUBLE PRECISION) FROM latest),
			(SELECT COUNT(*) FROM correction_runs WHERE created_at >= $1)
	`

	var (
		overview models.StatisticsOverview
		mean     sql.NullFloat64
	)
	err := r.db.QueryRowContext(ctx, query, since).Scan(
		&overview.TotalProjects,
		&overview.CorrectedProjects,
		&overview.PapersProcessed,
		&mean,
		&overview.RunsThisMonth,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate correction runs: %w", err)
	}
	overview.MeanScore20 = mean.Float64

	activity, err := r.recentRuns(ctx, recent)
	if err != nil {
		return nil, err
	}
	overview.RecentActivity = activity
	return &overview, nil
}

func (r *runRepository) recentRuns(ctx context.Context, limit int) ([]models.RunSummary, error) {
	query := `
		SELECT id, project_id, policy, state, failed_stage, cause, print_only, flagged,
			quality_status, quality_score, created_at, updated_at
		FROM correction_runs
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent runs: %w", err)
	}
	defer rows.Close()

	runs := []models.RunSummary{}
	for rows.Next() {
		var (
			s             models.RunSummary
			state         string
			failedStage   sql.NullString
			cause         sql.NullString
			qualityStatus sql.NullString
			qualityScore  sql.NullInt64
		)
		if err := rows.Scan(
			&s.RunID,
			&s.ProjectID,
			&s.Policy,
			&state,
			&failedStage,
			&cause,
			&s.PrintOnly,
			&s.Flagged,
			&qualityStatus,
			&qualityScore,
			&s.CreatedAt,
			&s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan recent run: %w", err)
		}
		s.State = models.RunState(state)
		s.FailedStage = models.Stage(failedStage.String)
		s.Cause = cause.String
		s.QualityStatus = models.QualityStatus(qualityStatus.String)
		if qualityScore.Valid {
			score := int(qualityScore.Int64)
			s.QualityScore = &score
		}
		runs = append(runs, s)
	}
	return runs, rows.Err()
}
