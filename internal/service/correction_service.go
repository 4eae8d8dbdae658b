package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/RubachokBoss/qcm-grader/internal/models"
	"github.com/RubachokBoss/qcm-grader/internal/repository"
	"github.com/RubachokBoss/qcm-grader/internal/service/grading"
	"github.com/RubachokBoss/qcm-grader/internal/service/pipeline"
	"github.com/RubachokBoss/qcm-grader/internal/worker/queue"
	"github.com/RubachokBoss/qcm-grader/pkg/utils"
	"github.com/rs/zerolog"
)

type CorrectionService interface {
	RunCorrection(ctx context.Context, req models.CorrectionRequest) (*models.RunReport, error)
	RunCorrectionAsync(ctx context.Context, req models.CorrectionRequest) (*models.AsyncCorrectionResponse, error)
	ProcessRequested(ctx context.Context, event models.CorrectionRequestedEvent) (*models.RunReport, error)
	GetRun(ctx context.Context, runID string) (*models.RunReport, error)
	GetLatestRun(ctx context.Context, projectID string) (*models.RunReport, error)
	GetScores(ctx context.Context, runID string) (*models.ScoresResponse, error)
	GetProjectStatistics(ctx context.Context, projectID string) (*models.ProjectStatisticsResponse, error)
	GetOverview(ctx context.Context) (*models.StatisticsOverview, error)
	ListPolicies() *models.PoliciesResponse
	Ping(ctx context.Context) error
}

type CorrectionConfig struct {
	Exchange       string
	DefaultPolicy  string
	PersistTimeout time.Duration
	// RecentRuns bounds the activity list of the statistics overview.
	RecentRuns int
}

type correctionService struct {
	projects     ProjectStore
	orchestrator pipeline.Orchestrator
	runRepo      repository.RunRepository
	publisher    queue.RabbitMQPublisher
	logger       zerolog.Logger
	config       CorrectionConfig
}

// NewCorrectionService builds the service. publisher may be nil, in which case
// asynchronous runs are refused and no events are published.
func NewCorrectionService(
	projects ProjectStore,
	orchestrator pipeline.Orchestrator,
	runRepo repository.RunRepository,
	publisher queue.RabbitMQPublisher,
	logger zerolog.Logger,
	config CorrectionConfig,
) CorrectionService {
	if config.DefaultPolicy == "" {
		config.DefaultPolicy = grading.DefaultPolicy
	}
	if config.PersistTimeout <= 0 {
		config.PersistTimeout = 10 * time.Second
	}
	if config.RecentRuns <= 0 {
		config.RecentRuns = 5
	}
	return &correctionService{
		projects:     projects,
		orchestrator: orchestrator,
		runRepo:      runRepo,
		publisher:    publisher,
		logger:       logger,
		config:       config,
	}
}

func (s *correctionService) RunCorrection(ctx context.Context, req models.CorrectionRequest) (*models.RunReport, error) {
	return s.execute(ctx, utils.GenerateUUID(), req.ProjectID, req.Policy, pipeline.Options{
		ForceLayout: req.ForceLayout,
		SkipExport:  req.SkipExport,
		Formats:     req.Formats,
	})
}

func (s *correctionService) RunCorrectionAsync(ctx context.Context, req models.CorrectionRequest) (*models.AsyncCorrectionResponse, error) {
	if s.publisher == nil {
		return nil, ErrQueueUnavailable
	}
	if _, err := s.projects.Resolve(req.ProjectID); err != nil {
		return nil, err
	}

	now := time.Now()
	policy := s.policyName(req.Policy)
	summary := &models.RunSummary{
		RunID:     utils.GenerateUUID(),
		ProjectID: req.ProjectID,
		Policy:    policy,
		State:     models.StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.runRepo.CreatePending(ctx, summary); err != nil {
		return nil, fmt.Errorf("failed to create correction run: %w", err)
	}

	event := models.CorrectionRequestedEvent{
		RunID:       summary.RunID,
		ProjectID:   req.ProjectID,
		Policy:      policy,
		ForceLayout: req.ForceLayout,
		SkipExport:  req.SkipExport,
		Formats:     req.Formats,
		Timestamp:   now.Unix(),
	}
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal correction request: %w", err)
	}
	if err := s.publisher.Publish(ctx, s.config.Exchange, models.RoutingCorrectionRequested, body); err != nil {
		if updateErr := s.runRepo.UpdateState(ctx, summary.RunID, models.StateFailed, err.Error()); updateErr != nil {
			s.logger.Error().Err(updateErr).Str("run_id", summary.RunID).Msg("Failed to mark unpublished run as failed")
		}
		return nil, fmt.Errorf("failed to publish correction request: %w", err)
	}

	s.logger.Info().
		Str("project", req.ProjectID).
		Str("run_id", summary.RunID).
		Msg("Async correction requested")

	return &models.AsyncCorrectionResponse{
		RunID:     summary.RunID,
		ProjectID: req.ProjectID,
		Status:    string(models.StatePending),
		StatusURL: "/api/v1/corrections/" + summary.RunID,
	}, nil
}

// ProcessRequested executes a run queued by RunCorrectionAsync.
func (s *correctionService) ProcessRequested(ctx context.Context, event models.CorrectionRequestedEvent) (*models.RunReport, error) {
	report, err := s.execute(ctx, event.RunID, event.ProjectID, event.Policy, pipeline.Options{
		ForceLayout: event.ForceLayout,
		SkipExport:  event.SkipExport,
		Formats:     event.Formats,
	})
	if report == nil && err != nil && !isRetryable(err) {
		if updateErr := s.runRepo.UpdateState(ctx, event.RunID, models.StateFailed, err.Error()); updateErr != nil {
			s.logger.Error().Err(updateErr).Str("run_id", event.RunID).Msg("Failed to mark run as failed")
		}
	}
	return report, err
}

func (s *correctionService) execute(ctx context.Context, runID, projectID, policy string, opts pipeline.Options) (*models.RunReport, error) {
	project, err := s.projects.Resolve(projectID)
	if err != nil {
		return nil, err
	}
	roster, qs, err := s.projects.LoadInputs(project)
	if err != nil {
		return nil, err
	}

	opts.RunID = runID
	report, runErr := s.orchestrator.RunCorrection(ctx, project, roster, qs, s.policyName(policy), opts)
	if report == nil {
		return nil, runErr
	}

	// The run is recorded even when the caller went away mid-run.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.PersistTimeout)
	defer cancel()

	if err := s.runRepo.Save(persistCtx, report); err != nil {
		s.logger.Error().Err(err).Str("run_id", report.RunID).Msg("Failed to save correction run")
		if runErr == nil {
			return report, fmt.Errorf("failed to save correction run: %w", err)
		}
	}
	s.publishOutcome(persistCtx, report)

	return report, runErr
}

func (s *correctionService) publishOutcome(ctx context.Context, report *models.RunReport) {
	if s.publisher == nil {
		return
	}

	var (
		routingKey string
		event      interface{}
	)
	if report.State == models.StateFailed {
		routingKey = models.RoutingCorrectionFailed
		failed := models.CorrectionFailedEvent{
			RunID:       report.RunID,
			ProjectID:   report.ProjectID,
			FailedStage: report.FailedStage,
			Error:       report.Cause,
			PrintOnly:   report.PrintOnly,
			FailedAt:    time.Now(),
		}
		if outcome, ok := report.Outcome(report.FailedStage); ok && outcome.Failure != nil {
			failed.Kind = outcome.Failure.Kind
		}
		event = failed
	} else {
		routingKey = models.RoutingCorrectionCompleted
		completed := models.CorrectionCompletedEvent{
			RunID:       report.RunID,
			ProjectID:   report.ProjectID,
			State:       report.State,
			Policy:      report.Policy,
			Students:    len(report.Scores),
			Flagged:     report.Flagged,
			CompletedAt: time.Now(),
		}
		if report.Quality != nil {
			completed.QualityStatus = report.Quality.Status
		}
		event = completed
	}

	body, err := json.Marshal(event)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal correction event")
		return
	}
	if err := s.publisher.Publish(ctx, s.config.Exchange, routingKey, body); err != nil {
		s.logger.Error().Err(err).Str("routing_key", routingKey).Msg("Failed to publish correction event")
	}
}

func (s *correctionService) GetRun(ctx context.Context, runID string) (*models.RunReport, error) {
	report, err := s.runRepo.GetByID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get correction run: %w", err)
	}
	if report == nil {
		return nil, ErrRunNotFound
	}
	return report, nil
}

func (s *correctionService) GetLatestRun(ctx context.Context, projectID string) (*models.RunReport, error) {
	if !models.ValidProjectID(projectID) {
		return nil, ErrInvalidProjectID
	}
	report, err := s.runRepo.GetLatestByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest correction run: %w", err)
	}
	if report == nil {
		return nil, ErrRunNotFound
	}
	return report, nil
}

func (s *correctionService) GetScores(ctx context.Context, runID string) (*models.ScoresResponse, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	scores, err := s.runRepo.GetScores(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get scores: %w", err)
	}
	return &models.ScoresResponse{RunID: runID, Scores: scores, Total: len(scores)}, nil
}

// GetProjectStatistics returns the statistics document of the latest run of
// projectID. Runs that stopped before quality verification have none.
func (s *correctionService) GetProjectStatistics(ctx context.Context, projectID string) (*models.ProjectStatisticsResponse, error) {
	report, err := s.GetLatestRun(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if report.Statistics == nil {
		return nil, ErrNoStatistics
	}
	return &models.ProjectStatisticsResponse{
		RunID:      report.RunID,
		ProjectID:  report.ProjectID,
		Policy:     report.Policy,
		StartedAt:  report.StartedAt,
		Statistics: report.Statistics,
	}, nil
}

func (s *correctionService) GetOverview(ctx context.Context) (*models.StatisticsOverview, error) {
	now := time.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	overview, err := s.runRepo.GetOverview(ctx, monthStart, s.config.RecentRuns)
	if err != nil {
		return nil, fmt.Errorf("failed to get statistics overview: %w", err)
	}
	return overview, nil
}

func (s *correctionService) ListPolicies() *models.PoliciesResponse {
	return &models.PoliciesResponse{
		Policies: grading.Policies(),
		Dynamic:  []string{grading.PolicyAdaptive},
		Default:  s.config.DefaultPolicy,
	}
}

func (s *correctionService) Ping(ctx context.Context) error {
	return s.runRepo.Ping(ctx)
}

func (s *correctionService) policyName(name string) string {
	if name == "" {
		return s.config.DefaultPolicy
	}
	return name
}

// isRetryable reports whether a run that never started may be tried again.
func isRetryable(err error) bool {
	return errors.Is(err, pipeline.ErrRunInProgress)
}
