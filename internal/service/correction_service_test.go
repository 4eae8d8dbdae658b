package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RubachokBoss/qcm-grader/internal/models"
	"github.com/RubachokBoss/qcm-grader/internal/service/pipeline"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProjects struct {
	resolveErr error
	loadErr    error
}

func (f *fakeProjects) Resolve(id string) (*models.Project, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return models.NewProject(id, "/projects/"+id), nil
}

func (f *fakeProjects) LoadInputs(*models.Project) (*models.Roster, *models.QuestionSet, error) {
	if f.loadErr != nil {
		return nil, nil, f.loadErr
	}
	return models.NewRoster([]models.Student{{ID: "1", LastName: "Dupont"}}), &models.QuestionSet{}, nil
}

type fakeOrchestrator struct {
	report *models.RunReport
	err    error
	policy string
	opts   pipeline.Options
}

func (f *fakeOrchestrator) RunCorrection(_ context.Context, project *models.Project, _ *models.Roster, _ *models.QuestionSet, policyName string, opts pipeline.Options) (*models.RunReport, error) {
	f.policy = policyName
	f.opts = opts
	if f.report != nil {
		f.report.RunID = opts.RunID
		f.report.ProjectID = project.ID
	}
	return f.report, f.err
}

type fakeRunRepo struct {
	saved   []*models.RunReport
	pending []*models.RunSummary
	states  map[string]models.RunState
	saveErr error
	stored  *models.RunReport
	scores  []models.ScoreRecord

	overview      *models.StatisticsOverview
	overviewSince time.Time
	overviewLimit int
}

func newFakeRunRepo() *fakeRunRepo {
	return &fakeRunRepo{states: map[string]models.RunState{}}
}

func (f *fakeRunRepo) CreatePending(_ context.Context, run *models.RunSummary) error {
	f.pending = append(f.pending, run)
	f.states[run.RunID] = run.State
	return nil
}

func (f *fakeRunRepo) Save(_ context.Context, report *models.RunReport) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, report)
	f.states[report.RunID] = report.State
	return nil
}

func (f *fakeRunRepo) UpdateState(_ context.Context, runID string, state models.RunState, _ string) error {
	f.states[runID] = state
	return nil
}

func (f *fakeRunRepo) GetByID(context.Context, string) (*models.RunReport, error) {
	return f.stored, nil
}

func (f *fakeRunRepo) GetLatestByProject(context.Context, string) (*models.RunReport, error) {
	return f.stored, nil
}

func (f *fakeRunRepo) GetScores(context.Context, string) ([]models.ScoreRecord, error) {
	return f.scores, nil
}

func (f *fakeRunRepo) GetOverview(_ context.Context, since time.Time, recent int) (*models.StatisticsOverview, error) {
	f.overviewSince, f.overviewLimit = since, recent
	if f.overview == nil {
		return &models.StatisticsOverview{RecentActivity: []models.RunSummary{}}, nil
	}
	return f.overview, nil
}

func (f *fakeRunRepo) Ping(context.Context) error { return nil }

type published struct {
	exchange, routingKey string
	body                 []byte
}

type fakePublisher struct {
	messages []published
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, exchange, routingKey string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, published{exchange, routingKey, body})
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type harness struct {
	projects     *fakeProjects
	orchestrator *fakeOrchestrator
	repo         *fakeRunRepo
	publisher    *fakePublisher
	svc          CorrectionService
}

func newHarness(withPublisher bool) *harness {
	h := &harness{
		projects:     &fakeProjects{},
		orchestrator: &fakeOrchestrator{},
		repo:         newFakeRunRepo(),
		publisher:    &fakePublisher{},
	}
	cfg := CorrectionConfig{Exchange: "qcm_exchange"}
	if withPublisher {
		h.svc = NewCorrectionService(h.projects, h.orchestrator, h.repo, h.publisher, zerolog.Nop(), cfg)
	} else {
		h.svc = NewCorrectionService(h.projects, h.orchestrator, h.repo, nil, zerolog.Nop(), cfg)
	}
	return h
}

func TestRunCorrection_SavesAndPublishesCompletion(t *testing.T) {
	h := newHarness(true)
	h.orchestrator.report = &models.RunReport{
		State:   models.StateDone,
		Policy:  "standard",
		Scores:  []models.ScoreRecord{{StudentID: "1"}, {StudentID: "2"}},
		Quality: &models.QualityReport{Status: models.QualityExcellent},
	}

	report, err := h.svc.RunCorrection(context.Background(), models.CorrectionRequest{ProjectID: "exam-1", Formats: []string{"xlsx"}})
	require.NoError(t, err)

	assert.Equal(t, "standard", h.orchestrator.policy)
	assert.Equal(t, []string{"xlsx"}, h.orchestrator.opts.Formats)
	assert.NotEmpty(t, report.RunID)
	require.Len(t, h.repo.saved, 1)
	assert.Equal(t, report.RunID, h.repo.saved[0].RunID)

	require.Len(t, h.publisher.messages, 1)
	msg := h.publisher.messages[0]
	assert.Equal(t, "qcm_exchange", msg.exchange)
	assert.Equal(t, models.RoutingCorrectionCompleted, msg.routingKey)

	var event models.CorrectionCompletedEvent
	require.NoError(t, json.Unmarshal(msg.body, &event))
	assert.Equal(t, 2, event.Students)
	assert.Equal(t, "exam-1", event.ProjectID)
	assert.Equal(t, models.QualityExcellent, event.QualityStatus)
}

func TestRunCorrection_FailedRunIsRecorded(t *testing.T) {
	h := newHarness(true)
	stageErr := models.NewToolFailure("auto-multiple-choice analyse", 3, "", "segfault")
	stageErr.Stage = models.StageAnalysis
	h.orchestrator.report = &models.RunReport{
		State:       models.StateFailed,
		FailedStage: models.StageAnalysis,
		Cause:       stageErr.Error(),
		Stages: []models.StageOutcome{{
			Stage:   models.StageAnalysis,
			Status:  models.StageFailure,
			Failure: &models.Failure{Kind: models.KindExternalToolFailure},
		}},
	}
	h.orchestrator.err = stageErr

	report, err := h.svc.RunCorrection(context.Background(), models.CorrectionRequest{ProjectID: "exam-1", Policy: "harsh"})
	require.Error(t, err)
	require.NotNil(t, report)
	assert.Equal(t, "harsh", h.orchestrator.policy)
	require.Len(t, h.repo.saved, 1)

	require.Len(t, h.publisher.messages, 1)
	assert.Equal(t, models.RoutingCorrectionFailed, h.publisher.messages[0].routingKey)
	var event models.CorrectionFailedEvent
	require.NoError(t, json.Unmarshal(h.publisher.messages[0].body, &event))
	assert.Equal(t, models.StageAnalysis, event.FailedStage)
	assert.Equal(t, models.KindExternalToolFailure, event.Kind)
}

func TestRunCorrection_BusyProjectIsNotRecorded(t *testing.T) {
	h := newHarness(true)
	h.orchestrator.err = pipeline.ErrRunInProgress

	report, err := h.svc.RunCorrection(context.Background(), models.CorrectionRequest{ProjectID: "exam-1"})
	assert.Nil(t, report)
	assert.ErrorIs(t, err, pipeline.ErrRunInProgress)
	assert.Empty(t, h.repo.saved)
	assert.Empty(t, h.publisher.messages)
}

func TestRunCorrection_SaveFailure(t *testing.T) {
	h := newHarness(false)
	h.orchestrator.report = &models.RunReport{State: models.StateDone}
	h.repo.saveErr = errors.New("connection refused")

	report, err := h.svc.RunCorrection(context.Background(), models.CorrectionRequest{ProjectID: "exam-1"})
	require.NotNil(t, report)
	assert.ErrorContains(t, err, "failed to save correction run")
}

func TestRunCorrectionAsync(t *testing.T) {
	h := newHarness(true)

	resp, err := h.svc.RunCorrectionAsync(context.Background(), models.CorrectionRequest{
		ProjectID:  "exam-1",
		SkipExport: true,
		Formats:    []string{"csv"},
	})
	require.NoError(t, err)

	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, "/api/v1/corrections/"+resp.RunID, resp.StatusURL)
	require.Len(t, h.repo.pending, 1)
	assert.Equal(t, "standard", h.repo.pending[0].Policy)

	require.Len(t, h.publisher.messages, 1)
	assert.Equal(t, models.RoutingCorrectionRequested, h.publisher.messages[0].routingKey)
	var event models.CorrectionRequestedEvent
	require.NoError(t, json.Unmarshal(h.publisher.messages[0].body, &event))
	assert.Equal(t, resp.RunID, event.RunID)
	assert.True(t, event.SkipExport)
	assert.Equal(t, []string{"csv"}, event.Formats)
}

func TestRunCorrectionAsync_Failures(t *testing.T) {
	h := newHarness(false)
	_, err := h.svc.RunCorrectionAsync(context.Background(), models.CorrectionRequest{ProjectID: "exam-1"})
	assert.ErrorIs(t, err, ErrQueueUnavailable)

	h = newHarness(true)
	h.projects.resolveErr = ErrProjectNotFound
	_, err = h.svc.RunCorrectionAsync(context.Background(), models.CorrectionRequest{ProjectID: "exam-1"})
	assert.ErrorIs(t, err, ErrProjectNotFound)
	assert.Empty(t, h.repo.pending)

	h = newHarness(true)
	h.publisher.err = errors.New("channel closed")
	_, err = h.svc.RunCorrectionAsync(context.Background(), models.CorrectionRequest{ProjectID: "exam-1"})
	require.Error(t, err)
	require.Len(t, h.repo.pending, 1)
	assert.Equal(t, models.StateFailed, h.repo.states[h.repo.pending[0].RunID])
}

func TestProcessRequested(t *testing.T) {
	h := newHarness(true)
	h.orchestrator.report = &models.RunReport{State: models.StateDone}

	report, err := h.svc.ProcessRequested(context.Background(), models.CorrectionRequestedEvent{
		RunID:       "run-1",
		ProjectID:   "exam-1",
		ForceLayout: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "run-1", report.RunID)
	assert.True(t, h.orchestrator.opts.ForceLayout)
	assert.Equal(t, models.StateDone, h.repo.states["run-1"])
}

func TestProcessRequested_UnstartedRuns(t *testing.T) {
	h := newHarness(true)
	h.projects.resolveErr = ErrProjectNotFound
	_, err := h.svc.ProcessRequested(context.Background(), models.CorrectionRequestedEvent{RunID: "run-1", ProjectID: "gone"})
	assert.ErrorIs(t, err, ErrProjectNotFound)
	assert.Equal(t, models.StateFailed, h.repo.states["run-1"])

	h = newHarness(true)
	h.orchestrator.err = pipeline.ErrRunInProgress
	h.repo.states["run-2"] = models.StatePending
	_, err = h.svc.ProcessRequested(context.Background(), models.CorrectionRequestedEvent{RunID: "run-2", ProjectID: "exam-1"})
	assert.ErrorIs(t, err, pipeline.ErrRunInProgress)
	assert.Equal(t, models.StatePending, h.repo.states["run-2"])
}

func TestQueries(t *testing.T) {
	h := newHarness(false)

	_, err := h.svc.GetRun(context.Background(), "run-1")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = h.svc.GetScores(context.Background(), "run-1")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = h.svc.GetLatestRun(context.Background(), "../etc")
	assert.ErrorIs(t, err, ErrInvalidProjectID)

	h.repo.stored = &models.RunReport{RunID: "run-1", State: models.StateDone}
	h.repo.scores = []models.ScoreRecord{{StudentID: "1", Mark: 2, MaxMark: 2}}

	scores, err := h.svc.GetScores(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, scores.Total)

	latest, err := h.svc.GetLatestRun(context.Background(), "exam-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", latest.RunID)

	policies := h.svc.ListPolicies()
	assert.Equal(t, "standard", policies.Default)
	assert.Equal(t, []string{"adaptive"}, policies.Dynamic)
	assert.NotEmpty(t, policies.Policies)
}

const questionsYAML = `
title: Test
questions:
  - text: Capitale ?
    choices:
      - {text: Paris, correct: true}
      - {text: Lyon}
`

func TestProjectStore(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "exam-1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "not-a-dir"), []byte("x"), 0o644))
	store := NewProjectStore(root)

	_, err := store.Resolve("../exam-1")
	assert.ErrorIs(t, err, ErrInvalidProjectID)
	_, err = store.Resolve("missing")
	assert.ErrorIs(t, err, ErrProjectNotFound)
	_, err = store.Resolve("not-a-dir")
	assert.ErrorIs(t, err, ErrProjectNotFound)

	project, err := store.Resolve("exam-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "exam-1"), project.Root)

	roster, qs, err := store.LoadInputs(project)
	require.NoError(t, err)
	assert.Nil(t, roster)
	assert.Nil(t, qs)

	require.NoError(t, os.WriteFile(project.RosterPath(), []byte("id,nom,prenom\n1,Dupont,Jean\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(project.Root, "questions.yaml"), []byte(questionsYAML), 0o644))
	roster, qs, err = store.LoadInputs(project)
	require.NoError(t, err)
	assert.Equal(t, 1, roster.Len())
	require.NotNil(t, qs)
	assert.Len(t, qs.Questions, 1)

	require.NoError(t, os.WriteFile(filepath.Join(project.Root, "questions.yaml"), []byte("questions: [{text: Q, choices: [{text: A}, {text: B}]}]"), 0o644))
	_, _, err = store.LoadInputs(project)
	var stageErr *models.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, models.KindInputMissing, stageErr.Kind)
	assert.Equal(t, models.StageInput, stageErr.Stage)
}

func TestGetProjectStatistics(t *testing.T) {
	h := newHarness(false)

	_, err := h.svc.GetProjectStatistics(context.Background(), "exam-1")
	assert.ErrorIs(t, err, ErrRunNotFound)

	h.repo.stored = &models.RunReport{RunID: "run-1", ProjectID: "exam-1", State: models.StateFailed}
	_, err = h.svc.GetProjectStatistics(context.Background(), "exam-1")
	assert.ErrorIs(t, err, ErrNoStatistics)

	h.repo.stored = &models.RunReport{
		RunID:      "run-2",
		ProjectID:  "exam-1",
		Policy:     "standard",
		State:      models.StateDone,
		Statistics: &models.Statistics{General: models.GeneralStatistics{Students: 12, Mean20: 11.5}},
	}
	resp, err := h.svc.GetProjectStatistics(context.Background(), "exam-1")
	require.NoError(t, err)
	assert.Equal(t, "run-2", resp.RunID)
	assert.Equal(t, 12, resp.Statistics.General.Students)
}

func TestGetOverview(t *testing.T) {
	h := newHarness(false)
	h.repo.overview = &models.StatisticsOverview{TotalProjects: 3, CorrectedProjects: 2, PapersProcessed: 40, MeanScore20: 12.25}

	overview, err := h.svc.GetOverview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 40, overview.PapersProcessed)
	assert.Equal(t, 5, h.repo.overviewLimit)
	assert.Equal(t, 1, h.repo.overviewSince.Day())
	assert.Zero(t, h.repo.overviewSince.Hour())
}
