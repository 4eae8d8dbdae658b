package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/RubachokBoss/qcm-grader/internal/models"
	"github.com/RubachokBoss/qcm-grader/internal/service/analysis"
	"github.com/RubachokBoss/qcm-grader/internal/service/export"
	"github.com/RubachokBoss/qcm-grader/internal/service/grading"
	"github.com/RubachokBoss/qcm-grader/internal/service/layout"
	"github.com/RubachokBoss/qcm-grader/internal/service/normalizer"
	"github.com/RubachokBoss/qcm-grader/internal/service/quality"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrPrintOnly = fmt.Errorf("%w: exam compiled without layout (print only)", models.ErrLayoutInvalid)

type Config struct {
	DPI                  int
	PageBudget           int
	AcceptDegradedLayout bool
	AdaptiveBands        grading.AdaptiveBands
}

type Options struct {
	RunID       string
	ForceLayout bool
	SkipExport  bool
	Formats     []string
}

type Orchestrator interface {
	RunCorrection(ctx context.Context, project *models.Project, roster *models.Roster, qs *models.QuestionSet, policyName string, opts Options) (*models.RunReport, error)
}

type orchestrator struct {
	preparer   layout.Preparer
	normalizer normalizer.Normalizer
	analyzer   analysis.Analyzer
	verifier   quality.Verifier
	exporter   export.Exporter
	locks      *ProjectLocks
	config     Config
	logger     zerolog.Logger
	now        func() time.Time
}

func NewOrchestrator(
	preparer layout.Preparer,
	normalizer normalizer.Normalizer,
	analyzer analysis.Analyzer,
	verifier quality.Verifier,
	exporter export.Exporter,
	locks *ProjectLocks,
	config Config,
	logger zerolog.Logger,
) Orchestrator {
	if config.DPI <= 0 {
		config.DPI = 300
	}
	if config.AdaptiveBands == (grading.AdaptiveBands{}) {
		config.AdaptiveBands = grading.DefaultAdaptiveBands()
	}
	if locks == nil {
		locks = NewProjectLocks()
	}
	return &orchestrator{
		preparer:   preparer,
		normalizer: normalizer,
		analyzer:   analyzer,
		verifier:   verifier,
		exporter:   exporter,
		locks:      locks,
		config:     config,
		logger:     logger,
		now:        time.Now,
	}
}

// run holds what the stages hand to each other.
type run struct {
	project *models.Project
	roster  *models.Roster
	qs      *models.QuestionSet
	key     models.AnswerKey
	opts    Options

	layout  *models.LayoutDescriptor
	pages   []models.NormalizedPage
	capture *models.Capture
	policy  models.Policy
	scores  []models.ScoreRecord
	quality models.QualityReport
	stats   models.Statistics
}

func (o *orchestrator) RunCorrection(ctx context.Context, project *models.Project, roster *models.Roster, qs *models.QuestionSet, policyName string, opts Options) (*models.RunReport, error) {
	release, err := o.locks.TryLock(project.Root)
	if err != nil {
		return nil, err
	}
	defer release()

	if opts.RunID == "" {
		opts.RunID = uuid.New().String()
	}
	report := &models.RunReport{
		RunID:     opts.RunID,
		ProjectID: project.ID,
		Policy:    policyName,
		State:     models.StateIdle,
		Stages:    []models.StageOutcome{},
		StartedAt: o.now(),
	}
	logger := o.logger.With().Str("project", project.ID).Str("run_id", opts.RunID).Logger()
	t := newTracker(report, logger, o.now)
	r := &run{project: project, roster: roster, qs: qs, opts: opts}

	logger.Info().Str("policy", policyName).Bool("force_layout", opts.ForceLayout).Msg("Correction run started")

	steps := []func(context.Context, *tracker, *run) error{
		o.checkInput,
		o.prepareLayout,
		o.normalizeScans,
		o.analyze,
		o.score,
		o.verify,
		o.export,
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return report, t.fail(models.StageOutcome{Stage: o.nextStage(report)}, o.now(), err)
		}
		if err := step(ctx, t, r); err != nil {
			return report, err
		}
	}

	if err := t.advance(models.StateDone); err != nil {
		return report, err
	}
	logger.Info().
		Int("students", len(report.Scores)).
		Str("quality", string(report.Quality.Status)).
		Bool("flagged", report.Flagged).
		Msg("Correction run finished")
	return report, nil
}

// nextStage names the stage a cancelled run was about to start.
func (o *orchestrator) nextStage(report *models.RunReport) models.Stage {
	switch report.State {
	case models.StateIdle:
		if len(report.Stages) == 0 {
			return models.StageInput
		}
		return models.StageLayout
	case models.StateLayoutReady:
		return models.StageNormalize
	case models.StateScansNormalized:
		return models.StageAnalysis
	case models.StateAnalyzed:
		return models.StageScoring
	case models.StateScored:
		return models.StageQuality
	default:
		return models.StageExport
	}
}

func (o *orchestrator) checkInput(_ context.Context, t *tracker, r *run) error {
	started := o.now()
	outcome := models.StageOutcome{Stage: models.StageInput}

	var err error
	switch {
	case r.qs == nil || len(r.qs.Questions) == 0:
		err = models.ErrQuestionSetMissing
	case r.roster == nil:
		err = models.ErrRosterMissing
	case r.roster.Len() == 0:
		err = models.ErrRosterEmpty
	default:
		r.qs.Normalize()
		err = r.qs.Validate()
	}
	if err != nil {
		return t.fail(outcome, started, err)
	}
	r.key = r.qs.AnswerKey()
	t.succeed(outcome, started)
	return nil
}

func (o *orchestrator) prepareLayout(ctx context.Context, t *tracker, r *run) error {
	started := o.now()
	outcome := models.StageOutcome{Stage: models.StageLayout}

	if !r.opts.ForceLayout && o.preparer.SourceCurrent(r.project, r.qs) {
		existing, err := o.preparer.LoadExisting(ctx, r.project)
		if err != nil {
			t.logger.Warn().Err(err).Msg("Existing layout unreadable, regenerating")
		}
		if existing.Valid() && len(layout.Validate(existing, r.qs)) == 0 {
			r.layout = existing
			outcome.Attempt = models.AttemptReused
			outcome.Layout = &models.LayoutDetail{Pages: existing.PageCount(), Zones: existing.ZoneCount()}
			t.succeed(outcome, started)
			t.logger.Info().Int("zones", existing.ZoneCount()).Msg("Reusing existing layout")
			return t.advance(models.StateLayoutReady)
		}
	}

	res, err := o.preparer.PrepareLayout(ctx, r.project, r.qs, layout.PrepareOptions{
		PageBudget:     o.config.PageBudget,
		AcceptDegraded: o.config.AcceptDegradedLayout,
	})
	if res != nil {
		outcome.Attempt = res.Attempt
		outcome.Layout = res.Detail()
	}
	if err != nil {
		return t.fail(outcome, started, err)
	}
	if res.PrintOnly {
		t.report.PrintOnly = true
		return t.fail(outcome, started, &models.StageError{Kind: models.KindLayoutInvalid, Err: ErrPrintOnly})
	}

	r.layout = res.Descriptor
	t.succeed(outcome, started)
	return t.advance(models.StateLayoutReady)
}

func (o *orchestrator) normalizeScans(ctx context.Context, t *tracker, r *run) error {
	started := o.now()
	outcome := models.StageOutcome{Stage: models.StageNormalize}

	artifacts, err := o.normalizer.Discover(r.project.UploadsDir())
	if err != nil {
		return t.fail(outcome, started, err)
	}
	res, err := o.normalizer.Normalize(ctx, r.project, artifacts, o.config.DPI)
	if res != nil {
		outcome.Scans = &models.ScanDetail{
			Artifacts:     len(artifacts),
			Pages:         len(res.Pages),
			Unusable:      res.Unusable,
			UnusableFiles: res.UnusableFiles,
		}
		t.report.UnusableArtifacts = res.Unusable
	}
	if err != nil {
		return t.fail(outcome, started, err)
	}

	r.pages = res.Pages
	t.succeed(outcome, started)
	return t.advance(models.StateScansNormalized)
}

func (o *orchestrator) analyze(ctx context.Context, t *tracker, r *run) error {
	started := o.now()
	outcome := models.StageOutcome{Stage: models.StageAnalysis}

	if r.layout.ZoneCount() == 0 {
		return t.fail(outcome, started, &models.StageError{
			Kind: models.KindLayoutInvalid,
			Err:  fmt.Errorf("%w: layout has no answer zone, recognition not attempted", models.ErrLayoutInvalid),
		})
	}

	capture, detail, err := o.analyzer.Analyze(ctx, r.project, r.pages, r.layout)
	outcome.Analysis = detail
	if err != nil {
		return t.fail(outcome, started, err)
	}

	r.capture = capture
	t.succeed(outcome, started)
	return t.advance(models.StateAnalyzed)
}

func (o *orchestrator) score(_ context.Context, t *tracker, r *run) error {
	started := o.now()
	outcome := models.StageOutcome{Stage: models.StageScoring}

	detections := models.RemapQuestions(r.capture.Detections, r.layout.QuestionPositions(r.key))
	r.policy = grading.Resolve(t.report.Policy, detections, r.key, o.config.AdaptiveBands)
	if !r.policy.Finite() {
		return t.fail(outcome, started, fmt.Errorf("policy %s has non-finite weights", r.policy.Name))
	}
	t.report.Policy = r.policy.Name

	r.scores = grading.Score(detections, r.key, r.policy)
	names := export.CapturedNames(r.capture)
	for i := range r.scores {
		s := &r.scores[i]
		s.Name = names[s.StudentID]
		if student, ok := r.roster.Lookup(s.StudentID); ok && s.Name == "" {
			s.Name = student.FullName()
		}
	}
	t.report.Scores = r.scores

	outcome.Scoring = &models.ScoringDetail{Policy: r.policy, Students: len(r.scores)}
	t.succeed(outcome, started)
	t.logger.Info().Str("policy", r.policy.Name).Int("students", len(r.scores)).Msg("Scores computed")
	return t.advance(models.StateScored)
}

func (o *orchestrator) verify(_ context.Context, t *tracker, r *run) error {
	started := o.now()
	report := o.verifier.Verify(r.scores, r.capture.Summary())
	r.quality = report

	r.stats = quality.BuildStatistics(r.scores, r.key, r.policy.Name, report)

	t.report.Quality = &report
	t.report.Statistics = &r.stats
	t.report.Flagged = report.Status == models.QualityProblematique
	t.succeed(models.StageOutcome{Stage: models.StageQuality, Quality: &report}, started)
	return t.advance(models.StateVerified)
}

func (o *orchestrator) export(ctx context.Context, t *tracker, r *run) error {
	if r.opts.SkipExport {
		t.skip(models.StageExport)
		return nil
	}
	started := o.now()
	outcome := models.StageOutcome{Stage: models.StageExport}

	manifest, err := o.exporter.Export(ctx, export.Request{
		Project:    r.project,
		RunID:      t.report.RunID,
		Scores:     r.scores,
		Key:        r.key,
		Roster:     r.roster,
		Capture:    r.capture,
		Statistics: &r.stats,
		Formats:    r.opts.Formats,
	})
	outcome.Export = manifest
	t.report.Manifest = manifest
	if manifest != nil {
		outcome.Attempt = manifest.AnnotationAttempt
	}
	if err != nil {
		return t.fail(outcome, started, err)
	}

	t.succeed(outcome, started)
	return t.advance(models.StateExported)
}
