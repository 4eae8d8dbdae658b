package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/RubachokBoss/qcm-grader/internal/models"
	"github.com/rs/zerolog"
)

var ErrInvalidTransition = errors.New("invalid run state transition")

var transitions = map[models.RunState][]models.RunState{
	models.StateIdle:            {models.StateLayoutReady},
	models.StateLayoutReady:     {models.StateScansNormalized},
	models.StateScansNormalized: {models.StateAnalyzed},
	models.StateAnalyzed:        {models.StateScored},
	models.StateScored:          {models.StateVerified},
	models.StateVerified:        {models.StateExported, models.StateDone},
	models.StateExported:        {models.StateDone},
}

// CanTransition reports whether a run may move from one state to another.
// Any non-terminal state may fail.
func CanTransition(from, to models.RunState) bool {
	if to == models.StateFailed {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// tracker carries the run state forward and records the stage trace.
type tracker struct {
	report *models.RunReport
	logger zerolog.Logger
	now    func() time.Time
}

func newTracker(report *models.RunReport, logger zerolog.Logger, now func() time.Time) *tracker {
	return &tracker{report: report, logger: logger, now: now}
}

func (t *tracker) advance(to models.RunState) error {
	from := t.report.State
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	t.report.State = to
	t.logger.Debug().Str("from", string(from)).Str("to", string(to)).Msg("Run state changed")
	if to.Terminal() {
		finished := t.now()
		t.report.FinishedAt = &finished
	}
	return nil
}

func (t *tracker) succeed(outcome models.StageOutcome, started time.Time) {
	outcome.Status = models.StageSuccess
	outcome.Duration = t.now().Sub(started)
	t.report.Stages = append(t.report.Stages, outcome)
}

func (t *tracker) skip(stage models.Stage) {
	t.report.Stages = append(t.report.Stages, models.StageOutcome{Stage: stage, Status: models.StageSkipped})
}

// fail records the failure of stage and moves the run to the failed state.
// The returned error is a StageError naming the stage.
func (t *tracker) fail(outcome models.StageOutcome, started time.Time, err error) error {
	stageErr := asStageError(outcome.Stage, err)

	outcome.Status = models.StageFailure
	outcome.Duration = t.now().Sub(started)
	outcome.Failure = &models.Failure{
		Kind:     stageErr.Kind,
		Command:  stageErr.Command,
		ExitCode: stageErr.ExitCode,
		Cause:    stageErr.Error(),
		Stdout:   stageErr.Stdout,
		Stderr:   stageErr.Stderr,
	}
	t.report.Stages = append(t.report.Stages, outcome)
	t.report.FailedStage = outcome.Stage
	t.report.Cause = stageErr.Error()

	if advanceErr := t.advance(models.StateFailed); advanceErr != nil {
		t.logger.Error().Err(advanceErr).Msg("Failed to mark run as failed")
	}

	t.logger.Error().
		Str("stage", string(outcome.Stage)).
		Str("kind", string(stageErr.Kind)).
		Str("command", stageErr.Command).
		Int("exit_code", stageErr.ExitCode).
		Err(stageErr.Err).
		Msg("Run failed")

	return stageErr
}

func asStageError(stage models.Stage, err error) *models.StageError {
	var se *models.StageError
	if errors.As(err, &se) {
		copied := *se
		if copied.Stage == "" {
			copied.Stage = stage
		}
		if copied.Kind == "" {
			copied.Kind = models.KindOf(copied.Err)
		}
		return &copied
	}
	return &models.StageError{Stage: stage, Kind: models.KindOf(err), Err: err}
}
