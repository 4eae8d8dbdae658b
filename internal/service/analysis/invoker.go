package analysis

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/RubachokBoss/qcm-grader/internal/models"
	"github.com/RubachokBoss/qcm-grader/internal/service/integration"
	"github.com/rs/zerolog"
)

type Config struct {
	MaxArgsBytes     int
	MaxPagesPerBatch int
}

type Analyzer interface {
	Analyze(ctx context.Context, project *models.Project, pages []models.NormalizedPage, layout *models.LayoutDescriptor) (*models.Capture, *models.AnalysisDetail, error)
}

type analyzer struct {
	recognizer integration.Invoker
	store      CaptureStore
	config     Config
	logger     zerolog.Logger
}

func NewAnalyzer(recognizer integration.Invoker, store CaptureStore, config Config, logger zerolog.Logger) Analyzer {
	if config.MaxArgsBytes <= 0 {
		config.MaxArgsBytes = 100000
	}
	return &analyzer{
		recognizer: recognizer,
		store:      store,
		config:     config,
		logger:     logger,
	}
}

func (a *analyzer) Analyze(ctx context.Context, project *models.Project, pages []models.NormalizedPage, layout *models.LayoutDescriptor) (*models.Capture, *models.AnalysisDetail, error) {
	if layout.ZoneCount() == 0 {
		return nil, nil, &models.StageError{
			Kind: models.KindLayoutInvalid,
			Err:  fmt.Errorf("%w: layout has no answer zone", models.ErrLayoutInvalid),
		}
	}
	if len(pages) == 0 {
		return nil, nil, &models.StageError{
			Kind: models.KindNoUsableArtifacts,
			Err:  fmt.Errorf("%w: no page to analyze", models.ErrNoUsableArtifacts),
		}
	}

	if err := os.MkdirAll(project.ResultsDir(), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create results directory: %w", err)
	}
	if err := os.Remove(project.CaptureStorePath()); err != nil && !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("failed to purge capture store: %w", err)
	}

	base := []string{
		"--data", project.Rel(project.LayoutDir()),
		"--cr", project.Rel(project.ResultsDir()),
	}
	paths := make([]string, 0, len(pages))
	for _, p := range pages {
		paths = append(paths, project.Rel(p.Path))
	}
	batches := Batches(paths, argsBytes(base), a.config.MaxArgsBytes, a.config.MaxPagesPerBatch)

	for i, batch := range batches {
		args := append(append([]string{}, base...), batch...)
		res, err := a.recognizer.Invoke(ctx, project.Root, args...)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, nil, ctxErr
			}
			return nil, nil, models.NewInvokeFailure(err)
		}
		if !res.Succeeded() {
			a.logger.Error().
				Int("batch", i+1).
				Int("batches", len(batches)).
				Int("exit_code", res.ExitCode).
				Str("stderr", res.Stderr).
				Msg("Recognition failed")
			return nil, nil, models.NewToolFailure(res.Command, res.ExitCode, res.Stdout, res.Stderr)
		}
		a.logger.Debug().Int("batch", i+1).Int("pages", len(batch)).Dur("duration", res.Duration).Msg("Batch analyzed")
	}

	capture, err := a.store.Load(ctx, project.CaptureStorePath())
	if errors.Is(err, ErrCaptureMissing) {
		capture, err = &models.Capture{}, nil
		a.logger.Warn().Msg("Recognizer produced no capture store")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read capture store: %w", err)
	}

	detail := &models.AnalysisDetail{
		Batches:    len(batches),
		Pages:      len(pages),
		Papers:     len(capture.Papers),
		Detections: len(capture.Detections),
	}
	a.logger.Info().
		Int("batches", detail.Batches).
		Int("pages", detail.Pages).
		Int("papers", detail.Papers).
		Int("detections", detail.Detections).
		Msg("Scans analyzed")

	return capture, detail, nil
}

// Batches splits paths into as few ordered groups as possible such that no
// group exceeds maxPages (when positive) and the argument bytes of a group,
// including baseBytes, stay within maxBytes. A single path longer than the
// limit still gets its own batch.
func Batches(paths []string, baseBytes, maxBytes, maxPages int) [][]string {
	var (
		out     [][]string
		current []string
		size    = baseBytes
	)
	for _, p := range paths {
		n := len(p) + 1
		full := maxPages > 0 && len(current) >= maxPages
		if len(current) > 0 && (full || size+n > maxBytes) {
			out = append(out, current)
			current, size = nil, baseBytes
		}
		current = append(current, p)
		size += n
	}
	if len(current) > 0 {
		out = append(out, current)
	}
	return out
}

func argsBytes(args []string) int {
	n := 0
	for _, a := range args {
		n += len(a) + 1
	}
	return n
}
