package layout

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/RubachokBoss/qcm-grader/internal/models"
	"github.com/RubachokBoss/qcm-grader/internal/service/integration"
	"github.com/rs/zerolog"
)

const (
	SubjectFileName     = "DOC-sujet.pdf"
	CalibrationFileName = "DOC-calage.xy"
	CorrectionFileName  = "DOC-corrige.pdf"
)

// byproductPatterns are purged from the project root before each attempt.
var byproductPatterns = []string{"DOC-*.pdf", "*.aux", "*.log", "*.xy", "*.out", "*.toc", "*.amc"}

type Config struct {
	MinDocumentBytes int64
}

type PrepareOptions struct {
	PageBudget     int
	AcceptDegraded bool
}

type Result struct {
	Descriptor   *models.LayoutDescriptor
	PrintOnly    bool
	Degraded     bool
	Attempt      models.Attempt
	DocumentPath string
	Warnings     []string
}

func (r *Result) Detail() *models.LayoutDetail {
	d := &models.LayoutDetail{
		PrintOnly:    r.PrintOnly,
		DocumentPath: r.DocumentPath,
		Warnings:     r.Warnings,
	}
	if r.Descriptor != nil {
		d.Pages = r.Descriptor.PageCount()
		d.Zones = r.Descriptor.ZoneCount()
	}
	return d
}

type Preparer interface {
	PrepareLayout(ctx context.Context, project *models.Project, qs *models.QuestionSet, opts PrepareOptions) (*Result, error)
	LoadExisting(ctx context.Context, project *models.Project) (*models.LayoutDescriptor, error)
	SourceCurrent(project *models.Project, qs *models.QuestionSet) bool
	Reset(project *models.Project) error
}

type preparer struct {
	compiler         integration.Invoker
	fallbackCompiler integration.Invoker
	extractor        integration.Invoker
	store            Store
	config           Config
	logger           zerolog.Logger
}

func NewPreparer(
	compiler integration.Invoker,
	fallbackCompiler integration.Invoker,
	extractor integration.Invoker,
	store Store,
	config Config,
	logger zerolog.Logger,
) Preparer {
	if config.MinDocumentBytes <= 0 {
		config.MinDocumentBytes = 1000
	}
	return &preparer{
		compiler:         compiler,
		fallbackCompiler: fallbackCompiler,
		extractor:        extractor,
		store:            store,
		config:           config,
		logger:           logger,
	}
}

func (p *preparer) PrepareLayout(ctx context.Context, project *models.Project, qs *models.QuestionSet, opts PrepareOptions) (*Result, error) {
	source, err := RenderSource(qs)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(project.LayoutDir(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create layout directory: %w", err)
	}
	if err := os.WriteFile(project.SourcePath(), source, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write exam source: %w", err)
	}
	if err := p.Reset(project); err != nil {
		return nil, err
	}

	primaryErr := p.compile(ctx, project)
	if primaryErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn().Err(primaryErr).Msg("Primary compilation failed, falling back to raw typesetting")
		return p.fallback(ctx, project, primaryErr)
	}

	res, err := p.extractor.Invoke(ctx, project.Root,
		"--src", CalibrationFileName,
		"--data", project.Rel(project.LayoutDir()),
	)
	if err != nil {
		return nil, models.NewInvokeFailure(err)
	}
	if !res.Succeeded() {
		return nil, models.NewToolFailure(res.Command, res.ExitCode, res.Stdout, res.Stderr)
	}

	descriptor, err := p.store.Load(ctx, project.LayoutStorePath())
	if err != nil && !errors.Is(err, ErrStoreMissing) {
		return nil, fmt.Errorf("failed to read layout store: %w", err)
	}
	if descriptor == nil {
		descriptor = &models.LayoutDescriptor{StorePath: project.LayoutStorePath()}
	}

	result := &Result{
		Descriptor:   descriptor,
		Attempt:      models.AttemptPrimary,
		DocumentPath: filepath.Join(project.Root, SubjectFileName),
	}

	if problems := Validate(descriptor, qs); len(problems) > 0 {
		for _, msg := range problems {
			p.logger.Warn().Str("store", project.Rel(descriptor.StorePath)).Msg(msg)
		}
		result.Warnings = append(result.Warnings, problems...)
		if !opts.AcceptDegraded {
			return result, &models.StageError{
				Kind: models.KindLayoutInvalid,
				Err:  fmt.Errorf("%w: %s", models.ErrLayoutInvalid, strings.Join(problems, "; ")),
			}
		}
		result.Degraded = true
	}

	if opts.PageBudget > 0 {
		for sheet, pages := range descriptor.PagesPerSheet() {
			if pages > opts.PageBudget {
				msg := fmt.Sprintf("sheet %d uses %d pages, budget is %d", sheet, pages, opts.PageBudget)
				p.logger.Warn().Int("sheet", sheet).Int("pages", pages).Int("budget", opts.PageBudget).Msg("Page budget exceeded")
				result.Warnings = append(result.Warnings, msg)
			}
		}
	}

	p.logger.Info().
		Int("pages", descriptor.PageCount()).
		Int("zones", descriptor.ZoneCount()).
		Bool("degraded", result.Degraded).
		Msg("Layout prepared")

	return result, nil
}

// compile runs the primary compiler. Exit status alone is not trusted: the
// subject document and calibration file must exist and be non-empty.
func (p *preparer) compile(ctx context.Context, project *models.Project) error {
	res, err := p.compiler.Invoke(ctx, project.Root,
		"--data", project.Rel(project.LayoutDir()),
		"--out-sujet", SubjectFileName,
		"--out-corrige", CorrectionFileName,
		"--out-calage", CalibrationFileName,
		models.SourceFileName,
	)
	if err != nil {
		return models.NewInvokeFailure(err)
	}
	if !res.Succeeded() {
		return models.NewToolFailure(res.Command, res.ExitCode, res.Stdout, res.Stderr)
	}
	for _, name := range []string{SubjectFileName, CalibrationFileName} {
		if size := fileSize(filepath.Join(project.Root, name)); size <= 0 {
			failure := models.NewToolFailure(res.Command, res.ExitCode, res.Stdout, res.Stderr)
			failure.Err = fmt.Errorf("%w: %s missing or empty after compilation", models.ErrExternalToolFailure, name)
			return failure
		}
	}
	return nil
}

// fallback typesets the source directly, twice so cross-references resolve.
// The document is printable but has no layout.
func (p *preparer) fallback(ctx context.Context, project *models.Project, primaryErr error) (*Result, error) {
	var last *integration.InvokeResult
	for pass := 1; pass <= 2; pass++ {
		res, err := p.fallbackCompiler.Invoke(ctx, project.Root, models.SourceFileName)
		if err != nil {
			return nil, models.NewInvokeFailure(err)
		}
		last = res
		p.logger.Debug().Int("pass", pass).Int("exit_code", res.ExitCode).Msg("Fallback typesetting pass finished")
	}

	document := strings.TrimSuffix(project.SourcePath(), filepath.Ext(project.SourcePath())) + ".pdf"
	size := fileSize(document)
	if size < p.config.MinDocumentBytes {
		failure := models.NewToolFailure(last.Command, last.ExitCode, last.Stdout, last.Stderr)
		failure.Err = fmt.Errorf("%w: fallback document is %d bytes (minimum %d), primary: %v",
			models.ErrExternalToolFailure, size, p.config.MinDocumentBytes, primaryErr)
		return nil, failure
	}

	p.logger.Warn().
		Str("document", project.Rel(document)).
		Int64("size", size).
		Msg("Exam compiled in print-only mode, no layout available")

	return &Result{
		PrintOnly:    true,
		Attempt:      models.AttemptFallback,
		DocumentPath: document,
		Warnings:     []string{fmt.Sprintf("primary compilation failed: %v", primaryErr)},
	}, nil
}

// Validate lists the structural problems of a descriptor for qs.
func Validate(d *models.LayoutDescriptor, qs *models.QuestionSet) []string {
	var problems []string
	if d.PageCount() == 0 {
		problems = append(problems, "layout store has no page")
	}
	if d.ZoneCount() == 0 {
		problems = append(problems, "layout store has no answer zone")
		return problems
	}
	if qs == nil {
		return problems
	}

	zones := d.AnswerZonesByQuestion()
	positions := d.QuestionPositions(qs.AnswerKey())
	covered := make(map[int]bool)
	for internal, pos := range positions {
		if zones[internal] > 0 {
			covered[pos] = true
		}
	}
	for i, q := range qs.Questions {
		if !covered[i+1] {
			problems = append(problems, fmt.Sprintf("question %s has no answer zone", q.ID))
		}
	}
	return problems
}

func (p *preparer) LoadExisting(ctx context.Context, project *models.Project) (*models.LayoutDescriptor, error) {
	d, err := p.store.Load(ctx, project.LayoutStorePath())
	if errors.Is(err, ErrStoreMissing) {
		return nil, nil
	}
	return d, err
}

// SourceCurrent reports whether the exam source on disk matches qs.
func (p *preparer) SourceCurrent(project *models.Project, qs *models.QuestionSet) bool {
	rendered, err := RenderSource(qs)
	if err != nil {
		return false
	}
	existing, err := os.ReadFile(project.SourcePath())
	if err != nil {
		return false
	}
	return bytes.Equal(rendered, existing)
}

// Reset removes every derived layout artifact so the next preparation starts
// from the source alone.
func (p *preparer) Reset(project *models.Project) error {
	var targets []string
	for _, pattern := range byproductPatterns {
		matches, err := filepath.Glob(filepath.Join(project.Root, pattern))
		if err != nil {
			return fmt.Errorf("failed to match %s: %w", pattern, err)
		}
		targets = append(targets, matches...)
	}
	base := strings.TrimSuffix(project.SourcePath(), filepath.Ext(project.SourcePath()))
	targets = append(targets, base+".pdf", project.LayoutStorePath())

	for _, t := range targets {
		if err := os.Remove(t); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to purge %s: %w", filepath.Base(t), err)
		}
	}
	return nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return -1
	}
	return info.Size()
}
