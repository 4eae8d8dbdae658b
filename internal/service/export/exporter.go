package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/RubachokBoss/qcm-grader/internal/models"
	"github.com/RubachokBoss/qcm-grader/internal/service/integration"
	"github.com/rs/zerolog"
)

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Archiver copies exported files to durable storage.
type Archiver interface {
	Upload(ctx context.Context, objectName, filePath string) error
}

type Config struct {
	MinAnnotationBytes int64
	SkipAnnotation     bool
}

type Request struct {
	Project    *models.Project
	RunID      string
	Scores     []models.ScoreRecord
	Key        models.AnswerKey
	Roster     *models.Roster
	Capture    *models.Capture
	Statistics *models.Statistics
	Formats    []string
}

type Exporter interface {
	Export(ctx context.Context, req Request) (*models.ExportManifest, error)
}

type exporter struct {
	annotator integration.Invoker
	archiver  Archiver
	config    Config
	logger    zerolog.Logger
}

// NewExporter builds an exporter. archiver may be nil when archiving is
// disabled.
func NewExporter(annotator integration.Invoker, archiver Archiver, config Config, logger zerolog.Logger) Exporter {
	if config.MinAnnotationBytes <= 0 {
		config.MinAnnotationBytes = 2048
	}
	return &exporter{
		annotator: annotator,
		archiver:  archiver,
		config:    config,
		logger:    logger,
	}
}

func (e *exporter) Export(ctx context.Context, req Request) (*models.ExportManifest, error) {
	project := req.Project
	if err := os.MkdirAll(project.ExportsDir(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create exports directory: %w", err)
	}
	manifest := &models.ExportManifest{Files: []models.ExportedFile{}}

	names := CapturedNames(req.Capture)
	csvPath := filepath.Join(project.ExportsDir(), CSVFileName)
	if err := WriteCSV(csvPath, BuildTable(req.Scores, req.Key, names)); err != nil {
		return nil, err
	}

	table, fix, err := FixCSVNames(csvPath, req.Roster)
	manifest.RenamedCount = fix.Renamed
	manifest.UnmatchedIDs = fix.Unmatched
	if err != nil {
		return manifest, err
	}
	if len(fix.Unmatched) > 0 {
		e.logger.Warn().Strs("ids", fix.Unmatched).Msg("Some student ids are not in the roster")
	}
	e.addFile(manifest, project, "csv", csvPath)

	if wants(req.Formats, FormatXLSX) {
		xlsxPath := filepath.Join(project.ExportsDir(), XLSXFileName)
		if err := WriteXLSX(xlsxPath, table); err != nil {
			return manifest, err
		}
		e.addFile(manifest, project, "xlsx", xlsxPath)
	}

	if req.Statistics != nil {
		statsPath := filepath.Join(project.ExportsDir(), StatisticsFileName)
		data, err := json.MarshalIndent(req.Statistics, "", "  ")
		if err != nil {
			return manifest, fmt.Errorf("failed to encode statistics: %w", err)
		}
		if err := os.WriteFile(statsPath, data, 0o644); err != nil {
			return manifest, fmt.Errorf("failed to write statistics: %w", err)
		}
		e.addFile(manifest, project, "statistics", statsPath)
	}

	if !e.config.SkipAnnotation {
		if err := e.annotate(ctx, req, fixedNames(table), manifest); err != nil {
			return manifest, err
		}
	}

	if e.archiver != nil {
		for _, f := range manifest.Files {
			object := path.Join(project.ID, req.RunID, f.Path)
			if err := e.archiver.Upload(ctx, object, filepath.Join(project.Root, filepath.FromSlash(f.Path))); err != nil {
				return manifest, fmt.Errorf("failed to archive %s: %w", f.Path, err)
			}
			manifest.Archived = append(manifest.Archived, object)
		}
	}

	e.logger.Info().
		Int("files", len(manifest.Files)).
		Int("renamed", manifest.RenamedCount).
		Str("annotation", string(manifest.AnnotationAttempt)).
		Msg("Results exported")

	return manifest, nil
}

// annotate runs the annotator and falls back to the manual renderer when it
// fails, produces nothing, or produces implausibly small documents.
func (e *exporter) annotate(ctx context.Context, req Request, names map[string]string, manifest *models.ExportManifest) error {
	project := req.Project
	dir := project.AnnotatedDir()
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to reset annotated directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create annotated directory: %w", err)
	}

	res, err := e.annotator.Invoke(ctx, project.Root,
		"--data", project.Rel(project.LayoutDir()),
		"--cr", project.Rel(project.ResultsDir()),
		"--projet", project.Rel(dir),
	)
	switch {
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		e.logger.Warn().Err(err).Msg("Annotator could not run")
	case !res.Succeeded():
		e.logger.Warn().Int("exit_code", res.ExitCode).Str("stderr", res.Stderr).Msg("Annotator failed")
	default:
		kept, purged, err := e.purgeSmall(dir)
		if err != nil {
			return err
		}
		if purged > 0 {
			e.logger.Warn().Int("purged", purged).Int64("min_bytes", e.config.MinAnnotationBytes).Msg("Annotated documents too small, purged")
		}
		if len(kept) > 0 && purged == 0 {
			for _, p := range kept {
				e.addFile(manifest, project, "annotated", p)
			}
			manifest.AnnotationAttempt = models.AttemptPrimary
			manifest.AnnotatedCount = len(kept)
			return nil
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to reset annotated directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create annotated directory: %w", err)
	}
	manual := filepath.Join(dir, ManualFileName)
	count, err := RenderManual(manual, req.Scores, req.Key, names)
	if err != nil {
		return err
	}
	e.addFile(manifest, project, "annotated", manual)
	manifest.AnnotationAttempt = models.AttemptFallback
	manifest.AnnotatedCount = count
	e.logger.Info().Int("students", count).Msg("Manual corrections rendered")
	return nil
}

func (e *exporter) purgeSmall(dir string) (kept []string, purged int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list annotated documents: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		p := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to stat %s: %w", entry.Name(), err)
		}
		if info.Size() < e.config.MinAnnotationBytes {
			if err := os.Remove(p); err != nil {
				return nil, 0, fmt.Errorf("failed to purge %s: %w", entry.Name(), err)
			}
			purged++
			continue
		}
		kept = append(kept, p)
	}
	sort.Strings(kept)
	return kept, purged, nil
}

func (e *exporter) addFile(manifest *models.ExportManifest, project *models.Project, kind, p string) {
	var size int64
	if info, err := os.Stat(p); err == nil {
		size = info.Size()
	}
	manifest.Files = append(manifest.Files, models.ExportedFile{Kind: kind, Path: project.Rel(p), Size: size})
}

// CapturedNames maps student ids to the names the recognizer resolved.
func CapturedNames(c *models.Capture) map[string]string {
	out := make(map[string]string)
	if c == nil {
		return out
	}
	for _, p := range c.Papers {
		if !isPlaceholder(p.Name) {
			out[p.StudentID] = p.Name
		}
	}
	return out
}

func fixedNames(t Table) map[string]string {
	out := make(map[string]string, len(t.Rows))
	idCol, nameCol := columnIndex(t.Header, "id"), columnIndex(t.Header, "name")
	if idCol < 0 || nameCol < 0 {
		return out
	}
	for _, row := range t.Rows {
		if idCol < len(row) && nameCol < len(row) {
			out[row[idCol]] = row[nameCol]
		}
	}
	return out
}

func wants(formats []string, format string) bool {
	for _, f := range formats {
		if f == format {
			return true
		}
	}
	return false
}
