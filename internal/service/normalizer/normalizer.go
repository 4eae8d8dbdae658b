package normalizer

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/RubachokBoss/qcm-grader/internal/models"
	"github.com/RubachokBoss/qcm-grader/internal/service/integration"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var ErrNoPagesProduced = errors.New("artifact produced no usable page image")

var (
	documentExtensions = map[string]bool{".pdf": true}
	rasterExtensions   = map[string]bool{
		".png": true, ".jpg": true, ".jpeg": true,
		".tif": true, ".tiff": true, ".bmp": true, ".webp": true,
	}
)

type Result struct {
	Pages         []models.NormalizedPage
	Unusable      int
	UnusableFiles []string
}

type Normalizer interface {
	Discover(dir string) ([]models.ScanArtifact, error)
	Normalize(ctx context.Context, project *models.Project, artifacts []models.ScanArtifact, dpi int) (*Result, error)
}

type normalizer struct {
	rasterizer integration.Invoker
	logger     zerolog.Logger
}

func NewNormalizer(rasterizer integration.Invoker, logger zerolog.Logger) Normalizer {
	return &normalizer{
		rasterizer: rasterizer,
		logger:     logger,
	}
}

// Discover lists recognised scan artifacts in dir, sorted by name.
func (n *normalizer) Discover(dir string) ([]models.ScanArtifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}

	var artifacts []models.ScanArtifact
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		var kind models.ArtifactKind
		switch {
		case documentExtensions[ext]:
			kind = models.ArtifactDocument
		case rasterExtensions[ext]:
			kind = models.ArtifactRaster
		default:
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", e.Name(), err)
		}
		artifacts = append(artifacts, models.ScanArtifact{
			Path: filepath.Join(dir, e.Name()),
			Kind: kind,
			Size: info.Size(),
		})
	}

	if len(artifacts) == 0 {
		return nil, models.ErrNoArtifactsFound
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Path < artifacts[j].Path })
	return artifacts, nil
}

func (n *normalizer) Normalize(ctx context.Context, project *models.Project, artifacts []models.ScanArtifact, dpi int) (*Result, error) {
	if len(artifacts) == 0 {
		return nil, models.ErrNoArtifactsFound
	}

	outDir := project.NormalizedDir()
	if err := resetDir(outDir); err != nil {
		return nil, fmt.Errorf("failed to reset normalized workspace: %w", err)
	}

	result := &Result{}
	var lastFailure *models.StageError

	for _, artifact := range artifacts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var pages []models.NormalizedPage
		var err error
		switch artifact.Kind {
		case models.ArtifactDocument:
			pages, err = n.rasterize(ctx, project, artifact, dpi)
		default:
			pages, err = n.copyRaster(artifact, outDir)
		}

		var stageErr *models.StageError
		if errors.As(err, &stageErr) {
			lastFailure = stageErr
			err = ErrNoPagesProduced
		}
		if err != nil && !errors.Is(err, ErrNoPagesProduced) {
			return nil, err
		}
		if len(pages) == 0 {
			result.Unusable++
			result.UnusableFiles = append(result.UnusableFiles, project.Rel(artifact.Path))
			n.logger.Warn().
				Str("artifact", project.Rel(artifact.Path)).
				Err(ErrNoPagesProduced).
				Msg("Scan artifact is unusable")
			continue
		}
		result.Pages = append(result.Pages, pages...)
	}

	if len(result.Pages) == 0 {
		failure := &models.StageError{
			Kind: models.KindNoUsableArtifacts,
			Err:  fmt.Errorf("%w: %d artifact(s) produced no page", models.ErrNoUsableArtifacts, result.Unusable),
		}
		if lastFailure != nil {
			failure.Command = lastFailure.Command
			failure.ExitCode = lastFailure.ExitCode
			failure.Stdout = lastFailure.Stdout
			failure.Stderr = lastFailure.Stderr
		}
		return result, failure
	}

	n.logger.Info().
		Int("artifacts", len(artifacts)).
		Int("pages", len(result.Pages)).
		Int("unusable", result.Unusable).
		Msg("Scans normalized")

	return result, nil
}

// rasterize renders every page of a document into a staging directory, then
// moves one principal image per page into the normalized workspace.
func (n *normalizer) rasterize(ctx context.Context, project *models.Project, artifact models.ScanArtifact, dpi int) ([]models.NormalizedPage, error) {
	staging, err := os.MkdirTemp(project.NormalizedDir(), ".raster-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	stem := strings.TrimSuffix(filepath.Base(artifact.Path), filepath.Ext(artifact.Path))
	prefix := filepath.Join(staging, stem+"-page")

	res, err := n.rasterizer.Invoke(ctx, project.Root, "-r", strconv.Itoa(dpi), "-png", artifact.Path, prefix)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, models.NewInvokeFailure(err)
	}
	if !res.Succeeded() {
		n.logger.Warn().
			Str("artifact", project.Rel(artifact.Path)).
			Int("exit_code", res.ExitCode).
			Str("stderr", res.Stderr).
			Msg("Rasterizer failed")
		return nil, models.NewToolFailure(res.Command, res.ExitCode, res.Stdout, res.Stderr)
	}

	entries, err := os.ReadDir(staging)
	if err != nil {
		return nil, fmt.Errorf("failed to list rasterized pages: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && rasterExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}

	var pages []models.NormalizedPage
	for _, c := range SelectPrincipal(names) {
		src := filepath.Join(staging, c.Name)
		if !usableImage(src) {
			n.logger.Debug().Str("file", c.Name).Msg("Discarding unreadable page image")
			continue
		}
		dst := uniquePath(filepath.Join(project.NormalizedDir(), canonicalName(stem, c)))
		if err := os.Rename(src, dst); err != nil {
			return nil, fmt.Errorf("failed to move page image: %w", err)
		}
		pages = append(pages, models.NormalizedPage{
			Path:   dst,
			Source: project.Rel(artifact.Path),
			Page:   c.Page,
		})
	}
	if len(pages) == 0 {
		return nil, ErrNoPagesProduced
	}
	return pages, nil
}

func (n *normalizer) copyRaster(artifact models.ScanArtifact, outDir string) ([]models.NormalizedPage, error) {
	if !usableImage(artifact.Path) {
		return nil, ErrNoPagesProduced
	}
	dst := uniquePath(filepath.Join(outDir, filepath.Base(artifact.Path)))
	if err := copyFile(artifact.Path, dst); err != nil {
		return nil, fmt.Errorf("failed to copy %s: %w", filepath.Base(artifact.Path), err)
	}
	return []models.NormalizedPage{{
		Path:   dst,
		Source: filepath.Base(artifact.Path),
		Page:   Classify(artifact.Path).Page,
	}}, nil
}

func canonicalName(stem string, c Classification) string {
	ext := strings.ToLower(filepath.Ext(c.Name))
	if c.Page == 0 {
		return stem + "-" + strings.TrimSuffix(c.Name, filepath.Ext(c.Name)) + ext
	}
	return fmt.Sprintf("%s-page-%d%s", stem, c.Page, ext)
}

// usableImage reports whether path is a non-empty file with a decodable
// image header.
func usableImage(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	return err == nil && cfg.Width > 0 && cfg.Height > 0
}

func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

func uniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s.dup%d%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
