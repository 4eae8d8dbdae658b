package models

import (
	"path/filepath"
	"strings"
)

const (
	layoutDirName     = "data"
	resultsDirName    = "cr"
	uploadsDirName    = "uploads"
	normalizedDirName = "scans"
	exportsDirName    = "exports"
	annotatedDirName  = "annotated"

	SourceFileName       = "questionnaire.tex"
	RosterFileName       = "liste.csv"
	LayoutStoreFileName  = "layout.sqlite"
	CaptureStoreFileName = "capture.sqlite"
)

// Project is the directory aggregate every correction run works in.
type Project struct {
	ID   string `json:"id"`
	Root string `json:"root"`
}

func NewProject(id, root string) *Project {
	return &Project{ID: id, Root: filepath.Clean(root)}
}

func (p *Project) LayoutDir() string     { return filepath.Join(p.Root, layoutDirName) }
func (p *Project) ResultsDir() string    { return filepath.Join(p.Root, resultsDirName) }
func (p *Project) UploadsDir() string    { return filepath.Join(p.Root, uploadsDirName) }
func (p *Project) NormalizedDir() string { return filepath.Join(p.Root, normalizedDirName) }
func (p *Project) ExportsDir() string    { return filepath.Join(p.Root, exportsDirName) }
func (p *Project) AnnotatedDir() string  { return filepath.Join(p.ExportsDir(), annotatedDirName) }
func (p *Project) SourcePath() string    { return filepath.Join(p.Root, SourceFileName) }
func (p *Project) RosterPath() string    { return filepath.Join(p.Root, RosterFileName) }

func (p *Project) LayoutStorePath() string {
	return filepath.Join(p.LayoutDir(), LayoutStoreFileName)
}

func (p *Project) CaptureStorePath() string {
	return filepath.Join(p.ResultsDir(), CaptureStoreFileName)
}

// Rel returns path relative to the project root. Paths outside the root are
// returned unchanged.
func (p *Project) Rel(path string) string {
	rel, err := filepath.Rel(p.Root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}
