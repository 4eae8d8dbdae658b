package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/RubachokBoss/qcm-grader/internal/models"
)

// ProjectStore maps project ids onto directories under a common root.
type ProjectStore interface {
	Resolve(projectID string) (*models.Project, error)
	LoadInputs(project *models.Project) (*models.Roster, *models.QuestionSet, error)
}

type dirProjectStore struct {
	root string
}

func NewProjectStore(root string) ProjectStore {
	return &dirProjectStore{root: filepath.Clean(root)}
}

func (s *dirProjectStore) Resolve(projectID string) (*models.Project, error) {
	if !models.ValidProjectID(projectID) {
		return nil, ErrInvalidProjectID
	}

	root := filepath.Join(s.root, projectID)
	info, err := os.Stat(root)
	if os.IsNotExist(err) || (err == nil && !info.IsDir()) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat project: %w", err)
	}

	return models.NewProject(projectID, root), nil
}

func (s *dirProjectStore) LoadInputs(project *models.Project) (*models.Roster, *models.QuestionSet, error) {
	return LoadInputs(project)
}

// LoadInputs reads the roster and the question set of a project. Absent or
// empty files come back as nil or empty values so that the run records the
// failure in its input stage. Malformed files are returned as input errors.
func LoadInputs(project *models.Project) (*models.Roster, *models.QuestionSet, error) {
	roster, err := models.LoadRoster(project.RosterPath())
	switch {
	case errors.Is(err, models.ErrRosterMissing):
		roster = nil
	case errors.Is(err, models.ErrRosterEmpty):
		roster = models.NewRoster(nil)
	case err != nil:
		return nil, nil, inputError(err)
	}

	qs, err := models.LoadQuestionSet(project.Root)
	switch {
	case errors.Is(err, models.ErrQuestionSetMissing):
		qs = nil
	case err != nil:
		return nil, nil, inputError(err)
	}

	return roster, qs, nil
}

func inputError(err error) error {
	return &models.StageError{Stage: models.StageInput, Kind: models.KindInputMissing, Err: err}
}
