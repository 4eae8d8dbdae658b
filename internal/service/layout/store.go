package layout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/RubachokBoss/qcm-grader/internal/models"
	_ "modernc.org/sqlite"
)

var ErrStoreMissing = errors.New("layout store not found")

// Store reads the layout tables the extractor populates.
type Store interface {
	Load(ctx context.Context, path string) (*models.LayoutDescriptor, error)
}

type sqliteStore struct{}

func NewSQLiteStore() Store {
	return &sqliteStore{}
}

func openReadOnly(path string) (*sql.DB, error) {
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		return nil, ErrStoreMissing
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open layout store: %w", err)
	}
	return db, nil
}

func (s *sqliteStore) Load(ctx context.Context, path string) (*models.LayoutDescriptor, error) {
	db, err := openReadOnly(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	d := &models.LayoutDescriptor{StorePath: path, QuestionNames: map[int]string{}}

	pages, err := db.QueryContext(ctx, `
		SELECT student, page, COALESCE(width, 0), COALESCE(height, 0), COALESCE(dpi, 0)
		FROM layout_page
		ORDER BY student, page
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query layout pages: %w", err)
	}
	for pages.Next() {
		var p models.LayoutPage
		if err := pages.Scan(&p.Sheet, &p.Page, &p.Width, &p.Height, &p.DPI); err != nil {
			pages.Close()
			return nil, fmt.Errorf("failed to scan layout page: %w", err)
		}
		d.Pages = append(d.Pages, p)
	}
	if err := pages.Err(); err != nil {
		pages.Close()
		return nil, fmt.Errorf("failed to read layout pages: %w", err)
	}
	if err := pages.Close(); err != nil {
		return nil, err
	}

	boxes, err := db.QueryContext(ctx, `
		SELECT student, page, COALESCE(question, 0), COALESCE(answer, 0), role,
			xmin, xmax, ymin, ymax, COALESCE(flags, 0)
		FROM layout_box
		ORDER BY student, page, question, answer
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query layout boxes: %w", err)
	}
	for boxes.Next() {
		var z models.Zone
		if err := boxes.Scan(&z.Sheet, &z.Page, &z.Question, &z.Answer, &z.Role,
			&z.XMin, &z.XMax, &z.YMin, &z.YMax, &z.Flags); err != nil {
			boxes.Close()
			return nil, fmt.Errorf("failed to scan layout box: %w", err)
		}
		d.Zones = append(d.Zones, z)
	}
	if err := boxes.Err(); err != nil {
		boxes.Close()
		return nil, fmt.Errorf("failed to read layout boxes: %w", err)
	}
	if err := boxes.Close(); err != nil {
		return nil, err
	}

	names, err := db.QueryContext(ctx, `SELECT question, name FROM layout_question`)
	if err != nil {
		return nil, fmt.Errorf("failed to query layout questions: %w", err)
	}
	defer names.Close()
	for names.Next() {
		var (
			number int
			name   string
		)
		if err := names.Scan(&number, &name); err != nil {
			return nil, fmt.Errorf("failed to scan layout question: %w", err)
		}
		d.QuestionNames[number] = name
	}

	return d, names.Err()
}
