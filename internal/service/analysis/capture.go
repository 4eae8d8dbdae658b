package analysis

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/RubachokBoss/qcm-grader/internal/models"
	_ "modernc.org/sqlite"
)

var ErrCaptureMissing = errors.New("capture store not found")

const DefaultDarknessThreshold = 0.5

// CaptureStore reads the tables the recognizer fills while analyzing pages.
type CaptureStore interface {
	Load(ctx context.Context, path string) (*models.Capture, error)
}

type sqliteCaptureStore struct {
	threshold float64
}

func NewSQLiteCaptureStore(darknessThreshold float64) CaptureStore {
	if darknessThreshold <= 0 || darknessThreshold > 1 {
		darknessThreshold = DefaultDarknessThreshold
	}
	return &sqliteCaptureStore{threshold: darknessThreshold}
}

type paperKey struct {
	sheet int
	copy  int
}

func (k paperKey) String() string {
	return fmt.Sprintf("%d:%d", k.sheet, k.copy)
}

func (s *sqliteCaptureStore) Load(ctx context.Context, path string) (*models.Capture, error) {
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		return nil, ErrCaptureMissing
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open capture store: %w", err)
	}
	defer db.Close()

	papers, err := s.loadPapers(ctx, db)
	if err != nil {
		return nil, err
	}
	if err := s.loadIdentities(ctx, db, papers); err != nil {
		return nil, err
	}
	detections, err := s.loadDetections(ctx, db, papers)
	if err != nil {
		return nil, err
	}

	capture := &models.Capture{Detections: detections}
	keys := make([]paperKey, 0, len(papers))
	for k := range papers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].sheet != keys[j].sheet {
			return keys[i].sheet < keys[j].sheet
		}
		return keys[i].copy < keys[j].copy
	})
	for _, k := range keys {
		capture.Papers = append(capture.Papers, *papers[k])
	}
	return capture, nil
}

func (s *sqliteCaptureStore) loadPapers(ctx context.Context, db *sql.DB) (map[paperKey]*models.Paper, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT student, copy, COUNT(*), MAX(COALESCE(unreadable, 0))
		FROM capture_page
		GROUP BY student, copy
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query captured pages: %w", err)
	}
	defer rows.Close()

	papers := make(map[paperKey]*models.Paper)
	for rows.Next() {
		var (
			k          paperKey
			pages      int
			unreadable int
		)
		if err := rows.Scan(&k.sheet, &k.copy, &pages, &unreadable); err != nil {
			return nil, fmt.Errorf("failed to scan captured page: %w", err)
		}
		papers[k] = &models.Paper{
			Key:        k.String(),
			StudentID:  k.String(),
			Name:       models.UnresolvedName,
			Pages:      pages,
			Unreadable: unreadable > 0,
			MissingID:  true,
		}
	}
	return papers, rows.Err()
}

func (s *sqliteCaptureStore) loadIdentities(ctx context.Context, db *sql.DB, papers map[paperKey]*models.Paper) error {
	rows, err := db.QueryContext(ctx, `
		SELECT student, copy, COALESCE(code, ''), COALESCE(name, '')
		FROM capture_identity
	`)
	if err != nil {
		return fmt.Errorf("failed to query captured identities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			k          paperKey
			code, name string
		)
		if err := rows.Scan(&k.sheet, &k.copy, &code, &name); err != nil {
			return fmt.Errorf("failed to scan captured identity: %w", err)
		}
		paper, ok := papers[k]
		if !ok {
			continue
		}
		if code = strings.TrimSpace(code); code != "" {
			paper.StudentID = code
			paper.MissingID = false
		}
		if name = strings.TrimSpace(name); name != "" {
			paper.Name = name
		}
	}
	return rows.Err()
}

func (s *sqliteCaptureStore) loadDetections(ctx context.Context, db *sql.DB, papers map[paperKey]*models.Paper) ([]models.DetectionRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT student, copy, question, answer,
			COALESCE(total, 0), COALESCE(black, 0), COALESCE(manual, -1)
		FROM capture_zone
		ORDER BY student, copy, question, answer
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query captured zones: %w", err)
	}
	defer rows.Close()

	var out []models.DetectionRecord
	for rows.Next() {
		var (
			k                paperKey
			question, answer int
			total, black     int
			manual           int
		)
		if err := rows.Scan(&k.sheet, &k.copy, &question, &answer, &total, &black, &manual); err != nil {
			return nil, fmt.Errorf("failed to scan captured zone: %w", err)
		}
		paper, ok := papers[k]
		if !ok {
			continue
		}
		out = append(out, models.DetectionRecord{
			StudentID: paper.StudentID,
			Question:  question,
			Choice:    answer,
			Marked:    s.marked(total, black, manual),
		})
	}
	return out, rows.Err()
}

// marked applies a manual correction when one was recorded, otherwise the
// darkness ratio of the box.
func (s *sqliteCaptureStore) marked(total, black, manual int) bool {
	if manual >= 0 {
		return manual > 0
	}
	if total <= 0 {
		return false
	}
	return float64(black)/float64(total) >= s.threshold
}
