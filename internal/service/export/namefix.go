package export

import (
	"errors"
	"fmt"
	"strings"

	"github.com/RubachokBoss/qcm-grader/internal/models"
)

type NameFixResult struct {
	// Resolved counts rows that already carried a name.
	Resolved     int
	Placeholders int
	Renamed      int
	Unmatched    []string
}

func isPlaceholder(name string) bool {
	name = strings.TrimSpace(name)
	return name == "" || name == models.UnresolvedName
}

func columnIndex(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

// FixNames replaces placeholder names in t with "nom prenom" from roster,
// matching ids by their canonical (de-padded) form.
func FixNames(t *Table, roster *models.Roster) (NameFixResult, error) {
	var res NameFixResult
	idCol, nameCol := columnIndex(t.Header, "id"), columnIndex(t.Header, "name")
	if idCol < 0 || nameCol < 0 {
		return res, errors.New("grade sheet has no id or name column")
	}

	for _, row := range t.Rows {
		if nameCol >= len(row) || idCol >= len(row) {
			continue
		}
		if !isPlaceholder(row[nameCol]) {
			res.Resolved++
			continue
		}
		res.Placeholders++
		var (
			student models.Student
			ok      bool
		)
		if roster != nil {
			student, ok = roster.Lookup(row[idCol])
		}
		if !ok {
			res.Unmatched = append(res.Unmatched, row[idCol])
			continue
		}
		row[nameCol] = student.FullName()
		res.Renamed++
	}

	// Unidentified papers keep their placeholder. Only a sheet where no row
	// has a name at all is a resolution failure.
	if res.Placeholders > 0 && res.Renamed == 0 && res.Resolved == 0 {
		return res, &models.StageError{
			Kind: models.KindNameResolution,
			Err:  fmt.Errorf("%w: none of %d placeholder name(s) matched the roster", models.ErrNameResolution, res.Placeholders),
		}
	}
	return res, nil
}

// FixCSVNames runs FixNames over a grade sheet file in place.
func FixCSVNames(path string, roster *models.Roster) (Table, NameFixResult, error) {
	t, err := ReadCSV(path)
	if err != nil {
		return t, NameFixResult{}, err
	}
	res, fixErr := FixNames(&t, roster)
	if res.Renamed > 0 {
		if err := WriteCSV(path, t); err != nil {
			return t, res, err
		}
	}
	return t, res, fixErr
}
