package models

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

type Student struct {
	ID        string `json:"id"`
	LastName  string `json:"nom"`
	FirstName string `json:"prenom"`
	Code      string `json:"code,omitempty"`
}

func (s Student) FullName() string {
	return strings.TrimSpace(s.LastName + " " + s.FirstName)
}

// CanonicalID strips leading zeros from a fixed-width student code,
// keeping a single zero for an all-zero code.
func CanonicalID(id string) string {
	id = strings.TrimSpace(id)
	trimmed := strings.TrimLeft(id, "0")
	if trimmed == "" && id != "" {
		return "0"
	}
	return trimmed
}

type Roster struct {
	Students []Student `json:"students"`
	index    map[string]int
}

func NewRoster(students []Student) *Roster {
	r := &Roster{Students: students, index: make(map[string]int, len(students))}
	for i, s := range students {
		key := CanonicalID(s.ID)
		if _, dup := r.index[key]; !dup {
			r.index[key] = i
		}
	}
	return r
}

func (r *Roster) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Students)
}

// Lookup finds a student by any zero-padding of its id.
func (r *Roster) Lookup(id string) (Student, bool) {
	if r == nil {
		return Student{}, false
	}
	i, ok := r.index[CanonicalID(id)]
	if !ok {
		return Student{}, false
	}
	return r.Students[i], true
}

// ParseRoster reads a roster CSV with at least id, nom and prenom columns.
func ParseRoster(rd io.Reader) (*Roster, error) {
	reader := csv.NewReader(rd)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrRosterEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read roster header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	idCol, ok := cols["id"]
	if !ok {
		return nil, fmt.Errorf("%w: missing id column", ErrInvalidRoster)
	}

	field := func(rec []string, name string) string {
		if i, ok := cols[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	var students []Student
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read roster row: %w", err)
		}
		if idCol >= len(rec) || strings.TrimSpace(rec[idCol]) == "" {
			continue
		}
		students = append(students, Student{
			ID:        strings.TrimSpace(rec[idCol]),
			LastName:  field(rec, "nom"),
			FirstName: field(rec, "prenom"),
			Code:      field(rec, "code"),
		})
	}

	if len(students) == 0 {
		return nil, ErrRosterEmpty
	}
	return NewRoster(students), nil
}

func LoadRoster(path string) (*Roster, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, ErrRosterMissing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open roster: %w", err)
	}
	defer f.Close()

	return ParseRoster(f)
}
