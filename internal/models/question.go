package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Question set file names probed in a project root, in priority order.
var QuestionSetFileNames = []string{"questions.yaml", "questions.yml", "qcm_config.json"}

type Choice struct {
	Text    string `json:"text" yaml:"text" validate:"notblank"`
	Correct bool   `json:"correct" yaml:"correct"`
}

type Question struct {
	ID      string   `json:"id,omitempty" yaml:"id,omitempty"`
	Text    string   `json:"text" yaml:"text" validate:"notblank"`
	Choices []Choice `json:"choices" yaml:"choices" validate:"min=2,dive"`
}

// CorrectChoices returns the 1-based positions of the correct choices.
func (q Question) CorrectChoices() []int {
	var out []int
	for i, c := range q.Choices {
		if c.Correct {
			out = append(out, i+1)
		}
	}
	return out
}

func (q Question) IsMultiple() bool {
	return len(q.CorrectChoices()) > 1
}

type QuestionSet struct {
	Title     string     `json:"title,omitempty" yaml:"title,omitempty"`
	Questions []Question `json:"questions" yaml:"questions" validate:"min=1,dive"`
}

// Normalize assigns q<N> identifiers to questions that have none.
func (qs *QuestionSet) Normalize() {
	for i := range qs.Questions {
		if strings.TrimSpace(qs.Questions[i].ID) == "" {
			qs.Questions[i].ID = fmt.Sprintf("q%d", i+1)
		}
	}
}

func (qs *QuestionSet) Validate() error {
	if qs == nil {
		return ErrQuestionSetMissing
	}
	if err := Validate.Struct(qs); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuestionSet, err)
	}
	seen := make(map[string]struct{}, len(qs.Questions))
	// Ids collide when they print under the same name.
	for _, q := range qs.Questions {
		name := QuestionName(q.ID)
		if _, dup := seen[name]; dup && q.ID != "" {
			return fmt.Errorf("%w: duplicate question id %q", ErrInvalidQuestionSet, q.ID)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// QuestionName is the identifier a question carries on the printed exam.
// Characters the typesetting engine would reject are replaced.
func QuestionName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '-'
		}
	}, id)
}

// KeyEntry is the answer key for one question, numbered as on paper.
type KeyEntry struct {
	Number   int      `json:"number"`
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Choices  []string `json:"choices"`
	Correct  []int    `json:"correct"`
	Multiple bool     `json:"multiple"`
}

type AnswerKey []KeyEntry

func (qs *QuestionSet) AnswerKey() AnswerKey {
	if qs == nil {
		return nil
	}
	key := make(AnswerKey, 0, len(qs.Questions))
	for i, q := range qs.Questions {
		texts := make([]string, len(q.Choices))
		for j, c := range q.Choices {
			texts[j] = c.Text
		}
		correct := q.CorrectChoices()
		key = append(key, KeyEntry{
			Number:   i + 1,
			ID:       q.ID,
			Text:     q.Text,
			Choices:  texts,
			Correct:  correct,
			Multiple: len(correct) > 1,
		})
	}
	return key
}

// ParseQuestionSet decodes a question set. JSON input may be either a
// {"title", "questions"} object or a bare array of questions.
func ParseQuestionSet(data []byte, ext string) (*QuestionSet, error) {
	var qs QuestionSet

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &qs); err != nil {
			return nil, fmt.Errorf("failed to decode yaml question set: %w", err)
		}
	case ".json":
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			if err := json.Unmarshal(trimmed, &qs.Questions); err != nil {
				return nil, fmt.Errorf("failed to decode json question list: %w", err)
			}
		} else if err := json.Unmarshal(trimmed, &qs); err != nil {
			return nil, fmt.Errorf("failed to decode json question set: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported question set format %q", ext)
	}

	qs.Normalize()
	if err := qs.Validate(); err != nil {
		return nil, err
	}
	return &qs, nil
}

// LoadQuestionSet reads the first question set file found in dir.
func LoadQuestionSet(dir string) (*QuestionSet, error) {
	for _, name := range QuestionSetFileNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read question set %s: %w", name, err)
		}
		return ParseQuestionSet(data, filepath.Ext(name))
	}
	return nil, ErrQuestionSetMissing
}
