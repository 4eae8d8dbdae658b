package models

import "math"

type Policy struct {
	Name       string   `json:"name"`
	Correct    float64  `json:"correct"`
	Wrong      float64  `json:"wrong"`
	Ambiguous  float64  `json:"ambiguous"`
	Difficulty *float64 `json:"difficulty,omitempty"`
}

func (p Policy) Finite() bool {
	for _, w := range []float64{p.Correct, p.Wrong, p.Ambiguous} {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return false
		}
	}
	return true
}

type Outcome string

const (
	OutcomeCorrect   Outcome = "correct"
	OutcomeWrong     Outcome = "wrong"
	OutcomeBlank     Outcome = "blank"
	OutcomeAmbiguous Outcome = "ambiguous"
	OutcomePartial   Outcome = "partial"
)

func (o Outcome) String() string {
	return string(o)
}

type QuestionScore struct {
	Question int     `json:"question"`
	Outcome  Outcome `json:"outcome"`
	Marked   []int   `json:"marked,omitempty"`
	Points   float64 `json:"points"`
}

type ScoreRecord struct {
	StudentID string          `json:"student_id"`
	Name      string          `json:"name,omitempty"`
	Mark      float64         `json:"mark"`
	MaxMark   float64         `json:"max_mark"`
	Breakdown []QuestionScore `json:"breakdown"`
}

// Answer returns the breakdown entry for question number q.
func (r ScoreRecord) Answer(q int) (QuestionScore, bool) {
	for _, b := range r.Breakdown {
		if b.Question == q {
			return b, true
		}
	}
	return QuestionScore{}, false
}

// ScaleTo20 expresses mark on the customary /20 scale.
func ScaleTo20(mark, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return mark / max * 20
}
