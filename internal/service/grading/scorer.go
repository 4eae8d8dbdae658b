package grading

import (
	"github.com/RubachokBoss/qcm-grader/internal/models"
)

// Classify decides the outcome of one answer. marked must be sorted and
// free of duplicates.
func Classify(marked []int, entry models.KeyEntry) models.Outcome {
	if len(marked) == 0 {
		return models.OutcomeBlank
	}
	if equalInts(marked, entry.Correct) {
		return models.OutcomeCorrect
	}
	if !entry.Multiple && len(marked) > 1 {
		return models.OutcomeAmbiguous
	}
	if entry.Multiple && len(marked) < len(entry.Correct) && subset(marked, entry.Correct) {
		return models.OutcomePartial
	}
	return models.OutcomeWrong
}

func Weight(outcome models.Outcome, p models.Policy) float64 {
	switch outcome {
	case models.OutcomeCorrect:
		return p.Correct
	case models.OutcomeWrong:
		return p.Wrong
	default:
		return p.Ambiguous
	}
}

// Score computes one record per student found in detections, ordered by
// student id. Every question of key is scored, unanswered ones as blank.
func Score(detections []models.DetectionRecord, key models.AnswerKey, policy models.Policy) []models.ScoreRecord {
	marks := models.Marks(detections)
	ids := models.StudentIDs(detections)
	maxMark := float64(len(key)) * policy.Correct

	records := make([]models.ScoreRecord, 0, len(ids))
	for _, id := range ids {
		byQuestion := marks[id]
		record := models.ScoreRecord{
			StudentID: id,
			MaxMark:   maxMark,
			Breakdown: make([]models.QuestionScore, 0, len(key)),
		}
		for _, entry := range key {
			marked := byQuestion[entry.Number]
			outcome := Classify(marked, entry)
			points := Weight(outcome, policy)
			record.Mark += points
			record.Breakdown = append(record.Breakdown, models.QuestionScore{
				Question: entry.Number,
				Outcome:  outcome,
				Marked:   marked,
				Points:   points,
			})
		}
		records = append(records, record)
	}
	return records
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func subset(a, of []int) bool {
	set := make(map[int]struct{}, len(of))
	for _, v := range of {
		set[v] = struct{}{}
	}
	for _, v := range a {
		if _, ok := set[v]; !ok {
			return false
		}
	}
	return true
}
