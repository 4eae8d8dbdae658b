package quality

import (
	"fmt"
	"math"
	"sort"

	"github.com/RubachokBoss/qcm-grader/internal/models"
)

// Describe computes the distribution of marks. Std is the population
// standard deviation; quartiles use linear interpolation between ranks.
func Describe(marks []float64) models.Distribution {
	d := models.Distribution{Count: len(marks)}
	if len(marks) == 0 {
		return d
	}

	sorted := make([]float64, len(marks))
	copy(sorted, marks)
	sort.Float64s(sorted)

	var sum float64
	for _, m := range sorted {
		sum += m
	}
	d.Mean = sum / float64(len(sorted))

	var sq float64
	for _, m := range sorted {
		sq += (m - d.Mean) * (m - d.Mean)
	}
	d.Std = math.Sqrt(sq / float64(len(sorted)))

	d.Min = sorted[0]
	d.Max = sorted[len(sorted)-1]
	d.Median = percentile(sorted, 0.5)
	d.Quartile = [3]float64{percentile(sorted, 0.25), d.Median, percentile(sorted, 0.75)}
	return d
}

func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func marksOf(records []models.ScoreRecord) []float64 {
	out := make([]float64, len(records))
	for i, r := range records {
		out[i] = r.Mark
	}
	return out
}

var histogramEdges = []float64{0, 5, 10, 15, 20}

// Histogram buckets marks on a /20 scale: [0,5) [5,10) [10,15) [15,20].
// Negative marks fall into the first bucket.
func Histogram(records []models.ScoreRecord) []models.HistogramBucket {
	buckets := make([]models.HistogramBucket, len(histogramEdges)-1)
	for i := range buckets {
		buckets[i].Range = fmt.Sprintf("%g-%g", histogramEdges[i], histogramEdges[i+1])
	}
	for _, r := range records {
		v := models.ScaleTo20(r.Mark, r.MaxMark)
		idx := 0
		for i := len(buckets) - 1; i >= 0; i-- {
			if v >= histogramEdges[i] {
				idx = i
				break
			}
		}
		buckets[idx].Count++
	}
	return buckets
}

// PassRate is the share of students scoring at least half the maximum.
func PassRate(records []models.ScoreRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	passed := 0
	for _, r := range records {
		if r.MaxMark > 0 && r.Mark >= r.MaxMark/2 {
			passed++
		}
	}
	return float64(passed) / float64(len(records))
}

func difficultyLabel(success float64) string {
	switch {
	case success >= 0.8:
		return "easy"
	case success >= 0.5:
		return "medium"
	default:
		return "hard"
	}
}

// QuestionStats computes per-question outcome rates in key order.
func QuestionStats(records []models.ScoreRecord, key models.AnswerKey) []models.QuestionStatistics {
	out := make([]models.QuestionStatistics, 0, len(key))
	n := float64(len(records))
	for _, entry := range key {
		qs := models.QuestionStatistics{Number: entry.Number, ID: entry.ID}
		if n > 0 {
			var correct, wrong, blank int
			for _, r := range records {
				a, ok := r.Answer(entry.Number)
				if !ok {
					blank++
					continue
				}
				switch a.Outcome {
				case models.OutcomeCorrect:
					correct++
				case models.OutcomeBlank:
					blank++
				default:
					wrong++
				}
			}
			qs.SuccessRate = float64(correct) / n
			qs.WrongRate = float64(wrong) / n
			qs.BlankRate = float64(blank) / n
		}
		qs.Difficulty = difficultyLabel(qs.SuccessRate)
		out = append(out, qs)
	}
	return out
}

const maxDifficultQuestions = 5

// DifficultQuestions returns up to five question numbers with a success
// rate under 50%, hardest first.
func DifficultQuestions(stats []models.QuestionStatistics) []int {
	var hard []models.QuestionStatistics
	for _, s := range stats {
		if s.SuccessRate < 0.5 {
			hard = append(hard, s)
		}
	}
	sort.SliceStable(hard, func(i, j int) bool {
		return hard[i].SuccessRate < hard[j].SuccessRate
	})
	if len(hard) > maxDifficultQuestions {
		hard = hard[:maxDifficultQuestions]
	}
	out := make([]int, len(hard))
	for i, s := range hard {
		out[i] = s.Number
	}
	return out
}

// BuildStatistics assembles the statistics document for a run.
func BuildStatistics(records []models.ScoreRecord, key models.AnswerKey, policy string, report models.QualityReport) models.Statistics {
	questions := QuestionStats(records, key)

	stats := models.Statistics{
		General: models.GeneralStatistics{
			Students:  len(records),
			Questions: len(key),
			MaxMark:   report.MaxMark,
			Mean20:    models.ScaleTo20(report.Distribution.Mean, report.MaxMark),
			PassRate:  PassRate(records),
			Policy:    policy,
		},
		Analysis: models.AnalysisStatistics{
			Status:             report.Status,
			QualityScore:       report.Score,
			Issues:             report.Issues,
			DifficultQuestions: DifficultQuestions(questions),
			Histogram:          Histogram(records),
		},
		Questions:    questions,
		Distribution: report.Distribution,
	}
	if stats.Analysis.Issues == nil {
		stats.Analysis.Issues = []models.QualityIssue{}
	}
	return stats
}
