package quality

import (
	"testing"

	"github.com/RubachokBoss/qcm-grader/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordsOf(max float64, marks ...float64) []models.ScoreRecord {
	out := make([]models.ScoreRecord, len(marks))
	for i, m := range marks {
		out[i] = models.ScoreRecord{StudentID: string(rune('a' + i)), Mark: m, MaxMark: max}
	}
	return out
}

func codes(r models.QualityReport) []models.IssueCode {
	var out []models.IssueCode
	for _, i := range r.Issues {
		out = append(out, i.Code)
	}
	return out
}

func TestVerify_LowDiscrimination(t *testing.T) {
	v := NewVerifier(DefaultThresholds(), zerolog.Nop())

	report := v.Verify(recordsOf(20, 12, 13, 12.5, 13.5, 12), models.CaptureSummary{Papers: 5})

	assert.Equal(t, models.QualityAttention, report.Status)
	assert.Equal(t, 80, report.Score)
	assert.Equal(t, []models.IssueCode{models.IssueLowDiscrimination}, codes(report))
	assert.InDelta(t, 12.6, report.Distribution.Mean, 1e-9)
	assert.InDelta(t, 0.583, report.Distribution.Std, 1e-3)
}

func TestVerify_Excellent(t *testing.T) {
	v := NewVerifier(DefaultThresholds(), zerolog.Nop())

	report := v.Verify(recordsOf(20, 4, 8, 12, 16, 18), models.CaptureSummary{Papers: 5})
	assert.Equal(t, models.QualityExcellent, report.Status)
	assert.Equal(t, 100, report.Score)
	assert.Empty(t, report.Issues)
}

func TestVerify_NoPapers(t *testing.T) {
	v := NewVerifier(DefaultThresholds(), zerolog.Nop())

	report := v.Verify(nil, models.CaptureSummary{})
	assert.Equal(t, []models.IssueCode{models.IssueNoPapers}, codes(report))
	assert.Equal(t, models.QualityAttention, report.Status)
	assert.Equal(t, 80, report.Score)
}

func TestVerify_Problematique(t *testing.T) {
	v := NewVerifier(DefaultThresholds(), zerolog.Nop())

	report := v.Verify(recordsOf(20, 19, 19, 19), models.CaptureSummary{Papers: 3, Unreadable: 1, MissingIDs: 2})

	assert.ElementsMatch(t, []models.IssueCode{
		models.IssueUnreadablePapers,
		models.IssueMissingIDs,
		models.IssueMeanTooHigh,
		models.IssueLowDiscrimination,
	}, codes(report))
	assert.Equal(t, models.QualityProblematique, report.Status)
	assert.Equal(t, 20, report.Score)
}

func TestVerify_ScoreFloorsAtZero(t *testing.T) {
	assert.Equal(t, 0, scoreFor(6))
	assert.Equal(t, models.QualityProblematique, statusFor(6))
}

func TestVerify_MeanTooLow(t *testing.T) {
	v := NewVerifier(DefaultThresholds(), zerolog.Nop())

	report := v.Verify(recordsOf(20, 0, 2, 4, 6), models.CaptureSummary{Papers: 4})
	assert.Equal(t, []models.IssueCode{models.IssueMeanTooLow}, codes(report))
}

func TestDescribe(t *testing.T) {
	d := Describe([]float64{1, 2, 3, 4})
	assert.Equal(t, 4, d.Count)
	assert.InDelta(t, 2.5, d.Mean, 1e-9)
	assert.InDelta(t, 2.5, d.Median, 1e-9)
	assert.InDelta(t, 1.75, d.Quartile[0], 1e-9)
	assert.InDelta(t, 3.25, d.Quartile[2], 1e-9)
	assert.Equal(t, 1.0, d.Min)
	assert.Equal(t, 4.0, d.Max)

	single := Describe([]float64{7})
	assert.Equal(t, 7.0, single.Median)
	assert.Equal(t, 0.0, single.Std)

	assert.Equal(t, 0, Describe(nil).Count)
}

func TestBuildStatistics(t *testing.T) {
	key := models.AnswerKey{{Number: 1, ID: "q1"}, {Number: 2, ID: "q2"}}
	records := []models.ScoreRecord{
		{StudentID: "1", Mark: 2, MaxMark: 2, Breakdown: []models.QuestionScore{
			{Question: 1, Outcome: models.OutcomeCorrect}, {Question: 2, Outcome: models.OutcomeCorrect}}},
		{StudentID: "2", Mark: 1, MaxMark: 2, Breakdown: []models.QuestionScore{
			{Question: 1, Outcome: models.OutcomeCorrect}, {Question: 2, Outcome: models.OutcomeBlank}}},
		{StudentID: "3", Mark: 0, MaxMark: 2, Breakdown: []models.QuestionScore{
			{Question: 1, Outcome: models.OutcomeWrong}, {Question: 2, Outcome: models.OutcomeWrong}}},
	}
	report := NewVerifier(DefaultThresholds(), zerolog.Nop()).Verify(records, models.CaptureSummary{Papers: 3})

	stats := BuildStatistics(records, key, "standard", report)

	assert.Equal(t, 3, stats.General.Students)
	assert.InDelta(t, 2.0/3.0, stats.General.PassRate, 1e-9)
	assert.InDelta(t, 10, stats.General.Mean20, 1e-9)
	require.Len(t, stats.Questions, 2)
	assert.InDelta(t, 2.0/3.0, stats.Questions[0].SuccessRate, 1e-9)
	assert.InDelta(t, 1.0/3.0, stats.Questions[1].BlankRate, 1e-9)
	assert.Equal(t, "hard", stats.Questions[1].Difficulty)
	assert.Equal(t, []int{2}, stats.Analysis.DifficultQuestions)

	total := 0
	for _, b := range stats.Analysis.Histogram {
		total += b.Count
	}
	assert.Equal(t, 3, total)
	assert.Equal(t, 1, stats.Analysis.Histogram[3].Count)
	assert.Equal(t, 1, stats.Analysis.Histogram[2].Count)
	assert.Equal(t, 1, stats.Analysis.Histogram[0].Count)
}
