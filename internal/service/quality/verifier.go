package quality

import (
	"fmt"

	"github.com/RubachokBoss/qcm-grader/internal/models"
	"github.com/rs/zerolog"
)

type Thresholds struct {
	HighMean          float64
	LowMean           float64
	LowDiscrimination float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{HighMean: 0.9, LowMean: 0.25, LowDiscrimination: 0.05}
}

type Verifier interface {
	Verify(records []models.ScoreRecord, summary models.CaptureSummary) models.QualityReport
}

type verifier struct {
	thresholds Thresholds
	logger     zerolog.Logger
}

func NewVerifier(thresholds Thresholds, logger zerolog.Logger) Verifier {
	return &verifier{
		thresholds: thresholds,
		logger:     logger,
	}
}

func (v *verifier) Verify(records []models.ScoreRecord, summary models.CaptureSummary) models.QualityReport {
	report := models.QualityReport{
		Issues:       []models.QualityIssue{},
		Distribution: Describe(marksOf(records)),
		Summary:      summary,
	}
	if len(records) > 0 {
		report.MaxMark = records[0].MaxMark
	}

	issue := func(code models.IssueCode, format string, args ...interface{}) {
		report.Issues = append(report.Issues, models.QualityIssue{Code: code, Message: fmt.Sprintf(format, args...)})
	}

	if summary.Papers == 0 && len(records) == 0 {
		issue(models.IssueNoPapers, "no paper was detected")
	}
	if summary.Unreadable > 0 {
		issue(models.IssueUnreadablePapers, "%d paper(s) could not be read", summary.Unreadable)
	}
	if summary.MissingIDs > 0 {
		issue(models.IssueMissingIDs, "%d paper(s) without a student identifier", summary.MissingIDs)
	}

	if len(records) > 0 && report.MaxMark > 0 {
		mean := report.Distribution.Mean
		max := report.MaxMark
		t := v.thresholds
		if mean > t.HighMean*max {
			issue(models.IssueMeanTooHigh, "mean %.2f/%.2f is above %.0f%% of the maximum", mean, max, t.HighMean*100)
		}
		if mean < t.LowMean*max {
			issue(models.IssueMeanTooLow, "mean %.2f/%.2f is below %.0f%% of the maximum", mean, max, t.LowMean*100)
		}
		if report.Distribution.Std < t.LowDiscrimination*max {
			issue(models.IssueLowDiscrimination, "standard deviation %.3f shows little discrimination between students", report.Distribution.Std)
		}
	}

	report.Status = statusFor(len(report.Issues))
	report.Score = scoreFor(len(report.Issues))

	v.logger.Info().
		Str("status", report.Status.String()).
		Int("issues", len(report.Issues)).
		Int("quality_score", report.Score).
		Float64("mean", report.Distribution.Mean).
		Float64("std", report.Distribution.Std).
		Msg("Quality verified")

	return report
}

func statusFor(issues int) models.QualityStatus {
	switch {
	case issues == 0:
		return models.QualityExcellent
	case issues >= 3:
		return models.QualityProblematique
	default:
		return models.QualityAttention
	}
}

func scoreFor(issues int) int {
	score := 100 - 20*issues
	if score < 0 {
		return 0
	}
	return score
}
