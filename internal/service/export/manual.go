package export

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/RubachokBoss/qcm-grader/internal/models"
	"github.com/go-pdf/fpdf"
)

const (
	ManualFileName = "corrections-manual.pdf"
	noSelection    = "no selection"
)

func choiceLabels(choices []int) string {
	if len(choices) == 0 {
		return noSelection
	}
	parts := make([]string, len(choices))
	for i, c := range choices {
		parts[i] = string(rune('A' + c - 1))
	}
	return strings.Join(parts, ", ")
}

// recordedAnswer is what the sheet shows for the student's answer. Blank and
// ambiguous answers both read as no selection.
func recordedAnswer(a models.QuestionScore, ok bool) string {
	if !ok || a.Outcome == models.OutcomeBlank || a.Outcome == models.OutcomeAmbiguous {
		return noSelection
	}
	return choiceLabels(a.Marked)
}

// RenderManual writes one page per student comparing the correct answers
// with the recorded ones, the mark printed large at the top.
func RenderManual(path string, scores []models.ScoreRecord, key models.AnswerKey, names map[string]string) (int, error) {
	if len(key) == 0 {
		return 0, models.ErrAnswerKeyMissing
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Corrections", true)
	pdf.SetAutoPageBreak(true, 15)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	for _, s := range scores {
		pdf.AddPage()

		name := names[s.StudentID]
		if isPlaceholder(name) {
			name = ""
		}
		pdf.SetFont("Helvetica", "B", 14)
		pdf.CellFormat(0, 8, tr(strings.TrimSpace(fmt.Sprintf("%s  %s", s.StudentID, name))), "", 1, "L", false, 0, "")

		pdf.SetFont("Helvetica", "B", 36)
		mark := fmt.Sprintf("%s / %s", formatNumber(s.Mark), formatNumber(s.MaxMark))
		pdf.CellFormat(0, 20, mark, "", 1, "C", false, 0, "")
		pdf.SetFont("Helvetica", "", 12)
		pdf.CellFormat(0, 6, fmt.Sprintf("%.2f / 20", models.ScaleTo20(s.Mark, s.MaxMark)), "", 1, "C", false, 0, "")
		pdf.Ln(6)

		pdf.SetFont("Helvetica", "B", 10)
		pdf.SetFillColor(230, 230, 230)
		for _, h := range []struct {
			label string
			width float64
		}{{"#", 12}, {"Question", 88}, {"Correct", 30}, {"Answer", 30}, {"Points", 20}} {
			pdf.CellFormat(h.width, 7, h.label, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)

		pdf.SetFont("Helvetica", "", 10)
		for _, e := range key {
			answer, ok := s.Answer(e.Number)
			text := e.Text
			if len([]rune(text)) > 55 {
				text = string([]rune(text)[:52]) + "..."
			}
			pdf.CellFormat(12, 7, strconv.Itoa(e.Number), "1", 0, "C", false, 0, "")
			pdf.CellFormat(88, 7, tr(text), "1", 0, "L", false, 0, "")
			pdf.CellFormat(30, 7, choiceLabels(e.Correct), "1", 0, "C", false, 0, "")
			pdf.CellFormat(30, 7, recordedAnswer(answer, ok), "1", 0, "C", false, 0, "")
			pdf.CellFormat(20, 7, formatNumber(answer.Points), "1", 0, "R", false, 0, "")
			pdf.Ln(-1)
		}
	}

	if err := pdf.OutputFileAndClose(path); err != nil {
		return 0, fmt.Errorf("failed to render manual corrections: %w", err)
	}
	return len(scores), nil
}
