package models

type QualityStatus string

const (
	QualityExcellent     QualityStatus = "excellent"
	QualityAttention     QualityStatus = "attention"
	QualityProblematique QualityStatus = "problematique"
)

func (s QualityStatus) String() string {
	return string(s)
}

type IssueCode string

const (
	IssueNoPapers          IssueCode = "no_papers"
	IssueUnreadablePapers  IssueCode = "unreadable_papers"
	IssueMissingIDs        IssueCode = "missing_ids"
	IssueMeanTooHigh       IssueCode = "mean_too_high"
	IssueMeanTooLow        IssueCode = "mean_too_low"
	IssueLowDiscrimination IssueCode = "low_discrimination"
)

type QualityIssue struct {
	Code    IssueCode `json:"code"`
	Message string    `json:"message"`
}

type Distribution struct {
	Count    int        `json:"count"`
	Mean     float64    `json:"mean"`
	Median   float64    `json:"median"`
	Std      float64    `json:"std"`
	Min      float64    `json:"min"`
	Max      float64    `json:"max"`
	Quartile [3]float64 `json:"quartiles"`
}

type QualityReport struct {
	Status       QualityStatus  `json:"status"`
	Issues       []QualityIssue `json:"issues"`
	Score        int            `json:"quality_score"`
	MaxMark      float64        `json:"max_mark"`
	Distribution Distribution   `json:"distribution"`
	Summary      CaptureSummary `json:"summary"`
}

type HistogramBucket struct {
	Range string `json:"range"`
	Count int    `json:"count"`
}

type QuestionStatistics struct {
	Number      int     `json:"number"`
	ID          string  `json:"id"`
	SuccessRate float64 `json:"success_rate"`
	WrongRate   float64 `json:"wrong_rate"`
	BlankRate   float64 `json:"blank_rate"`
	Difficulty  string  `json:"difficulty"`
}

type GeneralStatistics struct {
	Students  int     `json:"students"`
	Questions int     `json:"questions"`
	MaxMark   float64 `json:"max_mark"`
	Mean20    float64 `json:"mean_20"`
	PassRate  float64 `json:"pass_rate"`
	Policy    string  `json:"policy"`
}

type AnalysisStatistics struct {
	Status             QualityStatus     `json:"status"`
	QualityScore       int               `json:"quality_score"`
	Issues             []QualityIssue    `json:"issues"`
	DifficultQuestions []int             `json:"difficult_questions"`
	Histogram          []HistogramBucket `json:"histogram"`
}

// Statistics is the document written to exports/statistics.json.
type Statistics struct {
	General      GeneralStatistics    `json:"general"`
	Analysis     AnalysisStatistics   `json:"analysis"`
	Questions    []QuestionStatistics `json:"questions"`
	Distribution Distribution         `json:"distribution"`
}
