package models

// ZoneRole identifies what a layout zone is used for. Values follow the
// recognition engine's box roles.
type ZoneRole int

const (
	ZoneRoleAnswer     ZoneRole = 1
	ZoneRoleIdentifier ZoneRole = 2
	ZoneRoleScoreField ZoneRole = 3
)

type LayoutPage struct {
	Sheet  int     `json:"sheet"`
	Page   int     `json:"page"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	DPI    float64 `json:"dpi"`
}

type Zone struct {
	Sheet    int      `json:"sheet"`
	Page     int      `json:"page"`
	Question int      `json:"question"`
	Answer   int      `json:"answer"`
	Role     ZoneRole `json:"role"`
	XMin     float64  `json:"xmin"`
	XMax     float64  `json:"xmax"`
	YMin     float64  `json:"ymin"`
	YMax     float64  `json:"ymax"`
	Flags    int      `json:"flags"`
}

type LayoutDescriptor struct {
	StorePath     string         `json:"store_path"`
	Pages         []LayoutPage   `json:"pages"`
	Zones         []Zone         `json:"zones"`
	QuestionNames map[int]string `json:"question_names,omitempty"`
}

// Valid reports whether the descriptor can drive recognition.
func (d *LayoutDescriptor) Valid() bool {
	return d != nil && len(d.Pages) > 0 && len(d.Zones) > 0
}

func (d *LayoutDescriptor) ZoneCount() int {
	if d == nil {
		return 0
	}
	return len(d.Zones)
}

func (d *LayoutDescriptor) PageCount() int {
	if d == nil {
		return 0
	}
	return len(d.Pages)
}

// AnswerZonesByQuestion counts answer zones per question number.
func (d *LayoutDescriptor) AnswerZonesByQuestion() map[int]int {
	out := make(map[int]int)
	if d == nil {
		return out
	}
	for _, z := range d.Zones {
		if z.Role == ZoneRoleAnswer {
			out[z.Question]++
		}
	}
	return out
}

// PagesPerSheet returns the number of pages of each printed sheet.
func (d *LayoutDescriptor) PagesPerSheet() map[int]int {
	out := make(map[int]int)
	if d == nil {
		return out
	}
	for _, p := range d.Pages {
		out[p.Sheet]++
	}
	return out
}

// QuestionPositions maps the engine's internal question numbers to 1-based
// positions in key, matching on question names. Without names the mapping is
// the identity over key.
func (d *LayoutDescriptor) QuestionPositions(key AnswerKey) map[int]int {
	out := make(map[int]int, len(key))
	if d == nil || len(d.QuestionNames) == 0 {
		for _, e := range key {
			out[e.Number] = e.Number
		}
		return out
	}
	byName := make(map[string]int, len(key))
	for _, e := range key {
		byName[QuestionName(e.ID)] = e.Number
	}
	for internal, name := range d.QuestionNames {
		if pos, ok := byName[name]; ok {
			out[internal] = pos
		}
	}
	return out
}

// RemapQuestions rewrites detection question numbers through positions and
// drops detections for questions outside the mapping.
func RemapQuestions(detections []DetectionRecord, positions map[int]int) []DetectionRecord {
	out := make([]DetectionRecord, 0, len(detections))
	for _, det := range detections {
		pos, ok := positions[det.Question]
		if !ok {
			continue
		}
		det.Question = pos
		out = append(out, det)
	}
	return out
}
