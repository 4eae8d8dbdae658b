package models

import "sort"

// UnresolvedName is what the recognition engine reports for a paper whose
// name field it could not associate with a student.
const UnresolvedName = "?"

type DetectionRecord struct {
	StudentID string `json:"student_id"`
	Question  int    `json:"question"`
	Choice    int    `json:"choice"`
	Marked    bool   `json:"marked"`
}

type Paper struct {
	Key        string `json:"key"`
	StudentID  string `json:"student_id"`
	Name       string `json:"name"`
	Pages      int    `json:"pages"`
	Unreadable bool   `json:"unreadable"`
	MissingID  bool   `json:"missing_id"`
}

// Capture is what one analysis pass recorded.
type Capture struct {
	Detections []DetectionRecord `json:"detections"`
	Papers     []Paper           `json:"papers"`
}

type CaptureSummary struct {
	Papers     int `json:"papers"`
	Unreadable int `json:"unreadable"`
	MissingIDs int `json:"missing_ids"`
}

func (c *Capture) Summary() CaptureSummary {
	var s CaptureSummary
	if c == nil {
		return s
	}
	s.Papers = len(c.Papers)
	for _, p := range c.Papers {
		if p.Unreadable {
			s.Unreadable++
		}
		if p.MissingID {
			s.MissingIDs++
		}
	}
	return s
}

// Marks groups marked choices by student then question.
func Marks(detections []DetectionRecord) map[string]map[int][]int {
	out := make(map[string]map[int][]int)
	for _, d := range detections {
		byQuestion, ok := out[d.StudentID]
		if !ok {
			byQuestion = make(map[int][]int)
			out[d.StudentID] = byQuestion
		}
		if d.Marked {
			byQuestion[d.Question] = append(byQuestion[d.Question], d.Choice)
		} else if _, seen := byQuestion[d.Question]; !seen {
			byQuestion[d.Question] = nil
		}
	}
	for _, byQuestion := range out {
		for q, choices := range byQuestion {
			sort.Ints(choices)
			byQuestion[q] = dedupInts(choices)
		}
	}
	return out
}

func dedupInts(sorted []int) []int {
	if len(sorted) < 2 {
		return sorted
	}
	out := sorted[:1]
	for _, v := range sorted[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

// StudentIDs returns the distinct student ids of detections in sorted order.
func StudentIDs(detections []DetectionRecord) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, d := range detections {
		if _, ok := seen[d.StudentID]; ok {
			continue
		}
		seen[d.StudentID] = struct{}{}
		ids = append(ids, d.StudentID)
	}
	SortStudentIDs(ids)
	return ids
}

// SortStudentIDs orders ids numerically by canonical form when both are
// numeric and lexically otherwise.
func SortStudentIDs(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		return lessStudentID(ids[i], ids[j])
	})
}

func lessStudentID(a, b string) bool {
	ca, cb := CanonicalID(a), CanonicalID(b)
	if isDigits(ca) && isDigits(cb) {
		if len(ca) != len(cb) {
			return len(ca) < len(cb)
		}
		if ca != cb {
			return ca < cb
		}
	}
	return a < b
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
