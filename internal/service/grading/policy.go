package grading

import (
	"strings"

	"github.com/RubachokBoss/qcm-grader/internal/models"
)

const (
	PolicyStandard  = "standard"
	PolicyPenalized = "penalized"
	PolicyNoPenalty = "no_penalty"
	PolicyHarsh     = "harsh"
	PolicyBonus     = "bonus"
	PolicyAdaptive  = "adaptive"

	DefaultPolicy = PolicyStandard
)

var fixedPolicies = []models.Policy{
	{Name: PolicyStandard, Correct: 1, Wrong: 0, Ambiguous: 0},
	{Name: PolicyPenalized, Correct: 1, Wrong: -0.5, Ambiguous: -0.5},
	{Name: PolicyNoPenalty, Correct: 1, Wrong: 0, Ambiguous: 0},
	{Name: PolicyHarsh, Correct: 1, Wrong: -1, Ambiguous: -0.25},
	{Name: PolicyBonus, Correct: 1.2, Wrong: -0.3, Ambiguous: 0},
}

// AdaptiveBands holds the difficulty thresholds of the adaptive policy.
type AdaptiveBands struct {
	Easy float64
	Hard float64
}

func DefaultAdaptiveBands() AdaptiveBands {
	return AdaptiveBands{Easy: 0.8, Hard: 0.4}
}

// Policies lists the fixed policies in stable order.
func Policies() []models.Policy {
	out := make([]models.Policy, len(fixedPolicies))
	copy(out, fixedPolicies)
	return out
}

// Lookup returns the fixed policy with the given name. Unknown names,
// including adaptive, resolve to standard.
func Lookup(name string) models.Policy {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, p := range fixedPolicies {
		if p.Name == name {
			return p
		}
	}
	return fixedPolicies[0]
}

func IsAdaptive(name string) bool {
	return strings.EqualFold(strings.TrimSpace(name), PolicyAdaptive)
}

// Resolve returns the effective policy for a run. Adaptive weights depend on
// the population's detections.
func Resolve(name string, detections []models.DetectionRecord, key models.AnswerKey, bands AdaptiveBands) models.Policy {
	if !IsAdaptive(name) {
		return Lookup(name)
	}
	if len(detections) == 0 || len(key) == 0 {
		p := Lookup(PolicyPenalized)
		p.Name = PolicyAdaptive
		return p
	}
	d := Difficulty(detections, key)
	p := AdaptiveWeights(d, bands)
	p.Difficulty = &d
	return p
}

// AdaptiveWeights maps a population success rate d in [0,1] to weights.
func AdaptiveWeights(d float64, bands AdaptiveBands) models.Policy {
	switch {
	case d > bands.Easy:
		return models.Policy{Name: PolicyAdaptive, Correct: 1, Wrong: -0.75, Ambiguous: -0.5}
	case d < bands.Hard:
		return models.Policy{Name: PolicyAdaptive, Correct: 1.5, Wrong: -0.25, Ambiguous: 0}
	default:
		return models.Policy{Name: PolicyAdaptive, Correct: 1, Wrong: -0.5, Ambiguous: -0.25}
	}
}

// Difficulty is the mean over questions of the fraction of students whose
// answer is fully correct.
func Difficulty(detections []models.DetectionRecord, key models.AnswerKey) float64 {
	marks := models.Marks(detections)
	students := len(marks)
	if students == 0 || len(key) == 0 {
		return 0
	}

	var sum float64
	for _, entry := range key {
		correct := 0
		for _, byQuestion := range marks {
			if Classify(byQuestion[entry.Number], entry) == models.OutcomeCorrect {
				correct++
			}
		}
		sum += float64(correct) / float64(students)
	}
	return sum / float64(len(key))
}
