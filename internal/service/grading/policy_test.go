package grading

import (
	"testing"

	"github.com/RubachokBoss/qcm-grader/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	assert.Equal(t, models.Policy{Name: "harsh", Correct: 1, Wrong: -1, Ambiguous: -0.25}, Lookup("harsh"))
	assert.Equal(t, PolicyNoPenalty, Lookup(" No_Penalty ").Name)
	assert.Equal(t, PolicyStandard, Lookup("does-not-exist").Name)
	assert.Equal(t, PolicyStandard, Lookup("").Name)
}

func TestPolicies_StableOrder(t *testing.T) {
	names := []string{}
	for _, p := range Policies() {
		names = append(names, p.Name)
		assert.True(t, p.Finite())
	}
	assert.Equal(t, []string{"standard", "penalized", "no_penalty", "harsh", "bonus"}, names)
}

func TestAdaptiveWeights_Bands(t *testing.T) {
	bands := DefaultAdaptiveBands()

	easy := AdaptiveWeights(0.9, bands)
	assert.Equal(t, []float64{1, -0.75, -0.5}, []float64{easy.Correct, easy.Wrong, easy.Ambiguous})

	mid := AdaptiveWeights(0.6, bands)
	assert.Equal(t, []float64{1, -0.5, -0.25}, []float64{mid.Correct, mid.Wrong, mid.Ambiguous})

	hard := AdaptiveWeights(0.2, bands)
	assert.Equal(t, []float64{1.5, -0.25, 0}, []float64{hard.Correct, hard.Wrong, hard.Ambiguous})

	// Boundaries belong to the middle band.
	assert.Equal(t, mid, AdaptiveWeights(0.8, bands))
	assert.Equal(t, mid, AdaptiveWeights(0.4, bands))
}

func TestAdaptiveWeights_MonotonicCorrectWeight(t *testing.T) {
	bands := DefaultAdaptiveBands()
	prev := AdaptiveWeights(1, bands).Correct
	for d := 1.0; d >= 0; d -= 0.05 {
		w := AdaptiveWeights(d, bands).Correct
		assert.GreaterOrEqual(t, w, prev, "d=%.2f", d)
		prev = w
	}
	assert.GreaterOrEqual(t, AdaptiveWeights(0.3, bands).Correct, AdaptiveWeights(0.5, bands).Correct)
}

func TestResolve_AdaptiveWithoutDetections(t *testing.T) {
	p := Resolve(PolicyAdaptive, nil, singleKey(), DefaultAdaptiveBands())
	assert.Equal(t, PolicyAdaptive, p.Name)
	assert.Equal(t, -0.5, p.Wrong)
	assert.Equal(t, -0.5, p.Ambiguous)
	assert.Nil(t, p.Difficulty)
}

func TestResolve_AdaptiveUsesDifficulty(t *testing.T) {
	// One correct student out of four: d = 0.25, hard band.
	det := append(marked("1", 1, 2), marked("2", 1, 1)...)
	det = append(det, marked("3", 1, 3)...)
	det = append(det, marked("4", 1)...)

	p := Resolve("ADAPTIVE", det, singleKey(), DefaultAdaptiveBands())
	require.NotNil(t, p.Difficulty)
	assert.InDelta(t, 0.25, *p.Difficulty, 1e-9)
	assert.Equal(t, 1.5, p.Correct)
}

func TestResolve_FixedIgnoresDetections(t *testing.T) {
	p := Resolve(PolicyBonus, marked("1", 1, 2), singleKey(), DefaultAdaptiveBands())
	assert.Equal(t, Lookup(PolicyBonus), p)
}

func TestDifficulty(t *testing.T) {
	key := models.AnswerKey{{Number: 1, Correct: []int{2}}, {Number: 2, Correct: []int{1}}}
	det := append(marked("1", 1, 2), marked("1", 2, 1)...)
	det = append(det, marked("2", 1, 2)...)
	det = append(det, marked("2", 2, 3)...)

	// q1: 2/2, q2: 1/2
	assert.InDelta(t, 0.75, Difficulty(det, key), 1e-9)
}
