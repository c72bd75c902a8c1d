package facematch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// scaled returns v scaled by f; cosine similarity against v stays 1.
func scaled(v []float64, f float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = v[i] * f
	}
	return out
}

func TestMatchPicksHighestScore(t *testing.T) {
	probe := []float64{1, 0, 0}
	// Scores against probe: 0.65, 0.72, 0.9 (vectors built so that the
	// first component is the cosine against the unit x axis).
	candidates := []Candidate{
		{IdentityID: 11, Vector: unitWithCos(0.65)},
		{IdentityID: 12, Vector: unitWithCos(0.72)},
		{IdentityID: 13, Vector: unitWithCos(0.9)},
	}

	res := Match(probe, candidates, 0.7)
	assert.True(t, res.Accepted)
	assert.Equal(t, int64(13), res.IdentityID)
	assert.InDelta(t, 0.9, res.BestScore, 1e-9)
}

func TestMatchEmptyCandidates(t *testing.T) {
	res := Match([]float64{1, 0, 0}, nil, 0.7)
	assert.False(t, res.Accepted)
	assert.Equal(t, int64(0), res.IdentityID)
	assert.Equal(t, 0.0, res.BestScore)
}

func TestMatchRejectionReportsBestScore(t *testing.T) {
	probe := []float64{1, 0, 0}
	candidates := []Candidate{
		{IdentityID: 5, Vector: unitWithCos(0.55)},
		{IdentityID: 6, Vector: unitWithCos(0.42)},
	}

	res := Match(probe, candidates, 0.7)
	assert.False(t, res.Accepted)
	assert.Equal(t, int64(0), res.IdentityID)
	assert.InDelta(t, 0.55, res.BestScore, 1e-9)
}

func TestMatchAcceptsExactlyAtTolerance(t *testing.T) {
	probe := []float64{1, 0, 0}
	res := Match(probe, []Candidate{{IdentityID: 9, Vector: probe}}, 1.0)
	assert.True(t, res.Accepted)
	assert.Equal(t, int64(9), res.IdentityID)
}

func TestMatchSkipsMalformedVectors(t *testing.T) {
	probe := []float64{1, 0, 0}
	candidates := []Candidate{
		{IdentityID: 1, Vector: []float64{1, 0}},    // wrong dimensionality
		{IdentityID: 2, Vector: nil},                // empty
		{IdentityID: 3, Vector: unitWithCos(0.95)},  // only real candidate
		{IdentityID: 4, Vector: []float64{1, 0, 0, 0}},
	}

	res := Match(probe, candidates, 0.7)
	assert.True(t, res.Accepted)
	assert.Equal(t, int64(3), res.IdentityID)
}

func TestMatchAllCandidatesMalformed(t *testing.T) {
	probe := []float64{1, 0, 0}
	candidates := []Candidate{
		{IdentityID: 1, Vector: []float64{1}},
		{IdentityID: 2, Vector: []float64{1, 0, 0, 0}},
	}

	res := Match(probe, candidates, 0.1)
	assert.False(t, res.Accepted)
	assert.Equal(t, int64(0), res.IdentityID)
	assert.Equal(t, 0.0, res.BestScore)
}

func TestMatchTieBreaksOnLowestIdentity(t *testing.T) {
	probe := []float64{1, 0, 0}
	same := unitWithCos(0.8)
	candidates := []Candidate{
		{IdentityID: 42, Vector: same},
		{IdentityID: 7, Vector: scaled(same, 3)}, // same cosine, lower id
		{IdentityID: 50, Vector: same},
	}

	res := Match(probe, candidates, 0.7)
	assert.True(t, res.Accepted)
	assert.Equal(t, int64(7), res.IdentityID)
	assert.InDelta(t, 0.8, res.BestScore, 1e-9)
}

func TestSimilarity(t *testing.T) {
	a := []float64{1, 0, 0}

	assert.InDelta(t, 1.0, Similarity(a, a), 1e-9)
	assert.InDelta(t, 1.0, Similarity(a, scaled(a, 10)), 1e-9)
	assert.Equal(t, 0.0, Similarity(a, []float64{0, 1, 0}))
	// Opposed vectors clamp to zero rather than going negative.
	assert.Equal(t, 0.0, Similarity(a, []float64{-1, 0, 0}))
	assert.Equal(t, 0.0, Similarity(a, []float64{0, 0, 0}))
	assert.Equal(t, 0.0, Similarity(a, []float64{1, 0}))
	assert.Equal(t, 0.0, Similarity(nil, nil))
}

// unitWithCos builds a unit vector whose cosine against (1,0,0) is c.
func unitWithCos(c float64) []float64 {
	s := 1 - c*c
	if s < 0 {
		s = 0
	}
	return []float64{c, math.Sqrt(s), 0}
}
