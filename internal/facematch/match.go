// Package facematch turns raw feature-vector similarity into an
// accept/reject decision. It consumes vectors produced by the external
// extractor; how pixels become vectors is not its concern.
package facematch

import "math"

// Candidate pairs a stored feature vector with the identity it belongs to.
type Candidate struct {
	IdentityID int64
	Vector     []float64
}

// Result is the outcome of a match attempt. BestScore is reported even
// when the match is rejected so callers can surface near misses.
type Result struct {
	Accepted   bool
	IdentityID int64
	BestScore  float64
}

// Match scores probe against every candidate and accepts the best one
// iff its score reaches tolerance. Candidates whose vectors do not share
// the probe's dimensionality are skipped. Ties go to the lowest identity
// id so the outcome is reproducible.
func Match(probe []float64, candidates []Candidate, tolerance float64) Result {
	bestID := int64(0)
	bestScore := 0.0
	found := false
	for _, cand := range candidates {
		if len(cand.Vector) != len(probe) || len(cand.Vector) == 0 {
			continue
		}
		score := Similarity(probe, cand.Vector)
		switch {
		case !found:
			bestID, bestScore, found = cand.IdentityID, score, true
		case score > bestScore:
			bestID, bestScore = cand.IdentityID, score
		case score == bestScore && cand.IdentityID < bestID:
			bestID = cand.IdentityID
		}
	}
	if !found {
		return Result{}
	}
	if bestScore < tolerance {
		// Rejected: identity stays unset, the score survives for
		// near-miss diagnostics.
		return Result{BestScore: bestScore}
	}
	return Result{Accepted: true, IdentityID: bestID, BestScore: bestScore}
}

// Similarity maps cosine similarity into [0,1]. Opposed vectors clamp
// to 0; a zero-norm vector scores 0 against everything.
func Similarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if cos < 0 {
		return 0
	}
	if cos > 1 {
		return 1
	}
	return cos
}
