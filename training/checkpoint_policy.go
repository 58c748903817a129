package training

import "math"

// BestModelPolicy decides when an evaluation result deserves a checkpoint.
// Best only ever increases.
type BestModelPolicy struct {
	best float64
}

// NewBestModelPolicy creates a policy with no accuracy seen yet.
func NewBestModelPolicy() *BestModelPolicy {
	return &BestModelPolicy{best: math.Inf(-1)}
}

// RestoreBestModelPolicy creates a policy that must beat best, as when resuming.
func RestoreBestModelPolicy(best float64) *BestModelPolicy {
	return &BestModelPolicy{best: best}
}

// Consider reports whether accuracy strictly exceeds the best seen so far and,
// if so, records it as the new best. Ties do not qualify.
func (p *BestModelPolicy) Consider(accuracy float64) bool {
	if !(accuracy > p.best) {
		return false
	}
	p.best = accuracy
	return true
}

// Best returns the best accuracy seen, or 0 before any was recorded.
func (p *BestModelPolicy) Best() float64 {
	if math.IsInf(p.best, -1) {
		return 0
	}
	return p.best
}
