// Package scoring holds the pure scoring functions of the memory graph:
// provenance-based trust, confidence, biological decay strength, and the
// token estimator used by budget-aware context assembly.
package scoring

import (
	"math"
	"time"
)

// sourceWeights maps a provenance source to its base trust.
// Process-wide and immutable.
var sourceWeights = map[string]float64{
	"user_explicit": 1.0,
	"system":        0.95,
	"tool_output":   0.85,
	"user_implicit": 0.7,
	"document":      0.6,
	"inference":     0.5,
}

// defaultSourceWeight applies to unknown sources.
const defaultSourceWeight = 0.5

// SourceWeight returns the base trust for a provenance source.
func SourceWeight(source string) float64 {
	if w, ok := sourceWeights[source]; ok {
		return w
	}
	return defaultSourceWeight
}

// Trust computes the trust score for a memory from its provenance source,
// corroboration count, reinforcement/dispute feedback, and age.
// The result is clamped to [0,1].
func Trust(source string, corroboration, reinforcements, disputes int, age time.Duration) float64 {
	trust := SourceWeight(source)

	if corroboration > 1 {
		trust += math.Min(0.2, float64(corroboration-1)*0.05)
	}

	if total := reinforcements + disputes; total > 0 {
		feedback := float64(reinforcements-disputes) / float64(total)
		trust += feedback * 0.15
	}

	ageDays := age.Hours() / 24
	if ageDays > 0 {
		trust -= math.Min(0.1, ageDays/365*0.1)
	}

	return clamp01(trust)
}

// Confidence is trust rounded to 4 decimals.
func Confidence(trust float64) float64 {
	return math.Round(trust*10000) / 10000
}

// categoryWeights bias decay toward keeping decisions and preferences alive.
var categoryWeights = map[string]float64{
	"decision":   1.3,
	"preference": 1.4,
	"insight":    1.1,
}

func categoryWeight(category string) float64 {
	if w, ok := categoryWeights[category]; ok {
		return w
	}
	return 1.0
}

// DecayInput carries the per-memory state the strength computation reads.
type DecayInput struct {
	Importance  float64
	Category    string
	Stability   float64 // SM-2 stability; 0 means unset (legacy mode)
	AgeDays     float64 // days since created_at
	TouchDays   float64 // days since updated_at
	AccessCount int
	LinkCount   int
}

// Strength computes the decay strength of a memory.
//
// When SM-2 stability is set, retrievability decays exponentially with time
// since last touch scaled by stability. Otherwise the legacy half-life model
// applies, combining age and touch factors with an access bonus.
func Strength(in DecayInput, halfLifeDays float64) float64 {
	catw := categoryWeight(in.Category)
	linkBonus := math.Min(0.3, float64(in.LinkCount)*0.05)

	if in.Stability > 0 {
		retrievability := math.Exp(-0.5 * in.TouchDays / math.Max(0.1, in.Stability))
		return math.Min(1, in.Importance*retrievability*catw) + linkBonus
	}

	if halfLifeDays <= 0 {
		halfLifeDays = 30
	}
	ageFactor := math.Max(0.1, math.Pow(0.5, in.AgeDays/halfLifeDays))
	touchFactor := math.Max(0.1, math.Pow(0.5, in.TouchDays/(2*halfLifeDays)))
	accessBonus := math.Min(0.2, float64(in.AccessCount)*0.02)

	return math.Min(1, in.Importance*ageFactor*touchFactor*catw) + linkBonus + accessBonus
}

// EstimateTokens approximates the token count of a text as ceil(len/4).
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
