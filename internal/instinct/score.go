package instinct

import (
	"math"
	"time"

	"github.com/Integrum-Global/kailash-learn/internal/config"
	"github.com/Integrum-Global/kailash-learn/internal/types"
)

// Confidence weights.
const (
	WeightFrequency   = 0.4
	WeightSuccess     = 0.3
	WeightRecency     = 0.2
	WeightConsistency = 0.1
)

// scorePrecision is the number of decimals kept in stored scores.
const scorePrecision = 1e6

// ScoreParams are the normalizers the confidence formula depends on.
type ScoreParams struct {
	Normalizer            int
	ConsistencyNormalizer int
	HalfLife              time.Duration
}

// ParamsFrom reads the scoring parameters of an identity.
func ParamsFrom(id *config.Identity) ScoreParams {
	return ScoreParams{
		Normalizer:            id.Normalizer,
		ConsistencyNormalizer: id.ConsistencyNormalizer,
		HalfLife:              id.HalfLife(),
	}
}

// Breakdown is the per-component score of one evidence set.
type Breakdown struct {
	Frequency   float64 `json:"frequency"`
	Success     float64 `json:"success"`
	Recency     float64 `json:"recency"`
	Consistency float64 `json:"consistency"`
	Confidence  float64 `json:"confidence"`
}

// Score computes the confidence of ev as of asOf, the newest observation
// time in the store. Scores are rounded so repeated runs compare equal.
func Score(ev types.Evidence, asOf time.Time, p ScoreParams) Breakdown {
	if ev.ObservationCount <= 0 {
		return Breakdown{}
	}
	normalizer := max(p.Normalizer, 1)
	consistency := max(p.ConsistencyNormalizer, 1)

	b := Breakdown{
		Frequency:   math.Min(1, float64(ev.ObservationCount)/float64(normalizer)),
		Success:     clamp01(ev.SuccessRate),
		Recency:     recency(ev.LastObserved, asOf, p.HalfLife),
		Consistency: math.Min(1, float64(ev.ContextCount)/float64(consistency)),
	}
	b.Confidence = Round(WeightFrequency*b.Frequency +
		WeightSuccess*b.Success +
		WeightRecency*b.Recency +
		WeightConsistency*b.Consistency)
	return b
}

// recency is 0.5^(age/halfLife); future or zero ages score 1.
func recency(last, asOf time.Time, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return 1
	}
	age := asOf.Sub(last)
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(halfLife))
}

// Round keeps six decimals.
func Round(v float64) float64 {
	return math.Round(v*scorePrecision) / scorePrecision
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
