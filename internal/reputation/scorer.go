package reputation

import (
	"math"
	"time"
)

// ScorerConfig holds the tunable constants of the category formulas.
type ScorerConfig struct {
	// DecayPoints is how far participation moves toward neutral per
	// DecayPeriod of inactivity.
	DecayPoints float64
	DecayPeriod time.Duration
	// DecayGrace is inactivity tolerated before decay starts.
	DecayGrace time.Duration

	// SaturationK controls how quickly leadership and social weights
	// approach 100.
	SaturationK float64

	MaxDelayPenalty  float64 // cap on avgDelay*DelayFactor
	DelayFactor      float64
	MaxMissedPenalty float64 // cap on missed*MissedFactor
	MissedFactor     float64

	PenaltyCountFactor float64 // compliance points per penalty
	PenaltyAmountUnit  float64 // money per compliance point
}

// DefaultScorerConfig matches the documented formulas.
var DefaultScorerConfig = ScorerConfig{
	DecayPoints:        1,
	DecayPeriod:        7 * 24 * time.Hour,
	SaturationK:        0.5,
	MaxDelayPenalty:    30,
	DelayFactor:        2,
	MaxMissedPenalty:   20,
	MissedFactor:       5,
	PenaltyCountFactor: 10,
	PenaltyAmountUnit:  1000,
}

// Categories is the output of the category scorer.
type Categories struct {
	PaymentReliability float64 `json:"paymentReliability"`
	Participation      float64 `json:"participation"`
	Leadership         float64 `json:"leadership"`
	Compliance         float64 `json:"compliance"`
	Social             float64 `json:"social"`
}

// Mean is the unweighted average of the five categories.
func (c Categories) Mean() float64 {
	return (c.PaymentReliability + c.Participation + c.Leadership + c.Compliance + c.Social) / 5
}

// Scorer derives category scores from accumulated metrics.
type Scorer struct {
	cfg ScorerConfig
}

// NewScorer creates a scorer with cfg.
func NewScorer(cfg ScorerConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score computes the five categories for r as of now.
func (s *Scorer) Score(r *Record, now time.Time) Categories {
	return Categories{
		PaymentReliability: s.paymentReliability(r),
		Participation:      s.participation(r, now),
		Leadership:         s.saturate(r.LeadershipWeight, r.TotalEvents),
		Compliance:         s.compliance(r),
		Social:             s.saturate(r.SocialWeight, r.TotalEvents),
	}
}

func (s *Scorer) paymentReliability(r *Record) float64 {
	delay := math.Min(s.cfg.MaxDelayPenalty, r.AveragePaymentDelay*s.cfg.DelayFactor)
	missed := math.Min(s.cfg.MaxMissedPenalty, float64(r.MissedPayments)*s.cfg.MissedFactor)
	return clamp(r.PaymentReliabilityRate-delay-missed, 0, 100)
}

// participation starts from the observed rate (neutral until a denominator
// is known) and drifts toward neutral while the member is inactive. The
// drift never crosses neutral.
func (s *Scorer) participation(r *Record, now time.Time) float64 {
	base := DefaultCategoryScore
	if r.ExpectedParticipations > 0 {
		base = r.ParticipationRate
	}

	decay := s.decay(r.LastActivityDate, now)
	switch {
	case base > DefaultCategoryScore:
		base = math.Max(DefaultCategoryScore, base-decay)
	case base < DefaultCategoryScore:
		base = math.Min(DefaultCategoryScore, base+decay)
	}
	return clamp(base, 0, 100)
}

func (s *Scorer) decay(lastActivity *time.Time, now time.Time) float64 {
	if lastActivity == nil || s.cfg.DecayPeriod <= 0 {
		return 0
	}
	idle := now.Sub(*lastActivity) - s.cfg.DecayGrace
	if idle <= 0 {
		return 0
	}
	periods := math.Floor(float64(idle) / float64(s.cfg.DecayPeriod))
	return periods * s.cfg.DecayPoints
}

// saturate maps a cumulative weight, normalized per event, onto [0,100]
// with 100*(1-e^-(x/k)).
func (s *Scorer) saturate(weightSum float64, totalEvents int) float64 {
	if totalEvents <= 0 || weightSum <= 0 || s.cfg.SaturationK <= 0 {
		return 0
	}
	x := weightSum / float64(totalEvents)
	return clamp(100*(1-math.Exp(-x/s.cfg.SaturationK)), 0, 100)
}

func (s *Scorer) compliance(r *Record) float64 {
	deduction := float64(r.TotalPenalties) * s.cfg.PenaltyCountFactor
	if s.cfg.PenaltyAmountUnit > 0 {
		deduction += r.TotalPenaltyAmount / s.cfg.PenaltyAmountUnit
	}
	return clamp(100-math.Min(100, deduction), 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// round2 keeps persisted decimals at two places.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
