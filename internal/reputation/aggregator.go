package reputation

import (
	"fmt"
	"math"
)

// Weights for the category scores (must sum to 1.0)
type Weights struct {
	PaymentReliability float64 `json:"paymentReliability"`
	Compliance         float64 `json:"compliance"`
	Participation      float64 `json:"participation"`
	Leadership         float64 `json:"leadership"`
	Social             float64 `json:"social"`
}

// DefaultWeights favours paying on time over everything else.
var DefaultWeights = Weights{
	PaymentReliability: 0.35,
	Compliance:         0.20,
	Participation:      0.20,
	Leadership:         0.15,
	Social:             0.10,
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.PaymentReliability + w.Compliance + w.Participation + w.Leadership + w.Social
}

// Validate rejects negative weights and sets that do not sum to 1.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"paymentReliability": w.PaymentReliability,
		"compliance":         w.Compliance,
		"participation":      w.Participation,
		"leadership":         w.Leadership,
		"social":             w.Social,
	} {
		if v < 0 || !finite(v) {
			return fmt.Errorf("weight %s must be a non-negative number, got %v", name, v)
		}
	}
	if math.Abs(w.Sum()-1) > 1e-9 {
		return fmt.Errorf("weights must sum to 1.0, got %.4f", w.Sum())
	}
	return nil
}

// Combine returns the weighted average of c on the 0-100 scale.
func (w Weights) Combine(c Categories) float64 {
	return w.PaymentReliability*c.PaymentReliability +
		w.Compliance*c.Compliance +
		w.Participation*c.Participation +
		w.Leadership*c.Leadership +
		w.Social*c.Social
}

// MinPaymentsForPrediction is the data floor for the next-payment forecast.
const MinPaymentsForPrediction = 3

// TotalScore scales the weighted category average onto 0-1000.
func TotalScore(w Weights, c Categories) int {
	total := int(math.Round(float64(MaxTotalScore) * w.Combine(c) / 100))
	if total < 0 {
		return 0
	}
	if total > MaxTotalScore {
		return MaxTotalScore
	}
	return total
}

// LevelFor maps a total score onto its band.
func LevelFor(totalScore int) Level {
	switch {
	case totalScore >= 800:
		return LevelDiamond
	case totalScore >= 600:
		return LevelPlatinum
	case totalScore >= 400:
		return LevelGold
	case totalScore >= 200:
		return LevelSilver
	default:
		return LevelBronze
	}
}

// RiskScore is high when compliance and payment reliability are low.
func RiskScore(c Categories) float64 {
	return clamp(100-c.Compliance*0.4-c.PaymentReliability*0.6, 0, 100)
}

// PredictNextPayment returns nil while fewer than MinPaymentsForPrediction
// payments have been seen.
func PredictNextPayment(r *Record, risk float64) *float64 {
	if r.TotalPayments < MinPaymentsForPrediction {
		return nil
	}
	p := round2(clamp(r.PaymentReliabilityRate-risk*0.3, 0, 100))
	return &p
}

// aggregate writes the category scores and everything derived from them.
func aggregate(r *Record, w Weights, c Categories) {
	c = Categories{
		PaymentReliability: round2(c.PaymentReliability),
		Participation:      round2(c.Participation),
		Leadership:         round2(c.Leadership),
		Compliance:         round2(c.Compliance),
		Social:             round2(c.Social),
	}

	r.PaymentReliabilityScore = c.PaymentReliability
	r.ParticipationScore = c.Participation
	r.LeadershipScore = c.Leadership
	r.ComplianceScore = c.Compliance
	r.SocialScore = c.Social
	r.OverallPerformanceScore = round2(clamp(c.Mean(), 0, 100))

	r.TotalScore = TotalScore(w, c)
	r.Level = LevelFor(r.TotalScore)

	r.RiskScore = round2(RiskScore(c))
	r.PredictedNextPaymentProbability = PredictNextPayment(r, r.RiskScore)
}
