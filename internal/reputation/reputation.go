// Package reputation implements per-member trust scoring for tontines.
//
// Every (user, tontine) pair owns one Record. Lifecycle events flow through
// a fixed pipeline:
//
//	event -> metrics -> category scores -> total/level/risk -> trend -> badges
//
// The engine is a pure function over a loaded record. Persistence, locking
// and retries live in Service.
package reputation

import (
	"time"

	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/idgen"
)

// Level is the discrete tier derived from the total score.
type Level string

const (
	LevelBronze   Level = "bronze"   // 0-199
	LevelSilver   Level = "silver"   // 200-399
	LevelGold     Level = "gold"     // 400-599
	LevelPlatinum Level = "platinum" // 600-799
	LevelDiamond  Level = "diamond"  // 800-1000
)

// Direction is the short-horizon trend classification.
type Direction string

const (
	DirectionUp     Direction = "up"
	DirectionDown   Direction = "down"
	DirectionStable Direction = "stable"
)

// Defaults for a freshly created record.
const (
	DefaultTotalScore    = 500
	DefaultCategoryScore = 50.0
	MaxTotalScore        = 1000
)

// TrendData holds score deltas over the tracked horizons.
type TrendData struct {
	Last7Days  float64   `json:"last7Days"`
	Last30Days float64   `json:"last30Days"`
	Last90Days float64   `json:"last90Days"`
	Direction  Direction `json:"direction"`
}

// ScorePoint is one bucketed total-score snapshot.
type ScorePoint struct {
	At    time.Time `json:"at"`
	Score int       `json:"score"`
}

// Record is the reputation state of one user inside one tontine.
type Record struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	TontineID string `json:"tontineId"`

	TotalScore int   `json:"totalScore"`
	Level      Level `json:"level"`

	PaymentReliabilityScore float64 `json:"paymentReliabilityScore"`
	ParticipationScore      float64 `json:"participationScore"`
	LeadershipScore         float64 `json:"leadershipScore"`
	ComplianceScore         float64 `json:"complianceScore"`
	SocialScore             float64 `json:"socialScore"`
	OverallPerformanceScore float64 `json:"overallPerformanceScore"`

	TotalPayments      int     `json:"totalPayments"`
	OnTimePayments     int     `json:"onTimePayments"`
	LatePayments       int     `json:"latePayments"`
	MissedPayments     int     `json:"missedPayments"`
	TotalPenalties     int     `json:"totalPenalties"`
	TotalPenaltyAmount float64 `json:"totalPenaltyAmount"`

	AveragePaymentDelay    float64 `json:"averagePaymentDelay"`
	PaymentReliabilityRate float64 `json:"paymentReliabilityRate"`
	ParticipationRate      float64 `json:"participationRate"`

	// Inputs for participation and the weighted categories.
	ParticipationCount     int     `json:"participationCount"`
	ExpectedParticipations int     `json:"expectedParticipations"`
	LeadershipWeight       float64 `json:"leadershipWeight"`
	SocialWeight           float64 `json:"socialWeight"`

	PredictedNextPaymentProbability *float64 `json:"predictedNextPaymentProbability"`
	RiskScore                       float64  `json:"riskScore"`

	TrendData    TrendData    `json:"trendData"`
	ScoreHistory []ScorePoint `json:"scoreHistory,omitempty"`

	ActiveBadges      []string `json:"activeBadges"`
	TotalBadgesEarned int      `json:"totalBadgesEarned"`

	LastActivityDate     *time.Time     `json:"lastActivityDate"`
	LastReputationUpdate *time.Time     `json:"lastReputationUpdate"`
	TotalEvents          int            `json:"totalEvents"`
	AdditionalMetrics    map[string]any `json:"additionalMetrics,omitempty"`

	// Version is owned by the store and bumped on every successful save.
	Version int `json:"version"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewRecord returns a record with every default applied.
func NewRecord(userID, tontineID string, now time.Time) *Record {
	return &Record{
		ID:                      idgen.Ordered(),
		UserID:                  userID,
		TontineID:               tontineID,
		TotalScore:              DefaultTotalScore,
		Level:                   LevelFor(DefaultTotalScore),
		PaymentReliabilityScore: DefaultCategoryScore,
		ParticipationScore:      DefaultCategoryScore,
		LeadershipScore:         DefaultCategoryScore,
		ComplianceScore:         DefaultCategoryScore,
		SocialScore:             DefaultCategoryScore,
		OverallPerformanceScore: DefaultCategoryScore,
		TrendData:               TrendData{Direction: DirectionStable},
		ActiveBadges:            []string{},
		CreatedAt:               now,
		UpdatedAt:               now,
	}
}

// Key identifies the record for locking and storage.
func (r *Record) Key() string {
	return PairKey(r.UserID, r.TontineID)
}

// PairKey builds the canonical key for a (user, tontine) pair.
func PairKey(userID, tontineID string) string {
	return userID + "|" + tontineID
}

// HasBadge reports whether badge is currently active.
func (r *Record) HasBadge(id string) bool {
	for _, b := range r.ActiveBadges {
		if b == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy; the pipeline always works on a clone so a
// rejected event leaves the caller's record untouched.
func (r *Record) Clone() *Record {
	cp := *r
	if r.PredictedNextPaymentProbability != nil {
		v := *r.PredictedNextPaymentProbability
		cp.PredictedNextPaymentProbability = &v
	}
	if r.LastActivityDate != nil {
		t := *r.LastActivityDate
		cp.LastActivityDate = &t
	}
	if r.LastReputationUpdate != nil {
		t := *r.LastReputationUpdate
		cp.LastReputationUpdate = &t
	}
	cp.ScoreHistory = append([]ScorePoint(nil), r.ScoreHistory...)
	cp.ActiveBadges = append([]string{}, r.ActiveBadges...)
	if r.AdditionalMetrics != nil {
		cp.AdditionalMetrics = make(map[string]any, len(r.AdditionalMetrics))
		for k, v := range r.AdditionalMetrics {
			cp.AdditionalMetrics[k] = v
		}
	}
	return &cp
}
