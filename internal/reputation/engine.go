package reputation

import (
	"fmt"
	"time"
)

// Config bundles every tunable of the pipeline.
type Config struct {
	Weights Weights
	Scorer  ScorerConfig
	Trend   TrendConfig
	Badges  []BadgeRule
}

// DefaultConfig returns the documented coefficients and badge table.
func DefaultConfig() Config {
	return Config{
		Weights: DefaultWeights,
		Scorer:  DefaultScorerConfig,
		Trend:   DefaultTrendConfig,
		Badges:  DefaultBadges,
	}
}

// Engine runs the scoring pipeline. It holds configuration only and is safe
// for concurrent use.
type Engine struct {
	cfg    Config
	scorer *Scorer
}

// NewEngine validates cfg and builds an engine.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Weights.Validate(); err != nil {
		return nil, fmt.Errorf("reputation: %w", err)
	}
	seen := make(map[string]bool, len(cfg.Badges))
	for _, b := range cfg.Badges {
		if b.ID == "" || b.Predicate == nil {
			return nil, fmt.Errorf("reputation: badge rule %q needs an id and a predicate", b.ID)
		}
		if seen[b.ID] {
			return nil, fmt.Errorf("reputation: duplicate badge rule %q", b.ID)
		}
		seen[b.ID] = true
	}
	return &Engine{cfg: cfg, scorer: NewScorer(cfg.Scorer)}, nil
}

// MustEngine is NewEngine for configurations known to be valid.
func MustEngine(cfg Config) *Engine {
	e, err := NewEngine(cfg)
	if err != nil {
		panic(err)
	}
	return e
}

// Badges returns the configured rule table.
func (e *Engine) Badges() []BadgeRule {
	return e.cfg.Badges
}

// ApplyEvent runs the full pipeline for ev and returns the updated record.
// rec is never modified; on error nothing is applied.
func (e *Engine) ApplyEvent(rec *Record, ev Event, now time.Time) (*Record, error) {
	if rec == nil {
		return nil, fmt.Errorf("reputation: nil record")
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	out := rec.Clone()

	out.TotalEvents++
	// Late reports never move activity backwards and future timestamps are
	// clamped to now.
	at := ev.OccurredAt
	if at.IsZero() || at.After(now) {
		at = now
	}
	at = at.UTC()
	if out.LastActivityDate == nil || at.After(*out.LastActivityDate) {
		out.LastActivityDate = &at
	}

	accumulate(out, ev)
	e.derive(out, now)
	return out, nil
}

// Recompute runs the score, trend and badge stages without an event, for
// decay and trend sweeps. Repeating it with the same now changes nothing.
func (e *Engine) Recompute(rec *Record, now time.Time) *Record {
	out := rec.Clone()
	e.derive(out, now)
	return out
}

func (e *Engine) derive(r *Record, now time.Time) {
	// AveragePaymentDelay is a running mean and stays unrounded.
	r.PaymentReliabilityRate = round2(r.PaymentReliabilityRate)
	r.ParticipationRate = round2(r.ParticipationRate)

	aggregate(r, e.cfg.Weights, e.scorer.Score(r, now))
	track(r, e.cfg.Trend, now)
	evaluateBadges(r, e.cfg.Badges)

	now = now.UTC()
	r.LastReputationUpdate = &now
	r.UpdatedAt = now
}

// Change summarizes what a pipeline run did to a record.
type Change struct {
	PreviousLevel Level
	Level         Level
	ScoreDelta    int
	BadgeChange
}

// LevelChanged reports a tier transition.
func (c Change) LevelChanged() bool {
	return c.PreviousLevel != c.Level
}

// Diff compares a record before and after a pipeline run.
func Diff(before, after *Record) Change {
	c := Change{
		PreviousLevel: before.Level,
		Level:         after.Level,
		ScoreDelta:    after.TotalScore - before.TotalScore,
	}
	for _, b := range after.ActiveBadges {
		if !before.HasBadge(b) {
			c.Earned = append(c.Earned, b)
		}
	}
	for _, b := range before.ActiveBadges {
		if !after.HasBadge(b) {
			c.Revoked = append(c.Revoked, b)
		}
	}
	return c
}
