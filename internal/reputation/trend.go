package reputation

import (
	"sort"
	"time"
)

const day = 24 * time.Hour

// TrendConfig controls snapshot bucketing and direction thresholds.
type TrendConfig struct {
	Bucket time.Duration // snapshot granularity

	ShortHorizon  time.Duration
	MediumHorizon time.Duration
	LongHorizon   time.Duration

	// Direction is up above UpThreshold and down below DownThreshold,
	// measured on the short horizon delta.
	UpThreshold   float64
	DownThreshold float64
}

// DefaultTrendConfig tracks 7/30/90 day movement with a +-5 point band.
var DefaultTrendConfig = TrendConfig{
	Bucket:        day,
	ShortHorizon:  7 * day,
	MediumHorizon: 30 * day,
	LongHorizon:   90 * day,
	UpThreshold:   5,
	DownThreshold: -5,
}

// track records the current total score and recomputes TrendData.
func track(r *Record, cfg TrendConfig, now time.Time) {
	at := bucketStart(now, cfg.Bucket)

	// Upsert into the bucket of now. History is kept sorted by At.
	n := len(r.ScoreHistory)
	switch {
	case n > 0 && r.ScoreHistory[n-1].At.Equal(at):
		r.ScoreHistory[n-1].Score = r.TotalScore
	case n == 0 || r.ScoreHistory[n-1].At.Before(at):
		r.ScoreHistory = append(r.ScoreHistory, ScorePoint{At: at, Score: r.TotalScore})
	default:
		// now lies before the newest bucket (clock skew or backfill).
		i := sort.Search(n, func(i int) bool { return !r.ScoreHistory[i].At.Before(at) })
		if i < n && r.ScoreHistory[i].At.Equal(at) {
			r.ScoreHistory[i].Score = r.TotalScore
		} else {
			r.ScoreHistory = append(r.ScoreHistory, ScorePoint{})
			copy(r.ScoreHistory[i+1:], r.ScoreHistory[i:])
			r.ScoreHistory[i] = ScorePoint{At: at, Score: r.TotalScore}
		}
	}

	r.ScoreHistory = prune(r.ScoreHistory, bucketStart(now.Add(-cfg.LongHorizon), cfg.Bucket))

	r.TrendData.Last7Days = delta(r, cfg, now, cfg.ShortHorizon)
	r.TrendData.Last30Days = delta(r, cfg, now, cfg.MediumHorizon)
	r.TrendData.Last90Days = delta(r, cfg, now, cfg.LongHorizon)

	switch {
	case r.TrendData.Last7Days > cfg.UpThreshold:
		r.TrendData.Direction = DirectionUp
	case r.TrendData.Last7Days < cfg.DownThreshold:
		r.TrendData.Direction = DirectionDown
	default:
		r.TrendData.Direction = DirectionStable
	}
}

// delta is current minus the latest snapshot taken at or before now-horizon.
func delta(r *Record, cfg TrendConfig, now time.Time, horizon time.Duration) float64 {
	if horizon <= 0 {
		return 0
	}
	cutoff := bucketStart(now.Add(-horizon), cfg.Bucket)
	snap, ok := snapshotAt(r.ScoreHistory, cutoff)
	if !ok {
		return 0
	}
	return float64(r.TotalScore - snap.Score)
}

// snapshotAt returns the newest point with At <= t.
func snapshotAt(history []ScorePoint, t time.Time) (ScorePoint, bool) {
	i := sort.Search(len(history), func(i int) bool { return history[i].At.After(t) })
	if i == 0 {
		return ScorePoint{}, false
	}
	return history[i-1], true
}

// prune drops points older than cutoff but keeps the newest one at or before
// it, which still answers the long-horizon lookup.
func prune(history []ScorePoint, cutoff time.Time) []ScorePoint {
	i := sort.Search(len(history), func(i int) bool { return history[i].At.After(cutoff) })
	if i <= 1 {
		return history
	}
	return append([]ScorePoint(nil), history[i-1:]...)
}

func bucketStart(t time.Time, bucket time.Duration) time.Time {
	t = t.UTC()
	if bucket <= 0 {
		return t
	}
	return t.Truncate(bucket)
}
