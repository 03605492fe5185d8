package reputation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrack_UpsertsWithinBucket(t *testing.T) {
	r := NewRecord("u", "t", t0)
	r.TotalScore = 500
	track(r, DefaultTrendConfig, t0.Add(2*time.Hour))
	r.TotalScore = 520
	track(r, DefaultTrendConfig, t0.Add(20*time.Hour))

	require.Len(t, r.ScoreHistory, 1, "one snapshot per bucket")
	assert.Equal(t, 520, r.ScoreHistory[0].Score, "latest score wins")
	assert.True(t, r.ScoreHistory[0].At.Equal(t0), "snapshot keyed by bucket start")
}

func TestTrack_Direction(t *testing.T) {
	tests := []struct {
		name  string
		from  int
		to    int
		delta float64
		want  Direction
	}{
		{"climb", 500, 560, 60, DirectionUp},
		{"fall", 500, 430, -70, DirectionDown},
		{"within band up", 500, 505, 5, DirectionStable},
		{"within band down", 500, 495, -5, DirectionStable},
		{"just above band", 500, 506, 6, DirectionUp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRecord("u", "t", t0)
			r.TotalScore = tt.from
			track(r, DefaultTrendConfig, t0)

			r.TotalScore = tt.to
			track(r, DefaultTrendConfig, t0.Add(7*day))

			assert.Equal(t, tt.delta, r.TrendData.Last7Days)
			assert.Equal(t, tt.want, r.TrendData.Direction)
		})
	}
}

func TestTrack_NoBaselineIsZeroDelta(t *testing.T) {
	r := NewRecord("u", "t", t0)
	r.TotalScore = 900
	track(r, DefaultTrendConfig, t0)

	assert.Equal(t, TrendData{Direction: DirectionStable}, r.TrendData)
}

func TestTrack_HorizonsUseNewestSnapshotBeforeCutoff(t *testing.T) {
	r := NewRecord("u", "t", t0)
	for i, score := range []int{400, 450, 500, 550} {
		r.TotalScore = score
		track(r, DefaultTrendConfig, t0.Add(time.Duration(i)*10*day))
	}
	// Snapshots at day 0, 10, 20, 30. Now at day 40.
	r.TotalScore = 600
	track(r, DefaultTrendConfig, t0.Add(40*day))

	assert.Equal(t, 50.0, r.TrendData.Last7Days, "against day 30")
	assert.Equal(t, 150.0, r.TrendData.Last30Days, "against day 10")
	assert.Equal(t, 0.0, r.TrendData.Last90Days, "no snapshot that old")
}

func TestTrack_PrunesButKeepsLongHorizonAnchor(t *testing.T) {
	r := NewRecord("u", "t", t0)
	for i := 0; i <= 200; i++ {
		r.TotalScore = 300 + i
		track(r, DefaultTrendConfig, t0.Add(time.Duration(i)*day))
	}

	cutoff := t0.Add(200 * day).Add(-DefaultTrendConfig.LongHorizon)
	require.False(t, r.ScoreHistory[0].At.After(cutoff), "90-day anchor pruned")
	assert.LessOrEqual(t, len(r.ScoreHistory), 92)
	assert.Equal(t, 90.0, r.TrendData.Last90Days)
}

func TestTrack_OutOfOrderInsertKeepsHistorySorted(t *testing.T) {
	r := NewRecord("u", "t", t0)
	r.TotalScore = 500
	track(r, DefaultTrendConfig, t0)
	r.TotalScore = 600
	track(r, DefaultTrendConfig, t0.Add(10*day))

	r.TotalScore = 550
	track(r, DefaultTrendConfig, t0.Add(5*day))

	require.Len(t, r.ScoreHistory, 3)
	for i := 1; i < len(r.ScoreHistory); i++ {
		require.True(t, r.ScoreHistory[i-1].At.Before(r.ScoreHistory[i].At), "history not sorted at %d", i)
	}
	assert.Equal(t, 550, r.ScoreHistory[1].Score, "backfilled snapshot sits in the middle")
}
