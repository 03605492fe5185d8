package reputation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/tontine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	eventType string
	userID    string
	tontineID string
	data      interface{}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []published
}

func (n *recordingNotifier) Publish(eventType, userID, tontineID string, data interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, published{eventType, userID, tontineID, data})
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, e := range n.events {
		out[i] = e.eventType
	}
	return out
}

// conflictingStore fails the first n saves with ErrConflict.
type conflictingStore struct {
	*MemoryStore
	mu        sync.Mutex
	conflicts int
	saves     int
}

func (s *conflictingStore) Save(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	s.saves++
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return ErrConflict
	}
	s.mu.Unlock()
	return s.MemoryStore.Save(ctx, rec)
}

type failingStore struct {
	*MemoryStore
	err error
}

func (s *failingStore) Save(ctx context.Context, rec *Record) error { return s.err }

func newTestService(t *testing.T, store Store, dir tontine.Directory) *Service {
	t.Helper()
	return NewService(store, newTestEngine(t), dir).
		WithClock(func() time.Time { return t0 }).
		WithRetry(5, time.Millisecond)
}

func activeTontine(id string, rounds int, members ...string) *tontine.Tontine {
	tt := &tontine.Tontine{ID: id, Name: "Savings " + id, Status: tontine.StatusActive, RoundsElapsed: rounds}
	for _, m := range members {
		tt.Members = append(tt.Members, tontine.Member{UserID: m})
	}
	return tt
}

func TestService_RecordEventCreatesRecord(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, NewMemoryStore(), nil)

	rec, err := svc.RecordEvent(ctx, "u1", "t1", PaymentOnTime())
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, 1, rec.TotalPayments)
	// payment 100, compliance 100, participation neutral 50.
	assert.Equal(t, 650, rec.TotalScore)
	assert.Equal(t, LevelPlatinum, rec.Level)

	got, err := svc.Get(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	rec2, err := svc.RecordEvent(ctx, "u1", "t1", PaymentOnTime())
	require.NoError(t, err)
	assert.Equal(t, rec.ID, rec2.ID)
	assert.Equal(t, 2, rec2.Version)
}

func TestService_RejectsBadInput(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := newTestService(t, store, nil)

	_, err := svc.RecordEvent(ctx, "u1", "t1", PaymentLate(-1))
	assert.ErrorIs(t, err, ErrInvalidEvent)

	_, err = svc.RecordEvent(ctx, "", "t1", PaymentOnTime())
	assert.ErrorIs(t, err, ErrMissingIdentity)

	_, err = store.Get(ctx, "u1", "t1")
	assert.ErrorIs(t, err, ErrNotFound, "rejected events must not create a record")
}

func TestService_Membership(t *testing.T) {
	ctx := context.Background()
	dir := tontine.NewMemoryDirectory()
	dir.Put(activeTontine("t1", 4, "alice"))
	paused := activeTontine("t2", 2, "alice")
	paused.Status = tontine.StatusPaused
	dir.Put(paused)
	done := activeTontine("t3", 6, "alice")
	done.Status = tontine.StatusCompleted
	dir.Put(done)

	svc := newTestService(t, NewMemoryStore(), dir)

	_, err := svc.RecordEvent(ctx, "alice", "missing", PaymentOnTime())
	assert.ErrorIs(t, err, ErrTontineNotFound)

	_, err = svc.RecordEvent(ctx, "mallory", "t1", PaymentOnTime())
	assert.ErrorIs(t, err, ErrNotMember)

	_, err = svc.RecordEvent(ctx, "alice", "t3", PaymentOnTime())
	assert.ErrorIs(t, err, ErrTontineNotAccepting)

	_, err = svc.RecordEvent(ctx, "alice", "t2", PaymentLate(3))
	assert.NoError(t, err, "paused tontines still accept events")

	// Participation picks up the expected count from the directory.
	rec, err := svc.RecordEvent(ctx, "alice", "t1", ParticipationRecorded(0))
	require.NoError(t, err)
	assert.Equal(t, 4, rec.ExpectedParticipations)
	assert.Equal(t, 25.0, rec.ParticipationRate)

	// An explicit denominator wins.
	rec, err = svc.RecordEvent(ctx, "alice", "t1", ParticipationRecorded(2))
	require.NoError(t, err)
	assert.Equal(t, 2, rec.ExpectedParticipations)
	assert.Equal(t, 100.0, rec.ParticipationRate)
}

func TestService_ConcurrentEventsAreSerialized(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, NewMemoryStore(), nil)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordEvent(ctx, "u1", "t1", PaymentLate(2))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rec, err := svc.Get(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, n, rec.TotalPayments)
	assert.Equal(t, n, rec.LatePayments)
	assert.Equal(t, n, rec.TotalEvents)
	assert.Equal(t, n, rec.Version)
	assert.InDelta(t, 2.0, rec.AveragePaymentDelay, 1e-9)
}

func TestService_ConcurrentPairsAreIndependent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, NewMemoryStore(), nil)

	var wg sync.WaitGroup
	for u := 0; u < 5; u++ {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(user string) {
				defer wg.Done()
				_, _ = svc.RecordEvent(ctx, user, "t1", PaymentOnTime())
			}(fmt.Sprintf("user-%d", u))
		}
	}
	wg.Wait()

	board, err := svc.ListByTontine(ctx, "t1", 0)
	require.NoError(t, err)
	require.Len(t, board, 5)
	for _, rec := range board {
		assert.Equal(t, 10, rec.TotalPayments, rec.UserID)
	}
}

func TestService_RetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	store := &conflictingStore{MemoryStore: NewMemoryStore(), conflicts: 2}
	svc := newTestService(t, store, nil)

	rec, err := svc.RecordEvent(ctx, "u1", "t1", PaymentOnTime())
	require.NoError(t, err)
	assert.Equal(t, 3, store.saves)
	assert.Equal(t, 1, rec.TotalPayments, "a retried event is applied once")

	store.conflicts = 10
	_, err = svc.RecordEvent(ctx, "u1", "t1", PaymentOnTime())
	assert.ErrorIs(t, err, ErrConflict)

	got, _ := svc.Get(ctx, "u1", "t1")
	assert.Equal(t, 1, got.TotalPayments)
}

func TestService_StoreErrorIsNotRetried(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), err: errors.New("disk full")}
	svc := newTestService(t, store, nil)

	_, err := svc.RecordEvent(context.Background(), "u1", "t1", PaymentOnTime())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NotErrorIs(t, err, ErrConflict)
}

func TestService_NotifiesChanges(t *testing.T) {
	ctx := context.Background()
	n := &recordingNotifier{}
	svc := newTestService(t, NewMemoryStore(), nil).WithNotifier(n)

	for i := 0; i < 3; i++ {
		_, err := svc.RecordEvent(ctx, "u1", "t1", PaymentOnTime())
		require.NoError(t, err)
	}

	types := n.types()
	// First event: update plus gold -> platinum. Third event: clean_record.
	assert.Equal(t, []string{
		NotifyUpdated, NotifyLevelChanged,
		NotifyUpdated,
		NotifyUpdated, NotifyBadgeEarned,
	}, types)

	n.mu.Lock()
	last := n.events[len(n.events)-1]
	n.mu.Unlock()
	assert.Equal(t, "u1", last.userID)
	assert.Equal(t, "t1", last.tontineID)
	assert.Equal(t, map[string]interface{}{"badge": BadgeCleanRecord}, last.data)
}

func TestNotifiers_FanOut(t *testing.T) {
	a, b := &recordingNotifier{}, &recordingNotifier{}
	svc := newTestService(t, NewMemoryStore(), nil).WithNotifier(Notifiers{a, b})

	_, err := svc.RecordEvent(context.Background(), "u1", "t1", PaymentOnTime())
	require.NoError(t, err)
	assert.Equal(t, a.types(), b.types())
	assert.NotEmpty(t, a.types())
}

func TestService_Refresh(t *testing.T) {
	ctx := context.Background()
	now := t0
	svc := newTestService(t, NewMemoryStore(), nil).WithClock(func() time.Time { return now })

	_, err := svc.Refresh(ctx, "u1", "t1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.RecordEvent(ctx, "u1", "t1", ParticipationRecorded(1))
	require.NoError(t, err)

	now = t0.Add(70 * day)
	rec, err := svc.Refresh(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, 90.0, rec.ParticipationScore)
	assert.Equal(t, 1, rec.TotalEvents, "refresh is not an event")
	assert.True(t, rec.LastReputationUpdate.Equal(now))
}

func TestService_RefreshAll(t *testing.T) {
	ctx := context.Background()
	now := t0
	svc := newTestService(t, NewMemoryStore(), nil).
		WithClock(func() time.Time { return now }).
		WithRefreshConcurrency(3, 2)

	for i := 0; i < 10; i++ {
		_, err := svc.RecordEvent(ctx, fmt.Sprintf("user-%02d", i), "t1", ParticipationRecorded(1))
		require.NoError(t, err)
	}

	now = t0.Add(14 * day)
	n, err := svc.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	board, _ := svc.ListByTontine(ctx, "t1", 0)
	for _, rec := range board {
		assert.Equal(t, 98.0, rec.ParticipationScore, rec.UserID)
		assert.Equal(t, 2, rec.Version, rec.UserID)
	}
}

func TestService_RefreshAllReportsFailures(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	seed := newTestService(t, mem, nil)
	for i := 0; i < 3; i++ {
		_, err := seed.RecordEvent(ctx, fmt.Sprintf("user-%d", i), "t1", PaymentOnTime())
		require.NoError(t, err)
	}

	svc := newTestService(t, &failingStore{MemoryStore: mem, err: errors.New("read only")}, nil)
	n, err := svc.RefreshAll(ctx)
	assert.Error(t, err)
	assert.Equal(t, 0, n)
}
