package reputation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/logging"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/metrics"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/pagination"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/retry"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/syncutil"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/tontine"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/traces"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/conc/pool"
)

var (
	ErrMissingIdentity     = errors.New("userId and tontineId are required")
	ErrTontineNotFound     = errors.New("tontine not found")
	ErrTontineNotAccepting = errors.New("tontine is not accepting reputation events")
	ErrNotMember           = errors.New("user is not a member of the tontine")
)

// Notification event types published after a successful save.
const (
	NotifyUpdated      = "reputation_updated"
	NotifyLevelChanged = "level_changed"
	NotifyBadgeEarned  = "badge_earned"
	NotifyBadgeRevoked = "badge_revoked"
)

// Notifier receives reputation changes for fan-out (WebSocket hub,
// webhooks).
type Notifier interface {
	Publish(eventType, userID, tontineID string, data interface{})
}

// Notifiers publishes to each notifier in order.
type Notifiers []Notifier

func (ns Notifiers) Publish(eventType, userID, tontineID string, data interface{}) {
	for _, n := range ns {
		n.Publish(eventType, userID, tontineID, data)
	}
}

const (
	defaultMaxAttempts  = 5
	defaultRetryDelay   = 10 * time.Millisecond
	defaultRefreshPage  = 200
	defaultRefreshProcs = 8
)

// Service serializes pipeline runs per (user, tontine) pair and persists
// the result.
type Service struct {
	store     Store
	engine    *Engine
	directory tontine.Directory
	notifier  Notifier
	locks     *syncutil.ContextShardedMutex
	now       func() time.Time

	maxAttempts  int
	retryDelay   time.Duration
	refreshPage  int
	refreshProcs int
}

// NewService creates a reputation service. directory may be nil, in which
// case membership and lifecycle checks are skipped.
func NewService(store Store, engine *Engine, directory tontine.Directory) *Service {
	return &Service{
		store:        store,
		engine:       engine,
		directory:    directory,
		locks:        syncutil.NewContextShardedMutex(),
		now:          func() time.Time { return time.Now().UTC() },
		maxAttempts:  defaultMaxAttempts,
		retryDelay:   defaultRetryDelay,
		refreshPage:  defaultRefreshPage,
		refreshProcs: defaultRefreshProcs,
	}
}

// WithNotifier adds a notifier for realtime updates.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithRetry sets how often a conflicting save is retried.
func (s *Service) WithRetry(maxAttempts int, delay time.Duration) *Service {
	s.maxAttempts = maxAttempts
	s.retryDelay = delay
	return s
}

// WithRefreshConcurrency sets the page size and parallelism of RefreshAll.
func (s *Service) WithRefreshConcurrency(pageSize, workers int) *Service {
	if pageSize > 0 {
		s.refreshPage = pageSize
	}
	if workers > 0 {
		s.refreshProcs = workers
	}
	return s
}

// Badges returns the badge catalogue.
func (s *Service) Badges() []BadgeRule {
	return s.engine.Badges()
}

// RecordEvent applies ev to the pair's record, creating it on first use.
func (s *Service) RecordEvent(ctx context.Context, userID, tontineID string, ev Event) (_ *Record, retErr error) {
	ctx, span := traces.StartSpan(ctx, "reputation.RecordEvent",
		traces.UserID(userID),
		traces.TontineID(tontineID),
		traces.EventKind(string(ev.Kind)),
	)
	defer func() { traces.End(span, retErr) }()

	timer := prometheus.NewTimer(metrics.ReputationPipelineDuration)
	defer timer.ObserveDuration()

	kind := string(ev.Kind)
	if err := ev.Validate(); err != nil {
		metrics.ReputationEventsTotal.WithLabelValues(kindLabel(ev.Kind), "invalid").Inc()
		return nil, err
	}
	if userID == "" || tontineID == "" {
		metrics.ReputationEventsTotal.WithLabelValues(kind, "invalid").Inc()
		return nil, ErrMissingIdentity
	}

	ev, err := s.checkMembership(ctx, userID, tontineID, ev)
	if err != nil {
		metrics.ReputationEventsTotal.WithLabelValues(kind, "rejected").Inc()
		return nil, err
	}

	before, after, err := s.update(ctx, userID, tontineID, func(rec *Record, now time.Time) (*Record, error) {
		return s.engine.ApplyEvent(rec, ev, now)
	})
	if err != nil {
		metrics.ReputationEventsTotal.WithLabelValues(kind, resultLabel(err)).Inc()
		return nil, err
	}

	metrics.ReputationEventsTotal.WithLabelValues(kind, "applied").Inc()
	span.SetAttributes(traces.Score(after.TotalScore), traces.Level(string(after.Level)))
	s.publish(ctx, before, after)
	return after, nil
}

// Get returns the record for a pair.
func (s *Service) Get(ctx context.Context, userID, tontineID string) (*Record, error) {
	return s.store.Get(ctx, userID, tontineID)
}

// ListByTontine returns the tontine leaderboard, best score first.
func (s *Service) ListByTontine(ctx context.Context, tontineID string, limit int) ([]*Record, error) {
	return s.store.ListByTontine(ctx, tontineID, limit)
}

// ListByUser returns every record of a user across tontines.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]*Record, error) {
	return s.store.ListByUser(ctx, userID)
}

// ListAll pages through every record by ID. cursor is the opaque value a
// previous call returned; the returned cursor is "" on the last page.
func (s *Service) ListAll(ctx context.Context, limit int, cursor string) ([]*Record, string, error) {
	afterID, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", err
	}
	records, err := s.store.ListAll(ctx, limit+1, afterID)
	if err != nil {
		return nil, "", err
	}
	page, next := pagination.ComputePage(records, limit, func(r *Record) string { return r.ID })
	return page, next, nil
}

// Refresh recomputes an existing record without an event, applying
// inactivity decay and rolling the trend window forward.
func (s *Service) Refresh(ctx context.Context, userID, tontineID string) (*Record, error) {
	before, after, err := s.update(ctx, userID, tontineID, func(rec *Record, now time.Time) (*Record, error) {
		if rec.Version == 0 {
			return nil, ErrNotFound
		}
		return s.engine.Recompute(rec, now), nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, before, after)
	return after, nil
}

// RefreshAll recomputes every stored record, a page at a time, with a
// bounded number of records in flight. It returns the number refreshed.
func (s *Service) RefreshAll(ctx context.Context) (int, error) {
	var (
		refreshed atomic.Int64
		failed    atomic.Int64
		afterID   string
	)

	for {
		page, err := s.store.ListAll(ctx, s.refreshPage, afterID)
		if err != nil {
			return int(refreshed.Load()), fmt.Errorf("list records: %w", err)
		}
		if len(page) == 0 {
			break
		}

		p := pool.New().WithMaxGoroutines(s.refreshProcs).WithContext(ctx)
		for _, rec := range page {
			p.Go(func(ctx context.Context) error {
				if _, err := s.Refresh(ctx, rec.UserID, rec.TontineID); err != nil {
					failed.Add(1)
					logging.L(ctx).Warn("reputation refresh failed",
						"user", rec.UserID, "tontine", rec.TontineID, "error", err)
					return nil
				}
				refreshed.Add(1)
				return nil
			})
		}
		_ = p.Wait()

		if err := ctx.Err(); err != nil {
			return int(refreshed.Load()), err
		}
		afterID = page[len(page)-1].ID
		if len(page) < s.refreshPage {
			break
		}
	}

	metrics.RecordsRefreshed.Add(float64(refreshed.Load()))
	if n := failed.Load(); n > 0 {
		return int(refreshed.Load()), fmt.Errorf("%d reputation records failed to refresh", n)
	}
	return int(refreshed.Load()), nil
}

// checkMembership enforces tontine lifecycle and membership and fills in the
// participation denominator when the caller left it out.
func (s *Service) checkMembership(ctx context.Context, userID, tontineID string, ev Event) (Event, error) {
	if s.directory == nil {
		return ev, nil
	}

	t, err := s.directory.Get(ctx, tontineID)
	if errors.Is(err, tontine.ErrNotFound) {
		return ev, ErrTontineNotFound
	}
	if err != nil {
		return ev, fmt.Errorf("load tontine: %w", err)
	}
	if !t.Accepting() {
		return ev, fmt.Errorf("%w (status %s)", ErrTontineNotAccepting, t.Status)
	}

	expected, err := t.ExpectedContributions(userID)
	if errors.Is(err, tontine.ErrNotMember) {
		return ev, ErrNotMember
	}
	if err != nil {
		return ev, err
	}
	if ev.Kind == EventParticipationRecorded && ev.Expected == 0 {
		ev.Expected = expected
	}
	return ev, nil
}

// update runs fn under the pair lock and saves the result, retrying with a
// fresh load when another writer got there first.
func (s *Service) update(ctx context.Context, userID, tontineID string,
	fn func(rec *Record, now time.Time) (*Record, error)) (before, after *Record, err error) {

	ctx = logging.WithMember(ctx, userID, tontineID)
	unlock, err := s.locks.LockContext(ctx, PairKey(userID, tontineID))
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	err = retry.Do(ctx, s.maxAttempts, s.retryDelay, func() error {
		now := s.now()
		rec, err := s.store.Get(ctx, userID, tontineID)
		if errors.Is(err, ErrNotFound) {
			rec = NewRecord(userID, tontineID, now)
		} else if err != nil {
			return retry.Permanent(fmt.Errorf("load record: %w", err))
		}

		next, err := fn(rec, now)
		if err != nil {
			return retry.Permanent(err)
		}

		if err := s.store.Save(ctx, next); err != nil {
			if errors.Is(err, ErrConflict) {
				metrics.ReputationConflictsTotal.Inc()
				logging.L(ctx).Debug("reputation save conflict, reloading")
				return err
			}
			return retry.Permanent(fmt.Errorf("save record: %w", err))
		}

		before, after = rec, next
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return before, after, nil
}

func (s *Service) publish(ctx context.Context, before, after *Record) {
	change := Diff(before, after)

	if change.LevelChanged() {
		metrics.LevelTransitionsTotal.WithLabelValues(string(change.PreviousLevel), string(change.Level)).Inc()
		logging.L(ctx).Info("reputation level changed",
			"user", after.UserID, "tontine", after.TontineID,
			"from", change.PreviousLevel, "to", change.Level, "score", after.TotalScore)
	}
	for _, b := range change.Earned {
		metrics.BadgeChangesTotal.WithLabelValues(b, "earned").Inc()
	}
	for _, b := range change.Revoked {
		metrics.BadgeChangesTotal.WithLabelValues(b, "revoked").Inc()
	}

	if s.notifier == nil {
		return
	}
	s.notifier.Publish(NotifyUpdated, after.UserID, after.TontineID, summary(after))
	if change.LevelChanged() {
		s.notifier.Publish(NotifyLevelChanged, after.UserID, after.TontineID, map[string]interface{}{
			"from":       change.PreviousLevel,
			"to":         change.Level,
			"totalScore": after.TotalScore,
		})
	}
	for _, b := range change.Earned {
		s.notifier.Publish(NotifyBadgeEarned, after.UserID, after.TontineID, map[string]interface{}{"badge": b})
	}
	for _, b := range change.Revoked {
		s.notifier.Publish(NotifyBadgeRevoked, after.UserID, after.TontineID, map[string]interface{}{"badge": b})
	}
}

func summary(r *Record) map[string]interface{} {
	return map[string]interface{}{
		"totalScore": r.TotalScore,
		"level":      r.Level,
		"riskScore":  r.RiskScore,
		"direction":  r.TrendData.Direction,
	}
}

// kindLabel keeps arbitrary client input out of metric labels.
func kindLabel(k EventKind) string {
	for _, known := range EventKinds() {
		if k == known {
			return string(k)
		}
	}
	return "unknown"
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrInvalidEvent):
		return "invalid"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
