package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/idgen"
	"github.com/ProjetAlpha-1/tontine-connect-sub001/internal/reputation"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	emitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tontine",
		Subsystem: "webhook",
		Name:      "emit_total",
		Help:      "Reputation changes offered to the webhook queue, by result.",
	}, []string{"result"})

	dispatchErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tontine",
		Subsystem: "webhook",
		Name:      "dispatch_errors_total",
		Help:      "Events whose subscriptions could not be loaded.",
	})

	deliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tontine",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Webhook deliveries by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(emitTotal, dispatchErrors, deliveriesTotal)
}

var _ reputation.Notifier = (*Emitter)(nil)

const (
	DefaultQueueSize = 1024
	dispatchTimeout  = 30 * time.Second
)

// Emitter queues reputation changes and delivers them from Run, so the
// scoring path never waits on subscriber endpoints. When the queue is full
// the change is dropped and counted.
type Emitter struct {
	d      *Dispatcher
	queue  chan *Event
	logger *slog.Logger
	now    func() time.Time
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, queueSize int, logger *slog.Logger) *Emitter {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Emitter{
		d:      d,
		queue:  make(chan *Event, queueSize),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Publish implements reputation.Notifier.
func (e *Emitter) Publish(eventType, userID, tontineID string, data interface{}) {
	if e == nil || e.d == nil {
		return
	}
	ev := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      EventType(eventType),
		UserID:    userID,
		TontineID: tontineID,
		Timestamp: e.now(),
		Data:      data,
	}
	select {
	case e.queue <- ev:
		emitTotal.WithLabelValues("queued").Inc()
	default:
		emitTotal.WithLabelValues("dropped").Inc()
		e.logger.Warn("webhook queue full, dropping event", "event", eventType, "tontine", tontineID)
	}
}

// Pending returns the number of queued events.
func (e *Emitter) Pending() int {
	return len(e.queue)
}

// Run delivers queued events one at a time until ctx is done.
func (e *Emitter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.queue:
			e.dispatch(ctx, ev)
		}
	}
}

func (e *Emitter) dispatch(ctx context.Context, ev *Event) {
	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()
	if err := e.d.Dispatch(ctx, ev); err != nil {
		dispatchErrors.Inc()
		e.logger.Warn("webhook dispatch failed", "event", ev.Type, "tontine", ev.TontineID, "error", err)
	}
}
