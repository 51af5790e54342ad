package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/amp-labs/osf-moderation/bgworker"
	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"
)

const (
	defaultMaxRetries = 3
	retryBaseDelay    = 200 * time.Millisecond
	retryMaxDelay     = 5 * time.Second
)

var notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "osf_notifications_total",
	Help: "Notifications handed to a sender, by template and outcome.",
}, []string{"template", "outcome"})

// Notifier accepts messages for best-effort delivery.
type Notifier interface {
	Notify(ctx context.Context, msgs ...Message)
}

// Dispatcher sends messages on a worker pool with retries.
type Dispatcher struct {
	sender     Sender
	pool       *bgworker.Pool
	maxRetries uint
	wg         sync.WaitGroup

	inFlight *atomic.Int64
	sent     *atomic.Int64
	failed   *atomic.Int64
}

var _ Notifier = (*Dispatcher)(nil)

type DispatcherOption func(*Dispatcher)

// WithMaxRetries sets how many times a failed send is retried.
func WithMaxRetries(n uint) DispatcherOption {
	return func(d *Dispatcher) { d.maxRetries = n }
}

// WithPool runs sends on pool. Without it sends run on a private pool.
func WithPool(pool *bgworker.Pool) DispatcherOption {
	return func(d *Dispatcher) { d.pool = pool }
}

func NewDispatcher(sender Sender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sender:     sender,
		maxRetries: defaultMaxRetries,
		inFlight:   atomic.NewInt64(0),
		sent:       atomic.NewInt64(0),
		failed:     atomic.NewInt64(0),
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.pool == nil {
		d.pool = bgworker.New("notify", 0)
	}

	return d
}

// Notify queues msgs. It never blocks on delivery and never fails.
func (d *Dispatcher) Notify(ctx context.Context, msgs ...Message) {
	ctx = context.WithoutCancel(ctx)

	for _, msg := range msgs {
		d.wg.Add(1)
		d.inFlight.Inc()

		err := d.pool.Go(func() {
			defer d.wg.Done()
			defer d.inFlight.Dec()

			d.deliver(ctx, msg)
		})
		if err != nil {
			d.wg.Done()
			d.inFlight.Dec()
			d.record(ctx, msg, err)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = retryBaseDelay
	exp.MaxInterval = retryMaxDelay

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, d.sender.Send(ctx, msg)
	},
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(d.maxRetries+1),
	)

	d.record(ctx, msg, err)
}

func (d *Dispatcher) record(ctx context.Context, msg Message, err error) {
	if err != nil {
		d.failed.Inc()
		notificationsTotal.WithLabelValues(string(msg.Template), "failed").Inc()
		slog.ErrorContext(ctx, "notification failed",
			"template", string(msg.Template),
			"to", msg.To.UserID,
			"error", err)

		return
	}

	d.sent.Inc()
	notificationsTotal.WithLabelValues(string(msg.Template), "sent").Inc()
}

// Wait blocks until every queued message has been handled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Stats reports counters since creation.
func (d *Dispatcher) Stats() (inFlight, sent, failed int64) {
	return d.inFlight.Load(), d.sent.Load(), d.failed.Load()
}

// Sync delivers inline on the caller's goroutine. Jobs and tests use it
// where ordering matters more than latency.
type Sync struct {
	Sender Sender
}

var _ Notifier = Sync{}

func (s Sync) Notify(ctx context.Context, msgs ...Message) {
	for _, msg := range msgs {
		if err := s.Sender.Send(ctx, msg); err != nil {
			notificationsTotal.WithLabelValues(string(msg.Template), "failed").Inc()
			slog.ErrorContext(ctx, "notification failed",
				"template", string(msg.Template),
				"to", msg.To.UserID,
				"error", err)

			continue
		}

		notificationsTotal.WithLabelValues(string(msg.Template), "sent").Inc()
	}
}
