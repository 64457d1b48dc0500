// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Elouarate Gallery Contributors

package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/elouarate/gallery-admin/internal/auth"
	"github.com/elouarate/gallery-admin/pkg/errutil"
)

var _ auth.NotificationSink = (*Async)(nil)

// Notification kinds used as metric labels.
const (
	KindResetLink    = "reset_link"
	KindResetConfirm = "reset_confirmation"
)

// Deliveries counts notification deliveries by kind and result.
var Deliveries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gallery_notify_deliveries_total",
		Help: "Total number of notification deliveries by kind and result",
	},
	[]string{"kind", "result"},
)

// RegisterMetrics registers notification metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Deliveries)
}

// AsyncConfig sizes the delivery queue.
type AsyncConfig struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

// DefaultAsyncConfig returns the queue settings used by the server.
func DefaultAsyncConfig() AsyncConfig {
	return AsyncConfig{Workers: 2, QueueSize: 64, SendTimeout: 30 * time.Second}
}

type job struct {
	kind      string
	principal auth.Principal
	rawToken  string
	expiresAt time.Time
}

// Async queues notifications for background delivery by next. Send methods
// return immediately; delivery failures are logged and counted. A full queue
// drops the notification.
type Async struct {
	next   auth.NotificationSink
	cfg    AsyncConfig
	logger *slog.Logger

	queue chan job
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts cfg.Workers goroutines delivering through next. Call Close
// to drain the queue and stop them.
func NewAsync(next auth.NotificationSink, cfg AsyncConfig, logger *slog.Logger) *Async {
	def := DefaultAsyncConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &Async{
		next:   next,
		cfg:    cfg,
		logger: logger,
		queue:  make(chan job, cfg.QueueSize),
	}
	for range cfg.Workers {
		a.wg.Add(1)
		go a.work()
	}
	return a
}

// SendPasswordResetLink queues a reset link.
func (a *Async) SendPasswordResetLink(ctx context.Context, principal *auth.Principal, rawToken string, expiresAt time.Time) error {
	return a.enqueue(ctx, job{kind: KindResetLink, principal: *principal, rawToken: rawToken, expiresAt: expiresAt})
}

// SendPasswordResetConfirmation queues a reset confirmation.
func (a *Async) SendPasswordResetConfirmation(ctx context.Context, principal *auth.Principal) error {
	return a.enqueue(ctx, job{kind: KindResetConfirm, principal: *principal})
}

func (a *Async) enqueue(ctx context.Context, j job) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		Deliveries.WithLabelValues(j.kind, "dropped").Inc()
		return oops.Code("NOTIFY_CLOSED").With("kind", j.kind).Errorf("notification queue is closed")
	}

	select {
	case a.queue <- j:
		return nil
	default:
		Deliveries.WithLabelValues(j.kind, "dropped").Inc()
		a.logger.WarnContext(ctx, "notification queue full, dropping",
			"kind", j.kind,
			"principal_id", j.principal.ID.String())
		return nil
	}
}

func (a *Async) work() {
	defer a.wg.Done()
	for j := range a.queue {
		a.deliver(j)
	}
}

func (a *Async) deliver(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.SendTimeout)
	defer cancel()

	var err error
	switch j.kind {
	case KindResetLink:
		err = a.next.SendPasswordResetLink(ctx, &j.principal, j.rawToken, j.expiresAt)
	case KindResetConfirm:
		err = a.next.SendPasswordResetConfirmation(ctx, &j.principal)
	}
	if err != nil {
		Deliveries.WithLabelValues(j.kind, "failed").Inc()
		errutil.LogError(a.logger, "notification delivery failed", err,
			"kind", j.kind,
			"principal_id", j.principal.ID.String())
		return
	}
	Deliveries.WithLabelValues(j.kind, "sent").Inc()
}

// Close stops accepting notifications and waits for queued ones to be
// delivered or for ctx to end.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return oops.Code("NOTIFY_DRAIN_TIMEOUT").Wrap(ctx.Err())
	}
}
