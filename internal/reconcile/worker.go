package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/novoin/novoin_wallet/internal/currency"
	"github.com/novoin/novoin_wallet/internal/ledger"
	"github.com/novoin/novoin_wallet/internal/logging"
	"github.com/novoin/novoin_wallet/internal/metrics"
	"github.com/novoin/novoin_wallet/internal/notification"
	"github.com/novoin/novoin_wallet/internal/wallet"
)

// Wallet is the subset of the wallet service the worker drives.
type Wallet interface {
	Credit(ctx context.Context, in wallet.CreditInput) (wallet.Result, error)
	PurchasePackage(ctx context.Context, in wallet.PackageInput) (wallet.PurchaseResult, error)
	Refund(ctx context.Context, in wallet.RefundInput) (wallet.Result, error)
}

// Config tunes the worker loop and retry policy.
type Config struct {
	Interval      time.Duration
	MaxAttempts   int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	RatePerSecond float64
	BatchSize     int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:      30 * time.Second,
		MaxAttempts:   8,
		BaseBackoff:   2 * time.Second,
		MaxBackoff:    10 * time.Minute,
		RatePerSecond: 50,
		BatchSize:     100,
	}
}

// Summary counts the outcomes of one pass.
type Summary struct {
	Discovered int
	Applied    int
	Rejected   int
	Retried    int
	Stalled    int
}

// Worker applies provider-confirmed events to wallets. It relies on the wallet
// service's idempotency to collapse duplicate deliveries and never credits
// anything that did not come from the provider.
type Worker struct {
	queue    *Queue
	source   Source
	wallet   Wallet
	cfg      Config
	limiter  *rate.Limiter
	logger   *slog.Logger
	notifier notification.Notifier
	now      func() time.Time
}

// NewWorker builds a reconciliation worker. source may be nil when events only
// arrive through the webhook.
func NewWorker(queue *Queue, source Source, w Wallet, cfg Config, logger *slog.Logger, notifier notification.Notifier) *Worker {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Worker{
		queue:    queue,
		source:   source,
		wallet:   w,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run executes a pass immediately and then every Interval until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("reconcile pass failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce pulls new provider events and processes everything that is due.
func (w *Worker) RunOnce(ctx context.Context) (Summary, error) {
	start := time.Now()
	defer func() { metrics.ReconcileRunDuration.Observe(time.Since(start).Seconds()) }()

	var sum Summary
	if w.source != nil {
		events, err := w.source.Pending(ctx)
		if err != nil {
			// keep draining what is already tracked
			w.logger.Warn("payment provider poll failed", slog.Any("error", err))
		}
		for _, ev := range events {
			added, err := w.queue.Track(ctx, ev, w.now())
			if err != nil {
				if errors.Is(err, ErrInvalidEvent) {
					w.logger.Warn("skipping malformed provider event", slog.String("reference", ev.Reference), slog.Any("error", err))
					continue
				}
				return sum, err
			}
			if added {
				sum.Discovered++
			}
		}
	}

	due, err := w.queue.Due(ctx, w.now(), w.cfg.BatchSize)
	if err != nil {
		return sum, err
	}
	for _, rec := range due {
		if err := w.limiter.Wait(ctx); err != nil {
			return sum, err
		}
		status, err := w.process(ctx, rec)
		if err != nil {
			return sum, err
		}
		switch status {
		case StatusApplied:
			sum.Applied++
		case StatusRejected:
			sum.Rejected++
		case StatusStalled:
			sum.Stalled++
		case StatusPending:
			sum.Retried++
		}
	}

	if sum.Discovered+len(due) > 0 {
		w.logger.Info("reconcile pass completed",
			slog.Int("discovered", sum.Discovered),
			slog.Int("applied", sum.Applied),
			slog.Int("rejected", sum.Rejected),
			slog.Int("retried", sum.Retried),
			slog.Int("stalled", sum.Stalled),
		)
	}
	return sum, nil
}

// process applies one event and records the resulting status. A returned error
// means the queue itself could not be updated.
func (w *Worker) process(ctx context.Context, rec Record) (Status, error) {
	applyErr := w.apply(ctx, rec.Event)
	now := w.now()

	next := rec
	var status Status
	switch {
	case applyErr == nil:
		status = StatusApplied
		next.LastError = ""
	case permanent(applyErr):
		status = StatusRejected
		next.LastError = applyErr.Error()
		w.logger.Warn("provider event rejected",
			slog.String("reference", rec.Event.Reference),
			slog.String("account_id", rec.Event.AccountID),
			slog.Any("error", applyErr),
		)
	default:
		next.Attempts++
		next.LastError = applyErr.Error()
		if next.Attempts >= w.cfg.MaxAttempts {
			status = StatusStalled
			next.LastError = fmt.Errorf("%w after %d attempts: %w", ErrReconciliationStalled, next.Attempts, applyErr).Error()
		} else {
			status = StatusPending
			next.NextAttempt = now.Add(w.Backoff(next.Attempts))
		}
	}

	if err := w.queue.transition(ctx, next, status, now); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			// an operator abandoned it meanwhile; the wallet call was idempotent
			return "", nil
		}
		return "", err
	}
	metrics.ReconcileEventsTotal.WithLabelValues(string(status)).Inc()

	if status == StatusStalled {
		w.alertStalled(ctx, next)
	}
	return status, nil
}

func (w *Worker) apply(ctx context.Context, ev PaymentEvent) error {
	switch ev.Kind {
	case EventChargeback:
		_, err := w.wallet.Refund(ctx, wallet.RefundInput{
			AccountID:    ev.AccountID,
			AmountRupiah: currency.Rupiah(ev.AmountRupiah),
			PackageID:    ev.PackageID,
			ExternalRef:  ev.Reference,
		})
		return err
	case EventPayment:
		if ev.PackageID != "" {
			_, err := w.wallet.PurchasePackage(ctx, wallet.PackageInput{
				AccountID:    ev.AccountID,
				PackageID:    ev.PackageID,
				AmountRupiah: currency.Rupiah(ev.AmountRupiah),
				ExternalRef:  ev.Reference,
			})
			return err
		}
		_, err := w.wallet.Credit(ctx, wallet.CreditInput{
			AccountID:    ev.AccountID,
			AmountRupiah: currency.Rupiah(ev.AmountRupiah),
			ExternalRef:  ev.Reference,
		})
		return err
	}
	return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, ev.Kind)
}

func (w *Worker) alertStalled(ctx context.Context, rec Record) {
	w.logger.Error("reconciliation stalled",
		slog.String("reference", rec.Event.Reference),
		slog.String("account_id", rec.Event.AccountID),
		slog.Int("attempts", rec.Attempts),
		slog.String("last_error", rec.LastError),
	)
	if w.notifier == nil {
		return
	}
	if err := w.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindReconciliationStalled,
		Destination: rec.Event.AccountID,
		Body:        fmt.Sprintf("%s %s stalled after %d attempts", rec.Event.Kind, rec.Event.Reference, rec.Attempts),
	}); err != nil {
		w.logger.Warn("stalled alert failed", slog.Any("error", err))
	}
}

// Backoff returns the delay before the given attempt number is retried:
// BaseBackoff * 2^(attempt-1), capped at MaxBackoff.
func (w *Worker) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := w.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= w.cfg.MaxBackoff || d <= 0 {
			return w.cfg.MaxBackoff
		}
	}
	if d > w.cfg.MaxBackoff {
		return w.cfg.MaxBackoff
	}
	return d
}

// Retry puts a stalled or rejected event back in the queue with a fresh budget.
func (w *Worker) Retry(ctx context.Context, kind EventKind, reference string) (Record, error) {
	rec, err := w.queue.Get(ctx, kind, reference)
	if err != nil {
		return Record{}, err
	}
	if rec.Status != StatusStalled && rec.Status != StatusRejected {
		return Record{}, fmt.Errorf("%w: cannot retry %s event", ErrInvalidTransition, rec.Status)
	}
	now := w.now()
	next := rec
	next.Attempts = 0
	next.NextAttempt = now
	if err := w.queue.transition(ctx, next, StatusPending, now); err != nil {
		return Record{}, err
	}
	w.logger.Info("reconcile event requeued", slog.String("reference", reference), slog.String("kind", string(kind)))
	return w.queue.Get(ctx, kind, reference)
}

// Abandon gives up on an event that has not been applied.
func (w *Worker) Abandon(ctx context.Context, kind EventKind, reference string) (Record, error) {
	rec, err := w.queue.Get(ctx, kind, reference)
	if err != nil {
		return Record{}, err
	}
	if rec.Status == StatusApplied || rec.Status == StatusAbandoned {
		return Record{}, fmt.Errorf("%w: cannot abandon %s event", ErrInvalidTransition, rec.Status)
	}
	now := w.now()
	if err := w.queue.transition(ctx, rec, StatusAbandoned, now); err != nil {
		return Record{}, err
	}
	w.logger.Warn("reconcile event abandoned", slog.String("reference", reference), slog.String("kind", string(kind)))
	return w.queue.Get(ctx, kind, reference)
}

// Queue exposes the underlying queue for status queries.
func (w *Worker) Queue() *Queue {
	return w.queue
}

// permanent reports errors that no amount of retrying will fix.
func permanent(err error) bool {
	switch {
	case errors.Is(err, ledger.ErrStoreUnavailable):
		return false
	case errors.Is(err, currency.ErrInvalidAmount),
		errors.Is(err, currency.ErrUnknownPackage),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrExternalReferenceConflict),
		errors.Is(err, ledger.ErrInvalidPosting),
		errors.Is(err, wallet.ErrMissingAccount),
		errors.Is(err, wallet.ErrMissingExternalReference),
		errors.Is(err, ErrInvalidEvent):
		return true
	}
	return false
}
