package payment

import (
	"context"
	"log/slog"
	"time"

	datamodel "github.com/pasalku/payment-gateway/internal/core/datamodel/session"
	"github.com/pasalku/payment-gateway/internal/provider"
	sessionpkg "github.com/pasalku/payment-gateway/internal/session"
)

// StatusTimeout is the advisory poll outcome when the attempt budget is
// exhausted while the session is still pending. It is never persisted; a
// later webhook can still resolve the session.
const StatusTimeout = "TIMEOUT"

const (
	defaultMaxAttempts  = 60
	defaultPollInterval = 5 * time.Second
)

// PollOptions bound one polling run. OnStatusUpdate is for UI progress only
// and must not mutate state.
type PollOptions struct {
	MaxAttempts    int
	Interval       time.Duration
	OnStatusUpdate func(attempt int, status string)
}

type PollResult struct {
	Status   string
	Session  *datamodel.PaymentSession
	Attempts int
}

// SleepFunc suspends between attempts; injectable so tests run without
// wall-clock delays. It returns the context error when cancelled.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poller repeatedly asks the provider for status and feeds each result
// through the reconciler until the persisted session is terminal or the
// attempt budget runs out.
type Poller struct {
	registry   *provider.Registry
	store      sessionpkg.Store
	reconciler *Reconciler
	sleep      SleepFunc
	logger     *slog.Logger
}

func NewPoller(registry *provider.Registry, store sessionpkg.Store, reconciler *Reconciler, logger *slog.Logger) *Poller {
	return &Poller{
		registry:   registry,
		store:      store,
		reconciler: reconciler,
		sleep:      sleepWithContext,
		logger:     logger,
	}
}

// SetSleep replaces the delay between attempts.
func (p *Poller) SetSleep(fn SleepFunc) {
	if fn != nil {
		p.sleep = fn
	}
}

// Poll runs one bounded polling loop for the session. It decides whether to
// continue from the persisted session state, not the raw provider reply, so
// a session another channel already finalized stops the loop immediately.
// Cancellation stops future attempts and never touches the session.
func (p *Poller) Poll(ctx context.Context, qrID string, opts PollOptions) (*PollResult, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	current, err := p.store.Get(qrID)
	if err != nil {
		return nil, err
	}

	adapter, err := p.registry.Resolve(current.Provider)
	if err != nil {
		return nil, err
	}

	var lastProviderErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		current, err = p.store.Get(qrID)
		if err != nil {
			return nil, err
		}
		if current.IsTerminal() {
			p.logger.Info("session already resolved, stopping poll",
				"qr_id", qrID,
				"status", current.Status,
				"attempt", attempt)
			return &PollResult{Status: current.Status, Session: current, Attempts: attempt}, nil
		}

		normalized, err := adapter.CheckStatus(ctx, qrID)
		if err != nil {
			// transient provider failures retry within the attempt budget
			lastProviderErr = err
			p.logger.Warn("status check failed, will retry",
				"qr_id", qrID,
				"attempt", attempt,
				"error", err)
		} else {
			lastProviderErr = nil
			current, err = p.reconciler.Reconcile(ctx, qrID, normalized, datamodel.SourcePoll)
			if err != nil {
				return nil, err
			}
		}

		if opts.OnStatusUpdate != nil {
			opts.OnStatusUpdate(attempt, current.Status)
		}

		if current.IsTerminal() {
			return &PollResult{Status: current.Status, Session: current, Attempts: attempt}, nil
		}

		if attempt < maxAttempts {
			if err := p.sleep(ctx, interval); err != nil {
				return nil, err
			}
		}
	}

	if lastProviderErr != nil {
		return nil, lastProviderErr
	}

	p.logger.Info("poll budget exhausted, session still pending",
		"qr_id", qrID,
		"max_attempts", maxAttempts)
	return &PollResult{Status: StatusTimeout, Session: current, Attempts: maxAttempts}, nil
}
