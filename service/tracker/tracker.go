package tracker

import (
	"context"
	"log/slog"
	"time"

	"github.com/brojonat/candymint/service/metrics"
	solanasvc "github.com/brojonat/candymint/service/solana"
	"github.com/gagliardetto/solana-go"
)

// Defaults for Options.
const (
	DefaultPollInterval  = 500 * time.Millisecond
	DefaultTimeout       = 30 * time.Second
	DefaultQueryAttempts = 3
	DefaultRetryBackoff  = 100 * time.Millisecond
)

// StatusQuerier is the ledger capability the tracker needs.
type StatusQuerier interface {
	GetSignatureStatus(ctx context.Context, sig solana.Signature) (solanasvc.SignatureStatus, error)
}

// Clock supplies time to the poll loop.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// RealClock is the wall clock.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Options configure a Tracker. Zero values take the defaults.
type Options struct {
	PollInterval time.Duration
	Timeout      time.Duration
	// QueryAttempts bounds the tries of one status query on transient errors.
	QueryAttempts int
	RetryBackoff  time.Duration
	Clock         Clock
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.QueryAttempts <= 0 {
		o.QueryAttempts = DefaultQueryAttempts
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	if o.Clock == nil {
		o.Clock = RealClock()
	}
	return o
}

// Tracker polls the ledger for one submitted signature. It owns the attempt
// until Run returns.
type Tracker struct {
	querier StatusQuerier
	opts    Options
	machine *Machine
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a tracker for sig, submitted at submittedAt.
func New(querier StatusQuerier, sig solana.Signature, submittedAt time.Time, opts Options, m *metrics.Metrics, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	return &Tracker{
		querier: querier,
		opts:    opts,
		machine: NewMachine(sig, submittedAt, opts.Timeout),
		metrics: m,
		logger:  logger,
	}
}

// Run polls until the attempt is terminal and returns it. Status queries are
// strictly sequential. If ctx is cancelled first, Run stops issuing queries,
// discards any result still in flight and returns the non-terminal attempt
// with ctx.Err(); the submitted transaction itself is not revoked.
func (t *Tracker) Run(ctx context.Context) (Attempt, error) {
	clock := t.opts.Clock
	m := t.machine
	m.Begin()

	sig := m.Attempt().Signature.String()
	t.logger.DebugContext(ctx, "tracking transaction",
		"signature", sig,
		"deadline", m.Deadline(),
	)

	for {
		if err := ctx.Err(); err != nil {
			return t.abandon(ctx, err)
		}
		if m.Expire(clock.Now()) {
			return t.finish(ctx), nil
		}

		status, err := t.query(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return t.abandon(ctx, ctxErr)
		}
		if err != nil {
			t.logger.WarnContext(ctx, "signature status query failed",
				"signature", sig,
				"error", err,
			)
		}
		if m.Observe(clock.Now(), status, err) {
			return t.finish(ctx), nil
		}

		wait := min(t.opts.PollInterval, m.Remaining(clock.Now()))
		if err := clock.Sleep(ctx, wait); err != nil {
			return t.abandon(ctx, err)
		}
	}
}

// query runs one status query, retrying transient errors with exponential
// backoff up to QueryAttempts tries. The query never outlives the deadline.
func (t *Tracker) query(ctx context.Context) (solanasvc.SignatureStatus, error) {
	clock := t.opts.Clock
	m := t.machine

	qctx, cancel := context.WithTimeout(ctx, m.Remaining(clock.Now()))
	defer cancel()

	var (
		status solanasvc.SignatureStatus
		err    error
	)
	for attempt := range t.opts.QueryAttempts {
		status, err = t.querier.GetSignatureStatus(qctx, m.Attempt().Signature)
		if err == nil || qctx.Err() != nil || attempt == t.opts.QueryAttempts-1 {
			break
		}
		backoff := min(t.opts.RetryBackoff<<uint(attempt), m.Remaining(clock.Now()))
		if clock.Sleep(qctx, backoff) != nil {
			break
		}
		t.metrics.RecordRPCRetry("getSignatureStatuses", "status_query")
	}
	return status, err
}

func (t *Tracker) finish(ctx context.Context) Attempt {
	a := t.machine.Attempt()
	t.metrics.RecordConfirmation(a.State.String(), a.Polls, a.ResolvedAt.Sub(a.SubmittedAt).Seconds())
	t.logger.InfoContext(ctx, "transaction resolved",
		"signature", a.Signature.String(),
		"state", a.State.String(),
		"polls", a.Polls,
		"reason", a.Reason,
	)
	return a
}

func (t *Tracker) abandon(ctx context.Context, err error) (Attempt, error) {
	a := t.machine.Attempt()
	t.logger.InfoContext(ctx, "stopped tracking transaction",
		"signature", a.Signature.String(),
		"polls", a.Polls,
		"error", err,
	)
	return a, err
}
