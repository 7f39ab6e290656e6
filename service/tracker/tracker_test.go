package tracker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	solanasvc "github.com/brojonat/candymint/service/solana"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSig = solana.MustSignatureFromBase58("5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7")

// fakeClock advances instantly when slept on.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

type response struct {
	status solanasvc.SignatureStatus
	err    error
}

// stubLedger replays responses in order, repeating the last one.
type stubLedger struct {
	responses []response
	onQuery   func(ctx context.Context, call int)

	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (s *stubLedger) GetSignatureStatus(ctx context.Context, sig solana.Signature) (solanasvc.SignatureStatus, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	if n > s.maxInFlight.Load() {
		s.maxInFlight.Store(n)
	}

	call := int(s.calls.Add(1))
	if s.onQuery != nil {
		s.onQuery(ctx, call)
	}
	idx := min(call-1, len(s.responses)-1)
	r := s.responses[idx]
	return r.status, r.err
}

func pending() response {
	return response{status: solanasvc.SignatureStatus{Kind: solanasvc.StatusPending}}
}
func success() response {
	return response{status: solanasvc.SignatureStatus{Kind: solanasvc.StatusSuccess}}
}
func failure(err error) response {
	return response{err: err}
}

func newTracker(ledger StatusQuerier, clock Clock, opts Options) *Tracker {
	opts.Clock = clock
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(ledger, testSig, clock.Now(), opts, nil, logger)
}

func TestRun_ConfirmedAfterNPlusOnePolls(t *testing.T) {
	for _, n := range []int{0, 1, 5, 20} {
		responses := make([]response, 0, n+1)
		for range n {
			responses = append(responses, pending())
		}
		responses = append(responses, success())
		ledger := &stubLedger{responses: responses}
		clock := newFakeClock()

		attempt, err := newTracker(ledger, clock, Options{Timeout: time.Hour}).Run(context.Background())
		require.NoError(t, err)

		assert.Equal(t, StateConfirmed, attempt.State, "n=%d", n)
		assert.Equal(t, n+1, attempt.Polls, "n=%d", n)
		assert.Equal(t, int32(n+1), ledger.calls.Load(), "n=%d", n)
		assert.Equal(t, time.Duration(n)*DefaultPollInterval, attempt.ResolvedAt.Sub(attempt.SubmittedAt), "n=%d", n)
	}
}

func TestRun_TimesOutWithinTimeoutPlusInterval(t *testing.T) {
	tests := []struct {
		timeout  time.Duration
		interval time.Duration
	}{
		{timeout: 30 * time.Second, interval: 500 * time.Millisecond},
		{timeout: 1100 * time.Millisecond, interval: 500 * time.Millisecond},
		{timeout: 10 * time.Second, interval: 3 * time.Second},
	}

	for _, tt := range tests {
		ledger := &stubLedger{responses: []response{pending()}}
		clock := newFakeClock()

		attempt, err := newTracker(ledger, clock, Options{Timeout: tt.timeout, PollInterval: tt.interval}).Run(context.Background())
		require.NoError(t, err)

		elapsed := attempt.ResolvedAt.Sub(attempt.SubmittedAt)
		assert.Equal(t, StateTimedOut, attempt.State)
		assert.GreaterOrEqual(t, elapsed, tt.timeout)
		assert.LessOrEqual(t, elapsed, tt.timeout+tt.interval)
	}
}

func TestRun_OnChainErrorFails(t *testing.T) {
	code := uint32(0x137)
	ledger := &stubLedger{responses: []response{
		pending(),
		{status: solanasvc.SignatureStatus{Kind: solanasvc.StatusError, Code: &code, Reason: "custom program error 0x137"}},
	}}

	attempt, err := newTracker(ledger, newFakeClock(), Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateFailed, attempt.State)
	require.NotNil(t, attempt.Code)
	assert.Equal(t, code, *attempt.Code)
	assert.Equal(t, 2, attempt.Polls)
}

func TestRun_RetriesTransientQueryErrors(t *testing.T) {
	ledger := &stubLedger{responses: []response{
		failure(errors.New("connection reset")),
		failure(errors.New("502 bad gateway")),
		success(),
	}}

	attempt, err := newTracker(ledger, newFakeClock(), Options{QueryAttempts: 3}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateConfirmed, attempt.State)
	assert.Equal(t, 1, attempt.Polls, "retries happen within one poll")
	assert.Equal(t, int32(3), ledger.calls.Load())
}

func TestRun_PersistentQueryErrorsTimeOut(t *testing.T) {
	ledger := &stubLedger{responses: []response{failure(errors.New("dial tcp: connection refused"))}}
	clock := newFakeClock()
	opts := Options{Timeout: 5 * time.Second, PollInterval: 500 * time.Millisecond, QueryAttempts: 2, RetryBackoff: 200 * time.Millisecond}

	attempt, err := newTracker(ledger, clock, opts).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateTimedOut, attempt.State)
	assert.LessOrEqual(t, attempt.ResolvedAt.Sub(attempt.SubmittedAt), opts.Timeout+opts.PollInterval)
}

func TestRun_CancellationDiscardsInFlightResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ledger := &stubLedger{
		responses: []response{pending(), success()},
		onQuery: func(_ context.Context, call int) {
			if call == 2 {
				cancel()
			}
		},
	}

	attempt, err := newTracker(ledger, newFakeClock(), Options{}).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, StatePolling, attempt.State, "success arriving after cancellation is not applied")
	assert.Equal(t, 1, attempt.Polls)
	assert.Equal(t, int32(2), ledger.calls.Load(), "no queries after cancellation")
}

func TestRun_ExpiryWinsOverInFlightQuery(t *testing.T) {
	ledger := &stubLedger{
		responses: []response{success()},
		onQuery: func(ctx context.Context, _ int) {
			<-ctx.Done()
		},
	}

	start := time.Now()
	attempt, err := newTracker(ledger, RealClock(), Options{Timeout: 50 * time.Millisecond, PollInterval: 10 * time.Millisecond}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateTimedOut, attempt.State)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRun_QueriesAreSequential(t *testing.T) {
	ledger := &stubLedger{responses: []response{pending(), failure(errors.New("timeout")), pending(), pending(), success()}}

	_, err := newTracker(ledger, newFakeClock(), Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), ledger.maxInFlight.Load())
}

func TestMachine_ExactlyOneTerminalTransition(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMachine(testSig, start, 10*time.Second)
	assert.Equal(t, StateSubmitted, m.Attempt().State)

	done := m.Observe(start.Add(time.Second), solanasvc.SignatureStatus{Kind: solanasvc.StatusSuccess}, nil)
	require.True(t, done)
	first := m.Attempt()
	assert.Equal(t, StateConfirmed, first.State)

	// later observations and expiry are no-ops
	assert.True(t, m.Observe(start.Add(2*time.Second), solanasvc.SignatureStatus{Kind: solanasvc.StatusError}, nil))
	assert.True(t, m.Expire(start.Add(time.Minute)))
	assert.Equal(t, first, m.Attempt())
}

func TestMachine_ObservationAtDeadlineTimesOut(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMachine(testSig, start, 10*time.Second)

	assert.False(t, m.Observe(start.Add(9*time.Second), solanasvc.SignatureStatus{}, errors.New("timeout")))
	assert.Equal(t, StatePolling, m.Attempt().State)

	assert.True(t, m.Observe(start.Add(10*time.Second), solanasvc.SignatureStatus{Kind: solanasvc.StatusSuccess}, nil))
	assert.Equal(t, StateTimedOut, m.Attempt().State)
}

func TestState_Text(t *testing.T) {
	for _, s := range []State{StateSubmitted, StatePolling, StateConfirmed, StateFailed, StateTimedOut} {
		b, err := s.MarshalText()
		require.NoError(t, err)
		var back State
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, s, back)
	}
}
