package minter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/candymint/service/candymachine"
	"github.com/brojonat/candymint/service/db"
	"github.com/brojonat/candymint/service/metrics"
	"github.com/brojonat/candymint/service/tracker"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// AccountReader is the read side of the ledger client.
type AccountReader interface {
	FetchCandyMachine(ctx context.Context, address solana.PublicKey) (*candymachine.Account, error)
	GetTokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error)
	GetNativeBalance(ctx context.Context, owner solana.PublicKey) (uint64, error)
}

// SnapshotStore persists snapshot history.
type SnapshotStore interface {
	RecordSnapshot(ctx context.Context, params db.RecordSnapshotParams) (*db.MachineSnapshot, error)
}

// View is a snapshot and one caller's standing against it.
type View struct {
	Snapshot candymachine.MintSnapshot `json:"snapshot"`
	Wallet   string                    `json:"wallet,omitempty"`
	// WhitelistTokenBalance is zero when the lookup failed.
	WhitelistTokenBalance uint64                `json:"whitelist_token_balance"`
	NativeBalance         *decimal.Decimal      `json:"native_balance,omitempty"`
	Decision              candymachine.Decision `json:"decision"`
	EvaluatedAt           time.Time             `json:"evaluated_at"`
}

// Caller is the caller context the decision was made for.
func (v *View) Caller() candymachine.CallerContext {
	caller := candymachine.CallerContext{
		WhitelistTokenBalance: v.WhitelistTokenBalance,
		Now:                   v.EvaluatedAt,
	}
	if key, err := solana.PublicKeyFromBase58(v.Wallet); err == nil {
		caller.Wallet = &key
	}
	return caller
}

// Refresher reads a candy machine and publishes its derived state.
type Refresher struct {
	reader    AccountReader
	machine   solana.PublicKey
	network   string
	cfg       candymachine.SnapshotConfig
	publisher Publisher
	store     SnapshotStore
	clock     tracker.Clock
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewRefresher creates a refresher for machine. publisher and store may be nil.
func NewRefresher(
	reader AccountReader,
	machine solana.PublicKey,
	network string,
	cfg candymachine.SnapshotConfig,
	publisher Publisher,
	store SnapshotStore,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		reader:    reader,
		machine:   machine,
		network:   network,
		cfg:       cfg,
		publisher: publisher,
		store:     store,
		clock:     tracker.RealClock(),
		metrics:   m,
		logger:    logger,
	}
}

// WithClock replaces the wall clock, for tests.
func (r *Refresher) WithClock(c tracker.Clock) *Refresher {
	r.clock = c
	return r
}

// Snapshot reads the machine account and derives a fresh snapshot. A
// malformed account is returned as an error wrapping
// candymachine.ErrMalformedAccount and is never defaulted.
func (r *Refresher) Snapshot(ctx context.Context) (candymachine.MintSnapshot, error) {
	acct, err := r.reader.FetchCandyMachine(ctx, r.machine)
	if err != nil {
		r.metrics.RecordSnapshotRefresh(r.machine.String(), 0, err)
		return candymachine.MintSnapshot{}, fmt.Errorf("failed to read candy machine: %w", err)
	}
	s, err := candymachine.DeriveSnapshot(acct.Record(r.machine), r.cfg)
	r.metrics.RecordSnapshotRefresh(r.machine.String(), s.ItemsRemaining, err)
	if err != nil {
		return candymachine.MintSnapshot{}, fmt.Errorf("failed to derive snapshot: %w", err)
	}
	return s, nil
}

// Refresh derives a fresh snapshot, evaluates wallet against it and emits
// snapshot_updated followed by eligibility_updated. A nil wallet evaluates
// an anonymous caller holding no whitelist tokens.
func (r *Refresher) Refresh(ctx context.Context, wallet *solana.PublicKey) (*View, error) {
	s, err := r.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	now := r.clock.Now()
	r.record(ctx, s, now)
	r.emit(ctx, SnapshotUpdated(s, now))

	view := r.Evaluate(ctx, s, wallet)
	r.emit(ctx, EligibilityUpdated(s.Address.String(), view.Wallet, view.Decision, now))
	return view, nil
}

// Evaluate looks up wallet's balances and applies the eligibility policy to
// s. Balance lookups degrade to zero.
func (r *Refresher) Evaluate(ctx context.Context, s candymachine.MintSnapshot, wallet *solana.PublicKey) *View {
	view := &View{Snapshot: s}
	caller := candymachine.CallerContext{Wallet: wallet, Now: r.clock.Now()}

	if wallet != nil {
		view.Wallet = wallet.String()
		if s.Whitelist != nil {
			caller.WhitelistTokenBalance = r.whitelistBalance(ctx, *wallet, s.Whitelist.Mint)
		}
		if lamports, err := r.reader.GetNativeBalance(ctx, *wallet); err != nil {
			r.logger.WarnContext(ctx, "native balance lookup failed",
				"wallet", view.Wallet,
				"error", err,
			)
		} else {
			balance := candymachine.ToDisplay(lamports, candymachine.NativeDecimals)
			view.NativeBalance = &balance
		}
	}

	view.WhitelistTokenBalance = caller.WhitelistTokenBalance
	view.EvaluatedAt = caller.Now
	view.Decision = candymachine.Evaluate(s, caller)
	r.metrics.RecordEligibilityDecision(view.Decision.Kind.String())
	return view
}

func (r *Refresher) whitelistBalance(ctx context.Context, wallet, mint solana.PublicKey) uint64 {
	balance, err := r.reader.GetTokenBalance(ctx, wallet, mint)
	if err != nil {
		r.logger.WarnContext(ctx, "whitelist balance lookup failed, treating as zero",
			"wallet", wallet.String(),
			"whitelist_mint", mint.String(),
			"error", err,
		)
		r.metrics.RecordBalanceLookupFailure(r.machine.String())
		return 0
	}
	return balance
}

func (r *Refresher) record(ctx context.Context, s candymachine.MintSnapshot, now time.Time) {
	if r.store == nil {
		return
	}
	_, err := r.store.RecordSnapshot(ctx, db.RecordSnapshotParams{
		MachineAddress: s.Address.String(),
		Network:        r.network,
		ItemsAvailable: int64(s.ItemsAvailable),
		ItemsRedeemed:  int64(s.ItemsRedeemed),
		ItemsRemaining: int64(s.ItemsRemaining),
		IsSoldOut:      s.IsSoldOut,
		Price:          s.Price,
		PriceUnit:      s.PriceUnit.String(),
		ObservedAt:     now,
	})
	if err != nil {
		r.logger.WarnContext(ctx, "failed to record snapshot", "error", err)
	}
}

func (r *Refresher) emit(ctx context.Context, event *Event) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.WarnContext(ctx, "failed to publish event",
			"type", event.Type,
			"error", err,
		)
	}
}
