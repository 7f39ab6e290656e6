// Package minter drives a mint attempt end to end: it enforces the
// eligibility policy, submits the transaction, waits for the confirmation
// tracker and reports one of three outcomes to the presentation layer.
package minter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/candymint/service/candymachine"
	"github.com/brojonat/candymint/service/db"
	"github.com/brojonat/candymint/service/metrics"
	solanasvc "github.com/brojonat/candymint/service/solana"
	"github.com/brojonat/candymint/service/tracker"
	"github.com/gagliardetto/solana-go"
)

// Ledger is the write side of the ledger client.
type Ledger interface {
	tracker.StatusQuerier
	Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// Wallet identifies the caller and signs on its behalf.
type Wallet interface {
	PublicIdentity() (solana.PublicKey, bool)
	SignTransaction(tx *solana.Transaction, cosigners ...solana.PrivateKey) error
}

// TransactionBuilder assembles an unsigned mint transaction.
type TransactionBuilder interface {
	Build(ctx context.Context, payer solana.PublicKey, s candymachine.MintSnapshot) (*solanasvc.MintTransaction, error)
}

// AttemptStore persists resolved attempts.
type AttemptStore interface {
	RecordMintAttempt(ctx context.Context, params db.RecordMintAttemptParams) (*db.MintAttempt, error)
}

// Options configure an Orchestrator.
type Options struct {
	Network string
	Tracker tracker.Options
}

// Orchestrator performs mint attempts. Concurrent attempts for the same
// wallet are a caller error: the orchestrator does not serialize them.
type Orchestrator struct {
	ledger    Ledger
	wallet    Wallet
	builder   TransactionBuilder
	publisher Publisher
	store     AttemptStore
	opts      Options
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewOrchestrator creates an orchestrator. publisher and store may be nil.
func NewOrchestrator(
	ledger Ledger,
	wallet Wallet,
	builder TransactionBuilder,
	publisher Publisher,
	store AttemptStore,
	opts Options,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Tracker.Clock == nil {
		opts.Tracker.Clock = tracker.RealClock()
	}
	return &Orchestrator{
		ledger:    ledger,
		wallet:    wallet,
		builder:   builder,
		publisher: publisher,
		store:     store,
		opts:      opts,
		metrics:   m,
		logger:    logger,
	}
}

// Submission is a signed mint transaction handed to the ledger, together
// with the context it was built in.
type Submission struct {
	Params      ResolveParams    `json:"params"`
	Payer       solana.PublicKey `json:"payer"`
	Signature   solana.Signature `json:"signature"`
	SubmittedAt time.Time        `json:"submitted_at"`
	// Rejected is set when the transaction never entered the network. No
	// tracker follows a rejected submission.
	Rejected *Outcome `json:"rejected,omitempty"`
}

// AttemptMint mints one item for caller from the machine in snapshot.
//
// An ineligible caller gets a *PolicyViolationError before any network call.
// Once the attempt reaches the ledger every network problem is reported as an
// Outcome, never as an error; the only error after that point is ctx ending
// while the transaction is being tracked, in which case the submitted
// transaction is left to the ledger.
func (o *Orchestrator) AttemptMint(ctx context.Context, caller candymachine.CallerContext, snapshot candymachine.MintSnapshot) (Outcome, error) {
	sub, err := o.Submit(ctx, caller, snapshot)
	if err != nil {
		return Outcome{}, err
	}
	if sub.Rejected != nil {
		return *sub.Rejected, nil
	}

	logger := o.attemptLogger(sub)
	t := tracker.New(o.ledger, sub.Signature, sub.SubmittedAt, o.opts.Tracker, o.metrics, logger)
	attempt, err := t.Run(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("mint %s abandoned while tracking: %w", sub.Signature, err)
	}

	outcome := ResolveOutcome(attempt, sub.Params)
	o.Report(ctx, sub, outcome)
	return outcome, nil
}

// Submit enforces the eligibility policy, then builds, signs and submits the
// mint transaction. Only a policy violation is returned as an error; a
// transaction that could not be built, signed or submitted comes back as a
// Submission with Rejected set, already reported.
func (o *Orchestrator) Submit(ctx context.Context, caller candymachine.CallerContext, snapshot candymachine.MintSnapshot) (*Submission, error) {
	if caller.Now.IsZero() {
		caller.Now = o.opts.Tracker.Clock.Now()
	}
	decision := candymachine.Evaluate(snapshot, caller)
	if decision.Kind != candymachine.DecisionEligible {
		return nil, &PolicyViolationError{Decision: decision}
	}
	payer, ok := o.wallet.PublicIdentity()
	if !ok {
		return nil, &PolicyViolationError{Decision: decision, Reason: "wallet not connected"}
	}
	if caller.Wallet != nil && !caller.Wallet.Equals(payer) {
		return nil, &PolicyViolationError{Decision: decision, Reason: "caller is not the connected wallet"}
	}

	sub := &Submission{
		Params: ResolveParams{
			Network:  o.opts.Network,
			Snapshot: snapshot,
			Caller:   caller,
			Decision: decision,
		},
		Payer: payer,
	}
	logger := o.attemptLogger(sub)
	price, _ := decision.EffectivePrice()
	logger.InfoContext(ctx, "attempting mint",
		"price", price.String(),
		"price_unit", snapshot.PriceUnit.String(),
		"whitelisted", decision.Whitelisted,
	)

	built, err := o.builder.Build(ctx, payer, snapshot)
	if err != nil {
		return o.rejected(ctx, logger, sub, fmt.Errorf("failed to build mint transaction: %w", err)), nil
	}
	sub.Params.MintAddress = built.MintAddress()
	if err := o.wallet.SignTransaction(built.Tx, built.Mint); err != nil {
		return o.rejected(ctx, logger, sub, fmt.Errorf("failed to sign mint transaction: %w", err)), nil
	}

	sub.SubmittedAt = o.opts.Tracker.Clock.Now()
	sig, err := o.ledger.Submit(ctx, built.Tx)
	if err != nil {
		return o.rejected(ctx, logger, sub, err), nil
	}
	sub.Signature = sig
	logger.InfoContext(ctx, "mint transaction submitted",
		"signature", sig.String(),
		"mint", sub.Params.MintAddress.String(),
	)
	return sub, nil
}

// Report records a tracked outcome and emits mint_outcome. A success also
// emits the optimistically updated snapshot and the caller's new decision.
// Persistence and publish failures are logged, never returned.
func (o *Orchestrator) Report(ctx context.Context, sub *Submission, outcome Outcome) {
	logger := o.attemptLogger(sub)
	machine := sub.Params.Snapshot.Address.String()
	payer := sub.Payer.String()

	o.metrics.RecordMintOutcome(string(outcome.Kind), string(outcome.Cause))
	logger.InfoContext(ctx, "mint attempt resolved",
		"signature", outcome.Signature,
		"outcome", outcome.Kind,
		"message", outcome.Message,
	)

	o.persist(ctx, logger, AttemptRecord(outcome, sub.Params, sub.Payer))
	now := o.opts.Tracker.Clock.Now()
	o.emit(ctx, logger, MintOutcomeEvent(machine, payer, outcome, now))
	if outcome.Kind == OutcomeSuccess {
		o.emit(ctx, logger, SnapshotUpdated(*outcome.Snapshot, now))
		o.emit(ctx, logger, EligibilityUpdated(machine, payer, *outcome.Decision, now))
	}
}

// TrackerOptions returns the confirmation tracking settings.
func (o *Orchestrator) TrackerOptions() tracker.Options {
	return o.opts.Tracker
}

func (o *Orchestrator) attemptLogger(sub *Submission) *slog.Logger {
	return o.logger.With(
		"machine", sub.Params.Snapshot.Address.String(),
		"wallet", sub.Payer.String(),
	)
}

// rejected reports a failure before the transaction entered the network.
// No tracker is created and nothing is persisted.
func (o *Orchestrator) rejected(ctx context.Context, logger *slog.Logger, sub *Submission, err error) *Submission {
	outcome := SubmissionFailure(err)
	logger.WarnContext(ctx, "mint transaction rejected",
		"error", err,
		"message", outcome.Message,
	)
	o.metrics.RecordMintOutcome(string(outcome.Kind), string(outcome.Cause))
	o.emit(ctx, logger, MintOutcomeEvent(sub.Params.Snapshot.Address.String(), sub.Payer.String(), outcome, o.opts.Tracker.Clock.Now()))
	sub.Rejected = &outcome
	return sub
}

func (o *Orchestrator) emit(ctx context.Context, logger *slog.Logger, event *Event) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(ctx, event); err != nil {
		logger.WarnContext(ctx, "failed to publish event",
			"type", event.Type,
			"error", err,
		)
	}
}

func (o *Orchestrator) persist(ctx context.Context, logger *slog.Logger, params db.RecordMintAttemptParams) {
	if o.store == nil {
		return
	}
	if _, err := o.store.RecordMintAttempt(ctx, params); err != nil {
		logger.ErrorContext(ctx, "failed to record mint attempt",
			"signature", params.Signature,
			"error", err,
		)
	}
}

// AttemptRecord converts a tracked outcome into its persisted form.
func AttemptRecord(outcome Outcome, p ResolveParams, payer solana.PublicKey) db.RecordMintAttemptParams {
	price, _ := p.Decision.EffectivePrice()
	params := db.RecordMintAttemptParams{
		Signature:      outcome.Signature,
		Network:        p.Network,
		MachineAddress: p.Snapshot.Address.String(),
		WalletAddress:  payer.String(),
		Outcome:        string(outcome.Kind),
		Message:        outcome.Message,
		Price:          price,
		PriceUnit:      p.Snapshot.PriceUnit.String(),
	}
	if outcome.MintAddress != "" {
		mint := outcome.MintAddress
		params.MintAddress = &mint
	}
	if outcome.Cause != "" {
		cause := string(outcome.Cause)
		params.Cause = &cause
	}
	if outcome.Code != nil {
		code := int64(*outcome.Code)
		params.ErrorCode = &code
	}
	if a := outcome.Attempt; a != nil {
		params.State = a.State.String()
		params.Polls = int32(a.Polls)
		params.SubmittedAt = a.SubmittedAt
		if !a.ResolvedAt.IsZero() {
			resolved := a.ResolvedAt
			params.ResolvedAt = &resolved
		}
	}
	return params
}
