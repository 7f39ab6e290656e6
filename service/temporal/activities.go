package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/candymint/service/candymachine"
	"github.com/brojonat/candymint/service/metrics"
	"github.com/brojonat/candymint/service/minter"
	solanasvc "github.com/brojonat/candymint/service/solana"
	"github.com/brojonat/candymint/service/tracker"
	"github.com/gagliardetto/solana-go"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// PolicyViolationErrorType is the application error type of a mint the
// eligibility policy refused. It is never retried.
const PolicyViolationErrorType = "PolicyViolation"

// PrepareMintInput contains the parameters for the PrepareMint activity.
type PrepareMintInput struct {
	Wallet string `json:"wallet"`
}

// SubmitMintInput contains the parameters for the SubmitMint activity.
type SubmitMintInput struct {
	Snapshot candymachine.MintSnapshot  `json:"snapshot"`
	Caller   candymachine.CallerContext `json:"caller"`
}

// CheckSignatureStatusInput contains the parameters for the
// CheckSignatureStatus activity.
type CheckSignatureStatusInput struct {
	Signature string `json:"signature"`
}

// RecordOutcomeInput contains the parameters for the RecordOutcome activity.
type RecordOutcomeInput struct {
	Submission minter.Submission `json:"submission"`
	Outcome    minter.Outcome    `json:"outcome"`
}

// RefreshSnapshotInput contains the parameters for the RefreshSnapshot
// activity. An empty Wallet refreshes for an anonymous caller.
type RefreshSnapshotInput struct {
	Wallet string `json:"wallet,omitempty"`
}

// RefresherInterface defines the snapshot reads needed by activities.
type RefresherInterface interface {
	Snapshot(ctx context.Context) (candymachine.MintSnapshot, error)
	Evaluate(ctx context.Context, s candymachine.MintSnapshot, wallet *solana.PublicKey) *minter.View
	Refresh(ctx context.Context, wallet *solana.PublicKey) (*minter.View, error)
}

// OrchestratorInterface defines the mint operations needed by activities.
type OrchestratorInterface interface {
	Submit(ctx context.Context, caller candymachine.CallerContext, snapshot candymachine.MintSnapshot) (*minter.Submission, error)
	Report(ctx context.Context, sub *minter.Submission, outcome minter.Outcome)
}

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	refresher    RefresherInterface
	orchestrator OrchestratorInterface
	ledger       tracker.StatusQuerier
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(
	refresher RefresherInterface,
	orchestrator OrchestratorInterface,
	ledger tracker.StatusQuerier,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		refresher:    refresher,
		orchestrator: orchestrator,
		ledger:       ledger,
		metrics:      m,
		logger:       logger,
	}
}

// PrepareMint reads a fresh snapshot and evaluates the wallet against it.
// Nothing is published: the workflow decides what happens next.
func (a *Activities) PrepareMint(ctx context.Context, input PrepareMintInput) (*minter.View, error) {
	defer a.timed("PrepareMint")()

	wallet, err := parseWallet(input.Wallet)
	if err != nil {
		return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), "InvalidWallet", err)
	}

	s, err := a.refresher.Snapshot(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to read snapshot", "error", err)
		if errors.Is(err, candymachine.ErrMalformedAccount) {
			return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), "MalformedAccount", err)
		}
		return nil, err
	}

	view := a.refresher.Evaluate(ctx, s, wallet)
	a.logger.DebugContext(ctx, "prepared mint",
		"machine", s.Address.String(),
		"wallet", input.Wallet,
		"decision", view.Decision.Kind,
		"items_remaining", s.ItemsRemaining,
	)
	return view, nil
}

// SubmitMint builds, signs and submits the mint transaction. It must not be
// retried: a retry could mint twice.
func (a *Activities) SubmitMint(ctx context.Context, input SubmitMintInput) (*minter.Submission, error) {
	defer a.timed("SubmitMint")()

	sub, err := a.orchestrator.Submit(ctx, input.Caller, input.Snapshot)
	if err != nil {
		var pv *minter.PolicyViolationError
		if errors.As(err, &pv) {
			return nil, temporalsdk.NewNonRetryableApplicationError(pv.UserMessage(), PolicyViolationErrorType, err)
		}
		return nil, fmt.Errorf("failed to submit mint: %w", err)
	}
	return sub, nil
}

// CheckSignatureStatus makes one status query for a submitted signature.
func (a *Activities) CheckSignatureStatus(ctx context.Context, input CheckSignatureStatusInput) (*solanasvc.SignatureStatus, error) {
	defer a.timed("CheckSignatureStatus")()

	sig, err := solana.SignatureFromBase58(input.Signature)
	if err != nil {
		return nil, temporalsdk.NewNonRetryableApplicationError(fmt.Sprintf("invalid signature %q", input.Signature), "InvalidSignature", err)
	}

	status, err := a.ledger.GetSignatureStatus(ctx, sig)
	if err != nil {
		a.logger.WarnContext(ctx, "status query failed",
			"signature", input.Signature,
			"error", err,
		)
		return nil, err
	}
	return &status, nil
}

// RecordOutcome persists a resolved attempt and emits its events.
func (a *Activities) RecordOutcome(ctx context.Context, input RecordOutcomeInput) error {
	defer a.timed("RecordOutcome")()

	a.orchestrator.Report(ctx, &input.Submission, input.Outcome)
	if !input.Submission.SubmittedAt.IsZero() {
		a.metrics.RecordWorkflowDuration("MintWorkflow", string(input.Outcome.Kind), time.Since(input.Submission.SubmittedAt).Seconds())
	}
	return nil
}

// RefreshSnapshot re-reads the machine and emits snapshot_updated and
// eligibility_updated.
func (a *Activities) RefreshSnapshot(ctx context.Context, input RefreshSnapshotInput) (*minter.View, error) {
	defer a.timed("RefreshSnapshot")()

	wallet, err := parseWallet(input.Wallet)
	if err != nil {
		return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), "InvalidWallet", err)
	}

	view, err := a.refresher.Refresh(ctx, wallet)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to refresh snapshot", "error", err)
		if errors.Is(err, candymachine.ErrMalformedAccount) {
			return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), "MalformedAccount", err)
		}
		return nil, err
	}
	return view, nil
}

func (a *Activities) timed(activity string) func() {
	start := time.Now()
	return func() {
		a.metrics.RecordActivityDuration(activity, time.Since(start).Seconds())
	}
}

func parseWallet(s string) (*solana.PublicKey, error) {
	if s == "" {
		return nil, nil
	}
	key, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet address %q: %w", s, err)
	}
	return &key, nil
}
