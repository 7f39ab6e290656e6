package temporal

import (
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/candymint/service/candymachine"
	"github.com/brojonat/candymint/service/minter"
	solanasvc "github.com/brojonat/candymint/service/solana"
	"github.com/brojonat/candymint/service/tracker"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// MintWorkflowInput contains the input parameters for a durable mint attempt.
type MintWorkflowInput struct {
	Wallet        string        `json:"wallet"`
	PollInterval  time.Duration `json:"poll_interval"`
	Timeout       time.Duration `json:"timeout"`
	QueryAttempts int           `json:"query_attempts"`
}

func (in MintWorkflowInput) withDefaults() MintWorkflowInput {
	if in.PollInterval <= 0 {
		in.PollInterval = tracker.DefaultPollInterval
	}
	if in.Timeout <= 0 {
		in.Timeout = tracker.DefaultTimeout
	}
	if in.QueryAttempts <= 0 {
		in.QueryAttempts = tracker.DefaultQueryAttempts
	}
	return in
}

// MintWorkflowResult contains the result of a durable mint attempt.
type MintWorkflowResult struct {
	Wallet    string `json:"wallet"`
	Signature string `json:"signature,omitempty"`
	// Decision is the eligibility decision the attempt was made under.
	Decision *candymachine.Decision `json:"decision,omitempty"`
	// PolicyViolation is set when the mint was refused before submission.
	PolicyViolation string          `json:"policy_violation,omitempty"`
	Outcome         *minter.Outcome `json:"outcome,omitempty"`
	Error           *string         `json:"error,omitempty"`
}

// MintWorkflow is the durable form of a mint attempt. Confirmation tracking
// runs as a workflow timer loop over the same state machine the in-process
// tracker uses, so a worker restart resumes polling instead of losing the
// attempt.
//
// The workflow performs these steps:
// 1. Read a fresh snapshot and evaluate the wallet (PrepareMint)
// 2. Build, sign and submit the transaction (SubmitMint, never retried)
// 3. Poll the signature status until terminal or timed out (CheckSignatureStatus)
// 4. Persist and publish the outcome (RecordOutcome)
func MintWorkflow(ctx workflow.Context, input MintWorkflowInput) (*MintWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("MintWorkflow started", "wallet", input.Wallet)
	input = input.withDefaults()

	result := &MintWorkflowResult{Wallet: input.Wallet}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	actx := workflow.WithActivityOptions(ctx, activityOptions)

	// Step 1: snapshot and decision
	var view *minter.View
	err := workflow.ExecuteActivity(actx, a.PrepareMint, PrepareMintInput{Wallet: input.Wallet}).Get(ctx, &view)
	if err != nil {
		return failed(result, "failed to prepare mint", err)
	}
	result.Decision = &view.Decision
	if view.Decision.Kind != candymachine.DecisionEligible {
		pv := &minter.PolicyViolationError{Decision: view.Decision}
		result.PolicyViolation = pv.UserMessage()
		logger.Info("mint refused by eligibility policy",
			"wallet", input.Wallet,
			"decision", view.Decision.Kind.String(),
		)
		return result, nil
	}

	// Step 2: submit exactly once
	submitCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporalsdk.RetryPolicy{MaximumAttempts: 1},
	})
	submittedAt := workflow.Now(ctx)
	var sub *minter.Submission
	err = workflow.ExecuteActivity(submitCtx, a.SubmitMint, SubmitMintInput{
		Snapshot: view.Snapshot,
		Caller:   view.Caller(),
	}).Get(ctx, &sub)
	if err != nil {
		var appErr *temporalsdk.ApplicationError
		if errors.As(err, &appErr) && appErr.Type() == PolicyViolationErrorType {
			result.PolicyViolation = appErr.Message()
			return result, nil
		}
		return failed(result, "failed to submit mint", err)
	}
	if sub.Rejected != nil {
		logger.Info("mint transaction rejected", "message", sub.Rejected.Message)
		result.Outcome = sub.Rejected
		return result, nil
	}
	result.Signature = sub.Signature.String()

	// Step 3: confirmation tracking on workflow time
	statusCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    100 * time.Millisecond,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Second,
			MaximumAttempts:    int32(input.QueryAttempts),
		},
	})
	m := tracker.NewMachine(sub.Signature, submittedAt, input.Timeout)
	m.Begin()
	for !m.Expire(workflow.Now(ctx)) {
		status, expired, err := checkStatusBefore(ctx, statusCtx, result.Signature, m.Remaining(workflow.Now(ctx)))
		if expired {
			// The deadline wins over a query still in flight; its result is dropped.
			logger.Warn("confirmation deadline reached during status query", "signature", result.Signature)
			m.Expire(workflow.Now(ctx))
			break
		}
		if err != nil {
			logger.Warn("status query failed", "signature", result.Signature, "error", err)
		}
		if m.Observe(workflow.Now(ctx), status, err) {
			break
		}
		wait := min(input.PollInterval, m.Remaining(workflow.Now(ctx)))
		if err := workflow.Sleep(ctx, wait); err != nil {
			return failed(result, "mint abandoned while tracking", err)
		}
	}

	attempt := m.Attempt()
	outcome := minter.ResolveOutcome(attempt, sub.Params)
	result.Outcome = &outcome
	logger.Info("mint attempt resolved",
		"signature", result.Signature,
		"state", attempt.State.String(),
		"polls", attempt.Polls,
		"outcome", string(outcome.Kind),
	)

	// Step 4: persist and publish
	err = workflow.ExecuteActivity(actx, a.RecordOutcome, RecordOutcomeInput{
		Submission: *sub,
		Outcome:    outcome,
	}).Get(ctx, nil)
	if err != nil {
		// The outcome stands even when it could not be recorded.
		logger.Error("failed to record outcome", "signature", result.Signature, "error", err)
	}

	logger.Info("MintWorkflow completed",
		"wallet", input.Wallet,
		"signature", result.Signature,
		"outcome", string(outcome.Kind),
	)
	return result, nil
}

// checkStatusBefore runs one CheckSignatureStatus activity raced against a
// timer of remaining. When the timer fires first the activity is cancelled
// and expired is true; a cancelled workflow surfaces as err instead.
func checkStatusBefore(ctx, statusCtx workflow.Context, signature string, remaining time.Duration) (status solanasvc.SignatureStatus, expired bool, err error) {
	queryCtx, cancelQuery := workflow.WithCancel(statusCtx)
	defer cancelQuery()
	timerCtx, cancelTimer := workflow.WithCancel(ctx)
	defer cancelTimer()

	query := workflow.ExecuteActivity(queryCtx, a.CheckSignatureStatus, CheckSignatureStatusInput{
		Signature: signature,
	})
	deadline := workflow.NewTimer(timerCtx, remaining)

	workflow.NewSelector(ctx).
		AddFuture(query, func(f workflow.Future) {
			err = f.Get(ctx, &status)
		}).
		AddFuture(deadline, func(f workflow.Future) {
			if err = f.Get(ctx, nil); err == nil {
				expired = true
			}
		}).
		Select(ctx)
	return status, expired, err
}

// RefreshSnapshotResult contains the result of a scheduled refresh.
type RefreshSnapshotResult struct {
	Machine        string                     `json:"machine"`
	ItemsRemaining uint64                     `json:"items_remaining"`
	IsSoldOut      bool                       `json:"is_sold_out"`
	Decision       *candymachine.DecisionKind `json:"decision,omitempty"`
	RefreshTime    time.Time                  `json:"refresh_time"`
	Error          *string                    `json:"error,omitempty"`
}

// RefreshSnapshotWorkflow re-reads the candy machine so that presentation
// state converges on the ledger after missed or out-of-order events. It is
// triggered by a Temporal schedule at REFRESH_INTERVAL.
func RefreshSnapshotWorkflow(ctx workflow.Context, input RefreshSnapshotInput) (*RefreshSnapshotResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Debug("RefreshSnapshotWorkflow started", "wallet", input.Wallet)

	result := &RefreshSnapshotResult{RefreshTime: workflow.Now(ctx)}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var view *minter.View
	if err := workflow.ExecuteActivity(ctx, a.RefreshSnapshot, input).Get(ctx, &view); err != nil {
		errMsg := fmt.Sprintf("failed to refresh snapshot: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to refresh snapshot: %w", err)
	}

	result.Machine = view.Snapshot.Address.String()
	result.ItemsRemaining = view.Snapshot.ItemsRemaining
	result.IsSoldOut = view.Snapshot.IsSoldOut
	kind := view.Decision.Kind
	result.Decision = &kind

	logger.Info("snapshot refreshed",
		"machine", result.Machine,
		"items_remaining", result.ItemsRemaining,
		"sold_out", result.IsSoldOut,
	)
	return result, nil
}

func failed(result *MintWorkflowResult, msg string, err error) (*MintWorkflowResult, error) {
	errMsg := fmt.Sprintf("%s: %v", msg, err)
	result.Error = &errMsg
	return result, fmt.Errorf("%s: %w", msg, err)
}
