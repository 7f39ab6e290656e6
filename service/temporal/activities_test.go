package temporal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/brojonat/candymint/service/candymachine"
	"github.com/brojonat/candymint/service/minter"
	solanasvc "github.com/brojonat/candymint/service/solana"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	enumspb "go.temporal.io/api/enums/v1"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// Mock Refresher
type MockRefresher struct {
	mock.Mock
}

func (m *MockRefresher) Snapshot(ctx context.Context) (candymachine.MintSnapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(candymachine.MintSnapshot), args.Error(1)
}

func (m *MockRefresher) Evaluate(ctx context.Context, s candymachine.MintSnapshot, wallet *solana.PublicKey) *minter.View {
	args := m.Called(ctx, s, wallet)
	return args.Get(0).(*minter.View)
}

func (m *MockRefresher) Refresh(ctx context.Context, wallet *solana.PublicKey) (*minter.View, error) {
	args := m.Called(ctx, wallet)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*minter.View), args.Error(1)
}

// Mock Orchestrator
type MockOrchestrator struct {
	mock.Mock
}

func (m *MockOrchestrator) Submit(ctx context.Context, caller candymachine.CallerContext, snapshot candymachine.MintSnapshot) (*minter.Submission, error) {
	args := m.Called(ctx, caller, snapshot)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*minter.Submission), args.Error(1)
}

func (m *MockOrchestrator) Report(ctx context.Context, sub *minter.Submission, outcome minter.Outcome) {
	m.Called(ctx, sub, outcome)
}

// Mock Ledger
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) GetSignatureStatus(ctx context.Context, sig solana.Signature) (solanasvc.SignatureStatus, error) {
	args := m.Called(ctx, sig)
	return args.Get(0).(solanasvc.SignatureStatus), args.Error(1)
}

func newTestActivities() (*Activities, *MockRefresher, *MockOrchestrator, *MockLedger) {
	refresher := &MockRefresher{}
	orchestrator := &MockOrchestrator{}
	ledger := &MockLedger{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewActivities(refresher, orchestrator, ledger, nil, logger), refresher, orchestrator, ledger
}

func assertApplicationErrorType(t *testing.T, err error, want string) {
	t.Helper()
	var appErr *temporalsdk.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, want, appErr.Type())
	assert.True(t, appErr.NonRetryable())
}

func TestPrepareMint(t *testing.T) {
	acts, refresher, _, _ := newTestActivities()
	s := testSnapshot(t, 100, 10)
	view := testView(t, 100, 10)

	refresher.On("Snapshot", mock.Anything).Return(s, nil)
	refresher.On("Evaluate", mock.Anything, s, &testWallet).Return(view)

	got, err := acts.PrepareMint(context.Background(), PrepareMintInput{Wallet: testWallet.String()})
	require.NoError(t, err)
	assert.Same(t, view, got)
	refresher.AssertExpectations(t)
}

func TestPrepareMint_Errors(t *testing.T) {
	t.Run("invalid wallet", func(t *testing.T) {
		acts, refresher, _, _ := newTestActivities()
		_, err := acts.PrepareMint(context.Background(), PrepareMintInput{Wallet: "not-a-key"})
		assertApplicationErrorType(t, err, "InvalidWallet")
		refresher.AssertNotCalled(t, "Snapshot", mock.Anything)
	})

	t.Run("malformed account is not retried", func(t *testing.T) {
		acts, refresher, _, _ := newTestActivities()
		refresher.On("Snapshot", mock.Anything).Return(candymachine.MintSnapshot{},
			errors.Join(errors.New("failed to derive snapshot"), candymachine.ErrMalformedAccount))

		_, err := acts.PrepareMint(context.Background(), PrepareMintInput{})
		assertApplicationErrorType(t, err, "MalformedAccount")
	})

	t.Run("rpc failure is retried", func(t *testing.T) {
		acts, refresher, _, _ := newTestActivities()
		boom := errors.New("connection reset")
		refresher.On("Snapshot", mock.Anything).Return(candymachine.MintSnapshot{}, boom)

		_, err := acts.PrepareMint(context.Background(), PrepareMintInput{})
		assert.ErrorIs(t, err, boom)
	})
}

func TestSubmitMint(t *testing.T) {
	view := testView(t, 100, 10)
	sub := testSubmission(view)
	input := SubmitMintInput{Snapshot: view.Snapshot, Caller: view.Caller()}

	t.Run("submitted", func(t *testing.T) {
		acts, _, orchestrator, _ := newTestActivities()
		orchestrator.On("Submit", mock.Anything, input.Caller, input.Snapshot).Return(sub, nil)

		got, err := acts.SubmitMint(context.Background(), input)
		require.NoError(t, err)
		assert.Equal(t, sub.Signature, got.Signature)
	})

	t.Run("policy violation", func(t *testing.T) {
		acts, _, orchestrator, _ := newTestActivities()
		orchestrator.On("Submit", mock.Anything, mock.Anything, mock.Anything).Return(nil,
			&minter.PolicyViolationError{Decision: candymachine.PrivateSaleBlocked()})

		_, err := acts.SubmitMint(context.Background(), input)
		assertApplicationErrorType(t, err, PolicyViolationErrorType)
		var appErr *temporalsdk.ApplicationError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, candymachine.MessageNoWhitelistToken, appErr.Message())
	})
}

func TestCheckSignatureStatus(t *testing.T) {
	acts, _, _, ledger := newTestActivities()
	sig := solana.MustSignatureFromBase58(testSignature)
	code := candymachine.CodeNotEnoughSOL
	want := solanasvc.SignatureStatus{Kind: solanasvc.StatusError, Code: &code}

	ledger.On("GetSignatureStatus", mock.Anything, sig).Return(want, nil).Once()
	got, err := acts.CheckSignatureStatus(context.Background(), CheckSignatureStatusInput{Signature: testSignature})
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	boom := errors.New("rate limited")
	ledger.On("GetSignatureStatus", mock.Anything, sig).Return(solanasvc.SignatureStatus{}, boom).Once()
	_, err = acts.CheckSignatureStatus(context.Background(), CheckSignatureStatusInput{Signature: testSignature})
	assert.ErrorIs(t, err, boom)

	_, err = acts.CheckSignatureStatus(context.Background(), CheckSignatureStatusInput{Signature: "bogus"})
	assertApplicationErrorType(t, err, "InvalidSignature")
	ledger.AssertExpectations(t)
}

func TestRecordOutcome(t *testing.T) {
	acts, _, orchestrator, _ := newTestActivities()
	sub := testSubmission(testView(t, 100, 10))
	outcome := minter.Timeout()

	orchestrator.On("Report", mock.Anything, mock.MatchedBy(func(s *minter.Submission) bool {
		return s.Signature == sub.Signature
	}), outcome).Return()

	err := acts.RecordOutcome(context.Background(), RecordOutcomeInput{Submission: *sub, Outcome: outcome})
	require.NoError(t, err)
	orchestrator.AssertExpectations(t)
}

func TestRefreshSnapshot(t *testing.T) {
	acts, refresher, _, _ := newTestActivities()
	view := testView(t, 100, 10)

	refresher.On("Refresh", mock.Anything, (*solana.PublicKey)(nil)).Return(view, nil)
	got, err := acts.RefreshSnapshot(context.Background(), RefreshSnapshotInput{})
	require.NoError(t, err)
	assert.Equal(t, uint64(90), got.Snapshot.ItemsRemaining)

	refresher.On("Refresh", mock.Anything, &testWallet).Return(nil, candymachine.ErrMalformedAccount)
	_, err = acts.RefreshSnapshot(context.Background(), RefreshSnapshotInput{Wallet: testWallet.String()})
	assertApplicationErrorType(t, err, "MalformedAccount")
}

func TestMockScheduler(t *testing.T) {
	ctx := context.Background()
	s := NewMockScheduler()
	machine := testMachine.String()

	require.NoError(t, s.UpsertRefreshSchedule(ctx, machine, 30*time.Second))
	require.NoError(t, s.UpsertRefreshSchedule(ctx, machine, time.Minute))
	interval, ok := s.GetScheduleInterval(machine)
	require.True(t, ok)
	assert.Equal(t, time.Minute, interval)
	assert.Equal(t, 1, s.ScheduleCount())

	require.NoError(t, s.DeleteRefreshSchedule(ctx, machine))
	assert.Error(t, s.DeleteRefreshSchedule(ctx, machine))

	s.SetUpsertError(errors.New("temporal unavailable"))
	assert.Error(t, s.UpsertRefreshSchedule(ctx, machine, time.Minute))
	s.Reset()
	assert.NoError(t, s.UpsertRefreshSchedule(ctx, machine, time.Minute))
}

func TestIDs(t *testing.T) {
	assert.Equal(t, "refresh-snapshot-M", ScheduleID("M"))
	assert.Equal(t, "mint-M-W", MintWorkflowID("M", "W"))
}

func TestExecutionStatus(t *testing.T) {
	assert.Equal(t, "running", executionStatus(enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING))
	assert.Equal(t, "completed", executionStatus(enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED))
	assert.Equal(t, "timed_out", executionStatus(enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT))
	assert.Equal(t, "unknown", executionStatus(enumspb.WorkflowExecutionStatus(99)))
}
