package solana

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/brojonat/candymint/service/candymachine"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	accountData   []byte
	accountErrs   []error // returned by successive account reads before succeeding
	tokenAmount   string
	tokenErr      error
	lamports      uint64
	noBalance     bool
	blockhash     solana.Hash
	rent          uint64
	sendSig       solana.Signature
	sendErr       error
	statuses      []*rpc.SignatureStatusesResult
	statusErr     error
	accountCalls  int
	sentTxs       []*solana.Transaction
	statusQueries int
}

func (m *mockRPCClient) GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error) {
	m.accountCalls++
	if len(m.accountErrs) > 0 {
		err := m.accountErrs[0]
		m.accountErrs = m.accountErrs[1:]
		return nil, err
	}
	if m.accountData == nil {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{
		Value: &rpc.Account{Data: rpc.DataBytesOrJSONFromBytes(m.accountData)},
	}, nil
}

func (m *mockRPCClient) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error) {
	if m.tokenErr != nil {
		return nil, m.tokenErr
	}
	return &rpc.GetTokenAccountBalanceResult{Value: &rpc.UiTokenAmount{Amount: m.tokenAmount}}, nil
}

func (m *mockRPCClient) GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	if m.noBalance {
		return nil, nil
	}
	return &rpc.GetBalanceResult{Value: m.lamports}, nil
}

func (m *mockRPCClient) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{Value: &rpc.LatestBlockhashResult{Blockhash: m.blockhash}}, nil
}

func (m *mockRPCClient) GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64, commitment rpc.CommitmentType) (uint64, error) {
	return m.rent, nil
}

func (m *mockRPCClient) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	m.sentTxs = append(m.sentTxs, tx)
	if m.sendErr != nil {
		return solana.Signature{}, m.sendErr
	}
	return m.sendSig, nil
}

func (m *mockRPCClient) GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	m.statusQueries++
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	return &rpc.GetSignatureStatusesResult{Value: m.statuses}, nil
}

func newTestClient(mock *mockRPCClient) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(mock, "test", nil, logger).WithRetryBackoff(time.Millisecond)
}

func TestReadAccount_RetriesTransientErrors(t *testing.T) {
	mock := &mockRPCClient{
		accountData: []byte{1, 2, 3},
		accountErrs: []error{errors.New("connection reset"), errors.New("429 Too Many Requests")},
	}

	data, err := newTestClient(mock).ReadAccount(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
	assert.Equal(t, 3, mock.accountCalls)
}

func TestReadAccount_GivesUpAfterBoundedAttempts(t *testing.T) {
	mock := &mockRPCClient{
		accountErrs: []error{assert.AnError, assert.AnError, assert.AnError, assert.AnError},
	}

	_, err := newTestClient(mock).ReadAccount(context.Background(), solana.NewWallet().PublicKey())
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, defaultReadAttempts, mock.accountCalls)
}

func TestReadAccount_NotFound(t *testing.T) {
	mock := &mockRPCClient{}

	_, err := newTestClient(mock).ReadAccount(context.Background(), solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.Equal(t, 1, mock.accountCalls)
}

func TestFetchCandyMachine_Malformed(t *testing.T) {
	mock := &mockRPCClient{accountData: make([]byte, 40)}

	_, err := newTestClient(mock).FetchCandyMachine(context.Background(), solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, candymachine.ErrMalformedAccount)
}

func TestGetTokenBalance(t *testing.T) {
	client := newTestClient(&mockRPCClient{tokenAmount: "3"})

	balance, err := client.GetTokenBalance(context.Background(), solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), balance)

	client = newTestClient(&mockRPCClient{tokenErr: errors.New("could not find account")})
	_, err = client.GetTokenBalance(context.Background(), solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey())
	assert.Error(t, err)
}

func TestGetNativeBalance(t *testing.T) {
	client := newTestClient(&mockRPCClient{lamports: 2_500_000_000})

	balance, err := client.GetNativeBalance(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(2_500_000_000), balance)

	client = newTestClient(&mockRPCClient{noBalance: true})
	_, err = client.GetNativeBalance(context.Background(), solana.NewWallet().PublicKey())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty balance response")
}

func TestSubmit_PreflightFailureIsSubmissionError(t *testing.T) {
	mock := &mockRPCClient{
		sendErr: &jsonrpc.RPCError{
			Code:    -32002,
			Message: "Transaction simulation failed: Error processing Instruction 4: custom program error: 0x1778",
			Data: map[string]any{
				"err": map[string]any{"InstructionError": []any{float64(4), map[string]any{"Custom": float64(6008)}}},
			},
		},
	}

	_, err := newTestClient(mock).Submit(context.Background(), &solana.Transaction{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubmission)

	var se *SubmissionError
	require.ErrorAs(t, err, &se)
	require.NotNil(t, se.Code)
	assert.Equal(t, uint32(6008), *se.Code)
	assert.Equal(t, candymachine.MessageInsufficientFunds, se.UserMessage())
}

func TestSubmit_Success(t *testing.T) {
	sig := solana.MustSignatureFromBase58("5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7")
	mock := &mockRPCClient{sendSig: sig}

	got, err := newTestClient(mock).Submit(context.Background(), &solana.Transaction{})
	require.NoError(t, err)
	assert.Equal(t, sig, got)
	assert.Len(t, mock.sentTxs, 1)
}

func TestGetSignatureStatus(t *testing.T) {
	sig := solana.MustSignatureFromBase58("5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7")

	tests := []struct {
		name     string
		statuses []*rpc.SignatureStatusesResult
		wantKind StatusKind
		wantCode *uint32
	}{
		{name: "unknown signature", statuses: []*rpc.SignatureStatusesResult{nil}, wantKind: StatusPending},
		{name: "empty response", statuses: nil, wantKind: StatusPending},
		{
			name:     "processed",
			statuses: []*rpc.SignatureStatusesResult{{Slot: 10, ConfirmationStatus: rpc.ConfirmationStatusProcessed}},
			wantKind: StatusPending,
		},
		{
			name:     "confirmed",
			statuses: []*rpc.SignatureStatusesResult{{Slot: 10, ConfirmationStatus: rpc.ConfirmationStatusConfirmed}},
			wantKind: StatusSuccess,
		},
		{
			name:     "finalized",
			statuses: []*rpc.SignatureStatusesResult{{Slot: 10, ConfirmationStatus: rpc.ConfirmationStatusFinalized}},
			wantKind: StatusSuccess,
		},
		{
			name: "custom program error",
			statuses: []*rpc.SignatureStatusesResult{{
				Slot:               10,
				ConfirmationStatus: rpc.ConfirmationStatusProcessed,
				Err:                map[string]any{"InstructionError": []any{float64(4), map[string]any{"Custom": float64(0x137)}}},
			}},
			wantKind: StatusError,
			wantCode: u32p(0x137),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockRPCClient{statuses: tt.statuses}
			status, err := newTestClient(mock).GetSignatureStatus(context.Background(), sig)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, status.Kind)
			assert.Equal(t, tt.wantCode, status.Code)
			assert.Equal(t, 1, mock.statusQueries)
		})
	}
}

func TestGetSignatureStatus_ErrorIsNotRetried(t *testing.T) {
	mock := &mockRPCClient{statusErr: errors.New("timeout")}

	_, err := newTestClient(mock).GetSignatureStatus(context.Background(), solana.Signature{})
	assert.Error(t, err)
	assert.Equal(t, 1, mock.statusQueries)
}

func TestSelectRandomEndpoint(t *testing.T) {
	endpoints := ParseEndpoints(" https://api.devnet.solana.com, ,https://devnet.helius-rpc.com ")
	require.Equal(t, []string{"https://api.devnet.solana.com", "https://devnet.helius-rpc.com"}, endpoints)

	selected, err := SelectRandomEndpoint(endpoints)
	require.NoError(t, err)
	assert.Contains(t, endpoints, selected)

	_, err = SelectRandomEndpoint(nil)
	assert.ErrorContains(t, err, "no RPC endpoints configured")
}

func TestEndpointLabel(t *testing.T) {
	tests := map[string]string{
		"https://api.mainnet-beta.solana.com":         "mainnet",
		"https://api.devnet.solana.com":               "devnet",
		"https://mainnet.helius-rpc.com/?api-key=abc": "helius",
		"https://some-endpoint.quiknode.pro/secret/":  "quiknode",
		"https://rpc.example.org":                     "rpc.example.org",
		"not a url":                                   "unknown",
	}
	for in, want := range tests {
		assert.Equal(t, want, EndpointLabel(in), in)
	}
}

func TestDial(t *testing.T) {
	c, err := Dial("https://api.devnet.solana.com", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "devnet", c.endpoint)

	_, err = Dial(" , ", nil, nil)
	assert.Error(t, err)
}

func u32p(v uint32) *uint32 { return &v }
