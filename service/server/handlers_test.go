package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/candymint/service/candymachine"
	"github.com/brojonat/candymint/service/config"
	"github.com/brojonat/candymint/service/db"
	"github.com/brojonat/candymint/service/minter"
	"github.com/brojonat/candymint/service/temporal"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	testMachine   = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	testWallet    = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	testSignature = "5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7"
)

type fakeViews struct {
	snapshot candymachine.MintSnapshot
	err      error
	wallets  []*solana.PublicKey
}

func (f *fakeViews) Snapshot(ctx context.Context) (candymachine.MintSnapshot, error) {
	return f.snapshot, f.err
}

func (f *fakeViews) Evaluate(ctx context.Context, s candymachine.MintSnapshot, wallet *solana.PublicKey) *minter.View {
	f.wallets = append(f.wallets, wallet)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	view := &minter.View{
		Snapshot:    s,
		Decision:    candymachine.Evaluate(s, candymachine.CallerContext{Wallet: wallet, Now: now}),
		EvaluatedAt: now,
	}
	if wallet != nil {
		view.Wallet = wallet.String()
	}
	return view
}

type fakeAttempts struct {
	rows   []*db.MintAttempt
	err    error
	params db.ListMintAttemptsByWalletParams
}

func (f *fakeAttempts) GetMintAttempt(ctx context.Context, signature, network string) (*db.MintAttempt, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, row := range f.rows {
		if row.Signature == signature && row.Network == network {
			return row, nil
		}
	}
	return nil, fmt.Errorf("mint attempt %s: %w", signature, db.ErrNotFound)
}

func (f *fakeAttempts) ListMintAttemptsByWallet(ctx context.Context, params db.ListMintAttemptsByWalletParams) ([]*db.MintAttempt, error) {
	f.params = params
	return f.rows, f.err
}

type MockMintService struct {
	mock.Mock
}

func (m *MockMintService) StartMint(ctx context.Context, machine string, input temporal.MintWorkflowInput) (string, error) {
	args := m.Called(ctx, machine, input)
	return args.String(0), args.Error(1)
}

func (m *MockMintService) MintStatus(ctx context.Context, workflowID string) (*temporal.MintStatus, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*temporal.MintStatus), args.Error(1)
}

func testConfig() *config.Config {
	return &config.Config{
		SolanaNetwork:       "devnet",
		CandyMachineID:      testMachine,
		TxTimeout:           30 * time.Second,
		ConfirmPollInterval: 500 * time.Millisecond,
		StatusQueryAttempts: 3,
	}
}

func testSnapshot(t *testing.T, available, redeemed uint64) candymachine.MintSnapshot {
	t.Helper()
	live := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	s, err := candymachine.DeriveSnapshot(candymachine.Record{
		Address:        testMachine,
		Treasury:       testWallet,
		ItemsAvailable: available,
		ItemsRedeemed:  redeemed,
		ItemsRemaining: available - redeemed,
		IsSoldOut:      available == redeemed,
		Price:          1_500_000_000,
		GoLiveDate:     &live,
	}, candymachine.DefaultSnapshotConfig())
	require.NoError(t, err)
	return s
}

func testAttempt() *db.MintAttempt {
	mint := "So11111111111111111111111111111111111111112"
	resolved := time.Date(2024, 1, 1, 0, 0, 2, 0, time.UTC)
	return &db.MintAttempt{
		Signature:      testSignature,
		Network:        "devnet",
		MachineAddress: testMachine.String(),
		WalletAddress:  testWallet.String(),
		MintAddress:    &mint,
		Outcome:        "success",
		State:          "confirmed",
		Message:        candymachine.MessageSuccess,
		Price:          decimal.RequireFromString("1.5"),
		PriceUnit:      "SOL",
		Polls:          3,
		SubmittedAt:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ResolvedAt:     &resolved,
	}
}

func newTestServer(views ViewReader, attempts AttemptReader, mints MintService) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(":0", testConfig(), views, attempts, mints, nil, nil, logger).Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func TestGetSnapshot(t *testing.T) {
	views := &fakeViews{snapshot: testSnapshot(t, 100, 10)}
	h := newTestServer(views, nil, nil)

	w, resp := do(t, h, "GET", "/api/v1/snapshot", "")
	require.Equal(t, http.StatusOK, w.Code)

	snapshot := resp["snapshot"].(map[string]interface{})
	assert.Equal(t, float64(90), snapshot["items_remaining"])
	assert.Equal(t, "1.5", snapshot["price"])
	decision := resp["decision"].(map[string]interface{})
	assert.Equal(t, "eligible", decision["kind"])
	require.Len(t, views.wallets, 1)
	assert.Nil(t, views.wallets[0])
}

func TestGetSnapshot_ReadFailure(t *testing.T) {
	h := newTestServer(&fakeViews{err: errors.New("rpc unavailable")}, nil, nil)

	w, resp := do(t, h, "GET", "/api/v1/snapshot", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "failed to read candy machine", resp["error"])
}

func TestGetEligibility(t *testing.T) {
	t.Run("sold out", func(t *testing.T) {
		views := &fakeViews{snapshot: testSnapshot(t, 10, 10)}
		h := newTestServer(views, nil, nil)

		w, resp := do(t, h, "GET", "/api/v1/eligibility/"+testWallet.String(), "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, testWallet.String(), resp["wallet"])
		decision := resp["decision"].(map[string]interface{})
		assert.Equal(t, "sold_out", decision["kind"])
		require.Len(t, views.wallets, 1)
		assert.Equal(t, testWallet, *views.wallets[0])
	})

	tests := []struct {
		name    string
		wallet  string
		wantErr string
	}{
		{name: "address too long", wallet: strings.Repeat("A", 500), wantErr: "address too long"},
		{name: "non base58", wallet: "wallet0OIl", wantErr: "invalid address format"},
		{name: "sql injection", wallet: "abc%27%3B%20DROP%20TABLE", wantErr: "invalid"},
		{name: "not a key", wallet: "abc", wantErr: "invalid wallet address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			views := &fakeViews{snapshot: testSnapshot(t, 10, 1)}
			h := newTestServer(views, nil, nil)

			w, resp := do(t, h, "GET", "/api/v1/eligibility/"+tt.wallet, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, resp["error"], tt.wantErr)
			assert.Empty(t, views.wallets)
		})
	}
}

func TestListAttempts(t *testing.T) {
	attempts := &fakeAttempts{rows: []*db.MintAttempt{testAttempt()}}
	h := newTestServer(&fakeViews{}, attempts, nil)

	w, resp := do(t, h, "GET", "/api/v1/attempts?wallet="+testWallet.String()+"&limit=10&offset=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), resp["count"])
	assert.Equal(t, db.ListMintAttemptsByWalletParams{
		WalletAddress: testWallet.String(),
		Network:       "devnet",
		Limit:         10,
		Offset:        5,
	}, attempts.params)

	rows := resp["attempts"].([]interface{})
	row := rows[0].(map[string]interface{})
	assert.Equal(t, testSignature, row["signature"])
	assert.Equal(t, "success", row["outcome"])
	assert.Equal(t, "1.5", row["price"])
	assert.Equal(t, float64(3), row["polls"])
}

func TestListAttempts_BadRequests(t *testing.T) {
	h := newTestServer(&fakeViews{}, &fakeAttempts{}, nil)
	wallet := testWallet.String()

	tests := []struct {
		name    string
		query   string
		wantErr string
	}{
		{name: "missing wallet", query: "", wantErr: "wallet query parameter is required"},
		{name: "bad limit", query: "?wallet=" + wallet + "&limit=ten", wantErr: "invalid limit"},
		{name: "zero limit", query: "?wallet=" + wallet + "&limit=0", wantErr: "at least 1"},
		{name: "huge limit", query: "?wallet=" + wallet + "&limit=100000", wantErr: "cannot exceed"},
		{name: "negative offset", query: "?wallet=" + wallet + "&offset=-1", wantErr: "cannot be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := do(t, h, "GET", "/api/v1/attempts"+tt.query, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, resp["error"], tt.wantErr)
		})
	}
}

func TestAttempts_PersistenceDisabled(t *testing.T) {
	h := newTestServer(&fakeViews{}, nil, nil)

	w, _ := do(t, h, "GET", "/api/v1/attempts?wallet="+testWallet.String(), "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w, _ = do(t, h, "GET", "/api/v1/attempts/"+testSignature, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetAttempt(t *testing.T) {
	h := newTestServer(&fakeViews{}, &fakeAttempts{rows: []*db.MintAttempt{testAttempt()}}, nil)

	w, resp := do(t, h, "GET", "/api/v1/attempts/"+testSignature, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, testWallet.String(), resp["wallet"])
	assert.Equal(t, "confirmed", resp["state"])

	missing := solana.Signature{1, 2, 3}.String()
	w, _ = do(t, h, "GET", "/api/v1/attempts/"+missing, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, resp = do(t, h, "GET", "/api/v1/attempts/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, resp["error"], "invalid signature")
}

func TestGetAttempt_StoreFailure(t *testing.T) {
	h := newTestServer(&fakeViews{}, &fakeAttempts{err: errors.New("connection refused")}, nil)

	w, resp := do(t, h, "GET", "/api/v1/attempts/"+testSignature, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", resp["error"])
}

func TestStartMint(t *testing.T) {
	mints := &MockMintService{}
	want := temporal.MintWorkflowInput{
		Wallet:        testWallet.String(),
		PollInterval:  500 * time.Millisecond,
		Timeout:       30 * time.Second,
		QueryAttempts: 3,
	}
	id := "mint-" + testMachine.String() + "-" + testWallet.String()
	mints.On("StartMint", mock.Anything, testMachine.String(), want).Return(id, nil).Once()
	h := newTestServer(&fakeViews{}, nil, mints)

	w, resp := do(t, h, "POST", "/api/v1/mints", `{"wallet":"`+testWallet.String()+`"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, id, resp["workflow_id"])
	assert.Equal(t, "/api/v1/mints/"+id, resp["status_url"])

	mints.On("StartMint", mock.Anything, testMachine.String(), want).Return("", temporal.ErrMintInFlight).Once()
	w, _ = do(t, h, "POST", "/api/v1/mints", `{"wallet":"`+testWallet.String()+`"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	mints.AssertExpectations(t)
}

func TestStartMint_BadRequests(t *testing.T) {
	mints := &MockMintService{}
	h := newTestServer(&fakeViews{}, nil, mints)

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "malformed JSON", body: `{"wallet":`, wantErr: "invalid request body"},
		{name: "too large", body: `{"wallet":"` + strings.Repeat("A", 4096) + `"}`, wantErr: "invalid request body"},
		{name: "empty wallet", body: `{}`, wantErr: "address is required"},
		{name: "null byte", body: `{"wallet":"wallet\u0000123"}`, wantErr: "invalid characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := do(t, h, "POST", "/api/v1/mints", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, resp["error"], tt.wantErr)
		})
	}
	mints.AssertNotCalled(t, "StartMint", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetMint(t *testing.T) {
	mints := &MockMintService{}
	id := "mint-" + testMachine.String() + "-" + testWallet.String()
	outcome := minter.Timeout()
	mints.On("MintStatus", mock.Anything, id).Return(&temporal.MintStatus{
		WorkflowID: id,
		Status:     "completed",
		Result: &temporal.MintWorkflowResult{
			Wallet:    testWallet.String(),
			Signature: testSignature,
			Outcome:   &outcome,
		},
	}, nil)
	mints.On("MintStatus", mock.Anything, "mint-unknown").Return(nil, temporal.ErrMintNotFound)
	h := newTestServer(&fakeViews{}, nil, mints)

	w, resp := do(t, h, "GET", "/api/v1/mints/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", resp["status"])
	result := resp["result"].(map[string]interface{})
	assert.Equal(t, "timeout", result["outcome"].(map[string]interface{})["kind"])

	w, _ = do(t, h, "GET", "/api/v1/mints/mint-unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, h, "GET", "/api/v1/mints/refresh-snapshot-x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMintRoutesDisabledWithoutTemporal(t *testing.T) {
	h := newTestServer(&fakeViews{}, nil, nil)

	w, _ := do(t, h, "POST", "/api/v1/mints", `{"wallet":"`+testWallet.String()+`"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndCORS(t *testing.T) {
	h := newTestServer(&fakeViews{}, nil, nil)

	w, _ := do(t, h, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w, _ = do(t, h, "OPTIONS", "/api/v1/mints", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}
