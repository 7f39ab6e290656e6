package solana

import (
	"encoding/json"
	"testing"

	"github.com/brojonat/candymint/service/candymachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTransactionError(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantCode   *uint32
		wantReason string
	}{
		{
			name:     "custom program error",
			raw:      `{"InstructionError":[4,{"Custom":6010}]}`,
			wantCode: u32p(6010),
		},
		{
			name:       "builtin instruction error",
			raw:        `{"InstructionError":[0,"InvalidAccountData"]}`,
			wantReason: "instruction 0: InvalidAccountData",
		},
		{
			name:       "transaction level error",
			raw:        `"AccountInUse"`,
			wantReason: "AccountInUse",
		},
		{
			name:       "unrecognized shape",
			raw:        `{"InsufficientFundsForRent":{"account_index":2}}`,
			wantReason: `{"InsufficientFundsForRent":{"account_index":2}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v any
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &v))

			code, reason := decodeTransactionError(v)
			assert.Equal(t, tt.wantCode, code)
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, reason)
			}
		})
	}
}

func TestDecodeTransactionError_JSONNumber(t *testing.T) {
	v := map[string]any{"InstructionError": []any{json.Number("3"), map[string]any{"Custom": json.Number("311")}}}
	code, _ := decodeTransactionError(v)
	require.NotNil(t, code)
	assert.Equal(t, uint32(311), *code)
}

func TestSignatureStatus_OnChainError(t *testing.T) {
	status := SignatureStatus{Kind: StatusError, Code: u32p(candymachine.CodeLegacyCandyMachineOut)}
	oc, ok := status.OnChainError()
	require.True(t, ok)
	assert.Equal(t, "SOLD OUT!", oc.UserMessage())

	_, ok = SignatureStatus{Kind: StatusSuccess}.OnChainError()
	assert.False(t, ok)
}

func TestSubmissionError_UserMessage(t *testing.T) {
	assert.Equal(t, candymachine.MessageMintFailed, (&SubmissionError{Reason: "blockhash not found"}).UserMessage())
	assert.Equal(t, candymachine.MessageInsufficientFunds, (&SubmissionError{Reason: "Attempt to debit an account but found no record of a prior credit: insufficient lamports"}).UserMessage())
	assert.Equal(t, candymachine.MessageSoldOut, (&SubmissionError{Code: u32p(candymachine.CodeCandyMachineEmpty)}).UserMessage())
	assert.Equal(t, "custom", (&SubmissionError{Message: "custom", Code: u32p(6010)}).UserMessage())
}
