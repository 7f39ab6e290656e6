package solana

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/brojonat/candymint/service/candymachine"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// StatusKind is the coarse state of a submitted transaction.
type StatusKind uint8

const (
	StatusPending StatusKind = iota
	StatusSuccess
	StatusError
)

func (k StatusKind) String() string {
	switch k {
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", uint8(k))
	}
}

// SignatureStatus is the ledger's view of a submitted signature.
type SignatureStatus struct {
	Kind StatusKind `json:"kind"`
	// Code is the custom program error code, when execution failed with one.
	Code   *uint32 `json:"code,omitempty"`
	Reason string  `json:"reason,omitempty"`
	Slot   uint64  `json:"slot,omitempty"`
}

// OnChainError returns the program error carried by an Error status.
func (s SignatureStatus) OnChainError() (candymachine.OnChainError, bool) {
	if s.Kind != StatusError || s.Code == nil {
		return candymachine.OnChainError{}, false
	}
	return candymachine.OnChainError{Code: *s.Code}, true
}

// statusFromRPC maps one entry of getSignatureStatuses. Only confirmed or
// finalized success counts; processed is still pending.
func statusFromRPC(r *rpc.SignatureStatusesResult) SignatureStatus {
	if r == nil {
		return SignatureStatus{Kind: StatusPending}
	}
	if r.Err != nil {
		code, reason := decodeTransactionError(r.Err)
		return SignatureStatus{Kind: StatusError, Code: code, Reason: reason, Slot: r.Slot}
	}
	switch r.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		return SignatureStatus{Kind: StatusSuccess, Slot: r.Slot}
	default:
		return SignatureStatus{Kind: StatusPending, Slot: r.Slot}
	}
}

// decodeTransactionError extracts the custom program error code from a
// TransactionError such as {"InstructionError":[2,{"Custom":6010}]}.
func decodeTransactionError(txErr any) (*uint32, string) {
	switch v := txErr.(type) {
	case string:
		return nil, v
	case map[string]any:
		ie, ok := v["InstructionError"].([]any)
		if !ok || len(ie) != 2 {
			break
		}
		switch detail := ie[1].(type) {
		case map[string]any:
			if code, ok := toUint32(detail["Custom"]); ok {
				return &code, fmt.Sprintf("instruction %v: custom program error 0x%x", ie[0], code)
			}
		case string:
			return nil, fmt.Sprintf("instruction %v: %s", ie[0], detail)
		}
	}
	b, err := json.Marshal(txErr)
	if err != nil {
		return nil, fmt.Sprintf("%v", txErr)
	}
	return nil, string(b)
}

func toUint32(v any) (uint32, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 || n > float64(^uint32(0)) {
			return 0, false
		}
		return uint32(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil || i < 0 || i > int64(^uint32(0)) {
			return 0, false
		}
		return uint32(i), true
	case int:
		return uint32(n), n >= 0
	case int64:
		return uint32(n), n >= 0
	case uint32:
		return n, true
	case uint64:
		return uint32(n), n <= uint64(^uint32(0))
	default:
		return 0, false
	}
}

// ErrSubmission marks transactions the ledger rejected before acceptance.
var ErrSubmission = errors.New("transaction rejected before acceptance")

// SubmissionError is a synchronous rejection of a transaction, for example a
// failed preflight simulation or a wallet refusing to sign.
type SubmissionError struct {
	// Code is the custom program error reported by preflight, if any.
	Code   *uint32
	Reason string
	// Message overrides the decoded user message.
	Message string
	Err     error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrSubmission, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrSubmission, e.Reason)
}

func (e *SubmissionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSubmission}
	}
	return []error{ErrSubmission, e.Err}
}

// UserMessage decodes a preflight program error, falling back to the generic
// mint failure message.
func (e *SubmissionError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != nil {
		oc := candymachine.OnChainError{Code: *e.Code}
		if oc.Cause() != candymachine.CauseUnknown {
			return oc.UserMessage()
		}
	}
	if strings.Contains(strings.ToLower(e.Reason), "insufficient") {
		return candymachine.MessageInsufficientFunds
	}
	return candymachine.MessageMintFailed
}

// submissionErrorFrom wraps an RPC send error, pulling the program error
// out of a preflight failure when present.
func submissionErrorFrom(err error) *SubmissionError {
	se := &SubmissionError{Reason: "send transaction failed", Err: err}
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		se.Reason = rpcErr.Message
		if data, ok := rpcErr.Data.(map[string]any); ok && data["err"] != nil {
			se.Code, _ = decodeTransactionError(data["err"])
		}
	}
	return se
}
