package minter

import (
	"errors"
	"fmt"

	"github.com/brojonat/candymint/service/candymachine"
	solanasvc "github.com/brojonat/candymint/service/solana"
	"github.com/brojonat/candymint/service/tracker"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// OutcomeKind is the caller-visible result of a mint attempt.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeFailure OutcomeKind = "failure"
	OutcomeTimeout OutcomeKind = "timeout"
)

// NativeFeeEstimate approximates the network and rent fees of one mint, in
// whole native coin.
var NativeFeeEstimate = decimal.RequireFromString("0.012")

// Outcome is what a mint attempt resolved to.
type Outcome struct {
	Kind    OutcomeKind        `json:"kind"`
	Message string             `json:"message"`
	Cause   candymachine.Cause `json:"cause,omitempty"`
	Code    *uint32            `json:"code,omitempty"`

	Signature   string `json:"signature,omitempty"`
	MintAddress string `json:"mint_address,omitempty"`
	ExplorerURL string `json:"explorer_url,omitempty"`

	// NewItemCount is the redeemed count after a successful mint.
	NewItemCount uint64 `json:"new_item_count,omitempty"`
	// Snapshot is the optimistically updated snapshot after a success.
	Snapshot *candymachine.MintSnapshot `json:"snapshot,omitempty"`
	// Decision re-evaluates the caller against Snapshot.
	Decision         *candymachine.Decision `json:"decision,omitempty"`
	WhitelistBalance *uint64                `json:"whitelist_balance,omitempty"`
	// NativeSpend estimates the native coin spent, fees included.
	NativeSpend *decimal.Decimal `json:"native_spend,omitempty"`

	Attempt *tracker.Attempt `json:"attempt,omitempty"`
}

// Failure builds a failure outcome.
func Failure(message string, cause candymachine.Cause) Outcome {
	if cause == "" {
		cause = candymachine.CauseUnknown
	}
	return Outcome{Kind: OutcomeFailure, Message: message, Cause: cause}
}

// Timeout builds a timeout outcome.
func Timeout() Outcome {
	return Outcome{Kind: OutcomeTimeout, Message: candymachine.MessageTimeout}
}

// ResolveParams is the context an attempt was made in.
type ResolveParams struct {
	Network     string
	Snapshot    candymachine.MintSnapshot
	Caller      candymachine.CallerContext
	Decision    candymachine.Decision
	MintAddress solana.PublicKey
}

// ResolveOutcome maps a terminal attempt to an outcome. A confirmed attempt
// applies the optimistic local update: one item less, one whitelist token
// less when tokens burn, and eligibility re-evaluated at resolution time.
// Non-terminal attempts resolve to a timeout.
func ResolveOutcome(a tracker.Attempt, p ResolveParams) Outcome {
	var out Outcome
	switch a.State {
	case tracker.StateConfirmed:
		out = success(a, p)
	case tracker.StateFailed:
		if a.Code != nil {
			oc := candymachine.OnChainError{Code: *a.Code}
			out = Failure(oc.UserMessage(), oc.Cause())
			out.Code = a.Code
		} else {
			out = Failure(candymachine.MessageMintFailed, candymachine.CauseUnknown)
		}
	default:
		out = Timeout()
	}
	out.Signature = a.Signature.String()
	if !p.MintAddress.IsZero() {
		out.MintAddress = p.MintAddress.String()
	}
	out.Attempt = &a
	return out
}

func success(a tracker.Attempt, p ResolveParams) Outcome {
	updated := p.Snapshot.WithMinted()
	out := Outcome{
		Kind:         OutcomeSuccess,
		Message:      candymachine.MessageSuccess,
		NewItemCount: updated.ItemsRedeemed,
		Snapshot:     &updated,
	}
	if !p.MintAddress.IsZero() {
		out.ExplorerURL = ExplorerURL(p.Network, p.MintAddress)
	}

	caller := p.Caller
	if wl := p.Snapshot.Whitelist; wl != nil && wl.Mode == candymachine.BurnOnUse && caller.WhitelistTokenBalance > 0 {
		caller.WhitelistTokenBalance--
		balance := caller.WhitelistTokenBalance
		out.WhitelistBalance = &balance
	}
	if !a.ResolvedAt.IsZero() {
		caller.Now = a.ResolvedAt
	}
	d := candymachine.Evaluate(updated, caller)
	out.Decision = &d

	if p.Snapshot.PriceUnit == candymachine.NativeCoin {
		if price, ok := p.Decision.EffectivePrice(); ok {
			spend := price.Add(NativeFeeEstimate)
			out.NativeSpend = &spend
		}
	}
	return out
}

// SubmissionFailure maps an error raised before the transaction entered the
// network to a failure outcome.
func SubmissionFailure(err error) Outcome {
	var se *solanasvc.SubmissionError
	if errors.As(err, &se) {
		out := Failure(se.UserMessage(), candymachine.CauseUnknown)
		if se.Code != nil {
			out.Cause = candymachine.OnChainError{Code: *se.Code}.Cause()
			out.Code = se.Code
		}
		return out
	}
	return Failure(candymachine.MessageMintFailed, candymachine.CauseUnknown)
}

// ExplorerURL links to the minted token on the block explorer.
func ExplorerURL(network string, mint solana.PublicKey) string {
	url := "https://solscan.io/token/" + mint.String()
	if network == "devnet" || network == "testnet" {
		url += "?cluster=" + network
	}
	return url
}

// ErrPolicyViolation is returned when a mint is attempted while the
// eligibility policy does not permit it.
var ErrPolicyViolation = errors.New("mint not permitted")

// PolicyViolationError carries the decision that refused the mint.
type PolicyViolationError struct {
	Decision candymachine.Decision
	Reason   string
}

func (e *PolicyViolationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", ErrPolicyViolation, e.Reason)
	}
	return fmt.Sprintf("%s: %s", ErrPolicyViolation, e.Decision)
}

func (e *PolicyViolationError) Unwrap() error {
	return ErrPolicyViolation
}

// UserMessage describes the refusal to the caller.
func (e *PolicyViolationError) UserMessage() string {
	switch e.Decision.Kind {
	case candymachine.DecisionSoldOut:
		if e.Decision.Reason == candymachine.SoldOutEnded {
			return candymachine.MessageSaleEnded
		}
		return candymachine.MessageSoldOut
	case candymachine.DecisionPending:
		return candymachine.MessageNotLive
	case candymachine.DecisionPrivateSaleBlocked:
		return candymachine.MessageNoWhitelistToken
	}
	return candymachine.MessageMintFailed
}
