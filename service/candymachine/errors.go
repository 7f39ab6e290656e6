package candymachine

import "fmt"

// User-facing messages shown for mint outcomes.
const (
	MessageSuccess            = "Congratulations! Mint succeeded!"
	MessageMintFailed         = "Mint failed! Please try again!"
	MessageRetry              = "Minting failed! Please try again!"
	MessageTimeout            = "Transaction Timeout! Please try again."
	MessageSoldOut            = "SOLD OUT!"
	MessageNotLive            = "Minting period hasn't started yet."
	MessageInsufficientFunds  = "Insufficient funds to mint. Please fund your wallet."
	MessageNoWhitelistToken   = "No whitelist token found. Please try again with a whitelisted wallet."
	MessageSaleEnded          = "The sale has ended."
	MessageGatewayUnavailable = "This sale requires a gateway token. Please mint from the web page."
)

// Cause is the decoded meaning of an on-chain program error.
type Cause string

const (
	CauseUnknown           Cause = "unknown"
	CauseSoldOut           Cause = "sold_out"
	CauseNotLive           Cause = "not_live"
	CauseInsufficientFunds Cause = "insufficient_funds"
	CauseNoWhitelistToken  Cause = "no_whitelist_token"
	CauseGatewayRequired   Cause = "gateway_required"
)

// Candy machine program error codes. The v2 program numbers its errors from
// the Anchor offset 6000; the legacy program used 300 + n.
const (
	CodeLegacyNotEnoughSOL    uint32 = 0x135
	CodeLegacyCandyMachineOut uint32 = 0x137
	CodeLegacyNotLive         uint32 = 0x138

	CodeNotEnoughTokens     uint32 = 6007
	CodeNotEnoughSOL        uint32 = 6008
	CodeCandyMachineEmpty   uint32 = 6010
	CodeCandyMachineNotLive uint32 = 6011
	CodeNoWhitelistToken    uint32 = 6016
	CodeGatewayAppMissing   uint32 = 6018
)

var causes = map[uint32]Cause{
	CodeLegacyNotEnoughSOL:    CauseInsufficientFunds,
	CodeLegacyCandyMachineOut: CauseSoldOut,
	CodeLegacyNotLive:         CauseNotLive,
	CodeNotEnoughTokens:       CauseInsufficientFunds,
	CodeNotEnoughSOL:          CauseInsufficientFunds,
	CodeCandyMachineEmpty:     CauseSoldOut,
	CodeCandyMachineNotLive:   CauseNotLive,
	CodeNoWhitelistToken:      CauseNoWhitelistToken,
	CodeGatewayAppMissing:     CauseGatewayRequired,
}

var causeMessages = map[Cause]string{
	CauseSoldOut:           MessageSoldOut,
	CauseNotLive:           MessageNotLive,
	CauseInsufficientFunds: MessageInsufficientFunds,
	CauseNoWhitelistToken:  MessageNoWhitelistToken,
	CauseGatewayRequired:   MessageGatewayUnavailable,
}

// OnChainError is a program error returned by an accepted transaction.
type OnChainError struct {
	Code uint32
}

func (e OnChainError) Error() string {
	return fmt.Sprintf("candy machine program error 0x%x (%d): %s", e.Code, e.Code, e.Cause())
}

// Cause decodes the error code.
func (e OnChainError) Cause() Cause {
	if c, ok := causes[e.Code]; ok {
		return c
	}
	return CauseUnknown
}

// UserMessage returns the short message shown for the error. Unknown codes
// map to a generic retry message.
func (e OnChainError) UserMessage() string {
	return MessageForCause(e.Cause())
}

// MessageForCause returns the user message of a decoded cause.
func MessageForCause(c Cause) string {
	if msg, ok := causeMessages[c]; ok {
		return msg
	}
	return MessageRetry
}
