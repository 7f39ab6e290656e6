package candymachine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOnChainError_UserMessage(t *testing.T) {
	tests := []struct {
		code      uint32
		wantCause Cause
		wantMsg   string
	}{
		{code: CodeLegacyCandyMachineOut, wantCause: CauseSoldOut, wantMsg: "SOLD OUT!"},
		{code: CodeCandyMachineEmpty, wantCause: CauseSoldOut, wantMsg: "SOLD OUT!"},
		{code: CodeLegacyNotLive, wantCause: CauseNotLive, wantMsg: MessageNotLive},
		{code: CodeCandyMachineNotLive, wantCause: CauseNotLive, wantMsg: MessageNotLive},
		{code: CodeLegacyNotEnoughSOL, wantCause: CauseInsufficientFunds, wantMsg: MessageInsufficientFunds},
		{code: CodeNotEnoughSOL, wantCause: CauseInsufficientFunds, wantMsg: MessageInsufficientFunds},
		{code: CodeNotEnoughTokens, wantCause: CauseInsufficientFunds, wantMsg: MessageInsufficientFunds},
		{code: CodeNoWhitelistToken, wantCause: CauseNoWhitelistToken, wantMsg: MessageNoWhitelistToken},
		{code: CodeGatewayAppMissing, wantCause: CauseGatewayRequired, wantMsg: MessageGatewayUnavailable},
		{code: 6002, wantCause: CauseUnknown, wantMsg: MessageRetry},
		{code: 1, wantCause: CauseUnknown, wantMsg: MessageRetry},
	}

	for _, tt := range tests {
		e := OnChainError{Code: tt.code}
		assert.Equal(t, tt.wantCause, e.Cause(), "code %d", tt.code)
		assert.Equal(t, tt.wantMsg, e.UserMessage(), "code %d", tt.code)
		assert.Contains(t, e.Error(), string(tt.wantCause))
	}
}

func TestEndCountdownLabel(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		end  time.Time
		want string
	}{
		{name: "days hours minutes", end: now.Add(2*24*time.Hour + 3*time.Hour + 5*time.Minute + 10*time.Second), want: "2 days 3 hours 6 minutes left to MINT."},
		{name: "hours only", end: now.Add(time.Hour), want: "1 hours 1 minutes left to MINT."},
		{name: "under a minute", end: now.Add(30 * time.Second), want: "1 minutes left to MINT."},
		{name: "already ended", end: now.Add(-time.Minute), want: "1 minutes left to MINT."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EndCountdownLabel(now, tt.end))
		})
	}
}

func TestCountdownTo(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, Countdown{Days: 1, Hours: 2, Minutes: 3, Seconds: 4}, CountdownTo(now, now.Add(26*time.Hour+3*time.Minute+4*time.Second)))
	assert.Equal(t, Countdown{}, CountdownTo(now, now))
}
