package candymachine

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// DecisionKind is the variant of an eligibility decision.
type DecisionKind uint8

const (
	DecisionPending DecisionKind = iota + 1
	DecisionPrivateSaleBlocked
	DecisionSoldOut
	DecisionEligible
)

var decisionKindNames = map[DecisionKind]string{
	DecisionPending:            "pending",
	DecisionPrivateSaleBlocked: "private_sale_blocked",
	DecisionSoldOut:            "sold_out",
	DecisionEligible:           "eligible",
}

func (k DecisionKind) String() string {
	if name, ok := decisionKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("decision(%d)", uint8(k))
}

func (k DecisionKind) MarshalText() ([]byte, error) {
	if _, ok := decisionKindNames[k]; !ok {
		return nil, fmt.Errorf("invalid decision kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *DecisionKind) UnmarshalText(b []byte) error {
	for kind, name := range decisionKindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown decision kind %q", b)
}

// SoldOutReason explains a SoldOut decision.
type SoldOutReason string

const (
	// SoldOutExhausted means no items remain.
	SoldOutExhausted SoldOutReason = "exhausted"
	// SoldOutEnded means the sale's end date has passed.
	SoldOutEnded SoldOutReason = "ended"
)

// Decision is the outcome of the eligibility policy. Exactly one variant is
// represented, selected by Kind; only the fields of that variant are set.
type Decision struct {
	Kind DecisionKind `json:"kind"`

	// Pending: when minting opens. Nil when no go-live date is scheduled.
	Until *time.Time `json:"until,omitempty"`

	// SoldOut
	Reason SoldOutReason `json:"reason,omitempty"`

	// Eligible
	Price          *decimal.Decimal `json:"price,omitempty"`
	PriceBaseUnits uint64           `json:"price_base_units,omitempty"`
	Whitelisted    bool             `json:"whitelisted,omitempty"`
}

// Pending returns a decision that minting opens at until (nil if unscheduled).
func Pending(until *time.Time) Decision {
	return Decision{Kind: DecisionPending, Until: until}
}

// PrivateSaleBlocked returns a decision that the caller is not on the whitelist
// of a members-only sale.
func PrivateSaleBlocked() Decision {
	return Decision{Kind: DecisionPrivateSaleBlocked}
}

// SoldOut returns a decision that nothing can be minted any more.
func SoldOut(reason SoldOutReason) Decision {
	return Decision{Kind: DecisionSoldOut, Reason: reason}
}

// Eligible returns a decision that the caller may mint at price.
func Eligible(price decimal.Decimal, baseUnits uint64, whitelisted bool) Decision {
	return Decision{Kind: DecisionEligible, Price: &price, PriceBaseUnits: baseUnits, Whitelisted: whitelisted}
}

// EffectivePrice returns the price of an Eligible decision.
func (d Decision) EffectivePrice() (decimal.Decimal, bool) {
	if d.Kind != DecisionEligible || d.Price == nil {
		return decimal.Decimal{}, false
	}
	return *d.Price, true
}

func (d Decision) String() string {
	switch d.Kind {
	case DecisionPending:
		if d.Until == nil {
			return "pending (no go-live date)"
		}
		return "pending until " + d.Until.Format(time.RFC3339)
	case DecisionSoldOut:
		return "sold out (" + string(d.Reason) + ")"
	case DecisionEligible:
		price, _ := d.EffectivePrice()
		return "eligible at " + price.String()
	default:
		return d.Kind.String()
	}
}

// CallerContext is what the policy knows about the caller.
type CallerContext struct {
	Wallet *solana.PublicKey `json:"wallet,omitempty"`
	// WhitelistTokenBalance is 0 when the wallet is absent or the lookup failed.
	WhitelistTokenBalance uint64    `json:"whitelist_token_balance"`
	Now                   time.Time `json:"now"`
}

// Evaluate decides whether the caller may mint from s. The first matching
// rule wins:
//
//  1. sold out
//  2. end date reached
//  3. presale window (whitelist presale before go-live): holders only
//  4. members-only whitelist: non-holders are blocked
//  5. before go-live: pending
//  6. eligible at whitelist price for holders, base price otherwise
//
// A zero whitelist balance never yields Eligible during a presale window.
func Evaluate(s MintSnapshot, c CallerContext) Decision {
	if s.IsSoldOut {
		return SoldOut(SoldOutExhausted)
	}
	if s.HasEnded(c.Now) {
		return SoldOut(SoldOutEnded)
	}

	live := s.IsLive(c.Now)
	holder := c.WhitelistTokenBalance > 0

	if wl := s.Whitelist; wl != nil {
		if wl.IsPresaleOnly && !live {
			if holder {
				price, units := s.WhitelistPrice()
				return Eligible(price, units, true)
			}
			return Pending(s.GoLiveDate)
		}
		if !holder && wl.MembersOnly() {
			return PrivateSaleBlocked()
		}
		if !live {
			return Pending(s.GoLiveDate)
		}
		if holder {
			price, units := s.WhitelistPrice()
			return Eligible(price, units, true)
		}
		return Eligible(s.Price, s.PriceBaseUnits, false)
	}

	if !live {
		return Pending(s.GoLiveDate)
	}
	return Eligible(s.Price, s.PriceBaseUnits, false)
}
