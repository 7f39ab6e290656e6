package candymachine

import (
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// NativeDecimals is the number of decimals of the native coin (lamports per SOL).
const NativeDecimals = 9

// MaxDecimals bounds the configured payment asset precision.
const MaxDecimals = 18

// PriceUnit is the asset a mint is paid in.
type PriceUnit uint8

const (
	NativeCoin PriceUnit = iota
	FungibleToken
)

func (u PriceUnit) String() string {
	switch u {
	case NativeCoin:
		return "native"
	case FungibleToken:
		return "token"
	default:
		return fmt.Sprintf("price_unit(%d)", uint8(u))
	}
}

func (u PriceUnit) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *PriceUnit) UnmarshalText(b []byte) error {
	switch string(b) {
	case "native":
		*u = NativeCoin
	case "token":
		*u = FungibleToken
	default:
		return fmt.Errorf("unknown price unit %q", b)
	}
	return nil
}

// EndConditionKind distinguishes date-based and amount-based sale ends.
type EndConditionKind string

const (
	EndAtDate           EndConditionKind = "date"
	EndAtRedeemedAmount EndConditionKind = "redeemed_amount"
)

// EndCondition ends the sale at Date or once Amount items were redeemed.
type EndCondition struct {
	Kind   EndConditionKind `json:"kind"`
	Date   *time.Time       `json:"date,omitempty"`
	Amount uint64           `json:"amount,omitempty"`
}

// WhitelistConfig is the normalized whitelist configuration of a snapshot.
type WhitelistConfig struct {
	Mint                   solana.PublicKey `json:"mint"`
	Mode                   WhitelistMode    `json:"mode"`
	IsPresaleOnly          bool             `json:"is_presale_only"`
	DiscountPrice          *decimal.Decimal `json:"discount_price,omitempty"`
	DiscountPriceBaseUnits *uint64          `json:"discount_price_base_units,omitempty"`
}

// MembersOnly reports whether only whitelist holders may ever mint: no
// presale window and no discount.
func (w *WhitelistConfig) MembersOnly() bool {
	return !w.IsPresaleOnly && w.DiscountPrice == nil
}

// Record is the raw program-account state a snapshot is derived from.
type Record struct {
	Address        solana.PublicKey
	Treasury       solana.PublicKey
	ItemsAvailable uint64
	ItemsRedeemed  uint64
	ItemsRemaining uint64
	IsSoldOut      bool
	Price          uint64
	TokenMint      *solana.PublicKey
	Whitelist      *WhitelistMintSettings
	EndSettings    *EndSettings
	GoLiveDate     *int64
	Gatekeeper     *GatekeeperConfig
}

// Record flattens a decoded account at address into the raw record consumed
// by DeriveSnapshot.
func (a *Account) Record(address solana.PublicKey) Record {
	var remaining uint64
	if a.Data.ItemsAvailable > a.ItemsRedeemed {
		remaining = a.Data.ItemsAvailable - a.ItemsRedeemed
	}
	return Record{
		Address:        address,
		Treasury:       a.Wallet,
		ItemsAvailable: a.Data.ItemsAvailable,
		ItemsRedeemed:  a.ItemsRedeemed,
		ItemsRemaining: remaining,
		IsSoldOut:      remaining == 0,
		Price:          a.Data.Price,
		TokenMint:      a.TokenMint,
		Whitelist:      a.Data.WhitelistMintSettings,
		EndSettings:    a.Data.EndSettings,
		GoLiveDate:     a.Data.GoLiveDate,
		Gatekeeper:     a.Data.Gatekeeper,
	}
}

// SnapshotConfig carries the environment-level inputs of snapshot derivation.
type SnapshotConfig struct {
	// Decimals is the precision of the fungible payment token.
	Decimals uint8
	// TokenName labels prices paid in the fungible token.
	TokenName string
}

// DefaultSnapshotConfig returns the configuration used when none is given.
func DefaultSnapshotConfig() SnapshotConfig {
	return SnapshotConfig{Decimals: 9, TokenName: "TOKEN"}
}

// MintSnapshot is a point-in-time view of a candy machine's availability,
// pricing, timing and whitelist status.
type MintSnapshot struct {
	Address        solana.PublicKey  `json:"address"`
	Treasury       solana.PublicKey  `json:"treasury"`
	ItemsAvailable uint64            `json:"items_available"`
	ItemsRedeemed  uint64            `json:"items_redeemed"`
	ItemsRemaining uint64            `json:"items_remaining"`
	Price          decimal.Decimal   `json:"price"`
	PriceBaseUnits uint64            `json:"price_base_units"`
	PriceUnit      PriceUnit         `json:"price_unit"`
	PriceLabel     string            `json:"price_label"`
	Decimals       uint8             `json:"decimals"`
	TokenMint      *solana.PublicKey `json:"token_mint,omitempty"`
	Whitelist      *WhitelistConfig  `json:"whitelist,omitempty"`
	EndCondition   *EndCondition     `json:"end_condition,omitempty"`
	GoLiveDate     *time.Time        `json:"go_live_date,omitempty"`
	Gatekeeper     *GatekeeperConfig `json:"gatekeeper,omitempty"`
	IsSoldOut      bool              `json:"is_sold_out"`
}

// DeriveSnapshot converts a raw account record into a MintSnapshot. It has no
// side effects; inconsistent input yields an error wrapping ErrMalformedAccount.
func DeriveSnapshot(rec Record, cfg SnapshotConfig) (MintSnapshot, error) {
	if cfg.Decimals > MaxDecimals {
		return MintSnapshot{}, fmt.Errorf("%w: token decimals %d exceed %d", ErrMalformedAccount, cfg.Decimals, MaxDecimals)
	}
	if rec.ItemsRedeemed > rec.ItemsAvailable {
		return MintSnapshot{}, fmt.Errorf("%w: redeemed %d exceeds available %d", ErrMalformedAccount, rec.ItemsRedeemed, rec.ItemsAvailable)
	}
	if rec.ItemsRemaining != rec.ItemsAvailable-rec.ItemsRedeemed {
		return MintSnapshot{}, fmt.Errorf("%w: remaining %d does not match available %d minus redeemed %d",
			ErrMalformedAccount, rec.ItemsRemaining, rec.ItemsAvailable, rec.ItemsRedeemed)
	}

	s := MintSnapshot{
		Address:        rec.Address,
		Treasury:       rec.Treasury,
		ItemsAvailable: rec.ItemsAvailable,
		ItemsRedeemed:  rec.ItemsRedeemed,
		ItemsRemaining: rec.ItemsRemaining,
		PriceBaseUnits: rec.Price,
		Gatekeeper:     rec.Gatekeeper,
	}

	if rec.TokenMint != nil {
		mint := *rec.TokenMint
		s.TokenMint = &mint
		s.PriceUnit = FungibleToken
		s.Decimals = cfg.Decimals
		s.PriceLabel = cfg.TokenName
	} else {
		s.PriceUnit = NativeCoin
		s.Decimals = NativeDecimals
		s.PriceLabel = "SOL"
	}
	s.Price = ToDisplay(rec.Price, s.Decimals)

	if rec.Whitelist != nil {
		wl := rec.Whitelist
		if wl.Mint.IsZero() {
			return MintSnapshot{}, fmt.Errorf("%w: whitelist mint is empty", ErrMalformedAccount)
		}
		if wl.Mode != BurnOnUse && wl.Mode != NeverBurn {
			return MintSnapshot{}, fmt.Errorf("%w: unknown whitelist mode %d", ErrMalformedAccount, wl.Mode)
		}
		cfgWL := &WhitelistConfig{Mint: wl.Mint, Mode: wl.Mode, IsPresaleOnly: wl.Presale}
		if wl.DiscountPrice != nil {
			units := *wl.DiscountPrice
			price := ToDisplay(units, s.Decimals)
			cfgWL.DiscountPriceBaseUnits = &units
			cfgWL.DiscountPrice = &price
		}
		s.Whitelist = cfgWL
	}

	if rec.GoLiveDate != nil {
		t := time.Unix(*rec.GoLiveDate, 0).UTC()
		s.GoLiveDate = &t
	}

	isSoldOut := rec.IsSoldOut || rec.ItemsRemaining == 0
	if rec.EndSettings != nil {
		switch rec.EndSettings.Type {
		case EndSettingDate:
			if rec.EndSettings.Number > math.MaxInt64 {
				return MintSnapshot{}, fmt.Errorf("%w: end date %d out of range", ErrMalformedAccount, rec.EndSettings.Number)
			}
			t := time.Unix(int64(rec.EndSettings.Number), 0).UTC()
			s.EndCondition = &EndCondition{Kind: EndAtDate, Date: &t}
		case EndSettingAmount:
			limit := min(rec.EndSettings.Number, rec.ItemsAvailable)
			s.EndCondition = &EndCondition{Kind: EndAtRedeemedAmount, Amount: rec.EndSettings.Number}
			s.ItemsAvailable = limit
			if rec.ItemsRedeemed >= limit {
				s.ItemsRemaining = 0
				isSoldOut = true
			} else {
				s.ItemsRemaining = limit - rec.ItemsRedeemed
				isSoldOut = rec.IsSoldOut
			}
		default:
			return MintSnapshot{}, fmt.Errorf("%w: unknown end setting type %d", ErrMalformedAccount, rec.EndSettings.Type)
		}
	}
	s.IsSoldOut = isSoldOut

	return s, nil
}

// ToDisplay converts an amount in base units into display units.
func ToDisplay(baseUnits uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(baseUnits), -int32(decimals))
}

// IsLive reports whether the go-live date is set and has passed at now.
func (s MintSnapshot) IsLive(now time.Time) bool {
	return s.GoLiveDate != nil && !now.Before(*s.GoLiveDate)
}

// HasEnded reports whether a date-based end condition has been reached at now.
func (s MintSnapshot) HasEnded(now time.Time) bool {
	return s.EndCondition != nil && s.EndCondition.Kind == EndAtDate &&
		s.EndCondition.Date != nil && !now.Before(*s.EndCondition.Date)
}

// WhitelistPrice is the price charged to whitelist holders: the discount when
// present and different from the base price, otherwise the base price.
func (s MintSnapshot) WhitelistPrice() (decimal.Decimal, uint64) {
	if s.Whitelist != nil && s.Whitelist.DiscountPriceBaseUnits != nil &&
		*s.Whitelist.DiscountPriceBaseUnits != s.PriceBaseUnits {
		return *s.Whitelist.DiscountPrice, *s.Whitelist.DiscountPriceBaseUnits
	}
	return s.Price, s.PriceBaseUnits
}

// WithMinted returns the snapshot after one local redemption: remaining is
// decremented, redeemed incremented and the sold-out flag recomputed. The
// ledger is not consulted; a later refresh reconciles.
func (s MintSnapshot) WithMinted() MintSnapshot {
	if s.ItemsRemaining == 0 {
		s.IsSoldOut = true
		return s
	}
	s.ItemsRemaining--
	s.ItemsRedeemed++
	s.IsSoldOut = s.ItemsRemaining == 0
	return s
}
