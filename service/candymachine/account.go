package candymachine

import (
	"crypto/sha256"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// ProgramID is the Candy Machine v2 program that owns candy machine accounts.
var ProgramID = solana.MustPublicKeyFromBase58("cndy3Z4yapfJBmL3ShUp5exZKqR3z33thTzeNMm2gRZ")

// ErrMalformedAccount is returned when account bytes or a raw record cannot be
// turned into a snapshot.
var ErrMalformedAccount = errors.New("malformed candy machine account")

var accountDiscriminator = anchorDiscriminator("account:CandyMachine")

// anchorDiscriminator returns the 8-byte Anchor prefix for an account or
// instruction name such as "account:CandyMachine" or "global:mint_nft".
func anchorDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte(name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// InstructionDiscriminator returns the Anchor discriminator of a program
// instruction (e.g. "mint_nft").
func InstructionDiscriminator(instruction string) [8]byte {
	return anchorDiscriminator("global:" + instruction)
}

// WhitelistMode says what happens to the whitelist token when it is used.
type WhitelistMode uint8

const (
	BurnOnUse WhitelistMode = iota
	NeverBurn
)

func (m WhitelistMode) String() string {
	switch m {
	case BurnOnUse:
		return "burn_on_use"
	case NeverBurn:
		return "never_burn"
	default:
		return fmt.Sprintf("whitelist_mode(%d)", uint8(m))
	}
}

func (m WhitelistMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *WhitelistMode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "burn_on_use":
		*m = BurnOnUse
	case "never_burn":
		*m = NeverBurn
	default:
		return fmt.Errorf("unknown whitelist mode %q", b)
	}
	return nil
}

// EndSettingType is the on-chain discriminant of an end setting.
type EndSettingType uint8

const (
	EndSettingDate EndSettingType = iota
	EndSettingAmount
)

// EndSettings stops the sale at a unix timestamp or after an amount of redemptions.
type EndSettings struct {
	Type   EndSettingType
	Number uint64
}

// Creator is a royalty recipient recorded on the machine.
type Creator struct {
	Address  solana.PublicKey
	Verified bool
	Share    uint8
}

// HiddenSettings are set when metadata is revealed after the sale.
type HiddenSettings struct {
	Name string
	URI  string
	Hash [32]byte
}

// WhitelistMintSettings is the raw whitelist configuration.
type WhitelistMintSettings struct {
	Mode          WhitelistMode
	Mint          solana.PublicKey
	Presale       bool
	DiscountPrice *uint64
}

// GatekeeperConfig marks a machine protected by a gateway network (captcha).
type GatekeeperConfig struct {
	Network     solana.PublicKey `json:"network"`
	ExpireOnUse bool             `json:"expire_on_use"`
}

// AccountData is the configurable part of a candy machine.
type AccountData struct {
	UUID                  string
	Price                 uint64
	Symbol                string
	SellerFeeBasisPoints  uint16
	MaxSupply             uint64
	IsMutable             bool
	RetainAuthority       bool
	GoLiveDate            *int64
	EndSettings           *EndSettings
	Creators              []Creator
	HiddenSettings        *HiddenSettings
	WhitelistMintSettings *WhitelistMintSettings
	ItemsAvailable        uint64
	Gatekeeper            *GatekeeperConfig
}

// Account is a decoded Candy Machine v2 account.
type Account struct {
	Authority     solana.PublicKey
	Wallet        solana.PublicKey
	TokenMint     *solana.PublicKey
	ItemsRedeemed uint64
	Data          AccountData
}

// DecodeAccount decodes the Borsh-serialized account data of a candy machine.
// Trailing bytes (config lines) are ignored.
func DecodeAccount(data []byte) (*Account, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: account data too short (%d bytes)", ErrMalformedAccount, len(data))
	}

	r := &accountReader{dec: bin.NewBorshDecoder(data)}
	disc := r.bytes(8)
	if r.err == nil && string(disc) != string(accountDiscriminator[:]) {
		return nil, fmt.Errorf("%w: unexpected account discriminator %x", ErrMalformedAccount, disc)
	}

	var acct Account
	acct.Authority = r.pubkey()
	acct.Wallet = r.pubkey()
	if r.option() {
		mint := r.pubkey()
		acct.TokenMint = &mint
	}
	acct.ItemsRedeemed = r.u64()

	d := &acct.Data
	d.UUID = r.str()
	d.Price = r.u64()
	d.Symbol = r.str()
	d.SellerFeeBasisPoints = r.u16()
	d.MaxSupply = r.u64()
	d.IsMutable = r.flag()
	d.RetainAuthority = r.flag()
	if r.option() {
		v := r.i64()
		d.GoLiveDate = &v
	}
	if r.option() {
		d.EndSettings = &EndSettings{Type: EndSettingType(r.u8()), Number: r.u64()}
	}
	n := r.u32()
	if r.err == nil && n > 5 {
		return nil, fmt.Errorf("%w: too many creators (%d)", ErrMalformedAccount, n)
	}
	for i := uint32(0); i < n && r.err == nil; i++ {
		d.Creators = append(d.Creators, Creator{Address: r.pubkey(), Verified: r.flag(), Share: r.u8()})
	}
	if r.option() {
		h := &HiddenSettings{Name: r.str(), URI: r.str()}
		copy(h.Hash[:], r.bytes(32))
		d.HiddenSettings = h
	}
	if r.option() {
		wl := &WhitelistMintSettings{Mode: WhitelistMode(r.u8()), Mint: r.pubkey(), Presale: r.flag()}
		if r.option() {
			v := r.u64()
			wl.DiscountPrice = &v
		}
		d.WhitelistMintSettings = wl
	}
	d.ItemsAvailable = r.u64()
	if r.option() {
		d.Gatekeeper = &GatekeeperConfig{Network: r.pubkey(), ExpireOnUse: r.flag()}
	}

	if r.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAccount, r.err)
	}
	return &acct, nil
}

// accountReader wraps a Borsh decoder and keeps the first error so field
// reads can be chained.
type accountReader struct {
	dec *bin.Decoder
	err error
}

func (r *accountReader) bytes(n int) []byte {
	if r.err != nil {
		return make([]byte, n)
	}
	b, err := r.dec.ReadNBytes(n)
	if err != nil {
		r.err = err
		return make([]byte, n)
	}
	return b
}

func (r *accountReader) pubkey() solana.PublicKey {
	return solana.PublicKeyFromBytes(r.bytes(32))
}

func (r *accountReader) u8() uint8 {
	return r.bytes(1)[0]
}

func (r *accountReader) flag() bool {
	b := r.u8()
	if b > 1 && r.err == nil {
		r.err = fmt.Errorf("invalid bool byte %d", b)
	}
	return b == 1
}

func (r *accountReader) option() bool {
	b := r.u8()
	if b > 1 && r.err == nil {
		r.err = fmt.Errorf("invalid option tag %d", b)
	}
	return b == 1
}

func (r *accountReader) u16() uint16 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint16(bin.LE)
	r.err = err
	return v
}

func (r *accountReader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint32(bin.LE)
	r.err = err
	return v
}

func (r *accountReader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint64(bin.LE)
	r.err = err
	return v
}

func (r *accountReader) i64() int64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadInt64(bin.LE)
	r.err = err
	return v
}

// str reads a Borsh string (u32 length prefix).
func (r *accountReader) str() string {
	n := r.u32()
	if r.err != nil {
		return ""
	}
	if n > 1024 {
		r.err = fmt.Errorf("string length %d out of range", n)
		return ""
	}
	return string(r.bytes(int(n)))
}
