package candymachine

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeAccount serializes acct the way the program lays it out on chain.
func encodeAccount(acct *Account) []byte {
	var buf bytes.Buffer
	le := func(v any) { _ = binary.Write(&buf, binary.LittleEndian, v) }
	flag := func(b bool) {
		if b {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}
	str := func(s string) {
		le(uint32(len(s)))
		buf.WriteString(s)
	}

	buf.Write(accountDiscriminator[:])
	buf.Write(acct.Authority[:])
	buf.Write(acct.Wallet[:])
	flag(acct.TokenMint != nil)
	if acct.TokenMint != nil {
		buf.Write(acct.TokenMint[:])
	}
	le(acct.ItemsRedeemed)

	d := acct.Data
	str(d.UUID)
	le(d.Price)
	str(d.Symbol)
	le(d.SellerFeeBasisPoints)
	le(d.MaxSupply)
	flag(d.IsMutable)
	flag(d.RetainAuthority)
	flag(d.GoLiveDate != nil)
	if d.GoLiveDate != nil {
		le(*d.GoLiveDate)
	}
	flag(d.EndSettings != nil)
	if d.EndSettings != nil {
		buf.WriteByte(byte(d.EndSettings.Type))
		le(d.EndSettings.Number)
	}
	le(uint32(len(d.Creators)))
	for _, c := range d.Creators {
		buf.Write(c.Address[:])
		flag(c.Verified)
		buf.WriteByte(c.Share)
	}
	flag(d.HiddenSettings != nil)
	if d.HiddenSettings != nil {
		str(d.HiddenSettings.Name)
		str(d.HiddenSettings.URI)
		buf.Write(d.HiddenSettings.Hash[:])
	}
	flag(d.WhitelistMintSettings != nil)
	if wl := d.WhitelistMintSettings; wl != nil {
		buf.WriteByte(byte(wl.Mode))
		buf.Write(wl.Mint[:])
		flag(wl.Presale)
		flag(wl.DiscountPrice != nil)
		if wl.DiscountPrice != nil {
			le(*wl.DiscountPrice)
		}
	}
	le(d.ItemsAvailable)
	flag(d.Gatekeeper != nil)
	if d.Gatekeeper != nil {
		buf.Write(d.Gatekeeper.Network[:])
		flag(d.Gatekeeper.ExpireOnUse)
	}
	return buf.Bytes()
}

func u64p(v uint64) *uint64 { return &v }
func i64p(v int64) *int64   { return &v }

func fixtureAccount() *Account {
	tokenMint := solana.NewWallet().PublicKey()
	return &Account{
		Authority:     solana.NewWallet().PublicKey(),
		Wallet:        solana.NewWallet().PublicKey(),
		TokenMint:     &tokenMint,
		ItemsRedeemed: 42,
		Data: AccountData{
			UUID:                 "abc123",
			Price:                1_500_000_000,
			Symbol:               "CNDY",
			SellerFeeBasisPoints: 500,
			MaxSupply:            0,
			IsMutable:            true,
			RetainAuthority:      true,
			GoLiveDate:           i64p(1_700_000_000),
			EndSettings:          &EndSettings{Type: EndSettingAmount, Number: 80},
			Creators: []Creator{
				{Address: solana.NewWallet().PublicKey(), Verified: true, Share: 100},
			},
			HiddenSettings: &HiddenSettings{Name: "Hidden #", URI: "https://example.com/hidden.json"},
			WhitelistMintSettings: &WhitelistMintSettings{
				Mode:          BurnOnUse,
				Mint:          solana.NewWallet().PublicKey(),
				Presale:       true,
				DiscountPrice: u64p(1_000_000_000),
			},
			ItemsAvailable: 100,
			Gatekeeper:     &GatekeeperConfig{Network: solana.NewWallet().PublicKey(), ExpireOnUse: true},
		},
	}
}

func TestDecodeAccount(t *testing.T) {
	want := fixtureAccount()
	data := encodeAccount(want)

	// config lines follow the struct on chain and must be ignored
	data = append(data, make([]byte, 64)...)

	got, err := DecodeAccount(data)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecodeAccount_Minimal(t *testing.T) {
	want := &Account{
		Authority:     solana.NewWallet().PublicKey(),
		Wallet:        solana.NewWallet().PublicKey(),
		ItemsRedeemed: 0,
		Data: AccountData{
			UUID:           "xyz789",
			Price:          100_000_000,
			Symbol:         "",
			ItemsAvailable: 10,
		},
	}

	got, err := DecodeAccount(encodeAccount(want))
	require.NoError(t, err)
	assert.Nil(t, got.TokenMint)
	assert.Nil(t, got.Data.GoLiveDate)
	assert.Nil(t, got.Data.WhitelistMintSettings)
	assert.Equal(t, uint64(100_000_000), got.Data.Price)
	assert.Equal(t, uint64(10), got.Data.ItemsAvailable)
}

func TestDecodeAccount_Malformed(t *testing.T) {
	valid := encodeAccount(fixtureAccount())

	badDisc := append([]byte{}, valid...)
	badDisc[0] ^= 0xff

	badOption := append([]byte{}, valid...)
	badOption[8+32+32] = 7 // token mint option tag

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "short", data: []byte{1, 2, 3}},
		{name: "wrong discriminator", data: badDisc},
		{name: "invalid option tag", data: badOption},
		{name: "truncated", data: valid[:len(valid)/2]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeAccount(tt.data)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedAccount)
		})
	}
}

func TestInstructionDiscriminator(t *testing.T) {
	// well-known prefix of the candy machine v2 mint_nft instruction
	assert.Equal(t, [8]byte{0xd3, 0x39, 0x06, 0xa7, 0x0f, 0xdb, 0x23, 0xfb}, InstructionDiscriminator("mint_nft"))
}

func TestAccountRecord(t *testing.T) {
	acct := fixtureAccount()
	addr := solana.NewWallet().PublicKey()

	rec := acct.Record(addr)
	assert.Equal(t, addr, rec.Address)
	assert.Equal(t, acct.Wallet, rec.Treasury)
	assert.Equal(t, uint64(58), rec.ItemsRemaining)
	assert.False(t, rec.IsSoldOut)

	acct.ItemsRedeemed = 100
	rec = acct.Record(addr)
	assert.Equal(t, uint64(0), rec.ItemsRemaining)
	assert.True(t, rec.IsSoldOut)
}
