package solana

import (
	"context"
	"fmt"

	"github.com/brojonat/candymint/service/candymachine"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

// TokenMetadataProgramID is the Metaplex token metadata program.
var TokenMetadataProgramID = solana.MustPublicKeyFromBase58("metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s")

// mintAccountSize is the size of an SPL token mint account.
const mintAccountSize = 82

// ChainReader supplies the chain state a mint transaction is built against.
type ChainReader interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	MinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error)
}

// MintTransaction is an unsigned mint transaction and the keypair of the new
// token mint, which must co-sign it.
type MintTransaction struct {
	Tx   *solana.Transaction
	Mint solana.PrivateKey
}

// MintAddress is the address of the token being minted.
func (m *MintTransaction) MintAddress() solana.PublicKey {
	return m.Mint.PublicKey()
}

// MintTransactionBuilder builds candy machine v2 mint_nft transactions.
type MintTransactionBuilder struct {
	chain     ChainReader
	programID solana.PublicKey
}

// NewMintTransactionBuilder creates a builder for machines owned by programID.
func NewMintTransactionBuilder(chain ChainReader, programID solana.PublicKey) *MintTransactionBuilder {
	return &MintTransactionBuilder{chain: chain, programID: programID}
}

// Build assembles the transaction minting one token from the machine in s to
// payer: create and initialize the mint, create payer's token account, mint
// one token into it and call mint_nft. Gatekeeper-protected machines are
// rejected with a *SubmissionError.
func (b *MintTransactionBuilder) Build(ctx context.Context, payer solana.PublicKey, s candymachine.MintSnapshot) (*MintTransaction, error) {
	if s.Gatekeeper != nil {
		return nil, &SubmissionError{
			Reason:  "gateway token required",
			Message: candymachine.MessageGatewayUnavailable,
		}
	}
	if s.Address.IsZero() || s.Treasury.IsZero() {
		return nil, fmt.Errorf("snapshot is missing the machine or treasury address")
	}

	mintKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate mint keypair: %w", err)
	}
	mint := mintKey.PublicKey()

	ata, _, err := solana.FindAssociatedTokenAddress(payer, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive token account: %w", err)
	}
	rent, err := b.chain.MinimumBalanceForRentExemption(ctx, mintAccountSize)
	if err != nil {
		return nil, err
	}
	blockhash, err := b.chain.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}
	mintNFT, err := b.mintNFTInstruction(payer, mint, s)
	if err != nil {
		return nil, err
	}

	instructions := []solana.Instruction{
		system.NewCreateAccountInstruction(rent, mintAccountSize, solana.TokenProgramID, payer, mint).Build(),
		token.NewInitializeMintInstruction(0, payer, payer, mint, solana.SysVarRentPubkey).Build(),
		associatedtokenaccount.NewCreateInstruction(payer, payer, mint).Build(),
		token.NewMintToInstruction(1, mint, ata, payer, nil).Build(),
		mintNFT,
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("failed to build mint transaction: %w", err)
	}
	return &MintTransaction{Tx: tx, Mint: mintKey}, nil
}

func (b *MintTransactionBuilder) mintNFTInstruction(payer, mint solana.PublicKey, s candymachine.MintSnapshot) (solana.Instruction, error) {
	creator, bump, err := CandyMachineCreator(s.Address, b.programID)
	if err != nil {
		return nil, err
	}
	metadata, err := MetadataAddress(mint)
	if err != nil {
		return nil, err
	}
	edition, err := MasterEditionAddress(mint)
	if err != nil {
		return nil, err
	}

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(s.Address, true, false),
		solana.NewAccountMeta(creator, false, false),
		solana.NewAccountMeta(payer, false, true),
		solana.NewAccountMeta(s.Treasury, true, false),
		solana.NewAccountMeta(metadata, true, false),
		solana.NewAccountMeta(mint, true, false),
		solana.NewAccountMeta(payer, false, true), // mint authority
		solana.NewAccountMeta(payer, false, true), // update authority
		solana.NewAccountMeta(edition, true, false),
		solana.NewAccountMeta(TokenMetadataProgramID, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
		solana.NewAccountMeta(solana.SysVarClockPubkey, false, false),
		solana.NewAccountMeta(solana.SysVarSlotHashesPubkey, false, false),
		solana.NewAccountMeta(solana.SysVarInstructionsPubkey, false, false),
	}

	if wl := s.Whitelist; wl != nil {
		wlToken, _, err := solana.FindAssociatedTokenAddress(payer, wl.Mint)
		if err != nil {
			return nil, fmt.Errorf("failed to derive whitelist token account: %w", err)
		}
		accounts = append(accounts, solana.NewAccountMeta(wlToken, true, false))
		if wl.Mode == candymachine.BurnOnUse {
			accounts = append(accounts,
				solana.NewAccountMeta(wl.Mint, true, false),
				solana.NewAccountMeta(payer, false, true),
			)
		}
	}

	if s.TokenMint != nil {
		paying, _, err := solana.FindAssociatedTokenAddress(payer, *s.TokenMint)
		if err != nil {
			return nil, fmt.Errorf("failed to derive payment token account: %w", err)
		}
		accounts = append(accounts,
			solana.NewAccountMeta(paying, true, false),
			solana.NewAccountMeta(payer, false, true),
		)
	}

	disc := candymachine.InstructionDiscriminator("mint_nft")
	data := append(disc[:], bump)
	return solana.NewInstruction(b.programID, accounts, data), nil
}

// CandyMachineCreator derives the PDA that signs as creator for a machine.
func CandyMachineCreator(machine, programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	addr, bump, err := solana.FindProgramAddress([][]byte{[]byte("candy_machine"), machine[:]}, programID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to derive candy machine creator: %w", err)
	}
	return addr, bump, nil
}

// MetadataAddress derives the metadata account of a mint.
func MetadataAddress(mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{
		[]byte("metadata"), TokenMetadataProgramID[:], mint[:],
	}, TokenMetadataProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive metadata address: %w", err)
	}
	return addr, nil
}

// MasterEditionAddress derives the master edition account of a mint.
func MasterEditionAddress(mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{
		[]byte("metadata"), TokenMetadataProgramID[:], mint[:], []byte("edition"),
	}, TokenMetadataProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive master edition address: %w", err)
	}
	return addr, nil
}
