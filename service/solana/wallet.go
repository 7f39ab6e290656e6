package solana

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// KeypairWallet signs transactions with a local keypair.
type KeypairWallet struct {
	key solana.PrivateKey
}

// NewKeypairWallet wraps a private key.
func NewKeypairWallet(key solana.PrivateKey) *KeypairWallet {
	return &KeypairWallet{key: key}
}

// LoadKeypairWallet reads a solana-keygen JSON keypair file.
func LoadKeypairWallet(path string) (*KeypairWallet, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair from %s: %w", path, err)
	}
	return NewKeypairWallet(key), nil
}

// PublicIdentity returns the wallet address. The second value is false when
// no key is loaded.
func (w *KeypairWallet) PublicIdentity() (solana.PublicKey, bool) {
	if w == nil || len(w.key) == 0 {
		return solana.PublicKey{}, false
	}
	return w.key.PublicKey(), true
}

// SignTransaction signs tx with the wallet key and any cosigners (such as a
// freshly generated mint keypair). A missing signer is a *SubmissionError.
func (w *KeypairWallet) SignTransaction(tx *solana.Transaction, cosigners ...solana.PrivateKey) error {
	if _, ok := w.PublicIdentity(); !ok {
		return &SubmissionError{Reason: "wallet not connected"}
	}
	keys := append([]solana.PrivateKey{w.key}, cosigners...)
	_, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		for i := range keys {
			if keys[i].PublicKey().Equals(pub) {
				return &keys[i]
			}
		}
		return nil
	})
	if err != nil {
		return &SubmissionError{Reason: "signing rejected", Err: err}
	}
	return nil
}
