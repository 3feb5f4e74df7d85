package ledger

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Wallet holds signing material for one keypair. It satisfies the signing
// needs of the pipeline; key management beyond in-memory keys is external.
type Wallet struct {
	key solana.PrivateKey
}

// NewWalletFromBase58 decodes a base58-encoded 64-byte ed25519 secret key.
func NewWalletFromBase58(encoded string) (*Wallet, error) {
	if encoded == "" {
		return nil, errors.New("secret key is empty")
	}
	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode secret key: %w", err)
	}
	if len(raw) != 64 {
		return nil, fmt.Errorf("secret key must be 64 bytes, got %d", len(raw))
	}
	return &Wallet{key: solana.PrivateKey(raw)}, nil
}

// NewWallet wraps an existing private key, for tests and tooling.
func NewWallet(key solana.PrivateKey) *Wallet {
	return &Wallet{key: key}
}

func (w *Wallet) PublicKey() solana.PublicKey {
	return w.key.PublicKey()
}

// Sign signs the transaction for every required key this wallet (or any of
// the extra wallets) holds.
func (w *Wallet) Sign(tx *solana.Transaction, extra ...*Wallet) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(w.key.PublicKey()) {
			return &w.key
		}
		for _, e := range extra {
			if e != nil && key.Equals(e.key.PublicKey()) {
				return &e.key
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}
	return nil
}
