package ledger

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
)

// TokenAccount is one token-account record for the fee-bearing mint.
type TokenAccount struct {
	Address solana.PublicKey
	Owner   solana.PublicKey
	Amount  uint64
}

// Offsets into the SPL token account layout. Token-2022 accounts carry
// trailing extensions, so only a minimum length is enforced.
const (
	tokenAccountOwnerOffset  = 32
	tokenAccountAmountOffset = 64
	tokenAccountMinLen       = 72
)

// TokenAccountsByMint enumerates every token account of the given mint
// under the given token program, including zero-balance accounts. Filtering
// is the caller's concern.
func (c *Client) TokenAccountsByMint(ctx context.Context, tokenProgram, mint solana.PublicKey) ([]TokenAccount, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.rpc.GetProgramAccountsWithOpts(ctx, tokenProgram, &solanarpc.GetProgramAccountsOpts{
		Commitment: c.cfg.Commitment,
		Encoding:   solana.EncodingBase64,
		Filters: []solanarpc.RPCFilter{
			{
				Memcmp: &solanarpc.RPCFilterMemcmp{
					Offset: 0,
					Bytes:  solana.Base58(mint.Bytes()),
				},
			},
		},
	})
	observe("getProgramAccounts", err)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate token accounts for mint %s: %w", mint, err)
	}

	accounts := make([]TokenAccount, 0, len(out))
	for _, keyed := range out {
		if keyed == nil || keyed.Account == nil {
			continue
		}
		data := keyed.Account.Data.GetBinary()
		if len(data) < tokenAccountMinLen {
			c.log.Warn("ledger: skipping short token account", "account", keyed.Pubkey, "len", len(data))
			continue
		}
		accounts = append(accounts, TokenAccount{
			Address: keyed.Pubkey,
			Owner:   solana.PublicKeyFromBytes(data[tokenAccountOwnerOffset : tokenAccountOwnerOffset+32]),
			Amount:  binary.LittleEndian.Uint64(data[tokenAccountAmountOffset : tokenAccountAmountOffset+8]),
		})
	}
	return accounts, nil
}
