package ledger

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// SPL token instruction indexes used below.
const (
	tokenInstructionTransferChecked = 12
	ataInstructionCreateIdempotent  = 1
)

// SystemTransfer builds a native lamport transfer.
func SystemTransfer(lamports uint64, from, to solana.PublicKey) solana.Instruction {
	return system.NewTransferInstruction(lamports, from, to).Build()
}

// TokenTransferChecked builds a TransferChecked instruction under the given
// token program, so the same builder serves both the legacy token program
// and Token-2022.
func TokenTransferChecked(tokenProgram solana.PublicKey, amount uint64, decimals uint8, source, mint, dest, owner solana.PublicKey) solana.Instruction {
	data := make([]byte, 10)
	data[0] = tokenInstructionTransferChecked
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data[9] = decimals
	return solana.NewInstruction(tokenProgram, solana.AccountMetaSlice{
		solana.Meta(source).WRITE(),
		solana.Meta(mint),
		solana.Meta(dest).WRITE(),
		solana.Meta(owner).SIGNER(),
	}, data)
}

// AssociatedTokenAddress derives the associated token account for a wallet
// and mint under the given token program.
func AssociatedTokenAddress(wallet, mint, tokenProgram solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{wallet.Bytes(), tokenProgram.Bytes(), mint.Bytes()},
		solana.SPLAssociatedTokenAccountProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive associated token address: %w", err)
	}
	return addr, nil
}

// CreateAssociatedTokenAccountIdempotent builds a CreateIdempotent
// instruction; it is a no-op on chain when the account already exists.
func CreateAssociatedTokenAccountIdempotent(payer, wallet, mint, ata, tokenProgram solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(solana.SPLAssociatedTokenAccountProgramID, solana.AccountMetaSlice{
		solana.Meta(payer).WRITE().SIGNER(),
		solana.Meta(ata).WRITE(),
		solana.Meta(wallet),
		solana.Meta(mint),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(tokenProgram),
	}, []byte{ataInstructionCreateIdempotent})
}

// BlockhashProvider supplies a recent blockhash for transaction validity.
type BlockhashProvider interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
}

// BuildSigned assembles and signs a transaction with a fresh blockhash. The
// first wallet pays the fee.
func BuildSigned(ctx context.Context, bh BlockhashProvider, payer *Wallet, instructions []solana.Instruction, extraSigners ...*Wallet) (*solana.Transaction, error) {
	blockhash, err := bh.LatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(payer.PublicKey()))
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	if err := payer.Sign(tx, extraSigners...); err != nil {
		return nil, err
	}
	return tx, nil
}
