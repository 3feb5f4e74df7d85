package ledger

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

type staticBlockhash struct {
	hash solana.Hash
}

func (s staticBlockhash) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	return s.hash, nil
}

func TestFeeFlow_Ledger_TokenTransferChecked(t *testing.T) {
	t.Parallel()

	source := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	dest := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()

	ix := TokenTransferChecked(solana.Token2022ProgramID, 123_456, 6, source, mint, dest, owner)
	require.Equal(t, solana.Token2022ProgramID, ix.ProgramID())

	data, err := ix.Data()
	require.NoError(t, err)
	require.Len(t, data, 10)
	require.Equal(t, byte(12), data[0], "TransferChecked instruction index")
	require.Equal(t, uint64(123_456), binary.LittleEndian.Uint64(data[1:9]))
	require.Equal(t, byte(6), data[9])

	accounts := ix.Accounts()
	require.Len(t, accounts, 4)
	require.Equal(t, source, accounts[0].PublicKey)
	require.True(t, accounts[0].IsWritable)
	require.Equal(t, mint, accounts[1].PublicKey)
	require.Equal(t, dest, accounts[2].PublicKey)
	require.True(t, accounts[2].IsWritable)
	require.Equal(t, owner, accounts[3].PublicKey)
	require.True(t, accounts[3].IsSigner)
}

func TestFeeFlow_Ledger_AssociatedTokenAddress(t *testing.T) {
	t.Parallel()

	wallet := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	// Legacy-program derivation must agree with the library's own.
	got, err := AssociatedTokenAddress(wallet, mint, solana.TokenProgramID)
	require.NoError(t, err)
	want, _, err := solana.FindAssociatedTokenAddress(wallet, mint)
	require.NoError(t, err)
	require.Equal(t, want, got)

	// Token-2022 accounts derive under their own program seed.
	got2022, err := AssociatedTokenAddress(wallet, mint, solana.Token2022ProgramID)
	require.NoError(t, err)
	require.NotEqual(t, got, got2022)
}

func TestFeeFlow_Ledger_CreateAssociatedTokenAccountIdempotent(t *testing.T) {
	t.Parallel()

	payer := solana.NewWallet().PublicKey()
	wallet := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	ata, err := AssociatedTokenAddress(wallet, mint, solana.Token2022ProgramID)
	require.NoError(t, err)

	ix := CreateAssociatedTokenAccountIdempotent(payer, wallet, mint, ata, solana.Token2022ProgramID)
	require.Equal(t, solana.SPLAssociatedTokenAccountProgramID, ix.ProgramID())

	data, err := ix.Data()
	require.NoError(t, err)
	require.Equal(t, []byte{1}, data, "CreateIdempotent discriminator")

	accounts := ix.Accounts()
	require.Len(t, accounts, 6)
	require.Equal(t, payer, accounts[0].PublicKey)
	require.True(t, accounts[0].IsSigner)
	require.Equal(t, ata, accounts[1].PublicKey)
	require.Equal(t, solana.Token2022ProgramID, accounts[5].PublicKey)
}

func TestFeeFlow_Ledger_BuildSigned(t *testing.T) {
	t.Parallel()

	payerKey, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	extraKey, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	payer := NewWallet(payerKey)
	extra := NewWallet(extraKey)

	blockhash := solana.Hash{9, 9, 9}
	tx, err := BuildSigned(context.Background(), staticBlockhash{hash: blockhash}, payer, []solana.Instruction{
		SystemTransfer(1_000, payer.PublicKey(), extra.PublicKey()),
		SystemTransfer(2_000, extra.PublicKey(), payer.PublicKey()),
	}, extra)
	require.NoError(t, err)

	require.Equal(t, blockhash, tx.Message.RecentBlockhash)
	require.Equal(t, payer.PublicKey(), tx.Message.AccountKeys[0], "first wallet pays the fee")
	require.Len(t, tx.Signatures, 2)
	require.NoError(t, tx.VerifySignatures())
}

func TestFeeFlow_Ledger_BuildSigned_MissingSigner(t *testing.T) {
	t.Parallel()

	payerKey, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	payer := NewWallet(payerKey)
	stranger := solana.NewWallet().PublicKey()

	_, err = BuildSigned(context.Background(), staticBlockhash{}, payer, []solana.Instruction{
		SystemTransfer(1_000, stranger, payer.PublicKey()),
	})
	require.Error(t, err, "a required signer without key material must fail")
}
