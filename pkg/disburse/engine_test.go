package disburse

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/feeflow/pkg/executor"
	"github.com/meridianlabs/feeflow/pkg/holders"
	"github.com/meridianlabs/feeflow/pkg/ledger"
	fftesting "github.com/meridianlabs/feeflow/utils/pkg/testing"
)

type mockLedger struct {
	missing map[solana.PublicKey]bool
	checked []solana.PublicKey
}

func (m *mockLedger) AccountExists(ctx context.Context, addr solana.PublicKey) (bool, error) {
	m.checked = append(m.checked, addr)
	return !m.missing[addr], nil
}

func (m *mockLedger) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	return solana.Hash{}, nil
}

type mockExec struct {
	calls   int
	failOn  map[int]error // 1-based call index
	tiers   []executor.Tier
	txs     []*solana.Transaction
	sigs    []solana.Signature
	nextSig byte
}

func (m *mockExec) Execute(ctx context.Context, label string, tier executor.Tier, build executor.BuildFunc) (*executor.Result, error) {
	m.calls++
	m.tiers = append(m.tiers, tier)
	if err := m.failOn[m.calls]; err != nil {
		return nil, err
	}
	tx, err := build(ctx)
	if err != nil {
		return nil, err
	}
	m.txs = append(m.txs, tx)
	m.nextSig++
	sig := solana.Signature{m.nextSig}
	m.sigs = append(m.sigs, sig)
	return &executor.Result{Signature: sig, Attempts: 1, Tier: tier}, nil
}

func newTestEngine(t *testing.T, led Ledger, exec Exec, mutate func(*Config)) *Engine {
	t.Helper()

	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	cfg := Config{
		Logger:         fftesting.NewLogger(),
		Ledger:         led,
		Executor:       exec,
		Operating:      ledger.NewWallet(key),
		RewardMint:     solana.NewWallet().PublicKey(),
		RewardDecimals: 9,
		BatchSize:      5,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := NewEngine(cfg)
	require.NoError(t, err)
	return e
}

func makeAllocations(n int, amount uint64) []holders.Allocation {
	allocations := make([]holders.Allocation, n)
	for i := range allocations {
		allocations[i] = holders.Allocation{
			Recipient: solana.NewWallet().PublicKey(),
			Amount:    amount,
		}
	}
	return allocations
}

func TestFeeFlow_Disburse_PartitionsIntoBatches(t *testing.T) {
	t.Parallel()

	led := &mockLedger{}
	exec := &mockExec{}
	e := newTestEngine(t, led, exec, nil)

	allocations := makeAllocations(12, 100)
	outcomes, err := e.Disburse(context.Background(), allocations)
	require.NoError(t, err)

	require.Len(t, outcomes, 3)
	require.Len(t, outcomes[0].Allocations, 5)
	require.Len(t, outcomes[1].Allocations, 5)
	require.Len(t, outcomes[2].Allocations, 2)
	require.Equal(t, uint64(500), outcomes[0].Total)
	require.Equal(t, uint64(200), outcomes[2].Total)

	// Every allocation in a batch settles under that batch's signature.
	for i, outcome := range outcomes {
		require.Equal(t, i, outcome.Index)
		require.Equal(t, exec.sigs[i], outcome.Signature)
		require.NoError(t, outcome.Err)
	}
}

func TestFeeFlow_Disburse_StopsOnBatchFailure(t *testing.T) {
	t.Parallel()

	led := &mockLedger{}
	boom := errors.New("blockhash not found")
	exec := &mockExec{failOn: map[int]error{2: boom}}
	e := newTestEngine(t, led, exec, nil)

	allocations := makeAllocations(12, 100)
	outcomes, err := e.Disburse(context.Background(), allocations)

	require.ErrorIs(t, err, ErrPartialFailure)
	require.Contains(t, err.Error(), "batch 1 of 3")

	// First batch settled, second failed, third never attempted.
	require.Len(t, outcomes, 2)
	require.NoError(t, outcomes[0].Err)
	require.False(t, outcomes[0].Signature.IsZero())
	require.ErrorIs(t, outcomes[1].Err, boom)
	require.Equal(t, 2, exec.calls)
}

func TestFeeFlow_Disburse_TierByBatchTotal(t *testing.T) {
	t.Parallel()

	led := &mockLedger{}
	exec := &mockExec{}
	e := newTestEngine(t, led, exec, func(cfg *Config) {
		cfg.LargeTransferThreshold = 1_000
	})

	// First batch totals 2500 (secure), second totals 300 (standard).
	allocations := append(makeAllocations(5, 500), makeAllocations(3, 100)...)
	outcomes, err := e.Disburse(context.Background(), allocations)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	require.Equal(t, executor.TierSecure, outcomes[0].Tier)
	require.Equal(t, executor.TierStandard, outcomes[1].Tier)
}

func TestFeeFlow_Disburse_CreatesMissingRecipientAccounts(t *testing.T) {
	t.Parallel()

	allocations := makeAllocations(3, 100)
	rewardMint := solana.NewWallet().PublicKey()
	withMint := func(cfg *Config) { cfg.RewardMint = rewardMint }

	led := &mockLedger{}
	exec := &mockExec{}
	e := newTestEngine(t, led, exec, withMint)

	_, err := e.Disburse(context.Background(), allocations)
	require.NoError(t, err)
	require.Len(t, led.checked, 3, "one existence check per recipient")
	require.Len(t, exec.txs, 1)
	// All recipients exist: one transfer per allocation, no creates.
	require.Len(t, exec.txs[0].Message.Instructions, 3)

	// Same allocations, but the second recipient's token account is missing.
	led2 := &mockLedger{missing: map[solana.PublicKey]bool{led.checked[1]: true}}
	exec2 := &mockExec{}
	e2 := newTestEngine(t, led2, exec2, withMint)
	_, err = e2.Disburse(context.Background(), allocations)
	require.NoError(t, err)
	require.Len(t, exec2.txs, 1)
	// A create-idempotent instruction precedes the missing recipient's
	// transfer.
	require.Len(t, exec2.txs[0].Message.Instructions, 4)
}

func TestFeeFlow_Disburse_EmptyAllocationsIsNoop(t *testing.T) {
	t.Parallel()

	exec := &mockExec{}
	e := newTestEngine(t, &mockLedger{}, exec, nil)

	outcomes, err := e.Disburse(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, outcomes)
	require.Equal(t, 0, exec.calls)
}

func TestFeeFlow_Disburse_DefaultBatchSize(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Logger:     fftesting.NewLogger(),
		Ledger:     &mockLedger{},
		Executor:   &mockExec{},
		Operating:  walletForTest(t),
		RewardMint: solana.NewWallet().PublicKey(),
	}
	require.NoError(t, cfg.Validate())
	require.Equal(t, 5, cfg.BatchSize)
	require.Equal(t, solana.TokenProgramID, cfg.RewardTokenProgram)
}

func walletForTest(t *testing.T) *ledger.Wallet {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return ledger.NewWallet(key)
}

func TestFeeFlow_Disburse_Partition(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		n, size int
		want    []int
	}{
		{0, 5, nil},
		{3, 5, []int{3}},
		{5, 5, []int{5}},
		{12, 5, []int{5, 5, 2}},
		{10, 5, []int{5, 5}},
	} {
		batches := partition(makeAllocations(tc.n, 1), tc.size)
		require.Len(t, batches, len(tc.want), fmt.Sprintf("n=%d", tc.n))
		for i, b := range batches {
			require.Len(t, b, tc.want[i])
		}
	}
}
