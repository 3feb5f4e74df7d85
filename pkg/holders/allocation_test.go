package holders

import (
	"math"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func snapshotOf(balances ...uint64) *Snapshot {
	snap := &Snapshot{}
	for _, b := range balances {
		key := solana.NewWallet().PublicKey()
		snap.Holders = append(snap.Holders, HolderRecord{Owner: key, Account: key, Balance: b})
		snap.TotalHeld += b
	}
	return snap
}

func TestFeeFlow_Holders_Allocate_ExactSplit(t *testing.T) {
	t.Parallel()

	snap := snapshotOf(40, 35, 25)
	allocations, shortfall, err := snap.Allocate(1000)
	require.NoError(t, err)
	require.Len(t, allocations, 3)
	require.Equal(t, uint64(400), allocations[0].Amount)
	require.Equal(t, uint64(350), allocations[1].Amount)
	require.Equal(t, uint64(250), allocations[2].Amount)
	require.Equal(t, uint64(0), shortfall)
}

func TestFeeFlow_Holders_Allocate_FloorLeavesShortfall(t *testing.T) {
	t.Parallel()

	snap := snapshotOf(1, 1, 1)
	allocations, shortfall, err := snap.Allocate(10)
	require.NoError(t, err)
	require.Len(t, allocations, 3)
	for _, a := range allocations {
		require.Equal(t, uint64(3), a.Amount)
	}
	require.Equal(t, uint64(1), shortfall)
}

func TestFeeFlow_Holders_Allocate_SumNeverExceedsPool(t *testing.T) {
	t.Parallel()

	cases := []struct {
		balances []uint64
		pool     uint64
	}{
		{[]uint64{1, 2, 3}, 7},
		{[]uint64{999, 1}, 1},
		{[]uint64{5, 5, 5, 5, 5, 5, 5}, 100},
		{[]uint64{math.MaxUint32, 17, 1 << 40}, 123456789},
		{[]uint64{1}, math.MaxUint64},
	}
	for _, tc := range cases {
		snap := snapshotOf(tc.balances...)
		allocations, shortfall, err := snap.Allocate(tc.pool)
		require.NoError(t, err)

		var sum uint64
		for _, a := range allocations {
			sum += a.Amount
		}
		require.LessOrEqual(t, sum, tc.pool)
		require.Equal(t, tc.pool, sum+shortfall)
		require.Less(t, shortfall, uint64(len(tc.balances)), "shortfall bounded by holder count")
	}
}

func TestFeeFlow_Holders_Allocate_ZeroSharesOmitted(t *testing.T) {
	t.Parallel()

	// The small holder's floor share is zero; it is dropped but its dust
	// stays in the shortfall.
	snap := snapshotOf(1, 1_000_000)
	allocations, shortfall, err := snap.Allocate(10)
	require.NoError(t, err)
	require.Len(t, allocations, 1)
	require.Equal(t, snap.Holders[1].Owner, allocations[0].Recipient)
	require.Equal(t, uint64(9), allocations[0].Amount)
	require.Equal(t, uint64(1), shortfall)
}

func TestFeeFlow_Holders_Allocate_LargeBalances(t *testing.T) {
	t.Parallel()

	// balance * pool overflows uint64 but not uint256.
	snap := snapshotOf(math.MaxUint64/2, math.MaxUint64/2)
	allocations, shortfall, err := snap.Allocate(1_000_000)
	require.NoError(t, err)
	require.Len(t, allocations, 2)
	require.Equal(t, uint64(500_000), allocations[0].Amount)
	require.Equal(t, uint64(500_000), allocations[1].Amount)
	require.Equal(t, uint64(0), shortfall)
}

func TestFeeFlow_Holders_Allocate_EmptyInputs(t *testing.T) {
	t.Parallel()

	allocations, shortfall, err := (&Snapshot{}).Allocate(100)
	require.NoError(t, err)
	require.Nil(t, allocations)
	require.Equal(t, uint64(100), shortfall)

	snap := snapshotOf(10, 20)
	allocations, shortfall, err = snap.Allocate(0)
	require.NoError(t, err)
	require.Nil(t, allocations)
	require.Equal(t, uint64(0), shortfall)
}
