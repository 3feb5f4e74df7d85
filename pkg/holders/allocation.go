package holders

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/holiman/uint256"
)

// Allocation is one holder's integer share of a reward pool.
type Allocation struct {
	Recipient solana.PublicKey
	Amount    uint64
}

// Allocate computes each holder's share of the pool as
// floor(balance * pool / totalHeld) in one 256-bit multiply-then-divide, so
// no rounding error compounds across stages. The returned shortfall is the
// remainder the floors leave undistributed; it is strictly less than the
// holder count. Holders whose floor share is zero are omitted from the
// result but still contribute to the shortfall.
func (s *Snapshot) Allocate(pool uint64) ([]Allocation, uint64, error) {
	if len(s.Holders) == 0 || pool == 0 {
		return nil, pool, nil
	}
	if s.TotalHeld == 0 {
		return nil, pool, nil
	}

	total := uint256.NewInt(s.TotalHeld)
	poolBig := uint256.NewInt(pool)

	allocations := make([]Allocation, 0, len(s.Holders))
	var distributed uint64
	for _, h := range s.Holders {
		product, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(h.Balance), poolBig)
		if overflow {
			return nil, 0, fmt.Errorf("allocation overflow for %s: balance %d * pool %d", h.Owner, h.Balance, pool)
		}
		share, overflow := new(uint256.Int).Div(product, total).Uint64WithOverflow()
		if overflow {
			return nil, 0, fmt.Errorf("allocation share for %s exceeds uint64", h.Owner)
		}
		if share == 0 {
			continue
		}
		allocations = append(allocations, Allocation{Recipient: h.Owner, Amount: share})
		distributed += share
	}

	if distributed > pool {
		return nil, 0, fmt.Errorf("allocations %d exceed pool %d", distributed, pool)
	}
	return allocations, pool - distributed, nil
}
