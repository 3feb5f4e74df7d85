package disburse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/meridianlabs/feeflow/pkg/executor"
	"github.com/meridianlabs/feeflow/pkg/holders"
	"github.com/meridianlabs/feeflow/pkg/ledger"
	"github.com/meridianlabs/feeflow/pkg/metrics"
)

// ErrPartialFailure means a batch failed after earlier batches succeeded.
// Completed batches are never rolled back; the unpaid remainder is reported
// for manual or next-cycle handling.
var ErrPartialFailure = errors.New("disbursement partially failed")

// Ledger is the network surface the engine needs.
type Ledger interface {
	AccountExists(ctx context.Context, addr solana.PublicKey) (bool, error)
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
}

// Exec submits batch transfers through the execution core.
type Exec interface {
	Execute(ctx context.Context, label string, tier executor.Tier, build executor.BuildFunc) (*executor.Result, error)
}

type Config struct {
	Logger   *slog.Logger
	Ledger   Ledger
	Executor Exec

	// Operating pays fees and owns the reward source token account.
	Operating *ledger.Wallet

	RewardMint         solana.PublicKey
	RewardDecimals     uint8
	RewardTokenProgram solana.PublicKey

	// BatchSize is the number of allocations combined into one transfer.
	BatchSize int

	// LargeTransferThreshold switches a batch to the secure tier when its
	// total value exceeds it.
	LargeTransferThreshold uint64
}

const defaultBatchSize = 5

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger client is required")
	}
	if cfg.Executor == nil {
		return errors.New("executor is required")
	}
	if cfg.Operating == nil {
		return errors.New("operating wallet is required")
	}
	if cfg.RewardMint.IsZero() {
		return errors.New("reward mint is required")
	}
	if cfg.RewardTokenProgram.IsZero() {
		cfg.RewardTokenProgram = solana.TokenProgramID
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return nil
}

// BatchOutcome records one batch's terminal state.
type BatchOutcome struct {
	Index       int
	Allocations []holders.Allocation
	Total       uint64
	Tier        executor.Tier
	Signature   solana.Signature
	Err         error
}

// Engine partitions allocations into fixed-size batches and disburses them
// strictly sequentially: batches share the operating wallet's fee-payer
// sequencing state, so running them in parallel could reorder conflicting
// transactions.
type Engine struct {
	log *slog.Logger
	cfg Config
}

func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{log: cfg.Logger, cfg: cfg}, nil
}

// Disburse pays out the allocations. On a batch failure it stops, returns
// every outcome so far including the failed one, and reports
// ErrPartialFailure; later batches are never attempted.
func (e *Engine) Disburse(ctx context.Context, allocations []holders.Allocation) ([]BatchOutcome, error) {
	if len(allocations) == 0 {
		return nil, nil
	}

	operating := e.cfg.Operating.PublicKey()
	source, err := ledger.AssociatedTokenAddress(operating, e.cfg.RewardMint, e.cfg.RewardTokenProgram)
	if err != nil {
		return nil, err
	}

	batches := partition(allocations, e.cfg.BatchSize)
	outcomes := make([]BatchOutcome, 0, len(batches))

	for i, batch := range batches {
		outcome, err := e.disburseBatch(ctx, i, batch, source)
		outcomes = append(outcomes, *outcome)
		if err != nil {
			metrics.BatchTotal.WithLabelValues("failed").Inc()
			e.log.Error("disburse: batch failed, stopping",
				"batch", i, "of", len(batches), "error", err)
			return outcomes, fmt.Errorf("%w: batch %d of %d: %v", ErrPartialFailure, i, len(batches), err)
		}
		metrics.BatchTotal.WithLabelValues("success").Inc()
		metrics.RewardsDistributed.Add(float64(outcome.Total))
	}
	return outcomes, nil
}

func (e *Engine) disburseBatch(ctx context.Context, index int, batch []holders.Allocation, source solana.PublicKey) (*BatchOutcome, error) {
	operating := e.cfg.Operating.PublicKey()

	var total uint64
	instructions := make([]solana.Instruction, 0, len(batch)*2)
	for _, alloc := range batch {
		ata, err := ledger.AssociatedTokenAddress(alloc.Recipient, e.cfg.RewardMint, e.cfg.RewardTokenProgram)
		if err != nil {
			return &BatchOutcome{Index: index, Allocations: batch, Err: err}, err
		}
		exists, err := e.cfg.Ledger.AccountExists(ctx, ata)
		if err != nil {
			return &BatchOutcome{Index: index, Allocations: batch, Err: err}, err
		}
		if !exists {
			instructions = append(instructions, ledger.CreateAssociatedTokenAccountIdempotent(
				operating, alloc.Recipient, e.cfg.RewardMint, ata, e.cfg.RewardTokenProgram))
		}
		instructions = append(instructions, ledger.TokenTransferChecked(
			e.cfg.RewardTokenProgram, alloc.Amount, e.cfg.RewardDecimals,
			source, e.cfg.RewardMint, ata, operating))
		total += alloc.Amount
	}

	tier := executor.TierStandard
	if e.cfg.LargeTransferThreshold > 0 && total > e.cfg.LargeTransferThreshold {
		tier = executor.TierSecure
	}

	e.log.Info("disburse: submitting batch",
		"batch", index, "recipients", len(batch), "total", total, "tier", tier)

	res, err := e.cfg.Executor.Execute(ctx, "disburse_batch", tier, func(ctx context.Context) (*solana.Transaction, error) {
		return ledger.BuildSigned(ctx, e.cfg.Ledger, e.cfg.Operating, instructions)
	})
	if err != nil {
		return &BatchOutcome{Index: index, Allocations: batch, Total: total, Tier: tier, Err: err}, err
	}

	// Every allocation in the batch settles under the same signature.
	return &BatchOutcome{
		Index:       index,
		Allocations: batch,
		Total:       total,
		Tier:        tier,
		Signature:   res.Signature,
	}, nil
}

func partition(allocations []holders.Allocation, size int) [][]holders.Allocation {
	var batches [][]holders.Allocation
	for start := 0; start < len(allocations); start += size {
		end := min(start+size, len(allocations))
		batches = append(batches, allocations[start:end])
	}
	return batches
}
