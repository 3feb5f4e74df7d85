package distributor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"

	"github.com/meridianlabs/feeflow/pkg/disburse"
	"github.com/meridianlabs/feeflow/pkg/executor"
	"github.com/meridianlabs/feeflow/pkg/holders"
	"github.com/meridianlabs/feeflow/pkg/ledger"
	"github.com/meridianlabs/feeflow/pkg/metrics"
	"github.com/meridianlabs/feeflow/pkg/sentinel"
	"github.com/meridianlabs/feeflow/pkg/swap"
)

// Cycle states.
const (
	StatusSucceeded = "succeeded"
	StatusNoop      = "noop"
	StatusFailed    = "failed"
)

// Cycle aggregates everything one distribution run produced. It is owned by
// the supervisor and discarded after the run; durable records are logs and
// metrics only.
type Cycle struct {
	StartedAt  time.Time               `json:"startedAt"`
	FinishedAt time.Time               `json:"finishedAt"`
	Status     string                  `json:"status"`
	Reason     string                  `json:"reason,omitempty"`
	Harvested  uint64                  `json:"harvested"`
	RewardPool uint64                  `json:"rewardPool"`
	Holders    int                     `json:"holders"`
	TotalHeld  uint64                  `json:"totalHeld"`
	Shortfall  uint64                  `json:"shortfall"`
	Conversion *swap.Conversion        `json:"-"`
	Batches    []disburse.BatchOutcome `json:"-"`
	BatchCount int                     `json:"batchCount"`
}

// BandKeeper keeps the collector's native balance in band.
type BandKeeper interface {
	EnsureBand(ctx context.Context) (*sentinel.Adjustment, error)
}

// SnapshotTaker captures the holder set.
type SnapshotTaker interface {
	Take(ctx context.Context, excluded []solana.PublicKey) (*holders.Snapshot, error)
}

// Converter swaps harvested fees into the reward asset.
type Converter interface {
	Convert(ctx context.Context, amount uint64) (*swap.Conversion, error)
}

// Disburser pays allocations out in batches.
type Disburser interface {
	Disburse(ctx context.Context, allocations []holders.Allocation) ([]disburse.BatchOutcome, error)
}

// Ledger is the read surface the harvest step needs.
type Ledger interface {
	TokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
}

// Exec submits the harvest transfer.
type Exec interface {
	Execute(ctx context.Context, label string, tier executor.Tier, build executor.BuildFunc) (*executor.Result, error)
}

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	Ledger      Ledger
	Executor    Exec
	Sentinel    BandKeeper
	Snapshotter SnapshotTaker
	Swapper     Converter
	Disburser   Disburser

	// Operating pays fees; Collector owns the fee-collection token
	// account that accumulates transfer fees.
	Operating *ledger.Wallet
	Collector *ledger.Wallet

	FeeMint         solana.PublicKey
	FeeDecimals     uint8
	FeeTokenProgram solana.PublicKey

	// MinHarvest skips the cycle cleanly when the accumulated fees are
	// not worth a conversion.
	MinHarvest uint64

	// Excluded addresses (owners or token accounts) never receive
	// rewards: fee collector, treasury, pool vaults.
	Excluded []solana.PublicKey
}

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
	if cfg.Sentinel == nil {
		return errors.New("sentinel is required")
	}
	if cfg.Snapshotter == nil {
		return errors.New("snapshotter is required")
	}
	if cfg.Swapper == nil {
		return errors.New("swap orchestrator is required")
	}
	if cfg.Disburser == nil {
		return errors.New("disburser is required")
	}
	if cfg.Operating == nil || cfg.Collector == nil {
		return errors.New("operating and collector wallets are required")
	}
	if cfg.FeeMint.IsZero() {
		return errors.New("fee mint is required")
	}
	if cfg.FeeTokenProgram.IsZero() {
		cfg.FeeTokenProgram = solana.Token2022ProgramID
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Distributor runs one full fee-to-reward distribution cycle: balance
// sentinel, fee harvest, holder snapshot, two-hop swap, allocation, batched
// disbursement.
type Distributor struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Distributor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Distributor{log: cfg.Logger, cfg: cfg}, nil
}

// RunDistributionCycle executes one cycle. The returned Cycle always
// carries a terminal status; err is non-nil exactly when the status is
// failed.
func (d *Distributor) RunDistributionCycle(ctx context.Context) (*Cycle, error) {
	cycle := &Cycle{StartedAt: d.cfg.Clock.Now()}
	err := d.run(ctx, cycle)
	cycle.FinishedAt = d.cfg.Clock.Now()

	if err != nil {
		cycle.Status = StatusFailed
		cycle.Reason = err.Error()
		metrics.CycleTotal.WithLabelValues(StatusFailed).Inc()
	} else {
		if cycle.Status == "" {
			cycle.Status = StatusSucceeded
		}
		metrics.CycleTotal.WithLabelValues(cycle.Status).Inc()
	}
	metrics.CycleDuration.Observe(cycle.FinishedAt.Sub(cycle.StartedAt).Seconds())

	d.log.Info("distributor: cycle finished",
		"status", cycle.Status,
		"harvested", cycle.Harvested,
		"reward_pool", cycle.RewardPool,
		"holders", cycle.Holders,
		"batches", cycle.BatchCount,
		"shortfall", cycle.Shortfall,
		"duration", cycle.FinishedAt.Sub(cycle.StartedAt).String())
	return cycle, err
}

func (d *Distributor) run(ctx context.Context, cycle *Cycle) error {
	// Keep the collector funded for fees before anything else.
	if _, err := d.cfg.Sentinel.EnsureBand(ctx); err != nil {
		return fmt.Errorf("balance sentinel: %w", err)
	}

	harvested, err := d.harvest(ctx)
	if err != nil {
		return fmt.Errorf("harvest: %w", err)
	}
	cycle.Harvested = harvested
	if harvested < d.cfg.MinHarvest {
		d.log.Info("distributor: harvest below minimum, skipping cycle",
			"harvested", harvested, "min", d.cfg.MinHarvest)
		cycle.Status = StatusNoop
		return nil
	}

	snapshot, err := d.cfg.Snapshotter.Take(ctx, d.cfg.Excluded)
	if err != nil {
		return fmt.Errorf("holder snapshot: %w", err)
	}
	cycle.Holders = len(snapshot.Holders)
	cycle.TotalHeld = snapshot.TotalHeld
	if len(snapshot.Holders) == 0 {
		d.log.Info("distributor: no eligible holders, skipping cycle")
		cycle.Status = StatusNoop
		return nil
	}

	conv, err := d.cfg.Swapper.Convert(ctx, harvested)
	if err != nil {
		return fmt.Errorf("swap: %w", err)
	}
	cycle.Conversion = conv
	cycle.RewardPool = conv.RewardAmount

	allocations, shortfall, err := snapshot.Allocate(conv.RewardAmount)
	if err != nil {
		return fmt.Errorf("allocation: %w", err)
	}
	cycle.Shortfall = shortfall
	metrics.AllocationShortfall.Add(float64(shortfall))
	if len(allocations) == 0 {
		d.log.Info("distributor: reward pool too small for any allocation",
			"pool", conv.RewardAmount, "holders", len(snapshot.Holders))
		cycle.Status = StatusNoop
		return nil
	}

	outcomes, err := d.cfg.Disburser.Disburse(ctx, allocations)
	cycle.Batches = outcomes
	cycle.BatchCount = len(outcomes)
	if err != nil {
		return fmt.Errorf("disbursement: %w", err)
	}
	return nil
}

// harvest moves accumulated transfer fees from the collector's fee-token
// account into the operating wallet's, and returns the operating balance —
// including any fee tokens idle from a previously interrupted cycle.
func (d *Distributor) harvest(ctx context.Context) (uint64, error) {
	operating := d.cfg.Operating.PublicKey()
	collector := d.cfg.Collector.PublicKey()

	collectorATA, err := ledger.AssociatedTokenAddress(collector, d.cfg.FeeMint, d.cfg.FeeTokenProgram)
	if err != nil {
		return 0, err
	}
	operatingATA, err := ledger.AssociatedTokenAddress(operating, d.cfg.FeeMint, d.cfg.FeeTokenProgram)
	if err != nil {
		return 0, err
	}

	accumulated, err := d.cfg.Ledger.TokenAccountBalance(ctx, collectorATA)
	if err != nil {
		return 0, fmt.Errorf("failed to read collector fee balance: %w", err)
	}

	if accumulated > 0 {
		_, err := d.cfg.Executor.Execute(ctx, "harvest", executor.TierStandard, func(ctx context.Context) (*solana.Transaction, error) {
			instructions := []solana.Instruction{
				ledger.CreateAssociatedTokenAccountIdempotent(
					operating, operating, d.cfg.FeeMint, operatingATA, d.cfg.FeeTokenProgram),
				ledger.TokenTransferChecked(
					d.cfg.FeeTokenProgram, accumulated, d.cfg.FeeDecimals,
					collectorATA, d.cfg.FeeMint, operatingATA, collector),
			}
			return ledger.BuildSigned(ctx, d.cfg.Ledger, d.cfg.Operating, instructions, d.cfg.Collector)
		})
		if err != nil {
			return 0, err
		}
		d.log.Info("distributor: harvested fees", "amount", accumulated)
	}

	balance, err := d.cfg.Ledger.TokenAccountBalance(ctx, operatingATA)
	if err != nil {
		return 0, fmt.Errorf("failed to read operating fee balance: %w", err)
	}
	return balance, nil
}
