package sentinel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/meridianlabs/feeflow/pkg/executor"
	"github.com/meridianlabs/feeflow/pkg/ledger"
	"github.com/meridianlabs/feeflow/pkg/metrics"
)

// ErrInsufficientOperatingFunds means the operating wallet cannot cover a
// required top-up plus its own minimum. Fatal for the cycle, no retry.
var ErrInsufficientOperatingFunds = errors.New("operating wallet cannot cover top-up")

// Ledger is the read surface the sentinel needs.
type Ledger interface {
	GetBalance(ctx context.Context, addr solana.PublicKey) (uint64, error)
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
}

// Exec submits transfers through the execution core.
type Exec interface {
	Execute(ctx context.Context, label string, tier executor.Tier, build executor.BuildFunc) (*executor.Result, error)
}

type Config struct {
	Logger   *slog.Logger
	Ledger   Ledger
	Executor Exec

	// Operating pays for top-ups; Collector signs sweeps back.
	Operating *ledger.Wallet
	Collector *ledger.Wallet

	// Operating band for the fee collector's lamport balance.
	MinBalance    uint64
	TargetBalance uint64

	// OperatingMin is the floor the operating wallet must retain after a
	// top-up.
	OperatingMin uint64

	// FastTierMax is the largest transfer still confirmed at the fast
	// tier; bigger transfers use standard.
	FastTierMax uint64

	// SweepExcess returns balance above the target to the operating
	// wallet.
	SweepExcess bool
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
	if cfg.Operating == nil {
		return errors.New("operating wallet is required")
	}
	if cfg.Collector == nil {
		return errors.New("collector wallet is required")
	}
	if cfg.MinBalance == 0 || cfg.TargetBalance == 0 {
		return errors.New("balance thresholds are required")
	}
	if cfg.TargetBalance < cfg.MinBalance {
		return errors.New("target balance must be at least min balance")
	}
	return nil
}

// Adjustment describes one sentinel transfer.
type Adjustment struct {
	Direction string // "topup" or "sweep"
	Lamports  uint64
	Signature solana.Signature
}

// Sentinel keeps the fee collector's lamport balance inside the configured
// band. Both directions are idempotent triggers: in-band calls are no-ops.
type Sentinel struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Sentinel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Sentinel{log: cfg.Logger, cfg: cfg}, nil
}

// EnsureBand reads the collector balance and transfers lamports in or out
// as needed. Returns nil when the balance is already in band.
func (s *Sentinel) EnsureBand(ctx context.Context) (*Adjustment, error) {
	collector := s.cfg.Collector.PublicKey()
	balance, err := s.cfg.Ledger.GetBalance(ctx, collector)
	if err != nil {
		return nil, fmt.Errorf("failed to read collector balance: %w", err)
	}

	switch {
	case balance < s.cfg.MinBalance:
		return s.topUp(ctx, balance)
	case balance > s.cfg.TargetBalance && s.cfg.SweepExcess:
		return s.sweep(ctx, balance)
	default:
		s.log.Debug("sentinel: balance in band", "balance", balance, "min", s.cfg.MinBalance, "target", s.cfg.TargetBalance)
		return nil, nil
	}
}

func (s *Sentinel) topUp(ctx context.Context, balance uint64) (*Adjustment, error) {
	gap := s.cfg.TargetBalance - balance

	operating := s.cfg.Operating.PublicKey()
	opBalance, err := s.cfg.Ledger.GetBalance(ctx, operating)
	if err != nil {
		return nil, fmt.Errorf("failed to read operating balance: %w", err)
	}
	if opBalance < gap+s.cfg.OperatingMin {
		return nil, fmt.Errorf("%w: need %d plus floor %d, have %d",
			ErrInsufficientOperatingFunds, gap, s.cfg.OperatingMin, opBalance)
	}

	s.log.Info("sentinel: topping up collector", "balance", balance, "gap", gap, "target", s.cfg.TargetBalance)
	res, err := s.cfg.Executor.Execute(ctx, "sentinel_topup", s.tierFor(gap), func(ctx context.Context) (*solana.Transaction, error) {
		return ledger.BuildSigned(ctx, s.cfg.Ledger, s.cfg.Operating, []solana.Instruction{
			ledger.SystemTransfer(gap, operating, s.cfg.Collector.PublicKey()),
		})
	})
	if err != nil {
		return nil, err
	}
	metrics.SentinelTopUps.WithLabelValues("topup").Inc()
	return &Adjustment{Direction: "topup", Lamports: gap, Signature: res.Signature}, nil
}

func (s *Sentinel) sweep(ctx context.Context, balance uint64) (*Adjustment, error) {
	excess := balance - s.cfg.TargetBalance

	s.log.Info("sentinel: sweeping excess to operating wallet", "balance", balance, "excess", excess)
	res, err := s.cfg.Executor.Execute(ctx, "sentinel_sweep", s.tierFor(excess), func(ctx context.Context) (*solana.Transaction, error) {
		return ledger.BuildSigned(ctx, s.cfg.Ledger, s.cfg.Collector, []solana.Instruction{
			ledger.SystemTransfer(excess, s.cfg.Collector.PublicKey(), s.cfg.Operating.PublicKey()),
		})
	})
	if err != nil {
		return nil, err
	}
	metrics.SentinelTopUps.WithLabelValues("sweep").Inc()
	return &Adjustment{Direction: "sweep", Lamports: excess, Signature: res.Signature}, nil
}

func (s *Sentinel) tierFor(lamports uint64) executor.Tier {
	if s.cfg.FastTierMax > 0 && lamports <= s.cfg.FastTierMax {
		return executor.TierFast
	}
	return executor.TierStandard
}
