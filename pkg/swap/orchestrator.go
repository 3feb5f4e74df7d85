package swap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"

	"github.com/meridianlabs/feeflow/pkg/executor"
	"github.com/meridianlabs/feeflow/pkg/ledger"
	"github.com/meridianlabs/feeflow/pkg/metrics"
	"github.com/meridianlabs/feeflow/utils/pkg/retry"
)

// ErrPriceImpactTooHigh rejects a quote whose price impact exceeds the
// configured cap. Re-quoted under the backoff policy before the hop aborts;
// an over-cap quote is never submitted.
var ErrPriceImpactTooHigh = errors.New("quote price impact too high")

// Router is the external swap-routing service.
type Router interface {
	Quote(ctx context.Context, req QuoteRequest) (*Quote, error)
	SwapTransaction(ctx context.Context, quote *Quote, payer solana.PublicKey) (*solana.Transaction, error)
}

// Exec submits swap transactions through the execution core.
type Exec interface {
	Execute(ctx context.Context, label string, tier executor.Tier, build executor.BuildFunc) (*executor.Result, error)
}

// Balances reads token-account balances.
type Balances interface {
	TokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
}

type Config struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Router   Router
	Executor Exec
	Balances Balances

	// Operating owns the token accounts the swaps move through and signs
	// the swap transactions.
	Operating *ledger.Wallet

	FeeMint          solana.PublicKey
	IntermediateMint solana.PublicKey
	RewardMint       solana.PublicKey

	// Token programs the intermediate and reward mints live under, for
	// ATA derivation.
	IntermediateTokenProgram solana.PublicKey
	RewardTokenProgram       solana.PublicKey

	// SlippageBps is the per-hop max acceptable slippage in basis points.
	SlippageBps int

	// MaxPriceImpactPct rejects quotes whose price impact percentage
	// exceeds it. Zero disables the check.
	MaxPriceImpactPct float64

	// QuoteRetry bounds retries of unavailable quotes.
	QuoteRetry retry.Policy
}

const defaultSlippageBps = 50

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Router == nil {
		return errors.New("router is required")
	}
	if cfg.Executor == nil {
		return errors.New("executor is required")
	}
	if cfg.Balances == nil {
		return errors.New("balance reader is required")
	}
	if cfg.Operating == nil {
		return errors.New("operating wallet is required")
	}
	if cfg.FeeMint.IsZero() || cfg.IntermediateMint.IsZero() || cfg.RewardMint.IsZero() {
		return errors.New("fee, intermediate, and reward mints are required")
	}
	if cfg.SlippageBps <= 0 {
		cfg.SlippageBps = defaultSlippageBps
	}
	if cfg.IntermediateTokenProgram.IsZero() {
		cfg.IntermediateTokenProgram = solana.TokenProgramID
	}
	if cfg.RewardTokenProgram.IsZero() {
		cfg.RewardTokenProgram = solana.TokenProgramID
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if err := cfg.QuoteRetry.Validate(); err != nil {
		return fmt.Errorf("invalid quote retry policy: %w", err)
	}
	return nil
}

// HopResult records one executed swap hop.
type HopResult struct {
	Label       string
	InAmount    uint64
	ExpectedOut uint64
	Signature   solana.Signature
	DryRun      bool
}

// Conversion is the outcome of a full fee-token to reward-asset conversion.
type Conversion struct {
	Hops []HopResult

	// RewardAmount is the reward-asset balance delta actually observed,
	// which becomes the cycle's reward pool. A dry run moves no funds, so
	// it carries the quoted output instead.
	RewardAmount uint64
}

// Orchestrator converts the fee-bearing token into the reward asset via two
// hops through the intermediate asset. A hop failure aborts the conversion;
// intermediate left behind by an interrupted run is folded into the next
// conversion because hop two always swaps the full idle intermediate
// balance.
type Orchestrator struct {
	log *slog.Logger
	cfg Config
}

func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{log: cfg.Logger, cfg: cfg}, nil
}

// Convert swaps amount of the fee token into the reward asset and reports
// the reward-asset quantity obtained.
func (o *Orchestrator) Convert(ctx context.Context, amount uint64) (*Conversion, error) {
	operating := o.cfg.Operating.PublicKey()

	intermediateATA, err := ledger.AssociatedTokenAddress(operating, o.cfg.IntermediateMint, o.cfg.IntermediateTokenProgram)
	if err != nil {
		return nil, err
	}
	rewardATA, err := ledger.AssociatedTokenAddress(operating, o.cfg.RewardMint, o.cfg.RewardTokenProgram)
	if err != nil {
		return nil, err
	}

	rewardBefore, err := o.cfg.Balances.TokenAccountBalance(ctx, rewardATA)
	if err != nil {
		return nil, fmt.Errorf("failed to read reward balance: %w", err)
	}

	conv := &Conversion{}

	hop1, err := o.hop(ctx, "swap_hop1", o.cfg.FeeMint, o.cfg.IntermediateMint, amount)
	if err != nil {
		return nil, err
	}
	conv.Hops = append(conv.Hops, *hop1)

	// A dry-run hop moves no funds, so the balance reads below would see
	// the pre-hop state; carry the quoted amounts through instead.
	intermediateBalance := hop1.ExpectedOut
	if !hop1.DryRun {
		// Swap the full intermediate balance, not the quoted output: this
		// also recovers intermediate stranded by a previously interrupted
		// cycle.
		intermediateBalance, err = o.cfg.Balances.TokenAccountBalance(ctx, intermediateATA)
		if err != nil {
			return nil, fmt.Errorf("failed to read intermediate balance: %w", err)
		}
		if intermediateBalance == 0 {
			return nil, fmt.Errorf("no intermediate balance after hop one (signature %s)", hop1.Signature)
		}
	}

	hop2, err := o.hop(ctx, "swap_hop2", o.cfg.IntermediateMint, o.cfg.RewardMint, intermediateBalance)
	if err != nil {
		return nil, err
	}
	conv.Hops = append(conv.Hops, *hop2)

	if hop2.DryRun {
		conv.RewardAmount = hop2.ExpectedOut
	} else {
		rewardAfter, err := o.cfg.Balances.TokenAccountBalance(ctx, rewardATA)
		if err != nil {
			return nil, fmt.Errorf("failed to read reward balance: %w", err)
		}
		if rewardAfter < rewardBefore {
			return nil, fmt.Errorf("reward balance decreased during conversion: %d -> %d", rewardBefore, rewardAfter)
		}
		conv.RewardAmount = rewardAfter - rewardBefore
	}

	o.log.Info("swap: conversion complete",
		"fee_in", amount,
		"intermediate", intermediateBalance,
		"reward_out", conv.RewardAmount)
	return conv, nil
}

func (o *Orchestrator) hop(ctx context.Context, label string, in, out solana.PublicKey, amount uint64) (*HopResult, error) {
	var quote *Quote
	err := retry.Do(ctx, o.cfg.Clock, o.cfg.QuoteRetry, func() error {
		q, qErr := o.cfg.Router.Quote(ctx, QuoteRequest{
			InputMint:   in,
			OutputMint:  out,
			Amount:      amount,
			SlippageBps: o.cfg.SlippageBps,
		})
		if qErr != nil {
			return qErr
		}
		// Impact above the cap is retried under the same backoff policy:
		// a thin pool can deepen between attempts and yield a usable
		// fresh route.
		if o.cfg.MaxPriceImpactPct > 0 && q.PriceImpactPct > o.cfg.MaxPriceImpactPct {
			return fmt.Errorf("%w: %.4f%% > %.4f%%",
				ErrPriceImpactTooHigh, q.PriceImpactPct, o.cfg.MaxPriceImpactPct)
		}
		quote = q
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrPriceImpactTooHigh) {
			metrics.SwapHopTotal.WithLabelValues(label, "impact_rejected").Inc()
		} else {
			metrics.SwapHopTotal.WithLabelValues(label, "quote_failed").Inc()
		}
		return nil, fmt.Errorf("%s: %w", label, err)
	}

	o.log.Info("swap: executing hop",
		"label", label,
		"in_mint", in, "out_mint", out,
		"amount", amount,
		"expected_out", quote.OutAmount,
		"price_impact_pct", quote.PriceImpactPct)

	res, err := o.cfg.Executor.Execute(ctx, label, executor.TierStandard, func(ctx context.Context) (*solana.Transaction, error) {
		// Fetch a fresh executable per attempt so retries carry a
		// current blockhash.
		tx, err := o.cfg.Router.SwapTransaction(ctx, quote, o.cfg.Operating.PublicKey())
		if err != nil {
			return nil, err
		}
		if err := o.cfg.Operating.Sign(tx); err != nil {
			return nil, err
		}
		return tx, nil
	})
	if err != nil {
		metrics.SwapHopTotal.WithLabelValues(label, "failed").Inc()
		return nil, fmt.Errorf("%s: %w", label, err)
	}

	metrics.SwapHopTotal.WithLabelValues(label, "success").Inc()
	return &HopResult{
		Label:       label,
		InAmount:    amount,
		ExpectedOut: quote.OutAmount,
		Signature:   res.Signature,
		DryRun:      res.DryRun,
	}, nil
}
