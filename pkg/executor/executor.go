package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/jonboulle/clockwork"

	"github.com/meridianlabs/feeflow/pkg/metrics"
	"github.com/meridianlabs/feeflow/utils/pkg/retry"
)

// Tier names a (commitment level, timeout) bundle used to decide how long
// to wait for a transaction to be considered settled.
type Tier string

const (
	TierFast     Tier = "fast"
	TierStandard Tier = "standard"
	TierSecure   Tier = "secure"
)

// TierSpec fixes a commitment level and a wall-clock confirmation timeout.
type TierSpec struct {
	Commitment solanarpc.ConfirmationStatusType
	Timeout    time.Duration
}

// DefaultTiers returns the standard tier table.
func DefaultTiers() map[Tier]TierSpec {
	return map[Tier]TierSpec{
		TierFast:     {Commitment: solanarpc.ConfirmationStatusProcessed, Timeout: 30 * time.Second},
		TierStandard: {Commitment: solanarpc.ConfirmationStatusConfirmed, Timeout: 60 * time.Second},
		TierSecure:   {Commitment: solanarpc.ConfirmationStatusFinalized, Timeout: 2 * time.Minute},
	}
}

// commitmentRank orders confirmation statuses so a stronger status
// satisfies a weaker requirement.
func commitmentRank(s solanarpc.ConfirmationStatusType) int {
	switch s {
	case solanarpc.ConfirmationStatusProcessed:
		return 1
	case solanarpc.ConfirmationStatusConfirmed:
		return 2
	case solanarpc.ConfirmationStatusFinalized:
		return 3
	default:
		return 0
	}
}

// Ledger is the network surface the executor needs.
type Ledger interface {
	Simulate(ctx context.Context, tx *solana.Transaction) error
	Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	SignatureStatus(ctx context.Context, sig solana.Signature) (solanarpc.ConfirmationStatusType, error)
}

// BuildFunc assembles and signs the transaction for one attempt. It is
// called again on retry so every attempt carries a fresh blockhash.
type BuildFunc func(ctx context.Context) (*solana.Transaction, error)

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Ledger Ledger
	Retry  retry.Policy

	// PollInterval is the confirmation polling cadence.
	PollInterval time.Duration

	// DryRun simulates but never submits.
	DryRun bool

	// Tiers overrides the default tier table.
	Tiers map[Tier]TierSpec
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger client is required")
	}
	if err := cfg.Retry.Validate(); err != nil {
		return fmt.Errorf("invalid retry policy: %w", err)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Tiers == nil {
		cfg.Tiers = DefaultTiers()
	}
	return nil
}

// Result is the terminal outcome of a successful execution.
type Result struct {
	Signature solana.Signature
	Attempts  int
	Tier      Tier
	DryRun    bool
}

// Executor simulates, submits, confirms, and retries a single operation
// against the ledger. Simulation failures abort immediately; submission and
// confirmation failures retry with exponential backoff up to the policy cap.
type Executor struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Executor{log: cfg.Logger, cfg: cfg}, nil
}

// Execute runs one operation under the given label and confirmation tier.
func (e *Executor) Execute(ctx context.Context, label string, tier Tier, build BuildFunc) (*Result, error) {
	spec, ok := e.cfg.Tiers[tier]
	if !ok {
		return nil, fmt.Errorf("unknown confirmation tier %q", tier)
	}

	tx, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s transaction: %w", label, err)
	}

	if err := e.cfg.Ledger.Simulate(ctx, tx); err != nil {
		metrics.ExecutionAttempts.WithLabelValues(label, "simulation_failed").Observe(0)
		return nil, &SimulationError{Label: label, Err: err}
	}

	if e.cfg.DryRun {
		e.log.Info("executor: dry run, skipping submission", "label", label, "tier", tier)
		return &Result{Tier: tier, DryRun: true}, nil
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < e.cfg.Retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := e.cfg.Retry.Backoff(attempt - 1)
			e.log.Warn("executor: retrying", "label", label, "attempt", attempt+1, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-e.cfg.Clock.After(delay):
			}
			// Rebuild so the retry carries a fresh blockhash.
			tx, err = build(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to rebuild %s transaction: %w", label, err)
			}
		}
		attempts = attempt + 1

		sig, err := e.cfg.Ledger.Send(ctx, tx)
		if err != nil {
			if !retry.IsRetryable(err) {
				metrics.ExecutionAttempts.WithLabelValues(label, "failed").Observe(float64(attempts))
				return nil, &ExecutionError{Label: label, Attempts: attempts, Err: err}
			}
			lastErr = err
			continue
		}

		// Log the signature before waiting so a landed-but-unconfirmed
		// transaction can be reconciled by an operator.
		e.log.Info("executor: submitted", "label", label, "signature", sig, "tier", tier, "attempt", attempts)

		if err := e.confirm(ctx, sig, spec); err != nil {
			if errors.Is(err, ErrConfirmationTimeout) || retry.IsRetryable(err) {
				lastErr = err
				continue
			}
			metrics.ExecutionAttempts.WithLabelValues(label, "failed").Observe(float64(attempts))
			return nil, &ExecutionError{Label: label, Attempts: attempts, Err: err}
		}

		metrics.ExecutionAttempts.WithLabelValues(label, "success").Observe(float64(attempts))
		e.log.Info("executor: confirmed", "label", label, "signature", sig, "tier", tier, "attempts", attempts)
		return &Result{Signature: sig, Attempts: attempts, Tier: tier}, nil
	}

	metrics.ExecutionAttempts.WithLabelValues(label, "exhausted").Observe(float64(attempts))
	return nil, &ExecutionError{Label: label, Attempts: attempts, Err: lastErr}
}

// confirm polls the signature status until the tier's commitment is reached
// or its timeout elapses. A timeout is a retryable failure, not success:
// there is no way to distinguish a dropped submission from a pending one.
func (e *Executor) confirm(ctx context.Context, sig solana.Signature, spec TierSpec) error {
	deadline := e.cfg.Clock.Now().Add(spec.Timeout)
	want := commitmentRank(spec.Commitment)

	for {
		status, err := e.cfg.Ledger.SignatureStatus(ctx, sig)
		if err != nil {
			return err
		}
		if commitmentRank(status) >= want {
			return nil
		}
		if !e.cfg.Clock.Now().Before(deadline) {
			return fmt.Errorf("%w after %s waiting for %s", ErrConfirmationTimeout, spec.Timeout, spec.Commitment)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.cfg.Clock.After(e.cfg.PollInterval):
		}
	}
}
