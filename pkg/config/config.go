package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/meridianlabs/feeflow/pkg/ledger"
	"github.com/meridianlabs/feeflow/utils/pkg/retry"
)

// Config is the process-wide configuration, assembled once at startup and
// passed into components by value. No component reads the environment
// directly.
type Config struct {
	// Network
	RPCURL               string
	RPCRequestsPerSecond float64
	SwapRouterURL        string

	// Assets
	FeeMint          solana.PublicKey
	FeeDecimals      uint8
	FeeTokenProgram  solana.PublicKey
	IntermediateMint solana.PublicKey
	RewardMint       solana.PublicKey
	RewardDecimals   uint8

	// Wallets
	Operating *ledger.Wallet
	Collector *ledger.Wallet

	// Excluded addresses never receive rewards.
	Excluded []solana.PublicKey

	// Balance sentinel band, in lamports.
	MinBalance    uint64
	TargetBalance uint64
	OperatingMin  uint64
	FastTierMax   uint64
	SweepExcess   bool

	// Harvest and swap
	MinHarvest        uint64
	SlippageBps       int
	MaxPriceImpactPct float64

	// Disbursement
	BatchSize              int
	LargeTransferThreshold uint64

	// Execution and scheduling
	ExecutionRetry  retry.Policy
	QuoteRetry      retry.Policy
	CycleInterval   time.Duration
	CycleRetryDelay time.Duration
	MaxCycleRetries int

	// Operational surface
	ListenAddr string
	SentryDSN  string
	DryRun     bool
	Verbose    bool
}

func (cfg *Config) Validate() error {
	if cfg.RPCURL == "" {
		return errors.New("rpc url is required")
	}
	if cfg.SwapRouterURL == "" {
		return errors.New("swap router url is required")
	}
	if cfg.FeeMint.IsZero() {
		return errors.New("fee mint is required")
	}
	if cfg.IntermediateMint.IsZero() {
		return errors.New("intermediate mint is required")
	}
	if cfg.RewardMint.IsZero() {
		return errors.New("reward mint is required")
	}
	if cfg.Operating == nil {
		return errors.New("operating wallet is required")
	}
	if cfg.Collector == nil {
		return errors.New("collector wallet is required")
	}
	if cfg.MinBalance == 0 || cfg.TargetBalance == 0 {
		return errors.New("sentinel balance thresholds are required")
	}
	if cfg.TargetBalance < cfg.MinBalance {
		return errors.New("target balance must be at least min balance")
	}
	if cfg.CycleInterval <= 0 {
		return errors.New("cycle interval must be greater than 0")
	}
	if cfg.CycleRetryDelay <= 0 {
		return errors.New("cycle retry delay must be greater than 0")
	}
	if cfg.MaxCycleRetries <= 0 {
		return errors.New("max cycle retries must be greater than 0")
	}
	if cfg.FeeTokenProgram.IsZero() {
		cfg.FeeTokenProgram = solana.Token2022ProgramID
	}
	if err := cfg.ExecutionRetry.Validate(); err != nil {
		return fmt.Errorf("invalid execution retry policy: %w", err)
	}
	if err := cfg.QuoteRetry.Validate(); err != nil {
		return fmt.Errorf("invalid quote retry policy: %w", err)
	}
	return nil
}

// ParseExcluded parses a comma-separated list of base58 addresses. The
// operating and collector addresses are appended by the caller regardless.
func ParseExcluded(list string) ([]solana.PublicKey, error) {
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}
	parts := strings.Split(list, ",")
	excluded := make([]solana.PublicKey, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pk, err := solana.PublicKeyFromBase58(part)
		if err != nil {
			return nil, fmt.Errorf("invalid excluded address %q: %w", part, err)
		}
		excluded = append(excluded, pk)
	}
	return excluded, nil
}
