package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/meridianlabs/feeflow/pkg/config"
	"github.com/meridianlabs/feeflow/pkg/disburse"
	"github.com/meridianlabs/feeflow/pkg/distributor"
	"github.com/meridianlabs/feeflow/pkg/executor"
	"github.com/meridianlabs/feeflow/pkg/holders"
	"github.com/meridianlabs/feeflow/pkg/ledger"
	"github.com/meridianlabs/feeflow/pkg/metrics"
	"github.com/meridianlabs/feeflow/pkg/sentinel"
	"github.com/meridianlabs/feeflow/pkg/server"
	"github.com/meridianlabs/feeflow/pkg/supervisor"
	"github.com/meridianlabs/feeflow/pkg/swap"
	"github.com/meridianlabs/feeflow/utils/pkg/logger"
	"github.com/meridianlabs/feeflow/utils/pkg/retry"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Optional .env for local development; missing file is fine.
	_ = godotenv.Load()

	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	dryRunFlag := flag.Bool("dry-run", false, "simulate transactions but never submit them")

	rpcURLFlag := flag.String("rpc-url", "", "Solana RPC endpoint (or set SOLANA_RPC_URL env var)")
	rpcRPSFlag := flag.Float64("rpc-rps", 8, "max RPC requests per second (0 disables limiting)")
	swapRouterURLFlag := flag.String("swap-router-url", "", "swap-routing API base URL (or set SWAP_ROUTER_URL env var)")

	feeMintFlag := flag.String("fee-mint", "", "fee-bearing token mint (or set FEE_MINT env var)")
	feeDecimalsFlag := flag.Uint8("fee-decimals", 9, "fee token decimals")
	intermediateMintFlag := flag.String("intermediate-mint", "So11111111111111111111111111111111111111112", "intermediate asset mint (default wrapped SOL)")
	rewardMintFlag := flag.String("reward-mint", "", "reward asset mint (or set REWARD_MINT env var)")
	rewardDecimalsFlag := flag.Uint8("reward-decimals", 6, "reward token decimals")

	operatingKeyFlag := flag.String("operating-key", "", "operating wallet base58 secret key (or set OPERATING_SECRET_KEY env var)")
	collectorKeyFlag := flag.String("collector-key", "", "fee collector base58 secret key (or set COLLECTOR_SECRET_KEY env var)")
	excludedFlag := flag.String("excluded", "", "comma-separated addresses excluded from rewards (or set EXCLUDED_ADDRESSES env var)")

	minBalanceFlag := flag.Uint64("min-balance", 50_000_000, "collector min lamport balance before top-up")
	targetBalanceFlag := flag.Uint64("target-balance", 100_000_000, "collector target lamport balance")
	operatingMinFlag := flag.Uint64("operating-min", 100_000_000, "lamport floor the operating wallet must retain")
	fastTierMaxFlag := flag.Uint64("fast-tier-max", 100_000_000, "largest sentinel transfer confirmed at the fast tier")
	sweepExcessFlag := flag.Bool("sweep-excess", false, "sweep collector balance above target back to the operating wallet")

	minHarvestFlag := flag.Uint64("min-harvest", 1_000_000, "minimum harvested fee amount worth a cycle")
	slippageBpsFlag := flag.Int("slippage-bps", 50, "max acceptable slippage per swap hop, basis points")
	maxPriceImpactFlag := flag.Float64("max-price-impact-pct", 1.0, "reject quotes above this price impact percentage (0 disables)")

	batchSizeFlag := flag.Int("batch-size", 5, "allocations per disbursement batch")
	largeTransferFlag := flag.Uint64("large-transfer-threshold", 0, "batch total above which the secure tier is used (0 disables)")

	maxRetriesFlag := flag.Int("max-retries", 3, "max transaction submission attempts")
	baseDelayFlag := flag.Duration("base-delay", 2*time.Second, "base retry backoff delay")
	backoffFactorFlag := flag.Float64("backoff-factor", 2, "retry backoff multiplier")

	intervalFlag := flag.Duration("interval", time.Hour, "cadence between distribution cycles")
	retryDelayFlag := flag.Duration("retry-delay", 5*time.Minute, "delay before retrying a failed cycle")
	maxCycleRetriesFlag := flag.Int("max-cycle-retries", 3, "consecutive failed cycle retries before halting")

	listenAddrFlag := flag.String("listen-addr", "0.0.0.0:8080", "status/metrics HTTP listen address")
	sentryDSNFlag := flag.String("sentry-dsn", "", "Sentry DSN for cycle-failure reporting (or set SENTRY_DSN env var)")

	flag.Parse()

	log := logger.New(*verboseFlag)

	// Override flags with environment variables if set.
	if v := os.Getenv("SOLANA_RPC_URL"); v != "" {
		*rpcURLFlag = v
	}
	if v := os.Getenv("SWAP_ROUTER_URL"); v != "" {
		*swapRouterURLFlag = v
	}
	if v := os.Getenv("FEE_MINT"); v != "" {
		*feeMintFlag = v
	}
	if v := os.Getenv("REWARD_MINT"); v != "" {
		*rewardMintFlag = v
	}
	if v := os.Getenv("INTERMEDIATE_MINT"); v != "" {
		*intermediateMintFlag = v
	}
	if v := os.Getenv("OPERATING_SECRET_KEY"); v != "" {
		*operatingKeyFlag = v
	}
	if v := os.Getenv("COLLECTOR_SECRET_KEY"); v != "" {
		*collectorKeyFlag = v
	}
	if v := os.Getenv("EXCLUDED_ADDRESSES"); v != "" {
		*excludedFlag = v
	}
	if v := os.Getenv("SENTRY_DSN"); v != "" {
		*sentryDSNFlag = v
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dryRunFlag = parsed
		}
	}

	parseMint := func(name, value string) (solana.PublicKey, error) {
		if value == "" {
			return solana.PublicKey{}, fmt.Errorf("--%s is required", name)
		}
		pk, err := solana.PublicKeyFromBase58(value)
		if err != nil {
			return solana.PublicKey{}, fmt.Errorf("invalid --%s: %w", name, err)
		}
		return pk, nil
	}

	feeMint, err := parseMint("fee-mint", *feeMintFlag)
	if err != nil {
		return err
	}
	intermediateMint, err := parseMint("intermediate-mint", *intermediateMintFlag)
	if err != nil {
		return err
	}
	rewardMint, err := parseMint("reward-mint", *rewardMintFlag)
	if err != nil {
		return err
	}

	operating, err := ledger.NewWalletFromBase58(*operatingKeyFlag)
	if err != nil {
		return fmt.Errorf("invalid operating key: %w", err)
	}
	collector, err := ledger.NewWalletFromBase58(*collectorKeyFlag)
	if err != nil {
		return fmt.Errorf("invalid collector key: %w", err)
	}

	excluded, err := config.ParseExcluded(*excludedFlag)
	if err != nil {
		return err
	}
	// Operational wallets never receive their own rewards.
	excluded = append(excluded, operating.PublicKey(), collector.PublicKey())

	policy := retry.Policy{
		MaxRetries:    *maxRetriesFlag,
		BaseDelay:     *baseDelayFlag,
		BackoffFactor: *backoffFactorFlag,
		MaxDelay:      time.Minute,
	}

	cfg := &config.Config{
		RPCURL:                 *rpcURLFlag,
		RPCRequestsPerSecond:   *rpcRPSFlag,
		SwapRouterURL:          *swapRouterURLFlag,
		FeeMint:                feeMint,
		FeeDecimals:            *feeDecimalsFlag,
		IntermediateMint:       intermediateMint,
		RewardMint:             rewardMint,
		RewardDecimals:         *rewardDecimalsFlag,
		Operating:              operating,
		Collector:              collector,
		Excluded:               excluded,
		MinBalance:             *minBalanceFlag,
		TargetBalance:          *targetBalanceFlag,
		OperatingMin:           *operatingMinFlag,
		FastTierMax:            *fastTierMaxFlag,
		SweepExcess:            *sweepExcessFlag,
		MinHarvest:             *minHarvestFlag,
		SlippageBps:            *slippageBpsFlag,
		MaxPriceImpactPct:      *maxPriceImpactFlag,
		BatchSize:              *batchSizeFlag,
		LargeTransferThreshold: *largeTransferFlag,
		ExecutionRetry:         policy,
		QuoteRetry:             policy,
		CycleInterval:          *intervalFlag,
		CycleRetryDelay:        *retryDelayFlag,
		MaxCycleRetries:        *maxCycleRetriesFlag,
		ListenAddr:             *listenAddrFlag,
		SentryDSN:              *sentryDSNFlag,
		DryRun:                 *dryRunFlag,
		Verbose:                *verboseFlag,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, Release: version}); err != nil {
			return fmt.Errorf("failed to init sentry: %w", err)
		}
		defer sentry.Flush(5 * time.Second)
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
	log.Info("feeflow starting",
		"version", version,
		"fee_mint", cfg.FeeMint,
		"reward_mint", cfg.RewardMint,
		"interval", cfg.CycleInterval,
		"dry_run", cfg.DryRun)

	ledgerClient, err := ledger.NewClient(ledger.ClientConfig{
		Logger:            log,
		RPCURL:            cfg.RPCURL,
		RequestsPerSecond: cfg.RPCRequestsPerSecond,
		Burst:             4,
	})
	if err != nil {
		return err
	}

	exec, err := executor.New(executor.Config{
		Logger: log,
		Ledger: ledgerClient,
		Retry:  cfg.ExecutionRetry,
		DryRun: cfg.DryRun,
	})
	if err != nil {
		return err
	}

	bandKeeper, err := sentinel.New(sentinel.Config{
		Logger:        log,
		Ledger:        ledgerClient,
		Executor:      exec,
		Operating:     cfg.Operating,
		Collector:     cfg.Collector,
		MinBalance:    cfg.MinBalance,
		TargetBalance: cfg.TargetBalance,
		OperatingMin:  cfg.OperatingMin,
		FastTierMax:   cfg.FastTierMax,
		SweepExcess:   cfg.SweepExcess,
	})
	if err != nil {
		return err
	}

	snapshotter, err := holders.NewSnapshotter(holders.Config{
		Logger:       log,
		Enumerator:   ledgerClient,
		TokenProgram: cfg.FeeTokenProgram,
		Mint:         cfg.FeeMint,
	})
	if err != nil {
		return err
	}

	router, err := swap.NewClient(swap.ClientConfig{
		Logger:  log,
		BaseURL: cfg.SwapRouterURL,
	})
	if err != nil {
		return err
	}

	orchestrator, err := swap.NewOrchestrator(swap.Config{
		Logger:            log,
		Router:            router,
		Executor:          exec,
		Balances:          ledgerClient,
		Operating:         cfg.Operating,
		FeeMint:           cfg.FeeMint,
		IntermediateMint:  cfg.IntermediateMint,
		RewardMint:        cfg.RewardMint,
		SlippageBps:       cfg.SlippageBps,
		MaxPriceImpactPct: cfg.MaxPriceImpactPct,
		QuoteRetry:        cfg.QuoteRetry,
	})
	if err != nil {
		return err
	}

	engine, err := disburse.NewEngine(disburse.Config{
		Logger:                 log,
		Ledger:                 ledgerClient,
		Executor:               exec,
		Operating:              cfg.Operating,
		RewardMint:             cfg.RewardMint,
		RewardDecimals:         cfg.RewardDecimals,
		BatchSize:              cfg.BatchSize,
		LargeTransferThreshold: cfg.LargeTransferThreshold,
	})
	if err != nil {
		return err
	}

	dist, err := distributor.New(distributor.Config{
		Logger:          log,
		Ledger:          ledgerClient,
		Executor:        exec,
		Sentinel:        bandKeeper,
		Snapshotter:     snapshotter,
		Swapper:         orchestrator,
		Disburser:       engine,
		Operating:       cfg.Operating,
		Collector:       cfg.Collector,
		FeeMint:         cfg.FeeMint,
		FeeDecimals:     cfg.FeeDecimals,
		FeeTokenProgram: cfg.FeeTokenProgram,
		MinHarvest:      cfg.MinHarvest,
		Excluded:        cfg.Excluded,
	})
	if err != nil {
		return err
	}

	sup, err := supervisor.New(supervisor.Config{
		Logger:     log,
		Runner:     dist,
		Interval:   cfg.CycleInterval,
		RetryDelay: cfg.CycleRetryDelay,
		MaxRetries: cfg.MaxCycleRetries,
		OnCycleFailure: func(err error) {
			if cfg.SentryDSN != "" {
				sentry.CaptureException(err)
			}
		},
	})
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Logger:      log,
		ListenAddr:  cfg.ListenAddr,
		VersionInfo: server.VersionInfo{Version: version, Commit: commit, Date: date},
		Status:      sup,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { return sup.Run(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("feeflow stopped")
	return nil
}
