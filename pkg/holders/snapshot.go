package holders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"

	"github.com/meridianlabs/feeflow/pkg/ledger"
)

// Enumerator returns all token accounts of a mint.
type Enumerator interface {
	TokenAccountsByMint(ctx context.Context, tokenProgram, mint solana.PublicKey) ([]ledger.TokenAccount, error)
}

type Config struct {
	Logger       *slog.Logger
	Clock        clockwork.Clock
	Enumerator   Enumerator
	TokenProgram solana.PublicKey
	Mint         solana.PublicKey
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Enumerator == nil {
		return errors.New("enumerator is required")
	}
	if cfg.TokenProgram.IsZero() {
		return errors.New("token program is required")
	}
	if cfg.Mint.IsZero() {
		return errors.New("mint is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// HolderRecord is one holder's captured balance. Immutable once taken;
// lifetime is one distribution cycle.
type HolderRecord struct {
	Owner   solana.PublicKey
	Account solana.PublicKey
	Balance uint64
}

// Snapshot is the holder set captured at cycle start.
type Snapshot struct {
	Holders   []HolderRecord
	TotalHeld uint64
	TakenAt   time.Time
}

type Snapshotter struct {
	log *slog.Logger
	cfg Config
}

func NewSnapshotter(cfg Config) (*Snapshotter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Snapshotter{log: cfg.Logger, cfg: cfg}, nil
}

// Take enumerates current holders of the mint, dropping zero balances and
// any record whose owner or token account is in the exclusion set. An empty
// result is valid and yields a no-op cycle.
func (s *Snapshotter) Take(ctx context.Context, excluded []solana.PublicKey) (*Snapshot, error) {
	accounts, err := s.cfg.Enumerator.TokenAccountsByMint(ctx, s.cfg.TokenProgram, s.cfg.Mint)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate holders: %w", err)
	}

	skip := make(map[solana.PublicKey]struct{}, len(excluded))
	for _, pk := range excluded {
		skip[pk] = struct{}{}
	}

	snap := &Snapshot{TakenAt: s.cfg.Clock.Now()}
	for _, acct := range accounts {
		if acct.Amount == 0 {
			continue
		}
		if _, ok := skip[acct.Owner]; ok {
			continue
		}
		if _, ok := skip[acct.Address]; ok {
			continue
		}
		snap.Holders = append(snap.Holders, HolderRecord{
			Owner:   acct.Owner,
			Account: acct.Address,
			Balance: acct.Amount,
		})
		snap.TotalHeld += acct.Amount
	}

	s.log.Debug("holders: snapshot taken",
		"holders", len(snap.Holders),
		"total_held", snap.TotalHeld,
		"enumerated", len(accounts))
	return snap, nil
}
