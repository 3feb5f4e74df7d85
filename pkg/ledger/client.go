package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"golang.org/x/time/rate"

	"github.com/meridianlabs/feeflow/pkg/metrics"
)

// ClientConfig configures the ledger RPC client.
type ClientConfig struct {
	Logger *slog.Logger
	RPCURL string

	// RequestsPerSecond caps outgoing RPC calls so a busy cycle cannot
	// trip public endpoint rate limits. Zero disables the limiter.
	RequestsPerSecond float64
	Burst             int

	Commitment solanarpc.CommitmentType
}

func (cfg *ClientConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPCURL == "" {
		return errors.New("rpc url is required")
	}
	if cfg.Commitment == "" {
		cfg.Commitment = solanarpc.CommitmentConfirmed
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return nil
}

// Client wraps the Solana JSON-RPC client behind the narrow surface the
// pipeline needs: balance/state reads, simulate/send/confirm, and
// token-account enumeration.
type Client struct {
	log     *slog.Logger
	cfg     ClientConfig
	rpc     *solanarpc.Client
	limiter *rate.Limiter
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	return &Client{
		log:     cfg.Logger,
		cfg:     cfg,
		rpc:     solanarpc.New(cfg.RPCURL),
		limiter: limiter,
	}, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func observe(method string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RPCRequestsTotal.WithLabelValues(method, status).Inc()
}

// GetBalance returns the native lamport balance of an account.
func (c *Client) GetBalance(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	out, err := c.rpc.GetBalance(ctx, addr, c.cfg.Commitment)
	observe("getBalance", err)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance for %s: %w", addr, err)
	}
	return out.Value, nil
}

// isAccountNotFound reports whether an RPC error means the queried account
// does not exist. getTokenAccountBalance surfaces a missing account as a
// -32602 RPC error rather than the client library's ErrNotFound, which only
// account-info style calls return.
func isAccountNotFound(err error) bool {
	if errors.Is(err, solanarpc.ErrNotFound) {
		return true
	}
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code == -32602 && strings.Contains(rpcErr.Message, "could not find account")
	}
	return false
}

// TokenAccountBalance returns the base-unit balance of a token account.
// A missing account reads as zero: token accounts the pipeline reads
// (operating fee and reward ATAs) legitimately do not exist before the
// first cycle creates them.
func (c *Client) TokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	out, err := c.rpc.GetTokenAccountBalance(ctx, account, c.cfg.Commitment)
	observe("getTokenAccountBalance", err)
	if err != nil {
		if isAccountNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get token balance for %s: %w", account, err)
	}
	if out.Value == nil {
		return 0, nil
	}
	amount, err := strconv.ParseUint(out.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse token amount %q: %w", out.Value.Amount, err)
	}
	return amount, nil
}

// AccountExists reports whether an account is present on chain.
func (c *Client) AccountExists(ctx context.Context, addr solana.PublicKey) (bool, error) {
	if err := c.wait(ctx); err != nil {
		return false, err
	}
	_, err := c.rpc.GetAccountInfo(ctx, addr)
	observe("getAccountInfo", err)
	if err != nil {
		if errors.Is(err, solanarpc.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get account info for %s: %w", addr, err)
	}
	return true, nil
}

// LatestBlockhash fetches a recent blockhash for transaction validity.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	if err := c.wait(ctx); err != nil {
		return solana.Hash{}, err
	}
	out, err := c.rpc.GetLatestBlockhash(ctx, c.cfg.Commitment)
	observe("getLatestBlockhash", err)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	return out.Value.Blockhash, nil
}

// Simulate runs the transaction against current network state without
// submitting it. A non-nil simulation error is returned verbatim in the
// error message along with program logs.
func (c *Client) Simulate(ctx context.Context, tx *solana.Transaction) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	out, err := c.rpc.SimulateTransactionWithOpts(ctx, tx, &solanarpc.SimulateTransactionOpts{
		Commitment: c.cfg.Commitment,
	})
	observe("simulateTransaction", err)
	if err != nil {
		return fmt.Errorf("simulation request failed: %w", err)
	}
	if out.Value != nil && out.Value.Err != nil {
		c.log.Debug("ledger: simulation failed", "err", out.Value.Err, "logs", out.Value.Logs)
		return fmt.Errorf("transaction simulation failed: %v", out.Value.Err)
	}
	return nil
}

// Send submits a signed transaction. Preflight is skipped since the
// pipeline simulates explicitly before submission.
func (c *Client) Send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if err := c.wait(ctx); err != nil {
		return solana.Signature{}, err
	}
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, solanarpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: solanarpc.CommitmentProcessed,
	})
	observe("sendTransaction", err)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	return sig, nil
}

// SignatureStatus returns the confirmation status of a submitted
// transaction, or empty when the network does not know the signature yet.
// A transaction that landed with an on-chain error is surfaced as an error.
func (c *Client) SignatureStatus(ctx context.Context, sig solana.Signature) (solanarpc.ConfirmationStatusType, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	out, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
	observe("getSignatureStatuses", err)
	if err != nil {
		return "", fmt.Errorf("failed to get signature status: %w", err)
	}
	if len(out.Value) == 0 || out.Value[0] == nil {
		return "", nil
	}
	st := out.Value[0]
	if st.Err != nil {
		return "", fmt.Errorf("transaction %s failed on chain: %v", sig, st.Err)
	}
	return st.ConfirmationStatus, nil
}
