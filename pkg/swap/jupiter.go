package swap

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// ErrQuoteUnavailable means the router has no route for the requested pair
// and amount right now. Retryable with backoff, capped by policy.
var ErrQuoteUnavailable = errors.New("quote unavailable")

// QuoteRequest asks the routing service for the best route.
type QuoteRequest struct {
	InputMint   solana.PublicKey
	OutputMint  solana.PublicKey
	Amount      uint64
	SlippageBps int
}

// Quote is the router's best-route answer. The raw payload is kept verbatim
// because the swap endpoint wants it echoed back.
type Quote struct {
	InAmount       uint64
	OutAmount      uint64
	PriceImpactPct float64

	raw json.RawMessage
}

// httpError carries the response status so the retry layer can classify it.
type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("swap router returned %d: %s", e.status, e.body)
}

func (e *httpError) StatusCode() int { return e.status }

type ClientConfig struct {
	Logger  *slog.Logger
	BaseURL string
	Timeout time.Duration
}

func (cfg *ClientConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.BaseURL == "" {
		return errors.New("base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return nil
}

// Client talks to a Jupiter-compatible swap-routing HTTP API.
type Client struct {
	log  *slog.Logger
	cfg  ClientConfig
	http *http.Client
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		log:  cfg.Logger,
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type quotePayload struct {
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
}

// Quote requests the best route for the pair, with max slippage attached so
// the returned swap enforces it on chain.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	q := url.Values{}
	q.Set("inputMint", req.InputMint.String())
	q.Set("outputMint", req.OutputMint.String())
	q.Set("amount", strconv.FormatUint(req.Amount, 10))
	q.Set("slippageBps", strconv.Itoa(req.SlippageBps))

	body, err := c.get(ctx, "/quote?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var payload quotePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode quote: %w", err)
	}
	if payload.OutAmount == "" {
		return nil, fmt.Errorf("%w: empty route for %s -> %s", ErrQuoteUnavailable, req.InputMint, req.OutputMint)
	}

	inAmount, err := strconv.ParseUint(payload.InAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse quote inAmount %q: %w", payload.InAmount, err)
	}
	outAmount, err := strconv.ParseUint(payload.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse quote outAmount %q: %w", payload.OutAmount, err)
	}
	impact, err := strconv.ParseFloat(payload.PriceImpactPct, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse price impact %q: %w", payload.PriceImpactPct, err)
	}

	return &Quote{
		InAmount:       inAmount,
		OutAmount:      outAmount,
		PriceImpactPct: impact,
		raw:            body,
	}, nil
}

type swapRequest struct {
	QuoteResponse    json.RawMessage `json:"quoteResponse"`
	UserPublicKey    string          `json:"userPublicKey"`
	WrapAndUnwrapSol bool            `json:"wrapAndUnwrapSol"`
}

type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
}

// SwapTransaction exchanges a quote for the executable transaction, decoded
// but unsigned; the caller signs with the paying wallet.
func (c *Client) SwapTransaction(ctx context.Context, quote *Quote, payer solana.PublicKey) (*solana.Transaction, error) {
	reqBody, err := json.Marshal(swapRequest{
		QuoteResponse:    quote.raw,
		UserPublicKey:    payer.String(),
		WrapAndUnwrapSol: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal swap request: %w", err)
	}

	body, err := c.post(ctx, "/swap", reqBody)
	if err != nil {
		return nil, err
	}

	var payload swapResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode swap response: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(payload.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("failed to decode swap transaction: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize swap transaction: %w", err)
	}
	return tx, nil
}

func (c *Client) get(ctx context.Context, path string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("swap router request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read swap router response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &httpError{status: resp.StatusCode, body: string(body)}
	}
	return body, nil
}
