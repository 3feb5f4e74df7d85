package swap

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/feeflow/utils/pkg/retry"
	fftesting "github.com/meridianlabs/feeflow/utils/pkg/testing"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{
		Logger:  fftesting.NewLogger(),
		BaseURL: baseURL,
	})
	require.NoError(t, err)
	return c
}

func TestFeeFlow_Swap_Client_Quote(t *testing.T) {
	t.Parallel()

	in := solana.NewWallet().PublicKey()
	out := solana.NewWallet().PublicKey()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/quote", r.URL.Path)
		q := r.URL.Query()
		require.Equal(t, in.String(), q.Get("inputMint"))
		require.Equal(t, out.String(), q.Get("outputMint"))
		require.Equal(t, "5000", q.Get("amount"))
		require.Equal(t, "50", q.Get("slippageBps"))
		_, _ = w.Write([]byte(`{"inAmount":"5000","outAmount":"4890","priceImpactPct":"0.0123"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	quote, err := c.Quote(context.Background(), QuoteRequest{
		InputMint:   in,
		OutputMint:  out,
		Amount:      5000,
		SlippageBps: 50,
	})
	require.NoError(t, err)
	require.Equal(t, uint64(5000), quote.InAmount)
	require.Equal(t, uint64(4890), quote.OutAmount)
	require.InDelta(t, 0.0123, quote.PriceImpactPct, 1e-9)
}

func TestFeeFlow_Swap_Client_QuoteNoRoute(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Quote(context.Background(), QuoteRequest{Amount: 1})
	require.ErrorIs(t, err, ErrQuoteUnavailable)
	require.True(t, retry.IsRetryable(err))
}

func TestFeeFlow_Swap_Client_ServerErrorsAreRetryable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Quote(context.Background(), QuoteRequest{Amount: 1})
	require.Error(t, err)
	require.True(t, retry.IsRetryable(err))

	// Client errors are not.
	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad mint", http.StatusBadRequest)
	}))
	defer srv2.Close()

	c2 := newTestClient(t, srv2.URL)
	_, err = c2.Quote(context.Background(), QuoteRequest{Amount: 1})
	require.Error(t, err)
	require.False(t, retry.IsRetryable(err))
}

func TestFeeFlow_Swap_Client_SwapTransaction(t *testing.T) {
	t.Parallel()

	payerKey, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	payer := payerKey.PublicKey()
	recipient := solana.NewWallet().PublicKey()

	// The routing service returns a base64-serialized transaction; give it a
	// real one so the round trip exercises the decoder.
	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			solana.NewInstruction(solana.SystemProgramID, solana.AccountMetaSlice{
				solana.Meta(payer).WRITE().SIGNER(),
				solana.Meta(recipient).WRITE(),
			}, []byte{2, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0}),
		},
		solana.Hash{},
		solana.TransactionPayer(payer),
	)
	require.NoError(t, err)
	serialized, err := tx.MarshalBinary()
	require.NoError(t, err)
	encoded := base64.StdEncoding.EncodeToString(serialized)

	quoteRaw := json.RawMessage(`{"inAmount":"100","outAmount":"99"}`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/swap", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var req swapRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.JSONEq(t, string(quoteRaw), string(req.QuoteResponse), "quote payload is echoed back verbatim")
		require.Equal(t, payer.String(), req.UserPublicKey)

		_ = json.NewEncoder(w).Encode(swapResponse{SwapTransaction: encoded})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	got, err := c.SwapTransaction(context.Background(), &Quote{raw: quoteRaw}, payer)
	require.NoError(t, err)
	require.Equal(t, payer, got.Message.AccountKeys[0])
}

func TestFeeFlow_Swap_Client_SwapTransactionBadPayload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"swapTransaction":"not base64!!"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.SwapTransaction(context.Background(), &Quote{raw: json.RawMessage(`{}`)}, solana.PublicKey{})
	require.Error(t, err)
}
