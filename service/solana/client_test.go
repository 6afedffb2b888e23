package solana

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRPCClient implements RPCClient for testing.
// It's behavior-focused: we set what it should return, not verify call sequences.
type mockRPCClient struct {
	mu           sync.Mutex
	signatures   []*rpc.TransactionSignature
	transactions map[string]*rpc.GetTransactionResult
	err          error
	// txErrs are returned, in order, by successive GetTransaction calls.
	txErrs   []error
	lastOpts *rpc.GetSignaturesForAddressOpts
	txOpts   []*rpc.GetTransactionOpts
}

func (m *mockRPCClient) GetSignaturesForAddress(
	ctx context.Context,
	address solana.PublicKey,
	opts *rpc.GetSignaturesForAddressOpts,
) ([]*rpc.TransactionSignature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastOpts = opts
	if m.err != nil {
		return nil, m.err
	}
	return m.signatures, nil
}

func (m *mockRPCClient) GetTransaction(
	ctx context.Context,
	signature solana.Signature,
	opts *rpc.GetTransactionOpts,
) (*rpc.GetTransactionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txOpts = append(m.txOpts, opts)
	if len(m.txErrs) > 0 {
		err := m.txErrs[0]
		m.txErrs = m.txErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.transactions[signature.String()], nil
}

func newTestClient(mock *mockRPCClient) *Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewClient(mock, "test", nil, logger)
	c.backoff = 0
	return c
}

var (
	program = solana.MustPublicKeyFromBase58("traderDnaR5w6Tcoi3NFm53i48FTDNbGjBSZwWXDRrg")
	sig1    = solana.MustSignatureFromBase58("5j7s6NiJS3JAkvgkoc18WVAsiSaci2pxB2A6ueCJP4tprA2TFg9wSyTLeYouxPBJEMzJinENTkpA52YStRW5Dia7")
	sig2    = solana.MustSignatureFromBase58("2TgM4N8qCMqLvfR8dxqTQgKygPNzT5KQkN5b5sT7eZPEkdxyLTXGnNQB3j7KG4DPFg5Qez5yNJBQRQ5r7DDnFfjG")
)

func TestListSignatures_MapsPage(t *testing.T) {
	bt := solana.UnixTimeSeconds(1700000000)
	mock := &mockRPCClient{
		signatures: []*rpc.TransactionSignature{
			{Signature: sig1, Slot: 101, BlockTime: &bt},
			{Signature: sig2, Slot: 100, Err: map[string]any{"InstructionError": []any{0, "Custom"}}},
		},
	}

	page, err := newTestClient(mock).ListSignatures(context.Background(), program, ListSignaturesParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page, 2)

	assert.Equal(t, sig1.String(), page[0].Signature)
	require.NotNil(t, page[0].BlockTime)
	assert.Equal(t, int64(1700000000), *page[0].BlockTime)
	assert.Nil(t, page[0].Err)

	assert.Nil(t, page[1].BlockTime)
	require.NotNil(t, page[1].Err)
	assert.Contains(t, *page[1].Err, "InstructionError")

	require.NotNil(t, mock.lastOpts.Limit)
	assert.Equal(t, 10, *mock.lastOpts.Limit)
	assert.True(t, mock.lastOpts.Before.IsZero())
	assert.True(t, mock.lastOpts.Until.IsZero())
}

func TestListSignatures_PassesWindow(t *testing.T) {
	mock := &mockRPCClient{}
	_, err := newTestClient(mock).ListSignatures(context.Background(), program, ListSignaturesParams{
		Limit:  5,
		Before: sig1.String(),
		Until:  sig2.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, sig1, mock.lastOpts.Before)
	assert.Equal(t, sig2, mock.lastOpts.Until)
}

func TestListSignatures_InvalidCursor(t *testing.T) {
	_, err := newTestClient(&mockRPCClient{}).ListSignatures(context.Background(), program, ListSignaturesParams{Before: "not-a-signature"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid before signature")
}

func TestListSignatures_RPCError(t *testing.T) {
	mock := &mockRPCClient{err: errors.New("connection refused")}
	_, err := newTestClient(mock).ListSignatures(context.Background(), program, ListSignaturesParams{Limit: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestFetchTransaction_RetriesThenFails(t *testing.T) {
	mock := &mockRPCClient{err: errors.New("HTTP 429 Too Many Requests")}

	_, err := newTestClient(mock).FetchTransaction(context.Background(), sig1.String())
	require.Error(t, err)
	assert.Len(t, mock.txOpts, maxFetchAttempts)
}

func TestFetchTransaction_NotFoundIsNotRetried(t *testing.T) {
	mock := &mockRPCClient{err: rpc.ErrNotFound}

	_, err := newTestClient(mock).FetchTransaction(context.Background(), sig1.String())
	require.ErrorIs(t, err, ErrTransactionNotFound)
	assert.Len(t, mock.txOpts, 1)
}

func TestFetchTransaction_LegacyFallback(t *testing.T) {
	mock := &mockRPCClient{
		txErrs: []error{errors.New(`rpc: expects '"' or 'n', but found '{'`)},
		err:    rpc.ErrNotFound,
	}

	_, _ = newTestClient(mock).FetchTransaction(context.Background(), sig1.String())
	require.Len(t, mock.txOpts, 2)
	assert.NotNil(t, mock.txOpts[0].MaxSupportedTransactionVersion)
	assert.Nil(t, mock.txOpts[1].MaxSupportedTransactionVersion)
}

func TestFetchTransaction_NilResult(t *testing.T) {
	_, err := newTestClient(&mockRPCClient{}).FetchTransaction(context.Background(), sig1.String())
	require.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestFetchTransaction_InvalidSignature(t *testing.T) {
	_, err := newTestClient(&mockRPCClient{}).FetchTransaction(context.Background(), "xyz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid signature")
}

func TestSleepCtx_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
}
