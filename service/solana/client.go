package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/tradewatch/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetSignaturesForAddress(
		ctx context.Context,
		address solana.PublicKey,
		opts *rpc.GetSignaturesForAddressOpts,
	) ([]*rpc.TransactionSignature, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)
}

// ErrTransactionNotFound is returned when the node has no record of a signature.
var ErrTransactionNotFound = errors.New("transaction not found")

const maxFetchAttempts = 3

// Client wraps the RPC client with the two ledger operations the pipeline
// uses: listing a program's signatures and fetching one transaction.
type Client struct {
	rpc         RPCClient
	logger      *slog.Logger
	metrics     *metrics.Metrics
	endpoint    string // RPC endpoint identifier for metrics (e.g., "mainnet", rpc host)
	callTimeout time.Duration
	backoff     time.Duration
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:         rpcClient,
		logger:      logger.With("component", "solana"),
		metrics:     m,
		endpoint:    endpoint,
		callTimeout: 30 * time.Second,
		backoff:     time.Second,
	}
}

// WithCallTimeout bounds every individual RPC call.
func (c *Client) WithCallTimeout(d time.Duration) *Client {
	if d > 0 {
		c.callTimeout = d
	}
	return c
}

// ListSignatures returns up to params.Limit signatures for program, newest
// first. Failed transactions are included; their Err is set.
func (c *Client) ListSignatures(ctx context.Context, program solana.PublicKey, params ListSignaturesParams) ([]SignatureInfo, error) {
	opts := &rpc.GetSignaturesForAddressOpts{
		Commitment: rpc.CommitmentFinalized,
	}
	if params.Limit > 0 {
		limit := params.Limit
		opts.Limit = &limit
	}
	if params.Before != "" {
		sig, err := solana.SignatureFromBase58(params.Before)
		if err != nil {
			return nil, fmt.Errorf("invalid before signature %q: %w", params.Before, err)
		}
		opts.Before = sig
	}
	if params.Until != "" {
		sig, err := solana.SignatureFromBase58(params.Until)
		if err != nil {
			return nil, fmt.Errorf("invalid until signature %q: %w", params.Until, err)
		}
		opts.Until = sig
	}

	c.logger.DebugContext(ctx, "calling getSignaturesForAddress",
		"program", program.String(),
		"limit", params.Limit,
		"before", params.Before,
		"until", params.Until,
	)

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	start := time.Now()
	sigs, err := c.rpc.GetSignaturesForAddress(callCtx, program, opts)
	c.recordCall("getSignaturesForAddress", err, time.Since(start))
	if err != nil {
		if isRateLimited(err) && c.metrics != nil {
			c.metrics.RecordRateLimitHit(c.endpoint)
		}
		return nil, fmt.Errorf("getSignaturesForAddress: %w", err)
	}
	if c.metrics != nil {
		c.metrics.RecordRPCSignaturesPerCall(c.endpoint, float64(len(sigs)))
	}

	out := make([]SignatureInfo, 0, len(sigs))
	for _, s := range sigs {
		if s == nil {
			continue
		}
		info := SignatureInfo{
			Signature: s.Signature.String(),
			Slot:      s.Slot,
		}
		if s.BlockTime != nil {
			bt := int64(*s.BlockTime)
			info.BlockTime = &bt
		}
		if s.Err != nil {
			msg := fmt.Sprintf("%v", s.Err)
			info.Err = &msg
		}
		out = append(out, info)
	}
	return out, nil
}

// FetchTransaction fetches one transaction, retrying rate limits and
// transient errors with exponential backoff. Versioned transactions are
// requested first; if the node can't encode the response that way the
// call is retried as legacy.
func (c *Client) FetchTransaction(ctx context.Context, signature string) (*Transaction, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", signature, err)
	}

	maxVersion := uint64(0)
	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentFinalized,
		MaxSupportedTransactionVersion: &maxVersion,
	}

	var result *rpc.GetTransactionResult
	for attempt := range maxFetchAttempts {
		result, err = c.getTransaction(ctx, sig, opts)
		if err == nil {
			break
		}
		if errors.Is(err, rpc.ErrNotFound) || ctx.Err() != nil {
			break
		}

		reason := "timeout_or_error"
		backoff := c.backoff << uint(attempt) // 1s, 2s, 4s
		switch {
		case isRateLimited(err):
			reason = "rate_limit"
			backoff = 2 * c.backoff << uint(attempt)
			if c.metrics != nil {
				c.metrics.RecordRateLimitHit(c.endpoint)
			}
		case isVersionParseError(err):
			reason = "parse_error"
			backoff = 0
			opts = &rpc.GetTransactionOpts{Encoding: solana.EncodingBase64, Commitment: rpc.CommitmentFinalized}
		}
		if c.metrics != nil {
			c.metrics.RecordRPCRetry("getTransaction", reason)
		}
		if attempt == maxFetchAttempts-1 {
			break
		}
		c.logger.WarnContext(ctx, "getTransaction failed, retrying",
			"signature", signature,
			"attempt", attempt+1,
			"reason", reason,
			"backoff", backoff,
			"error", err,
		)
		if err := sleepCtx(ctx, backoff); err != nil {
			return nil, err
		}
	}
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", signature, ErrTransactionNotFound)
		}
		return nil, fmt.Errorf("getTransaction %s: %w", signature, err)
	}
	if result == nil || result.Transaction == nil {
		return nil, fmt.Errorf("%s: %w", signature, ErrTransactionNotFound)
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction %s: %w", signature, err)
	}

	txn := &Transaction{
		Signature: signature,
		Slot:      result.Slot,
		Raw:       tx,
		Meta:      result.Meta,
	}
	if result.BlockTime != nil {
		bt := int64(*result.BlockTime)
		txn.BlockTime = &bt
	}
	return txn, nil
}

func (c *Client) getTransaction(ctx context.Context, sig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	start := time.Now()
	result, err := c.rpc.GetTransaction(callCtx, sig, opts)
	c.recordCall("getTransaction", err, time.Since(start))
	return result, err
}

func (c *Client) recordCall(method string, err error, d time.Duration) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, d.Seconds())
}

func isRateLimited(err error) bool {
	return strings.Contains(err.Error(), "429")
}

// isVersionParseError matches the decode error solana-go returns when a
// node answers a versioned request in a shape it can't parse.
func isVersionParseError(err error) bool {
	return strings.Contains(err.Error(), "expects '\"' or 'n', but found '{'")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
