package solana

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"
)

// realRPCClient adapts the actual solana-go RPC client to our RPCClient interface.
type realRPCClient struct {
	client *rpc.Client
}

// NewRPCClient creates an RPCClient whose requests are throttled client-side
// to rps with the given burst. Public endpoints reject bursts well below
// what a backfill would otherwise issue.
// For premium RPC endpoints that require API keys, include the key in the URL.
func NewRPCClient(rpcURL string, rps float64, burst int) RPCClient {
	if burst < 1 {
		burst = 1
	}
	return &realRPCClient{
		client: rpc.NewWithCustomRPCClient(rpc.NewWithLimiter(rpcURL, rate.Limit(rps), burst)),
	}
}

func (r *realRPCClient) GetSignaturesForAddress(
	ctx context.Context,
	address solana.PublicKey,
	opts *rpc.GetSignaturesForAddressOpts,
) ([]*rpc.TransactionSignature, error) {
	return r.client.GetSignaturesForAddressWithOpts(ctx, address, opts)
}

func (r *realRPCClient) GetTransaction(
	ctx context.Context,
	signature solana.Signature,
	opts *rpc.GetTransactionOpts,
) (*rpc.GetTransactionResult, error) {
	return r.client.GetTransaction(ctx, signature, opts)
}
