package solana

import (
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// SignatureInfo is one entry of a signature page, newest first.
type SignatureInfo struct {
	Signature string  `json:"signature"`
	Slot      uint64  `json:"slot"`
	BlockTime *int64  `json:"block_time,omitempty"`
	Err       *string `json:"err,omitempty"`
}

// ListSignaturesParams bounds one getSignaturesForAddress call. Before and
// Until are exclusive; empty means unbounded.
type ListSignaturesParams struct {
	Limit  int
	Before string
	Until  string
}

// Transaction is a fetched transaction with the metadata needed to
// resolve address-table accounts.
type Transaction struct {
	Signature string
	Slot      uint64
	BlockTime *int64
	Raw       *solana.Transaction
	Meta      *rpc.TransactionMeta
}
