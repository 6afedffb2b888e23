// Package decoder turns ledger transactions into named instructions using
// per-program decoders: an Anchor IDL for the marketplace plus the System
// and Associated Token Account programs.
package decoder

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/brojonat/tradewatch/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ProgramDecoder decodes the instructions of a single program.
type ProgramDecoder interface {
	ProgramID() solanago.PublicKey
	DecodeInstruction(accounts []solanago.PublicKey, data []byte) (*Instruction, error)
}

// Decoder dispatches each top-level instruction to the decoder registered
// for its program. Instructions of other programs are kept as "unknown".
type Decoder struct {
	programs map[solanago.PublicKey]ProgramDecoder
}

func New(decoders ...ProgramDecoder) *Decoder {
	d := &Decoder{programs: make(map[solanago.PublicKey]ProgramDecoder, len(decoders))}
	for _, pd := range decoders {
		d.programs[pd.ProgramID()] = pd
	}
	return d
}

// NewMarketplaceDecoder binds the IDL to programID and registers the System
// and Associated Token Account decoders next to it. The IDL's own address,
// if any, is ignored in favour of programID.
func NewMarketplaceDecoder(programID solanago.PublicKey, idl *IDL) (*Decoder, error) {
	anchor, err := NewAnchorDecoder(programID, idl)
	if err != nil {
		return nil, err
	}
	return New(anchor, SystemDecoder{}, AssociatedTokenDecoder{}), nil
}

// DecodeTransaction decodes the top-level instructions of tx. Address-table
// keys from meta are appended after the static keys, writable first, which
// is how the runtime indexes them.
func (d *Decoder) DecodeTransaction(tx *solanago.Transaction, meta *rpc.TransactionMeta) ([]Instruction, error) {
	if tx == nil {
		return nil, fmt.Errorf("nil transaction")
	}
	keys := make([]solanago.PublicKey, 0, len(tx.Message.AccountKeys))
	keys = append(keys, tx.Message.AccountKeys...)
	if meta != nil {
		keys = append(keys, meta.LoadedAddresses.Writable...)
		keys = append(keys, meta.LoadedAddresses.ReadOnly...)
	}

	out := make([]Instruction, 0, len(tx.Message.Instructions))
	for i, ci := range tx.Message.Instructions {
		if int(ci.ProgramIDIndex) >= len(keys) {
			return nil, fmt.Errorf("instruction %d: program index %d out of range", i, ci.ProgramIDIndex)
		}
		programID := keys[ci.ProgramIDIndex]
		accounts := make([]solanago.PublicKey, len(ci.Accounts))
		for j, idx := range ci.Accounts {
			if int(idx) >= len(keys) {
				return nil, fmt.Errorf("instruction %d: account index %d out of range", i, idx)
			}
			accounts[j] = keys[idx]
		}

		var ix *Instruction
		if pd, ok := d.programs[programID]; ok {
			decoded, err := pd.DecodeInstruction(accounts, ci.Data)
			if err != nil {
				// Payload the program decoder rejects is kept raw.
				decoded = unknownInstruction(pubkeyStrings(accounts), ci.Data)
				decoded.Error = err.Error()
			}
			ix = decoded
		} else {
			ix = unknownInstruction(pubkeyStrings(accounts), ci.Data)
		}
		ix.ProgramID = programID.String()
		out = append(out, *ix)
	}
	return out, nil
}

// TransactionFetcher is the ledger capability the adapter needs.
type TransactionFetcher interface {
	FetchTransaction(ctx context.Context, signature string) (*solana.Transaction, error)
}

// Adapter fetches a transaction by signature and decodes it.
type Adapter struct {
	fetcher TransactionFetcher
	decoder *Decoder
	logger  *slog.Logger
}

func NewAdapter(fetcher TransactionFetcher, decoder *Decoder, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Adapter{fetcher: fetcher, decoder: decoder, logger: logger.With("component", "decoder")}
}

// Decode returns the decoded view of one transaction. Every failure is a
// *DecodeFailure; an empty instruction list is not a failure.
func (a *Adapter) Decode(ctx context.Context, signature string) (*Decoded, error) {
	txn, err := a.fetcher.FetchTransaction(ctx, signature)
	if err != nil {
		return nil, &DecodeFailure{Signature: signature, Err: err}
	}
	if txn == nil || txn.Raw == nil {
		return nil, &DecodeFailure{Signature: signature, Err: fmt.Errorf("transaction not available")}
	}

	instructions, err := a.decoder.DecodeTransaction(txn.Raw, txn.Meta)
	if err != nil {
		return nil, &DecodeFailure{Signature: signature, Err: err}
	}

	decoded := &Decoded{
		Signature:    signature,
		Slot:         txn.Slot,
		BlockTime:    txn.BlockTime,
		Failed:       txn.Meta != nil && txn.Meta.Err != nil,
		Instructions: instructions,
	}
	a.logger.DebugContext(ctx, "decoded transaction",
		"signature", signature,
		"instructions", decoded.Names(),
		"failed", decoded.Failed,
	)
	return decoded, nil
}
