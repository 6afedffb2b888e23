package classifier

import (
	"encoding/json"
	"fmt"

	"github.com/brojonat/tradewatch/service/decoder"
)

// Event is the persisted form of one classified transaction. It is written
// once and never updated.
type Event struct {
	Signature string          `json:"signature"`
	BlockTime *int64          `json:"block_time,omitempty"`
	Category  Category        `json:"category"`
	Raw       json.RawMessage `json:"data"`
	Size      *int64          `json:"size,omitempty"`
	Price     *int64          `json:"price,omitempty"`
	Symbol    string          `json:"symbol"`
	// Failed marks a transaction the ledger executed with an error.
	Failed bool `json:"failed,omitempty"`
}

// ClassifyTransaction builds the event for a decoded transaction. The
// full instruction list is kept as the raw payload so unmapped events can
// be reclassified later. A transaction that failed on-chain is classified
// like any other and carries Failed so readers can tell it apart.
func (c *Classifier) ClassifyTransaction(d *decoder.Decoded) (*Event, Result, error) {
	raw, err := json.Marshal(d.Instructions)
	if err != nil {
		return nil, Result{}, fmt.Errorf("marshal instructions for %s: %w", d.Signature, err)
	}

	r := c.Classify(d.Instructions)

	return &Event{
		Signature: d.Signature,
		BlockTime: d.BlockTime,
		Category:  r.Category,
		Raw:       raw,
		Size:      r.Size,
		Price:     r.Price,
		Symbol:    r.Symbol,
		Failed:    d.Failed,
	}, r, nil
}
