// Package classifier maps a decoded marketplace transaction to a single
// event category and extracts its trade fields.
package classifier

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/brojonat/tradewatch/service/decoder"
)

// NoSymbol is the symbol of events that don't name a market.
const NoSymbol = "none"

// Instruction names the rules match on.
const (
	ProcessExchange             = "processExchange"
	ProcessCancel               = "processCancel"
	CreateAccount               = "createAccount"
	ProcessInitializeSell       = "processInitializeSell"
	ProcessInitializeBuy        = "processInitializeBuy"
	InitializeOpenOrdersCounter = "initializeOpenOrdersCounter"
)

// SymbolResolver looks up a market symbol by (base mint, quote mint).
type SymbolResolver interface {
	Resolve(baseMint, quoteMint string) string
}

// Result is the category and trade fields of one transaction.
type Result struct {
	Category Category
	Size     *int64
	Price    *int64
	Symbol   string
	// Instruction is the name of the instruction that decided the category.
	Instruction string
}

// extractFunc fills trade fields from the matched instruction. Returning an
// error downgrades the transaction to Unmapped.
type extractFunc func(c *Classifier, matched decoder.Instruction, all []decoder.Instruction, r *Result) error

type rule struct {
	names    []string
	category Category
	extract  extractFunc
}

// rules is evaluated top to bottom; the first rule with a matching
// instruction anywhere in the transaction wins.
var rules = []rule{
	{names: []string{ProcessExchange}, category: Exchange, extract: extractExchange},
	{names: []string{ProcessCancel}, category: Cancel},
	{names: []string{CreateAccount}, category: Create, extract: extractCreate},
	{names: []string{InitializeOpenOrdersCounter}, category: CounterInit},
	{names: []string{decoder.CreateAssociatedTokenAccount, decoder.CreateAssociatedTokenAccountIdempotent}, category: DirectTransfer},
}

// Classifier applies the rule table. It holds no mutable state.
type Classifier struct {
	symbols SymbolResolver
}

func New(symbols SymbolResolver) *Classifier {
	return &Classifier{symbols: symbols}
}

// Classify returns exactly one category for the instruction sequence.
// Malformed trade fields never fail; they produce Unmapped.
func (c *Classifier) Classify(instructions []decoder.Instruction) Result {
	for _, rl := range rules {
		matched, ok := findFirst(instructions, rl.names...)
		if !ok {
			continue
		}
		r := Result{Category: rl.category, Symbol: NoSymbol, Instruction: matched.Name}
		if rl.extract != nil {
			if err := rl.extract(c, matched, instructions, &r); err != nil {
				return Result{Category: Unmapped, Symbol: NoSymbol, Instruction: matched.Name}
			}
		}
		return r
	}
	return Result{Category: Unmapped, Symbol: NoSymbol}
}

func findFirst(instructions []decoder.Instruction, names ...string) (decoder.Instruction, bool) {
	for _, ix := range instructions {
		for _, name := range names {
			if ix.Name == name {
				return ix, true
			}
		}
	}
	return decoder.Instruction{}, false
}

func extractExchange(c *Classifier, ix decoder.Instruction, _ []decoder.Instruction, r *Result) error {
	currency, ok := ix.Account("currencyMint")
	if !ok {
		return fmt.Errorf("missing currencyMint")
	}
	asset, ok := ix.Account("assetMint")
	if !ok {
		return fmt.Errorf("missing assetMint")
	}
	size, err := intArg(ix, "purchaseQuantity")
	if err != nil {
		return err
	}
	price, err := intArg(ix, "expectedPrice")
	if err != nil {
		return err
	}
	r.Size, r.Price = &size, &price
	r.Symbol = c.resolve(asset, currency)
	return nil
}

// extractCreate treats createAccount as the marker for a new order and
// reads the fields from the initialize instruction in the same
// transaction, preferring a sell when both are present. A sell deposits
// the asset and receives the currency; a buy is the reverse.
func extractCreate(c *Classifier, _ decoder.Instruction, all []decoder.Instruction, r *Result) error {
	ix, ok := findFirst(all, ProcessInitializeSell)
	assetRole, currencyRole := "depositMint", "receiveMint"
	if !ok {
		ix, ok = findFirst(all, ProcessInitializeBuy)
		assetRole, currencyRole = "receiveMint", "depositMint"
	}
	if !ok {
		return fmt.Errorf("createAccount without an initialize instruction")
	}
	r.Instruction = ix.Name

	asset, ok := ix.Account(assetRole)
	if !ok {
		return fmt.Errorf("missing %s", assetRole)
	}
	currency, ok := ix.Account(currencyRole)
	if !ok {
		return fmt.Errorf("missing %s", currencyRole)
	}
	size, err := intArg(ix, "originationQty")
	if err != nil {
		return err
	}
	price, err := intArg(ix, "price")
	if err != nil {
		return err
	}
	r.Size, r.Price = &size, &price
	r.Symbol = c.resolve(asset, currency)
	return nil
}

func (c *Classifier) resolve(base, quote string) string {
	if c.symbols == nil {
		return NoSymbol
	}
	return c.symbols.Resolve(base, quote)
}

// intArg reads a numeric argument as int64. Values outside int64 are
// rejected rather than truncated.
func intArg(ix decoder.Instruction, name string) (int64, error) {
	v, ok := ix.Arg(name)
	if !ok || v == nil {
		return 0, fmt.Errorf("missing %s", name)
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", n)
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) || n >= math.MaxInt64 || n < math.MinInt64 {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int64(n), nil
	case json.Number:
		return strconv.ParseInt(n.String(), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return 0, fmt.Errorf("unsupported numeric type %T", v)
}
