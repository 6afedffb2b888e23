// Package symbols builds the (base mint, quote mint) → market symbol index
// used to label marketplace events.
package symbols

import (
	"context"
	"fmt"
	"sort"
)

// NotFound is returned by Resolve when a pair is not in the index.
const NotFound = "not-found"

// Descriptor is a tradable asset or quote currency.
type Descriptor struct {
	Symbol string `json:"symbol"`
	Mint   string `json:"mint"`
}

// DefaultCurrencies are the quote currencies every catalog asset is paired with.
var DefaultCurrencies = []Descriptor{
	{Symbol: "USDC", Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"},
	{Symbol: "ATLAS", Mint: "ATLASXmbPQxBUYbxPsV97usA3fPQYEqzQBUHgiFCUsXx"},
}

// Pair is one entry of the index.
type Pair struct {
	Symbol    string `json:"symbol"`
	BaseMint  string `json:"base_mint"`
	QuoteMint string `json:"quote_mint"`
}

type pairKey struct {
	base  string
	quote string
}

// Resolver maps mint pairs to display symbols. It is immutable once built
// and safe for concurrent use.
type Resolver struct {
	index map[pairKey]string
}

// NewResolver builds the full cross product of assets and currencies. Every
// asset is assumed tradable against every currency, whether or not a market
// exists on-chain yet. When a mint is listed twice the first entry wins.
func NewResolver(assets, currencies []Descriptor) *Resolver {
	index := make(map[pairKey]string, len(assets)*len(currencies))
	for _, asset := range assets {
		if asset.Mint == "" {
			continue
		}
		for _, currency := range currencies {
			key := pairKey{asset.Mint, currency.Mint}
			if _, ok := index[key]; ok {
				continue
			}
			index[key] = asset.Symbol + currency.Symbol
		}
	}
	return &Resolver{index: index}
}

// Resolve returns the symbol for a pair, or NotFound.
func (r *Resolver) Resolve(baseMint, quoteMint string) string {
	if r == nil {
		return NotFound
	}
	if symbol, ok := r.index[pairKey{baseMint, quoteMint}]; ok {
		return symbol
	}
	return NotFound
}

// Len reports the number of indexed pairs.
func (r *Resolver) Len() int {
	return len(r.index)
}

// Pairs lists the index sorted by symbol.
func (r *Resolver) Pairs() []Pair {
	pairs := make([]Pair, 0, len(r.index))
	for k, symbol := range r.index {
		pairs = append(pairs, Pair{Symbol: symbol, BaseMint: k.base, QuoteMint: k.quote})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Symbol != pairs[j].Symbol {
			return pairs[i].Symbol < pairs[j].Symbol
		}
		return pairs[i].BaseMint < pairs[j].BaseMint
	})
	return pairs
}

// AssetSource provides the asset side of the catalog.
type AssetSource interface {
	FetchAssets(ctx context.Context) ([]Descriptor, error)
}

// CatalogLoadFailure means the index could not be built. The pipeline must
// not start without it.
type CatalogLoadFailure struct {
	Err error
}

func (e *CatalogLoadFailure) Error() string {
	return fmt.Sprintf("catalog load failed: %v", e.Err)
}

func (e *CatalogLoadFailure) Unwrap() error {
	return e.Err
}

// Load fetches the asset catalog once and builds the resolver against the
// given currencies. An empty catalog is treated as a failure.
func Load(ctx context.Context, source AssetSource, currencies []Descriptor) (*Resolver, error) {
	assets, err := source.FetchAssets(ctx)
	if err != nil {
		return nil, &CatalogLoadFailure{Err: err}
	}
	if len(assets) == 0 {
		return nil, &CatalogLoadFailure{Err: fmt.Errorf("catalog returned no assets")}
	}
	return NewResolver(assets, currencies), nil
}
