package hl

import (
	"context"
	"fmt"

	"github.com/recomma/hlcustody/trading"
)

// ListingSource returns the venue's current listings in venue order.
type ListingSource interface {
	PerpUniverse(ctx context.Context) ([]string, error)
	SpotTokens(ctx context.Context) ([]string, error)
}

// AssetResolver maps symbols to venue asset ids. Listings are fetched on
// every call.
type AssetResolver struct {
	listings ListingSource
}

func NewAssetResolver(listings ListingSource) *AssetResolver {
	return &AssetResolver{listings: listings}
}

// Resolve matches symbol exactly (case-sensitive) in the listing for class.
// Perpetual ids are the universe index; spot ids are offset by 10000.
func (r *AssetResolver) Resolve(ctx context.Context, symbol string, class trading.MarketClass) (trading.AssetIndex, error) {
	names, err := r.Symbols(ctx, class)
	if err != nil {
		return 0, err
	}

	for i, name := range names {
		if name != symbol {
			continue
		}
		if class == trading.MarketSpot {
			return trading.AssetIndex(trading.SpotAssetOffset + i), nil
		}
		return trading.AssetIndex(i), nil
	}

	return 0, &trading.SymbolNotFoundError{
		Symbol:       symbol,
		MarketClass:  class,
		ValidSymbols: names,
	}
}

// Symbols returns the listing for class.
func (r *AssetResolver) Symbols(ctx context.Context, class trading.MarketClass) ([]string, error) {
	var (
		names []string
		err   error
	)
	switch class {
	case trading.MarketPerp:
		names, err = r.listings.PerpUniverse(ctx)
	case trading.MarketSpot:
		names, err = r.listings.SpotTokens(ctx)
	default:
		return nil, fmt.Errorf("%w: unknown market class %q", trading.ErrInvalidOrder, class)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s listing: %w", class, asTransport(err))
	}
	return names, nil
}
