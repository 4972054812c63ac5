package hl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/recomma/hlcustody/internal/venuetest"
	"github.com/recomma/hlcustody/trading"
)

func infoTypes(reqs []venuetest.InfoRequest) []string {
	out := make([]string, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.Type)
	}
	return out
}

func TestSDKListingsResolveAssets(t *testing.T) {
	t.Parallel()
	srv := venuetest.New(t)
	srv.State().SetPerps("BTC", "ETH", "SOL")
	srv.State().SetSpotTokens("USDC", "PURR", "HYPE")

	resolver := NewAssetResolver(NewVenue(ClientConfig{BaseURL: srv.URL()}))
	ctx := context.Background()

	for j, name := range []string{"BTC", "ETH", "SOL"} {
		id, err := resolver.Resolve(ctx, name, trading.MarketPerp)
		require.NoError(t, err, name)
		require.Equal(t, trading.AssetIndex(j), id)
	}
	for i, name := range []string{"USDC", "PURR", "HYPE"} {
		id, err := resolver.Resolve(ctx, name, trading.MarketSpot)
		require.NoError(t, err, name)
		require.Equal(t, trading.AssetIndex(trading.SpotAssetOffset+i), id)
	}

	_, err := resolver.Resolve(ctx, "DOGE", trading.MarketPerp)
	var notFound *trading.SymbolNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, []string{"BTC", "ETH", "SOL"}, notFound.ValidSymbols)
}

func TestSDKListingsAreFetchedPerCall(t *testing.T) {
	t.Parallel()
	srv := venuetest.New(t)
	srv.State().SetPerps("BTC", "ETH")

	resolver := NewAssetResolver(NewVenue(ClientConfig{BaseURL: srv.URL()}))
	ctx := context.Background()

	id, err := resolver.Resolve(ctx, "ETH", trading.MarketPerp)
	require.NoError(t, err)
	require.Equal(t, trading.AssetIndex(1), id)
	require.Contains(t, infoTypes(srv.InfoRequests()), "meta")

	// the SDK client is built once; later lookups only fetch the listing
	srv.ClearRequests()
	srv.State().SetPerps("ETH")
	id, err = resolver.Resolve(ctx, "ETH", trading.MarketPerp)
	require.NoError(t, err)
	require.Equal(t, trading.AssetIndex(0), id)
	require.Equal(t, []string{"metaAndAssetCtxs"}, infoTypes(srv.InfoRequests()))
}
