package trading

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"wrapped not found", fmt.Errorf("get wallet w1: %w", ErrNotFound), CodeNotFound},
		{"symbol", &SymbolNotFoundError{Symbol: "DOGE", MarketClass: MarketPerp}, CodeSymbolNotFound},
		{"transport", fmt.Errorf("post: %w", ErrTransport), CodeTransport},
		{"unknown", errors.New("boom"), CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestSymbolNotFoundErrorListsValidSymbols(t *testing.T) {
	t.Parallel()

	err := error(&SymbolNotFoundError{Symbol: "DOGE", MarketClass: MarketPerp, ValidSymbols: []string{"BTC", "ETH"}})
	require.ErrorIs(t, err, ErrSymbolNotFound)
	require.Contains(t, err.Error(), "BTC, ETH")

	var target *SymbolNotFoundError
	require.ErrorAs(t, fmt.Errorf("resolve: %w", err), &target)
	require.Equal(t, []string{"BTC", "ETH"}, target.ValidSymbols)
}

func TestRetryableOnlyForTransport(t *testing.T) {
	t.Parallel()

	require.True(t, Retryable(fmt.Errorf("x: %w", ErrTransport)))
	require.False(t, Retryable(ErrVenueRejected))
	require.False(t, Retryable(ErrSymbolNotFound))
}

func TestOrderIntentValidate(t *testing.T) {
	t.Parallel()

	price := decimal.RequireFromString("3000")
	zero := decimal.Zero
	base := OrderIntent{
		WalletID:    "w1",
		Symbol:      "ETH",
		MarketClass: MarketPerp,
		Side:        SideBuy,
		Size:        decimal.RequireFromString("0.5"),
		Kind:        OrderLimit,
		Price:       &price,
	}
	require.NoError(t, base.Validate())

	market := base
	market.Kind = OrderMarket
	market.Price = nil
	require.NoError(t, market.Validate())

	noPrice := base
	noPrice.Price = nil
	require.ErrorIs(t, noPrice.Validate(), ErrInvalidOrder)

	zeroPrice := base
	zeroPrice.Price = &zero
	require.ErrorIs(t, zeroPrice.Validate(), ErrInvalidOrder)

	zeroSize := base
	zeroSize.Size = decimal.Zero
	require.ErrorIs(t, zeroSize.Validate(), ErrInvalidOrder)

	badSide := base
	badSide.Side = "HOLD"
	require.ErrorIs(t, badSide.Validate(), ErrInvalidOrder)
}

func TestParseHelpers(t *testing.T) {
	t.Parallel()

	class, err := ParseMarketClass("")
	require.NoError(t, err)
	require.Equal(t, MarketPerp, class)

	class, err = ParseMarketClass("spot")
	require.NoError(t, err)
	require.Equal(t, MarketSpot, class)

	_, err = ParseMarketClass("futures")
	require.ErrorIs(t, err, ErrInvalidOrder)

	side, err := ParseSide("sell")
	require.NoError(t, err)
	require.Equal(t, SideSell, side)
	require.False(t, side.IsBuy())

	kind, err := ParseOrderKind("market")
	require.NoError(t, err)
	require.Equal(t, OrderMarket, kind)
}

func TestFailedResultCarriesCode(t *testing.T) {
	t.Parallel()

	res := Failed(fmt.Errorf("post action: %w", ErrTransport), nil)
	require.False(t, res.Accepted)
	require.Equal(t, CodeTransport, res.Code)
	require.Contains(t, res.Error, "transport error")
}
