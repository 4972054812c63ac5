package trading

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MarketClass selects which Hyperliquid listing an asset lives in.
type MarketClass string

const (
	MarketPerp MarketClass = "PERP"
	MarketSpot MarketClass = "SPOT"
)

// ParseMarketClass accepts the canonical names case-insensitively. An empty
// value defaults to perpetuals.
func ParseMarketClass(s string) (MarketClass, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "PERP", "PERPS", "PERPETUAL":
		return MarketPerp, nil
	case "SPOT":
		return MarketSpot, nil
	default:
		return "", fmt.Errorf("%w: unknown market class %q", ErrInvalidOrder, s)
	}
}

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "B", "BID":
		return SideBuy, nil
	case "SELL", "S", "A", "ASK":
		return SideSell, nil
	default:
		return "", fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, s)
	}
}

// IsBuy reports whether the side takes the ask.
func (s Side) IsBuy() bool { return s == SideBuy }

type OrderKind string

const (
	OrderLimit  OrderKind = "LIMIT"
	OrderMarket OrderKind = "MARKET"
)

func ParseOrderKind(s string) (OrderKind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "LIMIT":
		return OrderLimit, nil
	case "MARKET":
		return OrderMarket, nil
	default:
		return "", fmt.Errorf("%w: unknown order kind %q", ErrInvalidOrder, s)
	}
}

// SpotAssetOffset is added to a spot token's listing index to form its
// venue-wide asset id.
const SpotAssetOffset = 10000

// AssetIndex is the venue's numeric asset identifier.
type AssetIndex int

// OrderIntent is what a caller asks for. Price is required for limit orders
// and ignored for perpetual market orders.
type OrderIntent struct {
	WalletID    string
	Symbol      string
	MarketClass MarketClass
	Side        Side
	Size        decimal.Decimal
	Kind        OrderKind
	Price       *decimal.Decimal
}

// Validate checks the caller supplied invariants before any venue traffic.
func (i OrderIntent) Validate() error {
	if strings.TrimSpace(i.WalletID) == "" {
		return fmt.Errorf("%w: wallet id is required", ErrInvalidOrder)
	}
	if strings.TrimSpace(i.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	}
	if i.MarketClass != MarketPerp && i.MarketClass != MarketSpot {
		return fmt.Errorf("%w: unknown market class %q", ErrInvalidOrder, i.MarketClass)
	}
	if i.Side != SideBuy && i.Side != SideSell {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, i.Side)
	}
	if !i.Size.IsPositive() {
		return fmt.Errorf("%w: size must be positive, got %s", ErrInvalidOrder, i.Size)
	}
	switch i.Kind {
	case OrderLimit:
		if i.Price == nil || !i.Price.IsPositive() {
			return fmt.Errorf("%w: limit orders need a positive price", ErrInvalidOrder)
		}
	case OrderMarket:
		if i.Price != nil && !i.Price.IsPositive() {
			return fmt.Errorf("%w: price must be positive when supplied", ErrInvalidOrder)
		}
	default:
		return fmt.Errorf("%w: unknown order kind %q", ErrInvalidOrder, i.Kind)
	}
	return nil
}

// SubmitResult is the normalised outcome of a signed venue action. Failures
// past validation are recorded here instead of being returned as errors.
type SubmitResult struct {
	Accepted      bool            `json:"accepted"`
	VenueResponse json.RawMessage `json:"venueResponse,omitempty"`
	Error         string          `json:"error,omitempty"`
	Code          Code            `json:"code,omitempty"`
}

// Failed builds a rejected result from err.
func Failed(err error, venueResponse json.RawMessage) SubmitResult {
	return SubmitResult{
		Accepted:      false,
		VenueResponse: venueResponse,
		Error:         err.Error(),
		Code:          CodeOf(err),
	}
}
