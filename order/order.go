// Package order turns trading intents into venue order payloads.
package order

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sonirico/go-hyperliquid"

	"github.com/recomma/hlcustody/hl"
	"github.com/recomma/hlcustody/trading"
)

// Spot market orders are sent as limit orders priced this far through mid.
var (
	spotBuyBuffer  = decimal.RequireFromString("1.01")
	spotSellBuffer = decimal.RequireFromString("0.99")
)

// Payload is an order ready to be wrapped in an order action. Price is empty
// for perpetual market orders.
type Payload struct {
	AssetID    trading.AssetIndex
	IsBuy      bool
	Price      string
	Size       string
	ReduceOnly bool
	OrderType  hyperliquid.OrderType
}

// Wire converts the payload to its signed wire form.
func (p Payload) Wire() hl.OrderWire {
	return hl.WireOrder(p.AssetID, p.IsBuy, p.Price, p.Size, p.ReduceOnly, p.OrderType)
}

func limit(tif hyperliquid.Tif) hyperliquid.OrderType {
	return hyperliquid.OrderType{Limit: &hyperliquid.LimitOrderType{Tif: tif}}
}

// Build is the single order constructor for every market class and kind.
// mid is only consulted for spot market orders; pass nil when no mid price
// could be obtained.
//
//   - perp LIMIT: caller price, Gtc
//   - perp MARKET: no price, Ioc
//   - spot LIMIT: caller price, Gtc
//   - spot MARKET: mid * 1.01 (buy) or mid * 0.99 (sell), Gtc; the caller
//     price is used when no mid is available
func Build(intent trading.OrderIntent, asset trading.AssetIndex, mid *decimal.Decimal) (Payload, error) {
	if err := intent.Validate(); err != nil {
		return Payload{}, err
	}

	p := Payload{
		AssetID:    asset,
		IsBuy:      intent.Side.IsBuy(),
		Size:       intent.Size.String(),
		ReduceOnly: false,
	}

	switch {
	case intent.Kind == trading.OrderLimit:
		p.Price = intent.Price.String()
		p.OrderType = limit(hyperliquid.TifGtc)

	case intent.MarketClass == trading.MarketPerp:
		p.OrderType = limit(hyperliquid.TifIoc)

	default:
		price, err := spotMarketPrice(intent, mid)
		if err != nil {
			return Payload{}, err
		}
		p.Price = price.String()
		p.OrderType = limit(hyperliquid.TifGtc)
	}

	return p, nil
}

func spotMarketPrice(intent trading.OrderIntent, mid *decimal.Decimal) (decimal.Decimal, error) {
	if mid == nil || !mid.IsPositive() {
		if intent.Price != nil {
			return *intent.Price, nil
		}
		return decimal.Decimal{}, fmt.Errorf("%w: no mid price for %s", trading.ErrPriceUnavailable, intent.Symbol)
	}

	buffer := spotSellBuffer
	if intent.Side.IsBuy() {
		buffer = spotBuyBuffer
	}
	return RoundPrice(mid.Mul(buffer), priceSigFigs), nil
}
