package hl

import (
	"fmt"

	"github.com/sonirico/go-hyperliquid"

	"github.com/recomma/hlcustody/trading"
)

// Wire types for signed /exchange actions. Field order is part of the signed
// encoding.

const (
	ActionTypeOrder  = "order"
	ActionTypeCancel = "cancel"

	GroupingNA = "na"
)

type LimitWire struct {
	Tif string `json:"tif" msgpack:"tif"`
}

type OrderTypeWire struct {
	Limit *LimitWire `json:"limit,omitempty" msgpack:"limit,omitempty"`
}

type OrderWire struct {
	Asset      int           `json:"a" msgpack:"a"`
	IsBuy      bool          `json:"b" msgpack:"b"`
	LimitPx    string        `json:"p" msgpack:"p"`
	Sz         string        `json:"s" msgpack:"s"`
	ReduceOnly bool          `json:"r" msgpack:"r"`
	OrderType  OrderTypeWire `json:"t" msgpack:"t"`
	Cloid      *string       `json:"c,omitempty" msgpack:"c,omitempty"`
}

type OrderAction struct {
	Type     string      `json:"type" msgpack:"type"`
	Orders   []OrderWire `json:"orders" msgpack:"orders"`
	Grouping string      `json:"grouping" msgpack:"grouping"`
}

// Action is an envelope that can be signed and posted: an OrderAction or a
// hyperliquid.CancelAction.
type Action any

// ActionType names the envelope for logs and errors.
func ActionType(action Action) string {
	switch a := action.(type) {
	case OrderAction:
		return a.Type
	case hyperliquid.CancelAction:
		return a.Type
	default:
		return fmt.Sprintf("%T", action)
	}
}

func NewOrderAction(orders ...OrderWire) OrderAction {
	return OrderAction{Type: ActionTypeOrder, Orders: orders, Grouping: GroupingNA}
}

// NewCancelAction cancels by venue order id. The venue expects no grouping
// on cancels.
func NewCancelAction(cancels ...hyperliquid.CancelOrderWire) hyperliquid.CancelAction {
	return hyperliquid.CancelAction{Type: ActionTypeCancel, Cancels: cancels}
}

// wirePrice maps an absent price to the venue's zero literal.
func wirePrice(p string) string {
	if p == "" {
		return "0"
	}
	return p
}

// WireOrder converts an order description into the venue wire form.
func WireOrder(asset trading.AssetIndex, isBuy bool, price, size string, reduceOnly bool, ot hyperliquid.OrderType) OrderWire {
	wire := OrderWire{
		Asset:      int(asset),
		IsBuy:      isBuy,
		LimitPx:    wirePrice(price),
		Sz:         size,
		ReduceOnly: reduceOnly,
	}
	if ot.Limit != nil {
		wire.OrderType.Limit = &LimitWire{Tif: string(ot.Limit.Tif)}
	}
	return wire
}
