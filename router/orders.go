package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sonirico/go-hyperliquid"
	"golang.org/x/sync/errgroup"

	"github.com/recomma/hlcustody/hl"
	"github.com/recomma/hlcustody/order"
	"github.com/recomma/hlcustody/registry"
	"github.com/recomma/hlcustody/trading"
)

// PlaceOrder runs the order pipeline for intent. Errors are returned for
// problems found before anything is signed; once submission starts the
// outcome is reported in the result.
func (r *Router) PlaceOrder(ctx context.Context, intent trading.OrderIntent) (trading.SubmitResult, error) {
	if err := intent.Validate(); err != nil {
		return trading.SubmitResult{}, err
	}
	wallet, err := r.registry.GetWallet(ctx, intent.WalletID)
	if err != nil {
		return trading.SubmitResult{}, err
	}
	asset, err := r.resolver.Resolve(ctx, intent.Symbol, intent.MarketClass)
	if err != nil {
		return trading.SubmitResult{}, err
	}

	var mid *decimal.Decimal
	if intent.MarketClass == trading.MarketSpot && intent.Kind == trading.OrderMarket {
		mid, err = r.midPrice(ctx, intent.Symbol)
		if err != nil && intent.Price == nil {
			return trading.SubmitResult{}, fmt.Errorf("%w: %w", trading.ErrPriceUnavailable, err)
		}
	}

	payload, err := order.Build(intent, asset, mid)
	if err != nil {
		return trading.SubmitResult{}, err
	}

	r.requestLogger(ctx).Info("placing order",
		slog.String("wallet", wallet.ID),
		slog.String("symbol", intent.Symbol),
		slog.String("class", string(intent.MarketClass)),
		slog.String("side", string(intent.Side)),
		slog.String("kind", string(intent.Kind)),
		slog.Int("asset", int(asset)),
	)
	return r.submitter.SubmitOrder(ctx, wallet, payload), nil
}

// midPrice returns nil without error when the venue has no mid for symbol.
func (r *Router) midPrice(ctx context.Context, symbol string) (*decimal.Decimal, error) {
	mids, err := r.market.MidPrices(ctx)
	if err != nil {
		return nil, err
	}
	mid, ok := mids[symbol]
	if !ok {
		return nil, nil
	}
	return &mid, nil
}

// CancelOrder cancels one resting order by venue order id.
func (r *Router) CancelOrder(ctx context.Context, walletID, symbol string, class trading.MarketClass, oid int64) (trading.SubmitResult, error) {
	wallet, err := r.registry.GetWallet(ctx, walletID)
	if err != nil {
		return trading.SubmitResult{}, err
	}
	asset, err := r.resolver.Resolve(ctx, symbol, class)
	if err != nil {
		return trading.SubmitResult{}, err
	}
	return r.submitter.Cancel(ctx, wallet, hyperliquid.CancelOrderWire{Asset: int(asset), OrderID: oid}), nil
}

// CancelAll cancels every open order of the wallet, or only those on symbol
// when it is not empty. The venue has no cancel-all action, so the open
// orders are listed and cancelled in one cancel action. Orders whose coin
// cannot be mapped to exactly one asset are left resting and reported: the
// result is then not accepted and Error names their oids.
func (r *Router) CancelAll(ctx context.Context, walletID, symbol string) (trading.SubmitResult, error) {
	wallet, err := r.registry.GetWallet(ctx, walletID)
	if err != nil {
		return trading.SubmitResult{}, err
	}

	var (
		open    []hl.OpenOrder
		listing SymbolListing
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		open, err = r.market.OpenOrders(gctx, wallet.Address)
		return err
	})
	g.Go(func() error {
		var err error
		listing, err = r.Symbols(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return trading.SubmitResult{}, err
	}

	assets := newAssetTable(listing)
	var (
		targets    []hyperliquid.CancelOrderWire
		unresolved []string
	)
	for _, o := range open {
		if symbol != "" && o.Coin != symbol {
			continue
		}
		asset, err := assets.lookup(o.Coin)
		if err != nil {
			r.requestLogger(ctx).Warn("cannot cancel open order", slog.String("coin", o.Coin), slog.Int64("oid", o.Oid), slog.String("error", err.Error()))
			unresolved = append(unresolved, fmt.Sprintf("oid %d (%v)", o.Oid, err))
			continue
		}
		targets = append(targets, hyperliquid.CancelOrderWire{Asset: int(asset), OrderID: o.Oid})
	}

	var skipped error
	if len(unresolved) > 0 {
		skipped = fmt.Errorf("%w: %d open orders left resting: %s", trading.ErrSymbolNotFound, len(unresolved), strings.Join(unresolved, "; "))
	}

	if len(targets) == 0 {
		if skipped != nil {
			return trading.Failed(skipped, nil), nil
		}
		r.requestLogger(ctx).Debug("nothing to cancel", slog.String("wallet", wallet.ID), slog.String("symbol", symbol))
		return trading.SubmitResult{Accepted: true}, nil
	}

	res := r.submitter.Cancel(ctx, wallet, targets...)
	if skipped == nil {
		return res, nil
	}
	if !res.Accepted {
		res.Error = res.Error + "; " + skipped.Error()
		return res, nil
	}
	return trading.Failed(skipped, res.VenueResponse), nil
}

// assetTable maps listed names to asset ids for open orders, which only
// carry a coin name.
type assetTable struct {
	perp map[string]trading.AssetIndex
	spot map[string]trading.AssetIndex
}

func newAssetTable(listing SymbolListing) assetTable {
	t := assetTable{
		perp: make(map[string]trading.AssetIndex, len(listing.Perp)),
		spot: make(map[string]trading.AssetIndex, len(listing.Spot)),
	}
	for i, name := range listing.Perp {
		t.perp[name] = trading.AssetIndex(i)
	}
	for i, name := range listing.Spot {
		t.spot[name] = trading.AssetIndex(trading.SpotAssetOffset + i)
	}
	return t
}

// lookup fails for coins in neither listing and for names listed as both a
// perpetual and a spot token.
func (t assetTable) lookup(coin string) (trading.AssetIndex, error) {
	perp, isPerp := t.perp[coin]
	spot, isSpot := t.spot[coin]
	switch {
	case isPerp && isSpot:
		return 0, fmt.Errorf("%s is listed as both perp and spot", coin)
	case isPerp:
		return perp, nil
	case isSpot:
		return spot, nil
	default:
		return 0, fmt.Errorf("%s is not listed", coin)
	}
}

type SymbolListing struct {
	Perp []string `json:"perp"`
	Spot []string `json:"spot"`
}

// Symbols fetches both listings concurrently.
func (r *Router) Symbols(ctx context.Context) (SymbolListing, error) {
	var out SymbolListing
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		out.Perp, err = r.resolver.Symbols(gctx, trading.MarketPerp)
		return err
	})
	g.Go(func() error {
		var err error
		out.Spot, err = r.resolver.Symbols(gctx, trading.MarketSpot)
		return err
	})
	if err := g.Wait(); err != nil {
		return SymbolListing{}, err
	}
	return out, nil
}

type MarketData struct {
	Symbol      string              `json:"symbol"`
	MarketClass trading.MarketClass `json:"marketClass"`
	AssetID     trading.AssetIndex  `json:"assetId"`
	MidPrice    *decimal.Decimal    `json:"midPrice,omitempty"`
}

// MarketData resolves symbol and attaches its current mid, when the venue
// quotes one.
func (r *Router) MarketData(ctx context.Context, symbol string, class trading.MarketClass) (MarketData, error) {
	asset, err := r.resolver.Resolve(ctx, symbol, class)
	if err != nil {
		return MarketData{}, err
	}
	mid, err := r.midPrice(ctx, symbol)
	if err != nil {
		return MarketData{}, err
	}
	return MarketData{Symbol: symbol, MarketClass: class, AssetID: asset, MidPrice: mid}, nil
}

func (r *Router) wallet(ctx context.Context, walletID string) (registry.Wallet, error) {
	return r.registry.GetWallet(ctx, walletID)
}
