package hl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/recomma/hlcustody/trading"
)

// ErrRateLimited marks an HTTP 429 from the venue.
var ErrRateLimited = fmt.Errorf("rate limited: %w", trading.ErrTransport)

// Venue talks to the Hyperliquid HTTP API: listings come from the SDK Info
// client, everything else is posted directly.
type Venue struct {
	http     *resty.Client
	listings ListingSource
	mainnet  bool
	logger   *slog.Logger
}

type VenueOption func(*Venue)

// WithListingSource replaces the SDK backed listing source.
func WithListingSource(src ListingSource) VenueOption {
	return func(v *Venue) {
		if src != nil {
			v.listings = src
		}
	}
}

func WithVenueLogger(logger *slog.Logger) VenueOption {
	return func(v *Venue) {
		if logger != nil {
			v.logger = logger
		}
	}
}

func NewVenue(cfg ClientConfig, opts ...VenueOption) *Venue {
	url := cfg.url()
	v := &Venue{
		http: resty.New().
			SetBaseURL(url).
			SetTimeout(cfg.timeout()).
			SetHeader("Content-Type", "application/json"),
		mainnet: cfg.IsMainnet(),
		logger:  slog.Default().WithGroup("hyperliquid"),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.listings == nil {
		v.listings = NewInfoListings(&lazyInfo{baseURL: url})
	}
	return v
}

// Mainnet reports the network flag signatures must carry.
func (v *Venue) Mainnet() bool { return v.mainnet }

func (v *Venue) PerpUniverse(ctx context.Context) ([]string, error) {
	return v.listings.PerpUniverse(ctx)
}

func (v *Venue) SpotTokens(ctx context.Context) ([]string, error) {
	return v.listings.SpotTokens(ctx)
}

func (v *Venue) info(ctx context.Context, body map[string]any, out any) error {
	resp, err := v.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("/info")
	if err != nil {
		return fmt.Errorf("%w: info %v: %v", trading.ErrTransport, body["type"], err)
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		return fmt.Errorf("info %v: %w", body["type"], ErrRateLimited)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: info %v: status %d: %s", trading.ErrTransport, body["type"], resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%w: decode info %v: %v", trading.ErrTransport, body["type"], err)
	}
	return nil
}

// MidPrices returns the current mid price per symbol.
func (v *Venue) MidPrices(ctx context.Context) (map[string]decimal.Decimal, error) {
	var raw map[string]string
	if err := v.info(ctx, map[string]any{"type": "allMids"}, &raw); err != nil {
		return nil, err
	}
	mids := make(map[string]decimal.Decimal, len(raw))
	for symbol, px := range raw {
		d, err := decimal.NewFromString(px)
		if err != nil {
			v.logger.Debug("skipping unparsable mid", slog.String("symbol", symbol), slog.String("px", px))
			continue
		}
		mids[symbol] = d
	}
	return mids, nil
}

type MarginSummary struct {
	AccountValue    string `json:"accountValue"`
	TotalNtlPos     string `json:"totalNtlPos"`
	TotalRawUsd     string `json:"totalRawUsd"`
	TotalMarginUsed string `json:"totalMarginUsed"`
}

type Position struct {
	Coin           string          `json:"coin"`
	Szi            string          `json:"szi"`
	EntryPx        *string         `json:"entryPx"`
	PositionValue  string          `json:"positionValue"`
	UnrealizedPnl  string          `json:"unrealizedPnl"`
	ReturnOnEquity string          `json:"returnOnEquity"`
	LiquidationPx  *string         `json:"liquidationPx"`
	MarginUsed     string          `json:"marginUsed"`
	Leverage       json.RawMessage `json:"leverage,omitempty"`
}

type AssetPosition struct {
	Type     string   `json:"type"`
	Position Position `json:"position"`
}

type AccountState struct {
	MarginSummary      MarginSummary   `json:"marginSummary"`
	CrossMarginSummary MarginSummary   `json:"crossMarginSummary"`
	Withdrawable       string          `json:"withdrawable"`
	AssetPositions     []AssetPosition `json:"assetPositions"`
	Time               int64           `json:"time"`
}

// OpenPositions drops flat positions.
func (s AccountState) OpenPositions() []Position {
	out := make([]Position, 0, len(s.AssetPositions))
	for _, ap := range s.AssetPositions {
		size, err := decimal.NewFromString(ap.Position.Szi)
		if err != nil || size.IsZero() {
			continue
		}
		out = append(out, ap.Position)
	}
	return out
}

func (v *Venue) AccountState(ctx context.Context, user string) (AccountState, error) {
	var state AccountState
	err := v.info(ctx, map[string]any{"type": "clearinghouseState", "user": strings.ToLower(user)}, &state)
	return state, err
}

type OpenOrder struct {
	Coin      string  `json:"coin"`
	Side      string  `json:"side"`
	LimitPx   string  `json:"limitPx"`
	Sz        string  `json:"sz"`
	Oid       int64   `json:"oid"`
	Timestamp int64   `json:"timestamp"`
	OrigSz    string  `json:"origSz,omitempty"`
	Cloid     *string `json:"cloid,omitempty"`
}

func (v *Venue) OpenOrders(ctx context.Context, user string) ([]OpenOrder, error) {
	var orders []OpenOrder
	if err := v.info(ctx, map[string]any{"type": "openOrders", "user": strings.ToLower(user)}, &orders); err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []OpenOrder{}
	}
	return orders, nil
}

// ExchangeRequest is the signed body posted to /exchange.
type ExchangeRequest struct {
	Action       Action    `json:"action"`
	Nonce        int64     `json:"nonce"`
	Signature    Signature `json:"signature"`
	VaultAddress *string   `json:"vaultAddress"`
}

// ExchangeResponse is the venue's reply. Response is either a status object
// or, on errors, a bare string.
type ExchangeResponse struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
}

// PostAction submits a signed action. The raw body is returned whenever one
// was received.
func (v *Venue) PostAction(ctx context.Context, action Action, nonce int64, sig Signature) (ExchangeResponse, json.RawMessage, error) {
	resp, err := v.http.R().
		SetContext(ctx).
		SetBody(ExchangeRequest{Action: action, Nonce: nonce, Signature: sig}).
		Post("/exchange")
	if err != nil {
		return ExchangeResponse{}, nil, fmt.Errorf("%w: post %s action: %v", trading.ErrTransport, ActionType(action), err)
	}

	raw := json.RawMessage(append([]byte(nil), resp.Body()...))
	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		return ExchangeResponse{}, raw, fmt.Errorf("post %s action: %w", ActionType(action), ErrRateLimited)
	case resp.StatusCode() >= http.StatusInternalServerError:
		return ExchangeResponse{}, raw, fmt.Errorf("%w: post %s action: status %d", trading.ErrTransport, ActionType(action), resp.StatusCode())
	case resp.IsError():
		return ExchangeResponse{}, raw, fmt.Errorf("%w: status %d: %s", trading.ErrVenueRejected, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	var out ExchangeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return ExchangeResponse{}, raw, fmt.Errorf("%w: decode exchange response: %v", trading.ErrTransport, err)
	}
	return out, raw, nil
}

type statusEntry struct {
	Error *string `json:"error,omitempty"`
}

type responseData struct {
	Type string `json:"type"`
	Data struct {
		Statuses []json.RawMessage `json:"statuses"`
	} `json:"data"`
}

// Err reports a venue level rejection, including per-order errors inside an
// otherwise successful envelope.
func (r ExchangeResponse) Err() error {
	if r.Status != "ok" {
		msg := strings.TrimSpace(string(r.Response))
		var s string
		if json.Unmarshal(r.Response, &s) == nil {
			msg = s
		}
		if msg == "" {
			msg = fmt.Sprintf("status %q", r.Status)
		}
		return fmt.Errorf("%w: %s", trading.ErrVenueRejected, msg)
	}

	var data responseData
	if len(r.Response) == 0 || json.Unmarshal(r.Response, &data) != nil {
		return nil
	}
	var msgs []string
	for _, raw := range data.Data.Statuses {
		var entry statusEntry
		if json.Unmarshal(raw, &entry) == nil && entry.Error != nil {
			msgs = append(msgs, *entry.Error)
			continue
		}
		// cancels answer with bare "success" strings or error texts
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" && s != "success" {
			msgs = append(msgs, s)
		}
	}
	if len(msgs) > 0 {
		return fmt.Errorf("%w: %s", trading.ErrVenueRejected, strings.Join(msgs, "; "))
	}
	return nil
}

func asTransport(err error) error {
	if errors.Is(err, trading.ErrTransport) {
		return err
	}
	return fmt.Errorf("%w: %v", trading.ErrTransport, err)
}
