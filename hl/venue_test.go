package hl

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sonirico/go-hyperliquid"
	"github.com/stretchr/testify/require"

	"github.com/recomma/hlcustody/internal/venuetest"
	"github.com/recomma/hlcustody/trading"
)

func newTestVenue(t *testing.T) (*Venue, *venuetest.Server) {
	t.Helper()
	srv := venuetest.New(t)
	testnet := false
	v := NewVenue(ClientConfig{BaseURL: srv.URL(), Mainnet: &testnet},
		WithListingSource(&staticListings{perps: []string{"BTC", "ETH"}}))
	return v, srv
}

func TestClientConfigNetwork(t *testing.T) {
	t.Parallel()

	require.False(t, ClientConfig{}.IsMainnet())
	require.True(t, ClientConfig{BaseURL: hyperliquid.MainnetAPIURL}.IsMainnet())

	testnet := false
	require.False(t, ClientConfig{BaseURL: hyperliquid.MainnetAPIURL, Mainnet: &testnet}.IsMainnet())
}

func TestMidPrices(t *testing.T) {
	t.Parallel()
	v, srv := newTestVenue(t)
	srv.State().SetMid("HYPE", "21.5")

	mids, err := v.MidPrices(context.Background())
	require.NoError(t, err)
	require.Equal(t, "3012.5", mids["ETH"].String())
	require.Equal(t, "21.5", mids["HYPE"].String())

	reqs := srv.InfoRequests()
	require.Len(t, reqs, 1)
	require.Equal(t, "allMids", reqs[0].Type)
}

func TestAccountStateAndPositions(t *testing.T) {
	t.Parallel()
	v, srv := newTestVenue(t)
	user := "0x00000000000000000000000000000000000000aa"

	srv.State().SetAccountState(user, map[string]any{
		"marginSummary": map[string]string{"accountValue": "1000.5", "totalNtlPos": "300", "totalRawUsd": "700", "totalMarginUsed": "30"},
		"withdrawable":  "970.5",
		"assetPositions": []any{
			map[string]any{"type": "oneWay", "position": map[string]any{"coin": "ETH", "szi": "0.1", "positionValue": "300"}},
			map[string]any{"type": "oneWay", "position": map[string]any{"coin": "BTC", "szi": "0.0", "positionValue": "0"}},
		},
	})

	state, err := v.AccountState(context.Background(), "0x00000000000000000000000000000000000000AA")
	require.NoError(t, err)
	require.Equal(t, "1000.5", state.MarginSummary.AccountValue)
	require.Len(t, state.AssetPositions, 2)

	open := state.OpenPositions()
	require.Len(t, open, 1)
	require.Equal(t, "ETH", open[0].Coin)
}

func TestOpenOrders(t *testing.T) {
	t.Parallel()
	v, srv := newTestVenue(t)
	user := "0x00000000000000000000000000000000000000bb"

	orders, err := v.OpenOrders(context.Background(), user)
	require.NoError(t, err)
	require.Empty(t, orders)

	srv.State().SetOpenOrders(user, venuetest.OpenOrder{Coin: "ETH", Side: "B", LimitPx: "3000", Sz: "0.5", Oid: 77})
	orders, err = v.OpenOrders(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, int64(77), orders[0].Oid)
}

func TestPostActionSendsSignedEnvelope(t *testing.T) {
	t.Parallel()
	v, srv := newTestVenue(t)
	key, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)

	action := sampleOrderAction()
	const nonce = int64(1700000000000)
	digest, err := ActionDigest(action, nonce, v.Mainnet())
	require.NoError(t, err)
	raw, err := crypto.Sign(digest, key)
	require.NoError(t, err)
	sig, err := SignatureFromBytes(raw)
	require.NoError(t, err)

	resp, body, err := v.PostAction(context.Background(), action, nonce, sig)
	require.NoError(t, err)
	require.NoError(t, resp.Err())
	require.Equal(t, "ok", resp.Status)
	require.True(t, json.Valid(body))

	reqs := srv.ExchangeRequests()
	require.Len(t, reqs, 1)
	got := reqs[0]
	require.Equal(t, nonce, got.Nonce)
	require.Nil(t, got.VaultAddress)
	require.Equal(t, "order", got.Action["type"])
	require.Equal(t, "na", got.Action["grouping"])
	require.Equal(t, sig.R, got.Signature.R)
	require.Equal(t, int(sig.V), got.Signature.V)

	var decoded struct {
		Action OrderAction `json:"action"`
	}
	require.NoError(t, json.Unmarshal(got.Raw, &decoded))
	require.Equal(t, action, decoded.Action)

	// the posted action must hash to the digest that was signed
	again, err := ActionDigest(decoded.Action, got.Nonce, false)
	require.NoError(t, err)
	recovered, err := RecoverAddress(again, sig)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), recovered)

	placed := srv.State().Placed()
	require.Len(t, placed, 1)
	require.Equal(t, "3000", placed[0].Price)
	require.Equal(t, "Gtc", placed[0].Tif)
}

func TestPostActionFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		prepare func(*venuetest.State)
		wantErr error
		respErr error
	}{
		{
			name:    "rate limited",
			prepare: func(s *venuetest.State) { s.FailNext(http.StatusTooManyRequests, "slow down") },
			wantErr: ErrRateLimited,
		},
		{
			name:    "server error",
			prepare: func(s *venuetest.State) { s.FailNext(http.StatusBadGateway, "upstream") },
			wantErr: trading.ErrTransport,
		},
		{
			name:    "client error",
			prepare: func(s *venuetest.State) { s.FailNext(http.StatusUnprocessableEntity, "bad body") },
			wantErr: trading.ErrVenueRejected,
		},
		{
			name:    "err envelope",
			prepare: func(s *venuetest.State) { s.RejectNext("User or API Wallet does not exist.") },
			respErr: trading.ErrVenueRejected,
		},
		{
			name:    "per-order error",
			prepare: func(s *venuetest.State) { s.FailOrders("Insufficient margin to place order.") },
			respErr: trading.ErrVenueRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v, srv := newTestVenue(t)
			tt.prepare(srv.State())

			resp, _, err := v.PostAction(context.Background(), sampleOrderAction(), 1, Signature{R: "0x01", S: "0x02", V: 27})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.ErrorIs(t, resp.Err(), tt.respErr)
		})
	}
}

func TestExchangeResponseErrCancelStatuses(t *testing.T) {
	t.Parallel()

	ok := ExchangeResponse{Status: "ok", Response: json.RawMessage(`{"type":"cancel","data":{"statuses":["success"]}}`)}
	require.NoError(t, ok.Err())

	failed := ExchangeResponse{Status: "ok", Response: json.RawMessage(`{"type":"cancel","data":{"statuses":[{"error":"Order was never placed, already canceled, or filled."}]}}`)}
	err := failed.Err()
	require.ErrorIs(t, err, trading.ErrVenueRejected)
	require.Contains(t, err.Error(), "never placed")

	rejected := ExchangeResponse{Status: "err", Response: json.RawMessage(`"bad nonce"`)}
	require.EqualError(t, rejected.Err(), "venue rejected: bad nonce")
}
