package custodian

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/recomma/hlcustody/trading"
)

type capturedRequest struct {
	Path     string
	Body     []byte
	AppID    string
	User     string
	Password string
	AuthSig  string
}

type fakeService struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   int
	reply    string
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	user, pass, _ := r.BasicAuth()
	f.mu.Lock()
	f.requests = append(f.requests, capturedRequest{
		Path:     r.URL.Path,
		Body:     body,
		AppID:    r.Header.Get(headerAppID),
		User:     user,
		Password: pass,
		AuthSig:  r.Header.Get(headerAuthorization),
	})
	status, reply := f.status, f.reply
	f.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, reply)
}

func (f *fakeService) last(t *testing.T) capturedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, svc *fakeService, authKey string) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(svc)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, AppID: "app-1", AppSecret: "secret", AuthorizationKey: authKey})
	require.NoError(t, err)
	return c, srv
}

func TestCreateWallet(t *testing.T) {
	t.Parallel()

	svc := &fakeService{reply: `{"id":"pw-1","address":"0x1111111111111111111111111111111111111111","chain_type":"ethereum"}`}
	c, _ := newTestClient(t, svc, "")

	w, err := c.CreateWallet(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, Wallet{ID: "pw-1", Address: "0x1111111111111111111111111111111111111111", ChainType: "ethereum"}, w)

	req := svc.last(t)
	require.Equal(t, "/v1/wallets", req.Path)
	require.JSONEq(t, `{"chain_type":"ethereum"}`, string(req.Body))
	require.Equal(t, "app-1", req.AppID)
	require.Equal(t, "app-1", req.User)
	require.Equal(t, "secret", req.Password)
	require.Empty(t, req.AuthSig)
}

func TestSignHash(t *testing.T) {
	t.Parallel()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hash := crypto.Keccak256([]byte("payload"))
	sig, err := crypto.Sign(hash, key)
	require.NoError(t, err)

	svc := &fakeService{reply: `{"method":"secp256k1_sign","data":{"signature":"` + hexutil.Encode(sig) + `","encoding":"hex"}}`}
	c, _ := newTestClient(t, svc, "")
	addr := crypto.PubkeyToAddress(key.PublicKey)

	got, err := c.SignHash(context.Background(), "pw-1", addr, hash)
	require.NoError(t, err)
	require.Equal(t, sig, got)

	req := svc.last(t)
	require.Equal(t, "/v1/wallets/pw-1/rpc", req.Path)
	var body map[string]any
	require.NoError(t, json.Unmarshal(req.Body, &body))
	require.Equal(t, "secp256k1_sign", body["method"])
	require.Equal(t, addr.Hex(), body["address"])
	require.Equal(t, map[string]any{"hash": hexutil.Encode(hash)}, body["params"])

	_, err = c.SignHash(context.Background(), "pw-1", addr, []byte{1, 2})
	require.Error(t, err)
}

func TestSendTransaction(t *testing.T) {
	t.Parallel()

	svc := &fakeService{reply: `{"method":"eth_sendTransaction","data":{"hash":"0xabc"}}`}
	c, _ := newTestClient(t, svc, "")

	hash, err := c.SendTransaction(context.Background(), "pw-1", "", "0x2222222222222222222222222222222222222222", big.NewInt(1000))
	require.NoError(t, err)
	require.Equal(t, "0xabc", hash)

	req := svc.last(t)
	require.JSONEq(t, `{
		"method": "eth_sendTransaction",
		"caip2": "eip155:1",
		"params": {"transaction": {"to": "0x2222222222222222222222222222222222222222", "value": "0x3e8"}}
	}`, string(req.Body))

	_, err = c.SendTransaction(context.Background(), "pw-1", "", "bob", big.NewInt(1))
	require.Error(t, err)
	_, err = c.SendTransaction(context.Background(), "pw-1", "", "0x2222222222222222222222222222222222222222", big.NewInt(-1))
	require.Error(t, err)
}

func TestStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, trading.ErrSignerUnavailable},
		{http.StatusForbidden, trading.ErrSignerUnavailable},
		{http.StatusTooManyRequests, trading.ErrTransport},
		{http.StatusBadGateway, trading.ErrTransport},
		{http.StatusBadRequest, ErrRejected},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()
			svc := &fakeService{status: tt.status, reply: `{"error":"nope"}`}
			c, _ := newTestClient(t, svc, "")
			_, err := c.SignHash(context.Background(), "pw-1", common.Address{}, make([]byte, 32))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: url, AppID: "app-1", AppSecret: "secret"})
	require.NoError(t, err)
	_, err = c.CreateWallet(context.Background(), ChainEthereum)
	require.ErrorIs(t, err, trading.ErrTransport)
}

func TestAuthorizationSignature(t *testing.T) {
	t.Parallel()

	authKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(authKey)
	require.NoError(t, err)

	svc := &fakeService{reply: `{"id":"pw-1","address":"0x1111111111111111111111111111111111111111","chain_type":"ethereum"}`}
	c, srv := newTestClient(t, svc, authKeyPrefix+base64.StdEncoding.EncodeToString(der))

	_, err = c.CreateWallet(context.Background(), ChainEthereum)
	require.NoError(t, err)

	req := svc.last(t)
	require.NotEmpty(t, req.AuthSig)
	sig, err := base64.StdEncoding.DecodeString(req.AuthSig)
	require.NoError(t, err)

	payload, err := c.authorizationPayload(http.MethodPost, srv.URL+"/v1/wallets", req.Body)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"version": 1,
		"method": "POST",
		"url": "`+srv.URL+`/v1/wallets",
		"body": {"chain_type": "ethereum"},
		"headers": {"privy-app-id": "app-1"}
	}`, string(payload))

	digest := sha256.Sum256(payload)
	require.True(t, ecdsa.VerifyASN1(&authKey.PublicKey, digest[:], sig))
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{AppID: "app"})
	require.Error(t, err)

	_, err = New(Config{AppID: "app", AppSecret: "s", AuthorizationKey: "wallet-auth:!!"})
	require.Error(t, err)
}

func TestCanonicalJSONSortsKeys(t *testing.T) {
	t.Parallel()

	out, err := canonicalJSON(struct {
		Z string `json:"z"`
		A string `json:"a"`
	}{Z: "<1>", A: "2"})
	require.NoError(t, err)
	require.Equal(t, `{"a":"2","z":"<1>"}`, string(out))
}
