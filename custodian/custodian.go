// Package custodian talks to a Privy style custodial wallet service. The
// service holds wallet keys and signs on request.
package custodian

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-resty/resty/v2"

	"github.com/recomma/hlcustody/trading"
)

const (
	DefaultBaseURL = "https://api.privy.io"
	ChainEthereum  = "ethereum"
	// DefaultCAIP2 is Ethereum mainnet.
	DefaultCAIP2 = "eip155:1"

	headerAppID         = "privy-app-id"
	headerAuthorization = "privy-authorization-signature"
)

var ErrRejected = errors.New("custodian rejected request")

type Config struct {
	BaseURL   string
	AppID     string
	AppSecret string
	// AuthorizationKey is an optional "wallet-auth:" prefixed P-256 key used
	// to sign requests for wallets guarded by an authorization policy.
	AuthorizationKey string
	Timeout          time.Duration
}

type Client struct {
	http    *resty.Client
	baseURL string
	appID   string
	authKey *ecdsa.PrivateKey
	logger  *slog.Logger
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.AppID == "" || cfg.AppSecret == "" {
		return nil, errors.New("custodian: app id and app secret are required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		baseURL: base,
		appID:   cfg.AppID,
		logger:  slog.Default().WithGroup("custodian"),
	}
	if cfg.AuthorizationKey != "" {
		key, err := ParseAuthorizationKey(cfg.AuthorizationKey)
		if err != nil {
			return nil, err
		}
		c.authKey = key
	}
	for _, opt := range opts {
		opt(c)
	}

	c.http = resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetBasicAuth(cfg.AppID, cfg.AppSecret).
		SetHeader(headerAppID, cfg.AppID).
		SetHeader("Content-Type", "application/json")
	return c, nil
}

type Wallet struct {
	ID        string `json:"id"`
	Address   string `json:"address"`
	ChainType string `json:"chain_type"`
}

// CreateWallet provisions a new custodial wallet.
func (c *Client) CreateWallet(ctx context.Context, chainType string) (Wallet, error) {
	if chainType == "" {
		chainType = ChainEthereum
	}
	var out Wallet
	if err := c.post(ctx, "/v1/wallets", map[string]any{"chain_type": chainType}, &out); err != nil {
		return Wallet{}, fmt.Errorf("create wallet: %w", err)
	}
	if out.ID == "" || !common.IsHexAddress(out.Address) {
		return Wallet{}, fmt.Errorf("create wallet: %w: incomplete wallet in response", ErrRejected)
	}
	c.logger.Info("created custodial wallet", slog.String("wallet", out.ID), slog.String("address", out.Address))
	return out, nil
}

type rpcRequest struct {
	Method  string `json:"method"`
	Address string `json:"address,omitempty"`
	CAIP2   string `json:"caip2,omitempty"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data"`
}

// RPC invokes a wallet RPC method and decodes the response data into out.
func (c *Client) RPC(ctx context.Context, walletID, method, caip2 string, params any, out any) error {
	return c.rpc(ctx, walletID, rpcRequest{Method: method, CAIP2: caip2, Params: params}, out)
}

func (c *Client) rpc(ctx context.Context, walletID string, req rpcRequest, out any) error {
	if walletID == "" {
		return fmt.Errorf("%s: wallet id is required", req.Method)
	}
	var resp rpcResponse
	if err := c.post(ctx, "/v1/wallets/"+walletID+"/rpc", req, &resp); err != nil {
		return fmt.Errorf("%s: %w", req.Method, err)
	}
	if out == nil {
		return nil
	}
	if len(resp.Data) == 0 {
		return fmt.Errorf("%s: %w: empty data", req.Method, ErrRejected)
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("%s: decode data: %w", req.Method, err)
	}
	return nil
}

// SignHash asks the custodian for a raw secp256k1 signature over hash.
func (c *Client) SignHash(ctx context.Context, walletID string, address common.Address, hash []byte) ([]byte, error) {
	if len(hash) != common.HashLength {
		return nil, fmt.Errorf("secp256k1_sign: hash must be %d bytes, got %d", common.HashLength, len(hash))
	}
	var data struct {
		Signature string `json:"signature"`
	}
	err := c.rpc(ctx, walletID, rpcRequest{
		Method:  "secp256k1_sign",
		Address: address.Hex(),
		Params:  map[string]string{"hash": hexutil.Encode(hash)},
	}, &data)
	if err != nil {
		return nil, err
	}
	sig, err := hexutil.Decode(data.Signature)
	if err != nil {
		return nil, fmt.Errorf("secp256k1_sign: decode signature: %w", err)
	}
	return sig, nil
}

type Transaction struct {
	To    string `json:"to"`
	Value string `json:"value"`
}

// SendTransaction moves value wei from walletID to to on the caip2 chain and
// returns the transaction hash.
func (c *Client) SendTransaction(ctx context.Context, walletID, caip2, to string, value *big.Int) (string, error) {
	if !common.IsHexAddress(to) {
		return "", fmt.Errorf("eth_sendTransaction: invalid recipient %q", to)
	}
	if value == nil || value.Sign() < 0 {
		return "", errors.New("eth_sendTransaction: value must be non-negative")
	}
	if caip2 == "" {
		caip2 = DefaultCAIP2
	}
	var data struct {
		Hash string `json:"hash"`
	}
	params := map[string]any{
		"transaction": Transaction{To: common.HexToAddress(to).Hex(), Value: hexutil.EncodeBig(value)},
	}
	if err := c.RPC(ctx, walletID, "eth_sendTransaction", caip2, params, &data); err != nil {
		return "", err
	}
	return data.Hash, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	raw, err := canonicalJSON(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req := c.http.R().SetContext(ctx).SetBody(raw)
	if c.authKey != nil {
		sig, err := c.authorizationSignature(http.MethodPost, c.baseURL+path, raw)
		if err != nil {
			return err
		}
		req.SetHeader(headerAuthorization, sig)
	}

	resp, err := req.Post(path)
	if err != nil {
		return fmt.Errorf("%w: %v", trading.ErrTransport, err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: custodian status %d", trading.ErrSignerUnavailable, code)
	case code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: custodian status %d", trading.ErrTransport, code)
	case resp.IsError():
		return fmt.Errorf("%w: status %d: %s", ErrRejected, code, strings.TrimSpace(resp.String()))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%w: decode response: %v", trading.ErrTransport, err)
	}
	return nil
}

// canonicalJSON renders v with sorted object keys and no HTML escaping.
func canonicalJSON(v any) ([]byte, error) {
	first, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(first))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
