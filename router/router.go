// Package router wires the registry, asset resolution, order construction and
// submission into the operations exposed to callers.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sonirico/go-hyperliquid"

	"github.com/recomma/hlcustody/custodian"
	"github.com/recomma/hlcustody/hl"
	rlog "github.com/recomma/hlcustody/log"
	"github.com/recomma/hlcustody/order"
	"github.com/recomma/hlcustody/registry"
	"github.com/recomma/hlcustody/trading"
)

type Registry interface {
	CreateUser(ctx context.Context, userID string, email *string) (registry.User, error)
	GetUser(ctx context.Context, userID string) (registry.User, error)
	ListUsers(ctx context.Context) ([]registry.User, error)
	DeleteUser(ctx context.Context, userID string) (bool, error)
	CreateWallet(ctx context.Context, ownerUserID string, in registry.WalletInput) (registry.Wallet, error)
	GetWallet(ctx context.Context, walletID string) (registry.Wallet, error)
	GetWalletsForUser(ctx context.Context, userID string) ([]registry.Wallet, error)
}

type Resolver interface {
	Resolve(ctx context.Context, symbol string, class trading.MarketClass) (trading.AssetIndex, error)
	Symbols(ctx context.Context, class trading.MarketClass) ([]string, error)
}

type Market interface {
	MidPrices(ctx context.Context) (map[string]decimal.Decimal, error)
	AccountState(ctx context.Context, user string) (hl.AccountState, error)
	OpenOrders(ctx context.Context, user string) ([]hl.OpenOrder, error)
}

type Submitter interface {
	SubmitOrder(ctx context.Context, wallet registry.Wallet, payloads ...order.Payload) trading.SubmitResult
	Cancel(ctx context.Context, wallet registry.Wallet, targets ...hyperliquid.CancelOrderWire) trading.SubmitResult
	Sign(ctx context.Context, wallet registry.Wallet, digest []byte) (hl.Signature, error)
}

type Custodian interface {
	CreateWallet(ctx context.Context, chainType string) (custodian.Wallet, error)
	SendTransaction(ctx context.Context, walletID, caip2, to string, value *big.Int) (string, error)
}

type Keystore interface {
	Generate(ctx context.Context, walletID string) (string, common.Address, error)
	Delete(ctx context.Context, ref string) error
}

type Router struct {
	registry  Registry
	resolver  Resolver
	market    Market
	submitter Submitter
	custodian Custodian
	keystore  Keystore
	newID     func() string
	logger    *slog.Logger
}

type Option func(*Router)

func WithCustodian(c Custodian) Option {
	return func(r *Router) {
		r.custodian = c
	}
}

func WithKeystore(ks Keystore) Option {
	return func(r *Router) {
		r.keystore = ks
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithIDGenerator overrides how ids for locally held wallets are minted.
func WithIDGenerator(fn func() string) Option {
	return func(r *Router) {
		if fn != nil {
			r.newID = fn
		}
	}
}

func New(reg Registry, resolver Resolver, market Market, submitter Submitter, opts ...Option) *Router {
	r := &Router{
		registry:  reg,
		resolver:  resolver,
		market:    market,
		submitter: submitter,
		newID:     uuid.NewString,
		logger:    slog.Default().WithGroup("router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// requestLogger prefers the logger attached to ctx, narrowed to the router
// group, over the router's own.
func (r *Router) requestLogger(ctx context.Context) *slog.Logger {
	if logger, ok := rlog.FromContext(ctx); ok {
		return logger.WithGroup("router")
	}
	return r.logger
}

func (r *Router) CreateUser(ctx context.Context, userID string, email *string) (registry.User, error) {
	return r.registry.CreateUser(ctx, userID, email)
}

func (r *Router) GetUser(ctx context.Context, userID string) (registry.User, error) {
	return r.registry.GetUser(ctx, userID)
}

func (r *Router) ListUsers(ctx context.Context) ([]registry.User, error) {
	return r.registry.ListUsers(ctx)
}

// DeleteUser removes the user with its wallets and discards the local keys
// those wallets referenced.
func (r *Router) DeleteUser(ctx context.Context, userID string) (bool, error) {
	wallets, err := r.registry.GetWalletsForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	deleted, err := r.registry.DeleteUser(ctx, userID)
	if err != nil || !deleted {
		return deleted, err
	}

	for _, w := range wallets {
		if w.SigningMode != registry.SigningLocalKey || r.keystore == nil {
			continue
		}
		if err := r.keystore.Delete(ctx, w.KeyMaterialRef); err != nil {
			r.requestLogger(ctx).Warn("could not delete wallet key", slog.String("wallet", w.ID), slog.String("error", err.Error()))
		}
	}
	r.requestLogger(ctx).Info("deleted user", slog.String("user", userID), slog.Int("wallets", len(wallets)))
	return true, nil
}

// CreateWallet provisions a wallet for userID in the requested signing mode.
func (r *Router) CreateWallet(ctx context.Context, userID string, mode registry.SigningMode) (registry.Wallet, error) {
	if _, err := r.registry.GetUser(ctx, userID); err != nil {
		return registry.Wallet{}, err
	}

	switch mode {
	case registry.SigningRemoteDelegated:
		return r.createRemoteWallet(ctx, userID)
	case registry.SigningLocalKey:
		return r.createLocalWallet(ctx, userID)
	default:
		return registry.Wallet{}, fmt.Errorf("unknown signing mode %q", mode)
	}
}

func (r *Router) createRemoteWallet(ctx context.Context, userID string) (registry.Wallet, error) {
	if r.custodian == nil {
		return registry.Wallet{}, fmt.Errorf("%w: no custodian configured", trading.ErrSignerUnavailable)
	}
	cw, err := r.custodian.CreateWallet(ctx, custodian.ChainEthereum)
	if err != nil {
		return registry.Wallet{}, err
	}
	w, err := r.registry.CreateWallet(ctx, userID, registry.WalletInput{
		ID:             cw.ID,
		Address:        cw.Address,
		ChainType:      cw.ChainType,
		SigningMode:    registry.SigningRemoteDelegated,
		KeyMaterialRef: registry.CustodianRef(cw.ID),
	})
	if err != nil {
		r.requestLogger(ctx).Error("custodial wallet created but not recorded", slog.String("wallet", cw.ID), slog.String("user", userID), slog.String("error", err.Error()))
		return registry.Wallet{}, err
	}
	return w, nil
}

func (r *Router) createLocalWallet(ctx context.Context, userID string) (registry.Wallet, error) {
	if r.keystore == nil {
		return registry.Wallet{}, fmt.Errorf("%w: no keystore configured", trading.ErrSignerUnavailable)
	}
	id := r.newID()
	ref, addr, err := r.keystore.Generate(ctx, id)
	if err != nil {
		return registry.Wallet{}, err
	}
	w, err := r.registry.CreateWallet(ctx, userID, registry.WalletInput{
		ID:             id,
		Address:        addr.Hex(),
		ChainType:      custodian.ChainEthereum,
		SigningMode:    registry.SigningLocalKey,
		KeyMaterialRef: ref,
	})
	if err != nil {
		if derr := r.keystore.Delete(ctx, ref); derr != nil {
			err = errors.Join(err, derr)
		}
		return registry.Wallet{}, err
	}
	return w, nil
}

func (r *Router) GetWallet(ctx context.Context, walletID string) (registry.Wallet, error) {
	return r.registry.GetWallet(ctx, walletID)
}

func (r *Router) GetWalletsForUser(ctx context.Context, userID string) ([]registry.Wallet, error) {
	return r.registry.GetWalletsForUser(ctx, userID)
}
