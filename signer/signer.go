// Package signer selects how a wallet's actions get signed. Wallets carry an
// explicit signing mode: local keys sign in process, delegated wallets ask the
// custodian for every signature.
package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/recomma/hlcustody/registry"
	"github.com/recomma/hlcustody/trading"
)

// Signer produces 65 byte r||s||v secp256k1 signatures over 32 byte digests.
type Signer interface {
	Address() common.Address
	Sign(ctx context.Context, digest []byte) ([]byte, error)
}

// KeyResolver loads local key material by reference.
type KeyResolver interface {
	PrivateKey(ctx context.Context, ref string) (*ecdsa.PrivateKey, error)
}

// DelegatedSigner asks a custodian to sign a hash with a wallet it holds.
type DelegatedSigner interface {
	SignHash(ctx context.Context, walletID string, address common.Address, hash []byte) ([]byte, error)
}

type Provider struct {
	keys   KeyResolver
	remote DelegatedSigner
	logger *slog.Logger
}

type Option func(*Provider)

func WithKeyResolver(keys KeyResolver) Option {
	return func(p *Provider) {
		p.keys = keys
	}
}

func WithDelegatedSigner(remote DelegatedSigner) Option {
	return func(p *Provider) {
		p.remote = remote
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		logger: slog.Default().WithGroup("signer"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Signer returns the signer for wallet according to its signing mode. Every
// failure wraps trading.ErrSignerUnavailable.
func (p *Provider) Signer(ctx context.Context, wallet registry.Wallet) (Signer, error) {
	if !common.IsHexAddress(wallet.Address) {
		return nil, fmt.Errorf("%w: wallet %s has invalid address %q", trading.ErrSignerUnavailable, wallet.ID, wallet.Address)
	}
	addr := common.HexToAddress(wallet.Address)

	switch wallet.SigningMode {
	case registry.SigningLocalKey:
		return p.localSigner(ctx, wallet, addr)
	case registry.SigningRemoteDelegated:
		if p.remote == nil {
			return nil, fmt.Errorf("%w: no custodian configured for wallet %s", trading.ErrSignerUnavailable, wallet.ID)
		}
		return &RemoteSigner{walletID: wallet.ID, address: addr, remote: p.remote}, nil
	default:
		return nil, fmt.Errorf("%w: wallet %s has unknown signing mode %q", trading.ErrSignerUnavailable, wallet.ID, wallet.SigningMode)
	}
}

func (p *Provider) localSigner(ctx context.Context, wallet registry.Wallet, addr common.Address) (Signer, error) {
	if p.keys == nil {
		return nil, fmt.Errorf("%w: no keystore configured for wallet %s", trading.ErrSignerUnavailable, wallet.ID)
	}
	key, err := p.keys.PrivateKey(ctx, wallet.KeyMaterialRef)
	if err != nil {
		p.logger.Warn("local key unavailable", slog.String("wallet", wallet.ID), slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: wallet %s: %v", trading.ErrSignerUnavailable, wallet.ID, err)
	}
	signer := NewLocalSigner(key)
	if signer.Address() != addr {
		return nil, fmt.Errorf("%w: key for wallet %s derives %s, want %s", trading.ErrSignerUnavailable, wallet.ID, signer.Address().Hex(), addr.Hex())
	}
	return signer, nil
}

type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewLocalSigner(key *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func (s *LocalSigner) Address() common.Address { return s.address }

func (s *LocalSigner) Sign(_ context.Context, digest []byte) ([]byte, error) {
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", trading.ErrSignerUnavailable, err)
	}
	return sig, nil
}

// RemoteSigner forwards every digest to the custodian and returns its
// signature unchanged.
type RemoteSigner struct {
	walletID string
	address  common.Address
	remote   DelegatedSigner
}

func (s *RemoteSigner) Address() common.Address { return s.address }

func (s *RemoteSigner) Sign(ctx context.Context, digest []byte) ([]byte, error) {
	sig, err := s.remote.SignHash(ctx, s.walletID, s.address, digest)
	if err == nil {
		return sig, nil
	}
	if errors.Is(err, trading.ErrTransport) || errors.Is(err, trading.ErrSignerUnavailable) {
		return nil, fmt.Errorf("delegated sign for wallet %s: %w", s.walletID, err)
	}
	return nil, fmt.Errorf("%w: delegated sign for wallet %s: %v", trading.ErrSignerUnavailable, s.walletID, err)
}
