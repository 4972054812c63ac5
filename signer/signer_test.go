package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/recomma/hlcustody/registry"
	"github.com/recomma/hlcustody/trading"
)

type mapKeys map[string]*ecdsa.PrivateKey

func (m mapKeys) PrivateKey(_ context.Context, ref string) (*ecdsa.PrivateKey, error) {
	key, ok := m[ref]
	if !ok {
		return nil, fmt.Errorf("key %q: %w", ref, trading.ErrNotFound)
	}
	return key, nil
}

type fakeCustodian struct {
	calls []common.Address
	sig   []byte
	err   error
}

func (f *fakeCustodian) SignHash(_ context.Context, walletID string, address common.Address, hash []byte) ([]byte, error) {
	f.calls = append(f.calls, address)
	if f.err != nil {
		return nil, f.err
	}
	return f.sig, nil
}

var digest = crypto.Keccak256([]byte("digest"))

func localWallet(t *testing.T) (registry.Wallet, mapKeys) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	w := registry.Wallet{
		ID:             "w-local",
		Address:        crypto.PubkeyToAddress(key.PublicKey).Hex(),
		SigningMode:    registry.SigningLocalKey,
		KeyMaterialRef: "keystore:wallet/w-local",
	}
	return w, mapKeys{w.KeyMaterialRef: key}
}

func TestLocalSigner(t *testing.T) {
	t.Parallel()

	wallet, keys := localWallet(t)
	remote := &fakeCustodian{}
	p := NewProvider(WithKeyResolver(keys), WithDelegatedSigner(remote))

	s, err := p.Signer(context.Background(), wallet)
	require.NoError(t, err)
	require.IsType(t, &LocalSigner{}, s)
	require.Equal(t, common.HexToAddress(wallet.Address), s.Address())

	sig, err := s.Sign(context.Background(), digest)
	require.NoError(t, err)
	pub, err := crypto.SigToPub(digest, sig)
	require.NoError(t, err)
	require.Equal(t, s.Address(), crypto.PubkeyToAddress(*pub))
	require.Empty(t, remote.calls)
}

func TestLocalSignerUnavailable(t *testing.T) {
	t.Parallel()

	wallet, keys := localWallet(t)

	_, err := NewProvider().Signer(context.Background(), wallet)
	require.ErrorIs(t, err, trading.ErrSignerUnavailable)

	missing := wallet
	missing.KeyMaterialRef = "keystore:wallet/other"
	_, err = NewProvider(WithKeyResolver(keys), WithDelegatedSigner(&fakeCustodian{})).Signer(context.Background(), missing)
	require.ErrorIs(t, err, trading.ErrSignerUnavailable)

	mismatch := wallet
	mismatch.Address = "0x000000000000000000000000000000000000dEaD"
	_, err = NewProvider(WithKeyResolver(keys)).Signer(context.Background(), mismatch)
	require.ErrorIs(t, err, trading.ErrSignerUnavailable)
}

func TestRemoteSignerPassesSignatureThrough(t *testing.T) {
	t.Parallel()

	remoteSig := make([]byte, 65)
	remoteSig[0] = 0xab
	remoteSig[64] = 28
	remote := &fakeCustodian{sig: remoteSig}
	wallet := registry.Wallet{
		ID:          "pw-1",
		Address:     "0x1111111111111111111111111111111111111111",
		SigningMode: registry.SigningRemoteDelegated,
	}

	s, err := NewProvider(WithDelegatedSigner(remote)).Signer(context.Background(), wallet)
	require.NoError(t, err)
	require.IsType(t, &RemoteSigner{}, s)

	sig, err := s.Sign(context.Background(), digest)
	require.NoError(t, err)
	require.Equal(t, remoteSig, sig)
	require.Equal(t, []common.Address{common.HexToAddress(wallet.Address)}, remote.calls)
}

func TestRemoteSignerErrors(t *testing.T) {
	t.Parallel()

	wallet := registry.Wallet{
		ID:          "pw-1",
		Address:     "0x1111111111111111111111111111111111111111",
		SigningMode: registry.SigningRemoteDelegated,
	}

	_, err := NewProvider().Signer(context.Background(), wallet)
	require.ErrorIs(t, err, trading.ErrSignerUnavailable)

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"transport", fmt.Errorf("%w: dial", trading.ErrTransport), trading.ErrTransport},
		{"auth", fmt.Errorf("%w: 401", trading.ErrSignerUnavailable), trading.ErrSignerUnavailable},
		{"other", errors.New("bad request"), trading.ErrSignerUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := NewProvider(WithDelegatedSigner(&fakeCustodian{err: tt.err})).Signer(context.Background(), wallet)
			require.NoError(t, err)
			_, err = s.Sign(context.Background(), digest)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestUnknownModeAndBadAddress(t *testing.T) {
	t.Parallel()

	p := NewProvider(WithDelegatedSigner(&fakeCustodian{}))
	_, err := p.Signer(context.Background(), registry.Wallet{
		ID:          "w",
		Address:     "0x1111111111111111111111111111111111111111",
		SigningMode: "compat",
	})
	require.ErrorIs(t, err, trading.ErrSignerUnavailable)

	_, err = p.Signer(context.Background(), registry.Wallet{ID: "w", Address: "nope", SigningMode: registry.SigningRemoteDelegated})
	require.ErrorIs(t, err, trading.ErrSignerUnavailable)
}
