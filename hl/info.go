package hl

import (
	"context"
	"fmt"
	"sync"

	"github.com/sonirico/go-hyperliquid"
)

// InfoProvider describes the subset of hyperliquid.Info used for listing discovery.
type InfoProvider interface {
	MetaAndAssetCtxs(ctx context.Context) (*hyperliquid.MetaAndAssetCtxs, error)
	SpotMetaAndAssetCtxs(ctx context.Context) (*hyperliquid.SpotMetaAndAssetCtxs, error)
}

// InfoListings adapts an InfoProvider to ListingSource.
type InfoListings struct {
	info InfoProvider
}

func NewInfoListings(info InfoProvider) *InfoListings {
	return &InfoListings{info: info}
}

func (l *InfoListings) PerpUniverse(ctx context.Context) ([]string, error) {
	meta, err := l.info.MetaAndAssetCtxs(ctx)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("empty perp metadata")
	}
	names := make([]string, 0, len(meta.Meta.Universe))
	for _, asset := range meta.Meta.Universe {
		names = append(names, asset.Name)
	}
	return names, nil
}

func (l *InfoListings) SpotTokens(ctx context.Context) ([]string, error) {
	meta, err := l.info.SpotMetaAndAssetCtxs(ctx)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("empty spot metadata")
	}
	names := make([]string, 0, len(meta.Meta.Tokens))
	for _, token := range meta.Meta.Tokens {
		names = append(names, token.Name)
	}
	return names, nil
}

// lazyInfo defers hyperliquid.NewInfo, which fetches metadata while it is
// constructed, until the first listing request.
type lazyInfo struct {
	baseURL string

	mu   sync.Mutex
	info *hyperliquid.Info
}

func (l *lazyInfo) get(ctx context.Context) (info *hyperliquid.Info, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.info != nil {
		return l.info, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bootstrap hyperliquid info: %v", r)
		}
	}()
	l.info = hyperliquid.NewInfo(ctx, l.baseURL, true, nil, nil)
	return l.info, nil
}

func (l *lazyInfo) MetaAndAssetCtxs(ctx context.Context) (*hyperliquid.MetaAndAssetCtxs, error) {
	info, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return info.MetaAndAssetCtxs(ctx)
}

func (l *lazyInfo) SpotMetaAndAssetCtxs(ctx context.Context) (*hyperliquid.SpotMetaAndAssetCtxs, error) {
	info, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return info.SpotMetaAndAssetCtxs(ctx)
}
