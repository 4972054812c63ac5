package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/recomma/hlcustody/cmd/hlcustody/internal/config"
	"github.com/recomma/hlcustody/custodian"
	"github.com/recomma/hlcustody/emitter"
	"github.com/recomma/hlcustody/hl"
	"github.com/recomma/hlcustody/internal/keystore"
	"github.com/recomma/hlcustody/registry"
	"github.com/recomma/hlcustody/router"
	"github.com/recomma/hlcustody/signer"
)

// app owns the long lived components one CLI invocation works against.
type app struct {
	cfg      config.AppConfig
	registry *registry.Registry
	keystore *keystore.Store
	router   *router.Router
}

func newApp(cfg config.AppConfig, logger *slog.Logger, venueOpts ...hl.VenueOption) (*app, error) {
	regOpts := []registry.Option{registry.WithLogger(logger.WithGroup("registry"))}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		regOpts = append(regOpts, registry.WithQueryLogger(logger.WithGroup("registry").WithGroup("sql")))
	}
	reg, err := registry.Open(cfg.StoragePath, regOpts...)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	ks, err := keystore.Open(keystore.Options{
		Path:          cfg.KeystorePath,
		EncryptionKey: cfg.KeystoreKey,
		Logger:        logger.WithGroup("keystore"),
	})
	if err != nil {
		reg.Close()
		return nil, err
	}

	signerOpts := []signer.Option{
		signer.WithKeyResolver(ks),
		signer.WithLogger(logger.WithGroup("signer")),
	}
	routerOpts := []router.Option{
		router.WithKeystore(ks),
		router.WithLogger(logger.WithGroup("router")),
	}
	if cfg.CustodianConfigured() {
		client, err := custodian.New(cfg.Custodian, custodian.WithLogger(logger.WithGroup("custodian")))
		if err != nil {
			return nil, errors.Join(err, ks.Close(), reg.Close())
		}
		signerOpts = append(signerOpts, signer.WithDelegatedSigner(client))
		routerOpts = append(routerOpts, router.WithCustodian(client))
	}

	venueOpts = append([]hl.VenueOption{hl.WithVenueLogger(logger.WithGroup("hyperliquid"))}, venueOpts...)
	venue := hl.NewVenue(cfg.Hyperliquid, venueOpts...)
	submitter := emitter.NewSubmitter(venue, signer.NewProvider(signerOpts...),
		emitter.WithRateGate(emitter.NewRateGate(cfg.ActionSpacing)),
		emitter.WithLogger(logger.WithGroup("emitter")),
	)

	return &app{
		cfg:      cfg,
		registry: reg,
		keystore: ks,
		router:   router.New(reg, hl.NewAssetResolver(venue), venue, submitter, routerOpts...),
	}, nil
}

func (a *app) Close() error {
	return errors.Join(a.keystore.Close(), a.registry.Close())
}
