// Package emitter signs venue actions on behalf of a wallet and posts them.
// Every outcome is reported as a trading.SubmitResult.
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sonirico/go-hyperliquid"

	"github.com/recomma/hlcustody/hl"
	"github.com/recomma/hlcustody/order"
	"github.com/recomma/hlcustody/registry"
	"github.com/recomma/hlcustody/signer"
	"github.com/recomma/hlcustody/trading"
)

// rateLimitCooldown is applied to the gate when the venue answers 429. The
// venue allows roughly one action per 10s once an address is limited.
const rateLimitCooldown = 10 * time.Second

// ActionPoster is the venue's exchange endpoint.
type ActionPoster interface {
	PostAction(ctx context.Context, action hl.Action, nonce int64, sig hl.Signature) (hl.ExchangeResponse, json.RawMessage, error)
	Mainnet() bool
}

type SignerProvider interface {
	Signer(ctx context.Context, wallet registry.Wallet) (signer.Signer, error)
}

type Submitter struct {
	venue   ActionPoster
	signers SignerProvider
	gate    RateGate
	now     func() time.Time
	logger  *slog.Logger

	mu        sync.Mutex
	lastNonce int64
}

type Option func(*Submitter)

func WithRateGate(gate RateGate) Option {
	return func(s *Submitter) {
		if gate != nil {
			s.gate = gate
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Submitter) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Submitter) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewSubmitter(venue ActionPoster, signers SignerProvider, opts ...Option) *Submitter {
	s := &Submitter{
		venue:   venue,
		signers: signers,
		gate:    NewRateGate(DefaultActionSpacing),
		now:     time.Now,
		logger:  slog.Default().WithGroup("emitter"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitOrder places payloads as a single order action.
func (s *Submitter) SubmitOrder(ctx context.Context, wallet registry.Wallet, payloads ...order.Payload) trading.SubmitResult {
	if len(payloads) == 0 {
		return trading.Failed(fmt.Errorf("%w: no orders to submit", trading.ErrInvalidOrder), nil)
	}
	wires := make([]hl.OrderWire, len(payloads))
	for i, p := range payloads {
		wires[i] = p.Wire()
	}
	return s.submit(ctx, wallet, hl.NewOrderAction(wires...))
}

// Cancel cancels the given resting orders as a single cancel action.
func (s *Submitter) Cancel(ctx context.Context, wallet registry.Wallet, targets ...hyperliquid.CancelOrderWire) trading.SubmitResult {
	if len(targets) == 0 {
		return trading.Failed(fmt.Errorf("%w: no orders to cancel", trading.ErrInvalidOrder), nil)
	}
	return s.submit(ctx, wallet, hl.NewCancelAction(targets...))
}

// Sign signs digest with the wallet's signer. It is used for payloads that
// are not posted to the venue.
func (s *Submitter) Sign(ctx context.Context, wallet registry.Wallet, digest []byte) (hl.Signature, error) {
	sgn, err := s.signers.Signer(ctx, wallet)
	if err != nil {
		return hl.Signature{}, err
	}
	return sign(ctx, sgn, digest)
}

func (s *Submitter) submit(ctx context.Context, wallet registry.Wallet, action hl.Action) trading.SubmitResult {
	logger := s.logger.With(slog.String("wallet", wallet.ID), slog.String("action", hl.ActionType(action)))

	if err := s.gate.Wait(ctx); err != nil {
		return trading.Failed(fmt.Errorf("%w: waiting for rate gate: %v", trading.ErrTransport, err), nil)
	}

	nonce := s.nextNonce()
	digest, err := hl.ActionDigest(action, nonce, s.venue.Mainnet())
	if err != nil {
		logger.Error("could not hash action", slog.String("error", err.Error()))
		return trading.Failed(fmt.Errorf("hash action: %w", err), nil)
	}

	sgn, err := s.signers.Signer(ctx, wallet)
	if err != nil {
		logger.Warn("no signer", slog.String("error", err.Error()))
		return trading.Failed(err, nil)
	}
	sig, err := sign(ctx, sgn, digest)
	if err != nil {
		logger.Warn("could not sign action", slog.String("error", err.Error()))
		return trading.Failed(err, nil)
	}

	resp, raw, err := s.venue.PostAction(ctx, action, nonce, sig)
	if err != nil {
		if errors.Is(err, hl.ErrRateLimited) {
			logger.Debug("hit ratelimit, cooldown applied", slog.Duration("cooldown", rateLimitCooldown))
			s.gate.Cooldown(rateLimitCooldown)
		}
		logger.Warn("could not post action", slog.String("error", err.Error()))
		return trading.Failed(err, jsonOrNil(raw))
	}
	if err := resp.Err(); err != nil {
		logger.Warn("venue rejected action", slog.String("error", err.Error()))
		return trading.Failed(err, jsonOrNil(raw))
	}

	logger.Info("action accepted", slog.Int64("nonce", nonce))
	return trading.SubmitResult{Accepted: true, VenueResponse: jsonOrNil(raw)}
}

// sign signs digest and requires the signature to recover to the signer's
// address.
func sign(ctx context.Context, sgn signer.Signer, digest []byte) (hl.Signature, error) {
	raw, err := sgn.Sign(ctx, digest)
	if err != nil {
		return hl.Signature{}, err
	}
	sig, err := hl.SignatureFromBytes(raw)
	if err != nil {
		return hl.Signature{}, fmt.Errorf("%w: %v", trading.ErrSignerUnavailable, err)
	}
	recovered, err := hl.RecoverAddress(digest, sig)
	if err != nil {
		return hl.Signature{}, fmt.Errorf("%w: %v", trading.ErrSignerUnavailable, err)
	}
	if recovered != sgn.Address() {
		return hl.Signature{}, fmt.Errorf("%w: signature mismatch: recovered %s, want %s", trading.ErrSignerUnavailable, recovered.Hex(), sgn.Address().Hex())
	}
	return sig, nil
}

// nextNonce returns the current time in milliseconds, bumped when needed so
// nonces stay strictly increasing within the process.
func (s *Submitter) nextNonce() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.now().UnixMilli()
	if n <= s.lastNonce {
		n = s.lastNonce + 1
	}
	s.lastNonce = n
	return n
}

func jsonOrNil(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return raw
}
