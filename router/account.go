package router

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/recomma/hlcustody/hl"
	"github.com/recomma/hlcustody/registry"
	"github.com/recomma/hlcustody/trading"
)

func (r *Router) AccountState(ctx context.Context, walletID string) (hl.AccountState, error) {
	w, err := r.wallet(ctx, walletID)
	if err != nil {
		return hl.AccountState{}, err
	}
	return r.market.AccountState(ctx, w.Address)
}

// Positions lists the wallet's non-flat positions.
func (r *Router) Positions(ctx context.Context, walletID string) ([]hl.Position, error) {
	state, err := r.AccountState(ctx, walletID)
	if err != nil {
		return nil, err
	}
	return state.OpenPositions(), nil
}

func (r *Router) OpenOrders(ctx context.Context, walletID string) ([]hl.OpenOrder, error) {
	w, err := r.wallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	return r.market.OpenOrders(ctx, w.Address)
}

type TransferResult struct {
	WalletID string `json:"walletId"`
	To       string `json:"to"`
	Value    string `json:"value"`
	TxHash   string `json:"txHash"`
}

// Transfer sends wei from a custodial wallet to to on the caip2 chain.
func (r *Router) Transfer(ctx context.Context, walletID, to string, wei *big.Int, caip2 string) (TransferResult, error) {
	w, err := r.wallet(ctx, walletID)
	if err != nil {
		return TransferResult{}, err
	}
	if w.SigningMode != registry.SigningRemoteDelegated {
		return TransferResult{}, fmt.Errorf("%w: wallet %s is not custodial", trading.ErrSignerUnavailable, w.ID)
	}
	if r.custodian == nil {
		return TransferResult{}, fmt.Errorf("%w: no custodian configured", trading.ErrSignerUnavailable)
	}

	hash, err := r.custodian.SendTransaction(ctx, w.ID, caip2, to, wei)
	if err != nil {
		return TransferResult{}, err
	}
	r.requestLogger(ctx).Info("transfer sent", slog.String("wallet", w.ID), slog.String("to", to), slog.String("tx", hash))
	return TransferResult{WalletID: w.ID, To: to, Value: wei.String(), TxHash: hash}, nil
}

// SignMessage returns the EIP-191 personal signature of message as 0x hex
// with a 27/28 recovery id.
func (r *Router) SignMessage(ctx context.Context, walletID, message string) (string, error) {
	w, err := r.wallet(ctx, walletID)
	if err != nil {
		return "", err
	}
	sig, err := r.submitter.Sign(ctx, w, accounts.TextHash([]byte(message)))
	if err != nil {
		return "", err
	}
	raw, err := sig.Bytes()
	if err != nil {
		return "", err
	}
	raw[64] += 27
	return hexutil.Encode(raw), nil
}
