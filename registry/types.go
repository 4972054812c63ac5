package registry

import (
	"fmt"
	"strings"
	"time"
)

// SigningMode records how a wallet's signatures are produced. It is fixed at
// wallet creation and never inferred from other fields.
type SigningMode string

const (
	// SigningRemoteDelegated wallets are signed by the custodial service.
	SigningRemoteDelegated SigningMode = "remote_delegated"
	// SigningLocalKey wallets hold key material in the local keystore.
	SigningLocalKey SigningMode = "local_key"
)

func ParseSigningMode(s string) (SigningMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "remote", "remote_delegated", "delegated":
		return SigningRemoteDelegated, nil
	case "local", "local_key":
		return SigningLocalKey, nil
	default:
		return "", fmt.Errorf("unknown signing mode %q", s)
	}
}

func (m SigningMode) Valid() bool {
	return m == SigningRemoteDelegated || m == SigningLocalKey
}

type User struct {
	ID        string    `json:"id"`
	Email     *string   `json:"email,omitempty"`
	WalletIDs []string  `json:"walletIds"`
	CreatedAt time.Time `json:"createdAt"`
}

type Wallet struct {
	ID          string      `json:"id"`
	Address     string      `json:"address"`
	ChainType   string      `json:"chainType"`
	OwnerUserID string      `json:"ownerUserId"`
	SigningMode SigningMode `json:"signingMode"`
	// KeyMaterialRef points at key material (keystore or custodian); it is
	// never the secret itself.
	KeyMaterialRef string    `json:"keyMaterialRef,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// WalletInput is the caller supplied part of a new wallet.
type WalletInput struct {
	ID             string
	Address        string
	ChainType      string
	SigningMode    SigningMode
	KeyMaterialRef string
}

// Snapshot mirrors the registry's logical document shape.
type Snapshot struct {
	Users   map[string]User   `json:"users"`
	Wallets map[string]Wallet `json:"wallets"`
}
