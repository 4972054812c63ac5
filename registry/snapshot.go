package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/recomma/hlcustody/trading"
)

// Export returns the full registry as a document keyed by id.
func (r *Registry) Export(ctx context.Context) (Snapshot, error) {
	users, err := r.ListUsers(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	wallets, err := r.ListWallets(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Users:   make(map[string]User, len(users)),
		Wallets: make(map[string]Wallet, len(wallets)),
	}
	for _, u := range users {
		snap.Users[u.ID] = u
	}
	for _, w := range wallets {
		snap.Wallets[w.ID] = w
	}
	return snap, nil
}

// Import loads a snapshot in one transaction. Existing ids fail the whole
// import with ALREADY_EXISTS and wallets whose owner is absent fail it with
// NOT_FOUND.
func (r *Registry) Import(ctx context.Context, snap Snapshot) error {
	ctx = contextOrBackground(ctx)

	userIDs := make([]string, 0, len(snap.Users))
	for id := range snap.Users {
		userIDs = append(userIDs, id)
	}
	sort.Strings(userIDs)

	wallets, err := orderedWallets(snap)
	if err != nil {
		return err
	}

	err = r.write(ctx, func(q dbtx) error {
		for _, id := range userIDs {
			u := snap.Users[id]
			if u.ID == "" {
				u.ID = id
			}
			if u.ID != id {
				return fmt.Errorf("user key %q does not match id %q", id, u.ID)
			}
			exists, err := userExists(ctx, q, u.ID)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("user %q: %w", u.ID, trading.ErrAlreadyExists)
			}
			if u.CreatedAt.IsZero() {
				u.CreatedAt = r.now().UTC()
			}
			u.Email = normalizeEmail(u.Email)
			if err := insertUser(ctx, q, u); err != nil {
				return err
			}
		}

		for _, w := range wallets {
			if !w.SigningMode.Valid() {
				return fmt.Errorf("wallet %q: unknown signing mode %q", w.ID, w.SigningMode)
			}
			exists, err := userExists(ctx, q, w.OwnerUserID)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("owner %q of wallet %q: %w", w.OwnerUserID, w.ID, trading.ErrNotFound)
			}
			if _, err := loadWallet(ctx, q, w.ID); err == nil {
				return fmt.Errorf("wallet %q: %w", w.ID, trading.ErrAlreadyExists)
			} else if !errors.Is(err, trading.ErrNotFound) {
				return err
			}
			if w.CreatedAt.IsZero() {
				w.CreatedAt = r.now().UTC()
			}
			if w.ChainType == "" {
				w.ChainType = "ethereum"
			}
			if err := insertWallet(ctx, q, w); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Info("imported registry snapshot",
		slog.Int("users", len(userIDs)),
		slog.Int("wallets", len(wallets)),
	)
	return nil
}

// orderedWallets preserves each user's wallet order and appends wallets no
// user lists, sorted by id.
func orderedWallets(snap Snapshot) ([]Wallet, error) {
	seen := make(map[string]struct{}, len(snap.Wallets))
	out := make([]Wallet, 0, len(snap.Wallets))

	userIDs := make([]string, 0, len(snap.Users))
	for id := range snap.Users {
		userIDs = append(userIDs, id)
	}
	sort.Strings(userIDs)

	for _, uid := range userIDs {
		for _, wid := range snap.Users[uid].WalletIDs {
			w, ok := snap.Wallets[wid]
			if !ok {
				return nil, fmt.Errorf("user %q lists wallet %q: %w", uid, wid, trading.ErrNotFound)
			}
			if _, dup := seen[wid]; dup {
				continue
			}
			if w.ID == "" {
				w.ID = wid
			}
			if w.OwnerUserID == "" {
				w.OwnerUserID = uid
			}
			seen[wid] = struct{}{}
			out = append(out, w)
		}
	}

	rest := make([]string, 0)
	for id := range snap.Wallets {
		if _, ok := seen[id]; !ok {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	for _, id := range rest {
		w := snap.Wallets[id]
		if w.ID == "" {
			w.ID = id
		}
		out = append(out, w)
	}
	return out, nil
}

type legacyDocument struct {
	Users   map[string]legacyUser   `json:"users"`
	Wallets map[string]legacyWallet `json:"wallets"`
}

type legacyUser struct {
	UserID  string   `json:"user_id"`
	Email   *string  `json:"email"`
	Wallets []string `json:"wallets"`
}

type legacyWallet struct {
	WalletID  string `json:"wallet_id"`
	Address   string `json:"address"`
	ChainType string `json:"chain_type"`
	UserID    string `json:"user_id"`
}

// ImportLegacy reads the flat JSON document written by the previous platform.
// Its wallets were all provisioned by the custodian, so they import as
// remote delegated with the custodian wallet id as key reference.
func (r *Registry) ImportLegacy(ctx context.Context, rd io.Reader) error {
	var doc legacyDocument
	if err := json.NewDecoder(rd).Decode(&doc); err != nil {
		return fmt.Errorf("decode legacy registry: %w", err)
	}

	snap := Snapshot{
		Users:   make(map[string]User, len(doc.Users)),
		Wallets: make(map[string]Wallet, len(doc.Wallets)),
	}
	for id, lu := range doc.Users {
		uid := lu.UserID
		if uid == "" {
			uid = id
		}
		snap.Users[uid] = User{ID: uid, Email: lu.Email, WalletIDs: lu.Wallets}
	}
	for id, lw := range doc.Wallets {
		wid := lw.WalletID
		if wid == "" {
			wid = id
		}
		snap.Wallets[wid] = Wallet{
			ID:             wid,
			Address:        lw.Address,
			ChainType:      lw.ChainType,
			OwnerUserID:    lw.UserID,
			SigningMode:    SigningRemoteDelegated,
			KeyMaterialRef: CustodianRef(wid),
		}
	}
	return r.Import(ctx, snap)
}

// CustodianRef is the key reference recorded for custodian held wallets.
func CustodianRef(walletID string) string {
	return "custodian:" + walletID
}
