package registry

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/recomma/hlcustody/trading"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestExportImportRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := newTestRegistry(t)

	_, err := src.CreateUser(ctx, "u1", strPtr("a@x.io"))
	require.NoError(t, err)
	_, err = src.CreateWallet(ctx, "u1", remoteWallet("w2", "0x02"))
	require.NoError(t, err)
	_, err = src.CreateWallet(ctx, "u1", remoteWallet("w1", "0x01"))
	require.NoError(t, err)

	snap, err := src.Export(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Users, 1)
	require.Len(t, snap.Wallets, 2)

	dst := newTestRegistry(t)
	require.NoError(t, dst.Import(ctx, snap))

	user, err := dst.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"w2", "w1"}, user.WalletIDs)
	require.Equal(t, "a@x.io", *user.Email)

	again, err := dst.Export(ctx)
	require.NoError(t, err)
	require.Equal(t, snap, again)
}

func TestImportRejectsDanglingOwner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := newTestRegistry(t)

	snap := Snapshot{
		Users: map[string]User{"u1": {ID: "u1"}},
		Wallets: map[string]Wallet{
			"w1": {ID: "w1", Address: "0x01", OwnerUserID: "ghost", SigningMode: SigningRemoteDelegated},
		},
	}
	require.ErrorIs(t, reg.Import(ctx, snap), trading.ErrNotFound)

	users, err := reg.ListUsers(ctx)
	require.NoError(t, err)
	require.Empty(t, users, "failed import must not leave partial state")
}

func TestImportLegacyDocument(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := newTestRegistry(t)

	doc := `{
	  "users": {
	    "alice": {"user_id": "alice", "email": "alice@example.com", "wallets": ["pw-1"], "created_at": null},
	    "bob": {"user_id": "bob", "email": null, "wallets": [], "created_at": null}
	  },
	  "wallets": {
	    "pw-1": {"wallet_id": "pw-1", "address": "0x00000000000000000000000000000000000000aa", "chain_type": "ethereum", "user_id": "alice"}
	  }
	}`
	require.NoError(t, reg.ImportLegacy(ctx, strings.NewReader(doc)))

	alice, err := reg.GetUser(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []string{"pw-1"}, alice.WalletIDs)

	w, err := reg.GetWallet(ctx, "pw-1")
	require.NoError(t, err)
	require.Equal(t, SigningRemoteDelegated, w.SigningMode)
	require.Equal(t, "custodian:pw-1", w.KeyMaterialRef)
	require.Equal(t, "alice", w.OwnerUserID)

	bob, err := reg.GetUser(ctx, "bob")
	require.NoError(t, err)
	require.Nil(t, bob.Email)
}

func TestParseSigningMode(t *testing.T) {
	t.Parallel()

	mode, err := ParseSigningMode("remote")
	require.NoError(t, err)
	require.Equal(t, SigningRemoteDelegated, mode)

	mode, err = ParseSigningMode("LOCAL_KEY")
	require.NoError(t, err)
	require.Equal(t, SigningLocalKey, mode)

	_, err = ParseSigningMode("hsm")
	require.Error(t, err)
}
