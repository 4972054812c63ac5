// Package keystore keeps locally held wallet keys in an encrypted Badger
// database. Callers only ever see references of the form
// "keystore:wallet/<id>".
package keystore

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/recomma/hlcustody/trading"
)

const (
	refScheme = "keystore:"
	keyPrefix = "wallet/"
)

var ErrUnknownReference = errors.New("keystore: reference not held by this store")

type Options struct {
	Path string
	// EncryptionKey must be 32 bytes; nil opens the store unencrypted.
	EncryptionKey []byte
	// InMemory ignores Path and keeps nothing on disk.
	InMemory bool
	Logger   *slog.Logger
}

type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

func Open(opts Options) (*Store, error) {
	if !opts.InMemory && strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("keystore: path is required")
	}

	path := opts.Path
	if opts.InMemory {
		path = ""
	}
	bopts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithInMemory(opts.InMemory)
	if len(opts.EncryptionKey) > 0 {
		if len(opts.EncryptionKey) != 32 {
			return nil, fmt.Errorf("keystore: encryption key must be 32 bytes, got %d", len(opts.EncryptionKey))
		}
		// Badger requires an index cache for encrypted workloads
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(100 << 20)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("keystore: open: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().WithGroup("keystore")
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ref is the reference recorded in the registry for walletID.
func Ref(walletID string) string {
	return refScheme + keyPrefix + walletID
}

// Holds reports whether ref uses this store's scheme.
func Holds(ref string) bool {
	return strings.HasPrefix(ref, refScheme+keyPrefix)
}

func dbKey(ref string) ([]byte, error) {
	if !Holds(ref) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownReference, ref)
	}
	id := strings.TrimPrefix(ref, refScheme)
	if id == keyPrefix {
		return nil, fmt.Errorf("%w: empty wallet id", ErrUnknownReference)
	}
	return []byte(id), nil
}

// Put stores key for walletID and returns its reference. Existing keys are
// never overwritten.
func (s *Store) Put(ctx context.Context, walletID string, key *ecdsa.PrivateKey) (string, error) {
	if key == nil {
		return "", errors.New("keystore: key is required")
	}
	ref := Ref(walletID)
	k, err := dbKey(ref)
	if err != nil {
		return "", err
	}
	val := []byte(hex.EncodeToString(crypto.FromECDSA(key)))

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(k); err == nil {
			return fmt.Errorf("key for wallet %q: %w", walletID, trading.ErrAlreadyExists)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(k, val)
	})
	if err != nil {
		return "", err
	}
	s.logger.Debug("stored wallet key", slog.String("wallet", walletID))
	return ref, nil
}

// Generate creates and stores a fresh secp256k1 key for walletID.
func (s *Store) Generate(ctx context.Context, walletID string) (string, common.Address, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", common.Address{}, fmt.Errorf("keystore: generate key: %w", err)
	}
	ref, err := s.Put(ctx, walletID, key)
	if err != nil {
		return "", common.Address{}, err
	}
	return ref, crypto.PubkeyToAddress(key.PublicKey), nil
}

// PrivateKey loads the key behind ref.
func (s *Store) PrivateKey(ctx context.Context, ref string) (*ecdsa.PrivateKey, error) {
	k, err := dbKey(ref)
	if err != nil {
		return nil, err
	}

	var raw string
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			raw = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("key %q: %w", ref, trading.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("keystore: read %q: %w", ref, err)
	}

	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("keystore: decode %q: %w", ref, err)
	}
	return key, nil
}

func (s *Store) Delete(ctx context.Context, ref string) error {
	k, err := dbKey(ref)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(k)
	})
}

// ParseKey accepts a 32 byte key as hex or base64. Empty input yields nil.
func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x")); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil {
		if len(b) != 32 {
			return nil, fmt.Errorf("decoded key length must be 32, got %d", len(b))
		}
		return b, nil
	}
	return nil, errors.New("key must be base64(32 bytes) or hex(32 bytes)")
}
