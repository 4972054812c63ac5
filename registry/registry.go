package registry

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/recomma/hlcustody/trading"
)

//go:embed schema.sql
var schemaDDL string

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Registry persists users and wallets. Every mutation runs in a single
// transaction under the write lock, so concurrent writers cannot lose each
// other's updates.
type Registry struct {
	db          *sql.DB
	mu          sync.RWMutex
	logger      *slog.Logger
	queryLogger *slog.Logger
	now         func() time.Time
}

type Option func(*Registry)

// WithLogger overrides the component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithQueryLogger traces every SQL statement at debug level.
func WithQueryLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.queryLogger = logger
	}
}

// WithClock replaces time.Now for creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Open opens (and if needed creates) the sqlite database at path.
func Open(path string, opts ...Option) (*Registry, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()

	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	r := &Registry{
		db:     db,
		logger: slog.Default().WithGroup("registry"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func dsn(path string) string {
	if path == "" || path == ":memory:" {
		path = "file::memory:"
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.Close()
}

func (r *Registry) q(inner dbtx) dbtx {
	if r.queryLogger != nil {
		return loggingDB{inner: inner, logger: r.queryLogger}
	}
	return inner
}

func (r *Registry) write(ctx context.Context, fn func(q dbtx) error) error {
	ctx = contextOrBackground(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(r.q(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *Registry) read(fn func(q dbtx) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fn(r.q(r.db))
}

// CreateUser registers a user with no wallets. User and wallet ids are
// trimmed of surrounding whitespace on every call that takes one.
func (r *Registry) CreateUser(ctx context.Context, userID string, email *string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, errors.New("user id is required")
	}
	ctx = contextOrBackground(ctx)

	user := User{
		ID:        userID,
		Email:     normalizeEmail(email),
		WalletIDs: []string{},
		CreatedAt: r.now().UTC().Truncate(time.Millisecond),
	}

	err := r.write(ctx, func(q dbtx) error {
		exists, err := userExists(ctx, q, userID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("user %q: %w", userID, trading.ErrAlreadyExists)
		}
		return insertUser(ctx, q, user)
	})
	if err != nil {
		return User{}, err
	}

	r.logger.Info("created user", slog.String("user", userID))
	return user, nil
}

// GetUser returns the user with its wallet ids in creation order.
func (r *Registry) GetUser(ctx context.Context, userID string) (User, error) {
	ctx = contextOrBackground(ctx)
	userID = strings.TrimSpace(userID)
	var user User
	err := r.read(func(q dbtx) error {
		var err error
		user, err = loadUser(ctx, q, userID)
		return err
	})
	return user, err
}

// ListUsers returns every user ordered by creation.
func (r *Registry) ListUsers(ctx context.Context) ([]User, error) {
	ctx = contextOrBackground(ctx)
	var users []User
	err := r.read(func(q dbtx) error {
		rows, err := q.QueryContext(ctx, `SELECT id, email, created_at_utc FROM users ORDER BY rowid`)
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}
		defer rows.Close()

		index := map[string]int{}
		for rows.Next() {
			u, err := scanUser(rows)
			if err != nil {
				return err
			}
			index[u.ID] = len(users)
			users = append(users, u)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("list users: %w", err)
		}

		wallets, err := queryWallets(ctx, q, `SELECT `+walletColumns+` FROM wallets ORDER BY rowid`)
		if err != nil {
			return err
		}
		for _, w := range wallets {
			if i, ok := index[w.OwnerUserID]; ok {
				users[i].WalletIDs = append(users[i].WalletIDs, w.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []User{}
	}
	return users, nil
}

// DeleteUser removes the user and every wallet it owns. It reports whether
// the user existed.
func (r *Registry) DeleteUser(ctx context.Context, userID string) (bool, error) {
	ctx = contextOrBackground(ctx)
	userID = strings.TrimSpace(userID)
	var deleted bool
	var removedWallets int64
	err := r.write(ctx, func(q dbtx) error {
		res, err := q.ExecContext(ctx, `DELETE FROM wallets WHERE owner_user_id = ?`, userID)
		if err != nil {
			return fmt.Errorf("delete wallets for %q: %w", userID, err)
		}
		removedWallets, _ = res.RowsAffected()

		res, err = q.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
		if err != nil {
			return fmt.Errorf("delete user %q: %w", userID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete user %q: %w", userID, err)
		}
		deleted = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	if deleted {
		r.logger.Info("deleted user", slog.String("user", userID), slog.Int64("wallets", removedWallets))
	}
	return deleted, nil
}

// CreateWallet attaches a new wallet to an existing user.
func (r *Registry) CreateWallet(ctx context.Context, ownerUserID string, in WalletInput) (Wallet, error) {
	ctx = contextOrBackground(ctx)
	ownerUserID = strings.TrimSpace(ownerUserID)
	in.ID = strings.TrimSpace(in.ID)
	if in.ID == "" {
		return Wallet{}, errors.New("wallet id is required")
	}
	if strings.TrimSpace(in.Address) == "" {
		return Wallet{}, errors.New("wallet address is required")
	}
	if !in.SigningMode.Valid() {
		return Wallet{}, fmt.Errorf("unknown signing mode %q", in.SigningMode)
	}
	chainType := in.ChainType
	if chainType == "" {
		chainType = "ethereum"
	}

	wallet := Wallet{
		ID:             in.ID,
		Address:        in.Address,
		ChainType:      chainType,
		OwnerUserID:    ownerUserID,
		SigningMode:    in.SigningMode,
		KeyMaterialRef: in.KeyMaterialRef,
		CreatedAt:      r.now().UTC().Truncate(time.Millisecond),
	}

	err := r.write(ctx, func(q dbtx) error {
		exists, err := userExists(ctx, q, ownerUserID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("user %q: %w", ownerUserID, trading.ErrNotFound)
		}
		if _, err := loadWallet(ctx, q, wallet.ID); err == nil {
			return fmt.Errorf("wallet %q: %w", wallet.ID, trading.ErrAlreadyExists)
		} else if !errors.Is(err, trading.ErrNotFound) {
			return err
		}
		return insertWallet(ctx, q, wallet)
	})
	if err != nil {
		return Wallet{}, err
	}

	r.logger.Info("created wallet",
		slog.String("user", ownerUserID),
		slog.String("wallet", wallet.ID),
		slog.String("address", wallet.Address),
		slog.String("signing-mode", string(wallet.SigningMode)),
	)
	return wallet, nil
}

func (r *Registry) GetWallet(ctx context.Context, walletID string) (Wallet, error) {
	ctx = contextOrBackground(ctx)
	walletID = strings.TrimSpace(walletID)
	var wallet Wallet
	err := r.read(func(q dbtx) error {
		var err error
		wallet, err = loadWallet(ctx, q, walletID)
		return err
	})
	return wallet, err
}

// GetWalletByAddress matches hex addresses case-insensitively.
func (r *Registry) GetWalletByAddress(ctx context.Context, address string) (Wallet, error) {
	ctx = contextOrBackground(ctx)
	var wallet Wallet
	err := r.read(func(q dbtx) error {
		wallets, err := queryWallets(ctx, q,
			`SELECT `+walletColumns+` FROM wallets WHERE address = ? COLLATE NOCASE ORDER BY rowid LIMIT 1`,
			strings.TrimSpace(address))
		if err != nil {
			return err
		}
		if len(wallets) == 0 {
			return fmt.Errorf("wallet with address %q: %w", address, trading.ErrNotFound)
		}
		wallet = wallets[0]
		return nil
	})
	return wallet, err
}

// GetWalletsForUser returns the user's wallets in creation order. An unknown
// user has no wallets.
func (r *Registry) GetWalletsForUser(ctx context.Context, userID string) ([]Wallet, error) {
	ctx = contextOrBackground(ctx)
	userID = strings.TrimSpace(userID)
	var wallets []Wallet
	err := r.read(func(q dbtx) error {
		var err error
		wallets, err = queryWallets(ctx, q,
			`SELECT `+walletColumns+` FROM wallets WHERE owner_user_id = ? ORDER BY rowid`, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return wallets, nil
}

func (r *Registry) ListWallets(ctx context.Context) ([]Wallet, error) {
	ctx = contextOrBackground(ctx)
	var wallets []Wallet
	err := r.read(func(q dbtx) error {
		var err error
		wallets, err = queryWallets(ctx, q, `SELECT `+walletColumns+` FROM wallets ORDER BY rowid`)
		return err
	})
	if err != nil {
		return nil, err
	}
	return wallets, nil
}

const walletColumns = `id, address, chain_type, owner_user_id, signing_mode, key_material_ref, created_at_utc`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var (
		u       User
		email   sql.NullString
		created int64
	)
	if err := row.Scan(&u.ID, &email, &created); err != nil {
		return User{}, err
	}
	if email.Valid {
		e := email.String
		u.Email = &e
	}
	u.CreatedAt = time.UnixMilli(created).UTC()
	u.WalletIDs = []string{}
	return u, nil
}

func scanWallet(row rowScanner) (Wallet, error) {
	var (
		w       Wallet
		mode    string
		created int64
	)
	if err := row.Scan(&w.ID, &w.Address, &w.ChainType, &w.OwnerUserID, &mode, &w.KeyMaterialRef, &created); err != nil {
		return Wallet{}, err
	}
	w.SigningMode = SigningMode(mode)
	w.CreatedAt = time.UnixMilli(created).UTC()
	return w, nil
}

func userExists(ctx context.Context, q dbtx, userID string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup user %q: %w", userID, err)
	}
	return true, nil
}

func loadUser(ctx context.Context, q dbtx, userID string) (User, error) {
	row := q.QueryRowContext(ctx, `SELECT id, email, created_at_utc FROM users WHERE id = ?`, userID)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %q: %w", userID, trading.ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("load user %q: %w", userID, err)
	}

	wallets, err := queryWallets(ctx, q,
		`SELECT `+walletColumns+` FROM wallets WHERE owner_user_id = ? ORDER BY rowid`, userID)
	if err != nil {
		return User{}, err
	}
	for _, w := range wallets {
		user.WalletIDs = append(user.WalletIDs, w.ID)
	}
	return user, nil
}

func loadWallet(ctx context.Context, q dbtx, walletID string) (Wallet, error) {
	row := q.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = ?`, walletID)
	wallet, err := scanWallet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Wallet{}, fmt.Errorf("wallet %q: %w", walletID, trading.ErrNotFound)
	}
	if err != nil {
		return Wallet{}, fmt.Errorf("load wallet %q: %w", walletID, err)
	}
	return wallet, nil
}

func queryWallets(ctx context.Context, q dbtx, query string, args ...any) ([]Wallet, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query wallets: %w", err)
	}
	defer rows.Close()

	wallets := []Wallet{}
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query wallets: %w", err)
	}
	return wallets, nil
}

func insertUser(ctx context.Context, q dbtx, u User) error {
	var email any
	if u.Email != nil {
		email = *u.Email
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO users (id, email, created_at_utc) VALUES (?, ?, ?)`,
		u.ID, email, u.CreatedAt.UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert user %q: %w", u.ID, err)
	}
	return nil
}

func insertWallet(ctx context.Context, q dbtx, w Wallet) error {
	if _, err := q.ExecContext(ctx,
		`INSERT INTO wallets (id, address, chain_type, owner_user_id, signing_mode, key_material_ref, created_at_utc)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Address, w.ChainType, w.OwnerUserID, string(w.SigningMode), w.KeyMaterialRef, w.CreatedAt.UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert wallet %q: %w", w.ID, err)
	}
	return nil
}

func normalizeEmail(email *string) *string {
	if email == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*email)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
