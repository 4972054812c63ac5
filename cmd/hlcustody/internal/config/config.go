package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sonirico/go-hyperliquid"
	"github.com/spf13/pflag"

	"github.com/recomma/hlcustody/custodian"
	"github.com/recomma/hlcustody/emitter"
	"github.com/recomma/hlcustody/hl"
	"github.com/recomma/hlcustody/internal/keystore"
	rlog "github.com/recomma/hlcustody/log"
)

type AppConfig struct {
	Hyperliquid hl.ClientConfig
	Custodian   custodian.Config

	mainnet        bool
	keystoreKeyRaw string

	StoragePath   string
	KeystorePath  string
	KeystoreKey   []byte
	ActionSpacing time.Duration
	EnvFile       string
	LogLevel      string
	LogFormatJSON bool
	LogFile       string
	LogGroups     []string
}

func DefaultConfig() AppConfig {
	return AppConfig{
		Hyperliquid:   hl.ClientConfig{BaseURL: hyperliquid.TestnetAPIURL},
		Custodian:     custodian.Config{BaseURL: custodian.DefaultBaseURL},
		StoragePath:   "hlcustody.sqlite3",
		KeystorePath:  "keystore",
		ActionSpacing: emitter.DefaultActionSpacing,
		EnvFile:       ".env",
		LogLevel:      "info",
		LogFormatJSON: false,
	}
}

// NewConfigFlagSet declares the global flags against cfg without parsing.
// Parsing stops at the first subcommand.
func NewConfigFlagSet(cfg *AppConfig) *pflag.FlagSet {
	fs := pflag.NewFlagSet("hlcustody", pflag.ContinueOnError)
	fs.SortFlags = false
	fs.SetInterspersed(false)

	fs.StringVar(&cfg.Hyperliquid.BaseURL, "hyperliquid-api-url", cfg.Hyperliquid.BaseURL, "Hyperliquid API base URL (env: HYPERLIQUID_API_URL)")
	fs.BoolVar(&cfg.mainnet, "hyperliquid-mainnet", cfg.mainnet, "Sign actions for mainnet; defaults to true when the API URL is the mainnet URL (env: HYPERLIQUID_MAINNET)")

	fs.StringVar(&cfg.Custodian.BaseURL, "custodian-api-url", cfg.Custodian.BaseURL, "Custodial wallet API base URL (env: PRIVY_API_URL)")
	fs.StringVar(&cfg.Custodian.AppID, "custodian-app-id", cfg.Custodian.AppID, "Custodial wallet app id (env: PRIVY_APP_ID)")
	fs.StringVar(&cfg.Custodian.AppSecret, "custodian-app-secret", cfg.Custodian.AppSecret, "Custodial wallet app secret (env: PRIVY_APP_SECRET)")
	fs.StringVar(&cfg.Custodian.AuthorizationKey, "custodian-authorization-key", cfg.Custodian.AuthorizationKey, "Custodial wallet authorization key, wallet-auth:<base64 pkcs8> (env: PRIVY_AUTHORIZATION_KEY)")

	fs.StringVar(&cfg.StoragePath, "storage-path", cfg.StoragePath, "SQLite registry path (env: HLCUSTODY_STORAGE_PATH)")
	fs.StringVar(&cfg.KeystorePath, "keystore-path", cfg.KeystorePath, "Badger directory for local wallet keys (env: HLCUSTODY_KEYSTORE_PATH)")
	fs.StringVar(&cfg.keystoreKeyRaw, "keystore-key", cfg.keystoreKeyRaw, "32 byte keystore encryption key, hex or base64 (env: HLCUSTODY_KEYSTORE_KEY)")
	fs.DurationVar(&cfg.ActionSpacing, "action-spacing", cfg.ActionSpacing, "Minimum spacing between venue actions, 0 disables pacing (env: HLCUSTODY_ACTION_SPACING)")

	fs.StringVar(&cfg.EnvFile, "env-file", cfg.EnvFile, "Optional dotenv file loaded before env defaults apply")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (env: HLCUSTODY_LOG_LEVEL)")
	fs.BoolVar(&cfg.LogFormatJSON, "log-json", cfg.LogFormatJSON, "Emit logs as JSON (env: HLCUSTODY_LOG_JSON)")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Also write JSON logs to this rotated file (env: HLCUSTODY_LOG_FILE)")
	fs.StringSliceVar(&cfg.LogGroups, "log-groups", cfg.LogGroups, "Only log these groups, -group to exclude (env: HLCUSTODY_LOG_GROUPS)")

	return fs
}

// LoadEnvFile loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %q: %w", path, err)
	}
	return nil
}

// ApplyEnvDefaults fills flags that were not given on the command line from
// the environment.
func ApplyEnvDefaults(fs *pflag.FlagSet, cfg *AppConfig) error {
	flagSet := map[string]struct{}{}
	fs.Visit(func(f *pflag.Flag) { flagSet[f.Name] = struct{}{} })

	setString := func(name, envKey string, target *string) {
		if _, ok := flagSet[name]; ok {
			return
		}
		if v, ok := os.LookupEnv(envKey); ok && v != "" {
			*target = v
		}
	}
	setBool := func(name, envKey string, target *bool) bool {
		if _, ok := flagSet[name]; ok {
			return true
		}
		if v, ok := os.LookupEnv(envKey); ok {
			if parsed, err := strconv.ParseBool(v); err == nil {
				*target = parsed
				return true
			}
		}
		return false
	}
	setDuration := func(name, envKey string, target *time.Duration) {
		if _, ok := flagSet[name]; ok {
			return
		}
		if v, ok := os.LookupEnv(envKey); ok {
			if parsed, err := time.ParseDuration(v); err == nil {
				*target = parsed
			}
		}
	}
	setList := func(name, envKey string, target *[]string) {
		if _, ok := flagSet[name]; ok {
			return
		}
		if v, ok := os.LookupEnv(envKey); ok && v != "" {
			*target = strings.Split(v, ",")
		}
	}

	setString("hyperliquid-api-url", "HYPERLIQUID_API_URL", &cfg.Hyperliquid.BaseURL)
	if setBool("hyperliquid-mainnet", "HYPERLIQUID_MAINNET", &cfg.mainnet) {
		mainnet := cfg.mainnet
		cfg.Hyperliquid.Mainnet = &mainnet
	}

	setString("custodian-api-url", "PRIVY_API_URL", &cfg.Custodian.BaseURL)
	setString("custodian-app-id", "PRIVY_APP_ID", &cfg.Custodian.AppID)
	setString("custodian-app-secret", "PRIVY_APP_SECRET", &cfg.Custodian.AppSecret)
	setString("custodian-authorization-key", "PRIVY_AUTHORIZATION_KEY", &cfg.Custodian.AuthorizationKey)

	setString("storage-path", "HLCUSTODY_STORAGE_PATH", &cfg.StoragePath)
	setString("keystore-path", "HLCUSTODY_KEYSTORE_PATH", &cfg.KeystorePath)
	setString("keystore-key", "HLCUSTODY_KEYSTORE_KEY", &cfg.keystoreKeyRaw)
	setDuration("action-spacing", "HLCUSTODY_ACTION_SPACING", &cfg.ActionSpacing)

	setString("log-level", "HLCUSTODY_LOG_LEVEL", &cfg.LogLevel)
	setBool("log-json", "HLCUSTODY_LOG_JSON", &cfg.LogFormatJSON)
	setString("log-file", "HLCUSTODY_LOG_FILE", &cfg.LogFile)
	setList("log-groups", "HLCUSTODY_LOG_GROUPS", &cfg.LogGroups)

	key, err := keystore.ParseKey(cfg.keystoreKeyRaw)
	if err != nil {
		return fmt.Errorf("keystore-key: %w", err)
	}
	cfg.KeystoreKey = key
	return nil
}

func ValidateConfig(cfg AppConfig) error {
	var missing []string
	if strings.TrimSpace(cfg.Hyperliquid.BaseURL) == "" {
		missing = append(missing, "hyperliquid-api-url")
	}
	if strings.TrimSpace(cfg.StoragePath) == "" {
		missing = append(missing, "storage-path")
	}
	if strings.TrimSpace(cfg.KeystorePath) == "" {
		missing = append(missing, "keystore-path")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	if cfg.ActionSpacing < 0 {
		return fmt.Errorf("action-spacing must not be negative, got %s", cfg.ActionSpacing)
	}
	return nil
}

// CustodianConfigured reports whether custodial wallets can be used.
func (cfg AppConfig) CustodianConfigured() bool {
	return cfg.Custodian.AppID != "" && cfg.Custodian.AppSecret != ""
}

// RequireCustodian fails with the missing custodian settings.
func RequireCustodian(cfg AppConfig) error {
	var missing []string
	if cfg.Custodian.AppID == "" {
		missing = append(missing, "custodian-app-id")
	}
	if cfg.Custodian.AppSecret == "" {
		missing = append(missing, "custodian-app-secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config for custodial wallets: %s", strings.Join(missing, ", "))
	}
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// GetLogHandler builds the stderr handler, tees into the log file when one
// is configured, and applies the group filter on top. The closer releases
// the log file.
func GetLogHandler(cfg AppConfig) (slog.Handler, io.Closer) {
	var level slog.Level
	if cfg.LogLevel == "" {
		level = slog.LevelInfo
	} else if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
		log.Printf("unknown log level %q, defaulting to info", cfg.LogLevel)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}

	var closer io.Closer = nopCloser{}
	if cfg.LogFile != "" {
		fileHandler, fileCloser := rlog.NewFileHandler(rlog.FileConfig{Path: cfg.LogFile}, handlerOpts)
		handler = rlog.NewMultiHandler(handler, fileHandler)
		closer = fileCloser
	}

	return rlog.NewGroupFilterHandler(handler, cfg.LogGroups), closer
}
