package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"

	"github.com/recomma/hlcustody/cmd/hlcustody/internal/config"
	"github.com/recomma/hlcustody/custodian"
	rlog "github.com/recomma/hlcustody/log"
	"github.com/recomma/hlcustody/registry"
	"github.com/recomma/hlcustody/trading"
)

var errUsage = errors.New("usage")

type command func(ctx context.Context, a *app, args []string) (any, error)

var commands = map[string]map[string]command{
	"user": {
		"create": userCreate,
		"get":    userGet,
		"list":   userList,
		"delete": userDelete,
	},
	"wallet": {
		"create": walletCreate,
		"get":    walletGet,
		"list":   walletList,
	},
	"registry": {
		"export": registryExport,
		"import": registryImport,
	},
	"order": {
		"place":      orderPlace,
		"cancel":     orderCancel,
		"cancel-all": orderCancelAll,
	},
}

var topLevel = map[string]command{
	"symbols":      symbols,
	"market":       market,
	"account":      account,
	"positions":    positions,
	"orders":       openOrders,
	"transfer":     transfer,
	"sign-message": signMessage,
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `usage: hlcustody [global flags] <command> [flags]

commands:
  user create|get|list|delete
  wallet create|get|list
  registry export|import
  symbols
  market <symbol> [--spot]
  order place|cancel|cancel-all
  account|positions|orders <wallet-id>
  transfer --wallet <id> --to <address> --value <wei>
  sign-message --wallet <id> --message <text>`)
}

// run executes one command and writes its result to out as indented JSON.
func run(ctx context.Context, a *app, args []string, out io.Writer) error {
	if len(args) == 0 {
		usage(out)
		return errUsage
	}

	var cmd command
	rest := args[1:]
	if group, ok := commands[args[0]]; ok {
		if len(rest) == 0 {
			return fmt.Errorf("%w: %s needs a subcommand", errUsage, args[0])
		}
		if cmd, ok = group[rest[0]]; !ok {
			return fmt.Errorf("%w: unknown %s subcommand %q", errUsage, args[0], rest[0])
		}
		rest = rest[1:]
	} else if cmd, ok = topLevel[args[0]]; !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}

	name := strings.Join(args[:len(args)-len(rest)], " ")
	ctx = rlog.ContextWithLogger(ctx, rlog.LoggerFromContext(ctx).With(slog.String("command", name)))
	rlog.Component(ctx, "cli").Debug("running command", slog.Int("args", len(rest)))

	result, err := cmd(ctx, a, rest)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := writeJSON(out, result); err != nil {
		return err
	}
	if res, ok := result.(trading.SubmitResult); ok && !res.Accepted {
		return fmt.Errorf("%s: %s", res.Code, res.Error)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false
	return fs
}

func positional(fs *pflag.FlagSet, args []string, names ...string) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != len(names) {
		return nil, fmt.Errorf("%w: %s expects <%s>", errUsage, fs.Name(), strings.Join(names, "> <"))
	}
	return fs.Args(), nil
}

func required(values map[string]string) error {
	var missing []string
	for _, name := range []string{"wallet", "symbol", "side", "size", "to", "value", "message"} {
		if v, ok := values[name]; ok && strings.TrimSpace(v) == "" {
			missing = append(missing, "--"+name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", errUsage, strings.Join(missing, ", "))
	}
	return nil
}

func userCreate(ctx context.Context, a *app, args []string) (any, error) {
	fs := flags("user create")
	email := fs.String("email", "", "Optional email address")
	pos, err := positional(fs, args, "user-id")
	if err != nil {
		return nil, err
	}
	var emailPtr *string
	if fs.Changed("email") {
		emailPtr = email
	}
	return a.router.CreateUser(ctx, pos[0], emailPtr)
}

func userGet(ctx context.Context, a *app, args []string) (any, error) {
	pos, err := positional(flags("user get"), args, "user-id")
	if err != nil {
		return nil, err
	}
	return a.router.GetUser(ctx, pos[0])
}

func userList(ctx context.Context, a *app, args []string) (any, error) {
	if _, err := positional(flags("user list"), args); err != nil {
		return nil, err
	}
	users, err := a.router.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []registry.User{}
	}
	return users, nil
}

func userDelete(ctx context.Context, a *app, args []string) (any, error) {
	pos, err := positional(flags("user delete"), args, "user-id")
	if err != nil {
		return nil, err
	}
	deleted, err := a.router.DeleteUser(ctx, pos[0])
	if err != nil {
		return nil, err
	}
	return map[string]any{"userId": pos[0], "deleted": deleted}, nil
}

func walletCreate(ctx context.Context, a *app, args []string) (any, error) {
	fs := flags("wallet create")
	modeRaw := fs.String("mode", "remote", "Signing mode: remote or local")
	pos, err := positional(fs, args, "user-id")
	if err != nil {
		return nil, err
	}
	mode, err := registry.ParseSigningMode(*modeRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errUsage, err)
	}
	if mode == registry.SigningRemoteDelegated {
		if err := config.RequireCustodian(a.cfg); err != nil {
			return nil, err
		}
	}
	return a.router.CreateWallet(ctx, pos[0], mode)
}

func walletGet(ctx context.Context, a *app, args []string) (any, error) {
	pos, err := positional(flags("wallet get"), args, "wallet-id")
	if err != nil {
		return nil, err
	}
	return a.router.GetWallet(ctx, pos[0])
}

func walletList(ctx context.Context, a *app, args []string) (any, error) {
	pos, err := positional(flags("wallet list"), args, "user-id")
	if err != nil {
		return nil, err
	}
	wallets, err := a.router.GetWalletsForUser(ctx, pos[0])
	if err != nil {
		return nil, err
	}
	if wallets == nil {
		wallets = []registry.Wallet{}
	}
	return wallets, nil
}

func registryExport(ctx context.Context, a *app, args []string) (any, error) {
	if _, err := positional(flags("registry export"), args); err != nil {
		return nil, err
	}
	return a.registry.Export(ctx)
}

func registryImport(ctx context.Context, a *app, args []string) (any, error) {
	fs := flags("registry import")
	legacy := fs.Bool("legacy", false, "Read the legacy JSON document layout")
	pos, err := positional(fs, args, "file")
	if err != nil {
		return nil, err
	}
	f, err := os.Open(pos[0])
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if *legacy {
		err = a.registry.ImportLegacy(ctx, f)
	} else {
		var snap registry.Snapshot
		if err := json.NewDecoder(f).Decode(&snap); err != nil {
			return nil, fmt.Errorf("decode %s: %w", pos[0], err)
		}
		err = a.registry.Import(ctx, snap)
	}
	if err != nil {
		return nil, err
	}
	return a.registry.Export(ctx)
}

func symbols(ctx context.Context, a *app, args []string) (any, error) {
	if _, err := positional(flags("symbols"), args); err != nil {
		return nil, err
	}
	return a.router.Symbols(ctx)
}

func market(ctx context.Context, a *app, args []string) (any, error) {
	fs := flags("market")
	spot := fs.Bool("spot", false, "Look the symbol up in the spot listing")
	pos, err := positional(fs, args, "symbol")
	if err != nil {
		return nil, err
	}
	class := trading.MarketPerp
	if *spot {
		class = trading.MarketSpot
	}
	return a.router.MarketData(ctx, pos[0], class)
}

func orderPlace(ctx context.Context, a *app, args []string) (any, error) {
	fs := flags("order place")
	wallet := fs.String("wallet", "", "Wallet id")
	symbol := fs.String("symbol", "", "Asset symbol")
	side := fs.String("side", "", "buy or sell")
	size := fs.String("size", "", "Order size")
	kind := fs.String("kind", "limit", "limit or market")
	class := fs.String("class", "perp", "perp or spot")
	price := fs.String("price", "", "Limit price, or the fallback for spot market orders")
	if _, err := positional(fs, args); err != nil {
		return nil, err
	}
	if err := required(map[string]string{"wallet": *wallet, "symbol": *symbol, "side": *side, "size": *size}); err != nil {
		return nil, err
	}

	intent := trading.OrderIntent{WalletID: *wallet, Symbol: *symbol}
	var err error
	if intent.MarketClass, err = trading.ParseMarketClass(*class); err != nil {
		return nil, err
	}
	if intent.Side, err = trading.ParseSide(*side); err != nil {
		return nil, err
	}
	if intent.Kind, err = trading.ParseOrderKind(*kind); err != nil {
		return nil, err
	}
	if intent.Size, err = decimal.NewFromString(*size); err != nil {
		return nil, fmt.Errorf("%w: size: %v", trading.ErrInvalidOrder, err)
	}
	if *price != "" {
		px, err := decimal.NewFromString(*price)
		if err != nil {
			return nil, fmt.Errorf("%w: price: %v", trading.ErrInvalidOrder, err)
		}
		intent.Price = &px
	}
	return a.router.PlaceOrder(ctx, intent)
}

func orderCancel(ctx context.Context, a *app, args []string) (any, error) {
	fs := flags("order cancel")
	wallet := fs.String("wallet", "", "Wallet id")
	symbol := fs.String("symbol", "", "Asset symbol")
	class := fs.String("class", "perp", "perp or spot")
	oid := fs.Int64("oid", 0, "Venue order id")
	if _, err := positional(fs, args); err != nil {
		return nil, err
	}
	if err := required(map[string]string{"wallet": *wallet, "symbol": *symbol}); err != nil {
		return nil, err
	}
	if *oid <= 0 {
		return nil, fmt.Errorf("%w: --oid must be positive", errUsage)
	}
	mc, err := trading.ParseMarketClass(*class)
	if err != nil {
		return nil, err
	}
	return a.router.CancelOrder(ctx, *wallet, *symbol, mc, *oid)
}

func orderCancelAll(ctx context.Context, a *app, args []string) (any, error) {
	fs := flags("order cancel-all")
	wallet := fs.String("wallet", "", "Wallet id")
	symbol := fs.String("symbol", "", "Only cancel orders on this symbol")
	if _, err := positional(fs, args); err != nil {
		return nil, err
	}
	if err := required(map[string]string{"wallet": *wallet}); err != nil {
		return nil, err
	}
	return a.router.CancelAll(ctx, *wallet, *symbol)
}

func account(ctx context.Context, a *app, args []string) (any, error) {
	pos, err := positional(flags("account"), args, "wallet-id")
	if err != nil {
		return nil, err
	}
	return a.router.AccountState(ctx, pos[0])
}

func positions(ctx context.Context, a *app, args []string) (any, error) {
	pos, err := positional(flags("positions"), args, "wallet-id")
	if err != nil {
		return nil, err
	}
	return a.router.Positions(ctx, pos[0])
}

func openOrders(ctx context.Context, a *app, args []string) (any, error) {
	pos, err := positional(flags("orders"), args, "wallet-id")
	if err != nil {
		return nil, err
	}
	return a.router.OpenOrders(ctx, pos[0])
}

func transfer(ctx context.Context, a *app, args []string) (any, error) {
	fs := flags("transfer")
	wallet := fs.String("wallet", "", "Custodial wallet id")
	to := fs.String("to", "", "Recipient address")
	value := fs.String("value", "", "Amount in wei")
	caip2 := fs.String("caip2", custodian.DefaultCAIP2, "Target chain")
	if _, err := positional(fs, args); err != nil {
		return nil, err
	}
	if err := required(map[string]string{"wallet": *wallet, "to": *to, "value": *value}); err != nil {
		return nil, err
	}
	wei, ok := new(big.Int).SetString(*value, 10)
	if !ok {
		return nil, fmt.Errorf("%w: --value must be an integer amount of wei", errUsage)
	}
	return a.router.Transfer(ctx, *wallet, *to, wei, *caip2)
}

func signMessage(ctx context.Context, a *app, args []string) (any, error) {
	fs := flags("sign-message")
	wallet := fs.String("wallet", "", "Wallet id")
	message := fs.String("message", "", "Message to sign")
	if _, err := positional(fs, args); err != nil {
		return nil, err
	}
	if err := required(map[string]string{"wallet": *wallet, "message": *message}); err != nil {
		return nil, err
	}
	sig, err := a.router.SignMessage(ctx, *wallet, *message)
	if err != nil {
		return nil, err
	}
	return map[string]string{"walletId": *wallet, "signature": sig}, nil
}
