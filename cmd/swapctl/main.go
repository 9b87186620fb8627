package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fixedswap/native/swap"
	"fixedswap/services/swapd/api"
	"fixedswap/services/swapd/identity"
)

const (
	defaultURL       = "http://localhost:7074"
	envURL           = "SWAPD_URL"
	envToken         = "SWAPCTL_TOKEN"
	envOpsToken      = "SWAPD_OPS_TOKEN"
	defaultSecretEnv = "SWAPD_JWT_SECRET"
)

type commonFlags struct {
	url   *string
	token *string
}

func registerCommon(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		url:   fs.String("url", envOr(envURL, defaultURL), "swapd base URL"),
		token: fs.String("token", "", "caller JWT (default $"+envToken+")"),
	}
}

func (c commonFlags) client() *client {
	return newClient(*c.url, secretOr(envToken, *c.token))
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func secretOr(key, explicit string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	return os.Getenv(key)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 1 {
		usage(out)
		return flag.ErrHelp
	}
	command, rest := args[0], args[1:]
	switch command {
	case "token":
		return runToken(rest, out)
	case "pairs":
		return runPairs(ctx, rest, out)
	case "pair":
		return runPair(ctx, rest, out)
	case "init":
		return runInit(ctx, rest, out)
	case "price":
		return runPrice(ctx, rest, out)
	case "params":
		return runParams(ctx, rest, out)
	case "quote":
		return runQuote(ctx, rest, out)
	case "swap-in":
		return runSwapIn(ctx, rest, out)
	case "swap-out":
		return runSwapOut(ctx, rest, out)
	case "credit":
		return runCredit(ctx, rest, out)
	case "balances":
		return runBalances(ctx, rest, out)
	case "vaults":
		return runVaults(ctx, rest, out)
	case "swaps":
		return runSwaps(ctx, rest, out)
	case "watch":
		return runWatch(ctx, rest, out)
	case "help", "-h", "--help":
		usage(out)
		return nil
	default:
		usage(out)
		return fmt.Errorf("unknown command %q", command)
	}
}

func usage(out io.Writer) {
	fmt.Fprintln(out, "Usage: swapctl <command> [flags]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  token     mint a caller JWT for development")
	fmt.Fprintln(out, "  pairs     list pairs")
	fmt.Fprintln(out, "  pair      show one pair")
	fmt.Fprintln(out, "  init      initialize a pair (caller becomes administrator)")
	fmt.Fprintln(out, "  price     set a pair's scaled price")
	fmt.Fprintln(out, "  params    update price, spread or expiration window")
	fmt.Fprintln(out, "  quote     preview a swap")
	fmt.Fprintln(out, "  swap-in   sell an exact input amount")
	fmt.Fprintln(out, "  swap-out  buy an exact output amount")
	fmt.Fprintln(out, "  credit    fund a custody record (operator)")
	fmt.Fprintln(out, "  balances  show the caller's custody records")
	fmt.Fprintln(out, "  vaults    show a pair's vault balances")
	fmt.Fprintln(out, "  swaps     list journaled swaps")
	fmt.Fprintln(out, "  watch     stream swap and pair events")
}

func printJSON(out io.Writer, v any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func pairFlags(fs *flag.FlagSet) (*string, *string) {
	return fs.String("x", "", "first asset of the pair"), fs.String("y", "", "second asset of the pair")
}

func requirePair(x, y string) error {
	_, err := swap.NewPairKey(x, y)
	return err
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "", "caller hex address")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	issuer := fs.String("issuer", "", "issuer claim")
	audience := fs.String("audience", "", "audience claim")
	secretEnv := fs.String("secret-env", defaultSecretEnv, "environment variable holding the HMAC secret")
	if err := fs.Parse(args); err != nil {
		return err
	}
	caller, ok := swap.ParseAddress(*subject)
	if !ok {
		return fmt.Errorf("-subject must be a non-zero hex address")
	}
	secret, ok := os.LookupEnv(*secretEnv)
	if !ok {
		return fmt.Errorf("environment variable %s is not set", *secretEnv)
	}
	token, err := identity.Issue(identity.Config{
		Secret:   []byte(secret),
		Issuer:   *issuer,
		Audience: *audience,
	}, caller, *ttl, time.Now())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func runPairs(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("pairs", flag.ContinueOnError)
	common := registerCommon(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	pairs, err := common.client().pairs(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, pairs)
}

func runPair(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("pair", flag.ContinueOnError)
	common := registerCommon(fs)
	x, y := pairFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requirePair(*x, *y); err != nil {
		return err
	}
	pair, err := common.client().pair(ctx, *x, *y)
	if err != nil {
		return err
	}
	return printJSON(out, pair)
}

func runInit(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	common := registerCommon(fs)
	x, y := pairFlags(fs)
	spread := fs.Uint64("spread", 0, "spread in basis points")
	window := fs.Duration("window", 0, "expiration window (0 selects the server default)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requirePair(*x, *y); err != nil {
		return err
	}
	pair, err := common.client().initialize(ctx, api.InitializeRequest{
		X:                  *x,
		Y:                  *y,
		SpreadBps:          *spread,
		ExpirationWindowMs: window.Milliseconds(),
	})
	if err != nil {
		return err
	}
	return printJSON(out, pair)
}

func runPrice(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("price", flag.ContinueOnError)
	common := registerCommon(fs)
	x, y := pairFlags(fs)
	price := fs.String("price", "", "scaled price (1000000 = 1.0)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requirePair(*x, *y); err != nil {
		return err
	}
	if _, err := api.ParseAmount("-price", *price); err != nil {
		return err
	}
	pair, err := common.client().updatePrice(ctx, *x, *y, *price)
	if err != nil {
		return err
	}
	return printJSON(out, pair)
}

func runParams(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("params", flag.ContinueOnError)
	common := registerCommon(fs)
	x, y := pairFlags(fs)
	price := fs.String("price", "", "scaled price")
	spread := fs.Uint64("spread", 0, "spread in basis points")
	window := fs.Duration("window", 0, "expiration window")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requirePair(*x, *y); err != nil {
		return err
	}
	var req api.ParamsRequest
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "price":
			req.ScaledPrice = price
		case "spread":
			req.SpreadBps = spread
		case "window":
			ms := window.Milliseconds()
			req.ExpirationWindowMs = &ms
		}
	})
	pair, err := common.client().updateParams(ctx, *x, *y, req)
	if err != nil {
		return err
	}
	return printJSON(out, pair)
}

func runQuote(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("quote", flag.ContinueOnError)
	common := registerCommon(fs)
	x, y := pairFlags(fs)
	mode := fs.String("mode", string(swap.ModeExactIn), "exact_in or exact_out")
	direction := fs.String("direction", "x_to_y", "x_to_y or y_to_x")
	amount := fs.String("amount", "", "input amount (exact_in) or output amount (exact_out)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requirePair(*x, *y); err != nil {
		return err
	}
	quote, err := common.client().quote(ctx, *x, *y, *mode, *direction, *amount)
	if err != nil {
		return err
	}
	return printJSON(out, quote)
}

func runSwapIn(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("swap-in", flag.ContinueOnError)
	common := registerCommon(fs)
	x, y := pairFlags(fs)
	direction := fs.String("direction", "x_to_y", "x_to_y or y_to_x")
	amount := fs.String("amount", "", "input amount")
	minOut := fs.String("min-out", "0", "minimum acceptable output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requirePair(*x, *y); err != nil {
		return err
	}
	receipt, err := common.client().swapExactIn(ctx, *x, *y, api.ExactInRequest{
		Direction:    *direction,
		AmountIn:     *amount,
		MinAmountOut: *minOut,
	})
	if err != nil {
		return err
	}
	return printJSON(out, receipt)
}

func runSwapOut(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("swap-out", flag.ContinueOnError)
	common := registerCommon(fs)
	x, y := pairFlags(fs)
	direction := fs.String("direction", "x_to_y", "x_to_y or y_to_x")
	amount := fs.String("amount", "", "output amount")
	maxIn := fs.String("max-in", "", "maximum acceptable input")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requirePair(*x, *y); err != nil {
		return err
	}
	receipt, err := common.client().swapExactOut(ctx, *x, *y, api.ExactOutRequest{
		Direction:   *direction,
		AmountOut:   *amount,
		MaxAmountIn: *maxIn,
	})
	if err != nil {
		return err
	}
	return printJSON(out, receipt)
}

func runCredit(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("credit", flag.ContinueOnError)
	baseURL := fs.String("url", envOr(envURL, defaultURL), "swapd base URL")
	opsToken := fs.String("ops-token", "", "operator bearer token (default $"+envOpsToken+")")
	owner := fs.String("owner", "", "owner hex address")
	asset := fs.String("asset", "", "asset identifier")
	amount := fs.String("amount", "", "amount to credit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	holding, err := newClient(*baseURL, secretOr(envOpsToken, *opsToken)).credit(ctx, api.CreditRequest{
		Owner:  *owner,
		Asset:  *asset,
		Amount: *amount,
	})
	if err != nil {
		return err
	}
	return printJSON(out, holding)
}

func runBalances(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("balances", flag.ContinueOnError)
	common := registerCommon(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	balances, err := common.client().balances(ctx)
	if err != nil {
		return err
	}
	return printJSON(out, balances)
}

func runVaults(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("vaults", flag.ContinueOnError)
	common := registerCommon(fs)
	x, y := pairFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requirePair(*x, *y); err != nil {
		return err
	}
	balances, err := common.client().vaults(ctx, *x, *y)
	if err != nil {
		return err
	}
	return printJSON(out, balances)
}

func runSwaps(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("swaps", flag.ContinueOnError)
	common := registerCommon(fs)
	pair := fs.String("pair", "", "filter by pair, e.g. XTK/YTK")
	trader := fs.String("trader", "", "filter by trader address")
	before := fs.String("before", "", "only swaps executed before this RFC3339 timestamp")
	limit := fs.Int("limit", 0, "maximum number of swaps")
	if err := fs.Parse(args); err != nil {
		return err
	}
	query := url.Values{}
	if *pair != "" {
		query.Set("pair", strings.ToUpper(*pair))
	}
	if *trader != "" {
		query.Set("trader", *trader)
	}
	if *before != "" {
		query.Set("before", *before)
	}
	if *limit > 0 {
		query.Set("limit", fmt.Sprint(*limit))
	}
	swaps, err := common.client().swaps(ctx, query)
	if err != nil {
		return err
	}
	return printJSON(out, swaps)
}

func runWatch(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	common := registerCommon(fs)
	cursor := fs.String("cursor", "", "resume after this sequence")
	if err := fs.Parse(args); err != nil {
		return err
	}
	encoder := json.NewEncoder(out)
	return common.client().watch(ctx, *cursor, func(event api.Event) error {
		return encoder.Encode(event)
	})
}
