package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"dscengine/cmd/internal/passphrase"
	"dscengine/crypto"
	"dscengine/services/dscd/middleware"
)

const (
	defaultPassEnv   = "DSCCTL_PASS"
	defaultSecretEnv = "DSCD_AUTH_SECRET"
	defaultKeystore  = "dscctl.keystore"
	defaultAPI       = "http://127.0.0.1:7080"
)

type command struct {
	summary string
	run     func(args []string, stdout io.Writer) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"keygen":       {"generate a new keystore and print its address", runKeygen},
		"address":      {"print the address held by a keystore", runAddress},
		"token":        {"sign a bearer token for dscd", runToken},
		"params":       {"show engine parameters", apiCommand(paramsCall)},
		"account":      {"show a position", apiCommand(accountCall)},
		"liquidatable": {"list accounts below the minimum health factor", apiCommand(liquidatableCall)},
		"balance":      {"show a token balance", apiCommand(balanceCall)},
		"deposit":      {"deposit collateral", apiCommand(collateralCall("/v1/collateral/deposit"))},
		"redeem":       {"redeem collateral", apiCommand(collateralCall("/v1/collateral/redeem"))},
		"mint":         {"mint DSC against deposited collateral", apiCommand(dscCall("/v1/dsc/mint"))},
		"burn":         {"burn DSC to reduce debt", apiCommand(dscCall("/v1/dsc/burn"))},
		"open":         {"deposit collateral and mint DSC", apiCommand(positionCall("/v1/positions/open"))},
		"close":        {"burn DSC and redeem collateral", apiCommand(positionCall("/v1/positions/close"))},
		"liquidate":    {"liquidate an undercollateralised account", apiCommand(liquidateCall)},
		"approve":      {"approve the engine (or a spender) to move a token", apiCommand(approveCall)},
		"push-round":   {"publish a price round on a feed", apiCommand(pushRoundCall)},
		"feed":         {"show a price feed and its recent rounds", apiCommand(feedCall)},
		"events":       {"query the event journal", apiCommand(eventsCall)},
	}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 1
	}
	cmd, ok := commands[args[0]]
	if !ok {
		usage(stderr)
		return 1
	}
	if err := cmd.run(args[1:], stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: dscctl <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	names := []string{
		"keygen", "address", "token", "params", "account", "liquidatable", "balance",
		"approve", "deposit", "redeem", "mint", "burn", "open", "close", "liquidate",
		"push-round", "feed", "events",
	}
	for _, name := range names {
		fmt.Fprintf(w, "  %-13s %s\n", name, commands[name].summary)
	}
}

func runKeygen(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	out := fs.String("out", defaultKeystore, "Output path for the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	importEnv := fs.String("import-env", "", "Environment variable holding a hex private key to import instead of generating one")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := os.Stat(*out); err == nil && !*force {
		return fmt.Errorf("keystore %s already exists (use -force to overwrite)", *out)
	}
	source := passphrase.NewSource(*passEnv, "new")
	source.RequireNonEmpty = true
	pass, err := source.Get()
	if err != nil {
		return err
	}
	key, err := loadOrGenerateKey(*importEnv)
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(*out, key, pass); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	fmt.Fprintf(stdout, "%s\n", key.PubKey().Address())
	return nil
}

func loadOrGenerateKey(importEnv string) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(importEnv) == "" {
		return crypto.GeneratePrivateKey()
	}
	raw := strings.TrimPrefix(strings.TrimSpace(os.Getenv(importEnv)), "0x")
	if raw == "" {
		return nil, fmt.Errorf("%s is not set", importEnv)
	}
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid hex: %w", importEnv, err)
	}
	key, err := crypto.PrivateKeyFromBytes(decoded)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", importEnv, err)
	}
	return key, nil
}

func runAddress(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	keystore := fs.String("keystore", defaultKeystore, "Path to the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	if err := fs.Parse(args); err != nil {
		return err
	}
	addr, err := keystoreAddress(*keystore, *passEnv)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s\n%s\n", addr, addr.Hex())
	return nil
}

func keystoreAddress(path, passEnv string) (crypto.Address, error) {
	pass, err := passphrase.NewSource(passEnv, "operator").Get()
	if err != nil {
		return crypto.Address{}, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("open keystore: %w", err)
	}
	return key.PubKey().Address(), nil
}

func runToken(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	secretEnv := fs.String("secret-env", defaultSecretEnv, "Environment variable containing the dscd HMAC secret")
	subject := fs.String("subject", "", "Caller address (bech32 or 0x hex); defaults to the keystore address")
	keystore := fs.String("keystore", "", "Keystore whose address becomes the subject")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	scopes := fs.String("scope", middleware.ScopeWrite, "Comma-separated scopes to grant")
	issuer := fs.String("issuer", "", "Issuer claim")
	audience := fs.String("audience", "", "Audience claim")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	secret := os.Getenv(*secretEnv)
	if strings.TrimSpace(secret) == "" {
		return fmt.Errorf("%s is not set", *secretEnv)
	}

	var sub crypto.Address
	switch {
	case strings.TrimSpace(*subject) != "":
		addr, err := crypto.ParseAddress(*subject)
		if err != nil {
			return fmt.Errorf("invalid subject: %w", err)
		}
		sub = addr
	case strings.TrimSpace(*keystore) != "":
		addr, err := keystoreAddress(*keystore, *passEnv)
		if err != nil {
			return err
		}
		sub = addr
	default:
		return errors.New("either -subject or -keystore is required")
	}

	token, err := middleware.SignToken(secret, middleware.TokenRequest{
		Subject:  sub,
		Scopes:   splitList(*scopes),
		Issuer:   *issuer,
		Audience: *audience,
		TTL:      *ttl,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, token)
	return nil
}

// apiCall registers its flags on fs and returns the request to issue once
// they are parsed.
type apiCall func(fs *flag.FlagSet) func(c *apiClient) (json.RawMessage, error)

func apiCommand(call apiCall) func([]string, io.Writer) error {
	return func(args []string, stdout io.Writer) error {
		fs := flag.NewFlagSet("dscctl", flag.ContinueOnError)
		api := fs.String("api", envOr("DSCCTL_API", defaultAPI), "dscd base URL")
		token := fs.String("token", os.Getenv("DSCCTL_TOKEN"), "Bearer token for write calls")
		caller := fs.String("caller", os.Getenv("DSCCTL_CALLER"), "Caller address when dscd runs without authentication")
		exec := call(fs)
		if err := fs.Parse(args); err != nil {
			return err
		}
		body, err := exec(newAPIClient(*api, *token, *caller))
		if err != nil {
			return err
		}
		return printJSON(stdout, body)
	}
}

func paramsCall(fs *flag.FlagSet) func(*apiClient) (json.RawMessage, error) {
	return func(c *apiClient) (json.RawMessage, error) { return c.get("/v1/engine/params") }
}

func liquidatableCall(fs *flag.FlagSet) func(*apiClient) (json.RawMessage, error) {
	return func(c *apiClient) (json.RawMessage, error) { return c.get("/v1/accounts/liquidatable") }
}

func accountCall(fs *flag.FlagSet) func(*apiClient) (json.RawMessage, error) {
	addr := fs.String("addr", "", "Account address")
	return func(c *apiClient) (json.RawMessage, error) {
		if err := required("addr", *addr); err != nil {
			return nil, err
		}
		return c.get("/v1/accounts/" + url.PathEscape(*addr))
	}
}

func balanceCall(fs *flag.FlagSet) func(*apiClient) (json.RawMessage, error) {
	asset := fs.String("asset", "", "Token address")
	addr := fs.String("addr", "", "Holder address")
	return func(c *apiClient) (json.RawMessage, error) {
		if err := required("asset", *asset, "addr", *addr); err != nil {
			return nil, err
		}
		return c.get("/v1/tokens/" + url.PathEscape(*asset) + "/balances/" + url.PathEscape(*addr))
	}
}

func collateralCall(path string) apiCall {
	return func(fs *flag.FlagSet) func(*apiClient) (json.RawMessage, error) {
		asset := fs.String("asset", "", "Collateral token address")
		amount := fs.String("amount", "", "Amount in base units")
		return func(c *apiClient) (json.RawMessage, error) {
			if err := required("asset", *asset, "amount", *amount); err != nil {
				return nil, err
			}
			return c.post(path, map[string]string{"asset": *asset, "amount": *amount})
		}
	}
}

func dscCall(path string) apiCall {
	return func(fs *flag.FlagSet) func(*apiClient) (json.RawMessage, error) {
		amount := fs.String("amount", "", "DSC amount in base units")
		return func(c *apiClient) (json.RawMessage, error) {
			if err := required("amount", *amount); err != nil {
				return nil, err
			}
			return c.post(path, map[string]string{"amount": *amount})
		}
	}
}

func positionCall(path string) apiCall {
	return func(fs *flag.FlagSet) func(*apiClient) (json.RawMessage, error) {
		asset := fs.String("asset", "", "Collateral token address")
		collateral := fs.String("collateral", "", "Collateral amount in base units")
		debt := fs.String("debt", "", "DSC amount in base units")
		return func(c *apiClient) (json.RawMessage, error) {
			if err := required("asset", *asset, "collateral", *collateral, "debt", *debt); err != nil {
				return nil, err
			}
			return c.post(path, map[string]string{"asset": *asset, "collateral": *collateral, "debt": *debt})
		}
	}
}

func liquidateCall(fs *flag.FlagSet) func(*apiClient) (json.RawMessage, error) {
	asset := fs.String("asset", "", "Collateral token to seize")
	account := fs.String("account", "", "Account to liquidate")
	debt := fs.String("debt", "", "Debt to cover in base units")
	return func(c *apiClient) (json.RawMessage, error) {
		if err := required("asset", *asset, "account", *account, "debt", *debt); err != nil {
			return nil, err
		}
		return c.post("/v1/liquidate", map[string]string{"asset": *asset, "account": *account, "debtToCover": *debt})
	}
}

func approveCall(fs *flag.FlagSet) func(*apiClient) (json.RawMessage, error) {
	asset := fs.String("asset", "", "Token address")
	amount := fs.String("amount", "max", "Allowance in base units, or max")
	spender := fs.String("spender", "", "Spender address (defaults to the engine)")
	return func(c *apiClient) (json.RawMessage, error) {
		if err := required("asset", *asset); err != nil {
			return nil, err
		}
		body := map[string]string{"asset": *asset, "amount": *amount}
		if *spender != "" {
			body["spender"] = *spender
		}
		return c.post("/v1/tokens/approve", body)
	}
}

func pushRoundCall(fs *flag.FlagSet) func(*apiClient) (json.RawMessage, error) {
	feed := fs.String("feed", "", "Price feed address")
	answer := fs.String("answer", "", "Answer with 8 fractional digits, e.g. 200000000000 for $2000")
	return func(c *apiClient) (json.RawMessage, error) {
		if err := required("feed", *feed, "answer", *answer); err != nil {
			return nil, err
		}
		return c.post("/v1/oracle/feeds/"+url.PathEscape(*feed)+"/rounds", map[string]string{"answer": *answer})
	}
}

func feedCall(fs *flag.FlagSet) func(*apiClient) (json.RawMessage, error) {
	feed := fs.String("feed", "", "Price feed address")
	history := fs.Int("history", 10, "Number of recent rounds to include")
	return func(c *apiClient) (json.RawMessage, error) {
		if err := required("feed", *feed); err != nil {
			return nil, err
		}
		return c.get(fmt.Sprintf("/v1/oracle/feeds/%s?history=%d", url.PathEscape(*feed), *history))
	}
}

func eventsCall(fs *flag.FlagSet) func(*apiClient) (json.RawMessage, error) {
	eventType := fs.String("type", "", "Event type filter")
	account := fs.String("account", "", "Account filter")
	after := fs.Uint64("after", 0, "Only events after this sequence")
	limit := fs.Int("limit", 0, "Maximum number of events")
	return func(c *apiClient) (json.RawMessage, error) {
		q := url.Values{}
		if *eventType != "" {
			q.Set("type", *eventType)
		}
		if *account != "" {
			q.Set("account", *account)
		}
		if *after > 0 {
			q.Set("after", fmt.Sprint(*after))
		}
		if *limit > 0 {
			q.Set("limit", fmt.Sprint(*limit))
		}
		path := "/v1/events"
		if encoded := q.Encode(); encoded != "" {
			path += "?" + encoded
		}
		return c.get(path)
	}
}

func required(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return fmt.Errorf("-%s is required", pairs[i])
		}
	}
	return nil
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, err = w.Write(raw)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
