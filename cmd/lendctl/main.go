package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"lendpool/config"
	"lendpool/crypto"
	"lendpool/internal/passphrase"
	"lendpool/services/lendingd/server"
)

const (
	defaultPassEnv   = "LENDCTL_KEYSTORE_PASSPHRASE"
	defaultSecretEnv = "LENDINGD_ADMIN_JWT_SECRET"
	defaultEndpoint  = "http://127.0.0.1:9444"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}
	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "keygen":
		err = runKeygen(args, os.Stdout)
	case "address":
		err = runAddress(args, os.Stdout)
	case "token":
		err = runToken(args, os.Stdout)
	case "genesis":
		err = runGenesis(args, os.Stdout)
	case "admin-token":
		err = runAdminToken(args, os.Stdout)
	case "sign":
		err = runSign(args, os.Stdout)
	case "call":
		err = runCall(args, os.Stdout)
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	default:
		usage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `Usage: lendctl <command> [flags]

Commands:
  keygen       generate a participant key into an encrypted keystore
  address      print the address held by a keystore
  token        derive a token identifier from its symbol
  genesis      write a pool genesis controlled by a keystore's key
  admin-token  issue an admin bearer token for lendingd
  sign         print the authentication headers for a request body
  call         send a (signed) request to lendingd`)
}

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	keystorePath := fs.String("keystore", "participant.keystore", "Output path for the keystore")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	light := fs.Bool("light", false, "Use the light scrypt cost (throwaway participant keys only)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*force {
		if _, err := os.Stat(*keystorePath); err == nil {
			return fmt.Errorf("keystore file %s already exists (use --force to overwrite)", *keystorePath)
		} else if !os.IsNotExist(err) {
			return err
		}
	}
	pass, err := passphrase.NewSource(*passEnv, "participant keystore").Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	params := crypto.StandardKeystore
	if *light {
		params = crypto.LightKeystore
	}
	if err := crypto.SaveToKeystoreWithParams(*keystorePath, key, pass, params); err != nil {
		return fmt.Errorf("failed to write keystore: %w", err)
	}
	fmt.Fprintln(out, key.PubKey().Address().String())
	return nil
}

func runAddress(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	keystorePath := fs.String("keystore", "participant.keystore", "Keystore to read")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := loadKey(*keystorePath, *passEnv)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, key.PubKey().Address().String())
	return nil
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("at least one token symbol required")
	}
	for _, symbol := range fs.Args() {
		fmt.Fprintf(out, "%s\t%s\n", strings.ToUpper(symbol), config.TokenID(symbol))
	}
	return nil
}

func runGenesis(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("genesis", flag.ContinueOnError)
	outPath := fs.String("out", "genesis.toml", "Output path for the genesis file")
	keystorePath := fs.String("keystore", "pool-authority.keystore", "Keystore holding the pool authority key")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	collateral := fs.String("collateral", "COLL", "Comma separated collateral token symbols")
	borrow := fs.String("borrow", "USDL", "Comma separated borrow token symbols")
	paused := fs.Bool("paused", false, "Start with lending paused")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := loadKey(*keystorePath, *passEnv)
	if err != nil {
		return err
	}
	g := config.DefaultGenesis(key.PubKey().Address())
	g.BorrowTokens = tokenList(*borrow)
	// Lenders can only fund collateral tokens.
	g.CollateralTokens = mergeTokens(tokenList(*collateral), g.BorrowTokens)
	g.Pauses.Lending = *paused
	if rel, err := filepath.Rel(filepath.Dir(*outPath), *keystorePath); err == nil {
		g.PoolAuthorityKeystore = rel
	} else {
		g.PoolAuthorityKeystore = *keystorePath
	}
	if err := config.ValidateGenesis(g); err != nil {
		return err
	}
	if err := config.WriteGenesis(*outPath, g); err != nil {
		return fmt.Errorf("failed to write genesis: %w", err)
	}
	fmt.Fprintf(out, "wrote %s (authority %s, custody %s)\n", *outPath, g.PoolAuthority, g.CustodyAccount)
	return nil
}

func tokenList(raw string) []crypto.Address {
	var out []crypto.Address
	for _, symbol := range strings.Split(raw, ",") {
		symbol = strings.TrimSpace(symbol)
		if symbol == "" {
			continue
		}
		out = append(out, config.TokenID(symbol))
	}
	return out
}

func mergeTokens(base, extra []crypto.Address) []crypto.Address {
	out := append([]crypto.Address(nil), base...)
	for _, token := range extra {
		if !slices.Contains(out, token) {
			out = append(out, token)
		}
	}
	return out
}

func runAdminToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("admin-token", flag.ContinueOnError)
	secretEnv := fs.String("secret-env", defaultSecretEnv, "Environment variable containing the admin JWT secret")
	issuer := fs.String("issuer", "lendpool", "Token issuer")
	audience := fs.String("audience", "", "Token audience")
	subject := fs.String("subject", "operator", "Token subject recorded in server logs")
	ttl := fs.Duration("ttl", 15*time.Minute, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	secret := strings.TrimSpace(os.Getenv(*secretEnv))
	if secret == "" {
		return fmt.Errorf("environment variable %s is not set", *secretEnv)
	}
	token, err := server.IssueAdminToken(secret, *issuer, *audience, *subject, *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func runSign(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	keystorePath := fs.String("keystore", "participant.keystore", "Keystore used to sign the request")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	method := fs.String("method", http.MethodPost, "HTTP method")
	path := fs.String("path", "", "Request path including any query, e.g. /v1/lend")
	data := fs.String("data", "", "JSON request body")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*path) == "" {
		return fmt.Errorf("--path is required")
	}
	key, err := loadKey(*keystorePath, *passEnv)
	if err != nil {
		return err
	}
	req, err := buildRequest(defaultEndpoint, strings.ToUpper(*method), *path, []byte(*data), key, "", time.Now())
	if err != nil {
		return err
	}
	for _, name := range []string{server.HeaderAddress, server.HeaderTimestamp, server.HeaderNonce, server.HeaderSignature} {
		fmt.Fprintf(out, "%s: %s\n", name, req.Header.Get(name))
	}
	return nil
}

func runCall(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	endpoint := fs.String("endpoint", defaultEndpoint, "lendingd base URL")
	method := fs.String("method", http.MethodPost, "HTTP method")
	path := fs.String("path", "", "Request path, e.g. /v1/lend")
	data := fs.String("data", "", "JSON request body")
	keystorePath := fs.String("keystore", "", "Keystore used to sign the request; unsigned when empty")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	bearer := fs.String("bearer", "", "Admin bearer token")
	timeout := fs.Duration("timeout", 10*time.Second, "Request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*path) == "" {
		return fmt.Errorf("--path is required")
	}
	var key *crypto.PrivateKey
	if *keystorePath != "" {
		var err error
		if key, err = loadKey(*keystorePath, *passEnv); err != nil {
			return err
		}
	}
	req, err := buildRequest(*endpoint, strings.ToUpper(*method), *path, []byte(*data), key, *bearer, time.Now())
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: *timeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("lendingd returned %s", resp.Status)
	}
	return nil
}

// buildRequest signs body with key over the canonical request path. Signed
// requests carry a random nonce so retries are never rejected as replays.
func buildRequest(endpoint, method, path string, body []byte, key *crypto.PrivateKey, bearer string, now time.Time) (*http.Request, error) {
	base, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	target, err := base.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	req, err := http.NewRequest(method, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if key != nil {
		signPath := server.CanonicalRequestPath(req)
		headers, err := server.SignRequest(key, now, uuid.NewString(), method, signPath, body)
		if err != nil {
			return nil, err
		}
		for name, values := range headers {
			req.Header[name] = values
		}
	}
	return req, nil
}

func loadKey(path, passEnv string) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("keystore path required")
	}
	pass, err := passphrase.NewSource(passEnv, filepath.Base(path)).Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("failed to open keystore %s: %w", path, err)
	}
	return key, nil
}

