package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lendpool/crypto"
)

const testKeystorePassphrase = "test-passphrase"

var (
	testAuthority = crypto.MustNewAddress(crypto.ParticipantPrefix, []byte{
		0x42, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 0x24,
	})
	testAlice = crypto.MustNewAddress(crypto.ParticipantPrefix, []byte{
		0x01, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 0x01,
	})
)

func TestLoadGenesisParsesWallets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "genesis.toml")
	coll := TokenID("coll")
	usd := TokenID("USDL")
	contents := fmt.Sprintf(`PoolAuthority = "%s"
PoolAuthorityKeystore = "authority.keystore"
CustodyAccount = "%s"
CollateralTokens = ["%s", "%s"]
BorrowTokens = ["%s"]

[Pauses]
Lending = true

[[Wallets]]
Account = "%s"
Tokens = ["%s", "%s"]

[[Wallets.Balances]]
Token = "%s"
Amount = 5000
`, testAuthority, CustodyAccountFor(testAuthority), coll, usd, usd, testAlice, coll, usd, coll)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write genesis: %v", err)
	}

	g, err := LoadGenesis(path, testKeystorePassphrase)
	if err != nil {
		t.Fatalf("load genesis: %v", err)
	}
	if g.PoolAuthority != testAuthority {
		t.Fatalf("unexpected authority %s", g.PoolAuthority)
	}
	if g.PoolAuthorityKeystore != filepath.Join(dir, "authority.keystore") {
		t.Fatalf("expected keystore resolved relative to genesis, got %s", g.PoolAuthorityKeystore)
	}
	if len(g.CollateralTokens) != 2 || g.CollateralTokens[0] != coll {
		t.Fatalf("unexpected collateral tokens %v", g.CollateralTokens)
	}
	if !g.Pauses.Lending {
		t.Fatalf("expected lending paused")
	}
	if len(g.Wallets) != 1 || g.Wallets[0].OwnerOrSelf() != testAlice {
		t.Fatalf("unexpected wallets %+v", g.Wallets)
	}
	if bal := g.Wallets[0].Balances; len(bal) != 1 || bal[0].Amount != 5000 || bal[0].Token != coll {
		t.Fatalf("unexpected balances %+v", bal)
	}
	if tokens := g.AllTokens(); len(tokens) != 2 {
		t.Fatalf("expected union of two tokens, got %v", tokens)
	}
	params := g.InitParams()
	if params.CustodyAccount != CustodyAccountFor(testAuthority) || len(params.BorrowTokens) != 1 {
		t.Fatalf("unexpected init params %+v", params)
	}
}

func TestLoadGenesisRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "genesis.toml")
	g := DefaultGenesis(testAuthority)
	if err := WriteGenesis(path, g); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("\nInterestRateBps = 500\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	// The stray key lands inside the last table, so only check the name.
	_, err = LoadGenesis(path, testKeystorePassphrase)
	if err == nil || !strings.Contains(err.Error(), "InterestRateBps") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestValidateGenesis(t *testing.T) {
	valid := DefaultGenesis(testAuthority)
	if err := ValidateGenesis(valid); err != nil {
		t.Fatalf("default genesis should validate: %v", err)
	}

	cases := map[string]func(g *Genesis){
		"no authority":      func(g *Genesis) { g.PoolAuthority = crypto.Address{} },
		"token authority":   func(g *Genesis) { g.PoolAuthority = TokenID("X") },
		"custody authority": func(g *Genesis) { g.CustodyAccount = g.PoolAuthority },
		"no borrow tokens":  func(g *Genesis) { g.BorrowTokens = nil },
		"duplicate token":   func(g *Genesis) { g.CollateralTokens = append(g.CollateralTokens, g.CollateralTokens[0]) },
		"unfunded borrow":   func(g *Genesis) { g.CollateralTokens = g.CollateralTokens[:1] },
		"wallet account":    func(g *Genesis) { g.Wallets = []Wallet{{}} },
		"duplicate wallet": func(g *Genesis) {
			g.Wallets = []Wallet{{Account: testAlice}, {Account: testAlice}}
		},
		"unopened balance": func(g *Genesis) {
			g.Wallets = []Wallet{{Account: testAlice, Balances: []Balance{{Token: TokenID("COLL"), Amount: 1}}}}
		},
	}
	for name, mutate := range cases {
		g := DefaultGenesis(testAuthority)
		mutate(g)
		if err := ValidateGenesis(g); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestDefaultGenesisFundsEveryBorrowToken(t *testing.T) {
	g := DefaultGenesis(testAuthority)
	if unfunded := g.UnfundedBorrowTokens(); len(unfunded) != 0 {
		t.Fatalf("borrow tokens without a lending path: %v", unfunded)
	}
	if g.CollateralTokens[0] != TokenID(defaultCollateralSymbol) {
		t.Fatalf("expected %s first on the collateral list, got %s", defaultCollateralSymbol, g.CollateralTokens[0])
	}

	g.CollateralTokens = []crypto.Address{TokenID("COLL")}
	unfunded := g.UnfundedBorrowTokens()
	if len(unfunded) != 1 || unfunded[0] != TokenID("USDL") {
		t.Fatalf("expected USDL reported unfunded, got %v", unfunded)
	}
	if err := ValidateGenesis(g); err == nil || !strings.Contains(err.Error(), "never be lent") {
		t.Fatalf("expected unfunded borrow token rejected, got %v", err)
	}
}

func TestLoadGenesisCreatesDefaultWithKeystore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "genesis.toml")

	g, err := LoadGenesis(path, testKeystorePassphrase)
	if err != nil {
		t.Fatalf("create default: %v", err)
	}
	key, err := crypto.LoadFromKeystore(g.PoolAuthorityKeystore, testKeystorePassphrase)
	if err != nil {
		t.Fatalf("load keystore: %v", err)
	}
	if key.PubKey().Address() != g.PoolAuthority {
		t.Fatalf("keystore key does not match pool authority")
	}

	reloaded, err := LoadGenesis(path, testKeystorePassphrase)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.PoolAuthority != g.PoolAuthority || reloaded.CustodyAccount != g.CustodyAccount {
		t.Fatalf("reloaded genesis differs: %+v vs %+v", reloaded, g)
	}
	if reloaded.PoolAuthorityKeystore != g.PoolAuthorityKeystore {
		t.Fatalf("expected keystore path %s, got %s", g.PoolAuthorityKeystore, reloaded.PoolAuthorityKeystore)
	}
}

func TestTokenIDStable(t *testing.T) {
	if TokenID("usdl") != TokenID(" USDL ") {
		t.Fatalf("expected symbol normalisation")
	}
	if TokenID("USDL") == TokenID("COLL") {
		t.Fatalf("expected distinct ids")
	}
	if TokenID("USDL").Prefix() != crypto.TokenPrefix {
		t.Fatalf("expected token prefix")
	}
}
