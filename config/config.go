package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"lendpool/crypto"

	"github.com/BurntSushi/toml"
)

const (
	defaultCollateralSymbol = "COLL"
	defaultBorrowSymbol     = "USDL"
)

// LoadGenesis loads the pool genesis from path. When the file does not exist
// a default genesis is created with a freshly generated pool authority whose
// key is written to a keystore next to it, encrypted with passphrase.
func LoadGenesis(path, passphrase string) (*Genesis, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path, passphrase)
	}

	g := &Genesis{}
	meta, err := toml.DecodeFile(path, g)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("genesis file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if g.PoolAuthorityKeystore != "" && !filepath.IsAbs(g.PoolAuthorityKeystore) {
		g.PoolAuthorityKeystore = filepath.Join(filepath.Dir(path), g.PoolAuthorityKeystore)
	}
	if err := ValidateGenesis(g); err != nil {
		return nil, err
	}
	return g, nil
}

// TokenID derives a stable token identifier from a ticker symbol.
func TokenID(symbol string) crypto.Address {
	digest := crypto.Digest([]byte("lendpool/token/"), []byte(strings.ToUpper(strings.TrimSpace(symbol))))
	return crypto.MustNewAddress(crypto.TokenPrefix, digest[len(digest)-crypto.AddressLength:])
}

// CustodyAccountFor derives the pool custody wallet controlled by authority.
func CustodyAccountFor(authority crypto.Address) crypto.Address {
	digest := crypto.Digest([]byte("lendpool/custody/"), authority.Bytes())
	return crypto.MustNewAddress(crypto.ParticipantPrefix, digest[len(digest)-crypto.AddressLength:])
}

// DefaultGenesis returns a single borrow token pool controlled by authority.
// The borrow token is also accepted as collateral so lenders can fund it.
func DefaultGenesis(authority crypto.Address) *Genesis {
	borrow := TokenID(defaultBorrowSymbol)
	return &Genesis{
		PoolAuthority:    authority,
		CustodyAccount:   CustodyAccountFor(authority),
		CollateralTokens: []crypto.Address{TokenID(defaultCollateralSymbol), borrow},
		BorrowTokens:     []crypto.Address{borrow},
		Wallets:          []Wallet{},
	}
}

// createDefault creates and saves a default genesis file.
func createDefault(path, passphrase string) (*Genesis, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, passphrase); err != nil {
		return nil, err
	}

	g := DefaultGenesis(key.PubKey().Address())
	g.PoolAuthorityKeystore = filepath.Base(keystorePath)
	if err := WriteGenesis(path, g); err != nil {
		return nil, err
	}
	g.PoolAuthorityKeystore = keystorePath
	return g, nil
}

// WriteGenesis persists g as TOML.
func WriteGenesis(path string, g *Genesis) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(g)
}

func defaultKeystorePath(genesisPath string) string {
	dir := filepath.Dir(genesisPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "pool-authority.keystore")
}
