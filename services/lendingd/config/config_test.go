package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"lendpool/storage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: " :6000 "
tls:
  allow_insecure: true
auth:
  admin:
    jwt_secret: "`+testSecret+`"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	dir := filepath.Dir(path)
	if cfg.ListenAddress != ":6000" {
		t.Fatalf("unexpected listen address: %q", cfg.ListenAddress)
	}
	if cfg.GenesisPath != filepath.Join(dir, "genesis.toml") {
		t.Fatalf("unexpected genesis path %q", cfg.GenesisPath)
	}
	if cfg.Storage.Backend != storage.BackendLevelDB || cfg.Storage.Dir != filepath.Join(dir, "data") {
		t.Fatalf("unexpected storage %+v", cfg.Storage)
	}
	if cfg.Auth.Signature.TimestampSkew != 2*time.Minute || cfg.Auth.Signature.NonceTTL != 10*time.Minute {
		t.Fatalf("unexpected signature defaults %+v", cfg.Auth.Signature)
	}
	if cfg.RateLimit.RequestsPerMinute != 120 || cfg.RateLimit.Burst != 20 {
		t.Fatalf("unexpected rate limit defaults %+v", cfg.RateLimit)
	}
	if cfg.Auth.Admin.Issuer != "lendpool" {
		t.Fatalf("expected default issuer, got %q", cfg.Auth.Admin.Issuer)
	}
}

func TestLoadConfigParsesDurationsAndBackends(t *testing.T) {
	path := writeConfig(t, `
storage:
  backend: BOLT
  dir: /var/lib/lendpool
journal:
  dsn: journal.db
tls:
  allow_insecure: true
auth:
  admin:
    jwt_secret: "`+testSecret+`"
  signature:
    timestamp_skew: 30s
    nonce_ttl: 5m
rate_limit:
  requests_per_minute: 30
  burst: 3
logging:
  level: debug
  file: logs/lendingd.log
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	dir := filepath.Dir(path)
	if cfg.Storage.Backend != storage.BackendBolt || cfg.Storage.Dir != "/var/lib/lendpool" {
		t.Fatalf("unexpected storage %+v", cfg.Storage)
	}
	if cfg.Journal.DSN != filepath.Join(dir, "journal.db") {
		t.Fatalf("expected journal path resolved, got %q", cfg.Journal.DSN)
	}
	if cfg.Auth.Signature.TimestampSkew != 30*time.Second || cfg.Auth.Signature.NonceTTL != 5*time.Minute {
		t.Fatalf("unexpected durations %+v", cfg.Auth.Signature)
	}
	if cfg.Logging.File != filepath.Join(dir, "logs", "lendingd.log") {
		t.Fatalf("unexpected log file %q", cfg.Logging.File)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv(EnvAdminSecret, testSecret+"-from-env")
	t.Setenv(EnvJournalDSN, "postgres://lend:secret@db:5432/lendpool")
	path := writeConfig(t, `
tls:
  allow_insecure: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Auth.Admin.JWTSecret != testSecret+"-from-env" {
		t.Fatalf("expected env secret")
	}
	if cfg.Journal.DSN != "postgres://lend:secret@db:5432/lendpool" {
		t.Fatalf("expected env dsn untouched, got %q", cfg.Journal.DSN)
	}
	sanitized := cfg.Sanitized()
	if sanitized.Auth.Admin.JWTSecret != "***" || sanitized.Journal.DSN != "***" {
		t.Fatalf("expected secrets masked: %+v", sanitized)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing admin secret": `
tls:
  allow_insecure: true
`,
		"short admin secret": `
tls:
  allow_insecure: true
auth:
  admin:
    jwt_secret: short
`,
		"tls key missing": `
tls:
  cert: server.crt
auth:
  admin:
    jwt_secret: "` + testSecret + `"
`,
		"tls required": `
auth:
  admin:
    jwt_secret: "` + testSecret + `"
`,
		"unknown backend": `
storage:
  backend: rocksdb
tls:
  allow_insecure: true
auth:
  admin:
    jwt_secret: "` + testSecret + `"
`,
		"nonce ttl below skew": `
tls:
  allow_insecure: true
auth:
  admin:
    jwt_secret: "` + testSecret + `"
  signature:
    timestamp_skew: 5m
    nonce_ttl: 1m
`,
		"sample ratio above one": `
tls:
  allow_insecure: true
auth:
  admin:
    jwt_secret: "` + testSecret + `"
telemetry:
  sample_ratio: 1.5
`,
		"unknown key": `
tls:
  allow_insecure: true
auth:
  admin:
    jwt_secret: "` + testSecret + `"
interest_rate: 5
`,
	}
	for name, contents := range cases {
		path := writeConfig(t, contents)
		if _, err := Load(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
