package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"lendpool/storage"
)

const (
	defaultListen          = ":9444"
	defaultGenesis         = "genesis.toml"
	defaultDataDir         = "data"
	defaultRatePerMinute   = 120
	defaultRateBurst       = 20
	defaultTimestampSkew   = 2 * time.Minute
	defaultNonceTTL        = 10 * time.Minute
	defaultNonceCapacity   = 4096
	defaultAdminIssuer     = "lendpool"
	defaultShutdownTimeout = 5 * time.Second

	// EnvAdminSecret overrides auth.admin.jwt_secret.
	EnvAdminSecret = "LENDINGD_ADMIN_JWT_SECRET"
	// EnvKeystorePassphrase protects the authority keystore written next to a
	// freshly created genesis.
	EnvKeystorePassphrase = "LENDINGD_KEYSTORE_PASSPHRASE"
	// EnvJournalDSN overrides journal.dsn so credentials stay out of files.
	EnvJournalDSN = "LENDINGD_JOURNAL_DSN"
)

// Config captures the runtime settings for the lending pool daemon.
type Config struct {
	ListenAddress   string          `yaml:"listen"`
	Environment     string          `yaml:"env"`
	GenesisPath     string          `yaml:"genesis"`
	Paused          bool            `yaml:"paused"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	Storage         StorageConfig   `yaml:"storage"`
	Journal         JournalConfig   `yaml:"journal"`
	TLS             TLSConfig       `yaml:"tls"`
	Auth            AuthConfig      `yaml:"auth"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	Telemetry       TelemetryConfig `yaml:"telemetry"`
	Logging         LoggingConfig   `yaml:"logging"`
}

// StorageConfig selects the state backend.
type StorageConfig struct {
	Backend storage.Backend `yaml:"backend"`
	Dir     string          `yaml:"dir"`
}

// JournalConfig configures the receipt journal. An empty DSN disables it.
type JournalConfig struct {
	DSN string `yaml:"dsn"`
}

// TLSConfig describes the TLS material for the HTTP server.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	ClientCAPath  string `yaml:"client_ca"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig configures participant signatures and the admin token.
type AuthConfig struct {
	Admin     AdminAuthConfig     `yaml:"admin"`
	Signature SignatureAuthConfig `yaml:"signature"`
}

// AdminAuthConfig validates HS256 bearer tokens on admin routes.
type AdminAuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	Audience  string        `yaml:"audience"`
	ClockSkew time.Duration `yaml:"clock_skew"`
}

// SignatureAuthConfig bounds replay protection for signed calls.
type SignatureAuthConfig struct {
	TimestampSkew time.Duration `yaml:"timestamp_skew"`
	NonceTTL      time.Duration `yaml:"nonce_ttl"`
	NonceCapacity int           `yaml:"nonce_capacity"`
}

// RateLimitConfig caps calls per participant.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// TelemetryConfig wires the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string            `yaml:"endpoint"`
	Insecure bool              `yaml:"insecure"`
	Headers  map[string]string `yaml:"headers"`
	Metrics  bool              `yaml:"metrics"`
	Traces   bool              `yaml:"traces"`
	// SampleRatio is the fraction of root spans kept; 0 keeps all.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// LoggingConfig controls level and optional rotating file output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Load reads the YAML configuration from disk, applies environment overrides
// and validates the result. Relative paths resolve against the config file.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyEnv()
	cfg.normalize(filepath.Dir(path))
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	if secret := strings.TrimSpace(os.Getenv(EnvAdminSecret)); secret != "" {
		cfg.Auth.Admin.JWTSecret = secret
	}
	if dsn := strings.TrimSpace(os.Getenv(EnvJournalDSN)); dsn != "" {
		cfg.Journal.DSN = dsn
	}
}

func (cfg *Config) normalize(baseDir string) {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	cfg.GenesisPath = resolve(baseDir, strings.TrimSpace(cfg.GenesisPath), defaultGenesis)

	cfg.Storage.Backend = storage.Backend(strings.ToLower(strings.TrimSpace(string(cfg.Storage.Backend))))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = storage.BackendLevelDB
	}
	if cfg.Storage.Backend != storage.BackendMemory {
		cfg.Storage.Dir = resolve(baseDir, strings.TrimSpace(cfg.Storage.Dir), defaultDataDir)
	}
	cfg.Journal.DSN = strings.TrimSpace(cfg.Journal.DSN)
	if cfg.Journal.DSN != "" && !strings.Contains(cfg.Journal.DSN, "://") && !strings.HasPrefix(cfg.Journal.DSN, "file:") && cfg.Journal.DSN != ":memory:" {
		cfg.Journal.DSN = resolve(baseDir, cfg.Journal.DSN, "")
	}

	cfg.TLS.normalize()
	cfg.Auth.normalize()

	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = defaultRatePerMinute
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultRateBurst
	}
	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)
	cfg.Logging.Level = strings.TrimSpace(cfg.Logging.Level)
	cfg.Logging.File = strings.TrimSpace(cfg.Logging.File)
	if cfg.Logging.File != "" {
		cfg.Logging.File = resolve(baseDir, cfg.Logging.File, "")
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	switch cfg.Storage.Backend {
	case storage.BackendMemory, storage.BackendLevelDB, storage.BackendBolt:
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if err := cfg.Auth.validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if cfg.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit: requests_per_minute must be non-negative")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be between 0 and 1")
	}
	return nil
}

func (cfg *TLSConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.CertPath = strings.TrimSpace(cfg.CertPath)
	cfg.KeyPath = strings.TrimSpace(cfg.KeyPath)
	cfg.ClientCAPath = strings.TrimSpace(cfg.ClientCAPath)
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	if cfg.ClientCAPath != "" && !hasCert {
		return fmt.Errorf("client_ca requires a server certificate and key")
	}
	return nil
}

// MTLSEnabled reports whether mutual TLS verification is configured.
func (cfg TLSConfig) MTLSEnabled() bool {
	return strings.TrimSpace(cfg.ClientCAPath) != ""
}

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.Admin.JWTSecret = strings.TrimSpace(cfg.Admin.JWTSecret)
	cfg.Admin.Issuer = strings.TrimSpace(cfg.Admin.Issuer)
	if cfg.Admin.Issuer == "" {
		cfg.Admin.Issuer = defaultAdminIssuer
	}
	cfg.Admin.Audience = strings.TrimSpace(cfg.Admin.Audience)
	if cfg.Admin.ClockSkew <= 0 {
		cfg.Admin.ClockSkew = defaultTimestampSkew
	}
	if cfg.Signature.TimestampSkew <= 0 {
		cfg.Signature.TimestampSkew = defaultTimestampSkew
	}
	if cfg.Signature.NonceTTL <= 0 {
		cfg.Signature.NonceTTL = defaultNonceTTL
	}
	if cfg.Signature.NonceCapacity <= 0 {
		cfg.Signature.NonceCapacity = defaultNonceCapacity
	}
}

func (cfg AuthConfig) validate() error {
	if cfg.Admin.JWTSecret == "" {
		return fmt.Errorf("admin.jwt_secret (or %s) must be configured", EnvAdminSecret)
	}
	if len(cfg.Admin.JWTSecret) < 32 {
		return fmt.Errorf("admin.jwt_secret must be at least 32 bytes")
	}
	if cfg.Signature.NonceTTL < cfg.Signature.TimestampSkew {
		return fmt.Errorf("signature.nonce_ttl must cover signature.timestamp_skew")
	}
	return nil
}

// Sanitized returns a copy of the Config with secrets masked for logging.
func (cfg Config) Sanitized() Config {
	clone := cfg
	if clone.Auth.Admin.JWTSecret != "" {
		clone.Auth.Admin.JWTSecret = "***"
	}
	if strings.Contains(clone.Journal.DSN, "@") {
		clone.Journal.DSN = "***"
	}
	return clone
}

func resolve(baseDir, path, fallback string) string {
	if path == "" {
		path = fallback
	}
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
