package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lendpool/config"
	"lendpool/core"
	"lendpool/core/events"
	"lendpool/internal/passphrase"
	nativecommon "lendpool/native/common"
	"lendpool/native/lending"
	"lendpool/observability"
	"lendpool/observability/logging"
	telemetry "lendpool/observability/otel"
	daemoncfg "lendpool/services/lendingd/config"
	"lendpool/services/lendingd/journal"
	"lendpool/services/lendingd/server"
	"lendpool/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		slog.Error("lendingd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := daemoncfg.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup(logging.Options{
		Service:    "lendingd",
		Env:        cfg.Environment,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	logger.Info("configuration loaded", slog.Any("config", cfg.Sanitized()))

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "lendingd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	db, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Dir)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer db.Close()

	// The passphrase only protects the authority keystore written alongside a
	// freshly generated genesis.
	pass := ""
	if _, statErr := os.Stat(cfg.GenesisPath); os.IsNotExist(statErr) {
		pass, err = passphrase.NewSource(daemoncfg.EnvKeystorePassphrase, "pool authority keystore").Get()
		if err != nil {
			return err
		}
	}
	genesis, err := config.LoadGenesis(cfg.GenesisPath, pass)
	if err != nil {
		return fmt.Errorf("load genesis: %w", err)
	}

	pauses := nativecommon.NewPauseSwitch()
	pauses.Set(lending.ModuleName, cfg.Paused || genesis.Pauses.Lending)

	hub := server.NewHub()
	host, err := core.NewHost(core.HostConfig{
		Store:         core.NewStateStore(db),
		Emitter:       events.Fanout{hub, observability.Events()},
		Pauses:        pauses,
		Observer:      observability.Lending(),
		Logger:        logger,
		PoolAuthority: genesis.PoolAuthority,
	})
	if err != nil {
		return fmt.Errorf("load host: %w", err)
	}
	receipt, applied, err := host.Bootstrap(context.Background(), genesis)
	if err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	if applied {
		logger.Info("genesis applied",
			slog.String("receipt", receipt.ID),
			slog.String("state", receipt.StateHash),
			slog.String("custody", genesis.CustodyAccount.String()))
	}

	srvCfg := server.Config{
		Host: host,
		Hub:  hub,
		Signatures: server.NewSignatureAuthenticator(
			cfg.Auth.Signature.TimestampSkew,
			cfg.Auth.Signature.NonceTTL,
			cfg.Auth.Signature.NonceCapacity,
			time.Now,
		),
		Admin: server.NewAdminAuthenticator(
			cfg.Auth.Admin.JWTSecret,
			cfg.Auth.Admin.Issuer,
			cfg.Auth.Admin.Audience,
			cfg.Auth.Admin.ClockSkew,
		),
		RateLimiter: server.NewRateLimiter(server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		}),
		Metrics:        observability.Lending(),
		MetricsHandler: promhttp.Handler(),
		Pauses:         pauses,
		Logger:         logger,
	}
	if cfg.Journal.DSN != "" {
		j, err := journal.Open(cfg.Journal.DSN)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		srvCfg.Journal = j
	}
	srv, err := server.New(srvCfg)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}
	tlsCfg, err := loadServerTLS(cfg.TLS)
	if err != nil {
		return fmt.Errorf("configure tls: %w", err)
	}
	if tlsCfg == nil {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(cfg.Environment, "dev") && !loopback {
			listener.Close()
			return fmt.Errorf("plaintext lendingd mode is restricted to loopback listeners or dev environment")
		}
	} else {
		listener = tls.NewListener(listener, tlsCfg)
	}

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening",
			slog.String("addr", cfg.ListenAddress),
			slog.Bool("tls", tlsCfg != nil),
			slog.Bool("mtls", cfg.TLS.MTLSEnabled()))
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	}

	srv.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forcing server stop", slog.Any("error", err))
		_ = httpServer.Close()
	}
	return nil
}

func loadServerTLS(cfg daemoncfg.TLSConfig) (*tls.Config, error) {
	if cfg.CertPath == "" || cfg.KeyPath == "" {
		if cfg.AllowInsecure {
			return nil, nil
		}
		return nil, fmt.Errorf("tls credentials are required")
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load tls keypair: %w", err)
	}
	tlsCfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	if cfg.ClientCAPath != "" {
		pem, err := os.ReadFile(cfg.ClientCAPath)
		if err != nil {
			return nil, fmt.Errorf("read client ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse client ca: invalid pem data")
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	} else {
		tlsCfg.ClientAuth = tls.NoClientCert
	}
	return tlsCfg, nil
}
