package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"fixedswap/native/swap"
	"fixedswap/observability"
	"fixedswap/observability/logging"
	telemetry "fixedswap/observability/otel"
	"fixedswap/services/swapd/config"
	"fixedswap/services/swapd/events"
	"fixedswap/services/swapd/identity"
	"fixedswap/services/swapd/idempotency"
	"fixedswap/services/swapd/journal"
	"fixedswap/services/swapd/server"
	"fixedswap/services/swapd/storage"
)

func main() {
	var (
		cfgPath                       string
		allowInsecureBearerWithoutTLS bool
	)
	flag.StringVar(&cfgPath, "config", "services/swapd/config.yaml", "path to swapd configuration file (.yaml or .toml)")
	flag.BoolVar(&allowInsecureBearerWithoutTLS, "allow-insecure-bearer-without-tls", false, "allow operator bearer authentication without TLS (dev only)")
	flag.Parse()

	var loadOptions []config.Option
	if allowInsecureBearerWithoutTLS {
		loadOptions = append(loadOptions, config.WithAllowInsecureBearerWithoutTLS())
	}
	cfg, err := config.Load(cfgPath, loadOptions...)
	if err != nil {
		log.Fatalf("swapd: load config: %v", err)
	}

	env := strings.TrimSpace(cfg.Environment)
	if fromEnv := strings.TrimSpace(os.Getenv("FIXEDSWAP_ENV")); fromEnv != "" {
		env = fromEnv
	}
	logging.Setup("swapd", env, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if allowInsecureBearerWithoutTLS {
		if env != "dev" {
			log.Fatalf("swapd: --allow-insecure-bearer-without-tls requires FIXEDSWAP_ENV=dev")
		}
		slog.Warn("allowing operator bearer token without TLS (development override)")
	}

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv("swapd", env))
	if err != nil {
		log.Fatalf("swapd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	dataFiles := []string{cfg.DatabasePath, cfg.Idempotency.Path}
	if cfg.Journal.Driver == journal.DriverSQLite {
		dataFiles = append(dataFiles, cfg.Journal.DSN)
	}
	for _, path := range dataFiles {
		if err := ensureParentDir(path); err != nil {
			log.Fatalf("swapd: %v", err)
		}
	}

	dsn, err := storage.FileDSN(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("swapd: resolve storage DSN: %v", err)
	}
	ledger, err := storage.Open(dsn)
	if err != nil {
		log.Fatalf("swapd: open storage: %v", err)
	}
	defer ledger.Close()

	engine, err := swap.NewEngine(ledger)
	if err != nil {
		log.Fatalf("swapd: engine: %v", err)
	}
	engine.WithMetrics(observability.Swap())
	if err := engine.SetDefaultExpiration(cfg.Engine.DefaultExpiration.Duration); err != nil {
		log.Fatalf("swapd: engine default expiration: %v", err)
	}

	swapJournal, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN)
	if err != nil {
		log.Fatalf("swapd: open journal: %v", err)
	}
	defer swapJournal.Close()

	hub := events.NewHub()
	engine.AddObserver(swapJournal)
	engine.AddObserver(hub)
	engine.AddObserver(observability.Events())

	verifier, err := identity.NewVerifier(identity.Config{
		Secret:   []byte(cfg.Identity.HMACSecret),
		Issuer:   cfg.Identity.Issuer,
		Audience: cfg.Identity.Audience,
		Leeway:   cfg.Identity.Leeway.Duration,
	})
	if err != nil {
		log.Fatalf("swapd: identity: %v", err)
	}

	var operators *server.Authenticator
	if cfg.Admin.Enabled() {
		operators, err = server.NewAuthenticator(server.AuthConfig{
			BearerToken:      cfg.Admin.BearerToken,
			AllowMTLS:        cfg.Admin.MTLS.Enabled,
			OperatorSubjects: cfg.Admin.MTLS.OperatorSubjects,
		})
		if err != nil {
			log.Fatalf("swapd: configure operator auth: %v", err)
		}
	} else {
		slog.Warn("operator endpoints disabled: no bearer token or mTLS configured")
	}

	var replayer *idempotency.Replayer
	if !cfg.Idempotency.Disabled {
		idemStore, err := idempotency.Open(cfg.Idempotency.Path, nil)
		if err != nil {
			log.Fatalf("swapd: open idempotency store: %v", err)
		}
		defer idemStore.Close()
		replayer = idempotency.NewReplayer(idemStore, cfg.Idempotency.TTL.Duration, server.CallerScope)
	}

	tlsConfig, err := buildTLSConfig(cfg.Admin)
	if err != nil {
		log.Fatalf("swapd: %v", err)
	}

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		TLS: server.TLSConfig{
			Disabled: !cfg.Admin.TLSEnabled(),
			CertFile: cfg.Admin.TLS.CertPath,
			KeyFile:  cfg.Admin.TLS.KeyPath,
			Config:   tlsConfig,
		},
		RateLimit: server.RateLimitConfig{
			Disabled:          cfg.RateLimit.Disabled,
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		},
	}, server.Dependencies{
		Engine:      engine,
		Ledger:      ledger,
		Identity:    verifier,
		Operators:   operators,
		Journal:     swapJournal,
		Events:      hub,
		Idempotency: replayer,
	})
	if err != nil {
		log.Fatalf("swapd: server: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("swapd http server error", "error", err)
		os.Exit(1)
	}
}

func ensureParentDir(path string) error {
	path = strings.TrimSpace(path)
	if path == "" || path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create data directory for %s: %w", path, err)
	}
	return nil
}

func buildTLSConfig(admin config.AdminConfig) (*tls.Config, error) {
	if !admin.TLSEnabled() {
		return nil, nil
	}
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if !admin.MTLS.Enabled {
		return tlsConfig, nil
	}
	caPath := strings.TrimSpace(admin.MTLS.ClientCAPath)
	caData, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("load operator client CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caData) {
		return nil, fmt.Errorf("parse operator client CA: %s", caPath)
	}
	tlsConfig.ClientCAs = pool
	// Client certificates are optional at the handshake; /ops enforces them.
	tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	return tlsConfig, nil
}
