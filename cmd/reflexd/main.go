package main

import (
	"context"
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

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"reflexstake/cmd/internal/secrets"
	"reflexstake/config"
	"reflexstake/core"
	"reflexstake/core/events"
	"reflexstake/core/genesis"
	"reflexstake/core/state"
	"reflexstake/crypto"
	"reflexstake/integrations/feeconverter"
	"reflexstake/integrations/webhooks"
	"reflexstake/journal"
	"reflexstake/native/yield"
	"reflexstake/observability/logging"
	telemetry "reflexstake/observability/otel"
	"reflexstake/rpc"
	"reflexstake/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	exportDir := flag.String("export", "", "Write stake and event exports to this directory and exit")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.SetupWithOptions("reflexd", cfg.Environment, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *exportDir); err != nil {
		logger.Error("reflexd exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, exportDir string) error {
	rt, err := cfg.Runtime()
	if err != nil {
		return err
	}

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "reflexd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	spec, err := genesis.LoadGenesisSpec(cfg.GenesisFile)
	if err != nil {
		return fmt.Errorf("genesis: %w", err)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	store := state.NewStore(db)

	feeds, err := buildPriceFeeds(cfg, rt, logger)
	if err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	defer feeds.Close()

	var emitters events.Multi
	var jrnl *journal.Journal
	if cfg.Journal.Driver != "" {
		jrnl, err = journal.Open(cfg.Journal.Driver, cfg.Journal.DSN, journal.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		defer jrnl.Close()
		emitters = append(emitters, jrnl)
	}
	if cfg.Webhook.Endpoint != "" {
		secret, err := secrets.NewSource("webhook signing secret", cfg.Webhook.SecretEnv).Get()
		if err != nil {
			return fmt.Errorf("webhook: %w", err)
		}
		dispatcher, err := webhooks.NewDispatcher(cfg.Webhook.Endpoint, []byte(secret),
			webhooks.WithTopics(cfg.Webhook.Topics...),
			webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts, 0, 0),
			webhooks.WithLogger(logger))
		if err != nil {
			return err
		}
		defer dispatcher.Close()
		emitters = append(emitters, dispatcher)
	}

	machineCfg := core.Config{
		AdapterTimeout: rt.AdapterTimeout,
		Logger:         logger,
		Clock:          clockwork.NewRealClock(),
		Emitter:        emitters,
		Store:          store,
	}
	if cfg.FeeConverter.Endpoint != "" {
		account, err := parseAccount(cfg.FeeConverter.Account)
		if err != nil {
			return fmt.Errorf("fee_converter: %w", err)
		}
		converter, err := feeconverter.New(cfg.FeeConverter.Endpoint, account,
			feeconverter.WithHTTPClient(&http.Client{Timeout: rt.AdapterTimeout}))
		if err != nil {
			return err
		}
		machineCfg.Converter = converter
	}

	machine, err := core.RestoreMachine(feeds.adapter, machineCfg)
	switch {
	case err == nil:
		logger.Info("restored machine from checkpoint")
	case errors.Is(err, state.ErrNoCheckpoint):
		machine, err = core.FromGenesis(spec, feeds.adapter, machineCfg)
		if err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
		logger.Info("initialised machine from genesis", slog.String("genesis", cfg.GenesisFile))
	default:
		return fmt.Errorf("restore: %w", err)
	}

	if cfg.Yield.Endpoint != "" {
		if err := attachStrategy(ctx, machine, spec.Custody(), cfg, rt); err != nil {
			return fmt.Errorf("yield: %w", err)
		}
	}

	if exportDir != "" {
		return writeExports(ctx, exportDir, machine, jrnl, logger)
	}

	jwtSecret, err := secrets.NewSource("API token signing secret", cfg.API.JWTSecretEnv).Get()
	switch {
	case errors.Is(err, secrets.ErrNotProvided):
		logger.Warn("API token secret not provided; authenticated methods are disabled",
			slog.String("env", cfg.API.JWTSecretEnv))
	case err != nil:
		return fmt.Errorf("api: %w", err)
	}
	server := rpc.NewServer(machine, jrnl, rpc.ServerConfig{
		Auth: rpc.AuthConfig{
			HMACSecret: jwtSecret,
			Issuer:     cfg.API.JWTIssuer,
		},
		RateLimitPerSec:   cfg.API.RateLimitPerSec,
		RateLimitBurst:    cfg.API.RateLimitBurst,
		ReadHeaderTimeout: rt.ReadHeaderTimeout,
		AllowedOrigins:    cfg.API.AllowedOrigins,
		Logger:            logger,
	})
	listener, err := net.Listen("tcp", cfg.API.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen api: %w", err)
	}
	serveErr := make(chan error, 2)
	go func() {
		serveErr <- server.Serve(listener)
	}()

	var metricsServer *http.Server
	if cfg.API.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.API.MetricsAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("metrics listening", slog.String("address", cfg.API.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("metrics: %w", err)
			}
		}()
	}

	ticker := clockwork.NewRealClock().NewTicker(rt.CheckpointInterval)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-serveErr:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				runErr = err
			}
			break loop
		case <-ticker.Chan():
			checkpoint(ctx, machine, logger)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown failed", slog.Any("error", err))
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	checkpoint(shutdownCtx, machine, logger)
	return runErr
}

func attachStrategy(ctx context.Context, machine *core.Machine, custody crypto.Address, cfg *config.Config, rt config.Runtime) error {
	opts := []yield.Option{
		yield.WithHTTPClient(&http.Client{Timeout: rt.YieldTimeout}),
		yield.WithRetryPolicy(cfg.Yield.MaxAttempts, rt.YieldMinBackoff, rt.YieldMaxBackoff),
	}
	if env := cfg.Yield.SigningSecretEnv; env != "" {
		if secret := os.Getenv(env); secret != "" {
			opts = append(opts, yield.WithSigningSecret([]byte(secret)))
		}
	}
	strategy, err := yield.NewHTTPStrategy(cfg.Yield.Endpoint, custody, opts...)
	if err != nil {
		return err
	}
	return machine.SetStrategy(ctx, machine.Authority(), strategy)
}

func checkpoint(ctx context.Context, machine *core.Machine, logger *slog.Logger) {
	seq, err := machine.Checkpoint(ctx)
	if err != nil {
		logger.Error("checkpoint failed", slog.Any("error", err))
		return
	}
	logger.Debug("checkpoint written", slog.Uint64("sequence", seq))
}

func parseAccount(raw string) (crypto.Address, error) {
	if name, ok := strings.CutPrefix(strings.TrimSpace(raw), "module:"); ok {
		return crypto.ModuleAddress(name), nil
	}
	return crypto.ParseAddress(raw)
}
