// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command chatwoot-telegram-bridge relays Chatwoot conversations into a
// Telegram control chat and carries operator replies and status changes
// back to Chatwoot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/util/exzerolog"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/aiku/chatwoot-telegram-bridge/pkg/chatwoot"
	"github.com/aiku/chatwoot-telegram-bridge/pkg/connector"
	"github.com/aiku/chatwoot-telegram-bridge/pkg/store"
	"github.com/aiku/chatwoot-telegram-bridge/pkg/telegram"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const shutdownTimeout = 30 * time.Second

func main() {
	var (
		configPath   string
		envPath      string
		writeExample bool
		noUpdate     bool
		printVersion bool
	)
	flag.StringVar(&configPath, "c", "config.yaml", "The path to your config file.")
	flag.StringVar(&envPath, "env", ".env", "Optional dotenv file with TELEGRAM_TOKEN and CHATWOOT_ACCESS_TOKEN.")
	flag.BoolVar(&writeExample, "e", false, "Save the example config to the config path and quit.")
	flag.BoolVar(&noUpdate, "n", false, "Don't save updated config to disk.")
	flag.BoolVar(&printVersion, "version", false, "View bridge version and quit.")
	flag.Parse()

	if printVersion {
		fmt.Printf("chatwoot-telegram-bridge %s (%s, built %s)\n", Tag, Commit, BuildTime)
		return
	}
	if writeExample {
		if err := os.WriteFile(configPath, []byte(connector.ExampleConfig), 0600); err != nil {
			fmt.Fprintln(os.Stderr, "Failed to write example config:", err)
			os.Exit(10)
		}
		return
	}
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "Failed to load env file:", err)
		os.Exit(10)
	}

	cfg, err := loadConfig(configPath, !noUpdate)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(11)
	}
	log, err := cfg.Logging.Compile()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to initialize logger:", err)
		os.Exit(12)
	}
	exzerolog.SetupDefaults(log)

	if err := run(*log, cfg); err != nil {
		log.Fatal().Err(err).Msg("Bridge stopped with error")
	}
	log.Info().Msg("Bridge stopped")
}

func loadConfig(path string, save bool) (*connector.Config, error) {
	data, _, err := up.Do(path, save, connector.Upgrader())
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	var cfg connector.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func run(log zerolog.Logger, cfg *connector.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx)

	log.Info().
		Str("version", Tag).
		Str("commit", Commit).
		Bool("forum_mode", cfg.Bridge.ForumMode).
		Str("database", cfg.Database.Type).
		Msg("Starting bridge")

	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}()

	desk := chatwoot.NewClient(cfg.Chatwoot.BaseURL, cfg.Chatwoot.AccountID, cfg.Chatwoot.AccessToken)
	tg, err := telegram.New(cfg.Telegram, log)
	if err != nil {
		return err
	}
	conn := connector.New(cfg, tg, desk, st, log.With().Str("component", "connector").Logger())

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := conn.RegisterMetrics(reg); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Webhook.Path, conn.HandleWebhook)
	mux.HandleFunc("/healthz", conn.HandleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              cfg.Webhook.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("listen", cfg.Webhook.Listen).Str("path", cfg.Webhook.Path).Msg("Webhook server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("webhook server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		tg.Start(gctx, conn)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop webhook server: %w", err))
		}
		if err := conn.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}
