// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

// Vault0-proxy is the secretless proxy daemon. It unlocks the vault at
// startup, loads the policy document, and serves the loopback proxy
// the agent runtime is configured with.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/vault0-foundation/vault0/evidence"
	"github.com/vault0-foundation/vault0/lib/secret"
	"github.com/vault0-foundation/vault0/mcpguard"
	"github.com/vault0-foundation/vault0/payment"
	"github.com/vault0-foundation/vault0/policy"
	"github.com/vault0-foundation/vault0/proxy"
	"github.com/vault0-foundation/vault0/vault"
	"github.com/vault0-foundation/vault0/wallet"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("vault0-proxy", pflag.ContinueOnError)
	configPath := flags.String("config", "", "path to config file (required)")
	passphraseFile := flags.String("passphrase-file", "", "read the vault passphrase from this file instead of prompting")
	logLevel := flags.String("log-level", "info", "log level: debug, info, warn, error")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}
	if *configPath == "" {
		return fmt.Errorf("--config is required")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q", *logLevel)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	config, err := proxy.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	passphrase, err := readPassphrase(*passphraseFile)
	if err != nil {
		return err
	}
	defer passphrase.Close()

	session, err := vault.Unlock(config.VaultPath, passphrase, logger)
	if err != nil {
		return fmt.Errorf("unlocking vault: %w", err)
	}
	defer session.Lock()

	doc := policy.DefaultHardened()
	if config.PolicyPath != "" {
		doc, err = policy.Load(config.PolicyPath)
		if err != nil {
			return err
		}
	}
	engine, err := policy.NewEngine(doc, logger)
	if err != nil {
		return err
	}

	ledger, closeLedger, err := openLedger(config, logger)
	if err != nil {
		return err
	}
	defer closeLedger()

	var settler *payment.Settler
	if config.WalletPath != "" {
		signing, err := wallet.LoadSealed(session, config.WalletPath)
		if err != nil {
			return fmt.Errorf("loading wallet: %w", err)
		}
		defer signing.Close()
		settler = payment.NewSettler(signing, payment.NewAccount(), engine, payment.NewQueue(nil), logger)
		logger.Info("wallet loaded", "address", signing.Address())
	}

	handler := proxy.NewHandler(proxy.HandlerConfig{
		Session:      session,
		Engine:       engine,
		Guard:        mcpguard.New(engine, logger),
		Ledger:       ledger,
		Settler:      settler,
		Logger:       logger,
		MaxBodyBytes: config.MaxBodyBytes,
	})
	server := proxy.NewServer(config.Listen, handler, logger)
	if err := server.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// readPassphrase prompts on the terminal, or reads the given file when
// running non-interactively (systemd credential files, CI).
func readPassphrase(path string) (*secret.Buffer, error) {
	if path != "" {
		return secret.ReadFromPath(path)
	}
	return secret.ReadPassphrase("vault passphrase: ")
}

// openLedger returns a durable ledger when evidence_path is set, and
// an in-memory one otherwise.
func openLedger(config *proxy.Config, logger *slog.Logger) (*evidence.Ledger, func(), error) {
	if config.EvidencePath == "" {
		logger.Warn("no evidence_path configured, ledger is in-memory only")
		return evidence.NewLedger(evidence.WithLogger(logger)), func() {}, nil
	}

	store, err := evidence.OpenStore(config.EvidencePath, logger)
	if err != nil {
		return nil, nil, err
	}
	ledger, err := evidence.Open(context.Background(), store, evidence.WithLogger(logger))
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return ledger, func() { store.Close() }, nil
}
