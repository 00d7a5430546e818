package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"batchpay/escrow"
	"batchpay/ledger"
	"batchpay/observability/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		logging.Setup("escrowd", "", logging.ParseLevel("info")).Error("load config", "err", err)
		os.Exit(1)
	}
	logger := logging.Setup("escrowd", cfg.Environment, logging.ParseLevel(cfg.LogLevel))

	signer, err := ledger.NewKeySigner(cfg.SignerKey)
	if err != nil {
		logger.Error("load signer", "err", err)
		os.Exit(1)
	}
	ledgerClient, err := ledger.NewClient(cfg.LedgerURL, signer, ledger.WithAuthToken(cfg.LedgerToken))
	if err != nil {
		logger.Error("construct ledger client", "err", err)
		os.Exit(1)
	}
	client, err := escrow.NewClient(ledgerClient, ledgerClient.Address())
	if err != nil {
		logger.Error("construct escrow client", "err", err)
		os.Exit(1)
	}

	server := NewServer(client, logger, NewMetrics(), cfg.AuthToken, cfg.RequestTimeout)
	srv := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: server,
	}

	go func() {
		logger.Info("escrow daemon listening", "addr", cfg.ListenAddress, "identity", client.Caller())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "err", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down escrow daemon")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}
