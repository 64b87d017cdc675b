package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/pixelponies/pvp/internal/chain"
	"github.com/pixelponies/pvp/internal/domain"
	"github.com/pixelponies/pvp/internal/draft"
	"github.com/pixelponies/pvp/internal/guard"
	"github.com/pixelponies/pvp/internal/handler"
	"github.com/pixelponies/pvp/internal/infra"
	"github.com/pixelponies/pvp/internal/lifecycle"
	"github.com/pixelponies/pvp/internal/outcome"
	"github.com/pixelponies/pvp/internal/prefs"
	"github.com/pixelponies/pvp/internal/projection"
	"github.com/pixelponies/pvp/internal/service"
	"github.com/pixelponies/pvp/internal/tracker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("daemon failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	// Chain connectivity. The WS endpoint is optional; without it the
	// lifecycle controller relies on polling alone.
	rpcURL := cfg.RPCURL
	if cfg.WSURL != "" {
		rpcURL = cfg.WSURL
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return fmt.Errorf("dial chain endpoint: %w", err)
	}
	defer client.Close()
	logger.Info("connected to chain endpoint", "url", rpcURL, "chain_id", cfg.ChainID)

	wallet, err := chain.NewKeyWallet(cfg.PrivateKey)
	if err != nil {
		return fmt.Errorf("load signing key: %w", err)
	}
	logger.Info("wallet loaded", "address", wallet.Address())

	facade := chain.New(client, wallet, cfg.GameContractAddress(), cfg.ChainIDBig(), logger)

	pf, err := prefs.Open(cfg.PrefsPath)
	if err != nil {
		return fmt.Errorf("open preferences: %w", err)
	}
	defer pf.Close()

	// Core components.
	views := projection.NewViewCache()
	buffer := draft.NewBuffer()
	inflight := guard.NewInflight()
	hub := infra.NewWSHub(logger)

	tr := tracker.New(inflight, tracker.Config{
		SettleAttempts: cfg.SettleAttempts,
		SettleInterval: cfg.SettleInterval(),
	}, logger)
	tr.OnChange(func(tx domain.TrackedTransaction) {
		hub.PublishEvent(domain.NewTxStateEvent(tx))
	})

	// The draft clock length is a contract constant; one read covers the
	// daemon's lifetime. Without it views carry no draft countdown.
	var draftWindow time.Duration
	if secs, err := facade.TotalGameTime(ctx); err != nil {
		logger.Warn("reading draft window failed, draft clock disabled", "error", err)
	} else {
		draftWindow = time.Duration(secs) * time.Second
	}

	controller := lifecycle.New(facade, tr, views, buffer, hub.PublishEvent, lifecycle.Config{
		PollInterval:      cfg.PollInterval(),
		DraftPollInterval: cfg.DraftPollInterval(),
		LobbyWindow:       cfg.LobbyWindow(),
		DraftWindow:       draftWindow,
		AutoClaim:         cfg.AutoClaim,
		ReceiptAttempts:   cfg.ReceiptAttempts,
		ReceiptInterval:   cfg.ReceiptInterval(),
	}, logger)
	go controller.Run(ctx)

	svcCfg := service.Config{
		ReceiptAttempts: cfg.ReceiptAttempts,
		ReceiptInterval: cfg.ReceiptInterval(),
	}
	matches := service.NewMatches(facade, tr, pf, svcCfg, logger)
	draftSvc := draft.NewService(facade, tr, views, buffer, pf, logger)
	outcomes := outcome.NewService(facade, views, logger)

	// Pick up matches the wallet already participates in.
	if ids, err := facade.UserMatches(ctx, wallet.Address()); err != nil {
		logger.Warn("initial match discovery failed", "error", err)
	} else {
		for _, id := range ids {
			controller.Follow(ctx, id)
		}
		logger.Info("following existing matches", "count", len(ids))
	}

	var defaultToken common.Address
	if cfg.DefaultBetToken != "" {
		defaultToken = common.HexToAddress(cfg.DefaultBetToken)
	}

	h := handler.New(handler.Deps{
		Matches:      matches,
		Draft:        draftSvc,
		Controller:   controller,
		Outcomes:     outcomes,
		Views:        views,
		Tracker:      tr,
		Prefs:        pf,
		Hub:          hub,
		Logger:       logger,
		BaseCtx:      ctx,
		Wallet:       wallet.Address(),
		DefaultToken: defaultToken,
		CORSOrigin:   cfg.CORSAllowedOrigins,
	})

	addr := fmt.Sprintf(":%d", cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Info("daemon stopped gracefully")
	return nil
}
