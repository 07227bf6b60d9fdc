// Command cashflow402 runs the CashFlow402 payment gateway: it wires
// the Chain Adapter, persisted stores, the Covenant/Genesis/Settlement
// layers, the Router402 gates, and the merchant/subscription/webhook
// HTTP surface into one process and serves it over HTTP.
//
// Grounded on other_examples/cryptopossum-fantom-api-graphql's
// setupSignals (signal.Notify on SIGINT/SIGTERM, a goroutine driving
// graceful shutdown) adapted to net/http's Server.Shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gcash/bchutil"

	"github.com/cashflow402/gateway/internal/api"
	bchutilpkg "github.com/cashflow402/gateway/internal/bchutil"
	"github.com/cashflow402/gateway/internal/config"
	"github.com/cashflow402/gateway/internal/electrum"
	"github.com/cashflow402/gateway/internal/gateway"
	"github.com/cashflow402/gateway/internal/hooks"
	"github.com/cashflow402/gateway/internal/logging"
	"github.com/cashflow402/gateway/internal/merchant"
	"github.com/cashflow402/gateway/internal/settlement"
	"github.com/cashflow402/gateway/internal/store"
	"github.com/cashflow402/gateway/internal/token"
	"github.com/cashflow402/gateway/internal/verifier"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(logging.Options{Dev: cfg.IsDev(), Level: "info"})

	dataDir := os.Getenv("CASHFLOW_DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}

	plans, err := store.NewPlanStore(filepath.Join(dataDir, "plans.json"))
	if err != nil {
		return fmt.Errorf("open plan store: %w", err)
	}
	subs, err := store.NewSubscriptionStore(filepath.Join(dataDir, "subscriptions.json"))
	if err != nil {
		return fmt.Errorf("open subscription store: %w", err)
	}
	usage, err := store.NewUsageStore(filepath.Join(dataDir, "usage.json"))
	if err != nil {
		return fmt.Errorf("open usage store: %w", err)
	}
	nonces := store.NewNonceStore()

	chain := electrum.New(electrum.Config{
		Host:     cfg.ElectrumHost,
		Port:     cfg.ElectrumPort,
		Protocol: cfg.ElectrumProtocol,
		Timeout:  30 * time.Second,
	}, log)
	defer chain.Close()

	merchantDecoded, err := bchutil.DecodeWIF(cfg.MerchantWIF)
	if err != nil {
		return fmt.Errorf("decode merchant WIF: %w", err)
	}
	merchantPriv := merchantDecoded.PrivKey
	defer merchantPriv.Zero()

	merchantPKH, err := bchutilpkg.AddressToPKH(cfg.MerchantAddress, cfg.BCHNetwork)
	if err != nil {
		return fmt.Errorf("decode merchant address: %w", err)
	}

	v := verifier.New(chain, cfg.BCHNetwork)
	signer := token.New(cfg.JWTSecret)
	orch := settlement.New(subs, usage, chain, cfg.BCHNetwork, merchantPKH, merchantPriv)
	eventHooks := hooks.New(subs, chain, cfg.BCHNetwork, log)

	percallGate := gateway.NewPerCallGate(signer, nonces, v, cfg.MerchantAddress, cfg.DefaultPerCallRateSats, cfg.JWTExpiryPerCall)
	subscriptionGate := gateway.NewSubscriptionGate(subs, usage, plans, signer, orch, cfg.DefaultPerCallRateSats, cfg.JITThresholdSats, log)

	merchantSvc := merchant.New(plans, subs, usage, chain, orch, eventHooks, merchant.Defaults{
		MerchantAddress: cfg.MerchantAddress,
		MerchantPKH:     merchantPKH,
		Network:         cfg.BCHNetwork,
		IntervalBlocks:  cfg.DefaultIntervalBlocks,
		AuthorizedSats:  cfg.DefaultAuthorizedSats,
		DepositSats:     cfg.DefaultDepositSats,
	}, log)

	apiSvc := api.New(subs, usage, signer, percallGate, v, chain, orch, orch, eventHooks, api.Config{
		Network:            cfg.BCHNetwork,
		SubscriptionExpiry: cfg.JWTExpirySubscription,
		WebhookSecret:      cfg.WebhookSecret,
	}, log)

	router := api.Router(merchantSvc, apiSvc)

	// Router402 protects the merchant's own business API. This process
	// has none built in, so the demo handler below stands in for it;
	// a real deployment wires SubscriptionGate.Middleware/
	// PerCallGate.Middleware around its actual upstream handlers the
	// same way.
	router.With(subscriptionGate.Middleware).Get("/api/subscriber-only", demoBusinessHandler)
	router.With(percallGate.Middleware).Get("/api/pay-per-call", demoBusinessHandler)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("cashflow402 listening", "addr", srv.Addr, "network", cfg.BCHNetwork)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return err
	case <-sig:
		log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

// demoBusinessHandler stands in for a merchant's own protected
// endpoint; gateway.PerCallClaimsFromContext/gateway.SubscriptionFromContext
// would read the request's admitted identity here in a real handler.
func demoBusinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}`))
}
