package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"riskcore/config"
	"riskcore/native/market"
	"riskcore/native/oracle"
	"riskcore/observability/logging"
	telemetry "riskcore/observability/otel"
	"riskcore/rpc"
	"riskcore/storage/boltstore"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "riskcore.yaml", "path to riskcored config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("RISKCORE_ENV"))
	logging.Setup("riskcored", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Telemetry.Endpoint != "" {
		otlpEndpoint = cfg.Telemetry.Endpoint
		insecure = cfg.Telemetry.Insecure
		if len(cfg.Telemetry.Headers) > 0 {
			otlpHeaders = cfg.Telemetry.Headers
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "riskcored",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	store, err := boltstore.Open(cfg.Store.Path, nil)
	if err != nil {
		log.Fatalf("open store %s: %v", cfg.Store.Path, err)
	}
	defer func() { _ = store.Close() }()

	router := oracle.NewRouter(slog.Default())
	for _, feed := range cfg.Oracle.Feeds {
		symbols := make(map[common.Address]string, len(feed.Symbols))
		for addr, sym := range feed.Symbols {
			if !common.IsHexAddress(addr) {
				log.Fatalf("feed %s: invalid asset address %q", feed.Name, addr)
			}
			symbols[common.HexToAddress(addr)] = sym
		}
		adaptor := oracle.NewHTTPAdaptor(nil, feed.Endpoint, feed.APIKey, feed.InUSD, cfg.Oracle.MaxAge, symbols)
		if err := router.ApproveAdaptor(feed.Name, adaptor); err != nil {
			log.Fatalf("approve adaptor %s: %v", feed.Name, err)
		}
	}

	mgr := market.NewMarketManager(store, router, slog.Default())
	if cfg.HoldPeriod > 0 {
		mgr.SetHoldPeriod(cfg.HoldPeriod)
	}

	if cfg.ParamsPath != "" {
		params, err := config.LoadParams(cfg.ParamsPath)
		if err != nil {
			log.Fatalf("load params: %v", err)
		}
		if err := router.SetDivergenceThresholds(params.Oracle.CautionDivergenceBps, params.Oracle.BadSourceDivergenceBps); err != nil {
			log.Fatalf("apply divergence thresholds: %v", err)
		}
		// every parameter entry is listed with a ledger-backed adapter;
		// balances arrive through market_syncAccount afterwards
		for _, asset := range params.Assets {
			if err := mgr.ListAsset(asset.LedgerToken(), asset.AssetConfig()); err != nil {
				log.Fatalf("list asset %s: %v", asset.Address, err)
			}
		}
	}

	handler := otelhttp.NewHandler(rpc.NewServer(mgr, router, cfg.Auth.APITokens, slog.Default()).Handler(), "riskcore.rpc")
	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("riskcored listening on %s", cfg.ListenAddress)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Println("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("forcing server stop: %v", err)
			_ = server.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve rpc: %v", err)
		}
	}
}
