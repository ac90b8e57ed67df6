package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"lendcore/config"
	"lendcore/fees"
	"lendcore/observability/logging"
	telemetry "lendcore/observability/otel"
	"lendcore/oracle"
	"lendcore/risk"
	"lendcore/vault"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "riskd.toml", "path to riskd config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LENDCORE_ENV"))
	logger := logging.Setup("riskd", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "riskd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     otlpEndpoint != "",
		Traces:      otlpEndpoint != "",
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	roles := risk.NewRoleSet()
	for _, admin := range cfg.Roles.Admins {
		roles.Grant(risk.RoleRiskAdmin, admin)
	}
	for _, keeper := range cfg.Roles.Keepers {
		roles.Grant(risk.RoleKeeper, keeper)
	}
	for _, feeder := range cfg.Roles.Feeders {
		roles.Grant(oracle.RoleFeeder, feeder)
	}

	router := oracle.NewRouter(time.Duration(cfg.Oracle.StalenessSeconds)*time.Second, cfg.Oracle.DeviationBps)
	router.SetAuthority(roles)

	schedule := fees.NewSchedule(fees.Config{
		OriginationFeeBps: cfg.Fees.OriginationFeeBps,
		ExchangeFeeBps:    cfg.Fees.ExchangeFeeBps,
		ProDiscountBps:    cfg.Fees.ProDiscountBps,
		MinBorrow:         cfg.Fees.MinBorrowWei,
		Collector:         cfg.Fees.Collector,
	})
	schedule.SetAuthority(roles)

	engine := risk.NewEngine(cfg.Risk.PoolAccount, cfg.Risk.CollateralAccount, risk.RiskParameters{
		TargetLTVBps:        cfg.Risk.TargetLTVBps,
		LiquidationLTVBps:   cfg.Risk.LiquidationLTVBps,
		BaseRateBps:         cfg.Risk.BaseRateBps,
		LiquidationBonusBps: cfg.Risk.LiquidationBonusBps,
	})
	engine.SetState(risk.NewMemoryState())
	engine.SetPrices(router)
	engine.SetFees(schedule)
	engine.SetRoles(roles)
	engine.SetLogger(logger)
	engine.SetCollateralAsset(cfg.Risk.CollateralAsset)

	liquidator := risk.NewLiquidationEngine(engine)
	if len(cfg.Roles.Admins) > 0 {
		if err := engine.GrantSeize(cfg.Roles.Admins[0], liquidator); err != nil {
			log.Fatalf("grant seize capability: %v", err)
		}
	} else {
		logger.Warn("no admin configured; liquidations disabled until a seize grant")
	}

	rewards := vault.NewVault()
	policy := vault.CompoundPolicy{
		ExpectedAPRBps:      cfg.Vault.ExpectedAPRBps,
		Interval:            time.Duration(cfg.Vault.CompoundIntervalSeconds) * time.Second,
		SafetyMultiplierBps: cfg.Vault.SafetyMultiplierBps,
	}
	logger.Info("rewards vault ready",
		"compound_interval", policy.Interval.String(),
		"expected_apr_bps", policy.ExpectedAPRBps,
	)

	mux := chi.NewRouter()
	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Get("/vault/index", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(rewards.RewardsIndex().String()))
	})

	server := &http.Server{
		Addr:              cfg.Service.ListenAddress,
		Handler:           otelhttp.NewHandler(mux, "riskd"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("riskd listening", "addr", cfg.Service.ListenAddress)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("forcing server stop", "err", err)
			_ = server.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}
