package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/pawnline-match-server/internal/account"
	"github.com/park285/pawnline-match-server/internal/authn"
	"github.com/park285/pawnline-match-server/internal/boardimg"
	"github.com/park285/pawnline-match-server/internal/catalog"
	appcfg "github.com/park285/pawnline-match-server/internal/config"
	"github.com/park285/pawnline-match-server/internal/match"
	"github.com/park285/pawnline-match-server/internal/matchstore"
	"github.com/park285/pawnline-match-server/internal/msgcat"
	"github.com/park285/pawnline-match-server/internal/obslog"
	"github.com/park285/pawnline-match-server/internal/pvpmatch"
	"github.com/park285/pawnline-match-server/internal/realtime"
	"github.com/park285/pawnline-match-server/internal/tracing"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	cfg, err := appcfg.Load()
	if err != nil {
		logger.Fatal("config_error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.ServiceName, cfg.OTELEndpoint)
	if err != nil {
		logger.Fatal("tracing_init_error", zap.Error(err))
	}

	storeOpts := []matchstore.Option{
		matchstore.WithTTL(cfg.MatchTTL),
		matchstore.WithAttempts(cfg.StoreWriteAttempts),
		matchstore.WithLogger(logger),
	}
	var store matchstore.Store
	if cfg.RedisURL != "" {
		octx, cancel := context.WithTimeout(ctx, 5*time.Second)
		store, err = matchstore.Open(octx, cfg.RedisURL, storeOpts...)
		cancel()
		if err != nil {
			logger.Fatal("match_store_init_error", zap.Error(err))
		}
	} else {
		logger.Warn("match_store_memory", zap.String("reason", "REDIS_URL not set"))
		store = matchstore.NewMemory(storeOpts...)
	}
	defer func() { _ = store.Close() }()

	var results pvpmatch.ResultStore
	if cfg.DatabaseURL != "" {
		repo, err := pvpmatch.NewRepository(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("result_repository_init_error", zap.Error(err))
		}
		defer func() { _ = repo.Close() }()
		if err := repo.EnsureSchema(ctx); err != nil {
			logger.Fatal("result_schema_error", zap.Error(err))
		}
		results = repo
	} else {
		logger.Warn("result_repository_memory", zap.String("reason", "DATABASE_URL not set"))
		results = pvpmatch.NewMemoryRepository()
	}

	var ledger pvpmatch.CoinLedger = account.Nop{}
	if cfg.AccountBaseURL != "" {
		ledger = account.NewClient(cfg.AccountBaseURL,
			account.WithAPIKey(cfg.AccountAPIKey),
			account.WithLogger(logger),
		)
	} else {
		logger.Warn("account_ledger_disabled", zap.String("reason", "ACCOUNT_BASE_URL not set"))
	}

	cards, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		logger.Fatal("card_catalog_error", zap.Error(err))
	}
	msgs, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("message_catalog_error", zap.Error(err))
	}
	verifier, err := authn.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer, nil)
	if err != nil {
		logger.Fatal("jwt_verifier_error", zap.Error(err))
	}

	engine := match.NewEngine(nil, cards, match.Rewards{
		Win:        cfg.WinCoins,
		ForfeitWin: cfg.ForfeitCoins,
		AgreedWin:  cfg.AgreedCoins,
	})
	mgr := pvpmatch.NewManager(store, engine, cards,
		pvpmatch.WithSweepBatch(cfg.SweepBatch),
		pvpmatch.WithRematchWindow(cfg.RematchWindow),
		pvpmatch.WithResults(results),
		pvpmatch.WithLedger(ledger),
		pvpmatch.WithRenderer(boardimg.NewRenderer()),
	)

	hub := realtime.NewHub(mgr, verifier,
		realtime.WithLogger(logger),
		realtime.WithMessages(msgs),
		realtime.WithForceLeaveGrace(cfg.ForceLeaveGrace),
		realtime.WithTieDelay(cfg.TiebreakAnnounceDelay),
		realtime.WithOriginPatterns(cfg.AllowedOrigins...),
	)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		pvpmatch.NewSweeper(mgr, cfg.SweepInterval).Run(sweepCtx)
	}()

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: realtime.NewRouter(hub, cfg.LobbyServiceAudience, func(r *http.Request) error {
			pctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			return store.Ping(pctx)
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http_listen", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown_signal")
	case err := <-serveErr:
		if err != nil {
			logger.Error("http_serve_failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown", zap.Error(err))
	}
	hub.Close()
	stopSweep()
	<-sweepDone
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing_shutdown", zap.Error(err))
	}
}
