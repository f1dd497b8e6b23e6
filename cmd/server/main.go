// Package main is the entry point for the trading execution engine:
// webhook ingestion, per-account order dispatch, precision-aware
// submission, queued rebalancing, exchange reconciliation, and position
// ledgering, wired together without a DI container — each collaborator
// is constructed directly, in dependency order, the way the teacher's
// main used to before its own di.Wire indirection.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/clients/exchange"
	"github.com/aristath/sentinel/internal/config"
	"github.com/aristath/sentinel/internal/database"
	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/events"
	"github.com/aristath/sentinel/internal/modules/account"
	"github.com/aristath/sentinel/internal/modules/dispatch"
	"github.com/aristath/sentinel/internal/modules/execution"
	"github.com/aristath/sentinel/internal/modules/metrics"
	"github.com/aristath/sentinel/internal/modules/position"
	"github.com/aristath/sentinel/internal/modules/reconcile"
	"github.com/aristath/sentinel/internal/precision"
	"github.com/aristath/sentinel/internal/queue"
	"github.com/aristath/sentinel/internal/ratelimit"
	"github.com/aristath/sentinel/internal/server"
	"github.com/aristath/sentinel/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().Str("data_dir", cfg.DataDir).Int("port", cfg.Port).Msg("starting trading engine")

	db, err := database.New(database.Config{
		Path:    cfg.DatabasePath(),
		Profile: database.ProfileStandard,
		Name:    "trading",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	conn := db.Conn()

	emitter := events.NewManager(log)

	repo := account.NewRepository(conn)

	// --- exchange client registry (one cached ExchangePort per account) ---
	exchangeRegistry := exchange.NewRegistry(cfg.ExchangeBaseURLs, log)
	portResolver := exchange.NewAccountPortResolver(repo, exchangeRegistry)

	// --- precision cache + per-exchange warmup ---
	precisionCache := precision.NewCache(log)
	warmupPorts, err := buildWarmupPorts(context.Background(), repo, exchangeRegistry, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build warmup exchange ports")
	}
	warmer := precision.NewWarmer(precisionCache, log, warmupPorts)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := warmer.Warm(startupCtx); err != nil {
		log.Warn().Err(err).Msg("initial precision warmup failed, continuing with cold cache")
	}
	cancelStartup()
	warmer.StartRefresher(context.Background())
	defer warmer.StopRefresher()

	// --- rate limiter (nil quotas falls back to ratelimit.DefaultQuotas) ---
	limiter := ratelimit.NewLimiter(nil)

	// --- account resolver adapters ---
	queueResolver := account.NewQueueResolver(repo)
	reconcileResolver := account.NewReconcileResolver(repo)
	positionResolver := account.NewPositionResolver(repo)

	// --- metrics ---
	promRegistry := prometheus.NewRegistry()
	promMetrics := metrics.NewPrometheusMetrics(promRegistry, log)

	// --- queue: stores, manager (submitter wired after executor exists) ---
	openStore := queue.NewSQLiteStore(conn)
	pendingStore := queue.NewPendingStore(conn)
	queueManager := queue.NewManager(pendingStore, openStore, queueResolver, nil, emitter, promMetrics, log)

	// --- execution: batch submitter + order executor (satisfies both
	// dispatch.Executor and queue.Submitter) ---
	batchSubmitter := execution.NewBatchSubmitter()
	orderExecutor := execution.NewOrderExecutor(portResolver, limiter, precisionCache, batchSubmitter, queueManager, openStore, pendingStore, emitter, log)
	queueManager.SetSubmitter(orderExecutor)

	queueScheduler := queue.NewScheduler(queueManager, log)
	queueScheduler.Start()
	defer queueScheduler.Stop()

	// --- dispatch ---
	dispatcher := dispatch.NewDispatcher(repo, orderExecutor, log)

	// --- reconciliation + position ledger ---
	orderStore := reconcile.NewSQLiteOrderStore(conn)
	tradeStore := reconcile.NewSQLiteTradeStore(conn)
	cancelQueueStore := reconcile.NewSQLiteCancelQueueStore(conn)

	positionStore := position.NewSQLitePositionStore(conn)
	ledger := position.NewLedger(positionStore, tradeStore, emitter, log)
	pnlRecomputer := position.NewPnLRecomputer(positionStore, positionResolver, exchangeRegistry, log)
	pnlRecomputer.Start()
	defer pnlRecomputer.Stop()

	reconciler := reconcile.NewReconciler(orderStore, tradeStore, reconcileResolver, exchangeRegistry, ledger, emitter, log)
	cancelWorker := reconcile.NewCancelWorker(cancelQueueStore, repo, exchangeRegistry, log)
	reconcileScheduler := reconcile.NewScheduler(reconciler, cancelWorker, orderStore, log)
	reconcileScheduler.Start()
	defer reconcileScheduler.Stop()

	// --- HTTP server ---
	srv := server.New(cfg, log, dispatcher, queueManager, precisionCache, warmer, emitter, promRegistry)

	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("HTTP server stopped unexpectedly")
		}
	}()

	waitForShutdown(log, srv)
}

// buildWarmupPorts returns one ExchangePort per distinct exchange among
// active accounts, grounded on precision.Warmer's contract of a single
// representative port per exchange. Any active account on that exchange
// serves as the representative; the per-account credentialed port used
// on the live order path always comes from exchange.Registry.PortFor
// keyed by the specific account, never from this map.
func buildWarmupPorts(ctx context.Context, repo *account.Repository, registry *exchange.Registry, log zerolog.Logger) (map[string]domain.ExchangePort, error) {
	accounts, err := repo.ListActiveAccounts(ctx)
	if err != nil {
		return nil, err
	}

	ports := make(map[string]domain.ExchangePort)
	for _, acc := range accounts {
		key := strings.ToLower(acc.Exchange)
		if _, ok := ports[key]; ok {
			continue
		}
		port, err := registry.PortFor(ctx, acc)
		if err != nil {
			log.Warn().Err(err).Str("exchange", key).Msg("failed to build warmup port for exchange, skipping")
			continue
		}
		ports[key] = port
	}
	return ports, nil
}

func waitForShutdown(log zerolog.Logger, srv *server.Server) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutdown signal received")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("error during HTTP server shutdown")
	}
}
