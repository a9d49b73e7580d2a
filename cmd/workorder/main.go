package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/tmc/langchaingo/llms/googleai"
	"golang.org/x/time/rate"

	"github.com/fieldserve/workorder/internal/analytics"
	"github.com/fieldserve/workorder/internal/api"
	"github.com/fieldserve/workorder/internal/circuitbreaker"
	"github.com/fieldserve/workorder/internal/config"
	"github.com/fieldserve/workorder/internal/cron"
	"github.com/fieldserve/workorder/internal/dedup"
	"github.com/fieldserve/workorder/internal/dispatch"
	"github.com/fieldserve/workorder/internal/extract"
	"github.com/fieldserve/workorder/internal/geocode"
	"github.com/fieldserve/workorder/internal/leaderelection"
	"github.com/fieldserve/workorder/internal/lifecycle"
	"github.com/fieldserve/workorder/internal/metrics"
	"github.com/fieldserve/workorder/internal/parser"
	"github.com/fieldserve/workorder/internal/redispatch"
	"github.com/fieldserve/workorder/internal/retry"
	"github.com/fieldserve/workorder/internal/store/postgres"
	"github.com/fieldserve/workorder/internal/transport/channel"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// outboundTimeout bounds a single request to the geocoder, scorer, or
// notifier. Retries wait on top of this.
const outboundTimeout = 10 * time.Second

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`workorder - work order intake and dispatch service

Usage:
  workorder <command>

Commands:
  serve      Start the API server and dispatcher
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  REDIS_ADDR                Redis address for dispatch analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")
  API_TOKEN                 Bearer token required on API requests (optional)

  GEOCODER_URL              Geocoding provider base URL (required)
  SCORER_URL                Compliance scorer base URL (required)
  NOTIFIER_URL              Outreach notifier base URL (required)
  GEOCODER_RPS              Geocoder rate limit per second (default: "10")
  GEOCODER_BURST            Geocoder rate limit burst (default: "5")

  GEMINI_API_KEY            LLM extraction API key (optional; heuristics only if unset)
  GEMINI_MODEL              LLM model name (default: "gemini-1.5-flash")

  DISPATCH_TOP_K            Candidates contacted per dispatch (default: "5")
  DEDUP_THRESHOLD           Duplicate similarity threshold (default: "0.6")
  DEDUP_WINDOW_DAYS         Duplicate lookback window in days (default: "30")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  DISPATCHER_DRAIN_TIMEOUT  Dispatcher event drain timeout (default: "30s")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")

  SWEEP_ENABLED             Enable stalled-job re-dispatch sweeper (default: "false")
  SWEEP_SCHEDULE            Sweep cron expression (default: "*/5 * * * *")
  SWEEP_TIMEZONE            Sweep schedule timezone (default: "UTC")
  SWEEP_THRESHOLD           Age before a job counts as stalled (default: "10m")
  SWEEP_BATCH_SIZE          Max stalled jobs per sweep (default: "100")`)
}

func runServe() int {
	if err := godotenv.Load(); err != nil {
		log.Println("workorder: no .env file found, using process environment")
	}

	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	// Configure connection pool
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("workorder: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), cfg.DBOpTimeout)
	err = db.PingContext(pingCtx)
	pingCancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	store := postgres.New(db)

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("workorder: metrics enabled (path=%s)", cfg.MetricsPath)
	} else {
		log.Println("workorder: METRICS_ENABLED not set; metrics disabled")
	}

	// Create event bus with optional metrics
	bus := channel.NewEventBus(cfg.EventBusBufferSize)
	if metricsSink != nil {
		bus = bus.WithMetrics(metricsSink)
	}

	// Raw-text parser: LLM extraction with heuristic fallback
	parseSvc := parser.NewService(extract.New())
	if metricsSink != nil {
		parseSvc = parseSvc.WithMetrics(metricsSink)
	}
	if cfg.GeminiAPIKey != "" {
		llm, err := googleai.New(context.Background(),
			googleai.WithAPIKey(cfg.GeminiAPIKey),
			googleai.WithDefaultModel(cfg.GeminiModel),
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create LLM client: %v\n", err)
			return exitRuntimeError
		}
		parseSvc = parseSvc.WithLLM(parser.NewLangChainClient(llm))
		log.Printf("workorder: llm extraction enabled (model=%s)", cfg.GeminiModel)
	} else {
		log.Println("workorder: GEMINI_API_KEY not set; heuristic extraction only")
	}

	// Geocoder adapter: rate-limited, breaker-guarded, bounded retries
	geocoder := geocode.New(
		geocode.NewHTTPProvider(cfg.GeocoderURL, outboundTimeout),
		geocode.DefaultRetryPolicy(),
	).WithLimiter(rate.NewLimiter(rate.Limit(cfg.GeocoderRPS), cfg.GeocoderBurst))
	if cfg.CircuitBreakerThreshold > 0 {
		geocoder = geocoder.WithBreaker(
			circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
	}
	if metricsSink != nil {
		geocoder = geocoder.WithMetrics(metricsSink)
	}

	// Duplicate detector
	detector := dedup.New(store).
		WithThreshold(cfg.DedupThreshold).
		WithWindow(time.Duration(cfg.DedupWindowDays) * 24 * time.Hour)
	if metricsSink != nil {
		detector = detector.WithMetrics(metricsSink)
	}

	// Lifecycle manager: the only writer of job status
	manager := lifecycle.New(store, bus)
	if metricsSink != nil {
		manager = manager.WithMetrics(metricsSink)
	}

	// Dispatch orchestrator
	scorer := dispatch.NewHTTPScorer(cfg.ScorerURL, outboundTimeout)
	if cfg.CircuitBreakerThreshold > 0 {
		scorer = scorer.WithBreaker(
			circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
	}
	notifier := dispatch.NewHTTPNotifier(cfg.NotifierURL, outboundTimeout)
	notifyPolicy := retry.Policy{MaxRetries: 2, InitialDelay: time.Second, BackoffMultiplier: 2}

	orch := dispatch.New(manager, store, scorer, dispatch.NewHistoryRouter(store), notifier, notifyPolicy).
		WithTopK(cfg.DispatchTopK)
	if metricsSink != nil {
		orch = orch.WithMetrics(metricsSink)
	}

	// Wire analytics if Redis is configured
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		orch = orch.WithAnalytics(analytics.NewRedisSink(redisClient))
		log.Printf("workorder: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("workorder: REDIS_ADDR not set; analytics disabled")
	}

	// HTTP surface
	apiHandler := api.NewHandler(manager, store, parseSvc, detector, geocoder, scorer).
		WithHealthChecker(db)
	if cfg.APIToken != "" {
		apiHandler = apiHandler.WithAuthToken(cfg.APIToken)
		log.Println("workorder: api auth enabled")
	} else {
		log.Println("workorder: API_TOKEN not set; api auth disabled")
	}

	mux := http.NewServeMux()
	if metricsSink != nil {
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
	}
	mux.Handle("/", apiHandler)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("workorder: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("workorder: http server error: %v", err)
		}
	}()

	// Separate contexts for the dispatcher and the elector enable ordered
	// shutdown: producers stop first, then the dispatcher drains.
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	electorCtx, cancelElector := context.WithCancel(context.Background())

	var dispatcherWg sync.WaitGroup
	var electorWg sync.WaitGroup

	dispatcherWg.Add(1)
	go func() {
		defer dispatcherWg.Done()
		orch.Run(dispatcherCtx, bus.Channel())
	}()

	// Start re-dispatch sweeper under leader election if enabled
	if cfg.SweepEnabled {
		schedule, err := cron.NewParser().Parse(cfg.SweepSchedule, cfg.SweepTimezone)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to parse sweep schedule: %v\n", err)
			cancelDispatcher()
			cancelElector()
			return exitInvalidConfig
		}

		sweeper := redispatch.New(
			redispatch.Config{
				Threshold: cfg.SweepThreshold,
				BatchSize: cfg.SweepBatchSize,
			},
			store,
			bus,
			schedule,
		)
		if metricsSink != nil {
			sweeper = sweeper.WithMetrics(metricsSink)
		}

		// onDemoted must block until the sweeper has fully stopped; the
		// done channel is handed over under the mutex because onElected
		// runs in a goroutine of its own.
		var sweepMu sync.Mutex
		var sweepDone chan struct{}
		elector := leaderelection.New(
			db,
			cfg.LeaderLockKey,
			cfg.LeaderRetryInterval,
			cfg.LeaderHeartbeatInterval,
			func(leaderCtx context.Context) {
				done := make(chan struct{})
				sweepMu.Lock()
				sweepDone = done
				sweepMu.Unlock()
				defer close(done)
				sweeper.Run(leaderCtx)
			},
			func() {
				sweepMu.Lock()
				done := sweepDone
				sweepMu.Unlock()
				if done != nil {
					<-done
				}
			},
		)
		if metricsSink != nil {
			elector = elector.WithMetrics(metricsSink)
		}

		electorWg.Add(1)
		go func() {
			defer electorWg.Done()
			elector.Run(electorCtx)
		}()
		log.Printf("workorder: sweeper enabled (schedule=%q, threshold=%s, batch=%d)",
			cfg.SweepSchedule, cfg.SweepThreshold, cfg.SweepBatchSize)
	} else {
		log.Println("workorder: SWEEP_ENABLED not set; sweeper disabled")
	}

	log.Printf("workorder: started (http=%s, top_k=%d)", cfg.HTTPAddr, cfg.DispatchTopK)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("workorder: received signal %v, shutting down", received)

	// Phase 1: Stop HTTP server (no new jobs, no new emits)
	log.Println("workorder: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("workorder: http server shutdown error: %v", err)
	}
	log.Println("workorder: http server stopped")

	// Phase 2: Stop elector and sweeper (no new re-emits)
	log.Println("workorder: stopping sweeper...")
	cancelElector()
	electorWg.Wait()
	log.Println("workorder: sweeper stopped")

	// Phase 3: Stop dispatcher (will drain buffered events before returning)
	log.Println("workorder: stopping dispatcher (draining events)...")
	cancelDispatcher()
	dispatcherWg.Wait()
	log.Println("workorder: dispatcher stopped")

	log.Println("workorder: stopped")
	return exitSuccess
}

func runValidate() int {
	if err := godotenv.Load(); err == nil {
		log.Println("workorder: loaded .env file")
	}

	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	if err := godotenv.Load(); err == nil {
		log.Println("workorder: loaded .env file")
	}

	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("workorder version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
