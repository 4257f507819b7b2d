package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Warden-Labs/warden/pkg/actions"
	"github.com/Warden-Labs/warden/pkg/api"
	"github.com/Warden-Labs/warden/pkg/audit"
	"github.com/Warden-Labs/warden/pkg/auth"
	"github.com/Warden-Labs/warden/pkg/cases"
	"github.com/Warden-Labs/warden/pkg/config"
	"github.com/Warden-Labs/warden/pkg/connectors"
	"github.com/Warden-Labs/warden/pkg/ledger"
	"github.com/Warden-Labs/warden/pkg/observability"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServer(stderr)
	}

	switch args[1] {
	case "server", "serve":
		return runServer(stderr)
	case "health":
		return runHealthCmd(stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Warden - response action dispatch and audit ledger")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  warden <command>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  server   Run the Warden server (default)")
	fmt.Fprintln(w, "  health   Check server health (HTTP)")
	fmt.Fprintln(w, "  help     Show this message")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// openStore picks the SQL driver by URL scheme. Anything that is not
// postgres is treated as a local sqlite file.
func openStore(ctx context.Context, dbURL string) (*sql.DB, error) {
	driver := storeDriver(dbURL)
	dsn := strings.TrimPrefix(dbURL, "sqlite://")

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s store: %w", driver, err)
	}
	return db, nil
}

func storeDriver(dbURL string) string {
	if strings.HasPrefix(dbURL, "postgres://") || strings.HasPrefix(dbURL, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}

// storeLabel is a log-safe description of the store. Postgres DSNs can
// embed credentials, so only the host part is kept.
func storeLabel(dbURL string) string {
	if storeDriver(dbURL) == "sqlite" {
		return "sqlite:" + strings.TrimPrefix(dbURL, "sqlite://")
	}
	u, err := url.Parse(dbURL)
	if err != nil {
		return "postgres"
	}
	return "postgres:" + u.Host
}

func runServer(stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "warden",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLPEndpoint != "",
		Insecure:       cfg.Environment != "production",
	})
	if err != nil {
		logger.Error("observability init failed", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	db, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		return 1
	}
	defer db.Close()

	store := ledger.NewSQLStore(db)
	if err := store.Init(ctx); err != nil {
		logger.Error("ledger schema init failed", "error", err)
		return 1
	}
	logger.Info("ledger ready", "store", storeLabel(cfg.DatabaseURL))

	registry, err := connectors.LoadFileRegistry(cfg.ConnectorsFile, logger)
	if err != nil {
		logger.Error("connector inventory load failed", "file", cfg.ConnectorsFile, "error", err)
		return 1
	}

	var guard cases.Guard = cases.NewMemoryGuard()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("redis connection failed", "addr", cfg.RedisAddr, "error", err)
			return 1
		}
		defer rdb.Close()
		guard = cases.NewRedisGuard(rdb, 24*time.Hour)
		logger.Info("case attachment guard: redis", "addr", cfg.RedisAddr)
	}

	var caseSync *cases.Synchronizer
	if cfg.CasesURL != "" {
		caseSync = cases.NewSynchronizer(cases.NewHTTPService(cfg.CasesURL, cfg.CasesToken), guard, logger)
		logger.Info("case sync enabled", "url", cfg.CasesURL)
	} else {
		logger.Warn("CASES_URL not set, case sync disabled")
	}

	writer := ledger.NewWriter(store, logger)
	auditor := audit.NewLogger()

	factory := func(ctx context.Context) actions.Client {
		return actions.NewSentinelOneClient(registry, actions.ClientOptions{
			Ledger: writer,
			Cases:  caseSync,
			Audit:  auditor,
			Log:    logger,
		})
	}

	mux := http.NewServeMux()
	api.NewHandler(factory, logger).Register(mux)

	metricsMiddleware, err := api.NewMetricsMiddleware()
	if err != nil {
		logger.Error("metrics init failed", "error", err)
		return 1
	}

	var handler http.Handler = mux
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, running without authentication")
	} else {
		handler = api.RateLimitMiddleware(api.NewActorLimiter(10, 20))(handler)
		handler = api.AuthMiddleware(auth.NewJWTValidator([]byte(cfg.JWTSecret)))(handler)
	}
	handler = metricsMiddleware(handler)
	handler = api.LoggingMiddleware(logger)(handler)
	handler = api.RequestIDMiddleware(handler)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("warden listening", "port", cfg.Port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(stderr, "shutdown error: %v\n", err)
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}

func runHealthCmd(out, errOut io.Writer) int {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	resp, err := http.Get("http://localhost:" + port + "/health")
	if err != nil {
		fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(errOut, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}

	fmt.Fprintln(out, "OK")
	return 0
}
