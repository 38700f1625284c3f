// Command fetchproxy runs a caching fetch service: GET /fetch?url=...
// returns the upstream response through the cache engine, with Prometheus
// metrics, a stats endpoint and a purge endpoint.
//
// Configuration comes from FETCHCACHE_* environment variables; a .env
// file in the working directory is loaded first if present.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/crawlworks/fetchcache/pkg/backend"
	"github.com/crawlworks/fetchcache/pkg/backend/leveldb"
	"github.com/crawlworks/fetchcache/pkg/backend/memory"
	redisbackend "github.com/crawlworks/fetchcache/pkg/backend/redis"
	"github.com/crawlworks/fetchcache/pkg/backend/tiered"
	"github.com/crawlworks/fetchcache/pkg/cache"
	"github.com/crawlworks/fetchcache/pkg/client"
	"github.com/crawlworks/fetchcache/pkg/logging"
	"github.com/crawlworks/fetchcache/pkg/metrics"
)

type proxyConfig struct {
	Addr        string
	Backend     string
	RedisAddr   string
	RedisDB     int
	LevelDBPath string
	Namespace   string
	TTL         time.Duration
	SWR         time.Duration
	MaxStale    time.Duration
	Codec       string
	UserAgent   string
	LogLevel    string
	LogPretty   bool
}

func loadConfig() (proxyConfig, error) {
	cfg := proxyConfig{
		Addr:        getEnv("FETCHCACHE_ADDR", ":8080"),
		Backend:     getEnv("FETCHCACHE_BACKEND", "memory"),
		RedisAddr:   getEnv("FETCHCACHE_REDIS_ADDR", "localhost:6379"),
		LevelDBPath: getEnv("FETCHCACHE_LEVELDB_PATH", "fetchcache.db"),
		Namespace:   getEnv("FETCHCACHE_NAMESPACE", "default"),
		Codec:       getEnv("FETCHCACHE_CODEC", "none"),
		UserAgent:   getEnv("FETCHCACHE_USER_AGENT", "fetchproxy/1.0"),
		LogLevel:    getEnv("FETCHCACHE_LOG_LEVEL", "info"),
		LogPretty:   getEnvBool("FETCHCACHE_LOG_PRETTY", false),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("FETCHCACHE_REDIS_DB", 0); err != nil {
		return cfg, err
	}
	if cfg.TTL, err = getEnvDuration("FETCHCACHE_TTL", 5*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.SWR, err = getEnvDuration("FETCHCACHE_SWR", 0); err != nil {
		return cfg, err
	}
	if cfg.MaxStale, err = getEnvDuration("FETCHCACHE_MAX_STALE", 0); err != nil {
		return cfg, err
	}

	switch cfg.Backend {
	case "memory", "redis", "leveldb", "tiered":
	default:
		return cfg, fmt.Errorf("unknown backend %q (want memory, redis, leveldb or tiered)", cfg.Backend)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func buildBackend(cfg proxyConfig, logger zerolog.Logger) (backend.Backend, error) {
	switch cfg.Backend {
	case "memory":
		return memory.New(memory.DefaultConfig())

	case "redis":
		rcfg := redisbackend.DefaultConfig()
		rcfg.Addr = cfg.RedisAddr
		rcfg.DB = cfg.RedisDB
		rcfg.Logger = logger
		return redisbackend.New(rcfg)

	case "leveldb":
		lcfg := leveldb.DefaultConfig(cfg.LevelDBPath)
		lcfg.Logger = logger
		return leveldb.New(lcfg)

	case "tiered":
		l1, err := memory.New(memory.DefaultConfig())
		if err != nil {
			return nil, err
		}
		rcfg := redisbackend.DefaultConfig()
		rcfg.Addr = cfg.RedisAddr
		rcfg.DB = cfg.RedisDB
		rcfg.Logger = logger
		l2, err := redisbackend.New(rcfg)
		if err != nil {
			l1.Close()
			return nil, err
		}
		return tiered.New(tiered.Config{L1: l1, L2: l2, Logger: logger})

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func buildClient(cfg proxyConfig, store backend.Backend, reg prometheus.Registerer, logger zerolog.Logger) (*client.Client, error) {
	ccfg := client.DefaultConfig(store)
	ccfg.Namespace = cfg.Namespace
	ccfg.TTL = cfg.TTL
	ccfg.StaleWhileRevalidate = cfg.SWR
	ccfg.MaxStale = cfg.MaxStale
	ccfg.Codec = cache.Codec(cfg.Codec)
	ccfg.UserAgent = cfg.UserAgent
	ccfg.Recorder = metrics.NewPromRecorder(reg, cfg.Namespace)
	ccfg.Logger = logger
	return client.New(ccfg)
}

func newMux(c *client.Client, reg *prometheus.Registry, logger zerolog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/fetch", fetchHandler(c, logger))
	mux.HandleFunc("/healthz", healthHandler(c))
	mux.HandleFunc("/stats", statsHandler(c))
	mux.HandleFunc("/-/purge", purgeHandler(c, logger))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

func fetchHandler(c *client.Client, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("url")
		if target == "" {
			http.Error(w, "missing url parameter", http.StatusBadRequest)
			return
		}

		resp, err := c.Get(r.Context(), target)
		if err != nil {
			logger.Error().Err(err).Str("url", target).Msg("fetch failed")
			http.Error(w, fmt.Sprintf("fetch failed: %v", err), http.StatusBadGateway)
			return
		}

		for name, values := range resp.Header {
			for _, v := range values {
				w.Header().Add(name, v)
			}
		}
		w.Header().Set("X-Cache", cacheStatus(resp))
		w.WriteHeader(resp.StatusCode)
		if _, err := w.Write(resp.Body); err != nil {
			logger.Debug().Err(err).Msg("write response failed")
		}
	}
}

func cacheStatus(resp *client.Response) string {
	switch {
	case resp.FromCache && resp.Stale:
		return "STALE"
	case resp.FromCache:
		return "HIT"
	default:
		return "MISS"
	}
}

func healthHandler(c *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := c.HealthCheck(ctx); err != nil {
			http.Error(w, fmt.Sprintf("backend unhealthy: %v", err), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	}
}

func statsHandler(c *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(c.Stats()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func purgeHandler(c *client.Client, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}

		if pattern := r.URL.Query().Get("pattern"); pattern != "" {
			n, err := c.InvalidatePattern(r.Context(), pattern)
			if err != nil {
				http.Error(w, fmt.Sprintf("purge failed: %v", err), http.StatusInternalServerError)
				return
			}
			logger.Info().Str("pattern", pattern).Int("removed", n).Msg("cache purged by pattern")
			fmt.Fprintf(w, "purged %d entries\n", n)
			return
		}

		if err := c.Clear(r.Context()); err != nil {
			http.Error(w, fmt.Sprintf("purge failed: %v", err), http.StatusInternalServerError)
			return
		}
		logger.Info().Msg("cache cleared")
		fmt.Fprint(w, "cache cleared\n")
	}
}

func main() {
	// Best effort: a missing .env file is not an error.
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
	})
	logger := logging.NewLogger("fetchproxy")

	store, err := buildBackend(cfg, logging.NewLogger("backend"))
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Backend).Msg("backend initialization failed")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c, err := buildClient(cfg, store, reg, logging.NewLogger("cache"))
	if err != nil {
		store.Close()
		logger.Fatal().Err(err).Msg("client initialization failed")
	}
	defer c.Close()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(c, reg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().
			Str("addr", cfg.Addr).
			Str("backend", cfg.Backend).
			Str("namespace", cfg.Namespace).
			Dur("ttl", cfg.TTL).
			Msg("fetchproxy listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown incomplete")
	}
}
