package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/npezzotti/go-realtime-chat/internal/api"
	"github.com/npezzotti/go-realtime-chat/internal/config"
	"github.com/npezzotti/go-realtime-chat/internal/database"
	"github.com/npezzotti/go-realtime-chat/internal/logger"
	"github.com/npezzotti/go-realtime-chat/internal/ratelimit"
	"github.com/npezzotti/go-realtime-chat/internal/server"
	"github.com/npezzotti/go-realtime-chat/internal/stats"
	"github.com/redis/go-redis/v9"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	configPath     string
	addr           string
	dsn            string
	redisAddr      string
	uploadDir      string
	logLevel       string
	logBackend     string
	echoToSender   bool
	allowedOrigins stringSliceFlag
)

func main() {
	flag.StringVar(&configPath, "config", "", "path to a YAML config file")
	flag.StringVar(&addr, "addr", config.DefaultServerAddr, "server address")
	flag.StringVar(&dsn, "dsn", "", "postgres connection string, in-memory store when empty")
	flag.StringVar(&redisAddr, "redis-addr", "", "redis address for rate limiting, in-process when empty")
	flag.StringVar(&uploadDir, "upload-dir", config.DefaultUploadDir, "directory for uploaded files")
	flag.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flag.StringVar(&logBackend, "log-backend", "", "log backend (std, zap)")
	flag.BoolVar(&echoToSender, "echo", true, "deliver channel messages back to their sender")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logCfg := logger.Config{
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		Level:     logger.ParseLevel(cfg.Logging.Level),
		Debug:     cfg.Logging.Debug,
		AddSource: cfg.Logging.AddSource,
	}
	// an unset env falls back to APP_ENV
	if cfg.Logging.Env != "" {
		logCfg.Env = logger.ParseEnv(cfg.Logging.Env)
	}
	log := logger.New(logCfg)

	if err := run(log, cfg); err != nil {
		log.Error("server exited", "err", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// loadConfig reads the config file and applies the flags set on the command
// line over it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.ServerAddr = addr
		case "dsn":
			cfg.DatabaseDSN = dsn
		case "redis-addr":
			cfg.RedisAddr = redisAddr
		case "upload-dir":
			cfg.UploadDir = uploadDir
		case "log-level":
			cfg.Logging.Level = logLevel
		case "log-backend":
			cfg.Logging.Backend = logBackend
		case "echo":
			cfg.EchoToSender = echoToSender
		case "allowed-origins":
			cfg.AllowedOrigins = allowedOrigins
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openRepository(log *slog.Logger, cfg *config.Config, clock clockwork.Clock) (database.Repository, func() error, error) {
	if cfg.DatabaseDSN == "" {
		log.Info("using in-memory store")
		return database.NewMemRepository(database.WithClock(clock)), func() error { return nil }, nil
	}

	db, err := database.NewPgRepository(cfg.DatabaseDSN, database.WithClock(clock))
	if err != nil {
		return nil, nil, fmt.Errorf("db open: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("db migrate: %w", err)
	}

	log.Info("using postgres store")
	return db, db.Close, nil
}

func newLimiter(log *slog.Logger, cfg *config.Config, clock clockwork.Clock) (ratelimit.Limiter, func() error) {
	rule := ratelimit.RuleMessage
	rule.Limit = cfg.RateLimit.Limit
	rule.Window = cfg.RateLimit.Window

	if cfg.RedisAddr == "" {
		return ratelimit.NewSlidingWindow(rule, clock), func() error { return nil }
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	log.Info("using redis rate limiter", "addr", cfg.RedisAddr)
	return ratelimit.NewRedisLimiter(client, rule, log), client.Close
}

func run(log *slog.Logger, cfg *config.Config) error {
	// one clock stamps every server-assigned time
	clock := clockwork.NewRealClock()

	db, closeDb, err := openRepository(log, cfg, clock)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeDb(); err != nil {
			log.Error("db close", "err", err)
		}
	}()

	limiter, closeLimiter := newLimiter(log, cfg, clock)
	defer closeLimiter()

	statsUpdater := stats.NewStatsUpdater()

	chatServer, err := server.NewChatServer(log, db, statsUpdater, server.Options{
		Clock:         clock,
		Limiter:       limiter,
		TypingTimeout: cfg.TypingTimeout,
		EchoToSender:  cfg.EchoToSender,
	})
	if err != nil {
		return fmt.Errorf("new chat server: %w", err)
	}

	srv := api.NewGoChatApp(log, chatServer, db, statsUpdater.Handler(), cfg)

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigs:
		log.Info("received signal", "signal", sig.String())
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server: %w", err)
		}
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}

	log.Info("shutting down chat server")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		return fmt.Errorf("chat server shutdown: %w", err)
	}

	return serveErr
}
