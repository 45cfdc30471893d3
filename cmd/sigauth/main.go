package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/sigauth/adapters/events"
	"github.com/layer-3/sigauth/adapters/ratelimit"
	"github.com/layer-3/sigauth/adapters/signature"
	"github.com/layer-3/sigauth/adapters/store"
	"github.com/layer-3/sigauth/adapters/tokenizer"
	"github.com/layer-3/sigauth/config"
	"github.com/layer-3/sigauth/internal/clock"
	"github.com/layer-3/sigauth/internal/logging"
	"github.com/layer-3/sigauth/internal/metrics"
	"github.com/layer-3/sigauth/ports"
	"github.com/layer-3/sigauth/service"
	httptransport "github.com/layer-3/sigauth/transport/http"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to YAML config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("sigauth stopped", zap.Error(err))
	}
}

// backends holds the stores selected by storage.backend
type backends struct {
	challenges ports.ChallengeStore
	roles      ports.RoleStore
	sessions   ports.SessionStore
	redis      *redis.Client
	closers    []func()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()
	m := metrics.New()

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range b.closers {
			c()
		}
	}()

	tokens, err := tokenizer.NewJWTTokenizer(tokenizer.Config{
		Secret:     cfg.JWT.Secret,
		Issuer:     cfg.JWT.Issuer,
		Audience:   cfg.JWT.Audience,
		AccessTTL:  cfg.JWT.AccessTTL,
		RefreshTTL: cfg.JWT.RefreshTTL,
		Clock:      clk,
	})
	if err != nil {
		return fmt.Errorf("failed to create tokenizer: %w", err)
	}
	logger.Info("token lifetimes",
		zap.Duration("access_ttl", tokens.AccessTTL()),
		zap.Duration("refresh_ttl", tokens.RefreshTTL()),
	)

	var limiter ports.RateLimiter
	if b.redis != nil {
		limiter = ratelimit.NewRedisLimiter(b.redis, cfg.RateLimit.Limit, cfg.RateLimit.Window, clk, logger)
	} else {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Window, clk)
	}

	publisher, err := newEventPublisher(cfg, b.redis, logger)
	if err != nil {
		return err
	}
	defer func() { _ = publisher.Close() }()

	hashKey := []byte(cfg.Session.HashKey)
	if len(hashKey) == 0 {
		hashKey = service.DeriveSessionKey(cfg.JWT.Secret)
	}

	challenges := service.NewChallengeService(b.challenges, service.ChallengeConfig{
		AppName:         cfg.Challenge.AppName,
		TTL:             cfg.Challenge.TTL,
		CleanupInterval: cfg.Challenge.CleanupInterval,
		StoreTimeout:    cfg.Storage.Timeout,
	}, clk, logger, m)

	authService := service.NewAuthService(service.Deps{
		Challenges: challenges,
		Roles:      service.NewRoleResolver(b.roles, clk, cfg.Storage.Timeout),
		Verifier:   signature.NewEthVerifier(signature.WithClock(clk)),
		Tokens:     tokens,
		Sessions:   b.sessions,
		Limiter:    limiter,
		Events:     eventsFor(cfg, publisher, clk),
		Clock:      clk,
		Logger:     logger,
		Metrics:    m,
	}, service.AuthConfig{
		LegacyMessages:        cfg.Auth.LegacyMessages,
		MaxMessageAge:         cfg.Auth.MaxMessageAge,
		TrustDesiredOnFailure: cfg.Roles.TrustDesiredOnFailure,
		StoreTimeout:          cfg.Storage.Timeout,
		SessionHashKey:        hashKey,
	})

	gin.SetMode(gin.ReleaseMode)
	router := httptransport.SetupRouter(authService, m, logger)

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("storage", cfg.Storage.Backend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openBackends(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backends, error) {
	memChallenges := store.NewMemoryChallengeStore(cfg.Challenge.MemoryCapacity)
	b := &backends{}

	if cfg.Storage.RedisURL != "" {
		client, err := store.NewRedisClient(ctx, cfg.Storage.RedisURL)
		if err != nil {
			return nil, err
		}
		b.redis = client
		b.closers = append(b.closers, func() { _ = client.Close() })
	}

	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		pg, err := store.NewPostgres(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pg.Close)
		b.challenges = store.NewFallbackChallengeStore(pg, memChallenges, cfg.Storage.Timeout, logger)
		b.roles = pg
		b.sessions = pg

	case config.BackendRedis:
		rs := store.NewRedisStore(b.redis)
		b.challenges = store.NewFallbackChallengeStore(rs, memChallenges, cfg.Storage.Timeout, logger)
		b.roles = rs
		b.sessions = rs

	default:
		logger.Warn("using in-memory storage; state is lost on restart and not shared between instances")
		b.challenges = memChallenges
		b.roles = store.NewMemoryRoleStore()
		b.sessions = store.NewMemorySessionStore()
	}
	return b, nil
}

// newEventPublisher publishes to Redis streams when Redis is configured,
// otherwise to an in-process channel
func newEventPublisher(cfg *config.Config, client *redis.Client, logger *zap.Logger) (message.Publisher, error) {
	wmLogger := events.NewZapLogger(logger.Named("events"))
	if client == nil || !cfg.Events.Enabled {
		return gochannel.NewGoChannel(gochannel.Config{}, wmLogger), nil
	}

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: client,
		},
		wmLogger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis publisher: %w", err)
	}
	return publisher, nil
}

func eventsFor(cfg *config.Config, publisher message.Publisher, clk clock.Clock) ports.EventPublisher {
	if !cfg.Events.Enabled {
		return events.NopPublisher{}
	}
	return events.NewWatermillPublisher(publisher, clk)
}
