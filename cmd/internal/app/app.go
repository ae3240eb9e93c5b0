// Package app wires the localchat server runtime: config, logging, storage
// backends, the SSO handshake, HTTP routes and the realtime gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	authapi "localchat/cmd/internal/auth/api"
	"localchat/cmd/internal/auth/session"
	"localchat/cmd/internal/auth/sso"
	"localchat/cmd/internal/db/migrate"
	"localchat/cmd/internal/realtime"
	"localchat/cmd/security/token"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// App is the localchat server runtime. It owns the shared infrastructure
// (pool, redis client) and the subsystems built on top of it.
type App struct {
	cfg Config
	log Logger

	dbPool *pgxpool.Pool
	redis  *redis.Client

	metrics  *prometheus.Registry
	sessions *session.Service
	registry *realtime.Registry
	ws       *realtime.WSGateway
	auth     *authapi.Handler
}

// New constructs a fully wired App. On error every resource opened so far is released.
func New(ctx context.Context, s Settings, log Logger) (_ *App, err error) {
	if log == nil {
		log = NewLogger(s.App.LogLevel, s.App.LogFormat)
	}

	a := &App{cfg: s.App, log: log}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if err := a.openInfra(ctx); err != nil {
		return nil, err
	}

	a.metrics = prometheus.NewRegistry()
	a.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	secret, err := token.SecretFromEnv(token.MinSecretBytes)
	if err != nil {
		return nil, fmt.Errorf("token secret: %w", err)
	}
	codec, err := token.NewCodec(secret)
	if err != nil {
		return nil, fmt.Errorf("token codec: %w", err)
	}
	nonceKey, err := token.DeriveKey(secret, sso.NonceKeyInfo)
	if err != nil {
		return nil, fmt.Errorf("sso nonce key: %w", err)
	}

	store, err := a.newSessionStore(s.Session)
	if err != nil {
		return nil, err
	}
	a.sessions = session.NewService(s.Session, store, codec, log)

	provider, err := sso.NewProvider(s.SSO, &http.Client{Timeout: s.SSO.ProviderTimeout})
	if err != nil {
		return nil, err
	}
	coord := sso.NewCoordinator(s.SSO, provider, a.sessions,
		sso.WithReplayGuard(a.newReplayGuard(s.SSO)),
		sso.WithNonceKey(nonceKey),
		sso.WithMetrics(sso.NewMetrics(a.metrics)),
		sso.WithLogger(log),
	)

	members, err := a.newMembershipStore()
	if err != nil {
		return nil, err
	}
	a.registry = realtime.NewRegistry(log, a.sessions, members,
		realtime.WithRegistryMetrics(realtime.NewMetrics(a.metrics)),
	)
	a.ws = realtime.NewWSGateway(log, a.registry, s.Gateway, realtime.WithSessionToucher(a.sessions))

	var apiOpts []authapi.HandlerOption
	if a.dbPool != nil {
		apiOpts = append(apiOpts, authapi.WithAuditPool(a.dbPool))
	}
	a.auth, err = authapi.NewHandler(log, s.API, coord, a.sessions, realtime.NewRouter(a.registry), apiOpts...)
	if err != nil {
		return nil, err
	}

	if s.Gateway.DevInsecure {
		log.Warn("ws.dev_insecure.enabled", "hint", "origin verification is disabled; never use in production")
	}

	return a, nil
}

func (a *App) openInfra(ctx context.Context) error {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled")
	} else {
		if a.cfg.DBAutoMigrate {
			if err := migrate.Run(a.cfg.DatabaseURL, migrate.Up); err != nil {
				return fmt.Errorf("auto migrate: %w", err)
			}
			a.log.Info("db.migrate.ok")
		}

		pool, err := NewDBPool(ctx, a.cfg)
		if err != nil {
			return fmt.Errorf("db: %w", err)
		}
		a.dbPool = pool
		a.log.Info("db.enabled")
	}

	if a.cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
		})
		a.redis = rdb
		if err := pingRedis(ctx, rdb, 3*time.Second); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.log.Info("redis.enabled", "addr", a.cfg.RedisAddr)
	}
	return nil
}

func (a *App) newSessionStore(cfg session.Config) (session.Store, error) {
	switch cfg.Backend {
	case session.BackendPostgres:
		if a.dbPool == nil {
			return nil, errors.New("session store: postgres backend without database")
		}
		return session.NewPostgresStore(a.dbPool), nil
	case session.BackendRedis:
		if a.redis == nil {
			return nil, errors.New("session store: redis backend without redis")
		}
		return session.NewRedisStore(a.redis, cfg.RedisKeyPrefix, cfg.Retention), nil
	default:
		a.log.Warn("session.store.memory", "hint", "sessions are lost on restart")
		return session.NewMemoryStore(), nil
	}
}

func (a *App) newReplayGuard(cfg sso.Config) sso.ReplayGuard {
	if cfg.ReplayBackend == "redis" && a.redis != nil {
		return sso.NewRedisReplayGuard(a.redis, "")
	}
	return sso.NewMemoryReplayGuard()
}

func (a *App) newMembershipStore() (realtime.MembershipStore, error) {
	if a.dbPool == nil {
		a.log.Warn("realtime.membership.memory", "hint", "no database; every subscribe is refused")
		return realtime.NewMemoryMembershipStore(), nil
	}
	return realtime.NewPostgresMembershipStore(a.dbPool)
}

// Run serves HTTP and runs the session retention sweeper until ctx is done or
// either fails.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.redis, a.metrics, a.ws, a.auth)

	var handler http.Handler = mux
	handler = WithCORS(handler, a.cfg, a.log)
	handler = WithSecurityHeaders(handler)
	handler = WithRequestLogging(handler, a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", base,
		"ws_url", wsBaseURL(base)+"/ws",
		"db_enabled", a.dbPool != nil,
		"redis_enabled", a.redis != nil,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		return a.sessions.RunCleanup(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err := g.Wait()
	a.close()
	a.log.Info("server.stopped")
	return err
}

func (a *App) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
		a.redis = nil
	}
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
