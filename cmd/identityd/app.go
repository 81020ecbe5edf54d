package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/internal/config"
	"github.com/MrEthical07/goIdentity/mail"
	"github.com/MrEthical07/goIdentity/store/memory"
	"github.com/MrEthical07/goIdentity/store/postgres"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// app holds the process-wide dependencies shared by subcommands.
type app struct {
	env    config.Env
	logger *slog.Logger
	engine *goIdentity.Engine

	closers []func() error
}

func (a *app) Close() error {
	if a.engine != nil {
		a.engine.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// openApp connects Redis, the credential store and the mailer and builds
// the engine. Demo mode swaps in an in-process Redis and a memory store.
func openApp(ctx context.Context, env config.Env) (*app, error) {
	logger, err := env.Logger(os.Stderr)
	if err != nil {
		return nil, err
	}
	a := &app{env: env, logger: logger}

	cfg, err := env.EngineConfig()
	if err != nil {
		return nil, err
	}

	rdb, err := a.openRedis()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	store, err := a.openStore(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	mailer, err := a.openMailer()
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.engine, err = goIdentity.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(store).
		WithMailer(mailer).
		WithLogger(logger).
		WithAuditSink(goIdentity.NewSlogSink(logger.With("component", "audit"))).
		Build()
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("build engine: %w", err)
	}
	return a, nil
}

func (a *app) openRedis() (redis.UniversalClient, error) {
	if a.env.Demo {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start demo redis: %w", err)
		}
		a.closers = append(a.closers, func() error { mr.Close(); return nil })
		a.logger.Warn("demo mode: using in-process redis", "addr", mr.Addr())
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		a.closers = append(a.closers, rdb.Close)
		return rdb, nil
	}

	opts, err := redis.ParseURL(a.env.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	a.closers = append(a.closers, rdb.Close)
	return rdb, nil
}

func (a *app) openStore(ctx context.Context) (goIdentity.CredentialStore, error) {
	if a.env.DatabaseURL == "" {
		a.logger.Warn("no database configured: users are kept in memory")
		return memory.New(), nil
	}
	pg, err := postgres.Open(ctx, a.env.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pg.Close)
	return pg, nil
}

func (a *app) openMailer() (goIdentity.Mailer, error) {
	if a.env.AMQPURL == "" {
		return mail.NewLogMailer(a.logger.With("component", "mail")), nil
	}
	m, err := mail.DialAMQP(a.env.AMQPURL, a.env.MailQueue)
	if err != nil {
		return nil, fmt.Errorf("amqp: %w", err)
	}
	a.closers = append(a.closers, m.Close)
	return m, nil
}
