package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	goMembership "github.com/MrEthical07/goMembership"
	"github.com/MrEthical07/goMembership/repository"
	"github.com/MrEthical07/goMembership/repository/memory"
	"github.com/MrEthical07/goMembership/repository/mongo"
	"github.com/MrEthical07/goMembership/repository/postgres"
)

// app owns the connections opened by a single command.
type app struct {
	store  string
	logger *slog.Logger

	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// postgresPool connects using PG_* variables.
func (a *app) postgresPool(ctx context.Context) (*pgxpool.Pool, postgres.Config, error) {
	_ = godotenv.Load()

	var cfg postgres.Config
	if err := env.Parse(&cfg); err != nil {
		return nil, cfg, fmt.Errorf("postgres config: %w", err)
	}
	pool, err := postgres.Connect(ctx, cfg)
	if err != nil {
		return nil, cfg, err
	}
	a.onClose(pool.Close)
	return pool, cfg, nil
}

func (a *app) users(ctx context.Context) (repository.UserRepository, error) {
	switch a.store {
	case "memory":
		return memory.NewUsers(), nil
	case "postgres":
		pool, _, err := a.postgresPool(ctx)
		if err != nil {
			return nil, err
		}
		return postgres.NewUsers(pool), nil
	case "mongo":
		_ = godotenv.Load()

		var cfg mongo.Config
		if err := env.Parse(&cfg); err != nil {
			return nil, fmt.Errorf("mongo config: %w", err)
		}
		users, client, err := mongo.Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.onClose(func() { _ = client.Disconnect(context.Background()) })
		return users, nil
	}
	return nil, fmt.Errorf("unknown store %q", a.store)
}

// engine builds an Engine over the selected user store. Sessions go to
// REDIS_ADDR when set and to memory otherwise; failed attempts are only
// counted with Redis.
func (a *app) engine(ctx context.Context) (*goMembership.Engine, error) {
	cfg, err := goMembership.LoadConfig()
	if err != nil {
		return nil, err
	}
	users, err := a.users(ctx)
	if err != nil {
		return nil, err
	}

	b := goMembership.New().
		WithConfig(cfg).
		WithLogger(a.logger).
		WithUserRepository(users)

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		a.onClose(func() { _ = rdb.Close() })
		b = b.WithRedis(rdb)
	} else {
		b = b.WithSessionRepository(memory.NewSessions())
	}

	engine, err := b.Build()
	if err != nil {
		return nil, err
	}
	a.onClose(engine.Close)
	return engine, nil
}
