package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wrale/phantom/internal/csrf"
	"github.com/wrale/phantom/internal/deviceflow"
	"github.com/wrale/phantom/internal/session"
)

const connectTimeout = 5 * time.Second

// backends holds the stores selected by STORE_BACKEND
type backends struct {
	devices  deviceflow.Store
	csrf     csrf.Store
	sessions session.Store
	closers  []func() error
}

// openBackends connects the configured stores. The mongo backend keeps
// browser state in redis when REDIS_URL is set and in memory otherwise.
func openBackends(ctx context.Context, cfg Config, logger zerolog.Logger) (*backends, error) {
	b := &backends{}

	switch cfg.StoreBackend {
	case backendRedis:
		client, err := b.connectRedis(ctx, cfg.RedisURL)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.devices = deviceflow.NewRedisStore(client, cfg.RetainExpired)
		b.useRedisBrowserState(client)
		logger.Info().Str("backend", backendRedis).Msg("using redis store")

	case backendMongo:
		db, err := b.connectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			b.Close()
			return nil, err
		}
		store := deviceflow.NewMongoStore(db, cfg.RetainExpired)
		if err := store.EnsureIndexes(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("creating mongo indexes: %w", err)
		}
		b.devices = store

		if cfg.RedisURL != "" {
			client, err := b.connectRedis(ctx, cfg.RedisURL)
			if err != nil {
				b.Close()
				return nil, err
			}
			b.useRedisBrowserState(client)
		} else {
			b.useMemoryBrowserState()
			logger.Warn().Msg("REDIS_URL not set, browser sessions are kept in memory")
		}
		logger.Info().Str("backend", backendMongo).Str("database", cfg.MongoDatabase).Msg("using mongo store")

	case backendMemory:
		b.devices = deviceflow.NewMemoryStore()
		b.useMemoryBrowserState()
		logger.Warn().Msg("using in-memory store, state is lost on restart")
	}

	return b, nil
}

func (b *backends) connectRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	b.closers = append(b.closers, client.Close)

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

func (b *backends) connectMongo(ctx context.Context, uri, database string) (*mongo.Database, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetConnectTimeout(connectTimeout))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	b.closers = append(b.closers, func() error { return client.Disconnect(context.Background()) })

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}
	return client.Database(database), nil
}

func (b *backends) useRedisBrowserState(client *redis.Client) {
	b.csrf = csrf.NewRedisStore(client)
	b.sessions = session.NewRedisStore(client)
}

func (b *backends) useMemoryBrowserState() {
	csrfStore := csrf.NewMemoryStore()
	sessionStore := session.NewMemoryStore()
	b.csrf = csrfStore
	b.sessions = sessionStore
	b.closers = append(b.closers,
		func() error { csrfStore.Stop(); return nil },
		func() error { sessionStore.Stop(); return nil },
	)
}

// Close releases connections in reverse order of opening
func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
