package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/samber/do/v2"

	"github.com/alem-hub/progression-engine/config"
	"github.com/alem-hub/progression-engine/internal/domain/progression"
	"github.com/alem-hub/progression-engine/internal/domain/shared"
	"github.com/alem-hub/progression-engine/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/progression-engine/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/progression-engine/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/progression-engine/pkg/circuitbreaker"
	"github.com/alem-hub/progression-engine/pkg/logger"
)

// StorageHandle groups the persistence ports. Conn is nil in memory mode.
type StorageHandle struct {
	Store        progression.Store
	Ledger       progression.Ledger
	Achievements progression.AchievementCatalog
	Challenges   progression.ChallengeCatalog

	// Conn is shared with DatabaseHandle, which closes it.
	Conn *postgres.Connection
}

// DatabaseHandle owns the PostgreSQL connection. Conn is nil when no
// database is configured.
type DatabaseHandle struct {
	Conn *postgres.Connection
}

// Shutdown implements do.Shutdownable.
func (h *DatabaseHandle) Shutdown() error {
	if h.Conn == nil {
		return nil
	}
	return h.Conn.Shutdown()
}

// ProvideDatabase connects to PostgreSQL, without migrating or syncing
// anything, so that migration tooling can use it on an empty database.
func ProvideDatabase(i do.Injector) (*DatabaseHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i).With(logger.Component("database"))

	if cfg.UseMemoryStore() {
		return &DatabaseHandle{}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	pgCfg := postgres.DefaultConfig()
	pgCfg.URL = cfg.Database.URL
	pgCfg.MaxConns = int32(cfg.Database.MaxConns)
	pgCfg.MinConns = int32(cfg.Database.MinConns)
	pgCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	pgCfg.MaxConnIdleTime = cfg.Database.MaxConnIdleTime
	pgCfg.HealthCheckPeriod = cfg.Database.HealthCheckPeriod
	pgCfg.QueryTimeout = cfg.Database.QueryTimeout

	log.Info("connecting to database...")
	conn, err := postgres.NewConnection(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info("database connection established")
	return &DatabaseHandle{Conn: conn}, nil
}

// ProvideStorage provides PostgreSQL persistence, or the in-memory store
// when no database is configured. The catalog file, if any, is loaded here.
func ProvideStorage(i do.Injector) (*StorageHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i).With(logger.Component("storage"))

	var catalog *config.Catalog
	if cfg.App.CatalogPath != "" {
		c, err := config.LoadCatalog(cfg.App.CatalogPath)
		if err != nil {
			return nil, err
		}
		catalog = c
	}

	if cfg.UseMemoryStore() {
		log.Warn("DATABASE_URL is not set, using in-memory store")
		return memoryStorage(catalog), nil
	}

	db, err := do.Invoke[*DatabaseHandle](i)
	if err != nil {
		return nil, err
	}
	conn := db.Conn

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	if cfg.Database.AutoMigrate {
		log.Info("running database migrations...")
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	pgCatalog := postgres.NewCatalog(conn)
	if catalog != nil {
		if err := syncCatalog(ctx, pgCatalog, catalog); err != nil {
			return nil, err
		}
		log.Info("catalog synced",
			"achievements", len(catalog.Achievements),
			"challenges", len(catalog.Challenges),
		)
	}

	// Conflicts and missing users are answers, not outages.
	breaker := circuitbreaker.New("postgres",
		circuitbreaker.WithIsFailure(func(err error) bool {
			return errors.Is(err, shared.ErrUnavailable)
		}),
		circuitbreaker.WithOnStateChange(logStateChange(log)),
	)
	store := postgres.NewStore(conn, postgres.WithBreaker(breaker))

	return &StorageHandle{
		Store:        store,
		Ledger:       store,
		Achievements: pgCatalog,
		Challenges:   pgCatalog,
		Conn:         conn,
	}, nil
}

func memoryStorage(catalog *config.Catalog) *StorageHandle {
	store := memory.NewStore()

	var memCatalog *memory.Catalog
	if catalog != nil {
		memCatalog = memory.NewCatalog(catalog.Achievements...)
		for _, ch := range catalog.Challenges {
			memCatalog.AddChallenge(ch)
		}
	} else {
		memCatalog = memory.NewCatalog()
	}

	return &StorageHandle{
		Store:        store,
		Ledger:       store,
		Achievements: memCatalog,
		Challenges:   memCatalog,
	}
}

func syncCatalog(ctx context.Context, pg *postgres.Catalog, catalog *config.Catalog) error {
	if err := pg.SyncAchievements(ctx, catalog.Achievements); err != nil {
		return fmt.Errorf("failed to sync achievements: %w", err)
	}
	if err := pg.SyncChallenges(ctx, catalog.Challenges); err != nil {
		return fmt.Errorf("failed to sync challenges: %w", err)
	}
	return nil
}

// RedisHandle wraps the optional Redis client. Cache is nil when Redis is
// disabled or unreachable at startup.
type RedisHandle struct {
	Cache *redis.Cache
}

// Shutdown implements do.Shutdownable.
func (h *RedisHandle) Shutdown() error {
	if h.Cache == nil {
		return nil
	}
	return h.Cache.Shutdown()
}

// ProvideRedis provides the Redis client. Redis is optional: a failed
// connection is logged and the in-process fallbacks are used instead.
func ProvideRedis(i do.Injector) (*RedisHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i).With(logger.Component("redis"))

	if cfg.Redis.Disabled {
		log.Info("redis disabled, using in-process rank index and locks")
		return &RedisHandle{}, nil
	}

	redisCfg := redis.DefaultConfig()
	redisCfg.Host = cfg.Redis.Host
	redisCfg.Port = cfg.Redis.Port
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	redisCfg.PoolSize = cfg.Redis.PoolSize
	redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
	redisCfg.DialTimeout = cfg.Redis.DialTimeout
	redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
	redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

	log.Info("connecting to Redis...", "addr", redisCfg.Addr())
	cache, err := redis.NewCache(redisCfg)
	if err != nil {
		if cfg.IsProduction() {
			return nil, err
		}
		log.Warn("failed to connect to Redis, using in-process fallbacks", logger.Err(err))
		return &RedisHandle{}, nil
	}

	log.Info("Redis connection established")
	return &RedisHandle{Cache: cache}, nil
}

// ProvideLocker provides the per-user lock: Redis when available so several
// workers can share users, otherwise in-process.
func ProvideLocker(i do.Injector) (progression.UserLocker, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	rh := do.MustInvoke[*RedisHandle](i)

	if rh.Cache == nil {
		return memory.NewLocker(), nil
	}
	return redis.NewLocker(rh.Cache, cfg.Redis.LockTTL, log), nil
}

// ProvideRankIndex provides the rank index backed by the store and, when
// Redis is available, sorted-set rank caches.
func ProvideRankIndex(i do.Injector) (*progression.RankIndex, error) {
	log := do.MustInvoke[*slog.Logger](i)
	storage := do.MustInvoke[*StorageHandle](i)
	rh := do.MustInvoke[*RedisHandle](i)

	var cache progression.RankCache
	if rh.Cache != nil {
		cache = redis.NewRankCache(rh.Cache, circuitbreaker.RankCacheBreaker(logStateChange(log)))
	}
	return progression.NewRankIndex(storage.Store, cache, log), nil
}

func logStateChange(log *slog.Logger) func(name string, from, to circuitbreaker.State) {
	return func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed",
			"breaker", name,
			"from", from.String(),
			"to", to.String(),
		)
	}
}
