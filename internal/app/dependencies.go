package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/cache"
	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/service/gateway"
	"github.com/vladislavdragonenkov/pos/internal/service/inventory"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
	"github.com/vladislavdragonenkov/pos/internal/storage/postgres"
)

// Dependencies содержит все зависимости приложения.
type Dependencies struct {
	Products domain.ProductRepository
	Sales    domain.SaleRepository
	Queue    domain.SyncQueueRepository
	Audit    domain.AuditRepository
	Guard    domain.InventoryGuard
	Gateway  domain.PaymentGateway
	Logger   *log.Entry

	store      *postgres.Store
	redisCache *cache.RedisProductCache
}

// NewDependencies собирает зависимости приложения по конфигурации:
// выбор хранилища, опциональный Redis-кэш каталога и платёжный шлюз.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{Logger: logger}

	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		deps.Products = memory.NewProductRepository()
		deps.Sales = memory.NewSaleRepository()
		deps.Queue = memory.NewSyncQueueRepository()
		deps.Audit = memory.NewAuditRepository()
		logger.Info("using in-memory storage")
	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}
		deps.store = store
		deps.Products = postgres.NewProductRepository(store)
		deps.Sales = postgres.NewSaleRepository(store)
		deps.Queue = postgres.NewSyncQueueRepository(store)
		deps.Audit = postgres.NewAuditRepository(store)
		logger.Info("using postgres storage")
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}

	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisProductCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.WithError(err).Warn("redis is not reachable, continuing without product cache")
			_ = redisCache.Close()
		} else {
			deps.redisCache = redisCache
			deps.Products = cache.NewCachedProductRepository(deps.Products, redisCache, cfg.ProductCacheTTL, logger)
			logger.WithField("addr", cfg.RedisAddr).Info("product cache initialized")
		}
	}

	deps.Guard = inventory.NewGuard(deps.Products, deps.Audit, logger)

	paymentGateway, err := buildGateway(cfg, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Gateway = paymentGateway

	return deps, nil
}

// buildGateway выбирает реальный шлюз за circuit breaker или mock.
func buildGateway(cfg Config, logger *log.Entry) (domain.PaymentGateway, error) {
	if cfg.GatewayBaseURL != "" {
		client := gateway.NewClient(gateway.Config{
			BaseURL:        cfg.GatewayBaseURL,
			ConsumerKey:    cfg.GatewayConsumerKey,
			ConsumerSecret: cfg.GatewayConsumerSecret,
			Shortcode:      cfg.GatewayShortcode,
			Passkey:        cfg.GatewayPasskey,
			CallbackURL:    cfg.GatewayCallbackURL,
		}, logger)
		breaker := gateway.NewCircuitBreaker(cfg.BreakerMaxFailures, cfg.BreakerResetTimeout, logger)
		return gateway.NewBreakerGateway(client, breaker), nil
	}

	if !cfg.AllowMockGateway {
		return nil, fmt.Errorf("payment gateway is not configured and mock gateway is not allowed")
	}

	logger.Warn("payment gateway is not configured, using mock gateway")
	return gateway.NewMock(), nil
}

// Store возвращает postgres-хранилище, если оно сконфигурировано.
func (d *Dependencies) Store() *postgres.Store {
	return d.store
}

// RedisCache возвращает Redis-кэш, если он сконфигурирован.
func (d *Dependencies) RedisCache() *cache.RedisProductCache {
	return d.redisCache
}

// Close освобождает внешние подключения.
func (d *Dependencies) Close() {
	if d.redisCache != nil {
		if err := d.redisCache.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close redis cache")
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close postgres store")
		}
	}
}
