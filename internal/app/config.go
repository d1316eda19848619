package app

import (
	"time"

	"github.com/vladislavdragonenkov/pos/internal/cache"
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	// OpsAddr — адрес служебного HTTP-сервера: метрики, health и callback шлюза.
	OpsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	ProductCacheTTL time.Duration

	KafkaBrokers string

	// Параметры провайдера push-платежей. Пустой GatewayBaseURL означает
	// работу с mock-шлюзом (локальная разработка и тесты).
	GatewayBaseURL        string
	GatewayConsumerKey    string
	GatewayConsumerSecret string
	GatewayShortcode      string
	GatewayPasskey        string
	GatewayCallbackURL    string
	AllowMockGateway      bool

	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration

	DrainPollInterval time.Duration
	DrainBatchSize    int
	// DrainStaleAfter — порог, после которого processing-элемент очереди
	// считается брошенным умершим проходом drain и возвращается в pending.
	DrainStaleAfter time.Duration

	PurgeInterval       time.Duration
	PurgeBatchSize      int
	CompletedRetention  time.Duration
	DeadLetterRetention time.Duration

	ExpiryPollInterval    time.Duration
	PendingPaymentTimeout time.Duration
	ExpiryBatchSize       int
}

// DefaultConfig возвращает базовую конфигурацию для локального запуска.
func DefaultConfig() Config {
	return Config{
		OpsAddr:             ":9090",
		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		ProductCacheTTL: cache.DefaultProductTTL,

		AllowMockGateway:    true,
		BreakerMaxFailures:  5,
		BreakerResetTimeout: 30 * time.Second,

		DrainPollInterval: 5 * time.Second,
		DrainBatchSize:    100,
		DrainStaleAfter:   5 * time.Minute,

		PurgeInterval:       10 * time.Minute,
		PurgeBatchSize:      500,
		CompletedRetention:  24 * time.Hour,
		DeadLetterRetention: 7 * 24 * time.Hour,

		ExpiryPollInterval:    30 * time.Second,
		PendingPaymentTimeout: 3 * time.Minute,
		ExpiryBatchSize:       50,
	}
}
