package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/app"
)

// Переменные окружения сервиса.
const (
	envOpsAddr = "POS_OPS_ADDR"

	envStorageDriver       = "POS_STORAGE_DRIVER"
	envPostgresDSN         = "POS_POSTGRES_DSN"
	envPostgresAutoMigrate = "POS_POSTGRES_AUTO_MIGRATE"

	envRedisAddr       = "POS_REDIS_ADDR"
	envRedisPassword   = "POS_REDIS_PASSWORD"
	envRedisDB         = "POS_REDIS_DB"
	envProductCacheTTL = "POS_PRODUCT_CACHE_TTL"

	envKafkaBrokers = "POS_KAFKA_BROKERS"

	envGatewayBaseURL        = "POS_GATEWAY_BASE_URL"
	envGatewayConsumerKey    = "POS_GATEWAY_CONSUMER_KEY"
	envGatewayConsumerSecret = "POS_GATEWAY_CONSUMER_SECRET"
	envGatewayShortcode      = "POS_GATEWAY_SHORTCODE"
	envGatewayPasskey        = "POS_GATEWAY_PASSKEY"
	envGatewayCallbackURL    = "POS_GATEWAY_CALLBACK_URL"
	envAllowMockGateway      = "POS_ALLOW_MOCK_GATEWAY"

	envBreakerMaxFailures  = "POS_BREAKER_MAX_FAILURES"
	envBreakerResetTimeout = "POS_BREAKER_RESET_TIMEOUT"

	envDrainPollInterval = "POS_DRAIN_POLL_INTERVAL"
	envDrainBatchSize    = "POS_DRAIN_BATCH_SIZE"
	envDrainStaleAfter   = "POS_DRAIN_STALE_AFTER"

	envPurgeInterval       = "POS_PURGE_INTERVAL"
	envPurgeBatchSize      = "POS_PURGE_BATCH_SIZE"
	envCompletedRetention  = "POS_COMPLETED_RETENTION"
	envDeadLetterRetention = "POS_DEAD_LETTER_RETENTION"

	envExpiryPollInterval    = "POS_EXPIRY_POLL_INTERVAL"
	envPendingPaymentTimeout = "POS_PENDING_PAYMENT_TIMEOUT"
	envExpiryBatchSize       = "POS_EXPIRY_BATCH_SIZE"
)

// envLookup абстрагирует доступ к переменным окружения для тестов.
type envLookup func(key string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "y", "yes", "on":
		return true, nil
	case "0", "f", "false", "n", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, constraint string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q", raw)
	}
	if !valid(value) {
		return 0, fmt.Errorf("value %d is out of range: %s", value, constraint)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, constraint string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q", raw)
	}
	if !valid(value) {
		return 0, fmt.Errorf("value %s is out of range: %s", value, constraint)
	}
	return value, nil
}

// readConfigFromEnv собирает конфигурацию из переменных окружения.
// Некорректные значения не прерывают запуск: для них остаётся значение
// по умолчанию, а предупреждение попадает в лог.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string

	setString := func(key string, target *string) {
		if raw, ok := lookup(key); ok {
			*target = strings.TrimSpace(raw)
		}
	}
	setBool := func(key string, target *bool) {
		raw, ok := lookup(key)
		if !ok {
			return
		}
		value, err := parseBool(raw)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*target = value
	}
	setInt := func(key string, target *int, valid func(int) bool, constraint string) {
		raw, ok := lookup(key)
		if !ok {
			return
		}
		value, err := parseInt(raw, valid, constraint)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*target = value
	}
	setDuration := func(key string, target *time.Duration, valid func(time.Duration) bool, constraint string) {
		raw, ok := lookup(key)
		if !ok {
			return
		}
		value, err := parseDuration(raw, valid, constraint)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*target = value
	}

	positiveInt := func(v int) bool { return v > 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }
	nonNegativeInt := func(v int) bool { return v >= 0 }

	setString(envOpsAddr, &cfg.OpsAddr)

	if raw, ok := lookup(envStorageDriver); ok {
		cfg.StorageDriver = strings.ToLower(strings.TrimSpace(raw))
	}
	setString(envPostgresDSN, &cfg.PostgresDSN)
	setBool(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)

	setString(envRedisAddr, &cfg.RedisAddr)
	setString(envRedisPassword, &cfg.RedisPassword)
	setInt(envRedisDB, &cfg.RedisDB, nonNegativeInt, "must be >= 0")
	setDuration(envProductCacheTTL, &cfg.ProductCacheTTL, positiveDuration, "must be > 0")

	setString(envKafkaBrokers, &cfg.KafkaBrokers)

	setString(envGatewayBaseURL, &cfg.GatewayBaseURL)
	setString(envGatewayConsumerKey, &cfg.GatewayConsumerKey)
	setString(envGatewayConsumerSecret, &cfg.GatewayConsumerSecret)
	setString(envGatewayShortcode, &cfg.GatewayShortcode)
	setString(envGatewayPasskey, &cfg.GatewayPasskey)
	setString(envGatewayCallbackURL, &cfg.GatewayCallbackURL)
	setBool(envAllowMockGateway, &cfg.AllowMockGateway)

	setInt(envBreakerMaxFailures, &cfg.BreakerMaxFailures, positiveInt, "must be > 0")
	setDuration(envBreakerResetTimeout, &cfg.BreakerResetTimeout, positiveDuration, "must be > 0")

	setDuration(envDrainPollInterval, &cfg.DrainPollInterval, positiveDuration, "must be > 0")
	setInt(envDrainBatchSize, &cfg.DrainBatchSize, positiveInt, "must be > 0")
	setDuration(envDrainStaleAfter, &cfg.DrainStaleAfter, positiveDuration, "must be > 0")

	setDuration(envPurgeInterval, &cfg.PurgeInterval, positiveDuration, "must be > 0")
	setInt(envPurgeBatchSize, &cfg.PurgeBatchSize, positiveInt, "must be > 0")
	setDuration(envCompletedRetention, &cfg.CompletedRetention, positiveDuration, "must be > 0")
	setDuration(envDeadLetterRetention, &cfg.DeadLetterRetention, positiveDuration, "must be > 0")

	setDuration(envExpiryPollInterval, &cfg.ExpiryPollInterval, positiveDuration, "must be > 0")
	setDuration(envPendingPaymentTimeout, &cfg.PendingPaymentTimeout, positiveDuration, "must be > 0")
	setInt(envExpiryBatchSize, &cfg.ExpiryBatchSize, positiveInt, "must be > 0")

	return cfg, warnings
}

func main() {
	// .env нужен только для локального запуска, его отсутствие не ошибка.
	_ = godotenv.Load()

	setupLogger()

	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, warning := range warnings {
		log.Warnf("config: %s", warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"ops_addr":       cfg.OpsAddr,
		"storage_driver": cfg.StorageDriver,
	}).Info("запускаем POS-сервис")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("POS-сервис остановлен")
}
