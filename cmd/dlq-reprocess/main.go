// Утилита перезапуска dead-letter элементов офлайн-очереди.
//
// Элементы, исчерпавшие бюджет повторов, drain-воркер публикует в топик
// pos.dlq. После устранения причины сбоя оператор возвращает их в работу:
// утилита читает DLQ и ставит элементы обратно в очередь синхронизации
// со сброшенным счётчиком повторов. По умолчанию работает в режиме
// dry-run и только печатает кандидатов.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/pos/internal/storage/postgres"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
	defaultOpenTimeout = 10 * time.Second
)

type config struct {
	brokers     []string
	sourceTopic string
	postgresDSN string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaConsumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

var newReplayDependencies = func(ctx context.Context, cfg config) (offsetClient, partitionConsumerSource, domain.SyncQueueRepository, func(), error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	consumer := saramaConsumerAdapter{consumer: rawConsumer}

	if !cfg.execute {
		return client, consumer, nil, func() {}, nil
	}

	openCtx, cancel := context.WithTimeout(ctx, defaultOpenTimeout)
	defer cancel()

	store, err := postgres.Open(openCtx, cfg.postgresDSN)
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, nil, fmt.Errorf("open postgres store: %w", err)
	}

	queue := postgres.NewSyncQueueRepository(store)
	return client, consumer, queue, func() { _ = store.Close() }, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	_ = godotenv.Load()

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}

	if err := run(context.Background(), cfg); err != nil {
		fail("dlq reprocess failed: %v", err)
	}
}

func readConfig() (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	flag.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: POS_KAFKA_BROKERS)")
	flag.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ source topic")
	flag.StringVar(&cfg.postgresDSN, "dsn", "", "PostgreSQL DSN for the sync queue (fallback: POS_POSTGRES_DSN)")
	flag.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan/requeue")
	flag.BoolVar(&cfg.execute, "execute", false, "execute requeue; default is dry-run")
	flag.BoolVar(&cfg.fromNewest, "from-newest", false, "scan latest messages first (bounded by limit)")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("POS_KAFKA_BROKERS")
	}
	if strings.TrimSpace(cfg.postgresDSN) == "" {
		cfg.postgresDSN = strings.TrimSpace(os.Getenv("POS_POSTGRES_DSN"))
	}

	cfg.brokers = parseBrokers(brokersRaw)
	if len(cfg.brokers) == 0 {
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or POS_KAFKA_BROKERS)")
	}
	if strings.TrimSpace(cfg.sourceTopic) == "" {
		return config{}, fmt.Errorf("source-topic is required")
	}
	if cfg.execute && cfg.postgresDSN == "" {
		return config{}, fmt.Errorf("postgres dsn is required in execute mode (-dsn or POS_POSTGRES_DSN)")
	}
	if cfg.limit <= 0 {
		return config{}, fmt.Errorf("limit must be > 0")
	}
	if cfg.idleTimeout <= 0 {
		return config{}, fmt.Errorf("idle-timeout must be > 0")
	}

	return cfg, nil
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		broker := strings.TrimSpace(chunk)
		if broker == "" {
			continue
		}
		brokers = append(brokers, broker)
	}
	return brokers
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
		"from_newest":  cfg.fromNewest,
	}).Info("starting dlq reprocess")

	client, consumer, queue, cleanup, err := newReplayDependencies(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cleanup != nil {
			cleanup()
		}
		if consumer != nil {
			_ = consumer.Close()
		}
		if client != nil {
			_ = client.Close()
		}
	}()

	return runReplay(ctx, cfg, client, consumer, queue)
}

func runReplay(ctx context.Context, cfg config, client offsetClient, consumer partitionConsumerSource, queue domain.SyncQueueRepository) error {
	if client == nil || consumer == nil {
		return fmt.Errorf("kafka client and consumer are required")
	}
	if cfg.execute && queue == nil {
		return fmt.Errorf("sync queue repository is required in execute mode")
	}

	partitions, err := client.Partitions(cfg.sourceTopic)
	if err != nil {
		return fmt.Errorf("get partitions for topic %s: %w", cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", cfg.sourceTopic).Warn("source topic has no partitions")
		return nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	var (
		processed int
		requeued  int
		skipped   int
	)

	for _, partition := range partitions {
		if processed >= cfg.limit {
			break
		}

		remaining := cfg.limit - processed
		stats, err := processPartition(ctx, consumer, client, queue, cfg, partition, remaining)
		if err != nil {
			return err
		}

		processed += stats.processed
		requeued += stats.requeued
		skipped += stats.skipped
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}

	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": processed,
		"requeued":  requeued,
		"skipped":   skipped,
	}).Info("dlq reprocess finished")

	return nil
}

type partitionStats struct {
	processed int
	requeued  int
	skipped   int
}

func processPartition(
	ctx context.Context,
	consumer partitionConsumerSource,
	client offsetClient,
	queue domain.SyncQueueRepository,
	cfg config,
	partition int32,
	limit int,
) (partitionStats, error) {
	var stats partitionStats
	if limit <= 0 {
		return stats, nil
	}

	oldest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	startOffset := oldest
	if cfg.fromNewest {
		startOffset = newest - int64(limit)
		if startOffset < oldest {
			startOffset = oldest
		}
	}

	pc, err := consumer.ConsumePartition(cfg.sourceTopic, partition, startOffset)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	endOffset := newest
	idleTimer := time.NewTimer(cfg.idleTimeout)
	defer idleTimer.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case err := <-pc.Errors():
			if err != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, err)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil {
				return stats, nil
			}

			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(cfg.idleTimeout)

			if msg.Offset >= endOffset {
				return stats, nil
			}

			item, ok, err := extractQueueItem(msg)
			if err != nil {
				stats.processed++
				stats.skipped++
				log.WithError(err).WithFields(log.Fields{
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Warn("skip unsupported dlq message")
				continue
			}
			if !ok {
				stats.processed++
				stats.skipped++
				continue
			}

			if cfg.execute {
				if _, err := queue.Enqueue(item); err != nil {
					return stats, fmt.Errorf("requeue item %s: %w", item.IdempotencyKey, err)
				}
				stats.requeued++
			} else {
				log.WithFields(log.Fields{
					"partition": msg.Partition,
					"offset":    msg.Offset,
					"item_type": item.Type,
					"item_id":   item.IdempotencyKey,
				}).Info("dlq requeue candidate")
				stats.requeued++
			}

			stats.processed++

			if msg.Offset+1 >= endOffset {
				return stats, nil
			}
		case <-idleTimer.C:
			return stats, nil
		}
	}

	return stats, nil
}

// extractQueueItem восстанавливает элемент очереди из dead-letter события.
// Идентификатор исходного элемента становится ключом идемпотентности:
// повторный запуск утилиты по тем же сообщениям безопасен для обработчиков.
func extractQueueItem(msg *sarama.ConsumerMessage) (domain.SyncQueueItem, bool, error) {
	var event kafka.DeadLetterEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return domain.SyncQueueItem{}, false, nil
	}
	if event.EventType != kafka.EventTypeSyncDeadLetter {
		return domain.SyncQueueItem{}, false, nil
	}
	if len(event.Payload) == 0 {
		return domain.SyncQueueItem{}, false, fmt.Errorf("dead-letter event %s does not contain original payload", event.ItemID)
	}

	itemType := domain.SyncItemType(event.ItemType)
	if !itemType.Valid() {
		return domain.SyncQueueItem{}, false, fmt.Errorf("dead-letter event %s has unknown item type %q", event.ItemID, event.ItemType)
	}

	return domain.SyncQueueItem{
		Type:           itemType,
		Payload:        event.Payload,
		IdempotencyKey: event.ItemID,
	}, true, nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
