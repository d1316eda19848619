package app

import (
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestInitKafkaProducer_EmptyBrokers(t *testing.T) {
	logger := log.New().WithField("test", "kafka")

	producer, err := initKafkaProducer("", logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if producer != nil {
		t.Error("expected nil producer when brokers are not configured")
	}
}

func TestInitKafkaProducer_UnreachableBroker(t *testing.T) {
	logger := log.New().WithField("test", "kafka")

	producer, err := initKafkaProducer("127.0.0.1:1", logger)
	if err == nil {
		t.Error("expected error for unreachable broker")
	}
	if producer != nil {
		t.Error("expected nil producer on connection failure")
	}
}

func TestCloseKafka_NilProducer(t *testing.T) {
	logger := log.New().WithField("test", "kafka")

	// Не должно паниковать.
	closeKafka(nil, logger)
}
