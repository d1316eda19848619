package app

import (
	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/pos/internal/service/sale"
)

// createOrchestrator создаёт sale orchestrator с или без Kafka в зависимости
// от наличия kafka producer.
func createOrchestrator(
	deps *Dependencies,
	kafkaProducer *kafka.Producer,
) sale.Orchestrator {
	if kafkaProducer != nil {
		return sale.NewOrchestratorWithKafka(
			deps.Sales,
			deps.Products,
			deps.Guard,
			deps.Gateway,
			kafkaProducer,
			deps.Logger,
		)
	}

	return sale.NewOrchestrator(
		deps.Sales,
		deps.Products,
		deps.Guard,
		deps.Gateway,
		deps.Logger,
	)
}
