// Package sale реализует оркестратор продаж: тарификация корзины,
// атомарное списание остатков, фиксация продажи и финализация
// асинхронных платежей по callback шлюза.
package sale

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/pos/internal/metrics"
	"github.com/vladislavdragonenkov/pos/internal/service/pricing"
)

// CartLine — одна строка корзины в запросе на продажу.
type CartLine struct {
	ProductID string
	Quantity  int32
	// TierID — явный выбор оптового порога; пустая строка для автоподбора.
	TierID string
}

// SubmitRequest — запрос на фиксацию продажи.
type SubmitRequest struct {
	ActorID       string
	Method        domain.PaymentMethod
	Lines         []CartLine
	DiscountMinor int64
	// PaidMinor — внесённая сумма. Обязательна для наличных; для карты и
	// split нулевое значение трактуется как оплата точно в итог.
	PaidMinor     int64
	CustomerName  string
	CustomerPhone string
	// PayerPhone — номер плательщика для push-платежа.
	PayerPhone string
	// IdempotencyKey заполняется только для продаж офлайн-происхождения.
	IdempotencyKey string
}

// StockChange — изменение остатка по одной строке успешной синхронной продажи.
type StockChange struct {
	ProductID     string
	PreviousStock int32
	NewStock      int32
}

// SubmitResult — результат фиксации продажи.
type SubmitResult struct {
	Sale domain.Sale
	// Duplicate выставляется, когда запрос разрешился по idempotency key
	// в ранее созданную продажу.
	Duplicate    bool
	StockChanges []StockChange
	// CustomerMessage — подсказка плательщику для асинхронного метода.
	CustomerMessage string
}

// Orchestrator описывает интерфейс управления продажами.
type Orchestrator interface {
	Submit(req SubmitRequest) (SubmitResult, error)
	FinalizeAsyncPayment(checkoutRequestID string, outcome domain.PaymentOutcome) (domain.Sale, bool, error)
	Void(saleID, actor, reason string) (domain.Sale, error)
	Refund(saleID string, amountMinor int64, actor, reason string) (domain.Sale, error)
	Get(saleID string) (domain.Sale, error)
	List(filter domain.SaleFilter) ([]domain.Sale, error)
}

// orchestrator реализует последовательность шагов продажи:
// Validate → Price → Decrement → Persist для синхронных методов,
// Validate → Price → Push → Persist(pending) для mobile money.
type orchestrator struct {
	sales         domain.SaleRepository
	products      domain.ProductRepository
	guard         domain.InventoryGuard
	gateway       domain.PaymentGateway
	logger        *log.Entry
	metrics       *metrics.SaleMetrics
	kafkaProducer *kafka.Producer // опциональный Kafka producer для event-driven архитектуры

	// seq — внутрипроцессный счётчик для генерации номеров продаж.
	seq uint64
}

// NewOrchestrator создаёт рабочий экземпляр оркестратора.
func NewOrchestrator(
	sales domain.SaleRepository,
	products domain.ProductRepository,
	guard domain.InventoryGuard,
	gateway domain.PaymentGateway,
	logger *log.Entry,
) Orchestrator {
	if logger == nil {
		logger = log.New().WithField("component", "sale")
	}
	return &orchestrator{
		sales:    sales,
		products: products,
		guard:    guard,
		gateway:  gateway,
		logger:   logger,
		metrics:  metrics.NewSaleMetrics(),
	}
}

// NewOrchestratorWithKafka создаёт оркестратор с Kafka producer для event-driven архитектуры.
func NewOrchestratorWithKafka(
	sales domain.SaleRepository,
	products domain.ProductRepository,
	guard domain.InventoryGuard,
	gateway domain.PaymentGateway,
	kafkaProducer *kafka.Producer,
	logger *log.Entry,
) Orchestrator {
	if logger == nil {
		logger = log.New().WithField("component", "sale")
	}
	return &orchestrator{
		sales:         sales,
		products:      products,
		guard:         guard,
		gateway:       gateway,
		logger:        logger,
		metrics:       metrics.NewSaleMetrics(),
		kafkaProducer: kafkaProducer,
	}
}

// NewOrchestratorWithoutMetrics создаёт оркестратор без метрик (для тестов).
func NewOrchestratorWithoutMetrics(
	sales domain.SaleRepository,
	products domain.ProductRepository,
	guard domain.InventoryGuard,
	gateway domain.PaymentGateway,
	logger *log.Entry,
) Orchestrator {
	if logger == nil {
		logger = log.New().WithField("component", "sale")
	}
	return &orchestrator{
		sales:    sales,
		products: products,
		guard:    guard,
		gateway:  gateway,
		logger:   logger,
		metrics:  nil, // Отключаем метрики для тестов
	}
}

// Submit фиксирует продажу. Для офлайн-происхождения повторная отправка
// с тем же idempotency key возвращает ранее созданную продажу без мутаций.
func (o *orchestrator) Submit(req SubmitRequest) (SubmitResult, error) {
	start := time.Now()
	if o.metrics != nil {
		o.metrics.RecordSaleSubmitted()
	}
	defer func() {
		if o.metrics != nil {
			o.metrics.RecordSubmitDuration(time.Since(start))
		}
	}()

	if err := o.validateRequest(req); err != nil {
		return SubmitResult{}, err
	}

	// Быстрый путь: ключ уже разрешён в продажу.
	if req.IdempotencyKey != "" {
		existing, err := o.sales.GetByIdempotencyKey(req.IdempotencyKey)
		if err == nil {
			if o.metrics != nil {
				o.metrics.RecordDuplicateSubmission()
			}
			o.logger.WithFields(log.Fields{
				"sale_id":         existing.ID,
				"idempotency_key": req.IdempotencyKey,
			}).Debug("submission resolved by idempotency key")
			return SubmitResult{Sale: existing, Duplicate: true}, nil
		}
		if !errors.Is(err, domain.ErrSaleNotFound) {
			return SubmitResult{}, err
		}
	}

	sale, err := o.priceCart(req)
	if err != nil {
		return SubmitResult{}, err
	}

	if req.Method.Async() {
		return o.submitAsync(req, sale)
	}
	return o.submitSync(req, sale)
}

// validateRequest отклоняет очевидно некорректные запросы до любых мутаций.
func (o *orchestrator) validateRequest(req SubmitRequest) error {
	if req.ActorID == "" {
		return domain.ErrActorRequired
	}
	if len(req.Lines) == 0 {
		return domain.ErrCartEmpty
	}
	if !req.Method.Valid() {
		return domain.ErrPaymentMethodUnknown
	}
	if req.DiscountMinor < 0 || req.PaidMinor < 0 {
		return domain.ErrAmountNegative
	}
	if req.Method.Async() && req.PayerPhone == "" {
		return domain.ErrPayerPhoneRequired
	}
	for _, line := range req.Lines {
		if line.ProductID == "" {
			return domain.ErrProductIDRequired
		}
		if line.Quantity <= 0 {
			return domain.ErrQuantityInvalid
		}
	}
	return nil
}

// priceCart тарифицирует корзину и собирает продажу со снимками цен.
// Пре-чек остатков здесь не финален: атомарная проверка выполняется
// Inventory Guard при списании.
func (o *orchestrator) priceCart(req SubmitRequest) (domain.Sale, error) {
	now := time.Now().UTC()
	saleID := uuid.NewString()
	number := o.nextNumber(now)

	var subtotal, tax int64
	items := make([]domain.SaleItem, 0, len(req.Lines))
	requested := make(map[string]int32, len(req.Lines))

	for _, line := range req.Lines {
		product, err := o.products.Get(line.ProductID)
		if err != nil {
			return domain.Sale{}, err
		}

		requested[product.ID] += line.Quantity
		if requested[product.ID] > product.StockQuantity {
			return domain.Sale{}, domain.ErrInsufficientStock
		}

		priced, err := pricing.ResolveLine(pricing.LineInput{
			Product:  product,
			Quantity: line.Quantity,
			TierID:   line.TierID,
		}, domain.DefaultVATRateBps)
		if err != nil {
			return domain.Sale{}, err
		}

		subtotal += priced.LineTotalMinor
		tax += priced.LineTaxMinor
		items = append(items, domain.SaleItem{
			ID:             uuid.NewString(),
			SaleID:         saleID,
			ProductID:      product.ID,
			ProductName:    product.Name,
			Quantity:       line.Quantity,
			TierID:         priced.TierID,
			UnitPriceMinor: priced.UnitPriceMinor,
			LineTotalMinor: priced.LineTotalMinor,
			LineTaxMinor:   priced.LineTaxMinor,
			CreatedAt:      now,
		})
	}

	total := subtotal + tax - req.DiscountMinor
	if total < 0 {
		return domain.Sale{}, domain.ErrAmountNegative
	}

	sale := domain.Sale{
		ID:             saleID,
		Number:         number,
		ActorID:        req.ActorID,
		SubtotalMinor:  subtotal,
		DiscountMinor:  req.DiscountMinor,
		TaxMinor:       tax,
		TotalMinor:     total,
		Method:         req.Method,
		CustomerName:   req.CustomerName,
		CustomerPhone:  req.CustomerPhone,
		IdempotencyKey: req.IdempotencyKey,
		Items:          items,
		Payment: domain.Payment{
			ID:          uuid.NewString(),
			SaleID:      saleID,
			AmountMinor: total,
			Method:      req.Method,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return sale, nil
}

// submitSync списывает остатки и фиксирует завершённую продажу как единое целое.
func (o *orchestrator) submitSync(req SubmitRequest, sale domain.Sale) (SubmitResult, error) {
	// Для карты и split терминал авторизует сумму точно в итог, внесённую
	// сумму клиент может не передавать. Для наличных она обязательна.
	if req.PaidMinor == 0 && req.Method != domain.PaymentMethodCash {
		req.PaidMinor = sale.TotalMinor
	}
	if req.PaidMinor < sale.TotalMinor {
		return SubmitResult{}, domain.ErrPaidAmountInsufficient
	}
	sale.PaidMinor = req.PaidMinor
	sale.ChangeMinor = req.PaidMinor - sale.TotalMinor
	sale.Status = domain.SaleStatusCompleted
	sale.PaymentStatus = domain.PaymentStatusCompleted
	sale.Payment.Status = domain.PaymentStatusCompleted

	ref := domain.MovementRef{Actor: req.ActorID, Action: domain.AuditActionSale, Reference: sale.Number}
	changes, err := o.decrementItems(sale.Items, ref)
	if err != nil {
		if o.metrics != nil {
			o.metrics.RecordSaleFailed()
		}
		return SubmitResult{}, err
	}

	if err := o.sales.Create(sale); err != nil {
		// Продажа не записалась: возвращаем списанные остатки.
		o.compensate(changes, domain.MovementRef{
			Actor:     req.ActorID,
			Action:    domain.AuditActionSaleRollback,
			Reference: sale.Number,
		})

		if errors.Is(err, domain.ErrDuplicateSubmission) {
			// Конкурирующая отправка с тем же ключом успела раньше.
			winner, getErr := o.sales.GetByIdempotencyKey(req.IdempotencyKey)
			if getErr != nil {
				return SubmitResult{}, getErr
			}
			if o.metrics != nil {
				o.metrics.RecordDuplicateSubmission()
			}
			return SubmitResult{Sale: winner, Duplicate: true}, nil
		}

		o.logger.WithError(err).WithField("sale_id", sale.ID).Error("persist sale failed")
		if o.metrics != nil {
			o.metrics.RecordSaleFailed()
		}
		return SubmitResult{}, err
	}

	if o.metrics != nil {
		o.metrics.RecordSaleCompleted()
	}
	o.logger.WithFields(log.Fields{
		"sale_id":     sale.ID,
		"sale_number": sale.Number,
		"total_minor": sale.TotalMinor,
		"method":      sale.Method,
	}).Info("sale completed")
	o.publishSaleEvent(kafka.EventTypeSaleCompleted, sale.ID, map[string]interface{}{
		"number":      sale.Number,
		"total_minor": sale.TotalMinor,
		"method":      string(sale.Method),
	})

	return SubmitResult{Sale: sale, StockChanges: changes}, nil
}

// submitAsync инициирует push и фиксирует pending-продажу; остатки не трогаем
// до подтверждения платежа.
func (o *orchestrator) submitAsync(req SubmitRequest, sale domain.Sale) (SubmitResult, error) {
	sale.Payment.PayerPhone = req.PayerPhone
	description := "POS sale " + sale.Number

	ack, err := o.gateway.InitiatePush(sale.TotalMinor, req.PayerPhone, sale.Number, description)
	if err != nil {
		// Pending-состояние не наступило: сразу фиксируем неуспех.
		sale.Status = domain.SaleStatusFailed
		sale.PaymentStatus = domain.PaymentStatusFailed
		sale.Payment.Status = domain.PaymentStatusFailed
		sale.Payment.FailureReason = err.Error()

		if createErr := o.sales.Create(sale); createErr != nil {
			if errors.Is(createErr, domain.ErrDuplicateSubmission) {
				winner, getErr := o.sales.GetByIdempotencyKey(req.IdempotencyKey)
				if getErr != nil {
					return SubmitResult{}, getErr
				}
				if o.metrics != nil {
					o.metrics.RecordDuplicateSubmission()
				}
				return SubmitResult{Sale: winner, Duplicate: true}, nil
			}
			o.logger.WithError(createErr).WithField("sale_id", sale.ID).Error("persist failed sale failed")
		}

		if o.metrics != nil {
			o.metrics.RecordSaleFailed()
		}
		o.logger.WithError(err).WithField("sale_id", sale.ID).Warn("push initiation failed")
		o.publishSaleEvent(kafka.EventTypeSaleFailed, sale.ID, map[string]interface{}{
			"number": sale.Number,
			"reason": err.Error(),
		})
		return SubmitResult{Sale: sale}, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}

	sale.Status = domain.SaleStatusPending
	sale.PaymentStatus = domain.PaymentStatusPending
	sale.Payment.Status = domain.PaymentStatusPending
	sale.Payment.MerchantRequestID = ack.MerchantRequestID
	sale.Payment.CheckoutRequestID = ack.CheckoutRequestID

	if err := o.sales.Create(sale); err != nil {
		if errors.Is(err, domain.ErrDuplicateSubmission) {
			winner, getErr := o.sales.GetByIdempotencyKey(req.IdempotencyKey)
			if getErr != nil {
				return SubmitResult{}, getErr
			}
			if o.metrics != nil {
				o.metrics.RecordDuplicateSubmission()
			}
			return SubmitResult{Sale: winner, Duplicate: true}, nil
		}
		o.logger.WithError(err).WithField("sale_id", sale.ID).Error("persist pending sale failed")
		if o.metrics != nil {
			o.metrics.RecordSaleFailed()
		}
		return SubmitResult{}, err
	}

	if o.metrics != nil {
		o.metrics.RecordPushInitiated()
	}
	o.logger.WithFields(log.Fields{
		"sale_id":             sale.ID,
		"sale_number":         sale.Number,
		"checkout_request_id": ack.CheckoutRequestID,
	}).Info("push payment initiated")
	o.publishSaleEvent(kafka.EventTypeSalePending, sale.ID, map[string]interface{}{
		"number":              sale.Number,
		"checkout_request_id": ack.CheckoutRequestID,
	})

	message := ack.CustomerMessage
	if message == "" {
		message = "Payment request sent, check your phone to confirm"
	}
	return SubmitResult{Sale: sale, CustomerMessage: message}, nil
}

// FinalizeAsyncPayment применяет исход callback шлюза. Повторный callback для
// уже финализированного платежа возвращает applied=false без изменений.
func (o *orchestrator) FinalizeAsyncPayment(checkoutRequestID string, outcome domain.PaymentOutcome) (domain.Sale, bool, error) {
	sale, applied, err := o.sales.FinalizePayment(checkoutRequestID, outcome)
	if err != nil {
		return domain.Sale{}, false, err
	}
	if !applied {
		if o.metrics != nil {
			o.metrics.RecordCallbackIgnored()
		}
		o.logger.WithFields(log.Fields{
			"checkout_request_id": checkoutRequestID,
			"payment_status":      sale.Payment.Status,
		}).Debug("duplicate callback ignored")
		return sale, false, nil
	}

	if !outcome.Success {
		updated, saveErr := o.saveWithRetry(sale.ID, func(s *domain.Sale) {
			s.Status = domain.SaleStatusFailed
		})
		if saveErr != nil {
			return sale, true, saveErr
		}
		if o.metrics != nil {
			o.metrics.RecordCallbackApplied("failed")
			o.metrics.RecordSaleFailed()
		}
		o.logger.WithFields(log.Fields{
			"sale_id": sale.ID,
			"reason":  outcome.FailureReason,
		}).Info("async payment failed")
		o.publishSaleEvent(kafka.EventTypePaymentFailed, sale.ID, map[string]interface{}{
			"number": sale.Number,
			"reason": outcome.FailureReason,
		})
		return updated, true, nil
	}

	// Платёж подтверждён: пришло время списать остатки.
	ref := domain.MovementRef{Actor: sale.ActorID, Action: domain.AuditActionSale, Reference: sale.Number}
	if _, decErr := o.decrementItems(sale.Items, ref); decErr != nil {
		// Товар распродан, пока плательщик подтверждал оплату. Деньги приняты,
		// продажа помечается failed и уходит оператору на ручное урегулирование.
		updated, saveErr := o.saveWithRetry(sale.ID, func(s *domain.Sale) {
			s.Status = domain.SaleStatusFailed
		})
		if saveErr != nil {
			return sale, true, saveErr
		}
		if o.metrics != nil {
			o.metrics.RecordCallbackApplied("completed")
			o.metrics.RecordSaleFailed()
		}
		o.logger.WithError(decErr).WithFields(log.Fields{
			"sale_id":        sale.ID,
			"sale_number":    sale.Number,
			"receipt_number": outcome.ReceiptNumber,
		}).Error("stock exhausted after payment confirmation, manual reconciliation required")
		return updated, true, nil
	}

	updated, saveErr := o.saveWithRetry(sale.ID, func(s *domain.Sale) {
		s.Status = domain.SaleStatusCompleted
	})
	if saveErr != nil {
		return sale, true, saveErr
	}
	if o.metrics != nil {
		o.metrics.RecordCallbackApplied("completed")
		o.metrics.RecordSaleCompleted()
	}
	o.logger.WithFields(log.Fields{
		"sale_id":        sale.ID,
		"sale_number":    sale.Number,
		"receipt_number": outcome.ReceiptNumber,
	}).Info("async payment completed")
	o.publishSaleEvent(kafka.EventTypePaymentCompleted, sale.ID, map[string]interface{}{
		"number":         sale.Number,
		"receipt_number": outcome.ReceiptNumber,
	})
	return updated, true, nil
}

// Void аннулирует завершённую продажу и возвращает остатки.
func (o *orchestrator) Void(saleID, actor, reason string) (domain.Sale, error) {
	sale, err := o.sales.Get(saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	if sale.Status == domain.SaleStatusVoid {
		return sale, nil
	}
	if sale.Status != domain.SaleStatusCompleted {
		return domain.Sale{}, domain.ErrSaleNotVoidable
	}

	// Сначала фиксируем статус: если запись не удалась, остатки не трогаем
	// и продажа остаётся завершённой.
	updated, err := o.saveWithRetry(sale.ID, func(s *domain.Sale) {
		s.Status = domain.SaleStatusVoid
	})
	if err != nil {
		return domain.Sale{}, err
	}

	ref := domain.MovementRef{Actor: actor, Action: domain.AuditActionVoidRestock, Reference: sale.Number}
	o.restockItems(sale.Items, ref)

	if o.metrics != nil {
		o.metrics.RecordSaleVoided()
	}
	o.logger.WithFields(log.Fields{
		"sale_id": sale.ID,
		"actor":   actor,
		"reason":  reason,
	}).Info("sale voided")
	o.publishSaleEvent(kafka.EventTypeSaleVoided, sale.ID, map[string]interface{}{
		"number": sale.Number,
		"reason": reason,
	})
	return updated, nil
}

// Refund оформляет возврат по завершённой продаже: единственная запись
// с причиной и суммой, остатки возвращаются целиком.
func (o *orchestrator) Refund(saleID string, amountMinor int64, actor, reason string) (domain.Sale, error) {
	sale, err := o.sales.Get(saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	if sale.Status == domain.SaleStatusRefunded {
		return sale, nil
	}
	if sale.Status != domain.SaleStatusCompleted {
		return domain.Sale{}, domain.ErrSaleNotRefundable
	}

	if amountMinor <= 0 || amountMinor > sale.TotalMinor {
		amountMinor = sale.TotalMinor
	}

	// Сначала фиксируем статус: если запись не удалась, остатки не трогаем
	// и продажа остаётся завершённой.
	now := time.Now().UTC()
	updated, err := o.saveWithRetry(sale.ID, func(s *domain.Sale) {
		s.Status = domain.SaleStatusRefunded
		s.PaymentStatus = domain.PaymentStatusRefunded
		s.Payment.Status = domain.PaymentStatusRefunded
		s.Payment.UpdatedAt = now
		s.Refund = &domain.Refund{
			AmountMinor: amountMinor,
			Reason:      reason,
			Actor:       actor,
			CreatedAt:   now,
		}
	})
	if err != nil {
		return domain.Sale{}, err
	}

	ref := domain.MovementRef{Actor: actor, Action: domain.AuditActionRefundRestock, Reference: sale.Number}
	o.restockItems(sale.Items, ref)

	if o.metrics != nil {
		o.metrics.RecordSaleRefunded()
	}
	o.logger.WithFields(log.Fields{
		"sale_id":      sale.ID,
		"actor":        actor,
		"amount_minor": amountMinor,
		"reason":       reason,
	}).Info("sale refunded")
	o.publishSaleEvent(kafka.EventTypeSaleRefunded, sale.ID, map[string]interface{}{
		"number":       sale.Number,
		"amount_minor": amountMinor,
		"reason":       reason,
	})
	return updated, nil
}

// Get возвращает продажу по идентификатору.
func (o *orchestrator) Get(saleID string) (domain.Sale, error) {
	return o.sales.Get(saleID)
}

// List возвращает продажи по фильтру.
func (o *orchestrator) List(filter domain.SaleFilter) ([]domain.Sale, error) {
	return o.sales.List(filter)
}

// decrementItems списывает остатки построчно. При сбое уже применённые
// списания компенсируются, состояние остатков откатывается к исходному.
func (o *orchestrator) decrementItems(items []domain.SaleItem, ref domain.MovementRef) ([]StockChange, error) {
	applied := make([]StockChange, 0, len(items))
	for _, item := range items {
		newStock, err := o.guard.ReserveAndDecrement(item.ProductID, item.Quantity, ref)
		if err != nil {
			o.compensate(applied, domain.MovementRef{
				Actor:     ref.Actor,
				Action:    domain.AuditActionSaleRollback,
				Reference: ref.Reference,
			})
			return nil, err
		}
		applied = append(applied, StockChange{
			ProductID:     item.ProductID,
			PreviousStock: newStock + item.Quantity,
			NewStock:      newStock,
		})
	}
	return applied, nil
}

// compensate возвращает ранее списанные остатки в обратном порядке.
func (o *orchestrator) compensate(changes []StockChange, ref domain.MovementRef) {
	for i := len(changes) - 1; i >= 0; i-- {
		change := changes[i]
		qty := change.PreviousStock - change.NewStock
		if _, err := o.guard.Increment(change.ProductID, qty, ref); err != nil {
			o.logger.WithError(err).WithFields(log.Fields{
				"product_id": change.ProductID,
				"quantity":   qty,
			}).Error("compensating increment failed")
		}
	}
}

func (o *orchestrator) restockItems(items []domain.SaleItem, ref domain.MovementRef) {
	for _, item := range items {
		if _, err := o.guard.Increment(item.ProductID, item.Quantity, ref); err != nil {
			o.logger.WithError(err).WithFields(log.Fields{
				"product_id": item.ProductID,
				"quantity":   item.Quantity,
			}).Error("restock failed")
		}
	}
}

// saveWithRetry применяет мутацию к свежей версии продажи с повтором
// при version conflict и exponential backoff.
func (o *orchestrator) saveWithRetry(saleID string, mutate func(*domain.Sale)) (domain.Sale, error) {
	const maxRetries = 3
	const baseDelay = 10 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		sale, err := o.sales.Get(saleID)
		if err != nil {
			return domain.Sale{}, err
		}

		mutate(&sale)
		sale.UpdatedAt = time.Now().UTC()

		if err := o.sales.Save(sale); err != nil {
			if domain.IsVersionConflict(err) && attempt < maxRetries-1 {
				o.logger.WithFields(log.Fields{
					"sale_id": saleID,
					"attempt": attempt + 1,
				}).Warn("version conflict detected, retrying")
				time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
				continue
			}
			o.logger.WithError(err).WithFields(log.Fields{
				"sale_id": saleID,
				"attempt": attempt + 1,
			}).Error("failed to persist sale status")
			return domain.Sale{}, err
		}

		sale.Version++
		return sale, nil
	}

	return domain.Sale{}, domain.ErrVersionConflict
}

// nextNumber генерирует человекочитаемый номер продажи для чека.
func (o *orchestrator) nextNumber(now time.Time) string {
	seq := atomic.AddUint64(&o.seq, 1)
	return fmt.Sprintf("POS-%s-%06d", now.Format("20060102"), seq)
}

// publishSaleEvent публикует событие продажи в Kafka (если producer настроен)
func (o *orchestrator) publishSaleEvent(eventType kafka.EventType, saleID string, metadata map[string]interface{}) {
	if o.kafkaProducer == nil {
		return // Kafka не настроен, пропускаем
	}

	event := kafka.NewSaleEvent(eventType, saleID, metadata)
	if err := o.kafkaProducer.PublishEvent(kafka.TopicSaleEvents, saleID, event); err != nil {
		// Логируем ошибку, но не прерываем продажу - Kafka опциональный
		o.logger.WithError(err).WithFields(log.Fields{
			"event_type": eventType,
			"sale_id":    saleID,
		}).Warn("failed to publish sale event to kafka")
	}
}

var _ Orchestrator = (*orchestrator)(nil)
