package domain

import "errors"

var (
	// Ошибка пустой корзины при оформлении продажи.
	ErrCartEmpty = errors.New("cart must contain at least one line")
	// Ошибка неизвестного способа оплаты.
	ErrPaymentMethodUnknown = errors.New("payment method is unknown")
	// Ошибка при некорректном количестве в строке корзины (<= 0).
	ErrQuantityInvalid = errors.New("quantity must be greater than zero")
	// Ошибка отрицательной цены или суммы.
	ErrAmountNegative = errors.New("amount must be non-negative")
	// Ошибка отсутствующего идентификатора кассира.
	ErrActorRequired = errors.New("actor_id is required")
	// Ошибка несоответствия итога продажи: total != subtotal + tax - discount.
	ErrTotalMismatch = errors.New("sale total does not match subtotal + tax - discount")
	// Ошибка, когда внесённой суммы не хватает для наличной оплаты.
	ErrPaidAmountInsufficient = errors.New("paid amount is less than sale total")
	// Ошибка отсутствующего телефона плательщика для push-платежа.
	ErrPayerPhoneRequired = errors.New("payer phone is required for push payment")
	// Ошибка отсутствующего идентификатора продажи.
	ErrSaleIDRequired = errors.New("sale_id is required")
	// Ошибка отсутствующего идентификатора товара.
	ErrProductIDRequired = errors.New("product_id is required")
	// Ошибка отсутствующего наименования товара.
	ErrProductNameRequired = errors.New("product name is required")
	// Ошибка неизвестного налогового режима.
	ErrTaxModeUnknown = errors.New("tax mode is unknown")
	// Ошибка несогласованных статусов: продажа завершена при неподтверждённом платеже.
	ErrStatusIncoherent = errors.New("sale cannot be completed while payment is pending")

	// ErrProductNotFound возвращается, если товар не найден в репозитории.
	ErrProductNotFound = errors.New("product not found")
	// ErrSaleNotFound возвращается, если продажа не найдена.
	ErrSaleNotFound = errors.New("sale not found")
	// ErrPaymentNotFound возвращается, если платёж по correlation id не найден.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrSyncItemNotFound возвращается, если элемент офлайн-очереди не найден.
	ErrSyncItemNotFound = errors.New("sync queue item not found")
	// Ошибка неизвестного типа элемента офлайн-очереди.
	ErrSyncItemTypeUnknown = errors.New("sync item type is unknown")
	// Ошибка пустого payload элемента офлайн-очереди.
	ErrSyncPayloadRequired = errors.New("sync item payload is required")
	// ErrVersionConflict сигнализирует о конфликте версий при optimistic locking.
	ErrVersionConflict = errors.New("version conflict")

	// ErrInsufficientStock — списание невозможно: остаток меньше запрошенного количества.
	// Отдаётся отдельно от ошибок валидации, чтобы клиент мог предложить меньшее количество.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrDuplicateSubmission — продажа с таким idempotency key уже зафиксирована.
	// Это не сбой: вызывающий получает ранее сохранённый результат.
	ErrDuplicateSubmission = errors.New("sale with this idempotency key already exists")
	// ErrGatewayUnavailable — инициация push-платежа не удалась (сеть/авторизация/отказ шлюза).
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrSaleNotVoidable — продажа в статусе, не допускающем аннулирование.
	ErrSaleNotVoidable = errors.New("sale is not voidable")
	// ErrSaleNotRefundable — продажа в статусе, не допускающем возврат.
	ErrSaleNotRefundable = errors.New("sale is not refundable")
)

// IsValidation проверяет, относится ли ошибка к ошибкам валидации входных данных.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrCartEmpty,
		ErrPaymentMethodUnknown,
		ErrQuantityInvalid,
		ErrAmountNegative,
		ErrActorRequired,
		ErrTotalMismatch,
		ErrPaidAmountInsufficient,
		ErrPayerPhoneRequired,
		ErrSaleIDRequired,
		ErrProductIDRequired,
		ErrProductNameRequired,
		ErrTaxModeUnknown,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound проверяет, является ли ошибка отсутствием сущности.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrSaleNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrSyncItemNotFound)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
