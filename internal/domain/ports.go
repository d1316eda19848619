package domain

// PaymentGateway описывает взаимодействие с провайдером push-платежей.
type PaymentGateway interface {
	// InitiatePush просит провайдера показать плательщику запрос на оплату.
	// Возвращает пару correlation-идентификаторов; ошибка означает, что
	// pending-состояние не наступило и продажу можно сразу пометить failed.
	InitiatePush(amountMinor int64, payerPhone, reference, description string) (PushAck, error)
}

// InventoryGuard — единственная точка изменения остатков товара.
type InventoryGuard interface {
	// ReserveAndDecrement списывает qty единиц; атомарно в пределах товара.
	// Возвращает ErrInsufficientStock, если остатка не хватает.
	ReserveAndDecrement(productID string, qty int32, ref MovementRef) (int32, error)
	// Increment возвращает qty единиц на остаток (приход, компенсации).
	Increment(productID string, qty int32, ref MovementRef) (int32, error)
}
