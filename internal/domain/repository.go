package domain

import "time"

// ProductRepository описывает требования к хранилищу товаров.
type ProductRepository interface {
	// Create сохраняет новый товар. Возвращает ошибку, если запись с таким ID уже существует.
	Create(product Product) error
	// Get возвращает товар вместе с его порогами или ErrProductNotFound.
	Get(id string) (Product, error)
	// List возвращает товары с опциональным ограничением на количество.
	List(limit int) ([]Product, error)
	// Save применяет обновления карточки с учётом optimistic locking.
	// Остаток товара через Save не меняется — только через AdjustStock.
	Save(product Product) error
	// AdjustStock атомарно меняет остаток на delta и возвращает новое значение.
	// Отрицательная delta, уводящая остаток ниже нуля, отклоняется с
	// ErrInsufficientStock без каких-либо изменений.
	AdjustStock(productID string, delta int32) (int32, error)
}

// SaleFilter ограничивает выборку продаж.
type SaleFilter struct {
	From          time.Time
	To            time.Time
	ActorID       string
	Method        PaymentMethod
	Status        SaleStatus
	PaymentStatus PaymentStatus
	// Search — подстрочный поиск по номеру продажи, имени покупателя и товарам.
	Search string
	Limit  int
	Offset int
}

// SaleRepository описывает требования к хранилищу продаж.
type SaleRepository interface {
	// Create сохраняет продажу вместе со строками и платежом как единое целое.
	// Возвращает ErrDuplicateSubmission, если idempotency key уже занят.
	Create(sale Sale) error
	// Get возвращает продажу по идентификатору или ErrSaleNotFound.
	Get(id string) (Sale, error)
	// GetByIdempotencyKey возвращает продажу офлайн-происхождения по её ключу.
	GetByIdempotencyKey(key string) (Sale, error)
	// GetByCheckoutRequestID сопоставляет callback шлюза с продажей.
	GetByCheckoutRequestID(checkoutRequestID string) (Sale, error)
	// Save применяет статусные изменения с учётом optimistic locking.
	Save(sale Sale) error
	// FinalizePayment атомарно переводит платёж pending -> терминальный статус.
	// Проверка "ещё pending" и сама запись выполняются в одном домене
	// сериализации; повторный вызов для уже финализированного платежа
	// возвращает applied=false без изменений.
	FinalizePayment(checkoutRequestID string, outcome PaymentOutcome) (sale Sale, applied bool, err error)
	// ListPendingPayments возвращает продажи с платежом pending старше olderThan.
	ListPendingPayments(olderThan time.Time, limit int) ([]Sale, error)
	// List возвращает продажи по фильтру, новые первыми.
	List(filter SaleFilter) ([]Sale, error)
}

// SyncQueueRepository описывает требования к хранилищу офлайн-очереди.
type SyncQueueRepository interface {
	// Enqueue сохраняет элемент, проставляя служебные поля.
	Enqueue(item SyncQueueItem) (SyncQueueItem, error)
	// PullPending возвращает до limit pending-элементов, старые первыми.
	PullPending(limit int) ([]SyncQueueItem, error)
	// MarkProcessing захватывает элемент для текущего прохода drain.
	MarkProcessing(id string) error
	// MarkCompleted помечает элемент успешно обработанным.
	MarkCompleted(id string) error
	// MarkFailedAttempt увеличивает счётчик повторов; при достижении
	// MaxRetries элемент переводится в failed (dead-letter), иначе
	// возвращается в pending. Возвращает обновлённый элемент.
	MarkFailedAttempt(id string, reason string) (SyncQueueItem, error)
	// ReclaimStale возвращает в pending элементы, застрявшие в processing
	// дольше before (drain-проход умер, не завершив элемент). Счётчик
	// повторов при этом не тратится. Возвращает число возвращённых элементов.
	ReclaimStale(before time.Time, limit int) (int, error)
	// Get возвращает элемент по идентификатору или ErrSyncItemNotFound.
	Get(id string) (SyncQueueItem, error)
	// PurgeCompleted удаляет завершённые элементы старше before порциями limit.
	PurgeCompleted(before time.Time, limit int) (int, error)
	// PurgeFailed удаляет dead-letter элементы старше before порциями limit.
	PurgeFailed(before time.Time, limit int) (int, error)
	// Stats возвращает состояние backlog очереди.
	Stats() (SyncQueueStats, error)
}

// AuditRepository хранит структурированную историю изменений.
type AuditRepository interface {
	Append(record AuditRecord) error
	ListByEntity(entityType, entityID string, limit int) ([]AuditRecord, error)
}
