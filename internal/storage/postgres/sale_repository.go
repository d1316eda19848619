package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

type saleRepository struct {
	db *sql.DB
}

// NewSaleRepository создаёт PostgreSQL-реализацию SaleRepository.
func NewSaleRepository(store *Store) domain.SaleRepository {
	return &saleRepository{db: store.DB()}
}

// Create сохраняет продажу, её строки и платёж в одной транзакции.
// Уникальность idempotency key обеспечивает partial unique index:
// конкурирующие вставки разрешает сама база.
func (r *saleRepository) Create(sale domain.Sale) error {
	if sale.ID == "" {
		return domain.ErrSaleIDRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var idemKey interface{}
	if sale.IdempotencyKey != "" {
		idemKey = sale.IdempotencyKey
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, number, actor_id, subtotal_minor, discount_minor, tax_minor,
			total_minor, paid_minor, change_minor, method, payment_status, status,
			customer_name, customer_phone, idempotency_key, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`,
		sale.ID, sale.Number, sale.ActorID, sale.SubtotalMinor, sale.DiscountMinor,
		sale.TaxMinor, sale.TotalMinor, sale.PaidMinor, sale.ChangeMinor,
		string(sale.Method), string(sale.PaymentStatus), string(sale.Status),
		sale.CustomerName, sale.CustomerPhone, idemKey,
		sale.Version, sale.CreatedAt, sale.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateSubmission
		}
		return fmt.Errorf("insert sale: %w", err)
	}

	for _, item := range sale.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO sale_items (
				id, sale_id, product_id, product_name, quantity, tier_id,
				unit_price_minor, line_total_minor, line_tax_minor
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`,
			item.ID, sale.ID, item.ProductID, item.ProductName, item.Quantity,
			item.TierID, item.UnitPriceMinor, item.LineTotalMinor, item.LineTaxMinor,
		); err != nil {
			return fmt.Errorf("insert sale item: %w", err)
		}
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO payments (
			id, sale_id, amount_minor, method, status, merchant_request_id,
			checkout_request_id, receipt_number, payer_phone, failure_reason,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		sale.Payment.ID, sale.ID, sale.Payment.AmountMinor, string(sale.Payment.Method),
		string(sale.Payment.Status), sale.Payment.MerchantRequestID,
		sale.Payment.CheckoutRequestID, sale.Payment.ReceiptNumber,
		sale.Payment.PayerPhone, sale.Payment.FailureReason,
		sale.Payment.CreatedAt, sale.Payment.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create sale: %w", err)
	}

	return nil
}

func (r *saleRepository) Get(id string) (domain.Sale, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getByCondition(ctx, "s.id = $1", id)
}

func (r *saleRepository) GetByIdempotencyKey(key string) (domain.Sale, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getByCondition(ctx, "s.idempotency_key = $1", key)
}

func (r *saleRepository) GetByCheckoutRequestID(checkoutRequestID string) (domain.Sale, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var saleID string
	err := r.db.QueryRowContext(ctx, `
		SELECT sale_id FROM payments WHERE checkout_request_id = $1
	`, checkoutRequestID).Scan(&saleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Sale{}, domain.ErrSaleNotFound
		}
		return domain.Sale{}, fmt.Errorf("select sale by checkout request: %w", err)
	}

	return r.getByCondition(ctx, "s.id = $1", saleID)
}

// Save применяет статусные изменения продажи с учётом optimistic locking.
func (r *saleRepository) Save(sale domain.Sale) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var refundAmount, refundReason, refundActor, refundCreatedAt interface{}
	if sale.Refund != nil {
		refundAmount = sale.Refund.AmountMinor
		refundReason = sale.Refund.Reason
		refundActor = sale.Refund.Actor
		refundCreatedAt = sale.Refund.CreatedAt
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE sales
		SET status = $1,
		    payment_status = $2,
		    paid_minor = $3,
		    change_minor = $4,
		    customer_name = $5,
		    customer_phone = $6,
		    refund_amount_minor = $7,
		    refund_reason = $8,
		    refund_actor = $9,
		    refund_created_at = $10,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $11
		  AND version = $12
	`,
		string(sale.Status), string(sale.PaymentStatus), sale.PaidMinor, sale.ChangeMinor,
		sale.CustomerName, sale.CustomerPhone,
		refundAmount, refundReason, refundActor, refundCreatedAt,
		sale.ID, sale.Version,
	)
	if err != nil {
		return fmt.Errorf("update sale: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, existsErr := r.saleExistsTx(ctx, tx, sale.ID)
		if existsErr != nil {
			err = existsErr
			return err
		}
		if !exists {
			err = domain.ErrSaleNotFound
			return err
		}
		err = domain.ErrVersionConflict
		return err
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE payments
		SET status = $1,
		    receipt_number = $2,
		    payer_phone = $3,
		    failure_reason = $4,
		    updated_at = NOW()
		WHERE sale_id = $5
	`,
		string(sale.Payment.Status), sale.Payment.ReceiptNumber,
		sale.Payment.PayerPhone, sale.Payment.FailureReason, sale.ID,
	); err != nil {
		return fmt.Errorf("update payment: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save sale: %w", err)
	}

	return nil
}

// FinalizePayment атомарно переводит платёж pending -> терминальный статус.
// Условный UPDATE по status='pending' выполняет проверку и запись одним
// оператором: из конкурирующих callback ровно один затрагивает строку.
func (r *saleRepository) FinalizePayment(checkoutRequestID string, outcome domain.PaymentOutcome) (domain.Sale, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Sale{}, false, fmt.Errorf("begin tx: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	newStatus := domain.PaymentStatusCompleted
	if !outcome.Success {
		newStatus = domain.PaymentStatusFailed
	}

	var saleID string
	err = tx.QueryRowContext(ctx, `
		UPDATE payments
		SET status = $1,
		    receipt_number = CASE WHEN $2 <> '' THEN $2 ELSE receipt_number END,
		    payer_phone = CASE WHEN $3 <> '' THEN $3 ELSE payer_phone END,
		    failure_reason = $4,
		    updated_at = NOW()
		WHERE checkout_request_id = $5
		  AND status = 'pending'
		RETURNING sale_id
	`,
		string(newStatus), outcome.ReceiptNumber, outcome.PayerPhone,
		outcome.FailureReason, checkoutRequestID,
	).Scan(&saleID)

	if errors.Is(err, sql.ErrNoRows) {
		// Платёж либо неизвестен, либо уже финализирован.
		checkErr := tx.QueryRowContext(ctx, `
			SELECT sale_id FROM payments WHERE checkout_request_id = $1
		`, checkoutRequestID).Scan(&saleID)
		if errors.Is(checkErr, sql.ErrNoRows) {
			return domain.Sale{}, false, domain.ErrPaymentNotFound
		}
		if checkErr != nil {
			return domain.Sale{}, false, fmt.Errorf("check payment exists: %w", checkErr)
		}
		if err := tx.Commit(); err != nil {
			return domain.Sale{}, false, fmt.Errorf("commit finalize payment: %w", err)
		}
		committed = true

		sale, getErr := r.Get(saleID)
		if getErr != nil {
			return domain.Sale{}, false, getErr
		}
		return sale, false, nil
	}
	if err != nil {
		return domain.Sale{}, false, fmt.Errorf("finalize payment: %w", err)
	}

	if outcome.Success && outcome.AmountMinor > 0 {
		_, err = tx.ExecContext(ctx, `
			UPDATE sales
			SET payment_status = $1,
			    paid_minor = $2,
			    version = version + 1,
			    updated_at = NOW()
			WHERE id = $3
		`, string(newStatus), outcome.AmountMinor, saleID)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE sales
			SET payment_status = $1,
			    version = version + 1,
			    updated_at = NOW()
			WHERE id = $2
		`, string(newStatus), saleID)
	}
	if err != nil {
		return domain.Sale{}, false, fmt.Errorf("update sale payment status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Sale{}, false, fmt.Errorf("commit finalize payment: %w", err)
	}
	committed = true

	sale, getErr := r.Get(saleID)
	if getErr != nil {
		return domain.Sale{}, false, getErr
	}
	return sale, true, nil
}

// ListPendingPayments возвращает продажи с платежом pending старше olderThan.
func (r *saleRepository) ListPendingPayments(olderThan time.Time, limit int) ([]domain.Sale, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT sale_id
		FROM payments
		WHERE status = 'pending'
		  AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending payments: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending payment: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending payments: %w", err)
	}

	sales := make([]domain.Sale, 0, len(ids))
	for _, id := range ids {
		sale, err := r.getByCondition(ctx, "s.id = $1", id)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	return sales, nil
}

// List возвращает продажи по фильтру, новые первыми. Подстрочный поиск
// покрывает номер продажи, имя покупателя и названия товаров в строках.
func (r *saleRepository) List(filter domain.SaleFilter) ([]domain.Sale, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	conditions := make([]string, 0, 6)
	args := make([]interface{}, 0, 8)
	arg := func(value interface{}) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if !filter.From.IsZero() {
		conditions = append(conditions, "s.created_at >= "+arg(filter.From))
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, "s.created_at <= "+arg(filter.To))
	}
	if filter.ActorID != "" {
		conditions = append(conditions, "s.actor_id = "+arg(filter.ActorID))
	}
	if filter.Method != "" {
		conditions = append(conditions, "s.method = "+arg(string(filter.Method)))
	}
	if filter.Status != "" {
		conditions = append(conditions, "s.status = "+arg(string(filter.Status)))
	}
	if filter.PaymentStatus != "" {
		conditions = append(conditions, "s.payment_status = "+arg(string(filter.PaymentStatus)))
	}
	if filter.Search != "" {
		pattern := arg("%" + strings.ToLower(filter.Search) + "%")
		conditions = append(conditions, fmt.Sprintf(`(
			LOWER(s.number) LIKE %s
			OR LOWER(s.customer_name) LIKE %s
			OR EXISTS (
				SELECT 1 FROM sale_items si
				WHERE si.sale_id = s.id AND LOWER(si.product_name) LIKE %s
			)
		)`, pattern, pattern, pattern))
	}

	query := `SELECT s.id FROM sales s`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY s.created_at DESC, s.id DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan sale id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sale ids: %w", err)
	}

	sales := make([]domain.Sale, 0, len(ids))
	for _, id := range ids {
		sale, err := r.getByCondition(ctx, "s.id = $1", id)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	return sales, nil
}

func (r *saleRepository) getByCondition(ctx context.Context, condition string, value interface{}) (domain.Sale, error) {
	var (
		sale            domain.Sale
		method          string
		paymentStatus   string
		status          string
		idemKey         sql.NullString
		refundAmount    sql.NullInt64
		refundReason    sql.NullString
		refundActor     sql.NullString
		refundCreatedAt sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT s.id, s.number, s.actor_id, s.subtotal_minor, s.discount_minor,
		       s.tax_minor, s.total_minor, s.paid_minor, s.change_minor,
		       s.method, s.payment_status, s.status, s.customer_name, s.customer_phone,
		       s.idempotency_key, s.refund_amount_minor, s.refund_reason, s.refund_actor,
		       s.refund_created_at, s.version, s.created_at, s.updated_at
		FROM sales s
		WHERE `+condition, value).Scan(
		&sale.ID, &sale.Number, &sale.ActorID, &sale.SubtotalMinor, &sale.DiscountMinor,
		&sale.TaxMinor, &sale.TotalMinor, &sale.PaidMinor, &sale.ChangeMinor,
		&method, &paymentStatus, &status, &sale.CustomerName, &sale.CustomerPhone,
		&idemKey, &refundAmount, &refundReason, &refundActor,
		&refundCreatedAt, &sale.Version, &sale.CreatedAt, &sale.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Sale{}, domain.ErrSaleNotFound
		}
		return domain.Sale{}, fmt.Errorf("select sale: %w", err)
	}

	sale.Method = domain.PaymentMethod(method)
	sale.PaymentStatus = domain.PaymentStatus(paymentStatus)
	sale.Status = domain.SaleStatus(status)
	if idemKey.Valid {
		sale.IdempotencyKey = idemKey.String
	}
	if refundAmount.Valid {
		sale.Refund = &domain.Refund{
			AmountMinor: refundAmount.Int64,
			Reason:      refundReason.String,
			Actor:       refundActor.String,
			CreatedAt:   refundCreatedAt.Time,
		}
	}

	items, err := r.loadItems(ctx, sale.ID)
	if err != nil {
		return domain.Sale{}, err
	}
	sale.Items = items

	payment, err := r.loadPayment(ctx, sale.ID)
	if err != nil {
		return domain.Sale{}, err
	}
	sale.Payment = payment

	return sale, nil
}

func (r *saleRepository) loadItems(ctx context.Context, saleID string) ([]domain.SaleItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, product_name, quantity, tier_id,
		       unit_price_minor, line_total_minor, line_tax_minor
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id ASC
	`, saleID)
	if err != nil {
		return nil, fmt.Errorf("load sale items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0)
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(
			&item.ID, &item.ProductID, &item.ProductName, &item.Quantity,
			&item.TierID, &item.UnitPriceMinor, &item.LineTotalMinor, &item.LineTaxMinor,
		); err != nil {
			return nil, fmt.Errorf("scan sale item: %w", err)
		}
		item.SaleID = saleID
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sale items: %w", err)
	}

	return items, nil
}

func (r *saleRepository) loadPayment(ctx context.Context, saleID string) (domain.Payment, error) {
	var payment domain.Payment
	var method, status string

	err := r.db.QueryRowContext(ctx, `
		SELECT id, sale_id, amount_minor, method, status, merchant_request_id,
		       checkout_request_id, receipt_number, payer_phone, failure_reason,
		       created_at, updated_at
		FROM payments
		WHERE sale_id = $1
	`, saleID).Scan(
		&payment.ID, &payment.SaleID, &payment.AmountMinor, &method, &status,
		&payment.MerchantRequestID, &payment.CheckoutRequestID, &payment.ReceiptNumber,
		&payment.PayerPhone, &payment.FailureReason, &payment.CreatedAt, &payment.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("load payment: %w", err)
	}

	payment.Method = domain.PaymentMethod(method)
	payment.Status = domain.PaymentStatus(status)
	return payment, nil
}

func (r *saleRepository) saleExistsTx(ctx context.Context, tx *sql.Tx, saleID string) (bool, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM sales WHERE id = $1`, saleID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check sale exists: %w", err)
}

var _ domain.SaleRepository = (*saleRepository)(nil)
