package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const opTimeout = 5 * time.Second

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

func (r *productRepository) Create(product domain.Product) error {
	if product.ID == "" {
		return domain.ErrProductIDRequired
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

	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (
			id, sku, name, cost_minor, retail_minor, wholesale_minor,
			stock_quantity, min_stock, max_stock, tax_mode, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		product.ID, product.SKU, product.Name, product.CostMinor, product.RetailMinor,
		product.WholesaleMinor, product.StockQuantity, product.MinStock, product.MaxStock,
		string(product.TaxMode), product.Version, product.CreatedAt, product.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("insert product: %w", err)
	}

	for _, tier := range product.Tiers {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO wholesale_tiers (
				id, product_id, min_quantity, max_quantity, price_minor, active, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7)
		`,
			tier.ID, product.ID, tier.MinQuantity, tier.MaxQuantity,
			tier.PriceMinor, tier.Active, tier.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert wholesale tier: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create product: %w", err)
	}

	return nil
}

func (r *productRepository) Get(id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	product, err := r.getProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	tiers, err := r.loadTiers(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	product.Tiers = tiers

	return product, nil
}

func (r *productRepository) List(limit int) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT id, sku, name, cost_minor, retail_minor, wholesale_minor,
		       stock_quantity, min_stock, max_stock, tax_mode, version, created_at, updated_at
		FROM products
		ORDER BY name ASC, id ASC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $1", limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}

	for i := range products {
		tiers, err := r.loadTiers(ctx, products[i].ID)
		if err != nil {
			return nil, err
		}
		products[i].Tiers = tiers
	}

	return products, nil
}

// Save обновляет карточку товара с учётом optimistic locking.
// Остаток через Save не меняется: его мутирует только AdjustStock.
func (r *productRepository) Save(product domain.Product) error {
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

	res, err := tx.ExecContext(ctx, `
		UPDATE products
		SET sku = $1,
		    name = $2,
		    cost_minor = $3,
		    retail_minor = $4,
		    wholesale_minor = $5,
		    min_stock = $6,
		    max_stock = $7,
		    tax_mode = $8,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $9
		  AND version = $10
	`,
		product.SKU, product.Name, product.CostMinor, product.RetailMinor,
		product.WholesaleMinor, product.MinStock, product.MaxStock,
		string(product.TaxMode), product.ID, product.Version,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, existsErr := r.productExistsTx(ctx, tx, product.ID)
		if existsErr != nil {
			err = existsErr
			return err
		}
		if !exists {
			err = domain.ErrProductNotFound
			return err
		}
		err = domain.ErrVersionConflict
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save product: %w", err)
	}

	return nil
}

// AdjustStock атомарно меняет остаток одним условным UPDATE: WHERE-условие
// не пропускает уход ниже нуля, поэтому гонки между кассами разрешает сама
// база, без read-modify-write на стороне приложения.
func (r *productRepository) AdjustStock(productID string, delta int32) (int32, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var newStock int32
	err := r.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity + $1,
		    updated_at = NOW()
		WHERE id = $2
		  AND stock_quantity + $1 >= 0
		RETURNING stock_quantity
	`, delta, productID).Scan(&newStock)
	if err == nil {
		return newStock, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("adjust stock: %w", err)
	}

	// UPDATE никого не затронул: либо товара нет, либо остатка не хватает.
	var id string
	checkErr := r.db.QueryRowContext(ctx, `SELECT id FROM products WHERE id = $1`, productID).Scan(&id)
	if errors.Is(checkErr, sql.ErrNoRows) {
		return 0, domain.ErrProductNotFound
	}
	if checkErr != nil {
		return 0, fmt.Errorf("check product exists: %w", checkErr)
	}
	return 0, domain.ErrInsufficientStock
}

func (r *productRepository) getProduct(ctx context.Context, id string) (domain.Product, error) {
	var product domain.Product
	var taxMode string

	err := r.db.QueryRowContext(ctx, `
		SELECT id, sku, name, cost_minor, retail_minor, wholesale_minor,
		       stock_quantity, min_stock, max_stock, tax_mode, version, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(
		&product.ID, &product.SKU, &product.Name, &product.CostMinor, &product.RetailMinor,
		&product.WholesaleMinor, &product.StockQuantity, &product.MinStock, &product.MaxStock,
		&taxMode, &product.Version, &product.CreatedAt, &product.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	product.TaxMode = domain.TaxMode(taxMode)

	return product, nil
}

func (r *productRepository) loadTiers(ctx context.Context, productID string) ([]domain.WholesaleTier, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, min_quantity, max_quantity, price_minor, active, created_at
		FROM wholesale_tiers
		WHERE product_id = $1
		ORDER BY min_quantity ASC, id ASC
	`, productID)
	if err != nil {
		return nil, fmt.Errorf("load wholesale tiers: %w", err)
	}
	defer rows.Close()

	tiers := make([]domain.WholesaleTier, 0)
	for rows.Next() {
		var tier domain.WholesaleTier
		if err := rows.Scan(
			&tier.ID, &tier.ProductID, &tier.MinQuantity, &tier.MaxQuantity,
			&tier.PriceMinor, &tier.Active, &tier.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan wholesale tier: %w", err)
		}
		tiers = append(tiers, tier)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wholesale tiers: %w", err)
	}

	return tiers, nil
}

func (r *productRepository) productExistsTx(ctx context.Context, tx *sql.Tx, productID string) (bool, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM products WHERE id = $1`, productID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check product exists: %w", err)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var product domain.Product
	var taxMode string
	if err := row.Scan(
		&product.ID, &product.SKU, &product.Name, &product.CostMinor, &product.RetailMinor,
		&product.WholesaleMinor, &product.StockQuantity, &product.MinStock, &product.MaxStock,
		&taxMode, &product.Version, &product.CreatedAt, &product.UpdatedAt,
	); err != nil {
		return domain.Product{}, fmt.Errorf("scan product row: %w", err)
	}
	product.TaxMode = domain.TaxMode(taxMode)
	return product, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.ProductRepository = (*productRepository)(nil)
