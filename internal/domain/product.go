package domain

import "time"

// TaxMode определяет, как считается налог для товара.
type TaxMode string

const (
	// TaxModeExclusive — налог добавляется поверх цены строки.
	TaxModeExclusive TaxMode = "exclusive"
	// TaxModeInclusive — налог уже заложен в цену; сумма к оплате не меняется.
	TaxModeInclusive TaxMode = "inclusive"
	// TaxModeNone — товар не облагается налогом.
	TaxModeNone TaxMode = "none"
)

// Valid проверяет, что режим относится к поддерживаемым значениям.
func (m TaxMode) Valid() bool {
	switch m {
	case TaxModeExclusive, TaxModeInclusive, TaxModeNone:
		return true
	default:
		return false
	}
}

// DefaultVATRateBps — фиксированная национальная ставка НДС в базисных пунктах (16%).
const DefaultVATRateBps = int64(1600)

// WholesaleTier — ценовой порог для оптовой продажи товара.
// Среди активных порогов с MinQuantity <= qty побеждает порог
// с наибольшим MinQuantity (самая специфичная оптовая скидка).
type WholesaleTier struct {
	ID        string
	ProductID string
	// MinQuantity — нижняя граница количества (включительно).
	MinQuantity int32
	// MaxQuantity — верхняя граница; 0 означает "без ограничения".
	MaxQuantity int32
	// PriceMinor — фиксированная цена за единицу в минимальных денежных единицах.
	PriceMinor int64
	Active     bool
	CreatedAt  time.Time
}

// Validate проверяет корректность полей порога.
func (t *WholesaleTier) Validate() []error {
	var errs []error

	if t.ProductID == "" {
		errs = append(errs, ErrProductIDRequired)
	}
	if t.MinQuantity <= 0 {
		errs = append(errs, ErrQuantityInvalid)
	}
	if t.PriceMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	return errs
}

// Product — снимок товарной позиции каталога.
// StockQuantity мутируется исключительно через Inventory Guard.
type Product struct {
	ID   string
	SKU  string
	Name string
	// CostMinor — закупочная цена за единицу.
	CostMinor int64
	// RetailMinor — розничная цена за единицу.
	RetailMinor int64
	// WholesaleMinor — опциональная оптовая цена; 0 означает "не задана".
	WholesaleMinor int64
	StockQuantity  int32
	MinStock       int32
	MaxStock       int32
	TaxMode        TaxMode
	Tiers          []WholesaleTier
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ValidateInvariants проверяет базовые инварианты товара и возвращает список замечаний.
func (p *Product) ValidateInvariants() []error {
	var errs []error

	if p.Name == "" {
		errs = append(errs, ErrProductNameRequired)
	}
	if p.CostMinor < 0 || p.RetailMinor < 0 || p.WholesaleMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}
	if p.StockQuantity < 0 {
		errs = append(errs, ErrInsufficientStock)
	}
	if !p.TaxMode.Valid() {
		errs = append(errs, ErrTaxModeUnknown)
	}

	for i := range p.Tiers {
		errs = append(errs, p.Tiers[i].Validate()...)
	}

	return errs
}

// ActiveTiers возвращает только активные пороги товара.
func (p *Product) ActiveTiers() []WholesaleTier {
	active := make([]WholesaleTier, 0, len(p.Tiers))
	for _, tier := range p.Tiers {
		if tier.Active {
			active = append(active, tier)
		}
	}
	return active
}

// CatalogPatch — офлайн-правка карточки товара, реплеится через очередь синхронизации.
// Nil-поля означают "оставить без изменений".
type CatalogPatch struct {
	ProductID      string
	Name           *string
	RetailMinor    *int64
	WholesaleMinor *int64
	TaxMode        *TaxMode
}
