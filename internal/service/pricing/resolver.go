// Package pricing реализует чистый расчёт цены строки корзины: выбор
// оптового порога и налог по режиму товара. Никаких побочных эффектов и I/O;
// одна и та же логика обслуживает и серверный путь, и офлайн-реплей, чтобы
// два расчёта никогда не разошлись.
package pricing

import (
	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// LineInput — вход расчёта одной строки корзины.
type LineInput struct {
	Product  domain.Product
	Quantity int32
	// TierID — явно выбранный порог; пустая строка означает автоматический выбор.
	TierID string
}

// LinePrice — результат расчёта строки.
type LinePrice struct {
	// TierID — применённый порог; пустая строка, если использована розничная цена.
	TierID         string
	UnitPriceMinor int64
	LineTotalMinor int64
	// LineTaxMinor — налог строки. Для inclusive-режима равен нулю: налог уже
	// заложен в цену, сумма к оплате остаётся LineTotalMinor.
	LineTaxMinor int64
}

// TotalToCollectMinor возвращает сумму к получению с плательщика.
func (p LinePrice) TotalToCollectMinor() int64 {
	return p.LineTotalMinor + p.LineTaxMinor
}

// SelectTier выбирает применимый оптовый порог.
// При явном explicitID порог используется, если он активен и qty >= MinQuantity.
// Иначе среди активных порогов с MinQuantity <= qty побеждает порог с
// наибольшим MinQuantity. Возвращает nil, если ни один порог не подходит.
func SelectTier(tiers []domain.WholesaleTier, qty int32, explicitID string) *domain.WholesaleTier {
	if explicitID != "" {
		for i := range tiers {
			tier := &tiers[i]
			if tier.ID == explicitID && tier.Active && qty >= tier.MinQuantity {
				return tier
			}
		}
		// Явный порог не подошёл — падаем в автоматический выбор.
	}

	var best *domain.WholesaleTier
	for i := range tiers {
		tier := &tiers[i]
		if !tier.Active || qty < tier.MinQuantity {
			continue
		}
		if tier.MaxQuantity > 0 && qty > tier.MaxQuantity {
			continue
		}
		if best == nil || tier.MinQuantity > best.MinQuantity {
			best = tier
		}
	}
	return best
}

// ResolveLine рассчитывает цену, сумму и налог строки по снимку товара.
// rateBps — налоговая ставка в базисных пунктах (1600 = 16%).
func ResolveLine(in LineInput, rateBps int64) (LinePrice, error) {
	if in.Quantity <= 0 {
		return LinePrice{}, domain.ErrQuantityInvalid
	}
	if in.Product.ID == "" {
		return LinePrice{}, domain.ErrProductIDRequired
	}
	if rateBps < 0 {
		return LinePrice{}, domain.ErrAmountNegative
	}

	unit := in.Product.RetailMinor
	tierID := ""
	if tier := SelectTier(in.Product.Tiers, in.Quantity, in.TierID); tier != nil {
		unit = tier.PriceMinor
		tierID = tier.ID
	}

	lineTotal := unit * int64(in.Quantity)

	var tax int64
	switch in.Product.TaxMode {
	case domain.TaxModeExclusive:
		tax = lineTotal * rateBps / 10000
	case domain.TaxModeInclusive, domain.TaxModeNone:
		tax = 0
	default:
		return LinePrice{}, domain.ErrTaxModeUnknown
	}

	return LinePrice{
		TierID:         tierID,
		UnitPriceMinor: unit,
		LineTotalMinor: lineTotal,
		LineTaxMinor:   tax,
	}, nil
}
