package dataset

import (
	"context"

	"gorm.io/gorm"

	"business-copilot-be/pkg/permission"
)

func buildSuppliers(ctx context.Context, q *Querier, p *permission.Principal, w Window, lim Limits) (Fragment, error) {
	var totals struct {
		SupplierCount int64
	}
	if err := q.Scan(ctx, &totals, func(tx *gorm.DB) *gorm.DB {
		return tx.Table("suppliers").Select("COUNT(*) AS supplier_count")
	}); err != nil {
		return nil, err
	}

	var topByVolume []map[string]any
	if err := q.Scan(ctx, &topByVolume, func(tx *gorm.DB) *gorm.DB {
		return tx.Table("supplier_quotes").
			Joins("JOIN suppliers ON suppliers.id = supplier_quotes.supplier_id").
			Where("supplier_quotes.created_at >= ? AND supplier_quotes.created_at < ?", w.From, w.To).
			Select("supplier_quotes.supplier_id, suppliers.name AS supplier, COUNT(*) AS quote_count, SUM(supplier_quotes.total) AS value").
			Group("supplier_quotes.supplier_id, suppliers.name").
			Order("value DESC, supplier").Limit(lim.Rank)
	}); err != nil {
		return nil, err
	}

	var listing []map[string]any
	if err := q.Scan(ctx, &listing, func(tx *gorm.DB) *gorm.DB {
		return tx.Table("suppliers").
			Select("id, name, address, created_at").
			Order("name, id").Limit(lim.List)
	}); err != nil {
		return nil, err
	}

	return Fragment{
		"supplierCount":        totals.SupplierCount,
		"topSuppliersByVolume": rowsToList(topByVolume),
		"suppliers":            rowsToList(listing),
	}, nil
}

func buildSupplierQuotes(ctx context.Context, q *Querier, p *permission.Principal, w Window, lim Limits) (Fragment, error) {
	scoped := func(tx *gorm.DB) *gorm.DB {
		return tx.Table("supplier_quotes").Where("created_at >= ? AND created_at < ?", w.From, w.To)
	}

	var totals struct {
		QuoteCount int64
		TotalValue float64
	}
	if err := q.Scan(ctx, &totals, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).Select("COUNT(*) AS quote_count, COALESCE(SUM(total), 0) AS total_value")
	}); err != nil {
		return nil, err
	}

	var byStatus []map[string]any
	if err := q.Scan(ctx, &byStatus, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).
			Select("status, COUNT(*) AS count, SUM(total) AS value").
			Group("status").Order("value DESC, status")
	}); err != nil {
		return nil, err
	}

	var recent []map[string]any
	if err := q.Scan(ctx, &recent, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).
			Select("id, supplier_id, status, total, created_at").
			Order("created_at DESC, id").Limit(lim.List)
	}); err != nil {
		return nil, err
	}

	return Fragment{
		"quoteCount":             totals.QuoteCount,
		"totalValue":             finiteFloat(totals.TotalValue),
		"supplierQuotesByStatus": rowsToList(byStatus),
		"recentSupplierQuotes":   rowsToList(recent),
	}, nil
}

func buildCatalog(ctx context.Context, q *Querier, p *permission.Principal, w Window, lim Limits) (Fragment, error) {
	var totals struct {
		ItemCount   int64
		ActiveCount int64
	}
	if err := q.Scan(ctx, &totals, func(tx *gorm.DB) *gorm.DB {
		return tx.Table("catalog_items").
			Select("COUNT(*) AS item_count, COUNT(CASE WHEN active THEN 1 END) AS active_count")
	}); err != nil {
		return nil, err
	}

	var byCategory []map[string]any
	if err := q.Scan(ctx, &byCategory, func(tx *gorm.DB) *gorm.DB {
		return tx.Table("catalog_items").
			Select("category, COUNT(*) AS count, AVG(price) AS avg_price").
			Group("category").Order("count DESC, category")
	}); err != nil {
		return nil, err
	}

	var items []map[string]any
	if err := q.Scan(ctx, &items, func(tx *gorm.DB) *gorm.DB {
		return tx.Table("catalog_items").
			Select("id, code, name, category, price, active").
			Where("active = ?", true).
			Order("code, id").Limit(lim.List)
	}); err != nil {
		return nil, err
	}

	return Fragment{
		"itemCount":       totals.ItemCount,
		"activeItemCount": totals.ActiveCount,
		"itemsByCategory": rowsToList(byCategory),
		"activeItems":     rowsToList(items),
	}, nil
}

func buildSpecialBids(ctx context.Context, q *Querier, p *permission.Principal, w Window, lim Limits) (Fragment, error) {
	scoped := func(tx *gorm.DB) *gorm.DB {
		return tx.Table("special_bids").Where("created_at >= ? AND created_at < ?", w.From, w.To)
	}

	var totals struct {
		BidCount int64
	}
	if err := q.Scan(ctx, &totals, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).Select("COUNT(*) AS bid_count")
	}); err != nil {
		return nil, err
	}

	var byStatus []map[string]any
	if err := q.Scan(ctx, &byStatus, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).
			Select("status, COUNT(*) AS count, AVG(discount) AS avg_discount").
			Group("status").Order("count DESC, status")
	}); err != nil {
		return nil, err
	}

	var recent []map[string]any
	if err := q.Scan(ctx, &recent, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).
			Select("id, client_id, supplier_id, status, discount, created_at").
			Order("created_at DESC, id").Limit(lim.List)
	}); err != nil {
		return nil, err
	}

	return Fragment{
		"bidCount":     totals.BidCount,
		"bidsByStatus": rowsToList(byStatus),
		"recentBids":   rowsToList(recent),
	}, nil
}
