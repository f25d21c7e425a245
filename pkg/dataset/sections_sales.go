package dataset

import (
	"context"

	"gorm.io/gorm"

	"business-copilot-be/pkg/permission"
)

func buildClients(ctx context.Context, q *Querier, p *permission.Principal, w Window, lim Limits) (Fragment, error) {
	var totals struct {
		ClientCount int64
		NewInWindow int64
	}
	if err := q.Scan(ctx, &totals, func(tx *gorm.DB) *gorm.DB {
		return tx.Table("clients").
			Select("COUNT(*) AS client_count, COUNT(CASE WHEN created_at >= ? THEN 1 END) AS new_in_window", w.From)
	}); err != nil {
		return nil, err
	}

	var topByRevenue []map[string]any
	if err := q.Scan(ctx, &topByRevenue, func(tx *gorm.DB) *gorm.DB {
		return tx.Table("invoices").
			Joins("JOIN clients ON clients.id = invoices.client_id").
			Where("invoices.issued_at >= ? AND invoices.issued_at < ?", w.From, w.To).
			Select("invoices.client_id, clients.name AS client, SUM(invoices.total) AS revenue").
			Group("invoices.client_id, clients.name").
			Order("revenue DESC, client").Limit(lim.Rank)
	}); err != nil {
		return nil, err
	}

	var listing []map[string]any
	if err := q.Scan(ctx, &listing, func(tx *gorm.DB) *gorm.DB {
		return tx.Table("clients").
			Select("id, name, address, created_at").
			Order("created_at DESC, id").Limit(lim.List)
	}); err != nil {
		return nil, err
	}

	return Fragment{
		"clientCount":         totals.ClientCount,
		"newClientsInWindow":  totals.NewInWindow,
		"topClientsByRevenue": rowsToList(topByRevenue),
		"clients":             rowsToList(listing),
	}, nil
}

func buildQuotes(ctx context.Context, q *Querier, p *permission.Principal, w Window, lim Limits) (Fragment, error) {
	scoped := func(tx *gorm.DB) *gorm.DB {
		tx = tx.Table("quotes").Where("created_at >= ? AND created_at < ?", w.From, w.To)
		return scopeUsers(tx, p, permission.CapQuotesViewAll, "owner_id")
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

	var byMonth []map[string]any
	if err := q.Scan(ctx, &byMonth, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).
			Select(monthExpr("created_at") + " AS month, COUNT(*) AS count, SUM(total) AS value").
			Group(monthExpr("created_at")).Order("month")
	}); err != nil {
		return nil, err
	}

	var largest []map[string]any
	if err := q.Scan(ctx, &largest, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).
			Select("id, client_id, status, total, created_at").
			Order("total DESC, id").Limit(lim.Rank)
	}); err != nil {
		return nil, err
	}

	return Fragment{
		"quoteCount":     totals.QuoteCount,
		"totalValue":     finiteFloat(totals.TotalValue),
		"quotesByStatus": rowsToList(byStatus),
		"quotesByMonth":  rowsToList(byMonth),
		"largestQuotes":  rowsToList(largest),
	}, nil
}

func buildOrders(ctx context.Context, q *Querier, p *permission.Principal, w Window, lim Limits) (Fragment, error) {
	scoped := func(tx *gorm.DB) *gorm.DB {
		return tx.Table("orders").Where("created_at >= ? AND created_at < ?", w.From, w.To)
	}

	var totals struct {
		OrderCount int64
		TotalValue float64
	}
	if err := q.Scan(ctx, &totals, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).Select("COUNT(*) AS order_count, COALESCE(SUM(total), 0) AS total_value")
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

	var byMonth []map[string]any
	if err := q.Scan(ctx, &byMonth, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).
			Select(monthExpr("created_at") + " AS month, COUNT(*) AS count, SUM(total) AS value").
			Group(monthExpr("created_at")).Order("month")
	}); err != nil {
		return nil, err
	}

	var recent []map[string]any
	if err := q.Scan(ctx, &recent, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).
			Select("id, client_id, status, total, created_at").
			Order("created_at DESC, id").Limit(lim.List)
	}); err != nil {
		return nil, err
	}

	return Fragment{
		"orderCount":     totals.OrderCount,
		"totalValue":     finiteFloat(totals.TotalValue),
		"ordersByStatus": rowsToList(byStatus),
		"ordersByMonth":  rowsToList(byMonth),
		"recentOrders":   rowsToList(recent),
	}, nil
}

func buildInvoices(ctx context.Context, q *Querier, p *permission.Principal, w Window, lim Limits) (Fragment, error) {
	scoped := func(tx *gorm.DB) *gorm.DB {
		return tx.Table("invoices").Where("issued_at >= ? AND issued_at < ?", w.From, w.To)
	}

	var totals struct {
		InvoiceCount     int64
		TotalInvoiced    float64
		TotalOutstanding float64
	}
	if err := q.Scan(ctx, &totals, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).Select(
			"COUNT(*) AS invoice_count, " +
				"COALESCE(SUM(total), 0) AS total_invoiced, " +
				"COALESCE(SUM(CASE WHEN paid_at IS NULL THEN total ELSE 0 END), 0) AS total_outstanding")
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

	var byMonth []map[string]any
	if err := q.Scan(ctx, &byMonth, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).
			Select(monthExpr("issued_at") + " AS month, COUNT(*) AS count, SUM(total) AS value").
			Group(monthExpr("issued_at")).Order("month")
	}); err != nil {
		return nil, err
	}

	var overdue []map[string]any
	if err := q.Scan(ctx, &overdue, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).
			Select("id, client_id, total, issued_at, due_at").
			Where("paid_at IS NULL AND due_at < ?", w.To).
			Order("due_at, id").Limit(lim.List)
	}); err != nil {
		return nil, err
	}

	return Fragment{
		"invoiceCount":     totals.InvoiceCount,
		"totalInvoiced":    finiteFloat(totals.TotalInvoiced),
		"totalOutstanding": finiteFloat(totals.TotalOutstanding),
		"invoicesByStatus": rowsToList(byStatus),
		"invoicesByMonth":  rowsToList(byMonth),
		"overdueInvoices":  rowsToList(overdue),
	}, nil
}

func buildPayments(ctx context.Context, q *Querier, p *permission.Principal, w Window, lim Limits) (Fragment, error) {
	scoped := func(tx *gorm.DB) *gorm.DB {
		return tx.Table("payments").Where("paid_at >= ? AND paid_at < ?", w.From, w.To)
	}

	var totals struct {
		PaymentCount  int64
		TotalReceived float64
	}
	if err := q.Scan(ctx, &totals, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).Select("COUNT(*) AS payment_count, COALESCE(SUM(amount), 0) AS total_received")
	}); err != nil {
		return nil, err
	}

	var byMethod []map[string]any
	if err := q.Scan(ctx, &byMethod, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).
			Select("method, COUNT(*) AS count, SUM(amount) AS amount").
			Group("method").Order("amount DESC, method")
	}); err != nil {
		return nil, err
	}

	var byMonth []map[string]any
	if err := q.Scan(ctx, &byMonth, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).
			Select(monthExpr("paid_at") + " AS month, SUM(amount) AS amount").
			Group(monthExpr("paid_at")).Order("month")
	}); err != nil {
		return nil, err
	}

	var recent []map[string]any
	if err := q.Scan(ctx, &recent, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).
			Select("id, invoice_id, amount, method, paid_at").
			Order("paid_at DESC, id").Limit(lim.List)
	}); err != nil {
		return nil, err
	}

	return Fragment{
		"paymentCount":     totals.PaymentCount,
		"totalReceived":    finiteFloat(totals.TotalReceived),
		"paymentsByMethod": rowsToList(byMethod),
		"paymentsByMonth":  rowsToList(byMonth),
		"recentPayments":   rowsToList(recent),
	}, nil
}
