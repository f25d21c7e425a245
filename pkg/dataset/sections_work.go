package dataset

import (
	"context"

	"gorm.io/gorm"

	"business-copilot-be/pkg/permission"
)

func buildTimesheets(ctx context.Context, q *Querier, p *permission.Principal, w Window, lim Limits) (Fragment, error) {
	scoped := func(tx *gorm.DB) *gorm.DB {
		tx = tx.Table("timesheets").Where("date >= ? AND date < ?", w.From, w.To)
		return scopeUsers(tx, p, permission.CapTimesheetsViewAll, "user_id")
	}

	var totals struct {
		TotalHours float64
		EntryCount int64
	}
	if err := q.Scan(ctx, &totals, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).Select("COALESCE(SUM(hours), 0) AS total_hours, COUNT(*) AS entry_count")
	}); err != nil {
		return nil, err
	}

	var byMonth []map[string]any
	if err := q.Scan(ctx, &byMonth, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).
			Select(monthExpr("date") + " AS month, SUM(hours) AS hours").
			Group(monthExpr("date")).Order("month")
	}); err != nil {
		return nil, err
	}

	var byUser []map[string]any
	if err := q.Scan(ctx, &byUser, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).
			Select("user_id, SUM(hours) AS hours").
			Group("user_id").Order("hours DESC, user_id").Limit(lim.Rank)
	}); err != nil {
		return nil, err
	}

	var topProjects []map[string]any
	if err := q.Scan(ctx, &topProjects, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).
			Joins("JOIN projects ON projects.id = timesheets.project_id").
			Select("timesheets.project_id, projects.name AS project, SUM(timesheets.hours) AS hours").
			Group("timesheets.project_id, projects.name").
			Order("hours DESC, project").Limit(lim.Rank)
	}); err != nil {
		return nil, err
	}

	var recent []map[string]any
	if err := q.Scan(ctx, &recent, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).
			Select("date, user_id, project_id, hours, note").
			Order("date DESC, user_id").Limit(lim.List)
	}); err != nil {
		return nil, err
	}

	return Fragment{
		"totalHours":         finiteFloat(totals.TotalHours),
		"entryCount":         totals.EntryCount,
		"hoursByMonth":       rowsToList(byMonth),
		"hoursByUser":        rowsToList(byUser),
		"topProjectsByHours": rowsToList(topProjects),
		"recentEntries":      rowsToList(recent),
	}, nil
}

func buildProjects(ctx context.Context, q *Querier, p *permission.Principal, w Window, lim Limits) (Fragment, error) {
	scoped := func(tx *gorm.DB) *gorm.DB {
		tx = tx.Table("projects")
		return scopeUsers(tx, p, permission.CapProjectsViewAll, "manager_id")
	}

	var totals struct {
		ProjectCount int64
	}
	if err := q.Scan(ctx, &totals, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).Select("COUNT(*) AS project_count")
	}); err != nil {
		return nil, err
	}

	var byStatus []map[string]any
	if err := q.Scan(ctx, &byStatus, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).
			Select("status, COUNT(*) AS count").
			Group("status").Order("count DESC, status")
	}); err != nil {
		return nil, err
	}

	var byClient []map[string]any
	if err := q.Scan(ctx, &byClient, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).
			Joins("JOIN clients ON clients.id = projects.client_id").
			Select("projects.client_id, clients.name AS client, COUNT(*) AS count").
			Group("projects.client_id, clients.name").
			Order("count DESC, client").Limit(lim.Rank)
	}); err != nil {
		return nil, err
	}

	var active []map[string]any
	if err := q.Scan(ctx, &active, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).
			Select("id, name, status, client_id, manager_id, created_at").
			Where("status NOT IN ?", []string{"closed", "cancelled"}).
			Order("created_at DESC, id").Limit(lim.List)
	}); err != nil {
		return nil, err
	}

	return Fragment{
		"projectCount":     totals.ProjectCount,
		"projectsByStatus": rowsToList(byStatus),
		"projectsByClient": rowsToList(byClient),
		"activeProjects":   rowsToList(active),
	}, nil
}

func buildTasks(ctx context.Context, q *Querier, p *permission.Principal, w Window, lim Limits) (Fragment, error) {
	scoped := func(tx *gorm.DB) *gorm.DB {
		tx = tx.Table("tasks").Where("created_at >= ? AND created_at < ?", w.From, w.To)
		return scopeUsers(tx, p, permission.CapTasksViewAll, "assignee_id")
	}

	var totals struct {
		TaskCount      int64
		EstimatedHours float64
	}
	if err := q.Scan(ctx, &totals, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).Select("COUNT(*) AS task_count, COALESCE(SUM(estimated_hours), 0) AS estimated_hours")
	}); err != nil {
		return nil, err
	}

	var byStatus []map[string]any
	if err := q.Scan(ctx, &byStatus, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).
			Select("status, COUNT(*) AS count").
			Group("status").Order("count DESC, status")
	}); err != nil {
		return nil, err
	}

	var byAssignee []map[string]any
	if err := q.Scan(ctx, &byAssignee, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).
			Select("assignee_id, COUNT(*) AS count").
			Group("assignee_id").Order("count DESC, assignee_id").Limit(lim.Rank)
	}); err != nil {
		return nil, err
	}

	var open []map[string]any
	if err := q.Scan(ctx, &open, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).
			Select("id, project_id, assignee_id, status, estimated_hours, created_at").
			Where("status NOT IN ?", []string{"done", "cancelled"}).
			Order("created_at DESC, id").Limit(lim.List)
	}); err != nil {
		return nil, err
	}

	return Fragment{
		"taskCount":       totals.TaskCount,
		"estimatedHours":  finiteFloat(totals.EstimatedHours),
		"tasksByStatus":   rowsToList(byStatus),
		"tasksByAssignee": rowsToList(byAssignee),
		"openTasks":       rowsToList(open),
	}, nil
}

func buildExpenses(ctx context.Context, q *Querier, p *permission.Principal, w Window, lim Limits) (Fragment, error) {
	scoped := func(tx *gorm.DB) *gorm.DB {
		tx = tx.Table("expenses").Where("date >= ? AND date < ?", w.From, w.To)
		return scopeUsers(tx, p, permission.CapExpensesViewAll, "user_id")
	}

	var totals struct {
		TotalAmount  float64
		ExpenseCount int64
	}
	if err := q.Scan(ctx, &totals, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).Select("COALESCE(SUM(amount), 0) AS total_amount, COUNT(*) AS expense_count")
	}); err != nil {
		return nil, err
	}

	var byCategory []map[string]any
	if err := q.Scan(ctx, &byCategory, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).
			Select("category, SUM(amount) AS amount, COUNT(*) AS count").
			Group("category").Order("amount DESC, category")
	}); err != nil {
		return nil, err
	}

	var byMonth []map[string]any
	if err := q.Scan(ctx, &byMonth, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).
			Select(monthExpr("date") + " AS month, SUM(amount) AS amount").
			Group(monthExpr("date")).Order("month")
	}); err != nil {
		return nil, err
	}

	var recent []map[string]any
	if err := q.Scan(ctx, &recent, func(tx *gorm.DB) *gorm.DB {
		return scoped(tx).
			Select("date, user_id, category, amount, description").
			Order("date DESC, user_id").Limit(lim.List)
	}); err != nil {
		return nil, err
	}

	return Fragment{
		"totalAmount":        finiteFloat(totals.TotalAmount),
		"expenseCount":       totals.ExpenseCount,
		"expensesByCategory": rowsToList(byCategory),
		"expensesByMonth":    rowsToList(byMonth),
		"recentExpenses":     rowsToList(recent),
	}, nil
}
