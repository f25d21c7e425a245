package dataset

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"business-copilot-be/pkg/permission"
)

// Limits caps the ranked and raw listing sizes per section query.
type Limits struct {
	Rank int // top-N rankings
	List int // raw item listings
}

// DefaultLimits matches the documented caps.
var DefaultLimits = Limits{Rank: 50, List: 200}

type sectionBuilder func(ctx context.Context, q *Querier, p *permission.Principal, w Window, lim Limits) (Fragment, error)

// sectionSpec gates and builds one section. A principal holding any of the
// qualifying capabilities receives the section; holding viewAllCap lifts the
// own/managed scoping inside it.
type sectionSpec struct {
	qualifying []string
	build      sectionBuilder
}

var sections = map[string]sectionSpec{
	SectionTimesheets: {
		qualifying: []string{permission.CapTimesheetsView, permission.CapTimesheetsViewAll},
		build:      buildTimesheets,
	},
	SectionClients: {
		qualifying: []string{permission.CapClientsView},
		build:      buildClients,
	},
	SectionProjects: {
		qualifying: []string{permission.CapProjectsView, permission.CapProjectsViewAll},
		build:      buildProjects,
	},
	SectionTasks: {
		qualifying: []string{permission.CapTasksView, permission.CapTasksViewAll},
		build:      buildTasks,
	},
	SectionQuotes: {
		qualifying: []string{permission.CapQuotesView, permission.CapQuotesViewAll},
		build:      buildQuotes,
	},
	SectionOrders: {
		qualifying: []string{permission.CapOrdersView},
		build:      buildOrders,
	},
	SectionInvoices: {
		qualifying: []string{permission.CapInvoicesView},
		build:      buildInvoices,
	},
	SectionPayments: {
		qualifying: []string{permission.CapPaymentsView},
		build:      buildPayments,
	},
	SectionExpenses: {
		qualifying: []string{permission.CapExpensesView, permission.CapExpensesViewAll},
		build:      buildExpenses,
	},
	SectionSuppliers: {
		qualifying: []string{permission.CapSuppliersView},
		build:      buildSuppliers,
	},
	SectionSupplierQuotes: {
		qualifying: []string{permission.CapSupplierQuotesView},
		build:      buildSupplierQuotes,
	},
	SectionCatalog: {
		qualifying: []string{permission.CapCatalogView},
		build:      buildCatalog,
	},
	SectionSpecialBids: {
		qualifying: []string{permission.CapSpecialBidsView},
		build:      buildSpecialBids,
	},
}

// Permitted reports whether the principal qualifies for a section at all.
// A section the principal does not qualify for is absent from the document
// even when requested by name.
func Permitted(p *permission.Principal, section string) bool {
	spec, ok := sections[section]
	if !ok {
		return false
	}
	return p.HasAny(spec.qualifying...)
}

// Aggregate builds one section fragment, or (nil, nil) when the principal
// lacks every qualifying capability.
func Aggregate(ctx context.Context, q *Querier, p *permission.Principal, section string, w Window, lim Limits) (Fragment, error) {
	spec, ok := sections[section]
	if !ok {
		return nil, fmt.Errorf("unknown section: %s", section)
	}
	if !p.HasAny(spec.qualifying...) {
		return nil, nil
	}
	fragment, err := spec.build(ctx, q, p, w, lim)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", section, err)
	}
	return fragment, nil
}

// scopeUsers restricts a query to records owned by the principal or by users
// they manage, unless the viewAll capability lifts the restriction.
func scopeUsers(tx *gorm.DB, p *permission.Principal, viewAllCap, column string) *gorm.DB {
	if viewAllCap != "" && p.Has(viewAllCap) {
		return tx
	}
	return tx.Where(column+" IN ?", p.ScopeUserIDs())
}

// monthExpr groups a timestamp column by calendar month. Casting to text and
// slicing the YYYY-MM prefix works on both postgres and sqlite.
func monthExpr(column string) string {
	return fmt.Sprintf("substr(CAST(%s AS TEXT), 1, 7)", column)
}
