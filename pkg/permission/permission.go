package permission

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Capability names follow "<area>.<action>". The ".viewAll" variant lifts the
// own/managed scoping that ".view" implies.
const (
	CapChatUse = "chat.use"

	CapTimesheetsView     = "timesheets.view"
	CapTimesheetsViewAll  = "timesheets.viewAll"
	CapClientsView        = "clients.view"
	CapProjectsView       = "projects.view"
	CapProjectsViewAll    = "projects.viewAll"
	CapTasksView          = "tasks.view"
	CapTasksViewAll       = "tasks.viewAll"
	CapQuotesView         = "quotes.view"
	CapQuotesViewAll      = "quotes.viewAll"
	CapOrdersView         = "orders.view"
	CapInvoicesView       = "invoices.view"
	CapPaymentsView       = "payments.view"
	CapExpensesView       = "expenses.view"
	CapExpensesViewAll    = "expenses.viewAll"
	CapSuppliersView      = "suppliers.view"
	CapSupplierQuotesView = "supplierQuotes.view"
	CapCatalogView        = "catalog.view"
	CapSpecialBidsView    = "specialBids.view"
)

// Principal is the effective permission snapshot for one request: the
// authenticated user plus everything the oracle resolved for them.
type Principal struct {
	ID             uuid.UUID
	Capabilities   []string
	ManagedUserIDs []uuid.UUID
}

// Oracle resolves a request principal. Capability assignment and the
// manager hierarchy live outside this service; we only consume them.
type Oracle interface {
	Resolve(ctx context.Context, userID uuid.UUID) (*Principal, error)
}

// Has reports whether the principal holds the named capability.
func (p *Principal) Has(capability string) bool {
	for _, c := range p.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// HasAny reports whether the principal holds at least one of the capabilities.
func (p *Principal) HasAny(capabilities ...string) bool {
	for _, c := range capabilities {
		if p.Has(c) {
			return true
		}
	}
	return false
}

// ScopeUserIDs returns the principal's own id plus every managed user id.
// Section queries restrict to these ids when the ".viewAll" capability is absent.
func (p *Principal) ScopeUserIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(p.ManagedUserIDs)+1)
	ids = append(ids, p.ID)
	ids = append(ids, p.ManagedUserIDs...)
	return ids
}

// SortedCapabilities returns a sorted copy of the capability list.
func (p *Principal) SortedCapabilities() []string {
	caps := make([]string, len(p.Capabilities))
	copy(caps, p.Capabilities)
	sort.Strings(caps)
	return caps
}

// Hash returns a short digest of the sorted capability list. Folding it into
// cache keys makes a permission change invalidate cached reads on its own.
func (p *Principal) Hash() string {
	sum := md5.Sum([]byte(strings.Join(p.SortedCapabilities(), ",")))
	return hex.EncodeToString(sum[:])[:12]
}
