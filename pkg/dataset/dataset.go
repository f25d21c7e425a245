package dataset

import (
	"time"
)

// Section names are the top-level keys of the assembled document. Keys are
// stable: clients cache on them and the prompt references them verbatim.
const (
	SectionTimesheets     = "timesheets"
	SectionClients        = "clients"
	SectionProjects       = "projects"
	SectionTasks          = "tasks"
	SectionQuotes         = "quotes"
	SectionOrders         = "orders"
	SectionInvoices       = "invoices"
	SectionPayments       = "payments"
	SectionExpenses       = "expenses"
	SectionSuppliers      = "suppliers"
	SectionSupplierQuotes = "supplierQuotes"
	SectionCatalog        = "catalog"
	SectionSpecialBids    = "specialBids"
)

// AllSections lists every section in document order.
var AllSections = []string{
	SectionTimesheets,
	SectionClients,
	SectionProjects,
	SectionTasks,
	SectionQuotes,
	SectionOrders,
	SectionInvoices,
	SectionPayments,
	SectionExpenses,
	SectionSuppliers,
	SectionSupplierQuotes,
	SectionCatalog,
	SectionSpecialBids,
}

// dropOrder is the least-important-first order used when the truncation
// ladder alone cannot fit the document into the budget.
var dropOrder = []string{
	SectionSpecialBids,
	SectionCatalog,
	SectionSupplierQuotes,
	SectionSuppliers,
	SectionExpenses,
	SectionPayments,
	SectionInvoices,
	SectionOrders,
	SectionQuotes,
	SectionTasks,
	SectionProjects,
	SectionTimesheets,
	SectionClients,
}

// Window is the trailing time range every section query is scoped to.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// DefaultWindow returns the trailing twelve months ending at now.
func DefaultWindow(now time.Time) Window {
	return Window{From: now.AddDate(-1, 0, 0), To: now}
}

// Key is the window's contribution to a dataset cache variant key.
func (w Window) Key() string {
	return w.From.UTC().Format("20060102") + "-" + w.To.UTC().Format("20060102")
}

// Fragment is one section's self-contained JSON-shaped piece of the document.
type Fragment = map[string]any

// Meta describes how the document was produced; it travels with the data so
// the provider (and any caller) can see exactly what was omitted.
type Meta struct {
	GeneratedAt time.Time      `json:"generatedAt"`
	Window      Window         `json:"window"`
	Currency    string         `json:"currency"`
	Scope       Scope          `json:"scope"`
	Context     ContextInfo    `json:"context"`
	Truncation  TruncationInfo `json:"truncation"`
}

// Scope records who the document was built for and the capabilities that
// actually gated its content.
type Scope struct {
	PrincipalID  string   `json:"principalId"`
	Capabilities []string `json:"capabilities"`
}

// ContextInfo records which sections were asked for, delivered, and dropped.
type ContextInfo struct {
	RequestedSections []string `json:"requestedSections"`
	IncludedSections  []string `json:"includedSections"`
	DroppedSections   []string `json:"droppedSections"`
	FinalCharCount    int      `json:"finalCharCount"`
}

// TruncationInfo records every shrinking action the assembler applied.
type TruncationInfo struct {
	Applied        bool     `json:"applied"`
	Level          int      `json:"level"`
	TrimmedPaths   []string `json:"trimmedPaths,omitempty"`
	StrippedFields []string `json:"strippedFields,omitempty"`
}

// Dataset is the assembled document plus its canonical serialization.
type Dataset struct {
	Meta       Meta
	Document   map[string]any
	Serialized []byte
	QueryCount int
}
