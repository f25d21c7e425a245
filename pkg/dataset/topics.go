package dataset

import (
	"regexp"
	"strings"
)

// Topic detection narrows a question to the sections it is about so a
// focused question does not pay for a full aggregation pass. Keyword lists
// are configuration: heuristic, bilingual (English/Italian), and expected to
// be tuned without touching the detection mechanics.

// broadPhrases short-circuit detection: the user asked for everything.
var broadPhrases = []string{
	"everything",
	"all the data",
	"all data",
	"full picture",
	"overall situation",
	"general overview",
	"tutto",
	"tutti i dati",
	"panoramica",
	"quadro generale",
	"situazione generale",
}

// sectionKeywords maps each section to its trigger words.
var sectionKeywords = map[string][]string{
	SectionTimesheets:     {"timesheet", "timesheets", "hours", "worked", "logged", "ore", "rapportini", "consuntivo"},
	SectionClients:        {"client", "clients", "customer", "customers", "cliente", "clienti"},
	SectionProjects:       {"project", "projects", "progetto", "progetti", "commessa", "commesse"},
	SectionTasks:          {"task", "tasks", "activity", "activities", "attivita", "compiti"},
	SectionQuotes:         {"quote", "quotes", "quotation", "estimate", "preventivo", "preventivi", "offerta", "offerte"},
	SectionOrders:         {"order", "orders", "ordine", "ordini"},
	SectionInvoices:       {"invoice", "invoices", "billing", "billed", "fattura", "fatture", "fatturato"},
	SectionPayments:       {"payment", "payments", "paid", "incasso", "incassi", "pagamento", "pagamenti"},
	SectionExpenses:       {"expense", "expenses", "cost", "costs", "spesa", "spese", "costi", "rimborso", "rimborsi"},
	SectionSuppliers:      {"supplier", "suppliers", "vendor", "vendors", "fornitore", "fornitori"},
	SectionSupplierQuotes: {"purchase quote", "purchase quotes", "supplier quote", "supplier quotes", "preventivo fornitore", "preventivi fornitori"},
	SectionCatalog:        {"catalog", "catalogue", "product", "products", "listino", "catalogo", "articolo", "articoli"},
	SectionSpecialBids:    {"special bid", "special bids", "bid", "bids", "sconto speciale", "sconti speciali"},
}

// forcedPairs completes a partial match with the sections it only makes
// sense together with.
var forcedPairs = map[string][]string{
	SectionTasks:          {SectionProjects},
	SectionProjects:       {SectionTasks},
	SectionSupplierQuotes: {SectionSuppliers},
}

// broadMatchThreshold: matching this many sections means the question is
// effectively about everything.
const broadMatchThreshold = 8

var separators = regexp.MustCompile(`[\s\p{P}]+`)

// normalize lowercases the text and collapses punctuation and whitespace
// runs into single spaces so word-boundary matching is cheap.
func normalize(text string) string {
	return strings.TrimSpace(separators.ReplaceAllString(strings.ToLower(text), " "))
}

// containsWord matches keyword at word boundaries inside normalized text.
func containsWord(normalized, keyword string) bool {
	padded := " " + normalized + " "
	return strings.Contains(padded, " "+keyword+" ")
}

// DetectTopics maps the latest question (plus up to three prior user turns)
// onto the sections it appears to be about. nil means no narrowing: include
// everything. Retry markers in prior turns must be filtered by the caller.
func DetectTopics(latest string, priorUserTurns []string) []string {
	if len(priorUserTurns) > 3 {
		priorUserTurns = priorUserTurns[len(priorUserTurns)-3:]
	}

	text := normalize(latest)
	for _, phrase := range broadPhrases {
		if containsWord(text, phrase) {
			return nil
		}
	}

	parts := []string{text}
	for _, turn := range priorUserTurns {
		parts = append(parts, normalize(turn))
	}
	combined := strings.Join(parts, " ")

	matched := map[string]bool{}
	for section, keywords := range sectionKeywords {
		for _, kw := range keywords {
			if containsWord(combined, kw) {
				matched[section] = true
				break
			}
		}
	}

	for section := range matched {
		for _, pair := range forcedPairs[section] {
			matched[pair] = true
		}
	}

	if len(matched) == 0 || len(matched) >= broadMatchThreshold {
		return nil
	}

	// Keep document order for a stable sections signature.
	var out []string
	for _, section := range AllSections {
		if matched[section] {
			out = append(out, section)
		}
	}
	return out
}
