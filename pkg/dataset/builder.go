package dataset

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"gorm.io/gorm"

	"business-copilot-be/pkg/permission"
)

// DefaultBudget is the global character budget for the serialized document.
const DefaultBudget = 50_000

// Assembler builds permission-filtered dataset documents.
type Assembler struct {
	db       *gorm.DB
	budget   int
	limits   Limits
	currency string
	now      func() time.Time
}

func NewAssembler(db *gorm.DB, currency string) *Assembler {
	if currency == "" {
		currency = "EUR"
	}
	return &Assembler{
		db:       db,
		budget:   DefaultBudget,
		limits:   DefaultLimits,
		currency: currency,
		now:      time.Now,
	}
}

// WithBudget overrides the character budget.
func (a *Assembler) WithBudget(budget int) *Assembler {
	a.budget = budget
	return a
}

// WithLimits overrides the per-query ranked/listing caps.
func (a *Assembler) WithLimits(lim Limits) *Assembler {
	a.limits = lim
	return a
}

// Build assembles the document for one principal. requested nil means every
// section; sections the principal does not qualify for are skipped silently.
// Output bytes are deterministic given (capability set, window, requested
// sections) apart from the generation timestamp in meta.
func (a *Assembler) Build(ctx context.Context, p *permission.Principal, w Window, requested []string) (*Dataset, error) {
	counter := &QueryCounter{}
	q := NewQuerier(a.db, counter)

	if requested == nil {
		requested = AllSections
	}

	doc := map[string]any{}
	var included []string
	usedCaps := map[string]bool{}

	for _, section := range AllSections {
		if !contains(requested, section) {
			continue
		}
		fragment, err := Aggregate(ctx, q, p, section, w, a.limits)
		if err != nil {
			return nil, err
		}
		if fragment == nil {
			continue
		}
		doc[section] = map[string]any(fragment)
		included = append(included, section)
		for _, c := range sections[section].qualifying {
			if p.Has(c) {
				usedCaps[c] = true
			}
		}
	}

	meta := Meta{
		GeneratedAt: a.now().UTC(),
		Window:      w,
		Currency:    a.currency,
		Scope: Scope{
			PrincipalID:  p.ID.String(),
			Capabilities: sortedSet(usedCaps),
		},
		Context: ContextInfo{
			RequestedSections: sortedCopy(requested),
		},
	}

	// The budget covers the whole serialization, meta included. Each ladder
	// step is priced with the current bookkeeping sealed in, then meta is
	// pulled back out so trimming never walks it.
	measure := func(info TruncationInfo, dropped []string) int {
		kept := make([]string, 0, len(included))
		for _, s := range included {
			if !contains(dropped, s) {
				kept = append(kept, s)
			}
		}
		meta.Context.IncludedSections = sortedCopy(kept)
		meta.Context.DroppedSections = sortedCopy(dropped)
		meta.Truncation = info
		n := len(a.sealMeta(doc, &meta))
		delete(doc, "meta")
		return n
	}

	truncation, dropped := enforceBudget(doc, a.budget, measure)
	for _, d := range dropped {
		included = remove(included, d)
	}

	meta.Context.IncludedSections = sortedCopy(included)
	meta.Context.DroppedSections = sortedCopy(dropped)
	meta.Truncation = truncation

	serialized := a.sealMeta(doc, &meta)

	return &Dataset{
		Meta:       meta,
		Document:   doc,
		Serialized: serialized,
		QueryCount: counter.Count(),
	}, nil
}

// sealMeta embeds meta into the document and settles finalCharCount so it
// equals the actual serialized length. The count feeds back into the bytes
// it measures, so iterate until stable (digit width converges immediately).
func (a *Assembler) sealMeta(doc map[string]any, meta *Meta) []byte {
	var serialized []byte
	for i := 0; i < 4; i++ {
		doc["meta"] = metaToMap(*meta)
		serialized = serialize(doc)
		if meta.Context.FinalCharCount == len(serialized) {
			break
		}
		meta.Context.FinalCharCount = len(serialized)
	}
	return serialized
}

func metaToMap(meta Meta) map[string]any {
	raw, _ := json.Marshal(meta)
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return m
}

// VariantKey is the cache variant key for one build: window, requested
// sections signature, and the principal's capability hash. Permission changes
// therefore miss the cache without an explicit bump.
func VariantKey(p *permission.Principal, w Window, requested []string) string {
	sectionsSig := "all"
	if requested != nil {
		sorted := sortedCopy(requested)
		sig := ""
		for i, s := range sorted {
			if i > 0 {
				sig += "+"
			}
			sig += s
		}
		sectionsSig = sig
	}
	return w.Key() + ":" + sectionsSig + ":" + p.Hash()
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func remove(list []string, s string) []string {
	out := list[:0]
	for _, x := range list {
		if x != s {
			out = append(out, x)
		}
	}
	return out
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
