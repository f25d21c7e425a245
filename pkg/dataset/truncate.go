package dataset

import (
	"encoding/json"
	"sort"
)

// tierCaps is the progressive list-length ladder. Tier n trims every
// list-shaped array in the document to tierCaps[n-1] items.
var tierCaps = []int{100, 50, 25, 10}

// narrativeFields are free-text fields stripped from list items from tier 2
// onward. Removing them sheds bytes without losing document structure.
var narrativeFields = map[string]bool{
	"note":        true,
	"description": true,
	"address":     true,
}

// serialize produces the canonical encoding of the document. encoding/json
// sorts map keys, which is what makes dataset bytes deterministic.
func serialize(doc map[string]any) []byte {
	raw, err := json.Marshal(doc)
	if err != nil {
		// The document is built from scanned rows and scalars only; an
		// encoding failure here is a programming error.
		panic(err)
	}
	return raw
}

// applyTrim walks the document and cuts every array longer than cap,
// shortening it in its parent container and recording the path. Cuts are
// monotonic: a later, smaller cap only removes more.
func applyTrim(node map[string]any, cap int, path string, trimmed *[]string) {
	for k, child := range node {
		childPath := joinPath(path, k)
		switch v := child.(type) {
		case map[string]any:
			applyTrim(v, cap, childPath, trimmed)
		case []any:
			if len(v) > cap {
				node[k] = v[:cap]
				v = v[:cap]
				*trimmed = append(*trimmed, childPath)
			}
			for _, item := range v {
				if m, ok := item.(map[string]any); ok {
					applyTrim(m, cap, childPath+"[]", trimmed)
				}
			}
		}
	}
}

// stripNarrative removes narrative fields from items of every list under
// node, recording which field names were stripped.
func stripNarrative(node map[string]any, stripped map[string]bool) {
	for _, child := range node {
		switch v := child.(type) {
		case map[string]any:
			stripNarrative(v, stripped)
		case []any:
			for _, item := range v {
				m, ok := item.(map[string]any)
				if !ok {
					continue
				}
				for field := range narrativeFields {
					if _, present := m[field]; present {
						delete(m, field)
						stripped[field] = true
					}
				}
				stripNarrative(m, stripped)
			}
		}
	}
}

// enforceBudget shrinks the document until measure reports it fits the
// budget: first the tier ladder, then whole-section drops in fixed
// least-important-first order. measure must price the document as it will
// actually ship, truncation bookkeeping included, because the bookkeeping
// grows while the ladder runs. It mutates doc and returns what was done.
func enforceBudget(doc map[string]any, budget int, measure func(info TruncationInfo, dropped []string) int) (TruncationInfo, []string) {
	info := TruncationInfo{}
	var dropped []string

	size := measure(info, dropped)
	if size <= budget {
		return info, dropped
	}

	strippedSet := map[string]bool{}
	for tier, cap := range tierCaps {
		info.Level = tier + 1
		info.Applied = true
		applyTrim(doc, cap, "", &info.TrimmedPaths)
		if info.Level >= 2 {
			stripNarrative(doc, strippedSet)
		}
		info.TrimmedPaths = dedupe(info.TrimmedPaths)
		info.StrippedFields = sortedKeys(strippedSet)
		size = measure(info, dropped)
		if size <= budget {
			break
		}
	}

	if size > budget {
		for _, section := range dropOrder {
			if _, present := doc[section]; !present {
				continue
			}
			delete(doc, section)
			dropped = append(dropped, section)
			info.Applied = true
			size = measure(info, dropped)
			if size <= budget {
				break
			}
		}
	}

	return info, dropped
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
