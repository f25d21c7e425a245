package dataset

import (
	"fmt"
	"strings"
)

// systemPromptTemplate is the instruction block sent ahead of the dataset.
// The refusal rule matters: the model must not invent figures the dataset
// does not contain.
const systemPromptTemplate = `You are a business assistant answering questions about company operations.

Rules:
- Answer in %s.
- Use ONLY the dataset below. Never invent numbers, names or records.
- Amounts are in %s unless a record states otherwise.
- The dataset covers %s to %s and only the sections the user may access.
- If the dataset was truncated (see meta.truncation and meta.context.droppedSections), say so when it affects the answer.
- If a question cannot be answered from the dataset, say that the data is not available instead of guessing.

Dataset:
%s`

// SystemPrompt renders the provider instruction block for a built dataset.
func (d *Dataset) SystemPrompt(language string) string {
	return SystemPromptFor(d.Serialized, language, d.Meta.Currency, d.Meta.Window)
}

// SystemPromptFor renders the instruction block from already-serialized
// dataset bytes. Callers holding a cached serialization use this directly.
func SystemPromptFor(serialized []byte, language, currency string, w Window) string {
	if language == "" {
		language = "the language of the question"
	}
	return fmt.Sprintf(systemPromptTemplate,
		language,
		currency,
		w.From.Format("2006-01-02"),
		w.To.Format("2006-01-02"),
		strings.TrimSpace(string(serialized)),
	)
}
