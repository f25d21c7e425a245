package constant

// TitlePrompt asks the provider for a short session title. The reply is
// trimmed and truncated; on failure a heuristic cleanup of the question is
// used instead.
const TitlePrompt = `Summarize the following question as a conversation title of at most six words, in the question's own language. Reply with the title only, no quotes, no trailing punctuation.

Question: %s`
