package similarity

import "strings"

// stopWords is the fixed English stop-word set shared by the inverted index
// and keyword scoring. Process-wide and immutable.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "from": true, "up": true, "about": true,
	"into": true, "through": true, "during": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "must": true, "shall": true, "can": true,
	"this": true, "that": true, "these": true, "those": true, "i": true,
	"you": true, "he": true, "she": true, "it": true, "we": true,
	"they": true, "them": true, "their": true, "what": true, "which": true,
	"who": true, "when": true, "where": true, "why": true, "how": true,
	"not": true, "no": true, "nor": true, "as": true, "so": true,
}

// IsStopWord reports whether the given lowercase token is a stop word.
func IsStopWord(token string) bool {
	return stopWords[token]
}

// Tokenize lowercases the input, strips non-alphanumeric characters, splits
// on whitespace, drops stop words and single-character tokens, and
// deduplicates preserving first-occurrence order. Pure and deterministic.
func Tokenize(text string) []string {
	lowered := strings.ToLower(text)

	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == ' ' {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}

	fields := strings.Fields(b.String())
	seen := make(map[string]bool, len(fields))
	var tokens []string
	for _, tok := range fields {
		if len(tok) <= 1 || stopWords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		tokens = append(tokens, tok)
	}
	return tokens
}
