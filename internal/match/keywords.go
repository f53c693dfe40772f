package match

import (
	"regexp"
	"strings"
)

// MaxKeywords bounds the number of search terms returned by ExtractKeywords.
const MaxKeywords = 10

var nonKeywordChars = regexp.MustCompile(`[^a-z0-9\s]`)

var stopWords = map[string]struct{}{
	"should": {}, "i": {}, "a": {}, "an": {}, "the": {}, "or": {}, "and": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {},
	"from": {}, "up": {}, "about": {}, "into": {}, "through": {}, "is": {}, "are": {},
	"was": {}, "were": {}, "be": {}, "been": {}, "being": {}, "have": {}, "has": {},
	"had": {}, "do": {}, "does": {}, "did": {}, "will": {}, "would": {}, "could": {},
	"can": {}, "my": {}, "me": {}, "it": {}, "this": {}, "that": {}, "these": {},
	"those": {}, "what": {}, "which": {}, "when": {}, "where": {}, "your": {},
	"their": {}, "them": {}, "they": {}, "then": {}, "than": {}, "there": {},
}

// ExtractKeywords lowercases text, strips everything but ASCII letters, digits and
// whitespace, and returns up to MaxKeywords tokens longer than three characters
// that are not stop words. Order follows the input; duplicates are kept.
func ExtractKeywords(text string) []string {
	lower := strings.ToLower(text)
	lower = nonKeywordChars.ReplaceAllString(lower, " ")

	keywords := make([]string, 0, MaxKeywords)
	for _, word := range strings.Fields(lower) {
		if len(word) <= 3 {
			continue
		}
		if _, ok := stopWords[word]; ok {
			continue
		}
		keywords = append(keywords, word)
		if len(keywords) == MaxKeywords {
			break
		}
	}
	return keywords
}

// DecisionKeywords extracts keywords from a question and its options together.
func DecisionKeywords(question string, options []string) []string {
	return ExtractKeywords(question + " " + strings.Join(options, " "))
}
