package search

import (
	"errors"
	"strings"
)

// ErrNonSemanticQuery marks a query containing grep-style regex literals,
// which the semantic path cannot serve.
var ErrNonSemanticQuery = errors.New("query is not semantic")

// SemanticQuery is the parsed form of a natural-language query: free text
// to embed plus exact-match path and language filters.
type SemanticQuery struct {
	Target string
	Paths  []string
	Langs  []string
}

// ParseQuery splits the raw query into `path:` and `lang:` filter tokens
// and the remaining target text. Regex-delimited literals (`/re/`) are
// rejected.
func ParseQuery(raw string) (SemanticQuery, error) {
	if isRegexLiteral(strings.TrimSpace(raw)) {
		return SemanticQuery{}, ErrNonSemanticQuery
	}

	var q SemanticQuery
	seenPath := map[string]bool{}
	seenLang := map[string]bool{}
	var target []string

	for _, tok := range strings.Fields(raw) {
		key, val, ok := strings.Cut(tok, ":")
		if ok && (key == "path" || key == "lang") {
			if isRegexLiteral(val) {
				return SemanticQuery{}, ErrNonSemanticQuery
			}
			switch key {
			case "path":
				if val != "" && !seenPath[val] {
					seenPath[val] = true
					q.Paths = append(q.Paths, val)
				}
			case "lang":
				if val != "" && !seenLang[val] {
					seenLang[val] = true
					q.Langs = append(q.Langs, strings.ToLower(val))
				}
			}
			continue
		}
		if isRegexLiteral(tok) {
			return SemanticQuery{}, ErrNonSemanticQuery
		}
		target = append(target, tok)
	}

	q.Target = strings.Join(target, " ")
	return q, nil
}

func isRegexLiteral(tok string) bool {
	return len(tok) >= 2 && strings.HasPrefix(tok, "/") && strings.HasSuffix(tok, "/")
}
