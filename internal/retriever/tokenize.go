package retriever

import (
	"regexp"
	"strings"
	"unicode"
)

// wordRe matches alphanumeric runs; underscores survive the first pass so
// snake_case identifiers can be split deliberately.
var wordRe = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// tokenizeText splits text into lowercase search tokens. Identifiers break
// at camelCase and snake_case boundaries so code chunks match prose-style
// queries ("parse request" finds ParseRequest). Tokens shorter than two
// characters are dropped.
func tokenizeText(text string) []string {
	var tokens []string
	for _, word := range wordRe.FindAllString(text, -1) {
		for _, part := range splitIdentifier(word) {
			lower := strings.ToLower(part)
			if len(lower) >= 2 {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

// splitIdentifier breaks snake_case first, then camelCase within each part.
func splitIdentifier(token string) []string {
	if strings.Contains(token, "_") {
		var result []string
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				result = append(result, splitCamel(part)...)
			}
		}
		return result
	}
	return splitCamel(token)
}

// splitCamel splits camelCase and PascalCase, keeping acronym runs intact:
// "parseHTTPRequest" becomes ["parse", "HTTP", "Request"].
func splitCamel(s string) []string {
	if s == "" {
		return nil
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || nextLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

// defaultStopWords mixes English function words with source-code filler so
// neither prose nor code chunks drown queries in noise terms.
var defaultStopWords = []string{
	"the", "a", "an", "and", "or", "of", "to", "in", "is", "are", "was",
	"it", "for", "on", "with", "as", "at", "by", "be", "this", "that",
	"from", "not", "you", "your", "can", "will", "has", "have",
	"var", "let", "const", "func", "function", "def", "class", "return",
	"if", "else", "while", "err", "ctx", "nil", "true", "false",
}

// stopWordSet builds a lowercase lookup set.
func stopWordSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}

// dropStopWords filters tokens present in the stop set.
func dropStopWords(tokens []string, stop map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, isStop := stop[strings.ToLower(tok)]; !isStop {
			result = append(result, tok)
		}
	}
	return result
}
