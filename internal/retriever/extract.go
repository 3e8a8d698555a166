package retriever

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	ragerrors "github.com/ragforge/ragserver/internal/errors"
	"github.com/ragforge/ragserver/internal/ingest"
	"github.com/ragforge/ragserver/internal/provider"
)

// extractMaxChars caps the document excerpt sent for graph extraction. One
// prompt per document keeps extraction cheap; the excerpt is the head of
// the document, where papers and reports name their subject matter.
const extractMaxChars = 8000

const extractSystem = "You extract knowledge graphs from documents. Respond with JSON only: no prose, no code fences."

const extractPromptFormat = `Read the document below and list the named entities (people, organizations, products, systems, concepts) and the relations between them.

Respond with one JSON object in exactly this shape:
{"entities": ["name", ...], "relations": [["source entity", "target entity"], ...]}

Document (%s):
%s`

// extraction is the expected response shape.
type extraction struct {
	Entities  []string   `json:"entities"`
	Relations [][]string `json:"relations"`
}

// extractGraph asks the completion provider for entities and relations and
// stores them under the document key. Requires l.models.LLM.
func (l *Lite) extractGraph(ctx context.Context, relPath string, chunks []ingest.Chunk) error {
	excerpt := documentExcerpt(chunks, extractMaxChars)
	if strings.TrimSpace(excerpt) == "" {
		return nil
	}

	raw, err := l.models.LLM.Complete(ctx,
		fmt.Sprintf(extractPromptFormat, relPath, excerpt),
		provider.CompleteOptions{System: extractSystem, MaxTokens: 1500})
	if err != nil {
		return err
	}

	ex, err := parseExtraction(raw)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(ex.Entities))
	seen := make(map[string]struct{}, len(ex.Entities))
	for _, name := range ex.Entities {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, name)
	}

	pairs := make([][]string, 0, len(ex.Relations))
	for _, rel := range ex.Relations {
		if len(rel) != 2 {
			continue
		}
		src, dst := strings.TrimSpace(rel[0]), strings.TrimSpace(rel[1])
		if src == "" || dst == "" {
			continue
		}
		pairs = append(pairs, []string{src, dst})
	}

	if len(names) > 0 {
		l.entities.Put(relPath, map[string]any{"entity_names": names})
	}
	if len(pairs) > 0 {
		l.relations.Put(relPath, map[string]any{"relation_pairs": pairs})
	}
	return nil
}

// documentExcerpt joins chunk texts up to maxChars runes.
func documentExcerpt(chunks []ingest.Chunk, maxChars int) string {
	var b strings.Builder
	count := 0
	for _, c := range chunks {
		if count >= maxChars {
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
			count += 2
		}
		b.WriteString(c.Text)
		count += utf8.RuneCountInString(c.Text)
	}
	runes := []rune(b.String())
	if len(runes) > maxChars {
		return string(runes[:maxChars])
	}
	return b.String()
}

// parseExtraction pulls the JSON object out of a completion response.
// Models wrap JSON in code fences or prefix commentary often enough that
// scanning for the outermost braces is the robust move.
func parseExtraction(raw string) (*extraction, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, ragerrors.New(ragerrors.ErrCodeBadUpstream,
			"extraction response contains no JSON object", nil)
	}

	var ex extraction
	if err := json.Unmarshal([]byte(raw[start:end+1]), &ex); err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeBadUpstream,
			"extraction response is not valid JSON", err)
	}
	return &ex, nil
}

// StringValues coerces a JSON-decoded list into strings. Values written in
// this process are []string; values reloaded from disk come back as []any.
func StringValues(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// PairValues coerces a JSON-decoded list of two-element string lists, the
// relation_pairs encoding, into pairs. Malformed entries are skipped.
func PairValues(v any) [][2]string {
	var pairs [][2]string
	appendPair := func(items []string) {
		if len(items) == 2 && items[0] != "" && items[1] != "" {
			pairs = append(pairs, [2]string{items[0], items[1]})
		}
	}

	switch list := v.(type) {
	case [][]string:
		for _, item := range list {
			appendPair(item)
		}
	case []any:
		for _, item := range list {
			switch pair := item.(type) {
			case []string:
				appendPair(pair)
			case []any:
				appendPair(StringValues(pair))
			}
		}
	}
	return pairs
}
