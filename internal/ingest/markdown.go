package ingest

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

// TextParser chunks markdown and plain text. Markdown is cut at headings
// first, so one chunk never mixes content from two sections; oversized
// sections are packed paragraph by paragraph under the character budget,
// with a short overlap carried between consecutive chunks. Fenced code
// blocks are never split across chunks.
type TextParser struct {
	chunkSize int
	overlap   int
}

var (
	headingRe     = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*$`)
	frontmatterRe = regexp.MustCompile(`(?s)\A---\n.*?\n---\n`)
)

// NewTextParser builds a parser with character budgets.
func NewTextParser(chunkSize, overlap int) *TextParser {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = DefaultChunkOverlap
	}
	return &TextParser{chunkSize: chunkSize, overlap: overlap}
}

var _ Parser = (*TextParser)(nil)

// Parse reads the file and chunks it.
func (tp *TextParser) Parse(ctx context.Context, req Request) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := readInput(req.AbsPath)
	if err != nil {
		return nil, err
	}

	doc := &Document{Source: req.RelPath}
	doc.Chunks = tp.chunk(req.RelPath, string(data))
	return doc, nil
}

// chunk produces the ordered chunk list for one file's content.
func (tp *TextParser) chunk(source, content string) []Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	var chunks []Chunk
	add := func(text string, meta map[string]string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		chunks = append(chunks, Chunk{
			ID:    chunkID(source, text),
			Text:  text,
			Kind:  KindText,
			Order: len(chunks),
			Meta:  meta,
		})
	}

	if fm := frontmatterRe.FindString(content); fm != "" {
		add(fm, map[string]string{"block": "frontmatter"})
		content = content[len(fm):]
	}

	for _, sec := range splitSections(content) {
		meta := map[string]string{
			"header_path":  sec.path,
			"header_level": strconv.Itoa(sec.level),
		}
		if sec.title != "" {
			meta["section_title"] = sec.title
		}
		for _, piece := range tp.pack(sec.body) {
			m := make(map[string]string, len(meta))
			for k, v := range meta {
				m[k] = v
			}
			add(piece, m)
		}
	}

	return chunks
}

// section is one heading-delimited region. Body includes the heading line.
type section struct {
	level int
	title string
	path  string // "Guide > Install > Linux"
	body  string
}

// splitSections cuts content at ATX headings, tracking the heading
// hierarchy so each section knows its full path. Content before the first
// heading becomes a level-zero section. Headings inside fenced code blocks
// are ignored.
func splitSections(content string) []section {
	lines := strings.Split(content, "\n")

	var (
		out     []section
		cur     section
		buf     []string
		stack   [6]string
		inFence bool
	)

	flush := func() {
		cur.body = strings.Join(buf, "\n")
		if strings.TrimSpace(cur.body) != "" {
			out = append(out, cur)
		}
		buf = buf[:0]
	}

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}

		m := headingRe.FindStringSubmatch(line)
		if m == nil || inFence {
			buf = append(buf, line)
			continue
		}

		flush()

		level := len(m[1])
		title := m[2]
		stack[level-1] = title
		for i := level; i < len(stack); i++ {
			stack[i] = ""
		}
		var parts []string
		for i := 0; i < level; i++ {
			if stack[i] != "" {
				parts = append(parts, stack[i])
			}
		}

		cur = section{level: level, title: title, path: strings.Join(parts, " > ")}
		buf = append(buf, line)
	}
	flush()

	return out
}

// pack joins paragraphs into pieces no larger than the chunk budget. The
// tail of each full piece is repeated at the head of the next so sentences
// cut at a boundary stay findable.
func (tp *TextParser) pack(body string) []string {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}
	if len(body) <= tp.chunkSize {
		return []string{body}
	}

	paras := splitParagraphs(body)

	var (
		pieces []string
		b      strings.Builder
	)
	emit := func() {
		if b.Len() == 0 {
			return
		}
		piece := strings.TrimSpace(b.String())
		pieces = append(pieces, piece)
		b.Reset()
		if tp.overlap > 0 && len(piece) > tp.overlap {
			b.WriteString(tailRunes(piece, tp.overlap))
			b.WriteString("\n\n")
		}
	}

	for _, para := range paras {
		if len(para) > tp.chunkSize {
			// A single oversized paragraph (or fence) is hard-split on
			// its own; packing it with neighbours only makes it worse.
			emit()
			b.Reset() // the split block carries its own internal overlap
			pieces = append(pieces, tp.hardSplit(para)...)
			continue
		}
		if b.Len() > 0 && b.Len()+len(para)+2 > tp.chunkSize {
			emit()
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(para)
	}
	emit()

	return pieces
}

// splitParagraphs splits on blank lines but keeps fenced code blocks whole
// even when they contain blank lines.
func splitParagraphs(body string) []string {
	raw := strings.Split(body, "\n\n")

	var (
		out     []string
		fence   strings.Builder
		inFence bool
	)
	for _, part := range raw {
		if inFence {
			fence.WriteString("\n\n")
			fence.WriteString(part)
			if strings.Count(part, "```")%2 == 1 {
				out = append(out, fence.String())
				fence.Reset()
				inFence = false
			}
			continue
		}
		if strings.Count(part, "```")%2 == 1 {
			inFence = true
			fence.WriteString(part)
			continue
		}
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if inFence {
		out = append(out, fence.String())
	}
	return out
}

// hardSplit slices an oversized block at the character budget with overlap,
// on rune boundaries.
func (tp *TextParser) hardSplit(text string) []string {
	runes := []rune(text)
	step := tp.chunkSize - tp.overlap
	if step <= 0 {
		step = tp.chunkSize
	}

	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + tp.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			out = append(out, piece)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

// tailRunes returns the last n runes of s without cutting a rune in half.
func tailRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
