package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

// CodeParser cuts source files at declaration boundaries using tree-sitter.
// Each chunk carries the file's package/import preamble so an isolated
// function body still embeds with its context. Files in unsupported
// languages, and files the grammar cannot parse, degrade to plain text
// chunking.
type CodeParser struct {
	mu        sync.Mutex // tree-sitter parsers are not safe for concurrent use
	parser    *sitter.Parser
	fallback  *TextParser
	chunkSize int
	overlap   int
}

// NewCodeParser builds a parser with character budgets.
func NewCodeParser(chunkSize, overlap int) *CodeParser {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = DefaultChunkOverlap
	}
	return &CodeParser{
		parser:    sitter.NewParser(),
		fallback:  NewTextParser(chunkSize, overlap),
		chunkSize: chunkSize,
		overlap:   overlap,
	}
}

var _ Parser = (*CodeParser)(nil)

// Supports reports whether a grammar is registered for the extension.
func (cp *CodeParser) Supports(ext string) bool {
	_, ok := languages[strings.ToLower(ext)]
	return ok
}

// Close releases the tree-sitter parser.
func (cp *CodeParser) Close() {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.parser != nil {
		cp.parser.Close()
		cp.parser = nil
	}
}

// Parse reads the file and chunks it by declaration.
func (cp *CodeParser) Parse(ctx context.Context, req Request) (*Document, error) {
	data, err := readInput(req.AbsPath)
	if err != nil {
		return nil, err
	}

	spec, ok := languages[strings.ToLower(filepath.Ext(req.AbsPath))]
	if !ok {
		return cp.fallback.Parse(ctx, req)
	}

	tree, err := cp.parse(ctx, spec, data)
	if err != nil || tree == nil {
		return cp.fallback.Parse(ctx, req)
	}
	defer tree.Close()

	root := tree.RootNode()
	header := fileHeader(root, data, spec, req.RelPath)
	decls := rootDecls(root, spec)
	if len(decls) == 0 {
		return cp.fallback.Parse(ctx, req)
	}

	doc := &Document{Source: req.RelPath}
	for _, node := range decls {
		doc.Chunks = append(doc.Chunks, cp.declChunks(doc.Source, node, data, spec, header, len(doc.Chunks))...)
	}
	if len(doc.Chunks) == 0 {
		return cp.fallback.Parse(ctx, req)
	}
	return doc, nil
}

func (cp *CodeParser) parse(ctx context.Context, spec *languageSpec, data []byte) (*sitter.Tree, error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.parser == nil {
		return nil, fmt.Errorf("parser closed")
	}
	cp.parser.SetLanguage(spec.grammar)
	return cp.parser.ParseCtx(ctx, nil, data)
}

// declChunks turns one declaration into one or more chunks.
func (cp *CodeParser) declChunks(source string, node *sitter.Node, data []byte, spec *languageSpec, header string, order int) []Chunk {
	start := extendToComments(data, node.StartByte(), spec.lineComment)
	text := strings.TrimSpace(string(data[start:node.EndByte()]))
	if text == "" {
		return nil
	}

	symbol := declName(node, data, spec)
	startLine := int(node.StartPoint().Row) + 1
	meta := func() map[string]string {
		m := map[string]string{
			"language":   spec.name,
			"start_line": strconv.Itoa(startLine),
		}
		if symbol != "" {
			m["symbol"] = symbol
		}
		return m
	}

	build := func(body string, ord int) Chunk {
		full := body
		if header != "" {
			full = header + "\n\n" + body
		}
		return Chunk{
			ID:    chunkID(source, full),
			Text:  full,
			Kind:  KindCode,
			Order: ord,
			Meta:  meta(),
		}
	}

	if len(text) <= cp.chunkSize {
		return []Chunk{build(text, order)}
	}

	// Oversized declaration: split by lines, repeating a few lines between
	// pieces so a scan across the boundary still matches.
	var chunks []Chunk
	for _, piece := range cp.splitLines(text) {
		chunks = append(chunks, build(piece, order+len(chunks)))
	}
	return chunks
}

// splitLines cuts an oversized declaration into line windows with overlap.
func (cp *CodeParser) splitLines(text string) []string {
	lines := strings.Split(text, "\n")

	// Assume roughly 40 characters per line of code.
	window := cp.chunkSize / 40
	if window < 20 {
		window = 20
	}
	overlap := cp.overlap / 40
	if overlap < 2 {
		overlap = 2
	}

	var out []string
	for i := 0; i < len(lines); {
		end := i + window
		if end > len(lines) {
			end = len(lines)
		}
		piece := strings.TrimSpace(strings.Join(lines[i:end], "\n"))
		if piece != "" {
			out = append(out, piece)
		}
		if end >= len(lines) {
			break
		}
		i = end - overlap
	}
	return out
}

// rootDecls collects the root-level declaration nodes in source order.
func rootDecls(root *sitter.Node, spec *languageSpec) []*sitter.Node {
	var decls []*sitter.Node
	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		if child != nil && spec.declTypes[child.Type()] {
			decls = append(decls, child)
		}
	}
	return decls
}

// fileHeader assembles the shared chunk preamble: a file path marker in the
// language's comment syntax, then the package clause and imports.
func fileHeader(root *sitter.Node, data []byte, spec *languageSpec, relPath string) string {
	parts := []string{spec.lineComment + " File: " + relPath}
	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		if child != nil && spec.headerTypes[child.Type()] {
			parts = append(parts, child.Content(data))
		}
	}
	return strings.Join(parts, "\n")
}

// declName finds the declaration's name with a shallow breadth-first
// search, so a method's own name wins over identifiers in its parameter
// list and exported declarations surface the inner symbol.
func declName(node *sitter.Node, data []byte, spec *languageSpec) string {
	type frame struct {
		node  *sitter.Node
		depth int
	}
	queue := []frame{{node, 0}}
	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]

		if f.depth > 0 {
			for _, nt := range spec.nameTypes {
				if f.node.Type() == nt {
					return f.node.Content(data)
				}
			}
		}
		if f.depth >= 3 {
			continue
		}
		for i := 0; i < int(f.node.ChildCount()); i++ {
			if child := f.node.Child(i); child != nil {
				queue = append(queue, frame{child, f.depth + 1})
			}
		}
	}
	return ""
}

// extendToComments walks the start position back over contiguous comment
// lines so doc comments travel with their declaration.
func extendToComments(data []byte, start uint32, lineComment string) uint32 {
	lineStart := int(start)
	for lineStart > 0 && data[lineStart-1] != '\n' {
		lineStart--
	}

	pos := lineStart
	for pos > 0 {
		prevEnd := pos - 1
		prevStart := prevEnd
		for prevStart > 0 && data[prevStart-1] != '\n' {
			prevStart--
		}
		line := strings.TrimSpace(string(data[prevStart:prevEnd]))
		if !strings.HasPrefix(line, lineComment) {
			break
		}
		pos = prevStart
	}
	return uint32(pos)
}
