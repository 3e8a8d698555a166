//go:build ignore

// Package main generates a synthetic document corpus for indexing and
// retrieval benchmarks.
// Usage: go run scripts/generate-test-corpus.go -files 500 -output testdata/corpus
//
// The mix mirrors a typical upload directory: mostly markdown, some plain
// text notes, and a slice of source files for the code chunker.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numFiles  = flag.Int("files", 500, "Number of files to generate")
	outputDir = flag.String("output", "testdata/corpus", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var topics = []string{
	"ingestion pipeline", "vector index", "keyword index", "rank fusion",
	"batch scheduler", "status catalog", "upload handling", "chat sessions",
	"knowledge graph", "document parser", "embedding provider", "reranker",
	"background indexer", "file watcher", "query modes", "multimodal queries",
}

var subjects = []string{
	"scheduler", "catalog", "retriever", "parser", "watcher", "provider",
	"session", "pipeline", "index", "chunk", "graph", "upload",
}

var verbs = []string{
	"reconciles", "batches", "embeds", "fuses", "claims", "flushes",
	"debounces", "replaces", "resolves", "ranks", "drains", "persists",
}

var objects = []string{
	"pending files", "chunk records", "entity tables", "query candidates",
	"session history", "upload metadata", "vector neighbors", "stale records",
	"parse output", "keyword hits", "relation edges", "answer context",
}

func sentence(rng *rand.Rand) string {
	return fmt.Sprintf("The %s %s %s before the %s %s %s.",
		pick(rng, subjects), pick(rng, verbs), pick(rng, objects),
		pick(rng, subjects), pick(rng, verbs), pick(rng, objects))
}

func paragraph(rng *rand.Rand, sentences int) string {
	parts := make([]string, sentences)
	for i := range parts {
		parts[i] = sentence(rng)
	}
	return strings.Join(parts, " ")
}

func pick(rng *rand.Rand, pool []string) string {
	return pool[rng.Intn(len(pool))]
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	for _, sub := range []string{"docs", "notes", "src"} {
		if err := os.MkdirAll(filepath.Join(*outputDir, sub), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "create %s: %v\n", sub, err)
			os.Exit(1)
		}
	}

	// 60% markdown, 15% plain text, 25% source files.
	mdFiles := *numFiles * 60 / 100
	txtFiles := *numFiles * 15 / 100
	srcFiles := *numFiles - mdFiles - txtFiles

	fmt.Printf("Generating %d files in %s (%d md, %d txt, %d src)...\n",
		*numFiles, *outputDir, mdFiles, txtFiles, srcFiles)

	written := 0
	for i := 0; i < mdFiles; i++ {
		if err := writeMarkdown(rng, i); err != nil {
			fmt.Fprintf(os.Stderr, "markdown %d: %v\n", i, err)
			os.Exit(1)
		}
		written++
	}
	for i := 0; i < txtFiles; i++ {
		if err := writeNote(rng, i); err != nil {
			fmt.Fprintf(os.Stderr, "note %d: %v\n", i, err)
			os.Exit(1)
		}
		written++
	}
	for i := 0; i < srcFiles; i++ {
		if err := writeSource(rng, i); err != nil {
			fmt.Fprintf(os.Stderr, "source %d: %v\n", i, err)
			os.Exit(1)
		}
		written++
	}

	fmt.Printf("Generated %d files.\n", written)
}

func writeMarkdown(rng *rand.Rand, index int) error {
	topic := pick(rng, topics)
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n\n", title(topic), paragraph(rng, 3))

	sections := 2 + rng.Intn(3)
	for s := 0; s < sections; s++ {
		fmt.Fprintf(&b, "## %s details %d\n\n%s\n\n",
			title(pick(rng, subjects)), s+1, paragraph(rng, 4))
	}

	// Roughly a third of the docs carry a table, exercising the table-aware
	// text splitter.
	if rng.Intn(3) == 0 {
		b.WriteString("| setting | default | notes |\n|---|---|---|\n")
		for r := 0; r < 3; r++ {
			fmt.Fprintf(&b, "| %s | %d | %s |\n",
				pick(rng, subjects), rng.Intn(100), pick(rng, objects))
		}
		b.WriteString("\n")
	}

	name := filepath.Join(*outputDir, "docs", fmt.Sprintf("%s_%04d.md",
		strings.ReplaceAll(topic, " ", "_"), index))
	return os.WriteFile(name, []byte(b.String()), 0o644)
}

func writeNote(rng *rand.Rand, index int) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n%s\n", paragraph(rng, 5), paragraph(rng, 4))
	name := filepath.Join(*outputDir, "notes", fmt.Sprintf("note_%04d.txt", index))
	return os.WriteFile(name, []byte(b.String()), 0o644)
}

var goSourceTemplate = `package corpus

import "context"

// %s coordinates the %s.
type %s struct {
	name string
}

// Run %s until ctx is done.
func (x *%s) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		// %s
		return nil
	}
	return ctx.Err()
}
`

var pySourceTemplate = `"""%s utilities."""


class %s:
    """%s"""

    def run(self, items):
        # %s
        return [item for item in items if item]
`

func writeSource(rng *rand.Rand, index int) error {
	typ := title(pick(rng, subjects))
	desc := sentence(rng)

	var name, content string
	if index%2 == 0 {
		content = fmt.Sprintf(goSourceTemplate,
			typ, pick(rng, objects), typ, pick(rng, verbs), typ, desc)
		name = fmt.Sprintf("%s_%04d.go", strings.ToLower(typ), index)
	} else {
		content = fmt.Sprintf(pySourceTemplate,
			pick(rng, topics), typ, desc, desc)
		name = fmt.Sprintf("%s_%04d.py", strings.ToLower(typ), index)
	}
	return os.WriteFile(filepath.Join(*outputDir, "src", name), []byte(content), 0o644)
}
