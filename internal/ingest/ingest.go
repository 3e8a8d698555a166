// Package ingest turns uploaded files into ordered retrieval chunks.
//
// Three parsers cover the input space: a heading-aware text/markdown
// chunker, a tree-sitter code chunker that cuts at declaration boundaries,
// and an exec adapter that shells out to a configured external parser for
// PDF, office and image formats. The Pipeline routes a file to one of them
// by explicit parse method or by extension.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	ragerrors "github.com/ragforge/ragserver/internal/errors"
)

// Chunk kinds. Text and code come from the built-in parsers; table,
// equation and image only from the exec adapter.
const (
	KindText     = "text"
	KindCode     = "code"
	KindTable    = "table"
	KindEquation = "equation"
	KindImage    = "image"
)

// Parse methods accepted by the API surface.
const (
	MethodAuto = "auto"
	MethodText = "text"
	MethodCode = "code"
	MethodExec = "exec"
)

// Default chunk budgets, in characters.
const (
	DefaultChunkSize    = 1200
	DefaultChunkOverlap = 100
)

// Chunk is one retrievable unit of a document.
type Chunk struct {
	ID    string
	Text  string
	Kind  string
	Order int
	Meta  map[string]string
}

// Document is the ordered chunk list produced from one file.
type Document struct {
	Source string // upload-relative path, the catalog key
	Chunks []Chunk
}

// Request describes one file to parse.
type Request struct {
	AbsPath   string
	RelPath   string
	Method    string // auto|text|code|exec; empty means auto
	OutputDir string // scratch area for the exec parser
}

// Parser turns one file into a Document.
type Parser interface {
	Parse(ctx context.Context, req Request) (*Document, error)
}

// Options configures the pipeline.
type Options struct {
	ChunkSize    int
	ChunkOverlap int

	// ExecCommand enables the external parser. Empty leaves exec inputs
	// unparseable with a clear error.
	ExecCommand string
	ExecArgs    []string
	ExecTimeout time.Duration
}

// Pipeline routes files to the right parser.
type Pipeline struct {
	text *TextParser
	code *CodeParser
	exec *ExecParser
}

var _ Parser = (*Pipeline)(nil)

// NewPipeline builds the three parsers from the options.
func NewPipeline(opts Options) *Pipeline {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = DefaultChunkOverlap
	}

	p := &Pipeline{
		text: NewTextParser(opts.ChunkSize, opts.ChunkOverlap),
		code: NewCodeParser(opts.ChunkSize, opts.ChunkOverlap),
	}
	if opts.ExecCommand != "" {
		p.exec = NewExecParser(opts.ExecCommand, opts.ExecArgs, opts.ExecTimeout)
	}
	return p
}

// Parse dispatches by method, falling back to extension routing for auto.
func (p *Pipeline) Parse(ctx context.Context, req Request) (*Document, error) {
	method := strings.ToLower(strings.TrimSpace(req.Method))
	switch method {
	case "", MethodAuto:
		return p.parserForFile(req)(ctx, req)
	case MethodText:
		return p.text.Parse(ctx, req)
	case MethodCode:
		return p.code.Parse(ctx, req)
	case MethodExec:
		return p.parseExec(ctx, req)
	default:
		return nil, ragerrors.ValidationError(
			fmt.Sprintf("unknown parse method %q", req.Method), nil).
			WithDetail("allowed", "auto, text, code, exec")
	}
}

// Close releases parser resources.
func (p *Pipeline) Close() {
	p.code.Close()
}

type parseFunc func(context.Context, Request) (*Document, error)

func (p *Pipeline) parserForFile(req Request) parseFunc {
	ext := strings.ToLower(filepath.Ext(req.AbsPath))
	switch {
	case p.code.Supports(ext):
		return p.code.Parse
	case execExtensions[ext]:
		return p.parseExec
	default:
		return p.text.Parse
	}
}

func (p *Pipeline) parseExec(ctx context.Context, req Request) (*Document, error) {
	if p.exec == nil {
		return nil, ragerrors.New(ragerrors.ErrCodeFeatureDisabled,
			fmt.Sprintf("no external parser configured for %s", filepath.Base(req.AbsPath)), nil).
			WithSuggestion("set parser.command in the configuration to a MinerU-style converter")
	}
	return p.exec.Parse(ctx, req)
}

// execExtensions lists the formats only an external converter can read.
var execExtensions = map[string]bool{
	".pdf":  true,
	".doc":  true,
	".docx": true,
	".ppt":  true,
	".pptx": true,
	".xls":  true,
	".xlsx": true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// chunkID is stable for the same text in the same source file, so re-parsing
// an unchanged file re-derives identical IDs and upserts become idempotent.
func chunkID(source, text string) string {
	h := sha256.Sum256([]byte(source + "\x00" + text))
	return hex.EncodeToString(h[:])[:16]
}

// readInput loads the file, mapping OS errors onto the filesystem error
// band.
func readInput(absPath string) ([]byte, error) {
	data, err := os.ReadFile(absPath)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			return nil, ragerrors.NotFoundError(
				fmt.Sprintf("file not found: %s", absPath), err)
		case os.IsPermission(err):
			return nil, ragerrors.New(ragerrors.ErrCodeFilePermission,
				fmt.Sprintf("cannot read %s", absPath), err)
		default:
			return nil, ragerrors.New(ragerrors.ErrCodeNotRegular,
				fmt.Sprintf("read %s", absPath), err)
		}
	}
	return data, nil
}
