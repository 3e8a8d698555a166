package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	ragerrors "github.com/ragforge/ragserver/internal/errors"
)

const (
	defaultExecTimeout = 5 * time.Minute
	maxStderrTail      = 1024
)

// ExecParser shells out to an external converter for formats the built-in
// parsers cannot read. The command is invoked as
//
//	command [args...] <input-path> <output-dir>
//
// and must write a JSON array of content items to stdout. Extracted assets
// (page images and the like) go under the output directory; items reference
// them by path.
type ExecParser struct {
	command string
	args    []string
	timeout time.Duration
}

// NewExecParser builds the adapter. A zero timeout defaults to five
// minutes.
func NewExecParser(command string, args []string, timeout time.Duration) *ExecParser {
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	return &ExecParser{command: command, args: args, timeout: timeout}
}

var _ Parser = (*ExecParser)(nil)

// execItem is one entry of the converter's content list.
type execItem struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	ImgPath   string `json:"img_path"`
	TableBody string `json:"table_body"`
	Latex     string `json:"latex"`
	PageIdx   int    `json:"page_idx"`
}

// Parse runs the converter and maps its content list onto chunks.
func (ep *ExecParser) Parse(ctx context.Context, req Request) (*Document, error) {
	if _, err := os.Stat(req.AbsPath); err != nil {
		if os.IsNotExist(err) {
			return nil, ragerrors.NotFoundError(
				fmt.Sprintf("file not found: %s", req.AbsPath), err)
		}
		return nil, ragerrors.New(ragerrors.ErrCodeFilePermission,
			fmt.Sprintf("cannot stat %s", req.AbsPath), err)
	}

	outDir := req.OutputDir
	if outDir == "" {
		outDir = req.AbsPath + ".parsed"
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeFilePermission,
			fmt.Sprintf("create parser output dir %s", outDir), err)
	}

	ctx, cancel := context.WithTimeout(ctx, ep.timeout)
	defer cancel()

	args := append(append([]string{}, ep.args...), req.AbsPath, outDir)
	cmd := exec.CommandContext(ctx, ep.command, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ragerrors.InternalError(
				fmt.Sprintf("external parser timed out after %s", ep.timeout), err).
				WithDetail("command", ep.command)
		}
		return nil, ragerrors.InternalError(
			fmt.Sprintf("external parser failed: %s", ep.command), err).
			WithDetail("stderr", tail(stderr.String(), maxStderrTail))
	}

	var items []execItem
	if err := json.Unmarshal(stdout.Bytes(), &items); err != nil {
		return nil, ragerrors.InternalError(
			"external parser produced invalid JSON", err).
			WithDetail("command", ep.command).
			WithSuggestion("the command must print a JSON content list to stdout")
	}

	doc := &Document{Source: req.RelPath}
	for _, item := range items {
		if c, ok := itemChunk(req.RelPath, item, len(doc.Chunks)); ok {
			doc.Chunks = append(doc.Chunks, c)
		}
	}
	return doc, nil
}

// itemChunk maps one content item onto a chunk. Items with nothing worth
// indexing are dropped.
func itemChunk(source string, item execItem, order int) (Chunk, bool) {
	meta := map[string]string{"page": strconv.Itoa(item.PageIdx)}

	var kind, text string
	switch strings.ToLower(item.Type) {
	case "table":
		kind = KindTable
		text = firstNonEmpty(item.TableBody, item.Text)
	case "equation":
		kind = KindEquation
		text = firstNonEmpty(item.Latex, item.Text)
	case "image", "figure":
		kind = KindImage
		text = item.Text // caption, possibly empty
		if item.ImgPath != "" {
			meta["img_path"] = item.ImgPath
			if text == "" {
				text = "[image] " + item.ImgPath
			}
		}
	default:
		kind = KindText
		text = item.Text
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return Chunk{}, false
	}
	return Chunk{
		ID:    chunkID(source, text),
		Text:  text,
		Kind:  kind,
		Order: order,
		Meta:  meta,
	}, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
