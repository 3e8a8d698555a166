package rag

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/ragforge/ragserver/internal/retriever"
)

// ProcessResult is the uniform outcome of one document-processing call.
// Failures are values here, not Go errors, so the indexer and the process
// endpoint record them the same way.
type ProcessResult struct {
	Status    string `json:"status"`
	FilePath  string `json:"file_path"`
	OutputDir string `json:"output_dir,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Process statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ProcessDocument parses, embeds and indexes one document. path may be
// absolute or relative to the upload root; outputDir defaults to a
// per-document directory under working_dir/parsed_output; parseMethod is
// auto, text, code or exec (empty means auto).
func (s *Service) ProcessDocument(ctx context.Context, path, outputDir, parseMethod string) ProcessResult {
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(s.uploadDir, abs)
	}
	abs = filepath.Clean(abs)
	rel := s.docID(abs)
	if outputDir == "" {
		outputDir = s.parsedOutputDir(rel)
	}

	result := ProcessResult{Status: StatusSuccess, FilePath: path, OutputDir: outputDir}

	eng, err := s.Retriever(ctx)
	if err != nil {
		result.Status = StatusError
		result.Error = err.Error()
		return result
	}

	start := time.Now()
	err = eng.ProcessDocument(ctx, retriever.ProcessRequest{
		AbsPath:   abs,
		RelPath:   rel,
		Method:    parseMethod,
		OutputDir: outputDir,
	})
	if err != nil {
		s.log.Warn("process_document_failed",
			slog.String("path", rel),
			slog.String("error", err.Error()))
		result.Status = StatusError
		result.Error = err.Error()
		return result
	}

	s.log.Info("process_document_ok",
		slog.String("path", rel),
		slog.Duration("elapsed", time.Since(start)))
	return result
}

// docID derives the stable document identifier: the slash-separated path
// relative to the upload root, or the base name for files outside it.
func (s *Service) docID(abs string) string {
	rel, err := filepath.Rel(s.uploadDir, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.Base(abs)
	}
	return filepath.ToSlash(rel)
}

// parsedOutputDir maps a document ID onto its by-products directory.
// Separators flatten to underscores so nested uploads stay unique without
// recreating the tree.
func (s *Service) parsedOutputDir(rel string) string {
	stem := strings.ReplaceAll(rel, "/", "_")
	stem = strings.TrimSuffix(stem, filepath.Ext(stem))
	if stem == "" {
		stem = "document"
	}
	return filepath.Join(s.workingDir, "parsed_output", stem)
}
