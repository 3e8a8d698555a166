package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ragforge/ragserver/internal/catalog"
	ragerrors "github.com/ragforge/ragserver/internal/errors"
	"github.com/ragforge/ragserver/internal/indexer"
	"github.com/ragforge/ragserver/internal/rag"
	"github.com/ragforge/ragserver/internal/retriever"
	"github.com/ragforge/ragserver/internal/scanner"
)

// trashDirName is the sibling directory soft-deleted uploads land in.
// The scanner's dot rule keeps it out of listings and reconciliation.
const trashDirName = ".trash"

type uploadInfo struct {
	Filename    string `json:"filename"`
	FilePath    string `json:"file_path"`
	FileSize    int64  `json:"file_size"`
	ContentType string `json:"content_type"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	info, err := s.saveUpload(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type processRequest struct {
	FilePath    string `json:"file_path"`
	ParseMethod string `json:"parse_method"`
	OutputDir   string `json:"output_dir"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.FilePath) == "" {
		writeError(w, ragerrors.ValidationError("file_path is required", nil))
		return
	}
	s.writeProcessResult(w, s.runProcess(r.Context(), req.FilePath, req.OutputDir, req.ParseMethod))
}

func (s *Server) handleUploadAndProcess(w http.ResponseWriter, r *http.Request) {
	info, err := s.saveUpload(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeProcessResult(w, s.runProcess(r.Context(), info.FilePath, "", r.FormValue("parse_method")))
}

// writeProcessResult keeps the process response shape on both the
// success and the failure path; a failed parse is a 500 carrying the
// error inside the result rather than the uniform error body.
func (s *Server) writeProcessResult(w http.ResponseWriter, res rag.ProcessResult) {
	status := http.StatusOK
	if res.Status != rag.StatusSuccess {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	files, err := s.scanUploads(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	docs := make([]string, 0, len(files))
	for _, f := range files {
		docs = append(docs, f.Path)
	}
	sort.Strings(docs)
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"total":     len(docs),
	})
}

type documentDetail struct {
	Filename        string `json:"filename"`
	FilePath        string `json:"file_path"`
	FileSize        int64  `json:"file_size"`
	UploadDate      string `json:"upload_date"`
	Status          string `json:"status"`
	StorageLocation string `json:"storage_location"`
}

func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	files, err := s.scanUploads(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	// Details must not force engine construction; before the first query
	// or process everything simply reports as uploaded.
	var eng retriever.Engine
	if s.rag.Ready() {
		eng, _ = s.rag.Retriever(r.Context())
	}

	details := make([]documentDetail, 0, len(files))
	for _, f := range files {
		status := "uploaded"
		if eng != nil && eng.Processed(f.Path) {
			status = "indexed"
		}
		details = append(details, documentDetail{
			Filename:        f.Name,
			FilePath:        f.Path,
			FileSize:        f.Size,
			UploadDate:      f.MTime.UTC().Format(time.RFC3339),
			Status:          status,
			StorageLocation: "local",
		})
	}
	sort.Slice(details, func(i, j int) bool { return details[i].FilePath < details[j].FilePath })
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) handleIndexStatus(w http.ResponseWriter, r *http.Request) {
	recs, err := s.cat.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []catalog.IndexStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": recs,
		"total":     len(recs),
	})
}

func (s *Server) handleTriggerIndex(w http.ResponseWriter, r *http.Request) {
	if s.idx == nil {
		writeError(w, ragerrors.New(ragerrors.ErrCodeFeatureDisabled,
			"background indexing is disabled", nil).
			WithSuggestion("enable indexer.enabled in the configuration and restart"))
		return
	}
	res, err := s.idx.TriggerIndex(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		indexer.TriggerResult
		Message string `json:"message"`
	}{res, "indexing triggered"})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		writeError(w, ragerrors.New(ragerrors.ErrCodeInvalidFilename,
			"filename must be a bare name without path separators or a leading dot", nil))
		return
	}

	src := filepath.Join(s.cfg.Paths.UploadDir, name)
	fi, err := os.Lstat(src)
	if err != nil || !fi.Mode().IsRegular() {
		writeError(w, ragerrors.NotFoundError(fmt.Sprintf("document %q not found", name), err))
		return
	}

	trashDir := filepath.Join(s.cfg.Paths.UploadDir, trashDirName)
	if err := os.MkdirAll(trashDir, 0o755); err != nil {
		writeError(w, ragerrors.New(ragerrors.ErrCodeFilePermission,
			"cannot create trash directory: "+err.Error(), err))
		return
	}

	trashName := fmt.Sprintf("%d_%s", time.Now().Unix(), name)
	if err := os.Rename(src, filepath.Join(trashDir, trashName)); err != nil {
		writeError(w, ragerrors.New(ragerrors.ErrCodeFilePermission,
			"cannot move document to trash: "+err.Error(), err))
		return
	}

	trashPath := trashDirName + "/" + trashName
	s.log.Info("document_trashed",
		slog.String("filename", name),
		slog.String("trash_path", trashPath))
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "deleted",
		"filename":   name,
		"trash_path": trashPath,
	})
}

// saveUpload stores one multipart file under the upload root. O_EXCL
// makes duplicate names a conflict instead of an overwrite.
func (s *Server) saveUpload(r *http.Request) (*uploadInfo, error) {
	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, ragerrors.ValidationError(`multipart field "file" is required`, err)
		}
		return nil, ragerrors.ValidationError("invalid multipart form: "+err.Error(), err)
	}
	defer func() { _ = file.Close() }()

	name, err := sanitizeUploadName(header.Filename)
	if err != nil {
		return nil, err
	}

	dst := filepath.Join(s.cfg.Paths.UploadDir, name)
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, ragerrors.ConflictError(fmt.Sprintf("file %q already exists", name), err)
		}
		return nil, ragerrors.New(ragerrors.ErrCodeFilePermission,
			"cannot create upload: "+err.Error(), err)
	}

	size, err := io.Copy(out, file)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dst)
		return nil, ragerrors.New(ragerrors.ErrCodeFilePermission,
			"cannot write upload: "+err.Error(), err)
	}

	s.recordPending(r.Context(), name, dst, size)

	ct := header.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	return &uploadInfo{
		Filename:    name,
		FilePath:    dst,
		FileSize:    size,
		ContentType: ct,
	}, nil
}

// sanitizeUploadName reduces a client-supplied filename, which browsers
// may send as a full path, to a safe base name.
func sanitizeUploadName(raw string) (string, error) {
	name := filepath.Base(strings.ReplaceAll(raw, `\`, "/"))
	if name == "" || name == "." || name == ".." || name == "/" {
		return "", ragerrors.New(ragerrors.ErrCodeInvalidFilename, "empty filename", nil)
	}
	if strings.HasPrefix(name, ".") {
		return "", ragerrors.New(ragerrors.ErrCodeInvalidFilename,
			"dot-prefixed filenames are not allowed", nil)
	}
	return name, nil
}

// recordPending registers a fresh upload so the indexer picks it up on
// the next cycle. Catalog trouble here must not fail the upload.
func (s *Server) recordPending(ctx context.Context, name, abs string, size int64) {
	hash, err := scanner.HashFile(abs)
	if err != nil {
		s.log.Warn("upload_hash_failed",
			slog.String("filename", name),
			slog.String("error", err.Error()))
		return
	}
	fi, err := os.Stat(abs)
	if err != nil {
		s.log.Warn("upload_stat_failed",
			slog.String("filename", name),
			slog.String("error", err.Error()))
		return
	}
	rec := catalog.IndexStatus{
		Path:     name,
		FileHash: hash,
		Status:   catalog.StatusPending,
		Size:     size,
		MTime:    fi.ModTime(),
	}
	if err := s.cat.Upsert(ctx, rec); err != nil {
		s.log.Warn("upload_catalog_failed",
			slog.String("filename", name),
			slog.String("error", err.Error()))
	}
}

// runProcess delegates to the facade and, on success, records the
// INDEXED state so manual processing and the background indexer agree.
func (s *Server) runProcess(ctx context.Context, path, outputDir, parseMethod string) rag.ProcessResult {
	res := s.rag.ProcessDocument(ctx, path, outputDir, parseMethod)
	if res.Status == rag.StatusSuccess {
		s.recordIndexed(ctx, path)
	}
	return res
}

func (s *Server) recordIndexed(ctx context.Context, path string) {
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(s.cfg.Paths.UploadDir, abs)
	}
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(s.cfg.Paths.UploadDir, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(abs)
	}
	rel = filepath.ToSlash(rel)

	hash, err := scanner.HashFile(abs)
	if err != nil {
		s.log.Warn("process_hash_failed",
			slog.String("path", rel),
			slog.String("error", err.Error()))
		return
	}
	fi, err := os.Stat(abs)
	if err != nil {
		s.log.Warn("process_stat_failed",
			slog.String("path", rel),
			slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	rec := catalog.IndexStatus{
		Path:      rel,
		FileHash:  hash,
		Status:    catalog.StatusIndexed,
		IndexedAt: &now,
		Size:      fi.Size(),
		MTime:     fi.ModTime(),
	}
	if err := s.cat.Upsert(ctx, rec); err != nil {
		s.log.Warn("process_catalog_failed",
			slog.String("path", rel),
			slog.String("error", err.Error()))
	}
}

func (s *Server) scanUploads(ctx context.Context) ([]*scanner.FileMetadata, error) {
	results, err := scanner.Scan(ctx, s.cfg.Paths.UploadDir, scanner.Options{
		IgnorePatterns: s.cfg.Indexer.IgnorePatterns,
	})
	if err != nil {
		return nil, ragerrors.New(ragerrors.ErrCodeFilePermission,
			"cannot scan uploads: "+err.Error(), err)
	}
	files, errs := scanner.CollectFiles(results)
	for _, e := range errs {
		s.log.Warn("scan_entry_failed", slog.String("error", e.Error()))
	}
	return files, nil
}
