package server

import (
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	ragerrors "github.com/ragforge/ragserver/internal/errors"
)

// parsedOutputDirName is where external-parser by-products live under
// the working directory.
const parsedOutputDirName = "parsed_output"

// allowedImageExt is the fixed set of raster formats /api/files serves.
// SVG stays out: it can script.
var allowedImageExt = map[string]bool{
	"jpg":  true,
	"jpeg": true,
	"png":  true,
	"gif":  true,
	"webp": true,
	"bmp":  true,
	"tiff": true,
	"tif":  true,
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("path")
	if p == "" {
		writeError(w, ragerrors.ValidationError("path query parameter is required", nil))
		return
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(p), "."))
	if !allowedImageExt[ext] {
		writeError(w, ragerrors.New(ragerrors.ErrCodeUnsupportedMedia,
			fmt.Sprintf("extension %q is not served", ext), nil).
			WithSuggestion("only raster image files are available through this endpoint"))
		return
	}

	resolved, err := s.resolveFile(p)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeFile(w, r, resolved)
}

// resolveFile caches successful resolutions, keyed by the roots in
// effect so a reload that moves a root cannot serve a resolution made
// against the old one. Entries whose target has since disappeared are
// dropped and resolved again.
func (s *Server) resolveFile(p string) (string, error) {
	key := s.cfg.Paths.WorkingDir + "\x00" + s.cfg.Paths.UploadDir + "\x00" + p
	if cached, ok := s.fileCache.Get(key); ok {
		if isRegular(cached) {
			return cached, nil
		}
		s.fileCache.Remove(key)
	}

	resolved, err := s.lookupFile(p)
	if err != nil {
		return "", err
	}
	s.fileCache.Add(key, resolved)
	return resolved, nil
}

// lookupFile applies the resolution rules in order: web-style absolute
// paths whose first segment names a root resolve against that root;
// relative paths probe the working directory, then uploads; bare
// images/<name> searches the parser output tree, smallest path first.
// Whatever matches must still sit under its root.
func (s *Server) lookupFile(p string) (string, error) {
	roots := []string{s.cfg.Paths.WorkingDir, s.cfg.Paths.UploadDir}

	if strings.HasPrefix(p, "/") {
		first, rest, ok := strings.Cut(strings.TrimPrefix(p, "/"), "/")
		if ok && rest != "" {
			for _, root := range roots {
				if first != filepath.Base(root) {
					continue
				}
				if abs, found := containedRegular(root, rest); found {
					return abs, nil
				}
			}
		}
		return "", fileNotFound(p)
	}

	for _, root := range roots {
		if abs, found := containedRegular(root, p); found {
			return abs, nil
		}
	}

	if name, ok := strings.CutPrefix(p, "images/"); ok && name != "" && !strings.Contains(name, "/") {
		if abs, found := s.searchParsedImages(name); found {
			return abs, nil
		}
	}

	return "", fileNotFound(p)
}

// containedRegular joins rel under root and accepts the result only if
// it is a regular file that did not escape the root.
func containedRegular(root, rel string) (string, bool) {
	abs := filepath.Join(root, filepath.FromSlash(rel))
	within, err := filepath.Rel(root, abs)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", false
	}
	if !isRegular(abs) {
		return "", false
	}
	return abs, true
}

// searchParsedImages finds <working>/parsed_output/**/images/<name>.
// WalkDir visits entries in lexical order, so the first hit is the
// lexicographically smallest match.
func (s *Server) searchParsedImages(name string) (string, bool) {
	var found string
	root := filepath.Join(s.cfg.Paths.WorkingDir, parsedOutputDirName)
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if d.Name() != name || filepath.Base(filepath.Dir(p)) != "images" {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		found = p
		return fs.SkipAll
	})
	return found, found != ""
}

func isRegular(p string) bool {
	fi, err := os.Lstat(p)
	return err == nil && fi.Mode().IsRegular()
}

func fileNotFound(p string) error {
	return ragerrors.NotFoundError(fmt.Sprintf("no servable file at %q", p), nil)
}
