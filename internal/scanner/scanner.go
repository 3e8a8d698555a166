package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// hashChunkSize bounds how much of a file is held in memory while
// hashing. Large uploads stream through this buffer.
const hashChunkSize = 256 * 1024

// Scan walks root and streams every surviving regular file on the
// returned channel. The channel is closed when the walk finishes or ctx
// is cancelled. Any path with a dot-prefixed component is skipped, so
// the trash directory and editor droppings never surface.
func Scan(ctx context.Context, root string, opts Options) (<-chan Result, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve scan root: %w", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat scan root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan root is not a directory: %s", absRoot)
	}

	results := make(chan Result, 64)
	go func() {
		defer close(results)
		walk(ctx, absRoot, opts, results)
	}()
	return results, nil
}

func walk(ctx context.Context, absRoot string, opts Options, results chan<- Result) {
	err := filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			// Entries we cannot even list are skipped, not fatal.
			return nil
		}

		relPath, err := filepath.Rel(absRoot, p)
		if err != nil {
			return nil
		}
		if relPath == "." {
			return nil
		}
		rel := filepath.ToSlash(relPath)

		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") || matchesDir(rel, opts.IgnorePatterns) {
				return filepath.SkipDir
			}
			return nil
		}

		// Hidden directories were pruned above, so checking the base
		// name covers the remaining dot components.
		if strings.HasPrefix(d.Name(), ".") || matchesFile(rel, d.Name(), opts.IgnorePatterns) {
			return nil
		}

		// Symlinks, sockets, and devices are not indexable.
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return emit(ctx, results, Result{Err: fmt.Errorf("stat %s: %w", rel, err)})
		}

		hash, err := HashFile(p)
		if err != nil {
			return emit(ctx, results, Result{Err: fmt.Errorf("hash %s: %w", rel, err)})
		}

		return emit(ctx, results, Result{File: &FileMetadata{
			Path:    rel,
			AbsPath: p,
			Name:    d.Name(),
			Size:    info.Size(),
			MTime:   info.ModTime(),
			Hash:    hash,
		}})
	})

	if err != nil && ctx.Err() == nil {
		emit(ctx, results, Result{Err: err})
	}
}

func emit(ctx context.Context, results chan<- Result, r Result) error {
	select {
	case results <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// matchesDir reports whether a directory subtree should be pruned. Only
// the explicit "dir/**" form prunes; other patterns target files.
func matchesDir(rel string, patterns []string) bool {
	for _, p := range patterns {
		if !strings.HasSuffix(p, "/**") {
			continue
		}
		prefix := strings.TrimSuffix(p, "/**")
		if rel == prefix || strings.HasPrefix(rel, prefix+"/") {
			return true
		}
	}
	return false
}

// matchesFile applies the slim gitignore subset the config file uses:
// base-name globs ("*.tmp"), path globs ("notes/*.md"), and "dir/**"
// subtree patterns.
func matchesFile(rel, base string, patterns []string) bool {
	for _, p := range patterns {
		if strings.HasSuffix(p, "/**") {
			prefix := strings.TrimSuffix(p, "/**")
			if strings.HasPrefix(rel, prefix+"/") {
				return true
			}
			continue
		}
		if strings.Contains(p, "/") {
			if ok, err := path.Match(p, rel); err == nil && ok {
				return true
			}
			continue
		}
		if ok, err := path.Match(p, base); err == nil && ok {
			return true
		}
	}
	return false
}

// HashFile returns the SHA-256 hex digest of the file at p, reading
// through a fixed-size buffer so memory stays bounded for large files.
func HashFile(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			_, _ = h.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", readErr
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CollectFiles drains a scan channel for callers that want the full
// listing up front. Per-file errors come back separately so the caller
// can log them without losing the successful entries.
func CollectFiles(results <-chan Result) ([]*FileMetadata, []error) {
	var (
		files []*FileMetadata
		errs  []error
	)
	for r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
			continue
		}
		if r.File != nil {
			files = append(files, r.File)
		}
	}
	return files, errs
}
