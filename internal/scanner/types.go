// Package scanner enumerates indexable files under the upload root.
//
// A scan is a best-effort walk: unreadable entries are reported on the
// result channel and skipped, hidden paths never surface, and the walk
// stops early only when the context is cancelled.
package scanner

import "time"

// FileMetadata describes one regular file found during a scan.
type FileMetadata struct {
	// Path is slash-separated and relative to the scan root. It is the
	// key the catalog uses for this file.
	Path string

	// AbsPath is the absolute filesystem path.
	AbsPath string

	// Name is the base name of the file.
	Name string

	// Size is the file size in bytes.
	Size int64

	// MTime is the last modification time.
	MTime time.Time

	// Hash is the SHA-256 hex digest of the file content.
	Hash string
}

// Options configures a scan.
type Options struct {
	// IgnorePatterns are gitignore-style globs applied on top of the
	// built-in hidden-path rule. A pattern without a slash matches the
	// base name anywhere in the tree ("*.tmp"), a pattern ending in
	// "/**" prunes a whole subtree, and anything else matches the
	// slash-separated relative path.
	IgnorePatterns []string
}

// Result is one streamed scan outcome: a discovered file or a per-file
// error. The channel carries both so callers can log failures without
// aborting the walk.
type Result struct {
	File *FileMetadata
	Err  error
}
