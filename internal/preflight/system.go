package preflight

import (
	"fmt"
	"syscall"
)

// Resource floors. Parsed output and index segments land under the
// working directory; the HTTP listener, SQLite handles, bleve segments
// and watched directories all hold descriptors concurrently.
const (
	MinDiskSpaceBytes  = 100 << 20
	MinFileDescriptors = 1024
)

// CheckDiskSpace verifies free space on the filesystem holding path.
func (c *Checker) CheckDiskSpace(path string) CheckResult {
	result := CheckResult{Name: "disk_space", Required: true, Details: path}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check disk space: %v", err)
		return result
	}

	free := stat.Bavail * uint64(stat.Bsize)
	result.Message = fmt.Sprintf("%s free (minimum: 100 MB)", formatBytes(free))
	result.Status = StatusPass
	if free < MinDiskSpaceBytes {
		result.Status = StatusFail
	}
	return result
}

// CheckFileDescriptors verifies the soft RLIMIT_NOFILE.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{Name: "file_descriptors", Required: true}

	var lim syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &lim); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("failed to check file descriptor limit: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%d (minimum: %d)", lim.Cur, MinFileDescriptors)
	result.Status = StatusPass
	if lim.Cur < MinFileDescriptors {
		result.Status = StatusFail
		result.Details = "Run 'ulimit -n 10240' to increase the limit"
	}
	return result
}

// formatBytes renders a byte count with a binary-unit suffix.
func formatBytes(n uint64) string {
	units := []struct {
		limit uint64
		name  string
	}{
		{1 << 40, "TB"},
		{1 << 30, "GB"},
		{1 << 20, "MB"},
		{1 << 10, "KB"},
	}
	for _, u := range units {
		if n >= u.limit {
			return fmt.Sprintf("%.1f %s", float64(n)/float64(u.limit), u.name)
		}
	}
	return fmt.Sprintf("%d bytes", n)
}
