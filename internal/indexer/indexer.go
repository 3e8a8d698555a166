// Package indexer drives uploaded files from discovery to INDEXED in the
// background. Each iteration reconciles the upload tree against the status
// catalog, then dispatches a bounded batch of PENDING files to the document
// processor. Iteration errors are logged and the loop continues; only Stop
// ends it.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ragforge/ragserver/internal/catalog"
	ragerrors "github.com/ragforge/ragserver/internal/errors"
	"github.com/ragforge/ragserver/internal/metrics"
	"github.com/ragforge/ragserver/internal/scanner"
)

// Defaults applied when Config leaves fields zero.
const (
	DefaultInterval         = 60 * time.Second
	DefaultMaxFilesPerBatch = 10
	DefaultWatchDebounce    = 500 * time.Millisecond
)

// Processor turns one uploaded file into retriever state. The RAG facade
// implements this; tests inject fakes.
type Processor interface {
	ProcessDocument(ctx context.Context, absPath string) error
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, absPath string) error

// ProcessDocument implements Processor.
func (f ProcessorFunc) ProcessDocument(ctx context.Context, absPath string) error {
	return f(ctx, absPath)
}

// Catalog is the slice of the status catalog the indexer drives.
// *catalog.Store satisfies it.
type Catalog interface {
	Upsert(ctx context.Context, rec catalog.IndexStatus) error
	Get(ctx context.Context, path string) (*catalog.IndexStatus, error)
	ListByStatus(ctx context.Context, st catalog.Status) ([]catalog.IndexStatus, error)
	CountByStatus(ctx context.Context) (map[catalog.Status]int, error)
	Claim(ctx context.Context, path string) (bool, error)
}

// Config tunes the background loop.
type Config struct {
	// UploadDir is the root the scanner walks.
	UploadDir string

	// Interval between periodic iterations. Default 60s.
	Interval time.Duration

	// MaxFilesPerBatch bounds how many PENDING files one iteration
	// dispatches. Default 10.
	MaxFilesPerBatch int

	// Watch wires filesystem events into the trigger channel.
	Watch bool

	// WatchDebounce is the quiet window before events fire a trigger.
	// Default 500ms.
	WatchDebounce time.Duration

	// IgnorePatterns are passed through to the scanner.
	IgnorePatterns []string
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.MaxFilesPerBatch <= 0 {
		c.MaxFilesPerBatch = DefaultMaxFilesPerBatch
	}
	if c.WatchDebounce <= 0 {
		c.WatchDebounce = DefaultWatchDebounce
	}
	return c
}

// ReconcileStats summarizes one scan-and-reconcile pass.
type ReconcileStats struct {
	Scanned   int
	New       int
	Changed   int
	Unchanged int
}

// TriggerResult is what an explicit reindex request reports back.
type TriggerResult struct {
	Scanned    int `json:"files_scanned"`
	Pending    int `json:"files_pending"`
	Processing int `json:"files_processing"`
}

// Indexer owns the background loop.
type Indexer struct {
	cat  Catalog
	proc Processor
	cfg  Config
	log  *slog.Logger

	stopCh  chan struct{}
	doneCh  chan struct{}
	trigger chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
}

// New builds an indexer. Call Start to run the loop; reconcile and
// dispatch also work standalone through RunOnce and TriggerIndex.
func New(cat Catalog, proc Processor, cfg Config, log *slog.Logger) *Indexer {
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{
		cat:     cat,
		proc:    proc,
		cfg:     cfg.withDefaults(),
		log:     log,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		trigger: make(chan struct{}, 1),
	}
}

// Start launches the loop. Non-blocking; repeated calls are no-ops.
func (ix *Indexer) Start(ctx context.Context) {
	ix.startOnce.Do(func() {
		ix.started.Store(true)
		go ix.run(ctx)
	})
}

// Stop signals the loop and waits for the in-flight file to finish.
// Safe to call multiple times, and a no-op when Start never ran.
func (ix *Indexer) Stop() {
	if !ix.started.Load() {
		return
	}
	ix.stopOnce.Do(func() {
		close(ix.stopCh)
	})
	<-ix.doneCh
}

// Trigger requests an iteration without blocking. Requests arriving while
// one is already queued coalesce.
func (ix *Indexer) Trigger() {
	select {
	case ix.trigger <- struct{}{}:
	default:
	}
}

// TriggerIndex runs one synchronous reconcile, queues a background
// dispatch, and reports the resulting counts.
func (ix *Indexer) TriggerIndex(ctx context.Context) (TriggerResult, error) {
	stats, err := ix.reconcile(ctx)
	if err != nil {
		return TriggerResult{}, err
	}

	counts, err := ix.cat.CountByStatus(ctx)
	if err != nil {
		return TriggerResult{}, err
	}

	ix.Trigger()

	return TriggerResult{
		Scanned:    stats.Scanned,
		Pending:    counts[catalog.StatusPending],
		Processing: counts[catalog.StatusProcessing],
	}, nil
}

// RunOnce executes one full blocking iteration. The reindex command uses
// this when no server loop is running.
func (ix *Indexer) RunOnce(ctx context.Context) (ReconcileStats, error) {
	ix.resetStale(ctx)
	stats, err := ix.reconcile(ctx)
	if err != nil {
		return stats, err
	}
	ix.dispatch(ctx)
	return stats, nil
}

func (ix *Indexer) run(ctx context.Context) {
	defer close(ix.doneCh)

	// The watcher gets its own stop-linked context. The iteration context
	// stays the caller's: Stop ends the loop between files, it does not
	// cancel the one being processed.
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go func() {
		select {
		case <-ix.stopCh:
			cancelWatch()
		case <-watchCtx.Done():
		}
	}()

	if ix.cfg.Watch {
		ix.startWatcher(watchCtx)
	}

	ticker := time.NewTicker(ix.cfg.Interval)
	defer ticker.Stop()

	// Rows stuck in PROCESSING from a crash or cancelled shutdown would
	// otherwise never be listed again.
	ix.resetStale(ctx)

	// Catch up on files uploaded while the server was down.
	ix.iterate(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ix.stopCh:
			return
		case <-ticker.C:
			ix.iterate(ctx)
		case <-ix.trigger:
			ix.iterate(ctx)
		}
	}
}

// stopping reports whether Stop has been signalled.
func (ix *Indexer) stopping() bool {
	select {
	case <-ix.stopCh:
		return true
	default:
		return false
	}
}

// resetStale returns PROCESSING records left behind by an earlier crash or
// interrupted shutdown to PENDING so dispatch picks them up again.
func (ix *Indexer) resetStale(ctx context.Context) {
	stale, err := ix.cat.ListByStatus(ctx, catalog.StatusProcessing)
	if err != nil {
		if ctx.Err() == nil {
			ix.log.Error("list_processing_failed", slog.String("error", err.Error()))
		}
		return
	}

	for _, rec := range stale {
		rec.Status = catalog.StatusPending
		rec.ErrorMessage = ""
		rec.IndexedAt = nil
		if err := ix.cat.Upsert(ctx, rec); err != nil {
			ix.log.Warn("catalog_upsert_failed",
				slog.String("path", rec.Path),
				slog.String("error", err.Error()))
			continue
		}
		ix.log.Info("stale_processing_reset", slog.String("path", rec.Path))
	}
}

// iterate runs reconcile then dispatch. A failed reconcile still
// dispatches: earlier passes may have left PENDING records behind.
func (ix *Indexer) iterate(ctx context.Context) {
	if ctx.Err() != nil || ix.stopping() {
		return
	}
	metrics.IndexIterations.Inc()

	stats, err := ix.reconcile(ctx)
	switch {
	case err != nil && ctx.Err() == nil:
		ix.log.Error("reconcile_failed", slog.String("error", err.Error()))
	case stats.New > 0 || stats.Changed > 0:
		ix.log.Info("reconcile_changes",
			slog.Int("scanned", stats.Scanned),
			slog.Int("new", stats.New),
			slog.Int("changed", stats.Changed))
	}

	ix.dispatch(ctx)
}

// reconcile walks the upload tree and lines the catalog up with it: unknown
// files become PENDING, files whose content hash moved become PENDING again,
// unchanged files cause no write. Records for files that vanished are left
// alone; explicit deletion cleans them up.
func (ix *Indexer) reconcile(ctx context.Context) (ReconcileStats, error) {
	timer := prometheus.NewTimer(metrics.ReconcileSeconds)
	defer timer.ObserveDuration()

	var stats ReconcileStats

	results, err := scanner.Scan(ctx, ix.cfg.UploadDir, scanner.Options{
		IgnorePatterns: ix.cfg.IgnorePatterns,
	})
	if err != nil {
		return stats, err
	}

	for res := range results {
		if res.Err != nil {
			ix.log.Warn("scan_entry_failed", slog.String("error", res.Err.Error()))
			continue
		}
		f := res.File
		stats.Scanned++

		rec, err := ix.cat.Get(ctx, f.Path)
		switch {
		case ragerrors.GetCode(err) == ragerrors.ErrCodeRecordNotFound:
			if err := ix.cat.Upsert(ctx, catalog.IndexStatus{
				Path:     f.Path,
				FileHash: f.Hash,
				Status:   catalog.StatusPending,
				Size:     f.Size,
				MTime:    f.MTime,
			}); err != nil {
				ix.log.Warn("catalog_upsert_failed",
					slog.String("path", f.Path),
					slog.String("error", err.Error()))
				continue
			}
			stats.New++

		case err != nil:
			ix.log.Warn("catalog_get_failed",
				slog.String("path", f.Path),
				slog.String("error", err.Error()))

		case rec.FileHash != f.Hash:
			if err := ix.cat.Upsert(ctx, catalog.IndexStatus{
				Path:     f.Path,
				FileHash: f.Hash,
				Status:   catalog.StatusPending,
				Size:     f.Size,
				MTime:    f.MTime,
			}); err != nil {
				ix.log.Warn("catalog_upsert_failed",
					slog.String("path", f.Path),
					slog.String("error", err.Error()))
				continue
			}
			stats.Changed++

		default:
			stats.Unchanged++
		}
	}

	return stats, ctx.Err()
}

// dispatch claims and processes up to MaxFilesPerBatch PENDING files,
// sequentially. Remaining files wait for the next iteration.
func (ix *Indexer) dispatch(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	pending, err := ix.cat.ListByStatus(ctx, catalog.StatusPending)
	if err != nil {
		if ctx.Err() == nil {
			ix.log.Error("list_pending_failed", slog.String("error", err.Error()))
		}
		return
	}
	if len(pending) == 0 {
		return
	}

	if len(pending) > ix.cfg.MaxFilesPerBatch {
		pending = pending[:ix.cfg.MaxFilesPerBatch]
	}

	for i := range pending {
		if ctx.Err() != nil || ix.stopping() {
			return
		}
		ix.processOne(ctx, pending[i])
	}
}

// processOne moves a single record PENDING -> PROCESSING -> INDEXED/FAILED.
// The claim is the atomicity point; a lost claim means another worker owns
// the file and this one walks away.
func (ix *Indexer) processOne(ctx context.Context, rec catalog.IndexStatus) {
	current, err := ix.cat.Get(ctx, rec.Path)
	if err != nil || current.Status != catalog.StatusPending {
		return
	}

	claimed, err := ix.cat.Claim(ctx, rec.Path)
	if err != nil {
		ix.log.Warn("claim_failed",
			slog.String("path", rec.Path),
			slog.String("error", err.Error()))
		return
	}
	if !claimed {
		return
	}

	abs := filepath.Join(ix.cfg.UploadDir, filepath.FromSlash(rec.Path))

	start := time.Now()
	procErr := ix.runProcessor(ctx, abs)
	metrics.ProcessingSeconds.Observe(time.Since(start).Seconds())

	// The terminal write must land even when the processor was cut short
	// by cancellation, or the record stays PROCESSING forever.
	writeCtx := context.WithoutCancel(ctx)

	if procErr != nil {
		metrics.FilesFailed.Inc()
		ix.log.LogAttrs(ctx, slog.LevelError, "index_file_failed",
			append([]slog.Attr{slog.String("path", rec.Path)},
				ragerrors.LogAttrs(procErr)...)...)

		rec.Status = catalog.StatusFailed
		rec.ErrorMessage = procErr.Error()
		rec.IndexedAt = nil
		if err := ix.cat.Upsert(writeCtx, rec); err != nil {
			ix.log.Error("catalog_upsert_failed",
				slog.String("path", rec.Path),
				slog.String("error", err.Error()))
		}
		return
	}

	metrics.FilesIndexed.Inc()
	now := time.Now()
	rec.Status = catalog.StatusIndexed
	rec.IndexedAt = &now
	rec.ErrorMessage = ""
	if err := ix.cat.Upsert(writeCtx, rec); err != nil {
		ix.log.Error("catalog_upsert_failed",
			slog.String("path", rec.Path),
			slog.String("error", err.Error()))
		return
	}

	ix.log.Info("file_indexed",
		slog.String("path", rec.Path),
		slog.Duration("took", time.Since(start)))
}

// runProcessor isolates processor panics so one poisoned file cannot kill
// the loop.
func (ix *Indexer) runProcessor(ctx context.Context, abs string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ragerrors.InternalError(fmt.Sprintf("processor panicked: %v", r), nil)
		}
	}()
	return ix.proc.ProcessDocument(ctx, abs)
}
