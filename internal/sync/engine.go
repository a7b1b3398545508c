package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/opj161/smart-comfyui-gallery/internal/database"
	"github.com/opj161/smart-comfyui-gallery/internal/logging"
	"github.com/opj161/smart-comfyui-gallery/internal/media"
	"github.com/opj161/smart-comfyui-gallery/internal/metrics"
	"github.com/opj161/smart-comfyui-gallery/internal/workflow"
)

const (
	// Number of records per commit transaction.
	defaultBatchSize = 500

	// Cap on analysis workers; image decoding is memory-heavy.
	maxWorkers = 8
)

// defaultWorkers sizes the analysis pool at 1.5x GOMAXPROCS, which
// balances decode CPU against batch I/O, capped at maxWorkers. The
// SYNC_WORKERS environment variable overrides the computed value.
func defaultWorkers() int {
	if override := os.Getenv("SYNC_WORKERS"); override != "" {
		if n, err := strconv.Atoi(override); err == nil && n > 0 {
			if n > maxWorkers {
				return maxWorkers
			}
			return n
		}
	}
	n := int(float64(runtime.GOMAXPROCS(0)) * 1.5)
	if n < 1 {
		n = 1
	}
	if n > maxWorkers {
		n = maxWorkers
	}
	return n
}

// ErrSyncRunning is returned when a pass is requested while another is
// in flight. Passes are serialized; callers retry or report busy.
var ErrSyncRunning = errors.New("sync already in progress")

// Config carries the explicit settings a sync Engine needs. Workers and
// BatchSize fall back to computed defaults when zero.
type Config struct {
	RootDir   string
	Workers   int
	BatchSize int

	// OnComplete runs after every committed pass, for invalidating
	// cached aggregate views.
	OnComplete func()
}

// Engine drives disk/index reconciliation.
type Engine struct {
	db        *database.Database
	analyzer  *media.Analyzer
	extractor *workflow.Extractor
	thumbs    *media.ThumbnailGenerator

	rootDir   string
	workers   int
	batchSize int

	onComplete func()

	mu       sync.Mutex
	running  bool
	lastSync time.Time
}

func NewEngine(db *database.Database, analyzer *media.Analyzer, extractor *workflow.Extractor, thumbs *media.ThumbnailGenerator, cfg Config) *Engine {
	numWorkers := cfg.Workers
	if numWorkers <= 0 {
		numWorkers = defaultWorkers()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Engine{
		db:         db,
		analyzer:   analyzer,
		extractor:  extractor,
		thumbs:     thumbs,
		rootDir:    filepath.Clean(cfg.RootDir),
		workers:    numWorkers,
		batchSize:  batchSize,
		onComplete: cfg.OnComplete,
	}
}

// RootDir returns the media directory this engine reconciles.
func (e *Engine) RootDir() string {
	return e.rootDir
}

// Workers returns the size of the processing pool.
func (e *Engine) Workers() int {
	return e.workers
}

// IsRunning reports whether a pass is currently in flight.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// LastSyncTime returns when the last pass completed.
func (e *Engine) LastSyncTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

func (e *Engine) tryStart() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return false
	}
	e.running = true
	return true
}

func (e *Engine) finish() {
	e.mu.Lock()
	e.running = false
	e.lastSync = time.Now()
	e.mu.Unlock()
}

// FullSync reconciles the entire media tree against the index. It
// blocks until the pass completes and returns its summary.
func (e *Engine) FullSync(ctx context.Context) (*Summary, error) {
	if !e.tryStart() {
		return nil, ErrSyncRunning
	}
	defer e.finish()

	metrics.SyncIsRunning.Set(1)
	defer metrics.SyncIsRunning.Set(0)
	metrics.SyncRunsTotal.WithLabelValues("full").Inc()

	start := time.Now()
	logging.Info("Starting full file scan...")

	diskFiles, err := e.scanTree()
	if err != nil {
		return nil, fmt.Errorf("scanning media directory: %w", err)
	}

	indexFiles, err := e.db.KnownFiles(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("loading indexed paths: %w", err)
	}

	d := diffFiles(diskFiles, indexFiles)
	logging.Info("Scan found %d files on disk: %d to process, %d to remove",
		len(diskFiles), len(d.toProcess), len(d.toDelete))

	summary := e.runPass(ctx, d, nil)
	summary.DurationSeconds = time.Since(start).Seconds()

	e.logSummary(summary)
	e.recordPass(start, summary)
	return summary, nil
}

// FolderSync reconciles a single folder (non-recursive) and streams
// progress events to the returned channel, which is closed when the
// pass ends. The pass runs in its own goroutine.
func (e *Engine) FolderSync(ctx context.Context, folder string) <-chan Progress {
	events := make(chan Progress, 16)

	go func() {
		defer close(events)
		emit := func(p Progress) {
			select {
			case events <- p:
			case <-ctx.Done():
			}
		}
		if err := e.folderSync(ctx, folder, emit); err != nil {
			logging.Error("Folder sync failed for %s: %v", folder, err)
			emit(Progress{Message: fmt.Sprintf("Error during sync: %v", err), Current: 1, Total: 1, Error: true})
		}
	}()

	return events
}

func (e *Engine) folderSync(ctx context.Context, folder string, emit func(Progress)) error {
	folder = filepath.Clean(folder)
	if !e.contains(folder) {
		return fmt.Errorf("folder %s is outside the media directory", folder)
	}
	if !e.tryStart() {
		return ErrSyncRunning
	}
	defer e.finish()

	metrics.SyncIsRunning.Set(1)
	defer metrics.SyncIsRunning.Set(0)
	metrics.SyncRunsTotal.WithLabelValues("folder").Inc()

	start := time.Now()
	emit(Progress{Message: "Checking folder for changes...", Current: 0, Total: 1})

	diskFiles, err := e.scanFolder(folder)
	if err != nil {
		return err
	}

	indexFiles, err := e.knownInFolder(ctx, folder)
	if err != nil {
		return err
	}

	d := diffFiles(diskFiles, indexFiles)
	if len(d.toProcess) == 0 && len(d.toDelete) == 0 {
		emit(Progress{Message: "Folder is up-to-date.", Status: "no_changes", Current: 1, Total: 1})
		return nil
	}

	total := len(d.toProcess)
	if total > 0 {
		emit(Progress{Message: fmt.Sprintf("Found %d new/modified files. Processing...", total), Current: 0, Total: total})
	}

	summary := e.runPass(ctx, d, emit)
	summary.DurationSeconds = time.Since(start).Seconds()

	e.recordPass(start, summary)
	emit(Progress{Message: "Sync complete. Reloading...", Status: "reloading", Current: total, Total: total})
	return nil
}

// diff is the three-way set comparison between disk and index state.
type diff struct {
	toProcess map[string]float64
	toDelete  []string
}

// diffFiles computes additions, updates, and deletions. The mtime
// comparison truncates to whole seconds so filesystems with different
// timestamp precision do not cause perpetual re-processing.
func diffFiles(disk, index map[string]float64) diff {
	d := diff{toProcess: make(map[string]float64)}
	for path, mtime := range disk {
		indexed, ok := index[path]
		if !ok || int64(mtime) > int64(indexed) {
			d.toProcess[path] = mtime
		}
	}
	for path := range index {
		if _, ok := disk[path]; !ok {
			d.toDelete = append(d.toDelete, path)
		}
	}
	return d
}

// scanTree walks the whole media directory. Index artifacts (.json
// sidecars, the SQLite file) and hidden entries are skipped, as is the
// thumbnail cache when it lives inside the tree.
func (e *Engine) scanTree() (map[string]float64, error) {
	files := make(map[string]float64)
	cacheDir := ""
	if e.thumbs != nil {
		cacheDir = filepath.Clean(e.thumbs.CacheDir())
	}

	err := filepath.WalkDir(e.rootDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			logging.Warn("Could not access %s: %v", path, err)
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(entry.Name(), ".") && path != e.rootDir {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			if cacheDir != "" && filepath.Clean(path) == cacheDir {
				return filepath.SkipDir
			}
			return nil
		}
		if skipExtension(entry.Name()) {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		files[path] = mtimeSeconds(info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// scanFolder lists one directory, non-recursive, keeping only files
// with recognized media extensions.
func (e *Engine) scanFolder(folder string) (map[string]float64, error) {
	files := make(map[string]float64)
	entries, err := os.ReadDir(folder)
	if err != nil {
		if os.IsNotExist(err) {
			return files, nil
		}
		return nil, fmt.Errorf("reading folder %s: %w", folder, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		path := filepath.Join(folder, entry.Name())
		if !e.analyzer.Classifier().IsMedia(path) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files[path] = mtimeSeconds(info)
	}
	return files, nil
}

// knownInFolder returns indexed paths directly inside folder.
func (e *Engine) knownInFolder(ctx context.Context, folder string) (map[string]float64, error) {
	all, err := e.db.KnownFiles(ctx, folder+string(filepath.Separator))
	if err != nil {
		return nil, err
	}
	// The prefix match also catches nested subfolders; keep direct
	// children only.
	known := make(map[string]float64, len(all))
	for path, mtime := range all {
		if filepath.Dir(path) == folder {
			known[path] = mtime
		}
	}
	return known, nil
}

func skipExtension(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".sqlite", ".sqlite-wal", ".sqlite-shm":
		return true
	}
	return false
}

func mtimeSeconds(info fs.FileInfo) float64 {
	return float64(info.ModTime().UnixNano()) / float64(time.Second)
}

func (e *Engine) contains(path string) bool {
	rel, err := filepath.Rel(e.rootDir, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

func (e *Engine) recordPass(start time.Time, summary *Summary) {
	metrics.SyncLastRunTimestamp.Set(float64(time.Now().Unix()))
	metrics.SyncLastRunDuration.Set(time.Since(start).Seconds())
	metrics.SyncFilesProcessed.Add(float64(summary.Processed))
	metrics.SyncFilesDeleted.Add(float64(summary.Deleted))
	metrics.SyncErrors.Add(float64(summary.Failed))
	e.db.UpdateDBMetrics()

	if e.onComplete != nil {
		e.onComplete()
	}
}

func (e *Engine) logSummary(s *Summary) {
	logging.Info("Workflow metadata extraction statistics:")
	logging.Info("  Files processed:                  %d", s.Processed)
	logging.Info("  Files that failed to process:     %d", s.Failed)
	logging.Info("  Files with embedded workflows:    %d", s.WithWorkflow)
	logging.Info("  Workflows successfully extracted: %d", s.WorkflowsRead)
	logging.Info("  Workflows that couldn't be read:  %d", s.WorkflowsMissed)
	logging.Info("  Files with metadata extracted:    %d", s.WithMetadata)
	logging.Info("  Files with no metadata found:     %d", s.WithoutMetadata)
	logging.Info("  Total samplers found:             %d", s.TotalSamplers)
	if s.WithMetadata > 0 {
		logging.Info("  Average samplers per workflow:    %.2f", float64(s.TotalSamplers)/float64(s.WithMetadata))
	}

	for i, pe := range s.ParseErrors {
		if i == 10 {
			logging.Info("  ... and %d more parse errors", len(s.ParseErrors)-10)
			break
		}
		logging.Info("  parse error: %s: %s", pe.File, pe.Error)
	}
	for i, name := range s.NoMetadataFiles {
		if i == 10 {
			logging.Info("  ... and %d more without metadata", len(s.NoMetadataFiles)-10)
			break
		}
		logging.Info("  workflow without metadata: %s", name)
	}
	logging.Info("Sync pass removed %d stale entries in %.2fs", s.Deleted, s.DurationSeconds)
}
