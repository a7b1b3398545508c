package sync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/opj161/smart-comfyui-gallery/internal/database"
	"github.com/opj161/smart-comfyui-gallery/internal/logging"
	"github.com/opj161/smart-comfyui-gallery/internal/metrics"
)

// promptPreviewLimit caps the denormalized prompt excerpt on file rows.
const promptPreviewLimit = 150

type job struct {
	path  string
	mtime float64
}

// outcome is one worker's result for a single file.
type outcome struct {
	path     string
	record   *database.FileRecord
	samplers []database.SamplerRecord

	hasWorkflow  bool
	workflowRead bool
	parseErr     error
	failed       bool
}

// runPass executes Dispatch, Collect, and Commit for an already
// computed diff. emit may be nil for the silent full-sync mode.
func (e *Engine) runPass(ctx context.Context, d diff, emit func(Progress)) *Summary {
	summary := &Summary{}

	if len(d.toProcess) > 0 {
		outcomes := e.dispatch(ctx, d.toProcess, emit, summary)
		if err := e.commit(outcomes); err != nil {
			logging.Error("Committing sync results: %v", err)
			summary.Failed += len(outcomes)
			summary.Processed -= len(outcomes)
		}
	}

	if len(d.toDelete) > 0 {
		deleted, err := e.deletePaths(d.toDelete)
		if err != nil {
			logging.Error("Removing stale index entries: %v", err)
		}
		summary.Deleted = deleted
	}

	return summary
}

// dispatch fans file processing out to the worker pool and collects
// outcomes as they complete. Order is not preserved.
func (e *Engine) dispatch(ctx context.Context, toProcess map[string]float64, emit func(Progress), summary *Summary) []outcome {
	total := len(toProcess)
	logging.Info("Processing %d files with %d workers", total, e.workers)

	jobs := make(chan job, e.workers)
	results := make(chan outcome, e.workers)

	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results <- e.processFile(ctx, j)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for path, mtime := range toProcess {
			select {
			case jobs <- job{path: path, mtime: mtime}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]outcome, 0, total)
	done := 0
	for out := range results {
		done++
		e.tally(out, summary)
		if !out.failed {
			outcomes = append(outcomes, out)
		}
		if emit != nil {
			emit(Progress{
				Message: fmt.Sprintf("Processing: %s", filepath.Base(out.path)),
				Current: done,
				Total:   total,
			})
		}
	}
	return outcomes
}

func (e *Engine) tally(out outcome, summary *Summary) {
	if out.failed {
		summary.Failed++
		return
	}
	summary.Processed++
	if !out.hasWorkflow {
		return
	}
	summary.WithWorkflow++
	if out.workflowRead {
		summary.WorkflowsRead++
	} else {
		summary.WorkflowsMissed++
	}
	if len(out.samplers) > 0 {
		summary.WithMetadata++
		summary.TotalSamplers += len(out.samplers)
	} else {
		summary.WithoutMetadata++
		if out.workflowRead {
			summary.NoMetadataFiles = append(summary.NoMetadataFiles, out.record.Name)
		}
	}
	if out.parseErr != nil {
		summary.ParseErrors = append(summary.ParseErrors, ParseError{
			File:  out.record.Name,
			Error: out.parseErr.Error(),
		})
	}
}

// processFile runs the full per-file pipeline: analysis, thumbnail
// warm-up, and workflow metadata extraction. It never panics a pass;
// errors mark the outcome failed and are logged by the collector.
func (e *Engine) processFile(ctx context.Context, j job) (out outcome) {
	out.path = j.path
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Panic processing %s: %v", j.path, r)
			out.failed = true
		}
	}()

	details := e.analyzer.Analyze(ctx, j.path)

	record := &database.FileRecord{
		ID:          database.FileID(j.path),
		Path:        j.path,
		MTime:       j.mtime,
		Name:        filepath.Base(j.path),
		Type:        string(details.Type),
		Duration:    details.Duration,
		Dimensions:  details.Dimensions,
		HasWorkflow: details.Workflow != nil,
	}

	if e.thumbs != nil {
		e.thumbs.Warm(j.path, j.mtime, details.Type)
	}

	out.record = record
	out.hasWorkflow = details.Workflow != nil

	if details.Workflow == nil {
		metrics.ExtractionsTotal.WithLabelValues("no_workflow").Inc()
		return out
	}
	out.workflowRead = true

	samplers, _, parseErr := e.extractor.ExtractDetailed(details.Workflow, j.path)
	out.parseErr = parseErr

	switch {
	case parseErr != nil:
		metrics.ExtractionsTotal.WithLabelValues("parse_error").Inc()
	case len(samplers) == 0:
		metrics.ExtractionsTotal.WithLabelValues("no_samplers").Inc()
	default:
		metrics.ExtractionsTotal.WithLabelValues("extracted").Inc()
		metrics.SamplersExtracted.Add(float64(len(samplers)))
	}

	for i, s := range samplers {
		out.samplers = append(out.samplers, database.SamplerRecord{
			FileID:         record.ID,
			SamplerIndex:   i,
			ModelName:      s.ModelName,
			SamplerName:    s.SamplerName,
			Scheduler:      s.Scheduler,
			CFG:            s.CFG,
			Steps:          s.Steps,
			PositivePrompt: s.PositivePrompt,
			NegativePrompt: s.NegativePrompt,
			Width:          s.Width,
			Height:         s.Height,
		})
	}

	record.PromptPreview = promptPreview(out.samplers)
	record.SamplerNames = samplerNames(out.samplers)
	return out
}

// promptPreview excerpts the first sampler's positive prompt.
func promptPreview(samplers []database.SamplerRecord) string {
	if len(samplers) == 0 {
		return ""
	}
	text := strings.TrimSpace(samplers[0].PositivePrompt)
	runes := []rune(text)
	if len(runes) > promptPreviewLimit {
		return string(runes[:promptPreviewLimit]) + "..."
	}
	return text
}

// samplerNames joins the unique sampler names, sorted, for display and
// quick text search on the file row.
func samplerNames(samplers []database.SamplerRecord) string {
	seen := make(map[string]bool)
	var names []string
	for _, s := range samplers {
		if s.SamplerName != "" && !seen[s.SamplerName] {
			seen[s.SamplerName] = true
			names = append(names, s.SamplerName)
		}
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// commit writes outcomes in batched transactions. Sampler rows use
// delete-then-insert so a file that lost samplers sheds its stale rows.
func (e *Engine) commit(outcomes []outcome) error {
	for start := 0; start < len(outcomes); start += e.batchSize {
		end := start + e.batchSize
		if end > len(outcomes) {
			end = len(outcomes)
		}
		if err := e.commitBatch(outcomes[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) commitBatch(batch []outcome) error {
	tx, err := e.db.BeginBatch()
	if err != nil {
		return fmt.Errorf("beginning commit transaction: %w", err)
	}
	for _, out := range batch {
		if err := e.db.UpsertFile(tx, out.record); err != nil {
			endErr := e.db.EndBatch(tx, err)
			return fmt.Errorf("upserting %s: %w", out.path, errors.Join(err, endErr))
		}
		if err := e.db.ReplaceSamplers(tx, out.record.ID, out.samplers); err != nil {
			endErr := e.db.EndBatch(tx, err)
			return fmt.Errorf("replacing samplers for %s: %w", out.path, errors.Join(err, endErr))
		}
	}
	return e.db.EndBatch(tx, nil)
}

func (e *Engine) deletePaths(paths []string) (int64, error) {
	tx, err := e.db.BeginBatch()
	if err != nil {
		return 0, err
	}
	deleted, err := e.db.DeletePaths(tx, paths)
	if err != nil {
		return 0, e.db.EndBatch(tx, err)
	}
	if err := e.db.EndBatch(tx, nil); err != nil {
		return 0, err
	}
	if deleted > 0 {
		logging.Info("Removed %d missing files from index", deleted)
	}
	return deleted, nil
}
