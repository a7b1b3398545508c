package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/opj161/smart-comfyui-gallery/internal/mediatypes"
	"github.com/opj161/smart-comfyui-gallery/internal/metrics"
)

// DefaultPageSize is the number of files returned per gallery page when
// the caller does not specify one.
const DefaultPageSize = 100

// Filters narrows page and count queries. The zero value matches
// everything. Metadata filters are satisfied when ANY sampler of a file
// matches ALL of them; the EXISTS subquery keeps each file to one row no
// matter how many samplers match.
type Filters struct {
	// Folder scopes results to paths under this prefix (with separator).
	Folder string
	// Search matches a substring of the file name.
	Search string
	// FavoritesOnly keeps only files flagged as favorite.
	FavoritesOnly bool
	// Prefixes keeps files whose name starts with any given prefix.
	Prefixes []string
	// Extensions keeps files with any of the given extensions (without dot).
	Extensions []string

	Model     string
	Sampler   string
	Scheduler string
	CFGMin    *float64
	CFGMax    *float64
	StepsMin  *int
	StepsMax  *int
	WidthMin  *int
	WidthMax  *int
	HeightMin *int
	HeightMax *int
}

// hasMetadataFilters reports whether any sampler-level filter is set.
func (f *Filters) hasMetadataFilters() bool {
	return f.Model != "" || f.Sampler != "" || f.Scheduler != "" ||
		f.CFGMin != nil || f.CFGMax != nil ||
		f.StepsMin != nil || f.StepsMax != nil ||
		f.WidthMin != nil || f.WidthMax != nil ||
		f.HeightMin != nil || f.HeightMax != nil
}

// metadataSubquery builds the EXISTS clause over workflow_metadata.
func (f *Filters) metadataSubquery() (string, []any) {
	var conds []string
	var params []any

	add := func(cond string, val any) {
		conds = append(conds, cond)
		params = append(params, val)
	}

	if f.Model != "" {
		add("wm.model_name = ?", f.Model)
	}
	if f.Sampler != "" {
		add("wm.sampler_name = ?", f.Sampler)
	}
	if f.Scheduler != "" {
		add("wm.scheduler = ?", f.Scheduler)
	}
	if f.CFGMin != nil {
		add("wm.cfg >= ?", *f.CFGMin)
	}
	if f.CFGMax != nil {
		add("wm.cfg <= ?", *f.CFGMax)
	}
	if f.StepsMin != nil {
		add("wm.steps >= ?", *f.StepsMin)
	}
	if f.StepsMax != nil {
		add("wm.steps <= ?", *f.StepsMax)
	}
	if f.WidthMin != nil {
		add("wm.width >= ?", *f.WidthMin)
	}
	if f.WidthMax != nil {
		add("wm.width <= ?", *f.WidthMax)
	}
	if f.HeightMin != nil {
		add("wm.height >= ?", *f.HeightMin)
	}
	if f.HeightMax != nil {
		add("wm.height <= ?", *f.HeightMax)
	}

	if len(conds) == 0 {
		return "", nil
	}
	sub := "EXISTS (SELECT 1 FROM workflow_metadata wm WHERE wm.file_id = f.id AND " +
		strings.Join(conds, " AND ") + ")"
	return sub, params
}

// escapeLike escapes LIKE wildcards in a literal value so a folder
// named "100%" matches only itself. Pair with a backslash ESCAPE clause.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// conditions renders all active filters as SQL conditions plus bind params.
func (f *Filters) conditions() ([]string, []any) {
	var conds []string
	var params []any

	if f.Folder != "" {
		conds = append(conds, `f.path LIKE ? ESCAPE '\'`)
		params = append(params, escapeLike(f.Folder)+"%")
	}
	if f.hasMetadataFilters() {
		sub, subParams := f.metadataSubquery()
		conds = append(conds, sub)
		params = append(params, subParams...)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		conds = append(conds, "f.name LIKE ?")
		params = append(params, "%"+s+"%")
	}
	if f.FavoritesOnly {
		conds = append(conds, "f.is_favorite = 1")
	}
	if len(f.Prefixes) > 0 {
		var sub []string
		for _, p := range f.Prefixes {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			sub = append(sub, `f.name LIKE ? ESCAPE '\'`)
			params = append(params, escapeLike(p)+"%")
		}
		if len(sub) > 0 {
			conds = append(conds, "("+strings.Join(sub, " OR ")+")")
		}
	}
	if len(f.Extensions) > 0 {
		var sub []string
		for _, ext := range f.Extensions {
			ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
			if ext == "" {
				continue
			}
			sub = append(sub, `f.name LIKE ? ESCAPE '\'`)
			params = append(params, "%."+escapeLike(ext))
		}
		if len(sub) > 0 {
			conds = append(conds, "("+strings.Join(sub, " OR ")+")")
		}
	}

	if len(conds) == 0 {
		conds = append(conds, "1 = 1")
	}
	return conds, params
}

// sortColumn whitelists the ORDER BY column; anything unexpected falls
// back to modification time.
func sortColumn(field mediatypes.SortField) string {
	if field == mediatypes.SortByName {
		return "name"
	}
	return "mtime"
}

func sortDirection(order mediatypes.SortOrder) string {
	if order == mediatypes.SortAsc {
		return "ASC"
	}
	return "DESC"
}

// CountMatching returns the number of files matching the filters.
func (d *Database) CountMatching(ctx context.Context, f Filters) (int, error) {
	if err := d.ready(); err != nil {
		return 0, err
	}
	start := time.Now()
	var err error
	defer func() { recordQuery("count_matching", start, err) }()

	conds, params := f.conditions()
	var total int
	err = d.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT f.id) FROM files f WHERE `+strings.Join(conds, " AND "),
		params...).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("counting files: %w", err)
	}
	return total, nil
}

// QueryPage returns one page of files matching the filters, sorted by the
// given field and order. page is 1-based; perPage <= 0 uses
// DefaultPageSize. Each row carries its sampler count.
func (d *Database) QueryPage(ctx context.Context, f Filters, field mediatypes.SortField, order mediatypes.SortOrder, page, perPage int) ([]FileRecord, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	var err error
	defer func() { recordQuery("query_page", start, err) }()

	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = DefaultPageSize
	}
	offset := (page - 1) * perPage

	conds, params := f.conditions()
	query := fmt.Sprintf(`
		SELECT f.id, f.path, f.mtime, f.name, f.type, f.duration, f.dimensions,
		       f.has_workflow, f.is_favorite,
		       COALESCE(f.prompt_preview, ''), COALESCE(f.sampler_names, ''),
		       COALESCE((SELECT COUNT(DISTINCT wm.sampler_index)
		                 FROM workflow_metadata wm
		                 WHERE wm.file_id = f.id), 0) AS sampler_count
		FROM files f
		WHERE %s
		ORDER BY f.%s %s
		LIMIT ? OFFSET ?
	`, strings.Join(conds, " AND "), sortColumn(field), sortDirection(order))
	params = append(params, perPage, offset)

	var rows *sql.Rows
	rows, err = d.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("querying page: %w", err)
	}
	defer rows.Close()

	var files []FileRecord
	for rows.Next() {
		var rec FileRecord
		var dims sql.NullString
		if err = rows.Scan(&rec.ID, &rec.Path, &rec.MTime, &rec.Name, &rec.Type,
			&rec.Duration, &dims, &rec.HasWorkflow, &rec.IsFavorite,
			&rec.PromptPreview, &rec.SamplerNames, &rec.SamplerCount); err != nil {
			return nil, fmt.Errorf("scanning page row: %w", err)
		}
		rec.Dimensions = dims.String
		files = append(files, rec)
	}
	err = rows.Err()
	return files, err
}

// SamplersForFile returns the sampler rows of one file ordered by sampler
// index, for detailed workflow inspection.
func (d *Database) SamplersForFile(ctx context.Context, fileID string) ([]SamplerRecord, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	var err error
	defer func() { recordQuery("samplers_for_file", start, err) }()

	var rows *sql.Rows
	rows, err = d.db.QueryContext(ctx, `
		SELECT file_id, sampler_index,
		       COALESCE(model_name, ''), COALESCE(sampler_name, ''), COALESCE(scheduler, ''),
		       cfg, steps,
		       COALESCE(positive_prompt, ''), COALESCE(negative_prompt, ''),
		       width, height
		FROM workflow_metadata
		WHERE file_id = ?
		ORDER BY sampler_index
	`, fileID)
	if err != nil {
		return nil, fmt.Errorf("querying samplers: %w", err)
	}
	defer rows.Close()

	var samplers []SamplerRecord
	for rows.Next() {
		var s SamplerRecord
		if err = rows.Scan(&s.FileID, &s.SamplerIndex, &s.ModelName, &s.SamplerName,
			&s.Scheduler, &s.CFG, &s.Steps, &s.PositivePrompt, &s.NegativePrompt,
			&s.Width, &s.Height); err != nil {
			return nil, fmt.Errorf("scanning sampler row: %w", err)
		}
		samplers = append(samplers, s)
	}
	err = rows.Err()
	return samplers, err
}

// QueryFilterOptions aggregates distinct metadata values and numeric
// ranges for filter UIs. Callers are expected to cache the result.
func (d *Database) QueryFilterOptions(ctx context.Context) (*FilterOptions, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	var err error
	defer func() { recordQuery("filter_options", start, err) }()

	opts := &FilterOptions{}

	for _, agg := range []struct {
		column string
		dest   *[]OptionCount
	}{
		{"model_name", &opts.Models},
		{"sampler_name", &opts.Samplers},
		{"scheduler", &opts.Schedulers},
	} {
		var rows *sql.Rows
		rows, err = d.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT %[1]s, COUNT(DISTINCT file_id) AS file_count
			FROM workflow_metadata
			WHERE %[1]s IS NOT NULL AND %[1]s != ''
			GROUP BY %[1]s
			ORDER BY file_count DESC, %[1]s
		`, agg.column))
		if err != nil {
			return nil, fmt.Errorf("aggregating %s: %w", agg.column, err)
		}
		for rows.Next() {
			var oc OptionCount
			if err = rows.Scan(&oc.Value, &oc.Count); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning %s option: %w", agg.column, err)
			}
			*agg.dest = append(*agg.dest, oc)
		}
		if err = rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	err = d.db.QueryRowContext(ctx,
		`SELECT MIN(cfg), MAX(cfg) FROM workflow_metadata WHERE cfg IS NOT NULL`).
		Scan(&opts.CFGRange.Min, &opts.CFGRange.Max)
	if err != nil {
		return nil, fmt.Errorf("querying cfg range: %w", err)
	}
	err = d.db.QueryRowContext(ctx,
		`SELECT MIN(steps), MAX(steps) FROM workflow_metadata WHERE steps IS NOT NULL`).
		Scan(&opts.StepsRange.Min, &opts.StepsRange.Max)
	if err != nil {
		return nil, fmt.Errorf("querying steps range: %w", err)
	}
	err = d.db.QueryRowContext(ctx, `
		SELECT MIN(width), MAX(width), MIN(height), MAX(height)
		FROM workflow_metadata WHERE width IS NOT NULL AND height IS NOT NULL`).
		Scan(&opts.WidthRange.Min, &opts.WidthRange.Max,
			&opts.HeightRange.Min, &opts.HeightRange.Max)
	if err != nil {
		return nil, fmt.Errorf("querying dimension ranges: %w", err)
	}

	return opts, nil
}

// Stats returns a content snapshot for health reporting.
func (d *Database) Stats(ctx context.Context) (*StatsSnapshot, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	start := time.Now()
	var err error
	defer func() { recordQuery("stats", start, err) }()

	snap := &StatsSnapshot{FilesByType: make(map[string]int)}

	var rows *sql.Rows
	rows, err = d.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM files GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("counting files by type: %w", err)
	}
	for rows.Next() {
		var t string
		var n int
		if err = rows.Scan(&t, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning type count: %w", err)
		}
		snap.FilesByType[t] = n
		snap.TotalFiles += n
	}
	if err = rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	err = d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM files WHERE is_favorite = 1`).Scan(&snap.TotalFavorites)
	if err != nil {
		return nil, fmt.Errorf("counting favorites: %w", err)
	}
	err = d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM files WHERE has_workflow = 1`).Scan(&snap.FilesWithWorkflow)
	if err != nil {
		return nil, fmt.Errorf("counting workflow files: %w", err)
	}
	err = d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workflow_metadata`).Scan(&snap.SamplerRows)
	if err != nil {
		return nil, fmt.Errorf("counting sampler rows: %w", err)
	}

	return snap, nil
}

// GetStats implements metrics.StatsProvider for the periodic collector.
func (d *Database) GetStats() metrics.Stats {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	snap, err := d.Stats(ctx)
	if err != nil {
		return metrics.Stats{}
	}
	return metrics.Stats{
		FilesByType:       snap.FilesByType,
		TotalFavorites:    snap.TotalFavorites,
		FilesWithWorkflow: snap.FilesWithWorkflow,
	}
}
