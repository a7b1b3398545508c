package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// UpsertFile inserts or replaces a file row within a batch transaction.
// The conflict target is path: a file whose content changed keeps its id
// and favorite flag but gets fresh metadata columns.
func (d *Database) UpsertFile(tx *sql.Tx, f *FileRecord) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("upsert_file", start, err) }()

	_, err = tx.Exec(`
		INSERT INTO files (id, path, mtime, name, type, duration, dimensions,
		                   has_workflow, is_favorite, prompt_preview, sampler_names)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			mtime = excluded.mtime,
			name = excluded.name,
			type = excluded.type,
			duration = excluded.duration,
			dimensions = excluded.dimensions,
			has_workflow = excluded.has_workflow,
			prompt_preview = excluded.prompt_preview,
			sampler_names = excluded.sampler_names
	`, f.ID, f.Path, f.MTime, f.Name, f.Type, f.Duration, f.Dimensions,
		boolToInt(f.HasWorkflow), boolToInt(f.IsFavorite), f.PromptPreview, f.SamplerNames)
	if err != nil {
		return fmt.Errorf("upserting %s: %w", f.Path, err)
	}
	return nil
}

// ReplaceSamplers swaps the sampler rows for a file inside a batch
// transaction. Delete-then-insert keeps re-extraction idempotent even
// when the new workflow has fewer samplers than the old one.
func (d *Database) ReplaceSamplers(tx *sql.Tx, fileID string, samplers []SamplerRecord) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("replace_samplers", start, err) }()

	if _, err = tx.Exec(`DELETE FROM workflow_metadata WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("clearing samplers for %s: %w", fileID, err)
	}

	for i, s := range samplers {
		_, err = tx.Exec(`
			INSERT INTO workflow_metadata
				(file_id, sampler_index, model_name, sampler_name, scheduler,
				 cfg, steps, positive_prompt, negative_prompt, width, height)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, fileID, i, nullStr(s.ModelName), nullStr(s.SamplerName), nullStr(s.Scheduler),
			s.CFG, s.Steps, nullStr(s.PositivePrompt), nullStr(s.NegativePrompt),
			s.Width, s.Height)
		if err != nil {
			return fmt.Errorf("inserting sampler %d for %s: %w", i, fileID, err)
		}
	}
	return nil
}

// DeletePaths removes index rows for paths that no longer exist on disk.
// Sampler rows follow via the cascade.
func (d *Database) DeletePaths(tx *sql.Tx, paths []string) (int64, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("delete_files", start, err) }()

	var deleted int64
	for _, chunk := range chunkStrings(paths, 500) {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, p := range chunk {
			args[i] = p
		}
		var res sql.Result
		res, err = tx.Exec(`DELETE FROM files WHERE path IN (`+placeholders+`)`, args...)
		if err != nil {
			return deleted, fmt.Errorf("deleting index rows: %w", err)
		}
		if n, raErr := res.RowsAffected(); raErr == nil {
			deleted += n
		}
	}
	return deleted, nil
}

// KnownFiles returns path -> mtime for every indexed file, optionally
// scoped to paths under prefix. The sync diff works off this map.
func (d *Database) KnownFiles(ctx context.Context, prefix string) (map[string]float64, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	query := `SELECT path, mtime FROM files`
	var args []any
	if prefix != "" {
		query += ` WHERE path LIKE ? ESCAPE '\'`
		args = append(args, escapeLike(prefix)+"%")
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing indexed files: %w", err)
	}
	defer rows.Close()

	known := make(map[string]float64)
	for rows.Next() {
		var path string
		var mtime float64
		if err := rows.Scan(&path, &mtime); err != nil {
			return nil, fmt.Errorf("scanning indexed file: %w", err)
		}
		known[path] = mtime
	}
	return known, rows.Err()
}

// GetFileByID returns a single file row, or ErrNotFound.
func (d *Database) GetFileByID(ctx context.Context, id string) (*FileRecord, error) {
	return d.getFile(ctx, `WHERE id = ?`, id)
}

// GetFileByPath returns a single file row by path, or ErrNotFound.
func (d *Database) GetFileByPath(ctx context.Context, path string) (*FileRecord, error) {
	return d.getFile(ctx, `WHERE path = ?`, path)
}

func (d *Database) getFile(ctx context.Context, where string, arg any) (*FileRecord, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	row := d.db.QueryRowContext(ctx, `
		SELECT id, path, mtime, name, type, duration, dimensions,
		       has_workflow, is_favorite,
		       COALESCE(prompt_preview, ''), COALESCE(sampler_names, '')
		FROM files `+where, arg)

	var f FileRecord
	var dims sql.NullString
	err := row.Scan(&f.ID, &f.Path, &f.MTime, &f.Name, &f.Type, &f.Duration, &dims,
		&f.HasWorkflow, &f.IsFavorite, &f.PromptPreview, &f.SamplerNames)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading file row: %w", err)
	}
	f.Dimensions = dims.String
	return &f, nil
}

// MarkFavorites sets the favorite flag on a batch of file ids and returns
// how many rows changed.
func (d *Database) MarkFavorites(ctx context.Context, ids []string, favorite bool) (int64, error) {
	if err := d.ready(); err != nil {
		return 0, err
	}
	start := time.Now()
	var err error
	defer func() { recordQuery("mark_favorite", start, err) }()

	if len(ids) == 0 {
		return 0, nil
	}

	var updated int64
	for _, chunk := range chunkStrings(ids, 500) {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, 0, len(chunk)+1)
		args = append(args, boolToInt(favorite))
		for _, id := range chunk {
			args = append(args, id)
		}
		var res sql.Result
		res, err = d.db.ExecContext(ctx,
			`UPDATE files SET is_favorite = ? WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return updated, fmt.Errorf("updating favorites: %w", err)
		}
		if n, raErr := res.RowsAffected(); raErr == nil {
			updated += n
		}
	}
	return updated, nil
}

// UpdateIdentity rewrites a file's id, path and name after a rename or
// move on disk. The id is derived from the path, so both change together;
// sampler rows follow through the id cascade.
func (d *Database) UpdateIdentity(ctx context.Context, oldID, newID, newPath, newName string) error {
	if err := d.ready(); err != nil {
		return err
	}
	res, err := d.db.ExecContext(ctx,
		`UPDATE files SET id = ?, path = ?, name = ? WHERE id = ?`,
		newID, newPath, newName, oldID)
	if err != nil {
		return fmt.Errorf("updating file identity: %w", err)
	}
	if n, raErr := res.RowsAffected(); raErr == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByIDs removes index rows by id, used after files are deleted on disk.
func (d *Database) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if err := d.ready(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	var deleted int64
	for _, chunk := range chunkStrings(ids, 500) {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		res, err := d.db.ExecContext(ctx,
			`DELETE FROM files WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return deleted, fmt.Errorf("deleting index rows: %w", err)
		}
		if n, raErr := res.RowsAffected(); raErr == nil {
			deleted += n
		}
	}
	return deleted, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullStr maps "" to NULL so filter aggregates skip absent values.
func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// chunkStrings splits values to stay under SQLite's bound parameter limit.
func chunkStrings(values []string, size int) [][]string {
	if len(values) == 0 {
		return nil
	}
	var chunks [][]string
	for start := 0; start < len(values); start += size {
		end := start + size
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[start:end])
	}
	return chunks
}
