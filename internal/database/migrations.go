package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/opj161/smart-comfyui-gallery/internal/logging"
)

// schemaVersion is stored in PRAGMA user_version. Bump it together with a
// migration step below; any version this binary does not know how to
// migrate triggers a rebuild and full resync.
const schemaVersion = 2

const filesSchema = `
	CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL UNIQUE,
		mtime REAL NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		duration REAL,
		dimensions TEXT,
		has_workflow INTEGER NOT NULL DEFAULT 0,
		is_favorite INTEGER NOT NULL DEFAULT 0,
		prompt_preview TEXT,
		sampler_names TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_files_name ON files(name);
	CREATE INDEX IF NOT EXISTS idx_files_mtime ON files(mtime DESC);
	CREATE INDEX IF NOT EXISTS idx_files_type ON files(type);
	CREATE INDEX IF NOT EXISTS idx_files_favorite ON files(is_favorite);
	CREATE INDEX IF NOT EXISTS idx_files_path ON files(path);
`

// samplerSchema keys rows by (file_id, sampler_index) so multi-sampler
// workflows index one row per sampler. The id update cascade keeps
// sampler rows attached through renames, where the file id changes.
const samplerSchema = `
	CREATE TABLE IF NOT EXISTS workflow_metadata (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_id TEXT NOT NULL,
		sampler_index INTEGER NOT NULL DEFAULT 0,
		model_name TEXT,
		sampler_name TEXT,
		scheduler TEXT,
		cfg REAL,
		steps INTEGER,
		positive_prompt TEXT,
		negative_prompt TEXT,
		width INTEGER,
		height INTEGER,
		FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE ON UPDATE CASCADE
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_file_sampler ON workflow_metadata(file_id, sampler_index);
	CREATE INDEX IF NOT EXISTS idx_wm_model_name ON workflow_metadata(model_name);
	CREATE INDEX IF NOT EXISTS idx_wm_sampler_name ON workflow_metadata(sampler_name);
	CREATE INDEX IF NOT EXISTS idx_wm_scheduler ON workflow_metadata(scheduler);
	CREATE INDEX IF NOT EXISTS idx_wm_cfg ON workflow_metadata(cfg);
	CREATE INDEX IF NOT EXISTS idx_wm_steps ON workflow_metadata(steps);
	CREATE INDEX IF NOT EXISTS idx_wm_width ON workflow_metadata(width);
	CREATE INDEX IF NOT EXISTS idx_wm_height ON workflow_metadata(height);
	CREATE INDEX IF NOT EXISTS idx_wm_file_id ON workflow_metadata(file_id);
`

func (d *Database) initialize(ctx context.Context) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("initialize_schema", start, err) }()

	var version int
	if err = d.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	switch {
	case version == schemaVersion:
		// Schema objects are created with IF NOT EXISTS so a versioned
		// but empty database still gets its tables.
		err = d.createSchema(ctx)
		return err

	case version == 0 && !d.hasTable(ctx, "files"):
		// Fresh database.
		if err = d.createSchema(ctx); err != nil {
			return err
		}
		err = d.setVersion(ctx, schemaVersion)
		return err

	case version == 1:
		logging.Info("Migrating index schema v1 -> v2 (multi-sampler metadata)")
		if err = d.migrateSamplersV1toV2(ctx); err != nil {
			return err
		}
		err = d.createSchema(ctx)
		return err

	default:
		// Unknown or pre-versioning schema: rebuild and let the next
		// full sync repopulate everything.
		logging.Warn("Unknown index schema version %d, rebuilding (full resync required)", version)
		err = d.rebuild(ctx)
		return err
	}
}

func (d *Database) createSchema(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, filesSchema); err != nil {
		return fmt.Errorf("creating files table: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, samplerSchema); err != nil {
		return fmt.Errorf("creating workflow_metadata table: %w", err)
	}
	return nil
}

func (d *Database) hasTable(ctx context.Context, name string) bool {
	var n int
	err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	return err == nil && n > 0
}

func (d *Database) setVersion(ctx context.Context, v int) error {
	if _, err := d.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v)); err != nil {
		return fmt.Errorf("setting schema version: %w", err)
	}
	return nil
}

// migrateSamplersV1toV2 restructures workflow_metadata from one row per
// file to one row per (file, sampler_index). Existing rows become sampler
// index 0. The old table survives as a backup until the migration
// transaction commits, so a failure leaves the database untouched.
func (d *Database) migrateSamplersV1toV2(ctx context.Context) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("migrate", start, err) }()

	var tx *sql.Tx
	tx, err = d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning migration: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				logging.Error("migration rollback failed: %v", rbErr)
			}
		}
	}()

	steps := []string{
		`CREATE TABLE workflow_metadata_backup AS SELECT * FROM workflow_metadata`,
		`DROP TABLE workflow_metadata`,
		samplerSchema,
		`INSERT INTO workflow_metadata
			(file_id, sampler_index, model_name, sampler_name, scheduler,
			 cfg, steps, positive_prompt, negative_prompt, width, height)
		 SELECT file_id, 0, model_name, sampler_name, scheduler,
			 cfg, steps, positive_prompt, negative_prompt, width, height
		 FROM workflow_metadata_backup`,
		fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion),
	}
	for _, stmt := range steps {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step failed: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}

	// Backup cleanup is best effort; a leftover backup table is harmless.
	if _, dropErr := d.db.ExecContext(ctx, `DROP TABLE IF EXISTS workflow_metadata_backup`); dropErr != nil {
		logging.Warn("could not drop migration backup table: %v", dropErr)
	}

	logging.Info("Schema migration v1 -> v2 complete")
	return nil
}

// rebuild drops all index tables and recreates them at the current
// version. Favorites are lost; the original files on disk are not.
func (d *Database) rebuild(ctx context.Context) error {
	for _, stmt := range []string{
		`DROP TABLE IF EXISTS workflow_metadata`,
		`DROP TABLE IF EXISTS workflow_metadata_backup`,
		`DROP TABLE IF EXISTS files`,
	} {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("dropping old schema: %w", err)
		}
	}
	if err := d.createSchema(ctx); err != nil {
		return err
	}
	return d.setVersion(ctx, schemaVersion)
}
