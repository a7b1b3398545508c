package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"github.com/opj161/smart-comfyui-gallery/internal/logging"
	"github.com/opj161/smart-comfyui-gallery/internal/metrics"
)

// Default timeout for database operations
const defaultTimeout = 5 * time.Second

// ErrNotFound is returned when a file id has no row in the index.
var ErrNotFound = errors.New("database: file not found")

// ErrNotInitialized is returned when a query runs against a Database that
// was never opened or has been closed.
var ErrNotInitialized = errors.New("database: not initialized")

// Database is the gallery index store: one row per media file plus one
// row per extracted sampler.
type Database struct {
	db       *sql.DB
	dbPath   string
	mu       sync.RWMutex
	txStarts map[*sql.Tx]time.Time // batch start times for transaction metrics
}

// New opens (or creates) the index at dbPath and brings its schema up to
// date. dbPath must be the full path to the database file and its parent
// directory must already exist; startup.LoadConfig validates that.
func New(ctx context.Context, dbPath string) (*Database, error) {
	logging.Info("Index database path: %s", dbPath)

	if err := diagnosePermissions(dbPath); err != nil {
		logging.Warn("Database permission diagnostics: %v", err)
	}

	// WAL for concurrent readers during sync; busy_timeout prevents
	// "database is locked" under writer contention; foreign_keys makes
	// sampler rows follow their file row.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_temp_store=MEMORY&_busy_timeout=5000&_foreign_keys=1", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	d := &Database{
		db:     db,
		dbPath: dbPath,
	}

	if err := d.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close database after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	logging.Info("Index database ready at %s (schema v%d)", dbPath, schemaVersion)
	return d, nil
}

// Close closes the underlying connection pool.
func (d *Database) Close() error {
	return d.db.Close()
}

// ready guards query entry points against a zero-value or closed store.
func (d *Database) ready() error {
	if d == nil || d.db == nil {
		return ErrNotInitialized
	}
	return nil
}

// BeginBatch starts a transaction for batch operations.
// The caller is responsible for calling EndBatch when done.
func (d *Database) BeginBatch() (*sql.Tx, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	txStart := time.Now()

	// Background context: transaction lifetime is managed by EndBatch,
	// a timeout context here would cancel the tx on return.
	tx, err := d.db.BeginTx(context.Background(), nil)
	if err != nil {
		return nil, err
	}

	if d.txStarts == nil {
		d.txStarts = make(map[*sql.Tx]time.Time)
	}
	d.txStarts[tx] = txStart
	return tx, nil
}

// EndBatch commits or rolls back a transaction depending on err.
func (d *Database) EndBatch(tx *sql.Tx, err error) error {
	d.mu.Lock()
	start := d.txStarts[tx]
	delete(d.txStarts, tx)
	d.mu.Unlock()
	duration := time.Since(start).Seconds()

	if err != nil {
		metrics.DBTransactionDuration.WithLabelValues("rollback").Observe(duration)
		rbErr := tx.Rollback()
		if rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback also failed: %w", rbErr))
		}
		return err
	}

	metrics.DBTransactionDuration.WithLabelValues("commit").Observe(duration)
	return tx.Commit()
}

// recordQuery records database query metrics
func recordQuery(operation string, start time.Time, err error) {
	duration := time.Since(start).Seconds()
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(duration)
}

// UpdateDBMetrics exports connection pool and file size gauges.
func (d *Database) UpdateDBMetrics() {
	metrics.DBConnectionsOpen.Set(float64(d.db.Stats().OpenConnections))

	for suffix, label := range map[string]string{"": "main", "-wal": "wal", "-shm": "shm"} {
		if info, err := os.Stat(d.dbPath + suffix); err == nil {
			metrics.DBSizeBytes.WithLabelValues(label).Set(float64(info.Size()))
		}
	}
}

// Vacuum reclaims free pages. Run after large deletions, never during a sync.
func (d *Database) Vacuum() error {
	start := time.Now()
	var err error
	defer func() { recordQuery("vacuum", start, err) }()

	_, err = d.db.Exec("VACUUM")
	if err != nil {
		return fmt.Errorf("vacuum failed: %w", err)
	}
	return nil
}

// diagnosePermissions checks database directory and file permissions.
func diagnosePermissions(dbPath string) error {
	dir := filepath.Dir(dbPath)

	dirInfo, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("database directory %s not accessible: %w", dir, err)
	}
	if !dirInfo.IsDir() {
		return fmt.Errorf("database parent %s is not a directory", dir)
	}

	probe := filepath.Join(dir, ".write_probe")
	f, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("database directory %s not writable: %w", dir, err)
	}
	if closeErr := f.Close(); closeErr != nil {
		logging.Warn("closing write probe: %v", closeErr)
	}
	if rmErr := os.Remove(probe); rmErr != nil {
		logging.Warn("removing write probe: %v", rmErr)
	}

	if info, err := os.Stat(dbPath); err == nil {
		if info.IsDir() {
			return fmt.Errorf("database path %s is a directory", dbPath)
		}
	}
	return nil
}
