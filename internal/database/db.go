// Package database persists the domain catalog, per-library track state and metric values in sqlite.
package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const dbFileName = "domainx.db"

// DB represents the database connection with pooling
type DB struct {
	*sql.DB
	prepared map[string]*sql.Stmt
	mutex    sync.RWMutex

	maxOpenConns int
	maxIdleConns int
	maxLifetime  time.Duration
}

// NewDB opens the database file inside dataDir, creating the directory when needed
func NewDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return Open(filepath.Join(dataDir, dbFileName))
}

// Open opens (and migrates) the database at path
func Open(path string) (*DB, error) {
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=5000", path)

	sqlDB, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{
		DB:           sqlDB,
		prepared:     make(map[string]*sql.Stmt),
		maxOpenConns: 25,
		maxIdleConns: 5,
		maxLifetime:  5 * time.Minute,
	}
	sqlDB.SetMaxOpenConns(db.maxOpenConns)
	sqlDB.SetMaxIdleConns(db.maxIdleConns)
	sqlDB.SetConnMaxLifetime(db.maxLifetime)

	if err := db.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := db.initPreparedStatements(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize prepared statements: %w", err)
	}

	slog.Info("Database initialized",
		"path", path,
		"max_open_conns", db.maxOpenConns,
		"max_idle_conns", db.maxIdleConns)

	return db, nil
}

func (db *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS domains (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category_weights TEXT NOT NULL DEFAULT '{}', -- JSON object category -> weight
			comparison_matrices TEXT, -- JSON audit of the last ranking run
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS libraries (
			id TEXT PRIMARY KEY,
			domain_id TEXT NOT NULL,
			name TEXT NOT NULL,
			url TEXT NOT NULL DEFAULT '',
			analysis_status TEXT NOT NULL DEFAULT 'pending',
			analysis_task_id TEXT,
			analysis_error TEXT,
			analysis_started_at DATETIME,
			analysis_finished_at DATETIME,
			report_status TEXT NOT NULL DEFAULT 'pending',
			report_task_id TEXT,
			report_error TEXT,
			report_started_at DATETIME,
			report_finished_at DATETIME,
			report_path TEXT,
			ranking_results TEXT, -- JSON {category_scores, overall_score}
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (domain_id) REFERENCES domains(id)
		)`,

		`CREATE TABLE IF NOT EXISTS metrics (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			category TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			weight REAL NOT NULL DEFAULT 1,
			option_category TEXT NOT NULL DEFAULT '',
			rule TEXT NOT NULL DEFAULT '',
			value_type TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS library_metric_values (
			id TEXT PRIMARY KEY,
			library_id TEXT NOT NULL,
			metric_id TEXT NOT NULL,
			value TEXT NOT NULL,
			evidence TEXT NOT NULL DEFAULT '',
			collected_at DATETIME NOT NULL,
			UNIQUE(library_id, metric_id),
			FOREIGN KEY (library_id) REFERENCES libraries(id),
			FOREIGN KEY (metric_id) REFERENCES metrics(id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_libraries_domain ON libraries(domain_id)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_category ON metrics(category)`,
		`CREATE INDEX IF NOT EXISTS idx_metric_values_library ON library_metric_values(library_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

const (
	stmtUpsertMetricValue = "upsert_metric_value"
	stmtGetLibrary        = "get_library"
)

// initPreparedStatements prepares the statements used on every task
func (db *DB) initPreparedStatements() error {
	statements := map[string]string{
		stmtUpsertMetricValue: `INSERT INTO library_metric_values (id, library_id, metric_id, value, evidence, collected_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(library_id, metric_id) DO UPDATE SET
			value = excluded.value,
			evidence = excluded.evidence,
			collected_at = excluded.collected_at`,

		stmtGetLibrary: `SELECT ` + libraryColumns + ` FROM libraries WHERE id = ?`,
	}

	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, query := range statements {
		stmt, err := db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %w", name, err)
		}
		db.prepared[name] = stmt

		slog.Debug("Prepared statement initialized", "name", name)
	}

	return nil
}

// preparedStatement retrieves a prepared statement
func (db *DB) preparedStatement(name string) (*sql.Stmt, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	stmt, exists := db.prepared[name]
	if !exists {
		return nil, fmt.Errorf("prepared statement %s not found", name)
	}

	return stmt, nil
}

// PoolStats returns database connection pool statistics
func (db *DB) PoolStats() map[string]any {
	stats := db.Stats()

	return map[string]any{
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"max_open_connections": db.maxOpenConns,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}
}

// Close closes prepared statements and the connection pool
func (db *DB) Close() error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, stmt := range db.prepared {
		if err := stmt.Close(); err != nil {
			slog.Warn("Failed to close prepared statement", "name", name, "error", err)
		}
	}
	db.prepared = make(map[string]*sql.Stmt)

	return db.DB.Close()
}
