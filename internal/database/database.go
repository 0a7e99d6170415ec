package database

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/intermernet/runtracker/internal/logging"

	_ "modernc.org/sqlite" // The pure Go SQLite driver
)

// Service is the central struct for managing all database interactions.
// Reads go straight to the shared *sql.DB; every write goes through
// WriteToMainDB so writers are serialized and each one is a single transaction.
type Service struct {
	dbPath string
	mainDB *sql.DB
	mu     sync.Mutex
}

// DBorTx is satisfied by both *sql.DB and *sql.Tx so query functions can run
// inside or outside a transaction.
type DBorTx interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	QueryRow(query string, args ...interface{}) *sql.Row
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

// NewService opens the SQLite database at dbPath.
func NewService(dbPath string) (*Service, error) {
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	mainDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", dbPath, err)
	}

	if err := mainDB.Ping(); err != nil {
		mainDB.Close()
		return nil, fmt.Errorf("could not connect to %s: %w", dbPath, err)
	}

	return &Service{dbPath: dbPath, mainDB: mainDB}, nil
}

// WriteToMainDB runs writeFunc inside a transaction while holding the write
// mutex. An error from writeFunc rolls the whole transaction back.
func (s *Service) WriteToMainDB(writeFunc func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.mainDB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := writeFunc(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

// GetMainDB provides the shared connection for reads.
func (s *Service) GetMainDB() *sql.DB {
	return s.mainDB
}

// Close closes the underlying connection pool.
func (s *Service) Close() {
	if err := s.mainDB.Close(); err != nil {
		logging.Error().Err(err).Str("path", s.dbPath).Msg("failed to close database")
		return
	}
	logging.Info().Str("path", s.dbPath).Msg("database connection closed")
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		email TEXT UNIQUE NOT NULL,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT,
		is_staff INTEGER NOT NULL DEFAULT 0,
		date_joined DATETIME DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY,
		athlete_id INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'init' CHECK (status IN ('init', 'in_progress', 'finished')),
		comment TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		start_time DATETIME,
		finish_time DATETIME,
		distance REAL,
		speed REAL,
		run_time_seconds INTEGER,
		FOREIGN KEY (athlete_id) REFERENCES users (id) ON DELETE CASCADE
	);`,
	`CREATE INDEX IF NOT EXISTS idx_runs_athlete_status ON runs (athlete_id, status);`,
	// recorded_us is the client timestamp as UTC unix microseconds.
	`CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY,
		run_id INTEGER NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		recorded_us INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		speed REAL NOT NULL DEFAULT 0,
		distance REAL NOT NULL DEFAULT 0,
		FOREIGN KEY (run_id) REFERENCES runs (id) ON DELETE CASCADE
	);`,
	`CREATE INDEX IF NOT EXISTS idx_positions_run_time ON positions (run_id, recorded_us);`,
	`CREATE TABLE IF NOT EXISTS challenges (
		id INTEGER PRIMARY KEY,
		athlete_id INTEGER NOT NULL,
		full_name TEXT NOT NULL,
		UNIQUE (athlete_id, full_name),
		FOREIGN KEY (athlete_id) REFERENCES users (id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS collectible_items (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		uid TEXT UNIQUE NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		picture TEXT NOT NULL DEFAULT '',
		value INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS item_collectors (
		item_id INTEGER NOT NULL,
		athlete_id INTEGER NOT NULL,
		PRIMARY KEY (item_id, athlete_id),
		FOREIGN KEY (item_id) REFERENCES collectible_items (id) ON DELETE CASCADE,
		FOREIGN KEY (athlete_id) REFERENCES users (id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id INTEGER PRIMARY KEY,
		athlete_id INTEGER NOT NULL,
		coach_id INTEGER NOT NULL,
		rating INTEGER CHECK (rating IS NULL OR rating BETWEEN 1 AND 5),
		UNIQUE (athlete_id, coach_id),
		FOREIGN KEY (athlete_id) REFERENCES users (id) ON DELETE CASCADE,
		FOREIGN KEY (coach_id) REFERENCES users (id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS athlete_infos (
		user_id INTEGER PRIMARY KEY,
		goals TEXT NOT NULL DEFAULT '',
		weight INTEGER CHECK (weight IS NULL OR (weight > 0 AND weight < 900)),
		FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
	);`,
}

// InitMainDB creates any missing tables and indexes. Safe to run on every start.
func (s *Service) InitMainDB() error {
	return s.WriteToMainDB(func(tx *sql.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("schema: %w", err)
			}
		}
		return nil
	})
}
