// Package store is the embedded SQLite persistence layer. Link uniqueness
// is enforced with unique indexes on both match-link foreign keys in
// addition to the procedural conflict resolver.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// Sentinel errors surfaced to callers.
var (
	ErrNotFound       = errors.New("not found")
	ErrNoActiveConfig = errors.New("no active match config")
	ErrDuplicateLink  = errors.New("movement already linked")
)

const (
	dateFormat = "2006-01-02"
	timeFormat = time.RFC3339Nano
)

// Store wraps the SQLite database.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens (creating if needed) the database at dataPath/bankrecon.db.
func Open(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataPath, "bankrecon.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		bank TEXT NOT NULL DEFAULT '',
		number TEXT NOT NULL DEFAULT '',
		currency TEXT NOT NULL DEFAULT 'COP',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS extract_movements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL REFERENCES accounts(id),
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		date TEXT NOT NULL,
		description TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		amount_usd TEXT,
		exchange_rate TEXT,
		line_number INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_extract_account_period
		ON extract_movements(account_id, year, month);

	CREATE TABLE IF NOT EXISTS system_movements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL REFERENCES accounts(id),
		date TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		third_party_id INTEGER,
		cost_center_id INTEGER,
		concept_id INTEGER,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_system_account_date
		ON system_movements(account_id, date);

	CREATE TABLE IF NOT EXISTS match_links (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL REFERENCES accounts(id),
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		extract_movement_id INTEGER NOT NULL REFERENCES extract_movements(id),
		system_movement_id INTEGER NOT NULL REFERENCES system_movements(id),
		score REAL NOT NULL,
		state TEXT NOT NULL,
		batch_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		confirmed_at TEXT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_links_extract
		ON match_links(extract_movement_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_links_system
		ON match_links(system_movement_id);
	CREATE INDEX IF NOT EXISTS idx_links_account_period
		ON match_links(account_id, year, month);

	CREATE TABLE IF NOT EXISTS match_configs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		date_weight REAL NOT NULL,
		value_weight REAL NOT NULL,
		description_weight REAL NOT NULL,
		value_tolerance TEXT NOT NULL,
		min_description_similarity REAL NOT NULL,
		exact_threshold REAL NOT NULL,
		probable_threshold REAL NOT NULL,
		active INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS classification_rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER REFERENCES accounts(id),
		pattern TEXT NOT NULL,
		match_type TEXT NOT NULL,
		third_party_id INTEGER,
		cost_center_id INTEGER,
		concept_id INTEGER,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS aliases (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER REFERENCES accounts(id),
		pattern TEXT NOT NULL,
		replacement TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reconciliations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL REFERENCES accounts(id),
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		extract_opening TEXT NOT NULL DEFAULT '0',
		extract_inflows TEXT NOT NULL DEFAULT '0',
		extract_outflows TEXT NOT NULL DEFAULT '0',
		extract_closing TEXT NOT NULL DEFAULT '0',
		system_inflows TEXT NOT NULL DEFAULT '0',
		system_outflows TEXT NOT NULL DEFAULT '0',
		system_closing TEXT NOT NULL DEFAULT '0',
		difference TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL DEFAULT 'PENDIENTE',
		updated_at TEXT NOT NULL,
		UNIQUE(account_id, year, month)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// isUniqueViolation recognizes sqlite unique-index failures so they can be
// surfaced as the domain conflict error.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func decText(d decimal.Decimal) string { return d.String() }

func parseDec(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func nullDecText(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDec(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func fromNullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func timeText(t time.Time) string { return t.UTC().Format(timeFormat) }

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeFormat, s)
}

func nullTimeText(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: timeText(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func dateText(t time.Time) string { return t.UTC().Format(dateFormat) }

func parseDate(s string) (time.Time, error) {
	return time.Parse(dateFormat, s)
}
