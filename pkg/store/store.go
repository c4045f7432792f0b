// Package store keeps the build history and the operator accounts of the
// compile server in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/blake2b"
	_ "modernc.org/sqlite"

	"github.com/antibyte/flail/pkg/logger"
)

var (
	// ErrNotFound is returned when a build or operator does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials is returned for unknown operators and wrong
	// passwords alike.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrOperatorExists is returned when an operator name is taken.
	ErrOperatorExists = errors.New("operator already exists")
)

// warningSeparator joins warnings in the warnings column.
const warningSeparator = "\n"

// Store is a wrapper around the SQLite database connection
type Store struct {
	conn *sql.DB
}

// BuildRecord is one stored compilation.
type BuildRecord struct {
	ID         string
	ScriptHash string
	Script     string
	Program    []byte // finalized stream, sentinel included
	Pairs      int
	Mode       string // mode in effect at the end of the script
	Settings   string // compiler settings the build was made with
	Warnings   []string
	Operator   string
	CreatedAt  time.Time
}

// Open opens the database at path and makes sure all tables exist.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Ensure the database is accessible
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.CreateTables(); err != nil {
		conn.Close()
		return nil, err
	}
	logger.DatabaseInfo("Opened build store %s", path)
	return s, nil
}

// CreateTables ensures all required tables exist in the database.
func (s *Store) CreateTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS builds (
			id TEXT PRIMARY KEY,
			script_hash TEXT NOT NULL,
			script TEXT NOT NULL,
			program BLOB NOT NULL,
			pairs INTEGER NOT NULL,
			mode TEXT NOT NULL DEFAULT '',
			settings TEXT NOT NULL DEFAULT '',
			warnings TEXT,
			operator TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_builds_hash ON builds(script_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_builds_created ON builds(created_at)`,
		`CREATE TABLE IF NOT EXISTS operators (
			username TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			last_login INTEGER
		)`,
	}

	for _, query := range queries {
		if _, err := s.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return s.migrateBuilds()
}

// migrateBuilds adds the columns that older build stores lack.
func (s *Store) migrateBuilds() error {
	for _, column := range []string{"mode", "settings"} {
		var count int
		err := s.conn.QueryRow(
			`SELECT COUNT(*) FROM pragma_table_info('builds') WHERE name = ?`, column).Scan(&count)
		if err != nil {
			return fmt.Errorf("checking builds.%s: %w", column, err)
		}
		if count > 0 {
			continue
		}
		logger.DatabaseInfo("Adding %s column to builds table", column)
		if _, err := s.conn.Exec(`ALTER TABLE builds ADD COLUMN ` + column + ` TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("failed to add %s column: %w", column, err)
		}
	}
	_, err := s.conn.Exec(`CREATE INDEX IF NOT EXISTS idx_builds_lookup ON builds(script_hash, settings)`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// ScriptHash returns the hex encoded BLAKE2b-256 digest of a script.
func ScriptHash(src []byte) string {
	sum := blake2b.Sum256(src)
	return hex.EncodeToString(sum[:])
}

// SaveBuild stores a build and returns its new ID. Empty hash and creation
// time are filled in.
func (s *Store) SaveBuild(ctx context.Context, rec BuildRecord) (string, error) {
	rec.ID = uuid.New().String()
	if rec.ScriptHash == "" {
		rec.ScriptHash = ScriptHash([]byte(rec.Script))
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO builds (id, script_hash, script, program, pairs, mode, settings, warnings, operator, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ScriptHash, rec.Script, rec.Program, rec.Pairs, rec.Mode, rec.Settings,
		strings.Join(rec.Warnings, warningSeparator), rec.Operator, rec.CreatedAt.UnixNano())
	if err != nil {
		logger.DatabaseError("Failed to save build: %v", err)
		return "", fmt.Errorf("saving build: %w", err)
	}
	logger.DatabaseDebug("Saved build %s (%d pairs)", rec.ID, rec.Pairs)
	return rec.ID, nil
}

const buildColumns = `id, script_hash, script, program, pairs, mode, settings, warnings, operator, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBuild(row rowScanner) (*BuildRecord, error) {
	var (
		rec      BuildRecord
		warnings sql.NullString
		operator sql.NullString
		created  int64
	)
	err := row.Scan(&rec.ID, &rec.ScriptHash, &rec.Script, &rec.Program, &rec.Pairs,
		&rec.Mode, &rec.Settings, &warnings, &operator, &created)
	if err != nil {
		return nil, err
	}
	if warnings.String != "" {
		rec.Warnings = strings.Split(warnings.String, warningSeparator)
	}
	rec.Operator = operator.String
	rec.CreatedAt = time.Unix(0, created)
	return &rec, nil
}

// GetBuild loads a build by ID.
func (s *Store) GetBuild(ctx context.Context, id string) (*BuildRecord, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+buildColumns+` FROM builds WHERE id = ?`, id)
	rec, err := scanBuild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading build %s: %w", id, err)
	}
	return rec, nil
}

// FindByHash returns the most recent build of a script with the given hash
// that was made with the given compiler settings.
func (s *Store) FindByHash(ctx context.Context, hash, settings string) (*BuildRecord, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+buildColumns+` FROM builds WHERE script_hash = ? AND settings = ?
		 ORDER BY created_at DESC LIMIT 1`, hash, settings)
	rec, err := scanBuild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up build by hash: %w", err)
	}
	return rec, nil
}

// ListBuilds returns up to limit builds, newest first.
func (s *Store) ListBuilds(ctx context.Context, limit int) ([]*BuildRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+buildColumns+` FROM builds ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing builds: %w", err)
	}
	defer rows.Close()

	var builds []*BuildRecord
	for rows.Next() {
		rec, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning build: %w", err)
		}
		builds = append(builds, rec)
	}
	return builds, rows.Err()
}

// PruneBuilds deletes all but the newest keep builds and returns how many
// were removed.
func (s *Store) PruneBuilds(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM builds WHERE id NOT IN (
			SELECT id FROM builds ORDER BY created_at DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning builds: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logger.DatabaseInfo("Pruned %d old builds", n)
	}
	return n, nil
}

// CreateOperator adds an operator account with a bcrypt hashed password.
func (s *Store) CreateOperator(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return fmt.Errorf("username and password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	var exists int
	err = s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM operators WHERE username = ?`, username).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking operator: %w", err)
	}
	if exists > 0 {
		return ErrOperatorExists
	}

	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO operators (username, password, created_at) VALUES (?, ?, ?)`,
		username, string(hash), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("creating operator: %w", err)
	}
	logger.DatabaseInfo("Created operator %s", username)
	return nil
}

// VerifyOperator checks an operator's password and records the login.
func (s *Store) VerifyOperator(ctx context.Context, username, password string) error {
	var hash string
	err := s.conn.QueryRowContext(ctx,
		`SELECT password FROM operators WHERE username = ?`, username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return fmt.Errorf("loading operator: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}

	if _, err := s.conn.ExecContext(ctx,
		`UPDATE operators SET last_login = ? WHERE username = ?`, time.Now().Unix(), username); err != nil {
		logger.DatabaseError("Failed to update last login for %s: %v", username, err)
	}
	return nil
}
