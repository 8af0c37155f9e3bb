package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/eugenenazirov/trainconf/internal/hparams"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS revisions (
		name TEXT NOT NULL,
		version INTEGER NOT NULL,
		checksum TEXT NOT NULL,
		body TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (name, version)
	);`,
}

// SQLiteStorage persists documents and their history in a SQLite database.
type SQLiteStorage struct {
	db   *sql.DB
	opts options
}

// NewSQLiteStorage opens (or creates) the database at path and runs migrations.
func NewSQLiteStorage(path string, opts ...Option) (*SQLiteStorage, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return &SQLiteStorage{db: db, opts: buildOptions(opts)}, nil
}

func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return err
	}

	for i := current; i < len(migrations); i++ {
		if _, err := db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the latest revision stored under name.
func (s *SQLiteStorage) Get(ctx context.Context, name string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, version, checksum, body, updated_at
		FROM revisions WHERE name = ?
		ORDER BY version DESC LIMIT 1`, name)
	rev, body, err := scanRevision(row)
	if err != nil {
		return Record{}, err
	}

	doc, err := hparams.Parse([]byte(body))
	if err != nil {
		return Record{}, fmt.Errorf("decode stored config %s v%d: %w", name, rev.Version, err)
	}
	return Record{Revision: rev, Document: doc}, nil
}

// Put appends a new revision inside a transaction.
func (s *SQLiteStorage) Put(ctx context.Context, name string, doc *hparams.Document) (Revision, error) {
	if err := ValidateName(name); err != nil {
		return Revision{}, err
	}
	checksum, body, err := Checksum(doc)
	if err != nil {
		return Revision{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Revision{}, err
	}
	defer func() { _ = tx.Rollback() }()

	version := 1
	row := tx.QueryRowContext(ctx, `
		SELECT name, version, checksum, body, updated_at
		FROM revisions WHERE name = ?
		ORDER BY version DESC LIMIT 1`, name)
	current, currentBody, err := scanRevision(row)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return Revision{}, err
	default:
		if prev, perr := hparams.Parse([]byte(currentBody)); perr == nil && hparams.Equivalent(prev, doc) {
			return current, nil
		}
		version = current.Version + 1
	}

	rev := Revision{
		Name:      name,
		Version:   version,
		Checksum:  checksum,
		UpdatedAt: s.opts.clock(),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO revisions (name, version, checksum, body, updated_at) VALUES (?, ?, ?, ?, ?)`,
		rev.Name, rev.Version, rev.Checksum, string(body), rev.UpdatedAt.UnixNano()); err != nil {
		return Revision{}, fmt.Errorf("insert revision: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Revision{}, err
	}
	return rev, nil
}

// Delete removes the document and its whole history.
func (s *SQLiteStorage) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM revisions WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns the latest revision of each document, sorted by name.
func (s *SQLiteStorage) List(ctx context.Context) ([]Revision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.name, r.version, r.checksum, r.body, r.updated_at
		FROM revisions r
		JOIN (SELECT name, MAX(version) AS version FROM revisions GROUP BY name) latest
		  ON latest.name = r.name AND latest.version = r.version
		ORDER BY r.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Revision{}
	for rows.Next() {
		rev, _, err := scanRevision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rev)
	}
	return out, rows.Err()
}

// History returns every revision of name, oldest first.
func (s *SQLiteStorage) History(ctx context.Context, name string) ([]Revision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, version, checksum, body, updated_at
		FROM revisions WHERE name = ?
		ORDER BY version`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Revision
	for rows.Next() {
		rev, _, err := scanRevision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRevision(row scanner) (Revision, string, error) {
	var (
		rev       Revision
		body      string
		updatedAt int64
	)
	if err := row.Scan(&rev.Name, &rev.Version, &rev.Checksum, &body, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Revision{}, "", ErrNotFound
		}
		return Revision{}, "", err
	}
	rev.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return rev, body, nil
}
