package sqlitesink

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"creepwatch/internal/scraper"

	_ "modernc.org/sqlite"
)

func init() {
	scraper.RegisterSink("sqlite", func(opts scraper.SinkOptions) (scraper.Sink, error) {
		return Open(opts)
	})
}

// ErrSchemaMismatch is returned when an existing table was created with other columns.
var ErrSchemaMismatch = errors.New("sqlite schema mismatch")

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Sink stores readings in a SQLite table whose columns follow the configured
// row layout, one row per reading. A numeric column holds the parsed value.
type Sink struct {
	db      *sql.DB
	path    string
	columns []string
	record  func(scraper.Reading) []string
	insert  string
}

// Open creates the database and the readings table if needed, or checks that
// an existing table has the configured columns.
func Open(opts scraper.SinkOptions) (*Sink, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("sqlite sink: path is required")
	}
	if len(opts.Columns) == 0 || opts.Record == nil {
		return nil, fmt.Errorf("sqlite sink: columns and record func are required")
	}
	for _, c := range opts.Columns {
		if !identRe.MatchString(c) || c == "id" || c == "numeric" {
			return nil, fmt.Errorf("sqlite sink: invalid column name %q", c)
		}
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", opts.Path, err)
	}
	db.SetMaxOpenConns(1)

	s := &Sink{db: db, path: opts.Path, columns: opts.Columns, record: opts.Record}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) init() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=FULL;`); err != nil {
		return fmt.Errorf("failed to configure %s: %w", s.path, err)
	}

	defs := make([]string, 0, len(s.columns))
	for _, c := range s.columns {
		defs = append(defs, c+" TEXT NOT NULL")
	}
	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS readings (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	%s,
	numeric REAL
)`, strings.Join(defs, ",\n\t"))
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema in %s: %w", s.path, err)
	}

	have, err := s.tableColumns()
	if err != nil {
		return err
	}
	want := append(append([]string{"id"}, s.columns...), "numeric")
	if strings.Join(have, ",") != strings.Join(want, ",") {
		return fmt.Errorf("%w: %s has %v, want %v", ErrSchemaMismatch, s.path, have, want)
	}

	if s.columns[0] == "timestamp" {
		if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS readings_timestamp ON readings(timestamp)`); err != nil {
			return fmt.Errorf("failed to create index in %s: %w", s.path, err)
		}
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(s.columns)+1), ", ")
	s.insert = fmt.Sprintf(`INSERT INTO readings (%s, numeric) VALUES (%s)`,
		strings.Join(s.columns, ", "), placeholders)
	return nil
}

func (s *Sink) tableColumns() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM pragma_table_info('readings') ORDER BY cid`)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", s.path, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to inspect %s: %w", s.path, err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// Append inserts one row rendered by the configured record func.
func (s *Sink) Append(r scraper.Reading) error {
	rec := s.record(r)
	if len(rec) != len(s.columns) {
		return fmt.Errorf("failed to insert into %s: record has %d fields, want %d", s.path, len(rec), len(s.columns))
	}

	args := make([]any, 0, len(rec)+1)
	for _, v := range rec {
		args = append(args, v)
	}
	if r.IsNumeric {
		args = append(args, r.Numeric)
	} else {
		args = append(args, nil)
	}

	if _, err := s.db.Exec(s.insert, args...); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", s.path, err)
	}
	return nil
}

// Count returns the number of stored readings.
func (s *Sink) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM readings`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Sink) Close() error {
	return s.db.Close()
}
