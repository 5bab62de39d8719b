// pkg/report/store.go

package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"
)

const timeLayout = "2006-01-02T15:04:05.000Z"

// Store is the SQLite audit log of firewall checks, one row per check
type Store struct {
	db *sql.DB
}

// HistoryRow is one audit row as listed by the history command
type HistoryRow struct {
	ID           string
	HostID       string
	FQDN         string
	Panel        string
	IP           string
	Operator     string
	CheckedAt    time.Time
	Blocked      bool
	BlockSources []string
	Unblocked    bool
	Success      bool
	ErrorClass   string
	ErrorMessage string
}

// OpenStore opens (creating if needed) the database at path
func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, "failed to create database directory")
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", path)
	}
	// One writer; multi-host runs serialize through the pool
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// createSchema creates the database schema
func (s *Store) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS firewall_checks (
		id TEXT PRIMARY KEY,
		host_id TEXT NOT NULL,
		fqdn TEXT NOT NULL,
		panel TEXT NOT NULL,
		ip TEXT NOT NULL,
		operator TEXT,
		checked_at TEXT NOT NULL,
		blocked BOOLEAN NOT NULL,
		block_sources TEXT NOT NULL DEFAULT '[]',
		unblocked BOOLEAN NOT NULL,
		success BOOLEAN NOT NULL,
		error_class TEXT,
		error_message TEXT,
		analysis TEXT,
		remediation TEXT,
		logs TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_checks_ip ON firewall_checks(ip);
	CREATE INDEX IF NOT EXISTS idx_checks_host_id ON firewall_checks(host_id);
	CREATE INDEX IF NOT EXISTS idx_checks_checked_at ON firewall_checks(checked_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return errors.Wrap(err, "failed to create schema")
	}
	return nil
}

// Save inserts rec
func (s *Store) Save(ctx context.Context, rec *Record) error {
	sources, err := json.Marshal(nonNil(rec.BlockSources()))
	if err != nil {
		return errors.Wrap(err, "failed to marshal block sources")
	}
	analysis, err := nullableJSON(rec.Analysis)
	if err != nil {
		return errors.Wrap(err, "failed to marshal analysis")
	}
	remediation, err := nullableJSON(rec.Remediation)
	if err != nil {
		return errors.Wrap(err, "failed to marshal remediation")
	}
	logs, err := nullableJSON(rec.Logs)
	if err != nil {
		return errors.Wrap(err, "failed to marshal logs")
	}

	query := `
		INSERT INTO firewall_checks (
			id, host_id, fqdn, panel, ip, operator, checked_at, blocked, block_sources,
			unblocked, success, error_class, error_message, analysis, remediation, logs
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		rec.HostID,
		rec.FQDN,
		string(rec.Panel),
		rec.IP,
		rec.Operator,
		rec.CheckedAt.UTC().Format(timeLayout),
		rec.Blocked,
		string(sources),
		rec.Unblocked,
		rec.Success,
		rec.ErrorClass,
		rec.ErrorMessage,
		analysis,
		remediation,
		logs,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to save check %s", rec.ID)
	}
	return nil
}

// History returns the latest checks for ip, newest first. An empty ip lists every IP.
func (s *Store) History(ctx context.Context, ip string, limit int) ([]HistoryRow, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, host_id, fqdn, panel, ip, COALESCE(operator, ''), checked_at, blocked, block_sources,
			unblocked, success, COALESCE(error_class, ''), COALESCE(error_message, '')
		FROM firewall_checks
		WHERE (? = '' OR ip = ?)
		ORDER BY checked_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, ip, ip, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query history")
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var (
			row       HistoryRow
			checkedAt string
			sources   string
		)
		if err := rows.Scan(&row.ID, &row.HostID, &row.FQDN, &row.Panel, &row.IP, &row.Operator, &checkedAt,
			&row.Blocked, &sources, &row.Unblocked, &row.Success, &row.ErrorClass, &row.ErrorMessage); err != nil {
			return nil, errors.Wrap(err, "failed to scan history row")
		}
		if t, err := time.Parse(timeLayout, checkedAt); err == nil {
			row.CheckedAt = t
		}
		if err := json.Unmarshal([]byte(sources), &row.BlockSources); err != nil {
			return nil, errors.Wrapf(err, "corrupt block_sources in row %s", row.ID)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read history")
	}
	return out, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// nullableJSON stores nil values as SQL NULL
func nullableJSON(v any) (sql.NullString, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	if string(data) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
