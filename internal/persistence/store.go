// Package persistence stores run records in a SQL database. Postgres (lib/pq
// or pgx), MySQL, SQLite and SQL Server are supported through sqlx.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/testbench-io/testbench/internal/orchestrator"
	"github.com/testbench-io/testbench/internal/runs"
)

// Supported database/sql driver names.
const (
	DriverPostgres  = "postgres"
	DriverPgx       = "pgx"
	DriverMySQL     = "mysql"
	DriverSQLite    = "sqlite"
	DriverSQLServer = "sqlserver"
)

type dialect string

const (
	dialectPostgres  dialect = "postgres"
	dialectMySQL     dialect = "mysql"
	dialectSQLite    dialect = "sqlite"
	dialectSQLServer dialect = "sqlserver"
)

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverPostgres, DriverPgx:
		return dialectPostgres, nil
	case DriverMySQL:
		return dialectMySQL, nil
	case DriverSQLite:
		return dialectSQLite, nil
	case DriverSQLServer:
		return dialectSQLServer, nil
	default:
		return "", fmt.Errorf("unsupported store driver %q", driver)
	}
}

// Store is a SQL-backed orchestrator.RunStore.
type Store struct {
	db      *sqlx.DB
	dialect dialect
}

var _ orchestrator.RunStore = (*Store)(nil)

// NewStore opens the database, checks connectivity and applies pending
// migrations.
func NewStore(ctx context.Context, driver, dsn string) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if d == dialectSQLite {
		// One writer keeps in-memory databases alive and avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &Store{db: db, dialect: d}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type runRow struct {
	ID        string `db:"id"`
	Kind      string `db:"kind"`
	TestID    string `db:"test_id"`
	SuiteID   string `db:"suite_id"`
	ParentID  string `db:"parent_id"`
	Status    string `db:"status"`
	Result    string `db:"result"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
	Payload   string `db:"payload"`
}

func (r runRow) record() (runs.Record, error) {
	var rec runs.Record
	if err := json.Unmarshal([]byte(r.Payload), &rec); err != nil {
		return runs.Record{}, fmt.Errorf("failed to decode run %s: %w", r.ID, err)
	}
	return rec, nil
}

// SaveRun inserts rec or replaces the stored snapshot with the same id.
func (s *Store) SaveRun(ctx context.Context, rec runs.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", rec.ID, err)
	}

	row := runRow{
		ID:        rec.ID,
		Kind:      string(rec.Kind),
		TestID:    rec.TestID,
		SuiteID:   rec.SuiteID,
		ParentID:  rec.ParentID,
		Status:    string(rec.Status),
		Result:    string(rec.Result),
		CreatedAt: rec.CreatedAt.UnixNano(),
		UpdatedAt: rec.UpdatedAt.UnixNano(),
		Payload:   string(payload),
	}

	query := s.db.Rebind(upsertQuery(s.dialect))
	args := []any{row.ID, row.Kind, row.TestID, row.SuiteID, row.ParentID,
		row.Status, row.Result, row.CreatedAt, row.UpdatedAt, row.Payload}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save run %s: %w", rec.ID, err)
	}
	return nil
}

func upsertQuery(d dialect) string {
	const columns = `id, kind, test_id, suite_id, parent_id, status, result, created_at, updated_at, payload`
	const values = `?, ?, ?, ?, ?, ?, ?, ?, ?, ?`

	switch d {
	case dialectMySQL:
		return `INSERT INTO testbench_runs (` + columns + `) VALUES (` + values + `)
            ON DUPLICATE KEY UPDATE status = VALUES(status), result = VALUES(result),
            parent_id = VALUES(parent_id), updated_at = VALUES(updated_at), payload = VALUES(payload)`
	case dialectSQLServer:
		return `MERGE testbench_runs WITH (HOLDLOCK) AS t
            USING (SELECT ? AS id, ? AS kind, ? AS test_id, ? AS suite_id, ? AS parent_id,
                ? AS status, ? AS result, ? AS created_at, ? AS updated_at, ? AS payload) AS s
            ON t.id = s.id
            WHEN MATCHED THEN UPDATE SET status = s.status, result = s.result,
                parent_id = s.parent_id, updated_at = s.updated_at, payload = s.payload
            WHEN NOT MATCHED THEN INSERT (` + columns + `)
                VALUES (s.id, s.kind, s.test_id, s.suite_id, s.parent_id, s.status, s.result, s.created_at, s.updated_at, s.payload);`
	default:
		return `INSERT INTO testbench_runs (` + columns + `) VALUES (` + values + `)
            ON CONFLICT (id) DO UPDATE SET status = excluded.status, result = excluded.result,
            parent_id = excluded.parent_id, updated_at = excluded.updated_at, payload = excluded.payload`
	}
}

// GetRun loads the latest snapshot of a run.
func (s *Store) GetRun(ctx context.Context, id string) (runs.Record, error) {
	var row runRow
	query := s.db.Rebind(`SELECT id, kind, test_id, suite_id, parent_id, status, result, created_at, updated_at, payload
        FROM testbench_runs WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return runs.Record{}, fmt.Errorf("%w: %s", orchestrator.ErrRunNotFound, id)
		}
		return runs.Record{}, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return row.record()
}

// ListRunsByTest returns the TEST records of testID, newest first.
func (s *Store) ListRunsByTest(ctx context.Context, testID string, limit int) ([]runs.Record, error) {
	base := `SELECT id, kind, test_id, suite_id, parent_id, status, result, created_at, updated_at, payload
        FROM testbench_runs WHERE kind = ? AND test_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{string(runs.RecordKindTest), testID}

	query := base
	if limit > 0 {
		switch s.dialect {
		case dialectSQLServer:
			query += ` OFFSET 0 ROWS FETCH NEXT ? ROWS ONLY`
		default:
			query += ` LIMIT ?`
		}
		args = append(args, limit)
	}

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list runs for test %s: %w", testID, err)
	}

	out := make([]runs.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
