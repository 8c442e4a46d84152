package storage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/okian/windfarm/internal/domain/model"

	_ "github.com/lib/pq" // postgres driver
)

const defaultAnomalyTable = "anomaly_events"

var tableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresArchive appends anomaly events to a Postgres table.
type PostgresArchive struct {
	db    *sql.DB
	table string
}

// OpenPostgres connects with dsn, checks the connection and creates the table
// when missing.
func OpenPostgres(ctx context.Context, dsn, table string) (*PostgresArchive, error) {
	if dsn == "" {
		return nil, ErrNoDSN
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	a, err := NewPostgresArchive(db, table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := a.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

// NewPostgresArchive wraps an open database.
func NewPostgresArchive(db *sql.DB, table string) (*PostgresArchive, error) {
	if table == "" {
		table = defaultAnomalyTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresArchive{db: db, table: table}, nil
}

// Name identifies the sink.
func (a *PostgresArchive) Name() string { return "postgres" }

// EnsureSchema creates the anomaly table when it does not exist.
func (a *PostgresArchive) EnsureSchema(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+a.table+` (
	id TEXT PRIMARY KEY,
	turbine_id TEXT NOT NULL,
	channel TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	reconstruction_error DOUBLE PRECISION NOT NULL,
	threshold DOUBLE PRECISION NOT NULL,
	model_name TEXT NOT NULL,
	model_version TEXT NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("create %s: %w", a.table, err)
	}
	return nil
}

// Write archives anomaly envelopes; other kinds are ignored. Rewriting an
// event with the same id is a no-op.
func (a *PostgresArchive) Write(ctx context.Context, e model.Envelope) error {
	if e.Kind != model.KindAnomaly || e.Anomaly == nil {
		return nil
	}
	ev := e.Anomaly
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO `+a.table+` (id, turbine_id, channel, ts, reconstruction_error, threshold, model_name, model_version) `+
			`VALUES ($1,$2,$3,$4,$5,$6,$7,$8) ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.TurbineID, ev.Channel.String(), ev.TS, ev.Error, ev.Threshold, ev.ModelName, ev.ModelVersion)
	if err != nil {
		return fmt.Errorf("insert anomaly %s: %w", ev.ID, err)
	}
	return nil
}

// Close closes the database.
func (a *PostgresArchive) Close() error { return a.db.Close() }
