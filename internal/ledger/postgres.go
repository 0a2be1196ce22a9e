package ledger

import (
	"context"
	"encoding/json"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"

	"github.com/andresuchdata/catalog-export/internal/config"
	"github.com/andresuchdata/catalog-export/internal/domain"
	"github.com/andresuchdata/catalog-export/internal/pipeline"
)

const createRunsTable = `
	CREATE TABLE IF NOT EXISTS export_runs (
		id            TEXT PRIMARY KEY,
		status        TEXT NOT NULL,
		started_at    TIMESTAMPTZ NOT NULL,
		completed_at  TIMESTAMPTZ,
		row_count     INTEGER NOT NULL DEFAULT 0,
		column_count  INTEGER NOT NULL DEFAULT 0,
		output_path   TEXT NOT NULL DEFAULT '',
		bytes         BIGINT NOT NULL DEFAULT 0,
		bucket        TEXT NOT NULL DEFAULT '',
		object_name   TEXT NOT NULL DEFAULT '',
		error_kind    TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		stages        JSONB NOT NULL DEFAULT '[]'
	)
`

const upsertRun = `
	INSERT INTO export_runs (
		id, status, started_at, completed_at, row_count, column_count,
		output_path, bytes, bucket, object_name, error_kind, error_message, stages
	) VALUES (
		:id, :status, :started_at, :completed_at, :row_count, :column_count,
		:output_path, :bytes, :bucket, :object_name, :error_kind, :error_message, :stages
	)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		completed_at = EXCLUDED.completed_at,
		row_count = EXCLUDED.row_count,
		column_count = EXCLUDED.column_count,
		output_path = EXCLUDED.output_path,
		bytes = EXCLUDED.bytes,
		bucket = EXCLUDED.bucket,
		object_name = EXCLUDED.object_name,
		error_kind = EXCLUDED.error_kind,
		error_message = EXCLUDED.error_message,
		stages = EXCLUDED.stages
`

const selectRecentRuns = `
	SELECT id, status, started_at, completed_at, row_count, column_count,
	       output_path, bytes, bucket, object_name, error_kind, error_message, stages
	FROM export_runs
	ORDER BY started_at DESC
	LIMIT $1
`

// PostgresLedger stores runs in the export_runs table.
type PostgresLedger struct {
	db *sqlx.DB
}

func NewPostgresLedger(ctx context.Context, cfg config.LedgerConfig) (*PostgresLedger, error) {
	const op = "open postgres ledger"

	db, err := sqlx.ConnectContext(ctx, "pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, domain.E(domain.KindNetwork, op, errors.Wrap(err, "connect"))
	}

	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.ExecContext(ctx, createRunsTable); err != nil {
		db.Close()
		return nil, domain.E(domain.KindNetwork, op, errors.Wrap(err, "create export_runs table"))
	}

	return &PostgresLedger{db: db}, nil
}

type runRow struct {
	ID           string         `db:"id"`
	Status       string         `db:"status"`
	StartedAt    time.Time      `db:"started_at"`
	CompletedAt  *time.Time     `db:"completed_at"`
	RowCount     int            `db:"row_count"`
	ColumnCount  int            `db:"column_count"`
	OutputPath   string         `db:"output_path"`
	Bytes        int64          `db:"bytes"`
	Bucket       string         `db:"bucket"`
	ObjectName   string         `db:"object_name"`
	ErrorKind    string         `db:"error_kind"`
	ErrorMessage string         `db:"error_message"`
	Stages       types.JSONText `db:"stages"`
}

func toRow(run *pipeline.Run) (runRow, error) {
	stages := run.Stages
	if stages == nil {
		stages = []*pipeline.StageRun{}
	}
	payload, err := json.Marshal(stages)
	if err != nil {
		return runRow{}, err
	}
	return runRow{
		ID:           run.ID,
		Status:       string(run.Status),
		StartedAt:    run.StartedAt,
		CompletedAt:  run.CompletedAt,
		RowCount:     run.Rows,
		ColumnCount:  run.Columns,
		OutputPath:   run.OutputPath,
		Bytes:        run.Bytes,
		Bucket:       run.Bucket,
		ObjectName:   run.Object,
		ErrorKind:    string(run.ErrorKind),
		ErrorMessage: run.Error,
		Stages:       types.JSONText(payload),
	}, nil
}

func (r runRow) toRun() (*pipeline.Run, error) {
	status, ok := domain.ParseStatus(r.Status)
	if !ok {
		return nil, errors.Errorf("unknown status %q", r.Status)
	}
	run := &pipeline.Run{
		ID:          r.ID,
		Status:      status,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Rows:        r.RowCount,
		Columns:     r.ColumnCount,
		OutputPath:  r.OutputPath,
		Bytes:       r.Bytes,
		Bucket:      r.Bucket,
		Object:      r.ObjectName,
		ErrorKind:   domain.ErrorKind(r.ErrorKind),
		Error:       r.ErrorMessage,
	}
	if len(r.Stages) > 0 {
		if err := r.Stages.Unmarshal(&run.Stages); err != nil {
			return nil, errors.Wrap(err, "decode stages")
		}
	}
	return run, nil
}

// Record inserts the run, or updates it when the ID is already stored.
func (l *PostgresLedger) Record(ctx context.Context, run *pipeline.Run) error {
	const op = "record run"

	row, err := toRow(run)
	if err != nil {
		return domain.E(domain.KindSerialization, op, err)
	}
	if _, err := l.db.NamedExecContext(ctx, upsertRun, row); err != nil {
		return domain.E(domain.KindNetwork, op, errors.Wrap(err, "upsert export run"))
	}
	return nil
}

func (l *PostgresLedger) Recent(ctx context.Context, n int) ([]*pipeline.Run, error) {
	const op = "recent runs"

	if n <= 0 {
		return nil, nil
	}

	var rows []runRow
	if err := l.db.SelectContext(ctx, &rows, selectRecentRuns, n); err != nil {
		return nil, domain.E(domain.KindNetwork, op, errors.Wrap(err, "select export runs"))
	}

	runs := make([]*pipeline.Run, 0, len(rows))
	for _, row := range rows {
		run, err := row.toRun()
		if err != nil {
			return nil, domain.E(domain.KindSerialization, op, errors.Wrapf(err, "decode run %s", row.ID))
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (l *PostgresLedger) Close() error {
	return l.db.Close()
}
