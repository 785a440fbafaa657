package mysql

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"feeindex/internal/infrastructure/telemetry"

	_ "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CursorStore keeps scanner cursors in a shared MySQL state table so several
// scanner hosts resume from the same watermark.
type CursorStore struct {
	db *sql.DB
}

func NewCursorStore(dsn string) (*CursorStore, error) {
	if dsn == "" {
		return nil, errors.New("db dsn is required")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &CursorStore{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		state_key VARCHAR(128) NOT NULL,
		state_value VARCHAR(64) NOT NULL,
		PRIMARY KEY (state_key)
	)`)
	return err
}

func (s *CursorStore) LastProcessedBlock(ctx context.Context, key string) (uint64, bool, error) {
	ctx, span := startDBSpan(ctx, "mysql.LastProcessedBlock", attribute.String("state.key", key))
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT state_value FROM state WHERE state_key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		telemetry.EndSpan(span, nil)
		return 0, false, nil
	}
	if err != nil {
		telemetry.EndSpan(span, err)
		return 0, false, err
	}
	block, err := strconv.ParseUint(value, 10, 64)
	telemetry.EndSpan(span, err)
	if err != nil {
		return 0, false, err
	}
	return block, true, nil
}

// SetLastProcessedBlock never moves a stored cursor backwards.
func (s *CursorStore) SetLastProcessedBlock(ctx context.Context, key string, block uint64) error {
	ctx, span := startDBSpan(ctx, "mysql.SetLastProcessedBlock",
		attribute.String("state.key", key),
		attribute.Int64("block.number", int64(block)),
	)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `INSERT INTO state (state_key, state_value) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE state_value = IF(CAST(VALUES(state_value) AS UNSIGNED) > CAST(state_value AS UNSIGNED), VALUES(state_value), state_value)`,
		key, strconv.FormatUint(block, 10))
	telemetry.EndSpan(span, err)
	return err
}

func (s *CursorStore) ClearLastProcessedBlock(ctx context.Context, key string) error {
	ctx, span := startDBSpan(ctx, "mysql.ClearLastProcessedBlock", attribute.String("state.key", key))
	_, err := s.db.ExecContext(ctx, `DELETE FROM state WHERE state_key = ?`, key)
	telemetry.EndSpan(span, err)
	return err
}

func (s *CursorStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *CursorStore) Close() error {
	return s.db.Close()
}

func startDBSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.system", "mysql"))
	return otel.Tracer("feeindex/mysql").Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}
