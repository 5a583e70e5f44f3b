package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"framestack/internal/config"
)

func TestPostgresPoolConfig(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.PostgresConfig
		wantMax     int32
		wantMin     int32
		wantApp     string
		wantTimeout string
	}{
		{
			name: "configured",
			cfg: config.PostgresConfig{
				DSN: "postgres://u:p@localhost:5432/frames", MaxOpen: 20, MaxIdle: 5,
				ApplicationName: "framestack", StatementTimeout: 15 * time.Second,
			},
			wantMax: 20, wantMin: 5, wantApp: "framestack", wantTimeout: "15000",
		},
		{
			name: "idle clamped to max",
			cfg: config.PostgresConfig{
				DSN: "postgres://u:p@localhost:5432/frames", MaxOpen: 4, MaxIdle: 10,
			},
			wantMax: 4, wantMin: 4,
		},
		{
			name: "dsn application name wins",
			cfg: config.PostgresConfig{
				DSN: "postgres://u:p@localhost:5432/frames?application_name=ops", MaxOpen: 2, ApplicationName: "framestack",
			},
			wantMax: 2, wantApp: "ops",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc, err := postgresPoolConfig(tt.cfg)
			if err != nil {
				t.Fatalf("config: %v", err)
			}
			if pc.MaxConns != tt.wantMax || pc.MinConns != tt.wantMin {
				t.Fatalf("expected max=%d min=%d, got max=%d min=%d", tt.wantMax, tt.wantMin, pc.MaxConns, pc.MinConns)
			}
			params := pc.ConnConfig.RuntimeParams
			if params["application_name"] != tt.wantApp {
				t.Fatalf("expected application_name %q, got %q", tt.wantApp, params["application_name"])
			}
			if params["statement_timeout"] != tt.wantTimeout {
				t.Fatalf("expected statement_timeout %q, got %q", tt.wantTimeout, params["statement_timeout"])
			}
			if _, ok := pc.ConnConfig.Tracer.(*queryTracer); !ok {
				t.Fatalf("expected query tracer, got %T", pc.ConnConfig.Tracer)
			}
		})
	}
}

func TestPostgresPoolConfigRejectsBadDSN(t *testing.T) {
	if _, err := postgresPoolConfig(config.PostgresConfig{DSN: "postgres://u:p@localhost:notaport/frames"}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestQueryTracerRecordsStatements(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer tp.Shutdown(context.Background())
	qt := &queryTracer{tracer: tp.Tracer("database-test")}

	ctx := qt.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "DELETE FROM images WHERE id = $1", Args: []any{"a"}})
	qt.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("DELETE 1")})

	ctx = qt.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "DELETE FROM pictures WHERE id = $1"})
	qt.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("fk violation")})

	ended := rec.Ended()
	if len(ended) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(ended))
	}
	if ended[0].Name() != "postgres.query" || ended[0].Status().Code == codes.Error {
		t.Fatalf("unexpected first span %q %v", ended[0].Name(), ended[0].Status())
	}
	var rows int64 = -1
	for _, kv := range ended[0].Attributes() {
		if kv.Key == "db.rows_affected" {
			rows = kv.Value.AsInt64()
		}
	}
	if rows != 1 {
		t.Fatalf("expected rows_affected=1, got %d", rows)
	}
	if ended[1].Status().Code != codes.Error {
		t.Fatalf("expected failed statement to mark the span, got %v", ended[1].Status())
	}
}
