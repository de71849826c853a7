// Package pgstore provides a PostgreSQL implementation of state.Store.
// Documents live in a single keyed JSONB table; SetOnce and Update lean on
// Postgres conflict handling instead of a process-local lock, so the
// write-once guarantee holds across replicas too.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/mend/internal/state"
)

var tracer = otel.Tracer("github.com/linnemanlabs/mend/internal/state/pgstore")

//go:embed schema.sql
var schema string

// Store persists idempotency documents in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Get retrieves a document by key.
func (s *Store) Get(ctx context.Context, key string) (state.Doc, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM state_docs WHERE key = $1`, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("select doc: %w", err)
	}

	var d state.Doc
	if err := json.Unmarshal(raw, &d); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("decode doc: %w", err)
	}
	return d, true, nil
}

// SetOnce stores value under key only if the key is absent. The insert races
// through ON CONFLICT DO NOTHING, so exactly one concurrent caller wins.
func (s *Store) SetOnce(ctx context.Context, key string, value state.Doc) (bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.SetOnce", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	raw, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("encode doc: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO state_docs (key, doc) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
		key, raw,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("insert doc: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Update merges patch into the document under key, creating it if absent.
// The merge is a JSONB shallow merge done server-side.
func (s *Store) Update(ctx context.Context, key string, patch state.Doc) error {
	ctx, span := tracer.Start(ctx, "pgstore.Update", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	raw, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO state_docs (key, doc) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET doc = state_docs.doc || EXCLUDED.doc, updated_at = now()`,
		key, raw,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert doc: %w", err)
	}
	return nil
}
