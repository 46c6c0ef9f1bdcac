package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"financerag/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

const pgUndefinedTable = "42P01"

// Pgvector keeps each namespace in its own Postgres schema. Rows are written
// unpublished and a document is published by a single UPDATE, which gives
// the all-or-nothing visibility queries rely on.
type Pgvector struct {
	pool *pgxpool.Pool
}

// NewPgvector installs the vector extension if needed and opens a pool whose
// connections understand the vector type.
func NewPgvector(ctx context.Context, dsn string) (*Pgvector, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	_, err = conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	conn.Close(ctx)
	if err != nil {
		return nil, fmt.Errorf("create vector extension: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	return &Pgvector{pool: pool}, nil
}

func (p *Pgvector) Close() { p.pool.Close() }

func (p *Pgvector) Backend() string { return "pgvector" }

func (p *Pgvector) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func table(ns Namespace) string {
	return pgx.Identifier{ns.name, "chunks"}.Sanitize()
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable
}

func (p *Pgvector) EnsureNamespace(ctx context.Context, ns Namespace, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("pgvector: namespace %s needs a dimension", ns.name)
	}
	schema := pgx.Identifier{ns.name}.Sanitize()
	stmts := []string{
		"CREATE SCHEMA IF NOT EXISTS " + schema,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			chunk_id    text PRIMARY KEY,
			document_id text NOT NULL,
			company_id  text NOT NULL,
			kind        text NOT NULL,
			origin      text NOT NULL,
			chunk_index integer NOT NULL,
			start_off   integer NOT NULL,
			end_off     integer NOT NULL,
			content     text NOT NULL,
			ingested_at timestamptz NOT NULL,
			published   boolean NOT NULL DEFAULT false,
			embedding   vector(%d) NOT NULL
		)`, table(ns), dim),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS chunks_document_idx ON %s (document_id)", table(ns)),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS chunks_published_idx ON %s (published)", table(ns)),
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgvector ensure %s: %w", ns.name, err)
		}
	}
	return nil
}

func (p *Pgvector) Upsert(ctx context.Context, ns Namespace, records []Record) error {
	if err := validateRecords(ns, records); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if err := p.EnsureNamespace(ctx, ns, len(records[0].Vector)); err != nil {
		return err
	}

	stmt := fmt.Sprintf(`INSERT INTO %s
		(chunk_id, document_id, company_id, kind, origin, chunk_index, start_off, end_off, content, ingested_at, published, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false, $11)
		ON CONFLICT (chunk_id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			company_id  = EXCLUDED.company_id,
			kind        = EXCLUDED.kind,
			origin      = EXCLUDED.origin,
			chunk_index = EXCLUDED.chunk_index,
			start_off   = EXCLUDED.start_off,
			end_off     = EXCLUDED.end_off,
			content     = EXCLUDED.content,
			ingested_at = EXCLUDED.ingested_at,
			published   = false,
			embedding   = EXCLUDED.embedding`, table(ns))

	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, r := range records {
			batch.Queue(stmt, r.ChunkID, r.DocumentID, r.CompanyID, string(r.Kind), r.Origin,
				r.Index, r.Start, r.End, r.Text, r.IngestedAt.UTC(), pgvector.NewVector(r.Vector))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("pgvector upsert into %s: %w", ns.name, err)
		}
		return nil
	})
}

// Publish replaces the document's published rows with its staged ones in
// one transaction.
func (p *Pgvector) Publish(ctx context.Context, ns Namespace, documentID string) error {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		var staged bool
		q := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE document_id = $1 AND NOT published)", table(ns))
		if err := tx.QueryRow(ctx, q, documentID).Scan(&staged); err != nil || !staged {
			return err
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE document_id = $1 AND published", table(ns)), documentID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("UPDATE %s SET published = true WHERE document_id = $1", table(ns)), documentID)
		return err
	})
	if err != nil && !isUndefinedTable(err) {
		return fmt.Errorf("pgvector publish %s in %s: %w", documentID, ns.name, err)
	}
	return nil
}

func (p *Pgvector) Query(ctx context.Context, ns Namespace, vector []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	n := max(4*k, 50)
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`SELECT chunk_id, document_id, company_id, kind, origin,
			chunk_index, start_off, end_off, content, ingested_at, 1 - (embedding <=> $1) AS score
		FROM %s WHERE published ORDER BY embedding <=> $1 LIMIT $2`, table(ns)), pgvector.NewVector(vector), n)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("pgvector query %s: %w", ns.name, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			h    Hit
			kind string
			at   time.Time
		)
		if err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.CompanyID, &kind, &h.Origin,
			&h.Index, &h.Start, &h.End, &h.Text, &at, &h.Score); err != nil {
			return nil, err
		}
		h.Kind = models.SourceKind(kind)
		h.IngestedAt = at
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, err
	}

	hits = Rank(hits, k)
	if err := CheckIsolation(p.Backend(), ns, hits); err != nil {
		return nil, err
	}
	return hits, nil
}

func (p *Pgvector) DeleteDocument(ctx context.Context, ns Namespace, documentID string) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE document_id = $1", table(ns)), documentID)
	if err != nil && !isUndefinedTable(err) {
		return fmt.Errorf("pgvector delete %s from %s: %w", documentID, ns.name, err)
	}
	return nil
}

func (p *Pgvector) DropNamespace(ctx context.Context, ns Namespace) error {
	_, err := p.pool.Exec(ctx, "DROP SCHEMA IF EXISTS "+pgx.Identifier{ns.name}.Sanitize()+" CASCADE")
	if err != nil {
		return fmt.Errorf("pgvector drop %s: %w", ns.name, err)
	}
	return nil
}

func (p *Pgvector) Count(ctx context.Context, ns Namespace) (int, error) {
	return p.count(ctx, fmt.Sprintf("SELECT count(*) FROM %s WHERE published", table(ns)))
}

func (p *Pgvector) CountDocument(ctx context.Context, ns Namespace, documentID string) (int, error) {
	return p.count(ctx, fmt.Sprintf("SELECT count(*) FROM %s WHERE document_id = $1 AND published", table(ns)), documentID)
}

func (p *Pgvector) count(ctx context.Context, sql string, args ...any) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		if isUndefinedTable(err) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}
