// Package postgres provides a Postgres-backed corpus store. Records are kept
// as JSONB documents keyed by their natural key; insertion order is preserved
// through a sequence column so snapshots replay first-discovery order.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/renec-harvester/internal/renec"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table naming.
type Config struct {
	DSN             string
	TablePrefix     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// CorpusStore implements renec.CorpusStore on Postgres.
type CorpusStore struct {
	pool       pool
	prefix     string
	committees string
	standards  string
	snapshots  string
}

// New connects to Postgres using cfg.
func New(ctx context.Context, cfg Config) (*CorpusStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(p, cfg.TablePrefix)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, prefix string) (*CorpusStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if prefix == "" {
		prefix = "renec"
	}
	if !validTableName.MatchString(prefix) {
		return nil, fmt.Errorf("invalid table prefix %q", prefix)
	}
	return &CorpusStore{
		pool:       p,
		prefix:     prefix,
		committees: prefix + "_committees",
		standards:  prefix + "_standards",
		snapshots:  prefix + "_snapshots",
	}, nil
}

// Close releases the underlying pool resources.
func (s *CorpusStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the corpus tables when they do not exist.
func (s *CorpusStore) EnsureSchema(ctx context.Context) error {
	for _, table := range []string{s.committees, s.standards} {
		ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	key            TEXT PRIMARY KEY,
	seq            BIGSERIAL,
	doc            JSONB NOT NULL,
	source_version TEXT NOT NULL DEFAULT '',
	harvested_at   TIMESTAMPTZ NOT NULL
)`, table)
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", table, err)
		}
	}
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	name         TEXT PRIMARY KEY,
	doc          JSONB NOT NULL,
	generated_at TIMESTAMPTZ NOT NULL
)`, s.snapshots)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", s.snapshots, err)
	}
	return nil
}

// MergeBatch upserts every record of batch inside a single transaction.
func (s *CorpusStore) MergeBatch(ctx context.Context, batch renec.Harvest) error {
	if batch.Empty() {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin merge: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, rec := range batch.Committees {
		if err := s.upsert(ctx, tx, s.committees, rec.Key(), rec, rec.SourceVersion, rec.HarvestedAt); err != nil {
			return err
		}
	}
	for _, rec := range batch.Standards {
		if err := s.upsert(ctx, tx, s.standards, rec.Key(), rec, rec.SourceVersion, rec.HarvestedAt); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit merge: %w", err)
	}
	return nil
}

func (s *CorpusStore) upsert(
	ctx context.Context,
	tx pgx.Tx,
	table, key string,
	doc any,
	version string,
	harvestedAt time.Time,
) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (key, doc, source_version, harvested_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (key) DO UPDATE
SET doc = EXCLUDED.doc,
	source_version = EXCLUDED.source_version,
	harvested_at = EXCLUDED.harvested_at`, table)
	if _, err := tx.Exec(ctx, query, key, payload, version, harvestedAt); err != nil {
		return fmt.Errorf("upsert %s %s: %w", table, key, err)
	}
	return nil
}

// Snapshot reads the full corpus ordered by first insertion.
func (s *CorpusStore) Snapshot(ctx context.Context) (renec.Corpus, error) {
	var corpus renec.Corpus
	if err := s.scanDocs(ctx, s.committees, func(raw []byte) error {
		var rec renec.Committee
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		corpus.Committees = append(corpus.Committees, rec)
		return nil
	}); err != nil {
		return renec.Corpus{}, err
	}
	if err := s.scanDocs(ctx, s.standards, func(raw []byte) error {
		var rec renec.ECStandard
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		corpus.Standards = append(corpus.Standards, rec)
		return nil
	}); err != nil {
		return renec.Corpus{}, err
	}
	return corpus, nil
}

func (s *CorpusStore) scanDocs(ctx context.Context, table string, fn func([]byte) error) error {
	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT doc FROM %s ORDER BY seq", table))
	if err != nil {
		return fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("scan %s: %w", table, err)
		}
		if err := fn(raw); err != nil {
			return fmt.Errorf("decode %s row: %w", table, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", table, err)
	}
	return nil
}

// Versions returns the recorded source version per key for stage.
func (s *CorpusStore) Versions(ctx context.Context, stage renec.Stage) (map[string]string, error) {
	table := s.standards
	if stage == renec.StageCommittees {
		table = s.committees
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT key, source_version FROM %s", table))
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var key, version string
		if err := rows.Scan(&key, &version); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out[key] = version
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return out, nil
}

// SaveDerived stores the stats snapshot and registries as named documents.
func (s *CorpusStore) SaveDerived(ctx context.Context, derived renec.Derived) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save derived: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	docs := []struct {
		name string
		doc  any
	}{
		{"stats", derived.Stats},
		{"certifier_registry", derived.Certifiers},
		{"training_registry", derived.TrainingCenters},
		{"ec_certifier_matrix", derived.Matrix},
	}
	query := fmt.Sprintf(`
INSERT INTO %s (name, doc, generated_at)
VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE
SET doc = EXCLUDED.doc,
	generated_at = EXCLUDED.generated_at`, s.snapshots)
	for _, d := range docs {
		payload, err := json.Marshal(d.doc)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", d.name, err)
		}
		if _, err := tx.Exec(ctx, query, d.name, payload, derived.Stats.GeneratedAt); err != nil {
			return fmt.Errorf("upsert %s: %w", d.name, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save derived: %w", err)
	}
	return nil
}
