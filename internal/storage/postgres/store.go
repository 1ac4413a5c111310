package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"upgradeWatch/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS upgrade_findings (
	id                 UUID PRIMARY KEY,
	chain_id           BIGINT NOT NULL,
	block_number       BIGINT NOT NULL,
	block_hash         TEXT NOT NULL,
	block_time         TIMESTAMPTZ,
	tx_hash            TEXT NOT NULL,
	alert_id           TEXT NOT NULL,
	severity           TEXT NOT NULL,
	finding_type       TEXT NOT NULL,
	proxy              TEXT NOT NULL,
	new_implementation TEXT NOT NULL,
	caller             TEXT NOT NULL,
	description        TEXT NOT NULL,
	metadata           JSONB NOT NULL,
	detected_at        TIMESTAMPTZ NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS upgrade_findings_proxy_idx ON upgrade_findings (chain_id, proxy);
CREATE TABLE IF NOT EXISTS scan_state (
	name                 TEXT PRIMARY KEY,
	last_processed_block BIGINT NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL
);
`

// Store provides Postgres persistence for findings and scan progress.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// PutFindings inserts findings, skipping ids that are already stored.
func (s *Store) PutFindings(ctx context.Context, findings []model.FindingRecord) error {
	if len(findings) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, rec := range findings {
		meta, err := json.Marshal(rec.Finding.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		detectedAt, err := time.Parse(time.RFC3339Nano, rec.DetectedAt)
		if err != nil {
			detectedAt = time.Now().UTC()
		}
		var blockTime *time.Time
		if rec.Timestamp > 0 {
			ts := time.Unix(int64(rec.Timestamp), 0).UTC()
			blockTime = &ts
		}

		batch.Queue(`
			INSERT INTO upgrade_findings (
				id, chain_id, block_number, block_hash, block_time, tx_hash, alert_id, severity,
				finding_type, proxy, new_implementation, caller, description, metadata, detected_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
			ON CONFLICT (id) DO NOTHING
		`,
			rec.ID,
			int64(rec.ChainID),
			int64(rec.BlockNumber),
			rec.BlockHash,
			blockTime,
			rec.Finding.Metadata["txHash"],
			rec.Finding.AlertID,
			rec.Finding.Severity.String(),
			rec.Finding.Type.String(),
			rec.Finding.Metadata["proxy"],
			rec.Finding.Metadata["newImplementation"],
			rec.Finding.Metadata["caller"],
			rec.Finding.Description,
			meta,
			detectedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range findings {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// CountFindings returns the number of stored findings for a proxy.
func (s *Store) CountFindings(ctx context.Context, chainID uint64, proxy string) (int64, error) {
	var n int64
	row := s.pool.QueryRow(ctx, `SELECT count(*) FROM upgrade_findings WHERE chain_id=$1 AND proxy=$2`, int64(chainID), proxy)
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// LoadState returns last_processed_block for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_block FROM scan_state WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SaveState upserts last_processed_block for a name.
func (s *Store) SaveState(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scan_state (name, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = now()
	`, name, int64(block))
	return err
}
