package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"voxrag/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshot_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS passages (
	id        TEXT PRIMARY KEY,
	source_id TEXT NOT NULL,
	position  INTEGER NOT NULL,
	seq       INTEGER NOT NULL,
	text      TEXT NOT NULL,
	embedding BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_passages_source ON passages(source_id);
`

// SnapshotStore persists full index snapshots to a sqlite file. Each
// Persist replaces the previous snapshot wholesale; partial writes never
// survive because the swap happens inside one transaction.
type SnapshotStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSnapshotStore(path string, logger *slog.Logger) (*SnapshotStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init snapshot schema: %w", err)
	}
	return &SnapshotStore{db: db, logger: logger}, nil
}

func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

// Persist writes the passages plus the embedding model ID and metric they
// were produced under.
func (s *SnapshotStore) Persist(ctx context.Context, passages []domain.Passage, modelID, metric string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{"DELETE FROM passages", "DELETE FROM snapshot_meta"} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("clear snapshot: %w", err)
		}
	}

	metaStmt, err := tx.PrepareContext(ctx, "INSERT INTO snapshot_meta (key, value) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("prepare meta insert: %w", err)
	}
	defer metaStmt.Close()
	for k, v := range map[string]string{"embedding_model": modelID, "metric": metric} {
		if _, err := metaStmt.ExecContext(ctx, k, v); err != nil {
			return fmt.Errorf("write snapshot meta: %w", err)
		}
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO passages (id, source_id, position, seq, text, embedding) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare passage insert: %w", err)
	}
	defer stmt.Close()

	for i, p := range passages {
		if _, err := stmt.ExecContext(ctx, p.ID, p.SourceID, p.Position, i, p.Text, EncodeEmbedding(p.Vector)); err != nil {
			return fmt.Errorf("write passage %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	s.logger.Debug("index snapshot persisted", "passages", len(passages))
	return nil
}

// Load reads the snapshot back. A snapshot produced under a different
// embedding model or metric fails with ErrIndexVersionMismatch rather
// than serving vectors from the wrong space.
func (s *SnapshotStore) Load(ctx context.Context, modelID, metric string) ([]domain.Passage, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM snapshot_meta").Scan(&count); err != nil {
		return nil, fmt.Errorf("read snapshot meta: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	for key, want := range map[string]string{"embedding_model": modelID, "metric": metric} {
		var got string
		err := s.db.QueryRowContext(ctx, "SELECT value FROM snapshot_meta WHERE key = ?", key).Scan(&got)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: snapshot missing %s", domain.ErrIndexVersionMismatch, key)
		}
		if err != nil {
			return nil, fmt.Errorf("read snapshot meta: %w", err)
		}
		if got != want {
			return nil, fmt.Errorf("%w: snapshot %s %q, configured %q", domain.ErrIndexVersionMismatch, key, got, want)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, source_id, position, text, embedding FROM passages ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("read passages: %w", err)
	}
	defer rows.Close()

	var passages []domain.Passage
	for rows.Next() {
		var p domain.Passage
		var blob []byte
		if err := rows.Scan(&p.ID, &p.SourceID, &p.Position, &p.Text, &blob); err != nil {
			return nil, fmt.Errorf("scan passage: %w", err)
		}
		p.Vector, err = DecodeEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("decode passage %s: %w", p.ID, err)
		}
		passages = append(passages, p)
	}
	return passages, rows.Err()
}

// Durable pairs the in-memory index with a sqlite snapshot store and
// implements domain.Index.
type Durable struct {
	*Memory
	snap *SnapshotStore
}

func NewDurable(mem *Memory, snap *SnapshotStore) *Durable {
	return &Durable{Memory: mem, snap: snap}
}

func (d *Durable) Persist(ctx context.Context) error {
	return d.snap.Persist(ctx, d.Memory.snapshot(), d.Memory.modelID, string(d.Memory.metric))
}

func (d *Durable) Load(ctx context.Context) error {
	passages, err := d.snap.Load(ctx, d.Memory.modelID, string(d.Memory.metric))
	if err != nil {
		return err
	}
	if len(passages) == 0 {
		return nil
	}
	return d.Memory.restore(passages)
}

func (d *Durable) Close() error {
	return d.snap.Close()
}
