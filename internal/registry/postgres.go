package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/edgeai/rag-gateway/internal/model"
	apperrors "github.com/edgeai/rag-gateway/pkg/errors"
	"github.com/edgeai/rag-gateway/pkg/postgres"
)

// PostgresStore is the durable Store implementation.
type PostgresStore struct {
	client *postgres.Client
}

// NewPostgresStore creates a store and ensures its schema exists.
func NewPostgresStore(ctx context.Context, client *postgres.Client) (*PostgresStore, error) {
	s := &PostgresStore{client: client}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			path        TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL,
			chunk_count INTEGER NOT NULL DEFAULT 0,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS document_chunks (
			document_id  TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			point_id     TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			PRIMARY KEY (document_id, point_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_document_chunks_doc ON document_chunks (document_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.client.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring registry schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) RegisterDocument(ctx context.Context, ref model.DocumentRef) error {
	_, err := s.client.DB.ExecContext(ctx, `
		INSERT INTO documents (id, name, path, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, path = EXCLUDED.path,
		    status = EXCLUDED.status, updated_at = now()`,
		ref.ID, ref.Name, ref.Path, StatusPending)
	if err != nil {
		return fmt.Errorf("registering document %s: %w", ref.ID, err)
	}
	return nil
}

func (s *PostgresStore) MarkIndexed(ctx context.Context, documentID string, chunkCount int) error {
	return s.setStatus(ctx, documentID, StatusIndexed, chunkCount)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, documentID string) error {
	return s.setStatus(ctx, documentID, StatusFailed, 0)
}

func (s *PostgresStore) setStatus(ctx context.Context, documentID, status string, chunkCount int) error {
	res, err := s.client.DB.ExecContext(ctx, `
		UPDATE documents SET status = $2, chunk_count = $3, updated_at = now()
		WHERE id = $1`,
		documentID, status, chunkCount)
	if err != nil {
		return fmt.Errorf("updating document %s status: %w", documentID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrDocumentNotFound
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var doc Document
	err := s.client.DB.QueryRowContext(ctx, `
		SELECT id, name, path, status, chunk_count, created_at, updated_at
		FROM documents WHERE id = $1`,
		documentID).Scan(&doc.ID, &doc.Name, &doc.Path, &doc.Status, &doc.ChunkCount, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, apperrors.ErrDocumentNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("loading document %s: %w", documentID, err)
	}
	return doc, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.client.DB.QueryContext(ctx, `
		SELECT id, name, path, status, chunk_count, created_at, updated_at
		FROM documents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Name, &doc.Path, &doc.Status, &doc.ChunkCount, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *PostgresStore) ChunkHashes(ctx context.Context, documentID string) (map[string]string, error) {
	rows, err := s.client.DB.QueryContext(ctx, `
		SELECT point_id, content_hash FROM document_chunks WHERE document_id = $1`,
		documentID)
	if err != nil {
		return nil, fmt.Errorf("loading chunk ledger for %s: %w", documentID, err)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var pointID, hash string
		if err := rows.Scan(&pointID, &hash); err != nil {
			return nil, fmt.Errorf("scanning chunk ledger row: %w", err)
		}
		hashes[pointID] = hash
	}
	return hashes, rows.Err()
}

func (s *PostgresStore) ReplaceChunks(ctx context.Context, documentID string, hashes map[string]string) error {
	return s.client.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
			return fmt.Errorf("clearing chunk ledger for %s: %w", documentID, err)
		}
		for pointID, hash := range hashes {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO document_chunks (document_id, point_id, content_hash)
				VALUES ($1, $2, $3)`,
				documentID, pointID, hash); err != nil {
				return fmt.Errorf("writing chunk ledger for %s: %w", documentID, err)
			}
		}
		return nil
	})
}
