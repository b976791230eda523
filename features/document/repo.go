package document

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a document or chunk does not exist.
var ErrNotFound = errors.New("not found")

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) UpsertDocument(ctx context.Context, doc *Document) error {
	query := `
		INSERT INTO documents (id, source, path, lang, content_hash, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET lang = EXCLUDED.lang,
		    content_hash = EXCLUDED.content_hash,
		    updated_at = EXCLUDED.updated_at`

	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, query,
		doc.ID, doc.Source, doc.Path, doc.Lang, doc.ContentHash, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

func (r *PostgresRepo) GetDocument(ctx context.Context, id string) (*Document, error) {
	query := `
		SELECT id, source, path, lang, content_hash, updated_at
		FROM documents
		WHERE id = $1`

	var doc Document
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID, &doc.Source, &doc.Path, &doc.Lang, &doc.ContentHash, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

func (r *PostgresRepo) ListDocuments(ctx context.Context, source string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, source, path, lang, content_hash, updated_at
		FROM documents
		WHERE ($1 = '' OR source = $1)
		ORDER BY updated_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, source, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Source, &doc.Path, &doc.Lang, &doc.ContentHash, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (r *PostgresRepo) DeleteDocument(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) CountDocuments(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}

// UpsertChunks writes a document's chunk records in a single transaction so a
// partially written chunk set is never observable.
func (r *PostgresRepo) UpsertChunks(ctx context.Context, docID string, chunks []Chunk) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert chunks: begin: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO chunks (id, doc_id, ord, text, preview, char_start, char_end, section, fingerprint, embedding_chunk_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE
		SET text = EXCLUDED.text,
		    preview = EXCLUDED.preview,
		    char_start = EXCLUDED.char_start,
		    char_end = EXCLUDED.char_end,
		    section = EXCLUDED.section,
		    fingerprint = EXCLUDED.fingerprint,
		    embedding_chunk_id = EXCLUDED.embedding_chunk_id`

	for _, c := range chunks {
		_, err := tx.ExecContext(ctx, query,
			c.ID, docID, c.Ordinal, c.Text, c.Preview, c.Start, c.End, c.Section, c.Fingerprint, c.EmbeddingChunkID)
		if err != nil {
			return fmt.Errorf("upsert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

func (r *PostgresRepo) DeleteChunks(ctx context.Context, docID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = $1`, docID)
	if err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

// GetChunk resolves a chunk id coming back from the vector store. The id may
// be a canonical embedding chunk whose own row is gone after its document was
// deleted, so any live row still referencing it also resolves.
func (r *PostgresRepo) GetChunk(ctx context.Context, chunkID string) (*Chunk, error) {
	query := `
		SELECT id, doc_id, ord, text, preview, char_start, char_end, section, fingerprint, embedding_chunk_id
		FROM chunks
		WHERE id = $1 OR embedding_chunk_id = $1
		ORDER BY (id = $1) DESC
		LIMIT 1`

	var c Chunk
	err := r.db.QueryRowContext(ctx, query, chunkID).Scan(
		&c.ID, &c.DocID, &c.Ordinal, &c.Text, &c.Preview, &c.Start, &c.End, &c.Section, &c.Fingerprint, &c.EmbeddingChunkID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk: %w", err)
	}
	return &c, nil
}

func (r *PostgresRepo) ListChunks(ctx context.Context, docID string) ([]Chunk, error) {
	query := `
		SELECT id, doc_id, ord, text, preview, char_start, char_end, section, fingerprint, embedding_chunk_id
		FROM chunks
		WHERE doc_id = $1
		ORDER BY ord ASC`

	rows, err := r.db.QueryContext(ctx, query, docID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocID, &c.Ordinal, &c.Text, &c.Preview, &c.Start, &c.End, &c.Section, &c.Fingerprint, &c.EmbeddingChunkID); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (r *PostgresRepo) CountChunks(ctx context.Context, docID string) (int, error) {
	query := `SELECT COUNT(*) FROM chunks WHERE ($1 = '' OR doc_id = $1)`

	var count int
	if err := r.db.QueryRowContext(ctx, query, docID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

func (r *PostgresRepo) FindCanonicalChunk(ctx context.Context, fingerprint string) (string, bool, error) {
	query := `
		SELECT embedding_chunk_id
		FROM chunks
		WHERE fingerprint = $1
		ORDER BY doc_id, ord
		LIMIT 1`

	var id string
	err := r.db.QueryRowContext(ctx, query, fingerprint).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find canonical chunk: %w", err)
	}
	return id, true, nil
}

func (r *PostgresRepo) CountFingerprintReferrers(ctx context.Context, fingerprint, excludeDocID string) (int, error) {
	query := `SELECT COUNT(*) FROM chunks WHERE fingerprint = $1 AND doc_id <> $2`

	var count int
	if err := r.db.QueryRowContext(ctx, query, fingerprint, excludeDocID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count fingerprint referrers: %w", err)
	}
	return count, nil
}

func (r *PostgresRepo) AppendEvent(ctx context.Context, ev *Event) error {
	query := `
		INSERT INTO events (type, ref, stage, status, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	err := r.db.QueryRowContext(ctx, query,
		ev.Type, ev.Ref, ev.Stage, ev.Status, ev.Detail, ev.CreatedAt).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (r *PostgresRepo) ListEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, type, ref, stage, status, detail, created_at
		FROM events
		ORDER BY id DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.Ref, &ev.Stage, &ev.Status, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (r *PostgresRepo) CountEvents(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}
