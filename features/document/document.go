package document

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Document is one ingested source file. Its id is derived from (source, path)
// so re-uploads of the same path update the record instead of duplicating it.
type Document struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Path        string    `json:"path"`
	Lang        string    `json:"lang,omitempty"`
	ContentHash string    `json:"-"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Chunk is the metadata record for one retrievable unit. EmbeddingChunkID
// points at the chunk that carries the vector in the vector store: itself for
// unique content, the canonical chunk for corpus-wide duplicates.
type Chunk struct {
	ID               string `json:"id"`
	DocID            string `json:"doc_id"`
	Ordinal          int    `json:"ord"`
	Text             string `json:"text,omitempty"`
	Preview          string `json:"preview"`
	Start            int    `json:"char_start"`
	End              int    `json:"char_end"`
	Section          string `json:"section,omitempty"`
	Fingerprint      string `json:"-"`
	EmbeddingChunkID string `json:"-"`
}

// Event is one append-only audit record of a pipeline stage transition.
type Event struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Ref       string    `json:"ref"`
	Stage     string    `json:"stage"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Event statuses.
const (
	StatusPending   = "pending"
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusDuplicate = "duplicate"
)

// Event types.
const (
	EventUpload  = "upload"
	EventReindex = "reindex"
	EventDelete  = "delete"
)

// NewID derives the stable document identifier from source and path.
func NewID(source, path string) string {
	return source + ":" + path
}

var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("mimi.chunk"))

// NewChunkID derives a deterministic, vector-store-compatible UUID from the
// owning document, the chunk ordinal and the content fingerprint. Identical
// content at the same position always yields the same id.
func NewChunkID(docID string, ordinal int, fingerprint string) string {
	key := fmt.Sprintf("%s::c%d:%s", docID, ordinal, fingerprint)
	return uuid.NewSHA1(chunkNamespace, []byte(key)).String()
}

// Repository is the logical contract of the metadata store.
type Repository interface {
	UpsertDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context, source string, limit int) ([]Document, error)
	DeleteDocument(ctx context.Context, id string) error
	CountDocuments(ctx context.Context) (int, error)

	UpsertChunks(ctx context.Context, docID string, chunks []Chunk) error
	DeleteChunks(ctx context.Context, docID string) error
	GetChunk(ctx context.Context, chunkID string) (*Chunk, error)
	ListChunks(ctx context.Context, docID string) ([]Chunk, error)
	CountChunks(ctx context.Context, docID string) (int, error)

	// FindCanonicalChunk returns the embedding chunk id already indexed for a
	// fingerprint, if any live chunk carries it.
	FindCanonicalChunk(ctx context.Context, fingerprint string) (string, bool, error)
	// CountFingerprintReferrers counts live chunks with the fingerprint
	// outside the given document.
	CountFingerprintReferrers(ctx context.Context, fingerprint, excludeDocID string) (int, error)

	AppendEvent(ctx context.Context, ev *Event) error
	ListEvents(ctx context.Context, limit int) ([]Event, error)
	CountEvents(ctx context.Context) (int, error)
}
