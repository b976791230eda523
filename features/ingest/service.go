// Package ingest runs the document pipeline: normalize, chunk, deduplicate,
// embed, index, record. Each stage transition is written to the append-only
// event log before the next stage runs.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"mimi/features/document"
	"mimi/internal/text"
	"mimi/internal/vector"
)

// ErrValidation rejects a request before any pipeline I/O happens.
var ErrValidation = errors.New("validation failed")

// Pipeline stages, in order.
const (
	StageReceived     = "received"
	StageNormalized   = "normalized"
	StageChunked      = "chunked"
	StageDeduplicated = "deduplicated"
	StageEmbedded     = "embedded"
	StageIndexed      = "indexed"
	StageRecorded     = "recorded"
)

const previewLen = 200

// Embedder produces one vector per input text, in input order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// EventPublisher mirrors recorded events onto the message bus. Publishing is
// best effort; the database row is the source of truth.
type EventPublisher interface {
	PublishEvent(ev document.Event) error
}

type Request struct {
	Source  string
	Path    string
	Lang    string
	Content []byte
}

type Result struct {
	DocID     string `json:"doc_id"`
	Chunks    int    `json:"chunks"`
	Reused    int    `json:"reused"`
	Duplicate bool   `json:"duplicate"`
}

type Service struct {
	repo     document.Repository
	store    vector.Store
	embedder Embedder
	chunker  *text.Chunker
	events   EventPublisher
	locks    *keyedLocks
}

func NewService(repo document.Repository, store vector.Store, embedder Embedder, chunker *text.Chunker, events EventPublisher) *Service {
	return &Service{
		repo:     repo,
		store:    store,
		embedder: embedder,
		chunker:  chunker,
		events:   events,
		locks:    newKeyedLocks(),
	}
}

// Ingest runs the full pipeline for an uploaded document. Re-ingesting
// unchanged content short-circuits after normalization and reports the stored
// chunk count.
func (s *Service) Ingest(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	docID := document.NewID(req.Source, req.Path)
	unlock := s.locks.Lock(docID)
	defer unlock()

	return s.run(ctx, docID, req, document.EventUpload, false)
}

// Reindex re-runs the pipeline from the stored chunk text, re-embedding even
// when the content hash is unchanged. Used after embedding model changes.
func (s *Service) Reindex(ctx context.Context, docID string) (*Result, error) {
	unlock := s.locks.Lock(docID)
	defer unlock()

	doc, err := s.repo.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	chunks, err := s.repo.ListChunks(ctx, docID)
	if err != nil {
		return nil, err
	}

	req := Request{
		Source:  doc.Source,
		Path:    doc.Path,
		Lang:    doc.Lang,
		Content: []byte(reconstruct(chunks)),
	}
	return s.run(ctx, docID, req, document.EventReindex, true)
}

// Delete removes a document from both stores. Vectors shared with chunks of
// other documents survive; only vectors whose last referrer was this document
// are dropped.
func (s *Service) Delete(ctx context.Context, docID string) error {
	unlock := s.locks.Lock(docID)
	defer unlock()

	if _, err := s.repo.GetDocument(ctx, docID); err != nil {
		return err
	}
	chunks, err := s.repo.ListChunks(ctx, docID)
	if err != nil {
		return err
	}

	deletable, err := s.unreferencedVectors(ctx, docID, chunks, nil)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteChunks(ctx, docID); err != nil {
		return err
	}
	if err := s.repo.DeleteDocument(ctx, docID); err != nil {
		return err
	}
	if len(deletable) > 0 {
		if err := s.store.DeleteChunks(ctx, deletable); err != nil {
			// Metadata is already gone; the orphaned vectors cannot resolve
			// and get filtered out at query time.
			slog.WarnContext(ctx, "vector cleanup failed after delete", "doc_id", docID, "error", err)
		}
	}

	s.emit(ctx, docID, document.EventDelete, "deleted", document.StatusSuccess,
		fmt.Sprintf("chunks=%d vectors_removed=%d", len(chunks), len(deletable)))
	return nil
}

func (s *Service) run(ctx context.Context, docID string, req Request, evType string, force bool) (*Result, error) {
	// A caller disconnect must not abort the replace mid-write; once the
	// pipeline starts it runs to a terminal event.
	ctx = context.WithoutCancel(ctx)

	s.emit(ctx, docID, evType, StageReceived, document.StatusPending, "")

	normalized, err := text.Normalize(req.Content, req.Lang)
	if err != nil {
		s.fail(ctx, docID, evType, StageNormalized, err)
		return nil, err
	}
	if strings.TrimSpace(normalized) == "" {
		err := fmt.Errorf("%w: document is empty after normalization", ErrValidation)
		s.fail(ctx, docID, evType, StageNormalized, err)
		return nil, err
	}
	s.emit(ctx, docID, evType, StageNormalized, document.StatusPending, fmt.Sprintf("chars=%d", len(normalized)))

	docHash := text.DocumentHash(normalized)
	if !force {
		existing, err := s.repo.GetDocument(ctx, docID)
		if err != nil && !errors.Is(err, document.ErrNotFound) {
			s.fail(ctx, docID, evType, StageNormalized, err)
			return nil, err
		}
		if existing != nil && existing.ContentHash == docHash {
			count, err := s.repo.CountChunks(ctx, docID)
			if err != nil {
				s.fail(ctx, docID, evType, StageNormalized, err)
				return nil, err
			}
			s.emit(ctx, docID, evType, StageRecorded, document.StatusDuplicate, "content unchanged")
			return &Result{DocID: docID, Chunks: count, Duplicate: true}, nil
		}
	}

	drafts := s.chunker.Chunk(normalized)
	s.emit(ctx, docID, evType, StageChunked, document.StatusPending, fmt.Sprintf("chunks=%d", len(drafts)))

	chunks, toEmbed, err := s.deduplicate(ctx, docID, drafts, force)
	if err != nil {
		s.fail(ctx, docID, evType, StageDeduplicated, err)
		return nil, err
	}
	reused := len(chunks) - len(toEmbed)
	s.emit(ctx, docID, evType, StageDeduplicated, document.StatusPending, fmt.Sprintf("reused=%d", reused))

	points, err := s.embed(ctx, chunks, toEmbed, req)
	if err != nil {
		s.fail(ctx, docID, evType, StageEmbedded, err)
		return nil, err
	}
	s.emit(ctx, docID, evType, StageEmbedded, document.StatusPending, fmt.Sprintf("embedded=%d", len(points)))

	// Replace. The pending event above marks the mutation window: a crash
	// between the deletes and the writes leaves the last event non-terminal.
	oldChunks, err := s.repo.ListChunks(ctx, docID)
	if err != nil {
		s.fail(ctx, docID, evType, StageIndexed, err)
		return nil, err
	}
	deletable, err := s.unreferencedVectors(ctx, docID, oldChunks, chunks)
	if err != nil {
		s.fail(ctx, docID, evType, StageIndexed, err)
		return nil, err
	}

	if len(points) > 0 {
		if err := s.store.Upsert(ctx, points); err != nil {
			s.fail(ctx, docID, evType, StageIndexed, err)
			return nil, err
		}
	}
	if len(deletable) > 0 {
		if err := s.store.DeleteChunks(ctx, deletable); err != nil {
			s.fail(ctx, docID, evType, StageIndexed, err)
			return nil, err
		}
	}
	s.emit(ctx, docID, evType, StageIndexed, document.StatusPending, fmt.Sprintf("points=%d removed=%d", len(points), len(deletable)))

	// The document row must exist before its chunks reference it.
	if err := s.repo.UpsertDocument(ctx, &document.Document{
		ID:          docID,
		Source:      req.Source,
		Path:        req.Path,
		Lang:        req.Lang,
		ContentHash: docHash,
	}); err != nil {
		s.fail(ctx, docID, evType, StageRecorded, err)
		return nil, err
	}
	if err := s.repo.DeleteChunks(ctx, docID); err != nil {
		s.fail(ctx, docID, evType, StageRecorded, err)
		return nil, err
	}
	if err := s.repo.UpsertChunks(ctx, docID, chunks); err != nil {
		s.fail(ctx, docID, evType, StageRecorded, err)
		return nil, err
	}

	s.emit(ctx, docID, evType, StageRecorded, document.StatusSuccess,
		fmt.Sprintf("chunks=%d reused=%d", len(chunks), reused))

	return &Result{DocID: docID, Chunks: len(chunks), Reused: reused}, nil
}

// deduplicate turns chunk drafts into metadata records and decides which
// ordinals still need an embedding. A chunk whose fingerprint already has a
// live vector, in this corpus or earlier in this batch, points at that
// canonical chunk instead of getting its own. With force set, the document's
// own previous vectors do not count as reusable so a reindex refreshes them.
func (s *Service) deduplicate(ctx context.Context, docID string, drafts []text.Draft, force bool) ([]document.Chunk, []int, error) {
	chunks := make([]document.Chunk, len(drafts))
	var toEmbed []int
	batchSeen := make(map[string]string)

	for i, d := range drafts {
		fp := text.Fingerprint(d.Text)
		id := document.NewChunkID(docID, d.Ordinal, fp)

		chunks[i] = document.Chunk{
			ID:          id,
			DocID:       docID,
			Ordinal:     d.Ordinal,
			Text:        d.Text,
			Preview:     preview(d.Text),
			Start:       d.Start,
			End:         d.End,
			Section:     d.Section,
			Fingerprint: fp,
		}

		if canonical, ok := batchSeen[fp]; ok {
			chunks[i].EmbeddingChunkID = canonical
			continue
		}
		canonical, found, err := s.repo.FindCanonicalChunk(ctx, fp)
		if err != nil {
			return nil, nil, err
		}
		if found && force && canonical == id {
			found = false
		}
		if found {
			chunks[i].EmbeddingChunkID = canonical
			batchSeen[fp] = canonical
			continue
		}

		chunks[i].EmbeddingChunkID = id
		batchSeen[fp] = id
		toEmbed = append(toEmbed, i)
	}
	return chunks, toEmbed, nil
}

func (s *Service) embed(ctx context.Context, chunks []document.Chunk, toEmbed []int, req Request) ([]vector.Point, error) {
	if len(toEmbed) == 0 {
		return nil, nil
	}

	texts := make([]string, len(toEmbed))
	for i, idx := range toEmbed {
		texts[i] = chunks[idx].Text
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	points := make([]vector.Point, len(toEmbed))
	for i, idx := range toEmbed {
		c := chunks[idx]
		points[i] = vector.Point{
			ChunkID: c.ID,
			Vector:  vecs[i],
			Payload: vector.Payload{
				DocID:   c.DocID,
				Source:  req.Source,
				Path:    req.Path,
				Lang:    req.Lang,
				Ordinal: c.Ordinal,
				Section: c.Section,
			},
		}
	}
	return points, nil
}

// unreferencedVectors returns the vector ids among oldChunks' canonical
// vectors that neither the new chunk set nor any other document still uses.
func (s *Service) unreferencedVectors(ctx context.Context, docID string, oldChunks, newChunks []document.Chunk) ([]string, error) {
	if len(oldChunks) == 0 {
		return nil, nil
	}

	keep := make(map[string]bool, len(newChunks))
	for _, c := range newChunks {
		keep[c.EmbeddingChunkID] = true
	}

	// Referrer chunks count too: when the owning document was deleted first,
	// the canonical vector survives only through its referrers, and the last
	// referrer leaving must take the vector with it.
	var deletable []string
	checked := make(map[string]bool, len(oldChunks))
	for _, c := range oldChunks {
		vecID := c.EmbeddingChunkID
		if keep[vecID] || checked[vecID] {
			continue
		}
		checked[vecID] = true
		n, err := s.repo.CountFingerprintReferrers(ctx, c.Fingerprint, docID)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			deletable = append(deletable, vecID)
		}
	}
	return deletable, nil
}

// emit appends an event row and mirrors it to the bus. The context is
// detached so a canceled request still gets its terminal event recorded.
func (s *Service) emit(ctx context.Context, ref, evType, stage, status, detail string) {
	ev := &document.Event{Type: evType, Ref: ref, Stage: stage, Status: status, Detail: detail}

	if err := s.repo.AppendEvent(context.WithoutCancel(ctx), ev); err != nil {
		slog.ErrorContext(ctx, "failed to append event", "error", err, "ref", ref, "stage", stage)
		return
	}
	if s.events != nil {
		if err := s.events.PublishEvent(*ev); err != nil {
			slog.WarnContext(ctx, "failed to mirror event", "error", err, "ref", ref)
		}
	}
}

func (s *Service) fail(ctx context.Context, ref, evType, stage string, err error) {
	s.emit(ctx, ref, evType, stage, document.StatusError, err.Error())
}

func validate(req Request) error {
	if strings.TrimSpace(req.Source) == "" {
		return fmt.Errorf("%w: source is required", ErrValidation)
	}
	if strings.TrimSpace(req.Path) == "" {
		return fmt.Errorf("%w: path is required", ErrValidation)
	}
	if len(req.Content) == 0 {
		return fmt.Errorf("%w: content is empty", ErrValidation)
	}
	return nil
}

func preview(t string) string {
	if len(t) <= previewLen {
		return t
	}
	cut := t[:previewLen]
	// Do not cut a UTF-8 sequence in half.
	for len(cut) > 0 && cut[len(cut)-1]&0xC0 == 0x80 {
		cut = cut[:len(cut)-1]
	}
	return cut
}

// reconstruct rebuilds the normalized document text from its stored chunks.
// Chunks tile the text with a fixed overlap, so appending each chunk's unseen
// suffix reproduces the original.
func reconstruct(chunks []document.Chunk) string {
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Ordinal < chunks[j].Ordinal })

	var b strings.Builder
	end := 0
	for _, c := range chunks {
		if c.End <= end {
			continue
		}
		skip := end - c.Start
		if skip < 0 {
			skip = 0
		}
		b.WriteString(c.Text[skip:])
		end = c.End
	}
	return b.String()
}
