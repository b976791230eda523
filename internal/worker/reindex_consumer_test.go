package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"

	"mimi/features/document"
	"mimi/features/ingest"
	"mimi/internal/vector"
)

type stubReindexer struct {
	err    error
	docIDs []string
}

func (s *stubReindexer) Reindex(_ context.Context, docID string) (*ingest.Result, error) {
	s.docIDs = append(s.docIDs, docID)
	if s.err != nil {
		return nil, s.err
	}
	return &ingest.Result{DocID: docID, Chunks: 2}, nil
}

func msg(body string) *nsq.Message {
	return nsq.NewMessage(nsq.MessageID{}, []byte(body))
}

func TestHandleMessage_Reindexes(t *testing.T) {
	r := &stubReindexer{}
	c := NewReindexConsumer(r)

	err := c.HandleMessage(msg(`{"doc_id":"docs:a.md"}`))
	assert.NoError(t, err)
	assert.Equal(t, []string{"docs:a.md"}, r.docIDs)
}

func TestHandleMessage_DropsMalformed(t *testing.T) {
	r := &stubReindexer{}
	c := NewReindexConsumer(r)

	assert.NoError(t, c.HandleMessage(msg("")))
	assert.NoError(t, c.HandleMessage(msg("{not json")))
	assert.NoError(t, c.HandleMessage(msg(`{"doc_id":""}`)))
	assert.Empty(t, r.docIDs)
}

func TestHandleMessage_DropsMissingDocument(t *testing.T) {
	r := &stubReindexer{err: document.ErrNotFound}
	c := NewReindexConsumer(r)

	assert.NoError(t, c.HandleMessage(msg(`{"doc_id":"docs:gone.md"}`)))
}

func TestHandleMessage_RequeuesTransientFailures(t *testing.T) {
	for _, transient := range []error{
		fmt.Errorf("wrapped: %w", vector.ErrUnavailable),
	} {
		r := &stubReindexer{err: transient}
		c := NewReindexConsumer(r)

		err := c.HandleMessage(msg(`{"doc_id":"docs:a.md"}`))
		assert.Error(t, err, "transient failure must be requeued")
	}
}

func TestHandleMessage_DropsPermanentFailures(t *testing.T) {
	r := &stubReindexer{err: errors.New("constraint violation")}
	c := NewReindexConsumer(r)

	assert.NoError(t, c.HandleMessage(msg(`{"doc_id":"docs:a.md"}`)))
}
