package ingest

import (
	"encoding/json"

	"mimi/features/document"
	"mimi/internal/config"
)

// TaskPublisher is the producer surface of the message bus. *nsq.Producer
// satisfies it.
type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

// BusPublisher mirrors pipeline events and reindex requests onto NSQ topics.
type BusPublisher struct {
	pub TaskPublisher
}

func NewBusPublisher(pub TaskPublisher) *BusPublisher {
	return &BusPublisher{pub: pub}
}

func (b *BusPublisher) PublishEvent(ev document.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.pub.Publish(config.TopicIngestEvents, body)
}

func (b *BusPublisher) PublishReindex(docID string) error {
	body, err := json.Marshal(map[string]string{"doc_id": docID})
	if err != nil {
		return err
	}
	return b.pub.Publish(config.TopicReindex, body)
}
