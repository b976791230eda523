package config

// NSQ topics used by the ingestion pipeline.
const (
	// TopicIngestEvents mirrors ingestion audit events for external consumers.
	TopicIngestEvents = "ingest.events"
	// TopicReindex carries re-ingestion requests for already-registered documents.
	TopicReindex = "ingest.reindex"
)
