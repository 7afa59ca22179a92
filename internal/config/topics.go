package config

const (
	// TopicResync is the NSQ topic for website re-sync tasks.
	TopicResync = "ingest.resync"

	// ResyncChannel is the consumer channel for re-sync tasks.
	ResyncChannel = "backend"
)
