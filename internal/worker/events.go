package worker

// ResyncPayload is the message published to the resync topic. Exclusion
// patterns travel with the task so a re-crawl honors the same filters as the
// original ingestion.
type ResyncPayload struct {
	SourceID      string   `json:"source_id"`
	URL           string   `json:"url"`
	MaxPages      int      `json:"max_pages"`
	Exclusions    []string `json:"exclusions,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
}
