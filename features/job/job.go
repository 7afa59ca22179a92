package job

import (
	"encoding/json"
	"time"
)

// Job is a parked resync task. The worker saves one here after its final
// failed attempt; Payload is the original queue message so a retry can
// republish it verbatim.
type Job struct {
	ID        string          `json:"id"`
	SourceID  string          `json:"source_id"`
	Task      string          `json:"task"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
}
