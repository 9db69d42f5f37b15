package model

import (
	"encoding/json"
	"time"
)

// Change event types delivered by the realtime multiplexer.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// ChangeEvent is a raw row change received on a realtime channel.
// Record holds the new row exactly as the backend serialized it.
type ChangeEvent struct {
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	Type            string          `json:"type"`
	Record          json.RawMessage `json:"record"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}
