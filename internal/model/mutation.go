package model

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// QueuedMutation is one durably persisted failed write, replayable later.
type QueuedMutation struct {
	ID         string          `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	Operation  string          `json:"operation"`
	Endpoint   string          `json:"endpoint"`
	Method     string          `json:"method"`
	Body       json.RawMessage `json:"body,omitempty"`
	RetryCount int             `json:"retryCount"`
	LastError  *string         `json:"lastError"`
}

// NewMutationID returns a time+random composite id. The millisecond prefix
// keeps ids roughly sortable by creation time; the random suffix breaks ties.
func NewMutationID(now time.Time) string {
	var b [4]byte
	rand.Read(b[:])
	return fmt.Sprintf("%d-%s", now.UnixMilli(), hex.EncodeToString(b[:]))
}
