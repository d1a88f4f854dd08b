package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Header names
const (
	HeaderEventType      = "event_type"
	HeaderSchemaVersion  = "schema_version"
	HeaderTraceParent    = "traceparent"
	HeaderTraceState     = "tracestate"
	HeaderOriginalTopic  = "original_topic"
	HeaderKind           = "kind"
	HeaderSourceSystem   = "source_system"
	HeaderSourceRecordID = "source_record_id"
)

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	// Trace context (extracted from Kafka headers)
	TraceParent string
	TraceState  string
}

// RecordEnvelope is the inbound record format. Payload is the source row as the source
// system produced it; a source strategy maps it onto canonical fields.
type RecordEnvelope struct {
	Kind           models.EntityKind `json:"kind"`
	SourceSystem   string            `json:"source_system"`
	SourceRecordID string            `json:"source_record_id,omitempty"`
	Payload        json.RawMessage   `json:"payload"`
}

// ParseEnvelope decodes the message value. Headers fill in fields the body leaves empty,
// and the message key stands in for a missing record id.
func (m *IncomingMessage) ParseEnvelope() (*RecordEnvelope, error) {
	var env RecordEnvelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return nil, fmt.Errorf("decode record envelope: %w", err)
	}
	if env.Kind == "" {
		env.Kind = models.EntityKind(m.Headers[HeaderKind])
	}
	if env.SourceSystem == "" {
		env.SourceSystem = m.Headers[HeaderSourceSystem]
	}
	if env.SourceRecordID == "" {
		env.SourceRecordID = m.Headers[HeaderSourceRecordID]
	}
	if env.SourceRecordID == "" {
		env.SourceRecordID = m.Key
	}
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("record envelope has no payload")
	}
	return &env, nil
}

// GetHeader returns a header value
func (m *IncomingMessage) GetHeader(key string) string {
	return m.Headers[key]
}
