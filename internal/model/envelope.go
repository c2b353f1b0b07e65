package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const EnvelopeVersion = 1

// Metadata travels with every envelope for tracing across services.
type Metadata struct {
	Source        string `json:"source"`
	CorrelationID string `json:"correlationId,omitempty"`
	CausationID   string `json:"causationId,omitempty"`
}

// Envelope is the wire format published to the broker. Data is the
// event-type-specific body, kept opaque here.
type Envelope struct {
	EventID       string          `json:"eventId"`
	EventType     string          `json:"eventType"`
	AggregateType string          `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	Data          json.RawMessage `json:"data"`
	Metadata      Metadata        `json:"metadata"`
}

// NewEnvelope wraps a marshaled payload and returns the envelope plus
// the generated event ID.
func NewEnvelope(eventType, aggregateType, aggregateID string, data any, meta Metadata) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Timestamp:     time.Now().UTC(),
		Version:       EnvelopeVersion,
		Data:          raw,
		Metadata:      meta,
	}, nil
}
