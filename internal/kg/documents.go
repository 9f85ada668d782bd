package kg

import "time"

// Observation is a short derived fact tied to a source chunk or node.
type Observation struct {
	ID         string         `json:"id"`
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ResourceID string         `json:"resource_id"`
	InsertedAt time.Time      `json:"inserted_at"`
}

// TextChunk is a persisted raw ingestion record, embedded into the "data"
// vector collection.
type TextChunk struct {
	ID           string         `json:"id"`
	Text         string         `json:"text"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	BrainVersion string         `json:"brain_version,omitempty"`
}

// StructuredData is a persisted structured-ingestion record.
type StructuredData struct {
	ID           string         `json:"id"`
	Data         map[string]any `json:"data,omitempty"`
	Types        []string       `json:"types,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	BrainVersion string         `json:"brain_version,omitempty"`
}

// IdentificationParams disambiguates a structured-data element across
// ingestion calls so repeated elements merge instead of duplicating.
type IdentificationParams struct {
	Name string         `json:"name"`
	Keys map[string]any `json:"keys,omitempty"`
}
