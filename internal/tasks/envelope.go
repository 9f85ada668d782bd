// Package tasks implements the durable task runtime: the Kafka-carried
// command envelopes, per-job payload shapes, task-status bookkeeping,
// correlation-id dedupe, and the job handlers that drive ingestion and
// consolidation, grounded on the original source's src/workers/tasks
// (ingestion.py) and the teacher's internal/orchestrator (kafka.go,
// handler.go, dedupe.go).
package tasks

import (
	"encoding/json"

	"github.com/Lumen-Labs/brainapi2/internal/kg"
)

// JobType names one of the four durable job kinds the task runtime carries.
type JobType string

const (
	JobIngestData                    JobType = "ingest_data"
	JobIngestStructuredData          JobType = "ingest_structured_data"
	JobProcessArchitectRelationships JobType = "process_architect_relationships"
	JobConsolidateGraphAsync         JobType = "consolidate_graph_async"
)

// TopicFor returns the Kafka topic a job type is carried on: one topic per
// job type, named after the job type itself.
func TopicFor(jt JobType) string { return string(jt) }

// DLQTopicFor appends the ".dlq" suffix used for dead-lettered envelopes,
// idempotent like the teacher's dlqTopicFor (no "topic.dlq.dlq").
func DLQTopicFor(topic string) string {
	if len(topic) >= 4 && topic[len(topic)-4:] == ".dlq" {
		return topic
	}
	return topic + ".dlq"
}

// CommandEnvelope is the wire shape every job is carried in, grounded on the
// teacher's orchestrator.CommandEnvelope and extended with JobType/BrainID
// per spec §4.6/§6.
type CommandEnvelope struct {
	CorrelationID string          `json:"correlation_id"`
	JobType       JobType         `json:"job_type"`
	BrainID       string          `json:"brain_id"`
	Payload       json.RawMessage `json:"payload"`
	ReplyTopic    string          `json:"reply_topic,omitempty"`
}

// IngestDataPayload is the ingest_data job's wire payload (spec §6).
type IngestDataPayload struct {
	BrainID string `json:"brain_id"`
	Data    struct {
		DataType string `json:"data_type"` // "text" | "json"
		TextData string `json:"text_data,omitempty"`
		JSONData any    `json:"json_data,omitempty"`
	} `json:"data"`
	MetaKeys             map[string]any        `json:"meta_keys,omitempty"`
	IdentificationParams *kg.IdentificationParams `json:"identification_params,omitempty"`
	ObservateFor         []string              `json:"observate_for,omitempty"`
}

// StructuredElement is one element of an ingest_structured_data batch.
type StructuredElement struct {
	JSONData             any                      `json:"json_data"`
	Types                []string                 `json:"types,omitempty"`
	IdentificationParams *kg.IdentificationParams `json:"identification_params,omitempty"`
	TextualData          string                   `json:"textual_data,omitempty"`
	Metadata             map[string]any           `json:"metadata,omitempty"`
}

// IngestStructuredDataPayload is the ingest_structured_data job's wire
// payload (spec §6).
type IngestStructuredDataPayload struct {
	BrainID      string              `json:"brain_id"`
	Data         []StructuredElement `json:"data"`
	ObservateFor []string            `json:"observate_for,omitempty"`
}

// ProcessArchitectRelationshipsPayload is the process_architect_relationships
// job's wire payload: one sub-batch of an ingestion session's relationships,
// grouped by flow_key upstream by the ingest_data handler.
type ProcessArchitectRelationshipsPayload struct {
	BrainID       string                      `json:"brain_id"`
	SessionID     string                      `json:"session_id"`
	Relationships []kg.ArchitectRelationship `json:"relationships"`
}

// ConsolidateGraphAsyncPayload is the consolidate_graph_async job's wire
// payload, enqueued once a session's pending-tasks counter reaches zero.
type ConsolidateGraphAsyncPayload struct {
	BrainID            string `json:"brain_id"`
	SessionID          string `json:"session_id"`
	IngestionSessionID string `json:"ingestion_session_id,omitempty"`
}

// Status is the lifecycle state of a single task, written to the cache under
// task:{task_id} (spec §4.6).
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// TaskStatus is the JSON document written under task:{task_id}.
type TaskStatus struct {
	TaskID string `json:"task_id"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}
