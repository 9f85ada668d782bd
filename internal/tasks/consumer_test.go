package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	kafka "github.com/segmentio/kafka-go"

	"github.com/Lumen-Labs/brainapi2/internal/store/memory"
)

type recordingDLQ struct {
	mu       sync.Mutex
	messages []kafka.Message
}

func (r *recordingDLQ) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msgs...)
	return nil
}

func (r *recordingDLQ) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func (r *recordingDLQ) last() kafka.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messages[len(r.messages)-1]
}

func newTestDedupe() DedupeStore {
	return &CacheDedupeStore{Cache: memory.NewCache()}
}

func TestHandleOneMessageMalformedEnvelopeGoesStraightToDLQ(t *testing.T) {
	dlq := &recordingDLQ{}
	dedupe := newTestDedupe()
	d, _ := newTestDispatcher()

	msg := kafka.Message{Topic: "ingest_data", Key: []byte("corr-x"), Value: []byte("not json")}
	handleOneMessage(context.Background(), msg, dlq, dedupe, d)

	if dlq.count() != 1 {
		t.Fatalf("expected exactly 1 DLQ publish, got %d", dlq.count())
	}
	if dlq.last().Topic != DLQTopicFor("ingest_data") {
		t.Fatalf("unexpected DLQ topic: %s", dlq.last().Topic)
	}
}

func TestHandleOneMessageMissingJobTypeGoesStraightToDLQ(t *testing.T) {
	dlq := &recordingDLQ{}
	dedupe := newTestDedupe()
	d, _ := newTestDispatcher()

	env := CommandEnvelope{CorrelationID: "corr-y", BrainID: "brain1"}
	raw, _ := json.Marshal(env)
	msg := kafka.Message{Topic: "ingest_data", Key: []byte("corr-y"), Value: raw}
	handleOneMessage(context.Background(), msg, dlq, dedupe, d)

	if dlq.count() != 1 {
		t.Fatalf("expected exactly 1 DLQ publish for a missing job_type, got %d", dlq.count())
	}
}

func TestHandleOneMessageDedupeHitSkipsProcessing(t *testing.T) {
	dlq := &recordingDLQ{}
	dedupe := newTestDedupe()
	d, producer := newTestDispatcher()

	if err := dedupe.Set(context.Background(), "brain1", "corr-z", "done"); err != nil {
		t.Fatalf("seed dedupe: %v", err)
	}

	payload := IngestDataPayload{BrainID: "brain1"}
	payload.Data.DataType = "text"
	payload.Data.TextData = "some text"
	rawPayload, _ := json.Marshal(payload)
	env := CommandEnvelope{CorrelationID: "corr-z", JobType: JobIngestData, BrainID: "brain1", Payload: rawPayload}
	raw, _ := json.Marshal(env)
	msg := kafka.Message{Topic: TopicFor(JobIngestData), Key: []byte("corr-z"), Value: raw}

	handleOneMessage(context.Background(), msg, dlq, dedupe, d)

	if dlq.count() != 0 {
		t.Fatalf("expected no DLQ publish on a dedupe hit, got %d", dlq.count())
	}
	if len(producer.envelopes) != 0 {
		t.Fatalf("expected the job to be skipped entirely on a dedupe hit, got %d enqueued", len(producer.envelopes))
	}
}

func TestHandleOneMessageSuccessMarksDedupeDone(t *testing.T) {
	dlq := &recordingDLQ{}
	dedupe := newTestDedupe()
	d, _ := newTestDispatcher()

	payload := ConsolidateGraphAsyncPayload{BrainID: "brain1", SessionID: "sess1"}
	rawPayload, _ := json.Marshal(payload)
	env := CommandEnvelope{CorrelationID: "corr-ok", JobType: JobConsolidateGraphAsync, BrainID: "brain1", Payload: rawPayload}
	raw, _ := json.Marshal(env)
	msg := kafka.Message{Topic: TopicFor(JobConsolidateGraphAsync), Key: []byte("corr-ok"), Value: raw}

	handleOneMessage(context.Background(), msg, dlq, dedupe, d)

	if dlq.count() != 0 {
		t.Fatalf("expected no DLQ publish on success, got %d", dlq.count())
	}
	done, err := dedupe.Get(context.Background(), "brain1", "corr-ok")
	if err != nil || done == "" {
		t.Fatalf("expected correlation id marked done after success, got %q, err=%v", done, err)
	}
}

func TestHandleOneMessageNonRetryableErrorGoesStraightToDLQ(t *testing.T) {
	dlq := &recordingDLQ{}
	dedupe := newTestDedupe()
	d, _ := newTestDispatcher()
	d.Architect = &stubArchitect{err: errors.New("permanently malformed relationship shape")}

	payload := IngestDataPayload{BrainID: "brain1"}
	payload.Data.DataType = "text"
	payload.Data.TextData = "some text"
	rawPayload, _ := json.Marshal(payload)
	env := CommandEnvelope{CorrelationID: "corr-bad", JobType: JobIngestData, BrainID: "brain1", Payload: rawPayload}
	raw, _ := json.Marshal(env)
	msg := kafka.Message{Topic: TopicFor(JobIngestData), Key: []byte("corr-bad"), Value: raw}

	handleOneMessage(context.Background(), msg, dlq, dedupe, d)

	if dlq.count() != 1 {
		t.Fatalf("expected exactly 1 DLQ publish for a non-retryable dispatch error, got %d", dlq.count())
	}
}

func TestDLQTopicForIsIdempotent(t *testing.T) {
	if got := DLQTopicFor("ingest_data"); got != "ingest_data.dlq" {
		t.Fatalf("unexpected dlq topic: %s", got)
	}
	if got := DLQTopicFor("ingest_data.dlq"); got != "ingest_data.dlq" {
		t.Fatalf("expected idempotent suffixing, got %s", got)
	}
}
