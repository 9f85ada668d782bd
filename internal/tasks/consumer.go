package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/Lumen-Labs/brainapi2/internal/errkind"
	"github.com/Lumen-Labs/brainapi2/internal/observability"
)

// maxRedeliveryAttempts/redeliveryBaseBackoff implement the
// 200ms*2^(attempt-1) backoff-then-DLQ policy (spec §4.6 Transport),
// grounded on the teacher's StartKafkaConsumer.
const (
	maxRedeliveryAttempts = 3
	redeliveryBaseBackoff = 200 * time.Millisecond
)

// KafkaProducer adapts a *kafka.Writer to the tasks.Producer contract.
type KafkaProducer struct {
	Writer *kafka.Writer
}

func (p *KafkaProducer) Enqueue(ctx context.Context, topic, key string, env CommandEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("tasks: marshal envelope for %s: %w", topic, err)
	}
	return p.Writer.WriteMessages(ctx, kafka.Message{Topic: topic, Key: []byte(key), Value: payload})
}

// DLQProducer publishes a dead-lettered envelope; implemented by
// *kafka.Writer via KafkaProducer's Writer field directly in StartConsumer,
// kept as its own narrow interface so tests can substitute a recorder.
type DLQProducer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// StartConsumer runs a fixed-size worker-goroutine pool over a single
// topic's messages, fed by one kafka.Reader.FetchMessage loop, grounded on
// the teacher's StartKafkaConsumer: malformed envelopes and missing-job-type
// messages go straight to the DLQ without retry (handler.go's
// HandleCommandMessage), transient errors (per errkind.Classify) bubble for
// up to maxRedeliveryAttempts before DLQ.
func StartConsumer(ctx context.Context, reader *kafka.Reader, dlq DLQProducer, dedupe DedupeStore, dispatcher *Dispatcher, workerCount int) error {
	jobs := make(chan kafka.Message, max(64, workerCount*4))

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			defer wg.Done()
			for msg := range jobs {
				handleOneMessage(ctx, msg, dlq, dedupe, dispatcher)
				if err := reader.CommitMessages(ctx, msg); err != nil {
					observability.LoggerWithTrace(ctx).Warn().Err(err).
						Str("topic", msg.Topic).Int64("offset", msg.Offset).Msg("task_consumer_commit_failed")
				}
			}
		}(i)
	}

	go func() {
		defer close(jobs)
		for {
			if ctx.Err() != nil {
				return
			}
			m, err := reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("task_consumer_fetch_failed")
				t := time.NewTimer(500 * time.Millisecond)
				select {
				case <-t.C:
				case <-ctx.Done():
					t.Stop()
					return
				}
				continue
			}
			select {
			case jobs <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	return ctx.Err()
}

func handleOneMessage(ctx context.Context, msg kafka.Message, dlq DLQProducer, dedupe DedupeStore, dispatcher *Dispatcher) {
	log := observability.LoggerWithTrace(ctx)

	var env CommandEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		publishDLQ(ctx, dlq, msg.Topic, string(msg.Key), fmt.Sprintf("malformed envelope: %v", err))
		return
	}
	if env.JobType == "" {
		publishDLQ(ctx, dlq, msg.Topic, env.CorrelationID, "missing job_type")
		return
	}

	if prev, err := dedupe.Get(ctx, env.BrainID, env.CorrelationID); err == nil && prev != "" {
		log.Info().Str("correlation_id", env.CorrelationID).Msg("task_dedupe_hit")
		return
	}

	var lastErr error
	for attempt := 1; attempt <= maxRedeliveryAttempts; attempt++ {
		lastErr = dispatcher.Dispatch(ctx, env)
		if lastErr == nil {
			_ = dedupe.Set(ctx, env.BrainID, env.CorrelationID, "done")
			return
		}
		if !errkind.Classify(lastErr).Retryable() {
			break
		}
		if attempt == maxRedeliveryAttempts || ctx.Err() != nil {
			break
		}
		backoff := redeliveryBaseBackoff * time.Duration(1<<uint(attempt-1))
		log.Warn().Err(lastErr).Str("correlation_id", env.CorrelationID).Int("attempt", attempt).Dur("backoff", backoff).Msg("task_dispatch_retry")
		sleepCtx, cancel := context.WithTimeout(ctx, backoff)
		<-sleepCtx.Done()
		cancel()
	}

	publishDLQ(ctx, dlq, dlqSourceTopic(env), env.CorrelationID, lastErr.Error())
}

func dlqSourceTopic(env CommandEnvelope) string { return TopicFor(env.JobType) }

func publishDLQ(ctx context.Context, dlq DLQProducer, sourceTopic, correlationID, reason string) {
	log := observability.LoggerWithTrace(ctx)
	status := TaskStatus{TaskID: correlationID, Status: StatusFailed, Error: reason}
	payload, _ := json.Marshal(status)
	dlqTopic := DLQTopicFor(sourceTopic)
	if err := dlq.WriteMessages(ctx, kafka.Message{Topic: dlqTopic, Key: []byte(correlationID), Value: payload}); err != nil {
		log.Error().Err(err).Str("dlq_topic", dlqTopic).Str("correlation_id", correlationID).Msg("task_dlq_publish_failed")
		return
	}
	log.Warn().Str("dlq_topic", dlqTopic).Str("correlation_id", correlationID).Str("reason", reason).Msg("task_dlq_published")
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
