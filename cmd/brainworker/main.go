// Command brainworker is the ingestion engine's process entrypoint: it loads
// a local .env (best effort), loads config, builds the wired Environment,
// ensures the durable job topics exist, opens one Kafka consumer per job
// topic, and runs them under a signal-aware shutdown context, grounded on
// the teacher's cmd/orchestrator/main.go run() sequence (load config ->
// init logger -> parse brokers -> init dedupe/producer -> verify brokers ->
// ensure topics -> start consumer), adapted from the teacher's single
// commands-topic consumer onto this module's four job topics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	kafka "github.com/segmentio/kafka-go"

	"github.com/Lumen-Labs/brainapi2/internal/config"
	"github.com/Lumen-Labs/brainapi2/internal/env"
	"github.com/Lumen-Labs/brainapi2/internal/observability"
	"github.com/Lumen-Labs/brainapi2/internal/tasks"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("brainworker")
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	logLevel := flag.String("log-level", "info", "zerolog level (debug, info, warn, error)")
	flag.Parse()

	// Best-effort local-dev .env load, same as the teacher's root main.go:
	// secrets/connection strings in config.yaml can reference env vars that
	// only exist in a developer's .env, never in deployed environments.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger("", *logLevel)

	baseCtx := context.Background()
	shutdown, err := observability.InitOTel(baseCtx, cfg.OTel)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdown = nil
	}
	if shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	e, err := env.Build(baseCtx, cfg)
	if err != nil {
		return fmt.Errorf("build environment: %w", err)
	}
	defer e.Close()

	ctx, cancel := signal.NotifyContext(baseCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ctxAdmin, cancelAdmin := context.WithTimeout(ctx, 10*time.Second)
	err = e.EnsureTopics(ctxAdmin)
	cancelAdmin()
	if err != nil {
		return fmt.Errorf("ensure kafka topics: %w", err)
	}

	dedupe := &tasks.CacheDedupeStore{Cache: e.Cache}
	jobTypes := []tasks.JobType{
		tasks.JobIngestData,
		tasks.JobIngestStructuredData,
		tasks.JobProcessArchitectRelationships,
		tasks.JobConsolidateGraphAsync,
	}

	log.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Str("group_id", cfg.Kafka.GroupID).
		Int("workers_per_topic", cfg.Kafka.WorkerCount).
		Msg("starting brainworker consumers")

	var wg sync.WaitGroup
	errs := make(chan error, len(jobTypes))
	var readers []*kafka.Reader
	for _, jt := range jobTypes {
		topic := tasks.TopicFor(jt)
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Kafka.Brokers,
			GroupID:  cfg.Kafka.GroupID,
			Topic:    topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
		readers = append(readers, reader)

		wg.Add(1)
		go func(topic string, reader *kafka.Reader) {
			defer wg.Done()
			if err := tasks.StartConsumer(ctx, reader, e.KafkaWriter, dedupe, e.Dispatcher, cfg.Kafka.WorkerCount); err != nil {
				errs <- fmt.Errorf("consumer for %s: %w", topic, err)
			}
		}(topic, reader)
	}

	wg.Wait()
	close(errs)
	for _, r := range readers {
		_ = r.Close()
	}

	var all error
	for err := range errs {
		all = errors.Join(all, err)
	}
	if all != nil {
		return all
	}

	log.Info().Msg("brainworker stopped")
	return nil
}
