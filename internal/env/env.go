// Package env wires together every concrete backend this module depends on
// - LLM provider, embedder, the four agents, the three stores plus Redis
// cache, the Consolidation Orchestrator, and the task runtime's Dispatcher
// and shared Kafka writer - into one Environment, grounded on the teacher's
// cmd/orchestrator/main.go wiring sequence (config.Load -> stores/producer
// construction -> registry/runner assembly -> StartKafkaConsumer), adapted
// from that command-handler orchestrator onto this module's agent pipeline
// and task runtime.
package env

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	kafka "github.com/segmentio/kafka-go"

	"github.com/Lumen-Labs/brainapi2/internal/agent/architect"
	"github.com/Lumen-Labs/brainapi2/internal/agent/janitor"
	"github.com/Lumen-Labs/brainapi2/internal/agent/observer"
	"github.com/Lumen-Labs/brainapi2/internal/agent/scout"
	"github.com/Lumen-Labs/brainapi2/internal/config"
	"github.com/Lumen-Labs/brainapi2/internal/consolidation"
	"github.com/Lumen-Labs/brainapi2/internal/embedding"
	"github.com/Lumen-Labs/brainapi2/internal/ingest"
	"github.com/Lumen-Labs/brainapi2/internal/llm"
	"github.com/Lumen-Labs/brainapi2/internal/llm/providers"
	"github.com/Lumen-Labs/brainapi2/internal/observability"
	"github.com/Lumen-Labs/brainapi2/internal/store"
	"github.com/Lumen-Labs/brainapi2/internal/store/auditlog"
	"github.com/Lumen-Labs/brainapi2/internal/store/postgres"
	"github.com/Lumen-Labs/brainapi2/internal/store/qdrant"
	"github.com/Lumen-Labs/brainapi2/internal/store/rediscache"
	"github.com/Lumen-Labs/brainapi2/internal/tasks"
)

// Environment holds every long-lived dependency brainworker needs, built
// once at startup and torn down via Close on shutdown.
type Environment struct {
	Config *config.Config

	DBPool  *pgxpool.Pool
	Graph   store.GraphStore
	Docs    store.DocStore
	Cache   store.Cache
	Vectors store.VectorStore
	Audit   *auditlog.Sink // nil when Config.ClickHouse.Addr is unset

	Provider llm.Provider
	Embedder *embedding.Client

	Scout        *scout.Agent
	Architect    *architect.Agent
	Janitor      *janitor.Agent
	Observer     *observer.Agent
	Consolidator *consolidation.Orchestrator

	Dispatcher *tasks.Dispatcher

	// KafkaWriter is shared by the Dispatcher's Producer and by
	// cmd/brainworker for DLQ publishing. Per-topic kafka.Reader instances
	// are owned by cmd/brainworker, not Environment, since brainworker runs
	// one reader per job topic concurrently while Environment holds exactly
	// one of everything else.
	KafkaWriter *kafka.Writer
}

// Build constructs an Environment from cfg, opening every backend
// connection (Postgres pool, Qdrant, Redis, optionally ClickHouse) and
// wiring the agent pipeline and task Dispatcher on top of them.
func Build(ctx context.Context, cfg *config.Config) (*Environment, error) {
	env := &Environment{Config: cfg}

	pool, err := pgxpool.New(ctx, cfg.Database.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("env: connect postgres: %w", err)
	}
	env.DBPool = pool

	graph, err := postgres.NewGraph(ctx, pool)
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("env: init graph store: %w", err)
	}
	env.Graph = graph

	docs, err := postgres.NewDoc(ctx, pool)
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("env: init doc store: %w", err)
	}
	env.Docs = docs

	vectors, err := qdrant.NewVector(cfg.Qdrant.DSN, cfg.Qdrant.Dimension, cfg.Qdrant.Metric)
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("env: init vector store: %w", err)
	}
	env.Vectors = vectors

	cache, err := rediscache.New(cfg.Redis.Addr)
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("env: init cache: %w", err)
	}
	env.Cache = cache

	if cfg.ClickHouse.Addr != "" {
		sink, err := auditlog.New(ctx, cfg.ClickHouse.Addr, cfg.ClickHouse.Database, cfg.ClickHouse.Username, cfg.ClickHouse.Password)
		if err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("env_auditlog_init_failed")
		} else {
			env.Audit = sink
		}
	}

	httpClient := observability.NewHTTPClient(&http.Client{Timeout: 60 * time.Second})
	provider, err := providers.Build(cfg.Completions, httpClient)
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("env: build llm provider: %w", err)
	}
	env.Provider = provider
	env.Embedder = embedding.New(embedding.Config{
		BaseURL: cfg.Embeddings.Host,
		Model:   cfg.Embeddings.Model,
		APIKey:  cfg.Embeddings.APIKey,
	})

	model := cfg.Completions.CompletionsModel
	env.Janitor = &janitor.Agent{Provider: provider, Model: model}
	env.Scout = &scout.Agent{Provider: provider, Model: model}
	env.Architect = &architect.Agent{Provider: provider, Model: model, Janitor: env.Janitor}
	env.Observer = &observer.Agent{Provider: provider, Model: model}

	env.Consolidator = &consolidation.Orchestrator{
		Janitor:              env.Janitor,
		Graph:                env.Graph,
		Docs:                 env.Docs,
		Cache:                env.Cache,
		Audit:                auditSinkOrNil(env.Audit),
		BatchSize:            cfg.Ingestion.RelationshipBatchSize,
		Similarity:           cfg.Ingestion.ConsolidationSimilarity,
		RunGraphConsolidator: cfg.Ingestion.RunGraphConsolidator,
	}

	env.KafkaWriter = kafka.NewWriter(kafka.WriterConfig{
		Brokers:  cfg.Kafka.Brokers,
		Balancer: &kafka.LeastBytes{},
	})

	env.Dispatcher = &tasks.Dispatcher{
		Scout:     env.Scout,
		Architect: env.Architect,
		Observer:  env.Observer,
		NewIngestionManager: func() tasks.IngestionManager {
			return ingest.New(env.Embedder, env.Vectors)
		},
		Consolidator: env.Consolidator,
		Embedder:     env.Embedder,
		Graph:        env.Graph,
		Docs:         env.Docs,
		Cache:        env.Cache,
		Vectors:      env.Vectors,
		Producer:     &tasks.KafkaProducer{Writer: env.KafkaWriter},
		Status:       &tasks.StatusStore{Cache: env.Cache},
	}

	return env, nil
}

// auditSinkOrNil adapts a possibly-nil *auditlog.Sink to a possibly-nil
// consolidation.AuditSink without the interface itself ever holding a
// non-nil interface value wrapping a nil pointer.
func auditSinkOrNil(s *auditlog.Sink) consolidation.AuditSink {
	if s == nil {
		return nil
	}
	return s
}

// Close releases every backend connection this Environment opened. Safe to
// call on a partially-built Environment (e.g. after Build fails partway
// through) since every field is nil-checked.
func (e *Environment) Close() {
	if e.KafkaWriter != nil {
		_ = e.KafkaWriter.Close()
	}
	if e.Cache != nil {
		_ = e.Cache.Close()
	}
	if e.Vectors != nil {
		_ = e.Vectors.Close()
	}
	if e.Audit != nil {
		_ = e.Audit.Close()
	}
	if e.DBPool != nil {
		e.DBPool.Close()
	}
}

// ensureTopics creates every durable job topic and its DLQ counterpart if
// missing, grounded on the teacher's orchestrator.EnsureTopics call in
// cmd/orchestrator/main.go.
func ensureTopics(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return fmt.Errorf("env: no kafka brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("env: dial kafka: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("env: find kafka controller: %w", err)
	}
	controllerConn, err := kafka.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		return fmt.Errorf("env: dial kafka controller: %w", err)
	}
	defer controllerConn.Close()

	jobTypes := []tasks.JobType{
		tasks.JobIngestData,
		tasks.JobIngestStructuredData,
		tasks.JobProcessArchitectRelationships,
		tasks.JobConsolidateGraphAsync,
	}
	var topicConfigs []kafka.TopicConfig
	for _, jt := range jobTypes {
		topic := tasks.TopicFor(jt)
		topicConfigs = append(topicConfigs,
			kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1},
			kafka.TopicConfig{Topic: tasks.DLQTopicFor(topic), NumPartitions: 1, ReplicationFactor: 1},
		)
	}
	return controllerConn.CreateTopics(topicConfigs...)
}

// EnsureTopics is the exported entrypoint cmd/brainworker calls before
// starting the consumer loop.
func (e *Environment) EnsureTopics(ctx context.Context) error {
	return ensureTopics(ctx, e.Config.Kafka.Brokers)
}
