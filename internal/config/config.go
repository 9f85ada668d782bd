package config

import (
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pterm/pterm"
	"gopkg.in/yaml.v2"
)

type DatabaseConfig struct {
	ConnectionString string `yaml:"connection_string"`
}

type AgenticMemoryConfig struct {
	Enabled bool `yaml:"enabled"`
}

type CompletionsConfig struct {
	DefaultHost      string  `yaml:"default_host"`
	SummaryHost      string  `yaml:"summary_host,omitempty"`
	KeywordsHost     string  `yaml:"keywords_host,omitempty"`
	Backend          string  `yaml:"backend"` // e.g., "openai", "anthropic", "google"
	CompletionsModel string  `yaml:"completions_model"`
	Temperature      float64 `yaml:"temperature"`
	CtxSize          int     `yaml:"ctx_size"`
	APIKey           string  `yaml:"api_key"`
}

type EmbeddingsConfig struct {
	Host         string `yaml:"host"`
	Model        string `yaml:"model,omitempty"`
	APIKey       string `yaml:"api_key"`
	Dimensions   int    `yaml:"dimensions"`
	EmbedPrefix  string `yaml:"embed_prefix"`
	SearchPrefix string `yaml:"search_prefix"`
}

type RerankerConfig struct {
	Host string `yaml:"host"`
}

type AuthConfig struct {
	SecretKey   string `yaml:"secret_key"`
	TokenExpiry int    `yaml:"token_expiry"` // Token expiry in hours
}

type IngestionConfig struct {
	MaxWorkers  int  `yaml:"max_workers"`
	UseAdvanced bool `yaml:"use_advanced_splitting"`

	// RunGraphConsolidator gates the post-batch Consolidation Orchestrator.
	// When false the orchestrator is a true no-op: no graph touch, no
	// session cache cleanup, no Janitor call.
	RunGraphConsolidator bool `yaml:"run_graph_consolidator"`

	// RelationshipBatchSize is the consolidation batch size; zero defaults
	// to 20 at call time.
	RelationshipBatchSize int `yaml:"relationship_batch_size"`

	// ConsolidationSimilarity is the Get2ndDegreeHops similarity threshold
	// used to snapshot each batch's neighborhood; zero defaults to 0.35.
	ConsolidationSimilarity float64 `yaml:"consolidation_similarity"`
}

// TelemetryConfig controls OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Endpoint       string `yaml:"endpoint"`
	Insecure       bool   `yaml:"insecure"`
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version,omitempty"`
	Environment    string `yaml:"environment,omitempty"`
}

// KafkaConfig carries the task runtime's broker/topic/consumer-group
// settings (spec §4.6 Transport), grounded on the teacher's cmd/orchestrator
// Kafka env vars (KAFKA_BROKERS/KAFKA_GROUP_ID).
type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	GroupID     string   `yaml:"group_id"`
	WorkerCount int      `yaml:"worker_count"`
}

// RedisConfig points at the Redis instance backing store.Cache (task status,
// dedupe, session fan-in counters).
type RedisConfig struct {
	Addr string `yaml:"addr"`
}

// QdrantConfig points at the Qdrant instance backing store.VectorStore.
type QdrantConfig struct {
	DSN       string `yaml:"dsn"`
	Dimension int    `yaml:"dimension"`
	Metric    string `yaml:"metric"`
}

// ClickHouseConfig points at the ClickHouse instance backing the
// internal/store/auditlog KGChange audit trail. Optional: a blank Addr
// disables the secondary audit sink.
type ClickHouseConfig struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type Config struct {
	Host                      string              `yaml:"host"`
	Port                      int                 `yaml:"port"`
	DataPath                  string              `yaml:"data_path"`
	SingleNodeInstance        bool                `yaml:"single_node_instance,omitempty"`
	GitHubPersonalAccessToken string              `yaml:"github_personal_access_token"`
	AnthropicKey              string              `yaml:"anthropic_key,omitempty"`
	OpenAIAPIKey              string              `yaml:"openai_api_key,omitempty"`
	GoogleGeminiKey           string              `yaml:"google_gemini_key,omitempty"`
	HuggingFaceToken          string              `yaml:"hf_token,omitempty"`
	Database                  DatabaseConfig      `yaml:"database"`
	DBPool                    *pgxpool.Pool       `yaml:"-"` // PgxPool is not serialized, used for database connections
	Completions               CompletionsConfig   `yaml:"completions"`
	Embeddings                EmbeddingsConfig    `yaml:"embeddings"`
	Reranker                  RerankerConfig      `yaml:"reranker"`
	Auth                      AuthConfig          `yaml:"auth"`
	AgenticMemory             AgenticMemoryConfig `yaml:"agentic_memory"`
	OTel                      TelemetryConfig     `yaml:"otel"`
	Ingestion                 IngestionConfig     `yaml:"ingestion"`
	Kafka                     KafkaConfig         `yaml:"kafka"`
	Redis                     RedisConfig         `yaml:"redis"`
	Qdrant                    QdrantConfig        `yaml:"qdrant"`
	ClickHouse                ClickHouseConfig    `yaml:"clickhouse,omitempty"`
}

// LoadConfig reads the configuration from a YAML file, unmarshals it into a Config struct,
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		pterm.Error.Printf("Error reading config file: %v\n", err)
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		pterm.Error.Printf("Error unmarshaling config: %v\n", err)
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Set default values for Auth if not provided
	if config.Auth.SecretKey == "" {
		config.Auth.SecretKey = "your-secret-key" // Default fallback (should be changed in production)
		pterm.Warning.Println("No JWT secret key provided in config, using default (insecure).")
	}

	if config.Auth.TokenExpiry <= 0 {
		config.Auth.TokenExpiry = 72 // Default to 72 hours
		pterm.Info.Println("No token expiry specified, using default (72 hours).")
	}

	// Set default values for Ingestion if not provided
	if config.Ingestion.MaxWorkers <= 0 {
		config.Ingestion.MaxWorkers = 4 // Default to 4 workers
		pterm.Info.Println("No max_workers specified for ingestion, using default (4).")
	}

	// Default to using advanced splitting for better code structure awareness
	if !config.Ingestion.UseAdvanced {
		config.Ingestion.UseAdvanced = true
		pterm.Info.Println("Advanced splitting enabled by default for better code structure preservation.")
	}

	if config.OTel.ServiceName == "" {
		config.OTel.ServiceName = "brainworker"
	}

	if config.Kafka.GroupID == "" {
		config.Kafka.GroupID = "brainworker"
	}
	if config.Kafka.WorkerCount <= 0 {
		config.Kafka.WorkerCount = 4
	}
	if config.Redis.Addr == "" {
		config.Redis.Addr = "localhost:6379"
	}
	if config.Qdrant.Metric == "" {
		config.Qdrant.Metric = "cosine"
	}

	pterm.Success.Println("Configuration loaded successfully.")
	return &config, nil
}
