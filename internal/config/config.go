// Package config loads application configuration from file, environment,
// and defaults via viper.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App       App       `mapstructure:"app"`
	Server    Server    `mapstructure:"server"`
	Ingestion Ingestion `mapstructure:"ingestion"`
	Models    Models    `mapstructure:"models"`
	Retrieval Retrieval `mapstructure:"retrieval"`
	Graph     Graph     `mapstructure:"graph"`
	Quality   Quality   `mapstructure:"quality"`
	Logging   Logging   `mapstructure:"logging"`
}

// App holds general application configuration.
type App struct {
	Debug      bool   `mapstructure:"debug"`
	DataDir    string `mapstructure:"data_dir"`
	ArchiveDir string `mapstructure:"archive_dir"`
}

// Server holds HTTP server configuration.
type Server struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CORSEnabled  bool          `mapstructure:"cors_enabled"`
}

// Ingestion holds worker pool and retry configuration.
type Ingestion struct {
	WorkerPoolSize    int           `mapstructure:"worker_pool_size"`
	QueueSize         int           `mapstructure:"queue_size"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
	ParseTimeout      time.Duration `mapstructure:"parse_timeout"`
	IndexWriteTimeout time.Duration `mapstructure:"index_write_timeout"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
}

// Models holds model-service configuration. The enrichment models are
// callable black boxes with declared timeouts.
type Models struct {
	APIKey              string        `mapstructure:"api_key"`
	GenerationModel     string        `mapstructure:"generation_model"`
	EmbeddingModel      string        `mapstructure:"embedding_model"`
	SparseModel         string        `mapstructure:"sparse_model"`
	RerankModel         string        `mapstructure:"rerank_model"`
	SparseEndpoint      string        `mapstructure:"sparse_endpoint"`
	RerankEndpoint      string        `mapstructure:"rerank_endpoint"`
	EmbeddingDimensions int           `mapstructure:"embedding_dimensions"`
	Timeout             time.Duration `mapstructure:"timeout"`
	RerankEnabled       bool          `mapstructure:"rerank_enabled"`
}

// Retrieval holds query-path configuration.
type Retrieval struct {
	RRFK                float64       `mapstructure:"rrf_k"`
	CandidatePool       int           `mapstructure:"candidate_pool"`
	RerankTop           int           `mapstructure:"rerank_top"`
	DefaultHybridWeight float64       `mapstructure:"default_hybrid_weight"`
	VectorMinSimHybrid  float64       `mapstructure:"vector_min_sim_hybrid"`
	VectorMinSimGraph   float64       `mapstructure:"vector_min_sim_graph"`
	QueryTimeout        time.Duration `mapstructure:"query_timeout"`
	DefaultLimit        int           `mapstructure:"default_limit"`
}

// Graph holds graph scoring configuration.
type Graph struct {
	VectorWeight    float64 `mapstructure:"vector_weight"`
	TagWeight       float64 `mapstructure:"tag_weight"`
	ClassWeight     float64 `mapstructure:"class_weight"`
	PageRankDamping float64 `mapstructure:"pagerank_damping"`
	PageRankMaxIter int     `mapstructure:"pagerank_max_iterations"`
	PageRankEpsilon float64 `mapstructure:"pagerank_epsilon"`
}

// Quality holds the five dimension weights for quality scoring.
type Quality struct {
	AccuracyWeight     float64 `mapstructure:"accuracy_weight"`
	CompletenessWeight float64 `mapstructure:"completeness_weight"`
	ConsistencyWeight  float64 `mapstructure:"consistency_weight"`
	TimelinessWeight   float64 `mapstructure:"timeliness_weight"`
	RelevanceWeight    float64 `mapstructure:"relevance_weight"`
}

// Logging holds logging configuration.
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var globalConfig *Config

// Load loads the configuration from file, environment, and defaults.
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".alexandria")
		viper.SetConfigType("yaml")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ALEXANDRIA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Fall back to the conventional Gemini key variable when the
	// prefixed form is not set.
	if config.Models.APIKey == "" {
		config.Models.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// Reset clears the cached configuration. Intended for tests.
func Reset() {
	globalConfig = nil
	viper.Reset()
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.data_dir", ".alexandria")
	viper.SetDefault("app.archive_dir", ".alexandria/archive")

	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.cors_enabled", true)

	viper.SetDefault("ingestion.worker_pool_size", 2*runtime.NumCPU())
	viper.SetDefault("ingestion.queue_size", 256)
	viper.SetDefault("ingestion.max_attempts", 3)
	viper.SetDefault("ingestion.backoff_base", "500ms")
	viper.SetDefault("ingestion.max_backoff", "30s")
	viper.SetDefault("ingestion.fetch_timeout", "30s")
	viper.SetDefault("ingestion.parse_timeout", "15s")
	viper.SetDefault("ingestion.index_write_timeout", "10s")
	viper.SetDefault("ingestion.max_body_bytes", 32*1024*1024)

	viper.SetDefault("models.generation_model", "gemini-flash-lite-latest")
	viper.SetDefault("models.embedding_model", "gemini-embedding-001")
	viper.SetDefault("models.sparse_model", "splade-v3")
	viper.SetDefault("models.rerank_model", "semantic-ranker-512")
	viper.SetDefault("models.sparse_endpoint", "")
	viper.SetDefault("models.rerank_endpoint", "")
	viper.SetDefault("models.embedding_dimensions", 768)
	viper.SetDefault("models.timeout", "60s")
	viper.SetDefault("models.rerank_enabled", false)

	viper.SetDefault("retrieval.rrf_k", 60.0)
	viper.SetDefault("retrieval.candidate_pool", 200)
	viper.SetDefault("retrieval.rerank_top", 50)
	viper.SetDefault("retrieval.default_hybrid_weight", 0.5)
	viper.SetDefault("retrieval.vector_min_sim_hybrid", 0.0)
	viper.SetDefault("retrieval.vector_min_sim_graph", 0.85)
	viper.SetDefault("retrieval.query_timeout", "2s")
	viper.SetDefault("retrieval.default_limit", 25)

	viper.SetDefault("graph.vector_weight", 0.6)
	viper.SetDefault("graph.tag_weight", 0.3)
	viper.SetDefault("graph.class_weight", 0.1)
	viper.SetDefault("graph.pagerank_damping", 0.85)
	viper.SetDefault("graph.pagerank_max_iterations", 100)
	viper.SetDefault("graph.pagerank_epsilon", 1e-6)

	viper.SetDefault("quality.accuracy_weight", 0.2)
	viper.SetDefault("quality.completeness_weight", 0.2)
	viper.SetDefault("quality.consistency_weight", 0.2)
	viper.SetDefault("quality.timeliness_weight", 0.2)
	viper.SetDefault("quality.relevance_weight", 0.2)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// validateConfig checks cross-field invariants that viper cannot express.
func validateConfig(config *Config) error {
	if config.Ingestion.WorkerPoolSize < 1 {
		return fmt.Errorf("ingestion.worker_pool_size must be at least 1")
	}
	if config.Ingestion.MaxAttempts < 1 {
		return fmt.Errorf("ingestion.max_attempts must be at least 1")
	}
	if config.Retrieval.RRFK <= 0 {
		return fmt.Errorf("retrieval.rrf_k must be positive")
	}
	if w := config.Retrieval.DefaultHybridWeight; w < 0 || w > 1 {
		return fmt.Errorf("retrieval.default_hybrid_weight must be in [0,1]")
	}
	q := config.Quality
	sum := q.AccuracyWeight + q.CompletenessWeight + q.ConsistencyWeight + q.TimelinessWeight + q.RelevanceWeight
	if sum < 0.999999 || sum > 1.000001 {
		return fmt.Errorf("quality weights must sum to 1.0, got %f", sum)
	}
	return nil
}
