package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"docs-rag/internal/models"
)

// Vector store backends.
const (
	StoreChromem  = "chromem"
	StorePgVector = "pgvector"
	StoreMongoDB  = "mongodb"
	StoreQdrant   = "qdrant"
)

const (
	DefaultConfigPath = "./configs/config.yaml"

	defaultDataDir        = "data/CompanyDocuments"
	defaultChunkSize      = 1000 // characters
	defaultChunkOverlap   = 200  // characters
	defaultSplitter       = "window"
	defaultEmbedProvider  = "ollama"
	defaultEmbedURL       = "http://localhost:11434"
	defaultEmbedModel     = "nomic-embed-text"
	defaultDimension      = 768
	defaultInferenceURL   = "https://api.groq.com/openai/v1"
	defaultInferenceModel = "mixtral-8x7b-32768"
	defaultTemperature    = 0.1
	defaultMaxRetries     = 3
	defaultBatchSize      = 100
	defaultMaxWorkers     = 4
	defaultTopK           = 3
	defaultStoreType      = StoreChromem
	defaultChromemPath    = "./chromemdb"
	defaultCollection     = "documents"
	defaultMongoDatabase  = "rag_workshop"
	defaultMongoIndex     = "vector_search_index"
	defaultQdrantTimeout  = 15
)

var defaultQuestions = []string{
	"What items are in the inventory?",
	"What are some items that Pirkko Koskitalo is likely to buy next? What incentives can I put in place to ensure he orders more?",
}

type Config struct {
	Log          LogConfig         `yaml:"log"`
	DataDir      string            `yaml:"data_dir"`
	Loader       LoaderConfig      `yaml:"loader"`
	EmbedLLM     LLMConfig         `yaml:"embed_llm"`
	InferenceLLM LLMConfig         `yaml:"inference_llm"`
	VectorStore  VectorStoreConfig `yaml:"vector_store"`
	RAG          RAGConfig         `yaml:"rag"`
	Questions    []string          `yaml:"questions"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type LoaderConfig struct {
	Extensions   []string `yaml:"extensions"`
	ChunkSize    int      `yaml:"chunk_size"`
	ChunkOverlap int      `yaml:"chunk_overlap"`
	// Splitter is "window" (exact sliding window) or "recursive".
	Splitter string `yaml:"splitter"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Key         string  `yaml:"key"`
	Model       string  `yaml:"model"`
	Dimension   int     `yaml:"dimension"`
	Temperature float64 `yaml:"temperature"`
	MaxRetries  int     `yaml:"max_retries"`
	// RateLimit caps embedding calls per second, 0 is unlimited.
	RateLimit float64 `yaml:"rate_limit"`
	// Serialize guards the embedding model with a mutex. Pointer so an explicit false survives defaults.
	Serialize *bool `yaml:"serialize"`
}

type RAGConfig struct {
	BatchSize  int  `yaml:"batch_size"`
	MaxWorkers int  `yaml:"max_workers"`
	TopK       int  `yaml:"top_k"`
	Force      bool `yaml:"force"`
}

type VectorStoreConfig struct {
	Type     string         `yaml:"type"`
	Chromem  ChromemConfig  `yaml:"chromem"`
	Database DatabaseConfig `yaml:"database"`
	MongoDB  MongoDBConfig  `yaml:"mongodb"`
	Qdrant   QdrantConfig   `yaml:"qdrant"`
}

type ChromemConfig struct {
	Path          string `yaml:"path"`
	Collection    string `yaml:"collection"`
	InMemory      bool   `yaml:"in_memory"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
	// Snapshot is an export file for in-memory mode, imported on open and written after ingest.
	Snapshot string `yaml:"snapshot"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	// Driver is "pgdriver" (default) or "pq".
	Driver string `yaml:"driver"`
	Debug  bool   `yaml:"debug"`
}

type MongoDBConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
	IndexName  string `yaml:"index_name"`
}

type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// LoadConfig reads the YAML file at path, then applies environment overrides
// and defaults. A missing file yields the defaults. ${VAR} references are
// expanded in credential and connection fields only; write $$ for a literal $.
func LoadConfig(path string) (*Config, error) {
	cfg := preset()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	expandSecrets(&cfg)
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

// preset holds defaults for fields where zero is a meaningful setting, so an
// explicit 0 in the file survives.
func preset() Config {
	var cfg Config
	cfg.Loader.ChunkOverlap = defaultChunkOverlap
	cfg.InferenceLLM.Temperature = defaultTemperature
	cfg.InferenceLLM.MaxRetries = defaultMaxRetries
	return cfg
}

func expandSecrets(cfg *Config) {
	vs := &cfg.VectorStore
	for _, field := range []*string{
		&cfg.EmbedLLM.Key,
		&cfg.EmbedLLM.BaseURL,
		&cfg.InferenceLLM.Key,
		&cfg.InferenceLLM.BaseURL,
		&vs.Chromem.EncryptionKey,
		&vs.Database.DSN,
		&vs.Database.Password,
		&vs.MongoDB.URI,
		&vs.Qdrant.URL,
		&vs.Qdrant.APIKey,
	} {
		*field = expandEnv(*field)
	}
}

// expandEnv is os.ExpandEnv with $$ as an escaped dollar sign.
func expandEnv(s string) string {
	return os.Expand(s, func(name string) string {
		if name == "$" {
			return "$"
		}
		return os.Getenv(name)
	})
}

// Path returns the config path from RAG_CONFIG or the default location.
func Path() string {
	if p := os.Getenv("RAG_CONFIG"); p != "" {
		return p
	}
	return DefaultConfigPath
}

func applyEnvOverrides(cfg *Config) {
	setFromEnv(&cfg.InferenceLLM.Key, "GROQ_API_KEY")
	setFromEnv(&cfg.EmbedLLM.Key, "EMBEDDING_API_KEY")
	setFromEnv(&cfg.DataDir, "RAG_DATA_DIR")
	setFromEnv(&cfg.VectorStore.Database.DSN, "DATABASE_URL")
	setFromEnv(&cfg.VectorStore.Qdrant.URL, "QDRANT_URL")
	setFromEnv(&cfg.VectorStore.Qdrant.APIKey, "QDRANT_API_KEY")
	// the URI may itself reference MONGODB_API_KEY
	if v := os.Getenv("MONGODB_URI"); v != "" {
		cfg.VectorStore.MongoDB.URI = expandEnv(v)
	}
}

func setFromEnv(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	if len(cfg.Loader.Extensions) == 0 {
		cfg.Loader.Extensions = []string{".pdf"}
	}
	for i, ext := range cfg.Loader.Extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		cfg.Loader.Extensions[i] = ext
	}
	if cfg.Loader.ChunkSize == 0 {
		cfg.Loader.ChunkSize = defaultChunkSize
	}
	if cfg.Loader.Splitter == "" {
		cfg.Loader.Splitter = defaultSplitter
	}

	if cfg.EmbedLLM.Provider == "" {
		cfg.EmbedLLM.Provider = defaultEmbedProvider
	}
	if cfg.EmbedLLM.BaseURL == "" && cfg.EmbedLLM.Provider == "ollama" {
		cfg.EmbedLLM.BaseURL = defaultEmbedURL
	}
	if cfg.EmbedLLM.Model == "" {
		cfg.EmbedLLM.Model = defaultEmbedModel
	}
	if cfg.EmbedLLM.Dimension == 0 {
		cfg.EmbedLLM.Dimension = defaultDimension
	}
	if cfg.EmbedLLM.Serialize == nil {
		serialize := true
		cfg.EmbedLLM.Serialize = &serialize
	}

	if cfg.InferenceLLM.BaseURL == "" {
		cfg.InferenceLLM.BaseURL = defaultInferenceURL
	}
	if cfg.InferenceLLM.Model == "" {
		cfg.InferenceLLM.Model = defaultInferenceModel
	}

	if cfg.RAG.BatchSize == 0 {
		cfg.RAG.BatchSize = defaultBatchSize
	}
	if cfg.RAG.MaxWorkers == 0 {
		cfg.RAG.MaxWorkers = defaultMaxWorkers
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = defaultTopK
	}
	if len(cfg.Questions) == 0 {
		cfg.Questions = append([]string(nil), defaultQuestions...)
	}

	vs := &cfg.VectorStore
	if vs.Type == "" {
		vs.Type = defaultStoreType
	}
	if vs.Chromem.Path == "" {
		vs.Chromem.Path = defaultChromemPath
	}
	if vs.Chromem.Collection == "" {
		vs.Chromem.Collection = defaultCollection
	}
	if vs.Database.Driver == "" {
		vs.Database.Driver = "pgdriver"
	}
	if vs.MongoDB.Database == "" {
		vs.MongoDB.Database = defaultMongoDatabase
	}
	if vs.MongoDB.Collection == "" {
		vs.MongoDB.Collection = defaultCollection
	}
	if vs.MongoDB.IndexName == "" {
		vs.MongoDB.IndexName = defaultMongoIndex
	}
	if vs.Qdrant.Collection == "" {
		vs.Qdrant.Collection = defaultCollection
	}
	if vs.Qdrant.TimeoutSecs == 0 {
		vs.Qdrant.TimeoutSecs = defaultQdrantTimeout
	}
}

// Validate fails fast on missing credentials and impossible settings.
func (c *Config) Validate() error {
	var errs []error
	if c.InferenceLLM.Key == "" {
		errs = append(errs, errors.New("generation API key is required (GROQ_API_KEY)"))
	}
	switch c.EmbedLLM.Provider {
	case "ollama":
	case "openai":
		if c.EmbedLLM.Key == "" {
			errs = append(errs, errors.New("embedding API key is required for the openai provider (EMBEDDING_API_KEY)"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown embedding provider %q", c.EmbedLLM.Provider))
	}
	if c.EmbedLLM.Dimension <= 0 {
		errs = append(errs, errors.New("embedding dimension must be positive"))
	}
	if c.Loader.ChunkOverlap < 0 || c.Loader.ChunkOverlap >= c.Loader.ChunkSize {
		errs = append(errs, fmt.Errorf("chunk overlap %d must be in [0, chunk size %d)", c.Loader.ChunkOverlap, c.Loader.ChunkSize))
	}
	if c.Loader.Splitter != "window" && c.Loader.Splitter != "recursive" {
		errs = append(errs, fmt.Errorf("unknown splitter %q", c.Loader.Splitter))
	}
	if c.RAG.BatchSize <= 0 || c.RAG.MaxWorkers <= 0 || c.RAG.TopK <= 0 {
		errs = append(errs, errors.New("batch_size, max_workers and top_k must be positive"))
	}

	vs := c.VectorStore
	switch vs.Type {
	case StoreChromem:
		if vs.Chromem.Snapshot != "" && vs.Chromem.EncryptionKey != "" && len(vs.Chromem.EncryptionKey) != 32 {
			errs = append(errs, errors.New("chromem encryption key must be 32 bytes"))
		}
	case StorePgVector:
		if vs.Database.DSN == "" {
			errs = append(errs, errors.New("database dsn is required (DATABASE_URL)"))
		}
		if vs.Database.Driver != "pgdriver" && vs.Database.Driver != "pq" {
			errs = append(errs, fmt.Errorf("unknown database driver %q", vs.Database.Driver))
		}
	case StoreMongoDB:
		if vs.MongoDB.URI == "" {
			errs = append(errs, errors.New("mongodb uri is required (MONGODB_URI)"))
		}
	case StoreQdrant:
		if vs.Qdrant.URL == "" {
			errs = append(errs, errors.New("qdrant url is required (QDRANT_URL)"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown vector store %q", vs.Type))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", models.ErrConfig, errors.Join(errs...))
	}
	return nil
}
