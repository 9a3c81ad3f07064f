package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	DSN      string
	MinConns int
	MaxConns int
}

type RedisConfig struct {
	URL           string
	QueryCacheTTL time.Duration
}

type CrawlerConfig struct {
	TargetURL     string
	BatchSize     int
	MaxConcurrent int
	ProcessorSize int
	Interval      time.Duration
	RespectRobots bool
	BrowserURL    string
}

type ExtractConfig struct {
	ContentSelector string
	PatternsFile    string
	MinContentLen   int
}

type ChunkConfig struct {
	Size       int
	MinLen     int
	Contextual bool
}

// Mode values for EmbeddingConfig.Mode.
const (
	EmbeddingModeAPI   = "api"
	EmbeddingModeLocal = "local"
)

type EmbeddingConfig struct {
	Mode             string
	Model            string
	Dim              int
	MaxLength        int
	APIBaseURL       string
	APIKey           string
	LocalBaseURL     string
	Timeout          time.Duration
	MaxConcurrent    int
	QueryInstruction string
}

type RerankerConfig struct {
	Enabled         bool
	BaseURL         string
	Model           string
	Timeout         time.Duration
	Calibration     bool
	CalibrationFile string
}

type SearchConfig struct {
	Hybrid     bool
	Oversample int
}

type VectorIndexConfig struct {
	// Mode is "exact" (brute-force scan, the default) or "hnsw" (opt-in ANN).
	Mode string
}

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Crawler     CrawlerConfig
	Extract     ExtractConfig
	Chunk       ChunkConfig
	Embedding   EmbeddingConfig
	Reranker    RerankerConfig
	Search      SearchConfig
	VectorIndex VectorIndexConfig
}

// Load builds the process configuration from environment variables. Missing
// required keys are reported all at once so the operator can fix them in a
// single pass.
func Load() (*Config, error) {
	var missing []string

	require := func(key string) string {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: envStr("SERVER_HOST", "0.0.0.0"),
			Port: envInt("SERVER_PORT", 4200),
		},
		Database: DatabaseConfig{
			DSN:      databaseDSN(&missing),
			MinConns: envInt("DB_MIN_CONNS", 2),
			MaxConns: envInt("DB_MAX_CONNS", 20),
		},
		Redis: RedisConfig{
			URL:           envStr("REDIS_URL", ""),
			QueryCacheTTL: time.Duration(envInt("QUERY_CACHE_TTL", 60)) * time.Second,
		},
		Crawler: CrawlerConfig{
			TargetURL:     envStr("TARGET_URL", ""),
			BatchSize:     envInt("CRAWLER_BATCH_SIZE", 30),
			MaxConcurrent: envInt("CRAWLER_MAX_CONCURRENT", 30),
			ProcessorSize: envInt("PROCESSOR_BATCH_SIZE", 5),
			Interval:      envSeconds("CRAWL_INTERVAL", 0.5),
			RespectRobots: envBool("RESPECT_ROBOTS", true),
			BrowserURL:    envStr("BROWSER_URL", ""),
		},
		Extract: ExtractConfig{
			ContentSelector: envStr("CONTENT_SELECTOR", "#app-main"),
			PatternsFile:    envStr("FILTER_PATTERNS_FILE", ""),
			MinContentLen:   envInt("MIN_CONTENT_LENGTH", 100),
		},
		Chunk: ChunkConfig{
			Size:       envInt("CHUNK_SIZE", 5000),
			MinLen:     envInt("CHUNK_MIN_LENGTH", 64),
			Contextual: envBool("CHUNK_CONTEXT", false),
		},
		Embedding: EmbeddingConfig{
			Mode:          strings.ToLower(require("EMBEDDING_MODE")),
			Model:         require("EMBEDDING_MODEL"),
			Dim:           envInt("EMBEDDING_DIM", 2560),
			MaxLength:     envInt("EMBEDDING_MAX_LENGTH", 8192),
			APIBaseURL:    envStr("EMBEDDING_API_URL", ""),
			APIKey:        envStr("EMBEDDING_API_KEY", ""),
			LocalBaseURL:  envStr("EMBEDDING_LOCAL_URL", ""),
			Timeout:       time.Duration(envInt("EMBEDDING_TIMEOUT", 30)) * time.Second,
			MaxConcurrent: envInt("EMBEDDING_MAX_CONCURRENT", 4),
			QueryInstruction: envStr("EMBEDDING_QUERY_INSTRUCTION",
				"Given a web search query, retrieve relevant passages that answer the query"),
		},
		Reranker: RerankerConfig{
			Enabled:         envBool("USE_RERANKING", false),
			BaseURL:         envStr("RERANKER_URL", ""),
			Model:           envStr("RERANKER_MODEL", ""),
			Timeout:         time.Duration(envInt("RERANKER_TIMEOUT", 30)) * time.Second,
			Calibration:     envBool("RERANKER_CALIBRATION", false),
			CalibrationFile: envStr("RERANKER_CALIBRATION_FILE", ""),
		},
		Search: SearchConfig{
			Hybrid:     envBool("USE_HYBRID_SEARCH", false),
			Oversample: envInt("OVERSAMPLE", 3),
		},
		VectorIndex: VectorIndexConfig{
			Mode: strings.ToLower(envStr("VECTOR_INDEX", "exact")),
		},
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Embedding.Mode {
	case EmbeddingModeAPI:
		if c.Embedding.APIBaseURL == "" || c.Embedding.APIKey == "" {
			return fmt.Errorf("EMBEDDING_MODE=api requires EMBEDDING_API_URL and EMBEDDING_API_KEY")
		}
	case EmbeddingModeLocal:
		if c.Embedding.LocalBaseURL == "" {
			return fmt.Errorf("EMBEDDING_MODE=local requires EMBEDDING_LOCAL_URL")
		}
	default:
		return fmt.Errorf("invalid EMBEDDING_MODE %q (expected api or local)", c.Embedding.Mode)
	}

	if c.Embedding.Dim <= 0 {
		return fmt.Errorf("EMBEDDING_DIM must be positive, got %d", c.Embedding.Dim)
	}

	if c.Reranker.Enabled && c.Reranker.Model == "" {
		return fmt.Errorf("USE_RERANKING=true requires RERANKER_MODEL")
	}
	if c.Reranker.Calibration && c.Reranker.CalibrationFile == "" {
		return fmt.Errorf("RERANKER_CALIBRATION=true requires RERANKER_CALIBRATION_FILE")
	}

	switch c.VectorIndex.Mode {
	case "exact", "hnsw":
	default:
		return fmt.Errorf("invalid VECTOR_INDEX %q (expected exact or hnsw)", c.VectorIndex.Mode)
	}

	if c.Crawler.TargetURL != "" {
		u, err := url.Parse(c.Crawler.TargetURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("TARGET_URL %q is not an absolute URL", c.Crawler.TargetURL)
		}
	}

	return nil
}

// databaseDSN accepts either a single DATABASE_URL or the discrete
// POSTGRES_* components.
func databaseDSN(missing *[]string) string {
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		return dsn
	}

	host := envStr("POSTGRES_HOST", "")
	if host == "" {
		*missing = append(*missing, "DATABASE_URL (or POSTGRES_HOST)")
		return ""
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, envInt("POSTGRES_PORT", 5432)),
		Path:   "/" + envStr("POSTGRES_DATABASE", "ragd"),
	}
	user := envStr("POSTGRES_USER", "postgres")
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		u.User = url.UserPassword(user, pw)
	} else {
		u.User = url.User(user)
	}
	return u.String()
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envSeconds(key string, def float64) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(f * float64(time.Second))
		}
	}
	return time.Duration(def * float64(time.Second))
}
