package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"
)

// ServerConfig controls the inbound HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// OpenAIConfig configures the chat-completions gateway. BaseURL may point
// at any OpenAI-shaped endpoint (proxy, self-hosted gateway).
type OpenAIConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	AnswerModel string  `yaml:"answer_model"`
	Temperature float64 `yaml:"temperature"`
	TimeoutSecs int     `yaml:"timeout_seconds"`
}

// EmbeddingsConfig configures the embeddings endpoint used by the encoder.
type EmbeddingsConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	Workers    int    `yaml:"workers"`
}

// QdrantConfig locates the vector collections. The Go client speaks
// Qdrant's gRPC API (port 6334 by default); an API key may be passed as a
// query parameter on the DSN.
type QdrantConfig struct {
	DSN            string `yaml:"dsn"`
	CodeCollection string `yaml:"code_collection"`
	PathCollection string `yaml:"path_collection"`
}

// RedisConfig locates the session store holding persisted task graphs.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ServicesConfig holds the outbound collaborator endpoints.
type ServicesConfig struct {
	IngestionURL  string `yaml:"ingestion_url"`
	UnderstandURL string `yaml:"understand_url"`
	TimeoutSecs   int    `yaml:"timeout_seconds"`
}

// AgentConfig bounds the retrieval loop.
type AgentConfig struct {
	MaxSteps   int `yaml:"max_steps"`
	ResultSize int `yaml:"result_size"`
	FanOut     int `yaml:"fan_out"`
}

// ObsConfig controls OpenTelemetry tracing.
type ObsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Qdrant     QdrantConfig     `yaml:"qdrant"`
	Redis      RedisConfig      `yaml:"redis"`
	Services   ServicesConfig   `yaml:"services"`
	Agent      AgentConfig      `yaml:"agent"`
	Obs        ObsConfig        `yaml:"obs"`
	LogPath    string           `yaml:"log_path"`
	LogLevel   string           `yaml:"log_level"`
}

// Load reads an optional YAML file named by CODESCOUT_CONFIG, then
// overlays environment variables (optionally from .env), then applies
// defaults. Env values win over YAML so deployments can pin individual
// settings without editing the file.
func Load() (Config, error) {
	// Overload so .env values override the OS environment; local repo
	// configuration deterministically controls development runs.
	_ = godotenv.Overload()

	var cfg Config
	if path := strings.TrimSpace(os.Getenv("CODESCOUT_CONFIG")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if cfg.OpenAI.APIKey == "" {
		return Config{}, fmt.Errorf("OPENAI_API_KEY is required")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Addr, "SERVER_ADDR")

	setString(&cfg.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAI.Model, "OPENAI_MODEL")
	setString(&cfg.OpenAI.AnswerModel, "ANSWER_MODEL")
	setFloat(&cfg.OpenAI.Temperature, "OPENAI_TEMPERATURE")
	setInt(&cfg.OpenAI.TimeoutSecs, "OPENAI_TIMEOUT_SECONDS")

	setString(&cfg.Embeddings.BaseURL, "EMBED_BASE_URL")
	setString(&cfg.Embeddings.APIKey, "EMBED_API_KEY")
	setString(&cfg.Embeddings.Model, "EMBED_MODEL")
	setInt(&cfg.Embeddings.Dimensions, "EMBED_DIMENSIONS")
	setInt(&cfg.Embeddings.Workers, "EMBED_WORKERS")

	setString(&cfg.Qdrant.DSN, "QDRANT_DSN")
	setString(&cfg.Qdrant.CodeCollection, "QDRANT_CODE_COLLECTION")
	setString(&cfg.Qdrant.PathCollection, "QDRANT_PATH_COLLECTION")

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")

	setString(&cfg.Services.IngestionURL, "INGESTION_URL")
	setString(&cfg.Services.UnderstandURL, "UNDERSTAND_URL")
	setInt(&cfg.Services.TimeoutSecs, "SERVICES_TIMEOUT_SECONDS")

	setInt(&cfg.Agent.MaxSteps, "AGENT_MAX_STEPS")
	setInt(&cfg.Agent.ResultSize, "AGENT_RESULT_SIZE")
	setInt(&cfg.Agent.FanOut, "SUGGEST_FAN_OUT")

	setBool(&cfg.Obs.Enabled, "OTEL_ENABLED")
	setString(&cfg.Obs.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.Obs.Insecure, "OTEL_EXPORTER_OTLP_INSECURE")
	setString(&cfg.Obs.ServiceName, "OTEL_SERVICE_NAME")

	setString(&cfg.LogPath, "LOG_PATH")
	setString(&cfg.LogLevel, "LOG_LEVEL")
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":7878"
	}
	if cfg.OpenAI.BaseURL == "" {
		cfg.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.OpenAI.Model == "" {
		cfg.OpenAI.Model = "gpt-4-0613"
	}
	if cfg.OpenAI.AnswerModel == "" {
		cfg.OpenAI.AnswerModel = cfg.OpenAI.Model
	}
	if cfg.OpenAI.TimeoutSecs <= 0 {
		cfg.OpenAI.TimeoutSecs = 120
	}
	if cfg.Embeddings.Dimensions <= 0 {
		cfg.Embeddings.Dimensions = 384
	}
	if cfg.Embeddings.Workers <= 0 {
		cfg.Embeddings.Workers = 1
	}
	if cfg.Qdrant.DSN == "" {
		cfg.Qdrant.DSN = "http://localhost:6334"
	}
	if cfg.Qdrant.CodeCollection == "" {
		cfg.Qdrant.CodeCollection = "code-chunks"
	}
	if cfg.Qdrant.PathCollection == "" {
		cfg.Qdrant.PathCollection = "repo-paths"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Services.TimeoutSecs <= 0 {
		cfg.Services.TimeoutSecs = 60
	}
	if cfg.Agent.MaxSteps <= 0 {
		cfg.Agent.MaxSteps = 10
	}
	if cfg.Agent.ResultSize <= 0 {
		cfg.Agent.ResultSize = 10
	}
	if cfg.Agent.FanOut <= 0 {
		cfg.Agent.FanOut = 8
	}
	if cfg.Obs.ServiceName == "" {
		cfg.Obs.ServiceName = "codescout"
	}
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
	}
}
