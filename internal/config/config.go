package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderGoOpenAI  = "goopenai"
	ProviderOpenAISDK = "openaisdk"

	CacheNone     = "none"
	CacheChromem  = "chromem"
	CachePostgres = "postgres"
	CacheRedis    = "redis"

	DriverPgdriver = "pgdriver"
	DriverPq       = "pq"

	FormatText     = "text"
	FormatMarkdown = "markdown"
	FormatHTML     = "html"

	defaultAPIKeyEnv = "API_KEY"
	documentEnv      = "PDF_QA_DOCUMENT"
)

type Config struct {
	Document     DocumentConfig `yaml:"document"`
	Extract      ExtractConfig  `yaml:"extract"`
	RAG          RAGConfig      `yaml:"rag"`
	EmbedLLM     LLMConfig      `yaml:"embed_llm"`
	InferenceLLM LLMConfig      `yaml:"inference_llm"`
	Cache        CacheConfig    `yaml:"cache"`
	Database     DatabaseConfig `yaml:"database"`
	Redis        RedisConfig    `yaml:"redis"`
	Report       ReportConfig   `yaml:"report"`
	Metrics      MetricsConfig  `yaml:"metrics"`
	Log          LogConfig      `yaml:"log"`
}

type DocumentConfig struct {
	Path string `yaml:"path"`
}

// ExtractConfig controls per-page text extraction and the OCR fallback.
type ExtractConfig struct {
	TimeoutSecs  int       `yaml:"timeout_secs"`
	OCRThreshold int       `yaml:"ocr_threshold"`
	OCR          OCRConfig `yaml:"ocr"`
}

type OCRConfig struct {
	Enabled       bool   `yaml:"enabled"`
	PdftoppmPath  string `yaml:"pdftoppm_path"`
	TesseractPath string `yaml:"tesseract_path"`
	Language      string `yaml:"language"`
	DPI           int    `yaml:"dpi"`
	TimeoutSecs   int    `yaml:"timeout_secs"`
}

type RAGConfig struct {
	ChunkSize          int     `yaml:"chunk_size"`
	BatchSize          int     `yaml:"batch_size"`
	MaxCandidates      int     `yaml:"max_candidates"`
	PreviewLen         int     `yaml:"preview_len"`
	EnforceThreshold   bool    `yaml:"enforce_threshold"`
	RelevanceThreshold float64 `yaml:"relevance_threshold"`
}

// LLMConfig describes one provider endpoint. Key wins over KeyEnv.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Key         string  `yaml:"key"`
	KeyEnv      string  `yaml:"key_env"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

type CacheConfig struct {
	Driver        string `yaml:"driver"`
	Path          string `yaml:"path"`
	Collection    string `yaml:"collection"`
	Compress      bool   `yaml:"compress"`
	ExportFile    string `yaml:"export_file"`
	EncryptionKey string `yaml:"encryption_key"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTLSecs  int    `yaml:"ttl_secs"`
}

type ReportConfig struct {
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Output string `yaml:"output"`
}

// LoadConfig reads the YAML file at path. A missing file yields the defaults.
// Variables from a .env file in the working directory are loaded first and
// never override the real environment.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyDefaults(cfg)
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{
		Document: DocumentConfig{Path: "uploads/law.pdf"},
		Extract: ExtractConfig{
			OCR: OCRConfig{Enabled: true},
		},
		// Set here rather than in applyDefaults so a configured 0 survives.
		InferenceLLM: LLMConfig{Temperature: 0.2},
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Extract.TimeoutSecs <= 0 {
		cfg.Extract.TimeoutSecs = 5
	}
	if cfg.Extract.OCRThreshold <= 0 {
		cfg.Extract.OCRThreshold = 20
	}
	ocr := &cfg.Extract.OCR
	if ocr.PdftoppmPath == "" {
		ocr.PdftoppmPath = "pdftoppm"
	}
	if ocr.TesseractPath == "" {
		ocr.TesseractPath = "tesseract"
	}
	if ocr.Language == "" {
		ocr.Language = "pol"
	}
	if ocr.DPI <= 0 {
		ocr.DPI = 300
	}
	if ocr.TimeoutSecs <= 0 {
		ocr.TimeoutSecs = 60
	}

	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = 500
	}
	if cfg.RAG.BatchSize == 0 {
		cfg.RAG.BatchSize = 10
	}
	if cfg.RAG.MaxCandidates == 0 {
		cfg.RAG.MaxCandidates = 10
	}
	if cfg.RAG.PreviewLen == 0 {
		cfg.RAG.PreviewLen = 200
	}
	if cfg.RAG.RelevanceThreshold == 0 {
		cfg.RAG.RelevanceThreshold = 50
	}

	llmDefaults(&cfg.EmbedLLM, "text-embedding-3-large")
	llmDefaults(&cfg.InferenceLLM, "gpt-4")
	if cfg.InferenceLLM.MaxTokens == 0 {
		cfg.InferenceLLM.MaxTokens = 1200
	}

	if cfg.Cache.Driver == "" {
		cfg.Cache.Driver = CacheNone
	}
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = "./chromemdb"
	}
	if cfg.Cache.Collection == "" {
		cfg.Cache.Collection = "embeddings"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverPgdriver
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Report.Format == "" {
		cfg.Report.Format = FormatText
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
}

func llmDefaults(c *LLMConfig, model string) {
	if c.Provider == "" {
		c.Provider = ProviderOpenAI
	}
	if c.Model == "" {
		c.Model = model
	}
	if c.KeyEnv == "" {
		c.KeyEnv = defaultAPIKeyEnv
	}
	if c.BaseURL == "" {
		switch c.Provider {
		case ProviderOllama:
			c.BaseURL = "http://localhost:11434"
		default:
			c.BaseURL = "https://api.openai.com/v1"
		}
	}
	if c.TimeoutSecs <= 0 {
		c.TimeoutSecs = 120
	}
}

func applyEnv(cfg *Config) {
	if p := os.Getenv(documentEnv); p != "" {
		cfg.Document.Path = p
	}
	for _, c := range []*LLMConfig{&cfg.EmbedLLM, &cfg.InferenceLLM} {
		if c.Key == "" {
			c.Key = os.Getenv(c.KeyEnv)
		}
		c.Key = strings.TrimPrefix(c.Key, "Bearer ")
	}
}

// Validate rejects settings no component can work with.
func (c *Config) Validate() error {
	if c.Document.Path == "" {
		return errors.New("document path is required")
	}
	if c.RAG.ChunkSize < 0 || c.RAG.BatchSize < 0 || c.RAG.MaxCandidates < 0 || c.RAG.PreviewLen < 0 {
		return errors.New("rag sizes must be positive")
	}
	for name, l := range map[string]LLMConfig{"embed_llm": c.EmbedLLM, "inference_llm": c.InferenceLLM} {
		switch l.Provider {
		case ProviderOpenAI, ProviderOllama, ProviderGoOpenAI, ProviderOpenAISDK:
		default:
			return fmt.Errorf("%s: unknown provider %q", name, l.Provider)
		}
	}
	switch c.Cache.Driver {
	case CacheNone, CacheChromem, CacheRedis:
	case CachePostgres:
		if c.Database.DSN == "" {
			return errors.New("cache driver postgres requires database.dsn")
		}
	default:
		return fmt.Errorf("unknown cache driver %q", c.Cache.Driver)
	}
	switch c.Database.Driver {
	case DriverPgdriver, DriverPq:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	switch c.Report.Format {
	case FormatText, FormatMarkdown, FormatHTML:
	default:
		return fmt.Errorf("unknown report format %q", c.Report.Format)
	}
	return nil
}
