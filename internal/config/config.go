// Package config loads and validates the ragserver configuration.
//
// Configuration is applied in order of increasing precedence: hardcoded
// defaults, the config file (explicit --config path, ./ragserver.yaml, or
// ~/.config/ragserver/config.yaml), then RAGSERVER_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ragforge/ragserver/internal/provider"
)

// Config represents the complete ragserver configuration.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Paths     PathsConfig     `yaml:"paths" json:"paths"`
	Providers ProvidersConfig `yaml:"providers" json:"providers"`
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`
	Indexer   IndexerConfig   `yaml:"indexer" json:"indexer"`
	Retriever RetrieverConfig `yaml:"retriever" json:"retriever"`
	Parser    ParserConfig    `yaml:"parser" json:"parser"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host        string   `yaml:"host" json:"host"`
	Port        int      `yaml:"port" json:"port"`
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`
	// MaxUploadMB bounds multipart upload size.
	MaxUploadMB int `yaml:"max_upload_mb" json:"max_upload_mb"`
}

// PathsConfig configures the filesystem roots.
type PathsConfig struct {
	// WorkingDir holds retriever state, parsed-document output and logs.
	WorkingDir string `yaml:"working_dir" json:"working_dir"`
	// UploadDir holds user uploads, .trash/ and query_images/.
	UploadDir string `yaml:"upload_dir" json:"upload_dir"`
	// CatalogPath is the index-status catalog database.
	// Empty resolves to <working_dir>/catalog.db.
	CatalogPath string `yaml:"catalog_path" json:"catalog_path"`
	// ChatDBPath is the chat session database.
	// Empty resolves to <working_dir>/chat.db.
	ChatDBPath string `yaml:"chat_db_path" json:"chat_db_path"`
}

// ProvidersConfig binds the four model roles.
type ProvidersConfig struct {
	LLM       provider.ModelConfig `yaml:"llm" json:"llm"`
	Embedding provider.ModelConfig `yaml:"embedding" json:"embedding"`
	Vision    provider.ModelConfig `yaml:"vision" json:"vision"`
	Reranker  provider.ModelConfig `yaml:"reranker" json:"reranker"`
}

// SchedulerConfig configures the dynamic batch scheduler.
type SchedulerConfig struct {
	// MaxBatchSize is the most requests coalesced into one encoder call.
	MaxBatchSize int `yaml:"max_batch_size" json:"max_batch_size"`
	// MaxWaitTime bounds how long the first request of a batch waits for
	// company (duration string, e.g. "200ms").
	MaxWaitTime string `yaml:"max_wait_time" json:"max_wait_time"`
	// MaxBatchTokens caps the token sum of a batch. 0 disables the budget.
	MaxBatchTokens int `yaml:"max_batch_tokens" json:"max_batch_tokens"`
	// EncodeBatchSize is passed through to the encoder. 0 lets the encoder
	// pick.
	EncodeBatchSize int `yaml:"encode_batch_size" json:"encode_batch_size"`
	// QueueDepth is the request queue capacity.
	QueueDepth int `yaml:"queue_depth" json:"queue_depth"`
}

// IndexerConfig configures the background indexer.
type IndexerConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Interval between reconciliation cycles (duration string).
	Interval string `yaml:"interval" json:"interval"`
	// MaxFilesPerBatch bounds how many pending files one cycle dispatches.
	MaxFilesPerBatch int `yaml:"max_files_per_batch" json:"max_files_per_batch"`
	// Watch enables filesystem-event-triggered reconciliation.
	Watch bool `yaml:"watch" json:"watch"`
	// WatchDebounce coalesces bursts of filesystem events (duration string).
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
	// IgnorePatterns are glob patterns the scanner skips, on top of the
	// built-in dot-file rule.
	IgnorePatterns []string `yaml:"ignore_patterns" json:"ignore_patterns"`
}

// RetrieverConfig configures the built-in lite retriever.
type RetrieverConfig struct {
	// KeywordBackend selects the keyword index: "bleve" or "sqlite".
	KeywordBackend string `yaml:"keyword_backend" json:"keyword_backend"`
	// TopK is the default number of chunks retrieved per query.
	TopK int `yaml:"top_k" json:"top_k"`
	// ChunkSize and ChunkOverlap tune the ingest chunkers (characters).
	ChunkSize    int `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" json:"chunk_overlap"`
	// VectorM and VectorEf tune the HNSW vector index.
	VectorM  int `yaml:"vector_m" json:"vector_m"`
	VectorEf int `yaml:"vector_ef" json:"vector_ef"`
}

// ParserConfig configures the external document parser used for PDF,
// office and image inputs. Text, markdown and source code are parsed
// in-process and need no external command.
type ParserConfig struct {
	// Command is the parser executable. Empty disables exec parsing;
	// files needing it then fail with a clear error instead of garbage
	// chunks.
	Command string `yaml:"command" json:"command"`
	// Args are inserted before the input path and output directory.
	Args []string `yaml:"args" json:"args"`
	// Timeout bounds one parser run (duration string). Default "5m".
	Timeout string `yaml:"timeout" json:"timeout"`
}

// RunTimeout returns the parsed parser timeout.
func (p ParserConfig) RunTimeout() time.Duration {
	d, err := time.ParseDuration(p.Timeout)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// LoggingConfig configures file logging.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	// FilePath overrides the log file location.
	// Empty resolves to <working_dir>/logs/ragserver.log.
	FilePath  string `yaml:"file_path" json:"file_path"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
	Stderr    bool   `yaml:"stderr" json:"stderr"`
}

// defaultIgnorePatterns are always skipped by the scanner. query_images
// holds inline images persisted from multimodal queries; they are service
// by-products, not documents to index.
var defaultIgnorePatterns = []string{
	"*.tmp",
	"*.part",
	"*.swp",
	"*~",
	"query_images/**",
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        9380,
			CORSOrigins: []string{"*"},
			MaxUploadMB: 100,
		},
		Paths: PathsConfig{
			WorkingDir:  "./rag_storage",
			UploadDir:   "./uploads",
			CatalogPath: "", // Empty resolves under working_dir
			ChatDBPath:  "", // Empty resolves under working_dir
		},
		Providers: ProvidersConfig{
			LLM:       provider.ModelConfig{Kind: provider.KindLLM},
			Embedding: provider.ModelConfig{Kind: provider.KindEmbedding},
			Vision:    provider.ModelConfig{Kind: provider.KindVision},
			Reranker:  provider.ModelConfig{Kind: provider.KindReranker},
		},
		Scheduler: SchedulerConfig{
			MaxBatchSize:    32,
			MaxWaitTime:     "200ms",
			MaxBatchTokens:  0, // Token budget disabled unless set
			EncodeBatchSize: 0, // Encoder default
			QueueDepth:      1024,
		},
		Indexer: IndexerConfig{
			Enabled:          true,
			Interval:         "60s",
			MaxFilesPerBatch: 10,
			Watch:            false,
			WatchDebounce:    "500ms",
			IgnorePatterns:   defaultIgnorePatterns,
		},
		Retriever: RetrieverConfig{
			KeywordBackend: "bleve",
			TopK:           60,
			ChunkSize:      1200,
			ChunkOverlap:   100,
			VectorM:        16,
			VectorEf:       100,
		},
		Parser: ParserConfig{
			Command: "",
			Timeout: "5m",
		},
		Logging: LoggingConfig{
			Level:     "info",
			FilePath:  "", // Empty resolves under working_dir
			MaxSizeMB: 10,
			MaxFiles:  5,
			Stderr:    true,
		},
	}
}

// GetUserConfigPath returns the path to the user-level configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/ragserver/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/ragserver/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ragserver", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "ragserver", "config.yaml")
	}
	return filepath.Join(home, ".config", "ragserver", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load loads configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. Config file: the explicit path if given, else ./ragserver.yaml,
//     else the user config (~/.config/ragserver/config.yaml)
//  3. Environment variables (RAGSERVER_*)
//
// An explicit path that does not exist is an error; absent discovery
// candidates are fine.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path != "" {
		if !fileExists(path) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	} else if found := discoverConfigFile(); found != "" {
		if err := cfg.loadYAML(found); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()
	cfg.fillProviderKinds()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DiscoverPath returns the config file Load would read: the explicit
// path if given, else the first discovery candidate that exists. Empty
// means Load would run on defaults and environment alone.
func DiscoverPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return discoverConfigFile()
}

// discoverConfigFile returns the first config file candidate that exists.
func discoverConfigFile() string {
	candidates := []string{
		"ragserver.yaml",
		"ragserver.yml",
		GetUserConfigPath(),
	}
	for _, c := range candidates {
		if fileExists(c) {
			return c
		}
	}
	return ""
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Use a temporary struct for parsing to detect type errors
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Server
	if other.Server.Host != "" {
		c.Server.Host = other.Server.Host
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if len(other.Server.CORSOrigins) > 0 {
		c.Server.CORSOrigins = other.Server.CORSOrigins
	}
	if other.Server.MaxUploadMB != 0 {
		c.Server.MaxUploadMB = other.Server.MaxUploadMB
	}

	// Paths
	if other.Paths.WorkingDir != "" {
		c.Paths.WorkingDir = other.Paths.WorkingDir
	}
	if other.Paths.UploadDir != "" {
		c.Paths.UploadDir = other.Paths.UploadDir
	}
	if other.Paths.CatalogPath != "" {
		c.Paths.CatalogPath = other.Paths.CatalogPath
	}
	if other.Paths.ChatDBPath != "" {
		c.Paths.ChatDBPath = other.Paths.ChatDBPath
	}

	// Providers: a binding in the file replaces the default wholesale.
	if other.Providers.LLM.IsConfigured() {
		c.Providers.LLM = other.Providers.LLM
	}
	if other.Providers.Embedding.IsConfigured() {
		c.Providers.Embedding = other.Providers.Embedding
	}
	if other.Providers.Vision.IsConfigured() {
		c.Providers.Vision = other.Providers.Vision
	}
	if other.Providers.Reranker.IsConfigured() {
		c.Providers.Reranker = other.Providers.Reranker
	}

	// Scheduler
	if other.Scheduler.MaxBatchSize != 0 {
		c.Scheduler.MaxBatchSize = other.Scheduler.MaxBatchSize
	}
	if other.Scheduler.MaxWaitTime != "" {
		c.Scheduler.MaxWaitTime = other.Scheduler.MaxWaitTime
	}
	if other.Scheduler.MaxBatchTokens != 0 {
		c.Scheduler.MaxBatchTokens = other.Scheduler.MaxBatchTokens
	}
	if other.Scheduler.EncodeBatchSize != 0 {
		c.Scheduler.EncodeBatchSize = other.Scheduler.EncodeBatchSize
	}
	if other.Scheduler.QueueDepth != 0 {
		c.Scheduler.QueueDepth = other.Scheduler.QueueDepth
	}

	// Indexer. Enabled defaults true, so merge it only when some other
	// indexer field shows the section was present in the file.
	if indexerSectionPresent(&other.Indexer) {
		c.Indexer.Enabled = other.Indexer.Enabled
	}
	if other.Indexer.Interval != "" {
		c.Indexer.Interval = other.Indexer.Interval
	}
	if other.Indexer.MaxFilesPerBatch != 0 {
		c.Indexer.MaxFilesPerBatch = other.Indexer.MaxFilesPerBatch
	}
	if other.Indexer.Watch {
		c.Indexer.Watch = true
	}
	if other.Indexer.WatchDebounce != "" {
		c.Indexer.WatchDebounce = other.Indexer.WatchDebounce
	}
	if len(other.Indexer.IgnorePatterns) > 0 {
		// Merge with defaults rather than replace
		c.Indexer.IgnorePatterns = append(c.Indexer.IgnorePatterns, other.Indexer.IgnorePatterns...)
	}

	// Retriever
	if other.Retriever.KeywordBackend != "" {
		c.Retriever.KeywordBackend = other.Retriever.KeywordBackend
	}
	if other.Retriever.TopK != 0 {
		c.Retriever.TopK = other.Retriever.TopK
	}
	if other.Retriever.ChunkSize != 0 {
		c.Retriever.ChunkSize = other.Retriever.ChunkSize
	}
	if other.Retriever.ChunkOverlap != 0 {
		c.Retriever.ChunkOverlap = other.Retriever.ChunkOverlap
	}
	if other.Retriever.VectorM != 0 {
		c.Retriever.VectorM = other.Retriever.VectorM
	}
	if other.Retriever.VectorEf != 0 {
		c.Retriever.VectorEf = other.Retriever.VectorEf
	}

	// Parser
	if other.Parser.Command != "" {
		c.Parser.Command = other.Parser.Command
	}
	if len(other.Parser.Args) > 0 {
		c.Parser.Args = other.Parser.Args
	}
	if other.Parser.Timeout != "" {
		c.Parser.Timeout = other.Parser.Timeout
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.FilePath != "" {
		c.Logging.FilePath = other.Logging.FilePath
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
	if other.Logging.Level != "" || other.Logging.FilePath != "" {
		c.Logging.Stderr = other.Logging.Stderr
	}
}

// indexerSectionPresent reports whether any indexer field was set in a
// parsed file, which is the only way to honor an explicit enabled: false.
func indexerSectionPresent(ic *IndexerConfig) bool {
	return ic.Interval != "" || ic.MaxFilesPerBatch != 0 ||
		ic.WatchDebounce != "" || len(ic.IgnorePatterns) > 0 || ic.Watch || ic.Enabled
}

// applyEnvOverrides applies RAGSERVER_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RAGSERVER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("RAGSERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("RAGSERVER_WORKING_DIR"); v != "" {
		c.Paths.WorkingDir = v
	}
	if v := os.Getenv("RAGSERVER_UPLOAD_DIR"); v != "" {
		c.Paths.UploadDir = v
	}
	if v := os.Getenv("RAGSERVER_CATALOG_PATH"); v != "" {
		c.Paths.CatalogPath = v
	}
	if v := os.Getenv("RAGSERVER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RAGSERVER_KEYWORD_BACKEND"); v != "" {
		c.Retriever.KeywordBackend = v
	}
	if v := os.Getenv("RAGSERVER_INDEXER_ENABLED"); v != "" {
		c.Indexer.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("RAGSERVER_MAX_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Scheduler.MaxBatchSize = n
		}
	}
	if v := os.Getenv("RAGSERVER_PARSER_COMMAND"); v != "" {
		c.Parser.Command = v
	}

	// Credentials are usually supplied via environment, never committed to
	// config files.
	if v := os.Getenv("RAGSERVER_LLM_API_KEY"); v != "" {
		c.Providers.LLM.APIKey = v
	}
	if v := os.Getenv("RAGSERVER_EMBEDDING_API_KEY"); v != "" {
		c.Providers.Embedding.APIKey = v
	}
	if v := os.Getenv("RAGSERVER_VISION_API_KEY"); v != "" {
		c.Providers.Vision.APIKey = v
	}
	if v := os.Getenv("RAGSERVER_RERANKER_API_KEY"); v != "" {
		c.Providers.Reranker.APIKey = v
	}
}

// fillProviderKinds stamps the section key onto bindings that omit kind.
func (c *Config) fillProviderKinds() {
	if c.Providers.LLM.Kind == "" {
		c.Providers.LLM.Kind = provider.KindLLM
	}
	if c.Providers.Embedding.Kind == "" {
		c.Providers.Embedding.Kind = provider.KindEmbedding
	}
	if c.Providers.Vision.Kind == "" {
		c.Providers.Vision.Kind = provider.KindVision
	}
	if c.Providers.Reranker.Kind == "" {
		c.Providers.Reranker.Kind = provider.KindReranker
	}
}

// ResolvedCatalogPath returns the catalog DB path, defaulting under the
// working directory.
func (c *Config) ResolvedCatalogPath() string {
	if c.Paths.CatalogPath != "" {
		return c.Paths.CatalogPath
	}
	return filepath.Join(c.Paths.WorkingDir, "catalog.db")
}

// ResolvedChatDBPath returns the chat DB path, defaulting under the working
// directory.
func (c *Config) ResolvedChatDBPath() string {
	if c.Paths.ChatDBPath != "" {
		return c.Paths.ChatDBPath
	}
	return filepath.Join(c.Paths.WorkingDir, "chat.db")
}

// ResolvedLogPath returns the log file path, defaulting under the working
// directory.
func (c *Config) ResolvedLogPath() string {
	if c.Logging.FilePath != "" {
		return c.Logging.FilePath
	}
	return filepath.Join(c.Paths.WorkingDir, "logs", "ragserver.log")
}

// MaxWait returns the parsed scheduler dwell bound.
func (s SchedulerConfig) MaxWait() time.Duration {
	d, err := time.ParseDuration(s.MaxWaitTime)
	if err != nil || d <= 0 {
		return 200 * time.Millisecond
	}
	return d
}

// ReconcileInterval returns the parsed indexer cycle interval.
func (i IndexerConfig) ReconcileInterval() time.Duration {
	d, err := time.ParseDuration(i.Interval)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// DebounceInterval returns the parsed watch debounce window.
func (i IndexerConfig) DebounceInterval() time.Duration {
	d, err := time.ParseDuration(i.WatchDebounce)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.MaxUploadMB < 1 {
		return fmt.Errorf("server.max_upload_mb must be positive, got %d", c.Server.MaxUploadMB)
	}

	if c.Paths.WorkingDir == "" {
		return fmt.Errorf("paths.working_dir must not be empty")
	}
	if c.Paths.UploadDir == "" {
		return fmt.Errorf("paths.upload_dir must not be empty")
	}

	if c.Scheduler.MaxBatchSize < 1 {
		return fmt.Errorf("scheduler.max_batch_size must be positive, got %d", c.Scheduler.MaxBatchSize)
	}
	if _, err := time.ParseDuration(c.Scheduler.MaxWaitTime); err != nil {
		return fmt.Errorf("scheduler.max_wait_time is not a duration: %q", c.Scheduler.MaxWaitTime)
	}
	if c.Scheduler.MaxBatchTokens < 0 {
		return fmt.Errorf("scheduler.max_batch_tokens must be non-negative, got %d", c.Scheduler.MaxBatchTokens)
	}
	if c.Scheduler.QueueDepth < 1 {
		return fmt.Errorf("scheduler.queue_depth must be positive, got %d", c.Scheduler.QueueDepth)
	}

	if _, err := time.ParseDuration(c.Indexer.Interval); err != nil {
		return fmt.Errorf("indexer.interval is not a duration: %q", c.Indexer.Interval)
	}
	if c.Indexer.MaxFilesPerBatch < 1 {
		return fmt.Errorf("indexer.max_files_per_batch must be positive, got %d", c.Indexer.MaxFilesPerBatch)
	}
	if _, err := time.ParseDuration(c.Indexer.WatchDebounce); err != nil {
		return fmt.Errorf("indexer.watch_debounce is not a duration: %q", c.Indexer.WatchDebounce)
	}

	validBackends := map[string]bool{"bleve": true, "sqlite": true}
	if !validBackends[strings.ToLower(c.Retriever.KeywordBackend)] {
		return fmt.Errorf("retriever.keyword_backend must be 'bleve' or 'sqlite', got %s", c.Retriever.KeywordBackend)
	}
	if c.Retriever.TopK < 1 {
		return fmt.Errorf("retriever.top_k must be positive, got %d", c.Retriever.TopK)
	}
	if c.Retriever.ChunkSize < 1 {
		return fmt.Errorf("retriever.chunk_size must be positive, got %d", c.Retriever.ChunkSize)
	}
	if c.Retriever.ChunkOverlap < 0 || c.Retriever.ChunkOverlap >= c.Retriever.ChunkSize {
		return fmt.Errorf("retriever.chunk_overlap must be non-negative and smaller than chunk_size, got %d", c.Retriever.ChunkOverlap)
	}

	if c.Parser.Timeout != "" {
		if _, err := time.ParseDuration(c.Parser.Timeout); err != nil {
			return fmt.Errorf("parser.timeout is not a duration: %q", c.Parser.Timeout)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
