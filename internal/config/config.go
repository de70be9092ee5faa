package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the full runtime configuration, loaded from environment
// variables with the ATTRIB prefix, optionally overlaid on a yaml file.
type Config struct {
	Store      StoreConfig
	OpenAI     OpenAIConfig
	Anthropic  AnthropicConfig
	Cascade    CascadeConfig
	Retrieval  RetrievalConfig
	Guardrails GuardrailConfig
	Hooks      HooksConfig
	Server     ServerConfig
	Log        LogConfig
}

type StoreConfig struct {
	DatabaseURL string
	MaxConns    int32
	MinConns    int32
}

type OpenAIConfig struct {
	Key        string
	BaseURL    string
	Models     []string
	EmbedModel string
	RPS        float64
}

type AnthropicConfig struct {
	Key    string
	Models []string
}

type CascadeConfig struct {
	MaxStages           int
	StageTimeoutSecs    int
	MaxTokens           int
	PromptVersion       string
	AutoAssignThreshold float64
	ReviewThreshold     float64
}

type RetrievalConfig struct {
	MaxCandidates        int
	FloaterMaxCandidates int
	SourceTimeoutSecs    int
	MaxTranscriptChars   int
	MaxAliasTerms        int
	FTSLimit             int
	TrigramLimit         int
	TrigramThreshold     float64
	VectorLimit          int
	GeoMaxDistanceKM     float64
	GeoMaxCandidates     int
	RRFSmoothingK        int
}

type GuardrailConfig struct {
	StaffNames          []string
	MaxFactsPerProject  int
	OverrideGatesPath   string
	OverrideGateUpgrade bool
}

type HooksConfig struct {
	JournalExtractURL string
	SummaryURL        string
	QueueSize         int
	TimeoutSecs       int
}

type ServerConfig struct {
	Addr string
}

type LogConfig struct {
	Level string
	JSON  bool
}

// Load reads configuration from the environment (prefix ATTRIB) and from an
// optional config file when path is non-empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ATTRIB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, eris.Wrap(err, "config: read config file")
		}
	}

	cfg := &Config{
		Store: StoreConfig{
			DatabaseURL: v.GetString("database_url"),
			MaxConns:    v.GetInt32("store.max_conns"),
			MinConns:    v.GetInt32("store.min_conns"),
		},
		OpenAI: OpenAIConfig{
			Key:        v.GetString("openai.key"),
			BaseURL:    v.GetString("openai.base_url"),
			Models:     v.GetStringSlice("openai.models"),
			EmbedModel: v.GetString("openai.embed_model"),
			RPS:        v.GetFloat64("openai.rps"),
		},
		Anthropic: AnthropicConfig{
			Key:    v.GetString("anthropic.key"),
			Models: v.GetStringSlice("anthropic.models"),
		},
		Cascade: CascadeConfig{
			MaxStages:           v.GetInt("cascade.max_stages"),
			StageTimeoutSecs:    v.GetInt("cascade.stage_timeout_secs"),
			MaxTokens:           v.GetInt("cascade.max_tokens"),
			PromptVersion:       v.GetString("cascade.prompt_version"),
			AutoAssignThreshold: v.GetFloat64("cascade.auto_assign_threshold"),
			ReviewThreshold:     v.GetFloat64("cascade.review_threshold"),
		},
		Retrieval: RetrievalConfig{
			MaxCandidates:        v.GetInt("retrieval.max_candidates"),
			FloaterMaxCandidates: v.GetInt("retrieval.floater_max_candidates"),
			SourceTimeoutSecs:    v.GetInt("retrieval.source_timeout_secs"),
			MaxTranscriptChars:   v.GetInt("retrieval.max_transcript_chars"),
			MaxAliasTerms:        v.GetInt("retrieval.max_alias_terms"),
			FTSLimit:             v.GetInt("retrieval.fts_limit"),
			TrigramLimit:         v.GetInt("retrieval.trigram_limit"),
			TrigramThreshold:     v.GetFloat64("retrieval.trigram_threshold"),
			VectorLimit:          v.GetInt("retrieval.vector_limit"),
			GeoMaxDistanceKM:     v.GetFloat64("retrieval.geo_max_distance_km"),
			GeoMaxCandidates:     v.GetInt("retrieval.geo_max_candidates"),
			RRFSmoothingK:        v.GetInt("retrieval.rrf_smoothing_k"),
		},
		Guardrails: GuardrailConfig{
			StaffNames:          v.GetStringSlice("guardrails.staff_names"),
			MaxFactsPerProject:  v.GetInt("guardrails.max_facts_per_project"),
			OverrideGatesPath:   v.GetString("guardrails.override_gates_path"),
			OverrideGateUpgrade: v.GetBool("guardrails.override_gate_upgrade"),
		},
		Hooks: HooksConfig{
			JournalExtractURL: v.GetString("hooks.journal_extract_url"),
			SummaryURL:        v.GetString("hooks.summary_url"),
			QueueSize:         v.GetInt("hooks.queue_size"),
			TimeoutSecs:       v.GetInt("hooks.timeout_secs"),
		},
		Server: ServerConfig{
			Addr: v.GetString("server.addr"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
			JSON:  v.GetBool("log.json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.max_conns", 8)
	v.SetDefault("store.min_conns", 1)

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.models", []string{"gpt-4o-mini", "gpt-4o", "gpt-4.1"})
	v.SetDefault("openai.embed_model", "text-embedding-3-small")
	v.SetDefault("openai.rps", 4.0)

	v.SetDefault("anthropic.models", []string{
		"claude-haiku-4-5-20251001",
		"claude-sonnet-4-5-20250929",
		"claude-opus-4-6",
	})

	v.SetDefault("cascade.max_stages", 3)
	v.SetDefault("cascade.stage_timeout_secs", 12)
	v.SetDefault("cascade.max_tokens", 1024)
	v.SetDefault("cascade.prompt_version", "v2.0.0")
	v.SetDefault("cascade.auto_assign_threshold", 0.75)
	v.SetDefault("cascade.review_threshold", 0.50)

	v.SetDefault("retrieval.max_candidates", 8)
	v.SetDefault("retrieval.floater_max_candidates", 12)
	v.SetDefault("retrieval.source_timeout_secs", 5)
	v.SetDefault("retrieval.max_transcript_chars", 8000)
	v.SetDefault("retrieval.max_alias_terms", 25)
	v.SetDefault("retrieval.fts_limit", 20)
	v.SetDefault("retrieval.trigram_limit", 20)
	v.SetDefault("retrieval.trigram_threshold", 0.4)
	v.SetDefault("retrieval.vector_limit", 20)
	v.SetDefault("retrieval.geo_max_distance_km", 50.0)
	v.SetDefault("retrieval.geo_max_candidates", 5)
	v.SetDefault("retrieval.rrf_smoothing_k", 60)

	v.SetDefault("guardrails.staff_names", []string{
		"zack sittler", "zachary sittler", "zach sittler", "chad barlow",
	})
	v.SetDefault("guardrails.max_facts_per_project", 20)
	v.SetDefault("guardrails.override_gate_upgrade", true)

	v.SetDefault("hooks.queue_size", 64)
	v.SetDefault("hooks.timeout_secs", 10)

	v.SetDefault("server.addr", ":8087")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// Validate checks the invariants the rest of the system assumes.
func (c *Config) Validate() error {
	if c.Store.DatabaseURL == "" {
		return eris.New("config: ATTRIB_DATABASE_URL is required")
	}
	if c.OpenAI.Key == "" && c.Anthropic.Key == "" {
		return eris.New("config: at least one provider key is required")
	}
	if c.Cascade.ReviewThreshold >= c.Cascade.AutoAssignThreshold {
		return eris.New("config: review threshold must be below auto-assign threshold")
	}
	if c.Retrieval.MaxCandidates <= 0 {
		return eris.New("config: retrieval max_candidates must be positive")
	}
	return nil
}

// InitLogger installs the global zap logger at the configured level.
func InitLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, eris.Wrap(err, "config: parse log level")
	}

	var zc zap.Config
	if cfg.JSON {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level

	logger, err := zc.Build()
	if err != nil {
		return nil, eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}
