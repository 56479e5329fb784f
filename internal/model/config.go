package model

import "time"

// Config is the complete solvency configuration. Defaults come from
// DefaultConfig; the CLI layers config file, SOLVENCY_* env vars and flags
// on top through viper.
type Config struct {
	Server      ServerConfig        `yaml:"server" mapstructure:"server"`
	Pipeline    PipelineConfig      `yaml:"pipeline" mapstructure:"pipeline"`
	Breaker     BreakerConfig       `yaml:"breaker" mapstructure:"breaker"`
	Retry       RetryConfig         `yaml:"retry" mapstructure:"retry"`
	RateLimit   RateLimitConfig     `yaml:"rate_limit" mapstructure:"rate_limit"`
	Citation    CitationConfig      `yaml:"citation" mapstructure:"citation"`
	Audit       AuditConfig         `yaml:"audit" mapstructure:"audit"`
	State       StateConfig         `yaml:"state" mapstructure:"state"`
	Cache       CacheConfig         `yaml:"cache" mapstructure:"cache"`
	HTTP        HTTPConfig          `yaml:"http" mapstructure:"http"`
	LLM         LLMConfig           `yaml:"llm" mapstructure:"llm"`
	Stages      StagesConfig        `yaml:"stages" mapstructure:"stages"`
	Routes      map[string][]string `yaml:"routes,omitempty" mapstructure:"routes"` // Per-intent route overrides
	Concurrency ConcurrencyConfig   `yaml:"concurrency" mapstructure:"concurrency"`
	Logging     LoggingConfig       `yaml:"logging" mapstructure:"logging"`
}

// ServerConfig configures the JSON-RPC listener
type ServerConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// PipelineConfig configures the gate pipeline
type PipelineConfig struct {
	MaxRevisions int           `yaml:"max_revisions" mapstructure:"max_revisions"`
	StateTTL     time.Duration `yaml:"state_ttl" mapstructure:"state_ttl"` // How long a request's resume point and revision budget are kept
}

// BreakerConfig configures per-stage circuit breakers
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown" mapstructure:"cooldown"`
	MaxCooldown      time.Duration `yaml:"max_cooldown" mapstructure:"max_cooldown"`
}

// RetryConfig configures retries of transient stage failures
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	JitterFraction float64       `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	CallTimeout    time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
}

// RateLimitConfig bounds calls per downstream stage
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// CitationConfig holds the shared citation policy
type CitationConfig struct {
	MinCitations             int               `yaml:"min_citations" mapstructure:"min_citations"`
	MinTiers                 int               `yaml:"min_tiers" mapstructure:"min_tiers"`
	MinIndependentSources    int               `yaml:"min_independent_sources" mapstructure:"min_independent_sources"`
	RequireCrossVerification bool              `yaml:"require_cross_verification" mapstructure:"require_cross_verification"`
	TierADomains             []string          `yaml:"tier_a_domains" mapstructure:"tier_a_domains"`
	TierBDomains             []string          `yaml:"tier_b_domains" mapstructure:"tier_b_domains"`
	DomainMap                map[string]string `yaml:"domain_map,omitempty" mapstructure:"domain_map"` // Explicit host -> tier overrides
}

// AuditConfig selects the audit log backend
type AuditConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"` // file, memory
	Path    string `yaml:"path" mapstructure:"path"`       // JSONL file; defaults to <state.dir>/audit.jsonl
}

// StateConfig locates persisted runtime state
type StateConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// CacheConfig configures the idempotency cache
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"` // Persist idempotency records under <state.dir>/cache
	TTL     time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// HTTPConfig configures outbound HTTP for link checks and remote stages
type HTTPConfig struct {
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent     string        `yaml:"user_agent" mapstructure:"user_agent"`
	HTTPProxy     string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy    string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy       string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
	RespectRobots bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
	LinkWorkers   int           `yaml:"link_workers" mapstructure:"link_workers"`
}

// LLMConfig configures the optional LLM reviewer stage
type LLMConfig struct {
	Provider  string   `yaml:"provider" mapstructure:"provider"` // openai, ollama, "" (disabled)
	Model     string   `yaml:"model" mapstructure:"model"`
	APIKey    string   `yaml:"-" mapstructure:"api_key"`
	BaseURL   string   `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout   int      `yaml:"timeout" mapstructure:"timeout"` // seconds
	MaxTokens int      `yaml:"max_tokens" mapstructure:"max_tokens"`
	Stages    []string `yaml:"stages,omitempty" mapstructure:"stages"` // Stage names served by the LLM reviewer
}

// StagesConfig maps stage names to remote agent endpoints
type StagesConfig struct {
	Remote map[string]string `yaml:"remote,omitempty" mapstructure:"remote"`
}

// ConcurrencyConfig sizes the batch worker pool
type ConcurrencyConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // text, json
	File   string `yaml:"file,omitempty" mapstructure:"file"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8780,
			MaxBodyBytes: 1 << 20,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 2 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		Pipeline: PipelineConfig{MaxRevisions: 3, StateTTL: 30 * 24 * time.Hour},
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			Cooldown:         30 * time.Second,
			MaxCooldown:      10 * time.Minute,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			BaseDelay:      250 * time.Millisecond,
			MaxDelay:       5 * time.Second,
			JitterFraction: 0.2,
			CallTimeout:    20 * time.Second,
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: 20, Burst: 5},
		Citation: CitationConfig{
			MinCitations:             3,
			MinTiers:                 2,
			MinIndependentSources:    2,
			RequireCrossVerification: true,
			TierADomains: []string{
				"federalreserve.gov", "bea.gov", "treasury.gov", "cbo.gov", "bls.gov",
				"census.gov", "gao.gov", "congress.gov", "bis.org", "imf.org",
				"worldbank.org", "oecd.org", "dtcc.com",
			},
			TierBDomains: []string{
				"brookings.edu", "nber.org", "urban.org", "pewresearch.org",
				"taxpolicycenter.org", "crfb.org", "jstor.org", "ssrn.com",
				"sciencedirect.com", "american.edu",
			},
		},
		Audit: AuditConfig{Backend: "file"},
		State: StateConfig{Dir: ".solvency"},
		Cache: CacheConfig{Enabled: true, TTL: 24 * time.Hour},
		HTTP: HTTPConfig{
			Timeout:       10 * time.Second,
			UserAgent:     "Solvency/0.3 (+https://github.com/unburden/solvency)",
			RespectRobots: true,
			LinkWorkers:   8,
		},
		LLM: LLMConfig{
			Timeout:   30,
			MaxTokens: 800,
		},
		Concurrency: ConcurrencyConfig{Workers: 4},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
