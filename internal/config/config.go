package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ajitpratap0/discovery-swarm/internal/classifier"
	"github.com/ajitpratap0/discovery-swarm/internal/extraction"
	"github.com/ajitpratap0/discovery-swarm/internal/identity"
	"github.com/ajitpratap0/discovery-swarm/internal/models"
	"github.com/ajitpratap0/discovery-swarm/internal/ratelimit"
	"github.com/ajitpratap0/discovery-swarm/internal/source"
	"github.com/ajitpratap0/discovery-swarm/internal/store"
	"github.com/ajitpratap0/discovery-swarm/internal/swarm"
	"github.com/ajitpratap0/discovery-swarm/internal/telemetry"
)

const (
	// DefaultResultsPerQuery is how many results each plan item asks a source for.
	DefaultResultsPerQuery = 25

	// DefaultMaxPlanItems bounds the query plan of a single run.
	DefaultMaxPlanItems = 500

	// DefaultScheduleInterval is the periodic run trigger used by serve.
	DefaultScheduleInterval = 6 * time.Hour
)

// Config holds all configuration for the discovery swarm.
type Config struct {
	Swarm      SwarmConfig      `mapstructure:"swarm"`
	Sources    SourcesConfig    `mapstructure:"sources"`
	RateLimits RateLimitsConfig `mapstructure:"rate_limits"`
	Store      StoreConfig      `mapstructure:"store"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Claude     ClaudeConfig     `mapstructure:"claude"`
	Telemetry  telemetry.Config `mapstructure:"telemetry"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	API        APIConfig        `mapstructure:"api"`
}

// SwarmConfig holds run planning and dispatch settings.
type SwarmConfig struct {
	Industries            []string       `mapstructure:"industries"`
	Locations             []string       `mapstructure:"locations"`
	IndicatorTerms        []string       `mapstructure:"indicator_terms"`
	ComplianceTerms       []string       `mapstructure:"compliance_terms"`
	TargetCount           int            `mapstructure:"target_count"`
	MaxPlanItems          int            `mapstructure:"max_plan_items"`
	ResultsPerQuery       int            `mapstructure:"results_per_query"`
	Concurrency           map[string]int `mapstructure:"concurrency"`
	MaxAttempts           int            `mapstructure:"max_attempts"`
	BaseBackoff           time.Duration  `mapstructure:"base_backoff"`
	MaxBackoff            time.Duration  `mapstructure:"max_backoff"`
	CallTimeout           time.Duration  `mapstructure:"call_timeout"`
	MaxRequeues           int            `mapstructure:"max_requeues"`
	MaxRequeueDelay       time.Duration  `mapstructure:"max_requeue_delay"`
	StoreFailureThreshold int            `mapstructure:"store_failure_threshold"`
	ScheduleInterval      time.Duration  `mapstructure:"schedule_interval"`
}

// SourceConfig enables one source variant.
type SourceConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ClientConfig converts to the adapter HTTP client settings.
func (s SourceConfig) ClientConfig() source.ClientConfig {
	return source.ClientConfig{BaseURL: s.BaseURL, APIKey: s.APIKey, Timeout: s.Timeout}
}

// SourcesConfig holds the adapter endpoints. When FixturesFile is set, fixture
// adapters from that file replace the HTTP adapters for the types they cover.
type SourcesConfig struct {
	Web           SourceConfig `mapstructure:"web"`
	GovRegistry   SourceConfig `mapstructure:"gov_registry"`
	Social        SourceConfig `mapstructure:"social"`
	News          SourceConfig `mapstructure:"news"`
	IndustryAssoc SourceConfig `mapstructure:"industry_assoc"`
	FixturesFile  string       `mapstructure:"fixtures_file"`
}

// ByType returns the per-variant settings keyed by source type.
func (s SourcesConfig) ByType() map[models.SourceType]SourceConfig {
	return map[models.SourceType]SourceConfig{
		models.SourceWeb:           s.Web,
		models.SourceGovRegistry:   s.GovRegistry,
		models.SourceSocial:        s.Social,
		models.SourceNews:          s.News,
		models.SourceIndustryAssoc: s.IndustryAssoc,
	}
}

// PolicyConfig is the rate budget for one source.
type PolicyConfig struct {
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
	MaxWait     time.Duration `mapstructure:"max_wait"`
}

// Policy converts to a ratelimit.Policy.
func (p PolicyConfig) Policy() ratelimit.Policy {
	return ratelimit.Policy{MaxRequests: p.MaxRequests, Window: p.Window, MaxWait: p.MaxWait}
}

// RedisConfig holds the shared rate limit bucket connection.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RateLimitsConfig holds per-source budgets.
type RateLimitsConfig struct {
	// Backend is "local" (in-process token buckets) or "redis" (shared across processes).
	Backend string                  `mapstructure:"backend"`
	Default PolicyConfig            `mapstructure:"default"`
	Sources map[string]PolicyConfig `mapstructure:"sources"`
	Redis   RedisConfig             `mapstructure:"redis"`
}

// Policies returns the per-source policies.
func (r RateLimitsConfig) Policies() map[string]ratelimit.Policy {
	out := make(map[string]ratelimit.Policy, len(r.Sources))
	for k, p := range r.Sources {
		out[k] = p.Policy()
	}
	return out
}

// Neo4jConfig holds graph store connection settings.
type Neo4jConfig struct {
	URI      string        `mapstructure:"uri"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Database string        `mapstructure:"database"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Backend     string      `mapstructure:"backend"`
	SQLitePath  string      `mapstructure:"sqlite_path"`
	PostgresDSN string      `mapstructure:"postgres_dsn"`
	Neo4j       Neo4jConfig `mapstructure:"neo4j"`
}

// Options converts to store.Options.
func (s StoreConfig) Options() store.Options {
	return store.Options{
		Backend:     s.Backend,
		SQLitePath:  s.SQLitePath,
		PostgresDSN: s.PostgresDSN,
		Neo4j: store.Neo4jConfig{
			URI:      s.Neo4j.URI,
			Username: s.Neo4j.Username,
			Password: s.Neo4j.Password,
			Database: s.Neo4j.Database,
			Timeout:  s.Neo4j.Timeout,
		},
	}
}

// ScoringConfig holds classifier confidence settings.
type ScoringConfig struct {
	BaseConfidence     map[string]int `mapstructure:"base_confidence"`
	CorroborationBonus int            `mapstructure:"corroboration_bonus"`
	PerSourceBonus     int            `mapstructure:"per_source_bonus"`
	MaxBonus           int            `mapstructure:"max_bonus"`
}

// Policy converts to a classifier.Policy.
func (s ScoringConfig) Policy() classifier.Policy {
	base := make(map[models.SourceType]int, len(s.BaseConfidence))
	for k, v := range s.BaseConfidence {
		base[models.SourceType(k)] = v
	}
	return classifier.Policy{
		BaseConfidence:     base,
		CorroborationBonus: s.CorroborationBonus,
		PerSourceBonus:     s.PerSourceBonus,
		MaxBonus:           s.MaxBonus,
	}
}

// ExtractionConfig holds normalization settings.
type ExtractionConfig struct {
	AggregatorDomains []string `mapstructure:"aggregator_domains"`
	MaxNameKeyLength  int      `mapstructure:"max_name_key_length"`
	DefaultCountry    string   `mapstructure:"default_country"`
}

// ClaudeConfig holds Anthropic Claude API settings.
type ClaudeConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// String returns a safe representation of ClaudeConfig with the API key masked.
func (c ClaudeConfig) String() string {
	return fmt.Sprintf("ClaudeConfig{APIKey:%s, Model:%s}", maskAPIKey(c.APIKey), c.Model)
}

// maskAPIKey shows first 4 + last 4 chars, replacing the middle with asterisks.
func maskAPIKey(key string) string {
	const visible = 4
	if len(key) <= visible*2 {
		return "***"
	}
	return key[:visible] + "****" + key[len(key)-visible:]
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	AuthToken  string `mapstructure:"auth_token"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(homeDir(), ".discovery-swarm"))
	v.AddConfigPath(".")

	// Environment variables
	v.SetEnvPrefix("DISCOVERY_SWARM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("claude.api_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("store.postgres_dsn", "DISCOVERY_SWARM_STORE_POSTGRES_DSN", "DATABASE_URL")
	_ = v.BindEnv("telemetry.otlp_endpoint", "DISCOVERY_SWARM_TELEMETRY_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return decode(v)
}

// LoadFile reads configuration from one explicit file plus the environment.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix("DISCOVERY_SWARM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("claude.api_key", "ANTHROPIC_API_KEY")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	retry := swarm.DefaultRetryPolicy()
	sw := swarm.DefaultConfig()
	v.SetDefault("swarm.industries", []string{})
	v.SetDefault("swarm.locations", []string{})
	v.SetDefault("swarm.indicator_terms", extraction.DefaultIndicatorTerms)
	v.SetDefault("swarm.compliance_terms", extraction.DefaultComplianceTerms)
	v.SetDefault("swarm.target_count", 0)
	v.SetDefault("swarm.max_plan_items", DefaultMaxPlanItems)
	v.SetDefault("swarm.results_per_query", DefaultResultsPerQuery)
	for st, n := range sw.DefaultConcurrency {
		v.SetDefault("swarm.concurrency."+string(st), n)
	}
	v.SetDefault("swarm.max_attempts", retry.MaxAttempts)
	v.SetDefault("swarm.base_backoff", retry.BaseBackoff)
	v.SetDefault("swarm.max_backoff", retry.MaxBackoff)
	v.SetDefault("swarm.call_timeout", sw.CallTimeout)
	v.SetDefault("swarm.max_requeues", 50)
	v.SetDefault("swarm.max_requeue_delay", sw.MaxRequeueDelay)
	v.SetDefault("swarm.store_failure_threshold", sw.StoreFailureThreshold)
	v.SetDefault("swarm.schedule_interval", DefaultScheduleInterval)

	for _, st := range models.ValidSourceTypes {
		v.SetDefault("sources."+string(st)+".enabled", false)
		v.SetDefault("sources."+string(st)+".timeout", 20*time.Second)
	}
	v.SetDefault("sources.fixtures_file", "")

	def := ratelimit.DefaultPolicy()
	v.SetDefault("rate_limits.backend", "local")
	v.SetDefault("rate_limits.default.max_requests", def.MaxRequests)
	v.SetDefault("rate_limits.default.window", def.Window)
	v.SetDefault("rate_limits.default.max_wait", def.MaxWait)
	v.SetDefault("rate_limits.redis.addr", "localhost:6379")
	v.SetDefault("rate_limits.redis.db", 0)

	v.SetDefault("store.backend", store.BackendSQLite)
	v.SetDefault("store.sqlite_path", filepath.Join(homeDir(), ".discovery-swarm", "discovery.db"))
	v.SetDefault("store.neo4j.uri", "neo4j://localhost:7687")
	v.SetDefault("store.neo4j.username", "neo4j")
	v.SetDefault("store.neo4j.database", "neo4j")
	v.SetDefault("store.neo4j.timeout", 10*time.Second)

	pol := classifier.DefaultPolicy()
	for st, c := range pol.BaseConfidence {
		v.SetDefault("scoring.base_confidence."+string(st), c)
	}
	v.SetDefault("scoring.corroboration_bonus", pol.CorroborationBonus)
	v.SetDefault("scoring.per_source_bonus", pol.PerSourceBonus)
	v.SetDefault("scoring.max_bonus", pol.MaxBonus)

	v.SetDefault("extraction.aggregator_domains", extraction.DefaultAggregatorDomains)
	v.SetDefault("extraction.max_name_key_length", identity.DefaultMaxNameKeyLength)
	v.SetDefault("extraction.default_country", "CA")

	v.SetDefault("claude.model", "claude-haiku-4-5-20251001")

	v.SetDefault("telemetry.service_name", "discovery-swarm")
	v.SetDefault("telemetry.sample_rate", 1.0)
	v.SetDefault("telemetry.insecure", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.auth_token", "")
}

// Validate checks that required configuration fields are set and consistent.
func (c *Config) Validate() error {
	if err := c.validateSwarm(); err != nil {
		return err
	}
	for st, s := range c.Sources.ByType() {
		if s.Enabled && s.BaseURL == "" && c.Sources.FixturesFile == "" {
			return fmt.Errorf("sources.%s.base_url must not be empty when the source is enabled", st)
		}
		if s.Timeout < 0 {
			return fmt.Errorf("sources.%s.timeout must be >= 0", st)
		}
	}
	if err := c.validateRateLimits(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.Scoring.Policy().Validate(); err != nil {
		return err
	}
	if c.Extraction.MaxNameKeyLength <= 0 {
		return fmt.Errorf("extraction.max_name_key_length must be greater than 0")
	}
	if r := c.Telemetry.SampleRate; r < 0 || r > 1 {
		return fmt.Errorf("telemetry.sample_rate must be between 0 and 1")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateSwarm() error {
	s := c.Swarm
	if s.TargetCount < 0 {
		return fmt.Errorf("swarm.target_count must be >= 0")
	}
	if s.MaxPlanItems < 0 {
		return fmt.Errorf("swarm.max_plan_items must be >= 0")
	}
	if s.ResultsPerQuery <= 0 {
		return fmt.Errorf("swarm.results_per_query must be greater than 0")
	}
	for k, n := range s.Concurrency {
		if !models.SourceType(k).IsValid() {
			return fmt.Errorf("swarm.concurrency: unknown source type %q", k)
		}
		if n <= 0 {
			return fmt.Errorf("swarm.concurrency.%s must be greater than 0", k)
		}
	}
	if s.MaxAttempts <= 0 {
		return fmt.Errorf("swarm.max_attempts must be greater than 0")
	}
	if s.BaseBackoff < 0 || s.MaxBackoff < 0 {
		return fmt.Errorf("swarm.base_backoff and swarm.max_backoff must be >= 0")
	}
	if s.MaxBackoff > 0 && s.MaxBackoff < s.BaseBackoff {
		return fmt.Errorf("swarm.max_backoff (%s) must not be less than swarm.base_backoff (%s)", s.MaxBackoff, s.BaseBackoff)
	}
	if s.CallTimeout <= 0 {
		return fmt.Errorf("swarm.call_timeout must be greater than 0")
	}
	if s.MaxRequeues < 0 {
		return fmt.Errorf("swarm.max_requeues must be >= 0")
	}
	if s.MaxRequeueDelay < 0 {
		return fmt.Errorf("swarm.max_requeue_delay must be >= 0")
	}
	if s.StoreFailureThreshold < 0 {
		return fmt.Errorf("swarm.store_failure_threshold must be >= 0")
	}
	if s.ScheduleInterval < 0 {
		return fmt.Errorf("swarm.schedule_interval must be >= 0")
	}
	return nil
}

func (c *Config) validateRateLimits() error {
	r := c.RateLimits
	switch r.Backend {
	case "local":
	case "redis":
		if r.Redis.Addr == "" {
			return fmt.Errorf("rate_limits.redis.addr must not be empty when rate_limits.backend is redis")
		}
	default:
		return fmt.Errorf("rate_limits.backend %q must be local or redis", r.Backend)
	}
	if err := r.Default.Policy().Validate(); err != nil {
		return fmt.Errorf("rate_limits.default: %w", err)
	}
	for k, p := range r.Sources {
		if !models.SourceType(k).IsValid() {
			return fmt.Errorf("rate_limits.sources: unknown source type %q", k)
		}
		if err := p.Policy().Validate(); err != nil {
			return fmt.Errorf("rate_limits.sources.%s: %w", k, err)
		}
	}
	return nil
}

func (c *Config) validateStore() error {
	s := c.Store
	switch s.Backend {
	case store.BackendMemory:
	case store.BackendSQLite:
		if s.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path must not be empty when store.backend is sqlite")
		}
	case store.BackendPostgres:
		if s.PostgresDSN == "" {
			return fmt.Errorf("store.postgres_dsn must not be empty when store.backend is postgres")
		}
	case store.BackendNeo4j:
		if s.Neo4j.URI == "" {
			return fmt.Errorf("store.neo4j.uri must not be empty when store.backend is neo4j")
		}
	default:
		return fmt.Errorf("store.backend %q must be one of memory, sqlite, postgres, neo4j", s.Backend)
	}
	return nil
}

// RunConfig builds the run configuration from the swarm section.
func (c *Config) RunConfig() swarm.RunConfig {
	conc := make(map[models.SourceType]int, len(c.Swarm.Concurrency))
	for k, n := range c.Swarm.Concurrency {
		conc[models.SourceType(k)] = n
	}
	return swarm.RunConfig{
		Industries:           c.Swarm.Industries,
		Locations:            c.Swarm.Locations,
		IndicatorTerms:       c.Swarm.IndicatorTerms,
		TargetCount:          c.Swarm.TargetCount,
		ConcurrencyPerSource: conc,
		MaxPlanItems:         c.Swarm.MaxPlanItems,
		ResultsPerQuery:      c.Swarm.ResultsPerQuery,
		MaxRequeues:          c.Swarm.MaxRequeues,
	}
}

// OrchestratorConfig builds the orchestrator settings from the swarm section.
func (c *Config) OrchestratorConfig() swarm.Config {
	cfg := swarm.DefaultConfig()
	cfg.Retry = swarm.RetryPolicy{
		MaxAttempts: c.Swarm.MaxAttempts,
		BaseBackoff: c.Swarm.BaseBackoff,
		MaxBackoff:  c.Swarm.MaxBackoff,
	}
	cfg.CallTimeout = c.Swarm.CallTimeout
	cfg.StoreFailureThreshold = c.Swarm.StoreFailureThreshold
	if c.Swarm.MaxRequeueDelay > 0 {
		cfg.MaxRequeueDelay = c.Swarm.MaxRequeueDelay
	}
	return cfg
}

// ExtractionEngineConfig builds the extraction engine settings.
func (c *Config) ExtractionEngineConfig() extraction.Config {
	return extraction.Config{
		IndicatorTerms:    c.Swarm.IndicatorTerms,
		ComplianceTerms:   c.Swarm.ComplianceTerms,
		AggregatorDomains: c.Extraction.AggregatorDomains,
		DefaultCountry:    c.Extraction.DefaultCountry,
	}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
