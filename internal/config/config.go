// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, storage backends, the generation engine, delivery tuning, rate
// limiting and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-routine-backend")
	Environment string  // DEPLOYMENT_ENV (e.g. "staging"); resource attribute only
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects the durable store.
type DBConfig struct {
	Driver string // DB_DRIVER: sqlite|postgres
	Path   string // DB_PATH (sqlite)
	URL    string // DATABASE_URL (postgres)
}

// RedisConfig points at the Cache Store. An empty Addr selects the
// in-process store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LLMConfig configures the hosted model.
type LLMConfig struct {
	Provider      string // openai|gemini
	APIKey        string // OPENAI_API_KEY or GEMINI_API_KEY, by provider
	BaseURL       string
	Model         string
	MaxTokens     int
	Temperature   float64
	ProgressEvery int // chunks between progress events
}

// RoutineConfig tunes the orchestrator.
type RoutineConfig struct {
	CacheTTL          time.Duration // ROUTINE_CACHE_TTL
	ChannelTTL        time.Duration // CHANNEL_TTL
	SessionTTL        time.Duration // SESSION_TTL
	ProductsCacheTTL  time.Duration // PRODUCTS_CACHE_TTL
	ProductLimit      int           // PRODUCTS_DEFAULT_LIMIT
	ShortlistSize     int           // PRODUCTS_SHORTLIST
	GenerationTimeout time.Duration // GENERATION_TIMEOUT
	Dedup             string        // GENERATION_DEDUP: none|singleflight
	DirectMaxWait     time.Duration // DIRECT_MAX_WAIT
	ProfilesPath      string        // PROFILES_PATH, empty = embedded dataset
}

// SSEConfig tunes the streaming adapter.
type SSEConfig struct {
	PollInterval time.Duration
	MaxDuration  time.Duration
	Heartbeat    time.Duration
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // 0 disables; SSE streams outlive any short value
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	MaxBodyBytes      int64         // request body cap
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	LogRedact      bool   // scrub secrets and PII from access logs
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DB    DBConfig
	Redis RedisConfig

	// Generation
	LLM     LLMConfig
	Routine RoutineConfig
	SSE     SSEConfig

	// Rate limiting
	RateRPS       float64       // tokens per second (>= 0)
	RateBurst     int           // bucket size (>= 1)
	RateWindow    time.Duration // fixed window of the Redis limiter
	RateWindowMax int           // generate requests per window; 0 disables

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	provider := strings.ToLower(getenv("LLM_PROVIDER", "openai"))

	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 0),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:      int64(getint("MAX_BODY_BYTES", 2<<20)),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		LogRedact:      getbool("LOG_REDACT", true),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "app.db"),
			URL:    getenv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Addr:     getenv("REDIS_ADDR", ""),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getint("REDIS_DB", 0),
		},

		// Generation
		LLM: LLMConfig{
			Provider:      provider,
			MaxTokens:     getint("LLM_MAX_TOKENS", 5000),
			Temperature:   getfloat("LLM_TEMPERATURE", 0.2),
			ProgressEvery: getint("LLM_PROGRESS_EVERY", 10),
		},
		Routine: RoutineConfig{
			CacheTTL:          getdur("ROUTINE_CACHE_TTL", time.Hour),
			ChannelTTL:        getdur("CHANNEL_TTL", 5*time.Minute),
			SessionTTL:        getdur("SESSION_TTL", 10*time.Minute),
			ProductsCacheTTL:  getdur("PRODUCTS_CACHE_TTL", 10*time.Minute),
			ProductLimit:      getint("PRODUCTS_DEFAULT_LIMIT", 200),
			ShortlistSize:     getint("PRODUCTS_SHORTLIST", 60),
			GenerationTimeout: getdur("GENERATION_TIMEOUT", 90*time.Second),
			Dedup:             strings.ToLower(getenv("GENERATION_DEDUP", "none")),
			DirectMaxWait:     getdur("DIRECT_MAX_WAIT", 90*time.Second),
			ProfilesPath:      getenv("PROFILES_PATH", ""),
		},
		SSE: SSEConfig{
			PollInterval: getdur("SSE_POLL_INTERVAL", 500*time.Millisecond),
			MaxDuration:  getdur("SSE_MAX_DURATION", 2*time.Minute),
			Heartbeat:    getdur("SSE_HEARTBEAT", 15*time.Second),
		},

		// Rate limiting
		RateRPS:       getfloat("RATE_RPS", 5.0),
		RateBurst:     getint("RATE_BURST", 10),
		RateWindow:    getdur("RATE_WINDOW", time.Minute),
		RateWindowMax: getint("RATE_WINDOW_MAX", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-routine-backend"),
			Environment: getenv("DEPLOYMENT_ENV", ""),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	switch provider {
	case "gemini":
		cfg.LLM.APIKey = getenv("GEMINI_API_KEY", "")
		cfg.LLM.BaseURL = getenv("GEMINI_BASE_URL", "")
		cfg.LLM.Model = getenv("GEMINI_MODEL", "")
	default:
		cfg.LLM.APIKey = getenv("OPENAI_API_KEY", "")
		cfg.LLM.BaseURL = getenv("OPENAI_BASE_URL", "")
		cfg.LLM.Model = getenv("OPENAI_MODEL", "")
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" {
		cfg.DB.Driver = "postgres"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.IdleTimeout <= 0 || cfg.WriteTimeout < 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return cfg, errors.New("MAX_BODY_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return cfg, errors.New("DATABASE_URL is required for DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.Redis.DB < 0 {
		return cfg, errors.New("REDIS_DB must be >= 0")
	}
	switch cfg.LLM.Provider {
	case "openai", "gemini":
	default:
		return cfg, errors.New("LLM_PROVIDER must be one of: openai, gemini")
	}
	if cfg.LLM.MaxTokens <= 0 || cfg.LLM.ProgressEvery <= 0 {
		return cfg, errors.New("LLM_MAX_TOKENS and LLM_PROGRESS_EVERY must be > 0")
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return cfg, errors.New("LLM_TEMPERATURE must be in [0,2]")
	}
	r := cfg.Routine
	if r.CacheTTL <= 0 || r.ChannelTTL <= 0 || r.SessionTTL <= 0 || r.ProductsCacheTTL <= 0 {
		return cfg, errors.New("ROUTINE_CACHE_TTL, CHANNEL_TTL, SESSION_TTL and PRODUCTS_CACHE_TTL must be > 0")
	}
	if r.ProductLimit < 1 || r.ProductLimit > 1000 {
		return cfg, errors.New("PRODUCTS_DEFAULT_LIMIT must be in [1,1000]")
	}
	if r.ShortlistSize < 0 {
		return cfg, errors.New("PRODUCTS_SHORTLIST must be >= 0")
	}
	if r.GenerationTimeout <= 0 || r.DirectMaxWait <= 0 {
		return cfg, errors.New("GENERATION_TIMEOUT and DIRECT_MAX_WAIT must be > 0")
	}
	switch r.Dedup {
	case "none", "singleflight":
	default:
		return cfg, errors.New("GENERATION_DEDUP must be one of: none, singleflight")
	}
	if cfg.SSE.PollInterval <= 0 || cfg.SSE.MaxDuration <= 0 || cfg.SSE.Heartbeat <= 0 {
		return cfg, errors.New("SSE_POLL_INTERVAL, SSE_MAX_DURATION and SSE_HEARTBEAT must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.RateWindow <= 0 || cfg.RateWindowMax < 0 {
		return cfg, errors.New("RATE_WINDOW must be > 0 and RATE_WINDOW_MAX >= 0")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
