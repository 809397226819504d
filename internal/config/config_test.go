package config

import (
	"os"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"
)

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

func TestMustLoad_Success_NoPanic(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("MustLoad should not panic on valid defaults, got: %v", r)
		}
	}()
	cfg := MustLoad()
	if cfg.APIBasePath == "" {
		t.Fatalf("unexpected empty config from MustLoad")
	}
}

// --- Load success + normalization + parsing ---

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.APIBasePath != "/api/v1" || !cfg.LogRedact || cfg.WriteTimeout != 0 {
		t.Fatalf("server defaults unexpected: %+v", cfg)
	}
	if cfg.DB.Driver != "sqlite" || cfg.DB.Path != "app.db" || cfg.Redis.Addr != "" {
		t.Fatalf("storage defaults unexpected: %+v %+v", cfg.DB, cfg.Redis)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.MaxTokens != 5000 || cfg.LLM.ProgressEvery != 10 {
		t.Fatalf("llm defaults unexpected: %+v", cfg.LLM)
	}
	want := RoutineConfig{
		CacheTTL:          time.Hour,
		ChannelTTL:        5 * time.Minute,
		SessionTTL:        10 * time.Minute,
		ProductsCacheTTL:  10 * time.Minute,
		ProductLimit:      200,
		ShortlistSize:     60,
		GenerationTimeout: 90 * time.Second,
		Dedup:             "none",
		DirectMaxWait:     90 * time.Second,
	}
	if cfg.Routine != want {
		t.Fatalf("routine defaults = %+v; want %+v", cfg.Routine, want)
	}
	if cfg.SSE != (SSEConfig{PollInterval: 500 * time.Millisecond, MaxDuration: 2 * time.Minute, Heartbeat: 15 * time.Second}) {
		t.Fatalf("sse defaults unexpected: %+v", cfg.SSE)
	}
	if cfg.RateWindow != time.Minute || cfg.RateWindowMax != 10 {
		t.Fatalf("window limiter defaults unexpected: %v %d", cfg.RateWindow, cfg.RateWindowMax)
	}
	if cfg.OTEL.ServiceName != "go-routine-backend" {
		t.Fatalf("otel service name = %q", cfg.OTEL.ServiceName)
	}
}

func TestLoad_Success_Overrides(t *testing.T) {
	// Server timeouts / sizes (valid)
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	// Logging / Docs
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("LOG_REDACT", "off")
	t.Setenv("SWAGGER_ENABLED", "on")
	t.Setenv("API_BASE_PATH", "api/v1/") // -> "/api/v1"

	// Storage
	t.Setenv("DB_DRIVER", "PostgreSQL")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/routines")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "2")

	// Generation
	t.Setenv("LLM_PROVIDER", "Gemini")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("GEMINI_MODEL", "gemini-x")
	t.Setenv("OPENAI_API_KEY", "ignored")
	t.Setenv("GENERATION_DEDUP", "singleflight")
	t.Setenv("GENERATION_TIMEOUT", "30s")
	t.Setenv("PROFILES_PATH", "profiles.yaml")
	t.Setenv("SSE_POLL_INTERVAL", "250ms")

	// Rate limiting (use invalids for parse to fall back to defaults)
	t.Setenv("RATE_RPS", "x")      // -> default 5.0
	t.Setenv("RATE_BURST", "nope") // -> default 10
	t.Setenv("RATE_WINDOW_MAX", "0")

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")
	t.Setenv("IDEMPOTENCY_TTL", "48h")

	// OTEL
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")
	t.Setenv("DEPLOYMENT_ENV", "staging")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}
	if cfg.LogLevel != "warn" || !cfg.LogPretty || cfg.LogRedact || !cfg.SwaggerEnabled || cfg.APIBasePath != "/api/v1" {
		t.Fatalf("logging/docs unexpected: %+v", cfg)
	}
	if cfg.DB.Driver != "postgres" || cfg.DB.URL == "" || cfg.Redis.Addr != "redis:6379" || cfg.Redis.DB != 2 {
		t.Fatalf("storage unexpected: %+v %+v", cfg.DB, cfg.Redis)
	}
	if cfg.LLM.Provider != "gemini" || cfg.LLM.APIKey != "g-key" || cfg.LLM.Model != "gemini-x" {
		t.Fatalf("llm unexpected: %+v", cfg.LLM)
	}
	if cfg.Routine.Dedup != "singleflight" || cfg.Routine.GenerationTimeout != 30*time.Second || cfg.Routine.ProfilesPath != "profiles.yaml" {
		t.Fatalf("routine unexpected: %+v", cfg.Routine)
	}
	if cfg.SSE.PollInterval != 250*time.Millisecond {
		t.Fatalf("sse unexpected: %+v", cfg.SSE)
	}
	if cfg.RateRPS != 5.0 || cfg.RateBurst != 10 || cfg.RateWindowMax != 0 {
		t.Fatalf("rate limiting unexpected: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour {
		t.Fatalf("security unexpected: %+v", cfg.Security)
	}
	if cfg.IdempotencyTTL != 48*time.Hour {
		t.Fatalf("idempotency ttl unexpected: %v", cfg.IdempotencyTTL)
	}
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 || cfg.OTEL.Environment != "staging" {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

func TestLoad_OpenAIKeyByProvider(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", "http://llm.local/v1")
	t.Setenv("GEMINI_API_KEY", "ignored")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.APIKey != "sk-test" || cfg.LLM.BaseURL != "http://llm.local/v1" {
		t.Fatalf("llm = %+v", cfg.LLM)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"invalid LOG_LEVEL", map[string]string{"LOG_LEVEL": "verbose"}, "LOG_LEVEL"},
		{"empty PORT via spaces", map[string]string{"PORT": "   "}, "PORT must not be empty"},
		{"non-positive timeouts", map[string]string{"READ_TIMEOUT": "0s"}, "timeouts must be positive"},
		{"negative write timeout", map[string]string{"WRITE_TIMEOUT": "-1s"}, "timeouts must be positive"},
		{"max header bytes <= 0", map[string]string{"MAX_HEADER_BYTES": "0"}, "MAX_HEADER_BYTES"},
		{"max body bytes <= 0", map[string]string{"MAX_BODY_BYTES": "-5"}, "MAX_BODY_BYTES"},
		{"empty DB_PATH", map[string]string{"DB_PATH": "   "}, "DB_PATH must not be empty"},
		{"postgres without url", map[string]string{"DB_DRIVER": "postgres"}, "DATABASE_URL"},
		{"unknown driver", map[string]string{"DB_DRIVER": "mysql"}, "DB_DRIVER"},
		{"negative redis db", map[string]string{"REDIS_DB": "-1"}, "REDIS_DB"},
		{"unknown provider", map[string]string{"LLM_PROVIDER": "claude"}, "LLM_PROVIDER"},
		{"max tokens", map[string]string{"LLM_MAX_TOKENS": "0"}, "LLM_MAX_TOKENS"},
		{"temperature", map[string]string{"LLM_TEMPERATURE": "3"}, "LLM_TEMPERATURE"},
		{"cache ttl", map[string]string{"ROUTINE_CACHE_TTL": "0s"}, "ROUTINE_CACHE_TTL"},
		{"product limit", map[string]string{"PRODUCTS_DEFAULT_LIMIT": "5000"}, "PRODUCTS_DEFAULT_LIMIT"},
		{"shortlist", map[string]string{"PRODUCTS_SHORTLIST": "-1"}, "PRODUCTS_SHORTLIST"},
		{"generation timeout", map[string]string{"GENERATION_TIMEOUT": "0s"}, "GENERATION_TIMEOUT"},
		{"dedup", map[string]string{"GENERATION_DEDUP": "lock"}, "GENERATION_DEDUP"},
		{"sse", map[string]string{"SSE_HEARTBEAT": "0s"}, "SSE_HEARTBEAT"},
		{"rate rps negative", map[string]string{"RATE_RPS": "-1"}, "RATE_RPS"},
		{"rate burst < 1", map[string]string{"RATE_BURST": "0"}, "RATE_BURST"},
		{"rate window", map[string]string{"RATE_WINDOW": "0s"}, "RATE_WINDOW"},
		{"hsts max age negative", map[string]string{"HSTS_MAX_AGE": "-1s"}, "HSTS_MAX_AGE"},
		{"idempotency ttl non-positive", map[string]string{"IDEMPOTENCY_TTL": "0s"}, "IDEMPOTENCY_TTL"},
		{"otel sample ratio out of range", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); !containsErr(err, tc.want) {
				t.Fatalf("expected %s validation error, got: %v", tc.want, err)
			}
		})
	}
}

// --- helpers ---

func TestHelpers_getenv(t *testing.T) {
	t.Setenv("X_EMPTY", "")
	if getenv("X_EMPTY", "d") != "d" {
		t.Fatalf("getenv should fall back to default on empty var")
	}
	t.Setenv("X_SET", "val")
	if getenv("X_SET", "d") != "val" {
		t.Fatalf("getenv should read set value")
	}
}

func TestHelpers_getfloat_getint_getdur(t *testing.T) {
	t.Setenv("F_VALID", "3.14")
	if getfloat("F_VALID", 0) != 3.14 {
		t.Fatalf("getfloat parse failed")
	}
	t.Setenv("F_BAD", "nope")
	if getfloat("F_BAD", 1.23) != 1.23 {
		t.Fatalf("getfloat default on bad parse failed")
	}

	t.Setenv("I_VALID", "42")
	if getint("I_VALID", 0) != 42 {
		t.Fatalf("getint parse failed")
	}
	t.Setenv("I_BAD", "x")
	if getint("I_BAD", 7) != 7 {
		t.Fatalf("getint default on bad parse failed")
	}

	t.Setenv("D_VALID", "150ms")
	if getdur("D_VALID", time.Second) != 150*time.Millisecond {
		t.Fatalf("getdur parse failed")
	}
	t.Setenv("D_BAD", "zzz")
	if getdur("D_BAD", 2*time.Second) != 2*time.Second {
		t.Fatalf("getdur default on bad parse failed")
	}
}

func TestHelpers_getbool(t *testing.T) {
	trueVals := []string{"1", "true", "TRUE", " yes ", "Y", "on", "On"}
	for i, v := range trueVals {
		k := "B_T_" + strconv.Itoa(i)
		t.Setenv(k, v)
		if !getbool(k, false) {
			t.Fatalf("getbool(%q) = false; want true", v)
		}
	}
	falseVals := []string{"0", "false", "FALSE", " no ", "N", "off", "Off"}
	for i, v := range falseVals {
		k := "B_F_" + strconv.Itoa(i)
		t.Setenv(k, v)
		if getbool(k, true) {
			t.Fatalf("getbool(%q) = true; want false", v)
		}
	}
	t.Setenv("B_EMPTY", "")
	if !getbool("B_EMPTY", true) || getbool("B_EMPTY", false) {
		t.Fatalf("getbool default behavior unexpected")
	}
}

func TestHelpers_splitCSV_and_normalizeBasePath(t *testing.T) {
	if out := splitCSV(""); out != nil {
		t.Fatalf("splitCSV empty should return nil")
	}
	if got := splitCSV(" a, ,b ,  c  ,"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("splitCSV mismatch: got %#v", got)
	}

	for in, want := range map[string]string{"": "/", "v1": "/v1", "/v1/": "/v1", " / ": "/"} {
		if got := normalizeBasePath(in); got != want {
			t.Fatalf("normalizeBasePath(%q) = %q; want %q", in, got, want)
		}
	}
}

// Ensure tests don't pick up the developer's environment.
func TestMain(m *testing.M) {
	for _, k := range []string{"PORT", "REDIS_ADDR", "DB_DRIVER", "DATABASE_URL", "LLM_PROVIDER", "OPENAI_API_KEY", "GEMINI_API_KEY"} {
		os.Unsetenv(k)
	}
	os.Exit(m.Run())
}

// containsErr reports whether err's message contains the given substring.
func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}
