// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, authentication, uploads,
// realtime session tuning, rate limiting, and observability.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Duplicate-session policies for a user opening a second realtime connection.
const (
	SessionPolicyEvict  = "evict"  // newest connection wins, older one is closed
	SessionPolicyReject = "reject" // second connection is refused while the first is live
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-dm-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// AuthConfig defines bearer token settings.
type AuthConfig struct {
	JWTSecret string        // JWT_SECRET (>= 32 bytes)
	Issuer    string        // JWT_ISSUER
	TokenTTL  time.Duration // TOKEN_TTL
}

// UploadConfig defines local blob storage settings.
type UploadConfig struct {
	Dir        string // UPLOAD_DIR
	PublicPath string // UPLOAD_PUBLIC_PATH, URL prefix under which blobs are served
	MaxBytes   int64  // UPLOAD_MAX_BYTES
}

// RealtimeConfig tunes websocket sessions.
type RealtimeConfig struct {
	PingInterval    time.Duration // WS_PING_INTERVAL
	PongTimeout     time.Duration // WS_PONG_TIMEOUT
	WriteTimeout    time.Duration // WS_WRITE_TIMEOUT
	SendBuffer      int           // WS_SEND_BUFFER
	MaxFrameBytes   int64         // WS_MAX_FRAME_BYTES
	EventRPS        float64       // WS_EVENT_RPS
	EventBurst      int           // WS_EVENT_BURST
	DuplicatePolicy string        // DUPLICATE_SESSION_POLICY: evict|reject
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath          string        // SQLite path
	MaxMessageRunes int           // content cap for a single message
	SearchThreshold float64       // min relevance for conversation search [0,1]
	SearchStopwords []string      // words ignored by conversation search
	SearchSnippet   int           // snippet length in runes; 0 returns whole messages
	RequestTTL      time.Duration // pending message requests older than this are expired by the sweeper
	SweepCron       string        // cron expression for maintenance sweeps

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	Auth     AuthConfig
	Upload   UploadConfig
	Realtime RealtimeConfig

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

// Load reads configuration from environment variables, applies defaults,
// normalizes values, and validates the result. Every failed check is
// reported, joined into one error.
func Load() (Config, error) {
	cfg := Config{
		Port:              str("PORT", "8080"),
		ReadTimeout:       env("READ_TIMEOUT", 15*time.Second, time.ParseDuration),
		ReadHeaderTimeout: env("READ_HEADER_TIMEOUT", 10*time.Second, time.ParseDuration),
		WriteTimeout:      env("WRITE_TIMEOUT", 20*time.Second, time.ParseDuration),
		IdleTimeout:       env("IDLE_TIMEOUT", 60*time.Second, time.ParseDuration),
		MaxHeaderBytes:    env("MAX_HEADER_BYTES", 1<<20, strconv.Atoi),
		GinMode:           strings.ToLower(str("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(str("LOG_LEVEL", "info")),
		LogPretty:      env("LOG_PRETTY", false, parseBool),
		SwaggerEnabled: env("SWAGGER_ENABLED", false, parseBool),
		APIBasePath:    normalizeBasePath(str("API_BASE_PATH", "/api/v1")),

		DBPath:          str("DB_PATH", "app.db"),
		MaxMessageRunes: env("MAX_MESSAGE_RUNES", 4000, strconv.Atoi),
		SearchThreshold: env("SEARCH_THRESHOLD", 0.1, parseFloat),
		SearchStopwords: splitCSV(str("SEARCH_STOPWORDS", "")),
		SearchSnippet:   env("SEARCH_SNIPPET_RUNES", 160, strconv.Atoi),
		RequestTTL:      env("REQUEST_TTL", 30*24*time.Hour, time.ParseDuration),
		SweepCron:       str("SWEEP_CRON", "*/15 * * * *"),

		RateRPS:   env("RATE_RPS", 5.0, parseFloat),
		RateBurst: env("RATE_BURST", 10, strconv.Atoi),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(str("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: env("ENABLE_HSTS", false, parseBool),
			HSTSMaxAge: env("HSTS_MAX_AGE", 180*24*time.Hour, time.ParseDuration),
		},

		IdempotencyTTL: env("IDEMPOTENCY_TTL", 24*time.Hour, time.ParseDuration),

		Auth: AuthConfig{
			JWTSecret: str("JWT_SECRET", ""),
			Issuer:    str("JWT_ISSUER", "go-dm-backend"),
			TokenTTL:  env("TOKEN_TTL", 7*24*time.Hour, time.ParseDuration),
		},
		Upload: UploadConfig{
			Dir:        str("UPLOAD_DIR", "uploads"),
			PublicPath: normalizeBasePath(str("UPLOAD_PUBLIC_PATH", "/uploads")),
			MaxBytes:   env("UPLOAD_MAX_BYTES", 50<<20, parseBytes),
		},
		Realtime: RealtimeConfig{
			PingInterval:    env("WS_PING_INTERVAL", 25*time.Second, time.ParseDuration),
			PongTimeout:     env("WS_PONG_TIMEOUT", 60*time.Second, time.ParseDuration),
			WriteTimeout:    env("WS_WRITE_TIMEOUT", 10*time.Second, time.ParseDuration),
			SendBuffer:      env("WS_SEND_BUFFER", 64, strconv.Atoi),
			MaxFrameBytes:   env("WS_MAX_FRAME_BYTES", 64<<10, parseBytes),
			EventRPS:        env("WS_EVENT_RPS", 20.0, parseFloat),
			EventBurst:      env("WS_EVENT_BURST", 40, strconv.Atoi),
			DuplicatePolicy: strings.ToLower(str("DUPLICATE_SESSION_POLICY", SessionPolicyEvict)),
		},

		OTEL: OTELConfig{
			Enabled:     env("OTEL_ENABLED", false, parseBool),
			Endpoint:    str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    env("OTEL_EXPORTER_OTLP_INSECURE", true, parseBool),
			ServiceName: str("OTEL_SERVICE_NAME", "go-dm-backend"),
			SampleRatio: env("OTEL_TRACES_SAMPLER_ARG", 1.0, parseFloat),
		},
	}

	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	if !slices.Contains([]string{"debug", "release", "test"}, cfg.GinMode) {
		cfg.GinMode = "release"
	}

	return cfg, cfg.validate()
}

type check struct {
	failed bool
	msg    string
}

func (c Config) validate() error {
	rt := c.Realtime
	checks := []check{
		{!slices.Contains([]string{"debug", "info", "warn", "error", "fatal", "panic"}, c.LogLevel),
			"LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic"},
		{blank(c.Port), "PORT must not be empty"},
		{c.ReadTimeout <= 0 || c.ReadHeaderTimeout <= 0 || c.WriteTimeout <= 0 || c.IdleTimeout <= 0,
			"timeouts must be positive durations"},
		{c.MaxHeaderBytes <= 0, "MAX_HEADER_BYTES must be > 0"},
		{blank(c.DBPath), "DB_PATH must not be empty"},
		{c.MaxMessageRunes < 1, "MAX_MESSAGE_RUNES must be >= 1"},
		{c.SearchThreshold < 0 || c.SearchThreshold > 1, "SEARCH_THRESHOLD must be between 0 and 1"},
		{c.SearchSnippet < 0, "SEARCH_SNIPPET_RUNES must be >= 0"},
		{c.RequestTTL <= 0, "REQUEST_TTL must be > 0"},
		{blank(c.SweepCron), "SWEEP_CRON must not be empty"},
		{c.RateRPS < 0, "RATE_RPS must be >= 0"},
		{c.RateBurst < 1, "RATE_BURST must be >= 1"},
		{c.Security.HSTSMaxAge < 0, "HSTS_MAX_AGE must be >= 0"},
		{c.IdempotencyTTL <= 0, "IDEMPOTENCY_TTL must be > 0"},
		{len(c.Auth.JWTSecret) < 32, "JWT_SECRET must be at least 32 bytes"},
		{c.Auth.TokenTTL <= 0, "TOKEN_TTL must be > 0"},
		{blank(c.Upload.Dir), "UPLOAD_DIR must not be empty"},
		{c.Upload.MaxBytes <= 0, "UPLOAD_MAX_BYTES must be > 0"},
		{rt.PingInterval <= 0 || rt.PongTimeout <= 0 || rt.WriteTimeout <= 0,
			"WS_* timeouts must be positive durations"},
		{rt.PongTimeout <= rt.PingInterval, "WS_PONG_TIMEOUT must be greater than WS_PING_INTERVAL"},
		{rt.SendBuffer < 1, "WS_SEND_BUFFER must be >= 1"},
		{rt.MaxFrameBytes <= 0, "WS_MAX_FRAME_BYTES must be > 0"},
		{rt.EventRPS < 0 || rt.EventBurst < 1, "WS_EVENT_RPS must be >= 0 and WS_EVENT_BURST >= 1"},
		{rt.DuplicatePolicy != SessionPolicyEvict && rt.DuplicatePolicy != SessionPolicyReject,
			"DUPLICATE_SESSION_POLICY must be one of: evict, reject"},
		{c.OTEL.SampleRatio < 0 || c.OTEL.SampleRatio > 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]"},
	}

	var errs []error
	for _, ck := range checks {
		if ck.failed {
			errs = append(errs, errors.New(ck.msg))
		}
	}
	return errors.Join(errs...)
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

// str returns the raw value of k, or def when unset or empty.
func str(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// env parses k with parse, falling back to def when the variable is unset,
// blank, or does not parse.
func env[T any](k string, def T, parse func(string) (T, error)) T {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	out, err := parse(v)
	if err != nil {
		return def
	}
	return out
}

func parseFloat(s string) (float64, error) { return strconv.ParseFloat(s, 64) }

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", s)
}

// parseBytes accepts plain byte counts or sizes such as "50MiB" or "64KB".
func parseBytes(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("size out of range: %q", s)
	}
	return int64(n), nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures a leading '/' and strips trailing ones (except root).
func normalizeBasePath(p string) string {
	return "/" + strings.Trim(strings.TrimSpace(p), "/")
}
