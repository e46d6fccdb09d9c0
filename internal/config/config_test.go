package config

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// setenv applies vars for the duration of t. A valid JWT_SECRET is set first
// so cases only need to name what they change.
func setenv(t *testing.T, vars map[string]string) {
	t.Helper()
	t.Setenv("JWT_SECRET", testSecret)
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	unset := map[string]string{}
	for _, k := range []string{"PORT", "GIN_MODE", "API_BASE_PATH", "CORS_ALLOWED_ORIGINS", "OTEL_ENABLED"} {
		unset[k] = ""
	}
	setenv(t, unset)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"port", cfg.Port, "8080"},
		{"gin mode", cfg.GinMode, "release"},
		{"base path", cfg.APIBasePath, "/api/v1"},
		{"message cap", cfg.MaxMessageRunes, 4000},
		{"request ttl", cfg.RequestTTL, 30 * 24 * time.Hour},
		{"sweep cron", cfg.SweepCron, "*/15 * * * *"},
		{"token ttl", cfg.Auth.TokenTTL, 7 * 24 * time.Hour},
		{"issuer", cfg.Auth.Issuer, "go-dm-backend"},
		{"upload max", cfg.Upload.MaxBytes, int64(50 << 20)},
		{"upload path", cfg.Upload.PublicPath, "/uploads"},
		{"frame max", cfg.Realtime.MaxFrameBytes, int64(64 << 10)},
		{"session policy", cfg.Realtime.DuplicatePolicy, SessionPolicyEvict},
		{"hsts age", cfg.Security.HSTSMaxAge, 180 * 24 * time.Hour},
		{"cors", cfg.CORS.AllowedOrigins, []string(nil)},
		{"otel", cfg.OTEL.Enabled, false},
	}
	for _, c := range checks {
		if !reflect.DeepEqual(c.got, c.want) {
			t.Errorf("%s = %#v; want %#v", c.name, c.got, c.want)
		}
	}
}

func TestLoad_Overrides(t *testing.T) {
	setenv(t, map[string]string{
		"PORT":                        "8088",
		"READ_TIMEOUT":                "2s",
		"MAX_HEADER_BYTES":            "8192",
		"GIN_MODE":                    "weird",
		"LOG_LEVEL":                   "WARNING",
		"LOG_PRETTY":                  " yes ",
		"SWAGGER_ENABLED":             "on",
		"API_BASE_PATH":               "api/v1/",
		"SEARCH_THRESHOLD":            "0.5",
		"SEARCH_STOPWORDS":            "the, a",
		"SWEEP_CRON":                  "@hourly",
		"RATE_RPS":                    "x",
		"RATE_BURST":                  "nope",
		"CORS_ALLOWED_ORIGINS":        " https://a.com , , http://b ",
		"ENABLE_HSTS":                 "TRUE",
		"IDEMPOTENCY_TTL":             "48h",
		"UPLOAD_PUBLIC_PATH":          "files/",
		"UPLOAD_MAX_BYTES":            "2MiB",
		"WS_MAX_FRAME_BYTES":          "4096",
		"WS_PING_INTERVAL":            "5s",
		"WS_PONG_TIMEOUT":             "12s",
		"DUPLICATE_SESSION_POLICY":    "REJECT",
		"OTEL_ENABLED":                "1",
		"OTEL_EXPORTER_OTLP_INSECURE": "off",
		"OTEL_TRACES_SAMPLER_ARG":     "0.75",
	})
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"port", cfg.Port, "8088"},
		{"read timeout", cfg.ReadTimeout, 2 * time.Second},
		{"header bytes", cfg.MaxHeaderBytes, 8192},
		{"unknown gin mode", cfg.GinMode, "release"},
		{"warning alias", cfg.LogLevel, "warn"},
		{"pretty", cfg.LogPretty, true},
		{"swagger", cfg.SwaggerEnabled, true},
		{"base path", cfg.APIBasePath, "/api/v1"},
		{"threshold", cfg.SearchThreshold, 0.5},
		{"stopwords", cfg.SearchStopwords, []string{"the", "a"}},
		{"cron", cfg.SweepCron, "@hourly"},
		{"bad rps keeps default", cfg.RateRPS, 5.0},
		{"bad burst keeps default", cfg.RateBurst, 10},
		{"cors", cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}},
		{"hsts", cfg.Security.EnableHSTS, true},
		{"idempotency ttl", cfg.IdempotencyTTL, 48 * time.Hour},
		{"upload path", cfg.Upload.PublicPath, "/files"},
		{"upload max", cfg.Upload.MaxBytes, int64(2 << 20)},
		{"frame max", cfg.Realtime.MaxFrameBytes, int64(4096)},
		{"pong", cfg.Realtime.PongTimeout, 12 * time.Second},
		{"policy", cfg.Realtime.DuplicatePolicy, SessionPolicyReject},
		{"otel", cfg.OTEL.Enabled, true},
		{"otel tls", cfg.OTEL.Insecure, false},
		{"sample", cfg.OTEL.SampleRatio, 0.75},
	}
	for _, c := range checks {
		if !reflect.DeepEqual(c.got, c.want) {
			t.Errorf("%s = %#v; want %#v", c.name, c.got, c.want)
		}
	}
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]map[string]string{
		"LOG_LEVEL":                {"LOG_LEVEL": "verbose"},
		"PORT":                     {"PORT": "   "},
		"timeouts":                 {"READ_TIMEOUT": "0s"},
		"MAX_HEADER_BYTES":         {"MAX_HEADER_BYTES": "0"},
		"DB_PATH":                  {"DB_PATH": "  "},
		"MAX_MESSAGE_RUNES":        {"MAX_MESSAGE_RUNES": "0"},
		"SEARCH_THRESHOLD":         {"SEARCH_THRESHOLD": "1.5"},
		"SEARCH_SNIPPET_RUNES":     {"SEARCH_SNIPPET_RUNES": "-1"},
		"REQUEST_TTL":              {"REQUEST_TTL": "-1h"},
		"SWEEP_CRON":               {"SWEEP_CRON": " "},
		"RATE_RPS":                 {"RATE_RPS": "-1"},
		"RATE_BURST":               {"RATE_BURST": "0"},
		"HSTS_MAX_AGE":             {"HSTS_MAX_AGE": "-1s"},
		"IDEMPOTENCY_TTL":          {"IDEMPOTENCY_TTL": "0s"},
		"JWT_SECRET":               {"JWT_SECRET": "short"},
		"TOKEN_TTL":                {"TOKEN_TTL": "0s"},
		"UPLOAD_DIR":               {"UPLOAD_DIR": " "},
		"WS_PONG_TIMEOUT":          {"WS_PING_INTERVAL": "30s", "WS_PONG_TIMEOUT": "30s"},
		"WS_SEND_BUFFER":           {"WS_SEND_BUFFER": "0"},
		"WS_EVENT_BURST":           {"WS_EVENT_BURST": "0"},
		"DUPLICATE_SESSION_POLICY": {"DUPLICATE_SESSION_POLICY": "both"},
		"OTEL_TRACES_SAMPLER_ARG":  {"OTEL_TRACES_SAMPLER_ARG": "1.5"},
	}
	for want, vars := range cases {
		t.Run(want, func(t *testing.T) {
			setenv(t, vars)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), want) {
				t.Fatalf("err = %v; want mention of %s", err, want)
			}
		})
	}
}

func TestLoad_ReportsEveryProblem(t *testing.T) {
	setenv(t, map[string]string{"RATE_BURST": "0", "SEARCH_THRESHOLD": "-1", "JWT_SECRET": "x"})
	_, err := Load()

	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) || len(joined.Unwrap()) != 3 {
		t.Fatalf("want three joined errors, got %v", err)
	}
}

func TestMustLoad(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		setenv(t, nil)
		if cfg := MustLoad(); cfg.Port == "" {
			t.Fatal("empty config")
		}
	})
	t.Run("invalid panics", func(t *testing.T) {
		setenv(t, map[string]string{"LOG_LEVEL": "verbose"})
		defer func() {
			if recover() == nil {
				t.Fatal("no panic")
			}
		}()
		MustLoad()
	})
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "yes", "Y", "on"} {
		if b, err := parseBool(v); err != nil || !b {
			t.Errorf("parseBool(%q) = %v, %v", v, b, err)
		}
	}
	for _, v := range []string{"0", "false", "No", "n", "OFF"} {
		if b, err := parseBool(v); err != nil || b {
			t.Errorf("parseBool(%q) = %v, %v", v, b, err)
		}
	}
	if _, err := parseBool("maybe"); err == nil {
		t.Error("parseBool(maybe) should fail")
	}
}

func TestParseBytes(t *testing.T) {
	cases := map[string]int64{"2MiB": 2 << 20, "64KB": 64000, "4096": 4096}
	for in, want := range cases {
		if got, err := parseBytes(in); err != nil || got != want {
			t.Errorf("parseBytes(%q) = %d, %v; want %d", in, got, err, want)
		}
	}
	if _, err := parseBytes("lots"); err == nil {
		t.Error("parseBytes(lots) should fail")
	}
}

func TestEnvFallbacks(t *testing.T) {
	t.Setenv("X_DUR", "zzz")
	if got := env("X_DUR", 2*time.Second, time.ParseDuration); got != 2*time.Second {
		t.Fatalf("unparsable duration = %v", got)
	}
	t.Setenv("X_DUR", " 150ms ")
	if got := env("X_DUR", time.Second, time.ParseDuration); got != 150*time.Millisecond {
		t.Fatalf("padded duration = %v", got)
	}
	t.Setenv("X_STR", "")
	if str("X_STR", "d") != "d" {
		t.Fatal("empty string should fall back")
	}
}

func TestSplitCSVAndBasePath(t *testing.T) {
	if got := splitCSV(" a, ,b ,  c  ,"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("splitCSV = %#v", got)
	}
	if splitCSV("") != nil {
		t.Fatal("splitCSV(\"\") should be nil")
	}
	paths := map[string]string{"": "/", " / ": "/", "v1": "/v1", "/v1/": "/v1", "/a/b//": "/a/b"}
	for in, want := range paths {
		if got := normalizeBasePath(in); got != want {
			t.Errorf("normalizeBasePath(%q) = %q; want %q", in, got, want)
		}
	}
}
