package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestLoadDefaultsDevProfile(t *testing.T) {
	cfg, err := Load("chatbi-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Warehouse.SampleRows != 5 {
		t.Fatalf("Warehouse.SampleRows = %d", cfg.Warehouse.SampleRows)
	}
	if cfg.Warehouse.QueryTimeout != 30*time.Second {
		t.Fatalf("Warehouse.QueryTimeout = %v", cfg.Warehouse.QueryTimeout)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if !cfg.Observability.LogJSON {
		t.Fatal("LogJSON should default to true")
	}
}

func TestLoadProdProfileTightensDefaults(t *testing.T) {
	cfg, err := Load("chatbi-api", mapLookup(map[string]string{
		"CHATBI_PROFILE": "prod",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should be true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should be true in prod")
	}
}

func TestLoadAppliesOverrides(t *testing.T) {
	cfg, err := Load("chatbi-api", mapLookup(map[string]string{
		"CHATBI_HTTP_ADDR":                 ":9090",
		"CHATBI_APPSTORE_DSN":              "postgres://app:secret@db:5432/chatbi",
		"CHATBI_WAREHOUSE_QUERY_TIMEOUT":   "45s",
		"CHATBI_WAREHOUSE_SAMPLE_ROWS":     "3",
		"CHATBI_WAREHOUSE_DEFAULT_DRIVER":  "duckdb",
		"CHATBI_AI_MODEL":                  "gpt-4o",
		"CHATBI_AI_TEMPERATURE":            "0.3",
		"CHATBI_EXPORT_ENABLED":            "true",
		"CHATBI_HOUSEKEEPING_INTERVAL":     "1m",
		"CHATBI_LOG_LEVEL":                 "error",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Address != ":9090" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.AppStore.DSN != "postgres://app:secret@db:5432/chatbi" {
		t.Fatalf("AppStore.DSN = %q", cfg.AppStore.DSN)
	}
	if cfg.Warehouse.QueryTimeout != 45*time.Second {
		t.Fatalf("Warehouse.QueryTimeout = %v", cfg.Warehouse.QueryTimeout)
	}
	if cfg.Warehouse.SampleRows != 3 {
		t.Fatalf("Warehouse.SampleRows = %d", cfg.Warehouse.SampleRows)
	}
	if cfg.Warehouse.DefaultDriver != "duckdb" {
		t.Fatalf("Warehouse.DefaultDriver = %q", cfg.Warehouse.DefaultDriver)
	}
	if cfg.AI.Model != "gpt-4o" {
		t.Fatalf("AI.Model = %q", cfg.AI.Model)
	}
	if cfg.AI.Temperature != 0.3 {
		t.Fatalf("AI.Temperature = %v", cfg.AI.Temperature)
	}
	if !cfg.Export.Enabled {
		t.Fatal("Export.Enabled should be true")
	}
	if cfg.Housekeeping.Interval != time.Minute {
		t.Fatalf("Housekeeping.Interval = %v", cfg.Housekeeping.Interval)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
}

func TestLoadRejectsInvalidProfile(t *testing.T) {
	_, err := Load("chatbi-api", mapLookup(map[string]string{
		"CHATBI_PROFILE": "staging",
	}))
	if err == nil {
		t.Fatal("expected error for invalid profile")
	}
	if !strings.Contains(err.Error(), "CHATBI_PROFILE") {
		t.Fatalf("error = %v", err)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"bad duration": {"CHATBI_AI_TIMEOUT": "soon"},
		"bad int":      {"CHATBI_WAREHOUSE_SAMPLE_ROWS": "five"},
		"bad bool":     {"CHATBI_AUTH_REQUIRED": "yep"},
		"bad float":    {"CHATBI_AI_TEMPERATURE": "warm"},
		"bad level":    {"CHATBI_LOG_LEVEL": "loud"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load("chatbi-api", mapLookup(env)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadNilLookup(t *testing.T) {
	if _, err := Load("chatbi-api", nil); err == nil {
		t.Fatal("expected error for nil lookup")
	}
}
