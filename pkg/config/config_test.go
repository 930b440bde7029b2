package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("server.port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Admission.MaxConcurrent != 30 || cfg.Admission.QueueDepth != 60 {
		t.Errorf("admission = %+v", cfg.Admission)
	}
	if cfg.Inference.Timeout != 120*time.Second {
		t.Errorf("inference.timeout = %v", cfg.Inference.Timeout)
	}
	if cfg.Embedding.Dimension != 384 {
		t.Errorf("embedding.dimension = %d", cfg.Embedding.Dimension)
	}
	if cfg.Retrieval.TopK != 12 || cfg.Retrieval.MinScore != 0.35 {
		t.Errorf("retrieval = %+v", cfg.Retrieval)
	}
	if cfg.Prompt.ContextBudget != 3000 {
		t.Errorf("prompt.contextBudget = %d", cfg.Prompt.ContextBudget)
	}
	if len(cfg.Auth.APIKeys) != 0 {
		t.Errorf("auth.apiKeys = %v, want none by default", cfg.Auth.APIKeys)
	}
	if cfg.Postgres.Enabled || cfg.Redis.Enabled || cfg.Kafka.Enabled {
		t.Error("optional backends enabled by default")
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9999
admission:
  maxConcurrent: 4
  queueDepth: 8
  acquireTimeout: 2s
inference:
  model: mistral-7b
retrieval:
  minScore: 0.5
auth:
  apiKeys:
    - alpha
    - beta
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("server.port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Admission.MaxConcurrent != 4 || cfg.Admission.AcquireTimeout != 2*time.Second {
		t.Errorf("admission = %+v", cfg.Admission)
	}
	if cfg.Inference.Model != "mistral-7b" {
		t.Errorf("inference.model = %q", cfg.Inference.Model)
	}
	if cfg.Retrieval.MinScore != 0.5 {
		t.Errorf("retrieval.minScore = %f", cfg.Retrieval.MinScore)
	}
	if len(cfg.Auth.APIKeys) != 2 || cfg.Auth.APIKeys[0] != "alpha" {
		t.Errorf("auth.apiKeys = %v", cfg.Auth.APIKeys)
	}
	// Fields the file does not mention keep their defaults.
	if cfg.Index.Collection != "documents" {
		t.Errorf("index.collection = %q, want default", cfg.Index.Collection)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/no/such/config.yaml"); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RG_SERVER_PORT", "7070")
	t.Setenv("RG_INFERENCE_URL", "http://inference:8000")
	t.Setenv("RG_API_KEYS", "k1,k2,k3")
	t.Setenv("RG_ADMISSION_MAX_CONCURRENT", "16")
	t.Setenv("RG_KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("server.port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Inference.URL != "http://inference:8000" {
		t.Errorf("inference.url = %q", cfg.Inference.URL)
	}
	if len(cfg.Auth.APIKeys) != 3 {
		t.Errorf("auth.apiKeys = %v", cfg.Auth.APIKeys)
	}
	if cfg.Admission.MaxConcurrent != 16 {
		t.Errorf("admission.maxConcurrent = %d", cfg.Admission.MaxConcurrent)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "kafka-2:9092" {
		t.Errorf("kafka.brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9999\n")
	t.Setenv("RG_SERVER_PORT", "7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("server.port = %d, want env override to win", cfg.Server.Port)
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"zero concurrency", "admission:\n  maxConcurrent: 0\n", "maxConcurrent"},
		{"negative queue", "admission:\n  queueDepth: -1\n", "queueDepth"},
		{"reserves exhaust budget", "prompt:\n  contextBudget: 500\n", "exhaust"},
		{"zero topK", "retrieval:\n  topK: 0\n", "topK"},
		{"score out of range", "retrieval:\n  minScore: 1.5\n", "minScore"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.yaml)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{
		Host: "db", Port: 5432, Database: "rag", User: "svc", Password: "pw", SSLMode: "require",
	}
	dsn := p.DSN()
	for _, part := range []string{"host=db", "port=5432", "dbname=rag", "user=svc", "sslmode=require"} {
		if !strings.Contains(dsn, part) {
			t.Errorf("dsn %q missing %q", dsn, part)
		}
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}
