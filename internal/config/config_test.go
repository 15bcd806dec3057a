package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadYAMLWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trmq.yaml")
	content := []byte(`
router:
  port: 6000
engine:
  store:
    backend: memory
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.Router.Port != 6000 {
		t.Fatalf("expected port 6000, got %d", cfg.Router.Port)
	}
	if cfg.Router.MaxPending != 100_000 {
		t.Fatalf("expected default max_pending, got %d", cfg.Router.MaxPending)
	}
	if cfg.IPC.Capacity != 2048 || cfg.IPC.MaxMessageSize != 8192 {
		t.Fatalf("unexpected ipc defaults: %+v", cfg.IPC)
	}
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	t.Setenv("TRMQ_ROUTER_MAX_PENDING", "55")

	path := filepath.Join(t.TempDir(), "trmq.yaml")
	content := []byte(`
router:
  port: 5555
engine:
  store:
    backend: memory
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.Router.MaxPending != 55 {
		t.Fatalf("expected env override to set max_pending=55, got %d", cfg.Router.MaxPending)
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trmq.toml")
	content := []byte(`
[router]
port = 6001

[engine.store]
backend = "sqlite"
sqlite_dir = "./data"
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load toml: %v", err)
	}
	if cfg.Router.Port != 6001 || cfg.Engine.Store.Backend != "sqlite" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Config{Router: RouterConfig{Port: 0, MaxPending: 1}, Engine: EngineConfig{Store: StoreConfig{Backend: "memory"}}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for port 0")
	}
}

func TestValidateRejectsUnknownStoreBackend(t *testing.T) {
	cfg := Config{Router: RouterConfig{Port: 5555, MaxPending: 1}, Engine: EngineConfig{Store: StoreConfig{Backend: "redis"}}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown backend")
	}
}

func TestValidateRequiresSqliteDir(t *testing.T) {
	cfg := Config{Router: RouterConfig{Port: 5555, MaxPending: 1}, Engine: EngineConfig{Store: StoreConfig{Backend: "sqlite"}}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing sqlite_dir")
	}
}

func TestValidateRequiresKafkaFieldsWhenEnabled(t *testing.T) {
	cfg := Config{
		Router: RouterConfig{Port: 5555, MaxPending: 1},
		Engine: EngineConfig{Store: StoreConfig{Backend: "memory"}},
		Ingest: IngestConfig{Kafka: KafkaConfig{Enabled: true}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for enabled kafka with no brokers")
	}
}

func TestValidateRequiresRabbitMQFieldsWhenEnabled(t *testing.T) {
	cfg := Config{
		Router: RouterConfig{Port: 5555, MaxPending: 1},
		Engine: EngineConfig{Store: StoreConfig{Backend: "memory"}},
		Ingest: IngestConfig{RabbitMQ: RabbitMQConfig{Enabled: true}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for enabled rabbitmq with no url")
	}
}
