package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
node_id: gw-test
http:
  addr: ":9000"
ws:
  ping_interval: 5s
  pong_wait: 15s
  kick_replaced: false
presence:
  status_workers: 2
  reconcile_cron: "@every 1m"
mongo:
  uri: mongodb://db:27017
  database: social
kafka:
  enabled: true
  brokers: ["k1:9092"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "psocial.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFileAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NodeID != "gw-test" || cfg.HTTP.Addr != ":9000" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.WS.PingInterval != 5*time.Second || cfg.WS.PongWait != 15*time.Second {
		t.Fatalf("ws durations = %v / %v", cfg.WS.PingInterval, cfg.WS.PongWait)
	}
	if cfg.WS.KickReplacedEnabled() {
		t.Fatal("kick_replaced=false was ignored")
	}
	if cfg.WS.SendQueueSize != 256 || cfg.WS.Path != "/ws" {
		t.Fatalf("defaults missing: %+v", cfg.WS)
	}
	if cfg.Presence.StatusWorkers != 2 || cfg.Presence.StatusQueue != 1024 {
		t.Fatalf("presence = %+v", cfg.Presence)
	}
	if cfg.Mongo.Collection != "users" || cfg.Mongo.Database != "social" {
		t.Fatalf("mongo = %+v", cfg.Mongo)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("PSOCIAL_HTTP_ADDR", ":7777")
	t.Setenv("PSOCIAL_NATS_URL", "nats://n:4222")
	t.Setenv("PSOCIAL_REDIS_ADDR", "r:6379")
	t.Setenv("PSOCIAL_IDENTIFY_TIMEOUT", "7s")
	t.Setenv("PSOCIAL_STATUS_WORKERS", "9")

	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":7777" {
		t.Fatalf("addr = %s", cfg.HTTP.Addr)
	}
	if !cfg.Nats.Enabled || cfg.Nats.Servers[0] != "nats://n:4222" {
		t.Fatalf("nats = %+v", cfg.Nats)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "r:6379" {
		t.Fatalf("redis = %+v", cfg.Redis)
	}
	if cfg.WS.IdentifyTimeout != 7*time.Second || cfg.Presence.StatusWorkers != 9 {
		t.Fatalf("identify timeout = %v, workers = %d", cfg.WS.IdentifyTimeout, cfg.Presence.StatusWorkers)
	}
}

func TestDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.WS.KickReplacedEnabled() {
		t.Fatal("kick_replaced should default to true")
	}
	if cfg.WS.PingInterval >= cfg.WS.PongWait {
		t.Fatalf("ping %v must be shorter than pong wait %v", cfg.WS.PingInterval, cfg.WS.PongWait)
	}
}

func TestValidate(t *testing.T) {
	if _, err := Load(writeConfig(t, "auth:\n  ws_require_token: true\n")); err == nil {
		t.Fatal("expected error when token auth has no secret")
	}
	if _, err := Load(writeConfig(t, "kafka:\n  enabled: true\n")); err == nil {
		t.Fatal("expected error when kafka has no brokers")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestRedisMirrorGetsPeriodicReconcile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Presence.ReconcileCron != "" {
		t.Fatalf("without redis the schedule stays startup-only, got %q", cfg.Presence.ReconcileCron)
	}

	t.Setenv("PSOCIAL_REDIS_ADDR", "r:6379")
	cfg, err = Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Presence.ReconcileCron != "@every 3m20s" {
		t.Fatalf("reconcile_cron = %q", cfg.Presence.ReconcileCron)
	}

	cfg, err = Load(writeConfig(t, "presence:\n  mirror_ttl: 30s\n  reconcile_cron: \"@every 5s\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Presence.ReconcileCron != "@every 5s" {
		t.Fatalf("explicit schedule overridden: %q", cfg.Presence.ReconcileCron)
	}
}
