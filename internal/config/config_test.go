package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != BackendMemory || cfg.MaxReplays != 3 || cfg.CollisionPolicy != "evict" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.DBMaxConns != 4 {
		t.Fatalf("unexpected pool size %d", cfg.DBMaxConns)
	}
	if cfg.MatrixSyncTimeout != 30*time.Second {
		t.Fatalf("unexpected sync timeout %s", cfg.MatrixSyncTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BARCAMP_BACKEND", "matrix")
	t.Setenv("MATRIX_HOMESERVER_URL", "https://matrix.example.org")
	t.Setenv("MATRIX_ROOM_ID", "!room:example.org")
	t.Setenv("BARCAMP_MAX_REPLAYS", "5")
	t.Setenv("BARCAMP_COLLISION_POLICY", "reject")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxReplays != 5 || cfg.CollisionPolicy != "reject" {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadRejectsMalformedNumbers(t *testing.T) {
	t.Setenv("BARCAMP_MAX_REPLAYS", "many")
	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{name: "unknown backend", cfg: Config{Backend: "etcd", CollisionPolicy: "evict"}},
		{name: "matrix without room", cfg: Config{Backend: BackendMatrix, MatrixHomeserverURL: "http://hs", CollisionPolicy: "evict"}},
		{name: "redis without url", cfg: Config{Backend: BackendRedis, CollisionPolicy: "evict"}},
		{name: "bad policy", cfg: Config{Backend: BackendMemory, CollisionPolicy: "swap"}},
		{name: "negative replays", cfg: Config{Backend: BackendMemory, CollisionPolicy: "evict", MaxReplays: -1}},
		{name: "negative pool size", cfg: Config{Backend: BackendMemory, CollisionPolicy: "evict", DBMaxConns: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
