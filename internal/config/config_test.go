package config

import (
	"testing"
	"time"

	"marginalia/api/internal/annotation"
	"marginalia/api/internal/palette"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"API_ADDR", "MARGINALIA_COMMENT_STORE", "MARGINALIA_RENUMBER_ORDER", "MARGINALIA_PALETTE", "MINIO_USE_SSL", "MARGINALIA_SHUTDOWN_GRACE_SECONDS"} {
		t.Setenv(key, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":8787" || cfg.CommentStore != StoreMemory {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.RenumberOrder != annotation.OrderInsertion {
		t.Fatalf("expected insertion order, got %q", cfg.RenumberOrder)
	}
	if len(cfg.Palette) != len(palette.Default) {
		t.Fatalf("expected default palette, got %v", cfg.Palette)
	}
	if cfg.ShutdownGrace != 10*time.Second || cfg.Minio.UseSSL {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MARGINALIA_COMMENT_STORE", "Redis")
	t.Setenv("MARGINALIA_RENUMBER_ORDER", "document")
	t.Setenv("MARGINALIA_PALETTE", "#111, #222")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("MARGINALIA_SHUTDOWN_GRACE_SECONDS", "oops")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CommentStore != StoreRedis {
		t.Fatalf("expected redis store, got %q", cfg.CommentStore)
	}
	if cfg.RenumberOrder != annotation.OrderDocument {
		t.Fatalf("expected document order, got %q", cfg.RenumberOrder)
	}
	if len(cfg.Palette) != 2 || cfg.Palette[1] != "#222" {
		t.Fatalf("unexpected palette %v", cfg.Palette)
	}
	if !cfg.Minio.UseSSL {
		t.Fatal("expected MINIO_USE_SSL to parse")
	}
	if cfg.ShutdownGrace != 10*time.Second {
		t.Fatalf("malformed int should fall back, got %v", cfg.ShutdownGrace)
	}
}

func TestLoadRejectsUnknownValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"MARGINALIA_COMMENT_STORE", "etcd"},
		{"MARGINALIA_RENUMBER_ORDER", "alphabetical"},
	}
	for _, tc := range tests {
		t.Run(tc.key, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", tc.key, tc.value)
			}
		})
	}
}
