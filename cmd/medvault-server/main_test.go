package main

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/medvault/medvault/internal/config"
	"github.com/medvault/medvault/internal/platform/breakglass"
	"github.com/medvault/medvault/internal/platform/stream"
)

func TestMigrationFiles_Embedded(t *testing.T) {
	names, err := fs.Glob(migrationFiles(""), "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(names) == 0 || names[0] != "001_accounts.sql" {
		t.Errorf("expected embedded migrations starting at 001_accounts.sql, got %v", names)
	}
}

func TestMigrationFiles_Directory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_extra.sql"), []byte("SELECT 1;"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	names, _ := fs.Glob(migrationFiles(dir), "*.sql")
	if len(names) != 1 || names[0] != "001_extra.sql" {
		t.Errorf("expected override directory contents, got %v", names)
	}
}

func TestRateLimitConfig(t *testing.T) {
	rl := rateLimitConfig(&config.Config{})
	if rl.RequestsPerSecond != 100 || rl.BurstSize != 200 {
		t.Errorf("expected defaults, got %+v", rl)
	}
	rl = rateLimitConfig(&config.Config{RateLimitRPS: 5, RateLimitBurst: 7})
	if rl.RequestsPerSecond != 5 || rl.BurstSize != 7 {
		t.Errorf("expected configured values, got %+v", rl)
	}
	if rl.IdleTTL == 0 {
		t.Error("expected idle ttl from defaults")
	}
}

func TestNewPublisher_WithoutBrokers(t *testing.T) {
	pub, checks, err := newPublisher(&config.Config{}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := pub.(stream.Nop); !ok {
		t.Errorf("expected no-op publisher, got %T", pub)
	}
	if len(checks) != 0 {
		t.Errorf("expected no health checks, got %d", len(checks))
	}
}

func TestNewPublisher_WithBrokers(t *testing.T) {
	cfg := &config.Config{KafkaBrokers: []string{"localhost:9092"}, KafkaAuditTopic: "medvault.audit"}
	pub, checks, err := newPublisher(cfg, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer pub.Close()
	if _, ok := pub.(*stream.KafkaPublisher); !ok {
		t.Errorf("expected kafka publisher, got %T", pub)
	}
	if len(checks) != 1 || checks[0].Name != "kafka" || checks[0].Critical {
		t.Errorf("expected one non-critical kafka check, got %+v", checks)
	}
}

func TestNewBreakGlass_InMemory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lim, checks, closeFn, err := newBreakGlass(ctx, &config.Config{BreakGlassPerHour: 3}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closeFn()
	if _, ok := lim.(*breakglass.Memory); !ok {
		t.Errorf("expected in-memory limiter, got %T", lim)
	}
	if len(checks) != 0 {
		t.Errorf("expected no health checks, got %d", len(checks))
	}
}

func TestNewBreakGlass_Redis(t *testing.T) {
	lim, checks, closeFn, err := newBreakGlass(context.Background(), &config.Config{RedisURL: "redis://localhost:6379/0"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closeFn()
	if _, ok := lim.(*breakglass.Redis); !ok {
		t.Errorf("expected redis limiter, got %T", lim)
	}
	if len(checks) != 1 || checks[0].Name != "redis" {
		t.Errorf("expected redis check, got %+v", checks)
	}

	if _, _, _, err := newBreakGlass(context.Background(), &config.Config{RedisURL: "://bad"}, zerolog.Nop()); err == nil {
		t.Error("expected error for malformed REDIS_URL")
	}
}
