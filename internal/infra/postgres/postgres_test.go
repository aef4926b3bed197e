package postgres

import (
	"testing"
	"time"

	"github.com/LHLHLHE/short-links/config"
)

func TestConnString(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.PostgresConfig
		want string
	}{
		{
			name: "defaults",
			cfg:  config.PostgresConfig{User: "postgres", Database: "links"},
			want: "postgres://postgres@localhost:5432/links?application_name=short-links&sslmode=disable&timezone=UTC",
		},
		{
			name: "escaped credentials",
			cfg: config.PostgresConfig{
				Host:     "db",
				Port:     6432,
				User:     "app",
				Password: "p@ss/word",
				Database: "links",
				SSLMode:  "require",
			},
			want: "postgres://app:p%40ss%2Fword@db:6432/links?application_name=short-links&sslmode=require&timezone=UTC",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConnString(tt.cfg); got != tt.want {
				t.Fatalf("ConnString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPoolConfig(t *testing.T) {
	cfg := config.PostgresConfig{
		User:            "app",
		Password:        "secret",
		Database:        "links",
		MaxConns:        8,
		MaxConnLifetime: "30m",
	}

	poolCfg, err := PoolConfig(cfg)
	if err != nil {
		t.Fatalf("PoolConfig: %v", err)
	}
	if poolCfg.MaxConns != 8 {
		t.Fatalf("expected 8 max conns, got %d", poolCfg.MaxConns)
	}
	if poolCfg.MaxConnLifetime != 30*time.Minute {
		t.Fatalf("expected 30m lifetime, got %s", poolCfg.MaxConnLifetime)
	}
	if got := poolCfg.ConnConfig.RuntimeParams["timezone"]; got != "UTC" {
		t.Fatalf("expected UTC session timezone, got %q", got)
	}
	if poolCfg.ConnConfig.ConnectTimeout != connectTimeout {
		t.Fatalf("expected connect timeout %s, got %s", connectTimeout, poolCfg.ConnConfig.ConnectTimeout)
	}

	cfg.HealthCheckPeriod = "soon"
	if _, err := PoolConfig(cfg); err == nil {
		t.Fatal("expected error for malformed duration")
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one migration")
	}
}
