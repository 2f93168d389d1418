package config

import (
	"errors"
	"testing"
)

func TestLoadServerDefaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost:5432/quiz?sslmode=disable")

	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer() error = %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.StoreDriver != StoreDriverPostgres {
		t.Fatalf("StoreDriver = %q, want postgres", cfg.StoreDriver)
	}
	if cfg.AllowSelfPlay {
		t.Fatal("AllowSelfPlay should default to false")
	}
	if cfg.ArchivePrefix != "matches/" {
		t.Fatalf("ArchivePrefix = %q, want matches/", cfg.ArchivePrefix)
	}
}

func TestLoadServerRequiresPostgresDSN(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("POSTGRES_DSN", "")

	_, err := LoadServer()
	if !errors.Is(err, ErrMissingPostgresDSN) {
		t.Fatalf("LoadServer() err = %v, want ErrMissingPostgresDSN", err)
	}
}

func TestLoadServerMemoryDriverNeedsNoDSN(t *testing.T) {
	t.Setenv("STORE_DRIVER", " Memory ")
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("ALLOW_SELF_PLAY", "true")

	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer() error = %v", err)
	}
	if cfg.StoreDriver != StoreDriverMemory {
		t.Fatalf("StoreDriver = %q, want memory", cfg.StoreDriver)
	}
	if !cfg.AllowSelfPlay {
		t.Fatal("AllowSelfPlay = false, want true")
	}
}
