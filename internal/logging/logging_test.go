package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"quizduel/internal/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	if err := Init(config.LogConfig{Level: "debug", File: path, MaxMB: 1}); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Fatalf("global level = %s, want debug", zerolog.GlobalLevel())
	}
	log.Info().Str("match_id", "m1").Msg("round advanced")

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(raw), "round advanced") {
		t.Fatalf("log file missing entry: %q", string(raw))
	}
}

func TestInitUnknownLevelFallsBackToInfo(t *testing.T) {
	if err := Init(config.LogConfig{Level: "loud"}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Fatalf("global level = %s, want info", zerolog.GlobalLevel())
	}
	if Writer() == nil {
		t.Fatal("expected non-nil writer")
	}
}
