package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadPeerDefaults(t *testing.T) {
	for _, k := range []string{"RELAY_URL", "GAME_ID", "TICK_RATE", "MIN_PLAYERS", "CHARACTERS"} {
		t.Setenv(k, "")
	}
	cfg, err := LoadPeer()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MinPlayers != 4 || cfg.GameID != "default" || cfg.TickRate != time.Second/60 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if len(cfg.Characters) != 4 {
		t.Fatalf("characters = %v", cfg.Characters)
	}
}

func TestLoadPeerOverrides(t *testing.T) {
	t.Setenv("MIN_PLAYERS", "2")
	t.Setenv("VOTING_DURATION", "5s")
	t.Setenv("CHARACTERS", "a, b,,c")
	cfg, err := LoadPeer()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MinPlayers != 2 || cfg.VotingDuration != 5*time.Second {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if len(cfg.Characters) != 3 || cfg.Characters[1] != "b" {
		t.Fatalf("characters = %v", cfg.Characters)
	}
}

func TestBadNumberIsAnError(t *testing.T) {
	t.Setenv("MIN_PLAYERS", "four")
	if _, err := LoadPeer(); err == nil {
		t.Fatalf("expected error for MIN_PLAYERS=four")
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("GAME_ID=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GAME_ID", "")
	os.Unsetenv("GAME_ID")
	if err := LoadEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatal(err)
	}
	if got := Getenv("GAME_ID", ""); got != "from-file" {
		t.Fatalf("GAME_ID = %q", got)
	}
}
