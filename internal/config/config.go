// Package config reads settings from the environment, optionally seeded from
// a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadEnv loads .env files into the environment without overriding variables
// that are already set. Missing files are not an error.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

func Getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func Int(k string, d int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return d, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", k, err)
	}
	return n, nil
}

func Duration(k string, d time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return d, nil
	}
	n, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", k, err)
	}
	return n, nil
}

// List splits a comma separated variable, dropping empty entries.
func List(k, d string) []string {
	var out []string
	for _, s := range strings.Split(Getenv(k, d), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

type Relay struct {
	Port          string
	Origins       []string
	DBPath        string
	SnapshotEvery time.Duration
}

func LoadRelay() (Relay, error) {
	port := Getenv("PORT", "8080")
	cfg := Relay{
		Port:    port,
		Origins: List("ORIGIN_ALLOWLIST", "http://localhost:"+port+",http://127.0.0.1:"+port),
		DBPath:  Getenv("RELAY_DB", "relay.db"),
	}
	var err error
	if cfg.SnapshotEvery, err = Duration("SNAPSHOT_EVERY", 10*time.Second); err != nil {
		return Relay{}, err
	}
	return cfg, nil
}

type Peer struct {
	RelayURL       string
	GameID         string
	Name           string
	DBPath         string
	Script         string
	TickRate       time.Duration
	MinPlayers     int
	VotingDuration time.Duration
	StaleAfter     time.Duration
	Characters     []string
}

func LoadPeer() (Peer, error) {
	cfg := Peer{
		RelayURL:   Getenv("RELAY_URL", "ws://localhost:8080/ws"),
		GameID:     Getenv("GAME_ID", "default"),
		Name:       Getenv("PLAYER_NAME", "player"),
		DBPath:     Getenv("PEER_DB", "peer.db"),
		Script:     Getenv("PEER_SCRIPT", ""),
		Characters: List("CHARACTERS", "chick,duck,goose,hen"),
	}
	var err error
	if cfg.TickRate, err = Duration("TICK_RATE", time.Second/60); err != nil {
		return Peer{}, err
	}
	if cfg.MinPlayers, err = Int("MIN_PLAYERS", 4); err != nil {
		return Peer{}, err
	}
	if cfg.VotingDuration, err = Duration("VOTING_DURATION", 60*time.Second); err != nil {
		return Peer{}, err
	}
	if cfg.StaleAfter, err = Duration("STALE_AFTER", 3*time.Second); err != nil {
		return Peer{}, err
	}
	return cfg, nil
}
