package persist

import (
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:", Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMigrateSchemaIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	if err := store.MigrateSchema(); err != nil {
		t.Fatalf("second MigrateSchema() error = %v", err)
	}
	version, err := store.currentSchemaVersion()
	if err != nil {
		t.Fatal(err)
	}
	if version != len(migrations) {
		t.Fatalf("schema version = %d, want %d", version, len(migrations))
	}
}

func TestIdentityRoundTrip(t *testing.T) {
	store := newTestStore(t)
	if _, ok, err := store.GetIdentity(KeyPlayerID); err != nil || ok {
		t.Fatalf("expected no identity, got ok=%v err=%v", ok, err)
	}
	if err := store.PutIdentity(KeyPlayerID, "abc"); err != nil {
		t.Fatal(err)
	}
	if err := store.PutIdentity(KeyPlayerID, "def"); err != nil {
		t.Fatal(err)
	}
	got, ok, err := store.GetIdentity(KeyPlayerID)
	if err != nil || !ok || got != "def" {
		t.Fatalf("GetIdentity = %q %v %v", got, ok, err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := newTestStore(t)
	docs := map[string]any{
		"eggs": map[string]any{
			"egg1": map[string]any{
				"life":         float64(88),
				"controllerId": "client1",
				"isFalling":    false,
			},
		},
		"games": map[string]any{
			"g1": map[string]any{"activePlayers": []any{"p1", "p2"}},
		},
	}
	if err := store.SaveSnapshot(docs, time.Unix(10, 0)); err != nil {
		t.Fatal(err)
	}
	got, err := store.LoadSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	eggs, ok := got["eggs"].(map[string]any)
	if !ok {
		t.Fatalf("eggs decoded as %T", got["eggs"])
	}
	egg1, _ := eggs["egg1"].(map[string]any)
	if egg1["life"] != float64(88) || egg1["controllerId"] != "client1" || egg1["isFalling"] != false {
		t.Fatalf("egg1 = %v", egg1)
	}

	if err := store.SaveSnapshot(map[string]any{"players": map[string]any{"p1": map[string]any{"online": true}}}, time.Unix(20, 0)); err != nil {
		t.Fatal(err)
	}
	got, _ = store.LoadSnapshot()
	if _, ok := got["eggs"]; ok || len(got) != 1 {
		t.Fatalf("expected the snapshot to be replaced, got %v", got)
	}
}
