package ws

import (
	"bytes"
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/youngZwiebelandtheGemuseBeat/coopworld/internal/store"
)

type event struct {
	value  any
	exists bool
}

func quiet() *log.Logger { return log.New(&bytes.Buffer{}, "", 0) }

func newRelay(t *testing.T, opts HubOptions) (*Hub, string) {
	t.Helper()
	opts.Logger = quiet()
	hub := NewHub(nil, store.NewMemory(), opts)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, url, DialOptions{Logger: quiet(), ReconnectBackoff: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func subscribe(c *Conn, path string) chan event {
	ch := make(chan event, 16)
	c.On(path, func(v any, exists bool) { ch <- event{v, exists} })
	return ch
}

func next(t *testing.T, ch chan event) event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return event{}
}

func onceEventually(t *testing.T, c *Conn, path string) (any, bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		v, ok, err := c.Once(context.Background(), path)
		if err == nil {
			return v, ok
		}
		if time.Now().After(deadline) {
			t.Fatalf("once %s: %v", path, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSubscribeSeesOtherPeersWrites(t *testing.T) {
	_, url := newRelay(t, HubOptions{})
	a := dial(t, url)
	b := dial(t, url)

	events := subscribe(b, "boxes/box1")
	if ev := next(t, events); ev.exists {
		t.Fatalf("expected absent initial value, got %v", ev.value)
	}

	if err := a.Update("boxes/box1", map[string]any{"controllerId": "client1"}); err != nil {
		t.Fatal(err)
	}
	ev := next(t, events)
	if cid, _ := store.String(ev.value, "controllerId"); cid != "client1" || !ev.exists {
		t.Fatalf("unexpected event %+v", ev)
	}

	if err := a.Update("boxes/box1", map[string]any{"position": map[string]any{"x": 10, "y": 20, "rotation": 0}}); err != nil {
		t.Fatal(err)
	}
	ev = next(t, events)
	pos, _ := store.Child(ev.value, "position")
	if x, _ := store.Number(pos, "x"); x != 10 {
		t.Fatalf("position = %v", pos)
	}
}

func TestOnceReadsCurrentValue(t *testing.T) {
	_, url := newRelay(t, HubOptions{})
	a := dial(t, url)
	if err := a.Set("eggs/egg1/life", 88); err != nil {
		t.Fatal(err)
	}
	// writes and reads share the send queue, so the read is ordered after the write
	v, ok := onceEventually(t, a, "eggs/egg1/life")
	if !ok || v != float64(88) {
		t.Fatalf("once = %v %v", v, ok)
	}
	if _, ok := onceEventually(t, a, "eggs/missing"); ok {
		t.Fatalf("missing path reported as present")
	}
}

func TestCancelledSubscriptionStopsEvents(t *testing.T) {
	_, url := newRelay(t, HubOptions{})
	a := dial(t, url)
	ch := make(chan event, 16)
	cancel := a.On("triggers/t1", func(v any, exists bool) { ch <- event{v, exists} })
	next(t, ch)
	cancel()
	_ = a.Set("triggers/t1", map[string]any{"triggered": true})
	// a round trip through the relay orders the check after the write
	onceEventually(t, a, "triggers/t1")
	select {
	case ev := <-ch:
		t.Fatalf("event after cancel: %+v", ev)
	default:
	}
}

func TestReconnectResubscribes(t *testing.T) {
	hub, url := newRelay(t, HubOptions{})
	a := dial(t, url)
	b := dial(t, url)
	events := subscribe(b, "players/p1")
	next(t, events)

	hub.Shutdown()
	_ = a.Set("players/p1", map[string]any{"online": true})

	// b either saw the write before dropping or gets it on re-subscribe
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if online, _ := store.Bool(ev.value, "online"); online {
				return
			}
		case <-deadline:
			t.Fatalf("never observed the write after reconnect")
		}
	}
}

func TestClientBackendDrivesStoreClient(t *testing.T) {
	_, url := newRelay(t, HubOptions{})
	conn := dial(t, url)
	client := store.NewClient(conn, store.Options{Logger: quiet()})

	got := make(chan event, 4)
	client.Subscribe("games/g1/state", func(v any, exists bool) { got <- event{v, exists} })
	next(t, got)
	if err := client.SetPath("games/g1/state", "waiting"); err != nil {
		t.Fatal(err)
	}
	if ev := next(t, got); ev.value != "waiting" {
		t.Fatalf("state = %v", ev.value)
	}
}

type fakeSnapshots struct {
	mu   sync.Mutex
	docs map[string]any
}

func (f *fakeSnapshots) SaveSnapshot(docs map[string]any, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = docs
	return nil
}

func TestRunSnapshotsOnShutdown(t *testing.T) {
	snaps := &fakeSnapshots{}
	hub := NewHub(nil, store.NewMemory(), HubOptions{Logger: quiet(), Snapshots: snaps, SnapshotEvery: time.Hour})
	if err := hub.Restore(map[string]any{"games": map[string]any{"g1": map[string]any{"state": "waiting"}}}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { hub.Run(ctx); close(done) }()
	cancel()
	<-done

	snaps.mu.Lock()
	defer snaps.mu.Unlock()
	games, ok := snaps.docs["games"].(map[string]any)
	if !ok {
		t.Fatalf("snapshot missing games: %v", snaps.docs)
	}
	if state, _ := store.String(games["g1"], "state"); state != "waiting" {
		t.Fatalf("snapshot state = %q", state)
	}
}

func TestForbiddenOrigin(t *testing.T) {
	hub := NewHub([]string{"http://good.example"}, store.NewMemory(), HubOptions{Logger: quiet()})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "http://evil.example")
	hub.ServeWS(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCloseFlushesQueuedWrites(t *testing.T) {
	hub, url := newRelay(t, HubOptions{})
	for i := 0; i < 20; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		c, err := Dial(ctx, url, DialOptions{Logger: quiet()})
		cancel()
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		path := "players/p" + strconv.Itoa(i)
		if err := c.Update(path, map[string]any{"online": false}); err != nil {
			t.Fatal(err)
		}
		if err := c.Close(); err != nil {
			t.Fatal(err)
		}

		deadline := time.Now().Add(5 * time.Second)
		for {
			v, ok, _ := hub.mem.Once(context.Background(), path+"/online")
			if ok && v == false {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("write to %s queued before Close never reached the relay", path)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	_, url := newRelay(t, HubOptions{})
	c := dial(t, url)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Set("a", 1); err == nil {
		t.Fatalf("write after Close accepted")
	}
}
