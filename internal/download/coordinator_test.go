package download

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"slippyview/internal/cache"
	"slippyview/internal/tile"
	"slippyview/internal/tileserver"
)

// fakeFetcher answers through respond. With a gate, every fetch waits for
// one token before answering.
type fakeFetcher struct {
	mu        sync.Mutex
	gate      chan struct{}
	respond   func(url string) ([]byte, error)
	urls      []string
	active    int
	maxActive int
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	f.active++
	f.maxActive = max(f.maxActive, f.active)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.respond(url)
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.urls)
}

func (f *fakeFetcher) peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

func okResponse(size int) func(string) ([]byte, error) {
	return func(string) ([]byte, error) {
		return bytes.Repeat([]byte{1}, size), nil
	}
}

type failingStore struct{}

func (failingStore) Has(tile.Address) bool { return false }

func (failingStore) Write(tile.Address, []byte) error { return errors.New("disk full") }

// slowStore holds every Write until release is closed.
type slowStore struct {
	*cache.Store
	started chan struct{}
	release chan struct{}
}

func (s *slowStore) Write(addr tile.Address, data []byte) error {
	s.started <- struct{}{}
	<-s.release
	return s.Store.Write(addr, data)
}

func newTestCoordinator(t *testing.T, f Fetcher, workers int) (*Coordinator, *cache.Store) {
	t.Helper()
	server, err := tileserver.New("test", "https://tiles.example.com/%z/%x/%y.png", t.TempDir(), "/%z/%x/", "%y.png")
	if err != nil {
		t.Fatal(err)
	}
	store, err := cache.NewStore(server, nil, 0, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	c := NewCoordinator(context.Background(), server, store, f, workers, zap.NewNop())
	t.Cleanup(c.Close)
	return c, store
}

func waitEvent(t *testing.T, c *Coordinator) Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a download event")
		return Event{}
	}
}

func TestCoordinator_DownloadSuccess(t *testing.T) {
	f := &fakeFetcher{respond: okResponse(1024)}
	c, store := newTestCoordinator(t, f, 1)
	addr := tile.Address{Zoom: 10, X: 5, Y: 5}

	if !c.Enqueue(addr) {
		t.Fatal("Enqueue() = false for an unknown tile")
	}
	if !c.IsQueued(addr) {
		t.Fatal("tile not queued after Enqueue")
	}
	c.Drain()

	ev := waitEvent(t, c)
	if ev.Outcome != Cached || ev.Address != addr {
		t.Fatalf("event = %+v, want cached %v", ev, addr)
	}
	if !store.Has(addr) {
		t.Error("tile missing from store")
	}
	if c.IsQueued(addr) {
		t.Error("tile still queued after download")
	}
	if store.Size() != 1024 {
		t.Errorf("store Size() = %d, want 1024", store.Size())
	}
	if c.Enqueue(addr) {
		t.Error("Enqueue() accepted a cached tile")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if want := "https://tiles.example.com/10/5/5.png"; len(f.urls) != 1 || f.urls[0] != want {
		t.Errorf("fetched %v, want [%s]", f.urls, want)
	}
}

func TestCoordinator_NotFound(t *testing.T) {
	f := &fakeFetcher{respond: func(string) ([]byte, error) { return nil, ErrNotFound }}
	c, store := newTestCoordinator(t, f, 1)
	addr := tile.Address{Zoom: 18, X: 1, Y: 1}

	c.Enqueue(addr)
	c.Drain()

	if ev := waitEvent(t, c); ev.Outcome != Unavailable {
		t.Fatalf("outcome = %v, want unavailable", ev.Outcome)
	}
	if !c.IsUnavailable(addr) {
		t.Error("tile not marked unavailable")
	}
	if c.IsQueued(addr) {
		t.Error("unavailable tile still queued")
	}
	if store.Has(addr) {
		t.Error("unavailable tile was cached")
	}
	if c.Enqueue(addr) {
		t.Error("Enqueue() accepted an unavailable tile")
	}
}

func TestCoordinator_TransientFailure(t *testing.T) {
	f := &fakeFetcher{respond: func(string) ([]byte, error) { return nil, errors.New("connection reset") }}
	c, store := newTestCoordinator(t, f, 1)
	addr := tile.Address{Zoom: 3, X: 2, Y: 1}

	c.Enqueue(addr)
	c.Drain()

	if ev := waitEvent(t, c); ev.Outcome != Failed || ev.Err == nil {
		t.Fatalf("event = %+v, want failed with error", ev)
	}
	if c.IsQueued(addr) || c.IsUnavailable(addr) || store.Has(addr) {
		t.Error("transient failure left the tile in a terminal state")
	}
	if !c.Enqueue(addr) {
		t.Error("tile cannot be queued again after a transient failure")
	}
}

func TestCoordinator_EmptyBodyIsTransient(t *testing.T) {
	f := &fakeFetcher{respond: func(string) ([]byte, error) { return nil, nil }}
	c, _ := newTestCoordinator(t, f, 1)
	addr := tile.Address{Zoom: 1, X: 1, Y: 1}

	c.Enqueue(addr)
	c.Drain()

	ev := waitEvent(t, c)
	if ev.Outcome != Failed || !errors.Is(ev.Err, ErrEmptyBody) {
		t.Fatalf("event = %+v, want failed with ErrEmptyBody", ev)
	}
	if c.IsUnavailable(addr) {
		t.Error("empty body marked tile unavailable")
	}
}

func TestCoordinator_WriteFailure(t *testing.T) {
	server, _ := tileserver.New("test", "https://tiles.example.com/%z/%x/%y.png", t.TempDir(), "/%z/%x/", "%y.png")
	c := NewCoordinator(context.Background(), server, failingStore{}, &fakeFetcher{respond: okResponse(10)}, 1, zap.NewNop())
	t.Cleanup(c.Close)
	addr := tile.Address{Zoom: 2, X: 0, Y: 0}

	c.Enqueue(addr)
	c.Drain()

	if ev := waitEvent(t, c); ev.Outcome != Failed {
		t.Fatalf("outcome = %v, want failed", ev.Outcome)
	}
	if c.IsQueued(addr) || c.IsUnavailable(addr) {
		t.Error("write failure left the tile queued or unavailable")
	}
}

func TestCoordinator_WriteDoesNotBlockQueue(t *testing.T) {
	server, err := tileserver.New("test", "https://tiles.example.com/%z/%x/%y.png", t.TempDir(), "/%z/%x/", "%y.png")
	if err != nil {
		t.Fatal(err)
	}
	disk, err := cache.NewStore(server, nil, 0, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	store := &slowStore{Store: disk, started: make(chan struct{}, 1), release: make(chan struct{})}
	f := &fakeFetcher{respond: okResponse(16)}
	c := NewCoordinator(context.Background(), server, store, f, 1, zap.NewNop())
	t.Cleanup(c.Close)
	release := sync.OnceFunc(func() { close(store.release) })
	t.Cleanup(release)

	a := tile.Address{Zoom: 3, X: 1, Y: 1}
	b := tile.Address{Zoom: 3, X: 2, Y: 1}
	c.Enqueue(a)
	c.Drain()

	select {
	case <-store.started:
	case <-time.After(5 * time.Second):
		t.Fatal("tile was never written")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Enqueue(b)
		c.IsUnavailable(a)
		c.QueueLen()
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queue operations blocked while a tile was being written")
	}

	// a request for the tile being written must not start a second fetch
	c.Clear()
	if !c.Enqueue(a) {
		t.Fatal("Enqueue() = false for a tile not cached yet")
	}
	c.Drain()
	if f.calls() != 1 {
		t.Errorf("fetch calls = %d during write, want 1", f.calls())
	}

	release()
	if ev := waitEvent(t, c); ev.Outcome != Cached || ev.Address != a {
		t.Fatalf("event = %+v, want cached %v", ev, a)
	}
	if !disk.Has(a) {
		t.Error("tile missing from store")
	}
	if c.IsQueued(a) || c.QueueLen() != 0 {
		t.Errorf("QueueLen() = %d after the tile was cached, want 0", c.QueueLen())
	}
	if f.calls() != 1 {
		t.Errorf("fetch calls = %d, want 1", f.calls())
	}
}

func TestCoordinator_StaleCompletionDiscarded(t *testing.T) {
	tests := []struct {
		name    string
		respond func(string) ([]byte, error)
	}{
		{"success", okResponse(64)},
		{"not found", func(string) ([]byte, error) { return nil, ErrNotFound }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFetcher{gate: make(chan struct{}), respond: tt.respond}
			c, store := newTestCoordinator(t, f, 1)
			addr := tile.Address{Zoom: 14, X: 100, Y: 200}

			c.Enqueue(addr)
			c.Drain()
			if c.InFlight() != 1 {
				t.Fatalf("InFlight() = %d, want 1", c.InFlight())
			}
			c.Clear()
			if c.QueueLen() != 0 {
				t.Fatalf("QueueLen() = %d after Clear", c.QueueLen())
			}

			f.gate <- struct{}{}
			if ev := waitEvent(t, c); ev.Outcome != Stale {
				t.Fatalf("outcome = %v, want stale", ev.Outcome)
			}
			if store.Has(addr) {
				t.Error("stale completion was cached")
			}
			if c.IsUnavailable(addr) {
				t.Error("stale completion marked the tile unavailable")
			}
			if c.InFlight() != 0 {
				t.Errorf("InFlight() = %d, want 0", c.InFlight())
			}
		})
	}
}

func TestCoordinator_SingleFlight(t *testing.T) {
	f := &fakeFetcher{gate: make(chan struct{}), respond: okResponse(8)}
	c, store := newTestCoordinator(t, f, 1)

	addrs := []tile.Address{
		{Zoom: 5, X: 0, Y: 0},
		{Zoom: 5, X: 1, Y: 0},
		{Zoom: 5, X: 2, Y: 0},
		{Zoom: 5, X: 3, Y: 0},
	}
	for _, a := range addrs {
		c.Enqueue(a)
	}
	c.Drain()
	c.Drain()
	if c.InFlight() != 1 {
		t.Fatalf("InFlight() = %d, want 1", c.InFlight())
	}

	for range addrs {
		f.gate <- struct{}{}
		if ev := waitEvent(t, c); ev.Outcome != Cached {
			t.Fatalf("outcome = %v, want cached", ev.Outcome)
		}
	}

	if f.peak() != 1 {
		t.Errorf("peak concurrency = %d, want 1", f.peak())
	}
	if f.calls() != len(addrs) {
		t.Errorf("fetch calls = %d, want %d", f.calls(), len(addrs))
	}
	for _, a := range addrs {
		if !store.Has(a) {
			t.Errorf("%v not cached", a)
		}
	}
	if c.QueueLen() != 0 {
		t.Errorf("QueueLen() = %d, want 0", c.QueueLen())
	}
}

func TestCoordinator_WorkerPool(t *testing.T) {
	f := &fakeFetcher{gate: make(chan struct{}), respond: okResponse(8)}
	c, _ := newTestCoordinator(t, f, 3)

	for x := range 8 {
		c.Enqueue(tile.Address{Zoom: 4, X: x, Y: 3})
	}
	c.Drain()
	if c.InFlight() != 3 {
		t.Fatalf("InFlight() = %d, want 3", c.InFlight())
	}

	for range 8 {
		f.gate <- struct{}{}
		waitEvent(t, c)
	}
	if f.peak() > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", f.peak())
	}
}

func TestCoordinator_NoDuplicateFetchAfterRequeue(t *testing.T) {
	f := &fakeFetcher{gate: make(chan struct{}), respond: okResponse(8)}
	c, store := newTestCoordinator(t, f, 3)
	addr := tile.Address{Zoom: 6, X: 7, Y: 8}

	c.Enqueue(addr)
	c.Drain()
	c.Clear()
	if !c.Enqueue(addr) {
		t.Fatal("Enqueue() after Clear = false")
	}
	c.Drain()
	if c.InFlight() != 1 {
		t.Fatalf("InFlight() = %d, want the old fetch only", c.InFlight())
	}

	f.gate <- struct{}{}
	if ev := waitEvent(t, c); ev.Outcome != Stale {
		t.Fatalf("first outcome = %v, want stale", ev.Outcome)
	}
	f.gate <- struct{}{}
	if ev := waitEvent(t, c); ev.Outcome != Cached {
		t.Fatalf("second outcome = %v, want cached", ev.Outcome)
	}
	if !store.Has(addr) {
		t.Error("requeued tile not cached")
	}
	if f.peak() != 1 {
		t.Errorf("same address fetched concurrently, peak = %d", f.peak())
	}
}

func TestCoordinator_EnqueueDuplicatesAndInvalid(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakeFetcher{respond: okResponse(1)}, 1)

	if !c.Enqueue(tile.Address{Zoom: 2, X: -1, Y: 0}) {
		t.Fatal("Enqueue() rejected a wrappable column")
	}
	if !c.IsQueued(tile.Address{Zoom: 2, X: 3, Y: 0}) {
		t.Error("column was not wrapped before queueing")
	}
	if c.Enqueue(tile.Address{Zoom: 2, X: 3, Y: 0}) {
		t.Error("Enqueue() queued the same tile twice")
	}
	if c.Enqueue(tile.Address{Zoom: 2, X: 0, Y: 4}) {
		t.Error("Enqueue() accepted a row outside the grid")
	}
	if c.QueueLen() != 1 {
		t.Errorf("QueueLen() = %d, want 1", c.QueueLen())
	}
}

func TestNewCoordinator_ClampsWorkers(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 1},
		{-3, 1},
		{1, 1},
		{4, 4},
		{50, MaxWorkers},
	}
	for _, tt := range tests {
		c := NewCoordinator(context.Background(), nil, failingStore{}, &fakeFetcher{}, tt.in, zap.NewNop())
		if got := c.Workers(); got != tt.want {
			t.Errorf("workers %d: Workers() = %d, want %d", tt.in, got, tt.want)
		}
		c.Close()
	}
}
