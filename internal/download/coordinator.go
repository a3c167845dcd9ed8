package download

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"slippyview/internal/metrics"
	"slippyview/internal/tile"
	"slippyview/internal/tileserver"
)

// MaxWorkers bounds the number of concurrent fetches.
const MaxWorkers = 6

// Store is the part of the tile cache the coordinator needs.
type Store interface {
	Has(addr tile.Address) bool
	Write(addr tile.Address, data []byte) error
}

// Request is a queued download.
type Request struct {
	ID      uuid.UUID
	Address tile.Address
	URL     string
}

// Outcome classifies a finished fetch.
type Outcome int

const (
	// Cached: the tile was downloaded and written to the store.
	Cached Outcome = iota
	// Unavailable: the server does not have the tile; it will not be asked again.
	Unavailable
	// Failed: transient error; the tile may be queued again later.
	Failed
	// Stale: the request was no longer queued when the fetch finished.
	Stale
)

func (o Outcome) String() string {
	switch o {
	case Cached:
		return metrics.OutcomeCached
	case Unavailable:
		return metrics.OutcomeNotFound
	case Failed:
		return metrics.OutcomeFailed
	case Stale:
		return metrics.OutcomeStale
	default:
		return "unknown"
	}
}

// Event reports a finished fetch.
type Event struct {
	Address tile.Address
	Outcome Outcome
	Err     error
}

// Coordinator owns the download queue and the unavailable set.
//
// An address is absent, queued, in flight, cached or unavailable. At most
// workers fetches are outstanding, never two for the same address. A
// request stays in the queue while its fetch runs; the completion is only
// applied if the very same request is still queued, so completions racing
// with Clear are dropped. Disk writes happen outside the lock.
type Coordinator struct {
	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	server      *tileserver.Server
	store       Store
	fetcher     Fetcher
	logger      *zap.Logger
	workers     int
	queue       map[tile.Address]*Request
	order       []tile.Address
	unavailable map[tile.Address]struct{}
	inFlight    map[tile.Address]uuid.UUID
	events      chan Event
	wg          sync.WaitGroup
	closed      bool
}

// NewCoordinator returns an idle coordinator. workers is clamped to
// [1, MaxWorkers]; 1 gives strict single-flight.
func NewCoordinator(ctx context.Context, server *tileserver.Server, store Store, fetcher Fetcher, workers int, logger *zap.Logger) *Coordinator {
	ctx, cancel := context.WithCancel(ctx)
	return &Coordinator{
		ctx:         ctx,
		cancel:      cancel,
		server:      server,
		store:       store,
		fetcher:     fetcher,
		logger:      logger,
		workers:     max(1, min(workers, MaxWorkers)),
		queue:       make(map[tile.Address]*Request),
		unavailable: make(map[tile.Address]struct{}),
		inFlight:    make(map[tile.Address]uuid.UUID),
		events:      make(chan Event, 256),
	}
}

// Events delivers one event per finished fetch. Events are dropped when
// nobody keeps up with the channel.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// Enqueue queues addr for download. It is a no-op, returning false, when the
// tile is cached, unavailable, already queued or not on the map.
func (c *Coordinator) Enqueue(addr tile.Address) bool {
	addr = addr.Normalize()
	if !addr.Valid() {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	if _, ok := c.queue[addr]; ok {
		return false
	}
	if _, ok := c.unavailable[addr]; ok {
		return false
	}
	if c.store.Has(addr) {
		return false
	}

	c.queue[addr] = &Request{
		ID:      uuid.New(),
		Address: addr,
		URL:     c.server.ResolveURL(addr.Zoom, addr.X, addr.Y),
	}
	c.order = append(c.order, addr)
	metrics.QueueLength.Set(float64(len(c.queue)))
	return true
}

// Drain starts fetches for queued tiles while worker slots are free.
// It never blocks on the network.
func (c *Coordinator) Drain() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drainLocked()
}

func (c *Coordinator) drainLocked() {
	if c.closed {
		return
	}

	// drop addresses that left the queue, keeping insertion order
	order := c.order[:0]
	for _, addr := range c.order {
		if _, ok := c.queue[addr]; ok {
			order = append(order, addr)
		}
	}
	c.order = order

	for _, addr := range c.order {
		if len(c.inFlight) >= c.workers {
			return
		}
		if _, busy := c.inFlight[addr]; busy {
			continue
		}
		req := c.queue[addr]
		c.inFlight[addr] = req.ID
		c.wg.Add(1)
		go c.fetch(*req)
	}
}

func (c *Coordinator) fetch(req Request) {
	defer c.wg.Done()

	start := time.Now()
	data, err := c.fetcher.Fetch(c.ctx, req.URL)
	metrics.DownloadLatency.Observe(time.Since(start).Seconds())

	if err == nil && len(data) == 0 {
		err = ErrEmptyBody
	}
	c.complete(req, data, err)
}

// complete applies the result of one fetch and starts the next ones.
func (c *Coordinator) complete(req Request, data []byte, err error) {
	addr := req.Address
	ev := Event{Address: addr, Err: err}

	c.mu.Lock()
	if err == nil && c.isCurrent(req) {
		// the in-flight entry stays while writing, so addr is not fetched twice
		c.mu.Unlock()
		werr := c.store.Write(addr, data)
		c.mu.Lock()
		c.finishWrite(req, &ev, werr, len(data))
	} else {
		c.finishFetch(req, &ev)
	}
	if id, ok := c.inFlight[addr]; ok && id == req.ID {
		delete(c.inFlight, addr)
	}
	metrics.QueueLength.Set(float64(len(c.queue)))

	c.drainLocked()
	c.mu.Unlock()

	select {
	case c.events <- ev:
	default:
	}
}

// isCurrent must be called with c.mu held.
func (c *Coordinator) isCurrent(req Request) bool {
	current, queued := c.queue[req.Address]
	return queued && current.ID == req.ID
}

// finishWrite records a fetch whose body was handed to the store. The queue
// may have been cleared meanwhile; a written tile is cached either way, so
// any request for it is dropped.
func (c *Coordinator) finishWrite(req Request, ev *Event, werr error, n int) {
	addr := req.Address
	if werr != nil {
		ev.Outcome, ev.Err = Failed, werr
		if c.isCurrent(req) {
			delete(c.queue, addr)
		}
		metrics.Downloads.WithLabelValues(metrics.OutcomeWriteFailed).Inc()
		c.logger.Warn("Failed to cache tile", zap.String("tile", addr.String()), zap.Error(werr))
		return
	}

	ev.Outcome = Cached
	delete(c.queue, addr)
	metrics.Downloads.WithLabelValues(ev.Outcome.String()).Inc()
	c.logger.Debug("Tile downloaded", zap.String("tile", addr.String()), zap.Int("bytes", n))
}

// finishFetch must be called with c.mu held.
func (c *Coordinator) finishFetch(req Request, ev *Event) {
	addr := req.Address
	switch {
	case !c.isCurrent(req):
		ev.Outcome = Stale
		c.logger.Debug("Discarding stale tile download", zap.String("tile", addr.String()))
	case errors.Is(ev.Err, ErrNotFound):
		ev.Outcome = Unavailable
		delete(c.queue, addr)
		c.unavailable[addr] = struct{}{}
		c.logger.Info("Tile not available on server", zap.String("tile", addr.String()), zap.String("url", req.URL))
	default:
		ev.Outcome = Failed
		delete(c.queue, addr)
		c.logger.Warn("Tile download failed", zap.String("tile", addr.String()), zap.Error(ev.Err))
	}
	metrics.Downloads.WithLabelValues(ev.Outcome.String()).Inc()
}

// Clear empties the queue. Fetches already running finish, but their
// results are discarded.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queue = make(map[tile.Address]*Request)
	c.order = nil
	metrics.QueueLength.Set(0)
}

// IsQueued reports whether addr waits for, or is being, downloaded.
func (c *Coordinator) IsQueued(addr tile.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.queue[addr.Normalize()]
	return ok
}

// IsUnavailable reports whether the server said it does not have addr.
func (c *Coordinator) IsUnavailable(addr tile.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.unavailable[addr.Normalize()]
	return ok
}

// QueueLen returns the number of queued requests, including running ones.
func (c *Coordinator) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// InFlight returns the number of outstanding fetches, stale ones included.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight)
}

// UnavailableLen returns the size of the unavailable set.
func (c *Coordinator) UnavailableLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.unavailable)
}

// Workers returns the fetch concurrency limit.
func (c *Coordinator) Workers() int {
	return c.workers
}

// Close cancels running fetches and waits for them to finish.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	close(c.events)
}
