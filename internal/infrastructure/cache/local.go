package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/stockstatus"
	"lotledger/pkg/logger"
)

// StockChangedChannel is the NOTIFY channel written by the ledger insert trigger.
// Its payload is the product id.
const StockChangedChannel = "stock_changed"

type localEntry struct {
	qty     types.Quantity
	expires time.Time
}

// LocalStockCache keeps stock totals in process memory.
// Entries expire after the TTL; with a pool attached it also drops entries
// as soon as any writer commits a ledger row for the product.
type LocalStockCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[id.ID]localEntry
	// Generations come from one counter so a clear can never repeat a
	// value a reader already holds.
	counter uint64
	epoch   uint64
	gens    map[id.ID]uint64

	pool *pgxpool.Pool

	lifecycleMu sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	started     bool
}

// LocalOption configures a LocalStockCache.
type LocalOption func(*LocalStockCache)

// WithNotifications invalidates entries on stock_changed notifications from pool.
func WithNotifications(pool *pgxpool.Pool) LocalOption {
	return func(c *LocalStockCache) { c.pool = pool }
}

// WithLocalClock replaces time.Now.
func WithLocalClock(now func() time.Time) LocalOption {
	return func(c *LocalStockCache) { c.now = now }
}

// NewLocalStockCache creates an empty cache. A non-positive ttl keeps entries until invalidated.
func NewLocalStockCache(ttl time.Duration, opts ...LocalOption) *LocalStockCache {
	c := &LocalStockCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[id.ID]localEntry),
		gens:    make(map[id.ID]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached total and whether it was present and fresh.
func (c *LocalStockCache) Get(_ context.Context, productID id.ID) (types.Quantity, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[productID]
	c.mu.RUnlock()

	if !ok || (!e.expires.IsZero() && !c.now().Before(e.expires)) {
		return 0, false, nil
	}
	return e.qty, true, nil
}

// Generation returns the product's current generation.
func (c *LocalStockCache) Generation(_ context.Context, productID id.ID) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generationLocked(productID), nil
}

func (c *LocalStockCache) generationLocked(productID id.ID) uint64 {
	return max(c.epoch, c.gens[productID])
}

// Set stores a total unless the product was invalidated after generation was read.
func (c *LocalStockCache) Set(_ context.Context, productID id.ID, qty types.Quantity, generation uint64) error {
	e := localEntry{qty: qty}
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generationLocked(productID) != generation {
		return nil
	}
	c.entries[productID] = e
	return nil
}

// Invalidate drops a product's total and moves it to a new generation.
func (c *LocalStockCache) Invalidate(_ context.Context, productID id.ID) error {
	c.mu.Lock()
	c.counter++
	c.gens[productID] = c.counter
	delete(c.entries, productID)
	c.mu.Unlock()
	return nil
}

// Len reports the number of held entries, expired ones included.
func (c *LocalStockCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Start begins listening for stock_changed notifications.
// It is a no-op without a pool or when already started.
func (c *LocalStockCache) Start(ctx context.Context) {
	if c.pool == nil {
		return
	}

	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.started {
		return
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.started = true

	c.wg.Add(1)
	go c.listenLoop()
	logger.Info(ctx, "stock cache listener started")
}

// Stop stops the listener and waits for it to exit.
func (c *LocalStockCache) Stop() {
	c.lifecycleMu.Lock()
	if !c.started {
		c.lifecycleMu.Unlock()
		return
	}
	cancel := c.cancel
	c.started = false
	c.cancel = nil
	c.lifecycleMu.Unlock()

	cancel()
	c.wg.Wait()
	logger.Info(context.Background(), "stock cache listener stopped")
}

func (c *LocalStockCache) listenLoop() {
	defer c.wg.Done()

	for c.ctx.Err() == nil {
		conn, err := c.pool.Acquire(c.ctx)
		if err != nil {
			logger.Error(c.ctx, "failed to acquire connection for LISTEN", "error", err)
			c.sleep(time.Second)
			continue
		}

		if _, err := conn.Exec(c.ctx, "LISTEN "+StockChangedChannel); err != nil {
			logger.Error(c.ctx, "failed to LISTEN", "error", err)
			conn.Release()
			c.sleep(time.Second)
			continue
		}

		// Totals cached while no listener was attached may be stale.
		c.clear()
		c.waitForNotifications(conn)
		conn.Release()
	}
}

func (c *LocalStockCache) waitForNotifications(conn *pgxpool.Conn) {
	for {
		ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
		n, err := conn.Conn().WaitForNotification(ctx)
		cancel()

		switch {
		case c.ctx.Err() != nil:
			return
		case err != nil && ctx.Err() == nil:
			logger.Warn(c.ctx, "stock listener connection lost", "error", err)
			return
		case err != nil:
			continue
		}

		c.handleNotification(c.ctx, n.Payload)
	}
}

func (c *LocalStockCache) handleNotification(ctx context.Context, payload string) {
	productID, err := id.Parse(strings.TrimSpace(payload))
	if err != nil {
		logger.Warn(ctx, "unreadable stock_changed payload, dropping all totals", "payload", payload)
		c.clear()
		return
	}
	_ = c.Invalidate(ctx, productID)
}

func (c *LocalStockCache) clear() {
	c.mu.Lock()
	c.counter++
	c.epoch = c.counter
	clear(c.gens)
	clear(c.entries)
	c.mu.Unlock()
}

func (c *LocalStockCache) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-c.ctx.Done():
	}
}

var _ stockstatus.StockCache = (*LocalStockCache)(nil)
