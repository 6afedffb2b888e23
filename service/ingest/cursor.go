package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/brojonat/tradewatch/service/db"
)

// Window bounds one signature page. Both ends are exclusive and an empty
// value is unbounded.
type Window struct {
	Before string `json:"before,omitempty"`
	Until  string `json:"until,omitempty"`
}

// CheckpointStore persists cursor positions across restarts.
type CheckpointStore interface {
	GetCursor(ctx context.Context, name string) (*db.Checkpoint, error)
	SaveCursor(ctx context.Context, cp db.Checkpoint) error
}

// Cursor tracks the paging window. It only moves after a page succeeded,
// and in poll mode only toward older signatures.
type Cursor struct {
	mu        sync.Mutex
	name      string
	window    Window
	blockTime *int64
	store     CheckpointStore
}

// NewCursor starts at the given window. store may be nil, in which case
// the position lives only in memory.
func NewCursor(name string, start Window, store CheckpointStore) *Cursor {
	return &Cursor{name: name, window: start, store: store}
}

func (c *Cursor) Name() string {
	return c.name
}

// Window returns the current {before, until}.
func (c *Cursor) Window() Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.window
}

// BlockTime is the block time of the signature the cursor last moved to.
func (c *Cursor) BlockTime() *int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockTime
}

// Restore loads the saved checkpoint unless the cursor was seeded with an
// explicit start signature. It reports whether a checkpoint was applied.
func (c *Cursor) Restore(ctx context.Context) (bool, error) {
	if c.store == nil {
		return false, nil
	}
	c.mu.Lock()
	seeded := c.window.Before != ""
	c.mu.Unlock()
	if seeded {
		return false, nil
	}

	cp, err := c.store.GetCursor(ctx, c.name)
	if errors.Is(err, db.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("restore cursor %s: %w", c.name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.window.Before = cp.Before
	if c.window.Until == "" {
		c.window.Until = cp.Until
	}
	if cp.BlockTime != nil {
		bt := cp.BlockTime.Unix()
		c.blockTime = &bt
	}
	return true, nil
}

// Advance moves before to the oldest signature of a successful page and
// keeps until. The new position is checkpointed; a checkpoint error is
// returned but the in-memory move stands.
func (c *Cursor) Advance(ctx context.Context, oldest string, blockTime *int64) error {
	if oldest == "" {
		return nil
	}
	c.mu.Lock()
	c.window.Before = oldest
	c.blockTime = blockTime
	c.mu.Unlock()
	return c.save(ctx)
}

// Reset returns to the head of history after the walk ran out of pages.
func (c *Cursor) Reset(ctx context.Context) error {
	c.mu.Lock()
	c.window.Before = ""
	c.blockTime = nil
	c.mu.Unlock()
	return c.save(ctx)
}

// MarkSeen records the newest signature handled in react mode. It becomes
// the until bound of the next drain.
func (c *Cursor) MarkSeen(ctx context.Context, newest string, blockTime *int64) error {
	if newest == "" {
		return nil
	}
	c.mu.Lock()
	c.window.Until = newest
	c.blockTime = blockTime
	c.mu.Unlock()
	return c.save(ctx)
}

func (c *Cursor) save(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	c.mu.Lock()
	cp := db.Checkpoint{Name: c.name, Before: c.window.Before, Until: c.window.Until}
	if c.blockTime != nil {
		t := time.Unix(*c.blockTime, 0).UTC()
		cp.BlockTime = &t
	}
	c.mu.Unlock()

	if err := c.store.SaveCursor(ctx, cp); err != nil {
		return fmt.Errorf("checkpoint cursor %s: %w", c.name, err)
	}
	return nil
}
