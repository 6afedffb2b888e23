package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brojonat/tradewatch/service/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor_AdvanceAndReset(t *testing.T) {
	ctx := context.Background()
	c := NewCursor("gm", Window{Until: "stop"}, nil)

	require.NoError(t, c.Advance(ctx, "sig-9", nil))
	assert.Equal(t, Window{Before: "sig-9", Until: "stop"}, c.Window())

	require.NoError(t, c.Advance(ctx, "", nil))
	assert.Equal(t, "sig-9", c.Window().Before, "an empty oldest leaves the cursor alone")

	require.NoError(t, c.Reset(ctx))
	assert.Equal(t, Window{Until: "stop"}, c.Window())
}

func TestCursor_Checkpoints(t *testing.T) {
	ctx := context.Background()
	store := newMemCheckpoints()
	bt := int64(1700000000)

	c := NewCursor("gm", Window{}, store)
	require.NoError(t, c.Advance(ctx, "sig-5", &bt))

	saved := store.saved["gm"]
	assert.Equal(t, "sig-5", saved.Before)
	require.NotNil(t, saved.BlockTime)
	assert.Equal(t, time.Unix(bt, 0).UTC(), *saved.BlockTime)

	resumed := NewCursor("gm", Window{}, store)
	ok, err := resumed.Restore(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sig-5", resumed.Window().Before)
	assert.Equal(t, bt, *resumed.BlockTime())
}

func TestCursor_RestoreSkippedWhenSeeded(t *testing.T) {
	ctx := context.Background()
	store := newMemCheckpoints()
	store.saved["gm"] = db.Checkpoint{Name: "gm", Before: "saved"}

	c := NewCursor("gm", Window{Before: "explicit"}, store)
	ok, err := c.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "explicit", c.Window().Before)
}

func TestCursor_RestoreKeepsConfiguredUntil(t *testing.T) {
	store := newMemCheckpoints()
	store.saved["gm"] = db.Checkpoint{Name: "gm", Before: "saved", Until: "saved-until"}

	c := NewCursor("gm", Window{Until: "configured"}, store)
	ok, err := c.Restore(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Window{Before: "saved", Until: "configured"}, c.Window())
}

func TestCursor_RestoreMissingCheckpoint(t *testing.T) {
	c := NewCursor("gm", Window{}, newMemCheckpoints())
	ok, err := c.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Window{}, c.Window())
}

func TestCursor_CheckpointErrorKeepsMove(t *testing.T) {
	store := newMemCheckpoints()
	store.err = errors.New("db down")

	c := NewCursor("gm", Window{}, store)
	err := c.Advance(context.Background(), "sig-1", nil)
	require.Error(t, err)
	assert.Equal(t, "sig-1", c.Window().Before)
}

func TestCursor_MarkSeen(t *testing.T) {
	store := newMemCheckpoints()
	c := NewCursor("gm-react", Window{}, store)

	require.NoError(t, c.MarkSeen(context.Background(), "newest", nil))
	assert.Equal(t, Window{Until: "newest"}, c.Window())
	assert.Equal(t, "newest", store.saved["gm-react"].Until)
}
