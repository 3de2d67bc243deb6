package registry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperbola/sessiond/pkg/naming"
	"github.com/hyperbola/sessiond/pkg/store"
	"github.com/hyperbola/sessiond/pkg/types"
)

const testTTL = 24 * time.Hour

// TestCreateAndRequire tests the record round trip
func TestCreateAndRequire(t *testing.T) {
	mem := store.NewMemory()
	reg := New(mem, testTTL)
	ctx := context.Background()

	created, err := reg.Create(ctx, "a1b2c3d4", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCreated, created.Status)
	assert.NotEmpty(t, created.CreatedAt)

	loaded, err := reg.Require(ctx, "a1b2c3d4")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", loaded.UserID)
	assert.Equal(t, types.StatusCreated, loaded.Status)
	assert.Equal(t, created.CreatedAt, loaded.CreatedAt)

	assert.Equal(t, testTTL, mem.TTL(naming.SessionKey("a1b2c3d4")))
}

// TestRequireUnknownSession tests the not-found path
func TestRequireUnknownSession(t *testing.T) {
	reg := New(store.NewMemory(), testTTL)

	_, err := reg.Require(context.Background(), "missing1")
	require.Error(t, err)
	assert.Equal(t, types.KindSessionNotFound, types.KindOf(err))
}

// TestTouchUpdatesStatusAndTTL tests that mutation restarts the TTL
func TestTouchUpdatesStatusAndTTL(t *testing.T) {
	mem := store.NewMemory()
	reg := New(mem, testTTL)
	ctx := context.Background()

	_, err := reg.Create(ctx, "a1b2c3d4", "alice")
	require.NoError(t, err)

	// Simulate time passing by clearing the recorded TTL.
	require.NoError(t, mem.Expire(ctx, naming.SessionKey("a1b2c3d4"), time.Minute))

	require.NoError(t, reg.Touch(ctx, "a1b2c3d4", types.StatusRunning))

	s, err := reg.Require(ctx, "a1b2c3d4")
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, s.Status)
	assert.Equal(t, testTTL, mem.TTL(naming.SessionKey("a1b2c3d4")))
	assert.Equal(t, testTTL, mem.TTL(naming.QueueKey("a1b2c3d4")))

	// Empty status keeps the current one.
	require.NoError(t, reg.Touch(ctx, "a1b2c3d4", ""))
	s, err = reg.Require(ctx, "a1b2c3d4")
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, s.Status)
}

// TestEventLogIsCapped tests that the audit log keeps only the newest entries
func TestEventLogIsCapped(t *testing.T) {
	mem := store.NewMemory()
	reg := New(mem, testTTL)
	ctx := context.Background()

	for i := 0; i < maxEvents+20; i++ {
		reg.RecordEvent(ctx, "a1b2c3d4", types.EventChatReceived, map[string]any{"seq": i})
	}

	length, err := mem.ListLength(ctx, naming.EventsKey("a1b2c3d4"))
	require.NoError(t, err)
	assert.Equal(t, int64(maxEvents), length)

	events, err := reg.Events(ctx, "a1b2c3d4", 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventChatReceived, events[0].Type)
	assert.Equal(t, float64(maxEvents+19), events[0].Details["seq"])

	assert.Equal(t, testTTL, mem.TTL(naming.EventsKey("a1b2c3d4")))
}

// TestChatLogIsCapped tests the chat log trim
func TestChatLogIsCapped(t *testing.T) {
	mem := store.NewMemory()
	reg := New(mem, testTTL)
	ctx := context.Background()

	for i := 0; i < maxChatRecords+5; i++ {
		require.NoError(t, reg.RecordChat(ctx, "a1b2c3d4", fmt.Sprintf("message %d", i)))
	}

	length, err := mem.ListLength(ctx, naming.ChatKey("a1b2c3d4"))
	require.NoError(t, err)
	assert.Equal(t, int64(maxChatRecords), length)
}

// TestDestroyRemovesAllKeys tests that no session-scoped key survives
func TestDestroyRemovesAllKeys(t *testing.T) {
	mem := store.NewMemory()
	reg := New(mem, testTTL)
	ctx := context.Background()

	_, err := reg.Create(ctx, "a1b2c3d4", "alice")
	require.NoError(t, err)
	reg.RecordEvent(ctx, "a1b2c3d4", types.EventSessionCreated, nil)
	require.NoError(t, reg.RecordChat(ctx, "a1b2c3d4", "hello"))
	require.NoError(t, mem.ListPushFront(ctx, naming.QueueKey("a1b2c3d4"), "wake"))

	require.NoError(t, reg.Destroy(ctx, "a1b2c3d4"))

	for _, key := range []string{
		naming.SessionKey("a1b2c3d4"),
		naming.QueueKey("a1b2c3d4"),
		naming.ChatKey("a1b2c3d4"),
		naming.EventsKey("a1b2c3d4"),
	} {
		exists, err := mem.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists, "key %s should be gone", key)
	}

	_, err = reg.Require(ctx, "a1b2c3d4")
	assert.Equal(t, types.KindSessionNotFound, types.KindOf(err))
}

// TestListAndCounts tests the directory views behind the monitoring endpoints
func TestListAndCounts(t *testing.T) {
	mem := store.NewMemory()
	reg := New(mem, testTTL)
	ctx := context.Background()

	_, err := reg.Create(ctx, "aaaa1111", "alice")
	require.NoError(t, err)
	_, err = reg.Create(ctx, "bbbb2222", "bob")
	require.NoError(t, err)
	_, err = reg.Create(ctx, "cccc3333", "carol")
	require.NoError(t, err)

	require.NoError(t, reg.Touch(ctx, "aaaa1111", types.StatusRunning))
	require.NoError(t, reg.Touch(ctx, "bbbb2222", types.StatusSleeping))

	sessions, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 3)

	total, active, sleeping, err := reg.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, 1, active)
	assert.Equal(t, 1, sleeping)
}
