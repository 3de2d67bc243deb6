package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemoryHashRoundTrip tests hash set/get/exists/delete
func TestMemoryHashRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.HashSet(ctx, "session:abc", map[string]string{
		"user_id": "alice",
		"status":  "created",
	}))

	exists, err := m.Exists(ctx, "session:abc")
	require.NoError(t, err)
	assert.True(t, exists)

	fields, err := m.HashGetAll(ctx, "session:abc")
	require.NoError(t, err)
	assert.Equal(t, "alice", fields["user_id"])

	// Partial update merges
	require.NoError(t, m.HashSet(ctx, "session:abc", map[string]string{"status": "running"}))
	fields, _ = m.HashGetAll(ctx, "session:abc")
	assert.Equal(t, "running", fields["status"])
	assert.Equal(t, "alice", fields["user_id"])

	require.NoError(t, m.Delete(ctx, "session:abc"))
	exists, _ = m.Exists(ctx, "session:abc")
	assert.False(t, exists)
}

// TestMemoryListPushTrim tests newest-first ordering and trims
func TestMemoryListPushTrim(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, m.ListPushFront(ctx, "chat:abc", fmt.Sprintf("msg-%d", i)))
	}

	n, err := m.ListLength(ctx, "chat:abc")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	vals, err := m.ListRange(ctx, "chat:abc", 0, 0)
	require.NoError(t, err)
	require.Len(t, vals, 1)
	assert.Equal(t, "msg-4", vals[0], "most recent entry first")

	require.NoError(t, m.ListTrim(ctx, "chat:abc", 0, 2))
	n, _ = m.ListLength(ctx, "chat:abc")
	assert.Equal(t, int64(3), n)

	vals, _ = m.ListRange(ctx, "chat:abc", 0, -1)
	assert.Equal(t, []string{"msg-4", "msg-3", "msg-2"}, vals)
}

// TestMemoryListCap tests the trim pattern used for capped logs
func TestMemoryListCap(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i := 0; i < 1005; i++ {
		require.NoError(t, m.ListPushFront(ctx, "chat:abc", fmt.Sprintf("m%d", i)))
		require.NoError(t, m.ListTrim(ctx, "chat:abc", 0, 999))
	}

	n, _ := m.ListLength(ctx, "chat:abc")
	assert.Equal(t, int64(1000), n)

	head, _ := m.ListRange(ctx, "chat:abc", 0, 0)
	assert.Equal(t, "m1004", head[0])
}

// TestMemoryIncr tests counter semantics
func TestMemoryIncr(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := m.Incr(ctx, "rate:1.2.3.4:chat")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
}

// TestMemoryExpireTTL tests TTL bookkeeping
func TestMemoryExpireTTL(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.HashSet(ctx, "session:abc", map[string]string{"status": "created"}))
	require.NoError(t, m.Expire(ctx, "session:abc", 86400*time.Second))
	assert.Equal(t, 86400*time.Second, m.TTL("session:abc"))

	// Delete clears the TTL record
	require.NoError(t, m.Delete(ctx, "session:abc"))
	assert.Equal(t, time.Duration(0), m.TTL("session:abc"))
}

// TestMemoryScanKeys tests pattern scans over the keyspace
func TestMemoryScanKeys(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.HashSet(ctx, "session:aaa", map[string]string{"status": "created"}))
	require.NoError(t, m.HashSet(ctx, "session:bbb", map[string]string{"status": "sleeping"}))
	require.NoError(t, m.ListPushFront(ctx, "queue:aaa", "chat"))

	keys, err := m.ScanKeys(ctx, "session:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"session:aaa", "session:bbb"}, keys)

	keys, err = m.ScanKeys(ctx, "queue:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"queue:aaa"}, keys)
}

// TestMemoryEmptyListDoesNotExist tests that a drained list key vanishes
func TestMemoryEmptyListDoesNotExist(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.ListPushFront(ctx, "queue:abc", "wake"))
	require.NoError(t, m.ListTrim(ctx, "queue:abc", 1, 0)) // empty range clears

	exists, err := m.Exists(ctx, "queue:abc")
	require.NoError(t, err)
	assert.False(t, exists)
}
