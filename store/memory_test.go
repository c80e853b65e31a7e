package store

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.UnixMilli(1_700_000_000_000)

func newTestMemory() *Memory {
	return NewMemory(
		WithClock(func() time.Time { return fixedNow }),
		WithPushIDs(NewPushIDs(rand.New(rand.NewSource(1)))),
	)
}

func TestPutGetUpdate(t *testing.T) {
	ctx := context.Background()
	c := newTestMemory().Connect()

	require.NoError(t, c.Put(ctx, "rooms/ABCD", map[string]any{
		"code":   "ABCD",
		"status": "waiting",
		"players": map[string]any{
			"ann": map[string]any{"name": "ann", "connected": true},
		},
	}))

	snap, err := c.Get(ctx, "rooms/ABCD/status")
	require.NoError(t, err)
	assert.Equal(t, "status", snap.Key())
	var status string
	require.NoError(t, snap.Decode(&status))
	assert.Equal(t, "waiting", status)

	require.NoError(t, c.Update(ctx, "rooms/ABCD", map[string]any{
		"status":                "playing",
		"players/ann/connected": false,
	}))

	var room struct {
		Code    string `json:"code"`
		Status  string `json:"status"`
		Players map[string]struct {
			Name      string `json:"name"`
			Connected bool   `json:"connected"`
		} `json:"players"`
	}
	snap, err = c.Get(ctx, "rooms/ABCD")
	require.NoError(t, err)
	require.NoError(t, snap.Decode(&room))
	assert.Equal(t, "ABCD", room.Code)
	assert.Equal(t, "playing", room.Status)
	assert.Equal(t, "ann", room.Players["ann"].Name)
	assert.False(t, room.Players["ann"].Connected)
}

func TestRemovePrunesEmptyParents(t *testing.T) {
	ctx := context.Background()
	c := newTestMemory().Connect()

	require.NoError(t, c.Put(ctx, "a/b/c", 1))
	require.NoError(t, c.Remove(ctx, "a/b/c"))

	snap, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, snap.Exists())

	// decoding a missing value leaves the target untouched
	v := 42
	require.NoError(t, snap.Decode(&v))
	assert.Equal(t, 42, v)
}

func TestServerTimestamp(t *testing.T) {
	ctx := context.Background()
	c := newTestMemory().Connect()

	require.NoError(t, c.Put(ctx, "rooms/X/createdAt", ServerTimestamp))
	require.NoError(t, c.Update(ctx, "rooms/X", map[string]any{"startedAt": ServerTimestamp}))

	var rec struct {
		CreatedAt int64 `json:"createdAt"`
		StartedAt int64 `json:"startedAt"`
	}
	snap, err := c.Get(ctx, "rooms/X")
	require.NoError(t, err)
	require.NoError(t, snap.Decode(&rec))
	assert.Equal(t, fixedNow.UnixMilli(), rec.CreatedAt)
	assert.Equal(t, fixedNow.UnixMilli(), rec.StartedAt)
}

func TestPushKeysAreOrdered(t *testing.T) {
	ctx := context.Background()
	c := newTestMemory().Connect()

	var keys []string
	for i := 0; i < 50; i++ {
		key, err := c.Push(ctx, "rooms/X/chat", map[string]any{"n": i})
		require.NoError(t, err)
		require.Len(t, key, 20)
		keys = append(keys, key)
	}
	assert.True(t, sort.StringsAreSorted(keys))

	// a push without a value only reserves a key
	key, err := c.Push(ctx, "rooms/X/chat", nil)
	require.NoError(t, err)
	snap, err := c.Get(ctx, Join("rooms/X/chat", key))
	require.NoError(t, err)
	assert.False(t, snap.Exists())
}

func TestPushIDsAcrossMilliseconds(t *testing.T) {
	ids := NewPushIDs(rand.New(rand.NewSource(3)))
	a := ids.Next(time.UnixMilli(1000))
	b := ids.Next(time.UnixMilli(1001))
	c := ids.Next(time.UnixMilli(999)) // clock going backwards
	assert.Less(t, a, b)
	assert.Less(t, b, c)

	d := ids.Next(time.UnixMilli(1001))
	assert.Equal(t, b[:8], d[:8], "same millisecond shares the time prefix")
	assert.Less(t, c, d)
}

func TestValueSubscription(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()
	writer, reader := m.Connect(), m.Connect()

	var got []string
	unsub, err := reader.Subscribe(ctx, "rooms/X/status", Value, func(s Snapshot) {
		var v string
		_ = s.Decode(&v)
		if !s.Exists() {
			v = "<nil>"
		}
		got = append(got, v)
	})
	require.NoError(t, err)

	require.NoError(t, writer.Put(ctx, "rooms/X/status", "waiting"))
	require.NoError(t, writer.Put(ctx, "rooms/X/status", "waiting")) // unchanged
	require.NoError(t, writer.Put(ctx, "rooms/Y/status", "playing")) // unrelated
	require.NoError(t, writer.Put(ctx, "rooms/X", map[string]any{"status": "playing"}))
	unsub()
	unsub()
	require.NoError(t, writer.Put(ctx, "rooms/X/status", "finished"))

	assert.Equal(t, []string{"<nil>", "waiting", "playing"}, got)
}

func TestChildAddedSubscription(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()
	c := m.Connect()

	first, err := c.Push(ctx, "chat", "hello")
	require.NoError(t, err)

	var keys []string
	var vals []string
	_, err = c.Subscribe(ctx, "chat", ChildAdded, func(s Snapshot) {
		var v string
		require.NoError(t, s.Decode(&v))
		keys = append(keys, s.Key())
		vals = append(vals, v)
	})
	require.NoError(t, err)

	second, err := c.Push(ctx, "chat", "world")
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, Join("chat", second), "edited")) // not a new child

	assert.Equal(t, []string{first, second}, keys)
	assert.Equal(t, []string{"hello", "world"}, vals)
}

func TestReentrantWritesKeepOrder(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()
	c := m.Connect()

	var seen []int
	_, err := c.Subscribe(ctx, "counter", Value, func(s Snapshot) {
		var n int
		_ = s.Decode(&n)
		seen = append(seen, n)
		if n > 0 && n < 3 {
			// writing from a callback must not deadlock
			require.NoError(t, c.Put(ctx, "counter", n+1))
		}
	})
	require.NoError(t, err)

	require.NoError(t, c.Put(ctx, "counter", 1))
	assert.Equal(t, []int{0, 1, 2, 3}, seen)
}

func TestCloseRunsLastWill(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory()
	host, guest := m.Connect(), m.Connect()

	path := "rooms/X/players/guest/connected"
	require.NoError(t, guest.Put(ctx, path, true))
	require.NoError(t, guest.OnDisconnect(ctx, path, false))

	var presence []bool
	_, err := host.Subscribe(ctx, path, Value, func(s Snapshot) {
		var v bool
		_ = s.Decode(&v)
		presence = append(presence, v)
	})
	require.NoError(t, err)

	calls := 0
	_, err = guest.Subscribe(ctx, path, Value, func(Snapshot) { calls++ })
	require.NoError(t, err)

	require.NoError(t, guest.Close())
	require.NoError(t, guest.Close())

	assert.Equal(t, []bool{true, false}, presence)
	assert.Equal(t, 1, calls, "closed connection keeps no subscriptions")

	err = guest.Put(ctx, path, true)
	assert.True(t, errors.Is(err, ErrUnavailable))
	_, err = guest.Get(ctx, path)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestInvalidPaths(t *testing.T) {
	ctx := context.Background()
	c := newTestMemory().Connect()

	for _, p := range []string{"rooms/a.b", "rooms/#x", "a/$b", "x[1]"} {
		assert.ErrorIs(t, c.Put(ctx, p, 1), ErrInvalidPath, p)
	}
	assert.ErrorIs(t, c.Update(ctx, "rooms", map[string]any{"": 1}), ErrInvalidPath)
	assert.ErrorIs(t, c.Put(ctx, "", "scalar"), ErrInvalidPath)
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newTestMemory().Connect()
	assert.ErrorIs(t, c.Put(ctx, "a", 1), context.Canceled)
}

func TestParseKind(t *testing.T) {
	for _, k := range []EventKind{Value, ChildAdded} {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("child_removed")
	assert.Error(t, err)
}
