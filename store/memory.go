package store

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

type subscription struct {
	id     int64
	conn   *Conn
	segs   []string
	kind   EventKind
	fn     func(Snapshot)
	closed atomic.Bool

	last  []byte
	known map[string]bool
}

// Memory is an in-process backend. Clients talk to it through connections
// from Connect; closing a connection runs its last-will writes.
type Memory struct {
	mu       sync.Mutex
	root     map[string]any
	subs     map[int64]*subscription
	nextSub  int64
	queue    []func()
	draining bool

	clock func() time.Time
	ids   *PushIDs
}

type Option func(*Memory)

// WithClock sets the clock used for server timestamps and push keys.
func WithClock(clock func() time.Time) Option {
	return func(m *Memory) { m.clock = clock }
}

func WithPushIDs(ids *PushIDs) Option {
	return func(m *Memory) { m.ids = ids }
}

func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		root:  make(map[string]any),
		subs:  make(map[int64]*subscription),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ids == nil {
		m.ids = NewPushIDs(nil)
	}
	return m
}

// Connect opens a client connection.
func (m *Memory) Connect() *Conn {
	return &Conn{mem: m, subs: make(map[int64]*subscription)}
}

func (m *Memory) nowMillis() int64 { return m.clock().UnixMilli() }

// write applies mutate under the lock, queues notifications for affected
// subscribers and drains the queue unless another caller is already draining.
func (m *Memory) write(mutate func() ([][]string, error)) error {
	m.mu.Lock()
	changed, err := mutate()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	for _, segs := range changed {
		m.notifyLocked(segs)
	}
	m.drainLocked()
	return nil
}

// drainLocked is entered with m.mu held and returns with it released.
func (m *Memory) drainLocked() {
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	for len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		next()
		m.mu.Lock()
	}
	m.draining = false
	m.mu.Unlock()
}

func (m *Memory) notifyLocked(changed []string) {
	for _, id := range m.sortedSubIDs() {
		sub := m.subs[id]
		if !related(sub.segs, changed) {
			continue
		}
		m.refreshLocked(sub)
	}
}

func (m *Memory) refreshLocked(sub *subscription) {
	cur := lookup(m.root, sub.segs)
	switch sub.kind {
	case Value:
		raw := encode(cur)
		if sub.last != nil && bytes.Equal(sub.last, raw) {
			return
		}
		sub.last = raw
		m.enqueueLocked(sub, NewSnapshot(lastSegment(sub.segs), raw))
	case ChildAdded:
		present := make(map[string]bool)
		children, _ := cur.(map[string]any)
		for _, key := range childKeys(cur) {
			present[key] = true
			if sub.known[key] {
				continue
			}
			sub.known[key] = true
			m.enqueueLocked(sub, NewSnapshot(key, encode(children[key])))
		}
		for key := range sub.known {
			if !present[key] {
				delete(sub.known, key)
			}
		}
	}
}

func (m *Memory) enqueueLocked(sub *subscription, snap Snapshot) {
	m.queue = append(m.queue, func() {
		if sub.closed.Load() {
			return
		}
		sub.fn(snap)
	})
}

func (m *Memory) sortedSubIDs() []int64 {
	ids := make([]int64, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	// ids are handed out increasing; insertion sort keeps it simple
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
	return ids
}

func (m *Memory) set(segs []string, value any) ([][]string, error) {
	v, err := normalize(value, m.nowMillis())
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		root, ok := v.(map[string]any)
		if v != nil && !ok {
			return nil, fmt.Errorf("%w: root must be an object", ErrInvalidPath)
		}
		if root == nil {
			root = make(map[string]any)
		}
		m.root = root
	} else {
		assign(m.root, segs, v)
	}
	return [][]string{segs}, nil
}

// Conn is one client's connection to a Memory backend.
type Conn struct {
	mem    *Memory
	mu     sync.Mutex
	closed bool
	subs   map[int64]*subscription
	wills  []will
}

type will struct {
	segs  []string
	value any
}

var _ Store = (*Conn)(nil)

func (c *Conn) usable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%w: connection closed", ErrUnavailable)
	}
	return nil
}

func (c *Conn) Get(ctx context.Context, path string) (Snapshot, error) {
	segs, err := splitPath(path)
	if err != nil {
		return Snapshot{}, err
	}
	if err := c.usable(ctx); err != nil {
		return Snapshot{}, err
	}
	c.mem.mu.Lock()
	defer c.mem.mu.Unlock()
	return NewSnapshot(lastSegment(segs), encode(lookup(c.mem.root, segs))), nil
}

func (c *Conn) Put(ctx context.Context, path string, value any) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	if err := c.usable(ctx); err != nil {
		return err
	}
	return c.mem.write(func() ([][]string, error) {
		return c.mem.set(segs, value)
	})
}

func (c *Conn) Update(ctx context.Context, path string, fields map[string]any) error {
	base, err := splitPath(path)
	if err != nil {
		return err
	}
	targets := make([][]string, 0, len(fields))
	values := make([]any, 0, len(fields))
	for k, v := range fields {
		segs, err := splitPath(k)
		if err != nil {
			return err
		}
		if len(segs) == 0 {
			return fmt.Errorf("%w: empty update field", ErrInvalidPath)
		}
		targets = append(targets, append(append([]string(nil), base...), segs...))
		values = append(values, v)
	}
	if err := c.usable(ctx); err != nil {
		return err
	}
	return c.mem.write(func() ([][]string, error) {
		for i := range targets {
			if _, err := c.mem.set(targets[i], values[i]); err != nil {
				return nil, err
			}
		}
		return [][]string{base}, nil
	})
}

func (c *Conn) Push(ctx context.Context, path string, value any) (string, error) {
	segs, err := splitPath(path)
	if err != nil {
		return "", err
	}
	if err := c.usable(ctx); err != nil {
		return "", err
	}
	var key string
	err = c.mem.write(func() ([][]string, error) {
		key = c.mem.ids.Next(c.mem.clock())
		if value == nil {
			return nil, nil
		}
		return c.mem.set(append(append([]string(nil), segs...), key), value)
	})
	return key, err
}

func (c *Conn) Remove(ctx context.Context, path string) error {
	return c.Put(ctx, path, nil)
}

func (c *Conn) Subscribe(ctx context.Context, path string, kind EventKind, fn func(Snapshot)) (func(), error) {
	segs, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if kind != Value && kind != ChildAdded {
		return nil, fmt.Errorf("unsupported event kind %v", kind)
	}
	if err := c.usable(ctx); err != nil {
		return nil, err
	}

	m := c.mem
	m.mu.Lock()
	m.nextSub++
	sub := &subscription{id: m.nextSub, conn: c, segs: segs, kind: kind, fn: fn, known: make(map[string]bool)}
	m.subs[sub.id] = sub
	c.mu.Lock()
	c.subs[sub.id] = sub
	c.mu.Unlock()
	m.refreshLocked(sub)
	m.drainLocked()

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(sub) })
	}, nil
}

func (c *Conn) unsubscribe(sub *subscription) {
	sub.closed.Store(true)
	c.mem.mu.Lock()
	delete(c.mem.subs, sub.id)
	c.mem.mu.Unlock()
	c.mu.Lock()
	delete(c.subs, sub.id)
	c.mu.Unlock()
}

func (c *Conn) OnDisconnect(ctx context.Context, path string, value any) error {
	segs, err := splitPath(path)
	if err != nil {
		return err
	}
	if err := c.usable(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	c.wills = append(c.wills, will{segs: segs, value: value})
	c.mu.Unlock()
	return nil
}

// Close drops the connection: subscriptions end and last-will writes run.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = make(map[int64]*subscription)
	wills := c.wills
	c.wills = nil
	c.mu.Unlock()

	for _, sub := range subs {
		c.unsubscribe(sub)
	}
	for _, w := range wills {
		err := c.mem.write(func() ([][]string, error) {
			return c.mem.set(w.segs, w.value)
		})
		if err != nil {
			log.Error().Err(err).Str("path", Join(w.segs...)).Msg("Last-will write failed")
		}
	}
	log.Debug().Int("wills", len(wills)).Msg("Store connection closed")
	return nil
}
