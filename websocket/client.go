package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/anisarzoo/Dots-and-boxes/store"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Client is a store.Store backed by a Hub across a websocket. Subscription
// callbacks run on one dispatch goroutine in arrival order and may call the
// client.
type Client struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	nextSub int64
	pending map[int64]chan Message
	subs    map[int64]func(store.Snapshot)
	closed  bool

	queue *dispatcher
	done  chan struct{}
	once  sync.Once
}

var _ store.Store = (*Client)(nil)

// Dial connects to a hub at url (ws:// or wss://).
func Dial(ctx context.Context, url string) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w: %w", url, store.ErrUnavailable, err)
	}
	c := &Client{
		ws:      ws,
		pending: make(map[int64]chan Message),
		subs:    make(map[int64]func(store.Snapshot)),
		queue:   newDispatcher(),
		done:    make(chan struct{}),
	}
	go c.queue.run()
	go c.readLoop()
	log.Info().Str("url", url).Msg("Connected to store")
	return c, nil
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close drops the connection; the hub then runs this client's last wills.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	err := c.ws.Close()
	c.shutdown()
	return err
}

func (c *Client) shutdown() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.subs = make(map[int64]func(store.Snapshot))
		c.mu.Unlock()
		close(c.done)
		c.queue.close()
	})
}

func (c *Client) readLoop() {
	defer c.shutdown()
	for {
		var m Message
		if err := c.ws.ReadJSON(&m); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Store connection lost")
			}
			return
		}
		switch {
		case m.ID != 0:
			c.mu.Lock()
			ch := c.pending[m.ID]
			delete(c.pending, m.ID)
			c.mu.Unlock()
			if ch != nil {
				ch <- m
			}
		case m.Sub != 0:
			c.dispatch(m)
		case m.Error != "":
			log.Warn().Str("code", m.Code).Str("error", m.Error).Msg("Store rejected a request")
		}
	}
}

func (c *Client) dispatch(m Message) {
	snap := store.NewSnapshot(m.Key, m.Value)
	sub := m.Sub
	c.queue.push(func() {
		c.mu.Lock()
		fn := c.subs[sub]
		c.mu.Unlock()
		if fn != nil {
			fn(snap)
		}
	})
}

func (c *Client) call(ctx context.Context, req Request) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	ch := make(chan Message, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Message{}, store.ErrUnavailable
	}
	c.nextID++
	req.ID = c.nextID
	c.pending[req.ID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.ws.SetWriteDeadline(deadline(ctx))
	err := c.ws.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(req.ID)
		return Message{}, fmt.Errorf("%s %s: %w: %w", req.Op, req.Path, store.ErrUnavailable, err)
	}

	select {
	case m := <-ch:
		if !m.OK {
			return m, fmt.Errorf("%s %s: %w", req.Op, req.Path, remoteErr(m))
		}
		return m, nil
	case <-ctx.Done():
		c.forget(req.ID)
		return Message{}, ctx.Err()
	case <-c.done:
		return Message{}, store.ErrUnavailable
	}
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

func encodeValue(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return raw, nil
}

func (c *Client) Get(ctx context.Context, path string) (store.Snapshot, error) {
	m, err := c.call(ctx, Request{Op: OpGet, Path: path})
	if err != nil {
		return store.Snapshot{}, err
	}
	return store.NewSnapshot(m.Key, m.Value), nil
}

func (c *Client) Put(ctx context.Context, path string, value any) error {
	raw, err := encodeValue(value)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, Request{Op: OpPut, Path: path, Value: raw})
	return err
}

func (c *Client) Update(ctx context.Context, path string, fields map[string]any) error {
	raw, err := encodeValue(fields)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, Request{Op: OpUpdate, Path: path, Value: raw})
	return err
}

func (c *Client) Push(ctx context.Context, path string, value any) (string, error) {
	raw, err := encodeValue(value)
	if err != nil {
		return "", err
	}
	m, err := c.call(ctx, Request{Op: OpPush, Path: path, Value: raw})
	if err != nil {
		return "", err
	}
	return m.Key, nil
}

func (c *Client) Remove(ctx context.Context, path string) error {
	_, err := c.call(ctx, Request{Op: OpRemove, Path: path})
	return err
}

func (c *Client) OnDisconnect(ctx context.Context, path string, value any) error {
	raw, err := encodeValue(value)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, Request{Op: OpOnDisconnect, Path: path, Value: raw})
	return err
}

// Subscribe registers fn before asking the hub, so current values sent ahead
// of the response are not lost. They are delivered asynchronously.
func (c *Client) Subscribe(ctx context.Context, path string, kind store.EventKind, fn func(store.Snapshot)) (func(), error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, store.ErrUnavailable
	}
	c.nextSub++
	sub := c.nextSub
	c.subs[sub] = fn
	c.mu.Unlock()

	if _, err := c.call(ctx, Request{Op: OpSubscribe, Path: path, Kind: kind.String(), Sub: sub}); err != nil {
		c.drop(sub)
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			if !c.drop(sub) {
				return
			}
			if _, err := c.call(context.Background(), Request{Op: OpUnsubscribe, Sub: sub}); err != nil {
				log.Debug().Err(err).Int64("sub", sub).Msg("Unsubscribe not acknowledged")
			}
		})
	}, nil
}

func (c *Client) drop(sub int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[sub]
	delete(c.subs, sub)
	return ok
}
