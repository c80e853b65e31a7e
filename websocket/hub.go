package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/anisarzoo/Dots-and-boxes/store"
	"github.com/anisarzoo/Dots-and-boxes/utils"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Hub serves an in-memory store over websockets. Every socket gets its own
// store connection, so a dropped socket runs that client's last-will writes.
type Hub struct {
	mem      *store.Memory
	upgrader websocket.Upgrader

	mu    sync.Mutex
	peers map[string]*peer
}

// NewHub serves mem. An empty allowedOrigins accepts any origin.
func NewHub(mem *store.Memory, allowedOrigins []string) *Hub {
	h := &Hub{mem: mem, peers: make(map[string]*peer)}
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return len(allowed) == 0 || origin == "" || allowed[origin]
		},
	}
	return h
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade error")
		return
	}
	p := h.newPeer(ws, sendBuffer)
	h.register(p)
	log.Info().Str("peer", p.id).Str("remote", r.RemoteAddr).Int("peers", h.PeerCount()).Msg("Store client connected")

	go p.writeLoop()
	p.readLoop()
}

func (h *Hub) newPeer(ws *websocket.Conn, buffer int) *peer {
	ctx, cancel := context.WithCancel(context.Background())
	return &peer{
		id:     utils.GenerateUUIDString(),
		hub:    h,
		ws:     ws,
		conn:   h.mem.Connect(),
		send:   make(chan Message, buffer),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[int64]func()),
	}
}

func (h *Hub) register(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[p.id] = p
}

func (h *Hub) deregister(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.peers, p.id)
}

func (h *Hub) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Close drops every connected client.
func (h *Hub) Close() {
	h.mu.Lock()
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()
	for _, p := range peers {
		p.close()
	}
}

type peer struct {
	id   string
	hub  *Hub
	ws   *websocket.Conn
	conn *store.Conn
	send chan Message
	done chan struct{}
	once sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[int64]func()
}

func (p *peer) readLoop() {
	defer p.close()
	p.ws.SetReadLimit(maxMessageSize)
	_ = p.ws.SetReadDeadline(time.Now().Add(pongWait))
	p.ws.SetPongHandler(func(string) error {
		return p.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := p.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("peer", p.id).Msg("WebSocket closed unexpectedly")
			}
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			p.deliver(Message{Error: err.Error(), Code: CodeBadRequest})
			continue
		}
		p.deliver(p.handle(req))
	}
}

func (p *peer) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.close()
	}()
	for {
		select {
		case m := <-p.send:
			_ = p.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.ws.WriteJSON(m); err != nil {
				log.Warn().Err(err).Str("peer", p.id).Msg("Failed to write to store client")
				return
			}
		case <-ticker.C:
			if err := p.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-p.done:
			_ = p.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// deliver queues a reply unless the peer is gone. It may block while the
// writer catches up, which only holds up this peer's read loop.
func (p *peer) deliver(m Message) {
	select {
	case p.send <- m:
	case <-p.done:
	}
}

// notify queues a subscription event without blocking the store's delivery
// loop. A peer whose buffer is full has fallen behind and is dropped.
func (p *peer) notify(m Message) {
	select {
	case p.send <- m:
	case <-p.done:
	default:
		log.Warn().Str("peer", p.id).Int64("sub", m.Sub).Int("buffered", len(p.send)).Msg("Store client too slow, dropping")
		go p.close()
	}
}

func (p *peer) handle(req Request) Message {
	resp := Message{ID: req.ID}
	var err error
	switch req.Op {
	case OpGet:
		var snap store.Snapshot
		if snap, err = p.conn.Get(p.ctx, req.Path); err == nil {
			resp.Key, resp.Value, resp.Exists = snap.Key(), snap.Raw(), snap.Exists()
		}
	case OpPut:
		err = p.conn.Put(p.ctx, req.Path, valueOf(req.Value))
	case OpUpdate:
		var fields map[string]any
		if err = json.Unmarshal(req.Value, &fields); err == nil {
			err = p.conn.Update(p.ctx, req.Path, fields)
		}
	case OpPush:
		resp.Key, err = p.conn.Push(p.ctx, req.Path, valueOf(req.Value))
	case OpRemove:
		err = p.conn.Remove(p.ctx, req.Path)
	case OpSubscribe:
		err = p.subscribe(req)
	case OpUnsubscribe:
		p.unsubscribe(req.Sub)
	case OpOnDisconnect:
		err = p.conn.OnDisconnect(p.ctx, req.Path, valueOf(req.Value))
	default:
		err = fmt.Errorf("unknown op %q", req.Op)
	}
	if err != nil {
		log.Debug().Err(err).Str("peer", p.id).Str("op", string(req.Op)).Str("path", req.Path).Msg("Store call failed")
		resp.Error, resp.Code = err.Error(), codeFor(err)
		return resp
	}
	resp.OK = true
	return resp
}

func (p *peer) subscribe(req Request) error {
	kind, err := store.ParseKind(req.Kind)
	if err != nil {
		return err
	}
	if req.Sub == 0 {
		return fmt.Errorf("subscribe without a subscription id")
	}
	p.mu.Lock()
	if _, dup := p.subs[req.Sub]; dup {
		p.mu.Unlock()
		return fmt.Errorf("subscription %d already active", req.Sub)
	}
	p.subs[req.Sub] = func() {}
	p.mu.Unlock()

	sub := req.Sub
	unsub, err := p.conn.Subscribe(p.ctx, req.Path, kind, func(snap store.Snapshot) {
		p.notify(Message{Sub: sub, Key: snap.Key(), Value: snap.Raw(), Exists: snap.Exists()})
	})
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		delete(p.subs, sub)
		return err
	}
	if _, ok := p.subs[sub]; !ok {
		// unsubscribed while subscribing
		unsub()
		return nil
	}
	p.subs[sub] = unsub
	return nil
}

func (p *peer) unsubscribe(sub int64) {
	p.mu.Lock()
	unsub, ok := p.subs[sub]
	delete(p.subs, sub)
	p.mu.Unlock()
	if ok {
		unsub()
	}
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
		p.cancel()
		_ = p.ws.Close()
		if err := p.conn.Close(); err != nil {
			log.Warn().Err(err).Str("peer", p.id).Msg("Failed to close store connection")
		}
		p.hub.deregister(p)
		log.Info().Str("peer", p.id).Msg("Store client disconnected")
	})
}
