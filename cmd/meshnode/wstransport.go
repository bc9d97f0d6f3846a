package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/bitchat-mesh/internal/transport"
)

// wsTransport is the transport.Transport implementation the demo CLI uses
// in place of the spec's out-of-scope BLE radio (§1): every mesh frame is
// sent as one binary websocket message over a plain TCP link. Modeled on
// the teacher's cmd/example_chat hub, which holds its peer connections in
// a mutex-guarded map and fans a message out by iterating a snapshot of
// them rather than holding the lock during I/O.
type wsTransport struct {
	name string

	mu    sync.RWMutex
	conns map[transport.Address]*websocket.Conn

	events chan transport.Event
	closed chan struct{}
	once   sync.Once
}

func newWSTransport(name string) *wsTransport {
	return &wsTransport{
		name:   name,
		conns:  make(map[transport.Address]*websocket.Conn),
		events: make(chan transport.Event, 256),
		closed: make(chan struct{}),
	}
}

func (t *wsTransport) Name() string { return t.name }

func (t *wsTransport) Events() <-chan transport.Event { return t.events }

// adopt registers an already-handshaken connection under addr and starts
// its read loop. Used both by the inbound HTTP handler (accepted
// connections) and the outbound dialer (dialed connections).
func (t *wsTransport) adopt(addr transport.Address, conn *websocket.Conn) {
	t.mu.Lock()
	if old, ok := t.conns[addr]; ok {
		_ = old.Close(websocket.StatusNormalClosure, "superseded")
	}
	t.conns[addr] = conn
	t.mu.Unlock()

	t.emit(transport.Event{Kind: transport.EventConnected, Addr: addr})

	go t.readLoop(addr, conn)
}

func (t *wsTransport) readLoop(addr transport.Address, conn *websocket.Conn) {
	defer func() {
		t.mu.Lock()
		if t.conns[addr] == conn {
			delete(t.conns, addr)
		}
		t.mu.Unlock()
		t.emit(transport.Event{Kind: transport.EventDisconnected, Addr: addr})
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		msgType, data, err := conn.Read(context.Background())
		if err != nil {
			log.Debug().Err(err).Str("transport", t.name).Str("peer", string(addr)).Msg("websocket read closed")
			return
		}
		if msgType != websocket.MessageBinary {
			continue
		}
		t.emit(transport.Event{Kind: transport.EventReceived, Addr: addr, Data: data})
	}
}

func (t *wsTransport) emit(ev transport.Event) {
	select {
	case t.events <- ev:
	case <-t.closed:
	}
}

func (t *wsTransport) Send(ctx context.Context, addr transport.Address, data []byte) error {
	t.mu.RLock()
	conn, ok := t.conns[addr]
	t.mu.RUnlock()
	if !ok {
		return errors.New("wstransport: unknown peer address " + string(addr))
	}
	return conn.Write(ctx, websocket.MessageBinary, data)
}

func (t *wsTransport) Broadcast(ctx context.Context, data []byte) error {
	t.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.RUnlock()

	var errs error
	for _, c := range conns {
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := c.Write(wctx, websocket.MessageBinary, data); err != nil {
			errs = errors.Join(errs, err)
		}
		cancel()
	}
	return errs
}

func (t *wsTransport) Close() error {
	t.once.Do(func() { close(t.closed) })

	t.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.conns = make(map[transport.Address]*websocket.Conn)
	t.mu.Unlock()

	for _, c := range conns {
		_ = c.Close(websocket.StatusNormalClosure, "transport shutdown")
	}
	return nil
}

// acceptHandler is the chi route handler that upgrades an inbound HTTP
// request to a websocket mesh link.
func (t *wsTransport) acceptHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Debug().Err(err).Msg("websocket accept failed")
		return
	}
	addr := transport.Address(r.RemoteAddr)
	t.adopt(addr, conn)
}

// Dial opens an outbound link to url and registers it under addr.
func (t *wsTransport) Dial(ctx context.Context, addr transport.Address, url string) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return err
	}
	t.adopt(addr, conn)
	return nil
}
