package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"hedge-sync-go/internal/wire"
)

const (
	wsWriteWait  = 5 * time.Second
	wsSendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Listeners bind to the configured host; origin checks are left to it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Frame is one message on the /events stream.
type Frame struct {
	Topic   wire.Topic      `json:"topic"`
	Payload wire.RawMessage `json:"payload"`
}

// WS serves /events broadcasts on the data port and /command request/reply
// on the command port. Slow clients lose messages rather than stall the
// publisher.
type WS struct {
	data         *http.Server
	command      *http.Server
	info         Info
	replyTimeout time.Duration
	requests     chan Request
	stop         chan struct{}

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool

	wg     sync.WaitGroup
	logger *zap.Logger
}

type wsClient struct {
	conn  *websocket.Conn
	topic wire.Topic
	send  chan []byte
}

var _ Transport = (*WS)(nil)

// OpenWS binds the HTTP listeners. It refuses encryption; use zmq with CURVE.
func OpenWS(opts Options, logger *zap.Logger) (*WS, error) {
	if opts.EnableEncryption {
		return nil, fmt.Errorf("%w: websocket transport has no CURVE mode", ErrEncryptionUnavailable)
	}
	logger = logger.Named("ws")

	t := &WS{
		replyTimeout: opts.ReplyTimeout,
		stop:         make(chan struct{}),
		clients:      make(map[*wsClient]struct{}),
		logger:       logger,
	}

	dataLn, err := net.Listen("tcp", fmt.Sprintf("%s:%d", opts.BindHost, opts.DataPort))
	if err != nil {
		return nil, fmt.Errorf("bind publisher: %w", err)
	}
	t.info = Info{
		Kind:         "ws",
		DataPort:     dataLn.Addr().(*net.TCPAddr).Port,
		DataEndpoint: fmt.Sprintf("ws://%s/events", dataLn.Addr()),
	}
	dataMux := http.NewServeMux()
	dataMux.HandleFunc("/events", t.handleEvents)
	t.data = &http.Server{Handler: dataMux, ReadHeaderTimeout: 5 * time.Second}

	var cmdLn net.Listener
	if opts.EnableCommands {
		cmdLn, err = net.Listen("tcp", fmt.Sprintf("%s:%d", opts.BindHost, opts.CommandPort))
		if err != nil {
			dataLn.Close()
			return nil, fmt.Errorf("bind command socket: %w", err)
		}
		t.info.CommandPort = cmdLn.Addr().(*net.TCPAddr).Port
		t.info.CommandEndpoint = fmt.Sprintf("ws://%s/command", cmdLn.Addr())
		t.requests = make(chan Request)
		cmdMux := http.NewServeMux()
		cmdMux.HandleFunc("/command", t.handleCommand)
		t.command = &http.Server{Handler: cmdMux, ReadHeaderTimeout: 5 * time.Second}
	}

	t.serveHTTP(t.data, dataLn)
	if t.command != nil {
		t.serveHTTP(t.command, cmdLn)
	}
	logger.Info("Transport bound", zap.String("data", t.info.DataEndpoint), zap.String("command", t.info.CommandEndpoint))
	return t, nil
}

func (t *WS) serveHTTP(srv *http.Server, ln net.Listener) {
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()
}

func (t *WS) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("Upgrade failed", zap.Error(err))
		return
	}
	c := &wsClient{conn: conn, topic: wire.Topic(r.URL.Query().Get("topic")), send: make(chan []byte, wsSendBuffer)}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.Close()
		return
	}
	t.clients[c] = struct{}{}
	t.wg.Add(2)
	t.mu.Unlock()
	t.logger.Debug("Subscriber connected", zap.String("remote", r.RemoteAddr), zap.String("topic", string(c.topic)))

	go t.writePump(c)
	go t.readPump(c)
}

// writePump is the only writer on c.conn.
func (t *WS) writePump(c *wsClient) {
	defer t.wg.Done()
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			t.drop(c)
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump discards input and notices disconnects.
func (t *WS) readPump(c *wsClient) {
	defer t.wg.Done()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			t.drop(c)
			return
		}
	}
}

func (t *WS) drop(c *wsClient) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.clients[c]; ok {
		delete(t.clients, c)
		close(c.send)
	}
}

func (t *WS) handleCommand(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("Upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-t.stop:
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, body, err := conn.ReadMessage()
		if err != nil {
			return
		}
		reply := dispatch(t.requests, t.stop, body, t.replyTimeout)
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
			return
		}
	}
}

// Publish implements Transport.
func (t *WS) Publish(topic wire.Topic, payload []byte) error {
	msg, err := wire.Marshal(Frame{Topic: topic, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	for c := range t.clients {
		if c.topic != "" && c.topic != topic {
			continue
		}
		select {
		case c.send <- msg:
		default:
			t.logger.Debug("Dropping message for slow subscriber", zap.String("topic", string(topic)))
		}
	}
	return nil
}

// Requests implements Transport.
func (t *WS) Requests() <-chan Request { return t.requests }

// Info implements Transport.
func (t *WS) Info() Info { return t.info }

// Close implements Transport.
func (t *WS) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	close(t.stop)
	var err error
	if t.command != nil {
		err = t.command.Shutdown(ctx)
	}

	t.mu.Lock()
	for c := range t.clients {
		delete(t.clients, c)
		close(c.send)
	}
	t.mu.Unlock()
	if derr := t.data.Shutdown(ctx); derr != nil && err == nil {
		err = derr
	}
	t.wg.Wait()
	t.logger.Info("Transport closed")
	return err
}
