package connection

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a single WebSocket connection to the marketplace feed. It speaks
// the feed's JSON framing: a connect handshake carrying the bearer token,
// subscribe commands with id/reply correlation, and publication pushes.
type Client interface {
	// Connect dials the feed and performs the token handshake.
	Connect(ctx context.Context) error

	// Subscribe subscribes the single logical channel, resuming from the
	// offset/epoch in params. Returns the server's resume position.
	Subscribe(ctx context.Context, params SubscribeParams) (uint64, string, error)

	// Close gracefully closes the connection.
	Close() error

	// Publications returns the channel of publication pushes.
	Publications() <-chan Publication

	// Errors returns a channel of connection errors, including *CloseError
	// on transport disconnects.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	pubs   chan Publication
	errors chan error
	done   chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// Command/reply correlation
	pendingMu sync.Mutex
	pending   map[int64]chan *reply
	cmdID     int64

	mu        sync.RWMutex
	connected bool
	closed    bool
}

// NewClient creates a new feed transport client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &client{
		cfg:     cfg,
		logger:  logger,
		pubs:    make(chan Publication, cfg.BufferSize),
		errors:  make(chan error, 1),
		done:    make(chan struct{}),
		pending: make(map[int64]chan *reply),
	}
}

// Connect dials the feed and performs the connect handshake.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.ConnectTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	conn.SetPingHandler(func(data string) error {
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	go c.readLoop()

	// Handshake: the server rejects everything until a connect command
	// carrying a valid token arrives.
	if _, err := c.sendCommand(ctx, command{
		Connect: &connectCmd{Token: c.cfg.Token, Name: c.cfg.ClientName},
	}); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	c.logger.Debug("feed transport connected", "url", c.cfg.URL)
	return nil
}

// Subscribe subscribes the logical channel with resume parameters.
func (c *client) Subscribe(ctx context.Context, params SubscribeParams) (uint64, string, error) {
	rep, err := c.sendCommand(ctx, command{
		Subscribe: &subscribeCmd{
			Channel: params.Channel,
			Recover: params.Offset > 0 || params.Epoch != "",
			Offset:  params.Offset,
			Epoch:   params.Epoch,
			Data:    params.Data,
		},
	})
	if err != nil {
		return 0, "", err
	}
	if rep.Subscribe == nil {
		return 0, "", nil
	}
	return rep.Subscribe.Offset, rep.Subscribe.Epoch, nil
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	close(c.done)

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return conn.Close()
	}
	return nil
}

// Publications returns the publications channel.
func (c *client) Publications() <-chan Publication {
	return c.pubs
}

// Errors returns the errors channel.
func (c *client) Errors() <-chan error {
	return c.errors
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// sendCommand writes a command and waits for the correlated reply.
func (c *client) sendCommand(ctx context.Context, cmd command) (*reply, error) {
	cmd.ID = atomic.AddInt64(&c.cmdID, 1)

	respCh := make(chan *reply, 1)
	c.pendingMu.Lock()
	c.pending[cmd.ID] = respCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, cmd.ID)
		c.pendingMu.Unlock()
	}()

	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	if err := c.send(data); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrAlreadyClosed
	case <-time.After(c.cfg.ConnectTimeout):
		return nil, ErrTimeout
	case rep := <-respCh:
		if rep.Error != nil {
			return nil, rep.Error
		}
		return rep, nil
	}
}

// send writes raw bytes to the connection.
func (c *client) send(data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads frames and routes them to pending commands or the
// publications channel.
func (c *client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			// Ignore errors after Close() is called.
			select {
			case <-c.done:
				return
			default:
			}

			var closeErr *websocket.CloseError
			var out error = err
			if websocket.IsCloseError(err, websocket.CloseNormalClosure,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseInternalServerErr, websocket.CloseServiceRestart,
				websocket.CloseTryAgainLater) {
				closeErr = err.(*websocket.CloseError)
				out = &CloseError{Code: closeErr.Code, Reason: closeErr.Text}
			}

			select {
			case c.errors <- out:
			default:
			}
			return
		}

		c.handleFrame(data, receivedAt)
	}
}

// handleFrame dispatches one server frame.
func (c *client) handleFrame(data []byte, receivedAt time.Time) {
	var rep reply
	if err := json.Unmarshal(data, &rep); err != nil {
		c.logger.Warn("malformed feed frame", "error", err)
		return
	}

	// Command reply
	if rep.ID != 0 {
		c.pendingMu.Lock()
		ch, ok := c.pending[rep.ID]
		if ok {
			delete(c.pending, rep.ID)
		}
		c.pendingMu.Unlock()

		if ok {
			select {
			case ch <- &rep:
			default:
			}
		}
		return
	}

	if rep.Push == nil {
		return
	}

	// Server-initiated disconnect
	if rep.Push.Disconnect != nil {
		select {
		case c.errors <- &CloseError{
			Code:   rep.Push.Disconnect.Code,
			Reason: rep.Push.Disconnect.Reason,
		}:
		default:
		}
		return
	}

	if rep.Push.Pub == nil {
		return
	}

	pub := Publication{
		Data:       rep.Push.Pub.Data,
		Offset:     rep.Push.Pub.Offset,
		ReceivedAt: receivedAt,
	}

	select {
	case c.pubs <- pub:
	case <-c.done:
	default:
		c.logger.Warn("publication buffer full, dropping message")
	}
}
