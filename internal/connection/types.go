package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrDisposed         = errors.New("connection manager disposed")
	ErrAlreadyConnected = errors.New("already connected or connecting")
	ErrTimeout          = errors.New("operation timeout")
)

// CloseError reports a transport-level disconnect with its close code.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("transport closed (%d): %s", e.Code, e.Reason)
}

// Clean reports whether the close was intentional (normal closure or
// going-away) as opposed to an abnormal drop that warrants a reconnect.
func (e *CloseError) Clean() bool {
	return e.Code == 1000 || e.Code == 1001
}

// closeInvalidToken is the server's disconnect code for a rejected token.
const closeInvalidToken = 3500

// IsAuthError reports whether the feed refused the token itself, as opposed
// to a transport or availability failure. A rejected token will fail every
// retry until it is replaced.
func IsAuthError(err error) bool {
	var re *replyError
	if errors.As(err, &re) {
		return re.Code == 401 || re.Code == 403
	}
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code == closeInvalidToken
	}
	return false
}

// ConnError wraps any failure surfaced through the manager's single
// error-handling path.
type ConnError struct {
	Op  string
	Err error
}

func (e *ConnError) Error() string { return "connection " + e.Op + ": " + e.Err.Error() }
func (e *ConnError) Unwrap() error { return e.Err }

// Publication is one message delivered on the subscribed channel, handed
// raw to the Message Router for schema validation.
type Publication struct {
	Data       json.RawMessage
	Offset     uint64
	ReceivedAt time.Time
}

// SubscribeParams describes the single logical channel subscription.
type SubscribeParams struct {
	Channel string          // feed channel name
	Data    json.RawMessage // free-form filter data sent with the subscribe command
	Offset  uint64          // resume cursor
	Epoch   string          // resume epoch
}

// command is a client-to-server frame. Exactly one of Connect/Subscribe is set.
type command struct {
	ID        int64         `json:"id"`
	Connect   *connectCmd   `json:"connect,omitempty"`
	Subscribe *subscribeCmd `json:"subscribe,omitempty"`
}

type connectCmd struct {
	Token string `json:"token"`
	Name  string `json:"name,omitempty"`
}

type subscribeCmd struct {
	Channel string          `json:"channel"`
	Recover bool            `json:"recover,omitempty"`
	Offset  uint64          `json:"offset,omitempty"`
	Epoch   string          `json:"epoch,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// reply is a server response to a command, or a server push when ID is zero.
type reply struct {
	ID        int64           `json:"id,omitempty"`
	Error     *replyError     `json:"error,omitempty"`
	Connect   json.RawMessage `json:"connect,omitempty"`
	Subscribe *subscribeReply `json:"subscribe,omitempty"`
	Push      *pushFrame      `json:"push,omitempty"`
}

type replyError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *replyError) Error() string {
	return fmt.Sprintf("feed error %d: %s", e.Code, e.Message)
}

type subscribeReply struct {
	Recoverable bool   `json:"recoverable"`
	Offset      uint64 `json:"offset"`
	Epoch       string `json:"epoch"`
}

type pushFrame struct {
	Channel    string         `json:"channel"`
	Pub        *pubFrame      `json:"pub,omitempty"`
	Disconnect *disconnectMsg `json:"disconnect,omitempty"`
}

type pubFrame struct {
	Data   json.RawMessage `json:"data"`
	Offset uint64          `json:"offset"`
}

type disconnectMsg struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// ClientConfig configures a WebSocket transport client.
type ClientConfig struct {
	URL            string        // feed WebSocket URL
	Token          string        // bearer token for the connect handshake
	ClientName     string        // client identification sent on connect
	ConnectTimeout time.Duration // handshake + command reply deadline
	WriteTimeout   time.Duration // write deadline for sends
	BufferSize     int           // publication channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ClientName:     "float-feed",
		ConnectTimeout: 10 * time.Second,
		WriteTimeout:   5 * time.Second,
		BufferSize:     1000,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	URL                string          // feed WebSocket URL
	Channel            string          // logical channel to subscribe
	FilterData         json.RawMessage // free-form filter data for the subscribe command
	ConnectTimeout     time.Duration
	WriteTimeout       time.Duration
	BufferSize         int           // publication output buffer
	ForceReconnectWait time.Duration // settle delay inside ForceReconnect
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Channel:            "broadcast",
		ConnectTimeout:     10 * time.Second,
		WriteTimeout:       5 * time.Second,
		BufferSize:         10000,
		ForceReconnectWait: time.Second,
	}
}
