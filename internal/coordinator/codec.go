package coordinator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transports.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

// DefaultWebSocketPath is the endpoint the coordinator serves workers on.
const DefaultWebSocketPath = "/worker"

const dialTimeout = 5 * time.Second

// ErrMalformedMessage marks a message that arrived intact but could not be
// decoded. The channel stays usable after it.
var ErrMalformedMessage = errors.New("malformed coordinator message")

// MalformedMessageError carries the undecodable message.
type MalformedMessageError struct {
	Raw []byte
	Err error
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("%v: %v", ErrMalformedMessage, e.Err)
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

func (e *MalformedMessageError) Is(target error) bool { return target == ErrMalformedMessage }

// decodeEnvelope unmarshals one complete message.
func decodeEnvelope(raw []byte, env *Envelope) error {
	if err := json.Unmarshal(raw, env); err != nil {
		return &MalformedMessageError{Raw: raw, Err: err}
	}
	return nil
}

// Codec reads and writes envelopes over one established channel.
// Write may be called concurrently with Read. Read returns a
// *MalformedMessageError for a message it cannot decode; later reads
// continue with the next message.
type Codec interface {
	Read(env *Envelope) error
	Write(env *Envelope) error
	Close() error
}

// DialFunc opens a Codec to addr ("host:port").
type DialFunc func(ctx context.Context, addr string) (Codec, error)

// DialTCP connects with newline-delimited JSON over TCP.
func DialTCP(ctx context.Context, addr string) (Codec, error) {
	d := net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewTCPCodec(conn), nil
}

// DialWebSocket returns a DialFunc connecting to ws://addr<path>.
func DialWebSocket(path string) DialFunc {
	if path == "" {
		path = DefaultWebSocketPath
	}
	return func(ctx context.Context, addr string) (Codec, error) {
		u := url.URL{Scheme: "ws", Host: addr, Path: path}
		dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
		conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return nil, err
		}
		return NewWebSocketCodec(conn), nil
	}
}

// dialerFor maps a transport name to its DialFunc.
func dialerFor(transport, wsPath string) (DialFunc, error) {
	switch transport {
	case "", TransportTCP:
		return DialTCP, nil
	case TransportWebSocket:
		return DialWebSocket(wsPath), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (want %s or %s)", transport, TransportTCP, TransportWebSocket)
	}
}

// tcpCodec frames one JSON document per line.
type tcpCodec struct {
	conn net.Conn
	r    *bufio.Reader

	writeMu sync.Mutex
	w       *bufio.Writer
	enc     *json.Encoder
}

// NewTCPCodec wraps an established stream connection.
func NewTCPCodec(conn net.Conn) Codec {
	w := bufio.NewWriter(conn)
	return &tcpCodec{
		conn: conn,
		r:    bufio.NewReader(conn),
		w:    w,
		enc:  json.NewEncoder(w),
	}
}

func (c *tcpCodec) Read(env *Envelope) error {
	for {
		line, err := c.r.ReadBytes('\n')
		if err != nil {
			// A partial line at EOF is a peer that went away mid-message.
			return normalizeClosed(err)
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		return decodeEnvelope(line, env)
	}
}

func (c *tcpCodec) Write(env *Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.enc.Encode(env); err != nil {
		return normalizeClosed(err)
	}
	return normalizeClosed(c.w.Flush())
}

func (c *tcpCodec) Close() error {
	return c.conn.Close()
}

// wsCodec sends one JSON document per text message.
type wsCodec struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewWebSocketCodec wraps an established websocket connection.
func NewWebSocketCodec(conn *websocket.Conn) Codec {
	return &wsCodec{conn: conn}
}

func (c *wsCodec) Read(env *Envelope) error {
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return fmt.Errorf("%w: %v", ErrConnectionClosed, closeErr)
		}
		return normalizeClosed(err)
	}
	return decodeEnvelope(raw, env)
}

func (c *wsCodec) Write(env *Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return normalizeClosed(c.conn.WriteJSON(env))
}

func (c *wsCodec) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// normalizeClosed maps the ways a peer can go away onto ErrConnectionClosed.
func normalizeClosed(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return err
}
