package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/randomizedcoder/tga-worker/internal/job"
)

// ErrConnectionClosed is returned once the coordinator has closed the
// channel. It is terminal for the connection and is not retried.
var ErrConnectionClosed = errors.New("coordinator connection closed")

// Config holds configuration for creating a new Client.
type Config struct {
	Address   string
	Port      int
	Transport string // tcp or websocket
	WSPath    string

	// Tool and WorkerID are announced in the hello message.
	Tool     string
	WorkerID string

	Retry  RetryConfig
	Logger *slog.Logger

	// Dial overrides the transport dialer. Used by tests.
	Dial DialFunc

	// OnAttempt is called after every connection attempt; err is nil for
	// the successful one.
	OnAttempt func(attempt int, err error)
}

// Client establishes connections to the coordinator.
type Client struct {
	addr      string
	dial      DialFunc
	retry     RetryConfig
	tool      string
	workerID  string
	logger    *slog.Logger
	onAttempt func(int, error)
}

// NewClient validates cfg and returns a Client. It does not connect.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Address == "" {
		return nil, errors.New("coordinator address is required")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("coordinator port %d out of range", cfg.Port)
	}

	dial := cfg.Dial
	if dial == nil {
		var err error
		if dial, err = dialerFor(cfg.Transport, cfg.WSPath); err != nil {
			return nil, err
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		addr:      net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port)),
		dial:      dial,
		retry:     cfg.Retry.normalized(),
		tool:      cfg.Tool,
		workerID:  cfg.WorkerID,
		logger:    logger,
		onAttempt: cfg.OnAttempt,
	}, nil
}

// Addr returns the host:port the client dials.
func (c *Client) Addr() string {
	return c.addr
}

// Connect dials until it succeeds, waiting the retry delay after each
// failure. It only returns an error when ctx is done.
func (c *Client) Connect(ctx context.Context) (*Connection, error) {
	for attempt := 1; ; attempt++ {
		conn, err := c.connectOnce(ctx)
		if c.onAttempt != nil {
			c.onAttempt(attempt, err)
		}
		if err == nil {
			c.logger.Info("coordinator_connected",
				"addr", c.addr,
				"attempts", attempt,
			)
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		delay := c.retry.Delay
		c.logger.Warn("coordinator_connect_failed",
			"addr", c.addr,
			"attempt", attempt,
			"retry_in", delay.String(),
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) connectOnce(ctx context.Context) (*Connection, error) {
	codec, err := c.dial(ctx, c.addr)
	if err != nil {
		return nil, err
	}
	hello := &Envelope{Type: MsgHello, Tool: c.tool, WorkerID: c.workerID}
	if err := codec.Write(hello); err != nil {
		codec.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}
	return newConnection(codec, c.logger), nil
}

// Connection is an established channel. ReceiveJob must not be called
// concurrently with itself; sends are safe from any goroutine.
type Connection struct {
	codec  Codec
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

func newConnection(codec Codec, logger *slog.Logger) *Connection {
	return &Connection{codec: codec, logger: logger, closed: make(chan struct{})}
}

// ReceiveJob blocks until the coordinator sends a job. It returns
// ErrConnectionClosed when the channel closes. Cancelling ctx closes the
// connection.
func (c *Connection) ReceiveJob(ctx context.Context) (job.Job, error) {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		var env Envelope
		if err := c.codec.Read(&env); err != nil {
			var malformed *MalformedMessageError
			if errors.As(err, &malformed) {
				c.rejectMalformed(malformed)
				continue
			}
			if ctx.Err() != nil {
				return job.Job{}, ctx.Err()
			}
			if c.isClosed() {
				return job.Job{}, ErrConnectionClosed
			}
			return job.Job{}, err
		}

		if env.Type != MsgJob || env.Job == nil {
			c.logger.Warn("coordinator_unexpected_message", "type", string(env.Type))
			continue
		}
		return env.Job.ToJob(), nil
	}
}

// rejectMalformed logs an undecodable message and, when it is a job whose
// ID can still be read, fails that job so the coordinator does not wait on
// it.
func (c *Connection) rejectMalformed(m *MalformedMessageError) {
	jobID := recoverJobID(m.Raw)
	c.logger.Warn("coordinator_malformed_message",
		"job_id", jobID,
		"error", m.Err,
	)
	if jobID == "" {
		return
	}
	err := c.SendFailure(FailureReport{
		JobID: jobID,
		Error: fmt.Sprintf("malformed job message: %v", m.Err),
	})
	if err != nil {
		c.logger.Warn("send_failure_failed", "job_id", jobID, "error", err)
	}
}

// recoverJobID extracts job.id from a job envelope whose other fields did
// not decode. It returns "" when there is no usable ID.
func recoverJobID(raw []byte) string {
	var outer struct {
		Type MessageType     `json:"type"`
		Job  json.RawMessage `json:"job"`
	}
	if json.Unmarshal(raw, &outer) != nil || outer.Type != MsgJob || len(outer.Job) == 0 {
		return ""
	}
	var inner struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(outer.Job, &inner) != nil {
		return ""
	}
	return inner.ID
}

// SendResult reports a generated suite for jobID.
func (c *Connection) SendResult(jobID string, suite *job.TestSuite, elapsed time.Duration) error {
	return c.send(&Envelope{
		Type:   MsgResult,
		Result: NewResultMessage(jobID, suite, elapsed),
	})
}

// SendFailure reports that a job produced no suite.
func (c *Connection) SendFailure(report FailureReport) error {
	return c.send(&Envelope{Type: MsgFailure, Failure: &report})
}

func (c *Connection) send(env *Envelope) error {
	if c.isClosed() {
		return ErrConnectionClosed
	}
	if err := c.codec.Write(env); err != nil {
		return fmt.Errorf("send %s: %w", env.Type, err)
	}
	return nil
}

// Close closes the channel. It is safe to call more than once.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = c.codec.Close()
	})
	return c.closeErr
}

// Done is closed when the connection has been closed locally.
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

func (c *Connection) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
