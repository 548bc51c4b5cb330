package coordinator

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randomizedcoder/tga-worker/internal/job"
)

// =============================================================================
// In-memory codec
// =============================================================================

type pipeCodec struct {
	in     chan *Envelope
	out    chan *Envelope
	closed chan struct{}
	once   sync.Once
}

func newPipeCodec() *pipeCodec {
	return &pipeCodec{
		in:     make(chan *Envelope, 16),
		out:    make(chan *Envelope, 16),
		closed: make(chan struct{}),
	}
}

func (p *pipeCodec) Read(env *Envelope) error {
	select {
	case e, ok := <-p.in:
		if !ok {
			return ErrConnectionClosed
		}
		*env = *e
		return nil
	case <-p.closed:
		return ErrConnectionClosed
	}
}

func (p *pipeCodec) Write(env *Envelope) error {
	select {
	case <-p.closed:
		return ErrConnectionClosed
	case p.out <- env:
		return nil
	}
}

func (p *pipeCodec) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func testClient(t *testing.T, dial DialFunc, onAttempt func(int, error)) *Client {
	t.Helper()
	c, err := NewClient(Config{
		Address:   "127.0.0.1",
		Port:      9999,
		Tool:      "EvoSuite",
		Retry:     FixedRetry(time.Millisecond),
		Dial:      dial,
		OnAttempt: onAttempt,
	})
	require.NoError(t, err)
	return c
}

// =============================================================================
// Connect
// =============================================================================

func TestConnect_RetryLiveness(t *testing.T) {
	for _, failures := range []int{0, 1, 5} {
		t.Run(strconv.Itoa(failures), func(t *testing.T) {
			calls := 0
			codec := newPipeCodec()
			dial := func(ctx context.Context, addr string) (Codec, error) {
				calls++
				if calls <= failures {
					return nil, errors.New("connection refused")
				}
				return codec, nil
			}

			var attempts []error
			c := testClient(t, dial, func(_ int, err error) { attempts = append(attempts, err) })

			conn, err := c.Connect(context.Background())
			require.NoError(t, err)
			defer conn.Close()

			assert.Equal(t, failures+1, calls)
			require.Len(t, attempts, failures+1)
			assert.NoError(t, attempts[failures])

			hello := <-codec.out
			assert.Equal(t, MsgHello, hello.Type)
			assert.Equal(t, "EvoSuite", hello.Tool)
		})
	}
}

func TestConnect_NeverGivesUpUntilCancelled(t *testing.T) {
	calls := 0
	dial := func(ctx context.Context, addr string) (Codec, error) {
		calls++
		return nil, errors.New("connection refused")
	}
	c := testClient(t, dial, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	conn, err := c.Connect(ctx)
	assert.Nil(t, conn)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, calls, 5)
}

func TestConnect_HelloFailureIsRetried(t *testing.T) {
	calls := 0
	good := newPipeCodec()
	dial := func(ctx context.Context, addr string) (Codec, error) {
		calls++
		if calls == 1 {
			bad := newPipeCodec()
			bad.Close()
			return bad, nil
		}
		return good, nil
	}
	c := testClient(t, dial, nil)

	conn, err := c.Connect(context.Background())
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, 2, calls)
}

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"missing_address", Config{Port: 1}, "address is required"},
		{"port_zero", Config{Address: "localhost"}, "out of range"},
		{"port_too_large", Config{Address: "localhost", Port: 70000}, "out of range"},
		{"bad_transport", Config{Address: "localhost", Port: 1, Transport: "udp"}, "unknown transport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	c, err := NewClient(Config{Address: "::1", Port: 8080, Transport: TransportWebSocket})
	require.NoError(t, err)
	assert.Equal(t, "[::1]:8080", c.Addr())
}

// =============================================================================
// Connection
// =============================================================================

func connected(t *testing.T) (*Connection, *pipeCodec) {
	t.Helper()
	codec := newPipeCodec()
	c := testClient(t, func(context.Context, string) (Codec, error) { return codec, nil }, nil)
	conn, err := c.Connect(context.Background())
	require.NoError(t, err)
	<-codec.out // hello
	return conn, codec
}

func TestReceiveJob_SkipsUnexpectedMessages(t *testing.T) {
	conn, codec := connected(t)
	defer conn.Close()

	codec.in <- &Envelope{Type: MsgHello}
	codec.in <- &Envelope{Type: MsgJob} // no payload
	codec.in <- &Envelope{Type: MsgJob, Job: &JobMessage{
		ID:              "job-1",
		Target:          "com.acme.Foo",
		Classpath:       []string{"/bench/classes"},
		TimeBudget:      60,
		OutputDirectory: "/tmp/run-3/bench1",
	}}

	j, err := conn.ReceiveJob(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "job-1", j.ID)
	assert.Equal(t, "com.acme.Foo", j.Target)
	assert.Equal(t, 60*time.Second, j.TimeBudget)
	assert.Equal(t, []string{"/bench/classes"}, j.Classpath)
}

func TestReceiveJob_ClosedChannelIsTerminal(t *testing.T) {
	conn, codec := connected(t)
	close(codec.in)

	_, err := conn.ReceiveJob(context.Background())
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestReceiveJob_CancelClosesConnection(t *testing.T) {
	conn, _ := connected(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := conn.ReceiveJob(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	select {
	case <-conn.Done():
	default:
		t.Fatal("connection should be closed after cancellation")
	}
	assert.ErrorIs(t, conn.SendFailure(FailureReport{}), ErrConnectionClosed)
}

func TestSendResultAndFailure(t *testing.T) {
	conn, codec := connected(t)
	defer conn.Close()

	suite := job.EmptySuite("/out/evosuite-tests")
	suite.TestNames = []string{"com.acme.FooTest0"}
	suite.AddDependencies(job.Dependency{Group: "junit", Artifact: "junit", Version: "4.13.2"})

	require.NoError(t, conn.SendResult("job-1", suite, 1500*time.Millisecond))
	env := <-codec.out
	require.Equal(t, MsgResult, env.Type)
	assert.Equal(t, "job-1", env.Result.JobID)
	assert.Equal(t, []string{"com.acme.FooTest0"}, env.Result.TestNames)
	assert.Equal(t, int64(1500), env.Result.GenerationTime)

	require.NoError(t, conn.SendFailure(FailureReport{JobID: "job-2", Error: "spawn failed"}))
	env = <-codec.out
	require.Equal(t, MsgFailure, env.Type)
	assert.Equal(t, "spawn failed", env.Failure.Error)

	assert.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
}

// =============================================================================
// Messages
// =============================================================================

func TestNewResultMessage_NilSuiteEncodesEmptyLists(t *testing.T) {
	data, err := json.Marshal(NewResultMessage("j", nil, 0))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"testNames":[]`)
	assert.Contains(t, string(data), `"dependencies":[]`)
}

func TestJobMessage_Conversion(t *testing.T) {
	j := job.Job{
		ID:              "abc",
		Root:            "/bench",
		Target:          "com.acme.Foo",
		Classpath:       []string{"a", "b"},
		TimeBudget:      90 * time.Second,
		OutputDirectory: "/out",
	}
	msg := NewJobMessage(j)
	assert.Equal(t, int64(90), msg.TimeBudget)
	assert.Equal(t, j, msg.ToJob())

	msg.Classpath[0] = "changed"
	assert.Equal(t, "a", j.Classpath[0], "conversion must copy the classpath")
}

// =============================================================================
// Transports
// =============================================================================

// serveCoordinator answers one worker: checks hello, sends one job, reads
// one result, then closes.
func serveCoordinator(t *testing.T, read func(*Envelope) error, write func(*Envelope) error) <-chan *Envelope {
	t.Helper()
	results := make(chan *Envelope, 1)
	go func() {
		defer close(results)
		var hello Envelope
		if err := read(&hello); err != nil || hello.Type != MsgHello {
			return
		}
		write(&Envelope{Type: MsgJob, Job: &JobMessage{ID: "j1", Target: "com.acme.Foo", TimeBudget: 5, OutputDirectory: "/out"}})
		var res Envelope
		if err := read(&res); err != nil {
			return
		}
		results <- &res
	}()
	return results
}

func TestTCPTransport(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	c, err := NewClient(Config{Address: "127.0.0.1", Port: addr.Port, Tool: "Kex", Retry: FixedRetry(10 * time.Millisecond)})
	require.NoError(t, err)

	done := make(chan struct{})
	var results <-chan *Envelope
	go func() {
		defer close(done)
		conn := <-accepted
		dec := json.NewDecoder(bufio.NewReader(conn))
		enc := json.NewEncoder(conn)
		inner := serveCoordinator(t, func(e *Envelope) error { return dec.Decode(e) }, func(e *Envelope) error { return enc.Encode(e) })
		fwd := make(chan *Envelope, 1)
		results = fwd
		res := <-inner
		fwd <- res
		conn.Close()
		close(fwd)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := c.Connect(ctx)
	require.NoError(t, err)
	defer conn.Close()

	j, err := conn.ReceiveJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, "com.acme.Foo", j.Target)
	assert.Equal(t, 5*time.Second, j.TimeBudget)

	require.NoError(t, conn.SendResult(j.ID, job.EmptySuite("/out"), 0))
	<-done
	res := <-results
	require.NotNil(t, res)
	assert.Equal(t, "j1", res.Result.JobID)

	_, err = conn.ReceiveJob(ctx)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestWebSocketTransport(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var results <-chan *Envelope
	ready := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != DefaultWebSocketPath {
			http.NotFound(w, r)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		inner := serveCoordinator(t, func(e *Envelope) error { return ws.ReadJSON(e) }, func(e *Envelope) error { return ws.WriteJSON(e) })
		fwd := make(chan *Envelope, 1)
		results = fwd
		close(ready)
		res := <-inner
		fwd <- res
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		ws.Close()
	}))
	defer srv.Close()

	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c, err := NewClient(Config{Address: host, Port: port, Transport: TransportWebSocket, Tool: "Jazzer"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := c.Connect(ctx)
	require.NoError(t, err)
	defer conn.Close()

	j, err := conn.ReceiveJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, "j1", j.ID)

	suite := job.EmptySuite("/out/tests")
	suite.TestNames = []string{"com.acme.FooTest0", "com.acme.FooTest1"}
	require.NoError(t, conn.SendResult(j.ID, suite, time.Second))

	<-ready
	res := <-results
	require.NotNil(t, res)
	assert.Equal(t, suite.TestNames, res.Result.TestNames)

	_, err = conn.ReceiveJob(ctx)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

// =============================================================================
// Malformed messages
// =============================================================================

func TestReceiveJob_MalformedMessagesAreSkipped(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	type peerResult struct {
		failure *Envelope
		err     error
	}
	peer := make(chan peerResult, 1)
	go func() {
		var pr peerResult
		defer func() { peer <- pr }()

		conn, err := ln.Accept()
		if err != nil {
			pr.err = err
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		if _, pr.err = r.ReadBytes('\n'); pr.err != nil { // hello
			return
		}

		lines := []string{
			`{"type":"job","job":{"id":"bad-1","target":"a.B","timeBudget":"60","outputDirectory":"/out"}}`,
			`{"type":"job","job":{`,
			``,
			`{"type":"job","job":{"id":"good-1","target":"a.C","timeBudget":60,"outputDirectory":"/out"}}`,
		}
		for _, l := range lines {
			if _, pr.err = conn.Write([]byte(l + "\n")); pr.err != nil {
				return
			}
		}

		line, err := r.ReadBytes('\n')
		if err != nil {
			pr.err = err
			return
		}
		var env Envelope
		pr.err = json.Unmarshal(line, &env)
		pr.failure = &env
	}()

	addr := ln.Addr().(*net.TCPAddr)
	c, err := NewClient(Config{Address: "127.0.0.1", Port: addr.Port, Tool: "stub", Retry: FixedRetry(10 * time.Millisecond)})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := c.Connect(ctx)
	require.NoError(t, err)
	defer conn.Close()

	j, err := conn.ReceiveJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, "good-1", j.ID)
	assert.Equal(t, "a.C", j.Target)
	assert.Equal(t, 60*time.Second, j.TimeBudget)

	pr := <-peer
	require.NoError(t, pr.err)
	require.NotNil(t, pr.failure)
	assert.Equal(t, MsgFailure, pr.failure.Type)
	require.NotNil(t, pr.failure.Failure)
	assert.Equal(t, "bad-1", pr.failure.Failure.JobID)
	assert.Contains(t, pr.failure.Failure.Error, "malformed job message")
}

func TestRecoverJobID(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"type_error_elsewhere", `{"type":"job","job":{"id":"x1","timeBudget":"60"}}`, "x1"},
		{"not_a_job", `{"type":"hello","job":{"id":"x1"}}`, ""},
		{"no_job", `{"type":"job"}`, ""},
		{"bad_id_type", `{"type":"job","job":{"id":7}}`, ""},
		{"syntax_error", `{"type":"job","job":{`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, recoverJobID([]byte(tt.raw)))
		})
	}
}

func TestDecodeEnvelope_MalformedError(t *testing.T) {
	var env Envelope
	err := decodeEnvelope([]byte(`{"type":`), &env)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedMessage)

	var malformed *MalformedMessageError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, `{"type":`, string(malformed.Raw))
	assert.NotErrorIs(t, err, ErrConnectionClosed)
}
