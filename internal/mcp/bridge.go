package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/haasonsaas/adpilot/internal/observability"
)

// State is the lifecycle state of a Bridge.
type State int32

const (
	StateUninitialized State = iota
	StateStarting
	StateInitializing
	StateReady
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarting:
		return "starting"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	readChunkSize = 32 * 1024
	stopGrace     = 5 * time.Second
)

type callResult struct {
	result json.RawMessage
	err    error
}

// Bridge owns one MCP server subprocess and multiplexes JSON-RPC requests over
// its stdio. A Bridge is single-use: once terminated it cannot be restarted.
type Bridge struct {
	config  BridgeConfig
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	mu         sync.Mutex
	state      State
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	closers    []io.Closer
	pending    map[int64]chan callResult
	serverInfo ServerInfo
	exited     chan struct{}

	writeMu sync.Mutex
	nextID  atomic.Int64

	wg sync.WaitGroup
}

// Option customizes a Bridge.
type Option func(*Bridge)

// WithMetrics records request counts and latencies.
func WithMetrics(m *observability.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithTracer emits a span per request.
func WithTracer(t *observability.Tracer) Option {
	return func(b *Bridge) { b.tracer = t }
}

// New creates a Bridge for the given server configuration. Nothing is spawned
// until Start is called.
func New(cfg BridgeConfig, logger *slog.Logger, opts ...Option) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		config:  cfg.withDefaults(),
		logger:  logger.With("component", "mcp", "command", cfg.Command),
		pending: make(map[int64]chan callResult),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ServerInfo returns the identification the server sent during the handshake.
func (b *Bridge) ServerInfo() ServerInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.serverInfo
}

// Start spawns the server and performs the initialize handshake. If the
// handshake fails the process is stopped and the error returned.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.config.Validate(); err != nil {
		return &StartupError{Reason: "invalid config", Err: err}
	}
	if err := b.beginStart(); err != nil {
		return err
	}

	cmd := exec.Command(b.config.Command, b.config.Args...)
	cmd.Env = os.Environ()
	for k, v := range b.config.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if b.config.WorkDir != "" {
		cmd.Dir = b.config.WorkDir
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		b.failStart()
		return &StartupError{Reason: "stdin pipe", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		b.failStart()
		return &StartupError{Reason: "stdout pipe", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		b.failStart()
		return &StartupError{Reason: "stderr pipe", Err: err}
	}
	if err := cmd.Start(); err != nil {
		b.failStart()
		return &StartupError{Reason: "spawn " + b.config.Command, Err: err}
	}
	b.logger.Info("mcp server started", "pid", cmd.Process.Pid)

	b.attach(cmd, stdin, stdout, stderr)

	if err := b.Initialize(ctx); err != nil {
		_ = b.Stop()
		return &StartupError{Reason: "handshake failed", Err: err}
	}
	return nil
}

func (b *Bridge) beginStart() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateUninitialized:
		b.state = StateStarting
		return nil
	case StateTerminated:
		return &StartupError{Reason: "bridge is terminated", Err: ErrTerminated}
	default:
		return &StartupError{Reason: "connection already " + b.state.String(), Err: ErrAlreadyStarted}
	}
}

func (b *Bridge) failStart() {
	b.mu.Lock()
	b.state = StateTerminated
	b.mu.Unlock()
}

// attach wires the process streams. cmd may be nil when the bridge is driven
// over in-memory pipes.
func (b *Bridge) attach(cmd *exec.Cmd, stdin io.WriteCloser, stdout, stderr io.Reader) {
	exited := make(chan struct{})

	b.mu.Lock()
	b.cmd = cmd
	b.stdin = stdin
	b.exited = exited
	b.closers = b.closers[:0]
	for _, r := range []io.Reader{stdout, stderr} {
		if c, ok := r.(io.Closer); ok && r != nil {
			b.closers = append(b.closers, c)
		}
	}
	b.mu.Unlock()

	var readers sync.WaitGroup
	readers.Add(1)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer readers.Done()
		b.readLoop(stdout)
	}()
	if stderr != nil {
		readers.Add(1)
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			defer readers.Done()
			b.logStderr(stderr)
		}()
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(exited)
		readers.Wait()
		if cmd == nil {
			return
		}
		err := cmd.Wait()
		if err != nil {
			b.logger.Warn("mcp server exited", "error", err)
		} else {
			b.logger.Info("mcp server exited")
		}
		b.terminate(fmt.Errorf("server exited: %w", ErrBridgeClosed))
	}()
}

// Initialize performs the MCP handshake: initialize, then the initialized
// notification. Start calls it; it is exported for bridges attached to
// already-running servers.
func (b *Bridge) Initialize(ctx context.Context) error {
	b.mu.Lock()
	if b.state == StateStarting {
		b.state = StateInitializing
	}
	b.mu.Unlock()

	params := InitializeParams{
		ProtocolVersion: b.config.ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo: ClientInfo{
			Name:    b.config.ClientName,
			Version: b.config.ClientVersion,
		},
	}
	raw, err := b.Call(ctx, MethodInitialize, params)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var result InitializeResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return fmt.Errorf("parse initialize result: %w", err)
		}
	}

	if err := b.notify(MethodInitialized, nil); err != nil {
		b.logger.Warn("failed to send initialized notification", "error", err)
	}

	b.mu.Lock()
	if b.state == StateInitializing {
		b.state = StateReady
	}
	b.serverInfo = result.ServerInfo
	b.mu.Unlock()

	b.logger.Info("mcp server ready",
		"server", result.ServerInfo.Name,
		"version", result.ServerInfo.Version,
		"protocol", result.ProtocolVersion,
	)
	return nil
}

// Call sends one JSON-RPC request and waits for its response, the per-request
// timeout, ctx, or the connection going away, whichever comes first.
func (b *Bridge) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	ctx, span := b.tracer.TraceRPC(ctx, method)
	defer span.End()

	start := time.Now()
	result, err := b.call(ctx, method, params)
	b.metrics.RecordRPC(method, rpcStatus(err), time.Since(start).Seconds())
	observability.RecordError(span, err)
	return result, err
}

func (b *Bridge) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	b.mu.Lock()
	if b.stdin == nil || b.state == StateTerminated || b.state == StateUninitialized {
		b.mu.Unlock()
		return nil, ErrNotStarted
	}
	id := b.nextID.Add(1)
	ch := make(chan callResult, 1)
	b.pending[id] = ch
	stdin := b.stdin
	b.mu.Unlock()

	data, err := json.Marshal(Request{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		b.removePending(id)
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}

	if err := b.write(stdin, data); err != nil {
		b.removePending(id)
		select {
		case res := <-ch:
			// Terminated while writing.
			return nil, res.err
		default:
		}
		return nil, fmt.Errorf("write %s request: %w", method, err)
	}

	timer := time.NewTimer(b.config.Timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.result, res.err
	case <-timer.C:
		b.removePending(id)
		return nil, &TimeoutError{Method: method, ID: id, Timeout: b.config.Timeout}
	case <-ctx.Done():
		b.removePending(id)
		return nil, ctx.Err()
	}
}

func (b *Bridge) notify(method string, params any) error {
	b.mu.Lock()
	stdin := b.stdin
	b.mu.Unlock()
	if stdin == nil {
		return ErrNotStarted
	}
	data, err := json.Marshal(Notification{JSONRPC: jsonRPCVersion, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal %s notification: %w", method, err)
	}
	return b.write(stdin, data)
}

func (b *Bridge) write(w io.Writer, data []byte) error {
	line := make([]byte, 0, len(data)+1)
	line = append(line, data...)
	line = append(line, '\n')

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_, err := w.Write(line)
	return err
}

func (b *Bridge) removePending(id int64) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// readLoop owns the partial-line buffer; nothing else may touch it.
func (b *Bridge) readLoop(r io.Reader) {
	var buf lineBuffer
	chunk := make([]byte, readChunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			lines, ferr := buf.feed(chunk[:n])
			if ferr != nil {
				b.logger.Warn("dropping oversized output from mcp server", "error", ferr)
			}
			for _, line := range lines {
				b.dispatch(line)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				b.logger.Debug("mcp stdout read ended", "error", err)
			}
			b.terminate(fmt.Errorf("server output closed: %w", ErrBridgeClosed))
			return
		}
	}
}

// dispatch resolves the pending request a line answers. Lines that are not
// JSON, carry no id, or match nothing outstanding are dropped.
func (b *Bridge) dispatch(line []byte) {
	var msg envelope
	if err := json.Unmarshal(line, &msg); err != nil {
		b.logger.Debug("ignoring non-protocol output", "line", truncate(string(line), 200))
		return
	}
	if msg.ID == nil || msg.Method != "" {
		b.logger.Debug("ignoring server message", "method", msg.Method)
		return
	}

	b.mu.Lock()
	ch, ok := b.pending[*msg.ID]
	if ok {
		delete(b.pending, *msg.ID)
	}
	b.mu.Unlock()
	if !ok {
		b.logger.Debug("ignoring response with no pending request", "id", *msg.ID)
		return
	}

	if msg.Error != nil {
		ch <- callResult{err: &RemoteError{
			Code:    msg.Error.Code,
			Message: msg.Error.Message,
			Data:    msg.Error.Data,
		}}
		return
	}
	ch <- callResult{result: msg.Result}
}

func (b *Bridge) logStderr(r io.Reader) {
	var lb lineBuffer
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			lines, _ := lb.feed(chunk[:n])
			for _, line := range lines {
				b.logger.Debug("mcp server stderr", "line", string(line))
			}
		}
		if err != nil {
			return
		}
	}
}

// terminate moves the bridge to Terminated and fails every pending request.
// Safe to call more than once.
func (b *Bridge) terminate(reason error) {
	b.mu.Lock()
	if b.state == StateTerminated && b.stdin == nil {
		b.mu.Unlock()
		return
	}
	b.state = StateTerminated
	pending := b.pending
	b.pending = make(map[int64]chan callResult)
	stdin := b.stdin
	b.stdin = nil
	b.mu.Unlock()

	for _, ch := range pending {
		ch <- callResult{err: reason}
	}
	if stdin != nil {
		_ = stdin.Close()
	}
	if len(pending) > 0 {
		b.logger.Warn("failed pending mcp requests", "count", len(pending), "reason", reason)
	}
}

// Stop terminates the server and waits for the bridge goroutines to exit.
// Pending requests fail with ErrBridgeClosed. Calling Stop on a bridge that
// never started, or more than once, is a no-op.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	if b.state == StateUninitialized {
		b.mu.Unlock()
		return nil
	}
	cmd := b.cmd
	exited := b.exited
	closers := append([]io.Closer(nil), b.closers...)
	b.mu.Unlock()

	b.terminate(fmt.Errorf("bridge stopped: %w", ErrBridgeClosed))

	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			_ = cmd.Process.Kill()
		}
		if exited != nil {
			select {
			case <-exited:
			case <-time.After(stopGrace):
				b.logger.Warn("mcp server ignored SIGTERM, killing")
				_ = cmd.Process.Kill()
			}
		}
	} else {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	b.wg.Wait()
	return nil
}

func rpcStatus(err error) string {
	var remote *RemoteError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &remote):
		return remote.Kind()
	case errors.Is(err, ErrRPCTimeout):
		return "timeout"
	case errors.Is(err, ErrBridgeClosed):
		return "closed"
	case errors.Is(err, ErrNotStarted):
		return "not_started"
	default:
		return "error"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
