package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/localci/codeindexer/internal/pipeline"
	"github.com/localci/codeindexer/internal/query"
)

// Connect retry policy: bounded exponential backoff tolerating daemon
// restart races. On exhaustion the caller falls back to in-process
// execution.
const (
	connectInitialDelay = 50 * time.Millisecond
	connectBackoff      = 2
	connectMaxDelay     = 1 * time.Second
	connectMaxAttempts  = 10
)

// Client talks to a daemon over its Unix socket.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a client for the daemon at cfg.SocketPath.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{socketPath: cfg.SocketPath, timeout: timeout}
}

// connect dials once.
func (c *Client) connect() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	return conn, nil
}

// connectWithRetry dials with the bounded backoff policy.
func (c *Client) connectWithRetry(ctx context.Context) (net.Conn, error) {
	delay := connectInitialDelay
	var lastErr error
	for attempt := 0; attempt < connectMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= connectBackoff
			if delay > connectMaxDelay {
				delay = connectMaxDelay
			}
		}
		conn, err := c.connect()
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("daemon unreachable after %d attempts: %w", connectMaxAttempts, lastErr)
}

// IsRunning reports whether anything is accepting on the socket.
func (c *Client) IsRunning() bool {
	conn, err := c.connect()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Ping probes liveness with a short deadline.
func (c *Client) Ping(ctx context.Context) error {
	var result PingResult
	if err := c.call(ctx, MethodPing, nil, &result, nil); err != nil {
		return err
	}
	if !result.Pong {
		return fmt.Errorf("unexpected ping response")
	}
	return nil
}

// Query runs a query through the daemon.
func (c *Client) Query(ctx context.Context, params QueryParams) (*query.Results, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	var results query.Results
	if err := c.call(ctx, MethodQuery, params, &results, nil); err != nil {
		return nil, err
	}
	return &results, nil
}

// Stats retrieves daemon statistics.
func (c *Client) Stats(ctx context.Context) (*StatsResult, error) {
	var stats StatsResult
	if err := c.call(ctx, MethodStats, nil, &stats, nil); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Reload asks the daemon to re-read its collection after external
// indexing.
func (c *Client) Reload(ctx context.Context) error {
	var result ReloadResult
	return c.call(ctx, MethodReload, nil, &result, nil)
}

// Shutdown asks the daemon to stop.
func (c *Client) Shutdown(ctx context.Context) error {
	var result map[string]bool
	return c.call(ctx, MethodShutdown, nil, &result, nil)
}

// Index runs a daemon-side indexing session. Progress snapshots are
// decoded from intermediate frames and handed to onProgress; the
// snapshot is the sole source of truth — there is no remote handle to
// consult.
func (c *Client) Index(ctx context.Context, params IndexParams, onProgress pipeline.ProgressFunc) (*pipeline.Stats, error) {
	var stats pipeline.Stats
	if err := c.call(ctx, MethodIndex, params, &stats, onProgress); err != nil {
		return nil, err
	}
	return &stats, nil
}

// call performs one request/response exchange, routing any progress
// frames to onProgress until the final frame arrives.
func (c *Client) call(ctx context.Context, method string, params any, result any, onProgress pipeline.ProgressFunc) error {
	conn, err := c.connectWithRetry(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if method == MethodIndex {
		// Indexing runs unbounded; rely on ctx for cancellation.
		deadline = time.Time{}
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      uuid.NewString(),
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	decoder := json.NewDecoder(conn)
	for {
		var resp Response
		if err := decoder.Decode(&resp); err != nil {
			return fmt.Errorf("receive response: %w", err)
		}
		if resp.ID != req.ID {
			return fmt.Errorf("correlation id mismatch: sent %s, got %s", req.ID, resp.ID)
		}
		if resp.Progress != nil {
			if onProgress != nil {
				onProgress(*resp.Progress)
			}
			continue
		}
		if resp.Error != nil {
			if resp.Error.Remediation != "" {
				return fmt.Errorf("%s: %s (%s)", method, resp.Error.Message, resp.Error.Remediation)
			}
			return fmt.Errorf("%s: %s", method, resp.Error.Message)
		}
		if result != nil {
			data, err := json.Marshal(resp.Result)
			if err != nil {
				return fmt.Errorf("marshal result: %w", err)
			}
			if err := json.Unmarshal(data, result); err != nil {
				return fmt.Errorf("decode result: %w", err)
			}
		}
		return nil
	}
}
