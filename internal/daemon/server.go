package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/localci/codeindexer/internal/fts"
	"github.com/localci/codeindexer/internal/pipeline"
	"github.com/localci/codeindexer/internal/query"
	"github.com/localci/codeindexer/internal/store"
)

// ErrAlreadyRunning reports that another daemon owns the socket.
var ErrAlreadyRunning = errors.New("daemon already running: socket in use")

// Handles are the long-lived per-collection resources the daemon keeps
// warm between queries.
type Handles struct {
	Collection *store.Collection
	FTS        *fts.Index // nil when absent
	Engine     *query.Engine

	// Orchestrator is used for daemon-side indexing; nil disables the
	// index method.
	Orchestrator *pipeline.Orchestrator

	// Reload rebuilds the handles after external indexing. Returns
	// replacement handles; the daemon closes the old ones.
	Reload func() (*Handles, error)

	// Model is reported in stats.
	Model string
}

// Close releases the held resources.
func (h *Handles) Close() {
	if h.FTS != nil {
		_ = h.FTS.Close()
	}
	if h.Collection != nil {
		_ = h.Collection.Close()
	}
}

// Server owns the socket bind and serves RPC requests.
type Server struct {
	cfg     Config
	started time.Time

	mu       sync.Mutex
	handles  *Handles
	listener net.Listener
	shutdown bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	queryCount  atomic.Uint64
	reloadCount atomic.Uint64

	maintenance *maintenance
}

// NewServer creates a server over pre-warmed handles.
func NewServer(cfg Config, handles *Handles) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Server{cfg: cfg, handles: handles}, nil
}

// isAddrInUse reports whether a bind failed because another process
// holds the socket.
func isAddrInUse(err error) bool {
	return err != nil && strings.Contains(err.Error(), "address already in use")
}

// ListenAndServe binds the socket and blocks until ctx is cancelled or
// a shutdown request arrives. The bind is the single-instance lock: a
// live competing daemon surfaces as ErrAlreadyRunning, which callers
// treat as a clean no-op exit. A stale socket left by a crashed daemon
// is detected by probing and removed.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if isAddrInUse(err) {
		// Probe: a live owner answers ping; a dead one left a stale
		// socket file we can reclaim.
		client := NewClient(s.cfg)
		pingCtx, cancel := context.WithTimeout(ctx, s.cfg.PingTimeout)
		alive := client.Ping(pingCtx) == nil
		cancel()
		if alive {
			return ErrAlreadyRunning
		}
		_ = os.Remove(s.cfg.SocketPath)
		listener, err = net.Listen("unix", s.cfg.SocketPath)
	}
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.cfg.SocketPath, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.listener = listener
	s.cancel = cancel
	s.mu.Unlock()
	s.started = time.Now()

	pidFile := NewPIDFile(s.cfg.PIDPath)
	if err := pidFile.Write(); err != nil {
		slog.Warn("pid_file_write_failed", slog.String("error", err.Error()))
	}

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.cfg.SocketPath)
		_ = pidFile.Remove()
	}()

	s.maintenance = newMaintenance(s)
	go s.maintenance.run(ctx)

	slog.Info("daemon_listening", slog.String("socket", s.cfg.SocketPath))

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			done := s.shutdown
			s.mu.Unlock()
			if done {
				break
			}
			slog.Error("accept_error", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	// Drain active connections, bounded by the grace period.
	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(s.cfg.ShutdownGracePeriod):
		slog.Warn("shutdown_grace_exceeded")
	}

	return nil
}

// handleConnection processes one client connection: one request, one
// response stream.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
		slog.Warn("set_deadline_failed", slog.String("error", err.Error()))
	}

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var req Request
	if err := decoder.Decode(&req); err != nil {
		_ = encoder.Encode(NewErrorResponse("", ErrCodeParseError, "failed to parse request"))
		return
	}

	s.handleRequest(ctx, req, conn, encoder)
}

func (s *Server) handleRequest(ctx context.Context, req Request, conn net.Conn, encoder *json.Encoder) {
	switch req.Method {
	case MethodPing:
		_ = encoder.Encode(NewSuccessResponse(req.ID, PingResult{Pong: true}))

	case MethodStats:
		_ = encoder.Encode(NewSuccessResponse(req.ID, s.stats()))

	case MethodQuery:
		_ = encoder.Encode(s.handleQuery(ctx, req))

	case MethodReload:
		_ = encoder.Encode(s.handleReload(req))

	case MethodIndex:
		s.handleIndex(ctx, req, conn, encoder)

	case MethodShutdown:
		_ = encoder.Encode(NewSuccessResponse(req.ID, map[string]bool{"stopping": true}))
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}

	default:
		_ = encoder.Encode(NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method)))
	}
}

func (s *Server) currentHandles() *Handles {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles
}

func (s *Server) handleQuery(ctx context.Context, req Request) Response {
	var params QueryParams
	if err := decodeParams(req.Params, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}

	h := s.currentHandles()
	if h == nil || h.Engine == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no collection loaded")
	}

	s.queryCount.Add(1)
	if s.maintenance != nil {
		s.maintenance.noteActivity()
	}

	results, err := h.Engine.Query(ctx, params.Text, params.Options())
	if err != nil {
		return Response{JSONRPC: "2.0", Error: errorFromCore(ErrCodeQueryFailed, err), ID: req.ID}
	}
	return NewSuccessResponse(req.ID, results)
}

func (s *Server) handleReload(req Request) Response {
	h := s.currentHandles()
	if h == nil || h.Reload == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "reload not supported")
	}

	fresh, err := h.Reload()
	if err != nil {
		return Response{JSONRPC: "2.0", Error: errorFromCore(ErrCodeInternalError, err), ID: req.ID}
	}

	s.mu.Lock()
	old := s.handles
	s.handles = fresh
	s.mu.Unlock()
	old.Close()

	s.reloadCount.Add(1)
	return NewSuccessResponse(req.ID, ReloadResult{Reloaded: true})
}

// handleIndex runs a daemon-side indexing session, streaming progress
// frames as JSON snapshots keyed by the request's correlation id.
func (s *Server) handleIndex(ctx context.Context, req Request, conn net.Conn, encoder *json.Encoder) {
	var params IndexParams
	if err := decodeParams(req.Params, &params); err != nil {
		_ = encoder.Encode(NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error()))
		return
	}

	h := s.currentHandles()
	if h == nil || h.Orchestrator == nil {
		_ = encoder.Encode(NewErrorResponse(req.ID, ErrCodeInternalError, "indexing not supported"))
		return
	}

	// Indexing outlives the per-request read deadline.
	_ = conn.SetDeadline(time.Time{})

	var encMu sync.Mutex
	progress := func(snap pipeline.Snapshot) {
		encMu.Lock()
		defer encMu.Unlock()
		_ = encoder.Encode(NewProgressResponse(req.ID, snap))
	}

	stats, err := h.Orchestrator.Index(ctx, pipeline.Options{
		Branch:   params.Branch,
		SkipHNSW: params.SkipHNSW,
		Progress: progress,
	})

	encMu.Lock()
	defer encMu.Unlock()
	if err != nil {
		_ = encoder.Encode(Response{JSONRPC: "2.0", Error: errorFromCore(ErrCodeIndexFailed, err), ID: req.ID})
		return
	}
	_ = encoder.Encode(NewSuccessResponse(req.ID, stats))
}

func (s *Server) stats() StatsResult {
	result := StatsResult{
		Running:     true,
		PID:         os.Getpid(),
		Uptime:      time.Since(s.started).Round(time.Second).String(),
		QueryCount:  s.queryCount.Load(),
		ReloadCount: s.reloadCount.Load(),
	}

	h := s.currentHandles()
	if h == nil {
		return result
	}
	result.Model = h.Model
	if h.Collection != nil {
		if n, err := h.Collection.Count(); err == nil {
			result.ChunkCount = n
		}
		result.HNSWStale = h.Collection.HNSWStale()
	}
	if h.FTS != nil {
		if n, err := h.FTS.DocCount(); err == nil {
			result.FTSDocs = n
		}
	}
	return result
}

// Close stops the server.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	listener := s.listener
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if listener != nil {
		return listener.Close()
	}
	return nil
}

// decodeParams round-trips loosely-typed params into a concrete type.
func decodeParams(params any, dst any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}
	return nil
}
