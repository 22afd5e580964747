package daemon

import (
	"errors"
	"fmt"

	"github.com/localci/codeindexer/internal/cerrors"
	"github.com/localci/codeindexer/internal/pipeline"
	"github.com/localci/codeindexer/internal/query"
)

// RPC method names.
const (
	MethodPing     = "ping"
	MethodQuery    = "query"
	MethodStats    = "stats"
	MethodReload   = "reload"
	MethodShutdown = "shutdown"
	MethodIndex    = "index"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Daemon-specific error codes.
const (
	ErrCodeQueryFailed  = -32001
	ErrCodeIndexFailed  = -32002
	ErrCodeShuttingDown = -32003
)

// Request is a JSON-RPC 2.0 request. ID carries the correlation id.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

// Response is a JSON-RPC 2.0 response frame. Long-running methods
// stream zero or more frames with Progress set before the final frame
// carrying Result or Error; Progress frames hold a serialized snapshot
// only, never a handle into daemon state.
type Response struct {
	JSONRPC  string             `json:"jsonrpc"`
	Result   any                `json:"result,omitempty"`
	Error    *Error             `json:"error,omitempty"`
	Progress *pipeline.Snapshot `json:"progress,omitempty"`
	ID       string             `json:"id"`
}

// Error is a structured RPC error: JSON-RPC code plus the core error
// taxonomy's kind and remediation hint.
type Error struct {
	Code        int    `json:"code"`
	Message     string `json:"message"`
	Kind        string `json:"kind,omitempty"`
	Remediation string `json:"remediation,omitempty"`
}

// NewSuccessResponse creates a final success frame.
func NewSuccessResponse(id string, result any) Response {
	return Response{JSONRPC: "2.0", Result: result, ID: id}
}

// NewErrorResponse creates a final error frame.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	}
}

// NewProgressResponse creates an intermediate progress frame.
func NewProgressResponse(id string, snap pipeline.Snapshot) Response {
	return Response{JSONRPC: "2.0", Progress: &snap, ID: id}
}

// errorFromCore translates a core error into a structured RPC error,
// preserving its category and remediation hint.
func errorFromCore(code int, err error) *Error {
	e := &Error{Code: code, Message: err.Error()}
	var ce *cerrors.CodeError
	if errors.As(err, &ce) {
		e.Kind = string(ce.Category)
		e.Remediation = ce.Suggestion
	}
	return e
}

// QueryParams are the parameters for the query method; they mirror the
// query engine's option surface.
type QueryParams struct {
	Text string `json:"text"`

	Mode     string  `json:"mode,omitempty"`
	Limit    int     `json:"limit,omitempty"`
	MinScore float64 `json:"min_score,omitempty"`

	Language        string   `json:"language,omitempty"`
	ExcludeLanguage string   `json:"exclude_language,omitempty"`
	PathFilters     []string `json:"path_filters,omitempty"`
	ExcludePaths    []string `json:"exclude_paths,omitempty"`

	Accuracy string `json:"accuracy,omitempty"`

	CaseSensitive bool `json:"case_sensitive,omitempty"`
	Fuzzy         bool `json:"fuzzy,omitempty"`
	EditDistance  int  `json:"edit_distance,omitempty"`
	Regex         bool `json:"regex,omitempty"`
	SnippetLines  int  `json:"snippet_lines,omitempty"`

	CheckStaleness bool `json:"check_staleness,omitempty"`
}

// Validate checks required fields.
func (p *QueryParams) Validate() error {
	if p.Text == "" {
		return fmt.Errorf("text is required")
	}
	return nil
}

// Options converts wire params to engine options.
func (p *QueryParams) Options() query.Options {
	return query.Options{
		Mode:            query.SearchMode(p.Mode),
		Limit:           p.Limit,
		MinScore:        p.MinScore,
		Language:        p.Language,
		ExcludeLanguage: p.ExcludeLanguage,
		PathFilters:     p.PathFilters,
		ExcludePaths:    p.ExcludePaths,
		Accuracy:        query.Accuracy(p.Accuracy),
		CaseSensitive:   p.CaseSensitive,
		Fuzzy:           p.Fuzzy,
		EditDistance:    p.EditDistance,
		Regex:           p.Regex,
		SnippetLines:    p.SnippetLines,
		CheckStaleness:  p.CheckStaleness,
	}
}

// IndexParams are the parameters for the index method.
type IndexParams struct {
	Branch   string `json:"branch,omitempty"`
	SkipHNSW bool   `json:"skip_hnsw,omitempty"`
}

// StatsResult is the stats method's payload.
type StatsResult struct {
	Running     bool   `json:"running"`
	PID         int    `json:"pid"`
	Uptime      string `json:"uptime"`
	ChunkCount  int    `json:"chunk_count"`
	FTSDocs     uint64 `json:"fts_docs"`
	HNSWStale   bool   `json:"hnsw_stale"`
	Model       string `json:"model"`
	QueryCount  uint64 `json:"query_count"`
	ReloadCount uint64 `json:"reload_count"`
}

// PingResult is the ping method's payload.
type PingResult struct {
	Pong bool `json:"pong"`
}

// ReloadResult is the reload method's payload.
type ReloadResult struct {
	Reloaded bool `json:"reloaded"`
}
