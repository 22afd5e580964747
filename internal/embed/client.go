package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/localci/codeindexer/internal/cerrors"
)

// Client is a generic HTTPS embedding provider implementing Embedder
// against the {texts[],model} -> {data[{embedding[]}]} protocol.
type Client struct {
	httpClient *http.Client
	transport  *http.Transport
	cfg        Config

	mu     sync.RWMutex
	closed bool
	dims   int
}

var _ Embedder = (*Client)(nil)

// New creates a Client. If cfg.Dimensions is 0, Dimensions() returns 0
// until the first successful EmbedBatch call.
func New(cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	if cfg.Endpoint == "" {
		return nil, cerrors.New(cerrors.CodeEmbedInvalidInput, "embedding endpoint is required", nil)
	}
	if cfg.Model == "" {
		return nil, cerrors.New(cerrors.CodeEmbedInvalidInput, "embedding model is required", nil)
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	return &Client{
		httpClient: &http.Client{Transport: transport},
		transport:  transport,
		cfg:        cfg,
		dims:       cfg.Dimensions,
	}, nil
}

// Embed generates an embedding for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	results, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, cerrors.New(cerrors.CodeEmbedInvalidInput, "no embedding returned", nil)
	}
	return results[0], nil
}

// EmbedBatch generates embeddings for texts, splitting into provider
// batches bounded by MaxBatch and MaxBatchTok. A single text exceeding
// MaxBatchTok alone is still sent, never dropped.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, cerrors.New(cerrors.CodeEmbedInvalidInput, "embedder is closed", nil)
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	for _, batch := range c.splitBatches(texts) {
		vecs, err := c.embedWithRetry(ctx, batch.texts)
		if err != nil {
			return nil, err
		}
		for i, v := range vecs {
			results[batch.offset+i] = v
		}
	}
	return results, nil
}

type textBatch struct {
	texts  []string
	offset int
}

// splitBatches groups texts respecting MaxBatch count and an
// approximate MaxBatchTok token budget (byte/4 proxy).
func (c *Client) splitBatches(texts []string) []textBatch {
	var batches []textBatch
	var cur []string
	curTokens := 0
	offset := 0

	flush := func() {
		if len(cur) > 0 {
			batches = append(batches, textBatch{texts: cur, offset: offset - len(cur)})
			cur = nil
			curTokens = 0
		}
	}

	for i, t := range texts {
		tokens := len(t) / 4
		if len(cur) > 0 && (len(cur) >= c.cfg.MaxBatch || curTokens+tokens > c.cfg.MaxBatchTok) {
			flush()
		}
		cur = append(cur, t)
		curTokens += tokens
		offset = i + 1
	}
	flush()
	return batches
}

// embedWithRetry performs one provider request, retrying on retryable
// errors with Retry-After-aware exponential backoff. There is no
// proactive throttling: the first attempt always fires immediately.
func (c *Client) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		vecs, retryAfter, err := c.doEmbed(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err

		ce, ok := err.(*cerrors.CodeError)
		if !ok || !ce.Retryable || attempt >= c.cfg.MaxRetries {
			return nil, err
		}

		delay := nextDelay(attempt, retryAfter, DefaultBaseDelay)
		slog.Debug("embed_retry",
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", c.cfg.MaxRetries),
			slog.Duration("delay", delay),
			slog.String("code", ce.Code))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("embed: exhausted %d attempts: %w", c.cfg.MaxRetries+1, lastErr)
}

// nextDelay computes the wait before the next attempt. A Retry-After
// value is honored verbatim; otherwise base*2^attempt is used. The
// result is always clamped to DefaultMaxDelay, even when retryAfter
// itself would exceed it.
func nextDelay(attempt int, retryAfter *time.Duration, base time.Duration) time.Duration {
	var d time.Duration
	if retryAfter != nil {
		d = *retryAfter
	} else {
		d = base
		for i := 0; i < attempt; i++ {
			d *= 2
		}
	}
	if d > DefaultMaxDelay {
		d = DefaultMaxDelay
	}
	if d < 0 {
		d = 0
	}
	return d
}

// doEmbed performs a single HTTP round trip. It runs the request in a
// goroutine so ctx cancellation (e.g. Ctrl+C) returns promptly instead
// of waiting for the transport to time out.
func (c *Client) doEmbed(ctx context.Context, texts []string) ([][]float32, *time.Duration, error) {
	reqBody := embedRequest{Model: c.cfg.Model, Texts: texts}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, nil, cerrors.New(cerrors.CodeEmbedInvalidInput, "failed to marshal request", err)
	}

	url := strings.TrimRight(c.cfg.Endpoint, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, cerrors.New(cerrors.CodeEmbedInvalidInput, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	type outcome struct {
		vecs       [][]float32
		retryAfter *time.Duration
		err        error
	}
	ch := make(chan outcome, 1)

	go func() {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			ch <- outcome{err: cerrors.New(cerrors.CodeEmbedServiceUnavailable, "request failed", err)}
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			ch <- outcome{err: cerrors.New(cerrors.CodeEmbedAuthFailed, fmt.Sprintf("authentication failed: %d", resp.StatusCode), nil)}
			return
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			ra := parseRetryAfter(resp.Header.Get("Retry-After"))
			ch <- outcome{retryAfter: ra, err: cerrors.New(cerrors.CodeEmbedRateLimited, "rate limited", nil)}
			return
		}
		if resp.StatusCode >= 500 {
			ra := parseRetryAfter(resp.Header.Get("Retry-After"))
			body, _ := io.ReadAll(resp.Body)
			ch <- outcome{retryAfter: ra, err: cerrors.New(cerrors.CodeEmbedServiceUnavailable, fmt.Sprintf("provider error %d: %s", resp.StatusCode, string(body)), nil)}
			return
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			ch <- outcome{err: cerrors.New(cerrors.CodeEmbedInvalidInput, fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body)), nil)}
			return
		}

		var result embedResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			ch <- outcome{err: cerrors.New(cerrors.CodeEmbedInvalidInput, "failed to decode response", err)}
			return
		}
		if result.Error != nil {
			ch <- outcome{err: cerrors.New(cerrors.CodeEmbedInvalidInput, result.Error.Message, nil)}
			return
		}
		if len(result.Data) == 0 {
			ch <- outcome{err: cerrors.New(cerrors.CodeEmbedInvalidInput, "no embeddings returned", nil)}
			return
		}

		vecs := make([][]float32, len(texts))
		for _, d := range result.Data {
			if d.Index < 0 || d.Index >= len(vecs) {
				continue
			}
			vecs[d.Index] = normalizeVector(d.Embedding)
		}
		ch <- outcome{vecs: vecs}
	}()

	select {
	case <-ctx.Done():
		c.transport.CloseIdleConnections()
		return nil, nil, ctx.Err()
	case o := <-ch:
		if o.err == nil && len(o.vecs) > 0 && len(o.vecs[0]) > 0 {
			c.mu.Lock()
			if c.dims == 0 {
				c.dims = len(o.vecs[0])
			}
			c.mu.Unlock()
		}
		return o.vecs, o.retryAfter, o.err
	}
}

// parseRetryAfter parses a Retry-After header, accepting either a
// delta-seconds integer or an HTTP-date. Returns nil if absent or
// unparseable.
func parseRetryAfter(v string) *time.Duration {
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		d := time.Duration(secs) * time.Second
		return &d
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}

// Dimensions returns the embedding width, 0 until the first successful
// call if not configured explicitly.
func (c *Client) Dimensions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dims
}

// ModelName returns the configured model identifier.
func (c *Client) ModelName() string {
	return c.cfg.Model
}

// Available issues a minimal probe embedding to check connectivity.
func (c *Client) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.Embed(ctx, "ping")
	return err == nil
}

// Close releases idle connections. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.transport.CloseIdleConnections()
	return nil
}
