package embed

import (
	"context"
	"math"
	"time"
)

// Batch bounds. A request is split so it never exceeds these, except
// that a single oversize text is always sent alone rather than dropped.
const (
	DefaultMaxBatchTexts = 256
	// DefaultMaxBatchTokens approximates 8000 tokens at 4 bytes/token,
	// consistent with the chunker's token approximation.
	DefaultMaxBatchTokens = 8000

	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 5
	DefaultBaseDelay  = 1 * time.Second
	DefaultMaxDelay   = 120 * time.Second

	DefaultEmbeddingCacheSize = 1000
)

// Embedder generates vector embeddings for text against one fixed model.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in as few
	// round-trips as batch bounds allow, preserving input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding width, 0 if not yet known.
	Dimensions() int

	// ModelName returns the model identifier in use.
	ModelName() string

	// Available reports whether the provider can currently be reached.
	Available(ctx context.Context) bool

	// Close releases any held resources (idle HTTP connections, etc).
	Close() error
}

// Config configures an HTTP-backed Embedder.
type Config struct {
	Endpoint   string // base URL, e.g. https://api.example.com/v1
	Model      string
	APIKey     string
	Dimensions int // 0 = detect from first response

	Timeout     time.Duration
	MaxRetries  int
	MaxBatch    int
	MaxBatchTok int

	// PoolSize bounds concurrent connections to the provider.
	PoolSize int
}

// WithDefaults returns a copy of cfg with zero-valued fields replaced by
// package defaults.
func (c Config) WithDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = DefaultMaxBatchTexts
	}
	if c.MaxBatchTok <= 0 {
		c.MaxBatchTok = DefaultMaxBatchTokens
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 8
	}
	return c
}

// embedRequest is the generic {texts[],model} provider request body.
type embedRequest struct {
	Model string   `json:"model"`
	Texts []string `json:"texts"`
}

// embedResponse is the generic {data[{embedding[]}]} provider response.
type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// normalizeVector scales v to unit length, returning it unchanged if its
// magnitude is zero.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
