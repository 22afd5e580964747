package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/localci/codeindexer/internal/cerrors"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, Config) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, Config{Endpoint: srv.URL, Model: "test-model"}
}

func TestClient_EmbedBatch_Success(t *testing.T) {
	_, cfg := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "test-model", req.Model)

		resp := embedResponse{}
		for i := range req.Texts {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: []float32{1, 2, 3}, Index: i})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	c, err := New(cfg)
	require.NoError(t, err)
	defer c.Close()

	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	require.Len(t, vecs[0], 3)
}

func TestClient_Embed_AuthFailedIsFatal(t *testing.T) {
	_, cfg := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	c, err := New(cfg)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Embed(context.Background(), "hello")
	require.Error(t, err)
	ce, ok := err.(*cerrors.CodeError)
	require.True(t, ok)
	require.Equal(t, cerrors.CodeEmbedAuthFailed, ce.Code)
	require.False(t, ce.Retryable)
}

func TestClient_Embed_RetriesOnRateLimitThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	_, cfg := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		resp := embedResponse{Data: []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}{{Embedding: []float32{1, 0}, Index: 0}}}
		_ = json.NewEncoder(w).Encode(resp)
	})

	c, err := New(cfg)
	require.NoError(t, err)
	defer c.Close()

	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	require.NotEmpty(t, vec)
	require.Equal(t, int64(2), calls.Load())
}

func TestClient_Embed_ServiceUnavailableExhaustsRetries(t *testing.T) {
	var calls atomic.Int64
	_, cfg := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	cfg.MaxRetries = 2

	c, err := New(cfg)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Embed(context.Background(), "hello")
	require.Error(t, err)
	require.Equal(t, int64(3), calls.Load()) // initial + 2 retries
}

func TestNextDelay_HonorsRetryAfterVerbatim(t *testing.T) {
	ra := 5 * time.Second
	d := nextDelay(3, &ra, time.Second)
	require.Equal(t, ra, d)
}

func TestNextDelay_ExponentialWithoutRetryAfter(t *testing.T) {
	d0 := nextDelay(0, nil, time.Second)
	d1 := nextDelay(1, nil, time.Second)
	d2 := nextDelay(2, nil, time.Second)
	require.Equal(t, time.Second, d0)
	require.Equal(t, 2*time.Second, d1)
	require.Equal(t, 4*time.Second, d2)
}

func TestNextDelay_CappedAt120Seconds(t *testing.T) {
	d := nextDelay(20, nil, time.Second)
	require.Equal(t, DefaultMaxDelay, d)

	huge := 10 * time.Minute
	d = nextDelay(0, &huge, time.Second)
	require.Equal(t, DefaultMaxDelay, d)
}

func TestParseRetryAfter_Seconds(t *testing.T) {
	d := parseRetryAfter(strconv.Itoa(30))
	require.NotNil(t, d)
	require.Equal(t, 30*time.Second, *d)
}

func TestParseRetryAfter_Empty(t *testing.T) {
	require.Nil(t, parseRetryAfter(""))
}

func TestClient_SplitBatches_RespectsMaxBatchCount(t *testing.T) {
	c := &Client{cfg: Config{MaxBatch: 2, MaxBatchTok: 1000}}
	batches := c.splitBatches([]string{"a", "b", "c"})
	require.Len(t, batches, 2)
	require.Len(t, batches[0].texts, 2)
	require.Len(t, batches[1].texts, 1)
	require.Equal(t, 2, batches[1].offset)
}

func TestClient_SplitBatches_OversizeTextSentAlone(t *testing.T) {
	c := &Client{cfg: Config{MaxBatch: 10, MaxBatchTok: 4}}
	big := make([]byte, 100)
	batches := c.splitBatches([]string{string(big)})
	require.Len(t, batches, 1)
	require.Len(t, batches[0].texts, 1)
}

func TestClient_New_RequiresEndpointAndModel(t *testing.T) {
	_, err := New(Config{Model: "m"})
	require.Error(t, err)

	_, err = New(Config{Endpoint: "http://x"})
	require.Error(t, err)
}
