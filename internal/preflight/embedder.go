package preflight

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/localci/codeindexer/internal/embed"
)

// DefaultProviderProbeTimeout bounds the reachability probe against
// the embedding provider.
const DefaultProviderProbeTimeout = 10 * time.Second

// CheckProviderAPIKey verifies the provider API key environment
// variable is set. Non-critical: some deployments front the provider
// with an authenticating proxy.
func (c *Checker) CheckProviderAPIKey() CheckResult {
	result := CheckResult{
		Name:     "provider_api_key",
		Required: false,
	}

	if os.Getenv(embed.APIKeyEnvVar) == "" {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s not set", embed.APIKeyEnvVar)
		result.Details = "Requests will be sent unauthenticated; most providers reject them"
		return result
	}

	result.Status = StatusPass
	result.Message = "OK"
	return result
}

// CheckProvider probes the embedding provider for reachability. The
// probe is bounded by timeout so a hung provider cannot stall startup.
func (c *Checker) CheckProvider(ctx context.Context, embedder embed.Embedder, timeout time.Duration) CheckResult {
	result := CheckResult{
		Name:     "embedding_provider",
		Required: false,
	}

	if embedder == nil {
		result.Status = StatusWarn
		result.Message = "no embedder configured"
		return result
	}
	if timeout <= 0 {
		timeout = DefaultProviderProbeTimeout
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if !embedder.Available(probeCtx) {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("provider %s unreachable", embedder.ModelName())
		result.Details = "Check the endpoint URL, network connectivity, and API key"
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("provider %s reachable", embedder.ModelName())
	return result
}
