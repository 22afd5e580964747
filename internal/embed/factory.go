package embed

import (
	"os"
	"strings"
)

// APIKeyEnvVar is the environment variable holding the provider API
// key, consulted when Config.APIKey is empty.
const APIKeyEnvVar = "CODEINDEXER_EMBEDDING_API_KEY"

// envDisableCache disables the query-embedding LRU cache wrapper when
// set to a recognized falsy/disabling value.
const envDisableCache = "CODEINDEXER_EMBED_CACHE"

// NewFromConfig builds an Embedder from cfg, falling back to the
// CODEINDEXER_EMBEDDING_API_KEY environment variable when cfg.APIKey is
// unset, and wrapping the result in a bounded LRU cache unless disabled.
func NewFromConfig(cfg Config) (Embedder, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(APIKeyEnvVar)
	}

	client, err := New(cfg)
	if err != nil {
		return nil, err
	}

	var embedder Embedder = client
	if !cacheDisabled() {
		embedder = NewCachedEmbedderWithDefaults(embedder)
	}
	return embedder, nil
}

func cacheDisabled() bool {
	v := strings.ToLower(os.Getenv(envDisableCache))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}
