package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// DefaultKeyGenerator implements KeyGenerator using SHA-256 hashing.
// Keys are stable across process restarts.
type DefaultKeyGenerator struct {
	// Prefix is prepended to all generated keys.
	Prefix string
}

// NewKeyGenerator creates a new DefaultKeyGenerator with optional prefix.
func NewKeyGenerator(prefix string) *DefaultKeyGenerator {
	return &DefaultKeyGenerator{Prefix: prefix}
}

// Generate creates a SHA-256 hash key from the request parameters.
// The key format is: [prefix:]namespace:sha256(params)
func (g *DefaultKeyGenerator) Generate(params KeyParams) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("model:%s", params.Model))
	sb.WriteString(fmt.Sprintf("|prompt:%s", params.Prompt))

	if params.Temperature != nil {
		sb.WriteString(fmt.Sprintf("|temp:%.2f", *params.Temperature))
	}
	if params.MaxTokens > 0 {
		sb.WriteString(fmt.Sprintf("|max_tokens:%d", params.MaxTokens))
	}
	if params.TopP != nil {
		sb.WriteString(fmt.Sprintf("|top_p:%.2f", *params.TopP))
	}

	hash := sha256.Sum256([]byte(sb.String()))
	hashHex := hex.EncodeToString(hash[:])

	var key strings.Builder
	if g.Prefix != "" {
		key.WriteString(g.Prefix)
		key.WriteString(":")
	}
	if params.Namespace != "" {
		key.WriteString(params.Namespace)
		key.WriteString(":")
	}
	key.WriteString(hashHex)

	return key.String()
}

// GenerateFromRaw creates a cache key from raw string content.
// Used for context-cache prefix fingerprints.
func (g *DefaultKeyGenerator) GenerateFromRaw(namespace, content string) string {
	hash := sha256.Sum256([]byte(content))
	hashHex := hex.EncodeToString(hash[:])

	var key strings.Builder
	if g.Prefix != "" {
		key.WriteString(g.Prefix)
		key.WriteString(":")
	}
	if namespace != "" {
		key.WriteString(namespace)
		key.WriteString(":")
	}
	key.WriteString(hashHex)

	return key.String()
}
