// Package tokenizer provides token counting helpers for LLM requests and responses.
package tokenizer

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/draftline/qaforge/pkg/types"
)

var (
	encodingCache sync.Map
	defaultOnce   sync.Once
	defaultEnc    *tiktoken.Tiktoken
)

// CountTextTokens returns the token count for the given text using tiktoken.
// If no encoding is available, it falls back to a conservative len/4 estimate.
func CountTextTokens(model, text string) int {
	if text == "" {
		return 0
	}
	enc := getEncoding(model)
	if enc == nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// EstimatePromptTokens estimates prompt tokens for a completion request.
func EstimatePromptTokens(model string, req *types.CompletionRequest) int {
	if req == nil {
		return 0
	}
	// Small reply primer overhead used by common chat formats.
	return CountTextTokens(model, req.Prompt) + 3
}

// EstimateCompletionTokens estimates the output token ceiling for a request.
// When MaxTokens is unset a modest default is assumed for cost estimation.
func EstimateCompletionTokens(req *types.CompletionRequest) int {
	if req != nil && req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return 512
}

func getEncoding(model string) *tiktoken.Tiktoken {
	if model != "" {
		if cached, ok := encodingCache.Load(model); ok {
			if enc, ok := cached.(*tiktoken.Tiktoken); ok {
				return enc
			}
		}
		if enc, err := tiktoken.EncodingForModel(normalizeModel(model)); err == nil {
			encodingCache.Store(model, enc)
			return enc
		}
	}

	defaultOnce.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			defaultEnc = enc
		}
	})
	return defaultEnc
}

// normalizeModel strips deployment-specific suffixes so tiktoken can resolve
// the base model family.
func normalizeModel(model string) string {
	if idx := strings.Index(model, "@"); idx > 0 {
		return model[:idx]
	}
	return model
}
