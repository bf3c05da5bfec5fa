// Package openai provides an OpenAI-compatible provider adapter.
// It serves as the reference implementation for other provider adapters.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/draftline/qaforge/internal/httputil"
	"github.com/draftline/qaforge/pkg/errors"
	"github.com/draftline/qaforge/pkg/provider"
	"github.com/draftline/qaforge/pkg/types"
)

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "openai"

	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"
)

// Provider implements the OpenAI chat completions adapter.
type Provider struct {
	apiKey     string
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
}

var _ provider.Provider = (*Provider)(nil)

// New creates a new OpenAI provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL: DefaultBaseURL,
		headers: make(map[string]string),
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return ProviderName
}

// chatRequest is the OpenAI chat completions request payload.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the OpenAI chat completions response payload.
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete executes one completion request against the OpenAI API.
func (p *Provider) Complete(ctx context.Context, req *types.CompletionRequest) (*types.Completion, error) {
	payload := chatRequest{
		Model:       req.Model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimSuffix(p.baseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewTimeoutError(ProviderName, req.Model, err.Error())
		}
		return nil, errors.NewServiceUnavailableError(ProviderName, req.Model, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxResponseBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, p.mapError(resp.StatusCode, req.Model, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, errors.NewInternalError(ProviderName, req.Model, "response has no choices")
	}

	return &types.Completion{
		ID:           chatResp.ID,
		Model:        chatResp.Model,
		Text:         chatResp.Choices[0].Message.Content,
		FinishReason: mapFinishReason(chatResp.Choices[0].FinishReason),
		Usage: types.Usage{
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:      chatResp.Usage.TotalTokens,
		},
	}, nil
}

// mapError converts an OpenAI error response into the error taxonomy.
func (p *Provider) mapError(statusCode int, model string, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	message := "unknown error"
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	switch statusCode {
	case http.StatusTooManyRequests:
		return errors.NewRateLimitError(ProviderName, model, message)
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		if errResp.Error.Type == "content_policy_violation" || errResp.Error.Code == "content_filter" {
			return errors.NewContentPolicyError(ProviderName, model, message)
		}
		return errors.NewInvalidRequestError(ProviderName, model, message)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return errors.NewTimeoutError(ProviderName, model, message)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusInternalServerError:
		return errors.NewServiceUnavailableError(ProviderName, model, message)
	default:
		return errors.NewInternalError(ProviderName, model, message)
	}
}

func mapFinishReason(reason string) types.FinishReason {
	switch reason {
	case "length":
		return types.FinishLength
	case "content_filter":
		return types.FinishContentFilter
	default:
		return types.FinishStop
	}
}
