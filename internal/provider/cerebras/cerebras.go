// Package cerebras is a minimal client for Cerebras chat completions.
package cerebras

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/juanibianchi/coro/internal/errcode"
	"github.com/juanibianchi/coro/internal/httpclient"
	"github.com/juanibianchi/coro/internal/provider"
)

type CerebrasClient struct {
	apiKey string
	apiURL string
	http   *httpclient.Client
}

type cerebrasRequest struct {
	Model       string             `json:"model"`
	Messages    []provider.Message `json:"messages"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens"`
	TopP        *float64           `json:"top_p,omitempty"`
}

type cerebrasResponse struct {
	Choices []struct {
		Message      provider.Message `json:"message"`
		FinishReason string           `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		CompletionTokens *int `json:"completion_tokens"`
	} `json:"usage"`
}

func New(apiKey string, hc *httpclient.Client) *CerebrasClient {
	return &CerebrasClient{
		apiKey: apiKey,
		apiURL: "https://api.cerebras.ai/v1/chat/completions",
		http:   hc,
	}
}

func (c *CerebrasClient) Name() string {
	return "cerebras"
}

func (c *CerebrasClient) Generate(ctx context.Context, req provider.Request) provider.Response {
	start := time.Now()
	fail := func(msg string, code errcode.Code) provider.Response {
		return provider.Response{
			Model:     req.Model,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     msg,
			ErrorCode: code,
		}
	}

	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = c.apiKey
	}
	if apiKey == "" {
		return fail("Cerebras API key not configured", errcode.APIKeyMissing)
	}

	payload, err := json.Marshal(cerebrasRequest{
		Model:       req.UpstreamModel,
		Messages:    req.MessageList(),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
	})
	if err != nil {
		return fail(err.Error(), errcode.InternalError)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return fail(err.Error(), errcode.InternalError)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fail(err.Error(), errcode.Classify(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		msg := fmt.Sprintf("cerebras api error (status %d): %s", resp.StatusCode, string(respBody))
		return fail(msg, errcode.FromStatus(resp.StatusCode))
	}

	var cbResp cerebrasResponse
	if err := json.NewDecoder(resp.Body).Decode(&cbResp); err != nil {
		return fail(err.Error(), errcode.UnknownError)
	}
	if len(cbResp.Choices) == 0 {
		return fail("cerebras api returned no choices", errcode.UnknownError)
	}

	choice := cbResp.Choices[0]
	text := choice.Message.Content

	switch choice.FinishReason {
	case "content_filter":
		return fail("response blocked by content filter", errcode.ContentFiltered)
	case "length":
		text += provider.TruncationNotice
	}

	tokens := cbResp.Usage.CompletionTokens
	if tokens == nil {
		estimated := provider.EstimateTokens(text)
		tokens = &estimated
	}

	return provider.Response{
		Model:     req.Model,
		Text:      text,
		Tokens:    tokens,
		LatencyMs: time.Since(start).Milliseconds(),
	}
}
