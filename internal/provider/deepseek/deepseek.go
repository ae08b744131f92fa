// Package deepseek is the client for the DeepSeek chat completions API.
package deepseek

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

type DeepSeekClient struct {
	apiKey string
	apiURL string
	http   *httpclient.Client
}

type deepseekRequest struct {
	Model       string             `json:"model"`
	Messages    []provider.Message `json:"messages"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens"`
	TopP        *float64           `json:"top_p,omitempty"`
}

type deepseekResponse struct {
	Choices []struct {
		Message      provider.Message `json:"message"`
		FinishReason string           `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		CompletionTokens *int `json:"completion_tokens"`
	} `json:"usage"`
}

func New(apiKey string, hc *httpclient.Client) *DeepSeekClient {
	return &DeepSeekClient{
		apiKey: apiKey,
		apiURL: "https://api.deepseek.com/v1/chat/completions",
		http:   hc,
	}
}

func (c *DeepSeekClient) Name() string {
	return "deepseek"
}

func (c *DeepSeekClient) Generate(ctx context.Context, req provider.Request) provider.Response {
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
		return fail("DeepSeek API key not configured", errcode.APIKeyMissing)
	}

	payload, err := json.Marshal(deepseekRequest{
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
		msg := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(respBody))
		return fail(msg, errcode.FromStatus(resp.StatusCode))
	}

	var dsResp deepseekResponse
	if err := json.NewDecoder(resp.Body).Decode(&dsResp); err != nil {
		return fail(err.Error(), errcode.UnknownError)
	}
	if len(dsResp.Choices) == 0 {
		return fail("deepseek api returned no choices", errcode.UnknownError)
	}

	choice := dsResp.Choices[0]
	text := choice.Message.Content

	switch choice.FinishReason {
	case "content_filter":
		return fail("response blocked by content filter", errcode.ContentFiltered)
	case "length":
		text += provider.TruncationNotice
	}

	tokens := dsResp.Usage.CompletionTokens
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
