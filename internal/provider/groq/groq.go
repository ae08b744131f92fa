// Package groq serves the Llama family models hosted on Groq.
package groq

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

type GroqClient struct {
	apiKey  string
	baseURL string
	http    *httpclient.Client
}

type chatRequest struct {
	Model       string             `json:"model"`
	Messages    []provider.Message `json:"messages"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens"`
	TopP        *float64           `json:"top_p,omitempty"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Message      provider.Message `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

type chatUsage struct {
	CompletionTokens *int `json:"completion_tokens"`
}

func New(apiKey string, hc *httpclient.Client) *GroqClient {
	return &GroqClient{
		apiKey:  apiKey,
		baseURL: "https://api.groq.com/openai/v1",
		http:    hc,
	}
}

func (c *GroqClient) Name() string {
	return "groq"
}

func (c *GroqClient) Generate(ctx context.Context, req provider.Request) provider.Response {
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
		return fail("Groq API key not configured", errcode.APIKeyMissing)
	}

	body, err := json.Marshal(chatRequest{
		Model:       req.UpstreamModel,
		Messages:    req.MessageList(),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
	})
	if err != nil {
		return fail(err.Error(), errcode.InternalError)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
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
		msg := fmt.Sprintf("groq api error (status %d): %s", resp.StatusCode, string(respBody))
		return fail(msg, errcode.FromStatus(resp.StatusCode))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return fail(err.Error(), errcode.UnknownError)
	}
	if len(chatResp.Choices) == 0 {
		return fail("groq api returned no choices", errcode.UnknownError)
	}

	choice := chatResp.Choices[0]
	text := choice.Message.Content

	switch choice.FinishReason {
	case "content_filter":
		// A hard content block never returns partial text.
		return fail("response blocked by content filter", errcode.ContentFiltered)
	case "length":
		text += provider.TruncationNotice
	}

	tokens := chatResp.Usage.CompletionTokens
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
