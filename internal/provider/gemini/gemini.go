// Package gemini is the client for the Google Gemini generateContent API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/juanibianchi/coro/internal/errcode"
	"github.com/juanibianchi/coro/internal/httpclient"
	"github.com/juanibianchi/coro/internal/provider"
)

type GeminiClient struct {
	apiKey  string
	baseURL string
	http    *httpclient.Client
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenConfig `json:"generationConfig"`
	SafetySettings    []geminiSafety  `json:"safetySettings"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature     float64  `json:"temperature"`
	MaxOutputTokens int      `json:"maxOutputTokens"`
	TopP            *float64 `json:"topP,omitempty"`
}

type geminiSafety struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// Safety thresholds are relaxed; content-policy decisions belong to the
// caller-facing classification, not silent upstream drops.
var safetySettings = []geminiSafety{
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_NONE"},
}

func New(apiKey string, hc *httpclient.Client) *GeminiClient {
	return &GeminiClient{
		apiKey:  apiKey,
		baseURL: "https://generativelanguage.googleapis.com/v1beta",
		http:    hc,
	}
}

func (c *GeminiClient) Name() string {
	return "gemini"
}

func (c *GeminiClient) Generate(ctx context.Context, req provider.Request) provider.Response {
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
		return fail("Gemini API key not configured", errcode.APIKeyMissing)
	}

	payload, err := json.Marshal(c.mapRequest(req))
	if err != nil {
		return fail(err.Error(), errcode.InternalError)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, req.UpstreamModel)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return fail(err.Error(), errcode.InternalError)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fail(err.Error(), errcode.Classify(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		msg := fmt.Sprintf("gemini api error (status %d): %s", resp.StatusCode, string(respBody))
		return fail(msg, errcode.FromStatus(resp.StatusCode))
	}

	var gemResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gemResp); err != nil {
		return fail(err.Error(), errcode.UnknownError)
	}
	if len(gemResp.Candidates) == 0 {
		return fail("no response candidates returned", errcode.UnknownError)
	}

	candidate := gemResp.Candidates[0]
	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		sb.WriteString(part.Text)
	}
	text := sb.String()

	if text == "" {
		switch candidate.FinishReason {
		case "SAFETY":
			return fail("response blocked by Gemini safety filters", errcode.ContentFiltered)
		case "RECITATION":
			return fail("response blocked due to potential copyright content", errcode.ContentFiltered)
		default:
			return fail(fmt.Sprintf("no content generated, reason: %s", candidate.FinishReason), errcode.UnknownError)
		}
	}

	// Truncation at the token ceiling is an incomplete success, not an error.
	if candidate.FinishReason == "MAX_TOKENS" {
		text += provider.TruncationNotice
	}

	tokens := gemResp.UsageMetadata.CandidatesTokenCount
	if tokens == 0 {
		tokens = provider.EstimateTokens(text)
	}

	return provider.Response{
		Model:     req.Model,
		Text:      text,
		Tokens:    &tokens,
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

func (c *GeminiClient) mapRequest(req provider.Request) geminiRequest {
	var contents []geminiContent
	for _, m := range req.History {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}
	contents = append(contents, geminiContent{
		Role:  "user",
		Parts: []geminiPart{{Text: req.Prompt}},
	})

	gemReq := geminiRequest{
		Contents: contents,
		GenerationConfig: geminiGenConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
			TopP:            req.TopP,
		},
		SafetySettings: safetySettings,
	}
	if req.SystemPrompt != "" {
		gemReq.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: req.SystemPrompt}},
		}
	}
	return gemReq
}
