package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/juanibianchi/coro/internal/errcode"
	"github.com/juanibianchi/coro/internal/httpclient"
	"github.com/juanibianchi/coro/internal/provider"
)

func mockClient(t *testing.T, handler http.HandlerFunc) (*GeminiClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	c := New("test-key", httpclient.New(httpclient.Config{
		RetryAttempts:   1,
		RetryMinBackoff: time.Millisecond,
		RetryMaxBackoff: time.Millisecond,
	}))
	c.baseURL = server.URL
	return c, server
}

func baseRequest() provider.Request {
	return provider.Request{
		Model:         "gemini",
		UpstreamModel: "gemini-2.5-flash",
		Prompt:        "hi",
		Temperature:   0.7,
		MaxTokens:     256,
	}
}

func candidateResponse(text, finishReason string, tokens int) geminiResponse {
	var resp geminiResponse
	resp.Candidates = []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	}{{
		Content:      geminiContent{Role: "model", Parts: []geminiPart{{Text: text}}},
		FinishReason: finishReason,
	}}
	resp.UsageMetadata.CandidatesTokenCount = tokens
	return resp
}

func TestGenerate_Success(t *testing.T) {
	var captured geminiRequest
	c, server := mockClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(candidateResponse("Hello from Gemini", "STOP", 12))
	})
	defer server.Close()

	req := baseRequest()
	req.History = []provider.Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "second"},
	}
	req.SystemPrompt = "guidance"

	resp := c.Generate(context.Background(), req)
	if resp.Failed() {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	if resp.Text != "Hello from Gemini" {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.Tokens == nil || *resp.Tokens != 12 {
		t.Errorf("Tokens = %v, want 12", resp.Tokens)
	}

	if captured.SystemInstruction == nil || captured.SystemInstruction.Parts[0].Text != "guidance" {
		t.Error("system instruction not forwarded")
	}
	// Assistant history turns become "model" turns on the wire.
	if len(captured.Contents) != 3 {
		t.Fatalf("got %d contents, want 3", len(captured.Contents))
	}
	if captured.Contents[1].Role != "model" {
		t.Errorf("history assistant role = %s, want model", captured.Contents[1].Role)
	}
	if captured.Contents[2].Parts[0].Text != "hi" {
		t.Errorf("final content = %q, want the prompt", captured.Contents[2].Parts[0].Text)
	}
}

func TestGenerate_SafetyBlock(t *testing.T) {
	c, server := mockClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(candidateResponse("", "SAFETY", 0))
	})
	defer server.Close()

	resp := c.Generate(context.Background(), baseRequest())
	if resp.ErrorCode != errcode.ContentFiltered {
		t.Errorf("ErrorCode = %s, want %s", resp.ErrorCode, errcode.ContentFiltered)
	}
	if resp.Text != "" {
		t.Errorf("Text = %q, want empty", resp.Text)
	}
}

func TestGenerate_MaxTokensAppendsNotice(t *testing.T) {
	c, server := mockClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(candidateResponse("partial", "MAX_TOKENS", 0))
	})
	defer server.Close()

	resp := c.Generate(context.Background(), baseRequest())
	if resp.Failed() {
		t.Fatalf("truncation must not be an error, got %s", resp.Error)
	}
	want := "partial" + provider.TruncationNotice
	if resp.Text != want {
		t.Errorf("Text = %q, want %q", resp.Text, want)
	}
	// No usage reported: len(text)/4 exactly.
	if resp.Tokens == nil || *resp.Tokens != len(want)/4 {
		t.Errorf("Tokens = %v, want %d", resp.Tokens, len(want)/4)
	}
}

func TestGenerate_NoCandidates(t *testing.T) {
	c, server := mockClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(geminiResponse{})
	})
	defer server.Close()

	resp := c.Generate(context.Background(), baseRequest())
	if !resp.Failed() {
		t.Fatal("expected a classified failure")
	}
	if resp.ErrorCode != errcode.UnknownError {
		t.Errorf("ErrorCode = %s, want %s", resp.ErrorCode, errcode.UnknownError)
	}
}

func TestGenerate_AuthStatus(t *testing.T) {
	c, server := mockClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	defer server.Close()

	resp := c.Generate(context.Background(), baseRequest())
	if resp.ErrorCode != errcode.AuthenticationFailed {
		t.Errorf("ErrorCode = %s, want %s", resp.ErrorCode, errcode.AuthenticationFailed)
	}
}
