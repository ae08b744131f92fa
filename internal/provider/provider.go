package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/juanibianchi/coro/internal/errcode"
)

// TruncationNotice is appended to responses cut off at the output-token
// ceiling. Existing clients match on this exact string.
const TruncationNotice = "\n\n[Note: Response truncated due to token limit]"

type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Request is the normalized input every provider client accepts. Treat it as
// an immutable value; History is oldest-first and its order is preserved.
type Request struct {
	Model         string // gateway model ID, echoed back in the response
	UpstreamModel string // provider-specific model name
	Prompt        string
	History       []Message
	Temperature   float64
	MaxTokens     int
	TopP          *float64
	SystemPrompt  string
	APIKey        string // per-call credential override
}

// Response is the normalized outcome of one provider call. LatencyMs is
// always populated, success or failure, so latency monitoring never loses
// data points. Error alone distinguishes a failed call from an empty answer.
type Response struct {
	Model     string       `json:"model"`
	Text      string       `json:"response"`
	Tokens    *int         `json:"tokens,omitempty"`
	LatencyMs int64        `json:"latency_ms"`
	Error     string       `json:"error,omitempty"`
	ErrorCode errcode.Code `json:"error_code,omitempty"`
}

// Failed reports whether the call produced an error rather than an answer.
func (r Response) Failed() bool {
	return r.Error != ""
}

// Transient reports whether the failure should count against a provider's
// circuit breaker.
func (r Response) Transient() bool {
	switch r.ErrorCode {
	case errcode.ModelOverloaded, errcode.ModelUnavailable, errcode.ServiceUnavailable,
		errcode.Timeout, errcode.NetworkError, errcode.ConnectionError:
		return true
	}
	return false
}

// MessageList returns the ordered wire messages: optional system prompt
// first, history in original order, then the prompt as the final user
// message.
func (r Request) MessageList() []Message {
	msgs := make([]Message, 0, len(r.History)+2)
	if r.SystemPrompt != "" {
		msgs = append(msgs, Message{Role: "system", Content: r.SystemPrompt})
	}
	msgs = append(msgs, r.History...)
	msgs = append(msgs, Message{Role: "user", Content: r.Prompt})
	return msgs
}

// Client is the capability every upstream implements. Generate never returns
// an error: all failures are caught and classified into the Response.
type Client interface {
	Generate(ctx context.Context, req Request) Response
	Name() string
}

// EstimateTokens approximates a token count for upstreams that do not report
// usage (1 token ≈ 4 characters). The integer division is load-bearing for
// client compatibility.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// ModelInfo describes one registry entry.
type ModelInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	Cost          string `json:"cost"`
	UpstreamModel string `json:"-"`
}

type registryEntry struct {
	info   ModelInfo
	client Client
}

// Registry maps gateway model IDs to their provider clients. It is built
// once at startup and read-only afterwards.
type Registry struct {
	entries map[string]registryEntry
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

func (r *Registry) Register(info ModelInfo, client Client) {
	if _, dup := r.entries[info.ID]; !dup {
		r.order = append(r.order, info.ID)
	}
	r.entries[info.ID] = registryEntry{info: info, client: client}
}

// Resolve returns the client and metadata for a model ID.
func (r *Registry) Resolve(id string) (Client, ModelInfo, bool) {
	e, ok := r.entries[id]
	return e.client, e.info, ok
}

// List returns all registered models in registration order.
func (r *Registry) List() []ModelInfo {
	infos := make([]ModelInfo, 0, len(r.order))
	for _, id := range r.order {
		infos = append(infos, r.entries[id].info)
	}
	return infos
}

// Missing returns the subset of ids not present in the registry, preserving
// the caller's order.
func (r *Registry) Missing(ids []string) []string {
	var missing []string
	for _, id := range ids {
		if _, ok := r.entries[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// InvalidModelsError rejects a dispatch before any upstream traffic when the
// requested set contains unknown model IDs.
type InvalidModelsError struct {
	IDs []string
}

func (e *InvalidModelsError) Error() string {
	return fmt.Sprintf("invalid model IDs: %s", strings.Join(e.IDs, ", "))
}
