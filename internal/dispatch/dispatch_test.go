package dispatch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/juanibianchi/coro/internal/errcode"
	"github.com/juanibianchi/coro/internal/provider"
)

type stubClient struct {
	name    string
	delay   time.Duration
	text    string
	errCode errcode.Code
	panics  bool
	calls   int32
	lastReq provider.Request
}

func (s *stubClient) Name() string { return s.name }

func (s *stubClient) Generate(ctx context.Context, req provider.Request) provider.Response {
	atomic.AddInt32(&s.calls, 1)
	s.lastReq = req
	if s.panics {
		panic("stub exploded")
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.errCode != "" {
		return provider.Response{
			Model:     req.Model,
			LatencyMs: s.delay.Milliseconds(),
			Error:     "stub failure",
			ErrorCode: s.errCode,
		}
	}
	return provider.Response{
		Model:     req.Model,
		Text:      s.text,
		LatencyMs: s.delay.Milliseconds(),
	}
}

func newDispatcher(clients map[string]*stubClient) *Dispatcher {
	registry := provider.NewRegistry()
	for id, c := range clients {
		registry.Register(provider.ModelInfo{
			ID:            id,
			Name:          id,
			Provider:      "stub-" + id,
			UpstreamModel: id + "-upstream",
		}, c)
	}
	return New(registry, noop.NewTracerProvider().Tracer("test"))
}

func TestDispatch_OrderAndCardinality(t *testing.T) {
	clients := map[string]*stubClient{
		"alpha": {name: "alpha", text: "a", delay: 20 * time.Millisecond},
		"beta":  {name: "beta", text: "b"},
		"gamma": {name: "gamma", text: "c", delay: 5 * time.Millisecond},
	}
	d := newDispatcher(clients)

	requested := []string{"gamma", "alpha", "beta"}
	agg, err := d.Dispatch(context.Background(), requested, "hello", Options{MaxTokens: 100})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(agg.Responses) != 3 {
		t.Fatalf("got %d responses, want 3", len(agg.Responses))
	}
	for i, id := range requested {
		if agg.Responses[i].Model != id {
			t.Errorf("response[%d].Model = %s, want %s (request order)", i, agg.Responses[i].Model, id)
		}
		if agg.Responses[i].LatencyMs < 0 {
			t.Errorf("response[%d] latency negative", i)
		}
	}
}

func TestDispatch_FanOutIsConcurrent(t *testing.T) {
	clients := map[string]*stubClient{
		"one": {name: "one", text: "x", delay: 100 * time.Millisecond},
		"two": {name: "two", text: "y", delay: 100 * time.Millisecond},
	}
	d := newDispatcher(clients)

	agg, err := d.Dispatch(context.Background(), []string{"one", "two"}, "p", Options{})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	var maxIndividual int64
	for _, r := range agg.Responses {
		if r.LatencyMs > maxIndividual {
			maxIndividual = r.LatencyMs
		}
	}
	if agg.TotalLatencyMs < maxIndividual {
		t.Errorf("total %dms < max individual %dms", agg.TotalLatencyMs, maxIndividual)
	}
	// Sequential execution would take ~200ms.
	if agg.TotalLatencyMs >= 180 {
		t.Errorf("total %dms suggests sequential execution", agg.TotalLatencyMs)
	}
}

func TestDispatch_FailureIsolation(t *testing.T) {
	clients := map[string]*stubClient{
		"bad-provider":  {name: "bad", panics: true},
		"good-provider": {name: "good", text: "still fine"},
	}
	d := newDispatcher(clients)

	agg, err := d.Dispatch(context.Background(), []string{"bad-provider", "good-provider"}, "p", Options{})
	if err != nil {
		t.Fatalf("a provider failure must never fail the dispatch: %v", err)
	}

	bad, good := agg.Responses[0], agg.Responses[1]
	if bad.ErrorCode != errcode.InternalError {
		t.Errorf("bad.ErrorCode = %s, want %s", bad.ErrorCode, errcode.InternalError)
	}
	if good.Failed() || good.Text != "still fine" {
		t.Errorf("sibling call corrupted: %+v", good)
	}
}

func TestDispatch_InvalidModelRejectsAtomically(t *testing.T) {
	clients := map[string]*stubClient{
		"known": {name: "known", text: "ok"},
	}
	d := newDispatcher(clients)

	_, err := d.Dispatch(context.Background(), []string{"known", "unknown-model"}, "p", Options{})
	ime, ok := err.(*provider.InvalidModelsError)
	if !ok {
		t.Fatalf("err = %v, want *InvalidModelsError", err)
	}
	if len(ime.IDs) != 1 || ime.IDs[0] != "unknown-model" {
		t.Errorf("offending IDs = %v, want [unknown-model]", ime.IDs)
	}
	if atomic.LoadInt32(&clients["known"].calls) != 0 {
		t.Error("upstream traffic issued despite precondition failure")
	}
}

func TestDispatch_SharedSystemPromptAndPerModelContext(t *testing.T) {
	clients := map[string]*stubClient{
		"m1": {name: "m1", text: "a"},
		"m2": {name: "m2", text: "b"},
	}
	d := newDispatcher(clients)

	topP := 0.9
	opts := Options{
		Temperature: 0.3,
		MaxTokens:   64,
		TopP:        &topP,
		Guidance:    "answer in French",
		History: map[string][]provider.Message{
			"m1": {{Role: "user", Content: "bonjour"}},
		},
		APIKeys: map[string]string{"m2": "override"},
	}
	_, err := d.Dispatch(context.Background(), []string{"m1", "m2"}, "p", opts)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	r1, r2 := clients["m1"].lastReq, clients["m2"].lastReq
	if r1.SystemPrompt == "" || r1.SystemPrompt != r2.SystemPrompt {
		t.Error("system prompt must be composed once and shared")
	}
	if len(r1.History) != 1 || len(r2.History) != 0 {
		t.Error("history must be sliced per model")
	}
	if r1.APIKey != "" || r2.APIKey != "override" {
		t.Error("credential override must be per model")
	}
	if r1.UpstreamModel != "m1-upstream" {
		t.Errorf("UpstreamModel = %s", r1.UpstreamModel)
	}
}

func TestDispatch_CircuitBreakerSuspendsProvider(t *testing.T) {
	failing := &stubClient{name: "flaky", errCode: errcode.ServiceUnavailable}
	d := newDispatcher(map[string]*stubClient{"flaky": failing})

	for i := 0; i < 3; i++ {
		if _, err := d.Dispatch(context.Background(), []string{"flaky"}, "p", Options{}); err != nil {
			t.Fatalf("Dispatch failed: %v", err)
		}
	}
	calls := atomic.LoadInt32(&failing.calls)

	agg, err := d.Dispatch(context.Background(), []string{"flaky"}, "p", Options{})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if agg.Responses[0].ErrorCode != errcode.ServiceUnavailable {
		t.Errorf("ErrorCode = %s, want %s", agg.Responses[0].ErrorCode, errcode.ServiceUnavailable)
	}
	if atomic.LoadInt32(&failing.calls) != calls {
		t.Error("open breaker must not issue upstream traffic")
	}
}
