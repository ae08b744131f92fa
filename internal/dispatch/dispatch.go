// Package dispatch fans one prompt out to every requested model
// concurrently and assembles the aggregate response.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/juanibianchi/coro/internal/errcode"
	"github.com/juanibianchi/coro/internal/provider"
)

// Options carries the per-dispatch generation parameters. History and
// APIKeys are keyed by gateway model ID.
type Options struct {
	Temperature float64
	MaxTokens   int
	TopP        *float64
	History     map[string][]provider.Message
	APIKeys     map[string]string
	Guidance    string
	Findings    []Finding
}

// Aggregate is the ordered result of one fan-out. Responses match the
// requested-model order, not completion order.
type Aggregate struct {
	Responses      []provider.Response `json:"responses"`
	TotalLatencyMs int64               `json:"total_latency_ms"`
}

type Dispatcher struct {
	registry *provider.Registry
	breakers map[string]*gobreaker.CircuitBreaker
	tracer   trace.Tracer
}

func New(registry *provider.Registry, tracer trace.Tracer) *Dispatcher {
	breakers := make(map[string]*gobreaker.CircuitBreaker)
	for _, info := range registry.List() {
		name := info.Provider
		if _, ok := breakers[name]; ok {
			continue
		}
		breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 3,
			Interval:    5 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		})
	}
	return &Dispatcher{
		registry: registry,
		breakers: breakers,
		tracer:   tracer,
	}
}

// Dispatch validates the requested model set, then issues all provider calls
// concurrently. A failure in any single call is contained in its own slot of
// the result; only the model-set precondition can fail the whole dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, models []string, prompt string, opts Options) (*Aggregate, error) {
	if missing := d.registry.Missing(models); len(missing) > 0 {
		return nil, &provider.InvalidModelsError{IDs: missing}
	}

	ctx, span := d.tracer.Start(ctx, "dispatch.fanout")
	defer span.End()
	span.SetAttributes(
		attribute.StringSlice("models", models),
		attribute.Int("fanout", len(models)),
	)

	// Composed once per dispatch, shared by every provider.
	systemPrompt := ComposeSystemPrompt(opts.Guidance, opts.Findings)

	start := time.Now()
	responses := make([]provider.Response, len(models))

	var wg sync.WaitGroup
	for i, modelID := range models {
		wg.Add(1)
		go func(slot int, id string) {
			defer wg.Done()
			responses[slot] = d.callOne(ctx, id, prompt, systemPrompt, opts)
		}(i, modelID)
	}
	wg.Wait()

	total := time.Since(start).Milliseconds()

	succeeded := 0
	for _, r := range responses {
		if !r.Failed() {
			succeeded++
		}
	}
	log.Info().
		Int("requested", len(models)).
		Int("succeeded", succeeded).
		Int("failed", len(models)-succeeded).
		Int64("total_latency_ms", total).
		Msg("fan-out completed")

	return &Aggregate{Responses: responses, TotalLatencyMs: total}, nil
}

// callOne runs a single provider call. It never lets a failure escape: a
// panicking client is converted into a classified response so sibling calls
// are untouched.
func (d *Dispatcher) callOne(ctx context.Context, modelID, prompt, systemPrompt string, opts Options) (resp provider.Response) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("model", modelID).Interface("panic", r).Msg("provider call panicked")
			resp = provider.Response{
				Model:     modelID,
				Error:     fmt.Sprintf("unexpected error: %v", r),
				ErrorCode: errcode.InternalError,
			}
		}
	}()

	client, info, ok := d.registry.Resolve(modelID)
	if !ok {
		// Unreachable after the precondition check, kept as a guard.
		return provider.Response{
			Model:     modelID,
			Error:     fmt.Sprintf("unknown model: %s", modelID),
			ErrorCode: errcode.InvalidModel,
		}
	}

	req := provider.Request{
		Model:         modelID,
		UpstreamModel: info.UpstreamModel,
		Prompt:        prompt,
		History:       opts.History[modelID],
		Temperature:   opts.Temperature,
		MaxTokens:     opts.MaxTokens,
		TopP:          opts.TopP,
		SystemPrompt:  systemPrompt,
		APIKey:        opts.APIKeys[modelID],
	}

	cb := d.breakers[info.Provider]
	result, err := cb.Execute(func() (interface{}, error) {
		r := client.Generate(ctx, req)
		if r.Failed() && r.Transient() {
			return r, fmt.Errorf("%s: %s", r.ErrorCode, r.Error)
		}
		return r, nil
	})
	if result == nil {
		// Breaker open or half-open budget spent: no upstream traffic issued.
		log.Warn().Str("model", modelID).Str("provider", info.Provider).Err(err).
			Msg("provider suspended by circuit breaker")
		return provider.Response{
			Model:     modelID,
			Error:     fmt.Sprintf("provider %s temporarily suspended: %v", info.Provider, err),
			ErrorCode: errcode.ServiceUnavailable,
		}
	}
	return result.(provider.Response)
}
