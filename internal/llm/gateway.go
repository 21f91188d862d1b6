// Package llm implements the LLM Gateway: a single complete/complete_stream/
// complete_json entry point that selects between a local (Ollama-compatible
// HTTP) endpoint and a cloud (OpenAI-compatible) endpoint as a pure function
// of the requested model, behind a shared rate budget, retry policy, and
// per-endpoint circuit breaker.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kestrel-run/deskagent/internal/config"
	"github.com/kestrel-run/deskagent/internal/conversation"
	"github.com/kestrel-run/deskagent/internal/infra"
	"github.com/kestrel-run/deskagent/internal/logging"
	"github.com/kestrel-run/deskagent/internal/retry"
)

const (
	endpointLocal = "local"
	endpointCloud = "cloud"
)

// Options configures one completion call.
type Options struct {
	// Model selects the endpoint: it must equal either the local or the
	// cloud provider's configured DefaultModel.
	Model string
	// MaxTokens bounds the response length; 0 leaves it to the endpoint's
	// own default.
	MaxTokens int
	// Fallback, if non-empty, is returned instead of ErrCircuitOpen when
	// the selected endpoint's circuit is open.
	Fallback string
}

// ProviderConfig is one endpoint's connection details.
type ProviderConfig struct {
	APIKey       string
	DefaultModel string
	BaseURL      string
}

// Config is the Gateway's wiring: exactly one local and one cloud
// endpoint, a request cap, and a retry policy.
type Config struct {
	Local  ProviderConfig
	Cloud  ProviderConfig
	RatePerMinute int
	Retry  retry.Policy
}

// Gateway is the process-wide LLM access point.
type Gateway struct {
	cfg      Config
	budget   *RateBudget
	circuits *infra.EndpointBreakerRegistry
	sink     logging.Sink

	httpClient *http.Client
	openaiClient *openai.Client
}

// New builds a Gateway from cfg. sink receives one API_CALL record per
// attempt (including retries).
func New(cfg Config, sink logging.Sink) *Gateway {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.Exponential(5, 500*time.Millisecond, 10*time.Second)
	}

	var client *openai.Client
	if cfg.Cloud.APIKey != "" {
		if cfg.Cloud.BaseURL != "" {
			oaiCfg := openai.DefaultConfig(cfg.Cloud.APIKey)
			oaiCfg.BaseURL = cfg.Cloud.BaseURL
			client = openai.NewClientWithConfig(oaiCfg)
		} else {
			client = openai.NewClient(cfg.Cloud.APIKey)
		}
	}

	return &Gateway{
		cfg:      cfg,
		budget:   NewRateBudget(cfg.RatePerMinute),
		circuits: infra.NewEndpointBreakerRegistry(infra.EndpointBreakerConfig{FailureThreshold: 5, Timeout: 10 * time.Second}),
		sink:     sink,
		httpClient:   &http.Client{Timeout: 2 * time.Minute},
		openaiClient: client,
	}
}

// NewFromAppConfig builds a Gateway from the application's LLM
// configuration, reading the "local" and "cloud" provider entries.
func NewFromAppConfig(appCfg config.LLMConfig, ratePerMinute int, sink logging.Sink) *Gateway {
	toProvider := func(id string) ProviderConfig {
		p := appCfg.Providers[id]
		return ProviderConfig{APIKey: p.APIKey, DefaultModel: p.DefaultModel, BaseURL: p.BaseURL}
	}
	return New(Config{
		Local:         toProvider(endpointLocal),
		Cloud:         toProvider(endpointCloud),
		RatePerMinute: ratePerMinute,
	}, sink)
}

// selectEndpoint resolves opts.Model to "local" or "cloud" as a pure
// function of the configured DefaultModel values.
func (g *Gateway) selectEndpoint(model string) (string, error) {
	switch model {
	case g.cfg.Local.DefaultModel:
		return endpointLocal, nil
	case g.cfg.Cloud.DefaultModel:
		return endpointCloud, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrNoProvider, model)
	}
}

// Complete sends messages to the endpoint selected by opts.Model and
// returns the assistant's text.
func (g *Gateway) Complete(ctx context.Context, messages []conversation.Message, opts Options) (string, error) {
	endpoint, err := g.selectEndpoint(opts.Model)
	if err != nil {
		return "", err
	}

	if err := g.budget.Wait(ctx); err != nil {
		return "", ErrCancelled
	}

	cb := g.circuits.Get(endpoint)
	result, err := infra.ExecuteWithResult(cb, ctx, func(ctx context.Context) (string, error) {
		return g.dispatch(ctx, endpoint, messages, opts)
	})
	if errors.Is(err, infra.ErrEndpointUnavailable) {
		g.logEndpoint(endpoint, "circuit open")
		if opts.Fallback != "" {
			return opts.Fallback, nil
		}
		return "", ErrCircuitOpen
	}
	return result, err
}

// CompleteJSON calls Complete, then extracts a JSON value from the raw
// text via ExtractJSON's fallback chain.
func (g *Gateway) CompleteJSON(ctx context.Context, messages []conversation.Message, opts Options) (any, error) {
	text, err := g.Complete(ctx, messages, opts)
	if err != nil {
		return nil, err
	}
	return ExtractJSON(text)
}

// dispatch retries the single completion attempt per g.cfg.Retry, routing
// to the endpoint's transport.
func (g *Gateway) dispatch(ctx context.Context, endpoint string, messages []conversation.Message, opts Options) (string, error) {
	var text string
	result := retry.Do(ctx, g.cfg.Retry, func() error {
		var callErr error
		switch endpoint {
		case endpointLocal:
			text, callErr = g.callLocal(ctx, messages, opts)
		case endpointCloud:
			text, callErr = g.callCloud(ctx, messages, opts)
		}
		g.logEndpoint(endpoint, "attempt")
		if callErr != nil && !isTransient(callErr) {
			return retry.Permanent(callErr)
		}
		return callErr
	})
	return text, result.Err
}

func (g *Gateway) logEndpoint(endpoint, note string) {
	if g.sink == nil {
		return
	}
	g.sink.Emit(logging.Record{
		Level:     logging.LevelInfo,
		Heading:   "API_CALL " + endpoint,
		Body:      note,
		Timestamp: time.Now(),
	})
}

// httpStatusError carries an HTTP status code so isTransient can classify
// local-endpoint failures the same way it classifies go-openai's
// *openai.APIError.
type httpStatusError struct {
	status int
	err    error
}

func (e *httpStatusError) Error() string { return e.err.Error() }
func (e *httpStatusError) Unwrap() error { return e.err }

// isTransient reports whether err represents a timeout, 5xx, 429, or
// transport failure, per the retry contract. 4xx (other than 429) and
// schema violations are not retried.
func isTransient(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode >= 500 || apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.status >= 500 || statusErr.status == http.StatusTooManyRequests
	}

	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errTransport)
}

var errTransport = errors.New("llm: transport error")
