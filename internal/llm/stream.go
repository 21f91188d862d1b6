package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kestrel-run/deskagent/internal/conversation"
)

func newLocalRequest(ctx context.Context, baseURL string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// Chunk is one piece of a streamed completion.
type Chunk struct {
	Text  string
	Done  bool
	Error error
}

// CompleteStream selects the endpoint exactly as Complete does, then
// streams chunks on the returned channel. The channel is closed after a
// Done or Error chunk. Rate budget, retry, and circuit breaker protection
// apply to connection establishment only; once streaming begins, failures
// surface as a terminal Error chunk rather than a retry.
func (g *Gateway) CompleteStream(ctx context.Context, messages []conversation.Message, opts Options) (<-chan Chunk, error) {
	endpoint, err := g.selectEndpoint(opts.Model)
	if err != nil {
		return nil, err
	}
	if err := g.budget.Wait(ctx); err != nil {
		return nil, ErrCancelled
	}

	cb := g.circuits.Get(endpoint)
	if err := cb.Execute(ctx, func(context.Context) error { return nil }); err != nil {
		if opts.Fallback != "" {
			out := make(chan Chunk, 1)
			out <- Chunk{Text: opts.Fallback, Done: true}
			close(out)
			return out, nil
		}
		return nil, ErrCircuitOpen
	}

	switch endpoint {
	case endpointCloud:
		return g.streamCloud(ctx, messages, opts)
	default:
		return g.streamLocal(ctx, messages, opts)
	}
}

func (g *Gateway) streamCloud(ctx context.Context, messages []conversation.Message, opts Options) (<-chan Chunk, error) {
	if g.openaiClient == nil {
		return nil, fmt.Errorf("llm: cloud endpoint not configured")
	}

	req := openai.ChatCompletionRequest{
		Model:    opts.Model,
		Messages: toChatMessages(messages),
		Stream:   true,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}

	stream, err := g.openaiClient.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					out <- Chunk{Done: true}
					return
				}
				out <- Chunk{Error: err, Done: true}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if text := resp.Choices[0].Delta.Content; text != "" {
				out <- Chunk{Text: text}
			}
		}
	}()
	return out, nil
}

func (g *Gateway) streamLocal(ctx context.Context, messages []conversation.Message, opts Options) (<-chan Chunk, error) {
	baseURL := strings.TrimRight(g.cfg.Local.BaseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("llm: local endpoint not configured")
	}

	payload := localChatRequest{
		Model:    opts.Model,
		Stream:   true,
		Messages: toLocalMessages(messages),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal local request: %w", err)
	}

	httpReq, err := newLocalRequest(ctx, baseURL, body)
	if err != nil {
		return nil, err
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errTransport, err)
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var decoded localChatResponse
			if err := json.Unmarshal([]byte(line), &decoded); err != nil {
				out <- Chunk{Error: fmt.Errorf("llm: decode stream line: %w", err), Done: true}
				return
			}
			if decoded.Error != "" {
				out <- Chunk{Error: fmt.Errorf("llm: local endpoint error: %s", decoded.Error), Done: true}
				return
			}
			if decoded.Message != nil && decoded.Message.Content != "" {
				out <- Chunk{Text: decoded.Message.Content}
			}
			if decoded.Done {
				out <- Chunk{Done: true}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			out <- Chunk{Error: err, Done: true}
		}
	}()
	return out, nil
}
