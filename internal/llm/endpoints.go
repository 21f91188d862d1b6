package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kestrel-run/deskagent/internal/conversation"
)

// toChatMessages converts the conversation's append-only message log to
// the OpenAI-compatible wire shape shared by both endpoints.
func toChatMessages(messages []conversation.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return out
}

// callCloud sends a non-streaming chat completion to the OpenAI-compatible
// cloud endpoint.
func (g *Gateway) callCloud(ctx context.Context, messages []conversation.Message, opts Options) (string, error) {
	if g.openaiClient == nil {
		return "", fmt.Errorf("llm: cloud endpoint not configured")
	}

	req := openai.ChatCompletionRequest{
		Model:    opts.Model,
		Messages: toChatMessages(messages),
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}

	resp, err := g.openaiClient.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: cloud endpoint returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// callLocal sends a non-streaming chat request to the local
// Ollama-compatible HTTP endpoint.
func (g *Gateway) callLocal(ctx context.Context, messages []conversation.Message, opts Options) (string, error) {
	baseURL := strings.TrimRight(g.cfg.Local.BaseURL, "/")
	if baseURL == "" {
		return "", fmt.Errorf("llm: local endpoint not configured")
	}

	payload := localChatRequest{
		Model:    opts.Model,
		Stream:   false,
		Messages: toLocalMessages(messages),
	}
	if opts.MaxTokens > 0 {
		payload.Options = map[string]any{"num_predict": opts.MaxTokens}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("llm: marshal local request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("llm: read local response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return "", &httpStatusError{status: resp.StatusCode, err: fmt.Errorf("llm: local endpoint status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))}
	}

	var decoded localChatResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("llm: decode local response: %w", err)
	}
	if decoded.Error != "" {
		return "", fmt.Errorf("llm: local endpoint error: %s", decoded.Error)
	}
	if decoded.Message == nil {
		return "", fmt.Errorf("llm: local endpoint returned no message")
	}
	return decoded.Message.Content, nil
}

type localChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
}

type localChatRequest struct {
	Model    string             `json:"model"`
	Messages []localChatMessage `json:"messages"`
	Stream   bool               `json:"stream"`
	Options  map[string]any     `json:"options,omitempty"`
}

type localChatResponse struct {
	Message *localChatMessage `json:"message"`
	Done    bool              `json:"done"`
	Error   string            `json:"error"`
}

func toLocalMessages(messages []conversation.Message) []localChatMessage {
	out := make([]localChatMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, localChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}
