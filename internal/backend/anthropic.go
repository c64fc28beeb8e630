package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/relaycore/gateway/internal/apierror"
	"github.com/relaycore/gateway/internal/provider"
)

// anthropicAPIVersion pins the Anthropic API behavior, same header the
// teacher's provider.AnthropicProvider sends on every request.
const anthropicAPIVersion = "2023-06-01"

const defaultMaxTokens = 1024

// AnthropicConnector is the Connector adaptation of
// provider.AnthropicProvider. Grounded on internal/provider/anthropic.go.
type AnthropicConnector struct {
	apiKey  string
	baseURL string
	client  *http.Client
	models  []string
}

func NewAnthropicConnector(apiKey, baseURL string, client *http.Client, models []string) *AnthropicConnector {
	return &AnthropicConnector{apiKey: apiKey, baseURL: baseURL, client: client, models: models}
}

func (a *AnthropicConnector) Name() string { return "anthropic" }

func (a *AnthropicConnector) Capabilities() Capabilities {
	return Capabilities{SupportsOAuth: false, SupportsStreaming: true}
}

func (a *AnthropicConnector) Initialize(ctx context.Context) error {
	if a.apiKey == "" {
		return fmt.Errorf("anthropic connector: no API key configured")
	}
	return nil
}

func (a *AnthropicConnector) ListModels(ctx context.Context) ([]string, error) {
	return a.models, nil
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Stream    bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicStreamEvent struct {
	Type    string                 `json:"type"`
	Message *anthropicEventMessage `json:"message,omitempty"`
	Delta   *anthropicEventDelta   `json:"delta,omitempty"`
	Usage   *anthropicUsage        `json:"usage,omitempty"`
}

type anthropicEventMessage struct {
	ID    string         `json:"id"`
	Model string         `json:"model"`
	Usage anthropicUsage `json:"usage"`
}

type anthropicEventDelta struct {
	Type       string `json:"type,omitempty"`
	Text       string `json:"text,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

func toAnthropicRequest(req *provider.ChatRequest) *anthropicRequest {
	ar := &anthropicRequest{Model: req.Model}

	var systemParts []string
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			systemParts = append(systemParts, msg.Content)
			continue
		}
		ar.Messages = append(ar.Messages, anthropicMessage{Role: msg.Role, Content: msg.Content})
	}

	if len(systemParts) > 0 {
		ar.System = strings.Join(systemParts, "\n")
	}

	if req.MaxTokens > 0 {
		ar.MaxTokens = req.MaxTokens
	} else {
		ar.MaxTokens = defaultMaxTokens
	}

	return ar
}

func (a *AnthropicConnector) ChatCompletions(ctx context.Context, req *provider.ChatRequest) (*ResponseEnvelope, error) {
	body, err := json.Marshal(toAnthropicRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/messages", a.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, apierror.Backend("anthropic", 0, err.Error(), err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading anthropic response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, mapHTTPError("anthropic", httpResp.StatusCode, httpResp.Header, string(respBody))
	}

	var anthropicResp anthropicResponse
	if err := json.Unmarshal(respBody, &anthropicResp); err != nil {
		return nil, apierror.Parsing("decoding anthropic response", err)
	}

	var text string
	for _, block := range anthropicResp.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	return &ResponseEnvelope{
		Content:    text,
		Headers:    httpResp.Header,
		StatusCode: httpResp.StatusCode,
		Model:      anthropicResp.Model,
		ID:         anthropicResp.ID,
		Usage: provider.Usage{
			PromptTokens:     anthropicResp.Usage.InputTokens,
			CompletionTokens: anthropicResp.Usage.OutputTokens,
			TotalTokens:      anthropicResp.Usage.InputTokens + anthropicResp.Usage.OutputTokens,
		},
	}, nil
}

func (a *AnthropicConnector) ChatCompletionsStream(ctx context.Context, req *provider.ChatRequest) (*StreamingResponseEnvelope, error) {
	ar := toAnthropicRequest(req)
	ar.Stream = true

	body, err := json.Marshal(ar)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/messages", a.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, apierror.Backend("anthropic", 0, err.Error(), err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, mapHTTPError("anthropic", httpResp.StatusCode, httpResp.Header, string(respBody))
	}

	ch := make(chan provider.StreamChunk)

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		var (
			respID       string
			model        string
			inputTokens  int
			outputTokens int
		)

		scanner := bufio.NewScanner(httpResp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			jsonData := strings.TrimPrefix(line, "data: ")

			var event anthropicStreamEvent
			if err := json.Unmarshal([]byte(jsonData), &event); err != nil {
				ch <- provider.StreamChunk{Done: true, Error: apierror.Parsing("decoding anthropic stream event", err)}
				return
			}

			switch event.Type {
			case "message_start":
				if event.Message != nil {
					respID = event.Message.ID
					model = event.Message.Model
					inputTokens = event.Message.Usage.InputTokens
				}
			case "content_block_delta":
				if event.Delta == nil {
					continue
				}
				select {
				case ch <- provider.StreamChunk{ID: respID, Model: model, Delta: event.Delta.Text}:
				case <-ctx.Done():
					return
				}
			case "message_delta":
				if event.Usage != nil {
					outputTokens = event.Usage.OutputTokens
				}
			case "message_stop":
				chunk := provider.StreamChunk{
					ID:    respID,
					Model: model,
					Done:  true,
					Usage: &provider.Usage{
						PromptTokens:     inputTokens,
						CompletionTokens: outputTokens,
						TotalTokens:      inputTokens + outputTokens,
					},
				}
				select {
				case ch <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			select {
			case ch <- provider.StreamChunk{Done: true, Error: apierror.Backend("anthropic", 0, err.Error(), err)}:
			case <-ctx.Done():
			}
		}
	}()

	return &StreamingResponseEnvelope{Chunks: ch, MediaType: "text/event-stream", Headers: httpResp.Header}, nil
}
