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

// GoogleConnector is the Connector adaptation of provider.GoogleProvider:
// same Gemini generateContent/streamGenerateContent translation, but
// returning the Connector contract's ResponseEnvelope/StreamingResponseEnvelope
// and apierror-mapped failures instead of provider.ChatResponse and bare
// fmt.Errorf strings. Grounded on internal/provider/google.go.
type GoogleConnector struct {
	apiKey  string
	baseURL string
	client  *http.Client
	models  []string
}

// NewGoogleConnector builds a GoogleConnector. models is the static list
// ListModels reports; the public Gemini API has no "list models I can
// actually bill to" endpoint worth calling per request, so the caller
// configures it once at startup (mirrors the teacher's config-driven
// model-to-provider registry in cmd/llmrouter/main.go).
func NewGoogleConnector(apiKey, baseURL string, client *http.Client, models []string) *GoogleConnector {
	return &GoogleConnector{apiKey: apiKey, baseURL: baseURL, client: client, models: models}
}

func (g *GoogleConnector) Name() string { return "google" }

func (g *GoogleConnector) Capabilities() Capabilities {
	return Capabilities{SupportsOAuth: false, SupportsStreaming: true}
}

func (g *GoogleConnector) Initialize(ctx context.Context) error {
	if g.apiKey == "" {
		return fmt.Errorf("google connector: no API key configured")
	}
	return nil
}

func (g *GoogleConnector) ListModels(ctx context.Context) ([]string, error) {
	return g.models, nil
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

func toGeminiRequest(req *provider.ChatRequest) *geminiRequest {
	gr := &geminiRequest{}

	for _, msg := range req.Messages {
		if msg.Role == "system" {
			if gr.SystemInstruction == nil {
				gr.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: msg.Content}}}
			} else {
				gr.SystemInstruction.Parts = append(gr.SystemInstruction.Parts, geminiPart{Text: msg.Content})
			}
			continue
		}

		role := msg.Role
		if role == "assistant" {
			role = "model"
		}

		gr.Contents = append(gr.Contents, geminiContent{Role: role, Parts: []geminiPart{{Text: msg.Content}}})
	}

	if req.MaxTokens > 0 {
		gr.GenerationConfig = &geminiGenerationConfig{MaxOutputTokens: req.MaxTokens}
	}

	return gr
}

func (g *GoogleConnector) ChatCompletions(ctx context.Context, req *provider.ChatRequest) (*ResponseEnvelope, error) {
	body, err := json.Marshal(toGeminiRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, req.Model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, apierror.Backend("google", 0, err.Error(), err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading gemini response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, mapHTTPError("google", httpResp.StatusCode, httpResp.Header, string(respBody))
	}

	var geminiResp geminiResponse
	if err := json.Unmarshal(respBody, &geminiResp); err != nil {
		return nil, apierror.Parsing("decoding gemini response", err)
	}

	if len(geminiResp.Candidates) == 0 || len(geminiResp.Candidates[0].Content.Parts) == 0 {
		return nil, apierror.Backend("google", httpResp.StatusCode, "gemini returned no candidates", nil)
	}

	candidate := geminiResp.Candidates[0]
	env := &ResponseEnvelope{
		Content:    candidate.Content.Parts[0].Text,
		Headers:    httpResp.Header,
		StatusCode: httpResp.StatusCode,
		Model:      req.Model,
	}

	if geminiResp.UsageMetadata != nil {
		env.Usage = provider.Usage{
			PromptTokens:     geminiResp.UsageMetadata.PromptTokenCount,
			CompletionTokens: geminiResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      geminiResp.UsageMetadata.TotalTokenCount,
		}
	}

	return env, nil
}

func (g *GoogleConnector) ChatCompletionsStream(ctx context.Context, req *provider.ChatRequest) (*StreamingResponseEnvelope, error) {
	body, err := json.Marshal(toGeminiRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", g.baseURL, req.Model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, apierror.Backend("google", 0, err.Error(), err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, mapHTTPError("google", httpResp.StatusCode, httpResp.Header, string(respBody))
	}

	ch := make(chan provider.StreamChunk)

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		scanner := bufio.NewScanner(httpResp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			jsonData := strings.TrimPrefix(line, "data: ")

			var geminiResp geminiResponse
			if err := json.Unmarshal([]byte(jsonData), &geminiResp); err != nil {
				ch <- provider.StreamChunk{Done: true, Error: apierror.Parsing("decoding gemini stream event", err)}
				return
			}

			if len(geminiResp.Candidates) == 0 {
				continue
			}
			candidate := geminiResp.Candidates[0]

			var delta string
			if len(candidate.Content.Parts) > 0 {
				delta = candidate.Content.Parts[0].Text
			}

			chunk := provider.StreamChunk{Model: req.Model, Delta: delta}

			if candidate.FinishReason != "" {
				chunk.Done = true
				if geminiResp.UsageMetadata != nil {
					chunk.Usage = &provider.Usage{
						PromptTokens:     geminiResp.UsageMetadata.PromptTokenCount,
						CompletionTokens: geminiResp.UsageMetadata.CandidatesTokenCount,
						TotalTokens:      geminiResp.UsageMetadata.TotalTokenCount,
					}
				}
			}

			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			select {
			case ch <- provider.StreamChunk{Done: true, Error: apierror.Backend("google", 0, err.Error(), err)}:
			case <-ctx.Done():
			}
		}
	}()

	return &StreamingResponseEnvelope{Chunks: ch, MediaType: "text/event-stream", Headers: httpResp.Header}, nil
}
