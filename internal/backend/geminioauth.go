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
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaycore/gateway/internal/apierror"
	"github.com/relaycore/gateway/internal/backend/credstore"
	"github.com/relaycore/gateway/internal/provider"
)

// codeAssistEndpoint is the Code Assist API's base URL — not the public
// Gemini API endpoint. Grounded on gemini_oauth_personal.py's
// CODE_ASSIST_ENDPOINT: this connector bypasses the public API-key surface
// entirely and speaks the same private endpoint the Gemini CLI uses.
const codeAssistEndpoint = "https://cloudcode-pa.googleapis.com/v1internal"

// defaultProjectPlaceholder is the "default" sentinel project id sent to
// :loadCodeAssist before the real (possibly managed) project id is known.
const defaultProjectPlaceholder = "default"

// GeminiOAuthPersonalConnector authenticates with the OAuth access token
// from `~/.gemini/oauth_creds.json` (the Gemini CLI's own credential
// file) instead of an API key, and calls the Code Assist API directly.
// Grounded on gemini_oauth_personal.py's GeminiOAuthPersonalConnector.
type GeminiOAuthPersonalConnector struct {
	creds   *credstore.Store
	client  *http.Client
	log     *zap.Logger
	baseURL string

	projectMu sync.Mutex
	projectID string
}

// NewGeminiOAuthPersonalConnector builds a connector backed by creds (see
// credstore.Open for loading ~/.gemini/oauth_creds.json).
func NewGeminiOAuthPersonalConnector(creds *credstore.Store, client *http.Client, log *zap.Logger) *GeminiOAuthPersonalConnector {
	if log == nil {
		log = zap.NewNop()
	}
	return &GeminiOAuthPersonalConnector{creds: creds, client: client, log: log, baseURL: codeAssistEndpoint}
}

func (g *GeminiOAuthPersonalConnector) Name() string { return "gemini-cli-oauth-personal" }

func (g *GeminiOAuthPersonalConnector) Capabilities() Capabilities {
	return Capabilities{SupportsOAuth: true, SupportsStreaming: true}
}

// Initialize discovers (or onboards into) the Code Assist project this
// connector will bill requests against. It is idempotent — once
// projectID is discovered it's cached for the connector's lifetime,
// matching the original's self._project_id cache.
func (g *GeminiOAuthPersonalConnector) Initialize(ctx context.Context) error {
	_, err := g.discoverProjectID(ctx)
	return err
}

func (g *GeminiOAuthPersonalConnector) ListModels(ctx context.Context) ([]string, error) {
	return []string{"gemini-2.0-flash-001", "gemini-1.5-flash-002"}, nil
}

// --- tier discovery / onboarding ---------------------------------------

type loadCodeAssistRequest struct {
	CloudaicompanionProject string             `json:"cloudaicompanionProject"`
	Metadata                codeAssistMetadata `json:"metadata"`
}

type codeAssistMetadata struct {
	IdeType     string `json:"ideType"`
	Platform    string `json:"platform"`
	PluginType  string `json:"pluginType"`
	DuetProject string `json:"duetProject,omitempty"`
}

type loadCodeAssistResponse struct {
	CloudaicompanionProject string           `json:"cloudaicompanionProject"`
	AllowedTiers            []codeAssistTier `json:"allowedTiers"`
}

type codeAssistTier struct {
	ID                                 string `json:"id"`
	IsDefault                          bool   `json:"isDefault"`
	UserDefinedCloudaicompanionProject bool   `json:"userDefinedCloudaicompanionProject"`
}

// onboardUserRequest omits CloudaicompanionProject entirely for the
// free-tier path (the zero-value string would still serialize as
// `"cloudaicompanionProject":""` without omitempty, and the Code Assist
// API treats even a present-but-empty field as a precondition failure —
// see gemini_oauth_personal.py's "DO NOT include... AT ALL" note).
type onboardUserRequest struct {
	TierID                  string             `json:"tierId"`
	CloudaicompanionProject string             `json:"cloudaicompanionProject,omitempty"`
	Metadata                codeAssistMetadata `json:"metadata"`
}

type onboardUserResponse struct {
	Done     bool                   `json:"done"`
	Response onboardUserResultField `json:"response"`
}

type onboardUserResultField struct {
	CloudaicompanionProject codeAssistProjectRef `json:"cloudaicompanionProject"`
}

type codeAssistProjectRef struct {
	ID string `json:"id"`
}

// discoverProjectID implements the tier-selection logic spec.md's Open
// Question #1 resolves: always prefer free-tier over standard-tier when
// the default tier requires a user-defined GCP project the caller hasn't
// configured, and never include cloudaicompanionProject at all when
// onboarding into free-tier.
func (g *GeminiOAuthPersonalConnector) discoverProjectID(ctx context.Context) (string, error) {
	g.projectMu.Lock()
	defer g.projectMu.Unlock()

	if g.projectID != "" {
		return g.projectID, nil
	}

	token, err := g.bearerToken(ctx)
	if err != nil {
		return "", err
	}

	metadata := codeAssistMetadata{IdeType: "IDE_UNSPECIFIED", Platform: "PLATFORM_UNSPECIFIED", PluginType: "GEMINI", DuetProject: defaultProjectPlaceholder}
	loadReq := loadCodeAssistRequest{CloudaicompanionProject: defaultProjectPlaceholder, Metadata: metadata}

	var loadResp loadCodeAssistResponse
	if err := g.codeAssistCall(ctx, token, "loadCodeAssist", loadReq, &loadResp); err != nil {
		return "", err
	}

	if loadResp.CloudaicompanionProject != "" {
		g.projectID = loadResp.CloudaicompanionProject
		return g.projectID, nil
	}

	var defaultTier *codeAssistTier
	for i := range loadResp.AllowedTiers {
		if loadResp.AllowedTiers[i].IsDefault {
			defaultTier = &loadResp.AllowedTiers[i]
			break
		}
	}

	// Always fall back to free-tier rather than standard-tier: the
	// latter requires a user-defined GCP project this connector never
	// asks the caller to configure. This is the literal KiloCode/gemini-cli
	// behavior, not an oversight — see SPEC_FULL.md Open Question #1.
	tierID := "free-tier"
	if defaultTier != nil && !defaultTier.UserDefinedCloudaicompanionProject {
		tierID = defaultTier.ID
	}

	var onboardReq onboardUserRequest
	if tierID == "free-tier" {
		onboardReq = onboardUserRequest{
			TierID:   tierID,
			Metadata: codeAssistMetadata{IdeType: "IDE_UNSPECIFIED", Platform: "PLATFORM_UNSPECIFIED", PluginType: "GEMINI"},
		}
	} else {
		onboardReq = onboardUserRequest{
			TierID:                  tierID,
			CloudaicompanionProject: defaultProjectPlaceholder,
			Metadata:                metadata,
		}
	}

	var onboardResp onboardUserResponse
	for attempt := 0; attempt < 30; attempt++ {
		if err := g.codeAssistCall(ctx, token, "onboardUser", onboardReq, &onboardResp); err != nil {
			return "", err
		}
		if onboardResp.Done {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}

	if !onboardResp.Done {
		return "", apierror.Backend("gemini-cli-oauth-personal", 0, "onboarding timeout - operation did not complete", nil)
	}

	projectID := onboardResp.Response.CloudaicompanionProject.ID
	if projectID == "" {
		projectID = defaultProjectPlaceholder
	}
	g.projectID = projectID
	return g.projectID, nil
}

func (g *GeminiOAuthPersonalConnector) bearerToken(ctx context.Context) (string, error) {
	creds, err := g.creds.Get(ctx)
	if err != nil {
		return "", apierror.Authentication("loading gemini oauth credentials", err)
	}
	return creds.AccessToken, nil
}

func (g *GeminiOAuthPersonalConnector) codeAssistCall(ctx context.Context, token, method string, reqBody, respBody any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", method, err)
	}

	url := fmt.Sprintf("%s:%s", g.baseURL, method)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return apierror.Backend("gemini-cli-oauth-personal", 0, err.Error(), err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("reading %s response: %w", method, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return mapHTTPError("gemini-cli-oauth-personal", httpResp.StatusCode, httpResp.Header, string(data))
	}

	if err := json.Unmarshal(data, respBody); err != nil {
		return apierror.Parsing(fmt.Sprintf("decoding %s response", method), err)
	}
	return nil
}

// --- chat completions ---------------------------------------------------

type codeAssistChatRequest struct {
	Model   string        `json:"model"`
	Project string        `json:"project"`
	Request geminiRequest `json:"request"`
}

func (g *GeminiOAuthPersonalConnector) ChatCompletions(ctx context.Context, req *provider.ChatRequest) (*ResponseEnvelope, error) {
	projectID, err := g.discoverProjectID(ctx)
	if err != nil {
		return nil, err
	}
	token, err := g.bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	wrapped := codeAssistChatRequest{Model: req.Model, Project: projectID, Request: *toGeminiRequest(req)}

	var geminiResp geminiResponse
	if err := g.codeAssistCall(ctx, token, "generateContent", wrapped, &geminiResp); err != nil {
		return nil, err
	}

	if len(geminiResp.Candidates) == 0 || len(geminiResp.Candidates[0].Content.Parts) == 0 {
		return nil, apierror.Backend("gemini-cli-oauth-personal", 0, "code assist returned no candidates", nil)
	}

	env := &ResponseEnvelope{
		Content:    geminiResp.Candidates[0].Content.Parts[0].Text,
		StatusCode: http.StatusOK,
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

func (g *GeminiOAuthPersonalConnector) ChatCompletionsStream(ctx context.Context, req *provider.ChatRequest) (*StreamingResponseEnvelope, error) {
	projectID, err := g.discoverProjectID(ctx)
	if err != nil {
		return nil, err
	}
	token, err := g.bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	wrapped := codeAssistChatRequest{Model: req.Model, Project: projectID, Request: *toGeminiRequest(req)}
	body, err := json.Marshal(wrapped)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s:streamGenerateContent?alt=sse", g.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, apierror.Backend("gemini-cli-oauth-personal", 0, err.Error(), err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		data, _ := io.ReadAll(httpResp.Body)
		return nil, mapHTTPError("gemini-cli-oauth-personal", httpResp.StatusCode, httpResp.Header, string(data))
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
				ch <- provider.StreamChunk{Done: true, Error: apierror.Parsing("decoding code assist stream event", err)}
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
			case ch <- provider.StreamChunk{Done: true, Error: apierror.Backend("gemini-cli-oauth-personal", 0, err.Error(), err)}:
			case <-ctx.Done():
			}
		}
	}()

	return &StreamingResponseEnvelope{Chunks: ch, MediaType: "text/event-stream"}, nil
}
