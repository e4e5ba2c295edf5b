package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GeminiOptions configures the Gemini adapter.
type GeminiOptions struct {
	APIKeys      []string
	TextModel    string
	ImageModel   string
	BaseURL      string
	ProxyBaseURL string
	MaxTokens    int
	Temperature  float64
}

// GeminiAdapter handles communication with the Google Gemini generateContent
// API. It serves both text and image generation and is the only adapter that
// honors the cost-control proxy route, swapping the vendor base URL for the
// proxy's when the route decision selects it.
type GeminiAdapter struct {
	credentials  []Credential
	secrets      map[string]string
	textModel    string
	imageModel   string
	baseURL      string
	proxyBaseURL string
	maxTokens    int
	temperature  float64
	httpClient   *http.Client
}

// NewGeminiAdapter creates a GeminiAdapter with one credential per API key.
// Credential ids are positional labels; the raw key never appears in them.
func NewGeminiAdapter(opts GeminiOptions) (*GeminiAdapter, error) {
	if len(opts.APIKeys) == 0 {
		return nil, fmt.Errorf("at least one Gemini API key is required")
	}

	a := &GeminiAdapter{
		textModel:    opts.TextModel,
		imageModel:   opts.ImageModel,
		baseURL:      opts.BaseURL,
		proxyBaseURL: opts.ProxyBaseURL,
		maxTokens:    opts.MaxTokens,
		temperature:  opts.Temperature,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	if a.maxTokens <= 0 {
		a.maxTokens = 1000
	}
	if a.temperature == 0 {
		a.temperature = 0.7
	}
	a.secrets = make(map[string]string, len(opts.APIKeys))
	for i, key := range opts.APIKeys {
		id := fmt.Sprintf("gemini-%d", i+1)
		a.credentials = append(a.credentials, Credential{ID: id, Secret: key})
		a.secrets[id] = key
	}
	return a, nil
}

// Name returns the provider name used in logs, metrics and health snapshots
func (a *GeminiAdapter) Name() string { return "gemini" }

// Supports reports the capabilities this adapter can serve
func (a *GeminiAdapter) Supports(c Capability) bool {
	return c == CapabilityText || c == CapabilityImage
}

// CredentialIDs returns the credential ids in declaration order
func (a *GeminiAdapter) CredentialIDs() []string {
	ids := make([]string, len(a.credentials))
	for i, c := range a.credentials {
		ids[i] = c.ID
	}
	return ids
}

// geminiRequest mirrors the generateContent request body
type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	Temperature        float64  `json:"temperature"`
	MaxOutputTokens    int      `json:"maxOutputTokens"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

// geminiResponse mirrors the subset of the generateContent response we read
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Generate performs exactly one generateContent call with the given credential
func (a *GeminiAdapter) Generate(ctx context.Context, credentialID string, req *GenerationRequest) (*GenerationResult, error) {
	if !a.Supports(req.Capability) {
		return nil, unsupportedCapability(a.Name(), credentialID, req.Capability)
	}
	if err := req.Validate(); err != nil {
		return nil, &GenerationError{
			Kind:       FailureInvalidRequest,
			Provider:   a.Name(),
			Credential: credentialID,
			Message:    err.Error(),
		}
	}
	secret, ok := a.secrets[credentialID]
	if !ok {
		return nil, &GenerationError{
			Kind:       FailureInvalidRequest,
			Provider:   a.Name(),
			Credential: credentialID,
			Message:    fmt.Sprintf("unknown credential %q", credentialID),
		}
	}

	model := a.textModel
	if req.Capability == CapabilityImage {
		model = a.imageModel
	}
	if gerr := checkModel(a.Name(), credentialID, req.Model, model); gerr != nil {
		return nil, gerr
	}

	maxTokens := a.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	temperature := a.temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}

	parts := []geminiPart{{Text: req.Prompt}}
	if len(req.ReferenceImage) > 0 {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: req.ReferenceMime,
			Data:     base64.StdEncoding.EncodeToString(req.ReferenceImage),
		}})
	}

	body := geminiRequest{
		Contents: []geminiContent{{Parts: parts}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     temperature,
			MaxOutputTokens: maxTokens,
		},
	}
	if req.Capability == CapabilityImage {
		body.GenerationConfig.ResponseModalities = []string{"IMAGE"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &GenerationError{
			Kind:       FailureUnknown,
			Provider:   a.Name(),
			Credential: credentialID,
			Message:    "failed to marshal request",
			Cause:      err,
		}
	}

	baseURL := a.baseURL
	if req.ViaProxy && a.proxyBaseURL != "" {
		baseURL = a.proxyBaseURL
	}
	endpoint := fmt.Sprintf("%s/%s:generateContent", baseURL, model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &GenerationError{
			Kind:       FailureUnknown,
			Provider:   a.Name(),
			Credential: credentialID,
			Message:    "failed to build request",
			Cause:      err,
		}
	}
	httpReq.Header.Set("x-goog-api-key", secret)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, &GenerationError{
			Kind:       ClassifyError(err),
			Provider:   a.Name(),
			Credential: credentialID,
			Message:    "generateContent call failed",
			Cause:      err,
		}
	}
	defer resp.Body.Close()

	// Error bodies are small; cap the read so a misbehaving upstream cannot
	// balloon memory.
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return nil, &GenerationError{
			Kind:       ClassifyStatus(resp.StatusCode, string(raw)),
			Provider:   a.Name(),
			Credential: credentialID,
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Message:    fmt.Sprintf("generateContent returned status %d", resp.StatusCode),
		}
	}

	var parsed geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &GenerationError{
			Kind:       FailureUnknown,
			Provider:   a.Name(),
			Credential: credentialID,
			Message:    "failed to decode generateContent response",
			Cause:      err,
		}
	}

	result := &GenerationResult{
		Provider:   a.Name(),
		Credential: credentialID,
		Model:      model,
	}
	if len(parsed.Candidates) > 0 {
		for _, part := range parsed.Candidates[0].Content.Parts {
			if part.Text != "" && result.Text == "" {
				result.Text = part.Text
			}
			if part.InlineData != nil && len(result.ImageData) == 0 {
				data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil {
					return nil, &GenerationError{
						Kind:       FailureUnknown,
						Provider:   a.Name(),
						Credential: credentialID,
						Message:    "failed to decode inline image data",
						Cause:      err,
					}
				}
				result.ImageData = data
				result.MimeType = part.InlineData.MimeType
			}
		}
	}

	if err := checkResult(a.Name(), credentialID, req.Capability, result); err != nil {
		return nil, err
	}
	return result, nil
}
