package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// openaiClient defines the interface for OpenAI API calls (for testing)
type openaiClient interface {
	CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
	GenerateImage(ctx context.Context, params openai.ImageGenerateParams) (*openai.ImagesResponse, error)
}

// openaiClientWrapper wraps the openai.Client to implement our interface
type openaiClientWrapper struct {
	client openai.Client
}

func (w *openaiClientWrapper) CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return w.client.Chat.Completions.New(ctx, params)
}

func (w *openaiClientWrapper) GenerateImage(ctx context.Context, params openai.ImageGenerateParams) (*openai.ImagesResponse, error) {
	return w.client.Images.Generate(ctx, params)
}

// OpenAIOptions configures the OpenAI adapter.
type OpenAIOptions struct {
	APIKeys    []string
	Model      string
	ImageModel string
	MaxTokens  int
}

// OpenAIAdapter handles communication with the OpenAI API. One SDK client is
// held per credential. SDK-internal retries are disabled so every orchestrator
// attempt maps to exactly one network call and health accounting stays honest.
type OpenAIAdapter struct {
	credentials []Credential
	clients     map[string]openaiClient
	model       string
	imageModel  string
	maxTokens   int
}

// NewOpenAIAdapter creates an OpenAIAdapter with one credential per API key.
func NewOpenAIAdapter(opts OpenAIOptions) (*OpenAIAdapter, error) {
	if len(opts.APIKeys) == 0 {
		return nil, fmt.Errorf("at least one OpenAI API key is required")
	}

	a := &OpenAIAdapter{
		clients:    make(map[string]openaiClient, len(opts.APIKeys)),
		model:      opts.Model,
		imageModel: opts.ImageModel,
		maxTokens:  opts.MaxTokens,
	}
	if a.maxTokens <= 0 {
		a.maxTokens = 1000
	}
	for i, key := range opts.APIKeys {
		id := fmt.Sprintf("openai-%d", i+1)
		a.credentials = append(a.credentials, Credential{ID: id, Secret: key})
		client := openai.NewClient(option.WithAPIKey(key), option.WithMaxRetries(0))
		a.clients[id] = &openaiClientWrapper{client: client}
	}
	return a, nil
}

// newOpenAIAdapterWithClients creates an adapter with injected clients (for testing)
func newOpenAIAdapterWithClients(clients map[string]openaiClient, ids []string, model, imageModel string, maxTokens int) *OpenAIAdapter {
	a := &OpenAIAdapter{
		clients:    clients,
		model:      model,
		imageModel: imageModel,
		maxTokens:  maxTokens,
	}
	for _, id := range ids {
		a.credentials = append(a.credentials, Credential{ID: id})
	}
	return a
}

// Name returns the provider name used in logs, metrics and health snapshots
func (a *OpenAIAdapter) Name() string { return "openai" }

// Supports reports the capabilities this adapter can serve
func (a *OpenAIAdapter) Supports(c Capability) bool {
	return c == CapabilityText || c == CapabilityImage
}

// CredentialIDs returns the credential ids in declaration order
func (a *OpenAIAdapter) CredentialIDs() []string {
	ids := make([]string, len(a.credentials))
	for i, c := range a.credentials {
		ids[i] = c.ID
	}
	return ids
}

// Generate performs exactly one OpenAI API call with the given credential
func (a *OpenAIAdapter) Generate(ctx context.Context, credentialID string, req *GenerationRequest) (*GenerationResult, error) {
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
	client, ok := a.clients[credentialID]
	if !ok {
		return nil, &GenerationError{
			Kind:       FailureInvalidRequest,
			Provider:   a.Name(),
			Credential: credentialID,
			Message:    fmt.Sprintf("unknown credential %q", credentialID),
		}
	}

	switch req.Capability {
	case CapabilityImage:
		if gerr := checkModel(a.Name(), credentialID, req.Model, a.imageModel); gerr != nil {
			return nil, gerr
		}
		return a.generateImage(ctx, client, credentialID, req)
	default:
		if gerr := checkModel(a.Name(), credentialID, req.Model, a.model); gerr != nil {
			return nil, gerr
		}
		return a.generateText(ctx, client, credentialID, req)
	}
}

func (a *OpenAIAdapter) generateText(ctx context.Context, client openaiClient, credentialID string, req *GenerationRequest) (*GenerationResult, error) {
	maxTokens := a.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	params := openai.ChatCompletionNewParams{
		Model:     shared.ChatModel(a.model),
		MaxTokens: openai.Int(int64(maxTokens)),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	completion, err := client.CreateChatCompletion(ctx, params)
	if err != nil {
		return nil, a.classify(credentialID, err)
	}

	result := &GenerationResult{
		Provider:   a.Name(),
		Credential: credentialID,
		Model:      a.model,
	}
	if len(completion.Choices) > 0 {
		result.Text = completion.Choices[0].Message.Content
	}
	if err := checkResult(a.Name(), credentialID, CapabilityText, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (a *OpenAIAdapter) generateImage(ctx context.Context, client openaiClient, credentialID string, req *GenerationRequest) (*GenerationResult, error) {
	params := openai.ImageGenerateParams{
		Prompt: req.Prompt,
		Model:  openai.ImageModel(a.imageModel),
	}

	images, err := client.GenerateImage(ctx, params)
	if err != nil {
		return nil, a.classify(credentialID, err)
	}

	result := &GenerationResult{
		Provider:   a.Name(),
		Credential: credentialID,
		Model:      a.imageModel,
	}
	if len(images.Data) > 0 && images.Data[0].B64JSON != "" {
		data, decodeErr := base64.StdEncoding.DecodeString(images.Data[0].B64JSON)
		if decodeErr != nil {
			return nil, &GenerationError{
				Kind:       FailureUnknown,
				Provider:   a.Name(),
				Credential: credentialID,
				Message:    "failed to decode image payload",
				Cause:      decodeErr,
			}
		}
		result.ImageData = data
		result.MimeType = "image/png"
	}
	if err := checkResult(a.Name(), credentialID, CapabilityImage, result); err != nil {
		return nil, err
	}
	return result, nil
}

// classify turns an SDK error into a typed failure. The SDK exposes the HTTP
// status on *openai.Error; pattern rules only kick in for transport errors.
func (a *OpenAIAdapter) classify(credentialID string, err error) *GenerationError {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		var retryAfter time.Duration
		if apierr.Response != nil {
			retryAfter = ParseRetryAfter(apierr.Response.Header.Get("Retry-After"), time.Now())
		}
		return &GenerationError{
			Kind:       ClassifyStatus(apierr.StatusCode, apierr.Message),
			Provider:   a.Name(),
			Credential: credentialID,
			RetryAfter: retryAfter,
			Message:    "OpenAI API error",
			Cause:      err,
		}
	}
	return &GenerationError{
		Kind:       ClassifyError(err),
		Provider:   a.Name(),
		Credential: credentialID,
		Message:    "OpenAI call failed",
		Cause:      err,
	}
}
