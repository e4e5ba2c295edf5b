package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicClient defines the interface for Anthropic API calls (for testing)
type anthropicClient interface {
	CreateMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

// anthropicClientWrapper wraps the anthropic.Client to implement our interface
type anthropicClientWrapper struct {
	client *anthropic.Client
}

func (w *anthropicClientWrapper) CreateMessage(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	return w.client.Messages.New(ctx, params)
}

// AnthropicOptions configures the Anthropic adapter.
type AnthropicOptions struct {
	APIKeys   []string
	Model     string
	MaxTokens int
}

// AnthropicAdapter handles communication with the Anthropic Messages API.
// Text generation only. SDK-internal retries are disabled so every
// orchestrator attempt maps to exactly one network call.
type AnthropicAdapter struct {
	credentials []Credential
	clients     map[string]anthropicClient
	model       string
	maxTokens   int
}

// NewAnthropicAdapter creates an AnthropicAdapter with one credential per API key.
func NewAnthropicAdapter(opts AnthropicOptions) (*AnthropicAdapter, error) {
	if len(opts.APIKeys) == 0 {
		return nil, fmt.Errorf("at least one Anthropic API key is required")
	}

	a := &AnthropicAdapter{
		clients:   make(map[string]anthropicClient, len(opts.APIKeys)),
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
	}
	if a.maxTokens <= 0 {
		a.maxTokens = 1000
	}
	for i, key := range opts.APIKeys {
		id := fmt.Sprintf("anthropic-%d", i+1)
		a.credentials = append(a.credentials, Credential{ID: id, Secret: key})
		client := anthropic.NewClient(option.WithAPIKey(key), option.WithMaxRetries(0))
		a.clients[id] = &anthropicClientWrapper{client: &client}
	}
	return a, nil
}

// newAnthropicAdapterWithClients creates an adapter with injected clients (for testing)
func newAnthropicAdapterWithClients(clients map[string]anthropicClient, ids []string, model string, maxTokens int) *AnthropicAdapter {
	a := &AnthropicAdapter{
		clients:   clients,
		model:     model,
		maxTokens: maxTokens,
	}
	for _, id := range ids {
		a.credentials = append(a.credentials, Credential{ID: id})
	}
	return a
}

// Name returns the provider name used in logs, metrics and health snapshots
func (a *AnthropicAdapter) Name() string { return "anthropic" }

// Supports reports the capabilities this adapter can serve
func (a *AnthropicAdapter) Supports(c Capability) bool {
	return c == CapabilityText
}

// CredentialIDs returns the credential ids in declaration order
func (a *AnthropicAdapter) CredentialIDs() []string {
	ids := make([]string, len(a.credentials))
	for i, c := range a.credentials {
		ids[i] = c.ID
	}
	return ids
}

// Generate performs exactly one Messages API call with the given credential
func (a *AnthropicAdapter) Generate(ctx context.Context, credentialID string, req *GenerationRequest) (*GenerationResult, error) {
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

	if gerr := checkModel(a.Name(), credentialID, req.Model, a.model); gerr != nil {
		return nil, gerr
	}

	maxTokens := a.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}

	message, err := client.CreateMessage(ctx, params)
	if err != nil {
		return nil, a.classify(credentialID, err)
	}

	result := &GenerationResult{
		Provider:   a.Name(),
		Credential: credentialID,
		Model:      a.model,
	}
	for _, block := range message.Content {
		if block.Type == "text" && block.Text != "" {
			result.Text = block.Text
			break
		}
	}
	if err := checkResult(a.Name(), credentialID, CapabilityText, result); err != nil {
		return nil, err
	}
	return result, nil
}

// classify turns an SDK error into a typed failure using the HTTP status the
// SDK exposes on *anthropic.Error, with pattern rules for transport errors.
// The raw JSON body is used for quota-language sniffing; Error() is avoided
// because its formatting dereferences the request and response.
func (a *AnthropicAdapter) classify(credentialID string, err error) *GenerationError {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		var retryAfter time.Duration
		if apierr.Response != nil {
			retryAfter = ParseRetryAfter(apierr.Response.Header.Get("Retry-After"), time.Now())
		}
		return &GenerationError{
			Kind:       ClassifyStatus(apierr.StatusCode, apierr.RawJSON()),
			Provider:   a.Name(),
			Credential: credentialID,
			RetryAfter: retryAfter,
			Message:    "Anthropic API error",
			Cause:      err,
		}
	}
	return &GenerationError{
		Kind:       ClassifyError(err),
		Provider:   a.Name(),
		Credential: credentialID,
		Message:    "Anthropic call failed",
		Cause:      err,
	}
}
