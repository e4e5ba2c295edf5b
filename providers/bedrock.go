package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// bedrockClient matches the InvokeModel method of *bedrockruntime.Client
// so the real client satisfies it directly and tests can substitute a mock.
type bedrockClient interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockOptions configures the Bedrock adapter.
type BedrockOptions struct {
	Region       string
	ModelID      string
	ImageModelID string
	MaxTokens    int
}

// BedrockAdapter handles communication with AWS Bedrock: Claude models for
// text, Titan image generation for images when an image model is configured.
// Bedrock authenticates through the ambient AWS credentials, so the adapter
// carries a single logical credential. The SDK retryer is replaced with a
// no-op one; fallback decisions belong to the orchestrator.
type BedrockAdapter struct {
	client       bedrockClient
	credentialID string
	modelID      string
	imageModelID string
	maxTokens    int
}

// NewBedrockAdapter creates a BedrockAdapter for the given region and models.
func NewBedrockAdapter(ctx context.Context, opts BedrockOptions) (*BedrockAdapter, error) {
	if opts.Region == "" || opts.ModelID == "" {
		return nil, fmt.Errorf("Bedrock region and model id are required")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}

	a := &BedrockAdapter{
		client:       bedrockruntime.NewFromConfig(cfg),
		credentialID: "bedrock-1",
		modelID:      opts.ModelID,
		imageModelID: opts.ImageModelID,
		maxTokens:    opts.MaxTokens,
	}
	if a.maxTokens <= 0 {
		a.maxTokens = 1000
	}
	return a, nil
}

// newBedrockAdapterWithClient creates an adapter with an injected client (for testing)
func newBedrockAdapterWithClient(client bedrockClient, modelID, imageModelID string, maxTokens int) *BedrockAdapter {
	return &BedrockAdapter{
		client:       client,
		credentialID: "bedrock-1",
		modelID:      modelID,
		imageModelID: imageModelID,
		maxTokens:    maxTokens,
	}
}

// Name returns the provider name used in logs, metrics and health snapshots
func (a *BedrockAdapter) Name() string { return "bedrock" }

// Supports reports the capabilities this adapter can serve
func (a *BedrockAdapter) Supports(c Capability) bool {
	switch c {
	case CapabilityText:
		return true
	case CapabilityImage:
		return a.imageModelID != ""
	default:
		return false
	}
}

// CredentialIDs returns the single logical Bedrock credential
func (a *BedrockAdapter) CredentialIDs() []string {
	return []string{a.credentialID}
}

// claudeRequest is the request format for Claude models via Bedrock
type claudeRequest struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	Messages         []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// claudeResponse is the response format from Claude models via Bedrock
type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// titanImageRequest is the request format for Titan image generation
type titanImageRequest struct {
	TaskType          string `json:"taskType"`
	TextToImageParams struct {
		Text string `json:"text"`
	} `json:"textToImageParams"`
	ImageGenerationConfig struct {
		NumberOfImages int `json:"numberOfImages"`
		Height         int `json:"height"`
		Width          int `json:"width"`
	} `json:"imageGenerationConfig"`
}

// titanImageResponse is the response format from Titan image generation
type titanImageResponse struct {
	Images []string `json:"images"`
}

// Generate performs exactly one InvokeModel call
func (a *BedrockAdapter) Generate(ctx context.Context, credentialID string, req *GenerationRequest) (*GenerationResult, error) {
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
	if credentialID != a.credentialID {
		return nil, &GenerationError{
			Kind:       FailureInvalidRequest,
			Provider:   a.Name(),
			Credential: credentialID,
			Message:    fmt.Sprintf("unknown credential %q", credentialID),
		}
	}

	switch req.Capability {
	case CapabilityImage:
		if gerr := checkModel(a.Name(), credentialID, req.Model, a.imageModelID); gerr != nil {
			return nil, gerr
		}
		return a.generateImage(ctx, credentialID, req)
	default:
		if gerr := checkModel(a.Name(), credentialID, req.Model, a.modelID); gerr != nil {
			return nil, gerr
		}
		return a.generateText(ctx, credentialID, req)
	}
}

func (a *BedrockAdapter) generateText(ctx context.Context, credentialID string, req *GenerationRequest) (*GenerationResult, error) {
	maxTokens := a.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	body := claudeRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		Messages: []claudeMessage{
			{Role: "user", Content: req.Prompt},
		},
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

	output, err := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(a.modelID),
		Body:        payload,
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, a.classify(credentialID, err)
	}

	var parsed claudeResponse
	if err := json.Unmarshal(output.Body, &parsed); err != nil {
		return nil, &GenerationError{
			Kind:       FailureUnknown,
			Provider:   a.Name(),
			Credential: credentialID,
			Message:    "failed to unmarshal response",
			Cause:      err,
		}
	}

	result := &GenerationResult{
		Provider:   a.Name(),
		Credential: credentialID,
		Model:      a.modelID,
	}
	if len(parsed.Content) > 0 {
		result.Text = parsed.Content[0].Text
	}
	if err := checkResult(a.Name(), credentialID, CapabilityText, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (a *BedrockAdapter) generateImage(ctx context.Context, credentialID string, req *GenerationRequest) (*GenerationResult, error) {
	var body titanImageRequest
	body.TaskType = "TEXT_IMAGE"
	body.TextToImageParams.Text = req.Prompt
	body.ImageGenerationConfig.NumberOfImages = 1
	body.ImageGenerationConfig.Height = 1024
	body.ImageGenerationConfig.Width = 1024

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

	output, err := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(a.imageModelID),
		Body:        payload,
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, a.classify(credentialID, err)
	}

	var parsed titanImageResponse
	if err := json.Unmarshal(output.Body, &parsed); err != nil {
		return nil, &GenerationError{
			Kind:       FailureUnknown,
			Provider:   a.Name(),
			Credential: credentialID,
			Message:    "failed to unmarshal response",
			Cause:      err,
		}
	}

	result := &GenerationResult{
		Provider:   a.Name(),
		Credential: credentialID,
		Model:      a.imageModelID,
	}
	if len(parsed.Images) > 0 {
		data, decodeErr := base64.StdEncoding.DecodeString(parsed.Images[0])
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

// classify turns an SDK error into a typed failure using Bedrock's structured
// exception types; pattern rules only apply when no typed match exists.
func (a *BedrockAdapter) classify(credentialID string, err error) *GenerationError {
	kind := FailureUnknown

	var throttled *types.ThrottlingException
	var quota *types.ServiceQuotaExceededException
	var denied *types.AccessDeniedException
	var invalid *types.ValidationException
	var modelTimeout *types.ModelTimeoutException
	var notReady *types.ModelNotReadyException
	var internal *types.InternalServerException

	switch {
	case errors.As(err, &throttled):
		kind = FailureRateLimited
	case errors.As(err, &quota):
		kind = FailureQuotaExhausted
	case errors.As(err, &denied):
		kind = FailureUnauthorized
	case errors.As(err, &invalid):
		kind = FailureInvalidRequest
	case errors.As(err, &modelTimeout):
		kind = FailureTimeout
	case errors.As(err, &notReady), errors.As(err, &internal):
		kind = FailureTransient
	default:
		kind = ClassifyError(err)
	}

	return &GenerationError{
		Kind:       kind,
		Provider:   a.Name(),
		Credential: credentialID,
		Message:    "Bedrock call failed",
		Cause:      err,
	}
}
