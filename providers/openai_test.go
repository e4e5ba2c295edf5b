package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/openai/openai-go"
)

// mockOpenAIClient is a scriptable openaiClient for adapter tests.
type mockOpenAIClient struct {
	completion *openai.ChatCompletion
	images     *openai.ImagesResponse
	err        error

	gotChatParams  *openai.ChatCompletionNewParams
	gotImageParams *openai.ImageGenerateParams
}

func (m *mockOpenAIClient) CreateChatCompletion(_ context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	m.gotChatParams = &params
	return m.completion, m.err
}

func (m *mockOpenAIClient) GenerateImage(_ context.Context, params openai.ImageGenerateParams) (*openai.ImagesResponse, error) {
	m.gotImageParams = &params
	return m.images, m.err
}

func newOpenAITestAdapter(mock *mockOpenAIClient) *OpenAIAdapter {
	return newOpenAIAdapterWithClients(
		map[string]openaiClient{"openai-1": mock},
		[]string{"openai-1"},
		"gpt-4o", "gpt-image-1", 1000,
	)
}

func TestOpenAIGenerateText(t *testing.T) {
	mock := &mockOpenAIClient{
		completion: &openai.ChatCompletion{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Content: "hello there"}},
			},
		},
	}
	a := newOpenAITestAdapter(mock)

	res, err := a.Generate(context.Background(), "openai-1", textRequest("say hello"))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Text != "hello there" {
		t.Errorf("text = %q", res.Text)
	}
	if res.Provider != "openai" || res.Model != "gpt-4o" {
		t.Errorf("metadata = %+v", res)
	}
	if mock.gotChatParams == nil || mock.gotChatParams.Model != "gpt-4o" {
		t.Errorf("chat params = %+v", mock.gotChatParams)
	}
}

func TestOpenAIGenerateImage(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	mock := &mockOpenAIClient{
		images: &openai.ImagesResponse{
			Data: []openai.Image{{B64JSON: base64.StdEncoding.EncodeToString(png)}},
		},
	}
	a := newOpenAITestAdapter(mock)

	res, err := a.Generate(context.Background(), "openai-1", &GenerationRequest{
		Capability: CapabilityImage,
		Prompt:     "a mountain",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if string(res.ImageData) != string(png) || res.MimeType != "image/png" {
		t.Errorf("image result = %v, mime %q", res.ImageData, res.MimeType)
	}
	if res.Model != "gpt-image-1" {
		t.Errorf("model = %q", res.Model)
	}
}

func TestOpenAIClassifiesAPIErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		message    string
		retryAfter string
		wantKind   FailureKind
		wantRetry  time.Duration
	}{
		{"rate limited", 429, "Rate limit reached for gpt-4o", "", FailureRateLimited, 0},
		{"rate limited with hint", 429, "Rate limit reached for gpt-4o", "30", FailureRateLimited, 30 * time.Second},
		{"quota exhausted", 429, "You exceeded your current quota, please check your billing", "", FailureQuotaExhausted, 0},
		{"bad key", 401, "Incorrect API key provided", "", FailureUnauthorized, 0},
		{"server error", 500, "The server had an error", "", FailureTransient, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apierr := &openai.Error{StatusCode: tt.status, Message: tt.message}
			if tt.retryAfter != "" {
				apierr.Response = &http.Response{
					StatusCode: tt.status,
					Header:     http.Header{"Retry-After": {tt.retryAfter}},
				}
			}
			mock := &mockOpenAIClient{err: apierr}
			a := newOpenAITestAdapter(mock)

			_, err := a.Generate(context.Background(), "openai-1", textRequest("hello"))
			gerr, ok := AsGenerationError(err)
			if !ok {
				t.Fatalf("expected a typed failure, got %v", err)
			}
			if gerr.Kind != tt.wantKind {
				t.Errorf("kind = %v, want %v", gerr.Kind, tt.wantKind)
			}
			if gerr.RetryAfter != tt.wantRetry {
				t.Errorf("retryAfter = %v, want %v", gerr.RetryAfter, tt.wantRetry)
			}
			if gerr.Provider != "openai" || gerr.Credential != "openai-1" {
				t.Errorf("attribution = %q/%q", gerr.Provider, gerr.Credential)
			}
		})
	}
}

func TestOpenAIClassifiesTransportErrors(t *testing.T) {
	mock := &mockOpenAIClient{err: errors.New("connection reset by peer")}
	a := newOpenAITestAdapter(mock)

	_, err := a.Generate(context.Background(), "openai-1", textRequest("hello"))
	gerr, ok := AsGenerationError(err)
	if !ok || gerr.Kind != FailureTransient {
		t.Fatalf("expected transient for a connection reset, got %v", err)
	}
}

func TestOpenAIEmptyCompletionIsTransient(t *testing.T) {
	mock := &mockOpenAIClient{completion: &openai.ChatCompletion{}}
	a := newOpenAITestAdapter(mock)

	_, err := a.Generate(context.Background(), "openai-1", textRequest("hello"))
	gerr, ok := AsGenerationError(err)
	if !ok || gerr.Kind != FailureTransient {
		t.Fatalf("expected transient for an empty completion, got %v", err)
	}
}

func TestOpenAIRejectsUnconfiguredModel(t *testing.T) {
	mock := &mockOpenAIClient{}
	a := newOpenAITestAdapter(mock)

	req := textRequest("hello")
	req.Model = "gpt-5-turbo-max"

	_, err := a.Generate(context.Background(), "openai-1", req)
	gerr, ok := AsGenerationError(err)
	if !ok || gerr.Kind != FailureInvalidRequest {
		t.Fatalf("expected invalid_request for an unconfigured model, got %v", err)
	}
	if mock.gotChatParams != nil {
		t.Error("a disallowed model must not produce an upstream call")
	}
}

func TestOpenAIUnknownCredential(t *testing.T) {
	a := newOpenAITestAdapter(&mockOpenAIClient{})

	_, err := a.Generate(context.Background(), "openai-9", textRequest("hello"))
	gerr, ok := AsGenerationError(err)
	if !ok || gerr.Kind != FailureInvalidRequest {
		t.Fatalf("expected invalid_request, got %v", err)
	}
}
