package providers

import (
	"context"
	"fmt"
)

// Capability is the kind of generation a request asks for.
type Capability string

const (
	CapabilityText  Capability = "text"
	CapabilityImage Capability = "image"
)

// Valid reports whether the capability is one the proxy serves.
func (c Capability) Valid() bool {
	return c == CapabilityText || c == CapabilityImage
}

// Credential is one configured secret usable to call a provider.
// The ID is an opaque process-lifetime label; it is what appears in logs,
// metrics and health snapshots. The secret itself never leaves the adapter.
type Credential struct {
	ID     string
	Secret string
}

// GenerationRequest is the uniform request shape handed to adapters.
type GenerationRequest struct {
	Capability Capability
	Prompt     string

	// Model optionally names the model to use. Adapters only serve their
	// configured models; anything else is rejected before a network call.
	Model string

	MaxTokens   int
	Temperature float64

	// Optional reference image for image generation
	ReferenceImage []byte
	ReferenceMime  string

	// Caller metadata, used for quota accounting and the proxy route decision
	UserID   string
	UserTier string
	Feature  string

	// ViaProxy is set by the orchestrator from the route decision; adapters
	// that support the cost-control proxy honor it, others ignore it.
	ViaProxy bool
}

// Validate checks the request shape common to all adapters.
func (r *GenerationRequest) Validate() error {
	if !r.Capability.Valid() {
		return fmt.Errorf("unknown capability %q", r.Capability)
	}
	if r.Prompt == "" {
		return fmt.Errorf("prompt must not be empty")
	}
	if len(r.ReferenceImage) > 0 && r.Capability != CapabilityImage {
		return fmt.Errorf("reference image is only valid for image generation")
	}
	return nil
}

// GenerationResult is a successful adapter response.
type GenerationResult struct {
	Text      string `json:"text,omitempty"`
	ImageData []byte `json:"image_data,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`

	// Provider metadata
	Provider   string `json:"provider"`
	Credential string `json:"credential"`
	Model      string `json:"model"`
}

// Adapter wraps one vendor integration behind a uniform generate contract.
// Generate performs exactly one upstream call per invocation; retry and
// fallback decisions belong to the orchestrator so credential-health
// bookkeeping stays centralized.
type Adapter interface {
	Name() string
	Supports(c Capability) bool
	CredentialIDs() []string
	Generate(ctx context.Context, credentialID string, req *GenerationRequest) (*GenerationResult, error)
}

// recognizedImageMimes are the mime types accepted as valid image payloads.
var recognizedImageMimes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/gif":  true,
}

// checkResult validates that a vendor "success" actually carries a usable
// payload for the requested capability. A 200 with an empty body would poison
// downstream output, so it is reported as a Transient failure instead.
func checkResult(provider, credentialID string, cap Capability, res *GenerationResult) error {
	switch cap {
	case CapabilityText:
		if res.Text == "" {
			return &GenerationError{
				Kind:       FailureTransient,
				Provider:   provider,
				Credential: credentialID,
				Message:    "provider returned an empty text payload",
			}
		}
	case CapabilityImage:
		if len(res.ImageData) == 0 {
			return &GenerationError{
				Kind:       FailureTransient,
				Provider:   provider,
				Credential: credentialID,
				Message:    "provider returned an empty image payload",
			}
		}
		if !recognizedImageMimes[res.MimeType] {
			return &GenerationError{
				Kind:       FailureTransient,
				Provider:   provider,
				Credential: credentialID,
				Message:    fmt.Sprintf("provider returned unrecognized image mime type %q", res.MimeType),
			}
		}
	}
	return nil
}

// unsupportedCapability builds the fail-fast error adapters return before
// making any network call for a capability outside their declared set.
func unsupportedCapability(provider, credentialID string, cap Capability) *GenerationError {
	return &GenerationError{
		Kind:       FailureInvalidRequest,
		Provider:   provider,
		Credential: credentialID,
		Message:    fmt.Sprintf("capability %q not supported by provider %s", cap, provider),
	}
}

// checkModel enforces the configured-model allowlist: a request naming a model
// other than the one this adapter serves for the capability is rejected before
// any network call. An empty request model means "use the configured default".
func checkModel(provider, credentialID, requested, configured string) *GenerationError {
	if requested == "" || requested == configured {
		return nil
	}
	return &GenerationError{
		Kind:       FailureInvalidRequest,
		Provider:   provider,
		Credential: credentialID,
		Message:    fmt.Sprintf("model %q is not in the allowed set for %s", requested, provider),
	}
}
