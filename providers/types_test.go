package providers

import "testing"

func TestGenerationRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     GenerationRequest
		wantErr bool
	}{
		{"valid text", GenerationRequest{Capability: CapabilityText, Prompt: "hi"}, false},
		{"valid image", GenerationRequest{Capability: CapabilityImage, Prompt: "hi"}, false},
		{"image with reference", GenerationRequest{Capability: CapabilityImage, Prompt: "hi", ReferenceImage: []byte{1}}, false},
		{"empty prompt", GenerationRequest{Capability: CapabilityText}, true},
		{"unknown capability", GenerationRequest{Capability: "audio", Prompt: "hi"}, true},
		{"reference image on text", GenerationRequest{Capability: CapabilityText, Prompt: "hi", ReferenceImage: []byte{1}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckResult(t *testing.T) {
	tests := []struct {
		name     string
		cap      Capability
		res      GenerationResult
		wantKind FailureKind // empty means success expected
	}{
		{"text ok", CapabilityText, GenerationResult{Text: "hi"}, ""},
		{"empty text", CapabilityText, GenerationResult{}, FailureTransient},
		{"image ok", CapabilityImage, GenerationResult{ImageData: []byte{1}, MimeType: "image/png"}, ""},
		{"jpeg ok", CapabilityImage, GenerationResult{ImageData: []byte{1}, MimeType: "image/jpeg"}, ""},
		{"empty image", CapabilityImage, GenerationResult{MimeType: "image/png"}, FailureTransient},
		{"unrecognized mime", CapabilityImage, GenerationResult{ImageData: []byte{1}, MimeType: "text/html"}, FailureTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkResult("gemini", "gemini-1", tt.cap, &tt.res)
			if tt.wantKind == "" {
				if err != nil {
					t.Errorf("checkResult = %v, want success", err)
				}
				return
			}
			gerr, ok := AsGenerationError(err)
			if !ok || gerr.Kind != tt.wantKind {
				t.Errorf("checkResult = %v, want kind %v", err, tt.wantKind)
			}
		})
	}
}
