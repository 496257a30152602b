package screenshot

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"snaplens/internal/models"
)

// ValidationError rejects a submission before any analysis stage runs.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid image: " + e.Reason
}

// Limits bounds the accepted image payloads.
type Limits struct {
	MaxBytes        int // raw decoded size ceiling
	MinBytes        int // raw decoded size floor
	MaxEncodedBytes int // base64 form ceiling
}

// DefaultLimits matches the configured defaults: 15 MiB raw ceiling, 1 KiB
// floor, ~13 MB base64 ceiling.
func DefaultLimits() Limits {
	return Limits{
		MaxBytes:        15 * 1024 * 1024,
		MinBytes:        1024,
		MaxEncodedBytes: 13_000_000,
	}
}

// Validator normalizes and bounds-checks incoming image payloads.
type Validator struct {
	limits Limits
}

// NewValidator creates a validator with the given limits.
func NewValidator(limits Limits) *Validator {
	return &Validator{limits: limits}
}

// ValidateBase64 validates a base64-encoded image as submitted by the push
// endpoint. A data URL prefix ("data:image/...;base64,") is stripped before
// decoding.
func (v *Validator) ValidateBase64(encoded string) (models.ImagePayload, error) {
	if encoded == "" {
		return models.ImagePayload{}, &ValidationError{Reason: "no image data provided"}
	}

	if strings.HasPrefix(encoded, "data:image") {
		if idx := strings.Index(encoded, ","); idx >= 0 {
			encoded = encoded[idx+1:]
		}
	}

	if v.limits.MaxEncodedBytes > 0 && len(encoded) > v.limits.MaxEncodedBytes {
		return models.ImagePayload{}, &ValidationError{
			Reason: fmt.Sprintf("encoded image too large (%d bytes, max %d)", len(encoded), v.limits.MaxEncodedBytes),
		}
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return models.ImagePayload{}, &ValidationError{Reason: "malformed base64 data"}
	}

	return v.ValidateBytes(data)
}

// ValidateBytes bounds-checks raw image bytes and sniffs the media type.
func (v *Validator) ValidateBytes(data []byte) (models.ImagePayload, error) {
	if len(data) > v.limits.MaxBytes {
		return models.ImagePayload{}, &ValidationError{
			Reason: fmt.Sprintf("image too large (%d bytes, max %d)", len(data), v.limits.MaxBytes),
		}
	}
	if len(data) < v.limits.MinBytes {
		return models.ImagePayload{}, &ValidationError{
			Reason: fmt.Sprintf("image too small (%d bytes, min %d)", len(data), v.limits.MinBytes),
		}
	}

	return models.ImagePayload{
		Data:      data,
		MediaType: SniffMediaType(data),
		SizeBytes: len(data),
	}, nil
}

// SniffMediaType detects PNG and JPEG from magic bytes. Anything else is
// assumed to be PNG, matching what screenshot tools produce.
func SniffMediaType(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG")):
		return "image/png"
	case bytes.HasPrefix(data, []byte{0xff, 0xd8, 0xff}):
		return "image/jpeg"
	default:
		return "image/png"
	}
}
