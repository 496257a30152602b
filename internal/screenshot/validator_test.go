package screenshot

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func pngBytes(size int) []byte {
	data := make([]byte, size)
	copy(data, "\x89PNG\r\n\x1a\n")
	return data
}

func TestValidator_AcceptsPNG(t *testing.T) {
	v := NewValidator(DefaultLimits())

	raw := pngBytes(2 * 1024 * 1024)
	payload, err := v.ValidateBase64(base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatalf("Valid 2MiB PNG rejected: %v", err)
	}
	if payload.MediaType != "image/png" {
		t.Errorf("Expected image/png, got %s", payload.MediaType)
	}
	if payload.SizeBytes != len(raw) {
		t.Errorf("Expected size %d, got %d", len(raw), payload.SizeBytes)
	}
}

func TestValidator_StripsDataURLPrefix(t *testing.T) {
	v := NewValidator(DefaultLimits())

	encoded := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(append([]byte{0xff, 0xd8, 0xff}, make([]byte, 4096)...))
	payload, err := v.ValidateBase64(encoded)
	if err != nil {
		t.Fatalf("Data URL payload rejected: %v", err)
	}
	if payload.MediaType != "image/jpeg" {
		t.Errorf("Expected image/jpeg, got %s", payload.MediaType)
	}
}

func TestValidator_RejectsOversize(t *testing.T) {
	v := NewValidator(DefaultLimits())

	_, err := v.ValidateBytes(pngBytes(18 * 1024 * 1024))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError for 18MiB payload, got %v", err)
	}
	if !strings.Contains(verr.Reason, "too large") {
		t.Errorf("Unexpected reason: %q", verr.Reason)
	}
}

func TestValidator_RejectsUndersize(t *testing.T) {
	v := NewValidator(DefaultLimits())

	_, err := v.ValidateBytes(pngBytes(100))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError for tiny payload, got %v", err)
	}
}

func TestValidator_RejectsEmptyAndMalformed(t *testing.T) {
	v := NewValidator(DefaultLimits())

	if _, err := v.ValidateBase64(""); err == nil {
		t.Error("Empty payload should be rejected")
	}
	if _, err := v.ValidateBase64("not!!valid@@base64"); err == nil {
		t.Error("Malformed base64 should be rejected")
	}
}

func TestValidator_RejectsOversizeEncodedForm(t *testing.T) {
	v := NewValidator(Limits{MaxBytes: 15 * 1024 * 1024, MinBytes: 1024, MaxEncodedBytes: 1000})

	encoded := base64.StdEncoding.EncodeToString(pngBytes(4096))
	_, err := v.ValidateBase64(encoded)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError for oversize encoded form, got %v", err)
	}
}

func TestSniffMediaType(t *testing.T) {
	if got := SniffMediaType([]byte("\x89PNG\r\n")); got != "image/png" {
		t.Errorf("PNG magic: got %s", got)
	}
	if got := SniffMediaType([]byte{0xff, 0xd8, 0xff, 0xe0}); got != "image/jpeg" {
		t.Errorf("JPEG magic: got %s", got)
	}
	if got := SniffMediaType(bytes.Repeat([]byte{0x00}, 16)); got != "image/png" {
		t.Errorf("Unknown magic should default to PNG, got %s", got)
	}
}
