package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestZatErrorFormatting(t *testing.T) {
	tests := []struct {
		name     string
		err      *ZatError
		expected string
	}{
		{
			name:     "message only",
			err:      &ZatError{Message: "boom"},
			expected: "boom",
		},
		{
			name:     "code and path",
			err:      NewConfigError("MANIFEST_MISSING", "no manifest", nil).WithPath("/apps/a/manifest.json"),
			expected: "[MANIFEST_MISSING] /apps/a/manifest.json no manifest",
		},
		{
			name:     "location with cause",
			err:      NewConfigError("SETTINGS_PARSE", "invalid yaml", errors.New("line 2")).WithLocation("settings.yml", 2, 5),
			expected: "[SETTINGS_PARSE] settings.yml:2:5 invalid yaml: line 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestZatErrorIsAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewNetworkError("UPLOAD_FAILED", "upload failed", cause)
	wrapped := fmt.Errorf("rebuild: %w", err)

	assert.True(t, errors.Is(wrapped, &ZatError{Type: ErrorTypeNetwork, Code: "UPLOAD_FAILED"}))
	assert.False(t, errors.Is(wrapped, &ZatError{Type: ErrorTypeConfig, Code: "UPLOAD_FAILED"}))
	assert.True(t, errors.Is(wrapped, cause))
	assert.True(t, IsRecoverable(wrapped))
	assert.True(t, IsType(wrapped, ErrorTypeNetwork))
}

func TestErrorPredicates(t *testing.T) {
	assert.True(t, IsConfigError(NewConfigError("X", "x", nil)))
	assert.False(t, IsRecoverable(NewConfigError("X", "x", nil)))
	assert.True(t, IsNotFound(NewNotFoundError("ASSET", "missing")))
	assert.False(t, IsNotFound(errors.New("plain")))
	assert.False(t, IsRecoverable(nil))
}

func TestWithContext(t *testing.T) {
	err := NewValidationError("ROLE", "bad role").WithContext("role", "admin")
	assert.Equal(t, "admin", err.Context["role"])
}

func TestEnhancedError(t *testing.T) {
	original := errors.New("listen tcp :4567: bind: address already in use")
	enhanced := NewEnhancedError("Failed to start server", original, ServerStartError(original, 4567))

	msg := enhanced.Error()
	assert.Contains(t, msg, "Failed to start server")
	assert.Contains(t, msg, "Port already in use")
	assert.Contains(t, msg, "zat server --port 4568")
	assert.Equal(t, original, errors.Unwrap(enhanced))
}

func TestConfigurationErrorSuggestions(t *testing.T) {
	suggestions := ConfigurationError("manifest.json: invalid json", "./app")
	assert.Len(t, suggestions, 2)
	assert.Equal(t, "Check the manifest", suggestions[0].Title)

	assert.Empty(t, ConfigurationError("something else", "."))
}

func TestUploadErrorSuggestions(t *testing.T) {
	assert.Equal(t, "Authentication rejected", UploadError(401)[0].Title)
	assert.Equal(t, "Preview endpoint not found", UploadError(404)[0].Title)
	assert.Len(t, UploadError(503), 1)
	assert.Nil(t, UploadError(422))
}

func TestFormatSuggestionsWithoutSuggestions(t *testing.T) {
	assert.Equal(t, "title", FormatSuggestions("title", nil))
}
