package errors

import (
	"fmt"
	"strings"
)

// ErrorSuggestion represents a suggestion for fixing an error
type ErrorSuggestion struct {
	Title       string
	Description string
	Command     string
	Example     string
}

// ServerStartError generates suggestions for server startup failures
func ServerStartError(err error, port int) []ErrorSuggestion {
	suggestions := []ErrorSuggestion{}

	errStr := err.Error()

	if strings.Contains(errStr, "address already in use") || strings.Contains(errStr, "bind") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Port already in use",
			Description: fmt.Sprintf("Port %d is already being used by another process", port),
			Command:     fmt.Sprintf("lsof -i :%d", port),
		})

		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Use a different port",
			Description: "Start the server on a different port",
			Command:     fmt.Sprintf("zat server --port %d", port+1),
		})
	}

	if strings.Contains(errStr, "permission denied") && port < 1024 {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Use unprivileged port",
			Description: "Ports below 1024 require root privileges",
			Command:     "zat server --port 4567",
		})
	}

	return suggestions
}

// ConfigurationError generates suggestions for configuration issues
func ConfigurationError(configError string, path string) []ErrorSuggestion {
	suggestions := []ErrorSuggestion{}

	if strings.Contains(configError, "manifest") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Check the manifest",
			Description: "Every app or theme directory needs a valid manifest.json",
			Command:     "cat " + strings.TrimSuffix(path, "/") + "/manifest.json",
		})
	}

	if strings.Contains(configError, "yaml") || strings.Contains(configError, "json") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Fix file syntax",
			Description: "There's a syntax error in a YAML or JSON file",
			Example:     "Use proper indentation and avoid tabs",
		})
	}

	if strings.Contains(configError, "path") || strings.Contains(configError, "directory") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Check directory paths",
			Description: "Verify the paths given on the command line exist",
			Command:     "ls -la " + path,
		})
	}

	if strings.Contains(configError, "subdomain") || strings.Contains(configError, "username") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Provide account credentials",
			Description: "Theme preview uploads to your account; set them in .zat or the environment",
			Example:     "export ZAT_THEME_SUBDOMAIN=mycompany ZAT_THEME_USERNAME=me@example.com ZAT_THEME_TOKEN=...",
		})
	}

	return suggestions
}

// UploadError generates suggestions for a failed preview upload.
func UploadError(status int) []ErrorSuggestion {
	switch {
	case status == 401 || status == 403:
		return []ErrorSuggestion{{
			Title:       "Authentication rejected",
			Description: "Check the username and API token for this subdomain",
		}}
	case status == 404:
		return []ErrorSuggestion{{
			Title:       "Preview endpoint not found",
			Description: "Local theme preview must be enabled for the account",
		}}
	case status >= 500 || status == 0:
		return []ErrorSuggestion{{
			Title:       "Try again",
			Description: "Save any file in the theme to trigger another upload",
		}}
	}
	return nil
}

// FormatSuggestions formats suggestions into a user-friendly string
func FormatSuggestions(title string, suggestions []ErrorSuggestion) string {
	if len(suggestions) == 0 {
		return title
	}

	var output strings.Builder
	output.WriteString(title + "\n\n")
	output.WriteString("Suggestions:\n")

	for i, suggestion := range suggestions {
		output.WriteString(fmt.Sprintf("  %d. %s\n", i+1, suggestion.Title))
		if suggestion.Description != "" {
			output.WriteString(fmt.Sprintf("     %s\n", suggestion.Description))
		}
		if suggestion.Command != "" {
			output.WriteString(fmt.Sprintf("     Run: %s\n", suggestion.Command))
		}
		if suggestion.Example != "" {
			output.WriteString(fmt.Sprintf("     Example: %s\n", suggestion.Example))
		}
		output.WriteString("\n")
	}

	return output.String()
}

// EnhancedError wraps an error with suggestions
type EnhancedError struct {
	OriginalError error
	Title         string
	Suggestions   []ErrorSuggestion
}

// Error implements the error interface
func (e *EnhancedError) Error() string {
	msg := e.Title
	if e.OriginalError != nil {
		msg += ": " + e.OriginalError.Error()
	}
	return FormatSuggestions(msg, e.Suggestions)
}

// Unwrap returns the original error
func (e *EnhancedError) Unwrap() error {
	return e.OriginalError
}

// NewEnhancedError creates a new enhanced error with suggestions
func NewEnhancedError(title string, originalError error, suggestions []ErrorSuggestion) *EnhancedError {
	return &EnhancedError{
		OriginalError: originalError,
		Title:         title,
		Suggestions:   suggestions,
	}
}
