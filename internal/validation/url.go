package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateURL accepts absolute http(s) URLs with a host, such as the
// preview server's public URL or an account's base URL.
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %q (only http/https allowed)", parsed.Scheme)
	}

	if strings.ContainsAny(rawURL, " \n\r\t") {
		return fmt.Errorf("URL contains whitespace")
	}

	if parsed.Host == "" {
		return fmt.Errorf("URL must have a valid hostname")
	}

	return nil
}

// ValidateHost rejects bind addresses carrying shell metacharacters.
func ValidateHost(host string) error {
	for _, char := range []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\", " "} {
		if strings.Contains(host, char) {
			return fmt.Errorf("host contains dangerous character: %s", char)
		}
	}
	return nil
}
