// Package upload sends theme preview payloads to the Help Center local
// preview endpoint and turns its replies into acknowledgements or
// structured errors.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	zerrors "github.com/pchhetri/zendesk-apps-tools/internal/errors"
	"github.com/pchhetri/zendesk-apps-tools/internal/logging"
	"github.com/pchhetri/zendesk-apps-tools/internal/theme"
	"github.com/pchhetri/zendesk-apps-tools/internal/version"
)

const (
	// PreviewPath receives the payload.
	PreviewPath = "/hc/api/internal/theming/local_preview"
	// StartPath is where a browser starts the preview session.
	StartPath = "/hc/admin/local_preview/start"

	maxResponseBody = 1 << 20
)

// Credentials authenticate against the account. A token takes precedence
// over a password.
type Credentials struct {
	Username string
	Token    string
	Password string
}

// Ack is a successful upload.
type Ack struct {
	Status     int
	PreviewURL string
}

// TemplateDiagnostic is one template validation problem reported by the
// server.
type TemplateDiagnostic struct {
	Template    string `json:"-"`
	Line        int    `json:"line"`
	Column      int    `json:"column"`
	Description string `json:"description"`
}

func (d TemplateDiagnostic) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", d.Template, d.Line, d.Column, d.Description)
}

// UploadError is a non-2xx reply. Diagnostics is set when the server
// rejected one or more templates.
type UploadError struct {
	Status      int
	Message     string
	Diagnostics []TemplateDiagnostic
}

func (e *UploadError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "upload failed (%d): %s", e.Status, e.Message)
	for _, d := range e.Diagnostics {
		b.WriteString("\n  ")
		b.WriteString(d.Error())
	}
	return b.String()
}

// Client uploads payloads. It is safe for concurrent use, although the
// build pipeline never uploads concurrently.
type Client struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client
	logger     logging.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default client, which times out after 60s.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient returns a client for the account at baseURL, e.g.
// https://acme.zendesk.com.
func NewClient(baseURL string, creds Credentials, logger logging.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		creds:      creds,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.WithComponent("upload"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PreviewURL is the page that starts a preview session in the browser.
func (c *Client) PreviewURL() string {
	return c.baseURL + StartPath
}

// Upload PUTs payload to the preview endpoint. Transport failures are
// returned as recoverable network errors, server rejections as
// *UploadError.
func (c *Client) Upload(ctx context.Context, payload *theme.Payload) (*Ack, error) {
	body, err := EncodePayload(payload)
	if err != nil {
		return nil, zerrors.NewInternalError("PAYLOAD_ENCODE", "cannot encode preview payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+PreviewPath, bytes.NewReader(body))
	if err != nil {
		return nil, zerrors.NewConfigError("UPLOAD_URL", "invalid account URL", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if c.creds.Token != "" {
		req.SetBasicAuth(c.creds.Username+"/token", c.creds.Token)
	} else {
		req.SetBasicAuth(c.creds.Username, c.creds.Password)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, zerrors.NewNetworkError("UPLOAD_UNREACHABLE",
			fmt.Sprintf("cannot reach %s", c.baseURL), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, zerrors.NewNetworkError("UPLOAD_READ", "reading upload response", err)
	}

	c.logger.Debug(ctx, "Upload finished",
		"status", resp.StatusCode, "duration", time.Since(start), "templates", len(payload.Templates))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, ParseError(resp.StatusCode, respBody)
	}

	return &Ack{Status: resp.StatusCode, PreviewURL: c.PreviewURL()}, nil
}

// EncodePayload renders the request body. Assets and variables travel as
// JSON encoded strings inside the templates object, next to the templates
// themselves.
func EncodePayload(payload *theme.Payload) ([]byte, error) {
	templates := make(map[string]interface{}, len(payload.Templates)+4)
	for name, content := range payload.Templates {
		templates[name] = content
	}

	assets, err := json.Marshal(nonNilStrings(payload.Assets))
	if err != nil {
		return nil, err
	}
	variables, err := json.Marshal(nonNilValues(payload.Variables))
	if err != nil {
		return nil, err
	}
	templates["assets"] = string(assets)
	templates["variables"] = string(variables)
	templates["css"] = payload.StyleURL
	templates["js"] = payload.ScriptURL

	return json.Marshal(map[string]interface{}{
		"templates": templates,
		"role":      payload.Role,
	})
}

// ParseError builds an *UploadError from a rejected response. Bodies of the
// form {"template_errors": {"<template>": [{line, column, description}]}}
// yield one diagnostic per entry, sorted by template then line.
func ParseError(status int, body []byte) *UploadError {
	uerr := &UploadError{Status: status}

	var parsed struct {
		TemplateErrors map[string][]TemplateDiagnostic `json:"template_errors"`
		Error          interface{}                     `json:"error"`
		Description    string                          `json:"description"`
		Message        string                          `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		for name, diagnostics := range parsed.TemplateErrors {
			for _, d := range diagnostics {
				d.Template = name
				uerr.Diagnostics = append(uerr.Diagnostics, d)
			}
		}
		sort.SliceStable(uerr.Diagnostics, func(i, j int) bool {
			a, b := uerr.Diagnostics[i], uerr.Diagnostics[j]
			if a.Template != b.Template {
				return a.Template < b.Template
			}
			return a.Line < b.Line
		})

		switch {
		case len(uerr.Diagnostics) > 0:
			uerr.Message = "template validation failed"
		case parsed.Description != "":
			uerr.Message = parsed.Description
		case parsed.Message != "":
			uerr.Message = parsed.Message
		case parsed.Error != nil:
			uerr.Message = fmt.Sprint(parsed.Error)
		}
	}

	if uerr.Message == "" {
		uerr.Message = strings.TrimSpace(string(body))
	}
	if uerr.Message == "" {
		uerr.Message = http.StatusText(status)
	}
	return uerr
}

func nonNilStrings(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilValues(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
