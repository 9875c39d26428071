package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

// CompileOptions describes where a package is mounted in the bundle.
type CompileOptions struct {
	AppID     int
	AppName   string
	AssetsDir string
	Locale    string
}

// appTemplate wraps app.js so the framework can define the app class and
// find its templates, translations and assets. Every interpolated value
// except Source is pre-encoded JSON, which is also a valid JS literal.
var appTemplate = template.Must(template.New("app.js").Parse(`(function() {
  with( ZendeskApps.AppScope.create() ) {
    var source = {{.Source}};
  }

  var app = ZendeskApps.defineApp(source)
    .reopenClass({{.ClassOptions}})
    .reopen({
      appName: {{.AppName}},
      appVersion: {{.AppVersion}},
      assetUrlPrefix: {{.AssetURLPrefix}},
      appClassName: {{.AppClassName}},
      author: {{.Author}},
      translations: {{.Translations}},
      templates: {{.Templates}},
      frameworkVersion: {{.FrameworkVersion}}
    });

  ZendeskApps[{{.AppName}}] = app;
}());
`))

type appTemplateData struct {
	Source           string
	ClassOptions     string
	AppName          string
	AppVersion       string
	AssetURLPrefix   string
	AppClassName     string
	Author           string
	Translations     string
	Templates        string
	FrameworkVersion string
}

type classOptions struct {
	Location      map[string][]string `json:"location"`
	NoTemplate    json.RawMessage     `json:"noTemplate"`
	SingleInstall bool                `json:"singleInstall"`
}

// CompileJS renders the package into the script that registers it with
// ZendeskApps in the browser.
func (p *Package) CompileJS(opts CompileOptions) (string, error) {
	manifest := p.Manifest()

	source, err := p.Source()
	if err != nil {
		return "", fmt.Errorf("reading app.js: %w", err)
	}
	templates, err := p.Templates()
	if err != nil {
		return "", fmt.Errorf("reading templates: %w", err)
	}
	translations, err := p.Translations(opts.Locale)
	if err != nil {
		return "", fmt.Errorf("reading translations: %w", err)
	}
	hosts, err := NormalizeLocations(manifest.Location)
	if err != nil {
		return "", fmt.Errorf("manifest location: %w", err)
	}

	name := opts.AppName
	if name == "" {
		name = manifest.DisplayName()
	}

	locations := make(map[string][]string, len(hosts))
	for _, h := range hosts {
		locations[h.Host] = append(locations[h.Host], h.Locations...)
	}
	noTemplate := manifest.NoTemplate
	if len(noTemplate) == 0 {
		noTemplate = json.RawMessage("false")
	}

	data := appTemplateData{
		Source:           trimSource(source),
		ClassOptions:     mustJSON(classOptions{Location: locations, NoTemplate: noTemplate, SingleInstall: manifest.SingleInstall}),
		AppName:          mustJSON(name),
		AppVersion:       mustJSON(manifest.Version),
		AssetURLPrefix:   mustJSON(opts.AssetsDir),
		AppClassName:     mustJSON(fmt.Sprintf("app-%d", opts.AppID)),
		Author:           mustJSON(manifest.Author),
		Translations:     compactJSON(translations),
		Templates:        mustJSON(templates),
		FrameworkVersion: mustJSON(manifest.FrameworkVersion),
	}

	var buf bytes.Buffer
	if err := appTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// trimSource strips the trailing semicolon app.js files usually end with so
// the source can sit on the right-hand side of an assignment.
func trimSource(source string) string {
	source = strings.TrimRight(strings.TrimSpace(source), ";")
	if source == "" {
		return "{}"
	}
	return source
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "{}"
	}
	return buf.String()
}

// mustJSON encodes v as a JS literal, leaving markup in templates unescaped.
func mustJSON(v interface{}) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "null"
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
