// Package settings resolves an app's declared parameters against a local
// settings file (YAML or JSON), re-reading the file only when its
// modification time moves forward.
package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/pchhetri/zendesk-apps-tools/internal/app"
	zerrors "github.com/pchhetri/zendesk-apps-tools/internal/errors"
	"github.com/pchhetri/zendesk-apps-tools/internal/logging"
)

var truthy = regexp.MustCompile(`(?i)^(true|t|yes|y|1)$`)

// Cache holds the parsed settings file of one app. It is safe for
// concurrent use; a read, parse and store happens under one lock so two
// requests racing on a changed file read it once.
type Cache struct {
	fs     afero.Fs
	path   string
	logger logging.Logger

	mu       sync.Mutex
	loaded   bool
	mtime    time.Time
	data     map[string]interface{}
	parseErr error

	reads atomic.Int64
}

// NewCache returns a cache for the settings file at path. An empty path
// yields a cache that always resolves to an empty map.
func NewCache(fs afero.Fs, path string, logger logging.Logger) *Cache {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Cache{
		fs:     fs,
		path:   path,
		logger: logger.WithComponent("settings"),
	}
}

// Path is the settings file this cache reads.
func (c *Cache) Path() string {
	return c.path
}

// Reads reports how many times the settings file has been read from disk.
func (c *Cache) Reads() int64 {
	return c.reads.Load()
}

// Resolve returns the values for params. When domain is non-empty
// and the file has a top-level object under that key, values are taken from
// it instead of the top level.
//
// A parameter takes the file value, then its default. A required parameter
// that is still absent makes the whole result empty. Checkbox values are
// coerced to booleans, objects and lists are re-encoded as JSON strings and
// empty strings are dropped.
func (c *Cache) Resolve(ctx context.Context, params []app.Parameter, domain string) map[string]interface{} {
	result := make(map[string]interface{})
	if c.path == "" || len(params) == 0 {
		return result
	}

	data, ok := c.load(ctx)
	if !ok {
		return result
	}

	if domain != "" {
		if scoped, ok := data[domain].(map[string]interface{}); ok {
			data = scoped
		}
	}

	for _, param := range params {
		value, present := data[param.Name]
		if !present || value == nil {
			value = param.Default
		}

		if value == nil && param.Required {
			c.logger.Warn(ctx, nil, "Required parameter is not specified in the settings file",
				"parameter", param.Name, "path", c.path)
			return make(map[string]interface{})
		}

		value = flatten(value)
		if param.Type == "checkbox" {
			value = ToBool(value)
		}

		if s, isString := value.(string); isString && s == "" {
			continue
		}
		result[param.Name] = value
	}

	return result
}

// load returns the parsed top-level file contents, re-reading the file when
// its mtime has advanced. ok is false when there is nothing usable.
func (c *Cache) load(ctx context.Context) (map[string]interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := c.fs.Stat(c.path)
	if err != nil {
		return nil, false
	}

	if !c.loaded || info.ModTime().After(c.mtime) {
		c.reads.Add(1)
		c.loaded = true
		c.mtime = info.ModTime()
		c.data, c.parseErr = c.read()
		if c.parseErr != nil {
			c.logger.Error(ctx, c.parseErr, "Failed to load settings file", "path", c.path)
		}
	}

	if c.parseErr != nil {
		return nil, false
	}
	return c.data, true
}

func (c *Cache) read() (map[string]interface{}, error) {
	content, err := afero.ReadFile(c.fs, c.path)
	if err != nil {
		return nil, zerrors.NewIOError("SETTINGS_READ", "cannot read settings file", err).WithPath(c.path)
	}

	data, err := Parse(c.path, content)
	if err != nil {
		return nil, zerrors.NewConfigError("SETTINGS_INVALID", "settings file is not valid YAML or JSON", err).WithPath(c.path)
	}
	return data, nil
}

// Parse decodes a settings file. JSON is used for *.json files and for any
// content whose first non-blank character is '{'; everything else is YAML.
// An empty document parses to an empty map.
func Parse(path string, content []byte) (map[string]interface{}, error) {
	var data map[string]interface{}

	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return map[string]interface{}{}, nil
	}

	if strings.EqualFold(filepath.Ext(path), ".json") || trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &data); err != nil {
			return nil, err
		}
	} else {
		if err := yaml.Unmarshal(content, &data); err != nil {
			return nil, err
		}
	}

	if data == nil {
		data = map[string]interface{}{}
	}
	return data, nil
}

// ToBool interprets a checkbox value. Booleans pass through; anything else
// is true only if its text is one of true, t, yes, y or 1 (any case).
func ToBool(value interface{}) bool {
	switch v := value.(type) {
	case bool:
		return v
	case nil:
		return false
	case string:
		return truthy.MatchString(v)
	default:
		return truthy.MatchString(fmt.Sprint(v))
	}
}

// flatten re-encodes objects and lists as compact JSON strings, the form
// the app framework expects for structured settings.
func flatten(value interface{}) interface{} {
	switch value.(type) {
	case map[string]interface{}, []interface{}, map[interface{}]interface{}:
		data, err := json.Marshal(stringKeys(value))
		if err != nil {
			return fmt.Sprint(value)
		}
		return string(data)
	default:
		return value
	}
}

// stringKeys converts YAML maps with non-string keys into JSON-encodable
// maps, recursively.
func stringKeys(value interface{}) interface{} {
	switch v := value.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			out[fmt.Sprint(key)] = stringKeys(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			out[key] = stringKeys(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = stringKeys(item)
		}
		return out
	default:
		return value
	}
}
