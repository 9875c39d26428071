package theme

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/spf13/afero"

	zerrors "github.com/pchhetri/zendesk-apps-tools/internal/errors"
)

// colorAdjust matches the innermost lighten/darken call; nested calls are
// resolved by repeating the substitution.
var colorAdjust = regexp.MustCompile(`(lighten|darken)\(\s*([^(),]+?)\s*,\s*(-?\d+(?:\.\d+)?)%?\s*\)`)

// variableRef matches a whole Sass identifier, hyphens included, so
// $brand never matches inside $brand-color.
var variableRef = regexp.MustCompile(`#\{\$([\w-]+)\}|\$([\w-]+)`)

const maxColorPasses = 8

// FormatZass applies the subset of Sass that Help Center stylesheets use:
// $identifier and #{$identifier} are replaced with settings values, and
// lighten()/darken() on hex colours are evaluated. Unknown variables and
// colours that cannot be parsed are left as written.
func FormatZass(source string, variables map[string]interface{}) string {
	body := substituteVariables(source, variables)

	for i := 0; i < maxColorPasses; i++ {
		next := colorAdjust.ReplaceAllStringFunc(body, adjustColor)
		if next == body {
			break
		}
		body = next
	}

	return body
}

// Stylesheet returns style.css with settings applied.
func (t *Theme) Stylesheet() (string, error) {
	path := t.Path("style.css")
	data, err := afero.ReadFile(t.fs, path)
	if err != nil {
		if ok, _ := afero.Exists(t.fs, path); !ok {
			return "", zerrors.NewNotFoundError("STYLESHEET_MISSING", "theme has no style.css").WithPath(path)
		}
		return "", zerrors.NewIOError("STYLESHEET_READ", "cannot read style.css", err).WithPath(path)
	}

	variables, err := t.SettingsHash()
	if err != nil {
		return "", err
	}
	return FormatZass(string(data), variables), nil
}

func substituteVariables(source string, variables map[string]interface{}) string {
	if len(variables) == 0 {
		return source
	}

	return variableRef.ReplaceAllStringFunc(source, func(match string) string {
		sub := variableRef.FindStringSubmatch(match)
		name := sub[1]
		if name == "" {
			name = sub[2]
		}
		value, ok := variables[name]
		if !ok {
			return match
		}
		return stringify(value)
	})
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func adjustColor(call string) string {
	sub := colorAdjust.FindStringSubmatch(call)
	if sub == nil {
		return call
	}

	color, err := colorful.Hex(strings.TrimSpace(sub[2]))
	if err != nil {
		return call
	}
	amount, err := strconv.ParseFloat(sub[3], 64)
	if err != nil {
		return call
	}
	if sub[1] == "darken" {
		amount = -amount
	}

	h, s, l := color.Hsl()
	l = math.Max(0, math.Min(1, l+amount/100))
	return colorful.Hsl(h, s, l).Clamped().Hex()
}
