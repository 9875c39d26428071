package app

import (
	"strings"

	"golang.org/x/text/language"
)

// FallbackLocale is used when neither the request nor the manifest names a
// locale the package ships.
const FallbackLocale = "en"

// MatchLocale picks the entry of available that best serves requested.
// The manifest's default locale (or "en") is preferred whenever requested is
// empty, unparsable or unsupported. Returns "" only when available is empty.
func MatchLocale(requested, defaultLocale string, available []string) string {
	if len(available) == 0 {
		return ""
	}

	ordered := preferDefault(available, defaultLocale)

	names := make([]string, 0, len(ordered))
	tags := make([]language.Tag, 0, len(ordered))
	for _, name := range ordered {
		tag, err := language.Parse(name)
		if err != nil {
			continue
		}
		names = append(names, name)
		tags = append(tags, tag)
	}
	if len(tags) == 0 {
		return ordered[0]
	}

	if requested == "" {
		return names[0]
	}
	want, err := language.Parse(requested)
	if err != nil {
		return names[0]
	}

	_, index, confidence := language.NewMatcher(tags).Match(want)
	if confidence == language.No || index < 0 || index >= len(names) {
		return names[0]
	}
	return names[index]
}

// preferDefault moves the default locale (or FallbackLocale) to the front,
// since the matcher treats its first tag as the fallback.
func preferDefault(available []string, defaultLocale string) []string {
	ordered := append([]string(nil), available...)

	for _, want := range []string{defaultLocale, FallbackLocale} {
		if want == "" {
			continue
		}
		for i, name := range ordered {
			if strings.EqualFold(name, want) {
				ordered[0], ordered[i] = ordered[i], ordered[0]
				return ordered
			}
		}
	}

	return ordered
}
