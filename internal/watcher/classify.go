package watcher

import (
	"path/filepath"
	"sort"
	"strings"
)

// Decision is what a batch of changes means for the preview.
type Decision struct {
	// NeedUpload is set when the remote preview must be rebuilt: a template
	// or the manifest changed, or a file was added or removed.
	NeedUpload bool
	// Changed lists the affected paths relative to the root, slash
	// separated, sorted and unique.
	Changed []string
}

// Merge folds other into d.
func (d Decision) Merge(other Decision) Decision {
	merged := Decision{NeedUpload: d.NeedUpload || other.NeedUpload}
	merged.Changed = uniqueSorted(append(append([]string(nil), d.Changed...), other.Changed...))
	return merged
}

// Empty reports whether there is nothing to do.
func (d Decision) Empty() bool {
	return !d.NeedUpload && len(d.Changed) == 0
}

// Classify decides whether events under root require an upload. Plain
// modifications outside templates/ only need the browser to reload the
// changed files.
func Classify(root string, events []ChangeEvent) Decision {
	var decision Decision
	for _, event := range events {
		rel := event.Path
		if filepath.IsAbs(rel) {
			if r, err := filepath.Rel(root, rel); err == nil {
				rel = r
			}
		}
		rel = filepath.ToSlash(rel)
		decision.Changed = append(decision.Changed, rel)

		if event.Type.Structural() || affectsUpload(rel) {
			decision.NeedUpload = true
		}
	}
	decision.Changed = uniqueSorted(decision.Changed)
	return decision
}

func affectsUpload(rel string) bool {
	if rel == "manifest.json" {
		return true
	}
	for _, segment := range strings.Split(rel, "/") {
		if segment == "templates" {
			return true
		}
	}
	return false
}

func uniqueSorted(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	sort.Strings(paths)
	out := paths[:1]
	for _, p := range paths[1:] {
		if p != out[len(out)-1] {
			out = append(out, p)
		}
	}
	return out
}
