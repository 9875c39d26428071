package settings

import (
	"path/filepath"

	"github.com/spf13/afero"
)

var (
	searchDirs  = []string{".", "..", "settings", filepath.Join("..", "settings")}
	searchFiles = []string{"settings.yml", "settings.json"}
)

// Find looks for a settings file next to, above, or in a settings/
// directory beside the app at dir. It returns "" when none exists.
func Find(fs afero.Fs, dir string) string {
	for _, sub := range searchDirs {
		for _, name := range searchFiles {
			candidate := filepath.Join(dir, sub, name)
			if ok, _ := afero.Exists(fs, candidate); ok {
				return candidate
			}
		}
	}
	return ""
}
