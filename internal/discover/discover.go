// Package discover selects the file subset a review session operates on.
package discover

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// maxFallbackFiles bounds the file subset when no priority file is present,
// keeping review prompts small enough to avoid provider timeouts.
const maxFallbackFiles = 5

// priorityFiles maps a detected language to the core files reviewed first.
var priorityFiles = map[string][]string{
	"python":     {"main.py", "model.py", "trainer.py", "data_loader.py", "config.py", "utils.py", "train.py", "test.py"},
	"go":         {"main.go", "server.go", "handler.go", "config.go"},
	"javascript": {"index.js", "app.js", "server.js", "config.js"},
	"rust":       {"main.rs", "lib.rs"},
}

// sourceExt maps a language to its source extension for fallback discovery.
var sourceExt = map[string]string{
	"python":     ".py",
	"go":         ".go",
	"javascript": ".js",
	"rust":       ".rs",
}

// DetectLanguage guesses the primary language of a directory from its
// build manifests, falling back to counting source files by extension.
func DetectLanguage(dir string) string {
	manifests := []struct {
		file string
		lang string
	}{
		{"go.mod", "go"},
		{"package.json", "javascript"},
		{"Cargo.toml", "rust"},
		{"pyproject.toml", "python"},
		{"requirements.txt", "python"},
	}
	for _, m := range manifests {
		if _, err := os.Stat(filepath.Join(dir, m.file)); err == nil {
			return m.lang
		}
	}

	counts := map[string]int{}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		for lang, ext := range sourceExt {
			if filepath.Ext(e.Name()) == ext {
				counts[lang]++
			}
		}
	}

	best := ""
	for lang, n := range counts {
		if best == "" || n > counts[best] || (n == counts[best] && lang < best) {
			best = lang
		}
	}
	return best
}

// CoreFiles returns the files to review under dir: the priority files that
// exist for the detected language, or, when none are present, the first
// few top-level source files. Paths are relative to dir.
func CoreFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("target directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("target is not a directory: %s", dir)
	}

	lang := DetectLanguage(dir)

	var files []string
	for _, name := range priorityFiles[lang] {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			files = append(files, name)
		}
	}
	if len(files) > 0 {
		return files, nil
	}

	ext := sourceExt[lang]
	if ext == "" {
		ext = ".py"
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read target directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ext {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	if len(files) > maxFallbackFiles {
		files = files[:maxFallbackFiles]
	}
	return files, nil
}
