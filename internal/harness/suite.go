package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ScenarioFiles returns the .yaml and .yml files under dir, sorted. A
// non-empty filter is a glob matched against the base name without its
// extension.
func ScenarioFiles(dir, filter string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("scenarios directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}
	var files []string
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		ext := filepath.Ext(path)
		if d.IsDir() || (ext != ".yaml" && ext != ".yml") {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			ok, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter %q: %w", filter, err)
			}
			if !ok {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// FileResult is the outcome of one scenario file.
type FileResult struct {
	Path   string  `json:"path"`
	Name   string  `json:"name"`
	Result *Result `json:"result,omitempty"`
	Err    string  `json:"error,omitempty"`
}

// Pass reports whether the scenario loaded, ran and passed.
func (f FileResult) Pass() bool { return f.Err == "" && f.Result != nil && f.Result.Pass }

// RunFiles loads and runs each scenario file in order. Load and harness
// errors are recorded per file rather than stopping the suite.
func RunFiles(ctx context.Context, files []string, opts ...Option) []FileResult {
	out := make([]FileResult, 0, len(files))
	for _, path := range files {
		fr := FileResult{Path: path, Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))}
		s, err := LoadScenario(path)
		if err != nil {
			fr.Err = err.Error()
			out = append(out, fr)
			continue
		}
		fr.Name = s.Name
		if fr.Result, err = Run(ctx, s, opts...); err != nil {
			fr.Err = err.Error()
		}
		out = append(out, fr)
	}
	return out
}
