// Package lint validates many training config files concurrently.
package lint

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/eugenenazirov/trainconf/internal/hparams"
)

// Options configure Run.
type Options struct {
	Strict  bool
	Workers int
}

// FileResult is the outcome for a single file. Err is set when the file could
// not be read or parsed; Report is only meaningful when Err is nil.
type FileResult struct {
	Path   string         `json:"path"`
	Report hparams.Report `json:"report"`
	Err    error          `json:"-"`
}

// Valid reports whether the file parsed and has no validation errors.
func (r FileResult) Valid() bool {
	return r.Err == nil && r.Report.Valid()
}

// Run expands directories in paths to the YAML files they contain and
// validates every file with at most opts.Workers files in flight. Results are
// returned in expansion order. Only context cancellation or a failure to walk
// a directory fails the run.
func Run(ctx context.Context, paths []string, opts Options) ([]FileResult, error) {
	files, err := Expand(paths)
	if err != nil {
		return nil, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make([]FileResult, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = checkFile(path, opts)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func checkFile(path string, opts Options) FileResult {
	doc, err := hparams.LoadFile(path)
	if err != nil {
		return FileResult{Path: path, Err: err}
	}
	return FileResult{
		Path:   path,
		Report: hparams.Validate(doc, hparams.Options{Strict: opts.Strict}),
	}
}

// Expand replaces each directory in paths with the *.yaml and *.yml files below
// it, sorted. Plain file paths are kept as given.
func Expand(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || !info.IsDir() {
			// missing files surface as per-file read errors
			out = append(out, p)
			continue
		}

		var found []string
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && IsConfigFile(path) {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
		sort.Strings(found)
		out = append(out, found...)
	}
	return out, nil
}

// IsConfigFile reports whether path has a YAML extension.
func IsConfigFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}
