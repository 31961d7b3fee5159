// Package wptfile turns a WPT test file on disk into a core.Job: it reads
// META directives or HTML script tags, loads the referenced helper scripts
// and optionally lowers every source with esbuild.
package wptfile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cryguy/wptworker/internal/core"
	"github.com/cryguy/wptworker/internal/webapi"
)

// Options configures Load.
type Options struct {
	// BaseURL is the page location the test runs at.
	BaseURL string
	// InitScripts are files evaluated before the meta scripts.
	InitScripts []string
	// Transform is an esbuild target ("es2020", "esnext", ...). Empty
	// leaves sources untouched.
	Transform string
	// Variant selects one of the file's META variants. Empty picks the
	// first declared one.
	Variant string
}

// Load reads the test at path, which must live under root.
func Load(root, path string, opts Options) (*core.Job, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving corpus root: %w", err)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving test path: %w", err)
	}
	src, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading test: %w", err)
	}

	l := &loader{root: absRoot, dir: filepath.Dir(absPath), target: opts.Transform}
	job := &core.Job{URL: opts.BaseURL, Path: absPath}

	var refs []string
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".html", ".htm":
		page, err := ParseHTML(bytes.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", absPath, err)
		}
		refs = page.Scripts
		job.Meta.Title = page.Title
		job.Meta.Timeout = page.Timeout
		job.Test = strings.Join(page.Inline, "\n;\n")
	default:
		d := ParseMeta(string(src))
		refs = d.Scripts
		job.Meta.Title = d.Title
		job.Meta.Timeout = d.Timeout
		job.Meta.Variant = pickVariant(d.Variants, opts.Variant)
		job.Test = string(src)
	}

	if job.Meta.Variant != "" && opts.BaseURL != "" {
		u, err := webapi.ResolveURL(job.Meta.Variant, opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("applying variant %q: %w", job.Meta.Variant, err)
		}
		job.URL = u
	}

	if job.Test, err = l.transform(job.Test, absPath); err != nil {
		return nil, err
	}
	for _, p := range opts.InitScripts {
		s, err := l.read(p)
		if err != nil {
			return nil, fmt.Errorf("loading init script: %w", err)
		}
		job.InitScripts = append(job.InitScripts, s)
	}
	for _, ref := range refs {
		s, err := l.read(l.resolve(ref))
		if err != nil {
			return nil, fmt.Errorf("loading META script %s: %w", ref, err)
		}
		job.Meta.Scripts = append(job.Meta.Scripts, s)
	}
	return job, nil
}

func pickVariant(variants []string, want string) string {
	if want != "" {
		return want
	}
	if len(variants) > 0 {
		return variants[0]
	}
	return ""
}

type loader struct {
	root   string
	dir    string
	target string
}

// resolve maps a script reference to a file. Rooted references are
// relative to the corpus root, everything else to the test's directory.
func (l *loader) resolve(ref string) string {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	if strings.HasPrefix(ref, "/") {
		return filepath.Join(l.root, filepath.FromSlash(ref))
	}
	return filepath.Join(l.dir, filepath.FromSlash(ref))
}

func (l *loader) read(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return l.transform(string(data), path)
}

func (l *loader) transform(src, name string) (string, error) {
	if l.target == "" {
		return src, nil
	}
	return Transform(src, l.target, name)
}

// IsTest reports whether name looks like a runnable WPT file.
func IsTest(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	switch {
	case strings.HasSuffix(base, ".any.js"),
		strings.HasSuffix(base, ".window.js"),
		strings.HasSuffix(base, ".worker.js"),
		strings.HasSuffix(base, ".html"),
		strings.HasSuffix(base, ".htm"):
		return true
	}
	return false
}
