// Package language resolves language names to executor.Language adapters.
package language

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/caffeineduck/actionproxy/executor"
	"github.com/caffeineduck/actionproxy/language/golang"
	"github.com/caffeineduck/actionproxy/language/javascript"
	"github.com/caffeineduck/actionproxy/language/noop"
	"github.com/caffeineduck/actionproxy/language/python"
	"github.com/caffeineduck/actionproxy/language/starlark"
	"github.com/caffeineduck/actionproxy/language/wat"
)

// Default is the language used when none is named.
const Default = "python"

var aliases = map[string]string{
	"python":     "python",
	"py":         "python",
	"python3":    "python",
	"starlark":   "starlark",
	"star":       "starlark",
	"javascript": "javascript",
	"js":         "javascript",
	"go":         "go",
	"golang":     "go",
	"wat":        "wat",
	"wasm":       "wat",
	"noop":       "noop",
	"stub":       "noop",
}

var extensions = map[string]string{
	".py":   "python",
	".star": "starlark",
	".js":   "javascript",
	".mjs":  "javascript",
	".go":   "go",
	".wat":  "wat",
	".wasm": "wat",
}

// Canonical maps a name or alias to the adapter name.
func Canonical(name string) (string, error) {
	if name == "" {
		return Default, nil
	}
	canonical, ok := aliases[strings.ToLower(name)]
	if !ok {
		return "", fmt.Errorf("unsupported language %q (supported: %s)", name, strings.Join(Names(), ", "))
	}
	return canonical, nil
}

// FromExtension guesses the language of a file by its extension.
func FromExtension(path string) (string, bool) {
	name, ok := extensions[strings.ToLower(filepath.Ext(path))]
	return name, ok
}

// Names lists the canonical language names.
func Names() []string {
	seen := make(map[string]bool)
	var names []string
	for _, canonical := range aliases {
		if !seen[canonical] {
			seen[canonical] = true
			names = append(names, canonical)
		}
	}
	sort.Strings(names)
	return names
}

type Option func(*Set)

// WithWasmMemoryLimit caps WebAssembly linear memory in 64KiB pages.
func WithWasmMemoryLimit(pages uint32) Option {
	return func(s *Set) { s.wasmPages = pages }
}

// Set hands out one adapter instance per language so that compile cache
// keys stay stable and engine resources are shared.
type Set struct {
	wasmPages uint32

	mu    sync.Mutex
	langs map[string]executor.Language
}

func NewSet(opts ...Option) *Set {
	s := &Set{langs: make(map[string]executor.Language)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the adapter for name, creating it on first use.
func (s *Set) Get(name string) (executor.Language, error) {
	canonical, err := Canonical(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if lang, ok := s.langs[canonical]; ok {
		return lang, nil
	}

	var lang executor.Language
	switch canonical {
	case "python":
		lang = python.New()
	case "starlark":
		lang = starlark.New()
	case "javascript":
		lang = javascript.New()
	case "go":
		lang = golang.New()
	case "wat":
		lang = wat.New(wat.WithMemoryLimitPages(s.wasmPages))
	case "noop":
		lang = noop.New()
	}
	s.langs[canonical] = lang
	return lang, nil
}

type closer interface {
	Close(ctx context.Context) error
}

// Close releases engine resources held by the adapters. Executors using
// them should be closed first.
func (s *Set) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for name, lang := range s.langs {
		if c, ok := lang.(closer); ok {
			if err := c.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			}
		}
		delete(s.langs, name)
	}
	return errors.Join(errs...)
}
