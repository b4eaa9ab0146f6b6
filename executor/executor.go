package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/caffeineduck/actionproxy/hostfunc"
)

// Result holds the outcome of one Init or Run.
type Result struct {
	// Value is the entry point's return value (Run only). It is Void for
	// stub sessions.
	Value    any
	Output   string
	Duration time.Duration
	Error    error
}

// OK reports whether the phase succeeded.
func (r Result) OK() bool {
	return r.Error == nil
}

// Executor owns the compile cache and the base host function registry
// shared by all sessions it creates.
type Executor struct {
	registry *hostfunc.Registry
	cache    *lru.Cache[string, Program]
	mu       sync.Mutex
	closed   bool
}

// New creates an Executor with the given host function registry.
func New(registry *hostfunc.Registry, opts ...ExecutorOption) (*Executor, error) {
	cfg := defaultExecutorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if registry == nil {
		registry = hostfunc.NewRegistry()
	}

	e := &Executor{registry: registry}

	if cfg.compileCacheSize > 0 {
		cache, err := lru.NewWithEvict(cfg.compileCacheSize, func(_ string, p Program) {
			closeProgram(p)
		})
		if err != nil {
			return nil, fmt.Errorf("create compile cache: %w", err)
		}
		e.cache = cache
	}

	return e, nil
}

// Compile returns a cached program for source, compiling if necessary.
// A cached program may be closed on eviction, so callers must Exec it
// right away rather than hold on to it.
func (e *Executor) Compile(ctx context.Context, lang Language, filename, source string) (Program, error) {
	key := cacheKey(lang, filename, source)

	if e.cache != nil {
		if prog, ok := e.cache.Get(key); ok {
			Logger().Debug("compile cache hit", zap.String("lang", lang.Name()))
			return prog, nil
		}
	}

	prog, err := compileSafely(ctx, lang, filename, source)
	if err != nil {
		return nil, CompileError(KindSyntax, err)
	}

	if e.cache != nil {
		if prev, found, _ := e.cache.PeekOrAdd(key, prog); found {
			closeProgram(prog)
			return prev, nil
		}
	}

	return prog, nil
}

// Run loads code into a throwaway session and invokes its entry point once.
func (e *Executor) Run(ctx context.Context, lang Language, code string, arg any, opts ...SessionOption) Result {
	start := time.Now()

	session, err := e.NewSession(lang, opts...)
	if err != nil {
		return Result{Error: err, Duration: time.Since(start)}
	}
	defer session.Close()

	loaded := session.Init(ctx, code)
	if loaded.Error != nil {
		loaded.Duration = time.Since(start)
		return loaded
	}

	result := session.Run(ctx, arg)
	result.Output = loaded.Output + result.Output
	result.Duration = time.Since(start)
	return result
}

// Close drops every cached program. Languages passed to this executor
// must be closed after it.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if e.cache != nil {
		e.cache.Purge()
	}
	return nil
}

func compileSafely(ctx context.Context, lang Language, filename, source string) (prog Program, err error) {
	defer func() {
		if r := recover(); r != nil {
			prog, err = nil, fmt.Errorf("%s compiler panic: %v", lang.Name(), r)
		}
	}()
	return lang.Compile(ctx, filename, source)
}

func cacheKey(lang Language, filename, source string) string {
	sum := sha256.Sum256([]byte(source))
	return fmt.Sprintf("%s@%p/%s/%s", lang.Name(), lang, filename, hex.EncodeToString(sum[:]))
}

func closeProgram(p Program) {
	if c, ok := p.(closer); ok {
		if err := c.Close(context.Background()); err != nil {
			Logger().Warn("close program", zap.Error(err))
		}
	}
}
