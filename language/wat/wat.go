// Package wat provides the WebAssembly language adapter. Source is
// WebAssembly text format, or a binary module, run on wazero with WASI
// preview 1 available for output.
package wat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/wippyai/wasm-runtime/wat"

	"github.com/caffeineduck/actionproxy/executor"
)

const wasmMagic = "\x00asm"

// Option configures the adapter.
type Option func(*WAT)

// WithMemoryLimitPages caps linear memory per instance in 64KiB pages.
// 0 keeps wazero's default.
func WithMemoryLimitPages(pages uint32) Option {
	return func(w *WAT) { w.memoryLimitPages = pages }
}

// WAT implements executor.Language for WebAssembly modules. It owns a
// wazero runtime created on first use; Close releases it.
type WAT struct {
	memoryLimitPages uint32

	once sync.Once
	rt   wazero.Runtime
	err  error
}

// New returns a WebAssembly language adapter.
func New(opts ...Option) *WAT {
	w := &WAT{}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name returns "wat".
func (w *WAT) Name() string {
	return "wat"
}

// EntryPoint returns "main".
func (w *WAT) EntryPoint() string {
	return "main"
}

func (w *WAT) runtime() (wazero.Runtime, error) {
	w.once.Do(func() {
		ctx := context.Background()
		cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
		if w.memoryLimitPages > 0 {
			cfg = cfg.WithMemoryLimitPages(w.memoryLimitPages)
		}
		rt := wazero.NewRuntimeWithConfig(ctx, cfg)
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
			rt.Close(ctx)
			w.err = fmt.Errorf("instantiate wasi: %w", err)
			return
		}
		w.rt = rt
	})
	return w.rt, w.err
}

// Compile assembles text source and validates the module.
func (w *WAT) Compile(ctx context.Context, filename, source string) (executor.Program, error) {
	rt, err := w.runtime()
	if err != nil {
		return nil, err
	}

	var bin []byte
	if strings.HasPrefix(source, wasmMagic) {
		bin = []byte(source)
	} else {
		bin, err = wat.Compile(source)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
	}

	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return &program{rt: rt, compiled: compiled}, nil
}

// Close releases the runtime and every module compiled by it.
func (w *WAT) Close(ctx context.Context) error {
	if w.rt == nil {
		return nil
	}
	return w.rt.Close(ctx)
}

type program struct {
	rt       wazero.Runtime
	compiled wazero.CompiledModule
}

// Exec instantiates the module. A start section runs here, as does an
// exported _initialize.
func (p *program) Exec(ctx context.Context, env executor.Env) (executor.Unit, error) {
	stdout := env.Stdout
	if stdout == nil {
		stdout = io.Discard
	}

	cfg := wazero.NewModuleConfig().
		WithName("").
		WithStdout(stdout).
		WithStderr(stdout).
		WithStartFunctions("_initialize")

	mod, err := p.rt.InstantiateModule(ctx, p.compiled, cfg)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(p.compiled.ExportedFunctions()))
	for name := range p.compiled.ExportedFunctions() {
		names = append(names, name)
	}
	sort.Strings(names)

	return &unit{mod: mod, names: names}, nil
}

func (p *program) Close(ctx context.Context) error {
	return p.compiled.Close(ctx)
}

type unit struct {
	mod   api.Module
	names []string
}

// Call invokes the exported function. A single parameter takes the JSON
// value itself; several parameters take a JSON array of matching length.
func (u *unit) Call(ctx context.Context, entry string, arg any) (any, error) {
	fn := u.mod.ExportedFunction(entry)
	if fn == nil {
		return nil, executor.EntryPointError(entry, "not exported")
	}
	def := fn.Definition()

	params, err := encodeParams(def.ParamTypes(), arg)
	if err != nil {
		return nil, executor.ArgumentError(err.Error())
	}

	out, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, err
	}
	return decodeResults(def.ResultTypes(), out)
}

func (u *unit) Names() []string {
	return u.names
}

func (u *unit) Close(ctx context.Context) error {
	return u.mod.Close(ctx)
}

func encodeParams(types []api.ValueType, arg any) ([]uint64, error) {
	switch len(types) {
	case 0:
		return nil, nil
	case 1:
		v, err := encode(arg, types[0])
		if err != nil {
			return nil, err
		}
		return []uint64{v}, nil
	default:
		list, ok := arg.([]any)
		if !ok || len(list) != len(types) {
			return nil, fmt.Errorf("function takes %d parameters; pass a JSON array of that length", len(types))
		}
		params := make([]uint64, len(types))
		for i, t := range types {
			v, err := encode(list[i], t)
			if err != nil {
				return nil, fmt.Errorf("parameter %d: %w", i, err)
			}
			params[i] = v
		}
		return params, nil
	}
}

func encode(arg any, t api.ValueType) (uint64, error) {
	if arg == nil {
		return 0, nil
	}

	n, err := number(arg)
	if err != nil {
		return 0, err
	}

	switch t {
	case api.ValueTypeI32:
		i, err := n.Int64()
		if err != nil || i < math.MinInt32 || i > math.MaxUint32 {
			return 0, fmt.Errorf("%s is not an i32", n)
		}
		return uint64(uint32(i)), nil
	case api.ValueTypeI64:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("%s is not an i64", n)
		}
		return api.EncodeI64(i), nil
	case api.ValueTypeF32:
		f, err := n.Float64()
		if err != nil {
			return 0, err
		}
		return api.EncodeF32(float32(f)), nil
	case api.ValueTypeF64:
		f, err := n.Float64()
		if err != nil {
			return 0, err
		}
		return api.EncodeF64(f), nil
	default:
		return 0, fmt.Errorf("parameter type %s is not supported", api.ValueTypeName(t))
	}
}

func number(arg any) (json.Number, error) {
	switch v := arg.(type) {
	case json.Number:
		return v, nil
	case bool:
		if v {
			return "1", nil
		}
		return "0", nil
	case int, int32, int64, uint32, uint64, float32, float64:
		return json.Number(fmt.Sprint(v)), nil
	default:
		return "", fmt.Errorf("%T is not a number", arg)
	}
}

func decodeResults(types []api.ValueType, out []uint64) (any, error) {
	values := make([]any, len(out))
	for i, r := range out {
		switch types[i] {
		case api.ValueTypeI32:
			values[i] = int64(api.DecodeI32(r))
		case api.ValueTypeI64:
			values[i] = int64(r)
		case api.ValueTypeF32:
			values[i] = float64(api.DecodeF32(r))
		case api.ValueTypeF64:
			values[i] = api.DecodeF64(r)
		default:
			return nil, executor.ResultError("result type " + api.ValueTypeName(types[i]) + " has no JSON form")
		}
		if f, ok := values[i].(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			return nil, executor.ResultError(fmt.Sprintf("float %v has no JSON form", f))
		}
	}

	switch len(values) {
	case 0:
		return nil, nil
	case 1:
		return values[0], nil
	default:
		return values, nil
	}
}
