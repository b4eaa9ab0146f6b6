package executor

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/caffeineduck/actionproxy/hostfunc"
)

// State is the session's position in the init/run state machine.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoaded        State = "loaded"
)

// Status is a point-in-time view of a session.
type Status struct {
	State         State     `json:"state"`
	Lang          string    `json:"lang"`
	EntryPoint    string    `json:"entry_point"`
	InitMode      InitMode  `json:"init_mode"`
	CompileFailed bool      `json:"compile_failed"`
	LoadedAt      time.Time `json:"loaded_at,omitzero"`
	Inits         int64     `json:"inits"`
	Runs          int64     `json:"runs"`
	Names         []string  `json:"names,omitempty"`
}

// Session holds the most recently loaded unit of code and invokes its entry
// point on demand. Init, Run and Close are serialised by the session lock,
// so a run never observes a half-installed unit.
type Session struct {
	exec     *Executor
	lang     Language
	cfg      sessionConfig
	registry *hostfunc.Registry
	out      *sessionOutput
	stub     bool

	mu            sync.Mutex
	unit          Unit    // exec mode: executed namespace
	program       Program // compile mode: owned, not cached
	loadedAt      time.Time
	compileFailed bool
	inits         int64
	runs          int64
	closed        bool
}

// NewSession creates an uninitialized session for lang.
func (e *Executor) NewSession(lang Language, opts ...SessionOption) (*Session, error) {
	if lang == nil {
		return nil, fmt.Errorf("new session: language required")
	}

	cfg := defaultSessionConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	registry := hostfunc.NewRegistry()
	for name, fn := range e.registry.All() {
		registry.Register(name, fn)
	}

	s := &Session{
		exec:     e,
		lang:     lang,
		cfg:      cfg,
		registry: registry,
		out:      &sessionOutput{},
	}
	if stub, ok := lang.(Stub); ok {
		s.stub = stub.Stub()
	}

	s.registerHostFunctions()
	return s, nil
}

func (s *Session) registerHostFunctions() {
	s.registry.Register("time_now", func(ctx context.Context, args map[string]any) (any, error) {
		return float64(time.Now().UnixNano()) / 1e9, nil
	})

	if s.cfg.kvEnabled {
		kv := hostfunc.NewKV(s.cfg.kvOptions...)
		s.registry.Register("kv_get", kv.Get)
		s.registry.Register("kv_set", kv.Set)
		s.registry.Register("kv_delete", kv.Delete)
		s.registry.Register("kv_keys", kv.Keys)
	}

	if len(s.cfg.allowedHosts) > 0 {
		httpCfg := hostfunc.HTTPConfig{
			AllowedHosts:   s.cfg.allowedHosts,
			MaxURLLength:   s.cfg.httpMaxURLLength,
			MaxBodySize:    s.cfg.httpMaxBodySize,
			RequestTimeout: s.cfg.httpTimeout,
		}
		s.registry.Register("http_request", hostfunc.NewHTTP(httpCfg).Request)
		s.registry.Register("http_get", hostfunc.NewHTTPGet(httpCfg))
	}

	if len(s.cfg.mounts) > 0 {
		fs := hostfunc.NewFS(s.cfg.mounts, s.cfg.fsOptions...)
		s.registry.Register("fs_read", fs.Read)
		s.registry.Register("fs_write", fs.Write)
		s.registry.Register("fs_list", fs.List)
		s.registry.Register("fs_exists", fs.Exists)
		s.registry.Register("fs_mkdir", fs.Mkdir)
		s.registry.Register("fs_remove", fs.Remove)
		s.registry.Register("fs_stat", fs.Stat)
	}
}

// Language returns the language this session loads.
func (s *Session) Language() Language {
	return s.lang
}

// Init loads code, replacing whatever was loaded before. On failure the
// previous unit, if any, stays live.
func (s *Session) Init(ctx context.Context, code string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()

	if s.closed {
		return Result{Error: &Error{Phase: PhaseCompile, Kind: KindClosed, Detail: "session closed"}, Duration: time.Since(start)}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	s.inits++

	if s.stub {
		s.compileFailed = false
		return Result{Duration: time.Since(start)}
	}

	s.out.Reset()
	var err error

	switch s.cfg.initMode {
	case InitCompile:
		var prog Program
		prog, err = compileSafely(ctx, s.lang, s.cfg.filename, code)
		if err != nil {
			err = s.classify(ctx, PhaseCompile, KindSyntax, err)
			break
		}
		s.install(nil, prog)

	default:
		var prog Program
		prog, err = s.exec.Compile(ctx, s.lang, s.cfg.filename, code)
		if err != nil {
			err = s.classify(ctx, PhaseCompile, KindSyntax, err)
			break
		}
		var unit Unit
		unit, err = execSafely(ctx, prog, s.env())
		if s.exec.cache == nil {
			// uncached programs are not needed once executed
			closeProgram(prog)
		}
		if err != nil {
			err = s.classify(ctx, PhaseCompile, KindExec, err)
			break
		}
		s.install(unit, nil)
	}

	s.compileFailed = err != nil

	result := Result{Output: s.out.String(), Error: err, Duration: time.Since(start)}
	s.log("init", result)
	return result
}

// Run binds arg and calls the entry point of the loaded unit.
func (s *Session) Run(ctx context.Context, arg any) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()

	if s.closed {
		return Result{Error: ErrSessionClosed, Duration: time.Since(start)}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	s.runs++

	if s.stub {
		return Result{Value: Void, Duration: time.Since(start)}
	}

	s.out.Reset()
	unit := s.unit

	if s.cfg.initMode == InitCompile {
		if s.program == nil {
			return Result{Error: ErrNotInitialized, Duration: time.Since(start)}
		}
		fresh, err := execSafely(ctx, s.program, s.env())
		if err != nil {
			result := Result{
				Output:   s.out.String(),
				Error:    s.classify(ctx, PhaseInvoke, KindExec, err),
				Duration: time.Since(start),
			}
			s.log("run", result)
			return result
		}
		defer closeUnit(fresh)
		unit = fresh
	}

	if unit == nil {
		return Result{Error: ErrNotInitialized, Duration: time.Since(start)}
	}

	value, err := callSafely(ctx, unit, s.lang.EntryPoint(), arg)
	if err != nil {
		err = s.classify(ctx, PhaseInvoke, KindRaised, err)
		value = nil
	}

	result := Result{Value: value, Output: s.out.String(), Error: err, Duration: time.Since(start)}
	s.log("run", result)
	return result
}

// State reports whether a unit is loaded.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	if s.unit != nil || s.program != nil {
		return StateLoaded
	}
	return StateUninitialized
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:         s.stateLocked(),
		Lang:          s.lang.Name(),
		EntryPoint:    s.lang.EntryPoint(),
		InitMode:      s.cfg.initMode,
		CompileFailed: s.compileFailed,
		LoadedAt:      s.loadedAt,
		Inits:         s.inits,
		Runs:          s.runs,
	}
	if s.unit != nil {
		st.Names = s.unit.Names()
		sort.Strings(st.Names)
	}
	return st
}

// Close releases the loaded unit. Further Init and Run calls fail.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.install(nil, nil)
	return nil
}

// install swaps in the new state and releases the old one.
func (s *Session) install(unit Unit, prog Program) {
	oldUnit, oldProg := s.unit, s.program
	s.unit, s.program = unit, prog

	if unit != nil || prog != nil {
		s.loadedAt = time.Now()
	} else {
		s.loadedAt = time.Time{}
	}

	if oldUnit != nil {
		closeUnit(oldUnit)
	}
	if oldProg != nil {
		closeProgram(oldProg)
	}
}

// env is shared by every phase. Output is collected per phase because the
// session lock keeps phases from overlapping.
func (s *Session) env() Env {
	return Env{Registry: s.registry, Stdout: s.out}
}

func (s *Session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.timeout > 0 {
		return context.WithTimeout(ctx, s.cfg.timeout)
	}
	return context.WithCancel(ctx)
}

// classify turns an engine error into a typed one. A context that expired
// while the engine ran wins over whatever the engine reported.
func (s *Session) classify(ctx context.Context, phase Phase, kind Kind, err error) error {
	if ctx.Err() != nil && KindOf(err) != KindTimeout {
		return &Error{Phase: phase, Kind: KindTimeout, Detail: fmt.Sprintf("timeout after %v", s.cfg.timeout), Cause: err}
	}
	return wrap(phase, kind, err)
}

func (s *Session) log(phase string, r Result) {
	fields := []zap.Field{
		zap.String("phase", phase),
		zap.String("lang", s.lang.Name()),
		zap.Duration("duration", r.Duration),
	}
	if r.Output != "" {
		fields = append(fields, zap.String("output", r.Output))
	}
	if r.Error != nil {
		Logger().Debug("session phase failed", append(fields, zap.Error(r.Error))...)
		return
	}
	Logger().Debug("session phase ok", fields...)
}

func execSafely(ctx context.Context, prog Program, env Env) (unit Unit, err error) {
	defer func() {
		if r := recover(); r != nil {
			unit, err = nil, fmt.Errorf("panic during exec: %v", r)
		}
	}()
	return prog.Exec(ctx, env)
}

func callSafely(ctx context.Context, unit Unit, entry string, arg any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, err = nil, fmt.Errorf("panic during call: %v", r)
		}
	}()
	return unit.Call(ctx, entry, arg)
}

func closeUnit(u Unit) {
	if err := u.Close(context.Background()); err != nil {
		Logger().Warn("close unit", zap.Error(err))
	}
}

type sessionOutput struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (o *sessionOutput) Write(data []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.Write(data)
}

func (o *sessionOutput) Reset() {
	o.mu.Lock()
	o.buf.Reset()
	o.mu.Unlock()
}

func (o *sessionOutput) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.String()
}
