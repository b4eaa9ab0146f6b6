package executor

import (
	"fmt"
	"time"

	"github.com/caffeineduck/actionproxy/hostfunc"
)

// InitMode selects what Session.Init does with submitted source.
type InitMode string

const (
	// InitExec compiles the source and runs its top-level statements so
	// that definitions land in the namespace. This is the default.
	InitExec InitMode = "exec"
	// InitCompile only compiles. Every Run executes the stored program into
	// a fresh namespace before calling the entry point.
	InitCompile InitMode = "compile"
)

// ParseInitMode validates a mode name.
func ParseInitMode(s string) (InitMode, error) {
	switch InitMode(s) {
	case "", InitExec:
		return InitExec, nil
	case InitCompile:
		return InitCompile, nil
	default:
		return "", fmt.Errorf("invalid init mode %q (expected exec or compile)", s)
	}
}

// SessionOption configures a Session.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	timeout  time.Duration
	initMode InitMode
	filename string

	kvEnabled    bool
	kvOptions    []hostfunc.KVOption
	allowedHosts []string
	mounts       []hostfunc.Mount
	// Security limits
	httpMaxURLLength int
	httpMaxBodySize  int64
	httpTimeout      time.Duration
	fsOptions        []hostfunc.FSOption
}

func defaultSessionConfig() sessionConfig {
	return sessionConfig{
		timeout:  30 * time.Second,
		initMode: InitExec,
		filename: "action",
	}
}

// WithSessionTimeout bounds each Init and Run. Zero disables the limit.
func WithSessionTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) {
		c.timeout = d
	}
}

// WithInitMode selects exec-on-init (default) or compile-only init.
func WithInitMode(mode InitMode) SessionOption {
	return func(c *sessionConfig) {
		c.initMode = mode
	}
}

// WithFilename sets the name compile errors refer to.
func WithFilename(name string) SessionOption {
	return func(c *sessionConfig) {
		c.filename = name
	}
}

// WithSessionKV gives loaded code an in-memory key-value store that
// survives re-inits of the same session.
func WithSessionKV(opts ...hostfunc.KVOption) SessionOption {
	return func(c *sessionConfig) {
		c.kvEnabled = true
		c.kvOptions = append(c.kvOptions, opts...)
	}
}

// WithSessionAllowedHosts sets the list of hosts that HTTP requests can access.
func WithSessionAllowedHosts(hosts []string) SessionOption {
	return func(c *sessionConfig) {
		c.allowedHosts = hosts
	}
}

// Mount permission modes (re-exported from hostfunc for convenience).
const (
	MountReadOnly        = hostfunc.MountReadOnly
	MountReadWrite       = hostfunc.MountReadWrite
	MountReadWriteCreate = hostfunc.MountReadWriteCreate
)

// WithSessionMount adds a filesystem mount point with the specified permissions.
// The virtual path is what loaded code sees; host path is the actual location.
//
// Examples:
//
//	executor.WithSessionMount("/data", "./input", executor.MountReadOnly)
//	executor.WithSessionMount("/output", "./results", executor.MountReadWrite)
func WithSessionMount(virtualPath, hostPath string, mode hostfunc.MountMode) SessionOption {
	return func(c *sessionConfig) {
		c.mounts = append(c.mounts, hostfunc.Mount{
			VirtualPath: virtualPath,
			HostPath:    hostPath,
			Mode:        mode,
		})
	}
}

func WithSessionHTTPTimeout(d time.Duration) SessionOption {
	return func(c *sessionConfig) {
		c.httpTimeout = d
	}
}

func WithSessionHTTPMaxURLLength(size int) SessionOption {
	return func(c *sessionConfig) {
		c.httpMaxURLLength = size
	}
}

func WithSessionHTTPMaxBodySize(size int64) SessionOption {
	return func(c *sessionConfig) {
		c.httpMaxBodySize = size
	}
}

func WithSessionFSMaxFileSize(size int64) SessionOption {
	return func(c *sessionConfig) {
		c.fsOptions = append(c.fsOptions, hostfunc.WithMaxFileSize(size))
	}
}

func WithSessionFSMaxWriteSize(size int64) SessionOption {
	return func(c *sessionConfig) {
		c.fsOptions = append(c.fsOptions, hostfunc.WithMaxWriteSize(size))
	}
}

func WithSessionFSMaxPathLength(length int) SessionOption {
	return func(c *sessionConfig) {
		c.fsOptions = append(c.fsOptions, hostfunc.WithMaxPathLength(length))
	}
}

// ExecutorOption configures the Executor at creation time.
type ExecutorOption func(*executorConfig)

type executorConfig struct {
	compileCacheSize int // 0 disables the compile cache
}

func defaultExecutorConfig() executorConfig {
	return executorConfig{
		compileCacheSize: 64,
	}
}

// WithCompileCache sets how many compiled programs are kept, keyed by
// language and source hash. Repeated inits of identical source skip the
// compile step. Zero disables caching.
func WithCompileCache(size int) ExecutorOption {
	return func(c *executorConfig) {
		c.compileCacheSize = size
	}
}
