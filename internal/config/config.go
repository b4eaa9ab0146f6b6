// Package config resolves actionproxy settings from flags, ACTIONPROXY_*
// environment variables and an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/caffeineduck/actionproxy/executor"
	"github.com/caffeineduck/actionproxy/hostfunc"
	"github.com/caffeineduck/actionproxy/language"
)

const EnvPrefix = "ACTIONPROXY"

// Config is the resolved set of settings shared by every command.
type Config struct {
	Addr        string
	Lang        string
	InitMode    executor.InitMode
	Timeout     time.Duration
	Concurrent  bool
	Diagnostics bool

	SessionTTL     time.Duration
	MaxSessions    int
	MaxRequestBody int64
	CompileCache   int
	MemoryPages    uint32

	KV          bool
	AllowHosts  []string
	Mounts      []hostfunc.Mount
	HTTPMaxURL  int
	HTTPMaxBody int64
	FSMaxFile   int64
	FSMaxWrite  int64
	FSMaxPath   int

	LogLevel  string
	LogFormat string
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Addr:           ":8080",
		Lang:           language.Default,
		InitMode:       executor.InitExec,
		Timeout:        30 * time.Second,
		SessionTTL:     15 * time.Minute,
		MaxSessions:    128,
		MaxRequestBody: 10 << 20,
		CompileCache:   64,
		MemoryPages:    4096,
		HTTPMaxURL:     hostfunc.DefaultMaxURLLength,
		HTTPMaxBody:    hostfunc.DefaultMaxBodySize,
		FSMaxFile:      hostfunc.DefaultMaxFileSize,
		FSMaxWrite:     hostfunc.DefaultMaxWriteSize,
		FSMaxPath:      hostfunc.DefaultMaxPathLength,
		LogLevel:       "info",
		LogFormat:      "console",
	}
}

// GlobalFlags registers the flags every command accepts.
func GlobalFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.StringP("lang", "l", d.Lang, "Language: "+strings.Join(language.Names(), ", "))
	fs.String("log-level", d.LogLevel, "Log level: debug, info, warn, error")
	fs.String("log-format", d.LogFormat, "Log format: console, json")
	fs.String("config", "", "Config file (yaml, json or toml)")
}

// SessionFlags registers the flags that shape a session: engine limits
// and the capabilities loaded code may use.
func SessionFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("init-mode", string(d.InitMode), "Init mode: exec (run top-level code) or compile (parse only)")
	fs.Duration("timeout", d.Timeout, "Per-phase timeout (0 disables)")
	fs.Int("compile-cache", d.CompileCache, "Compiled programs to keep (0 disables)")
	fs.String("memory", "256mb", "WebAssembly memory limit: 1mb, 16mb, 64mb, 256mb, 1gb")

	fs.Bool("kv", false, "Enable key-value store")
	fs.StringSlice("allow-host", nil, "Allow HTTP to host (repeatable)")
	fs.StringSlice("mount", nil, "Mount filesystem virtual:host:mode (repeatable)")

	fs.Int("http-max-url", d.HTTPMaxURL, "Max HTTP URL length")
	fs.Int64("http-max-body", d.HTTPMaxBody, "Max HTTP body size")
	fs.Int64("fs-max-file", d.FSMaxFile, "Max file read size")
	fs.Int64("fs-max-write", d.FSMaxWrite, "Max file write size")
	fs.Int("fs-max-path", d.FSMaxPath, "Max path length")
}

// ServerFlags registers the flags of the HTTP server.
func ServerFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("addr", d.Addr, "Listen address")
	fs.Bool("concurrent", false, "Allow overlapping requests")
	fs.Bool("diagnostics", false, "Include an error field in failed responses")
	fs.Duration("session-ttl", d.SessionTTL, "Idle time after which keyed sessions expire")
	fs.Int("max-sessions", d.MaxSessions, "Maximum number of keyed sessions")
	fs.Int64("max-request-body", d.MaxRequestBody, "Max request body size")
}

// Load resolves settings for the flags in fs. Precedence is explicit flag,
// then environment, then config file, then flag default. Flags missing
// from fs keep their Default value.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := Default()
	has := func(key string) bool { return fs.Lookup(key) != nil || v.IsSet(key) }

	if has("addr") {
		cfg.Addr = v.GetString("addr")
	}
	if has("lang") {
		cfg.Lang = v.GetString("lang")
	}
	if has("init-mode") {
		cfg.InitMode = executor.InitMode(v.GetString("init-mode"))
	}
	if has("timeout") {
		cfg.Timeout = v.GetDuration("timeout")
	}
	if has("concurrent") {
		cfg.Concurrent = v.GetBool("concurrent")
	}
	if has("diagnostics") {
		cfg.Diagnostics = v.GetBool("diagnostics")
	}
	if has("session-ttl") {
		cfg.SessionTTL = v.GetDuration("session-ttl")
	}
	if has("max-sessions") {
		cfg.MaxSessions = v.GetInt("max-sessions")
	}
	if has("max-request-body") {
		cfg.MaxRequestBody = v.GetInt64("max-request-body")
	}
	if has("compile-cache") {
		cfg.CompileCache = v.GetInt("compile-cache")
	}
	if has("memory") {
		pages, err := ParseMemoryLimit(v.GetString("memory"))
		if err != nil {
			return Config{}, err
		}
		cfg.MemoryPages = pages
	}
	if has("kv") {
		cfg.KV = v.GetBool("kv")
	}
	if has("allow-host") {
		cfg.AllowHosts = v.GetStringSlice("allow-host")
	}
	if has("mount") {
		for _, spec := range v.GetStringSlice("mount") {
			m, err := ParseMount(spec)
			if err != nil {
				return Config{}, err
			}
			cfg.Mounts = append(cfg.Mounts, m)
		}
	}
	if has("http-max-url") {
		cfg.HTTPMaxURL = v.GetInt("http-max-url")
	}
	if has("http-max-body") {
		cfg.HTTPMaxBody = v.GetInt64("http-max-body")
	}
	if has("fs-max-file") {
		cfg.FSMaxFile = v.GetInt64("fs-max-file")
	}
	if has("fs-max-write") {
		cfg.FSMaxWrite = v.GetInt64("fs-max-write")
	}
	if has("fs-max-path") {
		cfg.FSMaxPath = v.GetInt("fs-max-path")
	}
	if has("log-level") {
		cfg.LogLevel = v.GetString("log-level")
	}
	if has("log-format") {
		cfg.LogFormat = v.GetString("log-format")
	}

	return cfg, cfg.Validate()
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if _, err := language.Canonical(c.Lang); err != nil {
		errs = append(errs, err)
	}
	if _, err := executor.ParseInitMode(string(c.InitMode)); err != nil {
		errs = append(errs, err)
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative"))
	}
	if c.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("max-sessions must not be negative"))
	}
	if c.MaxRequestBody <= 0 {
		errs = append(errs, fmt.Errorf("max-request-body must be positive"))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log-level: %w", err))
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q (expected console or json)", c.LogFormat))
	}
	return errors.Join(errs...)
}

// SessionOptions translates the capability and limit settings.
func (c Config) SessionOptions() []executor.SessionOption {
	opts := []executor.SessionOption{
		executor.WithSessionTimeout(c.Timeout),
		executor.WithInitMode(c.InitMode),
	}

	if c.KV {
		opts = append(opts, executor.WithSessionKV())
	}
	if len(c.AllowHosts) > 0 {
		opts = append(opts,
			executor.WithSessionAllowedHosts(c.AllowHosts),
			executor.WithSessionHTTPMaxURLLength(c.HTTPMaxURL),
			executor.WithSessionHTTPMaxBodySize(c.HTTPMaxBody),
		)
	}
	for _, m := range c.Mounts {
		opts = append(opts, executor.WithSessionMount(m.VirtualPath, m.HostPath, m.Mode))
	}
	if len(c.Mounts) > 0 {
		opts = append(opts,
			executor.WithSessionFSMaxFileSize(c.FSMaxFile),
			executor.WithSessionFSMaxWriteSize(c.FSMaxWrite),
			executor.WithSessionFSMaxPathLength(c.FSMaxPath),
		)
	}
	return opts
}

// ExecutorOptions translates the executor-wide settings.
func (c Config) ExecutorOptions() []executor.ExecutorOption {
	return []executor.ExecutorOption{executor.WithCompileCache(c.CompileCache)}
}

// ParseMount parses virtual:host:mode.
func ParseMount(spec string) (hostfunc.Mount, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 3 {
		return hostfunc.Mount{}, fmt.Errorf("invalid mount spec %q (expected virtual:host:mode)", spec)
	}

	mode, err := hostfunc.ParseMountMode(parts[2])
	if err != nil {
		return hostfunc.Mount{}, err
	}

	return hostfunc.Mount{
		VirtualPath: parts[0],
		HostPath:    parts[1],
		Mode:        mode,
	}, nil
}

// ParseMemoryLimit converts a memory size name to 64KiB WebAssembly pages.
func ParseMemoryLimit(s string) (uint32, error) {
	switch strings.ToLower(s) {
	case "1mb":
		return 16, nil
	case "16mb":
		return 256, nil
	case "64mb":
		return 1024, nil
	case "256mb":
		return 4096, nil
	case "1gb":
		return 16384, nil
	default:
		return 0, fmt.Errorf("invalid memory limit %q (expected 1mb, 16mb, 64mb, 256mb or 1gb)", s)
	}
}

// NewLogger builds a zap logger. The json format uses the production
// encoder, console the development one.
func NewLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	var zc zap.Config
	switch format {
	case "json":
		zc = zap.NewProductionConfig()
	case "console", "":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q (expected console or json)", format)
	}
	zc.Level = lvl
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	return zc.Build()
}
