package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caffeineduck/actionproxy/executor"
	"github.com/caffeineduck/actionproxy/internal/config"
	"github.com/caffeineduck/actionproxy/language"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "actionproxy",
		Short: "Load code over HTTP and invoke it on request",
		Long: `actionproxy - an action runtime proxy.

Code is submitted once through /init and its main entry point is then
invoked through /run with JSON arguments. Supported languages are python
(gpython), starlark, javascript (QuickJS), go (yaegi) and wat (WebAssembly
text), plus noop, which answers every request without running anything.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	config.GlobalFlags(root.PersistentFlags())

	root.AddCommand(newServeCmd(), newRunCmd(), newReplCmd())
	return root
}

// runtime is what every command needs to load and call code.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	exec   *executor.Executor
	langs  *language.Set
}

func newRuntime(cmd *cobra.Command) (*runtime, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	executor.SetLogger(logger.Named("executor"))

	exec, err := executor.New(nil, cfg.ExecutorOptions()...)
	if err != nil {
		return nil, fmt.Errorf("create executor: %w", err)
	}

	return &runtime{
		cfg:    cfg,
		logger: logger,
		exec:   exec,
		langs:  language.NewSet(language.WithWasmMemoryLimit(cfg.MemoryPages)),
	}, nil
}

// language resolves the language for a source file. An explicit --lang
// wins; otherwise the file extension decides, then the configured default.
func (r *runtime) resolveLanguage(cmd *cobra.Command, filename string) (executor.Language, error) {
	name := r.cfg.Lang
	if !cmd.Flags().Changed("lang") && filename != "" {
		if detected, ok := language.FromExtension(filename); ok {
			name = detected
		}
	}
	return r.langs.Get(name)
}

func (r *runtime) newSession(lang executor.Language) (*executor.Session, error) {
	return r.exec.NewSession(lang, r.cfg.SessionOptions()...)
}

func (r *runtime) close() {
	r.exec.Close()
	r.langs.Close(context.Background())
	r.logger.Sync()
}
