package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/actionproxy/internal/config"
	"github.com/caffeineduck/actionproxy/internal/proxy"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the init/run HTTP server",
		Long: `Start an HTTP server speaking the init/run protocol.

Endpoints:
  GET    /                     Liveness, answers "Hello World!"
  POST   /init                 Load code: {"value":{"code":"..."}}
  POST   /run                  Call main: {"value":{"args":...}}
  GET    /status               Default session status
  POST   /sessions             Create keyed session, returns {"session_id":"..."}
  GET    /sessions/{id}        Keyed session status
  POST   /sessions/{id}/init   Load code into a keyed session
  POST   /sessions/{id}/run    Call main in a keyed session
  DELETE /sessions/{id}        Close keyed session
  GET    /metrics              Prometheus metrics

Init and run always answer 200; the outcome is in the OK field.
Every flag can also be set as ACTIONPROXY_<FLAG> (dashes become
underscores) or in the --config file.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	config.SessionFlags(cmd.Flags())
	config.ServerFlags(cmd.Flags())
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	srv, err := proxy.New(rt.cfg, rt.exec, rt.langs, rt.logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}
