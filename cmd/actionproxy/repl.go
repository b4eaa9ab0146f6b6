package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/actionproxy/executor"
	"github.com/caffeineduck/actionproxy/internal/config"
)

const replHelp = `Commands:
  :load <file>   load code from a file
  :init <code>   load code typed inline (end lines with \ to continue)
  :status        show the session status
  :help          show this help
  exit, quit     leave
Any other line is parsed as JSON and passed to main.`

func newReplCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive init/run session",
		Long: `Start an interactive session: load code once, then call main with
JSON arguments as often as you like.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)

` + replHelp,
		Args: cobra.NoArgs,
		RunE: runRepl,
	}
	cmd.Flags().String("history", "", "History file path (default: ~/.actionproxy_history)")
	config.SessionFlags(cmd.Flags())
	return cmd
}

func runRepl(cmd *cobra.Command, args []string) error {
	historyFile, _ := cmd.Flags().GetString("history")
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".actionproxy_history")
	}

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	lang, err := rt.resolveLanguage(cmd, "")
	if err != nil {
		return err
	}
	session, err := rt.newSession(lang)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            ">>> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdin:             io.NopCloser(cmd.InOrStdin()),
		Stdout:            cmd.OutOrStdout(),
		Stderr:            cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(cmd.ErrOrStderr(), "actionproxy %s REPL (:help for commands, Ctrl+D to exit)\n", lang.Name())

	r := &repl{session: session, out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()}

	var multiLine strings.Builder
	inMultiLine := false

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				if inMultiLine {
					multiLine.Reset()
					inMultiLine = false
					rl.SetPrompt(">>> ")
				}
				continue
			}
			if err == io.EOF {
				fmt.Fprintln(r.out)
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		if strings.HasSuffix(line, "\\") {
			multiLine.WriteString(strings.TrimSuffix(line, "\\"))
			multiLine.WriteString("\n")
			inMultiLine = true
			rl.SetPrompt("... ")
			continue
		}

		if inMultiLine {
			multiLine.WriteString(line)
			line = multiLine.String()
			multiLine.Reset()
			inMultiLine = false
			rl.SetPrompt(">>> ")
		}

		if r.handle(cmd.Context(), line) {
			return nil
		}
	}
}

// repl executes one input line at a time against a session.
type repl struct {
	session *executor.Session
	out     io.Writer
	errOut  io.Writer
}

// handle runs one line and reports whether the user asked to leave.
func (r *repl) handle(ctx context.Context, line string) bool {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "":
	case trimmed == "exit" || trimmed == "quit":
		return true
	case trimmed == ":help":
		fmt.Fprintln(r.out, replHelp)
	case trimmed == ":status":
		data, _ := json.MarshalIndent(r.session.Status(), "", "  ")
		fmt.Fprintln(r.out, string(data))
	case strings.HasPrefix(trimmed, ":load "):
		path := strings.TrimSpace(strings.TrimPrefix(trimmed, ":load "))
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(r.errOut, "Error: %v\n", err)
			return false
		}
		r.init(ctx, string(data))
	case strings.HasPrefix(trimmed, ":init "):
		// keep the indentation of continuation lines
		r.init(ctx, strings.TrimPrefix(strings.TrimLeft(line, " \t"), ":init "))
	case strings.HasPrefix(trimmed, ":"):
		fmt.Fprintf(r.errOut, "Error: unknown command %q (try :help)\n", strings.Fields(trimmed)[0])
	default:
		r.run(ctx, trimmed)
	}
	return false
}

func (r *repl) init(ctx context.Context, code string) {
	result := r.session.Init(ctx, code)
	r.printOutput(result.Output)
	if result.Error != nil {
		fmt.Fprintf(r.errOut, "Error: %v\n", result.Error)
		return
	}
	fmt.Fprintln(r.out, "ok")
}

func (r *repl) run(ctx context.Context, raw string) {
	param, err := parseArgs(raw)
	if err != nil {
		fmt.Fprintf(r.errOut, "Error: %v\n", err)
		return
	}

	result := r.session.Run(ctx, param)
	r.printOutput(result.Output)
	if result.Error != nil {
		fmt.Fprintf(r.errOut, "Error: %v\n", result.Error)
		return
	}
	if err := printValue(r.out, result.Value); err != nil {
		fmt.Fprintf(r.errOut, "Error: %v\n", err)
	}
}

func (r *repl) printOutput(output string) {
	if output == "" {
		return
	}
	fmt.Fprint(r.out, output)
	if !strings.HasSuffix(output, "\n") {
		fmt.Fprintln(r.out)
	}
}
