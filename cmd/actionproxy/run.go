package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/actionproxy/executor"
	"github.com/caffeineduck/actionproxy/internal/config"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Load code and call main once",
		Long: `Load code locally and call its main entry point once.

Code can be provided via:
  - File argument: actionproxy run action.py --args 21
  - Inline flag: actionproxy run -c 'def main(p): return p' --args '{"a":1}'
  - Stdin: echo 'def main(p): return p' | actionproxy run

Captured output is printed first, then the result as JSON.
The language follows --lang, else the file extension.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runRun,
	}
	cmd.Flags().StringP("code", "c", "", "Code to load")
	cmd.Flags().String("args", "null", "JSON value passed to main")
	config.SessionFlags(cmd.Flags())
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	code, _ := cmd.Flags().GetString("code")
	rawArgs, _ := cmd.Flags().GetString("args")

	var source, filename string
	switch {
	case code != "":
		source = code
	case len(args) > 0:
		filename = args[0]
		data, err := os.ReadFile(filename)
		if err != nil {
			return err
		}
		source = string(data)
	default:
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return err
		}
		source = string(data)
		if source == "" {
			return cmd.Help()
		}
	}

	param, err := parseArgs(rawArgs)
	if err != nil {
		return err
	}

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	lang, err := rt.resolveLanguage(cmd, filename)
	if err != nil {
		return err
	}

	opts := rt.cfg.SessionOptions()
	if filename != "" {
		opts = append(opts, executor.WithFilename(filename))
	}
	result := rt.exec.Run(cmd.Context(), lang, source, param, opts...)

	out := cmd.OutOrStdout()
	fmt.Fprint(out, result.Output)
	if result.Error != nil {
		return result.Error
	}
	return printValue(out, result.Value)
}

// parseArgs decodes a JSON argument, keeping numbers exact.
func parseArgs(raw string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid JSON args %q: %w", raw, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid JSON args %q: trailing data", raw)
	}
	return v, nil
}

// printValue writes v as one line of JSON. Stub results print nothing.
func printValue(w io.Writer, v any) error {
	if v == executor.Void {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return executor.ResultError(err.Error())
	}
	fmt.Fprintln(w, string(data))
	return nil
}
