// Package executor runs the two-phase init/run protocol for a single unit
// of action code.
//
// A [Session] starts uninitialized. Init compiles the submitted source and,
// in the default exec mode, runs its top-level statements so the entry
// point is defined. Run binds one argument and calls the entry point of the
// most recently loaded unit. A failed Init leaves the previous unit live.
//
//	exec, err := executor.New(hostfunc.NewRegistry())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer exec.Close()
//
//	session, err := exec.NewSession(python.New())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	session.Init(ctx, "def main(args):\n    return args * 2\n")
//	result := session.Run(ctx, 21) // result.Value == int64(42)
//
// Failures are reported as [*Error] values carrying a [Phase] and a
// [Kind]; use errors.Is with [ErrCompile] or [ErrInvoke] to test the phase.
//
// # Capabilities
//
// Loaded code sees only time_now by default. Further host functions are
// enabled per session:
//
//	session, _ := exec.NewSession(python.New(),
//	    executor.WithSessionKV(),
//	    executor.WithSessionAllowedHosts([]string{"api.example.com"}),
//	    executor.WithSessionMount("/data", "./input", executor.MountReadOnly),
//	)
//
// To add a language, implement [Language]. See
// [github.com/caffeineduck/actionproxy/language/python] for an example.
package executor
