// Package bench measures init and run latency per language.
//
// Run with: go test -v -run=Test ./bench/
// Benchmarks: go test -bench=. -benchtime=100x ./bench/
package bench

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/caffeineduck/actionproxy/executor"
	"github.com/caffeineduck/actionproxy/internal/config"
	"github.com/caffeineduck/actionproxy/internal/proxy"
	"github.com/caffeineduck/actionproxy/language"
)

// action is the same doubling entry point in every language.
type action struct {
	lang string
	code string
	arg  any
}

var actions = []action{
	{"python", "def main(param):\n    return param * 2\n", json.Number("21")},
	{"starlark", "def main(param):\n    return param * 2\n", json.Number("21")},
	{"javascript", "function main(param) { return param * 2 }", json.Number("21")},
	{"go", "func Main(n int) int { return n * 2 }", json.Number("21")},
	{"wat", `(module (func (export "main") (param i32) (result i32) (i32.mul (local.get 0) (i32.const 2))))`, json.Number("21")},
	{"noop", "", nil},
}

func newEngine(tb testing.TB, opts ...executor.ExecutorOption) (*executor.Executor, *language.Set) {
	tb.Helper()
	engine, err := executor.New(nil, opts...)
	if err != nil {
		tb.Fatal(err)
	}
	langs := language.NewSet()
	tb.Cleanup(func() {
		engine.Close()
		langs.Close(context.Background())
	})
	return engine, langs
}

// =============================================================================
// BENCHMARKS
// =============================================================================

// --- Cold: fresh session, init and run ---

func BenchmarkInitRun(b *testing.B) {
	for _, a := range actions {
		b.Run(a.lang, func(b *testing.B) {
			engine, langs := newEngine(b)
			lang, _ := langs.Get(a.lang)

			for i := 0; i < b.N; i++ {
				if r := engine.Run(context.Background(), lang, a.code, a.arg); r.Error != nil {
					b.Fatal(r.Error)
				}
			}
		})
	}
}

// --- Cold without compile cache ---

func BenchmarkInitRun_NoCache(b *testing.B) {
	for _, a := range actions {
		b.Run(a.lang, func(b *testing.B) {
			engine, langs := newEngine(b, executor.WithCompileCache(0))
			lang, _ := langs.Get(a.lang)

			for i := 0; i < b.N; i++ {
				engine.Run(context.Background(), lang, a.code, a.arg)
			}
		})
	}
}

// --- Warm: one init, many runs ---

func BenchmarkRun(b *testing.B) {
	for _, a := range actions {
		b.Run(a.lang, func(b *testing.B) {
			engine, langs := newEngine(b)
			lang, _ := langs.Get(a.lang)
			session, err := engine.NewSession(lang)
			if err != nil {
				b.Fatal(err)
			}
			defer session.Close()
			if r := session.Init(context.Background(), a.code); r.Error != nil {
				b.Fatal(r.Error)
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				session.Run(context.Background(), a.arg)
			}
		})
	}
}

// --- Warm over HTTP ---

func BenchmarkHTTPRun(b *testing.B) {
	engine, langs := newEngine(b)
	srv, err := proxy.New(config.Default(), engine, langs, nil)
	if err != nil {
		b.Fatal(err)
	}
	defer srv.Close()
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	code, _ := json.Marshal(map[string]any{"value": map[string]any{"code": actions[0].code}})
	resp, err := http.Post(ts.URL+"/init", "application/json", strings.NewReader(string(code)))
	if err != nil {
		b.Fatal(err)
	}
	resp.Body.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resp, err := http.Post(ts.URL+"/run", "application/json", strings.NewReader(`{"value":{"args":21}}`))
		if err != nil {
			b.Fatal(err)
		}
		resp.Body.Close()
	}
}

// --- Native Python baseline ---

func BenchmarkNative_Python(b *testing.B) {
	if _, err := exec.LookPath("python3"); err != nil {
		b.Skip("python3 not available")
	}
	for i := 0; i < b.N; i++ {
		exec.Command("python3", "-c", "def main(param):\n    return param * 2\nmain(21)").Run()
	}
}

// =============================================================================
// COMPARISON TEST - Human readable output
// =============================================================================

func TestLanguageComparison(t *testing.T) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║              ACTIONPROXY BENCHMARK - INIT / RUN                  ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Platform: %s/%s, CPUs: %d\n", runtime.GOOS, runtime.GOARCH, runtime.NumCPU())
	fmt.Println()

	measure := func(runs int, fn func()) time.Duration {
		var total time.Duration
		for i := 0; i < runs; i++ {
			start := time.Now()
			fn()
			total += time.Since(start)
		}
		return total / time.Duration(runs)
	}

	const runs = 20
	ctx := context.Background()
	engine, langs := newEngine(t)

	fmt.Println("┌────────────┬───────────┬───────────┬───────────┐")
	fmt.Println("│ Language   │ First     │ Init      │ Run       │")
	fmt.Println("├────────────┼───────────┼───────────┼───────────┤")
	for _, a := range actions {
		lang, err := langs.Get(a.lang)
		if err != nil {
			t.Fatal(err)
		}
		session, err := engine.NewSession(lang)
		if err != nil {
			t.Fatal(err)
		}

		first := measure(1, func() { session.Init(ctx, a.code) })
		reinit := measure(runs, func() { session.Init(ctx, a.code) })
		run := measure(runs, func() {
			if r := session.Run(ctx, a.arg); r.Error != nil {
				t.Errorf("%s: %v", a.lang, r.Error)
			}
		})
		session.Close()

		fmt.Printf("│ %-10s │ %9s │ %9s │ %9s │\n", a.lang, formatDuration(first), formatDuration(reinit), formatDuration(run))
	}
	fmt.Println("└────────────┴───────────┴───────────┴───────────┘")
	fmt.Println()
	fmt.Println("First includes compilation; later inits hit the compile cache.")
	fmt.Println()

	t.Log("Benchmark complete - see stdout for results")
}

func formatDuration(d time.Duration) string {
	if d >= time.Second {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	if d >= time.Millisecond {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%dµs", d.Microseconds())
}

// =============================================================================
// MEMORY
// =============================================================================

func TestMemoryUsage(t *testing.T) {
	var m runtime.MemStats

	runtime.GC()
	runtime.ReadMemStats(&m)
	before := m.Alloc

	engine, langs := newEngine(t)
	for _, a := range actions {
		lang, _ := langs.Get(a.lang)
		for i := 0; i < 5; i++ {
			engine.Run(context.Background(), lang, a.code, a.arg)
		}
	}

	runtime.ReadMemStats(&m)
	after := m.Alloc

	engine.Close()
	langs.Close(context.Background())

	runtime.GC()
	runtime.ReadMemStats(&m)
	afterGC := m.Alloc

	t.Logf("Memory before: %d MB", before/1024/1024)
	t.Logf("Memory after 5 runs per language: %d MB", after/1024/1024)
	t.Logf("Memory after close and GC: %d MB", afterGC/1024/1024)
}
