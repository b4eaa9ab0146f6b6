// Package hostfunc provides the host functions loaded code may call.
//
// Loaded code has no implicit access to the outside world. Each capability
// is registered into a [Registry] by name and reached from the engines
// through it:
//
//	registry := hostfunc.NewRegistry()
//	registry.Register("greet", func(ctx context.Context, args map[string]any) (any, error) {
//	    return "hello " + args["name"].(string), nil
//	})
//
// # Built-in Capabilities
//
// HTTP: requests limited to allowed hosts via [HTTP] and [HTTPConfig]. The
// allowlist is checked again on every redirect, and the call ends with the
// caller's context.
//
//	http := hostfunc.NewHTTP(hostfunc.HTTPConfig{
//	    AllowedHosts: []string{"api.example.com"},
//	})
//	registry.Register("http_request", http.Request)
//
// Filesystem: mount-based access via [FS], [Mount] and [MountMode].
//
//	fs := hostfunc.NewFS([]hostfunc.Mount{
//	    {VirtualPath: "/data", HostPath: "./input", Mode: hostfunc.MountReadOnly},
//	})
//	registry.Register("fs_read", fs.Read)
//
// Key-value store: in-memory storage via [KV].
//
//	kv := hostfunc.NewKV(hostfunc.WithMaxEntries(100))
//	registry.Register("kv_get", kv.Get)
//	registry.Register("kv_set", kv.Set)
//
// Every capability enforces size limits; see the Default constants.
package hostfunc
