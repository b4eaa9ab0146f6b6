package hostfunc

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownFunction = errors.New("unknown host function")
	ErrArgument        = errors.New("invalid argument")
	ErrLimit           = errors.New("limit exceeded")
	ErrPermission      = errors.New("permission denied")
	ErrNotFound        = errors.New("not found")
	ErrHTTPDisabled    = errors.New("http not enabled")
	ErrHostNotAllowed  = errors.New("host not allowed")
)

// Builtins lists every capability a session can expose, in the order they
// are documented. Languages predeclare all of them so that code referring
// to a disabled one fails at call time rather than at load time.
var Builtins = []string{
	"time_now",
	"kv_get", "kv_set", "kv_delete", "kv_keys",
	"http_request", "http_get",
	"fs_read", "fs_write", "fs_list", "fs_exists", "fs_mkdir", "fs_remove", "fs_stat",
}

func requireString(args map[string]any, name string) (string, error) {
	v, ok := args[name].(string)
	if !ok {
		return "", fmt.Errorf("%w: %s required", ErrArgument, name)
	}
	return v, nil
}

func optionalString(args map[string]any, name string) string {
	v, _ := args[name].(string)
	return v
}
