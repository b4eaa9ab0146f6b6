package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// MountMode defines the permission level for a mount point.
type MountMode int

const (
	// MountReadOnly allows only read operations.
	MountReadOnly MountMode = iota
	// MountReadWrite allows writes to existing files.
	MountReadWrite
	// MountReadWriteCreate also allows creating files and directories.
	MountReadWriteCreate
)

func (m MountMode) String() string {
	switch m {
	case MountReadOnly:
		return "ro"
	case MountReadWrite:
		return "rw"
	case MountReadWriteCreate:
		return "rwc"
	default:
		return fmt.Sprintf("MountMode(%d)", int(m))
	}
}

// ParseMountMode accepts ro, rw and rwc.
func ParseMountMode(s string) (MountMode, error) {
	switch s {
	case "ro":
		return MountReadOnly, nil
	case "rw":
		return MountReadWrite, nil
	case "rwc":
		return MountReadWriteCreate, nil
	default:
		return 0, fmt.Errorf("invalid mount mode %q (expected ro, rw or rwc)", s)
	}
}

// Mount maps a virtual path seen by loaded code onto a host directory.
type Mount struct {
	VirtualPath string
	HostPath    string
	Mode        MountMode
}

const (
	DefaultMaxFileSize   = 10 << 20
	DefaultMaxWriteSize  = 1 << 20
	DefaultMaxPathLength = 4096
)

type fsConfig struct {
	maxFileSize   int64
	maxWriteSize  int64
	maxPathLength int
}

type FSOption func(*fsConfig)

// WithMaxFileSize bounds how much fs_read returns.
func WithMaxFileSize(n int64) FSOption {
	return func(c *fsConfig) { c.maxFileSize = n }
}

// WithMaxWriteSize bounds the content accepted by fs_write.
func WithMaxWriteSize(n int64) FSOption {
	return func(c *fsConfig) { c.maxWriteSize = n }
}

func WithMaxPathLength(n int) FSOption {
	return func(c *fsConfig) { c.maxPathLength = n }
}

// FS provides filesystem operations confined to explicit mount points.
type FS struct {
	mounts []Mount
	cfg    fsConfig
}

// NewFS normalizes mounts. Mounts whose host path cannot be made absolute
// are dropped.
func NewFS(mounts []Mount, opts ...FSOption) *FS {
	cfg := fsConfig{
		maxFileSize:   DefaultMaxFileSize,
		maxWriteSize:  DefaultMaxWriteSize,
		maxPathLength: DefaultMaxPathLength,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	normalized := make([]Mount, 0, len(mounts))
	for _, m := range mounts {
		hp, err := filepath.Abs(m.HostPath)
		if err != nil {
			continue
		}
		normalized = append(normalized, Mount{
			VirtualPath: "/" + strings.Trim(m.VirtualPath, "/"),
			HostPath:    hp,
			Mode:        m.Mode,
		})
	}
	return &FS{mounts: normalized, cfg: cfg}
}

// resolve maps a virtual path to its mount and host path.
func (f *FS) resolve(virtualPath string) (*Mount, string, error) {
	if len(virtualPath) > f.cfg.maxPathLength {
		return nil, "", fmt.Errorf("%w: path longer than %d bytes", ErrLimit, f.cfg.maxPathLength)
	}

	vp := filepath.Clean("/" + strings.TrimPrefix(virtualPath, "/"))

	for i := range f.mounts {
		m := &f.mounts[i]
		if vp != m.VirtualPath && !strings.HasPrefix(vp, m.VirtualPath+"/") && m.VirtualPath != "/" {
			continue
		}

		hostPath := filepath.Join(m.HostPath, strings.TrimPrefix(vp, m.VirtualPath))
		if hostPath != m.HostPath && !strings.HasPrefix(hostPath, m.HostPath+string(filepath.Separator)) {
			return nil, "", fmt.Errorf("%w: path escapes mount", ErrPermission)
		}
		return m, hostPath, nil
	}

	return nil, "", fmt.Errorf("%w: %s is not in any mount", ErrPermission, vp)
}

func (f *FS) resolveArg(args map[string]any) (*Mount, string, string, error) {
	path, err := requireString(args, "path")
	if err != nil {
		return nil, "", "", err
	}
	m, hostPath, err := f.resolve(path)
	return m, hostPath, path, err
}

func (f *FS) Read(ctx context.Context, args map[string]any) (any, error) {
	_, hostPath, path, err := f.resolveArg(args)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(hostPath)
	if err != nil {
		return nil, pathError(path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, f.cfg.maxFileSize+1))
	if err != nil {
		return nil, pathError(path, err)
	}
	if int64(len(data)) > f.cfg.maxFileSize {
		return nil, fmt.Errorf("%w: %s larger than %d bytes", ErrLimit, path, f.cfg.maxFileSize)
	}

	return string(data), nil
}

// Write replaces a file's content. New files need a read-write-create mount.
func (f *FS) Write(ctx context.Context, args map[string]any) (any, error) {
	m, hostPath, path, err := f.resolveArg(args)
	if err != nil {
		return nil, err
	}
	content, err := requireString(args, "content")
	if err != nil {
		return nil, err
	}
	if int64(len(content)) > f.cfg.maxWriteSize {
		return nil, fmt.Errorf("%w: content larger than %d bytes", ErrLimit, f.cfg.maxWriteSize)
	}

	if m.Mode == MountReadOnly {
		return nil, fmt.Errorf("%w: read-only mount", ErrPermission)
	}
	if _, statErr := os.Stat(hostPath); errors.Is(statErr, os.ErrNotExist) && m.Mode != MountReadWriteCreate {
		return nil, fmt.Errorf("%w: cannot create %s", ErrPermission, path)
	}

	if err := os.WriteFile(hostPath, []byte(content), 0o644); err != nil {
		return nil, pathError(path, err)
	}
	return "ok", nil
}

func (f *FS) List(ctx context.Context, args map[string]any) (any, error) {
	_, hostPath, path, err := f.resolveArg(args)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(hostPath)
	if err != nil {
		return nil, pathError(path, err)
	}

	result := make([]any, 0, len(entries))
	for _, entry := range entries {
		item := map[string]any{
			"name":   entry.Name(),
			"is_dir": entry.IsDir(),
		}
		if info, err := entry.Info(); err == nil {
			item["size"] = info.Size()
		}
		result = append(result, item)
	}
	return result, nil
}

// Exists reports false for paths outside every mount.
func (f *FS) Exists(ctx context.Context, args map[string]any) (any, error) {
	_, hostPath, _, err := f.resolveArg(args)
	if err != nil {
		if errors.Is(err, ErrArgument) {
			return nil, err
		}
		return false, nil
	}

	_, err = os.Stat(hostPath)
	return err == nil, nil
}

func (f *FS) Mkdir(ctx context.Context, args map[string]any) (any, error) {
	m, hostPath, path, err := f.resolveArg(args)
	if err != nil {
		return nil, err
	}
	if m.Mode != MountReadWriteCreate {
		return nil, fmt.Errorf("%w: cannot create %s", ErrPermission, path)
	}

	if err := os.MkdirAll(hostPath, 0o755); err != nil {
		return nil, pathError(path, err)
	}
	return "ok", nil
}

// Remove deletes a file or an empty directory.
func (f *FS) Remove(ctx context.Context, args map[string]any) (any, error) {
	m, hostPath, path, err := f.resolveArg(args)
	if err != nil {
		return nil, err
	}
	if m.Mode == MountReadOnly {
		return nil, fmt.Errorf("%w: read-only mount", ErrPermission)
	}
	if hostPath == m.HostPath {
		return nil, fmt.Errorf("%w: cannot remove mount root", ErrPermission)
	}

	if err := os.Remove(hostPath); err != nil {
		if errors.Is(err, syscall.ENOTEMPTY) || errors.Is(err, syscall.EEXIST) {
			return nil, fmt.Errorf("directory not empty: %s", path)
		}
		return nil, pathError(path, err)
	}
	return "ok", nil
}

func (f *FS) Stat(ctx context.Context, args map[string]any) (any, error) {
	_, hostPath, path, err := f.resolveArg(args)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(hostPath)
	if err != nil {
		return nil, pathError(path, err)
	}

	return map[string]any{
		"name":     info.Name(),
		"size":     info.Size(),
		"is_dir":   info.IsDir(),
		"mod_time": info.ModTime().Unix(),
	}, nil
}

func pathError(path string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	var pe *os.PathError
	if errors.As(err, &pe) {
		return fmt.Errorf("%s: %w", path, pe.Err)
	}
	return fmt.Errorf("%s: %w", path, err)
}
