package hostfunc

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

const (
	DefaultKVMaxKeySize   = 256
	DefaultKVMaxValueSize = 64 << 10
	DefaultKVMaxEntries   = 1000
)

// KVConfig bounds the store. Zero fields fall back to the defaults.
type KVConfig struct {
	MaxKeySize   int
	MaxValueSize int
	MaxEntries   int
}

func DefaultKVConfig() KVConfig {
	return KVConfig{
		MaxKeySize:   DefaultKVMaxKeySize,
		MaxValueSize: DefaultKVMaxValueSize,
		MaxEntries:   DefaultKVMaxEntries,
	}
}

type KVOption func(*KVConfig)

func WithMaxKeySize(n int) KVOption {
	return func(c *KVConfig) { c.MaxKeySize = n }
}

func WithMaxValueSize(n int) KVOption {
	return func(c *KVConfig) { c.MaxValueSize = n }
}

func WithMaxEntries(n int) KVOption {
	return func(c *KVConfig) { c.MaxEntries = n }
}

// KV is an in-memory key-value store holding JSON-representable values.
type KV struct {
	cfg  KVConfig
	data map[string]any
	mu   sync.RWMutex
}

func NewKV(opts ...KVOption) *KV {
	cfg := DefaultKVConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewKVWithConfig(cfg)
}

func NewKVWithConfig(cfg KVConfig) *KV {
	def := DefaultKVConfig()
	if cfg.MaxKeySize <= 0 {
		cfg.MaxKeySize = def.MaxKeySize
	}
	if cfg.MaxValueSize <= 0 {
		cfg.MaxValueSize = def.MaxValueSize
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	return &KV{cfg: cfg, data: make(map[string]any)}
}

// Get returns the value for key, or the "default" argument when absent.
func (s *KV) Get(ctx context.Context, args map[string]any) (any, error) {
	key, err := requireString(args, "key")
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	val, exists := s.data[key]
	s.mu.RUnlock()

	if !exists {
		return args["default"], nil
	}
	return val, nil
}

func (s *KV) Set(ctx context.Context, args map[string]any) (any, error) {
	key, err := requireString(args, "key")
	if err != nil {
		return nil, err
	}
	if len(key) > s.cfg.MaxKeySize {
		return nil, fmt.Errorf("%w: key longer than %d bytes", ErrLimit, s.cfg.MaxKeySize)
	}

	val, ok := args["value"]
	if !ok {
		return nil, fmt.Errorf("%w: value required", ErrArgument)
	}
	encoded, err := json.Marshal(val)
	if err != nil {
		return nil, fmt.Errorf("%w: value is not JSON-representable: %v", ErrArgument, err)
	}
	if len(encoded) > s.cfg.MaxValueSize {
		return nil, fmt.Errorf("%w: value larger than %d bytes", ErrLimit, s.cfg.MaxValueSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; !exists && len(s.data) >= s.cfg.MaxEntries {
		return nil, fmt.Errorf("%w: store holds %d entries", ErrLimit, s.cfg.MaxEntries)
	}
	s.data[key] = val

	return "ok", nil
}

func (s *KV) Delete(ctx context.Context, args map[string]any) (any, error) {
	key, err := requireString(args, "key")
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()

	return "ok", nil
}

// Keys returns the stored keys in sorted order.
func (s *KV) Keys(ctx context.Context, args map[string]any) (any, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys, nil
}
