// Package filestore persists audit archives to a pluggable backend.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/xxxsen/evote/internal/config"
)

type Store interface {
	Type() string
	Save(ctx context.Context, key string, r io.ReadSeeker, size int64) error
}

type Factory func(args interface{}) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend available under name. Registering a name twice
// is a programming error.
func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		panic("filestore: register with empty name or nil factory")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[key]; dup {
		panic("filestore: duplicate backend " + key)
	}
	registry[key] = factory
}

// New builds the archive store described by cfg.
func New(cfg config.FileStoreConfig) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	registryMu.RLock()
	factory, ok := registry[key]
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	registryMu.RUnlock()
	if !ok {
		sort.Strings(names)
		return nil, fmt.Errorf("file_store.type %q not supported, want one of %v", cfg.Type, names)
	}
	store, err := factory(cfg.Data)
	if err != nil {
		return nil, fmt.Errorf("init %s file store: %w", key, err)
	}
	return store, nil
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode store config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode store config: %w", err)
	}
	return nil
}

func validKey(key string) bool {
	return key != "" && !strings.Contains(key, "..") && !strings.HasPrefix(key, "/") && !strings.Contains(key, "\\")
}
