package storage

import (
	"fmt"
	"os"
	"strings"
)

// StoreEnv overrides the default backend kind.
const StoreEnv = "ANTENNAFORGE_STORE"

func NewStore(kind, sqlitePath string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return newSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

// DefaultStoreKind is the backend used when none is requested: the
// ANTENNAFORGE_STORE value when set, otherwise sqlite in builds tagged
// sqlite and memory elsewhere.
func DefaultStoreKind() string {
	if kind := strings.TrimSpace(os.Getenv(StoreEnv)); kind != "" {
		return strings.ToLower(kind)
	}
	return defaultBackend
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
