// Package objectstore stores the public material registered with a compute
// service, indexed by context fingerprint.
package objectstore

import (
	"encoding"
	"errors"
	"fmt"

	"github.com/ChristianMct/ecd/errs"
)

// ErrNotFound is returned by Load for unknown object ids.
var ErrNotFound = errors.New("object not found")

// Backend names accepted by NewObjectStoreFromConfig.
const (
	BackendMem    = "mem"
	BackendBadger = "badgerdb"
	BackendHybrid = "hybrid"
)

// Config represents the ObjectStore configuration.
type Config struct {
	BackendName string `toml:"backend"` // BackendName is a string defining the ObjectStore implementation to use.
	DBPath      string `toml:"db_path"` // DBPath is the BadgerDB directory. An empty path keeps the database in memory.
}

// ObjectStore is an interface to store and retrieve binary-serializable objects.
type ObjectStore interface {
	// Store stores the binary-serializable `object` into the ObjectStore indexing it with the string `objectID`.
	Store(objectID string, object encoding.BinaryMarshaler) error

	// Load loads the binary-deserializable `object` from the ObjectStore indexing it with the string `objectID`.
	// the result is loaded directly into `object`. It returns an error wrapping ErrNotFound if
	// no object is stored under `objectID`.
	Load(objectID string, object encoding.BinaryUnmarshaler) error

	// IsPresent checks if the object indexed with the string `objectID` is present in the ObjectStore.
	IsPresent(objectID string) (bool, error)

	// Close releases the resources allocated by the ObjectStore.
	Close() error
}

// NewObjectStoreFromConfig creates the ObjectStore described by config.
func NewObjectStoreFromConfig(config Config) (objs ObjectStore, err error) {
	switch config.BackendName {
	case BackendMem:
		objs = NewMemObjectStore()
	case BackendBadger:
		if objs, err = NewBadgerObjectStore(config); err != nil {
			return nil, err
		}
	case BackendHybrid:
		if objs, err = NewHybridObjectStore(config); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown object store backend %q", errs.InvalidConfig, config.BackendName)
	}
	return
}
