package objectstore

import (
	"encoding"
	"fmt"

	"github.com/rs/zerolog/log"
)

// hybridObjectStore is a type implementing the objectstore.ObjectStore interface with a hybrid storage backend.
// It combines an in-memory backend and a persistent backend.
type hybridObjectStore struct {
	badgerObjectStore *badgerObjectStore
	memObjectStore    *memObjectStore
}

// NewHybridObjectStore creates a new ObjectStore instance.
func NewHybridObjectStore(conf Config) (*hybridObjectStore, error) {
	badgerObjectStore, err := NewBadgerObjectStore(conf)
	if err != nil {
		return nil, fmt.Errorf("error while creating BadgerDB ObjectStore in hybrid ObjectStore: %w", err)
	}

	return &hybridObjectStore{
		badgerObjectStore: badgerObjectStore,
		memObjectStore:    NewMemObjectStore(),
	}, nil
}

func (objstore *hybridObjectStore) Store(objectID string, object encoding.BinaryMarshaler) error {
	if err := objstore.badgerObjectStore.Store(objectID, object); err != nil {
		return fmt.Errorf("error while storing in hybrid ObjectStore: %w", err)
	}
	return objstore.memObjectStore.Store(objectID, object)
}

func (objstore *hybridObjectStore) Load(objectID string, object encoding.BinaryUnmarshaler) error {
	// attempt to load the object from the in-memory ObjectStore
	if err := objstore.memObjectStore.Load(objectID, object); err == nil {
		return nil
	}

	// in-memory ObjectStore failed, attempt to load the object from the persistent ObjectStore
	logger := log.With().Str("component", "objectstore").Str("object", objectID).Logger()
	logger.Debug().Msg("object not in memory, loading from BadgerDB")
	if err := objstore.badgerObjectStore.Load(objectID, object); err != nil {
		return err
	}

	// propagate the object to the in-memory ObjectStore
	if objectToStore, ok := object.(encoding.BinaryMarshaler); ok {
		if err := objstore.memObjectStore.Store(objectID, objectToStore); err != nil {
			logger.Warn().Err(err).Msg("could not propagate object to in-memory ObjectStore")
		}
	}
	return nil
}

func (objstore *hybridObjectStore) IsPresent(objectID string) (bool, error) {
	if present, _ := objstore.memObjectStore.IsPresent(objectID); present {
		return true, nil
	}
	return objstore.badgerObjectStore.IsPresent(objectID)
}

func (objstore *hybridObjectStore) Close() error {
	if err := objstore.badgerObjectStore.Close(); err != nil {
		return err
	}
	return objstore.memObjectStore.Close()
}
