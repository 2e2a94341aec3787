package objectstore

import (
	"encoding"
	"fmt"
	"sync"
)

// memObjectStore is a type implementing the objectstore.ObjectStore interface with a main memory backend.
// Objects are stored in their binary form, so that later changes to a stored object are not visible.
type memObjectStore struct {
	objstore map[string][]byte
	mtx      sync.RWMutex
}

// NewMemObjectStore creates a new in-memory ObjectStore instance.
func NewMemObjectStore() *memObjectStore {
	return &memObjectStore{objstore: make(map[string][]byte)}
}

func (objstore *memObjectStore) Store(objectID string, object encoding.BinaryMarshaler) error {
	encodedObject, err := object.MarshalBinary()
	if err != nil {
		return err
	}
	objstore.mtx.Lock()
	defer objstore.mtx.Unlock()
	objstore.objstore[objectID] = encodedObject
	return nil
}

func (objstore *memObjectStore) Load(objectID string, object encoding.BinaryUnmarshaler) error {
	objstore.mtx.RLock()
	encodedObject, isPresent := objstore.objstore[objectID]
	objstore.mtx.RUnlock()

	if !isPresent {
		return fmt.Errorf("%w: no value for key %s in in-memory ObjectStore", ErrNotFound, objectID)
	}
	return object.UnmarshalBinary(encodedObject)
}

func (objstore *memObjectStore) IsPresent(objectID string) (bool, error) {
	objstore.mtx.RLock()
	defer objstore.mtx.RUnlock()

	_, ok := objstore.objstore[objectID]
	return ok, nil
}

func (objstore *memObjectStore) Close() error { return nil }
