package objectstore

import (
	"encoding"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ChristianMct/ecd/utils"
	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"
)

// badgerObjectStore is a type implementing the objectstore.ObjectStore interface with a permanent storage backend
// based on BadgerDB.
type badgerObjectStore struct {
	db          *badger.DB
	bytesStored atomic.Uint64
}

// NewBadgerObjectStore creates a new BadgerDB-backed ObjectStore instance. If conf.DBPath
// is empty, the database is kept in memory.
func NewBadgerObjectStore(conf Config) (*badgerObjectStore, error) {
	// Maximum size of a single log file = 10MB
	// Maximum size of memtable table = 5MB
	// Value Threshold for an entry to be stored in the log file = 0.5MB
	opt := badger.DefaultOptions(conf.DBPath).WithValueLogFileSize(10 * (1 << 20)).WithMemTableSize(5 * (1 << 20)).WithValueThreshold(1 << 19)
	if conf.DBPath == "" {
		opt = opt.WithInMemory(true)
	}
	opt.Logger = nil
	db, err := badger.Open(opt)
	if err != nil {
		return nil, fmt.Errorf("could not instantiate BadgerDB: %w", err)
	}

	return &badgerObjectStore{db: db}, nil
}

func (objstore *badgerObjectStore) Store(objectID string, object encoding.BinaryMarshaler) error {
	encodedObject, err := object.MarshalBinary()
	if err != nil {
		return err
	}
	err = objstore.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(objectID), encodedObject)
	})
	if err != nil {
		return err
	}
	objstore.bytesStored.Add(uint64(len(encodedObject)))
	return nil
}

func (objstore *badgerObjectStore) Load(objectID string, object encoding.BinaryUnmarshaler) error {
	var encodedObject []byte
	err := objstore.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(objectID))
		if err != nil {
			return err
		}
		encodedObject, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: no value for key %s in BadgerDB ObjectStore", ErrNotFound, objectID)
	}
	if err != nil {
		return err
	}
	return object.UnmarshalBinary(encodedObject)
}

func (objstore *badgerObjectStore) IsPresent(objectID string) (bool, error) {
	present := false
	err := objstore.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(objectID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		present = true
		return nil
	})
	return present, err
}

func (objstore *badgerObjectStore) Close() error {
	log.Debug().Str("component", "objectstore").Str("bytes_stored", utils.ByteCountSI(objstore.bytesStored.Load())).Msg("closing BadgerDB ObjectStore")
	return objstore.db.Close()
}
