package store

import (
	"context"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"

	"github.com/roach88/causality/internal/compiler"
	"github.com/roach88/causality/internal/ir"
)

var objectPrefix = []byte("obj/")

// BadgerStore keeps content-addressed objects in an embedded Badger
// database. It stores objects only; runs and receipts need Store.
type BadgerStore struct {
	db *badgerdb.DB
}

// badgerLogger routes Badger's logging through zap.
type badgerLogger struct{ s *zap.SugaredLogger }

func (l badgerLogger) Errorf(f string, a ...any)   { l.s.Errorf(f, a...) }
func (l badgerLogger) Warningf(f string, a ...any) { l.s.Warnf(f, a...) }
func (l badgerLogger) Infof(f string, a ...any)    { l.s.Debugf(f, a...) }
func (l badgerLogger) Debugf(f string, a ...any)   { l.s.Debugf(f, a...) }

// OpenBadger opens a Badger database in dir. An empty dir opens an
// in-memory database.
func OpenBadger(dir string, log *zap.Logger) (*BadgerStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts := badgerdb.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = badgerLogger{log.Named("badger").Sugar()}
	opts.BlockCacheSize = 32 << 20
	opts.IndexCacheSize = 32 << 20
	opts.NumMemtables = 2
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func objectKey(id ir.ContentID) []byte {
	return append(append([]byte{}, objectPrefix...), id[:]...)
}

// GetBlob implements compiler.BlobStore.
func (b *BadgerStore) GetBlob(_ context.Context, id ir.ContentID) ([]byte, error) {
	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(objectKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, compiler.ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get %s: %w", id.Short(), err)
	}
	return data, nil
}

// PutBlob implements compiler.BlobStore. Existing ids are left untouched
// (CP-1).
func (b *BadgerStore) PutBlob(_ context.Context, id ir.ContentID, data []byte) error {
	err := b.db.Update(func(txn *badgerdb.Txn) error {
		key := objectKey(id)
		if _, err := txn.Get(key); err == nil {
			return nil
		} else if !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("badger put %s: %w", id.Short(), err)
	}
	return nil
}

// Len counts stored objects.
func (b *BadgerStore) Len() (int, error) {
	n := 0
	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = objectPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Close closes the database.
func (b *BadgerStore) Close() error { return b.db.Close() }
