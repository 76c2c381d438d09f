// Package boltstore persists the object store in a bbolt file. Reads are
// served from an in-memory gamedb.Database; every write goes to the cache
// and then through to bolt in its own transaction.
package boltstore

import (
	"context"
	"log"
	"os"
	"sync"

	"github.com/pkg/errors"
	bbolt "go.etcd.io/bbolt"

	"github.com/crystal-mush/mushcode/pkg/gamedb"
)

const importBatch = 1000

// Store wraps a bbolt database and its in-memory cache. It implements
// gamedb.Store.
type Store struct {
	bolt  *bbolt.DB
	cache *gamedb.Database

	wmu sync.Mutex // orders cache writes with their persistence
}

var _ gamedb.Store = (*Store)(nil)

// Open opens or creates a bbolt file and ensures all buckets exist. Call
// Load to fill the cache.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "boltstore: open %s", path)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketObjects, bucketChannels} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		meta := tx.Bucket(bucketMeta)
		if v := meta.Get(keySchema); v != nil && keyToInt(v) != schemaVersion {
			return errors.Errorf("schema version %d, want %d", keyToInt(v), schemaVersion)
		}
		return meta.Put(keySchema, intToKey(schemaVersion))
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "boltstore: init")
	}
	return &Store{bolt: db, cache: gamedb.NewDatabase()}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	if s.bolt != nil {
		return s.bolt.Close()
	}
	return nil
}

// DB returns the in-memory cache.
func (s *Store) DB() *gamedb.Database {
	return s.cache
}

// Path returns the filesystem path of the bbolt file.
func (s *Store) Path() string {
	if s.bolt != nil {
		return s.bolt.Path()
	}
	return ""
}

// HasData reports whether the file holds any objects.
func (s *Store) HasData() bool {
	has := false
	s.bolt.View(func(tx *bbolt.Tx) error {
		has = tx.Bucket(bucketObjects).Stats().KeyN > 0
		return nil
	})
	return has
}

// Load reads every object and channel from bolt into the cache.
func (s *Store) Load() error {
	objects, channels := 0, 0
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		err := tx.Bucket(bucketObjects).ForEach(func(k, v []byte) error {
			obj, err := decodeObject(v)
			if err != nil {
				return errors.Wrapf(err, "decode object #%d", keyToRef(k))
			}
			if obj.DBRef != keyToRef(k) {
				return errors.Errorf("object #%d stored under #%d", obj.DBRef, keyToRef(k))
			}
			s.cache.Add(obj)
			objects++
			return nil
		})
		if err != nil {
			return err
		}
		return tx.Bucket(bucketChannels).ForEach(func(k, v []byte) error {
			ch, err := decodeChannel(v)
			if err != nil {
				return errors.Wrapf(err, "decode channel %q", k)
			}
			s.cache.AddChannel(ch)
			channels++
			return nil
		})
	})
	if err != nil {
		return errors.Wrap(err, "boltstore: load")
	}
	log.Printf("boltstore: loaded %d objects, %d channels", objects, channels)
	return nil
}

// Import bulk-writes db into bolt, a batch of objects per transaction, and
// makes it the cache.
func (s *Store) Import(db *gamedb.Database) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	objs, chans := db.Snapshot()
	for start := 0; start < len(objs); start += importBatch {
		batch := objs[start:min(start+importBatch, len(objs))]
		if err := s.putObjects(batch...); err != nil {
			return errors.Wrap(err, "boltstore: import objects")
		}
	}
	err := s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketChannels)
		for _, ch := range chans {
			data, err := encodeChannel(ch)
			if err != nil {
				return errors.Wrapf(err, "encode channel %q", ch.Name)
			}
			if err := b.Put(channelKey(ch.Name), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "boltstore: import channels")
	}
	s.cache = db
	log.Printf("boltstore: imported %d objects, %d channels", len(objs), len(chans))
	return nil
}

func (s *Store) putObjects(objs ...*gamedb.Object) error {
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		for _, obj := range objs {
			data, err := encodeObject(obj)
			if err != nil {
				return errors.Wrapf(err, "encode object #%d", obj.DBRef)
			}
			if err := b.Put(refToKey(obj.DBRef), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// PutObject adds or replaces an object, cache and file.
func (s *Store) PutObject(obj *gamedb.Object) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	cp := obj.Clone()
	if err := s.putObjects(cp); err != nil {
		return errors.Wrapf(err, "boltstore: put #%d", obj.DBRef)
	}
	s.cache.Add(cp)
	return nil
}

// DeleteObject removes an object from cache and file.
func (s *Store) DeleteObject(ref gamedb.DBRef) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	err := s.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketObjects).Delete(refToKey(ref))
	})
	if err != nil {
		return errors.Wrapf(err, "boltstore: delete #%d", ref)
	}
	s.cache.Remove(ref)
	return nil
}

// PutChannel adds or replaces a channel, cache and file.
func (s *Store) PutChannel(ch *gamedb.Channel) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	data, err := encodeChannel(ch)
	if err != nil {
		return errors.Wrapf(err, "boltstore: encode channel %q", ch.Name)
	}
	err = s.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChannels).Put(channelKey(ch.Name), data)
	})
	if err != nil {
		return errors.Wrapf(err, "boltstore: put channel %q", ch.Name)
	}
	s.cache.AddChannel(ch)
	return nil
}

// Backup writes a consistent snapshot of the file to path.
func (s *Store) Backup(path string) error {
	return s.bolt.View(func(tx *bbolt.Tx) error {
		f, err := os.Create(path)
		if err != nil {
			return errors.Wrapf(err, "boltstore: create backup %s", path)
		}
		defer f.Close()
		if _, err := tx.WriteTo(f); err != nil {
			return errors.Wrap(err, "boltstore: write backup")
		}
		log.Printf("boltstore: backup written to %s", path)
		return nil
	})
}

// writeThrough applies a cache mutation and persists the resulting object.
// A failed persist leaves the cache ahead of the file and is reported as a
// store error.
func (s *Store) writeThrough(ctx context.Context, ref gamedb.DBRef, apply func() error) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := apply(); err != nil {
		return err
	}
	obj, err := s.cache.Object(ctx, ref)
	if err != nil {
		return err
	}
	if err := s.putObjects(obj); err != nil {
		log.Printf("boltstore: write-through of #%d failed: %v", ref, err)
		return errors.Wrapf(err, "boltstore: persist #%d", ref)
	}
	return nil
}

func (s *Store) Object(ctx context.Context, ref gamedb.DBRef) (*gamedb.Object, error) {
	return s.cache.Object(ctx, ref)
}

func (s *Store) Match(ctx context.Context, looker gamedb.DBRef, name string) (gamedb.DBRef, error) {
	return s.cache.Match(ctx, looker, name)
}

func (s *Store) Attr(ctx context.Context, obj gamedb.DBRef, path string) (string, bool, error) {
	return s.cache.Attr(ctx, obj, path)
}

func (s *Store) SetAttr(ctx context.Context, obj gamedb.DBRef, path, value string) error {
	return s.writeThrough(ctx, obj, func() error {
		return s.cache.SetAttr(ctx, obj, path, value)
	})
}

func (s *Store) Lock(ctx context.Context, obj gamedb.DBRef, lockType string) (string, error) {
	return s.cache.Lock(ctx, obj, lockType)
}

func (s *Store) SetLock(ctx context.Context, obj gamedb.DBRef, lockType, lockString string) error {
	return s.writeThrough(ctx, obj, func() error {
		return s.cache.SetLock(ctx, obj, lockType, lockString)
	})
}

func (s *Store) Contents(ctx context.Context, obj gamedb.DBRef) ([]gamedb.DBRef, error) {
	return s.cache.Contents(ctx, obj)
}

func (s *Store) OnChannel(ctx context.Context, channel string, obj gamedb.DBRef) (bool, error) {
	return s.cache.OnChannel(ctx, channel, obj)
}

func (s *Store) SetFlag(ctx context.Context, obj gamedb.DBRef, name string, on bool) error {
	return s.writeThrough(ctx, obj, func() error {
		return s.cache.SetFlag(ctx, obj, name, on)
	})
}
