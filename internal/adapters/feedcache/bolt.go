package feedcache

import (
	"context"
	stderrs "errors"
	"os"
	"path/filepath"
	"time"

	perr "feedthreads/internal/platform/errors"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("feed")

// BoltBackend stores one channel in one bbolt file
type BoltBackend struct {
	path string
	db   *bolt.DB
}

// OpenBolt opens or creates the bbolt file at path
func OpenBolt(path string) (*BoltBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, perr.CacheIO(err, "create cache dir for %s", path)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, perr.CacheIO(err, "open cache %s", path)
	}
	return &BoltBackend{path: path, db: db}, nil
}

// Path is the file backing the store
func (b *BoltBackend) Path() string { return b.path }

// Load implements Backend
func (b *BoltBackend) Load(context.Context) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketName)
		if bk == nil {
			return nil
		}
		return bk.ForEach(func(k, v []byte) error {
			out[string(k)] = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, perr.CacheIO(err, "load %s", b.path)
	}
	return out, nil
}

// Apply implements Backend
func (b *BoltBackend) Apply(_ context.Context, puts map[string][]byte, dels []string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bk, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		for _, k := range dels {
			if err := bk.Delete([]byte(k)); err != nil {
				return err
			}
		}
		for k, v := range puts {
			if err := bk.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return perr.CacheIO(err, "write %s", b.path)
	}
	return nil
}

// Destroy implements Backend: the file is closed and removed
func (b *BoltBackend) Destroy(context.Context) error {
	_ = b.db.Close()
	if err := os.Remove(b.path); err != nil && !stderrs.Is(err, os.ErrNotExist) {
		return perr.CacheIO(err, "remove %s", b.path)
	}
	return nil
}

// Close implements Backend
func (b *BoltBackend) Close() error {
	if err := b.db.Close(); err != nil {
		return perr.CacheIO(err, "close %s", b.path)
	}
	return nil
}
