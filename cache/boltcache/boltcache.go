// Package boltcache implements cache.Cache on a bbolt database file.
// Suitable for single-node deployments that need protocol state to
// survive restarts.
package boltcache

import (
	"bytes"
	"context"
	"encoding/gob"
	"os"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/elmwood/oidcop/cache"
)

var bucketName = []byte("oidcop-cache")

type record struct {
	Data    []byte
	Expires time.Time
	Sliding time.Duration
}

func (r *record) encode() ([]byte, error) {
	buf := new(bytes.Buffer)
	err := gob.NewEncoder(buf).Encode(r)
	return buf.Bytes(), err
}

func decodeRecord(data []byte) (*record, error) {
	var r *record
	err := gob.NewDecoder(bytes.NewBuffer(data)).Decode(&r)
	return r, err
}

// Cache is a bbolt-backed implementation of cache.Cache.
type Cache struct {
	db *bolt.DB

	// Now is the time source, overridable in tests.
	Now func() time.Time
}

// New opens (creating if needed) the database at path.
func New(path string, mode os.FileMode) (*Cache, error) {
	db, err := bolt.Open(path, mode, &bolt.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "opening bolt database %s", path)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		return nil, errors.Wrap(err, "creating cache bucket")
	}
	return &Cache{db: db, Now: time.Now}, nil
}

// Close releases the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) Put(_ context.Context, key string, value []byte, policy cache.Policy) error {
	r := &record{
		Data:    value,
		Expires: policy.Absolute,
		Sliding: policy.Sliding,
	}
	if policy.Sliding > 0 {
		r.Expires = c.Now().Add(policy.Sliding)
	}
	enc, err := r.encode()
	if err != nil {
		return errors.Wrap(err, "encoding record")
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), enc)
	})
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	var (
		data  []byte
		found bool
	)
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		o := b.Get([]byte(key))
		if o == nil {
			return nil
		}
		r, err := decodeRecord(o)
		if err != nil {
			return errors.Wrap(err, "decoding record")
		}
		now := c.Now()
		if !r.Expires.IsZero() && now.After(r.Expires) {
			return b.Delete([]byte(key))
		}
		if r.Sliding > 0 {
			r.Expires = now.Add(r.Sliding)
			enc, err := r.encode()
			if err != nil {
				return errors.Wrap(err, "re-encoding record")
			}
			if err := b.Put([]byte(key), enc); err != nil {
				return err
			}
		}
		data = append([]byte(nil), r.Data...)
		found = true
		return nil
	})
	return data, found, err
}

func (c *Cache) Take(_ context.Context, key string) ([]byte, bool, error) {
	var (
		data  []byte
		found bool
	)
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		o := b.Get([]byte(key))
		if o == nil {
			return nil
		}
		if err := b.Delete([]byte(key)); err != nil {
			return err
		}
		r, err := decodeRecord(o)
		if err != nil {
			return errors.Wrap(err, "decoding record")
		}
		if !r.Expires.IsZero() && c.Now().After(r.Expires) {
			return nil
		}
		data = r.Data
		found = true
		return nil
	})
	return data, found, err
}
