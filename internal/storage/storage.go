// Package storage provides namespaced key/value persistence with a durable
// lifetime (bbolt) and a session lifetime (process memory).
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/adrg/xdg"
	bolt "go.etcd.io/bbolt"
)

const (
	// BucketSettings holds durable filter values.
	BucketSettings = "settings"
	// BucketMappings holds the publish ledger.
	BucketMappings = "mappings"

	appDir     = "t2r"
	dbFileName = "t2r.db"
)

var errDBLocked = errors.New(
	"is t2r already running? Only one instance can hold the database at a time",
)

// Store is a string keyed value store.
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// DB is a bbolt database client.
type DB struct {
	*bolt.DB
}

// DefaultPath returns the database location below the XDG data directory.
func DefaultPath() (string, error) {
	path, err := xdg.DataFile(filepath.Join(appDir, dbFileName))
	if err != nil {
		return "", fmt.Errorf("cannot determine data directory: %w", err)
	}
	return path, nil
}

// Open creates or opens the database at path and ensures all buckets exist.
func Open(path string) (*DB, error) {
	var fileMode fs.FileMode = 0o600

	db, err := bolt.Open(path, fileMode, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, errDBLocked
		}
		return nil, fmt.Errorf("storage error opening %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{BucketSettings, BucketMappings} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage error creating buckets: %w", err)
	}

	return &DB{db}, nil
}

// Durable returns a Store that survives restarts.
func (db *DB) Durable(namespace string) *Durable {
	return &Durable{db: db, namespace: namespace}
}

// Durable is a Store backed by the settings bucket.
type Durable struct {
	db        *DB
	namespace string
}

func (d *Durable) Get(key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(BucketSettings)).Get([]byte(namespaced(d.namespace, key)))
		if v != nil {
			value, found = string(v), true
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("storage error reading %s: %w", key, err)
	}
	return value, found, nil
}

func (d *Durable) Set(key, value string) error {
	err := d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(BucketSettings)).Put([]byte(namespaced(d.namespace, key)), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("storage error writing %s: %w", key, err)
	}
	return nil
}

func (d *Durable) Delete(key string) error {
	err := d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(BucketSettings)).Delete([]byte(namespaced(d.namespace, key)))
	})
	if err != nil {
		return fmt.Errorf("storage error deleting %s: %w", key, err)
	}
	return nil
}

// Session is a Store that lives as long as the process.
type Session struct {
	mu        sync.RWMutex
	namespace string
	data      map[string]string
}

// NewSession returns an empty session store.
func NewSession(namespace string) *Session {
	return &Session{namespace: namespace, data: map[string]string{}}
}

func (s *Session) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[namespaced(s.namespace, key)]
	return v, ok, nil
}

func (s *Session) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[namespaced(s.namespace, key)] = value
	return nil
}

func (s *Session) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, namespaced(s.namespace, key))
	return nil
}

// Clear drops every session value, as happens on navigation.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = map[string]string{}
}

func namespaced(namespace, key string) string {
	if namespace == "" {
		return key
	}
	return namespace + "." + key
}
