// Package bolt implements the key registry with a bbolt database file, so a
// server keeps serving bootstrapped nodes across restarts.
package bolt

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/TheusHen/meshcrypt/meshcrypt/crypto"
	"github.com/TheusHen/meshcrypt/meshcrypt/registry"
	"github.com/TheusHen/meshcrypt/meshcrypt/transport"
)

const (
	metadataBucket = "metadata"
	nodesBucket    = "nodes"
	versionKey     = "version"

	schemaVersion = 0
)

type storedRecord struct {
	IV        []byte `cbor:"iv"`
	Key       []byte `cbor:"key"`
	HasIV     bool   `cbor:"has_iv"`
	HasKey    bool   `cbor:"has_key"`
	UpdatedAt int64  `cbor:"updated_at"`
}

// Store is a registry.Registry persisted in a single bbolt file.
type Store struct {
	db *bolt.DB
}

// Open creates (or loads) the registry at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	if err = db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if _, err = tx.CreateBucketIfNotExists([]byte(nodesBucket)); err != nil {
			return err
		}

		if b := bkt.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != schemaVersion {
				return fmt.Errorf("registry: incompatible version: %d", uint(b[0]))
			}
			return nil
		}
		return bkt.Put([]byte(versionKey), []byte{schemaVersion})
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Put(rec registry.Record) error {
	raw, err := cbor.Marshal(storedRecord{
		IV:        rec.IV[:],
		Key:       rec.Key[:],
		HasIV:     rec.HasIV,
		HasKey:    rec.HasKey,
		UpdatedAt: rec.UpdatedAt.UnixNano(),
	})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(nodesBucket)).Put(addrKey(rec.Address), raw)
	})
}

func (s *Store) Lookup(addr transport.Address) (registry.Record, error) {
	var rec registry.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(nodesBucket)).Get(addrKey(addr))
		if raw == nil {
			return registry.ErrNotFound
		}
		var err error
		rec, err = decodeRecord(addr, raw)
		return err
	})
	return rec, err
}

// List returns all records in address order.
func (s *Store) List() ([]registry.Record, error) {
	var out []registry.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(nodesBucket)).ForEach(func(k, v []byte) error {
			if len(k) != 1 {
				return fmt.Errorf("registry: bad key %x", k)
			}
			rec, err := decodeRecord(transport.Address(k[0]), v)
			if err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Delete(addr transport.Address) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(nodesBucket))
		if bkt.Get(addrKey(addr)) == nil {
			return registry.ErrNotFound
		}
		return bkt.Delete(addrKey(addr))
	})
}

func (s *Store) Close() error {
	if err := s.db.Sync(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

func addrKey(a transport.Address) []byte { return []byte{byte(a)} }

func decodeRecord(addr transport.Address, raw []byte) (registry.Record, error) {
	var sr storedRecord
	if err := cbor.Unmarshal(raw, &sr); err != nil {
		return registry.Record{}, fmt.Errorf("registry: node %v: %w", addr, err)
	}
	if len(sr.IV) != crypto.KeySize || len(sr.Key) != crypto.KeySize {
		return registry.Record{}, fmt.Errorf("registry: node %v: %w", addr, crypto.ErrInvalidKeyMaterial)
	}
	rec := registry.Record{
		Address:   addr,
		HasIV:     sr.HasIV,
		HasKey:    sr.HasKey,
		UpdatedAt: time.Unix(0, sr.UpdatedAt),
	}
	copy(rec.IV[:], sr.IV)
	copy(rec.Key[:], sr.Key)
	return rec, nil
}

var _ registry.Registry = (*Store)(nil)
