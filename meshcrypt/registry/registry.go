// Package registry holds the key material each mesh node announced to the
// server during its bootstrap handshake.
package registry

import (
	"errors"
	"time"

	"github.com/TheusHen/meshcrypt/meshcrypt/crypto"
	"github.com/TheusHen/meshcrypt/meshcrypt/transport"
)

var (
	ErrNotFound = errors.New("registry: node not found")
)

// Record is what the server knows about one node. A node is usable for data
// traffic once both halves of its key material have arrived.
type Record struct {
	Address   transport.Address
	IV        crypto.IV
	Key       crypto.Key
	HasIV     bool
	HasKey    bool
	UpdatedAt time.Time
}

// Complete reports whether both the IV and the key are known.
func (r Record) Complete() bool { return r.HasIV && r.HasKey }

func (r Record) KeyMaterial() crypto.KeyMaterial {
	return crypto.KeyMaterial{Key: r.Key, IV: r.IV}
}

// Registry is a generic key registry.
// Implementations can be backed by memory or a database file.
type Registry interface {
	Put(rec Record) error
	Lookup(addr transport.Address) (Record, error)
	List() ([]Record, error)
	Delete(addr transport.Address) error
}
