// Package keystore holds the key material of a node: the network-wide default
// pair used during bootstrap and the personal pair agreed with the server.
package keystore

import (
	"errors"
	"sync"

	"github.com/TheusHen/meshcrypt/meshcrypt/crypto"
)

var ErrSynced = errors.New("keystore: personal key material is already synced")

// Kind names which key/IV pair is in use.
type Kind uint8

const (
	KindDefault Kind = iota
	KindPersonal
)

func (k Kind) String() string {
	switch k {
	case KindDefault:
		return "default"
	case KindPersonal:
		return "personal"
	default:
		return "unknown"
	}
}

// Active is the key material currently protecting traffic, tagged with its kind.
type Active struct {
	Kind     Kind
	Material crypto.KeyMaterial
}

// Store is safe for concurrent use. The active pair is swapped as a whole, so
// a reader never observes a personal IV together with the default key.
type Store struct {
	mu       sync.RWMutex
	src      crypto.Source
	personal crypto.KeyMaterial
	active   Active
}

// New creates an unsynced store drawing generated material from src.
// A nil src selects crypto.SystemSource.
func New(src crypto.Source) *Store {
	if src == nil {
		src = crypto.SystemSource()
	}
	return &Store{
		src:    src,
		active: Active{Kind: KindDefault, Material: crypto.DefaultKeyMaterial()},
	}
}

// GenerateIV fills the personal IV from the store's random source.
func (s *Store) GenerateIV() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active.Kind == KindPersonal {
		return ErrSynced
	}
	iv, err := crypto.FillIV(s.src)
	if err != nil {
		return err
	}
	s.personal.IV = iv
	return nil
}

// GenerateKey fills the personal key from the store's random source.
func (s *Store) GenerateKey() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active.Kind == KindPersonal {
		return ErrSynced
	}
	k, err := crypto.FillKey(s.src)
	if err != nil {
		return err
	}
	s.personal.Key = k
	return nil
}

func (s *Store) SetKey(k crypto.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active.Kind == KindPersonal {
		return ErrSynced
	}
	s.personal.Key = k
	return nil
}

func (s *Store) SetIV(iv crypto.IV) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active.Kind == KindPersonal {
		return ErrSynced
	}
	s.personal.IV = iv
	return nil
}

// Personal returns the personal pair, synced or not.
func (s *Store) Personal() crypto.KeyMaterial {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.personal
}

// Active returns the pair that frames traffic right now.
func (s *Store) Active() Active {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *Store) IsSynced() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active.Kind == KindPersonal
}

// MarkSynced switches all later traffic to the personal pair. There is no way
// back to the default pair.
func (s *Store) MarkSynced() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = Active{Kind: KindPersonal, Material: s.personal}
}
