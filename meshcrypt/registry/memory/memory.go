package memory

import (
	"sort"
	"sync"

	"github.com/TheusHen/meshcrypt/meshcrypt/registry"
	"github.com/TheusHen/meshcrypt/meshcrypt/transport"
)

// Store is an in-memory key registry.
// It is useful for tests, simulations and servers that re-bootstrap on start.
type Store struct {
	mu    sync.RWMutex
	nodes map[transport.Address]registry.Record
}

func New() *Store {
	return &Store{nodes: map[transport.Address]registry.Record{}}
}

func (s *Store) Put(rec registry.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[rec.Address] = rec
	return nil
}

func (s *Store) Lookup(addr transport.Address) (registry.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.nodes[addr]
	if !ok {
		return registry.Record{}, registry.ErrNotFound
	}
	return rec, nil
}

// List returns all records ordered by address.
func (s *Store) List() ([]registry.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]registry.Record, 0, len(s.nodes))
	for _, rec := range s.nodes {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (s *Store) Delete(addr transport.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[addr]; !ok {
		return registry.ErrNotFound
	}
	delete(s.nodes, addr)
	return nil
}

var _ registry.Registry = (*Store)(nil)
