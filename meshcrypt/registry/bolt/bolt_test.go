package bolt

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TheusHen/meshcrypt/meshcrypt/crypto"
	"github.com/TheusHen/meshcrypt/meshcrypt/registry"
)

func TestStorePersists(t *testing.T) {
	require := require.New(t)
	path := filepath.Join(t.TempDir(), "registry.db")

	s, err := Open(path)
	require.NoError(err)

	now := time.Unix(1700000000, 42)
	rec := registry.Record{
		Address:   5,
		IV:        crypto.IV{},
		Key:       crypto.Key{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
		HasIV:     true,
		HasKey:    true,
		UpdatedAt: now,
	}
	require.NoError(s.Put(rec))
	require.NoError(s.Put(registry.Record{Address: 2, HasIV: true, UpdatedAt: now}))
	require.NoError(s.Close())

	s, err = Open(path)
	require.NoError(err)
	defer s.Close()

	got, err := s.Lookup(5)
	require.NoError(err)
	require.True(got.Complete())
	require.Equal(rec.Key, got.Key)
	require.True(now.Equal(got.UpdatedAt))

	recs, err := s.List()
	require.NoError(err)
	require.Len(recs, 2)
	require.EqualValues(2, recs[0].Address)
	require.False(recs[0].Complete())
	require.EqualValues(5, recs[1].Address)
}

func TestStoreNotFound(t *testing.T) {
	require := require.New(t)

	s, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(err)
	defer s.Close()

	_, err = s.Lookup(9)
	require.ErrorIs(err, registry.ErrNotFound)
	require.ErrorIs(s.Delete(9), registry.ErrNotFound)

	require.NoError(s.Put(registry.Record{Address: 9}))
	require.NoError(s.Delete(9))
	_, err = s.Lookup(9)
	require.ErrorIs(err, registry.ErrNotFound)
}
