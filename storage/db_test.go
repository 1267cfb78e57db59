package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBackendsRoundTrip(t *testing.T) {
	for _, backend := range []Backend{BackendMemory, BackendLevelDB, BackendBolt} {
		backend := backend
		t.Run(string(backend), func(t *testing.T) {
			db, err := Open(backend, t.TempDir())
			require.NoError(t, err)
			defer db.Close()

			_, err = db.Get([]byte("missing"))
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, db.Put([]byte("pool"), []byte("v1")))
			require.NoError(t, db.Put([]byte("pool"), []byte("v2")))
			value, err := db.Get([]byte("pool"))
			require.NoError(t, err)
			require.Equal(t, []byte("v2"), value)
		})
	}
}

func TestBoltReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(BackendBolt, dir)
	require.NoError(t, err)
	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	db.Close()

	db, err = Open(BackendBolt, dir)
	require.NoError(t, err)
	defer db.Close()
	value, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), value)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("rocksdb", t.TempDir())
	require.Error(t, err)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	value := []byte("abc")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'z'
	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), got)
}
