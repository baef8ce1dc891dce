package fsbackend_test

import (
	"sync"
	"testing"

	"github.com/vcslab/git-go/ginternals"
	"github.com/vcslab/git-go/ginternals/object"
	"github.com/vcslab/git-go/ginternals/packfile"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteObject(t *testing.T) {
	t.Parallel()

	t.Run("happy path", func(t *testing.T) {
		t.Parallel()

		b, fs := newBackend(t)

		o := object.New(object.TypeBlob, []byte("test\n"))
		oid, err := b.WriteObject(o)
		require.NoError(t, err)
		assert.Equal(t, "9daeafb9864cf43055ae93beb0afd6c7d144bfa4", oid.String())

		// the object is stored zlib compressed under the first two
		// chars of its sha
		exists, err := afero.Exists(fs, "/repo/.git/objects/9d/aeafb9864cf43055ae93beb0afd6c7d144bfa4")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("writing twice should be a no-op", func(t *testing.T) {
		t.Parallel()

		b, fs := newBackend(t)

		o := object.New(object.TypeBlob, []byte("test\n"))
		_, err := b.WriteObject(o)
		require.NoError(t, err)

		raw1, err := afero.ReadFile(fs, "/repo/.git/objects/9d/aeafb9864cf43055ae93beb0afd6c7d144bfa4")
		require.NoError(t, err)

		oid, err := b.WriteObject(object.New(object.TypeBlob, []byte("test\n")))
		require.NoError(t, err)
		assert.Equal(t, o.ID(), oid)

		raw2, err := afero.ReadFile(fs, "/repo/.git/objects/9d/aeafb9864cf43055ae93beb0afd6c7d144bfa4")
		require.NoError(t, err)
		assert.Equal(t, raw1, raw2, "the object file should be byte-identical")
	})

	t.Run("concurrent writes of the same object should work", func(t *testing.T) {
		t.Parallel()

		b, _ := newBackend(t)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := b.WriteObject(object.New(object.TypeBlob, []byte("test\n")))
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		found, err := b.HasObject(object.New(object.TypeBlob, []byte("test\n")).ID())
		require.NoError(t, err)
		assert.True(t, found)
	})
}

func TestObject(t *testing.T) {
	t.Parallel()

	t.Run("should return a written object", func(t *testing.T) {
		t.Parallel()

		b, _ := newBackend(t)

		o := object.New(object.TypeBlob, []byte("test\n"))
		_, err := b.WriteObject(o)
		require.NoError(t, err)

		got, err := b.Object(o.ID())
		require.NoError(t, err)
		assert.Equal(t, o.ID(), got.ID())
		assert.Equal(t, object.TypeBlob, got.Type())
		assert.Equal(t, []byte("test\n"), got.Bytes())
	})

	t.Run("should fail on a missing object", func(t *testing.T) {
		t.Parallel()

		b, _ := newBackend(t)

		oid, err := ginternals.NewOidFromStr("bbb720a96e4c29b9950a4c577c98470a4d5dd089")
		require.NoError(t, err)

		_, err = b.Object(oid)
		require.Error(t, err)
		assert.ErrorIs(t, err, ginternals.ErrObjectNotFound)

		found, err := b.HasObject(oid)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("should detect a corrupted object", func(t *testing.T) {
		t.Parallel()

		b, fs := newBackend(t)

		o := object.New(object.TypeBlob, []byte("test\n"))
		_, err := b.WriteObject(o)
		require.NoError(t, err)

		// rewrite the object with a broken size header
		broken := object.New(object.TypeBlob, []byte("test\n longer than advertised"))
		data, err := broken.Compress()
		require.NoError(t, err)
		// the framing advertises the size of $broken but the oid
		// path is the one of $o
		corrupted := make([]byte, len(data))
		copy(corrupted, data)
		require.NoError(t, fs.Chmod("/repo/.git/objects/9d/aeafb9864cf43055ae93beb0afd6c7d144bfa4", 0o644))
		require.NoError(t, afero.WriteFile(fs, "/repo/.git/objects/9d/aeafb9864cf43055ae93beb0afd6c7d144bfa4", corrupted[:len(corrupted)-4], 0o644))

		// bypass the cache with a fresh backend
		b2, err := newBackendAt(t, fs)
		require.NoError(t, err)
		_, err = b2.Object(o.ID())
		require.Error(t, err)
	})
}

func TestWalkLooseObjectIDs(t *testing.T) {
	t.Parallel()

	b, _ := newBackend(t)

	a := object.New(object.TypeBlob, []byte("aaa"))
	c := object.New(object.TypeBlob, []byte("ccc"))
	_, err := b.WriteObject(a)
	require.NoError(t, err)
	_, err = b.WriteObject(c)
	require.NoError(t, err)

	seen := map[ginternals.Oid]struct{}{}
	err = b.WalkLooseObjectIDs(func(oid ginternals.Oid) error {
		seen[oid] = struct{}{}
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, 2)
	assert.Contains(t, seen, a.ID())
	assert.Contains(t, seen, c.ID())

	t.Run("OidWalkStop should stop the walk", func(t *testing.T) {
		count := 0
		err := b.WalkLooseObjectIDs(func(oid ginternals.Oid) error {
			count++
			return packfile.OidWalkStop
		})
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}
