package fsbackend_test

import (
	"testing"

	"github.com/vcslab/git-go/backend"
	"github.com/vcslab/git-go/ginternals"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReference(t *testing.T) {
	t.Parallel()

	oid, _ := ginternals.NewOidFromStr("0eaf966ff79d8f61958aaefe163620d952606516")

	t.Run("write then read an oid reference", func(t *testing.T) {
		t.Parallel()

		b, _ := newBackend(t)

		ref := ginternals.NewReference("refs/heads/feature", oid)
		require.NoError(t, b.WriteReference(ref))

		got, err := b.Reference("refs/heads/feature")
		require.NoError(t, err)
		assert.Equal(t, ginternals.OidReference, got.Type())
		assert.Equal(t, oid, got.Target())
	})

	t.Run("resolve a symbolic reference", func(t *testing.T) {
		t.Parallel()

		b, _ := newBackend(t)

		require.NoError(t, b.WriteReference(ginternals.NewReference("refs/heads/master", oid)))

		got, err := b.Reference(ginternals.Head)
		require.NoError(t, err)
		assert.Equal(t, ginternals.SymbolicReference, got.Type())
		assert.Equal(t, "refs/heads/master", got.SymbolicTarget())
		assert.Equal(t, oid, got.Target())
	})

	t.Run("a missing reference should fail", func(t *testing.T) {
		t.Parallel()

		b, _ := newBackend(t)

		_, err := b.Reference("refs/heads/nope")
		require.Error(t, err)
		assert.ErrorIs(t, err, ginternals.ErrRefNotFound)
	})

	t.Run("a reference in packed-refs should be found", func(t *testing.T) {
		t.Parallel()

		b, fs := newBackend(t)

		data := "# pack-refs with: peeled fully-peeled sorted\n" + oid.String() + " refs/heads/packed\n"
		require.NoError(t, afero.WriteFile(fs, "/repo/.git/packed-refs", []byte(data), 0o644))

		got, err := b.Reference("refs/heads/packed")
		require.NoError(t, err)
		assert.Equal(t, oid, got.Target())
	})

	t.Run("WriteReferenceSafe should refuse to overwrite", func(t *testing.T) {
		t.Parallel()

		b, _ := newBackend(t)

		ref := ginternals.NewReference("refs/heads/feature", oid)
		require.NoError(t, b.WriteReferenceSafe(ref))
		err := b.WriteReferenceSafe(ref)
		require.Error(t, err)
		assert.ErrorIs(t, err, ginternals.ErrRefExists)
	})
}

func TestUpdateReference(t *testing.T) {
	t.Parallel()

	oldOid, _ := ginternals.NewOidFromStr("0eaf966ff79d8f61958aaefe163620d952606516")
	newOid, _ := ginternals.NewOidFromStr("bbb720a96e4c29b9950a4c577c98470a4d5dd089")

	t.Run("happy path", func(t *testing.T) {
		t.Parallel()

		b, _ := newBackend(t)
		require.NoError(t, b.WriteReference(ginternals.NewReference("refs/heads/master", oldOid)))

		require.NoError(t, b.UpdateReference("refs/heads/master", oldOid, newOid))

		got, err := b.Reference("refs/heads/master")
		require.NoError(t, err)
		assert.Equal(t, newOid, got.Target())
	})

	t.Run("creating a new ref uses a zero old value", func(t *testing.T) {
		t.Parallel()

		b, _ := newBackend(t)

		require.NoError(t, b.UpdateReference("refs/heads/new", ginternals.NullOid, newOid))

		got, err := b.Reference("refs/heads/new")
		require.NoError(t, err)
		assert.Equal(t, newOid, got.Target())
	})

	t.Run("a stale old value should be rejected", func(t *testing.T) {
		t.Parallel()

		b, _ := newBackend(t)
		require.NoError(t, b.WriteReference(ginternals.NewReference("refs/heads/master", newOid)))

		err := b.UpdateReference("refs/heads/master", oldOid, newOid)
		require.Error(t, err)
		assert.ErrorIs(t, err, backend.ErrRefStale)
	})

	t.Run("a held lock should be reported", func(t *testing.T) {
		t.Parallel()

		b, fs := newBackend(t)
		require.NoError(t, b.WriteReference(ginternals.NewReference("refs/heads/master", oldOid)))
		require.NoError(t, afero.WriteFile(fs, "/repo/.git/refs/heads/master.lock", []byte{}, 0o644))

		err := b.UpdateReference("refs/heads/master", oldOid, newOid)
		require.Error(t, err)
		assert.ErrorIs(t, err, ginternals.ErrRefLocked)
	})
}

func TestWalkReferences(t *testing.T) {
	t.Parallel()

	oid, _ := ginternals.NewOidFromStr("0eaf966ff79d8f61958aaefe163620d952606516")

	b, _ := newBackend(t)
	require.NoError(t, b.WriteReference(ginternals.NewReference("refs/heads/master", oid)))
	require.NoError(t, b.WriteReference(ginternals.NewReference("refs/heads/feature", oid)))
	require.NoError(t, b.WriteReference(ginternals.NewReference("refs/tags/v1.0.0", oid)))

	names := []string{}
	err := b.WalkReferences(func(ref *ginternals.Reference) error {
		names = append(names, ref.Name())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"refs/heads/feature", "refs/heads/master", "refs/tags/v1.0.0"}, names)

	t.Run("WalkStop should stop the walk", func(t *testing.T) {
		count := 0
		err := b.WalkReferences(func(ref *ginternals.Reference) error {
			count++
			return backend.WalkStop
		})
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}
