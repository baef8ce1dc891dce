package ginternals_test

import (
	"testing"

	"github.com/vcslab/git-go/ginternals"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOidFromStr(t *testing.T) {
	t.Parallel()

	t.Run("happy path", func(t *testing.T) {
		t.Parallel()

		oid, err := ginternals.NewOidFromStr("9b91da06e69613397b38e0808e0ba5ee6983251b")
		require.NoError(t, err)
		assert.Equal(t, "9b91da06e69613397b38e0808e0ba5ee6983251b", oid.String())
		assert.Equal(t, byte(0x9b), oid.Bytes()[0])
		assert.False(t, oid.IsZero())
	})

	t.Run("should fail on invalid hex", func(t *testing.T) {
		t.Parallel()

		_, err := ginternals.NewOidFromStr("zzz1da06e69613397b38e0808e0ba5ee6983251b")
		require.Error(t, err)
		assert.ErrorIs(t, err, ginternals.ErrInvalidOid)
	})

	t.Run("should fail on a short sha", func(t *testing.T) {
		t.Parallel()

		_, err := ginternals.NewOidFromStr("9b91da06")
		require.Error(t, err)
		assert.ErrorIs(t, err, ginternals.ErrInvalidOid)
	})
}

func TestNewOidFromContent(t *testing.T) {
	t.Parallel()

	// well-known SHA of the framed empty blob
	oid := ginternals.NewOidFromContent([]byte("blob 0\x00"))
	assert.Equal(t, "e69de29bb2d1d6434b8b29ae775ad8c2e48c5391", oid.String())
}

func TestNullOid(t *testing.T) {
	t.Parallel()

	assert.True(t, ginternals.NullOid.IsZero())
	assert.Equal(t, "0000000000000000000000000000000000000000", ginternals.NullOid.String())
}
