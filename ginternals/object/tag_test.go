package object_test

import (
	"testing"
	"time"

	"github.com/vcslab/git-go/ginternals"
	"github.com/vcslab/git-go/ginternals/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTagger() object.Signature {
	return object.Signature{
		Name:  "tagger",
		Email: "tagger@domain.tld",
		Time:  time.Unix(1_700_000_000, 0).UTC(),
	}
}

func TestNewTag(t *testing.T) {
	t.Parallel()

	t.Run("NewTag with all data sets", func(t *testing.T) {
		t.Parallel()

		target := object.New(object.TypeBlob, []byte("test\n"))

		tag := object.NewTag(target, "v10.5.0", testTagger(), "message", nil)
		assert.False(t, tag.ID().IsZero())
		assert.Equal(t, target.ID(), tag.Target())
		assert.Equal(t, object.TypeBlob, tag.Type())
		assert.Equal(t, "v10.5.0", tag.Name())
		assert.Equal(t, "message", tag.Message())
		assert.Equal(t, "tagger", tag.Tagger().Name)
	})
}

func TestTagToObject(t *testing.T) {
	t.Parallel()

	t.Run("parsing a built tag should return the same data", func(t *testing.T) {
		t.Parallel()

		target := object.New(object.TypeCommit, []byte("fake commit"))
		tag := object.NewTag(target, "v1.0.0", testTagger(), "release", nil)

		parsed, err := object.NewTagFromObject(tag.ToObject())
		require.NoError(t, err)

		assert.Equal(t, tag.ID(), parsed.ID())
		assert.Equal(t, tag.Target(), parsed.Target())
		assert.Equal(t, object.TypeCommit, parsed.Type())
		assert.Equal(t, "v1.0.0", parsed.Name())
		assert.Equal(t, "release", parsed.Message())
		assert.Equal(t, tag.Tagger().String(), parsed.Tagger().String())
	})

	t.Run("fields should be serialized in the canonical order", func(t *testing.T) {
		t.Parallel()

		target := object.New(object.TypeCommit, []byte("fake commit"))
		tag := object.NewTag(target, "v1.0.0", testTagger(), "release", nil)

		content := string(tag.ToObject().Bytes())
		expected := "object " + target.ID().String() + "\n" +
			"type commit\n" +
			"tag v1.0.0\n" +
			"tagger " + testTagger().String() + "\n" +
			"\n" +
			"release"
		assert.Equal(t, expected, content)
	})
}

func TestNewTagFromObject(t *testing.T) {
	t.Parallel()

	t.Run("should fail if the object is not a tag", func(t *testing.T) {
		t.Parallel()

		o := object.New(object.TypeBlob, []byte{})
		_, err := object.NewTagFromObject(o)
		require.Error(t, err)
		assert.ErrorIs(t, err, object.ErrObjectInvalid)
	})

	t.Run("should fail on a tag with no tagger", func(t *testing.T) {
		t.Parallel()

		oid, err := ginternals.NewOidFromStr("bbb720a96e4c29b9950a4c577c98470a4d5dd089")
		require.NoError(t, err)

		content := "object " + oid.String() + "\ntype commit\ntag no-tagger\n\nmessage"
		o := object.New(object.TypeTag, []byte(content))
		_, err = object.NewTagFromObject(o)
		require.Error(t, err)
		assert.ErrorIs(t, err, object.ErrTagInvalid)
	})
}
