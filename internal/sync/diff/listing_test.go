package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListing_RejectsDuplicates(t *testing.T) {
	l := NewListing()
	require.NoError(t, l.Put(&FileEntry{Path: "a.txt", Size: 1}))

	err := l.Put(&FileEntry{Path: "a.txt", Size: 2})
	assert.ErrorIs(t, err, ErrDuplicatePath)

	e, ok := l.Get("a.txt")
	require.True(t, ok)
	assert.EqualValues(t, 1, e.Size)
}

func TestListing_PathsSorted(t *testing.T) {
	l := NewListing()
	for _, p := range []string{"b", "a/z", "a", "C"} {
		require.NoError(t, l.Put(&FileEntry{Path: p, Size: 2}))
	}

	assert.Equal(t, []string{"C", "a", "a/z", "b"}, l.Paths())
	assert.Equal(t, 4, l.Len())
	assert.EqualValues(t, 8, l.TotalSize())
}

func TestFingerprintFromETag(t *testing.T) {
	fp := FingerprintFromETag("\"ABCDEF\"")
	assert.Equal(t, SchemeMD5, fp.Scheme)
	assert.Equal(t, "abcdef", fp.Value)

	mp := FingerprintFromETag("abc-4")
	assert.Equal(t, SchemeMultipartETag, mp.Scheme)
	assert.False(t, mp.ComparableWith(mp))

	assert.True(t, FingerprintFromETag("").IsZero())
	assert.False(t, fp.ComparableWith(Fingerprint{}))
}

func TestLazyFingerprintRunsOnce(t *testing.T) {
	calls := 0
	e := NewLazyEntry("x", 1, baseTime, func() (Fingerprint, error) {
		calls++
		return Fingerprint{Scheme: SchemeMD5, Value: "1"}, nil
	})

	for range 3 {
		fp, err := e.ResolveFingerprint()
		require.NoError(t, err)
		assert.Equal(t, "1", fp.Value)
	}
	assert.Equal(t, 1, calls)
}
