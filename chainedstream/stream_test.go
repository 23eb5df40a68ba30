package chainedstream_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tucana-systems/fatx360/chainedstream"
	"github.com/tucana-systems/fatx360/iostream"
)

func threeSegmentStream(t *testing.T) *chainedstream.Stream {
	t.Helper()

	a := iostream.NewMemoryStream([]byte("AAAA"))
	b := iostream.NewMemoryStream([]byte("BBB"))
	c := iostream.NewMemoryStream([]byte("CCCCC"))

	s, err := chainedstream.New([]iostream.Stream{a, b, c})
	require.NoError(t, err)
	return s
}

func TestReadAcrossSegmentBoundaries(t *testing.T) {
	s := threeSegmentStream(t)

	buf := make([]byte, 12)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Equal(t, "AAAABBBCCCCC", string(buf))
}

func TestReadReturnsEOFAtTotalLength(t *testing.T) {
	s := threeSegmentStream(t)

	_, err := s.Seek(0, io.SeekEnd)
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err := s.Read(buf)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestWriteSpansSegments(t *testing.T) {
	s := threeSegmentStream(t)

	_, err := s.Seek(2, io.SeekStart)
	require.NoError(t, err)

	n, err := s.Write([]byte("XXXXXXXX"))
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	_, err = s.Seek(0, io.SeekStart)
	require.NoError(t, err)

	buf := make([]byte, 12)
	_, err = s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "AAXXXXXXXXCC", string(buf))
}

func TestWritePastTotalLengthFails(t *testing.T) {
	s := threeSegmentStream(t)

	_, err := s.Seek(0, io.SeekEnd)
	require.NoError(t, err)

	_, err = s.Write([]byte("overflow"))
	assert.Error(t, err)
}

func TestSeekBounds(t *testing.T) {
	s := threeSegmentStream(t)

	_, err := s.Seek(-1, io.SeekStart)
	assert.Error(t, err)

	_, err = s.Seek(1, io.SeekEnd)
	assert.Error(t, err)

	total, err := s.Len()
	require.NoError(t, err)
	assert.EqualValues(t, 12, total)
}

func TestTruncateUnsupported(t *testing.T) {
	s := threeSegmentStream(t)
	assert.Error(t, s.Truncate(20))
}

func TestFlushSucceedsWhenEverySegmentFlushes(t *testing.T) {
	s := threeSegmentStream(t)
	assert.NoError(t, s.Flush())
}
