package fatx_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tucana-systems/fatx360/fatx"
)

func TestWriteThenReadBackRoundTrip(t *testing.T) {
	p := buildTestPartition(t, 64)

	stream, err := fatx.OpenDirentStream(p, fatx.RootDirCluster, "data.bin", fatx.CreateNew, false)
	require.NoError(t, err)

	payload := make([]byte, int(p.BytesPerCluster())*3+17)
	for i := range payload {
		payload[i] = byte(i)
	}

	n, err := stream.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	require.NoError(t, stream.Close())

	reopened, err := fatx.OpenDirentStream(p, fatx.RootDirCluster, "data.bin", fatx.OpenExisting, false)
	require.NoError(t, err)

	readBack := make([]byte, len(payload))
	_, err = io.ReadFull(reopened, readBack)
	require.NoError(t, err)
	assert.Equal(t, payload, readBack)
}

func TestAppendModeStartsAtEnd(t *testing.T) {
	p := buildTestPartition(t, 64)

	s1, err := fatx.OpenDirentStream(p, fatx.RootDirCluster, "log.txt", fatx.CreateNew, false)
	require.NoError(t, err)
	_, err = s1.Write([]byte("first"))
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := fatx.OpenDirentStream(p, fatx.RootDirCluster, "log.txt", fatx.OpenAppend, false)
	require.NoError(t, err)
	_, err = s2.Write([]byte("second"))
	require.NoError(t, err)
	require.NoError(t, s2.Close())

	s3, err := fatx.OpenDirentStream(p, fatx.RootDirCluster, "log.txt", fatx.OpenExisting, false)
	require.NoError(t, err)
	all, err := io.ReadAll(s3)
	require.NoError(t, err)
	assert.Equal(t, "firstsecond", string(all))
}

func TestSetLengthShrinksAndFreesClusters(t *testing.T) {
	p := buildTestPartition(t, 64)

	stream, err := fatx.OpenDirentStream(p, fatx.RootDirCluster, "big.bin", fatx.CreateNew, false)
	require.NoError(t, err)

	payload := make([]byte, int(p.BytesPerCluster())*4)
	_, err = stream.Write(payload)
	require.NoError(t, err)

	freeBefore := p.GetFreeClusterCount()

	require.NoError(t, stream.SetLength(int64(p.BytesPerCluster())))

	freeAfter := p.GetFreeClusterCount()
	assert.Greater(t, freeAfter, freeBefore)

	length, err := stream.Len()
	require.NoError(t, err)
	assert.EqualValues(t, p.BytesPerCluster(), length)
}

func TestCreateNewFailsIfExists(t *testing.T) {
	p := buildTestPartition(t, 64)

	s, err := fatx.OpenDirentStream(p, fatx.RootDirCluster, "x.bin", fatx.CreateNew, false)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = fatx.OpenDirentStream(p, fatx.RootDirCluster, "x.bin", fatx.CreateNew, false)
	assert.Error(t, err)
}

func TestOpenExistingMissingFails(t *testing.T) {
	p := buildTestPartition(t, 64)

	_, err := fatx.OpenDirentStream(p, fatx.RootDirCluster, "missing.bin", fatx.OpenExisting, false)
	assert.Error(t, err)
}

func TestReadOnlyStreamRejectsWrite(t *testing.T) {
	p := buildTestPartition(t, 64)

	s, err := fatx.OpenDirentStream(p, fatx.RootDirCluster, "ro.bin", fatx.CreateNew, false)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	ro, err := fatx.OpenDirentStream(p, fatx.RootDirCluster, "ro.bin", fatx.OpenExisting, true)
	require.NoError(t, err)

	_, err = ro.Write([]byte("nope"))
	assert.Error(t, err)
}
