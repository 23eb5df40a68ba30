package fatx_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tucana-systems/fatx360/fatx"
	"github.com/tucana-systems/fatx360/iostream"
)

func TestDeviceOpensMemoryCardPartition(t *testing.T) {
	layouts, err := fatx.LayoutForDeviceKind(fatx.DeviceKindMemoryCard)
	require.NoError(t, err)
	require.Len(t, layouts, 2)
	require.Equal(t, "Cache", layouts[0].Name)
	require.Equal(t, "Data", layouts[1].Name)

	// The fixed-size Cache partition is left unformatted; OpenPartitions
	// skips it as NotFATX. Only the open-ended Data partition is formatted,
	// at a small cluster count so the test stays fast.
	const clusterSectors = 1
	bytesPerCluster := int64(clusterSectors) * fatx.SectorSize
	const totalClusters = 16

	chainMapSize := alignUpForTest(int64(totalClusters)*2, 4096)
	partitionSize := fatx.PartitionHeaderSize + chainMapSize + int64(totalClusters)*bytesPerCluster

	deviceSize := layouts[1].Offset + partitionSize
	buf := make([]byte, deviceSize)

	header := buf[layouts[1].Offset:]
	copy(header[0:4], []byte{0x58, 0x54, 0x41, 0x46})
	putBE32(header[8:12], uint32(clusterSectors))
	putBE32(header[12:16], 1)
	// Mark the root directory's cluster end-of-chain in the 16-bit chain
	// map, as a formatted volume has it.
	header[fatx.PartitionHeaderSize+2] = 0xff
	header[fatx.PartitionHeaderSize+3] = 0xff

	stream := iostream.NewMemoryStream(buf)
	device, err := fatx.NewDevice(stream, fatx.DeviceKindMemoryCard, false)
	require.NoError(t, err)

	opened, err := device.OpenPartitions()
	require.NoError(t, err)
	require.Len(t, opened, 1)
	assert.Equal(t, "Data", opened[0].Layout.Name)

	root, err := opened[0].Partition.ReadDirectory(opened[0].Partition.RootDirCluster())
	require.NoError(t, err)
	assert.Empty(t, root)
}

func TestOpenPartitionAtMissingName(t *testing.T) {
	stream := iostream.NewMemoryStream(make([]byte, 1<<20))
	device, err := fatx.NewDevice(stream, fatx.DeviceKindMemoryCard, false)
	require.NoError(t, err)

	_, err = device.OpenPartitionAt("NoSuchPartition")
	assert.Error(t, err)
}
