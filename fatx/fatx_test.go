package fatx_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tucana-systems/fatx360/fatx"
	"github.com/tucana-systems/fatx360/iostream"
)

// buildTestPartition writes a minimal valid FATX partition header plus an
// empty chain map and root directory cluster into a fresh in-memory stream,
// then opens it through fatx.Open, exactly as a real caller would after
// formatting a volume. totalClusters is the partition's declared cluster
// count: per spec, a Regular partition's cluster count is simply
// totalSize/bytesPerCluster with no allowance for header/chain-map overhead,
// so the backing buffer is sized generously past totalSize to keep every
// cluster the partition claims to have actually addressable in the test.
func buildTestPartition(t *testing.T, totalClusters int) *fatx.Partition {
	t.Helper()

	const clusterSectors = 1 // 512 bytes/cluster, small enough for fast tests
	bytesPerCluster := int64(clusterSectors) * fatx.SectorSize

	totalSize := int64(totalClusters) * bytesPerCluster

	entrySize := int64(2)
	if totalClusters >= 0xfff0 {
		entrySize = 4
	}
	chainMapSize := alignUpForTest(int64(totalClusters)*entrySize, 4096)
	dataStart := fatx.PartitionHeaderSize + chainMapSize

	buf := make([]byte, dataStart+int64(totalClusters)*bytesPerCluster)

	// Header: magic "XTAF" read big-endian, volume id, cluster size in
	// sectors, root dir first cluster.
	copy(buf[0:4], []byte{0x58, 0x54, 0x41, 0x46})
	putBE32(buf[4:8], 0x12345678)
	putBE32(buf[8:12], uint32(clusterSectors))
	putBE32(buf[12:16], 1) // root dir is always cluster 1

	stream := iostream.NewMemoryStream(buf)
	partition, err := fatx.Open(stream, totalSize, fatx.PartitionRegular, false)
	require.NoError(t, err)

	// The root directory's single cluster starts out as "all free slots";
	// mark it allocated/end-of-chain in the chain map via the same
	// mechanism any other cluster allocation would use.
	root, err := partition.AllocateCluster()
	require.NoError(t, err)
	require.Equal(t, fatx.RootDirCluster, root)

	blank := make([]byte, partition.BytesPerCluster())
	for i := range blank {
		blank[i] = 0xff
	}
	require.NoError(t, partition.WriteCluster(root, blank))

	return partition
}

func alignUpForTest(value, align int64) int64 {
	if value%align == 0 {
		return value
	}
	return value + (align - value%align)
}

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
