// Package fatx implements the Xbox 360 FATX on-disk filesystem: partition
// header and chain-map I/O, directory entry (dirent) operations, and a
// DirentStream type for reading and writing a file's data through its
// cluster chain.
//
// It deliberately stops short of presenting a uniform tree-style filesystem
// API (no Open/Stat/ReadDir veneer) and does not attempt multi-process
// locking, journaling, or crash recovery: callers own a Partition for as long
// as they need it and are responsible for serializing their own access.
package fatx

// ClusterID identifies a cluster within a partition. Valid cluster IDs start
// at 1; 0 is reserved to mean "free" in the chain map. A dirent whose
// FirstCluster is 0 has no data clusters: this package stores 0 there for an
// empty file, not the 0xFFFFFFFF end-of-chain value.
type ClusterID uint32

const (
	// ClusterFree marks a chain-map slot that belongs to no file.
	ClusterFree ClusterID = 0

	// clusterReservedLow/clusterReservedHigh bound a range of chain-map
	// values that are reserved by the format and never point at real data.
	clusterReservedLow16  ClusterID = 0xfff0
	clusterReservedHigh16 ClusterID = 0xfff6
	clusterBad16          ClusterID = 0xfff7
	clusterEndOfChain16   ClusterID = 0xffff

	clusterReservedLow32  ClusterID = 0xfffffff0
	clusterReservedHigh32 ClusterID = 0xfffffff6
	clusterBad32          ClusterID = 0xfffffff7
	clusterEndOfChain32   ClusterID = 0xffffffff
)

// RootDirCluster is the cluster ID of the volume's root directory on every
// FATX partition.
const RootDirCluster ClusterID = 1

// PartitionHeaderSize is the fixed size, in bytes, of a partition's leading
// header region; the chain map begins immediately after it.
const PartitionHeaderSize = 0x1000

// partitionMagic is the 4-byte big-endian signature at the start of every
// partition header: on-disk bytes 0x58, 0x54, 0x41, 0x46 ("XTAF" in ASCII).
const partitionMagic uint32 = 0x58544146

// SectorSize is the fixed physical sector size FATX assumes throughout.
const SectorSize = 512

// DirentSize is the fixed size, in bytes, of one on-disk directory entry.
const DirentSize = 64

// MaxNameLength is the longest name (in bytes) a dirent can hold.
const MaxNameLength = 42
