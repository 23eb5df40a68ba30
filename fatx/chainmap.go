package fatx

import (
	"github.com/boljen/go-bitmap"

	"github.com/tucana-systems/fatx360/errors"
)

// chainMap is the FATX equivalent of a FAT allocation table: one entry per
// data cluster, either ClusterFree, an end-of-chain marker, or the ID of the
// next cluster in the chain. Entries are 16 bits wide on partitions with
// fewer than 0xfff0 clusters and 32 bits wide otherwise, same as the
// reserved-value ranges in doc.go imply.
type chainMap struct {
	entries  []ClusterID
	wide     bool // true if entries are stored as 32-bit values on disk
	freeMap  bitmap.Bitmap
	freeHint int // index to resume scanning from; purely an optimization
}

// decodeChainMap builds a chainMap from its raw on-disk byte representation,
// mirroring the allocation bitmap from the stored entries so AllocateCluster
// doesn't need to rescan entries on every call (adapted from
// drivers/common/allocatormap.go's Allocator.AllocationBitmap).
func decodeChainMap(raw []byte, totalClusters int, wide bool) (*chainMap, error) {
	cm := &chainMap{
		entries: make([]ClusterID, totalClusters+1),
		wide:    wide,
		freeMap: bitmap.New(totalClusters + 1),
	}

	entrySize := 2
	if wide {
		entrySize = 4
	}

	needed := (totalClusters + 1) * entrySize
	if len(raw) < needed {
		return nil, errors.UnexpectedEOF.WithMessage("chain map truncated")
	}

	for i := 1; i <= totalClusters; i++ {
		off := i * entrySize
		var value uint32
		if wide {
			value = uint32(raw[off])<<24 | uint32(raw[off+1])<<16 | uint32(raw[off+2])<<8 | uint32(raw[off+3])
		} else {
			value = uint32(raw[off])<<8 | uint32(raw[off+1])
		}
		cm.entries[i] = ClusterID(value)
		if value != uint32(ClusterFree) {
			cm.freeMap.Set(i, true)
		}
	}

	return cm, nil
}

// encode serializes the chain map back to its on-disk byte form.
func (cm *chainMap) encode() []byte {
	entrySize := 2
	if cm.wide {
		entrySize = 4
	}

	buf := make([]byte, len(cm.entries)*entrySize)
	for i, value := range cm.entries {
		off := i * entrySize
		if cm.wide {
			buf[off] = byte(value >> 24)
			buf[off+1] = byte(value >> 16)
			buf[off+2] = byte(value >> 8)
			buf[off+3] = byte(value)
		} else {
			buf[off] = byte(value >> 8)
			buf[off+1] = byte(value)
		}
	}
	return buf
}

func (cm *chainMap) totalClusters() int {
	return len(cm.entries) - 1
}

func (cm *chainMap) endOfChainMarker() ClusterID {
	if cm.wide {
		return clusterEndOfChain32
	}
	return clusterEndOfChain16
}

func (cm *chainMap) isEndOfChain(id ClusterID) bool {
	if cm.wide {
		return id >= clusterReservedLow32
	}
	return id >= clusterReservedLow16
}

func (cm *chainMap) checkBounds(id ClusterID) error {
	if id < 1 || int(id) > cm.totalClusters() {
		return errors.BadCluster.WithMessage("cluster index out of range")
	}
	return nil
}

// next returns the cluster following id in its chain. The caller must check
// isEndOfChain(id) first; calling next on a terminal cluster is an error.
func (cm *chainMap) next(id ClusterID) (ClusterID, error) {
	if err := cm.checkBounds(id); err != nil {
		return 0, err
	}
	return cm.entries[id], nil
}

// setNext links id to point at next in the chain map, without validating
// that next itself is in bounds (it may legitimately be an end-of-chain
// marker).
func (cm *chainMap) setNext(id ClusterID, next ClusterID) error {
	if err := cm.checkBounds(id); err != nil {
		return err
	}
	cm.entries[id] = next
	return nil
}

// allocateOne finds the first free cluster via a linear scan of the mirror
// bitmap, resuming from freeHint the way Allocator.AllocateBlock scans from
// the start but keeping a cursor avoids rescanning a mostly-full bitmap
// cluster-by-cluster on every single-cluster growth.
func (cm *chainMap) allocateOne() (ClusterID, error) {
	total := cm.totalClusters()
	for offset := 0; offset < total; offset++ {
		i := 1 + (cm.freeHint+offset)%total
		if !cm.freeMap.Get(i) {
			cm.freeMap.Set(i, true)
			cm.freeHint = i % total
			cm.entries[i] = cm.endOfChainMarker()
			return ClusterID(i), nil
		}
	}
	return 0, errors.NoSpace.WithMessage("no free clusters available")
}

// freeOne marks a single cluster free in both the chain map and the mirror
// bitmap without following or breaking any chain link.
func (cm *chainMap) freeOne(id ClusterID) error {
	if err := cm.checkBounds(id); err != nil {
		return err
	}
	cm.entries[id] = ClusterFree
	cm.freeMap.Set(int(id), false)
	return nil
}

func (cm *chainMap) freeClusterCount() int {
	count := 0
	for i := 1; i <= cm.totalClusters(); i++ {
		if !cm.freeMap.Get(i) {
			count++
		}
	}
	return count
}
