package fatx

import (
	"path"
	"strings"

	"github.com/tucana-systems/fatx360/errors"
)

// DirentSlot identifies one directory entry's position in its parent: the
// cluster holding it and its index within that cluster.
type DirentSlot struct {
	Cluster ClusterID
	Index   int
}

func (p *Partition) direntsPerCluster() int {
	return int(p.bytesPerCluster) / DirentSize
}

// ReadDirectory returns every live (non-deleted) dirent in the directory
// whose data starts at parentCluster, walking its whole cluster chain and
// stopping at the first slot marked as the end of the directory, the same
// rule clusterToDirentSlice applies within a single cluster, generalized
// here to a chain that can span more than one cluster.
func (p *Partition) ReadDirectory(parentCluster ClusterID) ([]Dirent, error) {
	return p.readDirectorySlots(parentCluster, false)
}

// readDirectorySlots is the shared walk behind ReadDirectory and the
// internal lookups that need deleted entries too (undelete, slot reuse).
func (p *Partition) readDirectorySlots(parentCluster ClusterID, includeDeleted bool) ([]Dirent, error) {
	chain, err := p.ReadChain(parentCluster)
	if err != nil {
		return nil, err
	}

	var result []Dirent
	perCluster := p.direntsPerCluster()

	for _, cluster := range chain {
		data, err := p.ReadCluster(cluster)
		if err != nil {
			return nil, err
		}

		for i := 0; i < perCluster; i++ {
			raw := data[i*DirentSize : (i+1)*DirentSize]
			dirent, ok, err := decodeDirent(raw)
			if err != nil {
				return nil, err
			}
			if !ok {
				return result, nil
			}
			if dirent.deleted && !includeDeleted {
				continue
			}
			result = append(result, dirent)
		}
	}

	return result, nil
}

// findSlot locates the slot holding name inside parentCluster's directory,
// considering only deleted slots if wantDeleted and only live ones
// otherwise. It returns NotFound if no such slot exists and never grows the
// chain; findFreeSlot does that.
func (p *Partition) findSlot(parentCluster ClusterID, name string, wantDeleted bool) (DirentSlot, Dirent, error) {
	chain, err := p.ReadChain(parentCluster)
	if err != nil {
		return DirentSlot{}, Dirent{}, err
	}

	perCluster := p.direntsPerCluster()

	for _, cluster := range chain {
		data, err := p.ReadCluster(cluster)
		if err != nil {
			return DirentSlot{}, Dirent{}, err
		}
		for i := 0; i < perCluster; i++ {
			raw := data[i*DirentSize : (i+1)*DirentSize]
			dirent, ok, err := decodeDirent(raw)
			if err != nil {
				return DirentSlot{}, Dirent{}, err
			}
			if !ok {
				return DirentSlot{}, Dirent{}, errors.NotFound.WithMessage(name)
			}
			if dirent.deleted != wantDeleted {
				continue
			}
			if dirent.Name == name {
				return DirentSlot{Cluster: cluster, Index: i}, dirent, nil
			}
		}
	}

	return DirentSlot{}, Dirent{}, errors.NotFound.WithMessage(name)
}

// findFreeSlot finds the first unused or soft-deleted slot in parentCluster's
// directory, extending the chain by one cluster if none is available.
func (p *Partition) findFreeSlot(parentCluster ClusterID) (DirentSlot, error) {
	chain, err := p.ReadChain(parentCluster)
	if err != nil {
		return DirentSlot{}, err
	}

	perCluster := p.direntsPerCluster()

	for _, cluster := range chain {
		data, err := p.ReadCluster(cluster)
		if err != nil {
			return DirentSlot{}, err
		}
		for i := 0; i < perCluster; i++ {
			raw := data[i*DirentSize : (i+1)*DirentSize]
			nameLength := raw[0]
			if isEndOfDirectorySentinel(nameLength) || nameLength == nameLengthDeleted {
				return DirentSlot{Cluster: cluster, Index: i}, nil
			}
		}
	}

	// Every cluster in the chain is full; grow it by one.
	last := chain[len(chain)-1]
	newCluster, err := p.AllocateCluster()
	if err != nil {
		return DirentSlot{}, err
	}
	if err := p.LinkCluster(last, newCluster); err != nil {
		return DirentSlot{}, err
	}

	blank := make([]byte, p.bytesPerCluster)
	for i := range blank {
		blank[i] = 0xff
	}
	if err := p.WriteCluster(newCluster, blank); err != nil {
		return DirentSlot{}, err
	}

	return DirentSlot{Cluster: newCluster, Index: 0}, nil
}

func (p *Partition) writeSlot(slot DirentSlot, dirent *Dirent) error {
	raw, err := encodeDirent(dirent)
	if err != nil {
		return err
	}

	data, err := p.ReadCluster(slot.Cluster)
	if err != nil {
		return err
	}
	copy(data[slot.Index*DirentSize:(slot.Index+1)*DirentSize], raw)
	return p.WriteCluster(slot.Cluster, data)
}

// DirentGet returns the live dirent named name inside the directory rooted
// at parentCluster.
func (p *Partition) DirentGet(parentCluster ClusterID, name string) (Dirent, error) {
	_, dirent, err := p.findSlot(parentCluster, name, false)
	return dirent, err
}

// CreateDirent adds a new dirent named name to the directory rooted at
// parentCluster. isDirectory controls whether the new entry gets a starter
// cluster of its own (directories always start with one blank data cluster
// to hold their entries; regular files start with FirstCluster ==
// ClusterFree until their first write).
func (p *Partition) CreateDirent(parentCluster ClusterID, name string, isDirectory bool) (Dirent, error) {
	if err := ValidateName(name); err != nil {
		return Dirent{}, err
	}

	if _, _, err := p.findSlot(parentCluster, name, false); err == nil {
		return Dirent{}, errors.AlreadyExists.WithMessage(name)
	}

	dirent := Dirent{Name: name}
	if isDirectory {
		dirent.Attributes = AttrDirectory
		cluster, err := p.AllocateCluster()
		if err != nil {
			return Dirent{}, err
		}
		blank := make([]byte, p.bytesPerCluster)
		for i := range blank {
			blank[i] = 0xff
		}
		if err := p.WriteCluster(cluster, blank); err != nil {
			return Dirent{}, err
		}
		dirent.FirstCluster = cluster
	}

	slot, err := p.findFreeSlot(parentCluster)
	if err != nil {
		return Dirent{}, err
	}
	if err := p.writeSlot(slot, &dirent); err != nil {
		return Dirent{}, err
	}

	return dirent, nil
}

// UpdateDirent rewrites the stored metadata for name (size, timestamps,
// attributes) without moving it to a new slot.
func (p *Partition) UpdateDirent(parentCluster ClusterID, name string, mutate func(*Dirent)) error {
	slot, dirent, err := p.findSlot(parentCluster, name, false)
	if err != nil {
		return err
	}
	mutate(&dirent)
	return p.writeSlot(slot, &dirent)
}

// DirentDelete soft-deletes name: the slot's name-length byte is replaced
// with the deleted marker but the name bytes, attributes, and cluster chain
// are left untouched so UndeleteDirent can restore them later, as long as
// nothing else reuses the slot first.
func (p *Partition) DirentDelete(parentCluster ClusterID, name string) error {
	slot, dirent, err := p.findSlot(parentCluster, name, false)
	if err != nil {
		return err
	}
	dirent.deleted = true
	return p.writeSlot(slot, &dirent)
}

// UndeleteDirent restores a soft-deleted slot at the given position back to
// a normal, live dirent. Callers are responsible for supplying a corrected
// FirstCluster if the chain was reassigned elsewhere in the meantime (see
// the DirentMove note in DESIGN.md); undelete only clears the deleted flag
// and leaves every other field as recovered from disk.
func (p *Partition) UndeleteDirent(slot DirentSlot) (Dirent, error) {
	data, err := p.ReadCluster(slot.Cluster)
	if err != nil {
		return Dirent{}, err
	}
	raw := data[slot.Index*DirentSize : (slot.Index+1)*DirentSize]
	dirent, ok, err := decodeDirent(raw)
	if err != nil {
		return Dirent{}, err
	}
	if !ok || !dirent.deleted {
		return Dirent{}, errors.NotFound.WithMessage("slot is not a deleted dirent")
	}

	dirent.deleted = false
	if err := p.writeSlot(slot, &dirent); err != nil {
		return Dirent{}, err
	}
	return dirent, nil
}

// DirentRename changes a dirent's name in place without touching its data
// chain.
func (p *Partition) DirentRename(parentCluster ClusterID, oldName, newName string) error {
	if err := ValidateName(newName); err != nil {
		return err
	}
	if _, _, err := p.findSlot(parentCluster, newName, false); err == nil {
		return errors.AlreadyExists.WithMessage(newName)
	}

	slot, dirent, err := p.findSlot(parentCluster, oldName, false)
	if err != nil {
		return err
	}
	dirent.Name = newName
	return p.writeSlot(slot, &dirent)
}

// MoveDirent relocates name from one parent directory to another, optionally
// renaming it in the same step. It refuses to move a directory into its own
// subtree: a destParentCluster that is the source dirent's FirstCluster or a
// descendant of it is rejected.
func (p *Partition) MoveDirent(srcParentCluster ClusterID, name string, destParentCluster ClusterID, destName string) error {
	if destName == "" {
		destName = name
	}
	if err := ValidateName(destName); err != nil {
		return err
	}

	srcSlot, dirent, err := p.findSlot(srcParentCluster, name, false)
	if err != nil {
		return err
	}

	if dirent.IsDirectory() && destinationUnderSource(p, dirent.FirstCluster, destParentCluster) {
		return errors.InvalidName.WithMessage("cannot move a directory into its own subtree")
	}

	if _, _, err := p.findSlot(destParentCluster, destName, false); err == nil {
		return errors.AlreadyExists.WithMessage(destName)
	}

	destSlot, err := p.findFreeSlot(destParentCluster)
	if err != nil {
		return err
	}

	moved := dirent
	moved.Name = destName
	if err := p.writeSlot(destSlot, &moved); err != nil {
		return err
	}

	// Soft-delete the source slot, preserving its name bytes, and clear
	// FirstCluster so a later undelete can't bring back a second live
	// reference to a chain that now belongs to the destination slot.
	dirent.deleted = true
	dirent.FirstCluster = ClusterFree
	return p.writeSlot(srcSlot, &dirent)
}

// destinationUnderSource reports whether destCluster is sourceCluster itself
// or lies somewhere beneath it in the directory tree. FATX dirents carry no
// parent pointer (no "." / ".." entries), so the only way to answer this is
// to walk the subtree rooted at sourceCluster forward, iteratively with an
// explicit stack, rather than try to walk upward from destCluster.
func destinationUnderSource(p *Partition, sourceCluster, destCluster ClusterID) bool {
	if sourceCluster == destCluster {
		return true
	}

	visited := make(map[ClusterID]bool)
	stack := []ClusterID{sourceCluster}

	for len(stack) > 0 {
		cluster := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[cluster] {
			continue
		}
		visited[cluster] = true

		children, err := p.readDirectorySlots(cluster, false)
		if err != nil {
			return false
		}
		for _, child := range children {
			if !child.IsDirectory() {
				continue
			}
			if child.FirstCluster == destCluster {
				return true
			}
			stack = append(stack, child.FirstCluster)
		}
	}
	return false
}

// DeleteRecursive removes name and, if it's a directory, everything beneath
// it. Directories are walked iteratively with an explicit stack rather than
// recursively, so a deeply nested (or maliciously cyclic) tree can't blow
// the Go call stack.
func (p *Partition) DeleteRecursive(parentCluster ClusterID, name string) error {
	slot, dirent, err := p.findSlot(parentCluster, name, false)
	if err != nil {
		return err
	}

	if dirent.IsDirectory() {
		stack := []ClusterID{dirent.FirstCluster}
		var toFree []ClusterID

		for len(stack) > 0 {
			cluster := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			toFree = append(toFree, cluster)

			children, err := p.readDirectorySlots(cluster, false)
			if err != nil {
				return err
			}
			for _, child := range children {
				if child.Name == "." || child.Name == ".." {
					continue
				}
				if child.IsDirectory() {
					stack = append(stack, child.FirstCluster)
				} else if child.FirstCluster != ClusterFree {
					if err := p.FreeChain(child.FirstCluster); err != nil {
						return err
					}
				}
			}
		}

		for _, cluster := range toFree {
			if err := p.FreeChain(cluster); err != nil {
				return err
			}
		}
	} else if dirent.FirstCluster != ClusterFree {
		if err := p.FreeChain(dirent.FirstCluster); err != nil {
			return err
		}
	}

	dirent.deleted = true
	return p.writeSlot(slot, &dirent)
}

// ResolvePath walks a slash-separated path starting from root, returning the
// first cluster of the directory holding the final component and that
// component's dirent. An empty path or "/" alone refers to the root directory
// itself, which has no containing directory, so the returned cluster is 0.
func (p *Partition) ResolvePath(root ClusterID, fullPath string) (ClusterID, Dirent, error) {
	clean := path.Clean("/" + fullPath)
	if clean == "/" {
		return 0, Dirent{FirstCluster: root, Attributes: AttrDirectory}, nil
	}

	components := strings.Split(strings.Trim(clean, "/"), "/")
	current := root

	for i, component := range components {
		_, dirent, err := p.findSlot(current, component, false)
		if err != nil {
			return 0, Dirent{}, err
		}
		if i == len(components)-1 {
			return current, dirent, nil
		}
		if !dirent.IsDirectory() {
			return 0, Dirent{}, errors.NotFound.WithMessage(fullPath)
		}
		current = dirent.FirstCluster
	}

	return 0, Dirent{}, errors.NotFound.WithMessage(fullPath)
}
