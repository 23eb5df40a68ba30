package fatx_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tucana-systems/fatx360/fatx"
)

func TestCreateAndGetDirent(t *testing.T) {
	p := buildTestPartition(t, 64)

	created, err := p.CreateDirent(fatx.RootDirCluster, "hello.txt", false)
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", created.Name)
	assert.False(t, created.IsDirectory())

	fetched, err := p.DirentGet(fatx.RootDirCluster, "hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", fetched.Name)
}

func TestCreateDuplicateNameFails(t *testing.T) {
	p := buildTestPartition(t, 64)

	_, err := p.CreateDirent(fatx.RootDirCluster, "dup.txt", false)
	require.NoError(t, err)

	_, err = p.CreateDirent(fatx.RootDirCluster, "dup.txt", false)
	assert.Error(t, err)
}

func TestReadDirectorySkipsDeleted(t *testing.T) {
	p := buildTestPartition(t, 64)

	_, err := p.CreateDirent(fatx.RootDirCluster, "a.txt", false)
	require.NoError(t, err)
	_, err = p.CreateDirent(fatx.RootDirCluster, "b.txt", false)
	require.NoError(t, err)

	require.NoError(t, p.DirentDelete(fatx.RootDirCluster, "a.txt"))

	entries, err := p.ReadDirectory(fatx.RootDirCluster)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b.txt", entries[0].Name)
}

func TestUndeleteRestoresEntry(t *testing.T) {
	p := buildTestPartition(t, 64)

	_, err := p.CreateDirent(fatx.RootDirCluster, "a.txt", false)
	require.NoError(t, err)
	require.NoError(t, p.DirentDelete(fatx.RootDirCluster, "a.txt"))

	entries, err := p.ReadDirectory(fatx.RootDirCluster)
	require.NoError(t, err)
	require.Len(t, entries, 0)

	slot := findDeletedSlot(t, p, fatx.RootDirCluster, "a.txt")
	restored, err := p.UndeleteDirent(slot)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", restored.Name)

	entries, err = p.ReadDirectory(fatx.RootDirCluster)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestRenameDirent(t *testing.T) {
	p := buildTestPartition(t, 64)

	_, err := p.CreateDirent(fatx.RootDirCluster, "old.txt", false)
	require.NoError(t, err)

	require.NoError(t, p.DirentRename(fatx.RootDirCluster, "old.txt", "new.txt"))

	_, err = p.DirentGet(fatx.RootDirCluster, "old.txt")
	assert.Error(t, err)

	fetched, err := p.DirentGet(fatx.RootDirCluster, "new.txt")
	require.NoError(t, err)
	assert.Equal(t, "new.txt", fetched.Name)
}

func TestMoveDirentBetweenDirectories(t *testing.T) {
	p := buildTestPartition(t, 64)

	subdir, err := p.CreateDirent(fatx.RootDirCluster, "sub", true)
	require.NoError(t, err)

	_, err = p.CreateDirent(fatx.RootDirCluster, "file.txt", false)
	require.NoError(t, err)

	require.NoError(t, p.MoveDirent(fatx.RootDirCluster, "file.txt", subdir.FirstCluster, ""))

	_, err = p.DirentGet(fatx.RootDirCluster, "file.txt")
	assert.Error(t, err)

	moved, err := p.DirentGet(subdir.FirstCluster, "file.txt")
	require.NoError(t, err)
	assert.Equal(t, "file.txt", moved.Name)
}

func TestMoveDirectoryIntoOwnSubtreeFails(t *testing.T) {
	p := buildTestPartition(t, 64)

	parent, err := p.CreateDirent(fatx.RootDirCluster, "parent", true)
	require.NoError(t, err)
	child, err := p.CreateDirent(parent.FirstCluster, "child", true)
	require.NoError(t, err)

	err = p.MoveDirent(fatx.RootDirCluster, "parent", child.FirstCluster, "")
	assert.Error(t, err)
}

func TestInvalidNameRejected(t *testing.T) {
	p := buildTestPartition(t, 64)

	_, err := p.CreateDirent(fatx.RootDirCluster, "", false)
	assert.Error(t, err)

	_, err = p.CreateDirent(fatx.RootDirCluster, "bad/name.txt", false)
	assert.Error(t, err)
}

func TestResolvePath(t *testing.T) {
	p := buildTestPartition(t, 64)

	sub, err := p.CreateDirent(fatx.RootDirCluster, "dir", true)
	require.NoError(t, err)
	_, err = p.CreateDirent(sub.FirstCluster, "leaf.txt", false)
	require.NoError(t, err)

	_, dirent, err := p.ResolvePath(fatx.RootDirCluster, "/dir/leaf.txt")
	require.NoError(t, err)
	assert.Equal(t, "leaf.txt", dirent.Name)
}

// findDeletedSlot is a test-only helper that locates a soft-deleted dirent's
// slot by scanning the raw cluster data directly, since the production API
// intentionally has no "find me a deleted slot by name" method outside of
// UndeleteDirent's caller already knowing the slot.
func findDeletedSlot(t *testing.T, p *fatx.Partition, parent fatx.ClusterID, name string) fatx.DirentSlot {
	t.Helper()

	chain, err := p.ReadChain(parent)
	require.NoError(t, err)

	for _, cluster := range chain {
		data, err := p.ReadCluster(cluster)
		require.NoError(t, err)

		perCluster := int(p.BytesPerCluster()) / fatx.DirentSize
		for i := 0; i < perCluster; i++ {
			if data[i*fatx.DirentSize] == 0xe5 {
				return fatx.DirentSlot{Cluster: cluster, Index: i}
			}
		}
	}

	t.Fatalf("no deleted slot found for %q", name)
	return fatx.DirentSlot{}
}
