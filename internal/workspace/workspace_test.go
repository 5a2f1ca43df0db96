package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/inflatable-cookie/converge/internal/chunker"
	"github.com/inflatable-cookie/converge/internal/objmodel"
	"github.com/stretchr/testify/require"
)

type memObjects struct {
	blobs     map[objmodel.ID][]byte
	recipes   map[objmodel.ID]objmodel.Recipe
	manifests map[objmodel.ID]objmodel.Manifest
}

func newMemObjects() *memObjects {
	return &memObjects{
		blobs:     map[objmodel.ID][]byte{},
		recipes:   map[objmodel.ID]objmodel.Recipe{},
		manifests: map[objmodel.ID]objmodel.Manifest{},
	}
}

func (m *memObjects) PutBlob(id objmodel.ID, raw []byte) error {
	m.blobs[id] = append([]byte(nil), raw...)
	return nil
}
func (m *memObjects) PutRecipe(id objmodel.ID, r objmodel.Recipe) error {
	m.recipes[id] = r
	return nil
}
func (m *memObjects) PutManifest(id objmodel.ID, man objmodel.Manifest) error {
	m.manifests[id] = man
	return nil
}
func (m *memObjects) LoadManifest(id objmodel.ID) (objmodel.Manifest, error) {
	man, ok := m.manifests[id]
	if !ok {
		return objmodel.Manifest{}, os.ErrNotExist
	}
	return man, nil
}
func (m *memObjects) GetBlob(id objmodel.ID) ([]byte, error) {
	raw, ok := m.blobs[id]
	if !ok {
		return nil, os.ErrNotExist
	}
	return raw, nil
}
func (m *memObjects) GetRecipe(id objmodel.ID) (objmodel.Recipe, error) {
	r, ok := m.recipes[id]
	if !ok {
		return objmodel.Recipe{}, os.ErrNotExist
	}
	return r, nil
}

func writeTree(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "readme.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "notes.txt"), []byte("nested"), 0o644))
}

func TestScanAndMaterialiseRoundTrip(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src)

	objs := newMemObjects()
	opts := ScanOptions{ChunkPolicy: chunker.Policy{Threshold: 1 << 20, ChunkSize: 1 << 16}}
	rootID, err := Scan(src, opts, objs)
	require.NoError(t, err)

	dst := t.TempDir()
	require.NoError(t, Materialise(dst, rootID, objs))

	got, err := os.ReadFile(filepath.Join(dst, "readme.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))

	got, err = os.ReadFile(filepath.Join(dst, "docs", "notes.txt"))
	require.NoError(t, err)
	require.Equal(t, "nested", string(got))
}

func TestScanChunksLargeFiles(t *testing.T) {
	src := t.TempDir()
	big := make([]byte, 5000)
	for i := range big {
		big[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(filepath.Join(src, "big.bin"), big, 0o644))

	objs := newMemObjects()
	opts := ScanOptions{ChunkPolicy: chunker.Policy{Threshold: 1000, ChunkSize: 1000}}
	rootID, err := Scan(src, opts, objs)
	require.NoError(t, err)

	m, err := objs.LoadManifest(rootID)
	require.NoError(t, err)
	require.Len(t, m.Entries, 1)
	require.Equal(t, objmodel.KindFileChunks, m.Entries[0].Kind)

	dst := t.TempDir()
	require.NoError(t, Materialise(dst, rootID, objs))
	got, err := os.ReadFile(filepath.Join(dst, "big.bin"))
	require.NoError(t, err)
	require.Equal(t, big, got)
}

func TestScanSkipFunction(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src)
	require.NoError(t, os.MkdirAll(filepath.Join(src, ".converge"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, ".converge", "state.json"), []byte("{}"), 0o644))

	objs := newMemObjects()
	opts := ScanOptions{
		ChunkPolicy: chunker.DefaultPolicy,
		Skip:        func(rel string) bool { return rel == ".converge" },
	}
	rootID, err := Scan(src, opts, objs)
	require.NoError(t, err)
	m, err := objs.LoadManifest(rootID)
	require.NoError(t, err)
	for _, e := range m.Entries {
		require.NotEqual(t, ".converge", e.Name)
	}
}

func TestDiffAddedRemovedModified(t *testing.T) {
	objs := newMemObjects()

	baseTree := t.TempDir()
	writeTree(t, baseTree)
	baseID, err := Scan(baseTree, ScanOptions{ChunkPolicy: chunker.DefaultPolicy}, objs)
	require.NoError(t, err)

	curTree := t.TempDir()
	writeTree(t, curTree)
	require.NoError(t, os.WriteFile(filepath.Join(curTree, "readme.txt"), []byte("hello world"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(curTree, "new.txt"), []byte("new"), 0o644))
	require.NoError(t, os.Remove(filepath.Join(curTree, "docs", "notes.txt")))
	curID, err := Scan(curTree, ScanOptions{ChunkPolicy: chunker.DefaultPolicy}, objs)
	require.NoError(t, err)

	report, err := Diff(objs, baseID, curID)
	require.NoError(t, err)

	byPath := map[string]ChangeKind{}
	for _, c := range report.Changes {
		byPath[c.Path] = c.Kind
	}
	require.Equal(t, ChangeModified, byPath["readme.txt"])
	require.Equal(t, ChangeAdded, byPath["new.txt"])
	require.Equal(t, ChangeRemoved, byPath["docs/notes.txt"])
}

func TestDiffNoBaselineEverythingAdded(t *testing.T) {
	objs := newMemObjects()
	tree := t.TempDir()
	writeTree(t, tree)
	curID, err := Scan(tree, ScanOptions{ChunkPolicy: chunker.DefaultPolicy}, objs)
	require.NoError(t, err)

	report, err := Diff(objs, "", curID)
	require.NoError(t, err)
	require.Len(t, report.Changes, 2)
	for _, c := range report.Changes {
		require.Equal(t, ChangeAdded, c.Kind)
	}
}

func TestDiffIdenticalTreesAreUnchanged(t *testing.T) {
	objs := newMemObjects()
	tree := t.TempDir()
	writeTree(t, tree)
	id, err := Scan(tree, ScanOptions{ChunkPolicy: chunker.DefaultPolicy}, objs)
	require.NoError(t, err)

	report, err := Diff(objs, id, id)
	require.NoError(t, err)
	require.Empty(t, report.Changes)
	require.Equal(t, 2, report.UnchangedCount)
}
