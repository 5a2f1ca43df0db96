package objmodel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCanonicalizeSortsKeys(t *testing.T) {
	got, err := Canonicalize([]byte(`{"b":1,"a":2}`))
	require.NoError(t, err)
	require.Equal(t, `{"a":2,"b":1}`, string(got))
}

func TestHashBytesIsStable(t *testing.T) {
	id1 := HashBytes([]byte("hello"))
	id2 := HashBytes([]byte("hello"))
	require.Equal(t, id1, id2)
	require.Len(t, string(id1), 64)
}

func TestEmptyManifestSnapID(t *testing.T) {
	// §8 scenario 1: create a snap with root_manifest id
	// m = hash(canonical empty manifest) at a fixed created_at and no message.
	empty := Manifest{Version: 1, Entries: []Entry{}}
	mid, _, err := empty.ID()
	require.NoError(t, err)

	createdAt, err := time.Parse(time.RFC3339, "2026-01-22T00:00:00Z")
	require.NoError(t, err)

	snapID := ComputeSnapID(createdAt, mid, nil)
	want := HashBytes([]byte("2026-01-22T00:00:00Z\n" + string(mid) + "\n"))
	require.Equal(t, want, snapID)
}

func TestMessageEmptyAndAbsentHashIdentically(t *testing.T) {
	createdAt := time.Now().UTC().Truncate(time.Second)
	mid := ID("0000000000000000000000000000000000000000000000000000000000000000"[:64])
	empty := ""
	idNone := ComputeSnapID(createdAt, mid, nil)
	idEmptyMsg := ComputeSnapID(createdAt, mid, &empty)
	// An absent message and an empty message hash identically: an empty
	// message appends no bytes to the hashed string, so both inputs are the
	// same.
	require.Equal(t, idNone, idEmptyMsg)
}

func TestVariantDedupeAndSort(t *testing.T) {
	m := Manifest{
		Version: 1,
		Entries: []Entry{
			{
				Name: "docs",
				Kind: KindSuperposition,
				Variants: []SupVariant{
					{Source: "bob", Kind: VKFile, Blob: "b2"},
					{Source: "alice", Kind: VKFile, Blob: "b1"},
					{Source: "bob", Kind: VKFile, Blob: "b2"}, // duplicate
				},
			},
		},
	}
	canon := m.Canonicalize()
	require.Len(t, canon.Entries[0].Variants, 2)
}

func TestRecipeValidateGapDetection(t *testing.T) {
	r := Recipe{Version: 1, Chunks: []Chunk{
		{Blob: "a", Offset: 0, Size: 10},
		{Blob: "b", Offset: 20, Size: 10}, // gap
	}}
	err := r.Validate()
	require.Error(t, err)
}

func TestEnumerateReachableDetectsCycle(t *testing.T) {
	loader := fakeLoader{
		"root": {Version: 1, Entries: []Entry{{Name: "a", Kind: KindDir, ManifestRef: "root"}}},
	}
	_, err := EnumerateReachable(loader, "root")
	require.Error(t, err)
}

type fakeLoader map[ID]Manifest

func (f fakeLoader) LoadManifest(id ID) (Manifest, error) {
	m, ok := f[id]
	if !ok {
		return Manifest{}, hashMismatch(id, id)
	}
	return m, nil
}
