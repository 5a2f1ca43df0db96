package localstore

import (
	"path/filepath"
	"testing"

	"github.com/inflatable-cookie/converge/internal/objmodel"
	"github.com/stretchr/testify/require"
)

func TestObjectCachePutIfAbsentIdempotent(t *testing.T) {
	cache, err := NewObjectCache(t.TempDir())
	require.NoError(t, err)

	id, _, err := objmodel.HashCanonicalJSON([]byte(`{"a":1}`))
	require.NoError(t, err)

	wrote, err := cache.PutIfAbsent(KindManifest, id, []byte(`{"a":1}`))
	require.NoError(t, err)
	require.True(t, wrote)

	wroteAgain, err := cache.PutIfAbsent(KindManifest, id, []byte(`{"a":1}`))
	require.NoError(t, err)
	require.False(t, wroteAgain)

	require.True(t, cache.Has(KindManifest, id))
	got, err := cache.Get(KindManifest, id)
	require.NoError(t, err)
	require.Equal(t, []byte(`{"a":1}`), got)
}

func TestObjectCacheRemoveMissingIsNoop(t *testing.T) {
	cache, err := NewObjectCache(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, cache.Remove(KindBlob, "deadbeef"))
}

func TestObjectCacheListBlobsRoundTrip(t *testing.T) {
	cache, err := NewObjectCache(t.TempDir())
	require.NoError(t, err)
	id, _, err := objmodel.HashCanonicalJSON([]byte(`{}`))
	require.NoError(t, err)
	_, err = cache.PutIfAbsent(KindBlob, id, []byte("payload"))
	require.NoError(t, err)

	ids, err := cache.List(KindBlob)
	require.NoError(t, err)
	require.Contains(t, ids, id)
}

func TestKVSnapMetadataAndResolutions(t *testing.T) {
	kv, err := OpenKV(filepath.Join(t.TempDir(), "index"))
	require.NoError(t, err)
	defer kv.Close()

	require.NoError(t, kv.PutSnapMetadata("snap1", "2026-01-22T00:00:00Z", nil))
	ids, err := kv.KnownSnaps()
	require.NoError(t, err)
	require.Equal(t, []string{"snap1"}, ids)

	require.NoError(t, kv.PutResolution("bundle1", []byte(`{"version":2}`)))
	raw, ok, err := kv.GetResolution("bundle1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`{"version":2}`), raw)

	require.NoError(t, kv.DeleteResolution("bundle1"))
	_, ok, err = kv.GetResolution("bundle1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestKVRemoteRoundTrip(t *testing.T) {
	kv, err := OpenKV(filepath.Join(t.TempDir(), "index"))
	require.NoError(t, err)
	defer kv.Close()

	_, _, ok, err := kv.Remote()
	require.NoError(t, err)
	require.False(t, ok)

	cfg := RemoteConfig{BaseURL: "http://127.0.0.1:8080", RepoID: "demo", Scope: "main", Gate: "dev-intake", Handle: "admin"}
	require.NoError(t, kv.SetRemote(cfg, "tok_abc123"))

	loaded, token, ok, err := kv.Remote()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, cfg, loaded)
	require.Equal(t, "tok_abc123", token)

	require.NoError(t, kv.ClearRemote())
	_, _, ok, err = kv.Remote()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestKVConfigRoundTrip(t *testing.T) {
	kv, err := OpenKV(filepath.Join(t.TempDir(), "index"))
	require.NoError(t, err)
	defer kv.Close()

	_, ok, err := kv.GetConfig()
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, kv.PutConfig([]byte("scope: main\n")))
	raw, ok, err := kv.GetConfig()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("scope: main\n"), raw)
}
