package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/inflatable-cookie/converge/internal/objmodel"
	"github.com/stretchr/testify/require"
)

// fakeServer is a minimal in-memory stand-in for the converge HTTP object
// surface, enough to exercise Push's missing-object diff and upload path.
type fakeServer struct {
	mu        sync.Mutex
	blobs     map[objmodel.ID][]byte
	recipes   map[objmodel.ID][]byte
	manifests map[objmodel.ID][]byte
	snaps     map[objmodel.ID][]byte
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		blobs:     map[objmodel.ID][]byte{},
		recipes:   map[objmodel.ID][]byte{},
		manifests: map[objmodel.ID][]byte{},
		snaps:     map[objmodel.ID][]byte{},
	}
}

func (f *fakeServer) store(kind string) map[objmodel.ID][]byte {
	switch kind {
	case "blobs":
		return f.blobs
	case "recipes":
		return f.recipes
	case "manifests":
		return f.manifests
	case "snaps":
		return f.snaps
	}
	return nil
}

func (f *fakeServer) router() http.Handler {
	r := chi.NewRouter()
	r.Post("/repos/{repo}/objects/missing", func(w http.ResponseWriter, req *http.Request) {
		var set ObjectSet
		_ = json.NewDecoder(req.Body).Decode(&set)
		f.mu.Lock()
		defer f.mu.Unlock()
		resp := missingResponse{
			MissingBlobs:     filterMissing(f.blobs, set.Blobs),
			MissingRecipes:   filterMissing(f.recipes, set.Recipes),
			MissingManifests: filterMissing(f.manifests, set.Manifests),
			MissingSnaps:     filterMissing(f.snaps, set.Snaps),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	r.Put("/repos/{repo}/objects/{kind}/{id}", func(w http.ResponseWriter, req *http.Request) {
		kind := chi.URLParam(req, "kind")
		id := objmodel.ID(chi.URLParam(req, "id"))
		body, _ := io.ReadAll(req.Body)
		f.mu.Lock()
		f.store(kind)[id] = body
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	r.Get("/repos/{repo}/objects/{kind}/{id}", func(w http.ResponseWriter, req *http.Request) {
		kind := chi.URLParam(req, "kind")
		id := objmodel.ID(chi.URLParam(req, "id"))
		f.mu.Lock()
		raw, ok := f.store(kind)[id]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(raw)
	})
	return r
}

func filterMissing(have map[objmodel.ID][]byte, want []objmodel.ID) []objmodel.ID {
	var missing []objmodel.ID
	for _, id := range want {
		if _, ok := have[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

type memLocal struct {
	blobs     map[objmodel.ID][]byte
	recipes   map[objmodel.ID]objmodel.Recipe
	manifests map[objmodel.ID]objmodel.Manifest
	snaps     map[objmodel.ID][]byte
}

func (m *memLocal) LoadManifest(id objmodel.ID) (objmodel.Manifest, error) {
	man, ok := m.manifests[id]
	if !ok {
		return objmodel.Manifest{}, errNotFound
	}
	return man, nil
}
func (m *memLocal) GetBlob(id objmodel.ID) ([]byte, error)            { return m.blobs[id], nil }
func (m *memLocal) GetRecipe(id objmodel.ID) (objmodel.Recipe, error) { return m.recipes[id], nil }
func (m *memLocal) GetSnap(id objmodel.ID) ([]byte, error)            { return m.snaps[id], nil }

var errNotFound = errors.New("not found")

func TestPushReportsProgressForEveryUploadedObject(t *testing.T) {
	fileID := objmodel.HashBytes([]byte("hello"))
	manifest := objmodel.Manifest{Version: 1, Entries: []objmodel.Entry{
		{Name: "a.txt", Kind: objmodel.KindFile, Blob: fileID, Size: 5},
	}}
	rootID, _, err := manifest.ID()
	require.NoError(t, err)

	local := &memLocal{
		blobs:     map[objmodel.ID][]byte{fileID: []byte("hello")},
		recipes:   map[objmodel.ID]objmodel.Recipe{},
		manifests: map[objmodel.ID]objmodel.Manifest{rootID: manifest},
		snaps:     map[objmodel.ID][]byte{},
	}
	snapID := objmodel.HashBytes([]byte("snap"))
	local.snaps[snapID] = []byte(`{"version":1}`)

	srv := httptest.NewServer(newFakeServer().router())
	defer srv.Close()
	c := NewClient(srv.URL, "demo", "tok")

	var progressed []Progress
	err = Push(context.Background(), c, local, rootID, snapID, false, func(p Progress) {
		progressed = append(progressed, p)
	})
	require.NoError(t, err)
	require.NotEmpty(t, progressed)
	last := progressed[len(progressed)-1]
	require.Equal(t, last.ObjectsTotal, last.ObjectsSent)
}

func TestPushIsNoOpWhenServerAlreadyHasEverything(t *testing.T) {
	fileID := objmodel.HashBytes([]byte("hello"))
	manifest := objmodel.Manifest{Version: 1, Entries: []objmodel.Entry{
		{Name: "a.txt", Kind: objmodel.KindFile, Blob: fileID, Size: 5},
	}}
	rootID, rootCanon, err := manifest.ID()
	require.NoError(t, err)
	snapID := objmodel.HashBytes([]byte("snap"))

	fs := newFakeServer()
	fs.blobs[fileID] = []byte("hello")
	fs.manifests[rootID] = rootCanon
	fs.snaps[snapID] = []byte(`{"version":1}`)

	local := &memLocal{
		blobs:     map[objmodel.ID][]byte{fileID: []byte("hello")},
		recipes:   map[objmodel.ID]objmodel.Recipe{},
		manifests: map[objmodel.ID]objmodel.Manifest{rootID: manifest},
		snaps:     map[objmodel.ID][]byte{snapID: []byte(`{"version":1}`)},
	}

	srv := httptest.NewServer(fs.router())
	defer srv.Close()
	c := NewClient(srv.URL, "demo", "tok")

	var calls int
	err = Push(context.Background(), c, local, rootID, snapID, false, func(Progress) { calls++ })
	require.NoError(t, err)
	require.Zero(t, calls)
}
