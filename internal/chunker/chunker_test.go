package chunker

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/inflatable-cookie/converge/internal/objmodel"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	blobs map[objmodel.ID][]byte
}

func newMemSink() *memSink { return &memSink{blobs: map[objmodel.ID][]byte{}} }

func (s *memSink) PutBlob(id objmodel.ID, raw []byte) error {
	s.blobs[id] = append([]byte(nil), raw...)
	return nil
}

func TestShouldChunk(t *testing.T) {
	p := Policy{Threshold: 100, ChunkSize: 10}
	require.False(t, p.ShouldChunk(99))
	require.True(t, p.ShouldChunk(100))
}

func TestChunkAndReassembleRoundTrip(t *testing.T) {
	data := make([]byte, 2500)
	_, err := rand.Read(data)
	require.NoError(t, err)

	p := Policy{Threshold: 1000, ChunkSize: 1000}
	sink := newMemSink()
	recipe, err := p.Chunk(bytes.NewReader(data), sink)
	require.NoError(t, err)
	require.Equal(t, int64(2500), recipe.TotalSize())
	require.Len(t, recipe.Chunks, 3)
	require.Equal(t, int64(1000), recipe.Chunks[0].Size)
	require.Equal(t, int64(500), recipe.Chunks[2].Size)

	var out bytes.Buffer
	err = Reassemble(&out, recipe, func(id objmodel.ID) ([]byte, error) {
		return sink.blobs[id], nil
	})
	require.NoError(t, err)
	require.Equal(t, data, out.Bytes())
}

func TestChunkEmptyInputProducesEmptyRecipe(t *testing.T) {
	p := Policy{Threshold: 10, ChunkSize: 10}
	sink := newMemSink()
	recipe, err := p.Chunk(bytes.NewReader(nil), sink)
	require.NoError(t, err)
	require.Empty(t, recipe.Chunks)
	require.Equal(t, int64(0), recipe.TotalSize())
}
