// Package chunker implements the client's chunking policy (spec.md
// Component D): splitting large files into fixed-size chunks, hashing each
// chunk into a blob, and assembling the chunk plan into a Recipe.
package chunker

import (
	"fmt"
	"io"

	"github.com/inflatable-cookie/converge/internal/objmodel"
)

// Policy controls when a file is chunked versus stored as a single inline
// blob, and how large each chunk is when it is.
type Policy struct {
	// Threshold is the byte size at or above which a file is chunked instead
	// of stored as one File{blob} entry.
	Threshold int64
	// ChunkSize is the target size of each chunk below the final one.
	ChunkSize int64
}

// DefaultPolicy matches the workspace config defaults (internal/config).
var DefaultPolicy = Policy{Threshold: 4 << 20, ChunkSize: 1 << 20}

// BlobSink receives each chunk's raw bytes, keyed by its content id. It is
// the caller's job to persist (e.g. internal/localstore.ObjectCache) or
// upload (internal/transfer) the blob.
type BlobSink interface {
	PutBlob(id objmodel.ID, raw []byte) error
}

// ShouldChunk reports whether a file of the given size should be split into
// a Recipe rather than stored as a single File entry.
func (p Policy) ShouldChunk(size int64) bool {
	if p.Threshold <= 0 {
		return false
	}
	return size >= p.Threshold
}

// Chunk reads all of r, splitting it into p.ChunkSize-sized pieces (the
// final piece may be shorter), writing each chunk's bytes to sink, and
// returning the resulting Recipe in the order chunks were read.
func (p Policy) Chunk(r io.Reader, sink BlobSink) (objmodel.Recipe, error) {
	if p.ChunkSize <= 0 {
		return objmodel.Recipe{}, fmt.Errorf("chunker: chunk size must be > 0")
	}
	recipe := objmodel.Recipe{Version: 1}
	buf := make([]byte, p.ChunkSize)
	var offset int64
	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			chunkBytes := append([]byte(nil), buf[:n]...)
			id := objmodel.HashBytes(chunkBytes)
			if err := sink.PutBlob(id, chunkBytes); err != nil {
				return objmodel.Recipe{}, fmt.Errorf("chunker: store chunk: %w", err)
			}
			recipe.Chunks = append(recipe.Chunks, objmodel.Chunk{
				Blob: id, Size: int64(n), Offset: offset,
			})
			offset += int64(n)
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return objmodel.Recipe{}, fmt.Errorf("chunker: read input: %w", readErr)
		}
	}
	if err := recipe.Validate(); err != nil {
		return objmodel.Recipe{}, err
	}
	return recipe, nil
}

// Reassemble reads the blobs named by recipe's chunks, in order, via get,
// and writes their concatenated bytes to w.
func Reassemble(w io.Writer, recipe objmodel.Recipe, get func(id objmodel.ID) ([]byte, error)) error {
	if err := recipe.Validate(); err != nil {
		return err
	}
	for _, c := range recipe.Chunks {
		raw, err := get(c.Blob)
		if err != nil {
			return fmt.Errorf("chunker: fetch blob %s: %w", c.Blob, err)
		}
		if int64(len(raw)) != c.Size {
			return fmt.Errorf("chunker: blob %s size mismatch: want %d, got %d", c.Blob, c.Size, len(raw))
		}
		if _, err := w.Write(raw); err != nil {
			return fmt.Errorf("chunker: write output: %w", err)
		}
	}
	return nil
}
