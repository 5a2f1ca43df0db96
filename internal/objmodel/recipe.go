package objmodel

import (
	"github.com/inflatable-cookie/converge/internal/converrors"
)

// Chunk describes one slice of a large file's byte range, backed by a blob.
type Chunk struct {
	Blob   ID     `json:"blob"`
	Size   int64  `json:"size"`
	Offset int64  `json:"offset"`
}

// Recipe maps the offsets of a large file onto a sequence of blobs.
type Recipe struct {
	Version int     `json:"version"`
	Chunks  []Chunk `json:"chunks"`
}

// TotalSize returns the size implied by the recipe's last chunk boundary.
func (r Recipe) TotalSize() int64 {
	var total int64
	for _, c := range r.Chunks {
		if c.Offset+c.Size > total {
			total = c.Offset + c.Size
		}
	}
	return total
}

// Validate checks that chunks are ordered by ascending offset and cover
// [0, total_size) without gaps or overlaps.
func (r Recipe) Validate() error {
	if r.Version != 1 {
		return converrors.New(converrors.UnsupportedVersion, "recipe version %d unsupported", r.Version)
	}
	var want int64
	for i, c := range r.Chunks {
		if c.Offset != want {
			return converrors.New(converrors.BadEncoding, "recipe chunk %d: expected offset %d, got %d", i, want, c.Offset)
		}
		if c.Size < 0 {
			return converrors.New(converrors.BadEncoding, "recipe chunk %d: negative size", i)
		}
		want += c.Size
	}
	return nil
}

// ID computes the recipe's content id: hash of its canonical JSON form.
func (r Recipe) ID() (ID, []byte, error) {
	canon, err := mustMarshal(r)
	if err != nil {
		return "", nil, err
	}
	return HashBytes(canon), canon, nil
}

func mustMarshal(v any) ([]byte, error) {
	return CanonicalizeValue(v)
}
