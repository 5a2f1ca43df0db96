package objmodel

import "time"

// Snap is an immutable snapshot of a working tree by root-manifest id.
type Snap struct {
	Version      int       `json:"version"`
	ID           ID        `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	RootManifest ID        `json:"root_manifest"`
	Message      *string   `json:"message,omitempty"`
	Stats        SnapStats `json:"stats"`
}

// SnapStats summarizes a snap's contents; purely informational.
type SnapStats struct {
	FileCount int64 `json:"file_count"`
	DirCount  int64 `json:"dir_count"`
	TotalSize int64 `json:"total_size"`
}

// ComputeSnapID hashes created_at ∥ "\n" ∥ root_manifest ∥ "\n" ∥ message?,
// omitting the message term entirely when absent (spec §4.1 / Open Question
// (a): Some("") and None must hash identically, so both omit the term and
// only a present, non-nil message is appended verbatim).
func ComputeSnapID(createdAt time.Time, rootManifest ID, message *string) ID {
	b := []byte(createdAt.UTC().Format(time.RFC3339))
	b = append(b, '\n')
	b = append(b, []byte(rootManifest)...)
	b = append(b, '\n')
	if message != nil {
		b = append(b, []byte(*message)...)
	}
	return HashBytes(b)
}

// Validate recomputes the snap id from its fields and compares it against
// the stored id, rejecting on mismatch.
func (s Snap) Validate() error {
	if s.Version != 1 {
		return unsupportedVersion(s.Version)
	}
	want := ComputeSnapID(s.CreatedAt, s.RootManifest, s.Message)
	if want != s.ID {
		return hashMismatch(s.ID, want)
	}
	return nil
}
