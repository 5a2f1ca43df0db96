// Package workspace walks a working directory into a manifest tree and
// materialises a manifest tree back onto disk, plus a tree-diff summary
// used by the CLI's status/diff commands (supplemented from the original
// implementation's tui_shell/status/tree_diff.rs).
package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/inflatable-cookie/converge/internal/chunker"
	"github.com/inflatable-cookie/converge/internal/objmodel"
)

// ObjectSink receives every object produced while scanning a directory:
// blobs for small files and chunks, recipes for large files, and manifests
// for directories. Scan calls PutManifest bottom-up (children first).
type ObjectSink interface {
	chunker.BlobSink
	PutRecipe(id objmodel.ID, r objmodel.Recipe) error
	PutManifest(id objmodel.ID, m objmodel.Manifest) error
}

// ScanOptions controls chunking policy and which paths to skip.
type ScanOptions struct {
	ChunkPolicy chunker.Policy
	// Skip reports whether a relative path (slash-separated, root-relative)
	// should be excluded from the scan, e.g. ".converge".
	Skip func(relPath string) bool
}

// Scan walks root, producing a manifest tree rooted at the returned id. Every
// blob/recipe/manifest produced is written to sink; identical content found
// at several paths is written once per path.
func Scan(root string, opts ScanOptions, sink ObjectSink) (objmodel.ID, error) {
	if opts.ChunkPolicy.ChunkSize <= 0 {
		opts.ChunkPolicy = chunker.DefaultPolicy
	}
	return scanDir(root, "", opts, sink)
}

func scanDir(absDir, relDir string, opts ScanOptions, sink ObjectSink) (objmodel.ID, error) {
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return "", fmt.Errorf("workspace: read dir %s: %w", absDir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	m := objmodel.Manifest{Version: 1}
	for _, de := range entries {
		name := de.Name()
		rel := name
		if relDir != "" {
			rel = relDir + "/" + name
		}
		if opts.Skip != nil && opts.Skip(rel) {
			continue
		}
		absChild := filepath.Join(absDir, name)

		info, err := de.Info()
		if err != nil {
			return "", fmt.Errorf("workspace: stat %s: %w", absChild, err)
		}

		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(absChild)
			if err != nil {
				return "", fmt.Errorf("workspace: readlink %s: %w", absChild, err)
			}
			m.Entries = append(m.Entries, objmodel.Entry{
				Name: name, Kind: objmodel.KindSymlink, Target: target,
			})
		case de.IsDir():
			childID, err := scanDir(absChild, rel, opts, sink)
			if err != nil {
				return "", err
			}
			m.Entries = append(m.Entries, objmodel.Entry{
				Name: name, Kind: objmodel.KindDir, ManifestRef: childID,
			})
		default:
			entry, err := scanFile(absChild, name, info.Size(), uint32(info.Mode().Perm()), opts, sink)
			if err != nil {
				return "", err
			}
			m.Entries = append(m.Entries, entry)
		}
	}

	id, _, err := m.ID()
	if err != nil {
		return "", fmt.Errorf("workspace: hash manifest %s: %w", relDir, err)
	}
	if err := sink.PutManifest(id, m.Canonicalize()); err != nil {
		return "", fmt.Errorf("workspace: store manifest %s: %w", relDir, err)
	}
	return id, nil
}

func scanFile(path, name string, size int64, mode uint32, opts ScanOptions, sink ObjectSink) (objmodel.Entry, error) {
	if !opts.ChunkPolicy.ShouldChunk(size) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return objmodel.Entry{}, fmt.Errorf("workspace: read file %s: %w", path, err)
		}
		id := objmodel.HashBytes(raw)
		if err := sink.PutBlob(id, raw); err != nil {
			return objmodel.Entry{}, fmt.Errorf("workspace: store blob %s: %w", path, err)
		}
		return objmodel.Entry{Name: name, Kind: objmodel.KindFile, Blob: id, Mode: mode, Size: size}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return objmodel.Entry{}, fmt.Errorf("workspace: open file %s: %w", path, err)
	}
	defer f.Close()
	recipe, err := opts.ChunkPolicy.Chunk(f, sink)
	if err != nil {
		return objmodel.Entry{}, fmt.Errorf("workspace: chunk file %s: %w", path, err)
	}
	recipeID, _, err := recipe.ID()
	if err != nil {
		return objmodel.Entry{}, fmt.Errorf("workspace: hash recipe %s: %w", path, err)
	}
	if err := sink.PutRecipe(recipeID, recipe); err != nil {
		return objmodel.Entry{}, fmt.Errorf("workspace: store recipe %s: %w", path, err)
	}
	return objmodel.Entry{Name: name, Kind: objmodel.KindFileChunks, Recipe: recipeID, Mode: mode, Size: size}, nil
}
