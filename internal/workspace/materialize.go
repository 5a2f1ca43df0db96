package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/inflatable-cookie/converge/internal/chunker"
	"github.com/inflatable-cookie/converge/internal/objmodel"
)

// ObjectSource is the read side of ObjectSink: everything Materialise needs
// to fetch in order to rebuild a working tree from a manifest.
type ObjectSource interface {
	objmodel.ManifestLoader
	GetBlob(id objmodel.ID) ([]byte, error)
	GetRecipe(id objmodel.ID) (objmodel.Recipe, error)
}

// Materialise writes the directory tree rooted at manifest id root into dir,
// creating dir if necessary. Superposition entries are rejected: resolve a
// bundle's manifest (internal/resolver) before materialising it.
func Materialise(dir string, root objmodel.ID, src ObjectSource) error {
	m, err := src.LoadManifest(root)
	if err != nil {
		return fmt.Errorf("workspace: load manifest %s: %w", root, err)
	}
	return materialiseDir(dir, m, src)
}

func materialiseDir(dir string, m objmodel.Manifest, src ObjectSource) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("workspace: create dir %s: %w", dir, err)
	}
	for _, e := range m.Entries {
		path := filepath.Join(dir, e.Name)
		switch e.Kind {
		case objmodel.KindFile:
			raw, err := src.GetBlob(e.Blob)
			if err != nil {
				return fmt.Errorf("workspace: fetch blob for %s: %w", path, err)
			}
			if err := writeFile(path, raw, e.Mode); err != nil {
				return err
			}
		case objmodel.KindFileChunks:
			recipe, err := src.GetRecipe(e.Recipe)
			if err != nil {
				return fmt.Errorf("workspace: fetch recipe for %s: %w", path, err)
			}
			f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, modeOrDefault(e.Mode))
			if err != nil {
				return fmt.Errorf("workspace: create file %s: %w", path, err)
			}
			err = chunker.Reassemble(f, recipe, src.GetBlob)
			closeErr := f.Close()
			if err != nil {
				return fmt.Errorf("workspace: reassemble %s: %w", path, err)
			}
			if closeErr != nil {
				return fmt.Errorf("workspace: close %s: %w", path, closeErr)
			}
		case objmodel.KindSymlink:
			_ = os.Remove(path)
			if err := os.Symlink(e.Target, path); err != nil {
				return fmt.Errorf("workspace: symlink %s: %w", path, err)
			}
		case objmodel.KindDir:
			child, err := src.LoadManifest(e.ManifestRef)
			if err != nil {
				return fmt.Errorf("workspace: load manifest for %s: %w", path, err)
			}
			if err := materialiseDir(path, child, src); err != nil {
				return err
			}
		case objmodel.KindSuperposition:
			return fmt.Errorf("workspace: cannot materialise unresolved superposition at %s", path)
		default:
			return fmt.Errorf("workspace: unknown entry kind %q at %s", e.Kind, path)
		}
	}
	return nil
}

func modeOrDefault(mode uint32) os.FileMode {
	if mode == 0 {
		return 0o644
	}
	return os.FileMode(mode)
}

func writeFile(path string, raw []byte, mode uint32) error {
	if err := os.WriteFile(path, raw, modeOrDefault(mode)); err != nil {
		return fmt.Errorf("workspace: write file %s: %w", path, err)
	}
	return nil
}
