package recompress

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
)

// extractZip unpacks src into dest and returns the regular files it wrote,
// keyed by slash-separated path relative to dest, with their sizes.
func extractZip(fsys afero.Fs, src, dest string) (map[string]int64, error) {
	f, err := fsys.Open(src)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return nil, err
	}

	files := make(map[string]int64, len(zr.File))
	for _, zf := range zr.File {
		rel, err := entryPath(zf.Name)
		if err != nil {
			return nil, err
		}
		if rel == "" {
			continue
		}
		target := filepath.Join(dest, filepath.FromSlash(rel))
		if zf.FileInfo().IsDir() {
			if err := fsys.MkdirAll(target, 0o750); err != nil {
				return nil, err
			}
			continue
		}
		if err := fsys.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return nil, err
		}
		n, err := writeEntry(fsys, zf, target)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", zf.Name, err)
		}
		files[rel] = n
		if !zf.Modified.IsZero() {
			_ = fsys.Chtimes(target, zf.Modified, zf.Modified)
		}
	}
	return files, nil
}

// entryPath rejects names that would land outside the extraction root.
func entryPath(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if path.IsAbs(name) {
		return "", fmt.Errorf("illegal absolute path in archive: %q", name)
	}
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("illegal path in archive: %q", name)
	}
	if clean == "." {
		return "", nil
	}
	return clean, nil
}

func writeEntry(fsys afero.Fs, zf *zip.File, target string) (int64, error) {
	rc, err := zf.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	mode := zf.Mode().Perm() | 0o600
	out, err := fsys.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, rc)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}
