package download

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/rowjay/todoist-backup/internal/todoist"
)

const (
	ManifestHeader = "Todoist backups currently available:"
	ManifestEmpty  = "No backups found."
)

// WriteManifest replaces the manifest at path with the catalog's canonical
// file names, one per line under a header line, or the empty sentinel.
func WriteManifest(fsys afero.Fs, path string, catalog todoist.Catalog) error {
	var buf bytes.Buffer
	if len(catalog) == 0 {
		buf.WriteString(ManifestEmpty + "\n")
	} else {
		buf.WriteString(ManifestHeader + "\n")
		for _, name := range catalog.Filenames() {
			buf.WriteString(name + "\n")
		}
	}

	tmp := path + ".tmp"
	if err := afero.WriteFile(fsys, tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := fsys.Rename(tmp, path); err != nil {
		_ = fsys.Remove(tmp)
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}

// ReadManifest returns the file names listed in the manifest at path.
// A missing manifest yields no names.
func ReadManifest(fsys afero.Fs, path string) ([]string, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, line := range bytes.Split(data, []byte("\n")) {
		s := string(bytes.TrimSpace(line))
		if s == "" || s == ManifestHeader || s == ManifestEmpty {
			continue
		}
		names = append(names, s)
	}
	return names, nil
}
