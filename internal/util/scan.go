package util

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Entry is an immediate child of a scanned directory.
type Entry struct {
	Name   string
	Path   string
	IsFile bool
	Ext    string
	Size   int64
}

// ScanDir lists the immediate entries of dir in name order. A directory that
// does not exist yet has no entries.
func ScanDir(fsys afero.Fs, dir string) ([]Entry, error) {
	infos, err := afero.ReadDir(fsys, dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, Entry{
			Name:   info.Name(),
			Path:   filepath.Join(dir, info.Name()),
			IsFile: info.Mode().IsRegular(),
			Ext:    filepath.Ext(info.Name()),
			Size:   info.Size(),
		})
	}
	return entries, nil
}

// FilesWithExt returns the regular files directly inside dir whose name ends
// with ext (case-insensitive). Subdirectories are never descended into.
func FilesWithExt(fsys afero.Fs, dir, ext string) ([]Entry, error) {
	entries, err := ScanDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	ext = strings.ToLower(ext)
	var out []Entry
	for _, e := range entries {
		if e.IsFile && strings.HasSuffix(strings.ToLower(e.Name), ext) {
			out = append(out, e)
		}
	}
	return out, nil
}
