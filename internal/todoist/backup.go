// Package todoist talks to the Todoist backups API and models its catalog.
package todoist

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// ArchiveExt is the container format Todoist serves backups in.
const ArchiveExt = ".zip"

// Backup is one entry of the remote catalog. It is rebuilt on every fetch
// and never persisted; the files on disk are the durable state.
type Backup struct {
	Version string
	URL     string

	filename string
}

// Catalog is the ordered list of backups returned by one fetch.
type Catalog []Backup

// NewBackup validates an entry and derives its canonical filename.
func NewBackup(version, rawURL string) (Backup, error) {
	name, err := canonicalFilename(version, rawURL)
	if err != nil {
		return Backup{}, err
	}
	return Backup{Version: version, URL: rawURL, filename: name}, nil
}

// Filename is the canonical local name, "<date>_<time>_<basename>" with the
// time colons replaced by hyphens. It is the only key used to match catalog
// entries against local files.
func (b Backup) Filename() string {
	return b.filename
}

func (b Backup) String() string {
	return fmt.Sprintf("Todoist backup for version %s", b.Version)
}

// Filenames returns the canonical names of every entry, in catalog order.
func (c Catalog) Filenames() []string {
	names := make([]string, 0, len(c))
	for _, b := range c {
		names = append(names, b.Filename())
	}
	return names
}

// Current returns the canonical names as a set.
func (c Catalog) Current() map[string]struct{} {
	set := make(map[string]struct{}, len(c))
	for _, b := range c {
		set[b.Filename()] = struct{}{}
	}
	return set
}

func canonicalFilename(version, rawURL string) (string, error) {
	date, clock, ok := strings.Cut(strings.TrimSpace(version), " ")
	if !ok || date == "" || clock == "" || strings.Contains(clock, " ") {
		return "", fmt.Errorf("version %q is not \"<date> <time>\"", version)
	}
	if strings.ContainsAny(date+clock, `/\`) {
		return "", fmt.Errorf("version %q contains a path separator", version)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return "", errors.New("url has no file name in its path")
	}
	return fmt.Sprintf("%s_%s_%s", date, strings.ReplaceAll(clock, ":", "-"), base), nil
}
