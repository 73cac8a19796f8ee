package recompress

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/rowjay/todoist-backup/internal/compress"
)

// packTar writes the contents of root, but not root itself, as a tar stream
// compressed with format into out.
func packTar(ctx context.Context, fsys afero.Fs, root, out, format string, level int) (err error) {
	file, err := fsys.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()

	cw, err := compress.NewWriter(ctx, format, level, file)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(cw)

	walkErr := afero.Walk(fsys, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		return addEntry(fsys, tw, p, filepath.ToSlash(rel), info)
	})

	twErr := tw.Close()
	cwErr := cw.Close()
	if err := errors.Join(walkErr, twErr, cwErr); err != nil {
		return err
	}
	return file.Sync()
}

func addEntry(fsys afero.Fs, tw *tar.Writer, p, name string, info os.FileInfo) error {
	if !info.IsDir() && !info.Mode().IsRegular() {
		return nil
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if info.IsDir() {
		hdr.Name += "/"
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if info.IsDir() {
		return nil
	}
	f, err := fsys.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

// verifyTar decodes the container at path end to end and checks it holds
// exactly the regular files in want, with matching sizes.
func verifyTar(ctx context.Context, fsys afero.Fs, path, format string, want map[string]int64) (err error) {
	f, err := fsys.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cr, err := compress.NewReader(ctx, format, f)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := cr.Close(); err == nil {
			err = cerr
		}
	}()

	got := make(map[string]int64, len(want))
	tr := tar.NewReader(cr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		n, err := io.Copy(io.Discard, tr)
		if err != nil {
			return err
		}
		got[hdr.Name] = n
	}

	if len(got) != len(want) {
		return fmt.Errorf("container holds %d files, archive had %d", len(got), len(want))
	}
	for name, size := range want {
		n, ok := got[name]
		if !ok {
			return fmt.Errorf("%s missing from container", name)
		}
		if n != size {
			return fmt.Errorf("%s: container has %d bytes, archive had %d", name, n, size)
		}
	}
	return nil
}
