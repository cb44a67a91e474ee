// Package archive unpacks product image bundles.
//
// Bundles are zip archives that may be split into several volumes. Byte
// splits ("bundle.zip.001, bundle.zip.002, ...") are read back to back.
// Spanned archives written by "zip -s" ("bundle.z01, bundle.z02, ...,
// bundle.zip") address entries relative to their own volume, so their
// central directory is rebased onto the concatenated volumes before reading.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

var (
	// ErrUnsafePath is returned for archive entries that would land outside the destination
	ErrUnsafePath = errors.New("archive entry escapes destination")
	// ErrMissingVolume is returned when a spanned archive refers to a volume that is not on disk
	ErrMissingVolume = errors.New("archive volume missing")
	// ErrZip64Span is returned for spanned archives that need zip64 records
	ErrZip64Span = errors.New("zip64 spanned archives are not supported")
)

// Volumes returns the ordered volume files of the archive at path
func Volumes(path string) ([]string, error) {
	base := path
	if ext := filepath.Ext(path); ext == ".001" {
		base = strings.TrimSuffix(path, ext)
	}

	if exists(base + ".001") {
		return numbered(func(i int) string { return fmt.Sprintf("%s.%03d", base, i) }), nil
	}

	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if exists(stem + ".z01") {
		vols := numbered(func(i int) string { return fmt.Sprintf("%s.z%02d", stem, i) })
		if !exists(base) {
			return nil, fmt.Errorf("last volume %s: %w", base, os.ErrNotExist)
		}
		return append(vols, base), nil
	}

	if !exists(path) {
		return nil, fmt.Errorf("archive %s: %w", path, os.ErrNotExist)
	}
	return []string{path}, nil
}

func numbered(name func(int) string) []string {
	var vols []string
	for i := 1; exists(name(i)); i++ {
		vols = append(vols, name(i))
	}
	return vols
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Unpack extracts the archive at path into dest, recreating its directory tree,
// and returns the paths of the extracted files
func Unpack(ctx context.Context, path, dest string) ([]string, error) {
	vols, err := Volumes(path)
	if err != nil {
		return nil, err
	}

	set, err := openVolumes(vols)
	if err != nil {
		return nil, err
	}
	defer set.Close()

	if len(vols) > 1 {
		if err := set.rebaseSpanned(); err != nil {
			return nil, fmt.Errorf("failed to read archive %s: %w", path, err)
		}
	}

	zr, err := zip.NewReader(set, set.size)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive %s: %w", path, err)
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, err
	}
	root, err := filepath.Abs(dest)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return files, err
		}

		target, err := safeJoin(root, f.Name)
		if err != nil {
			return files, err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, err
			}
			continue
		}

		if err := extractFile(f, target); err != nil {
			return files, err
		}
		files = append(files, target)
	}

	return files, nil
}

func safeJoin(root, name string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open entry %s: %w", f.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(target)
		return fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	return dst.Close()
}

// volumeSet presents consecutive parts as one io.ReaderAt
type volumeSet struct {
	parts   []io.ReaderAt
	closers []io.Closer
	offsets []int64
	sizes   []int64
	size    int64
}

func openVolumes(paths []string) (*volumeSet, error) {
	set := &volumeSet{}
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			set.Close()
			return nil, err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			set.Close()
			return nil, err
		}
		set.closers = append(set.closers, f)
		set.add(f, info.Size())
	}
	return set, nil
}

func (v *volumeSet) add(r io.ReaderAt, size int64) {
	v.parts = append(v.parts, r)
	v.offsets = append(v.offsets, v.size)
	v.sizes = append(v.sizes, size)
	v.size += size
}

func (v *volumeSet) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	if off >= v.size {
		return 0, io.EOF
	}

	n := 0
	for i, part := range v.parts {
		if n == len(p) {
			break
		}
		pos := off + int64(n)
		end := v.offsets[i] + v.sizes[i]
		if pos >= end {
			continue
		}

		want := p[n:]
		if remain := end - pos; int64(len(want)) > remain {
			want = want[:remain]
		}
		m, err := part.ReadAt(want, pos-v.offsets[i])
		n += m
		if err != nil && !errors.Is(err, io.EOF) {
			return n, err
		}
		if m < len(want) {
			return n, io.ErrUnexpectedEOF
		}
	}

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (v *volumeSet) Close() error {
	var first error
	for _, c := range v.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
