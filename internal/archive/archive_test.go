package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(entries[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()

	tree := map[string]string{}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		tree[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return tree
}

var sampleEntries = map[string]string{
	"a.jpg":          "alpha",
	"sub/b.jpg":      "bravo",
	"sub/deep/c.png": "charlie charlie charlie",
}

func TestUnpackSingleArchive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.zip")
	require.NoError(t, os.WriteFile(path, buildZip(t, sampleEntries), 0o600))

	dest := filepath.Join(dir, "out")
	files, err := Unpack(context.Background(), path, dest)
	require.NoError(t, err)

	assert.Len(t, files, 3)
	assert.Equal(t, sampleEntries, readTree(t, dest))
}

func TestUnpackSplitVolumes(t *testing.T) {
	dir := t.TempDir()
	data := buildZip(t, sampleEntries)

	// three byte volumes, the last one shorter
	size := len(data)/3 + 1
	for i := 0; i*size < len(data); i++ {
		end := (i + 1) * size
		if end > len(data) {
			end = len(data)
		}
		name := filepath.Join(dir, "bundle.zip.00"+string(rune('1'+i)))
		require.NoError(t, os.WriteFile(name, data[i*size:end], 0o600))
	}

	vols, err := Volumes(filepath.Join(dir, "bundle.zip"))
	require.NoError(t, err)
	require.Len(t, vols, 3)
	assert.Equal(t, filepath.Join(dir, "bundle.zip.001"), vols[0])

	// the first volume resolves to the same series
	again, err := Volumes(filepath.Join(dir, "bundle.zip.001"))
	require.NoError(t, err)
	assert.Equal(t, vols, again)

	dest := filepath.Join(dir, "out")
	_, err = Unpack(context.Background(), filepath.Join(dir, "bundle.zip"), dest)
	require.NoError(t, err)
	assert.Equal(t, sampleEntries, readTree(t, dest))
}

func TestVolumesZSeries(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"bundle.z01", "bundle.z02", "bundle.zip"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
	}

	vols, err := Volumes(filepath.Join(dir, "bundle.zip"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "bundle.z01"),
		filepath.Join(dir, "bundle.z02"),
		filepath.Join(dir, "bundle.zip"),
	}, vols)
}

// testdata/spanned was written with "zip -r -s 64k bundle.zip ."; a.jpg and
// sub/b.jpg each cross a volume boundary
func TestUnpackSpannedArchive(t *testing.T) {
	path := filepath.Join("testdata", "spanned", "bundle.zip")

	vols, err := Volumes(path)
	require.NoError(t, err)
	require.Len(t, vols, 3)

	dest := t.TempDir()
	files, err := Unpack(context.Background(), path, dest)
	require.NoError(t, err)
	assert.Len(t, files, 3)

	digest := func(name string) string {
		data, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(name)))
		require.NoError(t, err)
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
	assert.Equal(t, "60afb7089b0498523b8c0cc50d5a3692a0a5c9ac6959b06e3bfcdc9525d0a737", digest("a.jpg"))
	assert.Equal(t, "30f2be8d974d4346dc9ded3be05a9afb4b70286dda11c25efc96773c429013e3", digest("sub/b.jpg"))

	small, err := os.ReadFile(filepath.Join(dest, "sub", "c.png"))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("charlie ", 10), string(small))
}

func TestUnpackSpannedArchiveMissingVolume(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"bundle.z01", "bundle.zip"} {
		data, err := os.ReadFile(filepath.Join("testdata", "spanned", name))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o600))
	}

	files, err := Unpack(context.Background(), filepath.Join(dir, "bundle.zip"), filepath.Join(dir, "out"))
	assert.ErrorIs(t, err, ErrMissingVolume)
	assert.Empty(t, files)
}

func TestVolumesMissingArchive(t *testing.T) {
	_, err := Volumes(filepath.Join(t.TempDir(), "nope.zip"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestUnpackRejectsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "evil.zip")
	require.NoError(t, os.WriteFile(path, buildZip(t, map[string]string{"../evil.txt": "boom"}), 0o600))

	_, err := Unpack(context.Background(), path, filepath.Join(dir, "out"))
	assert.ErrorIs(t, err, ErrUnsafePath)

	_, statErr := os.Stat(filepath.Join(dir, "evil.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestUnpackOverwritesExistingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.zip")
	require.NoError(t, os.WriteFile(path, buildZip(t, sampleEntries), 0o600))

	dest := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "a.jpg"), []byte("a much longer stale file"), 0o600))

	_, err := Unpack(context.Background(), path, dest)
	require.NoError(t, err)
	assert.Equal(t, sampleEntries, readTree(t, dest))
}

func TestUnpackHonoursCancellation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.zip")
	require.NoError(t, os.WriteFile(path, buildZip(t, sampleEntries), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Unpack(ctx, path, filepath.Join(dir, "out"))
	assert.ErrorIs(t, err, context.Canceled)
}
