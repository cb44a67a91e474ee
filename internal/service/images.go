package service

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"catalog-sync/internal/archive"
	"catalog-sync/internal/util"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ThumbnailDir is the subdirectory of the public root holding resized images
const ThumbnailDir = "thumbs"

// ImageSyncResult summarizes an image bundle synchronization
type ImageSyncResult struct {
	Archive    string   `json:"archive"`
	Extracted  int      `json:"extracted"`
	Moved      []string `json:"moved"`
	Thumbnails int      `json:"thumbnails"`
}

// ImageSynchronizer moves the contents of image bundles into the public image root
type ImageSynchronizer struct {
	thumbnailWidth int
	logger         *zap.Logger
}

// NewImageSynchronizer creates a new image synchronizer. A positive
// thumbnailWidth also writes a resized copy of every moved jpeg or png.
func NewImageSynchronizer(thumbnailWidth int) *ImageSynchronizer {
	return &ImageSynchronizer{
		thumbnailWidth: thumbnailWidth,
		logger:         util.GetLogger(),
	}
}

// SyncImages purges leftover files from workingDir, unpacks archivePath into it
// and moves every extracted file into publicRoot by base name, overwriting.
// A failed unpack removes what it extracted. Errors carry a stack trace
// (format with %+v). Files moved before a failure stay moved.
func (s *ImageSynchronizer) SyncImages(ctx context.Context, archivePath, workingDir, publicRoot string) (*ImageSyncResult, error) {
	ctx, span := util.StartSpan(ctx, "ImageSynchronizer.SyncImages")
	defer span.End()

	span.SetAttributes(attribute.String("archive", archivePath))
	result := &ImageSyncResult{Archive: archivePath, Moved: []string{}}

	if err := purgeFiles(workingDir); err != nil {
		util.SpanError(span, err)
		return result, err
	}

	extracted, err := archive.Unpack(ctx, archivePath, workingDir)
	result.Extracted = len(extracted)
	if err != nil {
		s.discard(extracted)
		util.SpanError(span, err)
		return result, errors.Wrapf(err, "unpack %s", archivePath)
	}

	if err := os.MkdirAll(publicRoot, 0o755); err != nil {
		util.SpanError(span, err)
		return result, errors.WithStack(err)
	}

	if err := s.publish(ctx, extracted, publicRoot, result); err != nil {
		util.SpanError(span, err)
		return result, errors.Wrapf(err, "move extracted images to %s", publicRoot)
	}

	span.SetAttributes(attribute.Int("moved", len(result.Moved)))
	return result, nil
}

// publish moves the files of this extraction into publicRoot by base name.
// Anything else found under the working directory is left where it is.
func (s *ImageSynchronizer) publish(ctx context.Context, extracted []string, publicRoot string, result *ImageSyncResult) error {
	seen := make(map[string]bool, len(extracted))
	for _, path := range extracted {
		if seen[path] {
			continue
		}
		seen[path] = true
		if err := ctx.Err(); err != nil {
			return err
		}

		name := filepath.Base(path)
		target := filepath.Join(publicRoot, name)
		if err := moveFile(path, target); err != nil {
			return err
		}
		result.Moved = append(result.Moved, name)
		util.ImageFilesMovedTotal.Inc()

		if s.thumbnailWidth > 0 && isResizable(name) {
			if err := s.writeThumbnail(target, filepath.Join(publicRoot, ThumbnailDir, name)); err != nil {
				s.logger.Warn("Failed to write thumbnail", zap.String("file", name), zap.Error(err))
			} else {
				result.Thumbnails++
			}
		}
	}
	return nil
}

// discard removes the files of an abandoned extraction
func (s *ImageSynchronizer) discard(paths []string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("Failed to remove extracted file", zap.String("file", path), zap.Error(err))
		}
	}
}

// purgeFiles removes the regular files directly inside dir. Subdirectories are kept
// and a missing dir is not an error.
func purgeFiles(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "read working directory %s", dir)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "purge %s", entry.Name())
		}
	}
	return nil
}

// moveFile renames src to dst, replacing dst. Across filesystems it copies and removes instead.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return errors.WithStack(err)
	}

	in, err := os.Open(src)
	if err != nil {
		return errors.WithStack(err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "copy %s", src)
	}
	if err := out.Close(); err != nil {
		return errors.WithStack(err)
	}

	in.Close()
	return errors.WithStack(os.Remove(src))
}

func isResizable(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	default:
		return false
	}
}

func (s *ImageSynchronizer) writeThumbnail(src, dst string) error {
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	thumb := imaging.Resize(img, s.thumbnailWidth, 0, imaging.Lanczos)
	return imaging.Save(thumb, dst)
}
