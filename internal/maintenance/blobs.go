package maintenance

import (
	"archive/tar"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"

	"cocalc-hub/internal/storage"
)

const (
	BlobArchiveAge   = 24 * time.Hour
	blobArchiveBatch = 1000
)

type ArchiveResult struct {
	Path  string
	Count int
	Bytes int64
}

// ArchiveBlobs writes non-expiring blobs created before cutoff into one
// gzip tarball under dir and drops their inline copies.
func ArchiveBlobs(ctx context.Context, db *storage.DB, dir string, cutoff time.Time, log logrus.FieldLogger) (ArchiveResult, error) {
	blobs, err := storage.ArchivableBlobs(ctx, db, cutoff, blobArchiveBatch)
	if err != nil {
		return ArchiveResult{}, err
	}
	if len(blobs) == 0 {
		return ArchiveResult{}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ArchiveResult{}, err
	}

	name := fmt.Sprintf("blobs-%s.tar.gz", time.Now().UTC().Format("20060102T150405.000000000"))
	path := filepath.Join(dir, name)
	res, err := writeTarball(path, blobs)
	if err != nil {
		_ = os.Remove(path)
		return ArchiveResult{}, err
	}

	ids := make([]string, len(blobs))
	for i, b := range blobs {
		ids[i] = b.ID
	}
	if err := storage.MarkBlobsArchived(ctx, db, ids, path); err != nil {
		return ArchiveResult{}, fmt.Errorf("archive written to %s but not recorded: %w", path, err)
	}

	if log != nil {
		log.WithFields(logrus.Fields{
			"path":  path,
			"blobs": res.Count,
			"size":  humanize.Bytes(uint64(res.Bytes)),
		}).Info("archived blobs")
	}
	return res, nil
}

func writeTarball(path string, blobs []storage.Blob) (ArchiveResult, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return ArchiveResult{}, err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	res := ArchiveResult{Path: path}
	for _, b := range blobs {
		hdr := &tar.Header{
			Name:    b.ID,
			Mode:    0o644,
			Size:    int64(len(b.Data)),
			ModTime: b.Created,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return ArchiveResult{}, err
		}
		if _, err := tw.Write(b.Data); err != nil {
			return ArchiveResult{}, err
		}
		res.Count++
		res.Bytes += int64(len(b.Data))
	}
	if err := tw.Close(); err != nil {
		return ArchiveResult{}, err
	}
	if err := gz.Close(); err != nil {
		return ArchiveResult{}, err
	}
	return res, f.Sync()
}
