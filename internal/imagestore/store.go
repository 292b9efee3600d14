package imagestore

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/disintegration/imaging"
)

const (
	// Stored images are capped at this width to keep the timeline page snappy.
	maxStoredWidth = 1920
	jpegQuality    = 90
)

// Store persists uploaded images under a timestamp-sortable naming scheme and
// enforces a retention cap by deleting the oldest files. The directory is
// shared mutable state with no lock: individual file operations are atomic and
// retention tolerates losing races.
type Store struct {
	dir       string
	rotate180 bool
}

func NewStore(dir string, rotate180 bool) *Store {
	return &Store{dir: dir, rotate180: rotate180}
}

// Dir returns the image directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save decodes, optionally rotates, downscales, and re-encodes the uploaded
// image, returning the stored filename. If the bytes do not decode as an
// image they are written verbatim under the same naming scheme so an upload
// is never silently lost.
func (s *Store) Save(raw []byte) (string, error) {
	fn := s.newFilename()

	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		if werr := os.WriteFile(filepath.Join(s.dir, fn), raw, 0644); werr != nil {
			return "", fmt.Errorf("failed to write raw image: %w", werr)
		}
		return fn, nil
	}

	if s.rotate180 {
		img = imaging.Rotate180(img)
	}
	if img.Bounds().Dx() > maxStoredWidth {
		// Box filter approximates area-average interpolation for downscaling.
		img = imaging.Resize(img, maxStoredWidth, 0, imaging.Box)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, fn), buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	return fn, nil
}

// Retain deletes the oldest images beyond keep, best-effort. Filenames sort
// lexicographically in creation order, so oldest-first is a plain sort. A
// failed delete is skipped, not surfaced; a concurrent run recomputes the
// excess from its own directory listing.
func (s *Store) Retain(keep int) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "img_*.jpg"))
	if err != nil || len(paths) <= keep {
		return
	}
	sort.Strings(paths)
	for _, p := range paths[:len(paths)-keep] {
		_ = os.Remove(p)
	}
}

// Path returns the absolute path of a stored image by filename.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *Store) newFilename() string {
	now := time.Now().UTC()
	return fmt.Sprintf("img_%s_%03d.jpg", now.Format("20060102_150405"), now.UnixMilli()%1000)
}
