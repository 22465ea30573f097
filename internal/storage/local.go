package storage

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"imaged/internal/common/fsutil"
	"imaged/pkg/types"
)

const jpegQuality = 95

// LocalRepository writes images under a directory and indexes them in a
// SQLite database next to the files. Only indexed names can be opened, so
// arbitrary paths are never served.
type LocalRepository struct {
	dir     string
	baseURL string
	db      *sql.DB
}

// OpenLocal opens (or creates) a repository rooted at dir. Returned URLs are
// baseURL + "/files/" + name.
func OpenLocal(dir, baseURL string) (*LocalRepository, error) {
	abs, err := fsutil.EnsureDir(dir)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", filepath.Join(abs, "index.db"))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	r := &LocalRepository{dir: abs, baseURL: strings.TrimRight(baseURL, "/"), db: db}
	if err := r.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *LocalRepository) migrate() error {
	_, err := r.db.Exec(`
CREATE TABLE IF NOT EXISTS images (
  name TEXT PRIMARY KEY,
  content_type TEXT NOT NULL,
  size_bytes INTEGER NOT NULL,
  width INTEGER NOT NULL,
  height INTEGER NOT NULL,
  created_at DATETIME NOT NULL
);
`)
	return err
}

// Dir is the absolute storage directory.
func (r *LocalRepository) Dir() string { return r.dir }

// Upload encodes img, publishes it atomically and records it in the index.
func (r *LocalRepository) Upload(ctx context.Context, img image.Image, format string) (types.Image, error) {
	ct, err := ContentType(format)
	if err != nil {
		return types.Image{}, err
	}
	ext := "." + format
	if format == FormatJPEG {
		ext = ".jpg"
	}
	name := uuid.NewString() + ext

	tmp, err := os.CreateTemp(r.dir, ".upload-*")
	if err != nil {
		return types.Image{}, fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	w := bufio.NewWriter(tmp)
	switch format {
	case FormatPNG:
		err = png.Encode(w, img)
	case FormatJPEG:
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: jpegQuality})
	}
	if err == nil {
		err = w.Flush()
	}
	if err != nil {
		_ = tmp.Close()
		return types.Image{}, fmt.Errorf("encode %s: %w", format, err)
	}
	fi, err := tmp.Stat()
	if err != nil {
		_ = tmp.Close()
		return types.Image{}, err
	}
	if err := tmp.Close(); err != nil {
		return types.Image{}, err
	}
	dst := filepath.Join(r.dir, name)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return types.Image{}, fmt.Errorf("publish %s: %w", name, err)
	}

	b := img.Bounds()
	out := types.Image{
		URL:         r.baseURL + "/files/" + name,
		ContentType: ct,
		FileName:    name,
		FileSize:    fi.Size(),
		Width:       b.Dx(),
		Height:      b.Dy(),
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO images(name, content_type, size_bytes, width, height, created_at)
VALUES(?, ?, ?, ?, ?, ?);
`, out.FileName, out.ContentType, out.FileSize, out.Width, out.Height, time.Now().UTC())
	if err != nil {
		_ = os.Remove(dst)
		return types.Image{}, fmt.Errorf("index %s: %w", name, err)
	}
	return out, nil
}

// Open returns the stored file and its description, or ErrNotFound.
func (r *LocalRepository) Open(ctx context.Context, name string) (io.ReadSeekCloser, types.Image, error) {
	var img types.Image
	err := r.db.QueryRowContext(ctx, `
SELECT name, content_type, size_bytes, width, height FROM images WHERE name=?;
`, name).Scan(&img.FileName, &img.ContentType, &img.FileSize, &img.Width, &img.Height)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.Image{}, ErrNotFound
	}
	if err != nil {
		return nil, types.Image{}, err
	}
	img.URL = r.baseURL + "/files/" + img.FileName
	f, err := os.Open(filepath.Join(r.dir, filepath.Base(img.FileName)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, types.Image{}, ErrNotFound
	}
	if err != nil {
		return nil, types.Image{}, err
	}
	return f, img, nil
}

// Count returns the number of indexed images.
func (r *LocalRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images;`).Scan(&n)
	return n, err
}

func (r *LocalRepository) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}
