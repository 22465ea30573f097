package storage

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"testing"
)

func solid(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	return img
}

func openRepo(t *testing.T) *LocalRepository {
	t.Helper()
	r, err := OpenLocal(t.TempDir(), "http://img.test/")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestUploadAndOpenPNG(t *testing.T) {
	r := openRepo(t)
	ctx := context.Background()
	out, err := r.Upload(ctx, solid(6, 3), FormatPNG)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if out.ContentType != "image/png" || out.Width != 6 || out.Height != 3 || out.FileSize <= 0 {
		t.Fatalf("unexpected image: %+v", out)
	}
	if !strings.HasPrefix(out.URL, "http://img.test/files/") || !strings.HasSuffix(out.FileName, ".png") {
		t.Fatalf("unexpected naming: %+v", out)
	}
	f, meta, err := r.Open(ctx, out.FileName)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	if meta != out {
		t.Fatalf("metadata mismatch: %+v vs %+v", meta, out)
	}
	dec, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.Bounds().Dx() != 6 {
		t.Fatalf("unexpected decoded bounds %v", dec.Bounds())
	}
	if n, _ := r.Count(ctx); n != 1 {
		t.Fatalf("count = %d", n)
	}
}

func TestUploadJPEG(t *testing.T) {
	r := openRepo(t)
	out, err := r.Upload(context.Background(), solid(4, 4), FormatJPEG)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if out.ContentType != "image/jpeg" || !strings.HasSuffix(out.FileName, ".jpg") {
		t.Fatalf("unexpected image: %+v", out)
	}
	f, _, err := r.Open(context.Background(), out.FileName)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	head := make([]byte, 2)
	_, _ = io.ReadFull(f, head)
	_ = f.Close()
	if head[0] != 0xFF || head[1] != 0xD8 {
		t.Fatalf("not a jpeg stream: %x", head)
	}
}

func TestOpenUnknownAndTraversal(t *testing.T) {
	r := openRepo(t)
	for _, name := range []string{"missing.png", "../index.db", "index.db"} {
		if _, _, err := r.Open(context.Background(), name); err != ErrNotFound {
			t.Fatalf("Open(%q) err = %v, want ErrNotFound", name, err)
		}
	}
}

func TestUploadRejectsUnknownFormat(t *testing.T) {
	r := openRepo(t)
	if _, err := r.Upload(context.Background(), solid(1, 1), "gif"); err == nil {
		t.Fatalf("expected unsupported format error")
	}
	if ValidFormat("gif") || !ValidFormat(FormatJPEG) {
		t.Fatalf("ValidFormat mismatch")
	}
}
