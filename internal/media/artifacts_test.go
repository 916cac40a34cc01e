package media

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/roelfdiedericks/chatgate/internal/config"
)

func testImage(t *testing.T, encode func(*bytes.Buffer, image.Image) error) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: uint8(x * 40), B: uint8(y * 40), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := encode(&buf, img); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	return buf.Bytes()
}

func pngBytes(t *testing.T) []byte {
	return testImage(t, func(b *bytes.Buffer, img image.Image) error { return png.Encode(b, img) })
}

func jpegBytes(t *testing.T) []byte {
	return testImage(t, func(b *bytes.Buffer, img image.Image) error { return jpeg.Encode(b, img, nil) })
}

func newTestStore(t *testing.T, ttl int) *ArtifactStore {
	t.Helper()
	s, err := NewArtifactStore(config.ArtifactsConfig{Dir: t.TempDir(), TTLSeconds: ttl})
	if err != nil {
		t.Fatalf("NewArtifactStore failed: %v", err)
	}
	return s
}

func TestSavePNG(t *testing.T) {
	s := newTestStore(t, 0)
	s.now = func() time.Time { return time.UnixMilli(1700000000123) }

	path, err := s.Save(pngBytes(t))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if filepath.Base(path) != "image-1700000000123.png" {
		t.Errorf("file name mismatch: got %q", filepath.Base(path))
	}

	// same millisecond must not overwrite
	path2, err := s.Save(pngBytes(t))
	if err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	if path2 == path {
		t.Error("second save reused the first file name")
	}
}

func TestSaveConvertsJPEG(t *testing.T) {
	s := newTestStore(t, 0)
	path, err := s.Save(jpegBytes(t))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got := DetectMIME(data); got != "image/png" {
		t.Errorf("stored mime mismatch: got %q, want image/png", got)
	}
}

func TestSaveRejectsNonImage(t *testing.T) {
	s := newTestStore(t, 0)
	if _, err := s.Save([]byte("just some text")); err == nil {
		t.Error("expected error for non-image data")
	}
	if _, err := s.Save(nil); err == nil {
		t.Error("expected error for empty data")
	}
}

func TestSaveAsync(t *testing.T) {
	s := newTestStore(t, 0)
	s.SaveAsync(pngBytes(t))
	s.SaveAsync([]byte("broken"))
	s.Wait()

	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 artifact, got %d", len(entries))
	}
}

func TestCleanOld(t *testing.T) {
	s := newTestStore(t, 60)

	oldPath, err := s.Save(pngBytes(t))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(oldPath, past, past); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}
	freshPath, err := s.Save(pngBytes(t))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	other := filepath.Join(s.Dir(), "notes.txt")
	if err := os.WriteFile(other, []byte("keep"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(other, past, past); err != nil {
		t.Fatal(err)
	}

	n, err := s.CleanOld()
	if err != nil {
		t.Fatalf("CleanOld failed: %v", err)
	}
	if n != 1 {
		t.Errorf("removed count mismatch: got %d, want 1", n)
	}
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Error("old artifact should be removed")
	}
	if _, err := os.Stat(freshPath); err != nil {
		t.Error("fresh artifact should remain")
	}
	if _, err := os.Stat(other); err != nil {
		t.Error("unrelated files should remain")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s, err := NewArtifactStore(config.ArtifactsConfig{Dir: t.TempDir(), TTLSeconds: 60, CleanupSchedule: "every so often"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err == nil || !strings.Contains(err.Error(), "invalid cleanup schedule") {
		t.Errorf("expected schedule error, got %v", err)
	}
	s.Close()
}
