package storage

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewLocalStore(t *testing.T) {
	t.Run("creates directory if not exists", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "objects")

		store, err := NewLocalStore(root, "http://localhost:8080", "")
		if err != nil {
			t.Fatalf("NewLocalStore() error = %v", err)
		}
		if store.Root() != root {
			t.Errorf("Root() = %v, want %v", store.Root(), root)
		}

		info, err := os.Stat(root)
		if err != nil {
			t.Fatalf("directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Error("expected directory, got file")
		}
	})

	t.Run("requires root", func(t *testing.T) {
		if _, err := NewLocalStore("", "", ""); err == nil {
			t.Error("expected error for empty root")
		}
	})
}

func TestLocalStore_UploadDownload(t *testing.T) {
	store := setupTestStore(t, "")
	ctx := context.Background()

	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}

	key := "frames/v1/j1/frame_0001.png"
	got, err := store.Upload(ctx, key, buf.Bytes(), "image/png")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if got != key {
		t.Errorf("Upload() = %q, want %q", got, key)
	}

	rc, err := store.Download(ctx, key)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	defer rc.Close()

	decoded, err := png.Decode(rc)
	if err != nil {
		t.Fatalf("decode downloaded frame: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 40 || b.Dy() != 30 {
		t.Errorf("decoded size = %dx%d, want 40x30", b.Dx(), b.Dy())
	}

	leftovers, _ := filepath.Glob(filepath.Join(store.Root(), "frames/v1/j1/.upload_*"))
	if len(leftovers) != 0 {
		t.Errorf("temp upload files left behind: %v", leftovers)
	}
}

func TestLocalStore_Overwrite(t *testing.T) {
	store := setupTestStore(t, "")
	ctx := context.Background()

	for _, content := range []string{"first", "second"} {
		if _, err := store.Upload(ctx, "a/b.txt", []byte(content), "text/plain"); err != nil {
			t.Fatalf("Upload() error = %v", err)
		}
	}

	rc, err := store.Download(ctx, "a/b.txt")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "second" {
		t.Errorf("got %q, want %q", data, "second")
	}
}

func TestLocalStore_Missing(t *testing.T) {
	store := setupTestStore(t, "")
	ctx := context.Background()

	_, err := store.Download(ctx, "nope/missing.png")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
	if !errors.Is(err, ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}

	exists, err := store.Exists(ctx, "nope/missing.png")
	if err != nil || exists {
		t.Errorf("Exists() = %v, %v; want false, nil", exists, err)
	}

	if err := store.Delete(ctx, "nope/missing.png"); err != nil {
		t.Errorf("Delete() of missing key should succeed, got %v", err)
	}
}

func TestLocalStore_DeleteAndExists(t *testing.T) {
	store := setupTestStore(t, "")
	ctx := context.Background()

	if _, err := store.Upload(ctx, "videos/x.mp4", []byte("data"), "video/mp4"); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	exists, err := store.Exists(ctx, "videos/x.mp4")
	if err != nil || !exists {
		t.Fatalf("Exists() = %v, %v; want true, nil", exists, err)
	}
	if err := store.Delete(ctx, "videos/x.mp4"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	exists, _ = store.Exists(ctx, "videos/x.mp4")
	if exists {
		t.Error("object still exists after Delete()")
	}
}

func TestLocalStore_InvalidKeys(t *testing.T) {
	store := setupTestStore(t, "")
	ctx := context.Background()

	for _, key := range []string{"", "/etc/passwd", "../escape", "a/../../b", "a//b", "a\\b"} {
		t.Run(key, func(t *testing.T) {
			_, err := store.Upload(ctx, key, []byte("x"), "")
			if !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Upload(%q) error = %v, want ErrInvalidKey", key, err)
			}
		})
	}
}

func TestLocalStore_RespectsContext(t *testing.T) {
	store := setupTestStore(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Upload(ctx, "a.txt", []byte("x"), "")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestLocalStore_SignedURL(t *testing.T) {
	ctx := context.Background()

	t.Run("unsigned without secret", func(t *testing.T) {
		store := setupTestStore(t, "")
		u, err := store.SignedURL(ctx, "frames/v/j/frame_0001.png", time.Hour)
		if err != nil {
			t.Fatalf("SignedURL() error = %v", err)
		}
		want := "http://localhost:8080/storage/frames/v/j/frame_0001.png"
		if u != want {
			t.Errorf("SignedURL() = %q, want %q", u, want)
		}
		if err := store.Verify("frames/v/j/frame_0001.png", "", ""); err != nil {
			t.Errorf("Verify() without secret should pass, got %v", err)
		}
	})

	t.Run("signed round trip", func(t *testing.T) {
		store := setupTestStore(t, "s3cret")
		now := time.Unix(1_700_000_000, 0)
		store.now = func() time.Time { return now }

		raw, err := store.SignedURL(ctx, "frames/v/j/frame_0002.jpg", time.Hour)
		if err != nil {
			t.Fatalf("SignedURL() error = %v", err)
		}
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("parse url: %v", err)
		}
		if !strings.HasPrefix(u.Path, "/storage/frames/v/j/") {
			t.Errorf("unexpected path %q", u.Path)
		}
		q := u.Query()
		if q.Get("expires") != "1700003600" {
			t.Errorf("expires = %q, want 1700003600", q.Get("expires"))
		}

		if err := store.Verify("frames/v/j/frame_0002.jpg", q.Get("expires"), q.Get("signature")); err != nil {
			t.Errorf("Verify() error = %v", err)
		}
		if err := store.Verify("frames/v/j/frame_0003.jpg", q.Get("expires"), q.Get("signature")); !errors.Is(err, ErrSignatureInvalid) {
			t.Errorf("Verify() with other key = %v, want ErrSignatureInvalid", err)
		}
		if err := store.Verify("frames/v/j/frame_0002.jpg", "1700007200", q.Get("signature")); !errors.Is(err, ErrSignatureInvalid) {
			t.Errorf("Verify() with tampered expiry = %v, want ErrSignatureInvalid", err)
		}

		now = now.Add(2 * time.Hour)
		if err := store.Verify("frames/v/j/frame_0002.jpg", q.Get("expires"), q.Get("signature")); !errors.Is(err, ErrSignatureExpired) {
			t.Errorf("Verify() after expiry = %v, want ErrSignatureExpired", err)
		}
	})

	t.Run("escapes segments", func(t *testing.T) {
		store := setupTestStore(t, "")
		u, err := store.SignedURL(ctx, "videos/my clip.mp4", time.Hour)
		if err != nil {
			t.Fatalf("SignedURL() error = %v", err)
		}
		if !strings.HasSuffix(u, "/storage/videos/my%20clip.mp4") {
			t.Errorf("SignedURL() = %q", u)
		}
	})
}

func setupTestStore(t *testing.T, secret string) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir(), "http://localhost:8080/", secret)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}
