package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// URL signing errors returned by LocalStore.Verify.
var (
	ErrSignatureInvalid = errors.New("invalid signature")
	ErrSignatureExpired = errors.New("signed url expired")
)

// Compile-time check that LocalStore implements ObjectStore.
var _ ObjectStore = (*LocalStore)(nil)

// LocalStore implements ObjectStore on local disk. Signed URLs point at the
// HTTP server's /storage/ route and carry an HMAC over key and expiry when a
// secret is configured.
type LocalStore struct {
	root    string
	baseURL string
	secret  []byte
	now     func() time.Time
}

// NewLocalStore creates a LocalStore rooted at root.
// The directory is created if it doesn't exist.
func NewLocalStore(root, baseURL, secret string) (*LocalStore, error) {
	if root == "" {
		return nil, errors.New("local storage root is required")
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &LocalStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  []byte(secret),
		now:     time.Now,
	}, nil
}

// Root returns the storage directory.
func (s *LocalStore) Root() string {
	return s.root
}

// Path resolves key to its file path after validation.
func (s *LocalStore) Path(key string) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

// Upload writes data to a temp file and renames it into place, so readers
// never observe partial objects.
func (s *LocalStore) Upload(ctx context.Context, key string, data []byte, _ string) (string, error) {
	if err := checkContext(ctx); err != nil {
		return "", err
	}
	p, err := s.Path(key)
	if err != nil {
		return "", storageErr("upload", key, err)
	}

	if err := os.MkdirAll(filepath.Dir(p), 0750); err != nil {
		return "", storageErr("upload", key, err)
	}

	f, err := os.CreateTemp(filepath.Dir(p), ".upload_*")
	if err != nil {
		return "", storageErr("upload", key, err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", storageErr("upload", key, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", storageErr("upload", key, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return "", storageErr("upload", key, err)
	}
	return key, nil
}

// Download opens the object file.
func (s *LocalStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	p, err := s.Path(key)
	if err != nil {
		return nil, storageErr("download", key, err)
	}

	f, err := os.Open(p) // #nosec G304 - key is validated to stay inside root
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storageErr("download", key, ErrObjectNotFound)
		}
		return nil, storageErr("download", key, err)
	}
	return f, nil
}

// Delete removes the object file.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	p, err := s.Path(key)
	if err != nil {
		return storageErr("delete", key, err)
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storageErr("delete", key, err)
	}
	return nil
}

// Exists reports whether the object file exists.
func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	p, err := s.Path(key)
	if err != nil {
		return false, storageErr("stat", key, err)
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, storageErr("stat", key, err)
	}
	return info.Mode().IsRegular(), nil
}

// SignedURL returns <baseURL>/storage/<key>, with expires and signature
// query parameters when a secret is configured.
func (s *LocalStore) SignedURL(_ context.Context, key string, expiry time.Duration) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}

	u := s.baseURL + "/storage/" + escapeKey(cleaned)
	if len(s.secret) == 0 {
		return u, nil
	}

	expires := strconv.FormatInt(s.now().Add(expiry).Unix(), 10)
	q := url.Values{}
	q.Set("expires", expires)
	q.Set("signature", s.sign(cleaned, expires))
	return u + "?" + q.Encode(), nil
}

// Verify checks the expires and signature parameters of a signed URL.
// Without a secret every request is accepted.
func (s *LocalStore) Verify(key, expires, signature string) error {
	if len(s.secret) == 0 {
		return nil
	}
	cleaned, err := cleanKey(key)
	if err != nil {
		return ErrSignatureInvalid
	}
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrSignatureInvalid
	}
	want := s.sign(cleaned, expires)
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrSignatureInvalid
	}
	if s.now().Unix() > exp {
		return ErrSignatureExpired
	}
	return nil
}

func (s *LocalStore) sign(key, expires string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(key))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(expires))
	return hex.EncodeToString(mac.Sum(nil))
}

// escapeKey percent-encodes each path segment of key.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
