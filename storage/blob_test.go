package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receiptly/config"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"receipt.jpg", "receipt.jpg"},
		{"my receipt.pdf", "my-receipt.pdf"},
		{"../../etc/passwd", "etc-passwd"},
		{"a:b*c?.png", "a-b-c-.png"},
		{"", "file"},
		{"...", "file"},
		{"bad\x01name.txt", "badname.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.in))
		})
	}

	long := strings.Repeat("a", 150) + ".pdf"
	got := SanitizeFilename(long)
	assert.Len(t, got, 100)
	assert.True(t, strings.HasSuffix(got, ".pdf"), "extension is kept when truncating")
}

func TestBlobPath(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	a := BlobPath("user-1", "My Receipt.jpg", now)
	b := BlobPath("user-1", "My Receipt.jpg", now)

	assert.True(t, strings.HasPrefix(a, UserPrefix("user-1")+"/1700000000000-"), a)
	assert.True(t, strings.HasSuffix(a, "-My-Receipt.jpg"), a)
	assert.NotEqual(t, a, b, "paths are unique per upload")
	assert.Equal(t, 1, strings.Count(a, "/"))
}

func TestUserPrefix(t *testing.T) {
	for _, id := range []string{"u1", "auth0|42", "google-oauth2|1234", ".hidden", "a b:c", "../../etc"} {
		p := UserPrefix(id)
		assert.Len(t, p, 16, id)
		assert.Equal(t, p, SanitizeFilename(p), "prefix for %q must be path-safe", id)
		assert.Equal(t, p, UserPrefix(id), "prefix is stable")
	}
	assert.NotEqual(t, UserPrefix("a|b"), UserPrefix("a-b"))
}

func TestOwnsPath(t *testing.T) {
	own := UserPrefix("auth0|42")
	tests := []struct {
		name string
		key  string
		want bool
	}{
		{"own upload", own + "/1-abc-receipt.jpg", true},
		{"bare prefix", own + "/", false},
		{"raw user id", "auth0|42/1-abc-receipt.jpg", false},
		{"other user", UserPrefix("auth0|43") + "/1-abc-receipt.jpg", false},
		{"traversal", own + "/../" + UserPrefix("auth0|43") + "/x.jpg", false},
		{"unclean", own + "//x.jpg", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OwnsPath("auth0|42", tt.key))
		})
	}
}

func TestFSStore(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := NewFSStore(root)
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "u/1-abc-receipt.jpg", []byte("jpeg"), "image/jpeg"))

	data, err := store.Get(ctx, "u/1-abc-receipt.jpg")
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(data))

	info, err := os.Stat(filepath.Join(root, "u", "1-abc-receipt.jpg"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	ok, err := store.Exists(ctx, "u/1-abc-receipt.jpg")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(ctx, "u/missing.jpg")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Get(ctx, "u/missing.jpg")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, "../../escape.txt", []byte("x"), ""))
	assert.FileExists(t, filepath.Join(root, "escape.txt"), "dot-dot segments stay inside the root")

	assert.Error(t, store.Put(ctx, "", []byte("x"), ""))
}

func TestNewBlobStoreDefaultsToUploadDir(t *testing.T) {
	dataDir := t.TempDir()
	store, err := NewBlobStore(context.Background(), config.StorageConfig{Backend: config.BackendFS}, dataDir)
	require.NoError(t, err)
	require.IsType(t, &FSStore{}, store)
	assert.DirExists(t, filepath.Join(dataDir, "uploads"))

	_, err = NewBlobStore(context.Background(), config.StorageConfig{Backend: "gcs"}, dataDir)
	assert.Error(t, err)
}

// fakeS3 is a path-style object store good enough for PutObject, GetObject
// and HeadObject.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = body
		f.types[r.URL.Path] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		body, ok := f.objects[r.URL.Path]
		if !ok {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", f.types[r.URL.Path])
		if r.Method == http.MethodGet {
			w.Write(body)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3Store(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "credentials"))
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")

	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	ctx := context.Background()
	store, err := NewBlobStore(ctx, config.StorageConfig{
		Backend:         config.BackendS3,
		Bucket:          "receipts",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		Prefix:          "uploads",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		UsePathStyle:    true,
	}, t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "u/1-abc-receipt.pdf", []byte("%PDF-1.4"), "application/pdf"))
	assert.Contains(t, fake.objects, "/receipts/uploads/u/1-abc-receipt.pdf")
	assert.Equal(t, "application/pdf", fake.types["/receipts/uploads/u/1-abc-receipt.pdf"])

	data, err := store.Get(ctx, "u/1-abc-receipt.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	ok, err := store.Exists(ctx, "u/1-abc-receipt.pdf")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(ctx, "u/other.pdf")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Get(ctx, "u/other.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3StoreNeedsBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), config.StorageConfig{Backend: config.BackendS3})
	assert.Error(t, err)
}
