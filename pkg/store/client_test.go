package store_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golemfactory/gwasm-runner/pkg/store"
)

func newTestServer(t *testing.T, status int) (*httptest.Server, *[]byte) {
	t.Helper()
	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		b, _ := io.ReadAll(r.Body)
		received = b
		w.WriteHeader(status)
	}))
	return srv, &received
}

func TestUploadBytesReturnsCanonicalURL(t *testing.T) {
	srv, received := newTestServer(t, http.StatusOK)
	defer srv.Close()

	c := store.New(srv.URL)
	c.Quiet = true
	url, err := c.UploadBytes(context.Background(), "blob", []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(url, srv.URL+"/blob-") {
		t.Fatalf("unexpected url: %s", url)
	}
	if string(*received) != "hello" {
		t.Fatalf("expected server to receive uploaded bytes, got %q", *received)
	}
}

func TestUploadNon2xxIsStatusError(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusInternalServerError)
	defer srv.Close()

	c := store.New(srv.URL)
	c.Quiet = true
	_, err := c.UploadBytes(context.Background(), "blob", []byte("x"))
	if _, ok := err.(store.StatusError); !ok {
		t.Fatalf("expected StatusError, got %v (%T)", err, err)
	}
}

func TestUploadTransportFailureIsWrapped(t *testing.T) {
	c := store.New("http://127.0.0.1:1")
	c.Quiet = true
	_, err := c.UploadBytes(context.Background(), "blob", []byte("x"))
	if _, ok := err.(store.TransportError); !ok {
		t.Fatalf("expected TransportError, got %v (%T)", err, err)
	}
}

func TestUploadFileReadsFromDisk(t *testing.T) {
	srv, received := newTestServer(t, http.StatusOK)
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	if err := os.WriteFile(path, []byte("file contents"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := store.New(srv.URL)
	c.Quiet = true
	if _, err := c.UploadFile(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	if string(*received) != "file contents" {
		t.Fatalf("expected file contents uploaded, got %q", *received)
	}
}

func TestDownloadSlotPairsUploadAndDownloadURLs(t *testing.T) {
	c := store.New("https://store.example")
	up, down := c.DownloadSlot()
	if !strings.HasPrefix(up, "https://store.example/upload/out-") {
		t.Fatalf("unexpected upload url: %s", up)
	}
	if !strings.HasPrefix(down, "https://store.example/out-") {
		t.Fatalf("unexpected download url: %s", down)
	}
	wantSuffix := strings.TrimPrefix(up, "https://store.example/upload/")
	if !strings.HasSuffix(down, wantSuffix) {
		t.Fatalf("expected upload/download keys to match: %s vs %s", up, down)
	}
}

func TestDownloadReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("downloaded content"))
	}))
	defer srv.Close()

	c := store.New(srv.URL)
	data, err := c.Download(context.Background(), srv.URL+"/blob-1")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "downloaded content" {
		t.Fatalf("unexpected download body: %q", data)
	}
}

func TestPushImageURNIncludesHashAndDownloadURL(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK)
	defer srv.Close()

	c := store.New(srv.URL)
	c.Quiet = true
	urn, err := c.PushImage(context.Background(), []byte("image bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(urn, "hash:sha3:") {
		t.Fatalf("unexpected urn prefix: %s", urn)
	}
	parts := strings.SplitN(urn, ":", 4)
	if len(parts) != 4 {
		t.Fatalf("expected 4 urn segments, got %d: %v", len(parts), parts)
	}
	if len(parts[2]) != 56 { // SHA3-224 hex digest length
		t.Fatalf("expected 56 hex chars for sha3-224, got %d", len(parts[2]))
	}
	if !strings.HasPrefix(parts[3], srv.URL) {
		t.Fatalf("expected download url embedded, got %s", parts[3])
	}
}
