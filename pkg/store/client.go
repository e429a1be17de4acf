// Package store implements the content-addressed object store client
// consumed by the run coordinator (pkg/coordinator) to publish subtask
// images, blobs and descriptors, and to hand remote workers a location
// to upload their results to.
package store

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	progress "github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/sha3"
)

// TransportError wraps a failure to reach the store at all (DNS,
// connection refused, context cancellation).
type TransportError struct {
	URL string
	Err error
}

func (e TransportError) Error() string {
	return fmt.Sprintf("store transport failure for %s: %v", e.URL, e.Err)
}

func (e TransportError) Unwrap() error { return e.Err }

// StatusError wraps a non-2xx response from the store.
type StatusError struct {
	URL    string
	Status int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("store returned %d for %s", e.Status, e.URL)
}

// Client talks to a single content-addressed object store instance.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Quiet suppresses the upload progress bar (e.g. non-interactive runs).
	Quiet bool

	log *logrus.Entry
}

// New returns a Client bound to baseURL (no trailing slash expected).
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    http.DefaultClient,
		log:     logrus.WithField("component", "store"),
	}
}

// UploadBytes PUTs data to <base>/upload/<prefix>-<uuid> and returns the
// canonical GET URL <base>/<prefix>-<uuid>.
func (c *Client) UploadBytes(ctx context.Context, prefix string, data []byte) (string, error) {
	key := fmt.Sprintf("%s-%s", prefix, uuid.New().String())
	uploadURL := fmt.Sprintf("%s/upload/%s", c.BaseURL, key)

	if err := c.put(ctx, uploadURL, bytes.NewReader(data), int64(len(data))); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s", c.BaseURL, key), nil
}

// UploadFile is UploadBytes reading its content from path, prefixed "blob".
func (c *Client) UploadFile(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "reading %s for upload", path)
	}
	return c.UploadBytes(ctx, "blob", data)
}

// UploadJSON is UploadBytes over the JSON encoding of v, prefixed "json".
func (c *Client) UploadJSON(ctx context.Context, v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "marshaling value for upload")
	}
	return c.UploadBytes(ctx, "json", data)
}

// DownloadSlot allocates a fresh "out-<uuid>" key and returns the paired
// (uploadURL, downloadURL) so a remote worker can PUT its result and the
// coordinator can later GET it back.
func (c *Client) DownloadSlot() (uploadURL, downloadURL string) {
	key := "out-" + uuid.New().String()
	return fmt.Sprintf("%s/upload/%s", c.BaseURL, key), fmt.Sprintf("%s/%s", c.BaseURL, key)
}

// PushImage PUTs an image archive under a key derived from its SHA3-224
// hash and returns a verifiable URN of the form
// "hash:sha3:<full_hex>:<download_url>".
func (c *Client) PushImage(ctx context.Context, image []byte) (string, error) {
	sum := sha3.Sum224(image)
	full := hex.EncodeToString(sum[:])
	key := "image-" + full[:8]
	uploadURL := fmt.Sprintf("%s/upload/%s", c.BaseURL, key)

	if err := c.put(ctx, uploadURL, bytes.NewReader(image), int64(len(image))); err != nil {
		return "", err
	}
	downloadURL := fmt.Sprintf("%s/%s", c.BaseURL, key)
	return fmt.Sprintf("hash:sha3:%s:%s", full, downloadURL), nil
}

// Download GETs url and returns its body, for pulling back subtask
// results staged at a download slot's mirror URL.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building download request")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, StatusError{URL: url, Status: resp.StatusCode}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading download body")
	}
	return data, nil
}

func (c *Client) put(ctx context.Context, url string, body io.Reader, size int64) error {
	reader := body
	var bar *progress.ProgressBar
	if !c.Quiet && size > 0 {
		bar = progress.DefaultBytes(size, "uploading")
		reader = io.TeeReader(body, bar)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, reader)
	if err != nil {
		return errors.Wrap(err, "building upload request")
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Length", fmt.Sprintf("%d", size))

	resp, err := c.HTTP.Do(req)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return StatusError{URL: url, Status: resp.StatusCode}
	}
	c.log.WithField("url", url).Debug("upload complete")
	return nil
}
