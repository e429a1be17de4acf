package image

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/dsnet/compress/bzip2"
	"github.com/pkg/errors"
)

// errReader surfaces a decompressor construction failure through the
// io.ReadCloser contract zip decompressors must satisfy.
type errReader struct{ err error }

func (r *errReader) Read([]byte) (int, error) { return 0, r.err }
func (r *errReader) Close() error             { return nil }

func bzip2Decompressor(r io.Reader) io.ReadCloser {
	br, err := bzip2.NewReader(r, nil)
	if err != nil {
		return &errReader{err: err}
	}
	return br
}

// Open reads an image archive and returns its Manifest and the
// decompressed binary bytes, validating that the archive has exactly
// the two members Build produces.
func Open(archive []byte) (Manifest, []byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return Manifest{}, nil, errors.Wrap(err, "opening archive")
	}
	zr.RegisterDecompressor(methodBzip2, bzip2Decompressor)
	if len(zr.File) != 2 {
		return Manifest{}, nil, errors.Errorf("archive has %d members, want 2", len(zr.File))
	}

	var manifest Manifest
	var haveManifest bool
	var binary []byte

	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return Manifest{}, nil, errors.Wrapf(err, "opening member %s", f.Name)
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return Manifest{}, nil, errors.Wrapf(err, "reading member %s", f.Name)
		}
		switch f.Name {
		case "manifest.json":
			if err := json.Unmarshal(raw, &manifest); err != nil {
				return Manifest{}, nil, errors.Wrap(err, "decoding manifest")
			}
			haveManifest = true
		default:
			binary = raw
		}
	}
	if !haveManifest {
		return Manifest{}, nil, errors.New("archive missing manifest.json")
	}
	if binary == nil {
		return Manifest{}, nil, errors.New("archive missing binary member")
	}
	return manifest, binary, nil
}

// ExtractBinary writes the image's decompressed binary to destPath with
// executable permissions.
func ExtractBinary(archive []byte, destPath string) error {
	_, binary, err := Open(archive)
	if err != nil {
		return err
	}
	return os.WriteFile(destPath, binary, 0o755)
}
