// Package image builds the deterministic, content-addressable subtask
// image archives consumed by the run coordinator and uploaded to the
// object store (pkg/store): a zip whose first member is a stored
// (uncompressed) manifest.json describing the binary's entry point and
// mount points, followed by the binary itself as a bzip2-compressed
// member. Member timestamps are derived from the binary's own mtime so
// two builds from the same input produce a bit-identical archive.
package image

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dsnet/compress/bzip2"
	"github.com/pkg/errors"
)

// methodBzip2 is the zip compression method id assigned to bzip2.
const methodBzip2 uint16 = 12

// EntryPoint names a binary reachable inside the image by a logical id.
type EntryPoint struct {
	ID       string `json:"id"`
	WasmPath string `json:"wasm-path"`
}

// Manifest is the stored, uncompressed first member of every image
// archive: it tells the runtime which binary to run and how the sandbox
// should be mounted around it.
type Manifest struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	EntryPoints []EntryPoint `json:"entry-points"`
	MountPoints []MountPoint `json:"mount-points"`
}

// Mode is the access mode a MountPoint grants the binary.
type Mode string

const (
	Ro Mode = "ro"
	Rw Mode = "rw"
	Wo Mode = "wo"
)

// MountPoint is one sandbox mount the image requires, keyed by the guest
// path it binds ("in"/"out") with the access mode the binary needs. It is
// wire-encoded as a single-key externally-tagged object, e.g. {"ro":"in"},
// matching the mode name to its path.
type MountPoint struct {
	Mode Mode
	Path string
}

// MarshalJSON renders the MountPoint as one of {"ro":"..."}, {"rw":"..."}, {"wo":"..."}.
func (m MountPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[Mode]string{m.Mode: m.Path})
}

// UnmarshalJSON parses one of {"ro":"..."}, {"rw":"..."}, {"wo":"..."}.
func (m *MountPoint) UnmarshalJSON(data []byte) error {
	var w map[Mode]string
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	for _, mode := range []Mode{Ro, Rw, Wo} {
		if path, ok := w[mode]; ok {
			m.Mode = mode
			m.Path = path
			return nil
		}
	}
	return fmt.Errorf("mount point must have one of %q, %q, %q", Ro, Rw, Wo)
}

// Build packs binaryPath into a zip archive: manifest.json stored
// uncompressed, then the binary bzip2-compressed under its own
// basename. id is the caller-supplied deployment identifier; an empty
// id defaults to "local/<basename>".
func Build(binaryPath, id string) ([]byte, error) {
	info, err := os.Stat(binaryPath)
	if err != nil {
		return nil, errors.Wrap(err, "stat binary")
	}
	name := filepath.Base(binaryPath)
	if id == "" {
		id = "local/" + name
	}

	manifest := Manifest{
		ID:   id,
		Name: name,
		EntryPoints: []EntryPoint{
			{ID: "main", WasmPath: name},
		},
		MountPoints: []MountPoint{
			{Mode: Ro, Path: "in"},
			{Mode: Rw, Path: "out"},
		},
	}
	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		return nil, errors.Wrap(err, "marshal manifest")
	}

	binary, err := os.ReadFile(binaryPath)
	if err != nil {
		return nil, errors.Wrap(err, "read binary")
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(methodBzip2, func(w io.Writer) (io.WriteCloser, error) {
		return bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.BestCompression})
	})

	mtime := info.ModTime()
	mw, err := zw.CreateHeader(&zip.FileHeader{
		Name:     "manifest.json",
		Method:   zip.Store,
		Modified: mtime,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create manifest member")
	}
	if _, err := mw.Write(manifestBytes); err != nil {
		return nil, errors.Wrap(err, "write manifest member")
	}

	bw, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   methodBzip2,
		Modified: mtime,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create binary member")
	}
	if _, err := bw.Write(binary); err != nil {
		return nil, errors.Wrap(err, "write binary member")
	}

	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "close archive")
	}
	return buf.Bytes(), nil
}
