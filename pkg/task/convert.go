package task

import (
	"encoding/json"
	"path/filepath"
	"strings"
)

// ToMetaArg embeds value's JSON representation as a Meta argument.
func ToMetaArg(value interface{}) (Arg, error) {
	return MetaArg(value)
}

// ToBlobArg canonicalizes absPath and expresses it relative to baseDir,
// coercing path separators to forward slash. Returns InvalidPathError if
// absPath does not live under baseDir.
func ToBlobArg(absPath, baseDir string) (Arg, error) {
	rel, err := relativeTo(absPath, baseDir)
	if err != nil {
		return Arg{}, err
	}
	return BlobArg(rel), nil
}

// ToOutputArg is ToBlobArg for Output arguments.
func ToOutputArg(absPath, baseDir string) (Arg, error) {
	rel, err := relativeTo(absPath, baseDir)
	if err != nil {
		return Arg{}, err
	}
	return OutputArg(rel), nil
}

func relativeTo(absPath, baseDir string) (string, error) {
	absPath = filepath.Clean(absPath)
	baseDir = filepath.Clean(baseDir)
	rel, err := filepath.Rel(baseDir, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", InvalidPathError{Path: absPath, Base: baseDir}
	}
	return toSlash(rel), nil
}

// FromMetaArg deserializes a Meta argument into out (a pointer).
func FromMetaArg(a Arg, out interface{}) error {
	if a.Kind != Meta {
		return MetaExpectedError{}
	}
	return json.Unmarshal(a.Raw, out)
}

// FromBlobArg joins a Blob argument's relative path with baseDir, returning
// an OS-native absolute (or base-relative) path.
func FromBlobArg(a Arg, baseDir string) (string, error) {
	if a.Kind != Blob {
		return "", BlobExpectedError{}
	}
	return filepath.Join(baseDir, filepath.FromSlash(a.Path)), nil
}

// FromOutputArg is FromBlobArg for Output arguments.
func FromOutputArg(a Arg, baseDir string) (string, error) {
	if a.Kind != Output {
		return "", OutputExpectedError{}
	}
	return filepath.Join(baseDir, filepath.FromSlash(a.Path)), nil
}
