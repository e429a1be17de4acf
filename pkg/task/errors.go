package task

import "fmt"

// InvalidPathError indicates a Blob or Output path could not be expressed
// relative to the base directory it is supposed to live under.
type InvalidPathError struct {
	Path string
	Base string
}

func (e InvalidPathError) Error() string {
	return fmt.Sprintf("path %q is not under base %q", e.Path, e.Base)
}

// MetaExpectedError indicates a TaskDef decode found a Blob or Output arm
// where a Meta arm was expected.
type MetaExpectedError struct {
	Index int
}

func (e MetaExpectedError) Error() string {
	return fmt.Sprintf("arg %d: expected a meta value", e.Index)
}

// BlobExpectedError indicates a decode found the wrong variant where a Blob
// was expected.
type BlobExpectedError struct {
	Index int
}

func (e BlobExpectedError) Error() string {
	return fmt.Sprintf("arg %d: expected a blob path", e.Index)
}

// OutputExpectedError indicates a decode found the wrong variant where an
// Output was expected.
type OutputExpectedError struct {
	Index int
}

func (e OutputExpectedError) Error() string {
	return fmt.Sprintf("arg %d: expected an output path", e.Index)
}
