// Package task implements the task-descriptor model shared by the
// splitter, executor and merger phases of a user binary: a TaskDef is an
// ordered, positional vector of arguments, each either an opaque JSON
// value (Meta), a path to an input blob (Blob), or a path to a file the
// subtask promises to produce (Output).
package task

import (
	"encoding/json"
	"path"
	"strings"
)

// Kind discriminates the variant held by an Arg.
type Kind int

const (
	// Meta holds an arbitrary JSON value, opaque to the coordination layer.
	Meta Kind = iota
	// Blob holds a POSIX-style relative path to an input file.
	Blob
	// Output holds a POSIX-style relative path to a file the subtask will
	// produce.
	Output
)

func (k Kind) String() string {
	switch k {
	case Meta:
		return "meta"
	case Blob:
		return "blob"
	case Output:
		return "output"
	default:
		return "unknown"
	}
}

// Arg is one positional argument of a TaskDef. Exactly one of Raw (for
// Meta) or Path (for Blob/Output) is meaningful, selected by Kind.
type Arg struct {
	Kind Kind
	Raw  json.RawMessage // populated when Kind == Meta
	Path string          // populated when Kind == Blob or Kind == Output, always forward-slash
}

// MetaArg wraps an arbitrary value as a Meta argument.
func MetaArg(v interface{}) (Arg, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Arg{}, err
	}
	return Arg{Kind: Meta, Raw: raw}, nil
}

// BlobArg constructs a Blob argument from an already-relative, forward-slash path.
func BlobArg(relPath string) Arg {
	return Arg{Kind: Blob, Path: toSlash(relPath)}
}

// OutputArg constructs an Output argument from an already-relative, forward-slash path.
func OutputArg(relPath string) Arg {
	return Arg{Kind: Output, Path: toSlash(relPath)}
}

func toSlash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

type wireArg struct {
	Meta   json.RawMessage `json:"meta,omitempty"`
	Blob   *string         `json:"blob,omitempty"`
	Output *string         `json:"output,omitempty"`
}

// MarshalJSON renders the Arg as one of {"meta":...}, {"blob":"..."}, {"output":"..."}.
func (a Arg) MarshalJSON() ([]byte, error) {
	var w wireArg
	switch a.Kind {
	case Meta:
		w.Meta = a.Raw
		if w.Meta == nil {
			w.Meta = json.RawMessage("null")
		}
	case Blob:
		p := a.Path
		w.Blob = &p
	case Output:
		p := a.Path
		w.Output = &p
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses one of {"meta":...}, {"blob":"..."}, {"output":"..."}.
func (a *Arg) UnmarshalJSON(data []byte) error {
	var w wireArg
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch {
	case w.Blob != nil:
		a.Kind = Blob
		a.Path = toSlash(*w.Blob)
	case w.Output != nil:
		a.Kind = Output
		a.Path = toSlash(*w.Output)
	default:
		a.Kind = Meta
		a.Raw = w.Meta
	}
	return nil
}

// Def is an ordered sequence of positional arguments. Order is meaningful:
// the user binary relies on argument position.
type Def []Arg

// Blobs returns the relative paths of every Blob argument, in order.
func (d Def) Blobs() []string {
	var out []string
	for _, a := range d {
		if a.Kind == Blob {
			out = append(out, a.Path)
		}
	}
	return out
}

// Outputs returns the relative paths of every Output argument, in order.
func (d Def) Outputs() []string {
	var out []string
	for _, a := range d {
		if a.Kind == Output {
			out = append(out, a.Path)
		}
	}
	return out
}

// Metas returns the raw JSON of every Meta argument, in order.
func (d Def) Metas() []json.RawMessage {
	var out []json.RawMessage
	for _, a := range d {
		if a.Kind == Meta {
			out = append(out, a.Raw)
		}
	}
	return out
}

// RebaseOutput strips fromBase from the front of every Output path that
// begins with it, then prepends toBase to every Output path, whether or
// not fromBase was present. Blob and Meta arguments are untouched.
func (d Def) RebaseOutput(fromBase, toBase string) Def {
	fromBase = toSlash(fromBase)
	toBase = toSlash(toBase)
	out := make(Def, len(d))
	for i, a := range d {
		if a.Kind == Output {
			rel := a.Path
			if strings.HasPrefix(rel, fromBase) {
				rel = rel[len(fromBase):]
			}
			a.Path = toBase + rel
		}
		out[i] = a
	}
	return out
}

// RebaseTo prepends, to every Blob and Output path, the relative path that
// walks from toPath up to a common ancestor and back down into fromBase.
// This keeps path references correct when a TaskDef is serialized into a
// directory other than the one its paths were originally relative to.
func (d Def) RebaseTo(fromBase, toPath string) Def {
	prefix := CalcRebase(fromBase, toPath)
	out := make(Def, len(d))
	for i, a := range d {
		if a.Kind == Blob || a.Kind == Output {
			a.Path = joinRel(prefix, a.Path)
		}
		out[i] = a
	}
	return out
}

func joinRel(prefix, p string) string {
	if prefix == "" || prefix == "." {
		return p
	}
	return prefix + "/" + p
}

// CalcRebase computes the relative, forward-slash path from toPath to
// fromPath: walk up from toPath until a common prefix with fromPath is
// found, then walk back down into fromPath. Both inputs are treated as
// forward-slash, slash-separated relative paths (POSIX-style); any
// backslashes are normalized first so the result is correct even when the
// inputs originated on Windows.
func CalcRebase(fromPath, toPath string) string {
	fromParts := splitPath(fromPath)
	toParts := splitPath(toPath)

	i := 0
	for i < len(fromParts) && i < len(toParts) && fromParts[i] == toParts[i] {
		i++
	}

	var segs []string
	for range toParts[i:] {
		segs = append(segs, "..")
	}
	segs = append(segs, fromParts[i:]...)

	if len(segs) == 0 {
		return "."
	}
	return path.Join(segs...)
}

func splitPath(p string) []string {
	p = toSlash(p)
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
