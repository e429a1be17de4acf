package task

// Builder assembles a Def positionally. It is the narrow mutation surface
// exposed to splitter callbacks through a split context: callers append
// arguments in the order the user binary expects them, without being able
// to inspect or reorder what has already been added.
type Builder struct {
	args Def
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddMeta appends value as the next positional Meta argument.
func (b *Builder) AddMeta(value interface{}) error {
	a, err := MetaArg(value)
	if err != nil {
		return err
	}
	b.args = append(b.args, a)
	return nil
}

// AddBlob appends relPath as the next positional Blob argument.
func (b *Builder) AddBlob(relPath string) {
	b.args = append(b.args, BlobArg(relPath))
}

// AddOutput appends relPath as the next positional Output argument.
func (b *Builder) AddOutput(relPath string) {
	b.args = append(b.args, OutputArg(relPath))
}

// Build returns the assembled Def.
func (b *Builder) Build() Def {
	return b.args
}
