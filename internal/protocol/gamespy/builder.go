package gamespy

// Builder accumulates key/value pairs and serializes them into an
// immutable Packet ending in the wire terminator. A builder is
// one-shot: Build spends it, and any later Add or Build panics.
// Keys and values are written verbatim; callers must not supply
// backslashes, or the output will not parse back.
type Builder struct {
	length int
	tokens []string
	spent  bool
}

// NewBuilder starts an empty packet.
func NewBuilder() *Builder {
	return &Builder{length: TerminatorSize}
}

// Add appends a key/value pair and accounts for its exact serialized
// length. It returns the builder for chaining.
func (b *Builder) Add(key, value string) *Builder {
	if b.spent {
		panic("gamespy: Add called on spent Builder")
	}
	b.length += 1 + len(key) + 1 + len(value)
	b.tokens = append(b.tokens, key, value)
	return b
}

// Build serializes the accumulated pairs into a Packet and spends the
// builder.
func (b *Builder) Build() *Packet {
	if b.spent {
		panic("gamespy: Build called on spent Builder")
	}
	b.spent = true

	data := make([]byte, 0, b.length)
	for _, tok := range b.tokens {
		data = append(data, '\\')
		data = append(data, tok...)
	}
	data = append(data, terminator...)

	return &Packet{data: data}
}
