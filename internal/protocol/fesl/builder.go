package fesl

import "encoding/binary"

type field struct {
	key, value string
}

// Builder accumulates key=value records and serializes them into an
// immutable Message. A builder is one-shot: Build spends it, and any
// later Add or Build panics. Keys and values are written verbatim;
// callers must not supply '=' in keys or '\n' in either, or the output
// will not parse back.
type Builder struct {
	cmd       string
	typeAndID uint32
	length    int
	fields    []field
	spent     bool
}

// NewBuilder starts a message with the given command, type and ID.
// The command must be exactly 4 bytes; the ID is truncated to 28 bits.
func NewBuilder(cmd string, t MessageType, id uint32) (*Builder, error) {
	if len(cmd) != CommandSize {
		return nil, ErrInvalidCommandLength
	}
	return &Builder{
		cmd:       cmd,
		typeAndID: uint32(t)<<24 | id&idMask,
		// Header plus the trailing 0x00 body terminator.
		length: HeaderSize + 1,
	}, nil
}

// Add appends a key=value record and accounts for its exact serialized
// length. It returns the builder for chaining.
func (b *Builder) Add(key, value string) *Builder {
	if b.spent {
		panic("fesl: Add called on spent Builder")
	}
	b.length += len(key) + 1 + len(value) + 1
	b.fields = append(b.fields, field{key: key, value: value})
	return b
}

// Build serializes the accumulated records into a Message and spends
// the builder.
func (b *Builder) Build() *Message {
	if b.spent {
		panic("fesl: Build called on spent Builder")
	}
	b.spent = true

	data := make([]byte, 0, b.length)
	data = append(data, b.cmd...)
	data = binary.BigEndian.AppendUint32(data, b.typeAndID)
	data = binary.BigEndian.AppendUint32(data, uint32(b.length))
	for _, f := range b.fields {
		data = append(data, f.key...)
		data = append(data, '=')
		data = append(data, f.value...)
		data = append(data, '\n')
	}
	data = append(data, 0x00)

	return &Message{data: data}
}
