package fesl

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildRaw assembles a raw frame without going through Builder, so the
// length field can deliberately lie.
func buildRaw(cmd string, typeAndID uint32, declaredLen uint32, body []byte) []byte {
	buf := make([]byte, 0, HeaderSize+len(body))
	buf = append(buf, cmd...)
	buf = binary.BigEndian.AppendUint32(buf, typeAndID)
	buf = binary.BigEndian.AppendUint32(buf, declaredLen)
	buf = append(buf, body...)
	return buf
}

func TestReadMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{
			name:  "valid message with one record",
			input: buildRaw("fsys", 0xc0000001, 23, []byte("TXN=Hello\n\x00")),
		},
		{
			name:  "valid empty-body message",
			input: buildRaw("acct", 0x80000000, 13, []byte{0x00}),
		},
		{
			name:    "declared length below header size",
			input:   buildRaw("fsys", 0xc0000001, 11, nil),
			wantErr: ErrInvalidLength,
		},
		{
			name:    "declared length zero",
			input:   buildRaw("fsys", 0xc0000001, 0, nil),
			wantErr: ErrInvalidLength,
		},
		{
			name:    "declared length above maximum",
			input:   buildRaw("fsys", 0xc0000001, MaxMessageSize+1, nil),
			wantErr: ErrMessageTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ReadMessage(bytes.NewReader(tt.input))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.input, msg.Bytes())
			assert.Equal(t, len(tt.input), msg.Len())
		})
	}
}

func TestReadMessageLimit(t *testing.T) {
	raw := buildRaw("fsys", 0xc0000001, 23, []byte("TXN=Hello\n\x00"))

	t.Run("custom cap rejects oversized frame", func(t *testing.T) {
		_, err := ReadMessageLimit(bytes.NewReader(raw), 16)
		assert.ErrorIs(t, err, ErrMessageTooLarge)
	})

	t.Run("custom cap admits frame within limit", func(t *testing.T) {
		msg, err := ReadMessageLimit(bytes.NewReader(raw), 23)
		require.NoError(t, err)
		assert.Equal(t, 23, msg.Len())
	})

	t.Run("non-positive cap falls back to default", func(t *testing.T) {
		msg, err := ReadMessageLimit(bytes.NewReader(raw), 0)
		require.NoError(t, err)
		assert.Equal(t, 23, msg.Len())
	})
}

func TestReadMessageShortStream(t *testing.T) {
	t.Run("empty stream", func(t *testing.T) {
		_, err := ReadMessage(bytes.NewReader(nil))
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("truncated header", func(t *testing.T) {
		_, err := ReadMessage(bytes.NewReader([]byte("fsys\xc0")))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("truncated body", func(t *testing.T) {
		raw := buildRaw("fsys", 0xc0000001, 23, []byte("TXN=H"))
		_, err := ReadMessage(bytes.NewReader(raw))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})
}

func TestMessageAccessors(t *testing.T) {
	t.Run("command", func(t *testing.T) {
		msg, err := ReadMessage(bytes.NewReader(buildRaw("fsys", 0xc0000001, 13, []byte{0x00})))
		require.NoError(t, err)

		cmd, err := msg.Command()
		require.NoError(t, err)
		assert.Equal(t, "fsys", cmd)
	})

	t.Run("command rejects invalid UTF-8", func(t *testing.T) {
		msg, err := ReadMessage(bytes.NewReader(buildRaw("f\xffys", 0xc0000001, 13, []byte{0x00})))
		require.NoError(t, err)

		_, err = msg.Command()
		assert.ErrorIs(t, err, ErrExpectedUTF8)
	})

	t.Run("type decodes the four known nibbles", func(t *testing.T) {
		for _, want := range []MessageType{TypeSingleClient, TypeSingleServer, TypeMultiClient, TypeMultiServer} {
			raw := buildRaw("fsys", uint32(want)<<24|42, 13, []byte{0x00})
			msg, err := ReadMessage(bytes.NewReader(raw))
			require.NoError(t, err)

			got, err := msg.Type()
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	})

	t.Run("type rejects unknown nibble", func(t *testing.T) {
		msg, err := ReadMessage(bytes.NewReader(buildRaw("fsys", 0x10000001, 13, []byte{0x00})))
		require.NoError(t, err)

		_, err = msg.Type()
		assert.ErrorIs(t, err, ErrInvalidType)
	})

	t.Run("id masks the type nibble even when invalid", func(t *testing.T) {
		// Top byte 0xFF is not a valid type, but the ID must still decode.
		msg, err := ReadMessage(bytes.NewReader(buildRaw("fsys", 0xffffffff, 13, []byte{0x00})))
		require.NoError(t, err)

		assert.Equal(t, uint32(0x0fffffff), msg.ID())
		assert.Less(t, msg.ID(), uint32(1)<<28)
	})
}

func TestBuilderWireVector(t *testing.T) {
	// fsys/SingleClient/1 with TXN=Hello must serialize to a 23-byte
	// frame: 12-byte header, "TXN=Hello\n", 0x00.
	b, err := NewBuilder("fsys", TypeSingleClient, 1)
	require.NoError(t, err)
	msg := b.Add("TXN", "Hello").Build()

	want := append([]byte("fsys\xc0\x00\x00\x01\x00\x00\x00\x17TXN=Hello\n"), 0x00)
	assert.Equal(t, want, msg.Bytes())
	assert.Equal(t, 23, msg.Len())
}

func TestBuilderRejectsBadCommandLength(t *testing.T) {
	for _, cmd := range []string{"", "fsy", "fsyss"} {
		_, err := NewBuilder(cmd, TypeSingleClient, 1)
		assert.ErrorIs(t, err, ErrInvalidCommandLength, "command %q", cmd)
	}
}

func TestBuilderTruncatesID(t *testing.T) {
	b, err := NewBuilder("fsys", TypeSingleServer, 0xffffffff)
	require.NoError(t, err)
	msg := b.Build()

	assert.Equal(t, uint32(0x0fffffff), msg.ID())
	typ, err := msg.Type()
	require.NoError(t, err)
	assert.Equal(t, TypeSingleServer, typ)
}

func TestBuilderIsSpentAfterBuild(t *testing.T) {
	b, err := NewBuilder("fsys", TypeSingleClient, 1)
	require.NoError(t, err)
	b.Build()

	assert.Panics(t, func() { b.Add("TXN", "Hello") })
	assert.Panics(t, func() { b.Build() })
}

func TestMessageWriteTo(t *testing.T) {
	b, err := NewBuilder("rank", TypeMultiServer, 7)
	require.NoError(t, err)
	msg := b.Add("stat", "ot").Build()

	var buf bytes.Buffer
	n, err := msg.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(msg.Len()), n)
	assert.Equal(t, msg.Bytes(), buf.Bytes())
}

func TestRoundTrip(t *testing.T) {
	b, err := NewBuilder("acct", TypeSingleClient, 0x0abcdef)
	require.NoError(t, err)
	msg := b.
		Add("TXN", "NuLogin").
		Add("returnEncryptedInfo", "0").
		Add("nuid", "player@example.com").
		Add("password", "hunter2").
		Build()

	parsed, err := ReadMessage(bytes.NewReader(msg.Bytes()))
	require.NoError(t, err)

	cmd, err := parsed.Command()
	require.NoError(t, err)
	assert.Equal(t, "acct", cmd)

	typ, err := parsed.Type()
	require.NoError(t, err)
	assert.Equal(t, TypeSingleClient, typ)
	assert.Equal(t, uint32(0x0abcdef), parsed.ID())

	var got [][2]string
	fields := parsed.Fields()
	for fields.Next() {
		got = append(got, [2]string{fields.Key(), fields.Value()})
	}
	require.NoError(t, fields.Err())
	assert.Equal(t, [][2]string{
		{"TXN", "NuLogin"},
		{"returnEncryptedInfo", "0"},
		{"nuid", "player@example.com"},
		{"password", "hunter2"},
	}, got)
}
