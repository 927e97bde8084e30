package gamespy

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// packetFromRaw builds a Packet from raw wire bytes via the splitter,
// the same path connection traffic takes.
func packetFromRaw(t *testing.T, raw []byte) *Packet {
	t.Helper()
	pkt, err := NewSplitter(bytes.NewReader(raw)).Next()
	require.NoError(t, err)
	require.Equal(t, raw, pkt.Bytes())
	return pkt
}

func TestBuilderWireVector(t *testing.T) {
	// A single gamename pair must serialize to the canonical 27-byte form.
	pkt := NewBuilder().Add("gamename", "bfield1942").Build()

	assert.Equal(t, []byte(`\gamename\bfield1942\final\`), pkt.Bytes())
	assert.Equal(t, 27, pkt.Len())
}

func TestBuilderEmptyPacket(t *testing.T) {
	pkt := NewBuilder().Build()

	assert.Equal(t, []byte(`\final\`), pkt.Bytes())
	fields := pkt.Fields()
	assert.False(t, fields.Next())
	assert.NoError(t, fields.Err())
}

func TestBuilderIsSpentAfterBuild(t *testing.T) {
	b := NewBuilder()
	b.Build()

	assert.Panics(t, func() { b.Add("gamename", "bfield1942") })
	assert.Panics(t, func() { b.Build() })
}

func TestFieldsScansPairsInOrder(t *testing.T) {
	pkt := packetFromRaw(t, []byte(`\gamename\bfield1942\location\0\validate\abc123\final\`))

	var got [][2]string
	fields := pkt.Fields()
	for fields.Next() {
		got = append(got, [2]string{fields.Key(), fields.Value()})
	}
	require.NoError(t, fields.Err())
	assert.Equal(t, [][2]string{
		{"gamename", "bfield1942"},
		{"location", "0"},
		{"validate", "abc123"},
	}, got)
}

func TestFieldsLastValueWithoutTrailingDelimiter(t *testing.T) {
	// The final value may run to the end of the body undelimited.
	pkt := packetFromRaw(t, []byte(`\echo\hello\final\`))

	fields := pkt.Fields()
	require.True(t, fields.Next())
	assert.Equal(t, "echo", fields.Key())
	assert.Equal(t, "hello", fields.Value())
	assert.False(t, fields.Next())
	assert.NoError(t, fields.Err())
}

func TestFieldsEmptyValues(t *testing.T) {
	pkt := packetFromRaw(t, []byte(`\heartbeat\\statechanged\1\final\`))

	fields := pkt.Fields()
	require.True(t, fields.Next())
	assert.Equal(t, "heartbeat", fields.Key())
	assert.Equal(t, "", fields.Value())

	require.True(t, fields.Next())
	assert.Equal(t, "statechanged", fields.Key())
	assert.Equal(t, "1", fields.Value())

	assert.False(t, fields.Next())
	assert.NoError(t, fields.Err())
}

func TestFieldsErrors(t *testing.T) {
	t.Run("body not starting with backslash", func(t *testing.T) {
		pkt := packetFromRaw(t, []byte(`junk\final\`))
		fields := pkt.Fields()
		assert.False(t, fields.Next())
		assert.ErrorIs(t, fields.Err(), ErrExpectedDelimiter)
	})

	t.Run("key token not valid UTF-8", func(t *testing.T) {
		pkt := packetFromRaw(t, append([]byte("\\ga\xffme\\x"), []byte(`\final\`)...))
		fields := pkt.Fields()
		assert.False(t, fields.Next())
		assert.ErrorIs(t, fields.Err(), ErrExpectedUTF8)
	})

	t.Run("dangling key with no value token", func(t *testing.T) {
		// The key takes the rest of the body, leaving nothing for the value.
		pkt := packetFromRaw(t, []byte(`\orphankey\final\`))
		fields := pkt.Fields()
		assert.False(t, fields.Next())
		assert.ErrorIs(t, fields.Err(), ErrExpectedDelimiter)
	})
}

func TestFieldsErrorPoisonsScan(t *testing.T) {
	pkt := packetFromRaw(t, append([]byte("\\ok\\1\\b\xfed\\x"), []byte(`\final\`)...))

	fields := pkt.Fields()
	require.True(t, fields.Next())
	assert.Equal(t, "ok", fields.Key())
	assert.Equal(t, "1", fields.Value())

	assert.False(t, fields.Next())
	assert.ErrorIs(t, fields.Err(), ErrExpectedUTF8)

	assert.False(t, fields.Next())
	assert.ErrorIs(t, fields.Err(), ErrExpectedUTF8)
}

func TestPacketWriteTo(t *testing.T) {
	pkt := NewBuilder().Add("final", "0").Build()

	var buf bytes.Buffer
	n, err := pkt.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(pkt.Len()), n)
	assert.Equal(t, pkt.Bytes(), buf.Bytes())
}

func TestRoundTrip(t *testing.T) {
	pairs := [][2]string{
		{"gamename", "bfield1942"},
		{"gamever", "v1.61"},
		{"hostname", "Frostbay Test Server"},
		{"hostport", "14567"},
		{"mapname", "berlin"},
		{"numplayers", "12"},
		{"maxplayers", "32"},
	}

	b := NewBuilder()
	for _, p := range pairs {
		b.Add(p[0], p[1])
	}
	pkt := b.Build()

	var got [][2]string
	fields := pkt.Fields()
	for fields.Next() {
		got = append(got, [2]string{fields.Key(), fields.Value()})
	}
	require.NoError(t, fields.Err())
	assert.Equal(t, pairs, got)
}
