// Package fesl implements the FESL wire protocol used by the
// authentication and matchmaking backends of legacy EA titles.
// A FESL message is a binary frame with a fixed 12-byte header
// followed by newline-separated key=value records and a single
// 0x00 terminator byte:
//
//	[cmd:4 ascii][type|id:u32 BE][total_len:u32 BE][key=value\n ...][0x00]
//
// The top nibble of the type|id field carries the message type; the
// low 28 bits carry the message ID.
package fesl

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

const (
	// HeaderSize is the fixed size of the FESL message header.
	HeaderSize = 12

	// MaxMessageSize is the maximum total length accepted from a peer.
	// The declared length field is attacker controlled, so it is capped
	// before any allocation happens.
	MaxMessageSize = 1024 * 1024

	// CommandSize is the exact size of the command field.
	CommandSize = 4

	idMask = 0x0fffffff
)

var (
	ErrInvalidLength        = errors.New("fesl: declared length smaller than header")
	ErrMessageTooLarge      = errors.New("fesl: declared length exceeds maximum message size")
	ErrInvalidType          = errors.New("fesl: unrecognized message type nibble")
	ErrInvalidCommandLength = errors.New("fesl: command must be exactly 4 bytes")
	ErrExpectedDelimiter    = errors.New("fesl: expected delimiter")
	ErrExpectedUTF8         = errors.New("fesl: field is not valid UTF-8")
)

// MessageType identifies the role of a FESL message, stored in the top
// nibble of header byte 4. The set is closed: any other nibble is a
// decode error, never coerced to a default.
type MessageType uint8

const (
	TypeSingleClient MessageType = 0xc0
	TypeSingleServer MessageType = 0x80
	TypeMultiClient  MessageType = 0xf0
	TypeMultiServer  MessageType = 0xb0
)

// String returns a human-readable name for the message type.
func (t MessageType) String() string {
	switch t {
	case TypeSingleClient:
		return "single_client"
	case TypeSingleServer:
		return "single_server"
	case TypeMultiClient:
		return "multi_client"
	case TypeMultiServer:
		return "multi_server"
	default:
		return fmt.Sprintf("invalid(0x%02x)", uint8(t))
	}
}

// Message is an immutable framed FESL message. It owns its backing
// buffer exclusively; nothing mutates it after construction.
type Message struct {
	data []byte
}

// ReadMessage reads a single framed message from r.
// It reads exactly HeaderSize bytes, decodes the declared total length,
// validates it against [HeaderSize, MaxMessageSize], then reads the
// remaining body. Stream failures are returned wrapped; a stream that
// closes mid-message yields io.ErrUnexpectedEOF.
func ReadMessage(r io.Reader) (*Message, error) {
	return ReadMessageLimit(r, MaxMessageSize)
}

// ReadMessageLimit reads a single framed message from r with a caller
// supplied size cap. A max outside (0, MaxMessageSize] falls back to
// MaxMessageSize.
func ReadMessageLimit(r io.Reader, max int) (*Message, error) {
	if max <= 0 || max > MaxMessageSize {
		max = MaxMessageSize
	}

	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("fesl: failed to read message header: %w", err)
	}

	length := binary.BigEndian.Uint32(header[8:12])
	if length < HeaderSize {
		return nil, ErrInvalidLength
	}
	if length > uint32(max) {
		return nil, ErrMessageTooLarge
	}

	data := make([]byte, length)
	copy(data, header[:])
	if _, err := io.ReadFull(r, data[HeaderSize:]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("fesl: failed to read message body (%d bytes): %w", length-HeaderSize, err)
	}

	return &Message{data: data}, nil
}

// Command returns the 4-byte command field. The bytes are not validated
// at construction time; this accessor rejects non-UTF-8 content.
func (m *Message) Command() (string, error) {
	cmd := m.data[0:CommandSize]
	if !utf8.Valid(cmd) {
		return "", ErrExpectedUTF8
	}
	return string(cmd), nil
}

// Type decodes the message type from the top nibble of header byte 4.
func (m *Message) Type() (MessageType, error) {
	t := MessageType(m.data[4] & 0xf0)
	switch t {
	case TypeSingleClient, TypeSingleServer, TypeMultiClient, TypeMultiServer:
		return t, nil
	default:
		return 0, ErrInvalidType
	}
}

// ID returns the 28-bit message ID. The type nibble is masked off, so
// this never fails regardless of whether the type decodes validly.
func (m *Message) ID() uint32 {
	return binary.BigEndian.Uint32(m.data[4:8]) & idMask
}

// Len returns the total framed length of the message.
func (m *Message) Len() int {
	return len(m.data)
}

// Bytes returns the complete wire representation of the message.
// The returned slice aliases the message's buffer and must not be modified.
func (m *Message) Bytes() []byte {
	return m.data
}

// WriteTo writes the complete framed message to w.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(m.data)
	if err != nil {
		return int64(n), fmt.Errorf("fesl: failed to write message: %w", err)
	}
	return int64(n), nil
}

// Fields returns a scanner over the message body's key=value records.
// The scanner borrows the message's buffer and must not outlive it.
func (m *Message) Fields() *Fields {
	return &Fields{src: m.data[HeaderSize:]}
}
