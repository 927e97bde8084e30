// Package gamespy implements the GameSpy wire protocol used for server
// heartbeats, status queries and browser listings. A GameSpy packet is
// a run of backslash-delimited tokens interpreted pairwise as key and
// value, closed by the literal terminator:
//
//	\key\value\key\value...\final\
//
// Packets are text framed: the only way to find a packet boundary in a
// stream is to scan for the terminator, which Splitter does.
package gamespy

import (
	"errors"
	"fmt"
	"io"
)

// terminator closes every GameSpy packet on the wire.
const terminator = `\final\`

const (
	// TerminatorSize is the length of the packet terminator.
	TerminatorSize = len(terminator)

	// MaxPacketSize bounds how many bytes Splitter will accumulate for a
	// single packet before giving up on the peer.
	MaxPacketSize = 64 * 1024
)

var (
	ErrExpectedDelimiter = errors.New("gamespy: expected backslash delimiter")
	ErrExpectedUTF8      = errors.New("gamespy: field is not valid UTF-8")
	ErrPacketTooLarge    = errors.New("gamespy: packet exceeds maximum size")
)

// Packet is an immutable framed GameSpy packet, terminator included.
// It owns its backing buffer exclusively.
type Packet struct {
	data []byte
}

// Len returns the total framed length of the packet.
func (p *Packet) Len() int {
	return len(p.data)
}

// Bytes returns the complete wire representation of the packet,
// including the trailing terminator. The returned slice aliases the
// packet's buffer and must not be modified.
func (p *Packet) Bytes() []byte {
	return p.data
}

// WriteTo writes the complete framed packet to w.
func (p *Packet) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(p.data)
	if err != nil {
		return int64(n), fmt.Errorf("gamespy: failed to write packet: %w", err)
	}
	return int64(n), nil
}

// Fields returns a scanner over the packet's key/value tokens. The
// scanner borrows the packet's buffer and must not outlive it.
func (p *Packet) Fields() *Fields {
	return &Fields{src: p.data[:len(p.data)-TerminatorSize]}
}
