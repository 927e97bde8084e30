package gamespy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// Splitter reassembles discrete GameSpy packets out of an unbounded
// byte stream by scanning for the packet terminator. It keeps a rolling
// match rank against the terminator so the terminator may straddle
// arbitrary read boundaries.
//
// The rank update is deliberately not a full KMP failure function: on a
// mismatch the rank falls back to 1 if the byte equals the terminator's
// first byte and to 0 otherwise. That is exact for `\final\`, whose
// only self-overlap is its first byte, and the simplification is part
// of the observable framing behavior; do not generalize it.
//
// A Splitter owns its reader for the lifetime of the connection and is
// not safe for concurrent use; run one Splitter per connection.
type Splitter struct {
	r   *bufio.Reader
	max int
}

// NewSplitter wraps r for packet reassembly.
func NewSplitter(r io.Reader) *Splitter {
	return &Splitter{r: bufio.NewReader(r), max: MaxPacketSize}
}

// SetMaxPacketSize overrides the per-packet accumulation cap.
func (s *Splitter) SetMaxPacketSize(n int) {
	s.max = n
}

// Next blocks until a complete packet, terminator included, has been
// read, and returns it. Bytes past the terminator stay buffered for the
// next call. It returns io.EOF when the stream ends before a terminator
// is matched, whether or not bytes had accumulated: a truncated trailing
// packet is dropped, never emitted. Any other read failure is returned
// wrapped.
func (s *Splitter) Next() (*Packet, error) {
	msg := make([]byte, 0, 256)
	rank := 0

	for {
		b, err := s.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("gamespy: stream read failed: %w", err)
		}

		msg = append(msg, b)
		if len(msg) > s.max {
			return nil, ErrPacketTooLarge
		}

		switch {
		case b == terminator[rank]:
			rank++
			if rank == TerminatorSize {
				return &Packet{data: msg}, nil
			}
		case b == terminator[0]:
			rank = 1
		default:
			rank = 0
		}
	}
}
