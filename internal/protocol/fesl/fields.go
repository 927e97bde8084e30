package fesl

import (
	"bytes"
	"unicode/utf8"
)

// Fields scans the body of a FESL message, yielding key=value records
// in wire order. It follows the bufio.Scanner access pattern:
//
//	fields := msg.Fields()
//	for fields.Next() {
//		handle(fields.Key(), fields.Value())
//	}
//	if err := fields.Err(); err != nil { ... }
//
// The scan is greedy left to right: the first '=' after the start of a
// record splits key from value, and only '\n' ends the value, so values
// may legally contain further '=' bytes. One structural or encoding
// error ends the whole scan; Next returns false forever after and Err
// reports the first error encountered.
type Fields struct {
	src        []byte
	key, value string
	err        error
	done       bool
}

// Next advances to the next record. It returns false at the end of the
// body or on the first error; the two cases are distinguished by Err.
func (f *Fields) Next() bool {
	if f.done {
		return false
	}

	switch len(f.src) {
	case 0:
		f.done = true
		return false
	case 1:
		// The single remaining byte must be the 0x00 body terminator.
		if f.src[0] != 0x00 {
			f.err = ErrExpectedDelimiter
		}
		f.stop()
		return false
	}

	key, err := f.shiftString('=')
	if err != nil {
		f.err = err
		f.stop()
		return false
	}
	value, err := f.shiftString('\n')
	if err != nil {
		f.err = err
		f.stop()
		return false
	}

	f.key, f.value = key, value
	return true
}

// Key returns the key of the current record.
func (f *Fields) Key() string { return f.key }

// Value returns the value of the current record.
func (f *Fields) Value() string { return f.value }

// Err returns the first error encountered during scanning, or nil if
// the body was well formed.
func (f *Fields) Err() error { return f.err }

func (f *Fields) stop() {
	f.src = nil
	f.done = true
}

// shiftSlice consumes bytes up to the next occurrence of delim and
// advances the cursor past it. The returned slice aliases the message
// buffer.
func (f *Fields) shiftSlice(delim byte) ([]byte, error) {
	i := bytes.IndexByte(f.src, delim)
	if i < 0 {
		return nil, ErrExpectedDelimiter
	}
	tok := f.src[:i]
	f.src = f.src[i+1:]
	return tok, nil
}

func (f *Fields) shiftString(delim byte) (string, error) {
	tok, err := f.shiftSlice(delim)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(tok) {
		return "", ErrExpectedUTF8
	}
	return string(tok), nil
}
