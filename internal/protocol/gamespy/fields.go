package gamespy

import (
	"bytes"
	"unicode/utf8"
)

// Fields scans the body of a GameSpy packet, yielding key/value pairs
// in wire order. Access follows the bufio.Scanner pattern (Next, Key,
// Value, Err). Every token must start with a backslash; the next
// backslash ends it, except that the final value may legitimately run
// to the end of the body without a trailing delimiter. One structural
// or encoding error ends the whole scan.
type Fields struct {
	src        []byte
	key, value string
	err        error
}

// Next advances to the next key/value pair. It returns false at the end
// of the body or on the first error; the two cases are distinguished by
// Err.
func (f *Fields) Next() bool {
	if f.err != nil || len(f.src) == 0 {
		return false
	}

	key, err := f.shiftString()
	if err != nil {
		f.err = err
		f.src = nil
		return false
	}
	value, err := f.shiftString()
	if err != nil {
		f.err = err
		f.src = nil
		return false
	}

	f.key, f.value = key, value
	return true
}

// Key returns the key of the current pair.
func (f *Fields) Key() string { return f.key }

// Value returns the value of the current pair.
func (f *Fields) Value() string { return f.value }

// Err returns the first error encountered during scanning, or nil.
func (f *Fields) Err() error { return f.err }

// shiftSlice consumes one backslash-led token. When a further backslash
// exists it is left in place for the next token; otherwise the
// remainder of the body is the token's content.
func (f *Fields) shiftSlice() ([]byte, error) {
	if len(f.src) == 0 || f.src[0] != '\\' {
		return nil, ErrExpectedDelimiter
	}
	end := bytes.IndexByte(f.src[1:], '\\')
	if end < 0 {
		tok := f.src[1:]
		f.src = f.src[len(f.src):]
		return tok, nil
	}
	tok := f.src[1 : end+1]
	f.src = f.src[end+1:]
	return tok, nil
}

func (f *Fields) shiftString() (string, error) {
	tok, err := f.shiftSlice()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(tok) {
		return "", ErrExpectedUTF8
	}
	return string(tok), nil
}
