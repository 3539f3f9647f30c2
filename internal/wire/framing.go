// Package wire implements the gRPC-style length-prefixed frame format used
// to delimit logical messages over a raw byte stream: one compression flag
// byte (always 0, compression is not supported) followed by a 4-byte
// big-endian length and the payload itself.
package wire

import (
	"encoding/binary"
	"errors"
)

const headerSize = 5

// ErrCompressed is returned when a frame header advertises a non-zero
// compression flag; this implementation never produces compressed frames
// and refuses to decode them.
var ErrCompressed = errors.New("wire: compressed frames are not supported")

// Pack prepends the 5-byte gRPC-style header to payload and returns the
// framed bytes. The returned slice is newly allocated; payload is not
// retained.
func Pack(payload []byte) []byte {
	out := make([]byte, headerSize+len(payload))
	out[0] = 0
	binary.BigEndian.PutUint32(out[1:5], uint32(len(payload)))
	copy(out[headerSize:], payload)
	return out
}

// Parser is a stateful decoder that accumulates bytes across Feed calls and
// yields every complete frame exactly once, preserving any trailing partial
// frame for the next call. A Parser is not safe for concurrent use.
type Parser struct {
	buf []byte
}

// NewParser returns an empty Parser ready to receive bytes.
func NewParser() *Parser {
	return &Parser{}
}

// Feed appends chunk to the internal buffer and returns every frame that
// became complete as a result, in order. It never returns a partial frame.
func (p *Parser) Feed(chunk []byte) ([][]byte, error) {
	if len(chunk) > 0 {
		p.buf = append(p.buf, chunk...)
	}

	var frames [][]byte
	for {
		if len(p.buf) < headerSize {
			break
		}
		if p.buf[0] != 0 {
			return frames, ErrCompressed
		}
		length := binary.BigEndian.Uint32(p.buf[1:5])
		total := headerSize + int(length)
		if len(p.buf) < total {
			break
		}

		payload := make([]byte, length)
		copy(payload, p.buf[headerSize:total])
		frames = append(frames, payload)

		rest := make([]byte, len(p.buf)-total)
		copy(rest, p.buf[total:])
		p.buf = rest
	}
	return frames, nil
}

// Pending returns the number of bytes currently buffered awaiting the rest
// of a frame.
func (p *Parser) Pending() int {
	return len(p.buf)
}

// ParseAll frames a single concatenated byte slice in one call, for callers
// that already have the whole buffer in hand (e.g. tests).
func ParseAll(b []byte) ([][]byte, error) {
	p := NewParser()
	frames, err := p.Feed(b)
	if err != nil {
		return frames, err
	}
	if p.Pending() != 0 {
		return frames, errors.New("wire: trailing incomplete frame")
	}
	return frames, nil
}
