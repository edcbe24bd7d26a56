// Package framing splits a byte stream into protocol frames. Both the server
// transports and the Go client use it.
package framing

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const logPrefix = "framing:framing"

// DefaultMaxFrame is the largest frame accepted when no limit is configured.
const DefaultMaxFrame = 1 << 20 // 1 MiB

// Framing modes.
const (
	ModeLine   = "line"
	ModeLength = "length"
)

var (
	ErrInvalidFrame  = errors.New("framing: invalid frame")
	ErrFrameTooLarge = errors.New("framing: frame too large")
	ErrUnknownMode   = errors.New("framing: unknown mode")
)

// Framer reads and writes frames on a stream.
type Framer interface {
	Mode() string
	ReadFrame(r *bufio.Reader) ([]byte, error)
	WriteFrame(w io.Writer, body []byte) error
}

// New returns the framer for mode. maxFrame <= 0 selects DefaultMaxFrame.
func New(mode string, maxFrame int) (Framer, error) {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	switch mode {
	case "", ModeLine:
		return &lineFramer{max: maxFrame}, nil
	case ModeLength:
		return &lengthFramer{max: maxFrame}, nil
	}
	return nil, fmt.Errorf("%s - %w: %q", logPrefix, ErrUnknownMode, mode)
}

// lineFramer delimits frames with '\n'. Blank lines are skipped, a trailing
// '\r' is dropped and an unterminated last line before EOF is a frame.
type lineFramer struct {
	max int
}

func (f *lineFramer) Mode() string { return ModeLine }

func (f *lineFramer) ReadFrame(r *bufio.Reader) ([]byte, error) {
	for {
		var buf []byte
		for {
			chunk, err := r.ReadSlice('\n')
			if len(buf)+len(chunk) > f.max+2 {
				return nil, ErrFrameTooLarge
			}
			buf = append(buf, chunk...)
			if err == nil {
				break
			}
			if errors.Is(err, bufio.ErrBufferFull) {
				continue
			}
			// A peer that half-closes after its last document still gets it read.
			if errors.Is(err, io.EOF) && len(bytes.TrimSpace(buf)) > 0 {
				break
			}
			return nil, err
		}
		line := bytes.TrimRight(buf, "\r\n")
		if len(line) > f.max {
			return nil, ErrFrameTooLarge
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		return line, nil
	}
}

func (f *lineFramer) WriteFrame(w io.Writer, body []byte) error {
	if bytes.IndexByte(body, '\n') >= 0 {
		return fmt.Errorf("%w: body contains a newline", ErrInvalidFrame)
	}
	if len(body) > f.max {
		return ErrFrameTooLarge
	}
	frame := make([]byte, 0, len(body)+1)
	frame = append(frame, body...)
	frame = append(frame, '\n')
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// lengthFramer prefixes each frame with its size as a 4-byte big-endian
// integer.
type lengthFramer struct {
	max int
}

func (f *lengthFramer) Mode() string { return ModeLength }

func (f *lengthFramer) ReadFrame(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	size := int(binary.BigEndian.Uint32(lenBuf[:]))
	if size == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrInvalidFrame)
	}
	if size > f.max {
		return nil, ErrFrameTooLarge
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return body, nil
}

func (f *lengthFramer) WriteFrame(w io.Writer, body []byte) error {
	if len(body) == 0 {
		return fmt.Errorf("%w: empty frame", ErrInvalidFrame)
	}
	if len(body) > f.max {
		return ErrFrameTooLarge
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
