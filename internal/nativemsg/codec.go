// Package nativemsg implements the length-prefixed framing used by browser
// native messaging hosts: a uint32 little-endian byte count followed by the
// message body.
package nativemsg

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// PrefixSize is the size of the length header in bytes.
const PrefixSize = 4

var (
	// ErrTruncated is returned when the stream ends inside a prefix or body.
	// The stream cannot be resynchronized after it.
	ErrTruncated = fmt.Errorf("truncated message: %w", io.ErrUnexpectedEOF)
	// ErrMessageTooLarge is returned when a prefix exceeds the configured limit.
	ErrMessageTooLarge = errors.New("message exceeds size limit")
)

// Reader reads framed messages from a byte stream.
type Reader struct {
	r       io.Reader
	maxSize uint32
}

// NewReader wraps r. maxSize of zero disables the size check.
func NewReader(r io.Reader, maxSize uint32) *Reader {
	return &Reader{r: r, maxSize: maxSize}
}

// ReadMessage returns the next message body. It returns io.EOF only when the
// stream ends cleanly on a message boundary.
func (r *Reader) ReadMessage() ([]byte, error) {
	var prefix [PrefixSize]byte
	n, err := io.ReadFull(r.r, prefix[:])
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("read length prefix (%d of %d bytes): %w", n, PrefixSize, ErrTruncated)
		}
		return nil, fmt.Errorf("read length prefix: %w", err)
	}

	length := binary.LittleEndian.Uint32(prefix[:])
	if r.maxSize > 0 && length > r.maxSize {
		return nil, fmt.Errorf("length %d > %d: %w", length, r.maxSize, ErrMessageTooLarge)
	}

	// Grow with the data actually received so a bogus prefix cannot force a
	// multi-gigabyte allocation before the stream runs dry.
	var body bytes.Buffer
	copied, err := io.CopyN(&body, r.r, int64(length))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read body (%d of %d bytes): %w", copied, length, ErrTruncated)
		}
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body.Bytes(), nil
}

// Writer writes framed messages and flushes after each one.
type Writer struct {
	w *bufio.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteMessage writes the prefix and body, then flushes the underlying stream.
func (w *Writer) WriteMessage(body []byte) error {
	if uint64(len(body)) > math.MaxUint32 {
		return fmt.Errorf("message of %d bytes: %w", len(body), ErrMessageTooLarge)
	}
	var prefix [PrefixSize]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := w.w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.w.Write(body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}
