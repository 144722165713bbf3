// Package framing implements the length-prefixed JSON framing used on every
// TCP socket between the lobby and the game servers.
//
// A frame is a 4-byte unsigned big-endian length N followed by exactly N
// bytes of UTF-8 JSON. WebSocket traffic does not use this package: the text
// frame boundary already delimits each message.
package framing

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the length of the big-endian size prefix.
const HeaderSize = 4

// MaxFrameSize bounds a single frame body. Anything larger is treated as a
// corrupt length prefix rather than an allocation request.
const MaxFrameSize = 1 << 20

// FramingError reports a malformed length prefix or JSON body. Once a stream
// produced one, its byte alignment cannot be trusted and the connection should
// be closed.
type FramingError struct {
	Reason string
	Err    error
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("framing: %s: %v", e.Reason, e.Err)
	}
	return "framing: " + e.Reason
}

func (e *FramingError) Unwrap() error { return e.Err }

// IsFramingError reports whether err (or anything it wraps) is a *FramingError.
func IsFramingError(err error) bool {
	var fe *FramingError
	return errors.As(err, &fe)
}

// Encode marshals v to JSON and prefixes it with its length.
func Encode(v interface{}) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("framing: marshal payload: %w", err)
	}
	return EncodeRaw(body)
}

// EncodeRaw prefixes an already-serialized JSON body with its length.
func EncodeRaw(body []byte) ([]byte, error) {
	if len(body) > MaxFrameSize {
		return nil, &FramingError{Reason: fmt.Sprintf("frame of %d bytes exceeds limit %d", len(body), MaxFrameSize)}
	}
	out := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint32(out[:HeaderSize], uint32(len(body)))
	copy(out[HeaderSize:], body)
	return out, nil
}

// WriteFrame encodes v and writes the whole frame to w in a single Write call.
func WriteFrame(w io.Writer, v interface{}) error {
	frame, err := Encode(v)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// checkLength validates a decoded length prefix.
func checkLength(n uint32) error {
	if n == 0 {
		return &FramingError{Reason: "zero-length frame"}
	}
	if n > MaxFrameSize {
		return &FramingError{Reason: fmt.Sprintf("frame length %d exceeds limit %d", n, MaxFrameSize)}
	}
	return nil
}

// checkBody validates that a frame body is well-formed JSON.
func checkBody(body []byte) error {
	if !json.Valid(body) {
		return &FramingError{Reason: "frame body is not valid JSON"}
	}
	return nil
}

// Reader pulls whole frames off a blocking stream such as a net.Conn.
// Short reads are absorbed by io.ReadFull, so the transport may deliver bytes
// in arbitrary chunks.
type Reader struct {
	r      io.Reader
	header [HeaderSize]byte
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadFrame returns the next frame body. A stream that ends cleanly on a frame
// boundary yields io.EOF; one that ends inside a frame yields a *FramingError.
func (fr *Reader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &FramingError{Reason: "truncated length prefix", Err: err}
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(fr.header[:])
	if err := checkLength(n); err != nil {
		return nil, err
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &FramingError{Reason: "truncated frame body", Err: err}
		}
		return nil, err
	}
	if err := checkBody(body); err != nil {
		return nil, err
	}
	return body, nil
}

// ReadMessage reads the next frame and unmarshals it into v.
func (fr *Reader) ReadMessage(v interface{}) error {
	body, err := fr.ReadFrame()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &FramingError{Reason: "cannot decode frame body", Err: err}
	}
	return nil
}

// Decoder is the push-style counterpart of Reader for callers that receive
// bytes in chunks (event loops, tests). Feed appends data; Next pops complete
// frames as they become available.
type Decoder struct {
	buf []byte
}

// Feed appends a chunk of stream data.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes held waiting for a complete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next returns the next complete frame body. ok is false when more data is
// needed. A malformed prefix or body returns a *FramingError; the decoder
// should be discarded afterwards.
func (d *Decoder) Next() (body []byte, ok bool, err error) {
	if len(d.buf) < HeaderSize {
		return nil, false, nil
	}
	n := binary.BigEndian.Uint32(d.buf[:HeaderSize])
	if err := checkLength(n); err != nil {
		return nil, false, err
	}
	total := HeaderSize + int(n)
	if len(d.buf) < total {
		return nil, false, nil
	}
	body = make([]byte, n)
	copy(body, d.buf[HeaderSize:total])
	d.buf = d.buf[total:]
	if err := checkBody(body); err != nil {
		return nil, false, err
	}
	return body, true, nil
}
