// Package wire implements the framed request/response encoding shared by the
// coordinator, chunk servers and clients. Integers are big-endian int32,
// booleans a single byte, strings and payloads int32-length-prefixed.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameBytes bounds any single length-prefixed field.
const MaxFrameBytes = 64 << 20

// maxPreallocItems caps the capacity reserved for a list from its count
// prefix; longer lists grow as items actually arrive.
const maxPreallocItems = 1024

var (
	ErrFrameTooLarge  = errors.New("frame exceeds maximum size")
	ErrNegativeLength = errors.New("negative length prefix")
)

type Verb string

const (
	VerbWrite     Verb = "write"
	VerbRead      Verb = "read"
	VerbHeartbeat Verb = "heartbeat"
	VerbTaddle    Verb = "taddle"
)

// Message is a request or response body for one verb.
type Message interface {
	Encode(w *Writer)
	Decode(r *Reader)
}

// Writer buffers fields and remembers the first error, so callers check once
// on Flush.
type Writer struct {
	w   *bufio.Writer
	err error
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

func (w *Writer) write(b []byte) {
	if w.err != nil {
		return
	}

	_, w.err = w.w.Write(b)
}

func (w *Writer) WriteInt32(v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.write(b[:])
}

func (w *Writer) WriteInt(v int) {
	w.WriteInt32(int32(v))
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.write([]byte{1})
		return
	}

	w.write([]byte{0})
}

func (w *Writer) WriteString(s string) {
	w.WriteInt(len(s))
	w.write([]byte(s))
}

func (w *Writer) WriteBytes(b []byte) {
	w.WriteInt(len(b))
	w.write(b)
}

// WriteRaw writes b without a length prefix.
func (w *Writer) WriteRaw(b []byte) {
	w.write(b)
}

func (w *Writer) WriteStrings(ss []string) {
	w.WriteInt(len(ss))
	for _, s := range ss {
		w.WriteString(s)
	}
}

func (w *Writer) WriteVerb(v Verb) {
	w.WriteString(string(v))
}

func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}

	return w.w.Flush()
}

func (w *Writer) Err() error {
	return w.err
}

// Reader decodes fields and remembers the first error.
type Reader struct {
	r   *bufio.Reader
	err error
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) ReadInt32() int32 {
	if r.err != nil {
		return 0
	}

	var b [4]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		r.fail(err)
		return 0
	}

	return int32(binary.BigEndian.Uint32(b[:]))
}

func (r *Reader) ReadInt() int {
	return int(r.ReadInt32())
}

func (r *Reader) ReadBool() bool {
	if r.err != nil {
		return false
	}

	b, err := r.r.ReadByte()
	if err != nil {
		r.fail(err)
		return false
	}

	return b != 0
}

// ReadLength reads and bounds-checks a length prefix.
func (r *Reader) ReadLength() int {
	n := r.ReadInt()
	if r.err != nil {
		return 0
	}

	if n < 0 {
		r.fail(fmt.Errorf("%w: %d", ErrNegativeLength, n))
		return 0
	}

	if n > MaxFrameBytes {
		r.fail(fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n))
		return 0
	}

	return n
}

// ReadRaw reads exactly n bytes.
func (r *Reader) ReadRaw(n int) []byte {
	if r.err != nil || n == 0 {
		return nil
	}

	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		r.fail(err)
		return nil
	}

	return b
}

func (r *Reader) ReadBytes() []byte {
	return r.ReadRaw(r.ReadLength())
}

func (r *Reader) ReadString() string {
	return string(r.ReadBytes())
}

func (r *Reader) ReadStrings() []string {
	n := r.ReadLength()
	if r.err != nil {
		return nil
	}

	ss := make([]string, 0, ListCapacity(n))
	for i := 0; i < n && r.err == nil; i++ {
		ss = append(ss, r.ReadString())
	}

	return ss
}

// ListCapacity is the initial capacity to reserve for a list whose count
// prefix is n.
func ListCapacity(n int) int {
	return min(n, maxPreallocItems)
}

func (r *Reader) ReadVerb() Verb {
	return Verb(r.ReadString())
}

func (r *Reader) Err() error {
	return r.err
}
