package wire

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWriterReaderFieldOrder(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteVerb(VerbHeartbeat)
	w.WriteBool(true)
	w.WriteInt32(-1)
	w.WriteStrings([]string{"a:1", "b:2"})
	w.WriteBytes([]byte{1, 2, 3})
	require.NoError(t, w.Flush())

	r := NewReader(&buf)
	assert.Equal(t, VerbHeartbeat, r.ReadVerb())
	assert.True(t, r.ReadBool())
	assert.Equal(t, int32(-1), r.ReadInt32())
	assert.Equal(t, []string{"a:1", "b:2"}, r.ReadStrings())
	assert.Equal(t, []byte{1, 2, 3}, r.ReadBytes())
	assert.NoError(t, r.Err())
}

func TestReaderTruncatedInput(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteString("chunk")
	require.NoError(t, w.Flush())

	r := NewReader(bytes.NewReader(buf.Bytes()[:6]))
	_ = r.ReadString()
	assert.Error(t, r.Err())

	// sticky error: later reads return zero values
	assert.Equal(t, int32(0), r.ReadInt32())
	assert.False(t, r.ReadBool())
}

func TestReaderRejectsOversizedFrame(t *testing.T) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(MaxFrameBytes+1))

	r := NewReader(bytes.NewReader(b[:]))
	assert.Nil(t, r.ReadBytes())
	assert.ErrorIs(t, r.Err(), ErrFrameTooLarge)
}

func TestReaderRejectsNegativeLength(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteInt32(-5)
	require.NoError(t, w.Flush())

	r := NewReader(&buf)
	_ = r.ReadStrings()
	assert.ErrorIs(t, r.Err(), ErrNegativeLength)
}

func TestReaderListCountDoesNotReserveMemory(t *testing.T) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(MaxFrameBytes))

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)

	r := NewReader(bytes.NewReader(b[:]))
	_ = r.ReadStrings()

	runtime.ReadMemStats(&after)
	assert.Error(t, r.Err())
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20))
}

func TestListCapacity(t *testing.T) {
	assert.Equal(t, 0, ListCapacity(0))
	assert.Equal(t, 3, ListCapacity(3))
	assert.Equal(t, maxPreallocItems, ListCapacity(MaxFrameBytes))
}

type echoMessage struct {
	Text string
}

func (m *echoMessage) Encode(w *Writer) { w.WriteString(m.Text) }
func (m *echoMessage) Decode(r *Reader) { m.Text = r.ReadString() }

func TestDialerCallRoundTrip(t *testing.T) {
	handler := func(ctx context.Context, verb Verb, r *Reader, w *Writer) error {
		var req echoMessage
		req.Decode(r)
		if err := r.Err(); err != nil {
			return err
		}

		reply := echoMessage{Text: string(verb) + ":" + req.Text}
		reply.Encode(w)
		return nil
	}

	srv, err := Listen("127.0.0.1:0", handler, time.Second, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	d := Dialer{DialTimeout: time.Second, IOTimeout: time.Second}
	var reply echoMessage
	err = d.Call(ctx, srv.Addr(), VerbRead, &echoMessage{Text: "hello"}, &reply)
	require.NoError(t, err)
	assert.Equal(t, "read:hello", reply.Text)
}

func TestDialerCallUnreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	d := Dialer{DialTimeout: 200 * time.Millisecond, IOTimeout: 200 * time.Millisecond}
	err = d.Call(context.Background(), addr, VerbRead, &echoMessage{}, &echoMessage{})
	assert.True(t, errors.Is(err, ErrConnection))
}
