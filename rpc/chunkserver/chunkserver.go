package chunkserver

import "github.com/pyropy/chunkfs/rpc/wire"

// WriteChunkArgs writes Payload at Offset and forwards it along Chain.
// An empty Payload with a non-empty Chain is a recovery write: the receiver
// pushes its own copy down the chain.
type WriteChunkArgs struct {
	ChunkKey string
	Offset   int
	Payload  []byte
	Chain    []string
}

func (a *WriteChunkArgs) Encode(w *wire.Writer) {
	w.WriteString(a.ChunkKey)
	w.WriteInt(a.Offset)
	w.WriteInt(len(a.Payload))
	w.WriteStrings(a.Chain)
	w.WriteRaw(a.Payload)
}

func (a *WriteChunkArgs) Decode(r *wire.Reader) {
	a.ChunkKey = r.ReadString()
	a.Offset = r.ReadInt()
	n := r.ReadLength()
	a.Chain = r.ReadStrings()
	a.Payload = r.ReadRaw(n)
}

type WriteChunkReply struct {
	Success bool
}

func (a *WriteChunkReply) Encode(w *wire.Writer) { w.WriteBool(a.Success) }
func (a *WriteChunkReply) Decode(r *wire.Reader) { a.Success = r.ReadBool() }

// ReadChunkArgs reads Length bytes at Offset; Length -1 reads to the end.
type ReadChunkArgs struct {
	ChunkKey string
	Offset   int
	Length   int
}

func (a *ReadChunkArgs) Encode(w *wire.Writer) {
	w.WriteString(a.ChunkKey)
	w.WriteInt(a.Offset)
	w.WriteInt(a.Length)
}

func (a *ReadChunkArgs) Decode(r *wire.Reader) {
	a.ChunkKey = r.ReadString()
	a.Offset = r.ReadInt()
	a.Length = r.ReadInt()
}

// ReadChunkReply carries the validated bytes; an empty payload means not found.
type ReadChunkReply struct {
	Payload []byte
}

func (a *ReadChunkReply) Encode(w *wire.Writer) { w.WriteBytes(a.Payload) }
func (a *ReadChunkReply) Decode(r *wire.Reader) { a.Payload = r.ReadBytes() }

type HealthCheckArgs struct{}

func (a *HealthCheckArgs) Encode(*wire.Writer) {}
func (a *HealthCheckArgs) Decode(*wire.Reader) {}

type HealthCheckReply struct {
	Healthy bool
}

func (a *HealthCheckReply) Encode(w *wire.Writer) { w.WriteBool(a.Healthy) }
func (a *HealthCheckReply) Decode(r *wire.Reader) { a.Healthy = r.ReadBool() }
