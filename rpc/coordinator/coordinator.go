package coordinator

import "github.com/pyropy/chunkfs/rpc/wire"

// WriteArgs asks for placement of a chunk.
type WriteArgs struct {
	ChunkKey string
}

func (a *WriteArgs) Encode(w *wire.Writer) { w.WriteString(a.ChunkKey) }
func (a *WriteArgs) Decode(r *wire.Reader) { a.ChunkKey = r.ReadString() }

// WriteReply carries the ordered target list; Targets[0] is the chain entry point.
type WriteReply struct {
	Accepted bool
	Targets  []string
}

func (a *WriteReply) Encode(w *wire.Writer) {
	w.WriteBool(a.Accepted)
	w.WriteStrings(a.Targets)
}

func (a *WriteReply) Decode(r *wire.Reader) {
	a.Accepted = r.ReadBool()
	a.Targets = r.ReadStrings()
}

type ReadArgs struct {
	ChunkKey   string
	IsFailure  bool
	IsFromNode bool
	Requester  string
}

func (a *ReadArgs) Encode(w *wire.Writer) {
	w.WriteString(a.ChunkKey)
	w.WriteBool(a.IsFailure)
	w.WriteBool(a.IsFromNode)
	w.WriteString(a.Requester)
}

func (a *ReadArgs) Decode(r *wire.Reader) {
	a.ChunkKey = r.ReadString()
	a.IsFailure = r.ReadBool()
	a.IsFromNode = r.ReadBool()
	a.Requester = r.ReadString()
}

type ReadReply struct {
	Found    bool
	NodeName string
}

func (a *ReadReply) Encode(w *wire.Writer) {
	w.WriteBool(a.Found)
	if a.Found {
		w.WriteString(a.NodeName)
	}
}

func (a *ReadReply) Decode(r *wire.Reader) {
	a.Found = r.ReadBool()
	if a.Found {
		a.NodeName = r.ReadString()
	}
}

type Chunk struct {
	Version int
	Key     string
}

type HeartbeatArgs struct {
	NodeName   string
	IsMajor    bool
	FreeSpace  int
	ChunkCount int
	Chunks     []Chunk
}

func (a *HeartbeatArgs) Encode(w *wire.Writer) {
	w.WriteString(a.NodeName)
	w.WriteBool(a.IsMajor)
	w.WriteInt(a.FreeSpace)
	w.WriteInt(a.ChunkCount)
	w.WriteInt(len(a.Chunks))
	for _, c := range a.Chunks {
		w.WriteInt(c.Version)
		w.WriteString(c.Key)
	}
}

func (a *HeartbeatArgs) Decode(r *wire.Reader) {
	a.NodeName = r.ReadString()
	a.IsMajor = r.ReadBool()
	a.FreeSpace = r.ReadInt()
	a.ChunkCount = r.ReadInt()

	n := r.ReadLength()
	a.Chunks = make([]Chunk, 0, wire.ListCapacity(n))
	for i := 0; i < n && r.Err() == nil; i++ {
		version := r.ReadInt()
		key := r.ReadString()
		a.Chunks = append(a.Chunks, Chunk{Version: version, Key: key})
	}
}

type HeartbeatReply struct {
	Success bool
}

func (a *HeartbeatReply) Encode(w *wire.Writer) { w.WriteBool(a.Success) }
func (a *HeartbeatReply) Decode(r *wire.Reader) { a.Success = r.ReadBool() }

// TaddleArgs reports targets that did not receive a chained write.
type TaddleArgs struct {
	Reporter      string
	ChunkKey      string
	FailedTargets []string
}

func (a *TaddleArgs) Encode(w *wire.Writer) {
	w.WriteString(a.Reporter)
	w.WriteString(a.ChunkKey)
	w.WriteStrings(a.FailedTargets)
}

func (a *TaddleArgs) Decode(r *wire.Reader) {
	a.Reporter = r.ReadString()
	a.ChunkKey = r.ReadString()
	a.FailedTargets = r.ReadStrings()
}
