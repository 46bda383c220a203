package chunkserver

import (
	"errors"
	"io"
	"os"

	"github.com/pyropy/chunkfs/lib/checksum"
)

var ErrIntegrity = errors.New("slice failed validation")

// FailedRange is a byte range that failed validation. Length -1 means the
// rest of the chunk.
type FailedRange struct {
	Offset int
	Length int
}

// ReadResult holds either the validated bytes or the ranges that failed.
type ReadResult struct {
	Data     []byte
	Failures []FailedRange
}

func (r ReadResult) OK() bool {
	return len(r.Failures) == 0
}

// ValidatedRead reads [offset, offset+length) and checks every slice that
// range touches against its hash record. Validation always covers whole
// slices; only the requested bytes are returned.
func (cs *ChunkService) ValidatedRead(chunkKey string, offset, length int) (ReadResult, error) {
	unlock := cs.lock(chunkKey)
	defer unlock()

	f, err := os.Open(cs.ChunkPath(chunkKey))
	if errors.Is(err, os.ErrNotExist) {
		return ReadResult{Failures: []FailedRange{{Offset: 0, Length: -1}}}, nil
	}
	if err != nil {
		return ReadResult{}, err
	}

	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return ReadResult{}, err
	}

	size := int(fi.Size())
	start, end := clampRange(size, offset, length)
	if start == end {
		return ReadResult{Data: []byte{}}, nil
	}

	firstSlice := start / cs.sliceSize
	lastSlice := (end - 1) / cs.sliceSize
	numSlices := (size + cs.sliceSize - 1) / cs.sliceSize

	alignedStart := firstSlice * cs.sliceSize
	alignedEnd := (lastSlice + 1) * cs.sliceSize
	if alignedEnd > size {
		alignedEnd = size
	}

	buf := make([]byte, alignedEnd-alignedStart)
	_, err = f.ReadAt(buf, int64(alignedStart))
	if err != nil && !errors.Is(err, io.EOF) {
		return ReadResult{Failures: []FailedRange{{Offset: alignedStart, Length: -1}}}, nil
	}

	records, err := cs.loadHashes(chunkKey)
	if err != nil {
		return ReadResult{Failures: []FailedRange{{Offset: alignedStart, Length: -1}}}, nil
	}

	var failures []FailedRange
	for i := firstSlice; i <= lastSlice; i++ {
		lo := i*cs.sliceSize - alignedStart
		hi := lo + cs.sliceSize
		if hi > len(buf) {
			hi = len(buf)
		}

		var record []byte
		if (i+1)*checksum.HashSize <= len(records) {
			record = records[i*checksum.HashSize : (i+1)*checksum.HashSize]
		}

		if checksum.Verify(buf[lo:hi], record) {
			continue
		}

		failures = appendFailure(failures, i*cs.sliceSize, cs.sliceSize)
	}

	if len(failures) > 0 {
		// a range running into the final slice covers the rest of the chunk
		last := &failures[len(failures)-1]
		if last.Offset+last.Length >= numSlices*cs.sliceSize {
			last.Length = -1
		}

		return ReadResult{Failures: failures}, nil
	}

	return ReadResult{Data: buf[start-alignedStart : end-alignedStart]}, nil
}

// appendFailure merges a failed slice into the previous range when contiguous.
func appendFailure(failures []FailedRange, offset, length int) []FailedRange {
	if n := len(failures); n > 0 && failures[n-1].Offset+failures[n-1].Length == offset {
		failures[n-1].Length += length
		return failures
	}

	return append(failures, FailedRange{Offset: offset, Length: length})
}
