package checksum

import (
	"bytes"
	"crypto/sha1"
)

// HashSize is the size of a single slice hash record.
const HashSize = sha1.Size

// CalculateCheckSum returns the SHA-1 digest of data.
func CalculateCheckSum(data []byte) []byte {
	sum := sha1.Sum(data)
	return sum[:]
}

// SliceCheckSums hashes data slice by slice and returns the concatenated
// records. A trailing partial slice gets its own record.
func SliceCheckSums(data []byte, sliceSize int) []byte {
	numSlices := (len(data) + sliceSize - 1) / sliceSize
	records := make([]byte, 0, numSlices*HashSize)

	for i := 0; i < numSlices; i++ {
		end := (i + 1) * sliceSize
		if end > len(data) {
			end = len(data)
		}

		sum := sha1.Sum(data[i*sliceSize : end])
		records = append(records, sum[:]...)
	}

	return records
}

// Verify reports whether data hashes to record.
func Verify(data, record []byte) bool {
	if len(record) != HashSize {
		return false
	}

	return bytes.Equal(CalculateCheckSum(data), record)
}
