// internal/ble/protocol/chunk.go
package protocol

import "time"

// MaxChunkBytes is the largest single GATT write the band accepts.
const MaxChunkBytes = 512

// ChunkDelay is the pause between chunk writes so the band's receive buffer
// can drain.
const ChunkDelay = 50 * time.Millisecond

// Chunk splits data into in-order slices of at most size bytes. The slices
// alias data. Returns nil for empty data or a non-positive size.
func Chunk(data []byte, size int) [][]byte {
	if len(data) == 0 || size <= 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > 0 {
		n := min(size, len(data))
		chunks = append(chunks, data[:n:n])
		data = data[n:]
	}
	return chunks
}
