// Package protocol holds the byte-level framing rules for channel writes.
package protocol

// ChunkBytes splits data into sequential chunks of at most maxBytes each.
// Every chunk but the last is exactly maxBytes long. Returns nil for empty
// data or a non-positive limit. Chunks alias data; callers that retain them
// past the next mutation of data must copy.
func ChunkBytes(data []byte, maxBytes int) [][]byte {
	if len(data) == 0 || maxBytes <= 0 {
		return nil
	}

	chunks := make([][]byte, 0, ChunkCount(len(data), maxBytes))
	for len(data) > 0 {
		n := min(maxBytes, len(data))
		chunks = append(chunks, data[:n:n])
		data = data[n:]
	}
	return chunks
}

// ChunkCount returns how many writes a payload of n bytes needs at the given
// chunk size: ceil(n / maxBytes), and 0 for an empty payload.
func ChunkCount(n, maxBytes int) int {
	if n <= 0 || maxBytes <= 0 {
		return 0
	}
	return (n + maxBytes - 1) / maxBytes
}
