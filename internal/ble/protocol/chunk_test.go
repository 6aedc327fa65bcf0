package protocol

import (
	"bytes"
	"testing"
)

const testMaxBytes = 20 // ATT default payload

func TestChunkBytesFitsInOne(t *testing.T) {
	chunks := ChunkBytes([]byte("hello world"), testMaxBytes)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if string(chunks[0]) != "hello world" {
		t.Errorf("chunk[0] = %q, want %q", chunks[0], "hello world")
	}
}

func TestChunkBytesEmpty(t *testing.T) {
	if chunks := ChunkBytes(nil, testMaxBytes); len(chunks) != 0 {
		t.Errorf("got %d chunks for nil, want 0", len(chunks))
	}
	if chunks := ChunkBytes([]byte{}, testMaxBytes); len(chunks) != 0 {
		t.Errorf("got %d chunks for empty slice, want 0", len(chunks))
	}
}

func TestChunkBytesExactFit(t *testing.T) {
	data := bytes.Repeat([]byte("a"), testMaxBytes)
	chunks := ChunkBytes(data, testMaxBytes)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if !bytes.Equal(chunks[0], data) {
		t.Errorf("chunk[0] = %q, want %q", chunks[0], data)
	}
}

func TestChunkBytesOneByteOver(t *testing.T) {
	data := bytes.Repeat([]byte("a"), testMaxBytes+1)
	chunks := ChunkBytes(data, testMaxBytes)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if len(chunks[1]) != 1 {
		t.Errorf("last chunk len = %d, want 1", len(chunks[1]))
	}
}

func TestChunkBytesSizes(t *testing.T) {
	tests := []struct {
		n, size   int
		wantCount int
		wantLast  int
	}{
		{n: 1, size: 20, wantCount: 1, wantLast: 1},
		{n: 40, size: 20, wantCount: 2, wantLast: 20},
		{n: 41, size: 20, wantCount: 3, wantLast: 1},
		{n: 500, size: 182, wantCount: 3, wantLast: 136},
		{n: 7, size: 1, wantCount: 7, wantLast: 1},
	}

	for _, tt := range tests {
		data := make([]byte, tt.n)
		for i := range data {
			data[i] = byte(i)
		}
		chunks := ChunkBytes(data, tt.size)
		if len(chunks) != tt.wantCount {
			t.Errorf("ChunkBytes(%d, %d) = %d chunks, want %d", tt.n, tt.size, len(chunks), tt.wantCount)
			continue
		}
		if got := ChunkCount(tt.n, tt.size); got != tt.wantCount {
			t.Errorf("ChunkCount(%d, %d) = %d, want %d", tt.n, tt.size, got, tt.wantCount)
		}
		for i, c := range chunks[:len(chunks)-1] {
			if len(c) != tt.size {
				t.Errorf("chunk[%d] len = %d, want %d", i, len(c), tt.size)
			}
		}
		if last := chunks[len(chunks)-1]; len(last) != tt.wantLast {
			t.Errorf("last chunk len = %d, want %d", len(last), tt.wantLast)
		}
		if !bytes.Equal(bytes.Join(chunks, nil), data) {
			t.Errorf("reassembled payload differs for n=%d size=%d", tt.n, tt.size)
		}
	}
}

func TestChunkBytesZeroMax(t *testing.T) {
	if chunks := ChunkBytes([]byte("hello"), 0); chunks != nil {
		t.Errorf("ChunkBytes with maxBytes=0 should return nil, got %v", chunks)
	}
}

func TestChunkBytesDoesNotGrowIntoNextChunk(t *testing.T) {
	data := []byte("abcdef")
	chunks := ChunkBytes(data, 3)
	_ = append(chunks[0], 'X')
	if string(chunks[1]) != "def" {
		t.Errorf("appending to chunk[0] clobbered chunk[1]: %q", chunks[1])
	}
}

func TestChunkCountZero(t *testing.T) {
	if got := ChunkCount(0, 20); got != 0 {
		t.Errorf("ChunkCount(0, 20) = %d, want 0", got)
	}
}
