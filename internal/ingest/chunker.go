package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/koopa0/ragpipe/internal/vectorstore"
)

// Chunker splits document text into overlapping windows of runes.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker validates the geometry and returns a Chunker. Overlap must
// be strictly smaller than size or the window would never advance.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidInput, size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: chunk overlap must be non-negative, got %d", ErrInvalidInput, overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d", ErrInvalidInput, overlap, size)
	}
	return &Chunker{chunkSize: size, chunkOverlap: overlap}, nil
}

// Split cuts content into chunks of chunkSize runes, each window
// starting chunkSize-chunkOverlap runes after the previous one. The
// final window may be shorter. Offsets are rune indices into content,
// so multi-byte text chunks cleanly.
//
// Empty content produces no chunks.
func (c *Chunker) Split(sourceID, content string) []vectorstore.Chunk {
	if content == "" {
		return nil
	}

	runes := []rune(content)
	step := c.chunkSize - c.chunkOverlap

	chunks := make([]vectorstore.Chunk, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := min(start+c.chunkSize, len(runes))
		chunks = append(chunks, vectorstore.Chunk{
			ID:          ChunkID(sourceID, start),
			SourceID:    sourceID,
			Content:     string(runes[start:end]),
			StartOffset: start,
			EndOffset:   end,
		})
	}

	return chunks
}

// ChunkID derives the stable chunk identifier from the source and the
// chunk's starting rune offset. Re-ingesting identical content yields
// identical IDs, which makes the store upsert idempotent.
func ChunkID(sourceID string, startOffset int) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", sourceID, startOffset)))
	return hex.EncodeToString(hash[:16])
}
