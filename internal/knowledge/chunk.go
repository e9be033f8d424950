package knowledge

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io/fs"
	"strings"
)

// Chunk is a window of reference text with its embedding
type Chunk struct {
	ID        string
	Source    string
	Seq       int
	Text      string
	Embedding []float32
}

// Chunker splits documents into overlapping windows measured in runes
type Chunker struct {
	Size    int
	Overlap int
}

// Split normalizes whitespace in text and cuts it into windows of Size runes,
// each starting Size-Overlap runes after the previous one. The last window
// ends at the end of the text.
func (c Chunker) Split(source, text string) []Chunk {
	normalized := []rune(strings.Join(strings.Fields(text), " "))
	if len(normalized) == 0 {
		return nil
	}

	step := c.Size - c.Overlap
	if c.Size <= 0 || step <= 0 {
		step, c.Size = len(normalized), len(normalized)
	}

	var chunks []Chunk
	for start := 0; start < len(normalized); start += step {
		end := start + c.Size
		if end > len(normalized) {
			end = len(normalized)
		}
		if body := strings.TrimSpace(string(normalized[start:end])); body != "" {
			seq := len(chunks)
			chunks = append(chunks, Chunk{
				ID:     chunkID(source, seq),
				Source: source,
				Seq:    seq,
				Text:   body,
			})
		}
		if end == len(normalized) {
			break
		}
	}
	return chunks
}

func chunkID(source string, seq int) string {
	return fmt.Sprintf("%s_%d", source, seq)
}

// Fingerprint identifies a file version by size and modification time,
// without reading its content
func Fingerprint(info fs.FileInfo) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%d:%d", info.Size(), info.ModTime().UnixNano())))
	return hex.EncodeToString(sum[:])
}
