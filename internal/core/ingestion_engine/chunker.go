package ingestion_engine

import (
	"fmt"
	"strings"
)

const (
	DefaultMaxChars = 1000
	DefaultOverlap  = 150
)

// ChunkText splits text into windows of at most maxChars characters. Each
// window after the first starts overlap characters before the previous one
// ended. Panics if overlap is not smaller than maxChars.
func ChunkText(text string, maxChars, overlap int) []string {
	if overlap < 0 || maxChars <= 0 || overlap >= maxChars {
		panic(fmt.Sprintf("ingestion_engine: invalid chunk window maxChars=%d overlap=%d", maxChars, overlap))
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); {
		end := min(len(runes), start+maxChars)
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
		start = max(end-overlap, 0)
	}
	return chunks
}
