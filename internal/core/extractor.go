package core

import "github.com/markdave123-py/kbchat/internal/models"

// FormatExtractor converts the bytes of one file format into chunks.
type FormatExtractor interface {
	Extensions() []string
	Extract(name string, data []byte) ([]models.Chunk, error)
}
