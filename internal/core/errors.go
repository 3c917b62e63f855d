package core

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration     = errors.New("configuration error")
	ErrExtraction        = errors.New("extraction error")
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrEmbedding         = errors.New("embedding error")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrIndexWrite        = errors.New("index write error")
	ErrIndexQuery        = errors.New("index query error")
	ErrIngestInProgress  = errors.New("ingestion already running")
)

// FileError ties a failure to the file and pipeline stage it happened in.
type FileError struct {
	File  string
	Stage string
	Err   error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.File, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// ConfigError builds an ErrConfiguration with a message.
func ConfigError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
