package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tuning holds the knobs that are usually kept in a checked-in YAML file
// rather than the environment.
type Tuning struct {
	AnswerMode     string        `yaml:"answer_mode"`
	SearchMode     string        `yaml:"search_mode"`
	TopK           int           `yaml:"top_k"`
	ChunkMaxChars  int           `yaml:"chunk_max_chars"`
	ChunkOverlap   int           `yaml:"chunk_overlap"`
	IndexBatchSize int           `yaml:"index_batch_size"`
	EmbedBatchSize int           `yaml:"embed_batch_size"`
	EmbedRetries   int           `yaml:"embed_retries"`
	EmbedRPS       float64       `yaml:"embed_rps"`
	IngestWorkers  int           `yaml:"ingest_workers"`
	FailFast       bool          `yaml:"fail_fast"`
	IDStrategy     string        `yaml:"id_strategy"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
}

func DefaultTuning() Tuning {
	return Tuning{
		AnswerMode:     "generative",
		SearchMode:     "hybrid",
		TopK:           5,
		ChunkMaxChars:  1000,
		ChunkOverlap:   150,
		IndexBatchSize: 200,
		EmbedBatchSize: 16,
		EmbedRetries:   3,
		EmbedRPS:       0,
		IngestWorkers:  4,
		IDStrategy:     "random",
		CallTimeout:    30 * time.Second,
	}
}

// LoadTuning reads path over the defaults. An empty path or a missing file
// yields the defaults.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return t, nil
		}
		return t, fmt.Errorf("read tuning file: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("parse tuning file %s: %w", path, err)
	}
	return t, nil
}
