package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/policyassist/rag/internal/repository"
)

// PipelineConfig holds configuration for the ingestion pipeline
type PipelineConfig struct {
	Chunker repository.ChunkerConfig

	// DefaultMetadata is stamped on every chunk unless the chunk
	// already carries the key.
	DefaultMetadata map[string]string
}

// PipelineResult holds the result of processing a document
type PipelineResult struct {
	DocumentID  uuid.UUID
	ContentHash string
	Chunks      []Chunk
	Stats       PipelineStats
}

// PipelineStats contains statistics about a pipeline run
type PipelineStats struct {
	OriginalLength    int
	OriginalWordCount int
	ChunkCount        int
	TotalChunkWords   int
	ProcessingTime    time.Duration
}

// Pipeline orchestrates document chunking and metadata stamping
type Pipeline struct {
	config  PipelineConfig
	chunker *Chunker
}

// NewPipeline creates a new ingestion pipeline
func NewPipeline(config PipelineConfig) *Pipeline {
	return &Pipeline{
		config:  config,
		chunker: NewChunker(config.Chunker),
	}
}

// Process chunks content and stamps each chunk with document metadata.
// The extra metadata, if any, is merged below chunk-level metadata.
func (p *Pipeline) Process(ctx context.Context, content string, metadata map[string]string) (*PipelineResult, error) {
	startTime := time.Now()

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("content cannot be empty")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	documentID := uuid.New()
	contentHash := HashContent(content)

	chunks := p.chunker.Chunk(content)

	for i := range chunks {
		if chunks[i].Metadata == nil {
			chunks[i].Metadata = make(map[string]string)
		}
		for k, v := range p.config.DefaultMetadata {
			if _, exists := chunks[i].Metadata[k]; !exists {
				chunks[i].Metadata[k] = v
			}
		}
		for k, v := range metadata {
			if _, exists := chunks[i].Metadata[k]; !exists {
				chunks[i].Metadata[k] = v
			}
		}
		chunks[i].Metadata["document_id"] = documentID.String()
		chunks[i].Metadata["content_hash"] = contentHash
	}

	totalChunkWords := 0
	for _, chunk := range chunks {
		totalChunkWords += len(strings.Fields(chunk.Content))
	}

	return &PipelineResult{
		DocumentID:  documentID,
		ContentHash: contentHash,
		Chunks:      chunks,
		Stats: PipelineStats{
			OriginalLength:    len(content),
			OriginalWordCount: len(strings.Fields(content)),
			ChunkCount:        len(chunks),
			TotalChunkWords:   totalChunkWords,
			ProcessingTime:    time.Since(startTime),
		},
	}, nil
}

// HashContent generates a SHA-256 hash of the content, used for
// duplicate detection on ingest.
func HashContent(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}

// ChunksToDocumentChunks converts pipeline chunks to storage records
func ChunksToDocumentChunks(chunks []Chunk, documentID uuid.UUID) []*repository.DocumentChunk {
	docChunks := make([]*repository.DocumentChunk, len(chunks))
	now := time.Now()

	for i, chunk := range chunks {
		docChunks[i] = &repository.DocumentChunk{
			ID:         uuid.New(),
			DocumentID: documentID,
			ChunkIndex: chunk.Index,
			Content:    chunk.Content,
			Metadata:   chunk.Metadata,
			CreatedAt:  now,
		}
	}

	return docChunks
}

// ValidateChunkerConfig validates a chunker configuration
func ValidateChunkerConfig(config repository.ChunkerConfig) error {
	switch config.Method {
	case "", "fixed", "sentence":
	default:
		return fmt.Errorf("invalid chunking method: %s (valid: fixed, sentence)", config.Method)
	}

	if config.TargetSize < 0 {
		return fmt.Errorf("target_size cannot be negative")
	}
	if config.MaxSize < 0 {
		return fmt.Errorf("max_size cannot be negative")
	}
	if config.TargetSize > 0 && config.MaxSize > 0 && config.TargetSize > config.MaxSize {
		return fmt.Errorf("target_size (%d) cannot be greater than max_size (%d)", config.TargetSize, config.MaxSize)
	}
	if config.Overlap < 0 {
		return fmt.Errorf("overlap cannot be negative")
	}
	if config.Overlap > 0 && config.TargetSize > 0 && config.Overlap >= config.TargetSize {
		return fmt.Errorf("overlap (%d) must be less than target_size (%d)", config.Overlap, config.TargetSize)
	}

	return nil
}

// DefaultChunkerConfig returns the default chunker configuration
func DefaultChunkerConfig() repository.ChunkerConfig {
	return repository.ChunkerConfig{
		Method:     "sentence",
		TargetSize: 512,
		MaxSize:    1024,
		Overlap:    50,
	}
}
