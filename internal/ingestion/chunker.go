// Package ingestion handles document processing: chunking and pipeline orchestration.
package ingestion

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/policyassist/rag/internal/repository"
)

// Chunk represents a piece of chunked content
type Chunk struct {
	Content  string
	Index    int
	Metadata map[string]string
}

// Chunker splits document text into retrieval-sized chunks. Sizes are
// measured in words as a token proxy.
type Chunker struct {
	config repository.ChunkerConfig
}

// NewChunker creates a new Chunker with the given configuration
func NewChunker(config repository.ChunkerConfig) *Chunker {
	if config.TargetSize <= 0 {
		config.TargetSize = 512
	}
	if config.MaxSize <= 0 {
		config.MaxSize = 1024
	}
	if config.Overlap < 0 {
		config.Overlap = 50
	}
	if config.Method == "" {
		config.Method = "sentence"
	}

	return &Chunker{config: config}
}

// Chunk splits content into chunks based on the configured method
func (c *Chunker) Chunk(content string) []Chunk {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	switch c.config.Method {
	case "fixed":
		return c.chunkFixed(content)
	default:
		return c.chunkSentence(content)
	}
}

// chunkFixed splits content into fixed-size word windows with overlap
func (c *Chunker) chunkFixed(content string) []Chunk {
	words := strings.Fields(content)
	if len(words) == 0 {
		return nil
	}

	var chunks []Chunk
	step := c.config.TargetSize - c.config.Overlap
	if step <= 0 {
		step = c.config.TargetSize/2 + 1
	}

	for i := 0; i < len(words); i += step {
		end := i + c.config.TargetSize
		if end > len(words) {
			end = len(words)
		}

		chunkWords := words[i:end]
		chunks = append(chunks, Chunk{
			Content: strings.Join(chunkWords, " "),
			Index:   len(chunks),
			Metadata: map[string]string{
				"method":     "fixed",
				"word_count": strconv.Itoa(len(chunkWords)),
			},
		})

		if end >= len(words) {
			break
		}
	}

	return chunks
}

// chunkSentence groups whole sentences until the target size is reached,
// carrying trailing sentences forward as overlap.
func (c *Chunker) chunkSentence(content string) []Chunk {
	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []Chunk
	var current []string
	currentWords := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(current, " "))
		chunks = append(chunks, Chunk{
			Content: text,
			Index:   len(chunks),
			Metadata: map[string]string{
				"method":         "sentence",
				"sentence_count": strconv.Itoa(len(current)),
				"word_count":     strconv.Itoa(len(strings.Fields(text))),
			},
		})
		current, currentWords = c.sentenceOverlap(current)
	}

	for _, sentence := range sentences {
		sentenceWords := len(strings.Fields(sentence))

		// A single oversized sentence falls back to fixed windows
		if sentenceWords > c.config.MaxSize {
			flush()
			current = nil
			currentWords = 0
			for _, sub := range c.chunkFixed(sentence) {
				sub.Index = len(chunks)
				sub.Metadata["split"] = "true"
				chunks = append(chunks, sub)
			}
			continue
		}

		if currentWords+sentenceWords > c.config.MaxSize && currentWords > 0 {
			flush()
		}

		current = append(current, sentence)
		currentWords += sentenceWords

		if currentWords >= c.config.TargetSize {
			flush()
		}
	}

	// Emit the tail only if it carries content beyond the overlap
	if len(current) > 0 && (len(chunks) == 0 || currentWords > c.overlapBudget()) {
		text := strings.TrimSpace(strings.Join(current, " "))
		chunks = append(chunks, Chunk{
			Content: text,
			Index:   len(chunks),
			Metadata: map[string]string{
				"method":         "sentence",
				"sentence_count": strconv.Itoa(len(current)),
				"word_count":     strconv.Itoa(len(strings.Fields(text))),
			},
		})
	}

	return chunks
}

func (c *Chunker) overlapBudget() int {
	if c.config.Overlap <= 0 {
		return 0
	}
	return c.config.Overlap
}

// sentenceOverlap collects trailing sentences totalling at least the
// configured overlap word count.
func (c *Chunker) sentenceOverlap(sentences []string) ([]string, int) {
	if c.config.Overlap <= 0 || len(sentences) == 0 {
		return nil, 0
	}

	var overlap []string
	words := 0
	for i := len(sentences) - 1; i >= 0 && words < c.config.Overlap; i-- {
		overlap = append([]string{sentences[i]}, overlap...)
		words += len(strings.Fields(sentences[i]))
	}
	// Overlapping everything would loop forever
	if len(overlap) == len(sentences) {
		return nil, 0
	}
	return overlap, words
}

// splitSentences splits text on . ! ? boundaries, skipping common
// abbreviations.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)

		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				sentence := strings.TrimSpace(current.String())
				if sentence != "" && !endsWithAbbreviation(sentence) {
					sentences = append(sentences, sentence)
					current.Reset()
				}
			}
		}
	}

	if remaining := strings.TrimSpace(current.String()); remaining != "" {
		sentences = append(sentences, remaining)
	}

	return sentences
}

var abbreviations = []string{
	"mr.", "mrs.", "ms.", "dr.", "prof.",
	"inc.", "ltd.", "corp.",
	"etc.", "e.g.", "i.e.",
	"vs.", "v.",
	"no.", "vol.", "sec.", "para.",
}

func endsWithAbbreviation(text string) bool {
	lower := strings.ToLower(text)
	for _, abbr := range abbreviations {
		if strings.HasSuffix(lower, abbr) {
			return true
		}
	}
	return false
}
