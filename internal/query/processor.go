// Package query provides query enrichment for retrieval: expansion into
// alternative phrasings, single-shot rewriting, and keyword extraction for
// hybrid scoring.
//
// Enrichment is best-effort. Every operation degrades to the unmodified
// original query on LLM failure so retrieval never hard-fails because
// enrichment failed.
package query

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/policyassist/rag/internal/llm"
)

const (
	// MaxVariants is the cap on the expansion result, original included.
	MaxVariants = 4

	// minVariantLen is the minimum length of a variant after prefix
	// stripping; shorter candidates are discarded as noise.
	minVariantLen = 5
)

const expandPrompt = `Generate 2-3 alternative phrasings of the following question.
Keep the same meaning but vary the wording and specificity.
Output one phrasing per line with no numbering or commentary.

Question: `

const rewritePrompt = `Rewrite the following question to be clearer and more specific.
Output only the rewritten question, nothing else.

Question: `

// Processor enriches user queries before retrieval.
type Processor struct {
	llmClient llm.LLM
	model     string
	logger    *slog.Logger
}

// ProcessorOption is a functional option for configuring Processor.
type ProcessorOption func(*Processor)

// WithModel sets the model used for expansion and rewriting.
func WithModel(model string) ProcessorOption {
	return func(p *Processor) {
		p.model = model
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// NewProcessor creates a query processor backed by the given LLM client.
func NewProcessor(llmClient llm.LLM, opts ...ProcessorOption) *Processor {
	p := &Processor{
		llmClient: llmClient,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Expand generates alternative phrasings of query. The original query is
// always element 0 of the result, and the result holds at most MaxVariants
// entries. On LLM failure the original query is returned alone.
func (p *Processor) Expand(ctx context.Context, query string) []string {
	variants := []string{query}

	response, err := p.llmClient.Generate(ctx, expandPrompt+query, llm.GenerateOptions{
		Model:       p.model,
		Temperature: 0.7, // Some variety helps recall
		MaxTokens:   256,
	})
	if err != nil {
		p.logger.Warn("query expansion failed, using original query only", "error", err)
		return variants
	}

	for _, line := range strings.Split(response, "\n") {
		candidate := StripListPrefix(line)
		if len(candidate) <= minVariantLen {
			continue
		}
		if containsVariant(variants, candidate) {
			continue
		}
		variants = append(variants, candidate)
		if len(variants) >= MaxVariants {
			break
		}
	}

	return variants
}

// Rewrite asks the LLM for a single clearer version of query. Surrounding
// quote characters are stripped. On failure, or when the LLM returns nothing
// usable, the original query is returned.
func (p *Processor) Rewrite(ctx context.Context, query string) string {
	response, err := p.llmClient.Generate(ctx, rewritePrompt+query, llm.GenerateOptions{
		Model:       p.model,
		Temperature: 0.3,
		MaxTokens:   128,
	})
	if err != nil {
		p.logger.Warn("query rewrite failed, using original query", "error", err)
		return query
	}

	rewritten := strings.TrimSpace(response)
	rewritten = strings.Trim(rewritten, `"'`)
	rewritten = strings.TrimSpace(rewritten)
	if rewritten == "" {
		return query
	}
	return rewritten
}

// listPrefixPattern matches leading list markers: digits, periods, dashes,
// asterisks and bullet characters, followed by whitespace.
var listPrefixPattern = regexp.MustCompile(`^[\d.\-*•)\s]+\s`)

// StripListPrefix removes a leading numbering/bullet prefix and surrounding
// whitespace from a generated line.
func StripListPrefix(line string) string {
	line = strings.TrimSpace(line)
	line = listPrefixPattern.ReplaceAllString(line, "")
	return strings.TrimSpace(line)
}

// containsVariant reports whether list already holds candidate (case-sensitive).
func containsVariant(list []string, candidate string) bool {
	for _, v := range list {
		if v == candidate {
			return true
		}
	}
	return false
}

// wordPattern matches alphabetic runs for keyword extraction.
var wordPattern = regexp.MustCompile(`[a-zA-Z]+`)

// stopWords is a fixed English stop-word list: articles, auxiliary verbs,
// pronouns, prepositions, conjunctions and wh-words.
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {}, "being": {},
	"do": {}, "does": {}, "did": {}, "have": {}, "has": {}, "had": {},
	"will": {}, "would": {}, "shall": {}, "should": {}, "can": {}, "could": {},
	"may": {}, "might": {}, "must": {},
	"i": {}, "you": {}, "he": {}, "she": {}, "it": {}, "we": {}, "they": {},
	"me": {}, "him": {}, "her": {}, "us": {}, "them": {},
	"my": {}, "your": {}, "his": {}, "its": {}, "our": {}, "their": {},
	"this": {}, "that": {}, "these": {}, "those": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {}, "with": {},
	"by": {}, "from": {}, "about": {}, "as": {}, "into": {}, "over": {},
	"under": {}, "between": {},
	"and": {}, "or": {}, "but": {}, "not": {}, "no": {},
	"what": {}, "which": {}, "who": {}, "whom": {}, "whose": {},
	"when": {}, "where": {}, "why": {}, "how": {},
	"there": {}, "here": {}, "if": {}, "then": {}, "than": {},
}

// ExtractKeywords tokenizes query into lowercase alphabetic tokens, removes
// stop words and tokens shorter than three characters, and deduplicates
// while preserving first-seen order. Pure and deterministic.
func ExtractKeywords(query string) []string {
	tokens := wordPattern.FindAllString(strings.ToLower(query), -1)

	keywords := make([]string, 0, len(tokens))
	seen := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		if len(tok) < 3 {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		keywords = append(keywords, tok)
	}
	return keywords
}
