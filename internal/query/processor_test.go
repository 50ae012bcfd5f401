package query

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/policyassist/rag/internal/llm"
)

// scriptedLLM returns a fixed response, or an error, for every Generate call.
type scriptedLLM struct {
	response string
	err      error
	calls    int
}

func (s *scriptedLLM) Generate(_ context.Context, _ string, _ llm.GenerateOptions) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func (s *scriptedLLM) GenerateStream(context.Context, string, llm.GenerateOptions) (<-chan llm.StreamChunk, error) {
	return nil, errors.New("streaming not supported in tests")
}

func TestExpand_OriginalAlwaysFirst(t *testing.T) {
	fake := &scriptedLLM{response: "How many vacation days do staff get?\nWhat is the PTO allowance?"}
	p := NewProcessor(fake)

	got := p.Expand(context.Background(), "What is the vacation policy?")

	if len(got) < 1 || got[0] != "What is the vacation policy?" {
		t.Fatalf("expected original query first, got %v", got)
	}
	if len(got) != 3 {
		t.Errorf("expected 3 variants, got %d: %v", len(got), got)
	}
}

func TestExpand_StripsListPrefixes(t *testing.T) {
	fake := &scriptedLLM{response: "1. What are the sick leave rules?\n- How is sick leave accrued?\n* Can sick days carry over?"}
	p := NewProcessor(fake)

	got := p.Expand(context.Background(), "sick leave policy")

	want := []string{
		"sick leave policy",
		"What are the sick leave rules?",
		"How is sick leave accrued?",
		"Can sick days carry over?",
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("variant %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExpand_CapsAtFourVariants(t *testing.T) {
	fake := &scriptedLLM{response: "alternative phrasing one\nalternative phrasing two\nalternative phrasing three\nalternative phrasing four\nalternative phrasing five"}
	p := NewProcessor(fake)

	got := p.Expand(context.Background(), "original question")

	if len(got) != MaxVariants {
		t.Errorf("expected %d variants, got %d: %v", MaxVariants, len(got), got)
	}
}

func TestExpand_DiscardsShortEmptyAndDuplicateLines(t *testing.T) {
	fake := &scriptedLLM{response: "\noriginal question\nshort\na much better phrasing of the question\na much better phrasing of the question\n   \n"}
	p := NewProcessor(fake)

	got := p.Expand(context.Background(), "original question")

	want := []string{"original question", "a much better phrasing of the question"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("variant %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExpand_LLMFailureReturnsOriginalOnly(t *testing.T) {
	fake := &scriptedLLM{err: errors.New("provider unreachable")}
	p := NewProcessor(fake)

	got := p.Expand(context.Background(), "What is the expense policy?")

	if len(got) != 1 || got[0] != "What is the expense policy?" {
		t.Errorf("expected degrade to original query, got %v", got)
	}
}

func TestRewrite(t *testing.T) {
	tests := []struct {
		name     string
		response string
		err      error
		want     string
	}{
		{name: "plain rewrite", response: "What is the company remote work policy?", want: "What is the company remote work policy?"},
		{name: "strips quotes", response: `"What is the company remote work policy?"`, want: "What is the company remote work policy?"},
		{name: "empty response falls back", response: "   ", want: "remote work?"},
		{name: "error falls back", err: errors.New("boom"), want: "remote work?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProcessor(&scriptedLLM{response: tt.response, err: tt.err})
			got := p.Rewrite(context.Background(), "remote work?")
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractKeywords(t *testing.T) {
	got := ExtractKeywords("What is the remote work policy for employees?")

	want := []string{"remote", "work", "policy", "employees"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("keyword %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExtractKeywords_DedupPreservesFirstSeenOrder(t *testing.T) {
	got := ExtractKeywords("Policy policy POLICY handbook policy handbook")

	want := []string{"policy", "handbook"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("keyword %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExtractKeywords_Idempotent(t *testing.T) {
	queries := []string{
		"What is the remote work policy for employees?",
		"How do I submit an expense report before the deadline?",
		"data retention requirements under GDPR",
	}
	for _, q := range queries {
		once := ExtractKeywords(q)
		twice := ExtractKeywords(strings.Join(once, " "))
		if len(once) != len(twice) {
			t.Fatalf("%q: %v != %v", q, once, twice)
		}
		for i := range once {
			if once[i] != twice[i] {
				t.Errorf("%q: keyword %d changed from %q to %q", q, i, once[i], twice[i])
			}
		}
	}
}

func TestExtractKeywords_Empty(t *testing.T) {
	if got := ExtractKeywords(""); len(got) != 0 {
		t.Errorf("expected no keywords for empty query, got %v", got)
	}
	if got := ExtractKeywords("is the a an"); len(got) != 0 {
		t.Errorf("expected no keywords for stop words only, got %v", got)
	}
}

func TestStripListPrefix(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1. What is the policy?", "What is the policy?"},
		{"2) Second phrasing here", "Second phrasing here"},
		{"- dashed item", "dashed item"},
		{"* starred item", "starred item"},
		{"• bulleted item", "bulleted item"},
		{"  plain line  ", "plain line"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := StripListPrefix(tt.in); got != tt.want {
			t.Errorf("StripListPrefix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
