// Package agent synthesizes cited answers on top of retrieval. The LLM only
// sees retrieved chunk text; citation markers in its output are validated and
// renumbered against the context it was given.
package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"mimi/internal/adapter/gemini"
	"mimi/internal/retrieval"
)

const noAnswerText = "I could not find anything relevant to that in the indexed documents."

type Citation struct {
	Marker  int     `json:"marker"`
	ChunkID string  `json:"chunk_id"`
	DocID   string  `json:"doc_id"`
	Source  string  `json:"source"`
	Path    string  `json:"path"`
	Section string  `json:"section,omitempty"`
	Score   float64 `json:"score"`
}

type Answer struct {
	Answer        string             `json:"answer"`
	Citations     []Citation         `json:"citations"`
	Chunks        []retrieval.Result `json:"raw_chunks"`
	LowConfidence bool               `json:"low_confidence"`
	Degraded      bool               `json:"degraded"`
}

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type Retriever interface {
	Query(ctx context.Context, req retrieval.Request) (*retrieval.Response, error)
}

type Service struct {
	retriever Retriever
	llm       Generator
}

// NewService wires answer synthesis over retrieval. A nil generator disables
// the LLM entirely; every answer is then served degraded from snippets.
func NewService(retriever Retriever, llm Generator) *Service {
	return &Service{retriever: retriever, llm: llm}
}

// Ask retrieves context for the question and synthesizes an answer citing it.
// An unreachable LLM degrades to a snippet answer instead of failing.
func (s *Service) Ask(ctx context.Context, req retrieval.Request) (*Answer, error) {
	resp, err := s.retriever.Query(ctx, req)
	if err != nil {
		return nil, err
	}

	if len(resp.Results) == 0 {
		return &Answer{
			Answer:        noAnswerText,
			Citations:     []Citation{},
			Chunks:        []retrieval.Result{},
			LowConfidence: true,
		}, nil
	}

	if s.llm == nil {
		return degradedAnswer(resp), nil
	}

	raw, err := s.llm.Generate(ctx, buildPrompt(req.Query, resp.Results))
	if err != nil {
		if errors.Is(err, gemini.ErrLLMUnavailable) {
			return degradedAnswer(resp), nil
		}
		return nil, err
	}

	answer, citations := renumber(raw, resp.Results)
	return &Answer{
		Answer:        answer,
		Citations:     citations,
		Chunks:        resp.Results,
		LowConfidence: resp.LowConfidence,
	}, nil
}

// degradedAnswer serves the best snippets verbatim when no generation is
// possible. Every returned result becomes a citation.
func degradedAnswer(resp *retrieval.Response) *Answer {
	var b strings.Builder
	citations := make([]Citation, 0, len(resp.Results))
	for i, r := range resp.Results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s", i+1, r.Snippet)
		citations = append(citations, toCitation(i+1, r))
	}
	return &Answer{
		Answer:        b.String(),
		Citations:     citations,
		Chunks:        resp.Results,
		LowConfidence: resp.LowConfidence,
		Degraded:      true,
	}
}

func buildPrompt(query string, results []retrieval.Result) string {
	var b strings.Builder
	b.WriteString("You are a documentation assistant. Answer the question using only the numbered context below.\n")
	b.WriteString("Cite the context you used inline with its number in square brackets, like [1].\n")
	b.WriteString("If the context does not contain the answer, say you do not know. Do not invent citations.\n\n")
	b.WriteString("Context:\n")
	for i, r := range results {
		loc := r.Source + "/" + r.Path
		if r.Section != "" {
			loc += " · " + r.Section
		}
		fmt.Fprintf(&b, "[%d] (%s) %s\n\n", i+1, loc, r.Text)
	}
	b.WriteString("Question: ")
	b.WriteString(query)
	b.WriteString("\n\nAnswer:")
	return b.String()
}

var markerRe = regexp.MustCompile(`\[(\d+)\]`)

// renumber validates citation markers against the prompt context and rewrites
// them to consecutive numbers in order of first use. Markers pointing outside
// the context are stripped.
func renumber(raw string, results []retrieval.Result) (string, []Citation) {
	mapping := make(map[int]int)
	var order []int

	answer := markerRe.ReplaceAllStringFunc(strings.TrimSpace(raw), func(m string) string {
		n, err := strconv.Atoi(m[1 : len(m)-1])
		if err != nil || n < 1 || n > len(results) {
			return ""
		}
		renumbered, ok := mapping[n]
		if !ok {
			renumbered = len(order) + 1
			mapping[n] = renumbered
			order = append(order, n)
		}
		return "[" + strconv.Itoa(renumbered) + "]"
	})

	citations := make([]Citation, 0, len(order))
	for i, orig := range order {
		citations = append(citations, toCitation(i+1, results[orig-1]))
	}
	return answer, citations
}

func toCitation(marker int, r retrieval.Result) Citation {
	return Citation{
		Marker:  marker,
		ChunkID: r.ChunkID,
		DocID:   r.DocID,
		Source:  r.Source,
		Path:    r.Path,
		Section: r.Section,
		Score:   r.Score,
	}
}
