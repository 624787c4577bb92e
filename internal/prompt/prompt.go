// Package prompt builds the grounded-answer prompt for a question and a set of documents.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/haasonsaas/ablate/internal/agent"
	"github.com/haasonsaas/ablate/pkg/models"
)

// Instructions is the fixed system message sent with every prompt.
const Instructions = "You are a factual answer generator.\n" +
	"Use ONLY the provided documents.\n" +
	"Every factual statement must cite a source like [S#].\n" +
	"Do not add outside knowledge."

// Prompt is an instruction and evidence pair. It is a value: copies never
// share state, so truncating one copy leaves every other copy intact.
type Prompt struct {
	Instructions string
	Evidence     string
}

// Build renders the prompt for question over docs. Documents are numbered
// [S1]..[Sn] in the order given; numbering is positional for this call only.
func Build(question string, docs []models.Document) Prompt {
	blocks := make([]string, len(docs))
	for i, doc := range docs {
		blocks[i] = fmt.Sprintf("[S%d] %s – %s\n%s", i+1, doc.Title, doc.URL, doc.Text)
	}
	evidence := "Question: \"" + question + "\"\n\nSources:\n" + strings.Join(blocks, "\n\n")
	return Prompt{Instructions: Instructions, Evidence: evidence}
}

// Messages returns the prompt as a completion request body.
func (p Prompt) Messages() (system string, messages []agent.CompletionMessage) {
	return p.Instructions, []agent.CompletionMessage{{Role: "user", Content: p.Evidence}}
}

// TruncateEvidence returns a copy of p with the evidence cut to half its
// length in runes. Instructions are never shortened.
func (p Prompt) TruncateEvidence() Prompt {
	n := utf8.RuneCountInString(p.Evidence) / 2
	if n == 0 {
		p.Evidence = ""
		return p
	}
	cut := 0
	for i := range p.Evidence {
		if n == 0 {
			cut = i
			break
		}
		n--
	}
	p.Evidence = p.Evidence[:cut]
	return p
}

// Len returns the evidence length in runes.
func (p Prompt) Len() int {
	return utf8.RuneCountInString(p.Evidence)
}
