package models

import (
	"fmt"
	"strings"
)

// Candidate identifies one backend model in the fallback order.
type Candidate string

// Candidates converts configured model names into an ordered candidate list.
func Candidates(names []string) []Candidate {
	out := make([]Candidate, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, Candidate(n))
		}
	}
	return out
}

// CompletionRequest is immutable once issued.
type CompletionRequest struct {
	SystemContext string
	UserMessage   string
}

const (
	promptContextHeader = "CONTEXTO DO SISTEMA:"
	promptSeparator     = "---"
	promptMessageHeader = "MENSAGEM DO USUÁRIO:"
)

// Prompt joins context and message into the single text payload sent to
// a backend without a system-role channel.
func (r CompletionRequest) Prompt() string {
	var sb strings.Builder
	sb.WriteString(promptContextHeader)
	sb.WriteByte('\n')
	sb.WriteString(r.SystemContext)
	sb.WriteByte('\n')
	sb.WriteString(promptSeparator)
	sb.WriteByte('\n')
	sb.WriteString(promptMessageHeader)
	sb.WriteByte('\n')
	sb.WriteString(r.UserMessage)
	return strings.TrimSpace(sb.String())
}

// Completion is a successful result.
type Completion struct {
	Text      string
	Candidate Candidate
	// Failed attempts made before Candidate answered.
	Attempts []CandidateError
}

// CandidateError records why one candidate failed.
type CandidateError struct {
	Candidate Candidate
	Err       error
}

func (e CandidateError) Error() string {
	return fmt.Sprintf("%s: %v", e.Candidate, e.Err)
}

func (e CandidateError) Unwrap() error {
	return e.Err
}
