package ollama

import (
	"fmt"
	"strings"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
)

const answerSystemPrompt = `You are an assistant for internal company documents.

Answer the user's question using ONLY the context provided.
Rules:
1. Be concise and factual.
2. Always cite your source at the end in this format:
   Source: <filename> | Page <page>
3. If the answer is not in the context, say "I couldn't find this in the provided documents."
4. Never make up information.`

const judgeSystemPrompt = `You verify whether claims are supported by a context.
A claim is supported only if the context states it or directly implies it.
Return strict JSON: {"verdicts": [true|false, ...]} with one entry per claim, in order.
No markdown, no extra keys.`

const rerankSystemPrompt = `You rate how well passages answer a question.
Return strict JSON: {"scores": [number, ...]} with one score from 0 to 10 per passage, in order.
No markdown, no extra keys.`

const maxJudgeContextChars = 12000

func buildAnswerPrompt(question string, history []domain.Turn, chunks []domain.Chunk) string {
	var b strings.Builder
	b.WriteString("CONTEXT:\n")
	for i, chunk := range chunks {
		if i > 0 {
			b.WriteString("\n\n---\n\n")
		}
		fmt.Fprintf(&b, "[Source: %s | Page: %s]\n%s", chunk.Filename, pageLabel(chunk.Span), chunk.Text)
	}

	if len(history) > 0 {
		b.WriteString("\n\nCONVERSATION SO FAR:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", turn.Query, turn.Answer)
		}
	}

	fmt.Fprintf(&b, "\nQUESTION:\n%s\n", question)
	return b.String()
}

func buildJudgePrompt(checks []domain.ClaimCheck) string {
	var b strings.Builder
	if len(checks) > 0 {
		b.WriteString("CONTEXT:\n")
		b.WriteString(truncateRunes(strings.Join(checks[0].Context, "\n\n---\n\n"), maxJudgeContextChars))
	}
	b.WriteString("\n\nCLAIMS:\n")
	for i, c := range checks {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.Claim)
	}
	return b.String()
}

func buildRerankPrompt(query string, candidates []domain.Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "QUESTION:\n%s\n\nPASSAGES:\n", query)
	for i, c := range candidates {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, truncateRunes(c.Chunk.Text, 1500))
	}
	return b.String()
}

func pageLabel(span domain.Span) string {
	if span.PageEnd > span.PageStart {
		return fmt.Sprintf("%d-%d", span.PageStart, span.PageEnd)
	}
	return fmt.Sprintf("%d", span.PageStart)
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
