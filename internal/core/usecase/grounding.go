package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/kirillkom/grounded-qa/internal/core/domain"
	"github.com/kirillkom/grounded-qa/internal/core/ports"
)

const (
	defaultHighThreshold   = 0.85
	defaultMediumThreshold = 0.6
	defaultJudgeTimeout    = 10 * time.Second

	minClaimWords = 3

	lowConfidenceHedge = "This answer may not be fully supported by the provided documents. Verify it against the cited sources."
)

var errNoJudge = errors.New("no judge configured")

type GroundingThresholds struct {
	High   float64
	Medium float64
}

func (t GroundingThresholds) normalize() GroundingThresholds {
	if t.High <= 0 || t.High > 1 {
		t.High = defaultHighThreshold
	}
	if t.Medium <= 0 || t.Medium > t.High {
		t.Medium = min(defaultMediumThreshold, t.High)
	}
	return t
}

func (t GroundingThresholds) label(faithfulness float64) domain.Confidence {
	switch {
	case faithfulness >= t.High:
		return domain.ConfidenceHigh
	case faithfulness >= t.Medium:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}

type groundingResult struct {
	Faithfulness float64
	Confidence   domain.Confidence
	Judged       bool
	Claims       int
}

// GroundingGate annotates an answer with a faithfulness score. It never
// blocks an answer.
type GroundingGate struct {
	judge      ports.Judge
	thresholds GroundingThresholds
	timeout    time.Duration
}

func NewGroundingGate(judge ports.Judge, thresholds GroundingThresholds, timeout time.Duration) *GroundingGate {
	if timeout <= 0 {
		timeout = defaultJudgeTimeout
	}
	return &GroundingGate{
		judge:      judge,
		thresholds: thresholds.normalize(),
		timeout:    timeout,
	}
}

// Score computes the share of answer claims supported by the context. When
// the judge cannot be reached the label is Medium and the error is returned
// alongside the result.
func (g *GroundingGate) Score(ctx context.Context, answer string, shown []domain.Chunk) (groundingResult, error) {
	claims := splitClaims(answer)
	if len(claims) == 0 {
		body := answerBody(answer)
		if body == "" {
			return groundingResult{Confidence: domain.ConfidenceLow}, nil
		}
		// Terse replies are judged as a single claim.
		claims = []string{body}
	}
	unjudged := groundingResult{Confidence: domain.ConfidenceMedium, Claims: len(claims)}
	if g.judge == nil {
		return unjudged, errNoJudge
	}

	texts := make([]string, len(shown))
	for i, c := range shown {
		texts[i] = c.Text
	}
	checks := make([]domain.ClaimCheck, len(claims))
	for i, claim := range claims {
		checks[i] = domain.ClaimCheck{Claim: claim, Context: texts}
	}

	judgeCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	verdicts, err := g.judge.Judge(judgeCtx, checks)
	if err != nil {
		return unjudged, fmt.Errorf("judge claims: %w", err)
	}
	if len(verdicts) != len(claims) {
		return unjudged, fmt.Errorf("judge claims: %d verdicts for %d claims", len(verdicts), len(claims))
	}

	supported := 0
	for _, ok := range verdicts {
		if ok {
			supported++
		}
	}
	faithfulness := float64(supported) / float64(len(claims))
	return groundingResult{
		Faithfulness: faithfulness,
		Confidence:   g.thresholds.label(faithfulness),
		Judged:       true,
		Claims:       len(claims),
	}, nil
}

// splitClaims breaks an answer into sentence-level claims. Citation lines and
// fragments too short to assert anything are dropped.
func splitClaims(answer string) []string {
	var out []string
	for _, line := range strings.Split(answer, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isCitationLine(line) {
			continue
		}
		for _, sentence := range splitSentences(line) {
			sentence = strings.TrimSpace(strings.TrimLeft(sentence, "-*• "))
			if len(splitAlphaNumLower(sentence)) < minClaimWords {
				continue
			}
			out = append(out, sentence)
		}
	}
	return out
}

// answerBody joins the non-citation lines of an answer. It is empty when the
// answer has no letters or digits.
func answerBody(answer string) string {
	var parts []string
	for _, line := range strings.Split(answer, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isCitationLine(line) {
			continue
		}
		parts = append(parts, line)
	}
	body := strings.Join(parts, " ")
	if len(splitAlphaNumLower(body)) == 0 {
		return ""
	}
	return body
}

func splitSentences(line string) []string {
	runes := []rune(line)
	var out []string
	start := 0
	for i, r := range runes {
		if !isTerminator(r) {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		out = append(out, string(runes[start:i+1]))
		start = i + 1
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isCitationLine(line string) bool {
	lower := strings.ToLower(line)
	return strings.HasPrefix(lower, "source:") ||
		strings.HasPrefix(lower, "sources:") ||
		strings.HasPrefix(lower, "citations:")
}
