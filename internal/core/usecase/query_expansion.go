package usecase

import (
	"strings"

	"github.com/kirillkom/grounded-qa/internal/core/ports"
)

const (
	expansionLookback = 3
	expansionMaxTerms = 8
	shortQueryWords   = 3
)

var referentialWords = map[string]struct{}{
	"it": {}, "its": {}, "they": {}, "them": {}, "their": {}, "this": {}, "that": {},
	"these": {}, "those": {}, "he": {}, "she": {}, "his": {}, "her": {}, "there": {},
	"above": {}, "same": {}, "former": {}, "latter": {},
}

var fillerWords = map[string]struct{}{
	"about": {}, "also": {}, "and": {}, "are": {}, "can": {}, "could": {}, "did": {},
	"does": {}, "for": {}, "from": {}, "have": {}, "how": {}, "into": {}, "more": {},
	"much": {}, "many": {}, "not": {}, "please": {}, "should": {}, "tell": {}, "the": {},
	"than": {}, "then": {}, "was": {}, "were": {}, "what": {}, "when": {}, "where": {},
	"which": {}, "who": {}, "why": {}, "will": {}, "with": {}, "would": {}, "you": {},
	"your": {},
}

// QueryExpander rewrites follow-up questions using recent session turns.
type QueryExpander struct {
	sessions ports.SessionStore
}

func NewQueryExpander(sessions ports.SessionStore) *QueryExpander {
	return &QueryExpander{sessions: sessions}
}

// ExpandQuery returns raw unchanged when the session has no history or the
// query stands on its own. Otherwise salient terms from the last few queries
// are appended, newest turn first.
func (e *QueryExpander) ExpandQuery(sessionID, raw string) string {
	if e == nil || e.sessions == nil || strings.TrimSpace(sessionID) == "" {
		return raw
	}
	tokens := splitAlphaNumLower(raw)
	if !isReferential(tokens) {
		return raw
	}
	history := e.sessions.Recent(sessionID, expansionLookback)
	if len(history) == 0 {
		return raw
	}

	present := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		present[t] = struct{}{}
	}
	var extra []string
	for i := len(history) - 1; i >= 0 && len(extra) < expansionMaxTerms; i-- {
		for _, t := range splitAlphaNumLower(history[i].Query) {
			if !isSalient(t) {
				continue
			}
			if _, ok := present[t]; ok {
				continue
			}
			present[t] = struct{}{}
			extra = append(extra, t)
			if len(extra) == expansionMaxTerms {
				break
			}
		}
	}
	if len(extra) == 0 {
		return raw
	}
	return strings.TrimSpace(raw) + " " + strings.Join(extra, " ")
}

func isReferential(tokens []string) bool {
	content := 0
	for _, t := range tokens {
		if _, ok := referentialWords[t]; ok {
			return true
		}
		if isSalient(t) {
			content++
		}
	}
	return content <= shortQueryWords
}

func isSalient(token string) bool {
	if len([]rune(token)) < 3 {
		return false
	}
	if _, ok := referentialWords[token]; ok {
		return false
	}
	_, filler := fillerWords[token]
	return !filler
}
