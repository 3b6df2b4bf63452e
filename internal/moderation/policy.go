// Package moderation classifies message bodies before they are accepted.
// Every function in this package is pure and safe for concurrent use.
package moderation

import "strings"

const (
	ReasonBlocklist = "blocklist"
	ReasonSpam      = "spam"
)

// blockedTerms are matched case-insensitively anywhere in the text.
var blockedTerms = []string{
	"rape",
	"rapist",
	"pedo",
	"pedophile",
	"child abuse",
	"kill yourself",
	"kys",
}

// Result describes why a body was rejected. The zero value accepts the body.
type Result struct {
	Blocked bool
	Reason  string
	Term    string
}

// BlockedTerm reports the first denylisted phrase contained in text.
func BlockedTerm(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, term := range blockedTerms {
		if strings.Contains(lower, term) {
			return term, true
		}
	}
	return "", false
}

// Check runs the blocklist and then the spam heuristics against text.
func Check(text string) Result {
	if term, ok := BlockedTerm(text); ok {
		return Result{Blocked: true, Reason: ReasonBlocklist, Term: term}
	}
	if name := SpamReason(text); name != "" {
		return Result{Blocked: true, Reason: ReasonSpam, Term: name}
	}
	return Result{}
}
